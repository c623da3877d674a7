package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Checker Checker
	Logger  *slog.Logger
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			granted, ok := m.evaluate(w, r, normalized)
			if !ok {
				return
			}
			if hasAnyPermission(granted, normalized) {
				next.ServeHTTP(w, r)
				return
			}
			m.deny(w, normalized)
		})
	}
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			granted, ok := m.evaluate(w, r, normalized)
			if !ok {
				return
			}
			if hasAllPermissions(granted, normalized) {
				next.ServeHTTP(w, r)
				return
			}
			m.deny(w, normalized)
		})
	}
}

// evaluate returns the subset of perms the caller holds. It writes the error
// response itself and reports false when the request must stop.
func (m Middleware) evaluate(w http.ResponseWriter, r *http.Request, perms []string) ([]string, bool) {
	rc, err := httpx.RequestContext(r)
	if err != nil {
		httpx.RespondError(w, m.Logger, err)
		return nil, false
	}
	if m.Checker == nil {
		httpx.RespondError(w, m.Logger, errors.New("rbac: checker not configured"))
		return nil, false
	}
	granted := make([]string, 0, len(perms))
	for _, perm := range perms {
		ok, err := m.Checker.Allowed(r.Context(), rc, perm)
		if err != nil {
			if m.Logger != nil {
				m.Logger.Error("rbac evaluate", slog.String("permission", perm), slog.Any("error", err))
			}
			httpx.RespondError(w, m.Logger, err)
			return nil, false
		}
		if ok {
			granted = append(granted, perm)
		}
	}
	return granted, true
}

func (m Middleware) deny(w http.ResponseWriter, required []string) {
	httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing permission "+strings.Join(required, ", "))
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		if _, dup := unique[p]; dup {
			continue
		}
		unique[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}

func hasAnyPermission(granted []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[strings.ToLower(p)] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}

func hasAllPermissions(granted []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[strings.ToLower(p)] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}
