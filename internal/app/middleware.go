package app

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/odyssey-erp/odyssey-stock/internal/observability"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Gateway headers carrying the authenticated caller.
const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderUserID   = "X-User-ID"
	HeaderRole     = "X-Role"
	HeaderBranchID = "X-Branch-ID"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
}

// MiddlewareStack installs the global middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'",
		SSLRedirect:           cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:         !cfg.Config.IsProduction(),
	})

	timeout := 30 * time.Second
	limit := 120
	if cfg.Config != nil {
		if cfg.Config.AppRequestTimeout > 0 {
			timeout = cfg.Config.AppRequestTimeout
		}
		if cfg.Config.RateLimitPerMinute > 0 {
			limit = cfg.Config.RateLimitPerMinute
		}
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					logger.Warn("secure headers blocked request", slog.Any("error", err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		httprate.Limit(limit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, cfg.Metrics.Middleware)
	}
	return middlewares
}

// RequestContextMiddleware resolves the caller from gateway headers and stores
// it on the request context. Tenant and user are mandatory.
func RequestContextMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc, err := requestContextFromHeaders(r.Header)
			if err != nil {
				httpx.RespondError(w, logger, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithRequest(r.Context(), rc)))
		})
	}
}

func requestContextFromHeaders(h http.Header) (shared.RequestContext, error) {
	tenantID, ok := positiveHeader(h, HeaderTenantID)
	if !ok {
		return shared.RequestContext{}, shared.ErrUnauthenticated
	}
	userID, ok := positiveHeader(h, HeaderUserID)
	if !ok {
		return shared.RequestContext{}, shared.ErrUnauthenticated
	}
	rc := shared.RequestContext{
		TenantID: tenantID,
		Principal: shared.Principal{
			UserID:   userID,
			RoleCode: strings.ToUpper(strings.TrimSpace(h.Get(HeaderRole))),
		},
	}
	if raw := strings.TrimSpace(h.Get(HeaderBranchID)); raw != "" {
		branchID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || branchID <= 0 {
			return shared.RequestContext{}, shared.Validationf("invalid %s header", HeaderBranchID)
		}
		rc.BranchID = branchID
	}
	return rc, nil
}

func positiveHeader(h http.Header, name string) (int64, bool) {
	v, err := strconv.ParseInt(strings.TrimSpace(h.Get(name)), 10, 64)
	return v, err == nil && v > 0
}
