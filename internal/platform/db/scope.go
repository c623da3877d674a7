package db

import (
	"strconv"
	"strings"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Args accumulates positional query arguments.
type Args struct {
	values []any
}

// Add appends v and returns its placeholder.
func (a *Args) Add(v any) string {
	a.values = append(a.values, v)
	return "$" + strconv.Itoa(len(a.values))
}

// Values returns the accumulated arguments.
func (a *Args) Values() []any {
	return a.values
}

// ScopeClause renders the tenant/branch predicate for a table alias.
func ScopeClause(alias string, scope shared.ScopeFilter, args *Args) string {
	prefix := ""
	if alias != "" {
		prefix = alias + "."
	}
	var sb strings.Builder
	sb.WriteString(prefix + "tenant_id = " + args.Add(scope.TenantID))
	if !scope.AllBranches {
		sb.WriteString(" AND " + prefix + "branch_id = ANY(" + args.Add(scope.BranchIDs) + ")")
	}
	return sb.String()
}
