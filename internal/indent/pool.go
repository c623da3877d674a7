package indent

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

const poolScanTimeout = 30 * time.Second

// PoolReader loads candidate lines: PENDING lines of APPROVED or
// PARTIALLY_ISSUED indents inside scope.
type PoolReader interface {
	ListPoolRows(ctx context.Context, scope shared.ScopeFilter, filter PoolFilter) ([]PoolRow, error)
}

// Pool is the read-side procurement pool. Identical concurrent scans share one query.
type Pool struct {
	reader  PoolReader
	digests *cache.JSONCache
	group   singleflight.Group
	now     func() time.Time
}

// NewPool builds a Pool. digests may be nil.
func NewPool(reader PoolReader, digests *cache.JSONCache) *Pool {
	return &Pool{reader: reader, digests: digests, now: time.Now}
}

// List returns pool entries with positive pending PO quantity ordered by
// indent and line.
func (p *Pool) List(ctx context.Context, rc shared.RequestContext, filter PoolFilter) ([]PoolEntry, error) {
	scope := rc.Scope()
	if filter.BranchID > 0 {
		if !scope.Includes(filter.BranchID) {
			return []PoolEntry{}, nil
		}
		scope = shared.ScopeFilter{TenantID: scope.TenantID, BranchIDs: []int64{filter.BranchID}}
	}
	if scope.Empty() {
		return []PoolEntry{}, nil
	}
	entries, err := p.scan(ctx, scope, filter)
	if err != nil {
		return nil, err
	}
	out := make([]PoolEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (p *Pool) scan(ctx context.Context, scope shared.ScopeFilter, filter PoolFilter) ([]PoolEntry, error) {
	key := fmt.Sprintf("%d|%t|%v|%d", scope.TenantID, scope.AllBranches, scope.BranchIDs, filter.CategoryID)
	resultChan := p.group.DoChan(key, func() (interface{}, error) {
		// the scan is shared; one caller leaving must not fail the others
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), poolScanTimeout)
		defer cancel()
		rows, err := p.reader.ListPoolRows(loadCtx, scope, filter)
		if err != nil {
			return nil, err
		}
		entries := make([]PoolEntry, 0, len(rows))
		for _, row := range rows {
			if row.Item.ProcurementStatus != ProcurementPending || !row.Status.Issuable() {
				continue
			}
			entry := ToPoolEntry(row)
			if !shared.QtyGreater(entry.PendingPOQty, 0) {
				continue
			}
			entries = append(entries, entry)
		}
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].IndentID != entries[j].IndentID {
				return entries[i].IndentID < entries[j].IndentID
			}
			return entries[i].IndentItemID < entries[j].IndentItemID
		})
		return entries, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]PoolEntry), nil
	}
}

// RefreshDigest recomputes the per-branch pool summary of a tenant and caches it.
func (p *Pool) RefreshDigest(ctx context.Context, tenantID int64) ([]BranchDigest, error) {
	entries, err := p.scan(ctx, shared.ScopeFilter{TenantID: tenantID, AllBranches: true}, PoolFilter{})
	if err != nil {
		return nil, err
	}
	now := p.now().UTC()
	byBranch := make(map[int64]*BranchDigest)
	indents := make(map[int64]map[int64]struct{})
	for _, e := range entries {
		d, ok := byBranch[e.BranchID]
		if !ok {
			d = &BranchDigest{BranchID: e.BranchID, ComputedAt: now}
			byBranch[e.BranchID] = d
			indents[e.BranchID] = make(map[int64]struct{})
		}
		d.Lines++
		d.PendingPOQty = shared.RoundQty(d.PendingPOQty + e.PendingPOQty)
		indents[e.BranchID][e.IndentID] = struct{}{}
	}
	digests := make([]BranchDigest, 0, len(byBranch))
	for branchID, d := range byBranch {
		d.Indents = len(indents[branchID])
		digests = append(digests, *d)
	}
	sort.Slice(digests, func(i, j int) bool { return digests[i].BranchID < digests[j].BranchID })
	if err := p.digests.Set(ctx, p.digestKey(tenantID), digests); err != nil {
		return nil, err
	}
	return digests, nil
}

// Digest returns the cached summary visible to the caller, computing it on a miss.
func (p *Pool) Digest(ctx context.Context, rc shared.RequestContext) ([]BranchDigest, error) {
	var digests []BranchDigest
	hit, err := p.digests.Get(ctx, p.digestKey(rc.TenantID), &digests)
	if err != nil {
		return nil, err
	}
	if !hit {
		if digests, err = p.RefreshDigest(ctx, rc.TenantID); err != nil {
			return nil, err
		}
	}
	scope := rc.Scope()
	visible := make([]BranchDigest, 0, len(digests))
	for _, d := range digests {
		if scope.Includes(d.BranchID) {
			visible = append(visible, d)
		}
	}
	return visible, nil
}

func (p *Pool) digestKey(tenantID int64) string {
	return p.digests.Key("digest", fmt.Sprint(tenantID))
}
