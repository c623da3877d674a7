package indent_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/indent"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// gatedReader blocks the first scan until release is closed and fails with the
// scan's own context error the way a database driver would.
type gatedReader struct {
	inner   indent.PoolReader
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedReader) ListPoolRows(ctx context.Context, scope shared.ScopeFilter, filter indent.PoolFilter) ([]indent.PoolRow, error) {
	g.once.Do(func() { close(g.started) })
	<-g.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return g.inner.ListPoolRows(ctx, scope, filter)
}

func TestPoolSharedScanSurvivesCallerCancel(t *testing.T) {
	f := newFixture(t)
	f.approved(t, indent.LineInput{ItemID: f.flour, RequestedQty: 4})

	reader := &gatedReader{inner: f.store.Indents(), started: make(chan struct{}), release: make(chan struct{})}
	pool := indent.NewPool(reader, nil)

	leaving, cancel := context.WithCancel(context.Background())
	leaverErr := make(chan error, 1)
	go func() {
		_, err := pool.List(leaving, f.rc, indent.PoolFilter{})
		leaverErr <- err
	}()
	<-reader.started

	type result struct {
		entries []indent.PoolEntry
		err     error
	}
	stayer := make(chan result, 1)
	go func() {
		entries, err := pool.List(context.Background(), f.rc, indent.PoolFilter{})
		stayer <- result{entries, err}
	}()
	// give the second caller time to join the in-flight scan
	time.Sleep(50 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-leaverErr, context.Canceled)
	close(reader.release)

	got := <-stayer
	require.NoError(t, got.err)
	require.Len(t, got.entries, 1)
	require.InDelta(t, 4, got.entries[0].PendingPOQty, 1e-9)
}
