package ingest

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/ledgersync/internal/exchange"
	"github.com/coachpo/ledgersync/internal/ledger"
)

// scriptedEndpoint serves a fixed record set page by page, optionally failing
// at a given page.
type scriptedEndpoint struct {
	name    string
	records []exchange.Record
	total   int
	failAt  int
	failErr error
	calls   int
}

func newScriptedEndpoint(name string, n int) *scriptedEndpoint {
	e := &scriptedEndpoint{name: name, total: -1, failAt: -1}
	for i := 0; i < n; i++ {
		e.records = append(e.records, exchange.Record{
			Type:            ledger.TypeP2POrder,
			ExternalOrderID: name + "-" + strconv.Itoa(i),
			Asset:           "USDT",
			Fiat:            "EUR",
			Status:          ledger.StatusCompleted,
			SourceEndpoint:  name,
		})
	}
	return e
}

func (e *scriptedEndpoint) Name() string { return e.name }

func (e *scriptedEndpoint) FetchPage(_ context.Context, _ exchange.Window, page, size int) ([]exchange.Record, int, error) {
	e.calls++
	if e.failAt >= 0 && page == e.failAt {
		if e.failErr != nil {
			return nil, 0, e.failErr
		}
		return nil, 0, errors.New("venue unavailable")
	}
	start := page * size
	if start >= len(e.records) {
		return nil, e.total, nil
	}
	end := start + size
	if end > len(e.records) {
		end = len(e.records)
	}
	return e.records[start:end], e.total, nil
}

func TestFetchAllDrainsCeilNOverPPages(t *testing.T) {
	endpoint := newScriptedEndpoint("trades", 120)
	pager := NewPager(50, time.Millisecond)

	records, err := pager.FetchAll(context.Background(), endpoint, exchange.Window{})

	require.NoError(t, err)
	require.Len(t, records, 120)
	// 50 + 50 + 20: the short third page terminates the walk.
	require.Equal(t, 3, endpoint.calls)
}

func TestFetchAllStopsAtReportedTotal(t *testing.T) {
	endpoint := newScriptedEndpoint("p2p", 100)
	endpoint.total = 100
	pager := NewPager(50, time.Millisecond)

	records, err := pager.FetchAll(context.Background(), endpoint, exchange.Window{})

	require.NoError(t, err)
	require.Len(t, records, 100)
	// Two full pages reach the total; no probe for an empty third page.
	require.Equal(t, 2, endpoint.calls)
}

func TestFetchAllStopsOnEmptyFirstPage(t *testing.T) {
	endpoint := newScriptedEndpoint("deposits", 0)
	pager := NewPager(50, time.Millisecond)

	records, err := pager.FetchAll(context.Background(), endpoint, exchange.Window{})

	require.NoError(t, err)
	require.Empty(t, records)
	require.Equal(t, 1, endpoint.calls)
}

func TestFetchAllReturnsPartialResultsOnFailure(t *testing.T) {
	endpoint := newScriptedEndpoint("withdrawals", 200)
	endpoint.failAt = 2
	pager := NewPager(50, time.Millisecond)

	records, err := pager.FetchAll(context.Background(), endpoint, exchange.Window{})

	require.Error(t, err)
	require.Len(t, records, 100, "pages fetched before the failure must survive")
}

func TestFetchAllHonorsContextCancellation(t *testing.T) {
	endpoint := newScriptedEndpoint("pay", 500)
	pager := NewPager(50, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := pager.FetchAll(ctx, endpoint, exchange.Window{})

	require.Error(t, err)
}
