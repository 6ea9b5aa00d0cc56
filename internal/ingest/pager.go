// Package ingest drives history syncs: it pages venue endpoints, normalizes
// records into canonical transactions, and schedules asynchronous counterparty
// enrichment for P2P orders.
package ingest

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/coachpo/ledgersync/internal/exchange"
)

// Pager walks one endpoint page by page with a mandatory inter-page delay so
// sequential fetches stay inside venue rate limits.
type Pager struct {
	size    int
	limiter *rate.Limiter
}

// NewPager creates a pager requesting pages of the given size, waiting at
// least interval between consecutive fetches.
func NewPager(size int, interval time.Duration) *Pager {
	if size <= 0 {
		size = 50
	}
	if interval <= 0 {
		interval = 150 * time.Millisecond
	}
	return &Pager{size: size, limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// FetchAll drains the endpoint over the window. Paging stops on an empty page,
// a short page, or once the reported total is reached. On a fetch failure the
// records gathered so far are returned alongside the error so the caller can
// still persist the partial window.
func (p *Pager) FetchAll(ctx context.Context, endpoint exchange.Endpoint, window exchange.Window) ([]exchange.Record, error) {
	var collected []exchange.Record
	for page := 0; ; page++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return collected, err
		}
		records, total, err := endpoint.FetchPage(ctx, window, page, p.size)
		if err != nil {
			return collected, err
		}
		collected = append(collected, records...)
		if len(records) == 0 || len(records) < p.size {
			return collected, nil
		}
		if total >= 0 && len(collected) >= total {
			return collected, nil
		}
	}
}
