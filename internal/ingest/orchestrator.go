package ingest

import (
	"context"
	"sync"
	"time"

	concpool "github.com/sourcegraph/conc/pool"

	"github.com/coachpo/ledgersync/errs"
	"github.com/coachpo/ledgersync/internal/exchange"
	"github.com/coachpo/ledgersync/internal/ledger"
	"github.com/coachpo/ledgersync/internal/observability"
)

// Summary reports the outcome of one user/exchange sync run.
type Summary struct {
	Exchange ledger.Exchange
	UserID   string
	Synced   int
	Skipped  int
	Err      error
}

// Orchestrator runs full history syncs: per credential, per endpoint, page by
// page, isolating failures so one bad surface never sinks the run.
type Orchestrator struct {
	registry  *exchange.Registry
	creds     ledger.CredentialStore
	upserts   *UpsertService
	scheduler *Scheduler
	settings  SettingsProvider
	metrics   *syncMetrics
	now       func() time.Time

	// fanout bounds concurrent user syncs in SyncAll.
	fanout int
}

// NewOrchestrator wires the sync pipeline.
func NewOrchestrator(registry *exchange.Registry, creds ledger.CredentialStore,
	upserts *UpsertService, scheduler *Scheduler, settings SettingsProvider, fanout int) *Orchestrator {
	if fanout <= 0 {
		fanout = 4
	}
	return &Orchestrator{
		registry:  registry,
		creds:     creds,
		upserts:   upserts,
		scheduler: scheduler,
		settings:  settings,
		metrics:   newSyncMetrics(),
		now:       time.Now,
		fanout:    fanout,
	}
}

// SyncUser syncs every active credential of the user on one exchange over the
// window. Endpoint failures are isolated; records fetched before a failure are
// still persisted.
func (o *Orchestrator) SyncUser(ctx context.Context, userID string, ex ledger.Exchange, window exchange.Window) Summary {
	summary := Summary{Exchange: ex, UserID: userID}
	started := o.now()
	defer func() {
		o.metrics.syncDone(ctx, ex, float64(o.now().Sub(started).Milliseconds()))
	}()

	creds, err := o.creds.ActiveCredentials(ctx, userID, ex)
	if err != nil {
		summary.Err = err
		return summary
	}
	if len(creds) == 0 {
		return summary
	}
	for _, cred := range creds {
		o.syncCredential(ctx, cred, window, &summary)
	}
	return summary
}

func (o *Orchestrator) syncCredential(ctx context.Context, cred ledger.CredentialRecord, window exchange.Window, summary *Summary) {
	settings := o.settings(cred.Exchange)
	venue, err := o.registry.Connect(cred, settings)
	if err != nil {
		summary.Err = err
		o.recordUsage(ctx, cred, err)
		return
	}

	var credErr error
	for _, endpoint := range venue.Endpoints() {
		skippedBefore := summary.Skipped
		err := o.syncEndpoint(ctx, cred, endpoint, window, settings, summary)
		if err == nil {
			continue
		}
		credErr = err
		summary.Err = err
		observability.Log().Error("endpoint sync failed",
			observability.F("exchange", string(cred.Exchange)),
			observability.F("user_id", cred.UserID),
			observability.F("endpoint", endpoint.Name()),
			observability.F("skipped", summary.Skipped-skippedBefore),
			observability.F("error", err.Error()))
		if errs.CredentialFatal(err) {
			// The remaining endpoints share the same dead key.
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	o.recordUsage(ctx, cred, credErr)
}

func (o *Orchestrator) syncEndpoint(ctx context.Context, cred ledger.CredentialRecord,
	endpoint exchange.Endpoint, window exchange.Window, settings exchange.Settings, summary *Summary) error {
	pager := NewPager(settings.PageSize, settings.PageInterval)
	records, fetchErr := o.fetchPages(ctx, endpoint, window, cred.Exchange, pager)
	for _, record := range records {
		tx, created, err := o.upserts.Upsert(ctx, cred, record)
		if err != nil {
			if errs.RecordSkippable(err) || errs.IsKind(err, errs.KindInvalid) {
				summary.Skipped++
				o.metrics.recordSkipped(ctx, cred.Exchange, endpoint.Name())
				observability.Log().Warn("record skipped",
					observability.F("exchange", string(cred.Exchange)),
					observability.F("endpoint", endpoint.Name()),
					observability.F("external_order_id", record.ExternalOrderID),
					observability.F("error", err.Error()))
				continue
			}
			return err
		}
		summary.Synced++
		o.metrics.recordSynced(ctx, cred.Exchange, endpoint.Name())
		if err := o.scheduler.Schedule(ctx, tx, created); err != nil {
			observability.Log().Warn("enrichment scheduling failed",
				observability.F("transaction_id", tx.ID.String()),
				observability.F("error", err.Error()))
		}
	}
	return fetchErr
}

func (o *Orchestrator) fetchPages(ctx context.Context, endpoint exchange.Endpoint,
	window exchange.Window, ex ledger.Exchange, pager *Pager) ([]exchange.Record, error) {
	records, err := pager.FetchAll(ctx, endpoint, window)
	o.metrics.pageFetched(ctx, ex, endpoint.Name())
	return records, err
}

func (o *Orchestrator) recordUsage(ctx context.Context, cred ledger.CredentialRecord, runErr error) {
	lastErr := ""
	if runErr != nil {
		lastErr = runErr.Error()
	}
	if err := o.creds.RecordUsage(ctx, cred.UserID, cred.Exchange, cred.APIKey, o.now(), lastErr); err != nil {
		observability.Log().Warn("credential usage write-back failed",
			observability.F("exchange", string(cred.Exchange)),
			observability.F("user_id", cred.UserID),
			observability.F("error", err.Error()))
	}
}

// SyncAll syncs every active user of every exchange over the window, fanning
// out across users with bounded concurrency.
func (o *Orchestrator) SyncAll(ctx context.Context, window exchange.Window) []Summary {
	var mu sync.Mutex
	var summaries []Summary

	runner := concpool.New().WithMaxGoroutines(o.fanout)
	for _, ex := range ledger.Exchanges() {
		users, err := o.creds.ActiveUsers(ctx, ex)
		if err != nil {
			mu.Lock()
			summaries = append(summaries, Summary{Exchange: ex, Err: err})
			mu.Unlock()
			continue
		}
		for _, userID := range users {
			runner.Go(func() {
				summary := o.SyncUser(ctx, userID, ex, window)
				mu.Lock()
				summaries = append(summaries, summary)
				mu.Unlock()
			})
		}
	}
	runner.Wait()
	return summaries
}
