package ingest

import (
	"context"

	"github.com/google/uuid"

	"github.com/coachpo/ledgersync/errs"
	"github.com/coachpo/ledgersync/internal/exchange"
	"github.com/coachpo/ledgersync/internal/ledger"
	"github.com/coachpo/ledgersync/internal/observability"
)

// EnqueueFunc hands an enrichment task to the background pool.
type EnqueueFunc func(ctx context.Context, id uuid.UUID) error

// SettingsProvider resolves transport settings for an exchange.
type SettingsProvider func(ex ledger.Exchange) exchange.Settings

// Scheduler decides, after each upsert, whether a P2P order needs counterparty
// enrichment, marks it pending, and enqueues the worker task.
type Scheduler struct {
	repo    ledger.Repository
	caps    ledger.SchemaCapabilities
	enqueue EnqueueFunc
}

// NewScheduler constructs a scheduler. With the enrichment column absent the
// scheduler is inert.
func NewScheduler(repo ledger.Repository, caps ledger.SchemaCapabilities, enqueue EnqueueFunc) *Scheduler {
	return &Scheduler{repo: repo, caps: caps, enqueue: enqueue}
}

// Schedule applies the enrichment rules to a freshly upserted transaction.
// Newly created P2P orders always enrich. Updated ones re-enrich only while
// still open and missing counterparty detail; settled, already-detailed
// orders are never re-queued.
func (s *Scheduler) Schedule(ctx context.Context, tx ledger.Transaction, created bool) error {
	if !s.caps.EnrichmentStatus || s.enqueue == nil {
		return nil
	}
	if tx.Type != ledger.TypeP2POrder {
		return nil
	}
	if !created {
		open := tx.Status == ledger.StatusPending || tx.Status == ledger.StatusProcessing
		if !open || tx.CounterpartyNickname != "" {
			return nil
		}
	}
	if err := s.repo.UpdateEnrichment(ctx, tx.ID, ledger.EnrichmentUpdate{Status: ledger.EnrichmentPending}); err != nil {
		return err
	}
	return s.enqueue(ctx, tx.ID)
}

// Enricher executes one enrichment task: fetch the order's extended detail
// from the venue and merge the counterparty fields into the stored row.
type Enricher struct {
	repo     ledger.Repository
	creds    ledger.CredentialStore
	registry *exchange.Registry
	settings SettingsProvider
	caps     ledger.SchemaCapabilities
	metrics  *syncMetrics
}

// NewEnricher constructs an enrichment worker.
func NewEnricher(repo ledger.Repository, creds ledger.CredentialStore, registry *exchange.Registry,
	settings SettingsProvider, caps ledger.SchemaCapabilities) *Enricher {
	return &Enricher{
		repo:     repo,
		creds:    creds,
		registry: registry,
		settings: settings,
		caps:     caps,
		metrics:  newSyncMetrics(),
	}
}

// Enrich runs the state machine for one transaction. A returned error marks
// the attempt retryable; terminal conditions return nil after recording a
// terminal state. The row is never left in processing.
func (e *Enricher) Enrich(ctx context.Context, id uuid.UUID) error {
	if !e.caps.EnrichmentStatus {
		return nil
	}
	tx, err := e.repo.FindByID(ctx, id)
	if err != nil {
		if errs.IsKind(err, errs.KindNotFound) {
			observability.Log().Warn("enrichment target vanished",
				observability.F("transaction_id", id.String()))
			return nil
		}
		return err
	}
	if tx.Type != ledger.TypeP2POrder || tx.EnrichmentStatus == ledger.EnrichmentCompleted {
		return nil
	}

	if err := e.repo.UpdateEnrichment(ctx, id, ledger.EnrichmentUpdate{Status: ledger.EnrichmentProcessing}); err != nil {
		return err
	}

	detail, err := e.fetchDetail(ctx, tx)
	if err != nil {
		if markErr := e.repo.UpdateEnrichment(ctx, id, ledger.EnrichmentUpdate{Status: ledger.EnrichmentFailed}); markErr != nil {
			observability.Log().Error("failed to mark enrichment failed",
				observability.F("transaction_id", id.String()),
				observability.F("error", markErr.Error()))
		}
		if errs.CredentialFatal(err) || errs.IsKind(err, errs.KindNotFound) || errs.IsKind(err, errs.KindInvalid) {
			// Retrying cannot fix a revoked key or a missing order.
			e.metrics.enrichOutcome(ctx, tx.Exchange, "failed")
			observability.Log().Warn("enrichment terminally failed",
				observability.F("transaction_id", id.String()),
				observability.F("error", err.Error()))
			return nil
		}
		e.metrics.enrichOutcome(ctx, tx.Exchange, "retry")
		return err
	}

	update := ledger.EnrichmentUpdate{Status: ledger.EnrichmentCompleted}
	if detail.CounterpartyNickname != "" {
		update.CounterpartyNickname = &detail.CounterpartyNickname
	}
	if detail.CounterpartyFullName != "" {
		update.CounterpartyFullName = &detail.CounterpartyFullName
	}
	if detail.PaymentMethod != "" {
		update.PaymentMethod = &detail.PaymentMethod
	}
	if detail.Status != "" {
		status := detail.Status
		update.CanonicalStatus = &status
	}
	if err := e.repo.UpdateEnrichment(ctx, id, update); err != nil {
		return err
	}
	e.metrics.enrichOutcome(ctx, tx.Exchange, "completed")
	return nil
}

func (e *Enricher) fetchDetail(ctx context.Context, tx ledger.Transaction) (*exchange.Record, error) {
	creds, err := e.creds.ActiveCredentials(ctx, tx.UserID, tx.Exchange)
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		return nil, errs.New(string(tx.Exchange), errs.KindAuth,
			errs.WithMessage("no active credential for enrichment"))
	}
	venue, err := e.registry.Connect(creds[0], e.settings(tx.Exchange))
	if err != nil {
		return nil, err
	}
	return venue.OrderDetail(ctx, tx.ExternalOrderID)
}
