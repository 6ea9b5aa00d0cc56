package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/coachpo/ledgersync/internal/exchange"
	"github.com/coachpo/ledgersync/internal/ledger"
	"github.com/coachpo/ledgersync/internal/observability"
	"github.com/coachpo/ledgersync/lib/async"
)

// Config assembles the collaborators of a Service.
type Config struct {
	Registry     *exchange.Registry
	Repository   ledger.Repository
	Credentials  ledger.CredentialStore
	Capabilities ledger.SchemaCapabilities

	// Settings resolves per-exchange transport settings. Required.
	Settings SettingsProvider

	// Workers and Queue size the background pool shared by sync triggers and
	// enrichment tasks.
	Workers int
	Queue   int

	// SyncFanout bounds concurrent user syncs inside SyncAll.
	SyncFanout int

	// EnrichMaxAttempts and EnrichTimeout shape each enrichment task.
	EnrichMaxAttempts int
	EnrichTimeout     time.Duration
}

func (c Config) normalized() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Queue <= 0 {
		c.Queue = 256
	}
	if c.SyncFanout <= 0 {
		c.SyncFanout = 4
	}
	if c.EnrichMaxAttempts <= 0 {
		c.EnrichMaxAttempts = 3
	}
	if c.EnrichTimeout <= 0 {
		c.EnrichTimeout = 120 * time.Second
	}
	return c
}

// Service is the application facade: fire-and-forget sync triggers, periodic
// full syncs, and the enrichment queue.
type Service struct {
	cfg          Config
	pool         *async.Pool
	orchestrator *Orchestrator
	enricher     *Enricher
}

// NewService wires the pipeline and starts the background pool.
func NewService(cfg Config) (*Service, error) {
	cfg = cfg.normalized()
	pool, err := async.NewPool(cfg.Workers, cfg.Queue)
	if err != nil {
		return nil, err
	}

	s := new(Service)
	s.cfg = cfg
	s.pool = pool
	s.enricher = NewEnricher(cfg.Repository, cfg.Credentials, cfg.Registry, cfg.Settings, cfg.Capabilities)
	scheduler := NewScheduler(cfg.Repository, cfg.Capabilities, s.EnqueueEnrichment)
	s.orchestrator = NewOrchestrator(cfg.Registry, cfg.Credentials,
		NewUpsertService(cfg.Repository), scheduler, cfg.Settings, cfg.SyncFanout)
	return s, nil
}

// Orchestrator exposes the underlying sync pipeline for callers that need a
// synchronous run with its summaries, such as the daemon's interval loop.
func (s *Service) Orchestrator() *Orchestrator {
	return s.orchestrator
}

// TriggerSync schedules an asynchronous sync of one user on one exchange.
// Duplicate triggers for the same pair coalesce while one is in flight.
func (s *Service) TriggerSync(ctx context.Context, userID string, ex ledger.Exchange, window exchange.Window) error {
	return s.pool.Submit(ctx, async.Task{
		ID: "sync:" + userID + ":" + string(ex),
		Run: func(taskCtx context.Context) error {
			summary := s.orchestrator.SyncUser(taskCtx, userID, ex, window)
			observability.Log().Info("sync finished",
				observability.F("exchange", string(summary.Exchange)),
				observability.F("user_id", summary.UserID),
				observability.F("synced", summary.Synced),
				observability.F("skipped", summary.Skipped),
				observability.F("error", errString(summary.Err)))
			return summary.Err
		},
	})
}

// EnqueueEnrichment schedules counterparty enrichment for a transaction.
// Submitting while the same transaction is queued or running is a no-op.
func (s *Service) EnqueueEnrichment(ctx context.Context, id uuid.UUID) error {
	return s.pool.Submit(ctx, async.Task{
		ID:          "enrich:" + id.String(),
		MaxAttempts: s.cfg.EnrichMaxAttempts,
		Timeout:     s.cfg.EnrichTimeout,
		Run: func(taskCtx context.Context) error {
			return s.enricher.Enrich(taskCtx, id)
		},
	})
}

// SyncAll runs a synchronous full sync across all exchanges and users.
func (s *Service) SyncAll(ctx context.Context, window exchange.Window) []Summary {
	return s.orchestrator.SyncAll(ctx, window)
}

// Shutdown drains the background pool.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.pool.Shutdown(ctx)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
