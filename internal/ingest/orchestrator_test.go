package ingest

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/ledgersync/errs"
	"github.com/coachpo/ledgersync/internal/exchange"
	"github.com/coachpo/ledgersync/internal/infra/persistence/memory"
	"github.com/coachpo/ledgersync/internal/ledger"
)

func fastSettings(ledger.Exchange) exchange.Settings {
	return exchange.Settings{PageSize: 50, PageInterval: 1}.Normalize()
}

func newTestOrchestrator(store *memory.Store, creds *memory.CredentialStore,
	venue *fakeVenue, enqueue EnqueueFunc) *Orchestrator {
	caps := ledger.SchemaCapabilities{EnrichmentStatus: true}
	if enqueue == nil {
		enqueue = func(context.Context, uuid.UUID) error { return nil }
	}
	return NewOrchestrator(registryWith(venue), creds,
		NewUpsertService(store), NewScheduler(store, caps, enqueue), fastSettings, 2)
}

func TestSyncUserPersistsEveryEndpoint(t *testing.T) {
	store := memory.NewStore(ledger.SchemaCapabilities{EnrichmentStatus: true})
	creds := memory.NewCredentialStore(ledger.CredentialRecord{
		UserID: "alice", Exchange: ledger.ExchangeBinance, APIKey: "k1", IsActive: true,
	})
	venue := &fakeVenue{ex: ledger.ExchangeBinance, endpoints: []exchange.Endpoint{
		newScriptedEndpoint("p2p", 7),
		newScriptedEndpoint("deposits", 3),
	}}
	orch := newTestOrchestrator(store, creds, venue, nil)

	summary := orch.SyncUser(context.Background(), "alice", ledger.ExchangeBinance, exchange.Window{})

	require.NoError(t, summary.Err)
	require.Equal(t, 10, summary.Synced)
	require.Zero(t, summary.Skipped)
	require.Len(t, store.All(), 10)

	snapshot := creds.Credentials()
	require.False(t, snapshot[0].LastUsedAt.IsZero())
	require.Empty(t, snapshot[0].LastError)
}

func TestSyncUserSkipsBadRecordsAndContinues(t *testing.T) {
	store := memory.NewStore(ledger.SchemaCapabilities{EnrichmentStatus: true})
	creds := memory.NewCredentialStore(ledger.CredentialRecord{
		UserID: "alice", Exchange: ledger.ExchangeBinance, APIKey: "k1", IsActive: true,
	})
	endpoint := newScriptedEndpoint("p2p", 4)
	endpoint.records[1].Quantity = decimal.NewFromInt(-5)
	endpoint.records[2].ExternalOrderID = ""
	venue := &fakeVenue{ex: ledger.ExchangeBinance, endpoints: []exchange.Endpoint{endpoint}}
	orch := newTestOrchestrator(store, creds, venue, nil)

	summary := orch.SyncUser(context.Background(), "alice", ledger.ExchangeBinance, exchange.Window{})

	require.NoError(t, summary.Err)
	require.Equal(t, 2, summary.Synced)
	require.Equal(t, 2, summary.Skipped)
	require.Len(t, store.All(), 2)
}

func TestSyncUserCredentialFatalAbortsRemainingEndpoints(t *testing.T) {
	store := memory.NewStore(ledger.SchemaCapabilities{EnrichmentStatus: true})
	creds := memory.NewCredentialStore(ledger.CredentialRecord{
		UserID: "alice", Exchange: ledger.ExchangeBinance, APIKey: "k1", IsActive: true,
	})
	dead := newScriptedEndpoint("p2p", 100)
	dead.failAt = 0
	dead.failErr = errs.New("binance", errs.KindAuth, errs.WithMessage("invalid api key"))
	untouched := newScriptedEndpoint("deposits", 5)
	venue := &fakeVenue{ex: ledger.ExchangeBinance, endpoints: []exchange.Endpoint{dead, untouched}}
	orch := newTestOrchestrator(store, creds, venue, nil)

	summary := orch.SyncUser(context.Background(), "alice", ledger.ExchangeBinance, exchange.Window{})

	require.Error(t, summary.Err)
	require.True(t, errs.CredentialFatal(summary.Err))
	require.Zero(t, untouched.calls, "remaining endpoints share the dead key")
	require.Equal(t, "exchange=binance kind=auth msg=invalid api key", creds.Credentials()[0].LastError)
}

func TestSyncUserEndpointFailureIsIsolated(t *testing.T) {
	store := memory.NewStore(ledger.SchemaCapabilities{EnrichmentStatus: true})
	creds := memory.NewCredentialStore(ledger.CredentialRecord{
		UserID: "alice", Exchange: ledger.ExchangeBinance, APIKey: "k1", IsActive: true,
	})
	flaky := newScriptedEndpoint("p2p", 100)
	flaky.failAt = 1
	flaky.failErr = errs.New("binance", errs.KindTransport, errs.WithMessage("gateway timeout"))
	healthy := newScriptedEndpoint("deposits", 5)
	venue := &fakeVenue{ex: ledger.ExchangeBinance, endpoints: []exchange.Endpoint{flaky, healthy}}
	orch := newTestOrchestrator(store, creds, venue, nil)

	summary := orch.SyncUser(context.Background(), "alice", ledger.ExchangeBinance, exchange.Window{})

	require.Error(t, summary.Err)
	// First page of the flaky endpoint plus the healthy endpoint both land.
	require.Equal(t, 55, summary.Synced)
	require.Equal(t, 1, healthy.calls)
}

func TestSyncUserSchedulesEnrichmentForCreatedP2P(t *testing.T) {
	store := memory.NewStore(ledger.SchemaCapabilities{EnrichmentStatus: true})
	creds := memory.NewCredentialStore(ledger.CredentialRecord{
		UserID: "alice", Exchange: ledger.ExchangeBinance, APIKey: "k1", IsActive: true,
	})
	venue := &fakeVenue{ex: ledger.ExchangeBinance, endpoints: []exchange.Endpoint{
		newScriptedEndpoint("p2p", 3),
	}}
	var enqueued []uuid.UUID
	orch := newTestOrchestrator(store, creds, venue, func(_ context.Context, id uuid.UUID) error {
		enqueued = append(enqueued, id)
		return nil
	})

	summary := orch.SyncUser(context.Background(), "alice", ledger.ExchangeBinance, exchange.Window{})

	require.NoError(t, summary.Err)
	require.Len(t, enqueued, 3)
	for _, tx := range store.All() {
		require.Equal(t, ledger.EnrichmentPending, tx.EnrichmentStatus)
	}
}

func TestSyncAllFansOutAcrossUsers(t *testing.T) {
	store := memory.NewStore(ledger.SchemaCapabilities{EnrichmentStatus: true})
	creds := memory.NewCredentialStore(
		ledger.CredentialRecord{UserID: "alice", Exchange: ledger.ExchangeBinance, APIKey: "k1", IsActive: true},
		ledger.CredentialRecord{UserID: "bob", Exchange: ledger.ExchangeBinance, APIKey: "k2", IsActive: true},
	)
	venue := &fakeVenue{ex: ledger.ExchangeBinance, endpoints: []exchange.Endpoint{
		newScriptedEndpoint("p2p", 2),
	}}
	caps := ledger.SchemaCapabilities{EnrichmentStatus: true}
	// Serial fanout keeps the shared scripted endpoint race-free.
	orch := NewOrchestrator(registryWith(venue), creds, NewUpsertService(store),
		NewScheduler(store, caps, func(context.Context, uuid.UUID) error { return nil }),
		fastSettings, 1)

	summaries := orch.SyncAll(context.Background(), exchange.Window{})

	require.Len(t, summaries, 2)
	users := map[string]bool{}
	for _, s := range summaries {
		require.Equal(t, ledger.ExchangeBinance, s.Exchange)
		users[s.UserID] = true
	}
	require.True(t, users["alice"])
	require.True(t, users["bob"])
}
