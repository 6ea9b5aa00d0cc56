package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SchemaCapabilities declares which optional columns the backing schema
// carries. Deployments that have not run the enrichment migration behave as if
// enrichment never started; every enrichment write becomes a gated branch with
// this value as the single source of truth.
type SchemaCapabilities struct {
	EnrichmentStatus bool
}

// EnrichmentUpdate carries the fields merged into a transaction by the
// enrichment worker. Nil pointers leave the stored value untouched.
type EnrichmentUpdate struct {
	Status               EnrichmentStatus
	CounterpartyNickname *string
	CounterpartyFullName *string
	PaymentMethod        *string
	CanonicalStatus      *Status
}

// Repository is the sole mutator of canonical transactions on the sync path.
type Repository interface {
	// UpsertByKey inserts the candidate when no row matches its idempotency
	// key, otherwise overwrites all mutable fields (last-write-wins). The
	// stored EnrichmentStatus survives updates. Returns the stored row and
	// whether it was created.
	UpsertByKey(ctx context.Context, candidate Transaction) (Transaction, bool, error)

	// FindByID loads a transaction by row id. Returns a KindNotFound error
	// when no row exists.
	FindByID(ctx context.Context, id uuid.UUID) (Transaction, error)

	// UpdateEnrichment applies an enrichment state transition and any merged
	// counterparty detail. A no-op when the schema lacks the enrichment
	// column.
	UpdateEnrichment(ctx context.Context, id uuid.UUID, update EnrichmentUpdate) error
}

// CredentialStore yields active credentials and accepts usage write-backs.
type CredentialStore interface {
	// ActiveCredentials returns the active credentials of a user for one
	// exchange.
	ActiveCredentials(ctx context.Context, userID string, exchange Exchange) ([]CredentialRecord, error)

	// ActiveUsers lists user ids holding at least one active credential for
	// the exchange.
	ActiveUsers(ctx context.Context, exchange Exchange) ([]string, error)

	// RecordUsage stamps lastUsedAt and replaces lastError for the credential
	// identified by (userID, exchange, apiKey). An empty lastErr clears a
	// previously recorded error.
	RecordUsage(ctx context.Context, userID string, exchange Exchange, apiKey string, usedAt time.Time, lastErr string) error
}
