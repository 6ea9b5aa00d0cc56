package ingest

import (
	"context"
	"time"

	"github.com/coachpo/ledgersync/internal/exchange"
	"github.com/coachpo/ledgersync/internal/ledger"
	"github.com/coachpo/ledgersync/internal/observability"
)

// UpsertService turns decoded venue records into canonical transactions and
// writes them through the repository's idempotent upsert.
type UpsertService struct {
	repo ledger.Repository
	now  func() time.Time
}

// NewUpsertService constructs the service around a repository.
func NewUpsertService(repo ledger.Repository) *UpsertService {
	return &UpsertService{repo: repo, now: time.Now}
}

// Upsert normalizes the record under the credential's identity, validates it,
// and persists it by idempotency key. Returns the stored transaction and
// whether the row was created.
func (s *UpsertService) Upsert(ctx context.Context, cred ledger.CredentialRecord, record exchange.Record) (ledger.Transaction, bool, error) {
	tx := s.normalize(cred, record)
	if err := tx.Validate(); err != nil {
		return ledger.Transaction{}, false, err
	}
	if tx.BackfillTotal() {
		observability.Log().Warn("total amount back-filled from quantity and price",
			observability.F("exchange", string(tx.Exchange)),
			observability.F("type", string(tx.Type)),
			observability.F("external_order_id", tx.ExternalOrderID))
	}
	return s.repo.UpsertByKey(ctx, tx)
}

func (s *UpsertService) normalize(cred ledger.CredentialRecord, record exchange.Record) ledger.Transaction {
	side := record.Side
	if side == "" {
		side = ledger.SideUnknown
	}
	status := record.Status
	if status == "" {
		status = ledger.StatusPending
	}
	updatedAt := record.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = record.CreatedAt
	}
	return ledger.Transaction{
		UserID:          cred.UserID,
		Exchange:        cred.Exchange,
		Type:            record.Type,
		ExternalOrderID: record.ExternalOrderID,

		AssetType:   record.Asset,
		FiatType:    record.Fiat,
		Side:        side,
		Quantity:    record.Quantity,
		Price:       record.Price,
		TotalAmount: record.Total,
		Commission:  record.Commission,
		TakerFee:    record.TakerFee,
		NetworkFee:  record.NetworkFee,

		Status: status,

		CounterpartyNickname: record.CounterpartyNickname,
		CounterpartyFullName: record.CounterpartyFullName,
		PaymentMethod:        record.PaymentMethod,

		SourceEndpoint:    record.SourceEndpoint,
		RawMetadata:       record.Raw,
		CreatedAtExternal: record.CreatedAt,
		UpdatedAtExternal: updatedAt,
		LastSyncedAt:      s.now(),
	}
}
