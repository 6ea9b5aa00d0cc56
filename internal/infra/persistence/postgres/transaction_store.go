package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachpo/ledgersync/errs"
	"github.com/coachpo/ledgersync/internal/ledger"
)

// TransactionStore persists canonical transactions. It implements
// ledger.Repository on top of a pgx pool.
type TransactionStore struct {
	pool *pgxpool.Pool
	caps ledger.SchemaCapabilities
}

// NewTransactionStore constructs a TransactionStore backed by the provided
// pool, gated by the schema capabilities detected at startup.
func NewTransactionStore(pool *pgxpool.Pool, caps ledger.SchemaCapabilities) *TransactionStore {
	return &TransactionStore{pool: pool, caps: caps}
}

// Capabilities reports the schema capabilities the store was built with.
func (s *TransactionStore) Capabilities() ledger.SchemaCapabilities {
	return s.caps
}

const (
	transactionUpsertSQL = `
INSERT INTO transactions (
    user_id,
    exchange,
    transaction_type,
    external_order_id,
    asset_type,
    fiat_type,
    side,
    quantity,
    price,
    total_amount,
    commission,
    taker_fee,
    network_fee,
    status,
    counterparty_nickname,
    counterparty_fullname,
    payment_method,
    source_endpoint,
    raw_metadata,
    created_at_external,
    updated_at_external,
    last_synced_at,
    created_at,
    updated_at
)
VALUES (
    @user_id,
    @exchange,
    @transaction_type,
    @external_order_id,
    @asset_type,
    @fiat_type,
    @side,
    @quantity,
    @price,
    @total_amount,
    @commission,
    @taker_fee,
    @network_fee,
    @status,
    @counterparty_nickname,
    @counterparty_fullname,
    @payment_method,
    @source_endpoint,
    @raw_metadata::jsonb,
    @created_at_external,
    @updated_at_external,
    @last_synced_at,
    NOW(),
    NOW()
)
ON CONFLICT (user_id, exchange, transaction_type, external_order_id) DO UPDATE SET
    asset_type = EXCLUDED.asset_type,
    fiat_type = EXCLUDED.fiat_type,
    side = EXCLUDED.side,
    quantity = EXCLUDED.quantity,
    price = EXCLUDED.price,
    total_amount = EXCLUDED.total_amount,
    commission = EXCLUDED.commission,
    taker_fee = EXCLUDED.taker_fee,
    network_fee = EXCLUDED.network_fee,
    status = EXCLUDED.status,
    counterparty_nickname = EXCLUDED.counterparty_nickname,
    counterparty_fullname = EXCLUDED.counterparty_fullname,
    payment_method = EXCLUDED.payment_method,
    source_endpoint = EXCLUDED.source_endpoint,
    raw_metadata = EXCLUDED.raw_metadata,
    created_at_external = EXCLUDED.created_at_external,
    updated_at_external = EXCLUDED.updated_at_external,
    last_synced_at = EXCLUDED.last_synced_at,
    updated_at = NOW()
`

	transactionUpsertReturning       = ` RETURNING id, enrichment_status, (xmax = 0) AS inserted;`
	transactionUpsertReturningLegacy = ` RETURNING id, '' AS enrichment_status, (xmax = 0) AS inserted;`

	transactionSelectSQL = `
SELECT
    user_id,
    exchange,
    transaction_type,
    external_order_id,
    asset_type,
    fiat_type,
    side,
    quantity::text,
    price::text,
    total_amount::text,
    commission::text,
    taker_fee::text,
    network_fee::text,
    status,
    counterparty_nickname,
    counterparty_fullname,
    payment_method,
    source_endpoint,
    raw_metadata,
    created_at_external,
    updated_at_external,
    last_synced_at,
    %s
FROM transactions
WHERE id = $1;
`

	enrichmentUpdateSQL = `
UPDATE transactions
SET enrichment_status = @enrichment_status,
    counterparty_nickname = COALESCE(@counterparty_nickname, counterparty_nickname),
    counterparty_fullname = COALESCE(@counterparty_fullname, counterparty_fullname),
    payment_method = COALESCE(@payment_method, payment_method),
    status = COALESCE(@status, status),
    updated_at = NOW()
WHERE id = @id;
`
)

func (s *TransactionStore) ensurePool() (*pgxpool.Pool, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("transaction store: nil pool")
	}
	return s.pool, nil
}

// UpsertByKey implements ledger.Repository. The enrichment status column is
// deliberately absent from the conflict update so sync runs never clobber the
// enrichment state machine.
func (s *TransactionStore) UpsertByKey(ctx context.Context, candidate ledger.Transaction) (ledger.Transaction, bool, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return ledger.Transaction{}, false, err
	}
	args, err := upsertArgs(candidate)
	if err != nil {
		return ledger.Transaction{}, false, err
	}

	query := transactionUpsertSQL + transactionUpsertReturning
	if !s.caps.EnrichmentStatus {
		query = transactionUpsertSQL + transactionUpsertReturningLegacy
	}

	var (
		id         uuid.UUID
		enrichment string
		inserted   bool
	)
	if err := pool.QueryRow(ctx, query, args).Scan(&id, &enrichment, &inserted); err != nil {
		return ledger.Transaction{}, false, fmt.Errorf("transaction store: upsert: %w", err)
	}
	candidate.ID = id
	candidate.EnrichmentStatus = ledger.EnrichmentStatus(enrichment)
	return candidate, inserted, nil
}

// FindByID implements ledger.Repository.
func (s *TransactionStore) FindByID(ctx context.Context, id uuid.UUID) (ledger.Transaction, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return ledger.Transaction{}, err
	}
	enrichmentColumn := "enrichment_status"
	if !s.caps.EnrichmentStatus {
		enrichmentColumn = "'' AS enrichment_status"
	}
	query := fmt.Sprintf(transactionSelectSQL, enrichmentColumn)

	var (
		tx                ledger.Transaction
		quantity          string
		price             string
		totalAmount       string
		commission        string
		takerFee          string
		networkFee        string
		rawMetadata       []byte
		createdAtExternal pgtype.Timestamptz
		updatedAtExternal pgtype.Timestamptz
		enrichment        string
	)
	err = pool.QueryRow(ctx, query, id).Scan(
		&tx.UserID,
		&tx.Exchange,
		&tx.Type,
		&tx.ExternalOrderID,
		&tx.AssetType,
		&tx.FiatType,
		&tx.Side,
		&quantity,
		&price,
		&totalAmount,
		&commission,
		&takerFee,
		&networkFee,
		&tx.Status,
		&tx.CounterpartyNickname,
		&tx.CounterpartyFullName,
		&tx.PaymentMethod,
		&tx.SourceEndpoint,
		&rawMetadata,
		&createdAtExternal,
		&updatedAtExternal,
		&tx.LastSyncedAt,
		&enrichment,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Transaction{}, errs.New("postgres", errs.KindNotFound,
			errs.WithMessage("transaction "+id.String()+" not found"))
	}
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("transaction store: find: %w", err)
	}

	tx.ID = id
	tx.RawMetadata = rawMetadata
	tx.EnrichmentStatus = ledger.EnrichmentStatus(enrichment)
	if createdAtExternal.Valid {
		tx.CreatedAtExternal = createdAtExternal.Time
	}
	if updatedAtExternal.Valid {
		tx.UpdatedAtExternal = updatedAtExternal.Time
	}
	if tx.Quantity, err = decimalFromText(quantity); err != nil {
		return ledger.Transaction{}, fmt.Errorf("transaction store: %w", err)
	}
	if tx.Price, err = decimalFromText(price); err != nil {
		return ledger.Transaction{}, fmt.Errorf("transaction store: %w", err)
	}
	if tx.TotalAmount, err = decimalFromText(totalAmount); err != nil {
		return ledger.Transaction{}, fmt.Errorf("transaction store: %w", err)
	}
	if tx.Commission, err = decimalFromText(commission); err != nil {
		return ledger.Transaction{}, fmt.Errorf("transaction store: %w", err)
	}
	if tx.TakerFee, err = decimalFromText(takerFee); err != nil {
		return ledger.Transaction{}, fmt.Errorf("transaction store: %w", err)
	}
	if tx.NetworkFee, err = decimalFromText(networkFee); err != nil {
		return ledger.Transaction{}, fmt.Errorf("transaction store: %w", err)
	}
	return tx, nil
}

// UpdateEnrichment implements ledger.Repository. A no-op when the schema
// predates the enrichment column.
func (s *TransactionStore) UpdateEnrichment(ctx context.Context, id uuid.UUID, update ledger.EnrichmentUpdate) error {
	if !s.caps.EnrichmentStatus {
		return nil
	}
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	args := pgx.NamedArgs{
		"id":                    id,
		"enrichment_status":     string(update.Status),
		"counterparty_nickname": nullableString(update.CounterpartyNickname),
		"counterparty_fullname": nullableString(update.CounterpartyFullName),
		"payment_method":        nullableString(update.PaymentMethod),
		"status":                nullableStatus(update.CanonicalStatus),
	}
	tag, err := pool.Exec(ctx, enrichmentUpdateSQL, args)
	if err != nil {
		return fmt.Errorf("transaction store: update enrichment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New("postgres", errs.KindNotFound,
			errs.WithMessage("transaction "+id.String()+" not found"))
	}
	return nil
}

func upsertArgs(tx ledger.Transaction) (pgx.NamedArgs, error) {
	quantity, err := numericFromDecimal(tx.Quantity)
	if err != nil {
		return nil, fmt.Errorf("transaction store: quantity: %w", err)
	}
	price, err := numericFromDecimal(tx.Price)
	if err != nil {
		return nil, fmt.Errorf("transaction store: price: %w", err)
	}
	totalAmount, err := numericFromDecimal(tx.TotalAmount)
	if err != nil {
		return nil, fmt.Errorf("transaction store: total amount: %w", err)
	}
	commission, err := numericFromDecimal(tx.Commission)
	if err != nil {
		return nil, fmt.Errorf("transaction store: commission: %w", err)
	}
	takerFee, err := numericFromDecimal(tx.TakerFee)
	if err != nil {
		return nil, fmt.Errorf("transaction store: taker fee: %w", err)
	}
	networkFee, err := numericFromDecimal(tx.NetworkFee)
	if err != nil {
		return nil, fmt.Errorf("transaction store: network fee: %w", err)
	}

	rawMetadata := []byte(tx.RawMetadata)
	if len(rawMetadata) == 0 {
		rawMetadata = []byte("{}")
	}
	args := pgx.NamedArgs{
		"user_id":               tx.UserID,
		"exchange":              string(tx.Exchange),
		"transaction_type":      string(tx.Type),
		"external_order_id":     tx.ExternalOrderID,
		"asset_type":            tx.AssetType,
		"fiat_type":             tx.FiatType,
		"side":                  string(tx.Side),
		"quantity":              quantity,
		"price":                 price,
		"total_amount":          totalAmount,
		"commission":            commission,
		"taker_fee":             takerFee,
		"network_fee":           networkFee,
		"status":                string(tx.Status),
		"counterparty_nickname": tx.CounterpartyNickname,
		"counterparty_fullname": tx.CounterpartyFullName,
		"payment_method":        tx.PaymentMethod,
		"source_endpoint":       tx.SourceEndpoint,
		"raw_metadata":          rawMetadata,
		"created_at_external":   nullableTime(tx.CreatedAtExternal),
		"updated_at_external":   nullableTime(tx.UpdatedAtExternal),
		"last_synced_at":        tx.LastSyncedAt,
	}
	return args, nil
}
