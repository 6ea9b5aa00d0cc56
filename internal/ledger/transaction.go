// Package ledger defines the canonical transaction model shared by every
// exchange integration and the persistence layer.
package ledger

import (
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coachpo/ledgersync/errs"
)

// Exchange names a supported exchange integration.
type Exchange string

const (
	// ExchangeBinance represents the Binance integration key.
	ExchangeBinance Exchange = "binance"
	// ExchangeBybit represents the Bybit integration key.
	ExchangeBybit Exchange = "bybit"
	// ExchangeOKX represents the OKX integration key.
	ExchangeOKX Exchange = "okx"
)

// Exchanges lists every supported exchange in a stable order.
func Exchanges() []Exchange {
	return []Exchange{ExchangeBinance, ExchangeBybit, ExchangeOKX}
}

// TransactionType classifies the origin of a canonical transaction.
type TransactionType string

const (
	TypeSpotTrade        TransactionType = "spot_trade"
	TypeP2POrder         TransactionType = "p2p_order"
	TypeDeposit          TransactionType = "deposit"
	TypeWithdrawal       TransactionType = "withdrawal"
	TypePayTransaction   TransactionType = "pay_transaction"
	TypeInternalTransfer TransactionType = "internal_transfer"
	TypeManualEntry      TransactionType = "manual_entry"
)

// OrderSide captures the direction of a trade from the user's perspective.
type OrderSide string

const (
	SideBuy     OrderSide = "BUY"
	SideSell    OrderSide = "SELL"
	SideUnknown OrderSide = "UNKNOWN"
)

// Status is the canonical transaction status. Every exchange-specific status
// value maps to exactly one of these.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
)

// EnrichmentStatus tracks the counterparty-detail enrichment state machine for
// P2P orders. The empty value means enrichment has not started; non-P2P
// transactions always carry the empty value.
type EnrichmentStatus string

const (
	EnrichmentNone       EnrichmentStatus = ""
	EnrichmentPending    EnrichmentStatus = "pending"
	EnrichmentProcessing EnrichmentStatus = "processing"
	EnrichmentCompleted  EnrichmentStatus = "completed"
	EnrichmentFailed     EnrichmentStatus = "failed"
)

// Key is the idempotency key for a canonical transaction. Two syncs observing
// the same external record resolve to the same key.
type Key struct {
	UserID          string
	Exchange        Exchange
	Type            TransactionType
	ExternalOrderID string
}

// Transaction is the canonical, exchange-agnostic ledger record.
type Transaction struct {
	ID              uuid.UUID
	UserID          string
	Exchange        Exchange
	Type            TransactionType
	ExternalOrderID string

	AssetType   string
	FiatType    string
	Side        OrderSide
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	TotalAmount decimal.Decimal
	Commission  decimal.Decimal
	TakerFee    decimal.Decimal
	NetworkFee  decimal.Decimal

	Status Status

	CounterpartyNickname string
	CounterpartyFullName string
	PaymentMethod        string

	SourceEndpoint    string
	RawMetadata       json.RawMessage
	CreatedAtExternal time.Time
	UpdatedAtExternal time.Time
	LastSyncedAt      time.Time

	EnrichmentStatus EnrichmentStatus
}

// Key returns the idempotency key for the transaction.
func (t *Transaction) Key() Key {
	return Key{
		UserID:          t.UserID,
		Exchange:        t.Exchange,
		Type:            t.Type,
		ExternalOrderID: t.ExternalOrderID,
	}
}

// Validate checks identity fields and the non-negativity invariants on every
// economic amount.
func (t *Transaction) Validate() error {
	if t.UserID == "" {
		return errs.New(string(t.Exchange), errs.KindInvalid, errs.WithMessage("user id required"))
	}
	if t.ExternalOrderID == "" {
		return errs.New(string(t.Exchange), errs.KindInvalid, errs.WithMessage("external order id required"))
	}
	switch t.Exchange {
	case ExchangeBinance, ExchangeBybit, ExchangeOKX:
	default:
		return errs.New(string(t.Exchange), errs.KindInvalid, errs.WithMessage("unknown exchange"))
	}
	switch t.Type {
	case TypeSpotTrade, TypeP2POrder, TypeDeposit, TypeWithdrawal,
		TypePayTransaction, TypeInternalTransfer, TypeManualEntry:
	default:
		return errs.New(string(t.Exchange), errs.KindInvalid, errs.WithMessage("unknown transaction type"))
	}
	amounts := []struct {
		name  string
		value decimal.Decimal
	}{
		{"quantity", t.Quantity},
		{"price", t.Price},
		{"total_amount", t.TotalAmount},
		{"commission", t.Commission},
		{"taker_fee", t.TakerFee},
		{"network_fee", t.NetworkFee},
	}
	for _, a := range amounts {
		if a.value.IsNegative() {
			return errs.New(string(t.Exchange), errs.KindInvalid,
				errs.WithMessage(a.name+" must be non-negative"))
		}
	}
	return nil
}

// BackfillTotal computes TotalAmount as Quantity*Price when the source
// supplied no explicit total. A nonzero source total with a zero price is left
// untouched: the total came from the exchange and a zero price is the
// questionable figure, not the total. Returns true when a back-fill happened.
func (t *Transaction) BackfillTotal() bool {
	if !t.TotalAmount.IsZero() {
		return false
	}
	if t.Quantity.IsZero() || t.Price.IsZero() {
		return false
	}
	t.TotalAmount = t.Quantity.Mul(t.Price)
	return true
}

// CredentialRecord is an active API credential yielded by the CredentialStore.
// The core consumes it read-only except for the usage write-back fields.
type CredentialRecord struct {
	UserID     string
	Exchange   Exchange
	APIKey     string
	SecretKey  string
	Passphrase string
	IsTestnet  bool
	IsActive   bool
	LastUsedAt time.Time
	LastError  string
}
