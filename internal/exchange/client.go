// Package exchange defines the venue-agnostic contracts implemented by each
// exchange integration: signed REST access, paged history endpoints, and the
// raw record shape handed to the ingest pipeline.
package exchange

import (
	"context"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/coachpo/ledgersync/errs"
	"github.com/coachpo/ledgersync/internal/ledger"
)

// Window bounds a history sync in external (exchange) time.
type Window struct {
	Start time.Time
	End   time.Time
}

// Record is one external history entry decoded and pre-mapped by a venue
// integration. The ingest pipeline normalizes it into a canonical transaction.
type Record struct {
	Type            ledger.TransactionType
	ExternalOrderID string

	Asset string
	Fiat  string
	Side  ledger.OrderSide

	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Total      decimal.Decimal
	Commission decimal.Decimal
	TakerFee   decimal.Decimal
	NetworkFee decimal.Decimal

	Status ledger.Status

	CounterpartyNickname string
	CounterpartyFullName string
	PaymentMethod        string

	CreatedAt time.Time
	UpdatedAt time.Time

	SourceEndpoint string
	Raw            json.RawMessage
}

// Endpoint is one paged history surface of a venue. Implementations may carry
// cursor state across FetchPage calls; a fetch run uses a fresh instance.
type Endpoint interface {
	// Name identifies the endpoint for logs and provenance.
	Name() string

	// FetchPage returns the records of one page together with the reported
	// total record count, or -1 when the venue does not report a total.
	// Page numbering starts at zero.
	FetchPage(ctx context.Context, window Window, page, size int) ([]Record, int, error)
}

// Venue bundles the history surfaces of one exchange bound to one credential.
type Venue interface {
	// Exchange identifies the venue.
	Exchange() ledger.Exchange

	// Endpoints returns fresh endpoint instances for a sync run.
	Endpoints() []Endpoint

	// OrderDetail fetches the extended detail of a single P2P order.
	OrderDetail(ctx context.Context, externalOrderID string) (*Record, error)
}

// Settings carries per-venue transport configuration.
type Settings struct {
	BaseURL        string        `yaml:"baseURL"`
	TestnetBaseURL string        `yaml:"testnetBaseURL"`
	HTTPTimeout    time.Duration `yaml:"httpTimeout"`
	RecvWindow     time.Duration `yaml:"recvWindow"`
	PageSize       int           `yaml:"pageSize"`
	PageInterval   time.Duration `yaml:"pageInterval"`
	SpotSymbols    []string      `yaml:"spotSymbols"`
}

// Normalize applies defaults for unset values.
func (s Settings) Normalize() Settings {
	if s.HTTPTimeout <= 0 {
		s.HTTPTimeout = 30 * time.Second
	}
	if s.RecvWindow <= 0 {
		s.RecvWindow = 5 * time.Second
	}
	if s.PageSize <= 0 {
		s.PageSize = 50
	}
	if s.PageInterval <= 0 {
		s.PageInterval = 150 * time.Millisecond
	}
	return s
}

// ResolveBaseURL picks the testnet base URL when the credential targets a
// testnet and one is configured.
func (s Settings) ResolveBaseURL(isTestnet bool) string {
	if isTestnet && s.TestnetBaseURL != "" {
		return s.TestnetBaseURL
	}
	return s.BaseURL
}

// Factory builds a Venue for one credential.
type Factory func(cred ledger.CredentialRecord, settings Settings) (Venue, error)

// Registry maps exchange discriminators to venue factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[ledger.Exchange]Factory
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[ledger.Exchange]Factory)}
}

// Register installs a factory for the exchange, replacing any prior entry.
func (r *Registry) Register(exchange ledger.Exchange, factory Factory) {
	if factory == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[exchange] = factory
}

// Connect builds a venue for the credential's exchange.
func (r *Registry) Connect(cred ledger.CredentialRecord, settings Settings) (Venue, error) {
	r.mu.RLock()
	factory, ok := r.factories[cred.Exchange]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.New(string(cred.Exchange), errs.KindInvalid,
			errs.WithMessage("no venue factory registered"))
	}
	return factory(cred, settings.Normalize())
}
