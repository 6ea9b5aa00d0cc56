// Package memory provides map-backed implementations of the ledger stores for
// tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coachpo/ledgersync/errs"
	"github.com/coachpo/ledgersync/internal/ledger"
)

// Store is an in-memory ledger.Repository.
type Store struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]ledger.Transaction
	byKey map[ledger.Key]uuid.UUID
	caps  ledger.SchemaCapabilities
}

// NewStore creates an empty store advertising the given schema capabilities.
func NewStore(caps ledger.SchemaCapabilities) *Store {
	return &Store{
		byID:  make(map[uuid.UUID]ledger.Transaction),
		byKey: make(map[ledger.Key]uuid.UUID),
		caps:  caps,
	}
}

// UpsertByKey implements ledger.Repository.
func (s *Store) UpsertByKey(_ context.Context, candidate ledger.Transaction) (ledger.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := candidate.Key()
	if id, ok := s.byKey[key]; ok {
		existing := s.byID[id]
		candidate.ID = id
		candidate.EnrichmentStatus = existing.EnrichmentStatus
		s.byID[id] = candidate
		return candidate, false, nil
	}
	candidate.ID = uuid.New()
	candidate.EnrichmentStatus = ledger.EnrichmentNone
	s.byKey[key] = candidate.ID
	s.byID[candidate.ID] = candidate
	return candidate, true, nil
}

// FindByID implements ledger.Repository.
func (s *Store) FindByID(_ context.Context, id uuid.UUID) (ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.byID[id]
	if !ok {
		return ledger.Transaction{}, errs.New("memory", errs.KindNotFound,
			errs.WithMessage("transaction "+id.String()+" not found"))
	}
	return tx, nil
}

// UpdateEnrichment implements ledger.Repository.
func (s *Store) UpdateEnrichment(_ context.Context, id uuid.UUID, update ledger.EnrichmentUpdate) error {
	if !s.caps.EnrichmentStatus {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.byID[id]
	if !ok {
		return errs.New("memory", errs.KindNotFound,
			errs.WithMessage("transaction "+id.String()+" not found"))
	}
	tx.EnrichmentStatus = update.Status
	if update.CounterpartyNickname != nil {
		tx.CounterpartyNickname = *update.CounterpartyNickname
	}
	if update.CounterpartyFullName != nil {
		tx.CounterpartyFullName = *update.CounterpartyFullName
	}
	if update.PaymentMethod != nil {
		tx.PaymentMethod = *update.PaymentMethod
	}
	if update.CanonicalStatus != nil {
		tx.Status = *update.CanonicalStatus
	}
	s.byID[id] = tx
	return nil
}

// All returns a snapshot of every stored transaction, ordered by external
// order id for deterministic assertions.
func (s *Store) All() []ledger.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ledger.Transaction, 0, len(s.byID))
	for _, tx := range s.byID {
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalOrderID < out[j].ExternalOrderID })
	return out
}

// CredentialStore is an in-memory ledger.CredentialStore.
type CredentialStore struct {
	mu    sync.Mutex
	creds []ledger.CredentialRecord
}

// NewCredentialStore creates a store seeded with the given credentials.
func NewCredentialStore(creds ...ledger.CredentialRecord) *CredentialStore {
	s := new(CredentialStore)
	s.creds = append(s.creds, creds...)
	return s
}

// Add appends a credential.
func (s *CredentialStore) Add(cred ledger.CredentialRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = append(s.creds, cred)
}

// ActiveCredentials implements ledger.CredentialStore.
func (s *CredentialStore) ActiveCredentials(_ context.Context, userID string, ex ledger.Exchange) ([]ledger.CredentialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ledger.CredentialRecord
	for _, cred := range s.creds {
		if cred.IsActive && cred.UserID == userID && cred.Exchange == ex {
			out = append(out, cred)
		}
	}
	return out, nil
}

// ActiveUsers implements ledger.CredentialStore.
func (s *CredentialStore) ActiveUsers(_ context.Context, ex ledger.Exchange) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	var out []string
	for _, cred := range s.creds {
		if !cred.IsActive || cred.Exchange != ex {
			continue
		}
		if _, dup := seen[cred.UserID]; dup {
			continue
		}
		seen[cred.UserID] = struct{}{}
		out = append(out, cred.UserID)
	}
	sort.Strings(out)
	return out, nil
}

// RecordUsage implements ledger.CredentialStore.
func (s *CredentialStore) RecordUsage(_ context.Context, userID string, ex ledger.Exchange, apiKey string, usedAt time.Time, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.creds {
		cred := &s.creds[i]
		if cred.UserID == userID && cred.Exchange == ex && cred.APIKey == apiKey {
			cred.LastUsedAt = usedAt
			cred.LastError = lastErr
			return nil
		}
	}
	return errs.New("memory", errs.KindNotFound, errs.WithMessage("credential not found"))
}

// Credentials returns a snapshot for assertions.
func (s *CredentialStore) Credentials() []ledger.CredentialRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.CredentialRecord, len(s.creds))
	copy(out, s.creds)
	return out
}
