package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/safar/storefront-core/internal/config"
	"github.com/safar/storefront-core/internal/database"
)

var ErrNotFound = errors.New("state key not found")

// Logical state keys. Each key holds one independently persisted JSON
// document.
const (
	KeyProducts        = "products"
	KeyOrders          = "orders"
	KeyPendingPayments = "pending_payments"
	KeyUsers           = "users"
	KeySettings        = "settings"
	KeyLogs            = "logs"
	KeyCategories      = "categories"
	KeyGroups          = "groups"
	KeyCoupons         = "coupons"
	KeyInvoices        = "invoices"
	KeyTickets         = "tickets"
	KeyFeedbacks       = "feedbacks"
	KeyDomains         = "domains"
	KeyTeam            = "team"
	KeyBlacklist       = "blacklist"
	KeyPaymentMethods  = "payment_methods"
	KeyMediaLibrary    = "media_library"
)

// objectKeys hold a JSON object document; every other known key holds
// a JSON array.
var objectKeys = map[string]bool{
	KeyPendingPayments: true,
	KeySettings:        true,
}

var knownKeys = []string{
	KeyProducts, KeyOrders, KeyPendingPayments, KeyUsers, KeySettings,
	KeyLogs, KeyCategories, KeyGroups, KeyCoupons, KeyInvoices,
	KeyTickets, KeyFeedbacks, KeyDomains, KeyTeam, KeyBlacklist,
	KeyPaymentMethods, KeyMediaLibrary,
}

func Keys() []string {
	out := make([]string, len(knownKeys))
	copy(out, knownKeys)
	return out
}

func Known(key string) bool {
	for _, k := range knownKeys {
		if k == key {
			return true
		}
	}
	return false
}

// DefaultFor returns the hard-coded default document for a key.
func DefaultFor(key string) json.RawMessage {
	switch {
	case key == KeyPaymentMethods:
		return json.RawMessage(`[{"id":"pm-card","enabled":true},{"id":"pm-paypal","enabled":true},{"id":"pm-crypto","enabled":true}]`)
	case objectKeys[key]:
		return json.RawMessage(`{}`)
	default:
		return json.RawMessage(`[]`)
	}
}

// ValidShape reports whether raw matches the key's expected top-level
// JSON kind (object vs array).
func ValidShape(key string, raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '{':
			return objectKeys[key]
		case '[':
			return !objectKeys[key]
		default:
			return false
		}
	}
	return false
}

// Backend is one persistence strategy for state documents.
type Backend interface {
	Get(ctx context.Context, key string) (json.RawMessage, error)
	Set(ctx context.Context, key string, value json.RawMessage) error
	Name() string
	Close() error
}

// Store wraps a backend with per-key defaults and a per-key mutex so
// read-modify-write sequences on the same document serialize instead
// of racing.
type Store struct {
	backend Backend

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(backend Backend) *Store {
	return &Store{
		backend: backend,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *Store) BackendName() string { return s.backend.Name() }

func (s *Store) Close() error { return s.backend.Close() }

// Lock acquires the key's mutex and returns its unlock func. Callers
// doing read-modify-write must hold it across the Get and the Set.
func (s *Store) Lock(key string) func() {
	s.mu.Lock()
	m, ok := s.locks[key]
	if !ok {
		m = &sync.Mutex{}
		s.locks[key] = m
	}
	s.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Get returns the key's document, falling back to its default when
// the backend has no record of it.
func (s *Store) Get(ctx context.Context, key string) (json.RawMessage, error) {
	raw, err := s.backend.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return DefaultFor(key), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get state %q: %w", key, err)
	}
	if !ValidShape(key, raw) {
		log.Printf("state %q has unexpected shape, using default", key)
		return DefaultFor(key), nil
	}
	return raw, nil
}

func (s *Store) Set(ctx context.Context, key string, raw json.RawMessage) error {
	if err := s.backend.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("set state %q: %w", key, err)
	}
	return nil
}

// Load unmarshals the key's document into v.
func (s *Store) Load(ctx context.Context, key string, v any) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode state %q: %w", key, err)
	}
	return nil
}

// Save marshals v and writes it as the key's document.
func (s *Store) Save(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode state %q: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}

// Open picks the backend per config. "postgres" fails hard when the
// database is unreachable; "auto" logs and degrades to the file
// backend instead.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	files, err := NewFileBackend(cfg.State.DataDir)
	if err != nil {
		return nil, err
	}

	if cfg.State.Backend == "file" {
		return New(files), nil
	}

	pg, pgErr := openPostgres(ctx, cfg, files)
	if pgErr == nil {
		return New(pg), nil
	}
	if cfg.State.Backend == "postgres" {
		return nil, fmt.Errorf("relational state storage required: %w", pgErr)
	}
	log.Printf("Relational state storage unavailable, falling back to files: %v", pgErr)
	return New(files), nil
}

func openPostgres(ctx context.Context, cfg *config.Config, seed *FileBackend) (*PostgresBackend, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL not set")
	}
	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		return nil, err
	}
	pg, err := NewPostgresBackend(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := pg.SeedMissing(ctx, seed); err != nil {
		db.Close()
		return nil, err
	}
	return pg, nil
}
