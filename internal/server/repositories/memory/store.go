// Package memory is a process-local implementation of every repository and
// of dbx.Transactor. It backs the memory:// DSN and the service tests.
//
// A transaction holds the store exclusively until it returns and is rolled
// back by restoring a snapshot taken on entry. Writes made outside a
// transaction take the same lock for their own duration.
package memory

import (
	"context"
	"database/sql"
	"maps"
	"sync"
	"time"

	"github.com/dmitrijs2005/studyrent/internal/dbx"
	"github.com/dmitrijs2005/studyrent/internal/server/repositories/contracts"
	"github.com/dmitrijs2005/studyrent/internal/server/repositories/payments"
	"github.com/dmitrijs2005/studyrent/internal/server/repositories/properties"
	"github.com/dmitrijs2005/studyrent/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/studyrent/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/studyrent/internal/server/repositories/users"
	"github.com/dmitrijs2005/studyrent/internal/server/repositories/webhookevents"
	"github.com/dmitrijs2005/studyrent/internal/server/models"
)

type tables struct {
	users      map[string]models.User
	tokens     map[string]models.RefreshToken
	properties map[string]models.Property
	contracts  map[string]models.Contract
	payments   map[string]models.Payment
	events     map[string]string
}

func (t tables) clone() tables {
	return tables{
		users:      maps.Clone(t.users),
		tokens:     maps.Clone(t.tokens),
		properties: maps.Clone(t.properties),
		contracts:  maps.Clone(t.contracts),
		payments:   maps.Clone(t.payments),
		events:     maps.Clone(t.events),
	}
}

var (
	_ repomanager.RepositoryManager = (*Store)(nil)
	_ dbx.Transactor                = (*Store)(nil)
)

type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	t    tables

	// Now stamps created_at and updated_at columns.
	Now func() time.Time
}

func NewStore() *Store {
	return &Store{
		t: tables{
			users:      map[string]models.User{},
			tokens:     map[string]models.RefreshToken{},
			properties: map[string]models.Property{},
			contracts:  map[string]models.Contract{},
			payments:   map[string]models.Payment{},
			events:     map[string]string{},
		},
		Now: time.Now,
	}
}

// txHandle marks repositories created inside InTx. It is never used to run
// SQL.
type txHandle struct{ dbx.DBTX }

func (s *Store) InTx(ctx context.Context, fn dbx.TxFunc) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snap := s.t.clone()
	s.mu.Unlock()

	if err := fn(ctx, txHandle{}); err != nil {
		s.mu.Lock()
		s.t = snap
		s.mu.Unlock()
		return err
	}
	return nil
}

// RunMigrations is a no-op; the tables exist from NewStore on.
func (s *Store) RunMigrations(context.Context, *sql.DB) error { return nil }

func (s *Store) Users(db dbx.DBTX) users.Repository { return &userRepo{s.bind(db)} }

func (s *Store) RefreshTokens(db dbx.DBTX) refreshtokens.Repository {
	return &tokenRepo{s.bind(db)}
}

func (s *Store) Properties(db dbx.DBTX) properties.Repository {
	return &propertyRepo{s.bind(db)}
}

func (s *Store) Contracts(db dbx.DBTX) contracts.Repository { return &contractRepo{s.bind(db)} }

func (s *Store) Payments(db dbx.DBTX) payments.Repository { return &paymentRepo{s.bind(db)} }

func (s *Store) WebhookEvents(db dbx.DBTX) webhookevents.Repository {
	return &eventRepo{s.bind(db)}
}

type base struct {
	s    *Store
	inTx bool
}

func (s *Store) bind(db dbx.DBTX) base {
	_, ok := db.(txHandle)
	return base{s: s, inTx: ok}
}

func (b base) read(fn func(t *tables) error) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	return fn(&b.s.t)
}

func (b base) write(fn func(t *tables) error) error {
	if !b.inTx {
		b.s.txMu.Lock()
		defer b.s.txMu.Unlock()
	}
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	return fn(&b.s.t)
}

func (b base) now() time.Time { return b.s.Now() }
