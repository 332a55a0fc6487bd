// Package memory is an in-process wallet store for local runs and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"

	"github.com/google/uuid"
)

// WalletRepo implements ports.WalletRepository and ports.TransferStore in memory.
// Returned wallets are copies; callers never alias stored state.
type WalletRepo struct {
	mu      sync.RWMutex
	wallets map[string]*domain.Wallet
	order   []string
	unique  bool
	now     func() time.Time
}

// Option configures a WalletRepo.
type Option func(*WalletRepo)

// WithUniqueIdentities toggles store-level uniqueness of non-empty identity
// values, the in-memory counterpart of the Postgres partial unique indexes.
// Enabled by default.
func WithUniqueIdentities(enabled bool) Option {
	return func(r *WalletRepo) {
		r.unique = enabled
	}
}

func NewWalletRepo(opts ...Option) *WalletRepo {
	r := &WalletRepo{
		wallets: make(map[string]*domain.Wallet),
		unique:  true,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *WalletRepo) FindByID(_ context.Context, id string) (*domain.Wallet, error) {
	if id == "" {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if w, ok := r.wallets[id]; ok {
		return w.Clone(), nil
	}
	return nil, nil
}

func (r *WalletRepo) FindByPhoneNumber(_ context.Context, phoneNumber string) (*domain.Wallet, error) {
	return r.findBy(domain.FieldPhoneNumber, phoneNumber), nil
}

func (r *WalletRepo) FindByDocumentNumber(_ context.Context, documentNumber string) (*domain.Wallet, error) {
	return r.findBy(domain.FieldDocumentNumber, documentNumber), nil
}

func (r *WalletRepo) FindByIMEI(_ context.Context, imei string) (*domain.Wallet, error) {
	return r.findBy(domain.FieldIMEI, imei), nil
}

func (r *WalletRepo) FindByEmail(_ context.Context, email string) (*domain.Wallet, error) {
	return r.findBy(domain.FieldEmail, email), nil
}

// findBy returns the first wallet, in insertion order, whose field equals value.
func (r *WalletRepo) findBy(field, value string) *domain.Wallet {
	if value == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if w := r.match("", field, value); w != nil {
		return w.Clone()
	}
	return nil
}

// match ignores the wallet with id skipID. Caller holds the lock.
func (r *WalletRepo) match(skipID, field, value string) *domain.Wallet {
	for _, id := range r.order {
		if id == skipID {
			continue
		}
		w := r.wallets[id]
		for _, f := range w.IdentityFields() {
			if f.Name == field && f.Value == value {
				return w
			}
		}
	}
	return nil
}

func (r *WalletRepo) Save(_ context.Context, w *domain.Wallet) (*domain.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row := r.prepare(w)
	if err := r.checkUnique(row); err != nil {
		return nil, err
	}
	r.put(row)
	return row.Clone(), nil
}

// SaveTransfer writes both wallets or neither.
func (r *WalletRepo) SaveTransfer(_ context.Context, sender, recipient *domain.Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, rc := r.prepare(sender), r.prepare(recipient)
	if err := r.checkUnique(s); err != nil {
		return err
	}
	if err := r.checkUnique(rc); err != nil {
		return err
	}
	r.put(s)
	r.put(rc)
	return nil
}

// Count returns the number of stored wallets.
func (r *WalletRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.wallets)
}

func (r *WalletRepo) prepare(w *domain.Wallet) *domain.Wallet {
	row := w.Clone()
	now := r.now()
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if existing, ok := r.wallets[row.ID]; ok {
		row.CreatedAt = existing.CreatedAt
	} else if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	return row
}

func (r *WalletRepo) checkUnique(w *domain.Wallet) error {
	if !r.unique {
		return nil
	}
	for _, f := range w.IdentityFields() {
		if f.Value == "" {
			continue
		}
		if r.match(w.ID, f.Name, f.Value) != nil {
			return &ports.IdentityConflictError{Field: f.Name, Value: f.Value}
		}
	}
	return nil
}

func (r *WalletRepo) put(w *domain.Wallet) {
	if _, ok := r.wallets[w.ID]; !ok {
		r.order = append(r.order, w.ID)
	}
	r.wallets[w.ID] = w
}
