package ports

import (
	"context"
	"errors"

	"wallet-ledger/internal/core/domain"
)

// ErrIdentityConflict is returned by Save when the store rejects a write
// because an identity field is already taken. Field names the column, when known.
var ErrIdentityConflict = errors.New("identity already registered")

// IdentityConflictError carries the identity field a store-level unique check rejected.
type IdentityConflictError struct {
	Field string
	Value string
}

func (e *IdentityConflictError) Error() string {
	return "identity already registered: " + e.Field
}

func (e *IdentityConflictError) Unwrap() error {
	return ErrIdentityConflict
}

// WalletRepository is the wallet store gateway.
// Find methods return (nil, nil) when nothing matches. Lookups by an empty
// value never match and never reach the underlying store.
type WalletRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Wallet, error)
	FindByPhoneNumber(ctx context.Context, phoneNumber string) (*domain.Wallet, error)
	FindByDocumentNumber(ctx context.Context, documentNumber string) (*domain.Wallet, error)
	FindByIMEI(ctx context.Context, imei string) (*domain.Wallet, error)
	FindByEmail(ctx context.Context, email string) (*domain.Wallet, error)
	// Save upserts the wallet and returns the persisted copy, with ID assigned if new.
	Save(ctx context.Context, wallet *domain.Wallet) (*domain.Wallet, error)
}

// TransferStore is an optional unit-of-work capability: both wallets are
// written atomically or not at all.
type TransferStore interface {
	SaveTransfer(ctx context.Context, sender, recipient *domain.Wallet) error
}
