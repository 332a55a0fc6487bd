package ports

import (
	"context"

	"wallet-ledger/internal/core/domain"
)

// IdentityCache holds the disposable id -> documentNumber projection.
type IdentityCache interface {
	// Get returns the cached value and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// IdentityGuard serialises work on the same wallet identities.
// Acquire blocks until every key is held; release must be called exactly once.
type IdentityGuard interface {
	Acquire(ctx context.Context, keys ...string) (release func(), err error)
}

// LedgerService applies wallet events to the store.
type LedgerService interface {
	CreateWallet(ctx context.Context, event domain.WalletCreated) (*domain.Wallet, error)
	ApplyDeposit(ctx context.Context, event domain.DepositReceived) (*domain.Wallet, error)
	ApplyTransfer(ctx context.Context, event domain.PaymentRequested) (*domain.TransferOutcome, error)
	LookupDocumentNumber(ctx context.Context, walletID string) (string, error)
}

// DeadLetterPublisher receives events whose processing failed terminally.
type DeadLetterPublisher interface {
	Publish(ctx context.Context, eventType domain.EventType, payload []byte, cause error) error
}
