package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"
	"wallet-ledger/pkg/retry"

	"github.com/rs/zerolog"
)

const (
	defaultCachePrefix       = "wallet:"
	defaultCacheWriteTimeout = 2 * time.Second
)

var _ ports.LedgerService = (*LedgerServiceImpl)(nil)

// LedgerServiceImpl implements ports.LedgerService.
type LedgerServiceImpl struct {
	walletRepo    ports.WalletRepository
	transferStore ports.TransferStore
	cache         ports.IdentityCache
	guard         ports.IdentityGuard
	retrier       retry.Retry
	cachePrefix   string
	cacheTimeout  time.Duration
	onCacheError  func(key string, err error)
	pending       sync.WaitGroup
	log           zerolog.Logger
}

// Option configures a LedgerServiceImpl.
type Option func(*LedgerServiceImpl)

// WithIdentityCache enables the cache-aside path of LookupDocumentNumber.
func WithIdentityCache(cache ports.IdentityCache) Option {
	return func(s *LedgerServiceImpl) {
		s.cache = cache
	}
}

// WithGuard sets the concurrency-control strategy. Defaults to NopGuard.
func WithGuard(guard ports.IdentityGuard) Option {
	return func(s *LedgerServiceImpl) {
		s.guard = guard
	}
}

// WithTransferStore makes transfers atomic. Without it, sender and recipient
// are saved one after the other and a failed second write is compensated.
func WithTransferStore(store ports.TransferStore) Option {
	return func(s *LedgerServiceImpl) {
		s.transferStore = store
	}
}

// WithRetry sets the retry policy of the recipient write and its compensation.
func WithRetry(r retry.Retry) Option {
	return func(s *LedgerServiceImpl) {
		s.retrier = r
	}
}

func WithCachePrefix(prefix string) Option {
	return func(s *LedgerServiceImpl) {
		s.cachePrefix = prefix
	}
}

func WithCacheWriteTimeout(d time.Duration) Option {
	return func(s *LedgerServiceImpl) {
		s.cacheTimeout = d
	}
}

// WithCacheErrorHandler receives failures of background cache writes.
// The default handler logs them at warn level.
func WithCacheErrorHandler(fn func(key string, err error)) Option {
	return func(s *LedgerServiceImpl) {
		s.onCacheError = fn
	}
}

// NewLedgerService creates a new LedgerServiceImpl.
func NewLedgerService(walletRepo ports.WalletRepository, log zerolog.Logger, opts ...Option) *LedgerServiceImpl {
	s := &LedgerServiceImpl{
		walletRepo:   walletRepo,
		cache:        noCache{},
		guard:        NopGuard{},
		retrier:      retry.New(retry.WithAttempts(3), retry.WithDelay(50*time.Millisecond)),
		cachePrefix:  defaultCachePrefix,
		cacheTimeout: defaultCacheWriteTimeout,
		log:          log,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.onCacheError == nil {
		s.onCacheError = func(key string, err error) {
			s.log.Warn().Err(err).Str("key", key).Msg("identity cache write failed")
		}
	}
	return s
}

// CreateWallet registers a wallet after checking that none of its non-empty
// identity fields is already in use. Balance starts at zero whatever the event says.
func (s *LedgerServiceImpl) CreateWallet(ctx context.Context, event domain.WalletCreated) (*domain.Wallet, error) {
	wallet := domain.NewWallet(event)

	release, err := s.guard.Acquire(ctx, wallet.IdentityKeys()...)
	if err != nil {
		return nil, apperror.ErrStoreUnavailable(fmt.Errorf("acquire identity guard: %w", err))
	}
	defer release()

	if err := s.checkDuplicates(ctx, wallet); err != nil {
		return nil, err
	}

	saved, err := s.walletRepo.Save(ctx, wallet)
	if err != nil {
		return nil, storeError("save wallet", err)
	}

	s.log.Info().
		Str("wallet_id", saved.ID).
		Str("phone_number", saved.PhoneNumber).
		Msg("Wallet created")

	return saved, nil
}

// checkDuplicates stops at the first identity field that already belongs to a wallet.
func (s *LedgerServiceImpl) checkDuplicates(ctx context.Context, w *domain.Wallet) error {
	finders := map[string]func(context.Context, string) (*domain.Wallet, error){
		domain.FieldDocumentNumber: s.walletRepo.FindByDocumentNumber,
		domain.FieldPhoneNumber:    s.walletRepo.FindByPhoneNumber,
		domain.FieldIMEI:           s.walletRepo.FindByIMEI,
		domain.FieldEmail:          s.walletRepo.FindByEmail,
	}

	for _, f := range w.IdentityFields() {
		if f.Value == "" {
			continue
		}
		existing, err := finders[f.Name](ctx, f.Value)
		if err != nil {
			return apperror.ErrStoreUnavailable(fmt.Errorf("find wallet by %s: %w", f.Name, err))
		}
		if existing != nil {
			return apperror.ErrDuplicateIdentity(f.Name, f.Value)
		}
	}
	return nil
}

// ApplyDeposit credits the wallet registered under the event's phone number.
func (s *LedgerServiceImpl) ApplyDeposit(ctx context.Context, event domain.DepositReceived) (*domain.Wallet, error) {
	release, err := s.guard.Acquire(ctx, domain.IdentityKey(domain.FieldPhoneNumber, event.PhoneNumber))
	if err != nil {
		return nil, apperror.ErrStoreUnavailable(fmt.Errorf("acquire identity guard: %w", err))
	}
	defer release()

	wallet, err := s.walletRepo.FindByPhoneNumber(ctx, event.PhoneNumber)
	if err != nil {
		return nil, apperror.ErrStoreUnavailable(fmt.Errorf("find wallet by phone: %w", err))
	}
	if wallet == nil {
		return nil, apperror.ErrWalletNotFound(domain.FieldPhoneNumber, event.PhoneNumber)
	}

	wallet.Credit(event.Amount)

	saved, err := s.walletRepo.Save(ctx, wallet)
	if err != nil {
		return nil, storeError("save wallet", err)
	}

	s.log.Info().
		Str("wallet_id", saved.ID).
		Str("amount", event.Amount.String()).
		Msg("Deposit applied")

	return saved, nil
}

// ApplyTransfer moves amount from sender to recipient. The returned outcome is
// never nil and always says which side effects happened.
func (s *LedgerServiceImpl) ApplyTransfer(ctx context.Context, event domain.PaymentRequested) (*domain.TransferOutcome, error) {
	outcome := &domain.TransferOutcome{Status: domain.TransferStatusRejected, Amount: event.Amount}

	if event.Amount.IsNegative() {
		return outcome, apperror.ErrInvalidAmount()
	}

	release, err := s.guard.Acquire(ctx,
		domain.IdentityKey(domain.FieldPhoneNumber, event.SenderPhoneNumber),
		domain.IdentityKey(domain.FieldPhoneNumber, event.RecipientPhoneNumber),
	)
	if err != nil {
		return outcome, apperror.ErrStoreUnavailable(fmt.Errorf("acquire identity guard: %w", err))
	}
	defer release()

	sender, err := s.walletRepo.FindByPhoneNumber(ctx, event.SenderPhoneNumber)
	if err != nil {
		return outcome, apperror.ErrStoreUnavailable(fmt.Errorf("find sender: %w", err))
	}
	if sender == nil {
		return outcome, apperror.ErrWalletNotFound("senderPhoneNumber", event.SenderPhoneNumber)
	}
	outcome.Sender = sender

	if !sender.HasSufficientFunds(event.Amount) {
		return outcome, apperror.ErrInsufficientFunds(event.SenderPhoneNumber)
	}

	recipient, err := s.walletRepo.FindByPhoneNumber(ctx, event.RecipientPhoneNumber)
	if err != nil {
		return outcome, apperror.ErrStoreUnavailable(fmt.Errorf("find recipient: %w", err))
	}
	if recipient == nil {
		return outcome, apperror.ErrWalletNotFound("recipientPhoneNumber", event.RecipientPhoneNumber)
	}
	outcome.Recipient = recipient

	// Moving money within one wallet leaves it unchanged.
	if sender.ID == recipient.ID {
		outcome.Status = domain.TransferStatusApplied
		return outcome, nil
	}

	debited := sender.Clone()
	debited.Debit(event.Amount)
	credited := recipient.Clone()
	credited.Credit(event.Amount)

	if s.transferStore != nil {
		if err := s.transferStore.SaveTransfer(ctx, debited, credited); err != nil {
			return outcome, storeError("save transfer", err)
		}
		outcome.Status = domain.TransferStatusApplied
		outcome.Sender, outcome.Recipient = debited, credited
		s.logTransfer(outcome)
		return outcome, nil
	}

	return s.saveSequentially(ctx, outcome, debited, credited)
}

// saveSequentially writes the sender, then the recipient with retries. If the
// recipient never lands, the sender is restored to its pre-transfer balance.
func (s *LedgerServiceImpl) saveSequentially(ctx context.Context, outcome *domain.TransferOutcome, debited, credited *domain.Wallet) (*domain.TransferOutcome, error) {
	savedSender, err := s.walletRepo.Save(ctx, debited)
	if err != nil {
		return outcome, storeError("save sender", err)
	}
	outcome.Sender = savedSender

	var savedRecipient *domain.Wallet
	recipientErr := s.retrier.Execute(ctx, func() error {
		w, err := s.walletRepo.Save(ctx, credited)
		if err != nil {
			return err
		}
		savedRecipient = w
		return nil
	})
	if recipientErr == nil {
		outcome.Status = domain.TransferStatusApplied
		outcome.Recipient = savedRecipient
		s.logTransfer(outcome)
		return outcome, nil
	}

	// The restored state is absolute, so a retried write cannot credit twice.
	restored := savedSender.Clone()
	restored.Credit(outcome.Amount)

	var compensated *domain.Wallet
	compErr := s.retrier.Execute(ctx, func() error {
		w, err := s.walletRepo.Save(ctx, restored)
		if err != nil {
			return err
		}
		compensated = w
		return nil
	})
	if compErr == nil {
		outcome.Status = domain.TransferStatusCompensated
		outcome.Sender = compensated
		s.log.Warn().Err(recipientErr).
			Str("sender_id", compensated.ID).
			Str("recipient_id", credited.ID).
			Str("amount", outcome.Amount.String()).
			Msg("Recipient write failed; sender debit compensated")
		return outcome, apperror.ErrTransferIncomplete(string(outcome.Status), recipientErr)
	}

	outcome.Status = domain.TransferStatusPartiallyApplied
	s.log.Error().
		AnErr("recipient_error", recipientErr).
		AnErr("compensation_error", compErr).
		Str("sender_id", savedSender.ID).
		Str("recipient_id", credited.ID).
		Str("amount", outcome.Amount.String()).
		Msg("Transfer partially applied: sender debited, recipient not credited")
	return outcome, apperror.ErrTransferIncomplete(string(outcome.Status), errors.Join(recipientErr, compErr))
}

func (s *LedgerServiceImpl) logTransfer(o *domain.TransferOutcome) {
	s.log.Info().
		Str("sender_id", o.Sender.ID).
		Str("recipient_id", o.Recipient.ID).
		Str("amount", o.Amount.String()).
		Msg("Transfer applied")
}

// LookupDocumentNumber returns the document number of the wallet with the given
// id, reading through the identity cache. A cache failure never fails the lookup.
func (s *LedgerServiceImpl) LookupDocumentNumber(ctx context.Context, walletID string) (string, error) {
	key := domain.IdentityCacheKey(s.cachePrefix, walletID)

	doc, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("identity cache read failed, falling through to store")
	} else if ok {
		return doc, nil
	}

	wallet, err := s.walletRepo.FindByID(ctx, walletID)
	if err != nil {
		return "", apperror.ErrStoreUnavailable(fmt.Errorf("find wallet by id: %w", err))
	}
	if wallet == nil {
		return "", apperror.ErrWalletNotFound("id", walletID)
	}

	s.populateCache(key, wallet.DocumentNumber)
	return wallet.DocumentNumber, nil
}

// populateCache writes in the background (fire-and-forget) on its own context.
func (s *LedgerServiceImpl) populateCache(key, value string) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.cacheTimeout)
		defer cancel()

		if err := s.cache.Set(ctx, key, value); err != nil {
			s.onCacheError(key, apperror.ErrCacheUnavailable(err))
		}
	}()
}

// Wait blocks until background cache writes have finished.
func (s *LedgerServiceImpl) Wait() {
	s.pending.Wait()
}

// storeError maps a failed write. Identity conflicts raised by the store
// surface as DuplicateIdentity, everything else as StoreUnavailable.
func storeError(op string, err error) error {
	var conflict *ports.IdentityConflictError
	if errors.As(err, &conflict) {
		return apperror.ErrDuplicateIdentity(conflict.Field, conflict.Value)
	}
	return apperror.ErrStoreUnavailable(fmt.Errorf("%s: %w", op, err))
}

// noCache always misses and drops writes.
type noCache struct{}

func (noCache) Get(context.Context, string) (string, bool, error) { return "", false, nil }
func (noCache) Set(context.Context, string, string) error         { return nil }
