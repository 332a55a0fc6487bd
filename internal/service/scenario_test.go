package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"wallet-ledger/internal/adapter/storage/memory"
	redisstore "wallet-ledger/internal/adapter/storage/redis"
	"wallet-ledger/internal/core/domain"
	"wallet-ledger/pkg/apperror"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingRepo counts store reads by id.
type countingRepo struct {
	*memory.WalletRepo
	findByID int32
}

func (r *countingRepo) FindByID(ctx context.Context, id string) (*domain.Wallet, error) {
	atomic.AddInt32(&r.findByID, 1)
	return r.WalletRepo.FindByID(ctx, id)
}

type scenario struct {
	svc   *LedgerServiceImpl
	repo  *countingRepo
	redis *miniredis.Miniredis
}

func newScenario(t *testing.T, opts ...Option) *scenario {
	t.Helper()
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := &countingRepo{WalletRepo: memory.NewWalletRepo()}
	opts = append([]Option{
		WithIdentityCache(redisstore.NewIdentityCache(client, 0)),
		WithRetry(fastRetry()),
	}, opts...)

	return &scenario{
		svc:   NewLedgerService(repo, zerolog.Nop(), opts...),
		repo:  repo,
		redis: s,
	}
}

func (sc *scenario) balance(t *testing.T, phone string) string {
	t.Helper()
	w, err := sc.repo.FindByPhoneNumber(context.Background(), phone)
	require.NoError(t, err)
	require.NotNil(t, w)
	return w.Balance.String()
}

func TestScenario_CreateDepositTransfer(t *testing.T) {
	sc := newScenario(t)
	ctx := context.Background()

	created, err := sc.svc.CreateWallet(ctx, domain.WalletCreated{
		DocumentNumber: "12345678", PhoneNumber: "987654321", IMEI: "IMEI1", Email: "a@x.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "0", created.Balance.String())

	_, err = sc.svc.CreateWallet(ctx, domain.WalletCreated{
		DocumentNumber: "87654321", PhoneNumber: "123456789", IMEI: "IMEI2", Email: "b@x.com",
	})
	require.NoError(t, err)
	_, err = sc.svc.ApplyDeposit(ctx, domain.DepositReceived{PhoneNumber: "123456789", Amount: dec("300.0")})
	require.NoError(t, err)

	deposited, err := sc.svc.ApplyDeposit(ctx, domain.DepositReceived{PhoneNumber: "987654321", Amount: dec("100.0")})
	require.NoError(t, err)
	assert.Equal(t, "100", deposited.Balance.String())

	out, err := sc.svc.ApplyTransfer(ctx, domain.PaymentRequested{
		SenderPhoneNumber: "987654321", RecipientPhoneNumber: "123456789", Amount: dec("40.0"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusApplied, out.Status)

	assert.Equal(t, "60", sc.balance(t, "987654321"))
	assert.Equal(t, "340", sc.balance(t, "123456789"))
}

func TestScenario_DuplicateDocumentRejected(t *testing.T) {
	sc := newScenario(t)
	ctx := context.Background()

	_, err := sc.svc.CreateWallet(ctx, domain.WalletCreated{DocumentNumber: "D1", PhoneNumber: "1", IMEI: "I1", Email: "a@x.com"})
	require.NoError(t, err)

	_, err = sc.svc.CreateWallet(ctx, domain.WalletCreated{DocumentNumber: "D1", PhoneNumber: "2", IMEI: "I2", Email: "b@x.com"})
	assertAppError(t, err, apperror.CodeDuplicateIdentity)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, domain.FieldDocumentNumber, appErr.Field)

	assert.Equal(t, 1, sc.repo.Count())
}

func TestScenario_EmptyIdentitiesDoNotCollide(t *testing.T) {
	sc := newScenario(t)
	ctx := context.Background()

	_, err := sc.svc.CreateWallet(ctx, domain.WalletCreated{DocumentNumber: "D1", PhoneNumber: "1"})
	require.NoError(t, err)
	_, err = sc.svc.CreateWallet(ctx, domain.WalletCreated{DocumentNumber: "D2", PhoneNumber: "2"})
	require.NoError(t, err, "two wallets without imei or email are distinct")

	assert.Equal(t, 2, sc.repo.Count())
}

func TestScenario_InsufficientFundsLeavesBalances(t *testing.T) {
	sc := newScenario(t)
	ctx := context.Background()

	_, _ = sc.svc.CreateWallet(ctx, domain.WalletCreated{DocumentNumber: "D1", PhoneNumber: "1"})
	_, _ = sc.svc.CreateWallet(ctx, domain.WalletCreated{DocumentNumber: "D2", PhoneNumber: "2"})
	_, err := sc.svc.ApplyDeposit(ctx, domain.DepositReceived{PhoneNumber: "1", Amount: dec("10")})
	require.NoError(t, err)

	_, err = sc.svc.ApplyTransfer(ctx, domain.PaymentRequested{SenderPhoneNumber: "1", RecipientPhoneNumber: "2", Amount: dec("10.01")})
	assertAppError(t, err, apperror.CodeInsufficientFunds)

	assert.Equal(t, "10", sc.balance(t, "1"))
	assert.Equal(t, "0", sc.balance(t, "2"))
}

func TestScenario_DepositUnknownPhoneNoWrite(t *testing.T) {
	sc := newScenario(t)

	_, err := sc.svc.ApplyDeposit(context.Background(), domain.DepositReceived{PhoneNumber: "404", Amount: dec("5")})
	assertAppError(t, err, apperror.CodeWalletNotFound)
	assert.Zero(t, sc.repo.Count())
}

func TestScenario_CacheAside(t *testing.T) {
	sc := newScenario(t)
	ctx := context.Background()

	w, err := sc.svc.CreateWallet(ctx, domain.WalletCreated{DocumentNumber: "12345678", PhoneNumber: "1"})
	require.NoError(t, err)

	doc, err := sc.svc.LookupDocumentNumber(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "12345678", doc)
	sc.svc.Wait()

	cached, err := sc.redis.Get("wallet:" + w.ID)
	require.NoError(t, err)
	assert.Equal(t, "12345678", cached)

	doc, err = sc.svc.LookupDocumentNumber(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "12345678", doc)
	assert.Equal(t, int32(1), atomic.LoadInt32(&sc.repo.findByID), "second lookup must be served from cache")
}

func TestScenario_CacheOutageFallsBackToStore(t *testing.T) {
	sc := newScenario(t)
	ctx := context.Background()

	w, err := sc.svc.CreateWallet(ctx, domain.WalletCreated{DocumentNumber: "D1", PhoneNumber: "1"})
	require.NoError(t, err)

	sc.redis.SetError("LOADING Redis is loading the dataset in memory")

	doc, err := sc.svc.LookupDocumentNumber(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "D1", doc)
	sc.svc.Wait()
}

func TestScenario_AtomicTransferStore(t *testing.T) {
	repo := memory.NewWalletRepo()
	svc := NewLedgerService(repo, zerolog.Nop(), WithTransferStore(repo))
	ctx := context.Background()

	_, _ = svc.CreateWallet(ctx, domain.WalletCreated{DocumentNumber: "D1", PhoneNumber: "1"})
	_, _ = svc.CreateWallet(ctx, domain.WalletCreated{DocumentNumber: "D2", PhoneNumber: "2"})
	_, _ = svc.ApplyDeposit(ctx, domain.DepositReceived{PhoneNumber: "1", Amount: dec("0.3")})

	out, err := svc.ApplyTransfer(ctx, domain.PaymentRequested{SenderPhoneNumber: "1", RecipientPhoneNumber: "2", Amount: dec("0.1")})
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusApplied, out.Status)

	s, _ := repo.FindByPhoneNumber(ctx, "1")
	r, _ := repo.FindByPhoneNumber(ctx, "2")
	assert.Equal(t, "0.2", s.Balance.String())
	assert.Equal(t, "0.1", r.Balance.String())
}

func TestScenario_ConcurrentTransfersWithLocalGuard(t *testing.T) {
	sc := newScenario(t, WithGuard(NewLocalGuard()))
	ctx := context.Background()

	_, _ = sc.svc.CreateWallet(ctx, domain.WalletCreated{DocumentNumber: "D1", PhoneNumber: "1"})
	_, _ = sc.svc.CreateWallet(ctx, domain.WalletCreated{DocumentNumber: "D2", PhoneNumber: "2"})
	_, err := sc.svc.ApplyDeposit(ctx, domain.DepositReceived{PhoneNumber: "1", Amount: dec("100")})
	require.NoError(t, err)

	var applied int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := sc.svc.ApplyTransfer(ctx, domain.PaymentRequested{SenderPhoneNumber: "1", RecipientPhoneNumber: "2", Amount: dec("20")})
			if err == nil && out.Status == domain.TransferStatusApplied {
				atomic.AddInt32(&applied, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), applied)
	assert.Equal(t, "0", sc.balance(t, "1"))
	assert.Equal(t, "100", sc.balance(t, "2"))
}
