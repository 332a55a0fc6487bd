package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestWallet(id string) *domain.Wallet {
	return &domain.Wallet{
		ID:                     id,
		DocumentType:           "DNI",
		DocumentNumber:         "12345678",
		PhoneNumber:            "987654321",
		IMEI:                   "35297306526358",
		Email:                  "luis@gmail.com",
		Balance:                decimal.RequireFromString("100.50"),
		AssociatedDebitAccount: domain.UnlinkedDebitAccount,
		CreatedAt:              fixedNow,
		UpdatedAt:              fixedNow,
	}
}

func walletColumns() []string {
	return []string{"id", "document_type", "document_number", "phone_number", "imei", "email",
		"balance", "associated_debit_account", "created_at", "updated_at"}
}

func walletRow(w *domain.Wallet) *pgxmock.Rows {
	return pgxmock.NewRows(walletColumns()).AddRow(
		w.ID, w.DocumentType, w.DocumentNumber, w.PhoneNumber, w.IMEI, w.Email,
		w.Balance.String(), w.AssociatedDebitAccount, w.CreatedAt, w.UpdatedAt,
	)
}

func newTestRepo(t *testing.T) (*WalletRepo, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	repo := NewWalletRepo(mock)
	repo.now = func() time.Time { return fixedNow }
	return repo, mock
}

func TestWalletRepo_FindBy(t *testing.T) {
	w := newTestWallet("w-1")

	tests := []struct {
		name   string
		column string
		value  string
		find   func(r *WalletRepo) (*domain.Wallet, error)
	}{
		{"id", "id", w.ID, func(r *WalletRepo) (*domain.Wallet, error) { return r.FindByID(context.Background(), w.ID) }},
		{"phone", "phone_number", w.PhoneNumber, func(r *WalletRepo) (*domain.Wallet, error) {
			return r.FindByPhoneNumber(context.Background(), w.PhoneNumber)
		}},
		{"document", "document_number", w.DocumentNumber, func(r *WalletRepo) (*domain.Wallet, error) {
			return r.FindByDocumentNumber(context.Background(), w.DocumentNumber)
		}},
		{"imei", "imei", w.IMEI, func(r *WalletRepo) (*domain.Wallet, error) { return r.FindByIMEI(context.Background(), w.IMEI) }},
		{"email", "email", w.Email, func(r *WalletRepo) (*domain.Wallet, error) { return r.FindByEmail(context.Background(), w.Email) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newTestRepo(t)

			mock.ExpectQuery("SELECT .+ FROM wallets WHERE " + tt.column + " = \\$1").
				WithArgs(tt.value).
				WillReturnRows(walletRow(w))

			got, err := tt.find(repo)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, w.ID, got.ID)
			assert.True(t, w.Balance.Equal(got.Balance))
			assert.Equal(t, w.Email, got.Email)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestWalletRepo_FindByPhoneNumber_NotFound(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectQuery("SELECT .+ FROM wallets WHERE phone_number").
		WithArgs("000").
		WillReturnRows(pgxmock.NewRows(walletColumns()))

	got, err := repo.FindByPhoneNumber(context.Background(), "000")
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_FindBy_EmptyValueNeverQueries(t *testing.T) {
	repo, mock := newTestRepo(t)

	got, err := repo.FindByEmail(context.Background(), "")
	assert.NoError(t, err)
	assert.Nil(t, got)

	got, err = repo.FindByIMEI(context.Background(), "")
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_FindBy_DriverError(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectQuery("SELECT .+ FROM wallets WHERE id").
		WithArgs("w-1").
		WillReturnError(errors.New("connection reset"))

	got, err := repo.FindByID(context.Background(), "w-1")
	assert.Nil(t, got)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "find wallet by id")
}

func TestWalletRepo_Save_AssignsID(t *testing.T) {
	repo, mock := newTestRepo(t)
	w := newTestWallet("")
	w.CreatedAt = time.Time{}

	persisted := newTestWallet("generated")
	mock.ExpectQuery("INSERT INTO wallets .+ ON CONFLICT \\(id\\) DO UPDATE").
		WithArgs(pgxmock.AnyArg(), w.DocumentType, w.DocumentNumber, w.PhoneNumber, w.IMEI, w.Email,
			"100.5", w.AssociatedDebitAccount, fixedNow, fixedNow).
		WillReturnRows(walletRow(persisted))

	saved, err := repo.Save(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, "generated", saved.ID)
	assert.Empty(t, w.ID, "input wallet must not be mutated")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_Save_UpdateKeepsID(t *testing.T) {
	repo, mock := newTestRepo(t)
	w := newTestWallet("w-1")
	w.Balance = decimal.RequireFromString("0.30")

	mock.ExpectQuery("INSERT INTO wallets").
		WithArgs("w-1", w.DocumentType, w.DocumentNumber, w.PhoneNumber, w.IMEI, w.Email,
			"0.3", w.AssociatedDebitAccount, fixedNow, fixedNow).
		WillReturnRows(walletRow(w))

	saved, err := repo.Save(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, "w-1", saved.ID)
	assert.True(t, decimal.RequireFromString("0.3").Equal(saved.Balance))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_Save_UniqueViolation(t *testing.T) {
	tests := []struct {
		constraint string
		field      string
		value      string
	}{
		{"wallets_document_number_key", domain.FieldDocumentNumber, "12345678"},
		{"wallets_phone_number_key", domain.FieldPhoneNumber, "987654321"},
		{"wallets_imei_key", domain.FieldIMEI, "35297306526358"},
		{"wallets_email_key", domain.FieldEmail, "luis@gmail.com"},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			repo, mock := newTestRepo(t)

			mock.ExpectQuery("INSERT INTO wallets").
				WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
					pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
				WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: tt.constraint})

			_, err := repo.Save(context.Background(), newTestWallet(""))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ports.ErrIdentityConflict))

			var conflict *ports.IdentityConflictError
			require.True(t, errors.As(err, &conflict))
			assert.Equal(t, tt.field, conflict.Field)
			assert.Equal(t, tt.value, conflict.Value)
		})
	}
}

func TestWalletRepo_Save_OtherPgError(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectQuery("INSERT INTO wallets").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "wallets_pkey"})

	_, err := repo.Save(context.Background(), newTestWallet("w-1"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ports.ErrIdentityConflict))
	assert.Contains(t, err.Error(), "save wallet")
}

func TestWalletRepo_SaveTransfer_Commits(t *testing.T) {
	repo, mock := newTestRepo(t)
	sender := newTestWallet("b-sender")
	recipient := newTestWallet("a-recipient")
	recipient.PhoneNumber = "123456789"

	mock.ExpectBegin()
	// Lower ID first.
	mock.ExpectQuery("INSERT INTO wallets").
		WithArgs("a-recipient", pgxmock.AnyArg(), pgxmock.AnyArg(), "123456789", pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(walletRow(recipient))
	mock.ExpectQuery("INSERT INTO wallets").
		WithArgs("b-sender", pgxmock.AnyArg(), pgxmock.AnyArg(), "987654321", pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(walletRow(sender))
	mock.ExpectCommit()

	err := repo.SaveTransfer(context.Background(), sender, recipient)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_SaveTransfer_RollsBackOnFailure(t *testing.T) {
	repo, mock := newTestRepo(t)
	sender := newTestWallet("a-sender")
	recipient := newTestWallet("b-recipient")

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO wallets").
		WithArgs("a-sender", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(walletRow(sender))
	mock.ExpectQuery("INSERT INTO wallets").
		WithArgs("b-recipient", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("serialization failure"))
	mock.ExpectRollback()

	err := repo.SaveTransfer(context.Background(), sender, recipient)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serialization failure")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_SaveTransfer_BeginFails(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	err := repo.SaveTransfer(context.Background(), newTestWallet("a"), newTestWallet("b"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin tx")
}
