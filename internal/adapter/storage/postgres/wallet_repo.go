package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

const pgUniqueViolation = "23505"

const walletSelect = `SELECT id, document_type, document_number, phone_number, imei, email,
		balance::text, associated_debit_account, created_at, updated_at
		FROM wallets`

const walletUpsert = `INSERT INTO wallets (id, document_type, document_number, phone_number, imei, email,
		balance, associated_debit_account, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			document_type = EXCLUDED.document_type,
			document_number = EXCLUDED.document_number,
			phone_number = EXCLUDED.phone_number,
			imei = EXCLUDED.imei,
			email = EXCLUDED.email,
			balance = EXCLUDED.balance,
			associated_debit_account = EXCLUDED.associated_debit_account,
			updated_at = EXCLUDED.updated_at
		RETURNING id, document_type, document_number, phone_number, imei, email,
			balance::text, associated_debit_account, created_at, updated_at`

// Unique index name -> identity field, see migrations/001_wallets.sql.
var uniqueIndexFields = map[string]string{
	"wallets_document_number_key": domain.FieldDocumentNumber,
	"wallets_phone_number_key":    domain.FieldPhoneNumber,
	"wallets_imei_key":            domain.FieldIMEI,
	"wallets_email_key":           domain.FieldEmail,
}

// querier is satisfied by both Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// WalletRepo implements ports.WalletRepository and ports.TransferStore.
type WalletRepo struct {
	pool       Pool
	transactor *Transactor
	now        func() time.Time
}

// NewWalletRepo creates a new WalletRepo.
func NewWalletRepo(pool Pool) *WalletRepo {
	return &WalletRepo{
		pool:       pool,
		transactor: NewTransactor(pool),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *WalletRepo) FindByID(ctx context.Context, id string) (*domain.Wallet, error) {
	return r.findBy(ctx, "id", id)
}

func (r *WalletRepo) FindByPhoneNumber(ctx context.Context, phoneNumber string) (*domain.Wallet, error) {
	return r.findBy(ctx, "phone_number", phoneNumber)
}

func (r *WalletRepo) FindByDocumentNumber(ctx context.Context, documentNumber string) (*domain.Wallet, error) {
	return r.findBy(ctx, "document_number", documentNumber)
}

func (r *WalletRepo) FindByIMEI(ctx context.Context, imei string) (*domain.Wallet, error) {
	return r.findBy(ctx, "imei", imei)
}

func (r *WalletRepo) FindByEmail(ctx context.Context, email string) (*domain.Wallet, error) {
	return r.findBy(ctx, "email", email)
}

// findBy matches only non-empty exact values. column is always one of the
// fixed names above, never caller input.
func (r *WalletRepo) findBy(ctx context.Context, column, value string) (*domain.Wallet, error) {
	if value == "" {
		return nil, nil
	}

	w, err := scanWallet(r.pool.QueryRow(ctx, walletSelect+" WHERE "+column+" = $1", value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find wallet by %s: %w", column, err)
	}
	return w, nil
}

// Save upserts the wallet, assigning an ID on first write.
func (r *WalletRepo) Save(ctx context.Context, w *domain.Wallet) (*domain.Wallet, error) {
	return r.save(ctx, r.pool, w)
}

// SaveTransfer persists both sides of a transfer in one transaction. Rows are
// written in ID order so opposing transfers cannot deadlock.
func (r *WalletRepo) SaveTransfer(ctx context.Context, sender, recipient *domain.Wallet) error {
	first, second := sender, recipient
	if second.ID < first.ID {
		first, second = second, first
	}

	return r.transactor.WithinTx(ctx, func(tx pgx.Tx) error {
		if _, err := r.save(ctx, tx, first); err != nil {
			return err
		}
		if _, err := r.save(ctx, tx, second); err != nil {
			return err
		}
		return nil
	})
}

func (r *WalletRepo) save(ctx context.Context, q querier, w *domain.Wallet) (*domain.Wallet, error) {
	row := w.Clone()
	now := r.now()
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now

	saved, err := scanWallet(q.QueryRow(ctx, walletUpsert,
		row.ID, row.DocumentType, row.DocumentNumber, row.PhoneNumber, row.IMEI, row.Email,
		row.Balance.String(), row.AssociatedDebitAccount, row.CreatedAt, row.UpdatedAt,
	))
	if err != nil {
		if conflict := identityConflict(err, row); conflict != nil {
			return nil, conflict
		}
		return nil, fmt.Errorf("save wallet: %w", err)
	}
	return saved, nil
}

// identityConflict maps a unique-index violation to the identity field it guards.
func identityConflict(err error, w *domain.Wallet) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return nil
	}
	field, ok := uniqueIndexFields[pgErr.ConstraintName]
	if !ok {
		return nil
	}
	for _, f := range w.IdentityFields() {
		if f.Name == field {
			return &ports.IdentityConflictError{Field: field, Value: f.Value}
		}
	}
	return nil
}

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	w := &domain.Wallet{}
	var balance string
	if err := row.Scan(
		&w.ID, &w.DocumentType, &w.DocumentNumber, &w.PhoneNumber, &w.IMEI, &w.Email,
		&balance, &w.AssociatedDebitAccount, &w.CreatedAt, &w.UpdatedAt,
	); err != nil {
		return nil, err
	}

	b, err := decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("parse balance %q: %w", balance, err)
	}
	w.Balance = b
	return w, nil
}
