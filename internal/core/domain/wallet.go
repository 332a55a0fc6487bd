package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// UnlinkedDebitAccount marks a wallet that has no debit account associated yet.
const UnlinkedDebitAccount = "debit account not linked"

// Identity field names, as they appear on the wire and in duplicate-identity errors.
const (
	FieldDocumentNumber = "documentNumber"
	FieldPhoneNumber    = "phoneNumber"
	FieldIMEI           = "imei"
	FieldEmail          = "email"
)

// Wallet is the persisted ledger record for one account.
// It is identified redundantly by four candidate-unique identity fields.
type Wallet struct {
	ID                     string          `json:"id"`
	DocumentType           string          `json:"documentType"`
	DocumentNumber         string          `json:"documentNumber"`
	PhoneNumber            string          `json:"phoneNumber"`
	IMEI                   string          `json:"imei"`
	Email                  string          `json:"email"`
	Balance                decimal.Decimal `json:"balance"`
	AssociatedDebitAccount string          `json:"associatedDebitAccount"`
	CreatedAt              time.Time       `json:"createdAt"`
	UpdatedAt              time.Time       `json:"updatedAt"`
}

// NewWallet builds the wallet a WalletCreated event asks for.
// Financial fields of the event are ignored: the balance starts at zero and
// the debit account is unlinked.
func NewWallet(e WalletCreated) *Wallet {
	return &Wallet{
		DocumentType:           e.DocumentType,
		DocumentNumber:         e.DocumentNumber,
		PhoneNumber:            e.PhoneNumber,
		IMEI:                   e.IMEI,
		Email:                  e.Email,
		Balance:                decimal.Zero,
		AssociatedDebitAccount: UnlinkedDebitAccount,
	}
}

// IdentityField is one (name, value) pair of a wallet's uniqueness candidates.
type IdentityField struct {
	Name  string
	Value string
}

// IdentityFields returns the identity fields in duplicate-check order.
func (w *Wallet) IdentityFields() []IdentityField {
	return []IdentityField{
		{Name: FieldDocumentNumber, Value: w.DocumentNumber},
		{Name: FieldPhoneNumber, Value: w.PhoneNumber},
		{Name: FieldIMEI, Value: w.IMEI},
		{Name: FieldEmail, Value: w.Email},
	}
}

// HasSufficientFunds reports whether the wallet can cover amount.
func (w *Wallet) HasSufficientFunds(amount decimal.Decimal) bool {
	return w.Balance.GreaterThanOrEqual(amount)
}

// Credit adds amount to the balance.
func (w *Wallet) Credit(amount decimal.Decimal) {
	w.Balance = w.Balance.Add(amount)
}

// Debit subtracts amount from the balance. Callers check funds first.
func (w *Wallet) Debit(amount decimal.Decimal) {
	w.Balance = w.Balance.Sub(amount)
}

// Clone returns a copy safe to mutate independently.
func (w *Wallet) Clone() *Wallet {
	c := *w
	return &c
}

// IdentityCacheKey builds the cache key holding a wallet's document number.
func IdentityCacheKey(prefix, walletID string) string {
	return prefix + walletID
}
