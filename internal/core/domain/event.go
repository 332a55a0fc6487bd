package domain

import "github.com/shopspring/decimal"

// EventType names a logical inbound event stream.
type EventType string

const (
	EventWalletCreated           EventType = "WALLET_CREATED"
	EventDepositReceived         EventType = "DEPOSIT_RECEIVED"
	EventPaymentRequested        EventType = "PAYMENT_REQUESTED"
	EventIdentityLookupRequested EventType = "IDENTITY_LOOKUP_REQUESTED"
)

// Event is any decoded inbound event.
type Event interface {
	Type() EventType
}

// WalletCreated asks for a new wallet. Balance and AssociatedDebitAccount are
// carried for completeness but never applied.
type WalletCreated struct {
	DocumentType           string           `json:"documentType"`
	DocumentNumber         string           `json:"documentNumber"`
	PhoneNumber            string           `json:"phoneNumber"`
	IMEI                   string           `json:"imei"`
	Email                  string           `json:"email"`
	Balance                *decimal.Decimal `json:"balance,omitempty"`
	AssociatedDebitAccount string           `json:"associatedDebitAccount,omitempty"`
}

func (WalletCreated) Type() EventType { return EventWalletCreated }

// DepositReceived credits the wallet owning PhoneNumber.
type DepositReceived struct {
	PhoneNumber string          `json:"phoneNumber"`
	Amount      decimal.Decimal `json:"amount"`
}

func (DepositReceived) Type() EventType { return EventDepositReceived }

// PaymentRequested moves Amount between two wallets selected by phone number.
type PaymentRequested struct {
	SenderPhoneNumber    string          `json:"senderPhoneNumber"`
	RecipientPhoneNumber string          `json:"recipientPhoneNumber"`
	Amount               decimal.Decimal `json:"amount"`
}

func (PaymentRequested) Type() EventType { return EventPaymentRequested }

// IdentityLookupRequested resolves a wallet id to its document number.
type IdentityLookupRequested struct {
	ID string `json:"id"`
}

func (IdentityLookupRequested) Type() EventType { return EventIdentityLookupRequested }
