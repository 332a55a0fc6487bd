package domain

import "github.com/shopspring/decimal"

// TransferStatus reports how far a payment got.
type TransferStatus string

const (
	TransferStatusApplied  TransferStatus = "APPLIED"
	TransferStatusRejected TransferStatus = "REJECTED"
	// TransferStatusCompensated means the sender was debited, the recipient
	// write failed and the debit was reverted. No net mutation.
	TransferStatusCompensated TransferStatus = "COMPENSATED"
	// TransferStatusPartiallyApplied means the sender was debited and neither
	// the recipient credit nor the compensation could be persisted.
	TransferStatusPartiallyApplied TransferStatus = "PARTIALLY_APPLIED"
)

// TransferOutcome is the result of applying a PaymentRequested event.
// Sender and Recipient hold the last known state of each wallet, and are nil
// when the wallet could not be found.
type TransferOutcome struct {
	Status    TransferStatus
	Sender    *Wallet
	Recipient *Wallet
	Amount    decimal.Decimal
}

// IsTerminalFailure returns true when money may have left the sender without
// reaching the recipient.
func (o *TransferOutcome) IsTerminalFailure() bool {
	return o.Status == TransferStatusPartiallyApplied
}

// Mutated reports whether any balance changed as a net effect of the transfer.
func (o *TransferOutcome) Mutated() bool {
	return o.Status == TransferStatusApplied || o.Status == TransferStatusPartiallyApplied
}
