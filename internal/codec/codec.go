// Package codec turns raw stream payloads into typed domain events.
// All functions are pure: no I/O, no shared state.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/pkg/apperror"
	"wallet-ledger/pkg/validator"

	"github.com/shopspring/decimal"
)

var (
	errEmptyPayload = errors.New("empty payload")
	errNotAnID      = errors.New("not a wallet id")
)

type depositPayload struct {
	PhoneNumber string           `json:"phoneNumber" validate:"required"`
	Amount      *decimal.Decimal `json:"amount" validate:"required"`
}

type paymentPayload struct {
	SenderPhoneNumber    string           `json:"senderPhoneNumber" validate:"required"`
	RecipientPhoneNumber string           `json:"recipientPhoneNumber" validate:"required"`
	Amount               *decimal.Decimal `json:"amount" validate:"required"`
}

type lookupPayload struct {
	ID string `json:"id" validate:"required"`
}

// Decode dispatches on the event type. Unknown types yield DEC_002.
func Decode(eventType domain.EventType, raw []byte) (domain.Event, error) {
	switch eventType {
	case domain.EventWalletCreated:
		return DecodeWalletCreated(raw)
	case domain.EventDepositReceived:
		return DecodeDepositReceived(raw)
	case domain.EventPaymentRequested:
		return DecodePaymentRequested(raw)
	case domain.EventIdentityLookupRequested:
		return DecodeIdentityLookupRequested(raw)
	default:
		return nil, apperror.ErrUnknownEvent(string(eventType))
	}
}

// DecodeWalletCreated parses a wallet creation payload. Identity fields may be
// empty; balance and debit account are parsed but later ignored.
func DecodeWalletCreated(raw []byte) (domain.WalletCreated, error) {
	var e domain.WalletCreated
	if err := unmarshal(raw, &e); err != nil {
		return domain.WalletCreated{}, apperror.ErrDecode(string(domain.EventWalletCreated), err)
	}
	return e, nil
}

// DecodeDepositReceived parses a deposit payload. The amount sign is not checked.
func DecodeDepositReceived(raw []byte) (domain.DepositReceived, error) {
	var p depositPayload
	if err := decodeValid(raw, &p); err != nil {
		return domain.DepositReceived{}, apperror.ErrDecode(string(domain.EventDepositReceived), err)
	}
	return domain.DepositReceived{PhoneNumber: p.PhoneNumber, Amount: *p.Amount}, nil
}

// DecodePaymentRequested parses a payment payload.
func DecodePaymentRequested(raw []byte) (domain.PaymentRequested, error) {
	var p paymentPayload
	if err := decodeValid(raw, &p); err != nil {
		return domain.PaymentRequested{}, apperror.ErrDecode(string(domain.EventPaymentRequested), err)
	}
	return domain.PaymentRequested{
		SenderPhoneNumber:    p.SenderPhoneNumber,
		RecipientPhoneNumber: p.RecipientPhoneNumber,
		Amount:               *p.Amount,
	}, nil
}

// DecodeIdentityLookupRequested accepts {"id": "..."}, a JSON string or the
// bare id. JSON arrays and the literals null, true and false are rejected.
func DecodeIdentityLookupRequested(raw []byte) (domain.IdentityLookupRequested, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] != '{' && trimmed[0] != '"' {
		if trimmed[0] == '[' || isJSONLiteral(trimmed) {
			return domain.IdentityLookupRequested{}, apperror.ErrDecode(string(domain.EventIdentityLookupRequested), fmt.Errorf("%w: %s", errNotAnID, trimmed))
		}
		return domain.IdentityLookupRequested{ID: string(trimmed)}, nil
	}

	if len(trimmed) > 0 && trimmed[0] == '"' {
		var id string
		if err := json.Unmarshal(trimmed, &id); err != nil || id == "" {
			return domain.IdentityLookupRequested{}, apperror.ErrDecode(string(domain.EventIdentityLookupRequested), fmt.Errorf("invalid id literal: %w", errOrEmpty(err)))
		}
		return domain.IdentityLookupRequested{ID: id}, nil
	}

	var p lookupPayload
	if err := decodeValid(raw, &p); err != nil {
		return domain.IdentityLookupRequested{}, apperror.ErrDecode(string(domain.EventIdentityLookupRequested), err)
	}
	return domain.IdentityLookupRequested{ID: p.ID}, nil
}

func decodeValid(raw []byte, v any) error {
	if err := unmarshal(raw, v); err != nil {
		return err
	}
	return validator.Struct(v)
}

func unmarshal(raw []byte, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return errEmptyPayload
	}
	return json.Unmarshal(raw, v)
}

func isJSONLiteral(b []byte) bool {
	switch string(b) {
	case "null", "true", "false":
		return true
	}
	return false
}

func errOrEmpty(err error) error {
	if err != nil {
		return err
	}
	return errEmptyPayload
}
