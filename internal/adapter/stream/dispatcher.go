// Package stream feeds wallet events from Redis Streams into the ledger service.
package stream

import (
	"context"
	"errors"
	"fmt"

	"wallet-ledger/internal/codec"
	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"

	"github.com/rs/zerolog"
)

// Handler processes one delivered message. Returning an error does not cause
// redelivery: the consumer acknowledges every message.
type Handler interface {
	Handle(ctx context.Context, eventType domain.EventType, messageID string, payload []byte) error
}

var _ Handler = (*Dispatcher)(nil)

// Dispatcher decodes a payload and runs the matching ledger protocol.
type Dispatcher struct {
	svc        ports.LedgerService
	deadLetter ports.DeadLetterPublisher
	log        zerolog.Logger
}

// NewDispatcher creates a Dispatcher. deadLetter may be nil.
func NewDispatcher(svc ports.LedgerService, deadLetter ports.DeadLetterPublisher, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{svc: svc, deadLetter: deadLetter, log: log}
}

// Handle never panics; a panicking protocol is reported as an error.
func (d *Dispatcher) Handle(ctx context.Context, eventType domain.EventType, messageID string, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic handling %s: %v", eventType, r)
			d.log.Error().
				Str("event_type", string(eventType)).
				Str("message_id", messageID).
				Interface("panic", r).
				Msg("Recovered from panic in event handler")
			d.publishDeadLetter(ctx, eventType, messageID, payload, err)
		}
	}()

	event, err := codec.Decode(eventType, payload)
	if err != nil {
		d.drop(ctx, eventType, messageID, "", payload, err)
		return err
	}

	key, err := d.apply(ctx, event, messageID)
	if err != nil {
		d.drop(ctx, eventType, messageID, key, payload, err)
		return err
	}
	return nil
}

// apply returns the identity value the event is keyed on, for logging.
func (d *Dispatcher) apply(ctx context.Context, event domain.Event, messageID string) (string, error) {
	switch e := event.(type) {
	case domain.WalletCreated:
		_, err := d.svc.CreateWallet(ctx, e)
		return e.DocumentNumber, err

	case domain.DepositReceived:
		_, err := d.svc.ApplyDeposit(ctx, e)
		return e.PhoneNumber, err

	case domain.PaymentRequested:
		outcome, err := d.svc.ApplyTransfer(ctx, e)
		if err != nil && outcome != nil {
			d.log.Debug().
				Str("message_id", messageID).
				Str("status", string(outcome.Status)).
				Msg("Transfer not applied")
		}
		return e.SenderPhoneNumber, err

	case domain.IdentityLookupRequested:
		if _, err := d.svc.LookupDocumentNumber(ctx, e.ID); err != nil {
			return e.ID, err
		}
		d.log.Info().Str("wallet_id", e.ID).Str("message_id", messageID).Msg("Identity lookup resolved")
		return e.ID, nil

	default:
		return "", apperror.ErrUnknownEvent(string(event.Type()))
	}
}

// drop logs a terminal failure. Business rejections are warnings; anything
// pointing at broken input or infrastructure is an error.
func (d *Dispatcher) drop(ctx context.Context, eventType domain.EventType, messageID, key string, payload []byte, err error) {
	logEvent := d.log.Warn()
	switch apperror.CodeOf(err) {
	case apperror.CodeDuplicateIdentity, apperror.CodeWalletNotFound,
		apperror.CodeInsufficientFunds, apperror.CodeInvalidAmount:
	default:
		logEvent = d.log.Error()
	}

	logEvent = logEvent.Err(err).
		Str("event_type", string(eventType)).
		Str("message_id", messageID).
		Str("key", key).
		Str("error_code", apperror.CodeOf(err))

	// The offending identity, which may differ from the event's key field.
	var appErr *apperror.AppError
	if errors.As(err, &appErr) && appErr.Field != "" {
		logEvent = logEvent.Str("field", appErr.Field).Str("value", appErr.Value)
	}

	logEvent.Msg("Event dropped")

	d.publishDeadLetter(ctx, eventType, messageID, payload, err)
}

func (d *Dispatcher) publishDeadLetter(ctx context.Context, eventType domain.EventType, messageID string, payload []byte, cause error) {
	if d.deadLetter == nil {
		return
	}
	if err := d.deadLetter.Publish(ctx, eventType, payload, cause); err != nil {
		d.log.Warn().Err(err).Str("message_id", messageID).Msg("Failed to publish dead letter")
	}
}
