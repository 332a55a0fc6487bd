package stream

import (
	"context"
	"fmt"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"

	goredis "github.com/redis/go-redis/v9"
)

var _ ports.DeadLetterPublisher = (*DeadLetterStream)(nil)

// DeadLetterStream implements ports.DeadLetterPublisher by appending failed
// events to a Redis stream.
type DeadLetterStream struct {
	client *goredis.Client
	stream string
}

func NewDeadLetterStream(client *goredis.Client, stream string) *DeadLetterStream {
	return &DeadLetterStream{client: client, stream: stream}
}

func (s *DeadLetterStream) Publish(ctx context.Context, eventType domain.EventType, payload []byte, cause error) error {
	values := map[string]any{
		FieldType:    string(eventType),
		FieldPayload: string(payload),
		"error_code": apperror.CodeOf(cause),
		"error":      errString(cause),
	}
	if err := s.client.XAdd(ctx, &goredis.XAddArgs{Stream: s.stream, Values: values}).Err(); err != nil {
		return fmt.Errorf("redis dead letter xadd: %w", err)
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
