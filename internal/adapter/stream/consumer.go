package stream

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/pkg/retry"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Message fields.
const (
	FieldPayload = "payload"
	FieldType    = "type"
)

const (
	readErrorBackoff = 500 * time.Millisecond
	defaultBlock     = 2 * time.Second
)

// Config describes which streams to read and how.
type Config struct {
	Group     string
	Consumer  string // defaults to a hostname-derived name, stable across restarts
	Workers   int
	BatchSize int64
	Block     time.Duration // zero selects a 2s block; Redis would otherwise block forever
	// ClaimIdle is how long a message may sit unacked with another consumer
	// before Run claims it on startup. Zero disables claiming.
	ClaimIdle time.Duration
	// Streams maps a stream name to the event type it carries.
	Streams map[string]domain.EventType
}

// Consumer reads its streams as a member of a consumer group and hands every
// message to a Handler in its own goroutine, at most Workers at a time.
// Each message is acknowledged once handled, whatever the outcome.
type Consumer struct {
	client   *goredis.Client
	cfg      Config
	names    []string
	handler  Handler
	retrier  retry.Retry
	inFlight sync.WaitGroup
	log      zerolog.Logger
}

func NewConsumer(client *goredis.Client, cfg Config, handler Handler, retrier retry.Retry, log zerolog.Logger) *Consumer {
	if cfg.Consumer == "" {
		cfg.Consumer = defaultConsumerName()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Block <= 0 {
		cfg.Block = defaultBlock
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = int64(cfg.Workers)
	}

	names := make([]string, 0, len(cfg.Streams))
	for name := range cfg.Streams {
		names = append(names, name)
	}
	sort.Strings(names)

	return &Consumer{
		client:  client,
		cfg:     cfg,
		names:   names,
		handler: handler,
		retrier: retrier,
		log:     log.With().Str("consumer", cfg.Consumer).Str("group", cfg.Group).Logger(),
	}
}

func defaultConsumerName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return "ledger-" + host
	}
	return "ledger-" + uuid.NewString()[:8]
}

// EnsureGroups creates the consumer group on every stream, creating empty
// streams as needed. An existing group is not an error.
func (c *Consumer) EnsureGroups(ctx context.Context) error {
	for _, name := range c.names {
		err := c.retrier.Execute(ctx, func() error {
			err := c.client.XGroupCreateMkStream(ctx, name, c.cfg.Group, "0").Err()
			if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
				return err
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("create group %s on %s: %w", c.cfg.Group, name, err)
		}
	}
	return nil
}

// Run consumes until ctx is cancelled, then waits for in-flight handlers.
// Before reading new messages it redelivers this consumer's pending list,
// after claiming messages other consumers left idle for ClaimIdle.
// Handlers run on a context that outlives ctx so a shutdown does not cut
// an event in half.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.EnsureGroups(ctx); err != nil {
		return err
	}

	handlerCtx := context.WithoutCancel(ctx)
	sem := make(chan struct{}, c.cfg.Workers)
	defer c.inFlight.Wait()

	c.log.Info().Strs("streams", c.names).Int("workers", c.cfg.Workers).Msg("Stream consumer started")

	if !c.recoverPending(ctx, handlerCtx, sem) {
		return nil
	}

	args := make([]string, 0, 2*len(c.names))
	args = append(args, c.names...)
	for range c.names {
		args = append(args, ">")
	}

	for {
		if ctx.Err() != nil {
			c.log.Info().Msg("Stream consumer stopping")
			return nil
		}

		res, err := c.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			Streams:  args,
			Count:    c.cfg.BatchSize,
			Block:    c.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) || ctx.Err() != nil {
				continue
			}
			c.log.Warn().Err(err).Msg("Stream read failed")
			select {
			case <-ctx.Done():
			case <-time.After(readErrorBackoff):
			}
			continue
		}

		if !c.dispatch(ctx, handlerCtx, sem, res) {
			return nil
		}
	}
}

// recoverPending returns false if ctx was cancelled while dispatching.
func (c *Consumer) recoverPending(ctx, handlerCtx context.Context, sem chan struct{}) bool {
	if c.cfg.ClaimIdle > 0 {
		for _, name := range c.names {
			c.claimIdle(ctx, name)
		}
	}

	recovered := 0
	for _, name := range c.names {
		cursor := "0"
		for {
			res, err := c.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
				Group:    c.cfg.Group,
				Consumer: c.cfg.Consumer,
				Streams:  []string{name, cursor},
				Count:    c.cfg.BatchSize,
				Block:    -1,
			}).Result()
			if err != nil {
				if !errors.Is(err, goredis.Nil) && ctx.Err() == nil {
					c.log.Warn().Err(err).Str("stream", name).Msg("Pending read failed")
				}
				break
			}
			if len(res) == 0 || len(res[0].Messages) == 0 {
				break
			}

			msgs := res[0].Messages
			cursor = msgs[len(msgs)-1].ID
			recovered += len(msgs)
			if !c.dispatch(ctx, handlerCtx, sem, res) {
				return false
			}
		}
	}

	if recovered > 0 {
		c.log.Info().Int("messages", recovered).Msg("Redelivered pending messages")
	}
	return true
}

// claimIdle moves messages idle for at least ClaimIdle to this consumer's pending list.
func (c *Consumer) claimIdle(ctx context.Context, stream string) {
	start := "0-0"
	for {
		msgs, next, err := c.client.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
			Stream:   stream,
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			MinIdle:  c.cfg.ClaimIdle,
			Start:    start,
			Count:    c.cfg.BatchSize,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				c.log.Warn().Err(err).Str("stream", stream).Msg("Claiming idle messages failed")
			}
			return
		}
		if len(msgs) > 0 {
			c.log.Info().Str("stream", stream).Int("messages", len(msgs)).Msg("Claimed idle messages")
		}
		if next == "" || next == "0-0" {
			return
		}
		start = next
	}
}

// dispatch hands each message to a worker. It returns false when ctx is
// cancelled first; the rest of the batch stays in this consumer's pending
// list and is redelivered on the next Run.
func (c *Consumer) dispatch(ctx, handlerCtx context.Context, sem chan struct{}, res []goredis.XStream) bool {
	for i, s := range res {
		eventType := c.cfg.Streams[s.Stream]
		for j, msg := range s.Messages {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				left := len(s.Messages) - j
				for _, rest := range res[i+1:] {
					left += len(rest.Messages)
				}
				c.log.Warn().Int("messages", left).Msg("Stopping with undispatched messages; they stay pending until the next start")
				return false
			}

			c.inFlight.Add(1)
			go func(stream string, msg goredis.XMessage) {
				defer func() {
					<-sem
					c.inFlight.Done()
				}()
				c.process(handlerCtx, stream, eventType, msg)
			}(s.Stream, msg)
		}
	}
	return true
}

func (c *Consumer) process(ctx context.Context, stream string, eventType domain.EventType, msg goredis.XMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Str("message_id", msg.ID).Msg("Recovered from panic in stream worker")
		}
		c.ack(ctx, stream, msg.ID)
	}()

	payload, _ := msg.Values[FieldPayload].(string)
	_ = c.handler.Handle(ctx, eventType, msg.ID, []byte(payload))
}

func (c *Consumer) ack(ctx context.Context, stream, id string) {
	if err := c.client.XAck(ctx, stream, c.cfg.Group, id).Err(); err != nil {
		c.log.Warn().Err(err).Str("stream", stream).Str("message_id", id).Msg("Failed to ack message")
	}
}

// Name returns the consumer name within the group.
func (c *Consumer) Name() string {
	return c.cfg.Consumer
}
