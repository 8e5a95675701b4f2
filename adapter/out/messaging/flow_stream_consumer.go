package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrPoison marks a message that can never succeed. It goes straight to the DLQ.
var ErrPoison = errors.New("poison message")

// Handler processes one stream payload.
type Handler interface {
	Handle(ctx context.Context, stream string, data []byte) error
}

// Consumer reads a Redis Stream through a consumer group, acking on success.
// Failed messages stay pending and are claimed again after PendingIdleTime; after MaxRetries they move to dlq:<stream>.
type Consumer struct {
	client   *redis.Client
	group    string
	consumer string
	streams  []string
	handler  Handler
	log      zerolog.Logger

	// Pending 메시지 재처리 설정
	pendingCheckInterval time.Duration
	pendingIdleTime      time.Duration
	maxRetries           int
	batch                int64
	block                time.Duration
}

type ConsumerConfig struct {
	Group    string
	Consumer string
	Streams  []string
	Handler  Handler
	Logger   zerolog.Logger

	// 0이면 기본값
	PendingCheckInterval time.Duration
	PendingIdleTime      time.Duration
	MaxRetries           int
	BatchSize            int64
	Block                time.Duration
}

func NewConsumer(client *redis.Client, cfg *ConsumerConfig) *Consumer {
	c := &Consumer{
		client:               client,
		group:                cfg.Group,
		consumer:             cfg.Consumer,
		streams:              cfg.Streams,
		handler:              cfg.Handler,
		log:                  cfg.Logger.With().Str("component", "stream_consumer").Logger(),
		pendingCheckInterval: cfg.PendingCheckInterval,
		pendingIdleTime:      cfg.PendingIdleTime,
		maxRetries:           cfg.MaxRetries,
		batch:                cfg.BatchSize,
		block:                cfg.Block,
	}
	if c.pendingCheckInterval == 0 {
		c.pendingCheckInterval = 30 * time.Second
	}
	if c.pendingIdleTime == 0 {
		c.pendingIdleTime = 2 * time.Minute
	}
	if c.maxRetries == 0 {
		c.maxRetries = 3
	}
	if c.batch == 0 {
		c.batch = 10
	}
	if c.block == 0 {
		c.block = 5 * time.Second
	}
	return c
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info().
		Str("group", c.group).
		Str("consumer", c.consumer).
		Strs("streams", c.streams).
		Msg("starting consumer")

	for _, stream := range c.streams {
		if err := c.createGroup(ctx, stream); err != nil {
			return err
		}
	}

	go c.pendingLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		result, err := c.read(ctx)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Error().Err(err).Msg("error reading from streams")
			sleep(ctx, time.Second)
			continue
		}

		for _, stream := range result {
			for _, msg := range stream.Messages {
				c.dispatch(ctx, stream.Stream, msg)
			}
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, stream string, msg redis.XMessage) {
	err := c.process(ctx, stream, msg)
	switch {
	case err == nil:
	case errors.Is(err, ErrPoison):
		c.log.Warn().Err(err).Str("stream", stream).Str("id", msg.ID).Msg("dropping poison message")
		if dlqErr := c.deadLetter(ctx, stream, msg); dlqErr != nil {
			c.log.Error().Err(dlqErr).Str("id", msg.ID).Msg("error moving message to DLQ")
			return
		}
	default:
		// pending에 남겨두고 재시도
		c.log.Error().Err(err).Str("stream", stream).Str("id", msg.ID).Msg("error processing message")
		return
	}

	if err := c.client.XAck(ctx, stream, c.group, msg.ID).Err(); err != nil {
		c.log.Error().Err(err).Str("stream", stream).Str("id", msg.ID).Msg("error acknowledging message")
	}
}

func (c *Consumer) pendingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pendingCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.claimPending(ctx)
		}
	}
}

// claimPending reclaims messages idle for longer than pendingIdleTime.
func (c *Consumer) claimPending(ctx context.Context) {
	for _, stream := range c.streams {
		pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: stream,
			Group:  c.group,
			Idle:   c.pendingIdleTime,
			Start:  "-",
			End:    "+",
			Count:  100,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				c.log.Error().Err(err).Str("stream", stream).Msg("error getting pending messages")
			}
			continue
		}

		for _, p := range pending {
			claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
				Stream:   stream,
				Group:    c.group,
				Consumer: c.consumer,
				MinIdle:  c.pendingIdleTime,
				Messages: []string{p.ID},
			}).Result()
			if err != nil {
				c.log.Error().Err(err).Str("id", p.ID).Msg("error claiming message")
				continue
			}

			for _, msg := range claimed {
				if int(p.RetryCount) >= c.maxRetries {
					c.log.Warn().Str("stream", stream).Str("id", msg.ID).Int64("retries", p.RetryCount).
						Msg("message exceeded max retries, moving to DLQ")
					if err := c.deadLetter(ctx, stream, msg); err != nil {
						c.log.Error().Err(err).Str("id", msg.ID).Msg("error moving message to DLQ")
						continue
					}
					c.client.XAck(ctx, stream, c.group, msg.ID)
					continue
				}
				c.dispatch(ctx, stream, msg)
			}
		}
	}
}

func (c *Consumer) createGroup(ctx context.Context, stream string) error {
	err := c.client.XGroupCreateMkStream(ctx, stream, c.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", c.group, stream, err)
	}
	return nil
}

func (c *Consumer) read(ctx context.Context) ([]redis.XStream, error) {
	if len(c.streams) == 0 {
		return nil, redis.Nil
	}

	args := make([]string, len(c.streams)*2)
	for i, stream := range c.streams {
		args[i] = stream
		args[len(c.streams)+i] = ">"
	}

	return c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  args,
		Count:    c.batch,
		Block:    c.block,
	}).Result()
}

func (c *Consumer) process(ctx context.Context, stream string, msg redis.XMessage) error {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return fmt.Errorf("%w: missing data field", ErrPoison)
	}
	return c.handler.Handle(ctx, stream, []byte(data))
}

// deadLetter copies the message to dlq:<stream> with failure metadata.
func (c *Consumer) deadLetter(ctx context.Context, stream string, msg redis.XMessage) error {
	values := map[string]interface{}{
		"original_stream": stream,
		"original_id":     msg.ID,
		"failed_at":       time.Now().UTC().Format(time.RFC3339),
		"consumer":        c.consumer,
		"group":           c.group,
	}
	for k, v := range msg.Values {
		values["original_"+k] = v
	}

	if err := c.client.XAdd(ctx, &redis.XAddArgs{Stream: "dlq:" + stream, Values: values}).Err(); err != nil {
		return fmt.Errorf("failed to add message to DLQ: %w", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
