package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisOptions configures the cross-instance relay.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// RedisBus relays messages through one Redis pub/sub channel.
type RedisBus struct {
	rdb     *goredis.Client
	channel string
}

// NewRedisBus connects and pings Redis.
func NewRedisBus(ctx context.Context, opt RedisOptions) (*RedisBus, error) {
	addr := strings.TrimSpace(opt.Addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	ch := strings.TrimSpace(opt.Channel)
	if ch == "" {
		ch = "habit-events"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    opt.Password,
		DB:          opt.DB,
		DialTimeout: 5 * time.Second,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisBus{rdb: rdb, channel: ch}, nil
}

// Channel returns the pub/sub channel name.
func (b *RedisBus) Channel() string { return b.channel }

// Publish sends msg to every subscribed instance.
func (b *RedisBus) Publish(ctx context.Context, msg Message) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis bus not initialized")
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// StartForwarder subscribes to the channel and calls onMsg for every message
// until ctx is done. It returns once the subscription is confirmed.
func (b *RedisBus) StartForwarder(ctx context.Context, onMsg func(Message)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis bus not initialized")
	}
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				msg, err := decodeMessage(m.Payload)
				if err != nil {
					log.Warn().Err(err).Msg("bad redis event payload")
					continue
				}
				onMsg(msg)
			}
		}
	}()
	return nil
}

// Close releases the Redis connection.
func (b *RedisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}

func decodeMessage(payload string) (Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return msg, err
	}
	if msg.UserID == "" || msg.Event == "" {
		return msg, fmt.Errorf("message without user or event")
	}
	return msg, nil
}
