package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisChannel = "uptime:alerts"

// Event is the JSON body published on the Redis channel.
type Event struct {
	Title  string    `json:"title"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

// Redis publishes alerts to a pub/sub channel for other services to consume.
type Redis struct {
	client  *redis.Client
	channel string
	now     func() time.Time
}

// NewRedis connects to addr and verifies the connection with a PING.
func NewRedis(ctx context.Context, addr, channel string) (*Redis, error) {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}
	return &Redis{client: client, channel: channel, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (r *Redis) Channel() string { return r.channel }

func (r *Redis) Send(ctx context.Context, title, text string) error {
	data, err := json.Marshal(Event{Title: title, Text: text, SentAt: r.now()})
	if err != nil {
		return fmt.Errorf("encode alert event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	return nil
}

func (r *Redis) Close() error { return r.client.Close() }
