package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/wager-engine/internal/model"
)

// envelope tags an event with the instance that committed it so relays can
// skip their own messages.
type envelope struct {
	Origin string      `json:"origin"`
	Event  model.Event `json:"event"`
}

// RedisBus publishes events to a Redis Pub/Sub channel and relays events
// committed by other instances to a local publisher.
type RedisBus struct {
	rdb     *redis.Client
	channel string
	origin  string
	log     *slog.Logger
}

// NewRedisBus creates a bus on channel. Each bus gets a random origin id.
func NewRedisBus(rdb *redis.Client, channel string, log *slog.Logger) *RedisBus {
	if log == nil {
		log = slog.Default()
	}
	return &RedisBus{
		rdb:     rdb,
		channel: channel,
		origin:  uuid.New().String(),
		log:     log,
	}
}

// Publish sends ev to the channel.
func (b *RedisBus) Publish(ctx context.Context, ev model.Event) error {
	data, err := json.Marshal(envelope{Origin: b.origin, Event: ev})
	if err != nil {
		return fmt.Errorf("events: encode: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("events: publish %s: %w", b.channel, err)
	}
	return nil
}

// Relay subscribes to the channel and forwards events from other instances
// to local until ctx is cancelled.
func (b *RedisBus) Relay(ctx context.Context, local Publisher) error {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	// Wait for the subscription confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("events: subscribe %s: %w", b.channel, err)
	}
	b.log.Info("relaying events", "channel", b.channel, "origin", b.origin)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, foreign, err := b.decode([]byte(msg.Payload))
			if err != nil {
				b.log.Warn("dropping malformed event", "channel", b.channel, "err", err)
				continue
			}
			if !foreign {
				continue
			}
			if err := local.Publish(ctx, ev); err != nil {
				b.log.Warn("relay publish failed", "seq", ev.Seq, "err", err)
			}
		}
	}
}

// decode unwraps a payload and reports whether another instance sent it.
func (b *RedisBus) decode(payload []byte) (model.Event, bool, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return model.Event{}, false, err
	}
	return env.Event, env.Origin != b.origin, nil
}
