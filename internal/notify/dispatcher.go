// Package notify turns committed ledger changes into push notifications.
//
// The core never depends on delivery: a Notifier looks up names and device
// tokens, hands a Message to a Dispatcher and logs any failure.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Message is one push notification for one device.
type Message struct {
	TargetUID string            `json:"targetUid"`
	Token     string            `json:"token"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Type      string            `json:"type"`
	Data      map[string]string `json:"data,omitempty"`
}

// Dispatcher delivers messages.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}

// LogDispatcher only logs messages. Used when no delivery backend is configured.
type LogDispatcher struct{}

// Dispatch implements Dispatcher.
func (LogDispatcher) Dispatch(_ context.Context, msg Message) error {
	slog.Info("Notification", "target", msg.TargetUID, "type", msg.Type, "title", msg.Title, "body", msg.Body)
	return nil
}

// RedisDispatcher publishes messages as JSON on a Redis channel, where a push
// worker picks them up and forwards them to FCM.
type RedisDispatcher struct {
	client  *redis.Client
	channel string
}

// NewRedisDispatcher creates a dispatcher publishing on channel.
func NewRedisDispatcher(client *redis.Client, channel string) *RedisDispatcher {
	return &RedisDispatcher{client: client, channel: channel}
}

// Dispatch implements Dispatcher.
func (d *RedisDispatcher) Dispatch(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	if err := d.client.Publish(ctx, d.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish notification on %s: %w", d.channel, err)
	}
	return nil
}
