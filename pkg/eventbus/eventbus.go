// Package eventbus publishes tick-level state transitions to an optional
// Redis pub/sub channel for consumption by the external web UI. Publishing
// is best-effort: a nil or unconfigured Publisher is a no-op, and a publish
// failure is logged and otherwise ignored — it never affects tick
// correctness or Store durability ordering.
package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/greenloop-systems/gardend/pkg/xlog"
)

const (
	// Channel is the single pub/sub channel gardend publishes all event
	// kinds to; subscribers distinguish events by the Kind field.
	Channel = "gardend:events"

	publishTimeout = 500 * time.Millisecond
)

// Kind identifies the state transition an Event describes.
type Kind string

const (
	SlaveConnected    Kind = "slave_connected"
	SlaveDisconnected Kind = "slave_disconnected"
	RelayActivated    Kind = "relay_activated"
	RelayDeactivated  Kind = "relay_deactivated"
	RuleActivated     Kind = "rule_activated"
	RuleDeactivated   Kind = "rule_deactivated"
)

// Event is one published state transition.
type Event struct {
	Kind      Kind      `json:"kind"`
	Subject   string    `json:"subject"` // slave/relay/rule UUID
	Timestamp time.Time `json:"timestamp"`
}

// Publisher sends Events to Redis pub/sub. Construct with New; the zero
// value and a nil *Publisher publish nothing.
type Publisher struct {
	client *redis.Client
}

// New builds a Publisher dialing addr. It does not verify connectivity —
// a broker that is down at startup should not prevent the daemon from
// running, since publishing is best-effort.
func New(addr string) *Publisher {
	if addr == "" {
		return nil
	}
	return &Publisher{client: redis.NewClient(&redis.Options{Addr: addr})}
}

// Publish sends kind/subject as an Event on Channel, bounded by its own
// short timeout so a stalled broker can never stall the tick loop. A nil
// Publisher is a no-op.
func (p *Publisher) Publish(kind Kind, subject string, now time.Time) {
	if p == nil || p.client == nil {
		return
	}

	payload, err := json.Marshal(Event{Kind: kind, Subject: subject, Timestamp: now})
	if err != nil {
		xlog.Logger.WithError(err).Debug("eventbus: failed to encode event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := p.client.Publish(ctx, Channel, payload).Err(); err != nil {
		xlog.Logger.WithError(err).Debug("eventbus: publish failed, dropping event")
	}
}

// Close releases the underlying Redis connection. Safe to call on a nil
// Publisher.
func (p *Publisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
