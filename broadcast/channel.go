// Package broadcast keeps the tabs of one browser session in sync. A Channel
// is a typed pub/sub over a named topic: Notify delivers an event to local
// subscribers synchronously and to every other Channel on the same topic
// through a Transport.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const DefaultChannelName = "iron-auth.update"

// EventType names a session change.
type EventType string

const (
	EventSignIn         EventType = "sign-in"
	EventSignUp         EventType = "sign-up"
	EventSignOut        EventType = "sign-out"
	EventSessionUpdated EventType = "session-updated"
	EventNoSession      EventType = "no-session"
)

// Valid reports whether e is one of the known event types.
func (e EventType) Valid() bool {
	switch e {
	case EventSignIn, EventSignUp, EventSignOut, EventSessionUpdated, EventNoSession:
		return true
	}
	return false
}

// Event is the payload every subscriber receives.
type Event struct {
	Event  EventType `json:"event"`
	UserID string    `json:"userId,omitempty"`
}

// Receiver handles an event.
type Receiver func(Event)

var ErrClosed = errors.New("broadcast: channel closed")

// message is the wire form of an Event. Origin lets a channel skip its own
// publications, which it has already dispatched locally.
type message struct {
	Origin string `json:"origin"`
	Event
}

type Option func(*Channel)

// WithName sets the topic. Defaults to DefaultChannelName.
func WithName(name string) Option {
	return func(c *Channel) {
		if name != "" {
			c.name = name
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Channel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Channel is one participant (a tab) on a topic.
type Channel struct {
	name      string
	origin    string
	transport Transport
	logger    *slog.Logger

	mu        sync.RWMutex
	order     []string
	receivers map[string]Receiver
	cancel    func()
	closed    bool
}

func New(transport Transport, opts ...Option) *Channel {
	c := &Channel{
		name:      DefaultChannelName,
		origin:    uuid.NewString(),
		transport: transport,
		logger:    slog.Default(),
		receivers: make(map[string]Receiver),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the topic name.
func (c *Channel) Name() string {
	return c.name
}

// Open starts receiving events published by other channels on the topic.
func (c *Channel) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.cancel != nil {
		return nil
	}

	cancel, err := c.transport.Subscribe(ctx, c.name, c.receive)
	if err != nil {
		return err
	}
	c.cancel = cancel
	return nil
}

// Close stops receiving remote events. Local Notify keeps working.
func (c *Channel) Close() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.closed = true
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Subscribe registers fn under key. A later registration under the same key
// replaces the earlier one.
func (c *Channel) Subscribe(key string, fn Receiver) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.receivers[key]; !exists {
		c.order = append(c.order, key)
	}
	c.receivers[key] = fn
}

func (c *Channel) Unsubscribe(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.receivers[key]; !exists {
		return
	}
	delete(c.receivers, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Notify publishes ev to the other channels on the topic and dispatches it to
// local subscribers before returning. Unknown event types are logged and
// dropped.
func (c *Channel) Notify(ctx context.Context, ev Event) error {
	if !ev.Event.Valid() {
		c.logger.Warn("broadcast: dropping unknown event", "channel", c.name, "event", string(ev.Event))
		return nil
	}

	payload, err := json.Marshal(message{Origin: c.origin, Event: ev})
	if err != nil {
		return err
	}
	pubErr := c.transport.Publish(ctx, c.name, payload)

	c.dispatch(ev)
	return pubErr
}

// receive handles a payload from the transport.
func (c *Channel) receive(payload []byte) {
	var msg message
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.logger.Warn("broadcast: dropping malformed event", "channel", c.name, "err", err)
		return
	}
	if msg.Origin == c.origin {
		return
	}
	if !msg.Event.Event.Valid() {
		c.logger.Warn("broadcast: dropping unknown event", "channel", c.name, "event", string(msg.Event.Event))
		return
	}
	c.dispatch(msg.Event)
}

func (c *Channel) dispatch(ev Event) {
	c.mu.RLock()
	receivers := make([]Receiver, 0, len(c.order))
	for _, key := range c.order {
		receivers = append(receivers, c.receivers[key])
	}
	c.mu.RUnlock()

	for _, fn := range receivers {
		fn(ev)
	}
}
