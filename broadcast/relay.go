package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/lborres/ironauth/core"
)

// SessionReader resolves the session carried by a request. *ironauth.IronAuth
// implements it.
type SessionReader interface {
	GetServerSideSession(ctx context.Context, raw core.RawRequest) (*core.Session, error)
}

const relayReceiverKey = "relay"

// Relay bridges browser tabs to the session broadcast over websockets. A tab
// must carry a valid session cookie to connect. Tabs are grouped by user:
// each user has a Channel on its own topic, so events only reach the tabs of
// the same user, on this instance or any other sharing the transport.
type Relay struct {
	transport Transport
	sessions  SessionReader
	topic     string
	opts      []Option
	logger    *slog.Logger
	upgrader  websocket.Upgrader

	mu     sync.RWMutex
	scopes map[string]*relayScope
	closed bool
}

// relayScope is the channel and the connected tabs of one user.
type relayScope struct {
	userID  string
	channel *Channel
	conns   map[*relayConn]struct{}
}

type relayConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *relayConn) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// NewRelay creates a relay publishing on transport. checkOrigin may be nil to
// accept same-origin upgrades only. opts configure the per-user channels;
// WithName sets the topic prefix.
func NewRelay(transport Transport, sessions SessionReader, checkOrigin func(*http.Request) bool, opts ...Option) *Relay {
	template := New(transport, opts...)

	return &Relay{
		transport: transport,
		sessions:  sessions,
		topic:     template.name,
		opts:      opts,
		logger:    template.logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		scopes: make(map[string]*relayScope),
	}
}

func (r *Relay) topicFor(userID string) string {
	return r.topic + ":" + userID
}

// ServeHTTP authenticates the request, upgrades it and serves the tab until it
// disconnects. Events a tab sends for another user are dropped.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	session, err := r.sessions.GetServerSideSession(req.Context(), core.RawRequest{
		Method: req.Method,
		URL:    req.URL.RequestURI(),
		Header: req.Header,
	})
	if err != nil {
		authErr := core.AsError(err)
		http.Error(w, authErr.Message, authErr.Status())
		return
	}
	userID := session.User.ID

	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	conn := &relayConn{ws: ws}

	// the scope outlives this request
	ctx := context.WithoutCancel(req.Context())
	scope, err := r.join(ctx, userID, conn)
	if err != nil {
		r.logger.Error("broadcast: relay join failed", "err", err)
		ws.Close()
		return
	}
	defer r.leave(scope, conn)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			r.logger.Warn("broadcast: dropping malformed tab event", "err", err)
			continue
		}
		if ev.UserID != "" && ev.UserID != userID {
			r.logger.Warn("broadcast: dropping tab event for another user", "event", string(ev.Event))
			continue
		}
		if err := scope.channel.Notify(ctx, ev); err != nil {
			r.logger.Error("broadcast: notify failed", "err", err)
		}
	}
}

// join adds conn to the scope of userID, opening the scope's channel when it
// is the user's first tab.
func (r *Relay) join(ctx context.Context, userID string, conn *relayConn) (*relayScope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}

	scope, ok := r.scopes[userID]
	if !ok {
		channel := New(r.transport, append(r.opts[:len(r.opts):len(r.opts)], WithName(r.topicFor(userID)))...)
		if err := channel.Open(ctx); err != nil {
			return nil, err
		}
		scope = &relayScope{
			userID:  userID,
			channel: channel,
			conns:   make(map[*relayConn]struct{}),
		}
		channel.Subscribe(relayReceiverKey, func(ev Event) { r.send(scope, ev) })
		r.scopes[userID] = scope
	}
	scope.conns[conn] = struct{}{}
	return scope, nil
}

// leave removes conn and closes the scope once its last tab is gone.
func (r *Relay) leave(scope *relayScope, conn *relayConn) {
	conn.ws.Close()

	r.mu.Lock()
	delete(scope.conns, conn)
	empty := len(scope.conns) == 0 && r.scopes[scope.userID] == scope
	if empty {
		delete(r.scopes, scope.userID)
	}
	r.mu.Unlock()

	// closing waits for the transport, which may be delivering to send
	if empty {
		scope.channel.Close()
	}
}

func (r *Relay) send(scope *relayScope, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}

	r.mu.RLock()
	conns := make([]*relayConn, 0, len(scope.conns))
	for c := range scope.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		if err := c.write(data); err != nil {
			// the read loop of c sees the closed connection and leaves
			c.ws.Close()
		}
	}
}

// ConnCount returns the number of connected tabs.
func (r *Relay) ConnCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, scope := range r.scopes {
		n += len(scope.conns)
	}
	return n
}

// Close disconnects every tab and closes the per-user channels.
func (r *Relay) Close() {
	r.mu.Lock()
	r.closed = true
	scopes := r.scopes
	r.scopes = make(map[string]*relayScope)
	for _, scope := range scopes {
		for c := range scope.conns {
			c.ws.Close()
		}
	}
	r.mu.Unlock()

	for _, scope := range scopes {
		scope.channel.Close()
	}
}

// Notify pushes ev to every tab of userID, e.g. after a server-side session
// change.
func (r *Relay) Notify(ctx context.Context, userID string, ev Event) error {
	r.mu.RLock()
	scope, ok := r.scopes[userID]
	r.mu.RUnlock()
	if ok {
		return scope.channel.Notify(ctx, ev)
	}

	// no local tab: publish for the user's tabs on other instances
	channel := New(r.transport, append(r.opts[:len(r.opts):len(r.opts)], WithName(r.topicFor(userID)))...)
	return channel.Notify(ctx, ev)
}
