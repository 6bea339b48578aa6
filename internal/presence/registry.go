// Package presence tracks which user is bound to which open connection.
package presence

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Event types pushed to connections
const (
	EventOnline   = "presence:online"
	EventOffline  = "presence:offline"
	EventReplaced = "presence:replaced"
)

// ErrClosed is returned by Register after Close
var ErrClosed = errors.New("presence registry closed")

// Conn is the registry's handle on a connection
type Conn interface {
	ID() string
	// Push enqueues an encoded frame without blocking; false when the frame was dropped
	Push(frame []byte) bool
}

// Event is a presence notification frame
type Event struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

// Registry maps usernames to their active connection
type Registry struct {
	mu     sync.RWMutex
	users  map[string]Conn
	names  map[string]string // connection id -> username
	closed bool

	online prometheus.Gauge
	log    *zap.Logger
}

// NewRegistry creates an empty registry; online may be nil
func NewRegistry(log *zap.Logger, online prometheus.Gauge) *Registry {
	return &Registry{
		users:  make(map[string]Conn),
		names:  make(map[string]string),
		online: online,
		log:    log,
	}
}

// Register binds username to c. A previous connection of the same user is unbound and told
// it was replaced; every other bound connection is told the user came online.
func (r *Registry) Register(username string, c Conn) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}

	// The connection may have been bound to another account before
	var left string
	if prev, ok := r.names[c.ID()]; ok && prev != username {
		if cur, found := r.users[prev]; found && cur.ID() == c.ID() {
			delete(r.users, prev)
			left = prev
		}
	}

	var replaced Conn
	if old, ok := r.users[username]; ok && old.ID() != c.ID() {
		delete(r.names, old.ID())
		replaced = old
	}
	r.users[username] = c
	r.names[c.ID()] = username
	r.updateGauge()
	targets := r.targets(c)
	r.mu.Unlock()

	if replaced != nil {
		replaced.Push(encodeEvent(EventReplaced, username))
		r.log.Info("Session replaced by a new login",
			zap.String("username", username),
			zap.String("old_conn", replaced.ID()),
			zap.String("new_conn", c.ID()))
	}
	if left != "" {
		push(targets, encodeEvent(EventOffline, left))
	}
	push(targets, encodeEvent(EventOnline, username))
	return nil
}

// Unregister removes c and reports the username it was bound to. A bound connection's
// departure is broadcast to the remaining users.
func (r *Registry) Unregister(c Conn) (string, bool) {
	r.mu.Lock()
	username, ok := r.names[c.ID()]
	if ok {
		delete(r.names, c.ID())
		if cur, found := r.users[username]; found && cur.ID() == c.ID() {
			delete(r.users, username)
		}
		r.updateGauge()
	}
	targets := r.targets(nil)
	r.mu.Unlock()

	if ok {
		push(targets, encodeEvent(EventOffline, username))
	}
	return username, ok
}

// Resolve returns the username bound to c
func (r *Registry) Resolve(c Conn) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	username, ok := r.names[c.ID()]
	return username, ok
}

// Lookup returns the connection bound to username
func (r *Registry) Lookup(username string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.users[username]
	return c, ok
}

// Send pushes frame to username; false when offline or dropped
func (r *Registry) Send(username string, frame []byte) bool {
	c, ok := r.Lookup(username)
	if !ok {
		return false
	}
	return c.Push(frame)
}

// Broadcast pushes frame to every bound connection and returns how many accepted it
func (r *Registry) Broadcast(frame []byte) int {
	return r.BroadcastExcept(frame, nil)
}

// BroadcastExcept pushes frame to every bound connection other than except
func (r *Registry) BroadcastExcept(frame []byte, except Conn) int {
	r.mu.RLock()
	targets := r.targets(except)
	r.mu.RUnlock()
	return push(targets, frame)
}

// Online lists the bound usernames in order
func (r *Registry) Online() []string {
	r.mu.RLock()
	users := make([]string, 0, len(r.users))
	for u := range r.users {
		users = append(users, u)
	}
	r.mu.RUnlock()
	sort.Strings(users)
	return users
}

// Close unbinds everyone; later registrations fail
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.users = make(map[string]Conn)
	r.names = make(map[string]string)
	r.updateGauge()
}

// targets snapshots the bound connections; callers hold the lock
func (r *Registry) targets(except Conn) []Conn {
	conns := make([]Conn, 0, len(r.users))
	for _, c := range r.users {
		if except != nil && c.ID() == except.ID() {
			continue
		}
		conns = append(conns, c)
	}
	return conns
}

func (r *Registry) updateGauge() {
	if r.online != nil {
		r.online.Set(float64(len(r.users)))
	}
}

func push(conns []Conn, frame []byte) int {
	delivered := 0
	for _, c := range conns {
		if c.Push(frame) {
			delivered++
		}
	}
	return delivered
}

func encodeEvent(eventType, username string) []byte {
	// Marshalling two strings cannot fail
	frame, _ := json.Marshal(Event{Type: eventType, Username: username})
	return frame
}
