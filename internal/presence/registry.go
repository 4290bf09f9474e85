package presence

import (
	"errors"
	"sort"
	"sync"
)

var ErrInvalidState = errors.New("presence: invalid state")

type Status string

const (
	Online  Status = "Online"
	Offline Status = "Offline"
	Busy    Status = "Busy"
	Away    Status = "Away"
)

// Conn is one live transport connection. Send must not block; it reports
// whether the payload was accepted.
type Conn interface {
	ID() string
	Send(v any) bool
}

// ChangeFunc receives status transitions. It is called outside the registry
// lock, so it may call back into the registry.
type ChangeFunc func(username string, status Status)

type entry struct {
	conns  map[string]Conn
	status Status
}

// Registry is the single source of truth for who is reachable right now.
// The forward (user→connections) and reverse (connection→user) indices are
// mutated together under one mutex so they can never disagree. No I/O
// happens in here.
type Registry struct {
	mu       sync.Mutex
	users    map[string]*entry
	conns    map[string]string // connID → username
	onChange ChangeFunc
}

func NewRegistry(onChange ChangeFunc) *Registry {
	return &Registry{
		users:    make(map[string]*entry),
		conns:    make(map[string]string),
		onChange: onChange,
	}
}

// Register adds a connection to the user's set. Registering the same
// connection id twice is a no-op. The Offline→Online transition fires only
// when the set was empty; Busy/Away survive extra devices connecting.
func (r *Registry) Register(username string, c Conn) {
	r.mu.Lock()
	e := r.users[username]
	if e == nil {
		e = &entry{conns: make(map[string]Conn), status: Offline}
		r.users[username] = e
	}
	if _, dup := e.conns[c.ID()]; dup {
		r.mu.Unlock()
		return
	}
	e.conns[c.ID()] = c
	r.conns[c.ID()] = username

	changed := false
	if e.status == Offline {
		e.status = Online
		changed = true
	}
	r.mu.Unlock()

	if changed && r.onChange != nil {
		r.onChange(username, Online)
	}
}

// Unregister removes a connection from whichever user owns it. The last
// connection going away transitions the user to Offline.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	username, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, connID)

	changed := false
	if e := r.users[username]; e != nil {
		delete(e.conns, connID)
		if len(e.conns) == 0 {
			delete(r.users, username)
			if e.status != Offline {
				changed = true
			}
		}
	}
	r.mu.Unlock()

	if changed && r.onChange != nil {
		r.onChange(username, Offline)
	}
}

// SetStatus is the explicit override (Busy/Away/Online/Offline). Any status
// except Offline requires at least one live connection. Offline is always
// accepted (forced logout); it does not close connections, the transport
// does that separately.
func (r *Registry) SetStatus(username string, status Status) error {
	r.mu.Lock()
	e := r.users[username]
	if status != Offline && (e == nil || len(e.conns) == 0) {
		r.mu.Unlock()
		return ErrInvalidState
	}

	changed := false
	if e != nil && e.status != status {
		e.status = status
		changed = true
	}
	r.mu.Unlock()

	if changed && r.onChange != nil {
		r.onChange(username, status)
	}
	return nil
}

// Resolve returns the live fan-out targets for a user. Empty means "not
// reachable now", which is not an error.
func (r *Registry) Resolve(username string) []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.users[username]
	if e == nil {
		return nil
	}
	out := make([]Conn, 0, len(e.conns))
	for _, c := range e.conns {
		out = append(out, c)
	}
	return out
}

// All returns every live connection, for broadcast fan-out.
func (r *Registry) All() []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Conn
	for _, e := range r.users {
		for _, c := range e.conns {
			out = append(out, c)
		}
	}
	return out
}

func (r *Registry) IsOnline(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.users[username]
	return e != nil && len(e.conns) > 0
}

func (r *Registry) Status(username string) Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e := r.users[username]; e != nil {
		return e.status
	}
	return Offline
}

// OnlineUsers lists users with at least one live connection, sorted for
// stable API responses.
func (r *Registry) OnlineUsers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.users))
	for name, e := range r.users {
		if len(e.conns) > 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
