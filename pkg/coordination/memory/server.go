// Package memory is an in-process coordination service with ZooKeeper
// semantics: a node tree, sessions owning ephemeral nodes, one-shot watches
// and session expiry. It also injects faults so callers can exercise their
// connection-loss handling.
package memory

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"masterselector/pkg/coordination"
)

var (
	// ErrSessionClosed is returned for operations on an ended session.
	ErrSessionClosed = errors.New("session closed")
	// ErrNoNode is returned by the direct mutation helpers for a missing node.
	ErrNoNode = errors.New("node does not exist")
)

// Op names a client operation for fault injection.
type Op int

const (
	OpCreate Op = iota + 1
	OpExists
	OpGetData
	OpGetChildren
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpExists:
		return "exists"
	case OpGetData:
		return "get_data"
	case OpGetChildren:
		return "get_children"
	default:
		return "unknown"
	}
}

// Fault replaces the outcome of the next Count matching calls with Status.
// With Landed set the call is applied before the status is reported, which
// models a reply lost after the server committed the write.
type Fault struct {
	Op     Op
	Path   string // empty matches any path
	Status coordination.Status
	Landed bool
	Count  int
}

type node struct {
	data    []byte
	owner   int64
	version int64
}

type watch struct {
	session int64
	fn      coordination.Watcher
}

type firing struct {
	fn    coordination.Watcher
	event coordination.Event
}

// Server is the shared service state. Every Client dialed from it sees the
// same tree.
type Server struct {
	mu       sync.Mutex
	nodes    map[string]*node
	sessions map[int64]*Client
	nextID   int64
	faults   []*Fault
	dials    int
	dialErrs int
	calls    map[Op]int

	dataWatches  map[string][]watch
	childWatches map[string][]watch
}

// NewServer returns an empty service with only the root node.
func NewServer() *Server {
	return &Server{
		nodes:        make(map[string]*node),
		sessions:     make(map[int64]*Client),
		calls:        make(map[Op]int),
		dataWatches:  make(map[string][]watch),
		childWatches: make(map[string][]watch),
	}
}

// Dial opens a new session. The endpoint is ignored.
func (s *Server) Dial(_ string, onSession coordination.SessionHandler) (coordination.Client, error) {
	s.mu.Lock()
	s.dials++
	if s.dialErrs > 0 {
		s.dialErrs--
		s.mu.Unlock()
		return nil, fmt.Errorf("dial memory server: %w", ErrSessionClosed)
	}
	s.nextID++
	c := &Client{server: s, id: s.nextID, onSession: onSession}
	s.sessions[c.id] = c
	s.mu.Unlock()

	if onSession != nil {
		onSession(coordination.SessionConnected)
	}
	return c, nil
}

// FailDials makes the next n Dial calls fail.
func (s *Server) FailDials(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialErrs = n
}

// Dials returns the number of Dial calls so far.
func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// Calls returns how many times op was invoked by any session.
func (s *Server) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// InjectFault queues a fault.
func (s *Server) InjectFault(f Fault) {
	if f.Count <= 0 {
		f.Count = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, &f)
}

// PendingFaults returns how many injected failures have not triggered yet.
func (s *Server) PendingFaults() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.faults {
		n += f.Count
	}
	return n
}

// Get returns the payload of path.
func (s *Server) Get(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), n.data...), true
}

// Owner returns the session owning the ephemeral node at path, 0 if the node
// is persistent or missing.
func (s *Server) Owner(path string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[path]; ok {
		return n.owner
	}
	return 0
}

// Set overwrites the payload of an existing node, as an administrator would.
func (s *Server) Set(path string, data []byte) error {
	s.mu.Lock()
	n, ok := s.nodes[path]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("set %s: %w", path, ErrNoNode)
	}
	n.data = append([]byte(nil), data...)
	n.version++
	fired := s.takeData(path, coordination.EventNodeDataChanged)
	s.mu.Unlock()

	deliver(fired)
	return nil
}

// Delete removes a node, as an administrator would.
func (s *Server) Delete(path string) error {
	s.mu.Lock()
	if _, ok := s.nodes[path]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("delete %s: %w", path, ErrNoNode)
	}
	fired := s.remove(path)
	s.mu.Unlock()

	deliver(fired)
	return nil
}

// ExpireSession ends a session the way a server side timeout would: its
// ephemeral nodes are removed, its watches dropped and its handler told.
func (s *Server) ExpireSession(id int64) {
	s.mu.Lock()
	c, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	fired := s.endSession(c)
	s.mu.Unlock()

	deliver(fired)
	if c.onSession != nil {
		c.onSession(coordination.SessionExpired)
	}
}

// Disconnect reports a transient disconnect to a session without ending it.
func (s *Server) Disconnect(id int64) {
	s.mu.Lock()
	c, ok := s.sessions[id]
	s.mu.Unlock()
	if ok && c.onSession != nil {
		c.onSession(coordination.SessionDisconnected)
		c.onSession(coordination.SessionConnected)
	}
}

// Sessions returns the ids of live sessions, oldest first.
func (s *Server) Sessions() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// must hold mu
func (s *Server) endSession(c *Client) []firing {
	delete(s.sessions, c.id)
	c.closed = true

	var fired []firing
	for path, n := range s.nodes {
		if n.owner == c.id {
			fired = append(fired, s.remove(path)...)
		}
	}
	for path, ws := range s.dataWatches {
		s.dataWatches[path] = dropSession(ws, c.id)
	}
	for path, ws := range s.childWatches {
		s.childWatches[path] = dropSession(ws, c.id)
	}
	return fired
}

// must hold mu
func (s *Server) takeFault(op Op, path string) *Fault {
	for i, f := range s.faults {
		if f.Op != op || (f.Path != "" && f.Path != path) {
			continue
		}
		f.Count--
		if f.Count == 0 {
			s.faults = append(s.faults[:i], s.faults[i+1:]...)
		}
		return f
	}
	return nil
}

// must hold mu
func (s *Server) exists(path string) bool {
	if path == "/" {
		return true
	}
	_, ok := s.nodes[path]
	return ok
}

// must hold mu
func (s *Server) create(path string, data []byte, mode coordination.Mode, owner int64) (coordination.Status, []firing) {
	if s.exists(path) {
		return coordination.StatusNodeExists, nil
	}
	if !s.exists(coordination.Parent(path)) {
		return coordination.StatusNoParent, nil
	}
	n := &node{data: append([]byte(nil), data...)}
	if mode == coordination.ModeEphemeral {
		n.owner = owner
	}
	s.nodes[path] = n

	fired := s.takeData(path, coordination.EventNodeCreated)
	fired = append(fired, s.takeChildren(coordination.Parent(path))...)
	return coordination.StatusOK, fired
}

// must hold mu
func (s *Server) remove(path string) []firing {
	delete(s.nodes, path)
	fired := s.takeData(path, coordination.EventNodeDeleted)
	fired = append(fired, s.takeChildren(coordination.Parent(path))...)
	return fired
}

// must hold mu
func (s *Server) children(path string) []string {
	prefix := path + "/"
	if path == "/" {
		prefix = "/"
	}
	var out []string
	for p := range s.nodes {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := p[len(prefix):]
		if rest != "" && !strings.Contains(rest, "/") {
			out = append(out, rest)
		}
	}
	sort.Strings(out)
	return out
}

// must hold mu
func (s *Server) takeData(path string, t coordination.EventType) []firing {
	ws := s.dataWatches[path]
	delete(s.dataWatches, path)
	return s.firings(ws, coordination.Event{Type: t, Path: path})
}

// must hold mu
func (s *Server) takeChildren(path string) []firing {
	ws := s.childWatches[path]
	delete(s.childWatches, path)
	return s.firings(ws, coordination.Event{Type: coordination.EventNodeChildrenChanged, Path: path})
}

// must hold mu
func (s *Server) firings(ws []watch, ev coordination.Event) []firing {
	out := make([]firing, 0, len(ws))
	for _, w := range ws {
		if _, live := s.sessions[w.session]; live {
			out = append(out, firing{fn: w.fn, event: ev})
		}
	}
	return out
}

func dropSession(ws []watch, id int64) []watch {
	kept := ws[:0]
	for _, w := range ws {
		if w.session != id {
			kept = append(kept, w)
		}
	}
	return kept
}

func deliver(fired []firing) {
	for _, f := range fired {
		f.fn(f.event)
	}
}
