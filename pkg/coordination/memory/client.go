package memory

import (
	"fmt"

	"masterselector/pkg/coordination"
)

// Client is one session against a Server. Callbacks and watches are invoked
// on the calling goroutine once the server lock is released.
type Client struct {
	server    *Server
	id        int64
	onSession coordination.SessionHandler
	closed    bool // guarded by server.mu
}

// SessionID identifies the session owning this client's ephemeral nodes.
func (c *Client) SessionID() int64 {
	return c.id
}

func (c *Client) Create(path string, data []byte, mode coordination.Mode, cb coordination.Callback) {
	s := c.server
	s.mu.Lock()
	s.calls[OpCreate]++
	if c.closed {
		s.mu.Unlock()
		cb(coordination.Result{Status: coordination.StatusConnectionLoss, Path: path})
		return
	}

	var fired []firing
	status := coordination.StatusOK
	if f := s.takeFault(OpCreate, path); f != nil {
		if f.Landed {
			_, fired = s.create(path, data, mode, c.id)
		}
		status = f.Status
	} else {
		status, fired = s.create(path, data, mode, c.id)
	}
	s.mu.Unlock()

	deliver(fired)
	cb(coordination.Result{Status: status, Path: path})
}

func (c *Client) Exists(path string, w coordination.Watcher, cb coordination.Callback) {
	s := c.server
	s.mu.Lock()
	if res, failed := c.precheck(OpExists, path); failed {
		s.mu.Unlock()
		cb(res)
		return
	}

	res := coordination.Result{Status: coordination.StatusOK, Path: path}
	if n, ok := s.nodes[path]; ok {
		res.Stat = &coordination.Stat{Version: n.version, EphemeralOwner: n.owner}
	}
	if w != nil {
		s.dataWatches[path] = append(s.dataWatches[path], watch{session: c.id, fn: w})
	}
	s.mu.Unlock()

	cb(res)
}

func (c *Client) GetData(path string, w coordination.Watcher, cb coordination.Callback) {
	s := c.server
	s.mu.Lock()
	if res, failed := c.precheck(OpGetData, path); failed {
		s.mu.Unlock()
		cb(res)
		return
	}

	n, ok := s.nodes[path]
	if !ok {
		s.mu.Unlock()
		cb(coordination.Result{Status: coordination.StatusNoNode, Path: path})
		return
	}
	res := coordination.Result{
		Status: coordination.StatusOK,
		Path:   path,
		Data:   append([]byte(nil), n.data...),
		Stat:   &coordination.Stat{Version: n.version, EphemeralOwner: n.owner},
	}
	if w != nil {
		s.dataWatches[path] = append(s.dataWatches[path], watch{session: c.id, fn: w})
	}
	s.mu.Unlock()

	cb(res)
}

func (c *Client) GetChildren(path string, w coordination.Watcher, cb coordination.Callback) {
	s := c.server
	s.mu.Lock()
	if res, failed := c.precheck(OpGetChildren, path); failed {
		s.mu.Unlock()
		cb(res)
		return
	}

	if !s.exists(path) {
		s.mu.Unlock()
		cb(coordination.Result{Status: coordination.StatusNoNode, Path: path})
		return
	}
	res := coordination.Result{Status: coordination.StatusOK, Path: path, Children: s.children(path)}
	if w != nil {
		s.childWatches[path] = append(s.childWatches[path], watch{session: c.id, fn: w})
	}
	s.mu.Unlock()

	cb(res)
}

// Close ends the session. Its ephemeral nodes are removed.
func (c *Client) Close() error {
	s := c.server
	s.mu.Lock()
	if c.closed {
		s.mu.Unlock()
		return fmt.Errorf("close session %d: %w", c.id, ErrSessionClosed)
	}
	fired := s.endSession(c)
	s.mu.Unlock()

	deliver(fired)
	return nil
}

// precheck handles closed sessions and injected faults for read calls.
// must hold server.mu
func (c *Client) precheck(op Op, path string) (coordination.Result, bool) {
	c.server.calls[op]++
	if c.closed {
		return coordination.Result{Status: coordination.StatusConnectionLoss, Path: path}, true
	}
	if f := c.server.takeFault(op, path); f != nil {
		return coordination.Result{Status: f.Status, Path: path}, true
	}
	return coordination.Result{}, false
}
