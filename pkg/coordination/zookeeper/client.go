// Package zookeeper adapts github.com/go-zookeeper/zk to the asynchronous
// coordination.Client surface.
package zookeeper

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	"go.uber.org/zap"

	"masterselector/pkg/coordination"
	"masterselector/pkg/logger"
)

// Dialer connects to a ZooKeeper ensemble.
type Dialer struct {
	SessionTimeout time.Duration
	Logger         *zap.Logger
}

// NewDialer returns a Dialer with the given session timeout.
func NewDialer(sessionTimeout time.Duration, log *zap.Logger) *Dialer {
	if log == nil {
		log = logger.Named("zookeeper")
	}
	return &Dialer{SessionTimeout: sessionTimeout, Logger: log}
}

// Dial connects to endpoint, a comma separated "host:port" list.
func (d *Dialer) Dial(endpoint string, onSession coordination.SessionHandler) (coordination.Client, error) {
	servers := ParseServers(endpoint)
	if len(servers) == 0 {
		return nil, fmt.Errorf("dial zookeeper: no servers in %q", endpoint)
	}

	conn, events, err := zk.Connect(servers, d.SessionTimeout, zk.WithLogger(logger.Printf{Logger: d.Logger}))
	if err != nil {
		return nil, fmt.Errorf("dial zookeeper %s: %w", endpoint, err)
	}

	c := &Client{conn: conn, acl: zk.WorldACL(zk.PermAll)}
	go c.forwardSessionEvents(events, onSession)
	return c, nil
}

// ParseServers splits a connection string into server addresses.
func ParseServers(endpoint string) []string {
	var out []string
	for _, s := range strings.Split(endpoint, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Client runs each call on its own goroutine and reports through the callback.
type Client struct {
	conn *zk.Conn
	acl  []zk.ACL
}

func (c *Client) forwardSessionEvents(events <-chan zk.Event, onSession coordination.SessionHandler) {
	for ev := range events {
		if ev.Type != zk.EventSession || onSession == nil {
			continue
		}
		switch ev.State {
		case zk.StateHasSession:
			onSession(coordination.SessionConnected)
		case zk.StateDisconnected:
			onSession(coordination.SessionDisconnected)
		case zk.StateExpired:
			onSession(coordination.SessionExpired)
		}
	}
}

func (c *Client) Create(path string, data []byte, mode coordination.Mode, cb coordination.Callback) {
	var flags int32
	if mode == coordination.ModeEphemeral {
		flags = zk.FlagEphemeral
	}
	go func() {
		created, err := c.conn.Create(path, data, flags, c.acl)
		if created == "" {
			created = path
		}
		cb(coordination.Result{Status: CreateStatus(err), Path: created})
	}()
}

func (c *Client) Exists(path string, w coordination.Watcher, cb coordination.Callback) {
	go func() {
		var (
			ok   bool
			stat *zk.Stat
			ch   <-chan zk.Event
			err  error
		)
		if w != nil {
			ok, stat, ch, err = c.conn.ExistsW(path)
		} else {
			ok, stat, err = c.conn.Exists(path)
		}

		res := coordination.Result{Status: Status(err), Path: path}
		if err == nil && ok {
			res.Stat = convertStat(stat)
		}
		if err != nil {
			ch = nil
		}
		complete(cb, res, ch, w)
	}()
}

func (c *Client) GetData(path string, w coordination.Watcher, cb coordination.Callback) {
	go func() {
		var (
			data []byte
			stat *zk.Stat
			ch   <-chan zk.Event
			err  error
		)
		if w != nil {
			data, stat, ch, err = c.conn.GetW(path)
		} else {
			data, stat, err = c.conn.Get(path)
		}

		res := coordination.Result{Status: Status(err), Path: path}
		if err != nil {
			cb(res)
			return
		}
		res.Data = data
		res.Stat = convertStat(stat)
		complete(cb, res, ch, w)
	}()
}

func (c *Client) GetChildren(path string, w coordination.Watcher, cb coordination.Callback) {
	go func() {
		var (
			children []string
			ch       <-chan zk.Event
			err      error
		)
		if w != nil {
			children, _, ch, err = c.conn.ChildrenW(path)
		} else {
			children, _, err = c.conn.Children(path)
		}

		res := coordination.Result{Status: Status(err), Path: path}
		if err != nil {
			cb(res)
			return
		}
		res.Children = children
		complete(cb, res, ch, w)
	}()
}

func (c *Client) Close() error {
	c.conn.Close()
	return nil
}

// complete hands res to cb and only then starts forwarding the watch, so an
// event never overtakes the completion of the call that armed it. The zk
// channel is armed already and buffers the event meanwhile.
func complete(cb coordination.Callback, res coordination.Result, ch <-chan zk.Event, w coordination.Watcher) {
	cb(res)
	if ch != nil {
		go forwardWatch(ch, w)
	}
}

// forwardWatch delivers the single event of a zk watch channel. Watches
// dropped because the session ended are not delivered.
func forwardWatch(ch <-chan zk.Event, w coordination.Watcher) {
	ev, ok := <-ch
	if !ok {
		return
	}
	t, ok := eventType(ev.Type)
	if !ok {
		return
	}
	w(coordination.Event{Type: t, Path: ev.Path})
}

func eventType(t zk.EventType) (coordination.EventType, bool) {
	switch t {
	case zk.EventNodeCreated:
		return coordination.EventNodeCreated, true
	case zk.EventNodeDeleted:
		return coordination.EventNodeDeleted, true
	case zk.EventNodeDataChanged:
		return coordination.EventNodeDataChanged, true
	case zk.EventNodeChildrenChanged:
		return coordination.EventNodeChildrenChanged, true
	default:
		return 0, false
	}
}

// Status maps a zk error to a completion status.
func Status(err error) coordination.Status {
	switch {
	case err == nil:
		return coordination.StatusOK
	case errors.Is(err, zk.ErrConnectionClosed),
		errors.Is(err, zk.ErrSessionExpired),
		errors.Is(err, zk.ErrClosing),
		errors.Is(err, zk.ErrNoServer),
		errors.Is(err, zk.ErrSessionMoved):
		return coordination.StatusConnectionLoss
	case errors.Is(err, zk.ErrNodeExists):
		return coordination.StatusNodeExists
	case errors.Is(err, zk.ErrNoNode):
		return coordination.StatusNoNode
	default:
		return coordination.StatusOther
	}
}

// CreateStatus is Status for create, where ZooKeeper reports a missing
// parent as no-node.
func CreateStatus(err error) coordination.Status {
	st := Status(err)
	if st == coordination.StatusNoNode {
		return coordination.StatusNoParent
	}
	return st
}

func convertStat(stat *zk.Stat) *coordination.Stat {
	if stat == nil {
		return nil
	}
	return &coordination.Stat{Version: int64(stat.Version), EphemeralOwner: stat.EphemeralOwner}
}
