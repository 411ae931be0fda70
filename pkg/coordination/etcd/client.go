// Package etcd emulates the coordination node tree on etcd. A node is a key,
// an ephemeral node is a key bound to the session lease, and a one-shot watch
// is an etcd watch cancelled after its first relevant event.
package etcd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"masterselector/pkg/coordination"
	"masterselector/pkg/logger"
)

// Dialer opens etcd sessions.
type Dialer struct {
	SessionTTL  int // seconds
	DialTimeout time.Duration
	OpTimeout   time.Duration
	Logger      *zap.Logger
}

// NewDialer returns a Dialer, defaulting the op timeout to five seconds.
func NewDialer(sessionTTL int, opTimeout time.Duration, log *zap.Logger) *Dialer {
	if log == nil {
		log = logger.Named("etcd")
	}
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}
	return &Dialer{SessionTTL: sessionTTL, DialTimeout: 5 * time.Second, OpTimeout: opTimeout, Logger: log}
}

// Dial connects to endpoint, a comma separated list, and opens a lease backed session.
func (d *Dialer) Dial(endpoint string, onSession coordination.SessionHandler) (coordination.Client, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   ParseEndpoints(endpoint),
		DialTimeout: d.DialTimeout,
		Logger:      d.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	// Create a concurrency session (keeps lease alive via heartbeats)
	sess, err := concurrency.NewSession(cli, concurrency.WithTTL(d.SessionTTL))
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to create concurrency session: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		client:    cli,
		session:   sess,
		opTimeout: d.OpTimeout,
		ctx:       ctx,
		cancel:    cancel,
		log:       d.Logger,
	}
	go c.superviseSession(onSession)
	return c, nil
}

// ParseEndpoints splits a comma separated endpoint list.
func ParseEndpoints(endpoint string) []string {
	var out []string
	for _, e := range strings.Split(endpoint, ",") {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}

// Client implements coordination.Client on one etcd lease.
type Client struct {
	client    *clientv3.Client
	session   *concurrency.Session
	opTimeout time.Duration
	ctx       context.Context
	cancel    context.CancelFunc
	log       *zap.Logger
}

func (c *Client) superviseSession(onSession coordination.SessionHandler) {
	if onSession == nil {
		return
	}
	onSession(coordination.SessionConnected)
	select {
	case <-c.session.Done():
		if c.ctx.Err() == nil {
			onSession(coordination.SessionExpired)
		}
	case <-c.ctx.Done():
	}
}

func (c *Client) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.ctx, c.opTimeout)
}

func (c *Client) Create(path string, data []byte, mode coordination.Mode, cb coordination.Callback) {
	go func() {
		ctx, cancel := c.opContext()
		defer cancel()

		cmps := []clientv3.Cmp{clientv3.Compare(clientv3.CreateRevision(path), "=", 0)}
		if parent := coordination.Parent(path); parent != "/" {
			cmps = append(cmps, clientv3.Compare(clientv3.CreateRevision(parent), ">", 0))
		}
		var opts []clientv3.OpOption
		if mode == coordination.ModeEphemeral {
			opts = append(opts, clientv3.WithLease(c.session.Lease()))
		}

		resp, err := c.client.Txn(ctx).
			If(cmps...).
			Then(clientv3.OpPut(path, string(data), opts...)).
			Else(clientv3.OpGet(path, clientv3.WithCountOnly())).
			Commit()
		if err != nil {
			cb(coordination.Result{Status: Status(err), Path: path})
			return
		}

		res := coordination.Result{Status: coordination.StatusOK, Path: path}
		if !resp.Succeeded {
			res.Status = coordination.StatusNoParent
			if rng := resp.Responses[0].GetResponseRange(); rng != nil && rng.Count > 0 {
				res.Status = coordination.StatusNodeExists
			}
		}
		cb(res)
	}()
}

func (c *Client) Exists(path string, w coordination.Watcher, cb coordination.Callback) {
	go func() {
		ctx, cancel := c.opContext()
		defer cancel()

		resp, err := c.client.Get(ctx, path)
		if err != nil {
			cb(coordination.Result{Status: Status(err), Path: path})
			return
		}

		res := coordination.Result{Status: coordination.StatusOK, Path: path}
		if len(resp.Kvs) > 0 {
			res.Stat = convertStat(resp.Kvs[0])
		}
		complete(cb, res, w, func() { c.watchNode(path, resp.Header.Revision+1, w) })
	}()
}

func (c *Client) GetData(path string, w coordination.Watcher, cb coordination.Callback) {
	go func() {
		ctx, cancel := c.opContext()
		defer cancel()

		resp, err := c.client.Get(ctx, path)
		if err != nil {
			cb(coordination.Result{Status: Status(err), Path: path})
			return
		}
		if len(resp.Kvs) == 0 {
			cb(coordination.Result{Status: coordination.StatusNoNode, Path: path})
			return
		}

		kv := resp.Kvs[0]
		res := coordination.Result{
			Status: coordination.StatusOK,
			Path:   path,
			Data:   kv.Value,
			Stat:   convertStat(kv),
		}
		complete(cb, res, w, func() { c.watchNode(path, resp.Header.Revision+1, w) })
	}()
}

func (c *Client) GetChildren(path string, w coordination.Watcher, cb coordination.Callback) {
	go func() {
		ctx, cancel := c.opContext()
		defer cancel()

		if path != "/" {
			node, err := c.client.Get(ctx, path, clientv3.WithCountOnly())
			if err != nil {
				cb(coordination.Result{Status: Status(err), Path: path})
				return
			}
			if node.Count == 0 {
				cb(coordination.Result{Status: coordination.StatusNoNode, Path: path})
				return
			}
		}

		resp, err := c.client.Get(ctx, childPrefix(path), clientv3.WithPrefix(), clientv3.WithKeysOnly())
		if err != nil {
			cb(coordination.Result{Status: Status(err), Path: path})
			return
		}
		keys := make([]string, 0, len(resp.Kvs))
		for _, kv := range resp.Kvs {
			keys = append(keys, string(kv.Key))
		}
		res := coordination.Result{Status: coordination.StatusOK, Path: path, Children: DirectChildren(path, keys)}
		complete(cb, res, w, func() { c.watchChildren(path, resp.Header.Revision+1, w) })
	}()
}

// Close revokes the session lease, removing ephemeral nodes, and closes the client.
func (c *Client) Close() error {
	c.cancel()
	if err := c.session.Close(); err != nil {
		c.log.Debug("closing etcd session", zap.Error(err))
	}
	return c.client.Close()
}

func (c *Client) watchNode(path string, rev int64, w coordination.Watcher) {
	ctx, cancel := context.WithCancel(c.ctx)
	defer cancel()

	for wresp := range c.client.Watch(ctx, path, clientv3.WithRev(rev)) {
		if err := wresp.Err(); err != nil {
			c.log.Warn("watch lost", zap.String("path", path), zap.Error(err))
			return
		}
		for _, ev := range wresp.Events {
			w(coordination.Event{Type: nodeEventType(ev), Path: path})
			return
		}
	}
}

func (c *Client) watchChildren(path string, rev int64, w coordination.Watcher) {
	ctx, cancel := context.WithCancel(c.ctx)
	defer cancel()

	for wresp := range c.client.Watch(ctx, childPrefix(path), clientv3.WithPrefix(), clientv3.WithRev(rev)) {
		if err := wresp.Err(); err != nil {
			c.log.Warn("children watch lost", zap.String("path", path), zap.Error(err))
			return
		}
		for _, ev := range wresp.Events {
			if !IsDirectChild(path, string(ev.Kv.Key)) {
				continue
			}
			if ev.Type == mvccpb.DELETE || ev.IsCreate() {
				w(coordination.Event{Type: coordination.EventNodeChildrenChanged, Path: path})
				return
			}
		}
	}
}

// complete hands res to cb before starting watch, so an event never
// overtakes the completion of the call that armed it. Watches start at the
// revision after the read and miss nothing in between.
func complete(cb coordination.Callback, res coordination.Result, w coordination.Watcher, watch func()) {
	cb(res)
	if w != nil {
		go watch()
	}
}

func nodeEventType(ev *clientv3.Event) coordination.EventType {
	switch {
	case ev.Type == mvccpb.DELETE:
		return coordination.EventNodeDeleted
	case ev.IsCreate():
		return coordination.EventNodeCreated
	default:
		return coordination.EventNodeDataChanged
	}
}

func childPrefix(path string) string {
	if path == "/" {
		return "/"
	}
	return path + "/"
}

// IsDirectChild reports whether key names a child of path, not a deeper descendant.
func IsDirectChild(path, key string) bool {
	prefix := childPrefix(path)
	if !strings.HasPrefix(key, prefix) {
		return false
	}
	rest := key[len(prefix):]
	return rest != "" && !strings.Contains(rest, "/")
}

// DirectChildren returns the child names of path among keys.
func DirectChildren(path string, keys []string) []string {
	out := make([]string, 0, len(keys))
	prefix := childPrefix(path)
	for _, k := range keys {
		if IsDirectChild(path, k) {
			out = append(out, k[len(prefix):])
		}
	}
	return out
}

// Status maps an etcd client error to a completion status.
func Status(err error) coordination.Status {
	switch {
	case err == nil:
		return coordination.StatusOK
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		clientv3.IsConnCanceled(err),
		errors.Is(err, rpctypes.ErrNoLeader),
		errors.Is(err, rpctypes.ErrTimeout),
		errors.Is(err, rpctypes.ErrTimeoutDueToLeaderFail),
		errors.Is(err, rpctypes.ErrTimeoutDueToConnectionLost),
		errors.Is(err, rpctypes.ErrLeaseNotFound):
		return coordination.StatusConnectionLoss
	}
	if s, ok := status.FromError(err); ok && s.Code() == codes.Unavailable {
		return coordination.StatusConnectionLoss
	}
	return coordination.StatusOther
}

func convertStat(kv *mvccpb.KeyValue) *coordination.Stat {
	return &coordination.Stat{Version: kv.Version, EphemeralOwner: kv.Lease}
}
