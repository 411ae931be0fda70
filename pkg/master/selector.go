// Package master elects one master per service key on a ZooKeeper-style
// coordination service and keeps a local view of every key's master.
//
// A Selector owns one session at a time. All protocol state is driven by a
// single event loop: coordination completions, fired watches, session changes
// and caller commands are posted to a mailbox and handled one at a time. The
// Registry is the only state shared with other goroutines.
package master

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"masterselector/pkg/coordination"
	"masterselector/pkg/logger"
	"masterselector/pkg/metrics"
)

// ErrClosed is returned by operations on a closed Selector.
var ErrClosed = errors.New("selector closed")

// Options configures a Selector.
type Options struct {
	// Endpoint is passed to the Dialer.
	Endpoint string
	// Address is this process's advertised "host:port", used by RunForMaster.
	Address string
	// Root holds the claim nodes, RootPath when empty.
	Root string
	// PurgeOnDelete drops a registry entry when its claim node is deleted.
	// By default the last known address is kept.
	PurgeOnDelete bool
	// RetryInitialInterval paces transient retries; zero retries at once.
	RetryInitialInterval time.Duration
	// RetryMaxInterval caps the retry delay.
	RetryMaxInterval time.Duration
	// Logger defaults to the global logger.
	Logger *zap.Logger
}

// Selector runs master elections and keeps the master registry current.
type Selector struct {
	dialer        coordination.Dialer
	endpoint      string
	address       string
	root          string
	purgeOnDelete bool

	registry *Registry
	mailbox  *mailbox
	log      *zap.Logger

	// owned by the loop goroutine
	client     coordination.Client
	epoch      uint64
	ready      bool
	listArmed  bool
	dataArmed  map[string]bool
	retries    *retrier
	dialRetry  *backoff.ExponentialBackOff
	contenders map[string]*contender

	mu        sync.RWMutex
	states    map[string]State
	connected bool

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool
	closed  atomic.Bool
}

// New creates a Selector. Nothing happens until Start.
func New(dialer coordination.Dialer, opts Options) *Selector {
	root := opts.Root
	if root == "" {
		root = RootPath
	}
	log := opts.Logger
	if log == nil {
		log = logger.Named("master")
	}
	dialInterval := opts.RetryInitialInterval
	if dialInterval < minDialInterval {
		dialInterval = minDialInterval
	}

	return &Selector{
		dialer:        dialer,
		endpoint:      opts.Endpoint,
		address:       opts.Address,
		root:          root,
		purgeOnDelete: opts.PurgeOnDelete,
		registry:      NewRegistry(),
		mailbox:       newMailbox(),
		log:           log,
		dataArmed:     make(map[string]bool),
		retries:       newRetrier(opts.RetryInitialInterval, opts.RetryMaxInterval),
		dialRetry:     newRetryBackoff(dialInterval, maxDuration(opts.RetryMaxInterval, 10*dialInterval)),
		contenders:    make(map[string]*contender),
		states:        make(map[string]State),
		done:          make(chan struct{}),
	}
}

// Start connects and begins processing events until ctx ends or Close is called.
func (s *Selector) Start(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("start selector: already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mailbox.post(connectCmd{})
	go s.run()
	return nil
}

// Close stops the event loop and ends the session. Claims held by this
// process disappear with it.
func (s *Selector) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	if !s.started.Load() {
		return nil
	}
	s.cancel()
	<-s.done

	s.setConnected(false)
	if s.client != nil {
		err := s.client.Close()
		s.client = nil
		return err
	}
	return nil
}

// Done is closed when the event loop has stopped.
func (s *Selector) Done() <-chan struct{} {
	return s.done
}

// RunForMaster competes for key with this process's own address.
func (s *Selector) RunForMaster(key string) error {
	return s.RunForMasterWithAddress(key, s.address)
}

// RunForMasterWithAddress competes for key, claiming it with address.
// Calling it again for a key already in contention is a no-op.
func (s *Selector) RunForMasterWithAddress(key, address string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ValidateKey(key); err != nil {
		return err
	}
	if address == "" {
		return fmt.Errorf("run for master %s: empty address", key)
	}
	s.mailbox.post(competeCmd{key: key, address: address})
	return nil
}

// IsMaster reports whether host:port is the master of service:version.
func (s *Selector) IsMaster(service, version, host string, port int) bool {
	return s.registry.IsMaster(service, version, host, port)
}

// Master returns the cached master address of key.
func (s *Selector) Master(key string) (string, bool) {
	return s.registry.Get(key)
}

// Snapshot returns a copy of the master registry.
func (s *Selector) Snapshot() map[string]string {
	return s.registry.Snapshot()
}

// Registry exposes the master registry.
func (s *Selector) Registry() *Registry {
	return s.registry
}

// Address is this process's advertised address.
func (s *Selector) Address() string {
	return s.address
}

// Connected reports whether the current session is connected.
func (s *Selector) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// ContenderState returns the local election state of key.
func (s *Selector) ContenderState(key string) State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[key]
}

// Contenders returns the local election state of every key this process competes for.
func (s *Selector) Contenders() map[string]State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]State, len(s.states))
	for k, v := range s.states {
		out[k] = v
	}
	return out
}

func (s *Selector) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *Selector) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.mailbox.notify:
			for _, msg := range s.mailbox.drain() {
				if s.ctx.Err() != nil {
					return
				}
				s.handle(msg)
			}
		}
	}
}

func (s *Selector) handle(msg message) {
	switch m := msg.(type) {
	case connectCmd:
		s.connect()
	case sessionChanged:
		s.onSession(m)
	case competeCmd:
		s.register(m.key, m.address)
	case issueCmd:
		if m.req.epoch != s.epoch {
			return
		}
		s.issue(m.req)
	case completion:
		if m.req.epoch != s.epoch {
			s.log.Debug("dropping completion from previous session", zap.Stringer("op", m.req.kind), zap.String("path", m.req.path))
			return
		}
		s.onCompletion(m.req, m.res)
	case watchFired:
		if m.req.epoch != s.epoch {
			return
		}
		metrics.WatchesFired.WithLabelValues(m.event.Type.String()).Inc()
		s.onWatch(m.req, m.event)
	default:
		s.log.Warn("unknown message", zap.Any("message", msg))
	}
}

// issue sends req through the current client. The completion and any fired
// watch come back through the mailbox carrying req.
func (s *Selector) issue(req request) {
	if s.client == nil {
		s.log.Debug("no session, dropping request", zap.Stringer("op", req.kind), zap.String("path", req.path))
		return
	}
	req.epoch = s.epoch

	cb := func(res coordination.Result) {
		s.mailbox.post(completion{req: req, res: res})
	}
	var w coordination.Watcher
	if req.watch {
		w = func(ev coordination.Event) {
			s.mailbox.post(watchFired{req: req, event: ev})
		}
	}

	switch req.kind {
	case reqEnsurePath:
		s.client.Create(req.path, []byte{}, coordination.ModePersistent, cb)
	case reqListMasters:
		s.client.GetChildren(req.path, w, cb)
	case reqFetchMaster:
		s.client.GetData(req.path, w, cb)
	case reqClaim:
		s.client.Create(req.path, []byte(req.address), coordination.ModeEphemeral, cb)
	case reqWatchClaim:
		s.client.Exists(req.path, w, cb)
	case reqCheckMaster:
		s.client.GetData(req.path, nil, cb)
	}
}

func (s *Selector) onCompletion(req request, res coordination.Result) {
	metrics.RecordCompletion(req.kind.String(), res.Status.String())
	if !res.Status.Retryable() {
		s.retries.done(req)
	}

	switch req.kind {
	case reqEnsurePath:
		s.onEnsurePath(req, res)
	case reqListMasters:
		s.onListMasters(req, res)
	case reqFetchMaster:
		s.onFetchMaster(req, res)
	case reqClaim:
		s.onClaim(req, res)
	case reqWatchClaim:
		s.onWatchClaim(req, res)
	case reqCheckMaster:
		s.onCheckMaster(req, res)
	}
}

func (s *Selector) onWatch(req request, ev coordination.Event) {
	switch req.kind {
	case reqListMasters:
		s.onMastersChanged(ev)
	case reqFetchMaster:
		s.onMasterChanged(req, ev)
	case reqWatchClaim:
		s.onClaimChanged(req, ev)
	}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
