package master

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"masterselector/pkg/metrics"
)

const minDialInterval = 100 * time.Millisecond

// retrier paces transient retries. A zero initial interval re-posts
// immediately. Only the selector loop touches it.
type retrier struct {
	initial     time.Duration
	maxInterval time.Duration
	pending     map[string]*backoff.ExponentialBackOff
}

func newRetrier(initial, maxInterval time.Duration) *retrier {
	return &retrier{initial: initial, maxInterval: maxInterval, pending: make(map[string]*backoff.ExponentialBackOff)}
}

func (r *retrier) next(req request) time.Duration {
	if r.initial <= 0 {
		return 0
	}
	b, ok := r.pending[req.id()]
	if !ok {
		b = newRetryBackoff(r.initial, r.maxInterval)
		r.pending[req.id()] = b
	}
	return b.NextBackOff()
}

func (r *retrier) done(req request) {
	delete(r.pending, req.id())
}

func (r *retrier) reset() {
	r.pending = make(map[string]*backoff.ExponentialBackOff)
}

func newRetryBackoff(initial, maxInterval time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.RandomizationFactor = 0.2
	b.InitialInterval = initial
	b.Multiplier = 2
	b.MaxInterval = maxInterval
	if b.MaxInterval < initial {
		b.MaxInterval = initial
	}
	b.MaxElapsedTime = 0 // never stop
	b.Reset()
	return b
}

// retry re-posts req as a fresh task after the backoff delay.
func (s *Selector) retry(req request) {
	req.attempt++
	metrics.Retries.WithLabelValues(req.kind.String()).Inc()

	delay := s.retries.next(req)
	s.log.Debug("retrying after connection loss",
		zap.Stringer("op", req.kind),
		zap.String("path", req.path),
		zap.Int("attempt", req.attempt),
		zap.Duration("delay", delay),
	)
	if delay <= 0 {
		s.mailbox.post(issueCmd{req: req})
		return
	}
	time.AfterFunc(delay, func() {
		s.mailbox.post(issueCmd{req: req})
	})
}
