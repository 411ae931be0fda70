package master

import (
	"time"

	"go.uber.org/zap"

	"masterselector/pkg/coordination"
	"masterselector/pkg/metrics"
)

// connect opens a new session and makes it current. Everything issued
// against earlier sessions is ignored from now on.
func (s *Selector) connect() {
	s.epoch++
	s.ready = false
	s.listArmed = false
	s.dataArmed = make(map[string]bool)
	s.retries.reset()

	log := s.log.Named("session")
	epoch := s.epoch
	client, err := s.dialer.Dial(s.endpoint, func(state coordination.SessionState) {
		s.mailbox.post(sessionChanged{epoch: epoch, state: state})
	})
	if err != nil {
		metrics.Dials.WithLabelValues("error").Inc()
		delay := s.dialRetry.NextBackOff()
		log.Error("cannot connect to coordination service",
			zap.String("endpoint", s.endpoint),
			zap.Duration("retry_in", delay),
			zap.Error(err),
		)
		time.AfterFunc(delay, func() {
			s.mailbox.post(connectCmd{})
		})
		return
	}

	metrics.Dials.WithLabelValues("ok").Inc()
	s.dialRetry.Reset()
	s.client = client
	log.Info("session opened", zap.String("endpoint", s.endpoint), zap.Uint64("epoch", epoch))
}

func (s *Selector) onSession(m sessionChanged) {
	if m.epoch != s.epoch {
		return
	}
	metrics.SessionEvents.WithLabelValues(m.state.String()).Inc()
	log := s.log.Named("session").With(zap.String("endpoint", s.endpoint))

	switch m.state {
	case coordination.SessionConnected:
		log.Info("session connected")
		s.setConnected(true)
		s.ensureNamespace()
	case coordination.SessionDisconnected:
		log.Warn("session disconnected")
		s.setConnected(false)
	case coordination.SessionExpired:
		log.Warn("session expired, reconnecting")
		s.expire()
	}
}

// expire releases the dead session and starts over. Claims held by it are
// gone, so every contender restarts once the new session is ready.
func (s *Selector) expire() {
	s.setConnected(false)
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			s.log.Named("session").Debug("closing expired session", zap.Error(err))
		}
		s.client = nil
	}
	s.registry.Reset()
	for key := range s.contenders {
		s.setState(key, StateUninitiated)
	}
	s.connect()
}
