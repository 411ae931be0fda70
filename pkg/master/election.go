package master

import (
	"go.uber.org/zap"

	"masterselector/pkg/coordination"
	"masterselector/pkg/metrics"
)

// State is the local election state of one service key.
type State int

const (
	StateUninitiated State = iota
	StateAttemptingCreate
	StateWatchingForDeletion
	StateClaimed
)

func (s State) String() string {
	switch s {
	case StateAttemptingCreate:
		return "attempting-create"
	case StateWatchingForDeletion:
		return "watching-for-deletion"
	case StateClaimed:
		return "claimed"
	default:
		return "uninitiated"
	}
}

type contender struct {
	address string
	state   State
}

func (s *Selector) setState(key string, state State) {
	c := s.contenders[key]
	if c.state == state {
		return
	}
	if c.state == StateClaimed {
		metrics.ClaimedKeys.Dec()
	}
	if state == StateClaimed {
		metrics.ClaimedKeys.Inc()
	}
	c.state = state

	s.mu.Lock()
	s.states[key] = state
	s.mu.Unlock()
}

// register records a new contender, or a new address for an existing one,
// and starts it once the session is ready.
func (s *Selector) register(key, address string) {
	log := s.log.Named("election").With(zap.String("key", key))

	c, ok := s.contenders[key]
	if !ok {
		c = &contender{}
		s.contenders[key] = c
		s.mu.Lock()
		s.states[key] = StateUninitiated
		s.mu.Unlock()
	}
	c.address = address

	if !s.ready {
		log.Info("session not ready, contention deferred")
		return
	}
	if c.state != StateUninitiated {
		log.Debug("already competing", zap.Stringer("state", c.state))
		return
	}
	s.attempt(key)
}

// attempt is step one: try to create the claim node. A contender that is
// already creating or holds the claim is left alone, so one vacancy leads to
// one create.
func (s *Selector) attempt(key string) {
	c := s.contenders[key]
	if c.state == StateAttemptingCreate || c.state == StateClaimed {
		return
	}
	s.setState(key, StateAttemptingCreate)
	s.claim(key)
}

func (s *Selector) claim(key string) {
	c := s.contenders[key]
	s.issue(request{kind: reqClaim, key: key, address: c.address, path: ClaimPath(s.root, key)})
}

func (s *Selector) onClaim(req request, res coordination.Result) {
	c, ok := s.contenders[req.key]
	if !ok || c.state != StateAttemptingCreate {
		return
	}
	log := s.log.Named("election").With(zap.String("key", req.key), zap.String("address", req.address))

	switch res.Status {
	case coordination.StatusOK:
		s.setState(req.key, StateClaimed)
		metrics.ElectionsWon.WithLabelValues(req.key).Inc()
		log.Info("won master election")
	case coordination.StatusNodeExists:
		metrics.ElectionsLost.WithLabelValues(req.key).Inc()
		log.Info("lost master election, watching incumbent")
		s.setState(req.key, StateWatchingForDeletion)
		s.watchClaim(req.key)
	case coordination.StatusConnectionLoss:
		// The create may have landed before the connection dropped: read
		// the node instead of creating again.
		s.checkMaster(req.key, reqClaim)
	case coordination.StatusNoParent:
		metrics.ElectionsAbandoned.WithLabelValues(req.key, res.Status.String()).Inc()
		log.Error("claim parent node missing, giving up", zap.String("path", req.path))
		s.setState(req.key, StateUninitiated)
	default:
		metrics.ElectionsAbandoned.WithLabelValues(req.key, res.Status.String()).Inc()
		log.Error("cannot create claim node", zap.String("path", req.path), zap.Stringer("status", res.Status))
		s.setState(req.key, StateUninitiated)
	}
}

// watchClaim is step two: watch the incumbent's claim node for deletion.
func (s *Selector) watchClaim(key string) {
	c := s.contenders[key]
	s.issue(request{kind: reqWatchClaim, key: key, address: c.address, path: ClaimPath(s.root, key), watch: true})
}

func (s *Selector) onWatchClaim(req request, res coordination.Result) {
	c, ok := s.contenders[req.key]
	if !ok || c.state != StateWatchingForDeletion {
		return
	}

	switch {
	case res.Status == coordination.StatusConnectionLoss:
		s.retry(req)
	case res.Status == coordination.StatusNoNode,
		res.Status == coordination.StatusOK && res.Stat == nil:
		s.log.Named("election").Info("incumbent already gone, competing", zap.String("key", req.key))
		s.attempt(req.key)
	case res.Status == coordination.StatusOK:
		s.checkMaster(req.key, reqWatchClaim)
	default:
		// No watch is armed; the contender cannot learn of a vacancy, so it
		// gives the key up. The check still records the incumbent.
		s.log.Named("election").Error("cannot watch claim node, giving up",
			zap.String("key", req.key), zap.Stringer("status", res.Status))
		metrics.ElectionsAbandoned.WithLabelValues(req.key, res.Status.String()).Inc()
		s.setState(req.key, StateUninitiated)
		s.checkMaster(req.key, reqWatchClaim)
	}
}

func (s *Selector) onClaimChanged(req request, ev coordination.Event) {
	c, ok := s.contenders[req.key]
	if !ok {
		return
	}
	log := s.log.Named("election").With(zap.String("key", req.key))

	switch ev.Type {
	case coordination.EventNodeDeleted:
		if c.state != StateWatchingForDeletion {
			return
		}
		log.Info("incumbent gone, competing")
		s.attempt(req.key)
	case coordination.EventNodeDataChanged:
		if c.state == StateWatchingForDeletion {
			s.watchClaim(req.key)
		}
	}
}

// checkMaster is step three: read the claim node without a watch. The
// address found is recorded in the registry. after tells which step asked.
func (s *Selector) checkMaster(key string, after requestKind) {
	c := s.contenders[key]
	s.issue(request{kind: reqCheckMaster, key: key, address: c.address, path: ClaimPath(s.root, key), after: after})
}

func (s *Selector) onCheckMaster(req request, res coordination.Result) {
	log := s.log.Named("election").With(zap.String("key", req.key))

	switch res.Status {
	case coordination.StatusOK:
		addr := string(res.Data)
		s.registry.Put(req.key, addr)
		s.reconcile(req, addr)
	case coordination.StatusNoNode:
		c, ok := s.contenders[req.key]
		if !ok {
			return
		}
		switch {
		case req.after == reqClaim && c.state == StateAttemptingCreate:
			log.Info("claim node missing after connection loss, creating again")
			s.claim(req.key)
		case req.after == reqWatchClaim && c.state == StateWatchingForDeletion:
			log.Info("incumbent gone, competing")
			s.attempt(req.key)
		}
	case coordination.StatusConnectionLoss:
		s.retry(req)
	default:
		log.Error("cannot check master", zap.String("path", req.path), zap.Stringer("status", res.Status))
		c, ok := s.contenders[req.key]
		if !ok {
			return
		}
		// A create whose reply was lost has nothing pending now; hand the key
		// back so the next session or RunForMaster competes again. A watching
		// contender keeps its armed exists watch.
		if req.after == reqClaim && c.state == StateAttemptingCreate {
			metrics.ElectionsAbandoned.WithLabelValues(req.key, res.Status.String()).Inc()
			s.setState(req.key, StateUninitiated)
		}
	}
}

// reconcile settles a contender whose create lost its reply: the node found
// is either its own claim or an incumbent to watch.
func (s *Selector) reconcile(req request, addr string) {
	c, ok := s.contenders[req.key]
	if !ok || req.after != reqClaim || c.state != StateAttemptingCreate {
		return
	}
	log := s.log.Named("election").With(zap.String("key", req.key))

	if addr == req.address {
		s.setState(req.key, StateClaimed)
		metrics.ElectionsWon.WithLabelValues(req.key).Inc()
		log.Info("won master election", zap.String("address", addr))
		return
	}
	metrics.ElectionsLost.WithLabelValues(req.key).Inc()
	log.Info("lost master election, watching incumbent", zap.String("master", addr))
	s.setState(req.key, StateWatchingForDeletion)
	s.watchClaim(req.key)
}
