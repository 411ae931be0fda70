package master

import (
	"go.uber.org/zap"

	"masterselector/pkg/coordination"
)

// loadAll lists the claim nodes and fetches each one. The listing arms a
// children watch unless one is already armed.
func (s *Selector) loadAll() {
	req := request{kind: reqListMasters, path: s.root, watch: !s.listArmed}
	if req.watch {
		s.listArmed = true
	}
	s.issue(req)
}

// loadOne fetches the master of key, arming a data watch unless one is
// already armed.
func (s *Selector) loadOne(key string) {
	req := request{kind: reqFetchMaster, key: key, path: ClaimPath(s.root, key), watch: !s.dataArmed[key]}
	if req.watch {
		s.dataArmed[key] = true
	}
	s.issue(req)
}

func (s *Selector) onListMasters(req request, res coordination.Result) {
	log := s.log.Named("registry")

	switch res.Status {
	case coordination.StatusOK:
		log.Info("listed master services", zap.Int("count", len(res.Children)))
		for _, key := range res.Children {
			s.loadOne(key)
		}
	case coordination.StatusConnectionLoss:
		s.retry(req)
	default:
		if req.watch {
			s.listArmed = false
		}
		log.Error("cannot list master services", zap.String("path", req.path), zap.Stringer("status", res.Status))
	}
}

func (s *Selector) onFetchMaster(req request, res coordination.Result) {
	log := s.log.Named("registry").With(zap.String("key", req.key))

	switch res.Status {
	case coordination.StatusOK:
		addr := string(res.Data)
		s.registry.Put(req.key, addr)
		log.Debug("master recorded", zap.String("address", addr))
	case coordination.StatusConnectionLoss:
		s.retry(req)
	case coordination.StatusNoNode:
		if req.watch {
			s.dataArmed[req.key] = false
		}
		s.forget(req.key)
	default:
		if req.watch {
			s.dataArmed[req.key] = false
		}
		log.Error("cannot fetch master", zap.String("path", req.path), zap.Stringer("status", res.Status))
	}
}

func (s *Selector) onMastersChanged(ev coordination.Event) {
	s.listArmed = false
	s.log.Named("registry").Info("master services changed, listing again", zap.String("path", ev.Path))
	s.loadAll()
}

func (s *Selector) onMasterChanged(req request, ev coordination.Event) {
	key := KeyFromPath(ev.Path)
	s.dataArmed[req.key] = false

	switch ev.Type {
	case coordination.EventNodeDataChanged:
		s.log.Named("registry").Info("master changed, fetching again", zap.String("key", key))
		s.loadOne(key)
	case coordination.EventNodeDeleted:
		s.forget(key)
	}
}

// forget handles a claim node that is gone. The last known address stays
// unless purging is enabled.
func (s *Selector) forget(key string) {
	if !s.purgeOnDelete {
		s.log.Named("registry").Debug("claim node gone, keeping last known master", zap.String("key", key))
		return
	}
	s.registry.Delete(key)
	s.log.Named("registry").Info("claim node gone, master forgotten", zap.String("key", key))
}
