package master

import (
	"go.uber.org/zap"

	"masterselector/pkg/coordination"
)

// ensureNamespace creates the root and its ancestors as persistent nodes,
// outermost first. Existing nodes count as created.
func (s *Selector) ensureNamespace() {
	paths := coordination.Ancestors(s.root)
	if len(paths) == 0 {
		s.namespaceReady()
		return
	}
	s.issue(request{kind: reqEnsurePath, path: paths[0]})
}

func (s *Selector) onEnsurePath(req request, res coordination.Result) {
	log := s.log.Named("bootstrap").With(zap.String("path", req.path))

	switch res.Status {
	case coordination.StatusOK:
		log.Info("created namespace node")
	case coordination.StatusNodeExists:
		log.Debug("namespace node exists")
	case coordination.StatusConnectionLoss:
		s.retry(req)
		return
	default:
		log.Error("cannot create namespace node", zap.Stringer("status", res.Status))
		s.namespaceReady()
		return
	}

	if next := s.nextAncestor(req.path); next != "" {
		s.issue(request{kind: reqEnsurePath, path: next})
		return
	}
	s.namespaceReady()
}

func (s *Selector) nextAncestor(path string) string {
	paths := coordination.Ancestors(s.root)
	for i, p := range paths {
		if p == path && i+1 < len(paths) {
			return paths[i+1]
		}
	}
	return ""
}

// namespaceReady loads the registry and starts contenders waiting for a session.
func (s *Selector) namespaceReady() {
	s.ready = true
	s.loadAll()
	for key, c := range s.contenders {
		if c.state == StateUninitiated {
			s.attempt(key)
		}
	}
}
