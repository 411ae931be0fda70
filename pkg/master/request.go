package master

import "masterselector/pkg/coordination"

type requestKind int

const (
	reqEnsurePath requestKind = iota + 1
	reqListMasters
	reqFetchMaster
	reqClaim
	reqWatchClaim
	reqCheckMaster
)

func (k requestKind) String() string {
	switch k {
	case reqEnsurePath:
		return "ensure_path"
	case reqListMasters:
		return "list_masters"
	case reqFetchMaster:
		return "fetch_master"
	case reqClaim:
		return "claim"
	case reqWatchClaim:
		return "watch_claim"
	case reqCheckMaster:
		return "check_master"
	default:
		return "unknown"
	}
}

// request is everything a continuation needs. It travels through the
// coordination call and comes back verbatim with the completion, and a
// retry re-posts it unchanged apart from attempt.
type request struct {
	kind    requestKind
	key     string
	address string
	path    string
	watch   bool
	attempt int
	epoch   uint64

	// after is the step that issued a check_master.
	after requestKind
}

// id identifies a request across retries.
func (r request) id() string {
	return r.kind.String() + " " + r.path
}

type message interface{}

type connectCmd struct{}

type competeCmd struct {
	key     string
	address string
}

type issueCmd struct {
	req request
}

type completion struct {
	req request
	res coordination.Result
}

type watchFired struct {
	req   request
	event coordination.Event
}

type sessionChanged struct {
	epoch uint64
	state coordination.SessionState
}
