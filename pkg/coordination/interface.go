package coordination

// Client is the narrow asynchronous surface of a hierarchical, watch-capable
// coordination service (ZooKeeper semantics).
//
// Every call returns immediately. The callback is invoked exactly once when the
// server answers or the connection fails. A nil Watcher requests no watch; a
// non-nil Watcher fires at most once.
type Client interface {
	// Create creates path with the given payload and mode.
	// A missing ancestor completes with StatusNoParent.
	Create(path string, data []byte, mode Mode, cb Callback)

	// Exists reports whether path exists. A missing node completes with
	// StatusOK and a nil Stat; the watch is still armed and fires on creation.
	Exists(path string, w Watcher, cb Callback)

	// GetData reads the payload of path. No watch is armed when the node is missing.
	GetData(path string, w Watcher, cb Callback)

	// GetChildren lists the direct children of path.
	GetChildren(path string, w Watcher, cb Callback)

	// Close ends the session. Ephemeral nodes owned by it are removed.
	Close() error
}

// Dialer opens sessions against a coordination service endpoint.
type Dialer interface {
	// Dial connects to endpoint. Session state changes, including the first
	// Connected, are reported to onSession.
	Dial(endpoint string, onSession SessionHandler) (Client, error)
}

// Callback receives the completion of an asynchronous call.
type Callback func(Result)

// Watcher receives a fired one-shot watch.
type Watcher func(Event)

// SessionHandler receives session lifecycle changes.
type SessionHandler func(SessionState)

// Result is the completion of an asynchronous call.
type Result struct {
	Status   Status
	Path     string
	Data     []byte
	Stat     *Stat
	Children []string
}

// Stat is the subset of node metadata this module relies on.
type Stat struct {
	Version        int64
	EphemeralOwner int64
}

// Mode selects the lifetime of a created node.
type Mode int

const (
	ModePersistent Mode = iota
	ModeEphemeral
)

func (m Mode) String() string {
	if m == ModeEphemeral {
		return "ephemeral"
	}
	return "persistent"
}
