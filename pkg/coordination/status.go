package coordination

// Status is the completion code of a coordination call.
type Status int

const (
	StatusOK Status = iota
	StatusConnectionLoss
	StatusNodeExists
	StatusNoNode
	StatusNoParent
	StatusOther
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusConnectionLoss:
		return "connection_loss"
	case StatusNodeExists:
		return "node_exists"
	case StatusNoNode:
		return "no_node"
	case StatusNoParent:
		return "no_parent"
	default:
		return "other"
	}
}

// Retryable reports whether the same call may be repeated with the same arguments.
func (s Status) Retryable() bool {
	return s == StatusConnectionLoss
}

// EventType is the kind of change a watch observed.
type EventType int

const (
	EventNodeCreated EventType = iota + 1
	EventNodeDeleted
	EventNodeDataChanged
	EventNodeChildrenChanged
)

func (t EventType) String() string {
	switch t {
	case EventNodeCreated:
		return "node_created"
	case EventNodeDeleted:
		return "node_deleted"
	case EventNodeDataChanged:
		return "node_data_changed"
	case EventNodeChildrenChanged:
		return "node_children_changed"
	default:
		return "unknown"
	}
}

// Event is a fired watch.
type Event struct {
	Type EventType
	Path string
}

// SessionState is a session lifecycle change.
type SessionState int

const (
	SessionConnected SessionState = iota + 1
	SessionDisconnected
	SessionExpired
)

func (s SessionState) String() string {
	switch s {
	case SessionConnected:
		return "connected"
	case SessionDisconnected:
		return "disconnected"
	case SessionExpired:
		return "expired"
	default:
		return "unknown"
	}
}
