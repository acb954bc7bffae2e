package subscription

// State is the lifecycle state of one subscription kind.
type State int

const (
	StateUncreated State = iota
	StateActive
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateUncreated:
		return "uncreated"
	case StateActive:
		return "active"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}
