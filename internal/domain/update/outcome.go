package update

// SelfUpdateOutcome is the agent's decision after detecting a new digest of its own image.
type SelfUpdateOutcome int

const (
	// SelfUpdateNone means the agent image is already current.
	SelfUpdateNone SelfUpdateOutcome = iota
	// SelfUpdateDeferred means a new agent image was staged and the
	// restart is left to the reconciliation cycle.
	SelfUpdateDeferred
	// SelfUpdateRestartNow means the agent should be recreated immediately.
	// The agent currently never picks this policy; it exists so the decision
	// stays explicit at call sites.
	SelfUpdateRestartNow
)

// String returns the outcome name for logs.
func (o SelfUpdateOutcome) String() string {
	switch o {
	case SelfUpdateNone:
		return "none"
	case SelfUpdateDeferred:
		return "deferred"
	case SelfUpdateRestartNow:
		return "restart-now"
	default:
		return "unknown"
	}
}
