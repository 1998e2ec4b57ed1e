package update

// Workload identifies one of the two images the agent keeps current.
type Workload string

const (
	// WorkloadDevice is the device application image.
	WorkloadDevice Workload = "device"
	// WorkloadAgent is the agent's own image.
	WorkloadAgent Workload = "agent"
)

// Versions records the last successfully applied digest per workload.
// An empty digest means the workload was never updated by this agent.
type Versions struct {
	// Device is the applied digest of the device workload image.
	Device string
	// Agent is the applied digest of the agent image.
	Agent string
}

// Digest returns the recorded digest for the given workload.
func (v *Versions) Digest(workload Workload) string {
	if workload == WorkloadAgent {
		return v.Agent
	}

	return v.Device
}

// SetDigest records the digest for the given workload.
func (v *Versions) SetDigest(workload Workload, digest string) {
	if workload == WorkloadAgent {
		v.Agent = digest
		return
	}

	v.Device = digest
}

// Clone returns a copy of the record to avoid leaking internal references.
func (v *Versions) Clone() *Versions {
	if v == nil {
		return nil
	}

	cloned := *v

	return &cloned
}
