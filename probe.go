package costcollector

// Capability is the result of checking whether an optional subsystem is
// turned on for the account.
type Capability int

const (
	// CapabilityUnknown means the check itself failed. Callers take the
	// fallback path.
	CapabilityUnknown Capability = iota
	CapabilityEnabled
	CapabilityDisabled
)

func (c Capability) String() string {
	switch c {
	case CapabilityEnabled:
		return "enabled"
	case CapabilityDisabled:
		return "disabled"
	}
	return "unknown"
}

// Enabled reports whether the primary data path should be used. Unknown
// counts as not enabled.
func (c Capability) Enabled() bool {
	return c == CapabilityEnabled
}

// computeOptimizerActive lists enrollment states where recommendations
// can be requested.
var computeOptimizerActive = []string{"Active", "Pending"}

// ProbeComputeOptimizer asks Compute Optimizer for the account's
// enrollment status. Any invocation error yields CapabilityUnknown.
func ProbeComputeOptimizer(q Querier, b CommandBuilder) Capability {
	doc, err := q.Invoke(b.Base("compute-optimizer", "get-enrollment-status"))
	if err != nil {
		return CapabilityUnknown
	}
	if containsString(computeOptimizerActive, stringAt(doc, "status")) {
		return CapabilityEnabled
	}
	return CapabilityDisabled
}
