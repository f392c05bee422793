package engine

// Phase is the relay engine's current step.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseComputingWindow
	PhaseScanning
	PhaseOrdering
	PhaseActioning
	PhaseAdvancingWatermark
	PhaseBackoff
	// PhaseFaulted is terminal: the engine stops and Run returns the cause.
	PhaseFaulted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseComputingWindow:
		return "computing_window"
	case PhaseScanning:
		return "scanning"
	case PhaseOrdering:
		return "ordering"
	case PhaseActioning:
		return "actioning"
	case PhaseAdvancingWatermark:
		return "advancing_watermark"
	case PhaseBackoff:
		return "backoff"
	case PhaseFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}
