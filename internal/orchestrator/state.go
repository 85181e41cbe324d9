package orchestrator

// State represents the current session state
type State int

const (
	// Idle means no capture or conversion is in progress
	Idle State = iota
	// AcquiringDevice means the input device is being opened
	AcquiringDevice
	// Recording means audio is being captured
	Recording
	// Converting means the capture is being transcoded
	Converting
	// Ready means encoded artifacts are available for playback and submit
	Ready
	// Failed means the last session ended in an unrecoverable error
	Failed
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case AcquiringDevice:
		return "AcquiringDevice"
	case Recording:
		return "Recording"
	case Converting:
		return "Converting"
	case Ready:
		return "Ready"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}
