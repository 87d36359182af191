package orchestration

type SessionState int

const (
	StateIdle SessionState = iota
	StateRequesting
	StateStreaming
	// StateAborted and StateErrored are transient; the session settles to
	// StateIdle in the same step.
	StateAborted
	StateErrored
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateStreaming:
		return "streaming"
	case StateAborted:
		return "aborted"
	case StateErrored:
		return "errored"
	}
	return "unknown"
}

// IsBusy reports whether a reply stream is open or being opened.
func (s SessionState) IsBusy() bool {
	return s == StateRequesting || s == StateStreaming
}

// Status is the user-facing summary of the session.
type Status string

const (
	StatusOnline   Status = "online"
	StatusThinking Status = "thinking"
	StatusAborted  Status = "aborted"
	StatusError    Status = "error"
)

// Snapshot is a point-in-time copy of the session, safe to read from any
// goroutine.
type Snapshot struct {
	State          SessionState
	Status         Status
	Response       string
	Mode           TTSMode
	Speaking       bool
	Mic            MicState
	QueuedSegments int
	PendingImage   string
}
