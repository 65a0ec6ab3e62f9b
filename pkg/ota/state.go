package ota

import "fmt"

// State is a position in the agent's update state machine. The machine itself
// is owned and driven by the agent; consumers only ever observe these values
// through delivered events.
type State int

const (
	StateNotInitialized State = iota
	StateInitializing
	StateAgentStarted
	StateAgentWaiting
	StateStartUpdate
	StateJobConnect
	StateJobDownload
	StateJobDisconnect
	StateJobParse
	StateJobRedirect
	StateDataConnect
	StateDataDownload
	StateDataDisconnect
	StateVerify
	StateResultConnect
	StateResultSend
	StateResultResponse
	StateResultDisconnect
	StateResultRedirect
	StateStorageOpen
	StateStorageWrite
	StateStorageClose
	StateOTAComplete
	StateExiting

	numStates
)

var stateStrings = map[State]string{
	StateNotInitialized:   "not-initialized",
	StateInitializing:     "initializing",
	StateAgentStarted:     "agent-started",
	StateAgentWaiting:     "agent-waiting",
	StateStartUpdate:      "start-update",
	StateJobConnect:       "job-connect",
	StateJobDownload:      "job-download",
	StateJobDisconnect:    "job-disconnect",
	StateJobParse:         "job-parse",
	StateJobRedirect:      "job-redirect",
	StateDataConnect:      "data-connect",
	StateDataDownload:     "data-download",
	StateDataDisconnect:   "data-disconnect",
	StateVerify:           "verify",
	StateResultConnect:    "result-connect",
	StateResultSend:       "result-send",
	StateResultResponse:   "result-response",
	StateResultDisconnect: "result-disconnect",
	StateResultRedirect:   "result-redirect",
	StateStorageOpen:      "storage-open",
	StateStorageWrite:     "storage-write",
	StateStorageClose:     "storage-close",
	StateOTAComplete:      "ota-complete",
	StateExiting:          "exiting",
}

// StateString renders a State for display. Values outside the known machine
// (including future additions) render as numbered unknowns rather than
// panicking so observers stay usable across agent revisions.
func StateString(s State) string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return fmt.Sprintf("unknown-state(%d)", int(s))
}

func (s State) String() string {
	return StateString(s)
}

// Reason is the top-level trigger attached to each delivered event.
type Reason int

const (
	// ReasonStateChange accompanies ordinary progression through the machine.
	ReasonStateChange Reason = iota
	// ReasonSuccess marks a successful terminal outcome.
	ReasonSuccess
	// ReasonFailure marks a failed terminal outcome.
	ReasonFailure
	// ReasonLast is the terminal marker; observers take no action on it.
	ReasonLast
)

func (r Reason) String() string {
	switch r {
	case ReasonStateChange:
		return "state-change"
	case ReasonSuccess:
		return "success"
	case ReasonFailure:
		return "failure"
	case ReasonLast:
		return "last"
	}
	return fmt.Sprintf("unknown-reason(%d)", int(r))
}

// Result is an observer's answer to a delivered event. The zero value is
// Continue so an indifferent observer permits the agent to proceed.
type Result int

const (
	// ResultContinue permits the agent to proceed with its current operation.
	ResultContinue Result = iota
	// ResultStop requests the agent end the current update session.
	ResultStop
	// ResultAppSuccess reports the application completed the operation itself,
	// successfully.
	ResultAppSuccess
	// ResultAppFailed reports the application completed the operation itself,
	// unsuccessfully.
	ResultAppFailed
)

func (r Result) String() string {
	switch r {
	case ResultContinue:
		return "continue"
	case ResultStop:
		return "stop"
	case ResultAppSuccess:
		return "app-success"
	case ResultAppFailed:
		return "app-failed"
	}
	return fmt.Sprintf("unknown-result(%d)", int(r))
}

// AgentError is the agent's last recorded error code.
type AgentError int

const (
	ErrNone AgentError = iota
	ErrGeneral
	ErrBadArg
	ErrOutOfMemory
	ErrConnect
	ErrDisconnect
	ErrGetJob
	ErrGetData
	ErrMalformedJob
	ErrWriteStorage
	ErrVerify
	ErrInvalidVersion
	ErrServerDropped
)

var errorStrings = map[AgentError]string{
	ErrNone:           "none",
	ErrGeneral:        "general error",
	ErrBadArg:         "bad argument",
	ErrOutOfMemory:    "out of memory",
	ErrConnect:        "connect failed",
	ErrDisconnect:     "disconnect failed",
	ErrGetJob:         "job fetch failed",
	ErrGetData:        "data fetch failed",
	ErrMalformedJob:   "malformed job document",
	ErrWriteStorage:   "storage write failed",
	ErrVerify:         "image verification failed",
	ErrInvalidVersion: "invalid version",
	ErrServerDropped:  "server dropped connection",
}

// ErrorString renders an AgentError for display, tolerating unknown codes.
func ErrorString(e AgentError) string {
	if str, ok := errorStrings[e]; ok {
		return str
	}
	return fmt.Sprintf("unknown-error(%d)", int(e))
}

func (e AgentError) String() string {
	return ErrorString(e)
}
