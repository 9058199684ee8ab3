package orchestrator

import (
	"errors"
	"fmt"

	"github.com/roach88/cmdsync/internal/stream"
)

// State names.
const (
	StateCheckVersion    = "check_version"
	StateWaitPrevCommand = "wait_prev_command"
	StateSetTTLCommand   = "set_ttl_command"
	StateHistoryCopy     = "history_copy"
	StateTransformData   = "transform_data"
	StateSyncData        = "sync_data"
	StateFinish          = "finish"
)

// Status suffixes written to the command while a state runs.
const (
	StatusStarted  = "STARTED"
	StatusFinished = "FINISHED"
	StatusFailed   = "FAILED"
)

// check_version results.
const (
	ResultProceed     = 0
	ResultWait        = 1
	ResultVersionSkip = -1
)

// EventType is the event bus type of StateEvent.
const EventType = "workflow.state"

var (
	// ErrVersionSkip marks a command that arrived ahead of the next
	// expected version. It is reported as a check_version result, never
	// returned.
	ErrVersionSkip = errors.New("version is not match")

	ErrSyncHandlerMissing    = errors.New("sync data handler name missing")
	ErrSyncHandlerUnresolved = errors.New("sync data handler not registered")
	ErrUnknownState          = errors.New("unknown workflow state")
	ErrModuleNotFound        = errors.New("no module owns table")
)

// CommandStatus renders the status label of a state, e.g.
// "history_copy:FINISHED".
func CommandStatus(state, status string) string {
	return state + ":" + status
}

// StateEvent is one state invocation.
type StateEvent struct {
	// Source identifies the workflow definition.
	Source       string               `json:"source"`
	ExecutionID  string               `json:"executionId"`
	StateName    string               `json:"stateName"`
	TaskToken    string               `json:"taskToken,omitempty"`
	CommandEvent *stream.CommandEvent `json:"commandEvent"`
	// Input is the previous state's output.
	Input *Output `json:"input,omitempty"`
}

func (*StateEvent) EventType() string { return EventType }

// Output is what a state returns to the workflow engine.
type Output struct {
	PrevStateName string `json:"prevStateName,omitempty"`
	Result        any    `json:"result,omitempty"`
	Error         string `json:"error,omitempty"`
	Cause         string `json:"cause,omitempty"`
}

// ResultInt reads a numeric result, as decoded from JSON or set in
// process.
func (o *Output) ResultInt() (int, bool) {
	if o == nil {
		return 0, false
	}
	switch v := o.Result.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// ResultString reads a string result.
func (o *Output) ResultString() string {
	if o == nil {
		return ""
	}
	s, _ := o.Result.(string)
	return s
}

func (e *StateEvent) validate() error {
	if e.CommandEvent == nil {
		return fmt.Errorf("state %s: missing command event", e.StateName)
	}
	return nil
}
