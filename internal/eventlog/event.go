// Package eventlog implements the kernel's single source of truth: an
// append-only, sequenced, durable stream of Events that every other
// subsystem reads from or writes to.
package eventlog

import (
	"encoding/json"
	"time"

	"github.com/flowkernel/agentkernel/internal/ids"
)

// Kind is drawn from the closed set of event kinds the kernel emits.
// Payload fields per kind are documented on the emitting component.
type Kind string

// The closed set of event kinds (spec §6).
const (
	KindRunStarted            Kind = "RunStarted"
	KindRunFinished           Kind = "RunFinished"
	KindTaskStarted           Kind = "TaskStarted"
	KindTaskFinished          Kind = "TaskFinished"
	KindToolCallStarted       Kind = "ToolCallStarted"
	KindToolCallFinished      Kind = "ToolCallFinished"
	KindBudgetUpdated         Kind = "BudgetUpdated"
	KindBudgetExceeded        Kind = "BudgetExceeded"
	KindPolicyDecision        Kind = "PolicyDecision"
	KindStopCondition         Kind = "StopCondition"
	KindAgentStepStarted      Kind = "AgentStepStarted"
	KindAgentStepFinished     Kind = "AgentStepFinished"
	KindLMCallStarted         Kind = "LMCallStarted"
	KindLMCallFinished        Kind = "LMCallFinished"
	KindRLMIterationStarted   Kind = "RLMIterationStarted"
	KindRLMIterationFinished  Kind = "RLMIterationFinished"
	KindREPLExecStarted       Kind = "REPLExecStarted"
	KindREPLExecFinished      Kind = "REPLExecFinished"
	KindSessionStarted        Kind = "SessionStarted"
	KindSessionFinished       Kind = "SessionFinished"
)

// Event is a single immutable record appended to a run's event sequence.
// (RunID, Seq) is the primary key; Payload is canonical JSON whose shape
// depends on Kind.
type Event struct {
	RunID     ids.RunID
	Seq       int64
	Timestamp time.Time
	Kind      Kind
	Payload   json.RawMessage
}

// NewEvent constructs an Event from an arbitrary payload value, encoding it
// as canonical JSON. Timestamp is set to now, truncated to millisecond
// precision, in UTC, per spec §3.
func NewEvent(runID ids.RunID, seq int64, kind Kind, payload any) (Event, error) {
	data, err := ids.CanonicalJSON(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		RunID:     runID,
		Seq:       seq,
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
		Kind:      kind,
		Payload:   data,
	}, nil
}

// Decode unmarshals the event payload into dst.
func (e Event) Decode(dst any) error {
	return json.Unmarshal(e.Payload, dst)
}
