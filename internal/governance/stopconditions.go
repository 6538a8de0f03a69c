package governance

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/flowkernel/agentkernel/internal/eventlog"
	"github.com/flowkernel/agentkernel/internal/ids"
	"github.com/flowkernel/agentkernel/internal/tool"
)

// StopConditionLimits configures the three stop-condition detectors. All
// three fields must be > 0 for the corresponding detector to ever trigger.
type StopConditionLimits struct {
	MaxRepeatedToolCalls   int
	MaxConsecutiveFailures int
	MaxNoProgressSteps     int
}

// StopConditions runs three independent, non-blocking detectors over a
// run's activity: repeated identical tool calls, consecutive failures, and
// steps that make no progress. Check evaluates all three in order and emits
// at most one StopCondition event per call.
type StopConditions struct {
	mu sync.Mutex

	limits StopConditionLimits

	toolCallSeen       map[string]int
	consecutiveFailure int
	noProgressSteps    int

	runID ids.RunID
	seq   *eventlog.Counter
	store eventlog.Store
}

// NewStopConditions constructs a StopConditions detector set for a run.
func NewStopConditions(limits StopConditionLimits, runID ids.RunID, seq *eventlog.Counter, store eventlog.Store) *StopConditions {
	return &StopConditions{
		limits:       limits,
		toolCallSeen: make(map[string]int),
		runID:        runID,
		seq:          seq,
		store:        store,
	}
}

// RecordToolCall notes a tool invocation for the repeated-call detector.
// input is hashed with ids.Hash to form the "name:input_hash" key.
func (s *StopConditions) RecordToolCall(name tool.ID, input map[string]any) error {
	h, err := ids.Hash(input)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%s:%s", name, h)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolCallSeen[key]++
	return nil
}

// RecordStepOutcome notes a step's success/failure for the
// consecutive-failure and no-progress detectors. A successful step resets
// both counters; a failure increments the consecutive-failure counter.
// no-progress increments on every recorded step regardless of outcome and
// resets only on success.
func (s *StopConditions) RecordStepOutcome(success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if success {
		s.consecutiveFailure = 0
		s.noProgressSteps = 0
		return
	}
	s.consecutiveFailure++
	s.noProgressSteps++
}

type stopConditionPayload struct {
	Reason string `json:"reason"`
}

// Check runs the three detectors in the mandated order (repeated tool
// calls, consecutive failures, no progress) and returns the first
// non-empty reason. On trigger it emits a StopCondition event. An empty
// string with a nil error means no condition has triggered.
func (s *StopConditions) Check(ctx context.Context) (string, error) {
	reason := s.firstTriggeredReason()
	if reason == "" {
		return "", nil
	}

	ev, err := eventlog.NewEvent(s.runID, s.seq.Next(), eventlog.KindStopCondition, stopConditionPayload{Reason: reason})
	if err != nil {
		return "", err
	}
	if err := s.store.Append(ctx, ev); err != nil {
		return "", err
	}
	return reason, nil
}

func (s *StopConditions) firstTriggeredReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.limits.MaxRepeatedToolCalls > 0 {
		keys := make([]string, 0, len(s.toolCallSeen))
		for key := range s.toolCallSeen {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if n := s.toolCallSeen[key]; n >= s.limits.MaxRepeatedToolCalls {
				return fmt.Sprintf("repeated tool call %q reached %d occurrences", key, n)
			}
		}
	}
	if s.limits.MaxConsecutiveFailures > 0 && s.consecutiveFailure >= s.limits.MaxConsecutiveFailures {
		return fmt.Sprintf("%d consecutive failures reached", s.consecutiveFailure)
	}
	if s.limits.MaxNoProgressSteps > 0 && s.noProgressSteps >= s.limits.MaxNoProgressSteps {
		return fmt.Sprintf("%d steps without progress reached", s.noProgressSteps)
	}
	return ""
}
