package governance

import (
	"context"
	"fmt"

	"github.com/flowkernel/agentkernel/internal/eventlog"
	"github.com/flowkernel/agentkernel/internal/ids"
	"github.com/flowkernel/agentkernel/internal/tool"
)

// Action is the outcome of a permission rule.
type Action string

const (
	ActionAllow Action = "ALLOW"
	ActionDeny  Action = "DENY"
)

// Rule matches a tool's side effect class and names the action to take.
type Rule struct {
	SideEffect tool.SideEffect
	Action     Action
	Reason     string
}

// Permissions evaluates an ordered rule list against a tool's side effect,
// falling back to a default action when no rule matches. It emits a
// PolicyDecision event for every checked call, so every tool invocation's
// authorization is reconstructible from the log alone.
type Permissions struct {
	rules   []Rule
	def     Action
	defText string

	runID ids.RunID
	seq   *eventlog.Counter
	store eventlog.Store
}

// NewPermissions constructs a Permissions evaluator. defaultAction is used
// when no rule's SideEffect matches.
func NewPermissions(rules []Rule, defaultAction Action, runID ids.RunID, seq *eventlog.Counter, store eventlog.Store) *Permissions {
	return &Permissions{
		rules:   rules,
		def:     defaultAction,
		defText: fmt.Sprintf("Default policy: %s", defaultAction),
		runID:   runID,
		seq:     seq,
		store:   store,
	}
}

// Evaluate returns the action and reason for sideEffect without emitting an
// event: the first rule whose SideEffect matches wins, else the default.
func (p *Permissions) Evaluate(sideEffect tool.SideEffect) (Action, string) {
	for _, r := range p.rules {
		if r.SideEffect == sideEffect {
			return r.Action, r.Reason
		}
	}
	return p.def, p.defText
}

type policyDecisionPayload struct {
	ToolName   tool.ID         `json:"tool_name"`
	SideEffect tool.SideEffect `json:"side_effect"`
	Action     Action          `json:"action"`
	Reason     string          `json:"reason"`
}

// Check evaluates sideEffect for toolName, emits PolicyDecision, and returns
// a *PermissionDeniedError if the action is DENY.
func (p *Permissions) Check(ctx context.Context, toolName tool.ID, sideEffect tool.SideEffect) error {
	action, reason := p.Evaluate(sideEffect)

	ev, err := eventlog.NewEvent(p.runID, p.seq.Next(), eventlog.KindPolicyDecision, policyDecisionPayload{
		ToolName:   toolName,
		SideEffect: sideEffect,
		Action:     action,
		Reason:     reason,
	})
	if err != nil {
		return err
	}
	if err := p.store.Append(ctx, ev); err != nil {
		return err
	}

	if action == ActionDeny {
		return &PermissionDeniedError{ToolName: string(toolName), SideEffect: string(sideEffect), Reason: reason}
	}
	return nil
}
