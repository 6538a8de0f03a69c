// Package governance implements the kernel's budget, permission, stop
// condition, and concurrency-limiting subsystems (spec §4.4-4.7). Each
// inspects or mutates the event stream: every governance decision is
// itself an event, never a silent control-flow branch.
package governance

import "fmt"

// BudgetExceededError is raised by Budget.Check when usage exceeds spec. It
// is always preceded by a BudgetExceeded event carrying the same fields.
type BudgetExceededError struct {
	Limit string
	Usage Usage
	Spec  Spec
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("governance: budget exceeded: %s", e.Limit)
}

// PermissionDeniedError is raised by Permissions.Check on a DENY decision.
// It is always preceded by a PolicyDecision event with Action=Deny.
type PermissionDeniedError struct {
	ToolName   string
	SideEffect string
	Reason     string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("governance: permission denied for %s: %s", e.ToolName, e.Reason)
}

// StopConditionError is raised when a caller chooses to treat a stop
// condition as fatal (most executors instead check the returned reason and
// unwind gracefully without raising). It is always preceded by a
// StopCondition event.
type StopConditionError struct {
	Reason string
}

func (e *StopConditionError) Error() string {
	return fmt.Sprintf("governance: stop condition triggered: %s", e.Reason)
}
