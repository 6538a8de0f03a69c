package governance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowkernel/agentkernel/internal/eventlog"
	"github.com/flowkernel/agentkernel/internal/eventlog/memstore"
	"github.com/flowkernel/agentkernel/internal/ids"
	"github.com/flowkernel/agentkernel/internal/tool"
)

func TestPermissionsAllowByRule(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	runID := ids.NewRunID()
	seq := eventlog.NewCounter()

	p := NewPermissions([]Rule{
		{SideEffect: tool.SideEffectRead, Action: ActionAllow, Reason: "reads are fine"},
	}, ActionDeny, runID, seq, store)

	require.NoError(t, p.Check(ctx, "demo.read", tool.SideEffectRead))
}

func TestPermissionsDenyByRule(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	runID := ids.NewRunID()
	seq := eventlog.NewCounter()

	p := NewPermissions([]Rule{
		{SideEffect: tool.SideEffectWrite, Action: ActionDeny, Reason: "writes require review"},
	}, ActionAllow, runID, seq, store)

	err := p.Check(ctx, "demo.write", tool.SideEffectWrite)
	require.Error(t, err)
	var pde *PermissionDeniedError
	require.ErrorAs(t, err, &pde)
	require.Equal(t, "writes require review", pde.Reason)

	events, err := store.QueryByKind(ctx, runID, eventlog.KindPolicyDecision)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestPermissionsDefaultActionReason(t *testing.T) {
	action, reason := NewPermissions(nil, ActionAllow, ids.NewRunID(), eventlog.NewCounter(), memstore.New()).
		Evaluate(tool.SideEffectDestructive)
	require.Equal(t, ActionAllow, action)
	require.Equal(t, "Default policy: ALLOW", reason)
}

func TestPermissionsFirstMatchingRuleWins(t *testing.T) {
	p := NewPermissions([]Rule{
		{SideEffect: tool.SideEffectWrite, Action: ActionDeny, Reason: "first"},
		{SideEffect: tool.SideEffectWrite, Action: ActionAllow, Reason: "second"},
	}, ActionAllow, ids.NewRunID(), eventlog.NewCounter(), memstore.New())

	action, reason := p.Evaluate(tool.SideEffectWrite)
	require.Equal(t, ActionDeny, action)
	require.Equal(t, "first", reason)
}
