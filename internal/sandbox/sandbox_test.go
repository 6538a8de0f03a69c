package sandbox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSandbox_RejectsImport(t *testing.T) {
	sb := NewSandbox(NewNamespace(nil))
	res := sb.Execute(`import os`)
	require.False(t, res.Success)
	require.Contains(t, res.ErrorMessage, "Import statements")

	// The namespace remains usable for subsequent calls.
	res2 := sb.Execute(`x = 1`)
	require.True(t, res2.Success)
}

func TestSandbox_RejectsDeniedTokens(t *testing.T) {
	sb := NewSandbox(NewNamespace(nil))
	res := sb.Execute(`x = open("/etc/passwd")`)
	require.False(t, res.Success)
	require.Contains(t, res.ErrorMessage, "open")
}

func TestSandbox_AssignmentAndArithmetic(t *testing.T) {
	sb := NewSandbox(NewNamespace(nil))
	res := sb.Execute("x = 2\ny = x * 3 + 1")
	require.True(t, res.Success)
	v, ok := sb.Namespace().Get("y")
	require.True(t, ok)
	require.Equal(t, int64(7), v)
}

func TestSandbox_FinalSignal(t *testing.T) {
	sb := NewSandbox(NewNamespace(nil))
	res := sb.Execute("x = 41\nFINAL = x + 1")
	require.True(t, res.Success)
	require.True(t, res.Snapshot.HasFinal)
	require.Equal(t, "42", res.Snapshot.FinalValue)

	final, ok := sb.Namespace().Final()
	require.True(t, ok)
	require.Equal(t, int64(42), final)
}

func TestSandbox_ForLoopAndPrint(t *testing.T) {
	sb := NewSandbox(NewNamespace(nil))
	res := sb.Execute("total = 0\nfor i := 0; i < 5; i++ {\ntotal = total + i\n}\nprint(total)")
	require.True(t, res.Success)
	require.Equal(t, "10\n", res.Stdout)
}

func TestSandbox_UndefinedNameIsNonFatal(t *testing.T) {
	sb := NewSandbox(NewNamespace(nil))
	res := sb.Execute(`y = undefined_name`)
	require.False(t, res.Success)
	require.Equal(t, "NameError", res.ErrorType)

	// Namespace is still usable afterwards.
	res2 := sb.Execute(`z = 5`)
	require.True(t, res2.Success)
	v, _ := sb.Namespace().Get("z")
	require.Equal(t, int64(5), v)
}

func TestSandbox_InjectedFunction(t *testing.T) {
	called := false
	sb := NewSandbox(NewNamespace(map[string]BuiltinFunc{
		"search": func(args []any) (any, error) {
			called = true
			return "result for " + args[0].(string), nil
		},
	}))
	res := sb.Execute(`r = search("weather")`)
	require.True(t, res.Success)
	require.True(t, called)
	v, _ := sb.Namespace().Get("r")
	require.Equal(t, "result for weather", v)
}

func TestSandbox_SnapshotExcludesUnderscoreAndFinal(t *testing.T) {
	sb := NewSandbox(NewNamespace(nil))
	sb.Namespace().Set("_hidden", "secret")
	res := sb.Execute(`visible = 1`)
	require.True(t, res.Success)
	var names []string
	for _, v := range res.Snapshot.Variables {
		names = append(names, v.Name)
	}
	require.Contains(t, names, "visible")
	require.NotContains(t, names, "_hidden")
	require.NotContains(t, names, "FINAL")
}

func TestSandbox_TruncatesLongRepr(t *testing.T) {
	sb := NewSandbox(NewNamespace(nil))
	long := strings.Repeat("a", 300)
	sb.Namespace().Set("s", long)
	snap := sb.Namespace().Snapshot()
	for _, v := range snap.Variables {
		if v.Name == "s" {
			require.Len(t, v.Repr, maxSnapshotLen)
		}
	}
}
