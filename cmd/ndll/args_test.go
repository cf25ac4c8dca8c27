package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/woxQAQ/ndll/internal/bridge"
)

func TestParseArgs(t *testing.T) {
	got := parseArgs([]string{"null", "true", "false", "42", "-7", "2.5", "hello", `"12"`, `"unterminated`})
	want := []any{nil, true, false, 42, -7, 2.5, "hello", "12", `"unterminated`}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parseArgs() mismatch (-want +got):\n%s", diff)
	}
}

func TestFormatValue(t *testing.T) {
	obj := bridge.NewObject()
	obj.Set("x", 1)
	obj.Set("name", "p")

	tests := []struct {
		in   any
		want string
	}{
		{nil, "null"},
		{7, "7"},
		{true, "true"},
		{"hi", `"hi"`},
		{[]byte("abc"), "bytes(3)"},
		{bridge.NewArray(1, "a", nil), `[1, "a", null]`},
		{obj, `{x: 1, name: "p"}`},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, formatValue(tt.in))
	}
}

func TestAPICommand(t *testing.T) {
	var out bytes.Buffer
	app := newApp()
	app.SetOut(&out)
	app.SetArgs([]string{"api"})
	require.NoError(t, app.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Equal(t, bridge.EntryNames(), lines)

	out.Reset()
	app = newApp()
	app.SetOut(&out)
	app.SetArgs([]string{"api", "--wasm"})
	require.NoError(t, app.Execute())
	require.Contains(t, out.String(), "log_message\n")
}

func TestCallCommand_FlagConflict(t *testing.T) {
	app := newApp()
	app.SetArgs([]string{"call", "--mult", "--arity", "2", "lib.so", "f"})
	require.ErrorContains(t, app.Execute(), "conflicts")
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		logger, err := newLogger(level)
		require.NoError(t, err, level)
		require.NotNil(t, logger)
	}
	_, err := newLogger("loud")
	require.Error(t, err)
}
