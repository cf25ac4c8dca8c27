package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/woxQAQ/ndll/internal/bridge"
)

func parseArgs(args []string) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = parseArg(a)
	}
	return out
}

// parseArg converts a command-line argument into a managed value.
func parseArg(s string) any {
	switch s {
	case "null":
		return nil
	case "true":
		return true
	case "false":
		return false
	}
	if strings.HasPrefix(s, `"`) {
		if u, err := strconv.Unquote(s); err == nil {
			return u
		}
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// formatValue renders a call result.
func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(v)
	case []byte:
		return fmt.Sprintf("bytes(%d)", len(v))
	case *bridge.Array:
		parts := make([]string, v.Len())
		for i, item := range v.Items() {
			parts[i] = formatValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *bridge.Object:
		parts := make([]string, 0, v.Len())
		for _, k := range v.Keys() {
			item, _ := v.Get(k)
			parts = append(parts, k+": "+formatValue(item))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case *bridge.Abstract:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
