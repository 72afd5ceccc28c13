package swapengine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrExecutionDisabled is returned while the executions kill switch is off.
	ErrExecutionDisabled = errors.New("executions are disabled")
	ErrNoLegs            = errors.New("no legs to execute")
)

// PartialExecutionError reports legs that still failed after the last attempt.
// Succeeded legs have landed and must not be re-executed by the caller.
type PartialExecutionError struct {
	Succeeded []LegOutcome
	Failed    []LegOutcome
	Attempt   int
	Last      error
}

func (e *PartialExecutionError) Error() string {
	total := len(e.Succeeded) + len(e.Failed)
	msg := fmt.Sprintf("partial execution: %d of %d legs succeeded after %d attempts", len(e.Succeeded), total, e.Attempt)
	if m := ErrorMessage(e.Last); m != "" {
		msg += ": " + m
	}
	return msg
}

func (e *PartialExecutionError) Unwrap() error { return e.Last }

// ErrorMessage extracts a readable message from an error, a string, or a decoded
// JSON payload such as an RPC error object or a simulation error.
func ErrorMessage(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case error:
		return t.Error()
	case json.RawMessage:
		return rawMessage(t)
	case []byte:
		return rawMessage(t)
	case map[string]any:
		for _, key := range []string{"message", "error", "msg", "err", "Err", "reason"} {
			if inner, ok := t[key]; ok {
				if m := ErrorMessage(inner); m != "" {
					return m
				}
			}
		}
		return compact(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if m := ErrorMessage(item); m != "" {
				parts = append(parts, m)
			}
		}
		return strings.Join(parts, ": ")
	case fmt.Stringer:
		return t.String()
	default:
		return compact(t)
	}
}

func rawMessage(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return strings.TrimSpace(string(raw))
	}
	return ErrorMessage(decoded)
}

func compact(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	if string(b) == "null" {
		return ""
	}
	return string(b)
}
