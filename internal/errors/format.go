package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// FormatForCLI renders err for the terminal: the message, the hint when
// there is one and the code. Errors without a code print as they are.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}
	var ae *AmanError
	if !stderrors.As(err, &ae) {
		return "Error: " + err.Error() + "\n"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", ae.Message)
	if ae.Cause != nil {
		fmt.Fprintf(&sb, "  Cause: %s\n", ae.Cause)
	}
	if ae.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", ae.Suggestion)
	}
	fmt.Fprintf(&sb, "  Code: %s\n", ae.Code)
	return sb.String()
}

// LogAttrs flattens err into slog key-value pairs, details sorted by key.
func LogAttrs(err error) []any {
	if err == nil {
		return nil
	}
	var ae *AmanError
	if !stderrors.As(err, &ae) {
		return []any{"error", err.Error()}
	}

	attrs := []any{"error_code", ae.Code, "error", ae.Message, "severity", string(ae.Severity)}
	if ae.Cause != nil {
		attrs = append(attrs, "cause", ae.Cause.Error())
	}
	keys := make([]string, 0, len(ae.Details))
	for k := range ae.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, "detail_"+k, ae.Details[k])
	}
	return attrs
}
