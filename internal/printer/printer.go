// Package printer renders CLI output with color.
package printer

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dyluth/gambit/pkg/world"
	"github.com/fatih/color"
)

func init() {
	// Users can disable with NO_COLOR
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	// Out and Err are swapped in tests
	Out io.Writer = os.Stdout
	Err io.Writer = os.Stderr

	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

// Success prints a message in green with a checkmark prefix.
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprint(Out, msg)
}

// Info prints an informational message in the default color.
func Info(format string, a ...any) {
	fmt.Fprintf(Out, format, a...)
}

// Warning prints a message in yellow with a warning prefix.
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		msg = "⚠️  " + msg
	}
	yellow.Fprint(Out, msg)
}

// Step prints a step of a multi-step operation.
func Step(format string, a ...any) {
	cyan.Fprintf(Out, "→ %s", fmt.Sprintf(format, a...))
}

// Error prints a title, an explanation and suggestions to Err and returns an
// error carrying only the title for Cobra.
func Error(title string, explanation string, suggestions []string) error {
	return ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext is Error with key/value context lines.
func ErrorWithContext(title string, explanation string, context map[string]string, suggestions []string) error {
	red.Fprintf(Err, "%s\n\n", title)

	if explanation != "" {
		fmt.Fprintf(Err, "%s\n", explanation)
	}

	if len(context) > 0 {
		fmt.Fprintf(Err, "\n")
		for key, value := range context {
			fmt.Fprintf(Err, "  %s: %s\n", key, value)
		}
	}

	if len(suggestions) > 0 {
		fmt.Fprintf(Err, "\n")
		if len(suggestions) == 1 {
			fmt.Fprintf(Err, "%s\n", suggestions[0])
		} else {
			fmt.Fprintf(Err, "Either:\n")
			for i, suggestion := range suggestions {
				fmt.Fprintf(Err, "  %d. %s\n", i+1, suggestion)
			}
		}
	}

	return fmt.Errorf("%s", title)
}

// Outcome renders a verdict outcome in its color: green for success, yellow
// for partial and red for failure.
func Outcome(o world.Outcome) string {
	switch o {
	case world.OutcomeSuccess:
		return green.Sprint(string(o))
	case world.OutcomePartial:
		return yellow.Sprint(string(o))
	case world.OutcomeFailure:
		return red.Sprint(string(o))
	}
	return string(o)
}

// Verdict prints a verdict on one line with its rationale dimmed.
func Verdict(v world.Verdict) {
	fmt.Fprintf(Out, "%s (confidence %.2f, %s) %s\n", Outcome(v.Outcome), v.Confidence, v.Source, faint.Sprint(v.Rationale))
}

// ShortHash trims a "sha256:<hex>" digest to its first 12 hex digits.
func ShortHash(h string) string {
	hex := strings.TrimPrefix(h, world.HashPrefix)
	if len(hex) > 12 {
		return hex[:12]
	}
	if hex == "" {
		return "-"
	}
	return hex
}
