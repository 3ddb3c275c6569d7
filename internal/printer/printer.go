// Package printer writes colored, human-facing CLI messages.
//
// Messages go to Out; error reports go to Err. Both default to the process
// streams and are swapped by tests.
package printer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
)

var (
	// Out receives normal output.
	Out io.Writer = os.Stdout
	// Err receives error reports.
	Err io.Writer = os.Stderr
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

// SetOutput redirects both streams and returns a func restoring them.
func SetOutput(out, errOut io.Writer) (restore func()) {
	prevOut, prevErr := Out, Err
	Out, Err = out, errOut
	return func() { Out, Err = prevOut, prevErr }
}

// Success prints a green message prefixed with a checkmark.
func Success(format string, a ...any) {
	green.Fprintf(Out, "✓ %s", strings.TrimPrefix(fmt.Sprintf(format, a...), "✓ "))
}

// Warning prints a yellow message to the error stream.
func Warning(format string, a ...any) {
	yellow.Fprintf(Err, "warning: %s", fmt.Sprintf(format, a...))
}

// Step prints a cyan progress line.
func Step(format string, a ...any) {
	cyan.Fprintf(Out, "→ %s", fmt.Sprintf(format, a...))
}

// Hint prints a dimmed secondary line.
func Hint(format string, a ...any) {
	faint.Fprintf(Out, format, a...)
}

// Printf prints plain output.
func Printf(format string, a ...any) {
	fmt.Fprintf(Out, format, a...)
}

// Failure is an error already reported to the user. Commands return it so
// cobra exits non-zero without printing it a second time.
type Failure struct {
	Title string
}

func (f *Failure) Error() string { return f.Title }

// Error reports a problem with an explanation and suggested fixes, and
// returns a *Failure for the command to return.
func Error(title, explanation string, suggestions []string) error {
	return ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext is Error with key/value details, printed in key order.
func ErrorWithContext(title, explanation string, details map[string]string, suggestions []string) error {
	red.Fprintf(Err, "%s\n", title)
	if explanation != "" {
		fmt.Fprintf(Err, "\n%s\n", explanation)
	}

	if len(details) > 0 {
		keys := make([]string, 0, len(details))
		for k := range details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(Err)
		for _, k := range keys {
			fmt.Fprintf(Err, "  %s: %s\n", k, details[k])
		}
	}

	switch len(suggestions) {
	case 0:
	case 1:
		fmt.Fprintf(Err, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(Err, "\nEither:\n")
		for i, s := range suggestions {
			fmt.Fprintf(Err, "  %d. %s\n", i+1, s)
		}
	}
	return &Failure{Title: title}
}
