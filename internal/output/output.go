// Package output provides styled terminal output helpers for the CLI
// commands.
package output

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

var (
	successStyle = color.New(color.FgGreen)
	warnStyle    = color.New(color.FgYellow)
	errorStyle   = color.New(color.FgRed)
	headerStyle  = color.New(color.Bold)
)

// Success prints a green checkmarked line to stdout.
func Success(format string, args ...any) {
	fmt.Printf("%s %s\n", successStyle.Sprint("✓"), fmt.Sprintf(format, args...))
}

// Warning prints a yellow warning line to stdout.
func Warning(format string, args ...any) {
	fmt.Printf("%s %s\n", warnStyle.Sprint("!"), fmt.Sprintf(format, args...))
}

// Error prints a red error line to stderr.
func Error(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", errorStyle.Sprint("✗"), fmt.Sprintf(format, args...))
}

// Header prints a bold section header.
func Header(format string, args ...any) {
	fmt.Println(headerStyle.Sprintf(format, args...))
}

// Status colors a status word by its severity.
func Status(s string) string {
	switch s {
	case "delivered", "enabled", "ok":
		return successStyle.Sprint(s)
	case "pending", "disabled":
		return warnStyle.Sprint(s)
	case "failed", "error":
		return errorStyle.Sprint(s)
	}
	return s
}
