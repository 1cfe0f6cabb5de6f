package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const crashLogName = "error.log"

// recordCrash appends a report for an unrecovered failure to error.log and
// returns the file path, or "" when nothing could be written.
func recordCrash(context string, cause any, stack []byte) string {
	dir, err := configDir()
	if err != nil {
		dir = "."
	}
	path := filepath.Join(dir, crashLogName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return ""
	}
	defer f.Close()

	if _, err := f.WriteString(formatCrash(time.Now(), context, cause, stack)); err != nil {
		return ""
	}
	return path
}

func formatCrash(at time.Time, context string, cause any, stack []byte) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n", at.Format("2006-01-02 15:04:05"), context)
	fmt.Fprintf(&b, "Message: %v\n", cause)
	fmt.Fprintf(&b, "Type: %T\n", cause)
	if err, ok := cause.(error); ok {
		if inner := errors.Unwrap(err); inner != nil {
			fmt.Fprintf(&b, "Inner Exception: %v\n", inner)
		}
	}
	fmt.Fprintf(&b, "Stack Trace:\n%s\n", strings.TrimRight(string(stack), "\n"))
	b.WriteString(strings.Repeat("-", 80))
	b.WriteString("\n")
	return b.String()
}
