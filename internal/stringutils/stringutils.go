// Package stringutils provides helpers for formatting command output.
package stringutils

import "strings"

// IndentLines prefixes each line of str with indent.
// A trailing newline is kept without being followed by indent.
func IndentLines(str, indent string) string {
	trimmed := strings.TrimSuffix(str, "\n")

	lines := strings.SplitAfter(trimmed, "\n")
	result := indent + strings.Join(lines, indent)

	if len(trimmed) != len(str) {
		return result + "\n"
	}

	return result
}
