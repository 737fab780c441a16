package stringutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIndentLines(t *testing.T) {
	testcases := []struct {
		in       string
		expected string
	}{
		{in: "a", expected: "  a"},
		{in: "a\nb", expected: "  a\n  b"},
		{in: "CONFLICT\n", expected: "  CONFLICT\n"},
		{in: "a\n\nb", expected: "  a\n  \n  b"},
	}

	for _, tc := range testcases {
		assert.Equal(t, tc.expected, IndentLines(tc.in, "  "), "input: %q", tc.in)
	}
}
