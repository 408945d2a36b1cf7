package filter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClean_Timestamps(t *testing.T) {
	require.Equal(t, "generated at", Clean("generated at 2024/1/5 9:03:27"))
	require.Equal(t, "a  b", Clean("a 2024/12/31 23:59:59 b"))
}

func TestClean_ThinkingBlock(t *testing.T) {
	in := "> Thinking\n> **Let me reason about this**\n> the user wants a cat\n> drawn in watercolor\n\nHere is your image."
	require.Equal(t, "Here is your image.", Clean(in))
}

func TestClean_CollapsesBlankRuns(t *testing.T) {
	require.Equal(t, "a\n\nb", Clean("a\n\n\n\n\nb"))
}

func TestClean_TrimsWhitespace(t *testing.T) {
	require.Equal(t, "hello", Clean("  \n hello \n\n"))
}

func TestClean_MarkerRemovedToFixpoint(t *testing.T) {
	require.Equal(t, "", Clean("> Think> Thinkinging"))
}

func TestClean_Idempotent(t *testing.T) {
	inputs := []string{
		"",
		"plain text",
		"a 2024/1/5 9:03:27 b\n\n\n\nc",
		"> Thinking\n> **reasoning**\n> more\ntail",
		"  padded  ",
		"![img](https://example.com/a.png)\n\n\n\ndone 2023/7/4 1:2:3",
		// Removing the inner marker splices a new one together.
		"> Think> Thinkinging",
		"> Th> Thinkinginking> Thinking",
	}
	for _, in := range inputs {
		once := Clean(in)
		require.Equal(t, once, Clean(once), "not idempotent for %q", in)
	}
}
