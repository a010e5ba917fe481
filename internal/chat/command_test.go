package chat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyCommands(t *testing.T) {
	cases := []struct {
		line string
		want command
	}{
		{"/q", cmdQuit},
		{"/quit right now", cmdQuit},
		{"/w bob hi", cmdWhisper},
		{"/l", cmdList},
		{"/list", cmdList},
		{"/c", cmdRename},
		{"/h", cmdHelp},
		{"hello there", cmdBroadcast},
		{"", cmdBroadcast},
		{"/x not a command", cmdBroadcast},
		{"/ bare slash", cmdBroadcast},
		{"/W uppercase is not a whisper", cmdBroadcast},
		{"w/o leading slash", cmdBroadcast},
	}

	for _, tc := range cases {
		require.Equal(t, tc.want, classify(tc.line), "line %q", tc.line)
	}
}

func TestParseWhisper(t *testing.T) {
	target, message, ok := parseWhisper("/w bob a secret for you")
	require.True(t, ok)
	require.Equal(t, "bob", target)
	require.Equal(t, "a secret for you", message)
}

func TestParseWhisperRejectsMissingParts(t *testing.T) {
	for _, line := range []string{"/w", "/w bob"} {
		_, _, ok := parseWhisper(line)
		require.False(t, ok, "line %q", line)
	}
}
