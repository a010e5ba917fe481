package chat

import "strings"

// command classifies one inbound line. Classification looks only at the
// exact two-byte prefixes below; anything else, including empty lines and
// unknown slash sequences, is chatted verbatim.
type command int

const (
	cmdBroadcast command = iota
	cmdQuit
	cmdWhisper
	cmdList
	cmdRename
	cmdHelp
)

func classify(line string) command {
	switch {
	case strings.HasPrefix(line, "/q"):
		return cmdQuit
	case strings.HasPrefix(line, "/w"):
		return cmdWhisper
	case strings.HasPrefix(line, "/l"):
		return cmdList
	case strings.HasPrefix(line, "/c"):
		return cmdRename
	case strings.HasPrefix(line, "/h"):
		return cmdHelp
	default:
		return cmdBroadcast
	}
}

// parseWhisper splits "/w <name> <message>" into its target and message.
// The message keeps its internal spaces; ok is false when either part is
// missing.
func parseWhisper(line string) (target, message string, ok bool) {
	tokens := strings.SplitN(line, " ", 3)
	if len(tokens) < 3 {
		return "", "", false
	}
	return tokens[1], tokens[2], true
}
