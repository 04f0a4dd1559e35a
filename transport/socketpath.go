package transport

import (
	"regexp"
	"strings"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
var repeatedUnderscore = regexp.MustCompile(`_+`)

// SanitizeComponent restricts a namespace/id component to [A-Za-z0-9_-],
// collapses repeated underscores, and trims leading/trailing underscores.
func SanitizeComponent(s string) string {
	s = unsafeChars.ReplaceAllString(s, "_")
	s = repeatedUnderscore.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// SocketPath returns the platform-appropriate data-channel address for the
// given namespace and process id: a filesystem socket path on Unix, a named
// pipe path on Windows. See socket_unix.go / pipe_windows.go.
func SocketPath(namespace, id string) string {
	return socketPath(SanitizeComponent(namespace), SanitizeComponent(id))
}
