package natsproc

import (
	"fmt"
	"strings"
)

// Default bus subjects.
const (
	SubjectErrorEvents = "gateway.errors"
)

// ProcSubject builds the request/reply subject a procedure listens on. Dots
// in the procedure name would open extra token levels, so they become
// underscores.
func ProcSubject(namespace, name string, major int) string {
	safe := strings.ReplaceAll(name, ".", "_")
	return fmt.Sprintf("proc.%s.%s.v%d", namespace, safe, major)
}

// StreamSubject builds the subject a streaming procedure publishes frames
// on. The call identifier keeps concurrent streams apart.
func StreamSubject(namespace, name string, major int, callID string) string {
	return fmt.Sprintf("%s.stream.%s", ProcSubject(namespace, name, major), callID)
}
