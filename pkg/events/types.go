// Package events defines the error events emitted for failed dispatches and
// the publisher interfaces used to ship them.
package events

// ErrorEvent describes one failed dispatch.
type ErrorEvent struct {
	RequestID string `json:"requestId,omitempty"`
	Procedure string `json:"procedure,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	Code      string `json:"code"`
	Status    int    `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}
