// Package natsproc exposes procedures over the NATS bus: a server loop that
// answers request/reply calls from a local registry, and a caller that
// adapts remote procedures into local handlers.
package natsproc

import (
	"encoding/json"

	"github.com/srushti98/trpc-openapi/pkg/rpcerr"
)

// Request is the JSON envelope for procedure calls over the bus.
type Request struct {
	ID    string          `json:"id"`
	Proc  string          `json:"proc"`
	Input json.RawMessage `json:"input,omitempty"`
	Ctx   *CallContext    `json:"ctx,omitempty"`
}

// CallContext carries caller metadata alongside a request.
type CallContext struct {
	RequestID  string `json:"requestId,omitempty"`
	DeadlineMs int    `json:"deadlineMs,omitempty"`
}

// Response is the JSON envelope for procedure responses.
type Response struct {
	ID     string       `json:"id"`
	Ok     bool         `json:"ok"`
	Result any          `json:"result,omitempty"`
	Error  *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail holds structured error information.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Issues    []rpcerr.Issue `json:"issues,omitempty"`
	Retryable bool           `json:"retryable"`
}

// Retryable reports whether a caller may safely retry the coded failure.
func Retryable(code string) bool {
	switch code {
	case rpcerr.CodeTimeout, rpcerr.CodeTooManyRequests, rpcerr.CodeInternal:
		return true
	default:
		return false
	}
}
