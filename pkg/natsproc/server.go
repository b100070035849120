package natsproc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/srushti98/trpc-openapi/pkg/procedure"
	"github.com/srushti98/trpc-openapi/pkg/rpcerr"
)

const serverLogPrefix = "natsproc:server"

// DefaultRequestTimeout bounds procedure execution when the caller carries
// no deadline of its own.
const DefaultRequestTimeout = 25 * time.Second

// ServeParams configures Serve.
type ServeParams struct {
	Conn     *nats.Conn
	Subject  string
	Registry procedure.Registry
	// RequestTimeout bounds each call; zero means DefaultRequestTimeout.
	RequestTimeout time.Duration
}

// Server answers procedure calls arriving on one bus subject.
type Server struct {
	sub     *nats.Subscription
	subject string
}

// Serve subscribes to params.Subject and answers each request by invoking
// the named procedure from the registry. Streaming procedures cannot be
// answered over request/reply and are refused.
func Serve(ctx context.Context, params ServeParams) (*Server, error) {
	if params.Conn == nil {
		return nil, fmt.Errorf("%s - connection is required", serverLogPrefix)
	}
	if params.Subject == "" {
		return nil, fmt.Errorf("%s - subject is required", serverLogPrefix)
	}
	if params.Registry == nil {
		return nil, fmt.Errorf("%s - registry is required", serverLogPrefix)
	}
	requestTimeout := params.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}

	registry := params.Registry
	sub, err := params.Conn.Subscribe(params.Subject, func(msg *nats.Msg) {
		var req Request
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to decode request: %v", serverLogPrefix, err))
			respond(msg, &Response{
				Ok: false,
				Error: &ErrorDetail{
					Code:    rpcerr.CodeParse,
					Message: "Failed to decode request",
				},
			})
			return
		}

		// Per-request context bounded by the server timeout, tightened when
		// the caller carries a smaller deadline.
		timeout := requestTimeout
		if req.Ctx != nil && req.Ctx.DeadlineMs > 0 {
			if d := time.Duration(req.Ctx.DeadlineMs) * time.Millisecond; d < timeout {
				timeout = d
			}
		}
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		respond(msg, handle(reqCtx, registry, &req))
	})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to subscribe to %s: %w", serverLogPrefix, params.Subject, err)
	}
	slog.Info(fmt.Sprintf("%s - Subscribed to %s", serverLogPrefix, params.Subject))

	return &Server{sub: sub, subject: params.Subject}, nil
}

// Subject returns the subject the server listens on.
func (s *Server) Subject() string { return s.subject }

// Drain stops the subscription after in-flight handlers finish.
func (s *Server) Drain() error {
	return s.sub.Drain()
}

// Close stops the subscription immediately.
func (s *Server) Close() error {
	return s.sub.Unsubscribe()
}

func handle(ctx context.Context, registry procedure.Registry, req *Request) *Response {
	desc := registry.Procedure(req.Proc)
	if desc == nil {
		return errorResponse(req.ID, rpcerr.New(rpcerr.CodeNotFound, fmt.Sprintf("procedure not found: %s", req.Proc)))
	}
	if desc.Streaming() {
		return errorResponse(req.ID, rpcerr.New(rpcerr.CodeBadRequest, fmt.Sprintf("procedure %s streams and cannot be called over request/reply", req.Proc)))
	}

	var input map[string]any
	if len(req.Input) > 0 {
		if err := json.Unmarshal(req.Input, &input); err != nil {
			return errorResponse(req.ID, rpcerr.Wrap(err, rpcerr.CodeParse, "request input is not a JSON object"))
		}
	}
	if desc.Input != nil {
		if err := desc.Input.Validate(input); err != nil {
			return errorResponse(req.ID, err)
		}
	}

	outcome, err := procedure.Invoke(ctx, desc, input)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return &Response{ID: req.ID, Ok: true, Result: outcome.Value}
}

func errorResponse(id string, err error) *Response {
	norm := rpcerr.Normalize(err)
	return &Response{
		ID: id,
		Ok: false,
		Error: &ErrorDetail{
			Code:      norm.Code,
			Message:   norm.Message,
			Issues:    norm.Issues,
			Retryable: Retryable(norm.Code),
		},
	}
}

func respond(msg *nats.Msg, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode response: %v", serverLogPrefix, err))
		return
	}
	msg.Respond(data)
}
