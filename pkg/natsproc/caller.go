package natsproc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/srushti98/trpc-openapi/pkg/procedure"
	"github.com/srushti98/trpc-openapi/pkg/rpcerr"
)

const callerLogPrefix = "natsproc:caller"

// DefaultCallTimeout bounds remote calls whose context carries no deadline.
const DefaultCallTimeout = 10 * time.Second

// CallerParams configures a Caller.
type CallerParams struct {
	Conn *nats.Conn
	// Timeout bounds calls whose context has no deadline; zero means
	// DefaultCallTimeout.
	Timeout time.Duration
}

// Caller invokes procedures answered elsewhere on the bus and adapts them
// into local handlers.
type Caller struct {
	nc      *nats.Conn
	timeout time.Duration
}

// NewCaller creates a Caller over an existing connection.
func NewCaller(params CallerParams) (*Caller, error) {
	if params.Conn == nil {
		return nil, fmt.Errorf("%s - connection is required", callerLogPrefix)
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Caller{nc: params.Conn, timeout: timeout}, nil
}

// Call performs one request against subject and returns the decoded result
// or the coded error the responder reported.
func (c *Caller) Call(ctx context.Context, subject, procID string, input map[string]any) (any, error) {
	req := Request{ID: uuid.NewString(), Proc: procID}
	if input != nil {
		data, err := json.Marshal(input)
		if err != nil {
			return nil, rpcerr.Wrap(err, rpcerr.CodeInternal, "failed to encode input")
		}
		req.Input = data
	}

	callCtx := ctx
	if deadline, ok := ctx.Deadline(); ok {
		if ms := int(time.Until(deadline).Milliseconds()); ms > 0 {
			req.Ctx = &CallContext{RequestID: req.ID, DeadlineMs: ms}
		}
	} else {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
		req.Ctx = &CallContext{RequestID: req.ID, DeadlineMs: int(c.timeout.Milliseconds())}
	}

	payload, err := json.Marshal(&req)
	if err != nil {
		return nil, rpcerr.Wrap(err, rpcerr.CodeInternal, "failed to encode request")
	}

	msg, err := c.nc.RequestWithContext(callCtx, subject, payload)
	if err != nil {
		switch {
		case errors.Is(err, nats.ErrNoResponders):
			return nil, rpcerr.Wrap(err, rpcerr.CodeInternal, fmt.Sprintf("no responder on %s", subject))
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			return nil, err
		default:
			return nil, rpcerr.Wrap(err, rpcerr.CodeInternal, "bus request failed")
		}
	}

	var resp Response
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, rpcerr.Wrap(err, rpcerr.CodeInternal, "failed to decode response")
	}
	if !resp.Ok {
		return nil, remoteError(resp.Error)
	}
	return resp.Result, nil
}

// remoteError rebuilds a coded error from the wire detail. Validation
// failures keep their issues so they render the same as local ones.
func remoteError(detail *ErrorDetail) error {
	if detail == nil {
		return rpcerr.New(rpcerr.CodeInternal, "remote call failed without detail")
	}
	if len(detail.Issues) > 0 {
		return rpcerr.Validation(detail.Issues...)
	}
	return rpcerr.New(detail.Code, detail.Message)
}

// Handler adapts the remote procedure answering on subject into a local
// handler.
func (c *Caller) Handler(subject, procID string) procedure.Handler {
	return func(ctx context.Context, input map[string]any) (any, error) {
		return c.Call(ctx, subject, procID, input)
	}
}

// StreamHandler bridges frames published on subject into a local stream.
// Every bus message becomes one frame; the stream ends when ctx does.
func (c *Caller) StreamHandler(subject, procID string) procedure.StreamHandler {
	return func(ctx context.Context, input map[string]any) (procedure.Stream, error) {
		frames := make(chan []byte, 64)
		sub, err := c.nc.Subscribe(subject, func(msg *nats.Msg) {
			select {
			case frames <- msg.Data:
			case <-ctx.Done():
			}
		})
		if err != nil {
			return nil, rpcerr.Wrap(err, rpcerr.CodeInternal, fmt.Sprintf("failed to subscribe to %s for %s", subject, procID))
		}
		return procedure.NewChannelStream(frames, func() {
			sub.Unsubscribe()
		}), nil
	}
}
