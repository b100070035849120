package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/srushti98/trpc-openapi/pkg/procedure"
	"github.com/srushti98/trpc-openapi/pkg/rpcerr"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Issues  []rpcerr.Issue `json:"issues,omitempty"`
}

// respondValue writes a buffered JSON response. The payload is marshalled
// before any header goes out so a serialization failure can still become a
// clean error response.
func (g *Gateway) respondValue(ctx context.Context, w http.ResponseWriter, r *http.Request, desc *procedure.Descriptor, value any, started time.Time) {
	payload, err := json.Marshal(value)
	if err != nil {
		g.fail(w, r, started, failure{
			proc: desc,
			ctx:  ctx,
			err:  rpcerr.Wrap(err, rpcerr.CodeInternal, "response serialization failed"),
		})
		return
	}

	status := http.StatusOK
	var headers map[string]string
	if g.opts.ResponseMeta != nil {
		meta := g.opts.ResponseMeta(MetaArgs{Ctx: ctx, Proc: desc, Data: value})
		if meta.Status > 0 {
			status = meta.Status
		}
		headers = meta.Headers
	}

	applyHeaders(w, headers)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
	g.metrics.observe(r.Method, codeOK, time.Since(started))
}

// respondStream renders a Server-Sent Events stream: one data frame per
// item in order, a [DONE] sentinel after a clean end, and nothing after a
// mid-stream failure. Streams always report 200; the meta hook contributes
// headers only.
func (g *Gateway) respondStream(ctx context.Context, w http.ResponseWriter, r *http.Request, desc *procedure.Descriptor, input map[string]any, stream procedure.Stream, started time.Time) {
	defer func() {
		_ = stream.Close()
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.fail(w, r, started, failure{
			proc:  desc,
			ctx:   ctx,
			input: input,
			err:   rpcerr.New(rpcerr.CodeInternal, "response writer does not support streaming"),
		})
		return
	}

	var headers map[string]string
	if g.opts.ResponseMeta != nil {
		headers = g.opts.ResponseMeta(MetaArgs{Ctx: ctx, Proc: desc}).Headers
	}
	applyHeaders(w, headers)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	g.metrics.streamStarted()
	defer g.metrics.streamEnded()
	g.logger.Debug(fmt.Sprintf("%s - stream opened", logPrefix), "procedure", desc.ID)

	frames := 0
	for {
		if r.Context().Err() != nil {
			g.logger.Debug(fmt.Sprintf("%s - client disconnected mid-stream", logPrefix),
				"procedure", desc.ID, "frames", frames)
			g.metrics.observe(r.Method, rpcerr.CodeClientClosed, time.Since(started))
			return
		}

		frame, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
			flusher.Flush()
			g.logger.Debug(fmt.Sprintf("%s - stream completed", logPrefix),
				"procedure", desc.ID, "frames", frames)
			g.metrics.observe(r.Method, codeOK, time.Since(started))
			return
		}
		if errors.Is(err, context.Canceled) {
			g.logger.Debug(fmt.Sprintf("%s - stream cancelled", logPrefix),
				"procedure", desc.ID, "frames", frames)
			g.metrics.observe(r.Method, rpcerr.CodeClientClosed, time.Since(started))
			return
		}
		if err != nil {
			// Headers are already on the wire: stop without a sentinel so
			// the client can tell a failure from a clean end.
			g.notifyError(r, failure{proc: desc, ctx: ctx, input: input, err: err})
			g.logger.Error(fmt.Sprintf("%s - stream failed mid-flight", logPrefix),
				"procedure", desc.ID, "frames", frames, "error", err)
			g.metrics.observe(r.Method, rpcerr.Normalize(err).Code, time.Since(started))
			return
		}

		if _, err := fmt.Fprintf(w, "data: %s\n\n", frame); err != nil {
			g.logger.Debug(fmt.Sprintf("%s - stream write failed, client gone", logPrefix),
				"procedure", desc.ID, "frames", frames)
			g.metrics.observe(r.Method, rpcerr.CodeClientClosed, time.Since(started))
			return
		}
		flusher.Flush()
		frames++
		g.metrics.frameWritten()
	}
}

func writeJSONError(w http.ResponseWriter, status int, headers map[string]string, norm rpcerr.Normalized) {
	applyHeaders(w, headers)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{
		Code:    norm.Code,
		Message: norm.Message,
		Issues:  norm.Issues,
	})
}

// applyHeaders sets hook-provided headers, skipping empty values.
func applyHeaders(w http.ResponseWriter, headers map[string]string) {
	for name, value := range headers {
		if value == "" {
			continue
		}
		w.Header().Set(name, value)
	}
}
