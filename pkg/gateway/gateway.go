// Package gateway dispatches REST-shaped HTTP requests to typed procedures.
//
// A Gateway is built once from a procedure registry: path templates are
// compiled into a dispatch table, input shapes are inspected for coercible
// fields, and the resulting configuration is immutable. Per request the
// gateway matches a route, assembles and validates the input document,
// invokes the procedure in the live registry, and renders either a buffered
// JSON response or a Server-Sent Events stream.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/srushti98/trpc-openapi/pkg/procedure"
	"github.com/srushti98/trpc-openapi/pkg/route"
	"github.com/srushti98/trpc-openapi/pkg/rpcerr"
	"github.com/srushti98/trpc-openapi/pkg/schema"
)

const logPrefix = "gateway:gateway"

// DefaultMaxBodyBytes caps request bodies when Options.MaxBodyBytes is zero.
const DefaultMaxBodyBytes int64 = 1 << 20

// ContextFactory derives the context handed to procedures. Returning an
// error aborts dispatch with an internal error response.
type ContextFactory func(w http.ResponseWriter, r *http.Request) (context.Context, error)

// Meta carries overrides from the ResponseMeta hook: a replacement status
// for buffered responses and extra headers. Headers with empty values are
// skipped.
type Meta struct {
	Status  int
	Headers map[string]string
}

// MetaArgs describes the dispatch outcome handed to the ResponseMeta hook.
// Data is set on success, Err on failure. Proc is nil when no procedure was
// resolved.
type MetaArgs struct {
	Ctx  context.Context
	Proc *procedure.Descriptor
	Data any
	Err  error
}

// ResponseMeta is consulted before a response is written.
type ResponseMeta func(args MetaArgs) Meta

// HookArgs describes a dispatch failure for the error observation hook.
// Proc and Input are nil when the failure happened before they existed.
type HookArgs struct {
	Err   error
	Proc  *procedure.Descriptor
	Input map[string]any
	Ctx   context.Context
	Req   *http.Request
}

// ErrorHook observes dispatch failures. It is fire-and-forget: panics
// inside the hook are swallowed so observation can never break a response.
type ErrorHook func(args HookArgs)

// Options configures a Gateway.
type Options struct {
	// MaxBodyBytes caps request bodies on body-carrying methods.
	// Zero means DefaultMaxBodyBytes.
	MaxBodyBytes int64
	// ContextFactory derives the context passed to procedures.
	// Nil means the request's own context.
	ContextFactory ContextFactory
	// ResponseMeta can override the status and add headers on responses.
	ResponseMeta ResponseMeta
	// OnError observes every dispatch failure.
	OnError ErrorHook
	// Next handles requests no route matches. When nil the gateway
	// answers a JSON 404 itself, or an empty 204 for HEAD.
	Next http.Handler
	// Metrics enables request metrics when set.
	Metrics prometheus.Registerer
	// Logger overrides slog.Default.
	Logger *slog.Logger
}

// Gateway dispatches HTTP requests against a live procedure registry.
type Gateway struct {
	registry procedure.Registry
	table    *route.Table
	plans    map[string]map[string]schema.Kind
	opts     Options
	metrics  *requestMetrics
	logger   *slog.Logger
}

// New compiles the registry's procedures into a Gateway. Malformed path
// templates, duplicate routes, and overlapping routes fail construction.
func New(registry procedure.Registry, opts Options) (*Gateway, error) {
	if registry == nil {
		return nil, fmt.Errorf("%s - registry is required", logPrefix)
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	procs := registry.Procedures()
	table, err := route.Build(procs)
	if err != nil {
		return nil, err
	}

	// Each shape's coercible-field list is read once here and cached.
	plans := make(map[string]map[string]schema.Kind, len(procs))
	for _, desc := range procs {
		if desc.Input == nil {
			continue
		}
		plan := make(map[string]schema.Kind)
		for _, field := range desc.Input.Fields() {
			if field.Kind == schema.KindOpaque {
				continue
			}
			plan[field.Name] = field.Kind
		}
		if len(plan) > 0 {
			plans[desc.ID] = plan
		}
	}

	slog.Info(fmt.Sprintf("%s - gateway built", logPrefix), "procedures", len(procs))

	return &Gateway{
		registry: registry,
		table:    table,
		plans:    plans,
		opts:     opts,
		metrics:  newRequestMetrics(opts.Metrics),
		logger:   opts.Logger,
	}, nil
}

// failure bundles everything known about a dispatch at the moment it failed.
type failure struct {
	proc  *procedure.Descriptor
	ctx   context.Context
	input map[string]any
	err   error
}

// ServeHTTP runs the dispatch pipeline for one request.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	requestID := r.Header.Get("X-Request-Id")
	if requestID == "" {
		requestID = uuid.NewString()
		r.Header.Set("X-Request-Id", requestID)
	}
	w.Header().Set("X-Request-Id", requestID)

	match := g.table.Lookup(r.Method, requestPath(r))
	if match == nil {
		g.handleUnmatched(w, r, started)
		return
	}

	// The registry is live: a compiled route can outlast its procedure.
	desc := g.registry.Procedure(match.Descriptor.ID)
	if desc == nil {
		g.fail(w, r, started, failure{err: rpcerr.New(rpcerr.CodeNotFound, "Not found")})
		return
	}

	ctx := r.Context()
	if g.opts.ContextFactory != nil {
		derived, err := g.opts.ContextFactory(w, r)
		if err != nil {
			g.fail(w, r, started, failure{
				proc: desc,
				err:  rpcerr.Wrap(err, rpcerr.CodeInternal, "context factory failed"),
			})
			return
		}
		ctx = derived
	}

	input, err := g.assemble(w, r, desc, match.Params)
	if err != nil {
		g.fail(w, r, started, failure{proc: desc, ctx: ctx, err: err})
		return
	}

	if desc.Input != nil {
		if err := desc.Input.Validate(input); err != nil {
			g.fail(w, r, started, failure{proc: desc, ctx: ctx, input: input, err: err})
			return
		}
	}

	outcome, err := g.invoke(ctx, desc, input)
	if err != nil {
		g.fail(w, r, started, failure{proc: desc, ctx: ctx, input: input, err: err})
		return
	}

	if outcome.Stream != nil {
		g.respondStream(ctx, w, r, desc, input, outcome.Stream, started)
		return
	}
	g.respondValue(ctx, w, r, desc, outcome.Value, started)
}

// handleUnmatched delegates to the configured next handler. Without one,
// HEAD gets an empty 204 and everything else a fixed JSON 404.
func (g *Gateway) handleUnmatched(w http.ResponseWriter, r *http.Request, started time.Time) {
	if g.opts.Next != nil {
		g.opts.Next.ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusNoContent)
		g.metrics.observe(r.Method, codeOK, time.Since(started))
		return
	}

	err := rpcerr.New(rpcerr.CodeNotFound, "Not found")
	g.notifyError(r, failure{err: err})
	norm := rpcerr.Normalize(err)
	writeJSONError(w, norm.Status, nil, norm)
	g.metrics.observe(r.Method, norm.Code, time.Since(started))
}

// fail normalizes the error, fires the observation hook, and writes the
// error response.
func (g *Gateway) fail(w http.ResponseWriter, r *http.Request, started time.Time, f failure) {
	norm := rpcerr.Normalize(f.err)
	g.notifyError(r, f)

	status := norm.Status
	var headers map[string]string
	if g.opts.ResponseMeta != nil {
		meta := g.opts.ResponseMeta(MetaArgs{Ctx: g.hookContext(r, f.ctx), Proc: f.proc, Err: f.err})
		if meta.Status > 0 {
			status = meta.Status
		}
		headers = meta.Headers
	}

	writeJSONError(w, status, headers, norm)
	g.metrics.observe(r.Method, norm.Code, time.Since(started))
}

// invoke shields the pipeline from handler panics.
func (g *Gateway) invoke(ctx context.Context, desc *procedure.Descriptor, input map[string]any) (outcome procedure.Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			g.logger.Error(fmt.Sprintf("%s - procedure panicked", logPrefix),
				"procedure", desc.ID, "panic", rec)
			outcome = procedure.Outcome{}
			err = rpcerr.New(rpcerr.CodeInternal, "Internal server error")
		}
	}()
	return procedure.Invoke(ctx, desc, input)
}

// notifyError runs the error hook. A panic inside the hook is logged and
// swallowed so observation can never break the response.
func (g *Gateway) notifyError(r *http.Request, f failure) {
	if g.opts.OnError == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			g.logger.Error(fmt.Sprintf("%s - error hook panicked", logPrefix), "panic", rec)
		}
	}()
	g.opts.OnError(HookArgs{
		Err:   f.err,
		Proc:  f.proc,
		Input: f.input,
		Ctx:   g.hookContext(r, f.ctx),
		Req:   r,
	})
}

func (g *Gateway) hookContext(r *http.Request, ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return r.Context()
}

// requestPath prefers the escaped path so encoded separators survive
// segmentation.
func requestPath(r *http.Request) string {
	if r.URL == nil {
		return "/"
	}
	if p := r.URL.EscapedPath(); p != "" {
		return p
	}
	return "/"
}
