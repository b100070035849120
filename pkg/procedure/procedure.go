// Package procedure defines the typed procedures the gateway dispatches to:
// their identity, kinds, handlers, and the live registry they are resolved
// from on every request.
package procedure

import (
	"context"
	"fmt"
	"sync"

	"github.com/srushti98/trpc-openapi/pkg/rpcerr"
	"github.com/srushti98/trpc-openapi/pkg/schema"
)

// Kind declares how a procedure produces its outcome.
type Kind int

const (
	// KindQuery is a read-style procedure returning a single value.
	KindQuery Kind = iota
	// KindMutation is a write-style procedure returning a single value.
	KindMutation
	// KindSubscription is a streaming procedure yielding ordered frames.
	KindSubscription
)

// String returns the kind name used in logs and manifests.
func (k Kind) String() string {
	switch k {
	case KindQuery:
		return "query"
	case KindMutation:
		return "mutation"
	case KindSubscription:
		return "subscription"
	default:
		return "unknown"
	}
}

// KindFromString parses a kind name. The empty string defaults to query.
func KindFromString(name string) (Kind, error) {
	switch name {
	case "", "query":
		return KindQuery, nil
	case "mutation":
		return KindMutation, nil
	case "subscription":
		return KindSubscription, nil
	default:
		return KindQuery, fmt.Errorf("unknown procedure kind: %s", name)
	}
}

// Handler runs a query or mutation and returns its single value.
type Handler func(ctx context.Context, input map[string]any) (any, error)

// StreamHandler opens the stream backing a subscription.
type StreamHandler func(ctx context.Context, input map[string]any) (Stream, error)

// Descriptor declares one callable procedure: its identity, the HTTP surface
// it is exposed on, its input shape, and the callable itself.
type Descriptor struct {
	// ID is the stable procedure identifier (e.g., "users.byId").
	ID string
	// Kind decides whether Handle or Open is invoked.
	Kind Kind
	// Method is the HTTP method the procedure is exposed on.
	Method string
	// Path is the HTTP path template (e.g., "/users/{id}").
	Path string
	// Input validates request input; nil means the procedure takes none.
	Input schema.Shape
	// Handle is the callable for queries and mutations.
	Handle Handler
	// Open is the callable for subscriptions.
	Open StreamHandler
	// Description is optional documentation surfaced in the OpenAPI document.
	Description string
}

// Streaming reports whether the procedure yields frames instead of a value.
func (d *Descriptor) Streaming() bool {
	return d.Kind == KindSubscription
}

// Outcome is the tagged result of invoking a procedure. Exactly one of Value
// or Stream is populated, decided by the procedure's declared kind.
type Outcome struct {
	Value  any
	Stream Stream
}

// Invoke runs the procedure's callable and tags the outcome by its declared
// kind. The result shape is never sniffed.
func Invoke(ctx context.Context, d *Descriptor, input map[string]any) (Outcome, error) {
	if d.Kind == KindSubscription {
		if d.Open == nil {
			return Outcome{}, rpcerr.New(rpcerr.CodeInternal, "subscription procedure has no stream handler")
		}
		stream, err := d.Open(ctx, input)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Stream: stream}, nil
	}

	if d.Handle == nil {
		return Outcome{}, rpcerr.New(rpcerr.CodeInternal, "procedure has no handler")
	}
	value, err := d.Handle(ctx, input)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Value: value}, nil
}

// Registry is the live procedure table consulted on every dispatch.
type Registry interface {
	// Procedures lists all registered procedures in registration order.
	Procedures() []*Descriptor
	// Procedure returns the procedure for id, or nil when absent.
	Procedure(id string) *Descriptor
}

var allowedMethods = map[string]bool{
	"GET":    true,
	"POST":   true,
	"PUT":    true,
	"PATCH":  true,
	"DELETE": true,
}

// Router is an in-memory Registry. Registration normally happens before the
// gateway is built, but entries may be removed at runtime and lookups see
// the live table.
type Router struct {
	mu    sync.RWMutex
	byID  map[string]*Descriptor
	order []string
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{byID: make(map[string]*Descriptor)}
}

// Register adds a procedure after validating its identity, method, path,
// and kind/handler consistency. Duplicate IDs are rejected.
func (r *Router) Register(d *Descriptor) error {
	if d == nil {
		return fmt.Errorf("procedure descriptor is nil")
	}

	ref, err := ParseRef(d.ID)
	if err != nil {
		return err
	}
	if ref.Range != "" {
		return fmt.Errorf("procedure id must not carry a version range: %s", d.ID)
	}
	if !ValidateNamespace(ref.Namespace) {
		return fmt.Errorf("invalid procedure namespace: %s", ref.Namespace)
	}
	if !ValidateProcName(ref.Name) {
		return fmt.Errorf("invalid procedure name: %s", ref.Name)
	}

	if !allowedMethods[d.Method] {
		return fmt.Errorf("procedure %s: unsupported method %q", d.ID, d.Method)
	}
	if d.Path == "" || d.Path[0] != '/' {
		return fmt.Errorf("procedure %s: path must start with /: %q", d.ID, d.Path)
	}

	switch d.Kind {
	case KindQuery, KindMutation:
		if d.Handle == nil {
			return fmt.Errorf("procedure %s: %s requires a handler", d.ID, d.Kind)
		}
		if d.Open != nil {
			return fmt.Errorf("procedure %s: %s must not carry a stream handler", d.ID, d.Kind)
		}
	case KindSubscription:
		if d.Open == nil {
			return fmt.Errorf("procedure %s: subscription requires a stream handler", d.ID)
		}
		if d.Handle != nil {
			return fmt.Errorf("procedure %s: subscription must not carry a value handler", d.ID)
		}
	default:
		return fmt.Errorf("procedure %s: unknown kind %d", d.ID, d.Kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[d.ID]; exists {
		return fmt.Errorf("procedure %s is already registered", d.ID)
	}
	r.byID[d.ID] = d
	r.order = append(r.order, d.ID)
	return nil
}

// Deregister removes a procedure from the live table. In-flight requests
// that already resolved the descriptor finish normally.
func (r *Router) Deregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[id]; !exists {
		return false
	}
	delete(r.byID, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Procedures lists registered procedures in registration order.
func (r *Router) Procedures() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Procedure returns the procedure for id, or nil when absent.
func (r *Router) Procedure(id string) *Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}
