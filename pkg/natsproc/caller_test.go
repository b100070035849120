package natsproc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srushti98/trpc-openapi/pkg/procedure"
	"github.com/srushti98/trpc-openapi/pkg/rpcerr"
)

func TestCaller_CallReturnsResult(t *testing.T) {
	nc, cleanup := startTestServer(t, 14248)
	defer cleanup()

	subject := ProcSubject("math", "add", 1)
	serveTestRegistry(t, nc, subject)

	caller, err := NewCaller(CallerParams{Conn: nc})
	if err != nil {
		t.Fatalf("natsproc:caller_test - NewCaller failed: %v", err)
	}

	result, err := caller.Call(context.Background(), subject, "math.add", map[string]any{"a": 3.0, "b": 4.0})
	if err != nil {
		t.Fatalf("natsproc:caller_test - Call failed: %v", err)
	}
	m, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("natsproc:caller_test - result type = %T, want map", result)
	}
	if sum := m["sum"]; sum != float64(7) {
		t.Errorf("natsproc:caller_test - sum = %v, want 7", sum)
	}
}

func TestCaller_ValidationSurvivesTheHop(t *testing.T) {
	nc, cleanup := startTestServer(t, 14249)
	defer cleanup()

	subject := ProcSubject("math", "add", 1)
	serveTestRegistry(t, nc, subject)

	caller, err := NewCaller(CallerParams{Conn: nc})
	if err != nil {
		t.Fatalf("natsproc:caller_test - NewCaller failed: %v", err)
	}

	_, err = caller.Call(context.Background(), subject, "math.add", map[string]any{"a": 3.0})
	if err == nil {
		t.Fatal("natsproc:caller_test - expected validation error")
	}

	norm := rpcerr.Normalize(err)
	if norm.Code != rpcerr.CodeBadRequest {
		t.Errorf("natsproc:caller_test - Code = %q, want %q", norm.Code, rpcerr.CodeBadRequest)
	}
	if norm.Message != rpcerr.ValidationMessage {
		t.Errorf("natsproc:caller_test - Message = %q, want %q", norm.Message, rpcerr.ValidationMessage)
	}
	if len(norm.Issues) == 0 {
		t.Error("natsproc:caller_test - expected issues to survive the hop")
	}
}

func TestCaller_RemoteCodeSurvivesTheHop(t *testing.T) {
	nc, cleanup := startTestServer(t, 14250)
	defer cleanup()

	subject := ProcSubject("math", "add", 1)
	serveTestRegistry(t, nc, subject)

	caller, err := NewCaller(CallerParams{Conn: nc})
	if err != nil {
		t.Fatalf("natsproc:caller_test - NewCaller failed: %v", err)
	}

	_, err = caller.Call(context.Background(), subject, "math.conflict", nil)
	if err == nil {
		t.Fatal("natsproc:caller_test - expected conflict error")
	}

	norm := rpcerr.Normalize(err)
	if norm.Code != rpcerr.CodeConflict {
		t.Errorf("natsproc:caller_test - Code = %q, want %q", norm.Code, rpcerr.CodeConflict)
	}
	if norm.Status != 409 {
		t.Errorf("natsproc:caller_test - Status = %d, want 409", norm.Status)
	}
	if norm.Message != "ledger out of date" {
		t.Errorf("natsproc:caller_test - Message = %q, want remote message", norm.Message)
	}
}

func TestCaller_NoResponders(t *testing.T) {
	nc, cleanup := startTestServer(t, 14251)
	defer cleanup()

	caller, err := NewCaller(CallerParams{Conn: nc, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("natsproc:caller_test - NewCaller failed: %v", err)
	}

	_, err = caller.Call(context.Background(), "proc.math.add.v9", "math.add", nil)
	if err == nil {
		t.Fatal("natsproc:caller_test - expected error for unserved subject")
	}
	if norm := rpcerr.Normalize(err); norm.Code != rpcerr.CodeInternal {
		t.Errorf("natsproc:caller_test - Code = %q, want %q", norm.Code, rpcerr.CodeInternal)
	}
}

func TestCaller_HandlerAdaptsRemoteProcedure(t *testing.T) {
	nc, cleanup := startTestServer(t, 14252)
	defer cleanup()

	subject := ProcSubject("math", "add", 1)
	serveTestRegistry(t, nc, subject)

	caller, err := NewCaller(CallerParams{Conn: nc})
	if err != nil {
		t.Fatalf("natsproc:caller_test - NewCaller failed: %v", err)
	}

	local := procedure.NewRouter()
	if err := local.Register(&procedure.Descriptor{
		ID:     "math.add",
		Kind:   procedure.KindMutation,
		Method: "POST",
		Path:   "/math/add",
		Handle: caller.Handler(subject, "math.add"),
	}); err != nil {
		t.Fatalf("natsproc:caller_test - failed to register proxy: %v", err)
	}

	outcome, err := procedure.Invoke(context.Background(), local.Procedure("math.add"), map[string]any{"a": 1.0, "b": 2.0})
	if err != nil {
		t.Fatalf("natsproc:caller_test - Invoke failed: %v", err)
	}
	m, ok := outcome.Value.(map[string]any)
	if !ok {
		t.Fatalf("natsproc:caller_test - value type = %T, want map", outcome.Value)
	}
	if sum := m["sum"]; sum != float64(3) {
		t.Errorf("natsproc:caller_test - sum = %v, want 3", sum)
	}
}

func TestCaller_StreamHandlerBridgesSubject(t *testing.T) {
	nc, cleanup := startTestServer(t, 14253)
	defer cleanup()

	caller, err := NewCaller(CallerParams{Conn: nc})
	if err != nil {
		t.Fatalf("natsproc:caller_test - NewCaller failed: %v", err)
	}

	subject := StreamSubject("feed", "ticks", 1, "call-1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	open := caller.StreamHandler(subject, "feed.ticks")
	stream, err := open(ctx, nil)
	if err != nil {
		t.Fatalf("natsproc:caller_test - failed to open stream: %v", err)
	}
	defer stream.Close()
	if err := nc.Flush(); err != nil {
		t.Fatalf("natsproc:caller_test - flush failed: %v", err)
	}

	for _, frame := range []string{`{"n":1}`, `{"n":2}`} {
		if err := nc.Publish(subject, []byte(frame)); err != nil {
			t.Fatalf("natsproc:caller_test - publish failed: %v", err)
		}
	}
	if err := nc.Flush(); err != nil {
		t.Fatalf("natsproc:caller_test - flush failed: %v", err)
	}

	readCtx, readCancel := context.WithTimeout(ctx, 5*time.Second)
	defer readCancel()
	for i, want := range []string{`{"n":1}`, `{"n":2}`} {
		frame, err := stream.Next(readCtx)
		if err != nil {
			t.Fatalf("natsproc:caller_test - Next %d failed: %v", i, err)
		}
		if string(frame) != want {
			t.Errorf("natsproc:caller_test - frame %d = %q, want %q", i, frame, want)
		}
	}

	cancel()
	if _, err := stream.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("natsproc:caller_test - Next after cancel = %v, want context.Canceled", err)
	}
}

func TestNewCaller_RequiresConnection(t *testing.T) {
	if _, err := NewCaller(CallerParams{}); err == nil {
		t.Error("natsproc:caller_test - expected error without connection")
	}
}
