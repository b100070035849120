package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/srushti98/trpc-openapi/internal/config"
	"github.com/srushti98/trpc-openapi/pkg/natsproc"
	"github.com/srushti98/trpc-openapi/pkg/pgstore"
	"github.com/srushti98/trpc-openapi/pkg/procedure"
	"github.com/srushti98/trpc-openapi/pkg/schema"
)

const serverTestPrefix = "server:server_test"

// testDefs returns a small definition table covering all three kinds.
func testDefs() []pgstore.Definition {
	return []pgstore.Definition{
		{
			ID: "users.byId", Namespace: "users", Name: "byId", Version: "1.2.0",
			Kind: "query", Method: "GET", Path: "/users/{id}", Subject: "proc.users.byId.v1",
			InputSchema: json.RawMessage(`{"type":"object","required":["id"],"properties":{"id":{"type":"string"},"verbose":{"type":"boolean"}}}`),
			Description: "Fetch one user",
		},
		{
			ID: "orders.create", Namespace: "orders", Name: "create", Version: "2.0.0",
			Kind: "mutation", Method: "POST", Path: "/orders", Subject: "proc.orders.create.v2",
			InputSchema: json.RawMessage(`{"type":"object","required":["sku"],"properties":{"sku":{"type":"string"},"quantity":{"type":"number"}}}`),
		},
		{
			ID: "feed.ticks", Namespace: "feed", Name: "ticks", Version: "1.0.0",
			Kind: "subscription", Method: "GET", Path: "/feed/ticks", Subject: "proc.feed.ticks.v1",
		},
	}
}

// testServer returns a Server with test config for HTTP handler tests. No
// NATS connection or database pool is attached.
func testServer(t *testing.T, defs []pgstore.Definition) *Server {
	t.Helper()
	cfg := &config.Config{
		HealthCheckTimeout: 5 * time.Second,
		NATSName:           "rpc-gateway",
		BasePath:           "/api",
	}
	return &Server{cfg: cfg, defs: defs}
}

func TestBestByID_KeepsHighestVersion(t *testing.T) {
	defs := []pgstore.Definition{
		{ID: "users.byId", Version: "1.0.0", Path: "/users/{id}"},
		{ID: "orders.create", Version: "1.0.0", Path: "/orders"},
		{ID: "users.byId", Version: "1.2.0", Path: "/users/{id}"},
		{ID: "users.byId", Version: "0.9.0", Path: "/legacy/users/{id}"},
	}
	out := bestByID(defs)

	if len(out) != 2 {
		t.Fatalf("%s - bestByID returned %d definitions, want 2", serverTestPrefix, len(out))
	}
	if out[0].ID != "users.byId" || out[0].Version != "1.2.0" {
		t.Errorf("%s - out[0] = %s@%s, want users.byId@1.2.0", serverTestPrefix, out[0].ID, out[0].Version)
	}
	if out[1].ID != "orders.create" {
		t.Errorf("%s - out[1].ID = %q, want orders.create (first-seen order)", serverTestPrefix, out[1].ID)
	}
}

func TestBestByID_SingleVersionsPassThrough(t *testing.T) {
	defs := testDefs()
	out := bestByID(defs)
	if len(out) != len(defs) {
		t.Errorf("%s - bestByID dropped definitions: got %d, want %d", serverTestPrefix, len(out), len(defs))
	}
	for i := range out {
		if out[i].ID != defs[i].ID {
			t.Errorf("%s - out[%d].ID = %q, want %q", serverTestPrefix, i, out[i].ID, defs[i].ID)
		}
	}
}

func TestBuildRouter_RegistersAllKinds(t *testing.T) {
	var caller *natsproc.Caller
	router, shapes, err := buildRouter(testDefs(), caller)
	if err != nil {
		t.Fatalf("%s - buildRouter failed: %v", serverTestPrefix, err)
	}

	if got := len(router.Procedures()); got != 3 {
		t.Fatalf("%s - registered %d procedures, want 3", serverTestPrefix, got)
	}

	query := router.Procedure("users.byId")
	if query == nil {
		t.Fatalf("%s - users.byId not registered", serverTestPrefix)
	}
	if query.Kind != procedure.KindQuery {
		t.Errorf("%s - users.byId Kind = %v, want query", serverTestPrefix, query.Kind)
	}
	if query.Handle == nil || query.Open != nil {
		t.Errorf("%s - query should have Handle set and Open nil", serverTestPrefix)
	}
	if query.Input == nil {
		t.Errorf("%s - users.byId should carry a compiled input shape", serverTestPrefix)
	}

	sub := router.Procedure("feed.ticks")
	if sub == nil {
		t.Fatalf("%s - feed.ticks not registered", serverTestPrefix)
	}
	if sub.Open == nil || sub.Handle != nil {
		t.Errorf("%s - subscription should have Open set and Handle nil", serverTestPrefix)
	}
	if sub.Input != nil {
		t.Errorf("%s - feed.ticks has no schema, Input should be nil", serverTestPrefix)
	}

	if _, ok := shapes["users.byId"]; !ok {
		t.Errorf("%s - shapes should contain users.byId", serverTestPrefix)
	}
	if _, ok := shapes["feed.ticks"]; ok {
		t.Errorf("%s - shapes should not contain schemaless feed.ticks", serverTestPrefix)
	}
}

func TestBuildRouter_BadSchema(t *testing.T) {
	var caller *natsproc.Caller
	defs := []pgstore.Definition{{
		ID: "users.byId", Namespace: "users", Name: "byId", Version: "1.0.0",
		Kind: "query", Method: "GET", Path: "/users/{id}", Subject: "proc.users.byId.v1",
		InputSchema: json.RawMessage(`{"type":`),
	}}
	_, _, err := buildRouter(defs, caller)
	if err == nil {
		t.Fatalf("%s - expected error for unparseable input schema", serverTestPrefix)
	}
	if !strings.Contains(err.Error(), "input schema") {
		t.Errorf("%s - error = %q, want mention of input schema", serverTestPrefix, err.Error())
	}
}

func TestBuildRouter_DuplicateID(t *testing.T) {
	var caller *natsproc.Caller
	defs := []pgstore.Definition{
		{ID: "users.byId", Namespace: "users", Name: "byId", Version: "1.0.0", Kind: "query", Method: "GET", Path: "/users/{id}", Subject: "proc.users.byId.v1"},
		{ID: "users.byId", Namespace: "users", Name: "byId", Version: "2.0.0", Kind: "query", Method: "GET", Path: "/v2/users/{id}", Subject: "proc.users.byId.v2"},
	}
	_, _, err := buildRouter(defs, caller)
	if err == nil {
		t.Fatalf("%s - expected error for duplicate procedure id", serverTestPrefix)
	}
	if !strings.Contains(err.Error(), "register users.byId") {
		t.Errorf("%s - error = %q, want register users.byId", serverTestPrefix, err.Error())
	}
}

func TestPathParams(t *testing.T) {
	cases := []struct {
		path string
		want []string
	}{
		{"/users/{id}", []string{"id"}},
		{"/orders/{order_id}/items/{item_id}", []string{"order_id", "item_id"}},
		{"/static/path", nil},
		{"/{x}", []string{"x"}},
	}
	for _, c := range cases {
		got := pathParams(c.path)
		if len(got) != len(c.want) {
			t.Errorf("%s - pathParams(%q) = %v, want %v", serverTestPrefix, c.path, got, c.want)
			continue
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Errorf("%s - pathParams(%q)[%d] = %q, want %q", serverTestPrefix, c.path, i, got[i], c.want[i])
			}
		}
	}
}

func TestBuildOpenAPIDocument_Basics(t *testing.T) {
	doc := buildOpenAPIDocument(testDefs(), nil, "rpc-gateway", "/api")

	if doc.OpenAPI != "3.0.0" {
		t.Errorf("%s - OpenAPI = %q, want 3.0.0", serverTestPrefix, doc.OpenAPI)
	}
	if doc.Info.Title != "rpc-gateway" {
		t.Errorf("%s - Info.Title = %q, want rpc-gateway", serverTestPrefix, doc.Info.Title)
	}
	if doc.Info.Version != "1.0.0" {
		t.Errorf("%s - Info.Version = %q, want 1.0.0", serverTestPrefix, doc.Info.Version)
	}
	if len(doc.Servers) != 1 || doc.Servers[0].URL != "/api" {
		t.Errorf("%s - Servers = %v, want single /api entry", serverTestPrefix, doc.Servers)
	}
	if len(doc.Paths) != 3 {
		t.Fatalf("%s - expected 3 paths, got %d", serverTestPrefix, len(doc.Paths))
	}
	if _, ok := doc.Paths["/users/{id}"]["get"]; !ok {
		t.Errorf("%s - expected get operation under /users/{id}", serverTestPrefix)
	}
	if _, ok := doc.Paths["/orders"]["post"]; !ok {
		t.Errorf("%s - expected post operation under /orders", serverTestPrefix)
	}
}

func TestBuildOpenAPIDocument_NoServersWithoutBasePath(t *testing.T) {
	doc := buildOpenAPIDocument(testDefs(), nil, "rpc-gateway", "")
	if len(doc.Servers) != 0 {
		t.Errorf("%s - Servers = %v, want none for empty base path", serverTestPrefix, doc.Servers)
	}
}

func TestBuildOpenAPIDocument_QueryParameters(t *testing.T) {
	defs := testDefs()
	shape, err := schema.Compile(defs[0].InputSchema)
	if err != nil {
		t.Fatalf("%s - compile fixture schema: %v", serverTestPrefix, err)
	}
	doc := buildOpenAPIDocument(defs, map[string]schema.Shape{"users.byId": shape}, "rpc-gateway", "/api")

	op := doc.Paths["/users/{id}"]["get"]
	if op == nil {
		t.Fatalf("%s - missing get /users/{id}", serverTestPrefix)
	}
	if op.OperationID != "users.byId" {
		t.Errorf("%s - OperationID = %q, want users.byId", serverTestPrefix, op.OperationID)
	}
	if op.Description != "Fetch one user" {
		t.Errorf("%s - Description = %q, want Fetch one user", serverTestPrefix, op.Description)
	}

	var pathParam, queryParam *openAPI3Parameter
	for i := range op.Parameters {
		switch op.Parameters[i].In {
		case "path":
			pathParam = &op.Parameters[i]
		case "query":
			queryParam = &op.Parameters[i]
		}
	}
	if pathParam == nil || pathParam.Name != "id" || !pathParam.Required {
		t.Errorf("%s - expected required path parameter id, got %+v", serverTestPrefix, pathParam)
	}
	if queryParam == nil || queryParam.Name != "verbose" {
		t.Fatalf("%s - expected query parameter verbose, got %+v", serverTestPrefix, queryParam)
	}
	if queryParam.Schema["type"] != "boolean" {
		t.Errorf("%s - verbose schema type = %v, want boolean", serverTestPrefix, queryParam.Schema["type"])
	}
	// The id field is bound to the path and must not repeat as a query parameter.
	for _, p := range op.Parameters {
		if p.In == "query" && p.Name == "id" {
			t.Errorf("%s - id should not appear as a query parameter", serverTestPrefix)
		}
	}
}

func TestBuildOpenAPIDocument_RequestBodyPassthrough(t *testing.T) {
	doc := buildOpenAPIDocument(testDefs(), nil, "rpc-gateway", "/api")

	op := doc.Paths["/orders"]["post"]
	if op == nil {
		t.Fatalf("%s - missing post /orders", serverTestPrefix)
	}
	if op.RequestBody == nil {
		t.Fatalf("%s - post /orders should carry a request body", serverTestPrefix)
	}
	raw, ok := op.RequestBody.Content["application/json"].Schema.(json.RawMessage)
	if !ok {
		t.Fatalf("%s - request body schema should be the raw schema document", serverTestPrefix)
	}
	if !strings.Contains(string(raw), `"sku"`) {
		t.Errorf("%s - request body schema should mention sku, got %s", serverTestPrefix, raw)
	}
}

func TestBuildOpenAPIDocument_SubscriptionStreams(t *testing.T) {
	doc := buildOpenAPIDocument(testDefs(), nil, "rpc-gateway", "/api")

	op := doc.Paths["/feed/ticks"]["get"]
	if op == nil {
		t.Fatalf("%s - missing get /feed/ticks", serverTestPrefix)
	}
	success, ok := op.Responses["200"]
	if !ok {
		t.Fatalf("%s - missing 200 response", serverTestPrefix)
	}
	if _, ok := success.Content["text/event-stream"]; !ok {
		t.Errorf("%s - subscription 200 should use text/event-stream", serverTestPrefix)
	}
	if _, ok := op.Responses["default"]; !ok {
		t.Errorf("%s - missing default error response", serverTestPrefix)
	}
}

func TestBuildOpenAPIDocument_JSONRoundTrip(t *testing.T) {
	defs := testDefs()
	shape, err := schema.Compile(defs[0].InputSchema)
	if err != nil {
		t.Fatalf("%s - compile fixture schema: %v", serverTestPrefix, err)
	}
	doc := buildOpenAPIDocument(defs, map[string]schema.Shape{"users.byId": shape}, "rpc-gateway", "/api")

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("%s - marshal failed: %v", serverTestPrefix, err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("%s - unmarshal failed: %v", serverTestPrefix, err)
	}
	if decoded["openapi"] != "3.0.0" {
		t.Errorf("%s - openapi = %v, want 3.0.0", serverTestPrefix, decoded["openapi"])
	}
	paths, ok := decoded["paths"].(map[string]interface{})
	if !ok {
		t.Fatalf("%s - paths missing or wrong type", serverTestPrefix)
	}
	if _, ok := paths["/users/{id}"]; !ok {
		t.Errorf("%s - paths should contain /users/{id}", serverTestPrefix)
	}
	if _, ok := paths["/orders"]; !ok {
		t.Errorf("%s - paths should contain /orders", serverTestPrefix)
	}
}

func TestParameterSchema_Lists(t *testing.T) {
	got := parameterSchema(schema.KindNumberList)
	if got["type"] != "array" {
		t.Fatalf("%s - list kind type = %v, want array", serverTestPrefix, got["type"])
	}
	items, ok := got["items"].(map[string]any)
	if !ok || items["type"] != "number" {
		t.Errorf("%s - list items = %v, want number", serverTestPrefix, got["items"])
	}
}

func TestHandleHealth_DegradedWithoutConnections(t *testing.T) {
	s := testServer(t, nil)
	handler := s.handleHealth()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("%s - health (no connections) got status %d, want 503", serverTestPrefix, rec.Code)
	}
	var out healthStatus
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("%s - decode health: %v", serverTestPrefix, err)
	}
	if out.Status != "degraded" {
		t.Errorf("%s - Status = %q, want degraded", serverTestPrefix, out.Status)
	}
	if out.Checks["nats"] {
		t.Errorf("%s - nats check should be false without a connection", serverTestPrefix)
	}
	if _, ok := out.Checks["database"]; ok {
		t.Errorf("%s - database check should be absent without a pool", serverTestPrefix)
	}
	if out.Timestamp == "" {
		t.Errorf("%s - timestamp should be set", serverTestPrefix)
	}
}

func TestHandleIndex_Success(t *testing.T) {
	s := testServer(t, testDefs())
	handler := s.handleIndex()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("%s - handleIndex got status %d, want 200", serverTestPrefix, rec.Code)
	}
	if rec.Header().Get("Content-Type") != "text/html; charset=utf-8" {
		t.Errorf("%s - Content-Type = %q, want text/html", serverTestPrefix, rec.Header().Get("Content-Type"))
	}
	body := rec.Body.String()
	if !strings.Contains(body, "rpc-gateway") {
		t.Errorf("%s - body should contain the service name", serverTestPrefix)
	}
	if !strings.Contains(body, "/api/users/{id}") {
		t.Errorf("%s - body should contain the prefixed route path", serverTestPrefix)
	}
	if !strings.Contains(body, "users.byId") || !strings.Contains(body, "Fetch one user") {
		t.Errorf("%s - body should contain procedure id and description", serverTestPrefix)
	}
}

func TestHandleIndex_OnlyRoot(t *testing.T) {
	s := testServer(t, testDefs())
	handler := s.handleIndex()
	req := httptest.NewRequest(http.MethodGet, "/other", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("%s - handleIndex(/other) got status %d, want 404", serverTestPrefix, rec.Code)
	}
}

func TestHandleOpenAPI(t *testing.T) {
	doc := buildOpenAPIDocument(testDefs(), nil, "rpc-gateway", "/api")
	handler := handleOpenAPI(doc)
	req := httptest.NewRequest(http.MethodGet, "/openapi.json", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("%s - openapi.json got status %d, want 200", serverTestPrefix, rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("%s - Content-Type = %q, want application/json", serverTestPrefix, rec.Header().Get("Content-Type"))
	}
	if rec.Header().Get("Cache-Control") != "public, max-age=60" {
		t.Errorf("%s - Cache-Control = %q, want public, max-age=60", serverTestPrefix, rec.Header().Get("Cache-Control"))
	}
	var decoded openAPI3Document
	if err := json.NewDecoder(rec.Body).Decode(&decoded); err != nil {
		t.Fatalf("%s - decode openapi: %v", serverTestPrefix, err)
	}
	if decoded.OpenAPI != "3.0.0" || decoded.Info.Title != "rpc-gateway" {
		t.Errorf("%s - openapi doc OpenAPI=%q Title=%q", serverTestPrefix, decoded.OpenAPI, decoded.Info.Title)
	}
}

func TestHandleDocs(t *testing.T) {
	handler := handleDocs("rpc-gateway")
	req := httptest.NewRequest(http.MethodGet, "/docs", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("%s - docs got status %d, want 200", serverTestPrefix, rec.Code)
	}
	if rec.Header().Get("Content-Type") != "text/html; charset=utf-8" {
		t.Errorf("%s - Content-Type = %q, want text/html", serverTestPrefix, rec.Header().Get("Content-Type"))
	}
	body := rec.Body.String()
	if !strings.Contains(body, "swagger-ui") {
		t.Errorf("%s - body should embed swagger-ui", serverTestPrefix)
	}
	if !strings.Contains(body, "http://example.com/openapi.json") {
		t.Errorf("%s - body should point at the openapi.json URL, got %s", serverTestPrefix, body)
	}
}

func TestReadyHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	}(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("%s - ready got status %d, want 200", serverTestPrefix, rec.Code)
	}
	var out map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("%s - decode ready: %v", serverTestPrefix, err)
	}
	if out["status"] != "ready" {
		t.Errorf("%s - status = %q, want ready", serverTestPrefix, out["status"])
	}
}
