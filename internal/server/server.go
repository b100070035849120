// Package server wires the gateway together: definition loading, the NATS
// caller, the dispatch pipeline, and the HTTP endpoints around it.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	masterminds "github.com/Masterminds/semver/v3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/srushti98/trpc-openapi/internal/config"
	"github.com/srushti98/trpc-openapi/pkg/events"
	"github.com/srushti98/trpc-openapi/pkg/gateway"
	"github.com/srushti98/trpc-openapi/pkg/manifest"
	"github.com/srushti98/trpc-openapi/pkg/natsproc"
	"github.com/srushti98/trpc-openapi/pkg/pgstore"
	"github.com/srushti98/trpc-openapi/pkg/procedure"
	"github.com/srushti98/trpc-openapi/pkg/schema"
)

const logPrefix = "server:server"

// Server is the rpc-gateway orchestrator.
type Server struct {
	cfg        *config.Config
	nc         *nats.Conn
	pool       *pgxpool.Pool // nil in manifest mode
	httpServer *http.Server
	defs       []pgstore.Definition
}

// Run starts the gateway, blocks until a shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info(fmt.Sprintf("%s - Starting rpc-gateway", logPrefix))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &Server{cfg: cfg}

	// Step 1: Load procedure definitions
	var defs []pgstore.Definition
	if cfg.DatabaseURL != "" {
		pool, err := pgstore.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
		}
		s.pool = pool
		store := pgstore.NewStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return err
		}
		defs, err = store.Load(ctx)
		if err != nil {
			pool.Close()
			return err
		}
	} else {
		m, err := manifest.Load(cfg.ProceduresFile)
		if err != nil {
			return fmt.Errorf("%s - failed to load procedure manifest: %w", logPrefix, err)
		}
		defs, err = m.Definitions()
		if err != nil {
			return err
		}
	}
	defs = bestByID(defs)
	if len(defs) == 0 {
		if s.pool != nil {
			s.pool.Close()
		}
		return fmt.Errorf("%s - no procedure definitions available", logPrefix)
	}
	s.defs = defs
	slog.Info(fmt.Sprintf("%s - Serving %d procedures", logPrefix, len(defs)))

	// Step 2: Connect to NATS
	nc, err := natsproc.Connect(cfg.NATSURL, cfg.NATSName)
	if err != nil {
		if s.pool != nil {
			s.pool.Close()
		}
		return fmt.Errorf("%s - failed to connect to NATS: %w", logPrefix, err)
	}
	s.nc = nc
	slog.Info(fmt.Sprintf("%s - Connected to NATS at %s", logPrefix, cfg.NATSURL))

	// Step 3: Build the procedure table backed by the bus caller
	caller, err := natsproc.NewCaller(natsproc.CallerParams{Conn: nc, Timeout: cfg.RequestTimeout})
	if err != nil {
		nc.Close()
		if s.pool != nil {
			s.pool.Close()
		}
		return err
	}

	router, shapes, err := buildRouter(defs, caller)
	if err != nil {
		nc.Close()
		if s.pool != nil {
			s.pool.Close()
		}
		return err
	}

	// Step 4: Build the gateway
	metricsRegistry := prometheus.NewRegistry()
	metricsRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	gwOpts := gateway.Options{
		MaxBodyBytes: cfg.MaxBodyBytes,
		Metrics:      metricsRegistry,
		Logger:       slog.Default(),
	}
	if cfg.ErrorEventSubject != "" {
		publisher := events.NewNATSPublisher(nc, &events.NATSPublisherOpts{Subject: cfg.ErrorEventSubject})
		gwOpts.OnError = events.Hook(publisher)
		slog.Info(fmt.Sprintf("%s - Publishing error events to %s", logPrefix, cfg.ErrorEventSubject))
	}
	if cfg.BasePath == "" {
		// Gateway owns the root; unmatched requests fall through to the
		// index page handler.
		gwOpts.Next = s.handleIndex()
	}

	gw, err := gateway.New(router, gwOpts)
	if err != nil {
		nc.Close()
		if s.pool != nil {
			s.pool.Close()
		}
		return err
	}

	// Step 5: HTTP endpoints
	doc := buildOpenAPIDocument(defs, shapes, cfg.NATSName, cfg.BasePath)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})
	mux.Handle("/metrics", promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/openapi.json", handleOpenAPI(doc))
	mux.HandleFunc("/docs", handleDocs(cfg.NATSName))
	if cfg.BasePath != "" {
		mux.HandleFunc("/", s.handleIndex())
		mux.Handle(cfg.BasePath+"/", http.StripPrefix(cfg.BasePath, gw))
	} else {
		mux.Handle("/", gw)
	}

	httpAddr := cfg.HTTPAddr
	s.httpServer = &http.Server{Addr: httpAddr, Handler: mux}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, httpAddr))
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	slog.Info(fmt.Sprintf("%s - rpc-gateway is ready", logPrefix))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	// Graceful shutdown
	s.httpServer.Shutdown(ctx)
	s.nc.Drain()
	if s.pool != nil {
		s.pool.Close()
	}

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

// bestByID keeps the highest version per procedure id, preserving first-seen
// order. Database loads already arrive collapsed; a manifest may list several
// versions of one procedure.
func bestByID(defs []pgstore.Definition) []pgstore.Definition {
	best := make(map[string]int, len(defs))
	order := make([]string, 0, len(defs))
	for i := range defs {
		id := defs[i].ID
		prev, seen := best[id]
		if !seen {
			best[id] = i
			order = append(order, id)
			continue
		}
		a, errA := masterminds.NewVersion(defs[i].Version)
		b, errB := masterminds.NewVersion(defs[prev].Version)
		if errA == nil && errB == nil && a.GreaterThan(b) {
			best[id] = i
		}
	}

	out := make([]pgstore.Definition, 0, len(order))
	for _, id := range order {
		out = append(out, defs[best[id]])
	}
	return out
}

// buildRouter compiles definitions into a live procedure table whose handlers
// call out over the bus. The compiled shapes are returned for the OpenAPI
// document.
func buildRouter(defs []pgstore.Definition, caller *natsproc.Caller) (*procedure.Router, map[string]schema.Shape, error) {
	router := procedure.NewRouter()
	shapes := make(map[string]schema.Shape, len(defs))

	for i := range defs {
		def := &defs[i]

		var shape schema.Shape
		if len(def.InputSchema) > 0 {
			compiled, err := schema.Compile(def.InputSchema)
			if err != nil {
				return nil, nil, fmt.Errorf("%s - %s input schema: %w", logPrefix, def.Ref(), err)
			}
			shape = compiled
			shapes[def.ID] = compiled
		}

		kind, err := procedure.KindFromString(def.Kind)
		if err != nil {
			return nil, nil, fmt.Errorf("%s - %s: %w", logPrefix, def.Ref(), err)
		}

		desc := &procedure.Descriptor{
			ID:          def.ID,
			Kind:        kind,
			Method:      def.Method,
			Path:        def.Path,
			Input:       shape,
			Description: def.Description,
		}
		if kind == procedure.KindSubscription {
			desc.Open = caller.StreamHandler(def.Subject, def.ID)
		} else {
			desc.Handle = caller.Handler(def.Subject, def.ID)
		}

		if err := router.Register(desc); err != nil {
			return nil, nil, fmt.Errorf("%s - register %s: %w", logPrefix, def.Ref(), err)
		}
	}

	return router, shapes, nil
}

// healthStatus is the /health response body.
type healthStatus struct {
	Status    string          `json:"status"`
	Checks    map[string]bool `json:"checks"`
	Timestamp string          `json:"timestamp"`
}

// handleHealth reports NATS and, when configured, database connectivity.
func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		healthCtx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()

		checks := map[string]bool{
			"nats": s.nc != nil && s.nc.IsConnected(),
		}
		if s.pool != nil {
			checks["database"] = s.pool.Ping(healthCtx) == nil
		}

		status := "healthy"
		for _, ok := range checks {
			if !ok {
				status = "degraded"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(healthStatus{
			Status:    status,
			Checks:    checks,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// indexPageTemplate is the HTML for the gateway route index (white bg, black/blue text).
const indexPageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>{{.ServiceName}}</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    a { color: #0066cc; }
    h1, h2 { color: #0066cc; }
    table { border-collapse: collapse; width: 100%; max-width: 1000px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
    .method { font-weight: bold; }
    .meta { color: #333; font-size: 0.9rem; margin-top: 1rem; }
    section { margin-bottom: 2rem; }
  </style>
</head>
<body>
  <h1>{{.ServiceName}}</h1>
  <p class="meta">REST routes dispatching to bus procedures.
    <a href="/docs">API docs</a> &middot;
    <a href="/openapi.json">OpenAPI</a> &middot;
    <a href="/health">Health</a> &middot;
    <a href="/metrics">Metrics</a></p>

  <section>
    <h2>Routes</h2>
    {{if not .Routes}}
    <p>No procedures registered.</p>
    {{else}}
    <table>
      <thead>
        <tr><th>Method</th><th>Path</th><th>Procedure</th><th>Kind</th><th>Version</th><th>Description</th></tr>
      </thead>
      <tbody>
        {{range .Routes}}
        <tr>
          <td class="method">{{.Method}}</td>
          <td>{{.Path}}</td>
          <td>{{.ID}}</td>
          <td>{{.Kind}}</td>
          <td>{{.Version}}</td>
          <td>{{.Description}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>
</body>
</html>
`

// indexData is the data passed to the index page template.
type indexData struct {
	ServiceName string
	Routes      []indexRoute
}

type indexRoute struct {
	Method, Path, ID, Kind, Version, Description string
}

// handleIndex returns an HTTP handler for the route index page.
func (s *Server) handleIndex() http.HandlerFunc {
	tmpl := template.Must(template.New("index").Parse(indexPageTemplate))

	data := indexData{ServiceName: s.cfg.NATSName}
	for i := range s.defs {
		def := &s.defs[i]
		data.Routes = append(data.Routes, indexRoute{
			Method:      def.Method,
			Path:        s.cfg.BasePath + def.Path,
			ID:          def.ID,
			Kind:        def.Kind,
			Version:     def.Version,
			Description: def.Description,
		})
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - index template execute: %v", logPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}
