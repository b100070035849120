// Package main is the entrypoint for the rpc-gateway.
package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"

	"github.com/srushti98/trpc-openapi/internal/config"
	"github.com/srushti98/trpc-openapi/internal/server"
	"github.com/srushti98/trpc-openapi/pkg/manifest"
	"github.com/srushti98/trpc-openapi/pkg/pgstore"
)

const usage = `Usage: gateway [command]
       gateway serve               Start the gateway (NATS, HTTP, dispatch).
       gateway routes [ref]        Print the serving route table, or resolve one procedure ref.
       gateway init-db             Create gateway tables if missing.
       gateway ensure-db [name]    Create database if missing (default name: gateway_test). Uses DATABASE_URL host/user.
       gateway clear               Truncate procedure tables; schema is preserved.
       gateway seed [file]         Seed procedures from manifest JSON into the database.

Commands:
  serve            (default) Start the rpc-gateway.
  routes [ref]     Show routes from DATABASE_URL or the procedure manifest. A ref like users.byId@^1.2.0 resolves one procedure.
  init-db          Create tables only (does not start the server).
  ensure-db [name] Create database (e.g. gateway_test) on same host as DATABASE_URL; then run tests with that URL.
  clear            Truncate procedure data; schema preserved.
  seed [file]      Load a procedure manifest into the database. Optional file overrides GATEWAY_PROCEDURES_FILE.

Environment: DATABASE_URL (db commands), NATS_URL, GATEWAY_HTTP_ADDR (default 0.0.0.0:8080), GATEWAY_PROCEDURES_FILE. See README.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "routes":
		ref := ""
		if len(args) > 1 {
			ref = args[1]
		}
		if err := runRoutes(ref); err != nil {
			log.Fatalf("gateway routes: %v", err)
		}
		return
	case "init-db":
		if err := runInitDB(); err != nil {
			log.Fatalf("gateway init-db: %v", err)
		}
		return
	case "ensure-db":
		dbName := "gateway_test"
		if len(args) > 1 && args[1] != "" {
			dbName = args[1]
		}
		if err := runEnsureDB(dbName); err != nil {
			log.Fatalf("gateway ensure-db: %v", err)
		}
		return
	case "clear":
		if err := runClear(); err != nil {
			log.Fatalf("gateway clear: %v", err)
		}
		return
	case "seed":
		manifestFile := ""
		if len(args) > 1 {
			manifestFile = args[1]
		}
		if err := runSeed(manifestFile); err != nil {
			log.Fatalf("gateway seed: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
		break
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("gateway: %v", err)
	}
}

func runRoutes(ref string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := context.Background()

	var defs []pgstore.Definition
	if cfg.DatabaseURL != "" {
		pool, err := pgstore.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		store := pgstore.NewStore(pool)

		if ref != "" {
			def, err := store.ResolveRef(ctx, ref)
			if err != nil {
				return err
			}
			printDefinition(def)
			return nil
		}
		defs, err = store.Load(ctx)
		if err != nil {
			return err
		}
	} else {
		m, err := manifest.Load(cfg.ProceduresFile)
		if err != nil {
			return err
		}
		defs, err = m.Definitions()
		if err != nil {
			return err
		}
		if ref != "" {
			def, err := pgstore.Resolve(defs, ref)
			if err != nil {
				return err
			}
			printDefinition(def)
			return nil
		}
		defs = bestDefs(defs)
	}

	fmt.Printf("%-7s %-28s %-24s %-10s %-13s %s\n", "METHOD", "PATH", "PROCEDURE", "VERSION", "KIND", "SUBJECT")
	for i := range defs {
		def := &defs[i]
		fmt.Printf("%-7s %-28s %-24s %-10s %-13s %s\n", def.Method, def.Path, def.ID, def.Version, def.Kind, def.Subject)
	}
	return nil
}

// bestDefs collapses a manifest's version history to one definition per
// procedure, matching what serve registers. Database loads arrive collapsed.
func bestDefs(defs []pgstore.Definition) []pgstore.Definition {
	seen := make(map[string]bool, len(defs))
	out := make([]pgstore.Definition, 0, len(defs))
	for i := range defs {
		id := defs[i].ID
		if seen[id] {
			continue
		}
		seen[id] = true
		best, err := pgstore.Resolve(defs, id)
		if err != nil {
			continue
		}
		out = append(out, *best)
	}
	return out
}

func printDefinition(def *pgstore.Definition) {
	fmt.Printf("%s@%s\n", def.ID, def.Version)
	fmt.Printf("  kind:    %s\n", def.Kind)
	fmt.Printf("  route:   %s %s\n", def.Method, def.Path)
	fmt.Printf("  subject: %s\n", def.Subject)
	if def.Description != "" {
		fmt.Printf("  description: %s\n", def.Description)
	}
	if len(def.InputSchema) > 0 {
		fmt.Printf("  input schema: %s\n", def.InputSchema)
	}
}

func runInitDB() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := pgstore.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := pgstore.NewStore(pool).EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func runEnsureDB(dbName string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	u, err := url.Parse(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	// Point the URL at dbName; query params like sslmode ride along on RawQuery.
	u.Path = "/" + dbName

	if err := pgstore.EnsureDatabase(context.Background(), u.String()); err != nil {
		return err
	}
	fmt.Printf("Database %q is ready.\n", dbName)
	return nil
}

func runClear() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := pgstore.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := pgstore.NewStore(pool).Clear(ctx); err != nil {
		return fmt.Errorf("clear procedures: %w", err)
	}
	return nil
}

func runSeed(manifestFileOverride string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	m, err := manifest.Load(manifestFileOverride)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}
	defs, err := m.Definitions()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := pgstore.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := pgstore.NewStore(pool).Seed(ctx, defs); err != nil {
		return fmt.Errorf("seed procedures: %w", err)
	}
	return nil
}
