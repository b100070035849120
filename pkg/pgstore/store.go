package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	masterminds "github.com/Masterminds/semver/v3"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/srushti98/trpc-openapi/pkg/procedure"
)

const storeLogPrefix = "pgstore:store"

// Definition is the exchange shape for one resolved procedure: identity,
// version, HTTP surface, bus subject, and input schema. It is what the
// service builds its registry from and what a manifest seeds the store with.
type Definition struct {
	ID          string
	Namespace   string
	Name        string
	Version     string
	Kind        string
	Method      string
	Path        string
	Subject     string
	InputSchema json.RawMessage
	Description string
}

// Ref returns the full reference including the exact version.
func (d *Definition) Ref() string {
	return procedure.BuildRef(procedure.BuildRefParams{
		Namespace: d.Namespace,
		Name:      d.Name,
		Version:   d.Version,
	})
}

var schemaSQL = `
CREATE TABLE IF NOT EXISTS procedures (
	id TEXT PRIMARY KEY,
	namespace TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created TIMESTAMPTZ NOT NULL DEFAULT now(),
	modified TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (namespace, name)
);

CREATE TABLE IF NOT EXISTS procedure_versions (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	procedure_id TEXT NOT NULL REFERENCES procedures(id) ON DELETE CASCADE,
	major INT NOT NULL,
	minor INT NOT NULL,
	patch INT NOT NULL,
	prerelease TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	kind TEXT NOT NULL,
	method TEXT NOT NULL,
	path TEXT NOT NULL,
	subject TEXT NOT NULL,
	input_schema JSONB,
	description TEXT NOT NULL DEFAULT '',
	created TIMESTAMPTZ NOT NULL DEFAULT now(),
	modified TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (procedure_id, major, minor, patch, prerelease)
);

CREATE INDEX IF NOT EXISTS idx_procedure_versions_procedure
	ON procedure_versions (procedure_id, major DESC, minor DESC, patch DESC);
`

// Store provides database access for procedure definitions.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store with the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the procedure tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	slog.Info(fmt.Sprintf("%s - Ensuring schema", storeLogPrefix))
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("%s - failed to create schema: %w", storeLogPrefix, err)
	}
	return nil
}

// UpsertProcedureParams holds parameters for UpsertProcedure.
type UpsertProcedureParams struct {
	ID          string
	Description string
}

// UpsertProcedure creates or updates a procedure row. The namespace and
// name are derived from the id.
func (s *Store) UpsertProcedure(ctx context.Context, params UpsertProcedureParams) error {
	ref, err := procedure.ParseRef(params.ID)
	if err != nil {
		return err
	}
	if ref.Range != "" {
		return fmt.Errorf("%s - procedure id must not carry a version range: %s", storeLogPrefix, params.ID)
	}
	if !procedure.ValidateNamespace(ref.Namespace) {
		return fmt.Errorf("%s - invalid namespace: %s", storeLogPrefix, ref.Namespace)
	}
	if !procedure.ValidateProcName(ref.Name) {
		return fmt.Errorf("%s - invalid procedure name: %s", storeLogPrefix, ref.Name)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO procedures (id, namespace, name, description)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET
		   description = COALESCE(NULLIF($4, ''), procedures.description),
		   modified = now()`,
		ref.Full, ref.Namespace, ref.Name, params.Description)
	if err != nil {
		return fmt.Errorf("%s - UpsertProcedure %s failed: %w", storeLogPrefix, params.ID, err)
	}
	return nil
}

// UpsertVersionParams holds parameters for UpsertVersion.
type UpsertVersionParams struct {
	ProcedureID string
	Version     string
	Kind        string
	Method      string
	Path        string
	Subject     string
	InputSchema json.RawMessage
	Description string
	// Status defaults to "active".
	Status string
}

// UpsertVersion creates or updates one version row for a procedure.
func (s *Store) UpsertVersion(ctx context.Context, params UpsertVersionParams) error {
	sv, err := masterminds.NewVersion(params.Version)
	if err != nil {
		return fmt.Errorf("%s - invalid version %q for %s: %w", storeLogPrefix, params.Version, params.ProcedureID, err)
	}
	if _, err := procedure.KindFromString(params.Kind); err != nil {
		return fmt.Errorf("%s - %s: %w", storeLogPrefix, params.ProcedureID, err)
	}
	if params.Method == "" || params.Path == "" || params.Subject == "" {
		return fmt.Errorf("%s - %s@%s requires method, path, and subject", storeLogPrefix, params.ProcedureID, params.Version)
	}
	status := params.Status
	if status == "" {
		status = "active"
	}
	switch status {
	case "active", "deprecated", "disabled":
	default:
		return fmt.Errorf("%s - invalid status %q for %s", storeLogPrefix, status, params.ProcedureID)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO procedure_versions
		   (procedure_id, major, minor, patch, prerelease, status, kind, method, path, subject, input_schema, description)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (procedure_id, major, minor, patch, prerelease) DO UPDATE SET
		   status = $6,
		   kind = $7,
		   method = $8,
		   path = $9,
		   subject = $10,
		   input_schema = $11,
		   description = $12,
		   modified = now()`,
		params.ProcedureID, int(sv.Major()), int(sv.Minor()), int(sv.Patch()), sv.Prerelease(),
		status, params.Kind, params.Method, params.Path, params.Subject,
		[]byte(params.InputSchema), params.Description)
	if err != nil {
		return fmt.Errorf("%s - UpsertVersion %s@%s failed: %w", storeLogPrefix, params.ProcedureID, params.Version, err)
	}
	return nil
}

// Load returns every procedure with its best eligible version resolved.
// Procedures whose versions are all disabled are skipped.
func (s *Store) Load(ctx context.Context) ([]Definition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, namespace, name, description
		 FROM procedures
		 ORDER BY created, id`)
	if err != nil {
		return nil, fmt.Errorf("%s - Load procedures failed: %w", storeLogPrefix, err)
	}
	defer rows.Close()

	type procRow struct {
		id, namespace, name, description string
	}
	var procs []procRow
	for rows.Next() {
		var p procRow
		if err := rows.Scan(&p.id, &p.namespace, &p.name, &p.description); err != nil {
			return nil, fmt.Errorf("%s - Load scan failed: %w", storeLogPrefix, err)
		}
		procs = append(procs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - Load procedures failed: %w", storeLogPrefix, err)
	}

	versions, err := s.versionsByProcedure(ctx)
	if err != nil {
		return nil, err
	}

	defs := make([]Definition, 0, len(procs))
	for _, p := range procs {
		best := resolveBest(versions[p.id], "")
		if best == nil {
			slog.Warn(fmt.Sprintf("%s - procedure %s has no eligible version, skipping", storeLogPrefix, p.id))
			continue
		}
		defs = append(defs, definitionFor(p.id, p.namespace, p.name, p.description, best))
	}

	slog.Info(fmt.Sprintf("%s - Loaded %d procedure definitions", storeLogPrefix, len(defs)))
	return defs, nil
}

// ResolveRef resolves one reference, honoring any version range it carries.
func (s *Store) ResolveRef(ctx context.Context, ref string) (*Definition, error) {
	parsed, err := procedure.ParseRef(ref)
	if err != nil {
		return nil, err
	}

	var namespace, name, description string
	err = s.pool.QueryRow(ctx,
		`SELECT namespace, name, description FROM procedures WHERE id = $1`,
		parsed.Full).Scan(&namespace, &name, &description)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s - procedure not found: %s", storeLogPrefix, parsed.Full)
	}
	if err != nil {
		return nil, fmt.Errorf("%s - ResolveRef %s failed: %w", storeLogPrefix, ref, err)
	}

	versions, err := s.versionsFor(ctx, parsed.Full)
	if err != nil {
		return nil, err
	}

	best := resolveBest(versions, parsed.Range)
	if best == nil {
		if parsed.Range == "" {
			return nil, fmt.Errorf("%s - procedure %s has no eligible version", storeLogPrefix, parsed.Full)
		}
		return nil, fmt.Errorf("%s - no version of %s satisfies %q", storeLogPrefix, parsed.Full, parsed.Range)
	}

	def := definitionFor(parsed.Full, namespace, name, description, best)
	return &def, nil
}

// Clear truncates all procedure tables. Schema is preserved.
func (s *Store) Clear(ctx context.Context) error {
	slog.Info(fmt.Sprintf("%s - Clearing procedure tables", storeLogPrefix))

	_, err := s.pool.Exec(ctx, `TRUNCATE TABLE
		procedure_versions,
		procedures
		RESTART IDENTITY CASCADE`)
	if err != nil {
		return fmt.Errorf("%s - truncate failed: %w", storeLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Procedure tables cleared", storeLogPrefix))
	return nil
}

// Seed applies a set of definitions: one procedure row and one version row
// per definition.
func (s *Store) Seed(ctx context.Context, defs []Definition) error {
	for _, def := range defs {
		if err := s.UpsertProcedure(ctx, UpsertProcedureParams{
			ID:          def.ID,
			Description: def.Description,
		}); err != nil {
			return err
		}
		if err := s.UpsertVersion(ctx, UpsertVersionParams{
			ProcedureID: def.ID,
			Version:     def.Version,
			Kind:        def.Kind,
			Method:      def.Method,
			Path:        def.Path,
			Subject:     def.Subject,
			InputSchema: def.InputSchema,
			Description: def.Description,
		}); err != nil {
			return err
		}
	}

	slog.Info(fmt.Sprintf("%s - Seeded %d procedure definitions", storeLogPrefix, len(defs)))
	return nil
}

func (s *Store) versionsFor(ctx context.Context, procedureID string) ([]versionRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT major, minor, patch, prerelease, status, kind, method, path, subject, input_schema, description
		 FROM procedure_versions
		 WHERE procedure_id = $1
		 ORDER BY major DESC, minor DESC, patch DESC`, procedureID)
	if err != nil {
		return nil, fmt.Errorf("%s - versions query failed: %w", storeLogPrefix, err)
	}
	defer rows.Close()

	return scanVersionRows(rows)
}

func (s *Store) versionsByProcedure(ctx context.Context) (map[string][]versionRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT procedure_id, major, minor, patch, prerelease, status, kind, method, path, subject, input_schema, description
		 FROM procedure_versions
		 ORDER BY procedure_id, major DESC, minor DESC, patch DESC`)
	if err != nil {
		return nil, fmt.Errorf("%s - versions query failed: %w", storeLogPrefix, err)
	}
	defer rows.Close()

	result := make(map[string][]versionRow)
	for rows.Next() {
		var procedureID string
		var v versionRow
		if err := rows.Scan(&procedureID, &v.Major, &v.Minor, &v.Patch, &v.Prerelease,
			&v.Status, &v.Kind, &v.Method, &v.Path, &v.Subject, &v.InputSchema, &v.Description); err != nil {
			return nil, fmt.Errorf("%s - versions scan failed: %w", storeLogPrefix, err)
		}
		result[procedureID] = append(result[procedureID], v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - versions query failed: %w", storeLogPrefix, err)
	}
	return result, nil
}

func scanVersionRows(rows pgx.Rows) ([]versionRow, error) {
	var versions []versionRow
	for rows.Next() {
		var v versionRow
		if err := rows.Scan(&v.Major, &v.Minor, &v.Patch, &v.Prerelease,
			&v.Status, &v.Kind, &v.Method, &v.Path, &v.Subject, &v.InputSchema, &v.Description); err != nil {
			return nil, fmt.Errorf("%s - versions scan failed: %w", storeLogPrefix, err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - versions query failed: %w", storeLogPrefix, err)
	}
	return versions, nil
}

func definitionFor(id, namespace, name, procDescription string, v *versionRow) Definition {
	description := v.Description
	if description == "" {
		description = procDescription
	}
	return Definition{
		ID:          id,
		Namespace:   namespace,
		Name:        name,
		Version:     v.versionString(),
		Kind:        v.Kind,
		Method:      v.Method,
		Path:        v.Path,
		Subject:     v.Subject,
		InputSchema: v.InputSchema,
		Description: description,
	}
}
