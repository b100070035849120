// Package manifest loads JSON procedure manifests for file-driven
// deployments and database seeding.
package manifest

import (
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/srushti98/trpc-openapi/pkg/natsproc"
	"github.com/srushti98/trpc-openapi/pkg/pgstore"
	"github.com/srushti98/trpc-openapi/pkg/procedure"
)

// Entry describes one procedure version in a manifest file.
type Entry struct {
	ID          string          `json:"id"`
	Version     string          `json:"version"`
	Kind        string          `json:"kind"`
	Method      string          `json:"method"`
	Path        string          `json:"path"`
	Subject     string          `json:"subject,omitempty"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Manifest is the root manifest document.
type Manifest struct {
	Name       string  `json:"name"`
	Version    string  `json:"version"`
	Procedures []Entry `json:"procedures"`
}

var allowedMethods = map[string]bool{
	"GET":    true,
	"POST":   true,
	"PUT":    true,
	"PATCH":  true,
	"DELETE": true,
}

// Validate checks every entry. The same (id, version) pair listed twice is
// an authoring error; the same id with different versions is allowed and
// seeds multiple versions of one procedure.
func (m *Manifest) Validate() error {
	seen := make(map[string]int, len(m.Procedures))
	for i := range m.Procedures {
		e := &m.Procedures[i]
		if err := e.validate(); err != nil {
			return fmt.Errorf("entry %d (%s): %w", i, e.ID, err)
		}
		key := e.ID + "@" + e.Version
		if prev, ok := seen[key]; ok {
			return fmt.Errorf("entry %d duplicates entry %d: %s", i, prev, key)
		}
		seen[key] = i
	}
	return nil
}

func (e *Entry) validate() error {
	ref, err := procedure.ParseRef(e.ID)
	if err != nil {
		return fmt.Errorf("invalid id: %w", err)
	}
	if ref.Range != "" {
		return fmt.Errorf("id must not carry a version range: %s", e.ID)
	}
	if !procedure.ValidateNamespace(ref.Namespace) {
		return fmt.Errorf("invalid namespace: %s", ref.Namespace)
	}
	if !procedure.ValidateProcName(ref.Name) {
		return fmt.Errorf("invalid name: %s", ref.Name)
	}

	if _, err := semver.NewVersion(e.Version); err != nil {
		return fmt.Errorf("invalid version %q: %w", e.Version, err)
	}
	if _, err := procedure.KindFromString(e.Kind); err != nil {
		return err
	}
	if !allowedMethods[e.Method] {
		return fmt.Errorf("unsupported method %q", e.Method)
	}
	if e.Path == "" || e.Path[0] != '/' {
		return fmt.Errorf("path must start with /: %q", e.Path)
	}
	return nil
}

// Definitions converts the manifest entries into store definitions. Entries
// without a subject get the canonical one derived from the id and major
// version.
func (m *Manifest) Definitions() ([]pgstore.Definition, error) {
	defs := make([]pgstore.Definition, 0, len(m.Procedures))
	for i := range m.Procedures {
		e := &m.Procedures[i]

		ref, err := procedure.ParseRef(e.ID)
		if err != nil {
			return nil, fmt.Errorf("entry %d (%s): invalid id: %w", i, e.ID, err)
		}
		ver, err := semver.NewVersion(e.Version)
		if err != nil {
			return nil, fmt.Errorf("entry %d (%s): invalid version %q: %w", i, e.ID, e.Version, err)
		}

		kind := e.Kind
		if kind == "" {
			kind = "query"
		}
		subject := e.Subject
		if subject == "" {
			subject = natsproc.ProcSubject(ref.Namespace, ref.Name, int(ver.Major()))
		}

		defs = append(defs, pgstore.Definition{
			ID:          ref.Full,
			Namespace:   ref.Namespace,
			Name:        ref.Name,
			Version:     e.Version,
			Kind:        kind,
			Method:      e.Method,
			Path:        e.Path,
			Subject:     subject,
			InputSchema: e.InputSchema,
			Description: e.Description,
		})
	}
	return defs, nil
}
