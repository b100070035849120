// Package route compiles procedure path templates into a dispatch table.
// The table is built once, validated for malformed templates, duplicates,
// and overlapping routes, then consulted read-only on every request.
package route

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/srushti98/trpc-openapi/pkg/procedure"
)

// Match pairs a resolved procedure with the path parameters bound by its
// template. Params may be nil when the template declares none.
type Match struct {
	Descriptor *procedure.Descriptor
	Params     map[string]string
}

type segment struct {
	literal string
	param   string // non-empty when the segment binds a parameter
}

type entry struct {
	desc     *procedure.Descriptor
	segments []segment
}

type bucketKey struct {
	method string
	size   int
}

// Table is an immutable dispatch table bucketed by method and segment count.
type Table struct {
	buckets map[bucketKey][]entry
}

// Build compiles the path templates of procs into a Table. It fails on
// malformed templates, on two procedures declaring the same route, and on
// structurally overlapping routes such as /users/me and /users/{id} where a
// request could match both.
func Build(procs []*procedure.Descriptor) (*Table, error) {
	table := &Table{buckets: make(map[bucketKey][]entry)}
	owners := make(map[string]*procedure.Descriptor)

	for _, desc := range procs {
		segments, err := parseTemplate(desc.Path)
		if err != nil {
			return nil, fmt.Errorf("procedure %s: %w", desc.ID, err)
		}

		canonical := desc.Method + " " + canonicalTemplate(segments)
		if prior, exists := owners[canonical]; exists {
			return nil, fmt.Errorf("procedures %s and %s declare the same route %s", prior.ID, desc.ID, canonical)
		}
		owners[canonical] = desc

		key := bucketKey{method: desc.Method, size: len(segments)}
		for _, existing := range table.buckets[key] {
			if overlaps(existing.segments, segments) {
				return nil, fmt.Errorf("procedures %s and %s declare overlapping routes %s and %s",
					existing.desc.ID, desc.ID, existing.desc.Path, desc.Path)
			}
		}
		table.buckets[key] = append(table.buckets[key], entry{desc: desc, segments: segments})
	}

	return table, nil
}

// Lookup resolves method and escapedPath against the table. HEAD requests
// reuse GET routes. A trailing slash is ignored. Returns nil when nothing
// matches.
func (t *Table) Lookup(method, escapedPath string) *Match {
	if method == http.MethodHead {
		method = http.MethodGet
	}

	parts := splitPath(escapedPath)
	key := bucketKey{method: method, size: len(parts)}

	for _, candidate := range t.buckets[key] {
		params, ok := bind(candidate.segments, parts)
		if !ok {
			continue
		}
		return &Match{Descriptor: candidate.desc, Params: params}
	}
	return nil
}

func parseTemplate(path string) ([]segment, error) {
	if path == "" || path[0] != '/' {
		return nil, fmt.Errorf("path template must start with /: %q", path)
	}

	trimmed := strings.TrimSuffix(path, "/")
	if trimmed == "" {
		return []segment{}, nil
	}

	parts := strings.Split(trimmed[1:], "/")
	segments := make([]segment, 0, len(parts))
	names := make(map[string]bool)

	for _, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("path template has an empty segment: %q", path)
		}
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") {
			name := part[1 : len(part)-1]
			if name == "" {
				return nil, fmt.Errorf("path template has an unnamed parameter: %q", path)
			}
			if strings.ContainsAny(name, "{}") {
				return nil, fmt.Errorf("path template has a malformed parameter %q: %q", part, path)
			}
			if names[name] {
				return nil, fmt.Errorf("path template binds parameter %q twice: %q", name, path)
			}
			names[name] = true
			segments = append(segments, segment{param: name})
			continue
		}
		if strings.ContainsAny(part, "{}") {
			return nil, fmt.Errorf("path template has a malformed segment %q: %q", part, path)
		}
		segments = append(segments, segment{literal: part})
	}

	return segments, nil
}

// canonicalTemplate erases parameter names so /users/{id} and /users/{userId}
// collide as duplicates.
func canonicalTemplate(segments []segment) string {
	if len(segments) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, seg := range segments {
		b.WriteByte('/')
		if seg.param != "" {
			b.WriteString("{}")
		} else {
			b.WriteString(seg.literal)
		}
	}
	return b.String()
}

// overlaps reports whether some request path could match both templates.
// Positions where either side binds a parameter match anything.
func overlaps(a, b []segment) bool {
	for i := range a {
		if a[i].param != "" || b[i].param != "" {
			continue
		}
		if a[i].literal != b[i].literal {
			return false
		}
	}
	return true
}

func splitPath(escapedPath string) []string {
	trimmed := strings.TrimSuffix(escapedPath, "/")
	trimmed = strings.TrimPrefix(trimmed, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// bind matches raw path parts against a template. Each part is unescaped
// individually so an encoded slash stays inside its segment. Parameters
// bind non-empty values only.
func bind(segments []segment, parts []string) (map[string]string, bool) {
	var params map[string]string
	for i, seg := range segments {
		value, err := url.PathUnescape(parts[i])
		if err != nil {
			value = parts[i]
		}
		if seg.param == "" {
			if seg.literal != value {
				return nil, false
			}
			continue
		}
		if value == "" {
			return nil, false
		}
		if params == nil {
			params = make(map[string]string)
		}
		params[seg.param] = value
	}
	return params, true
}
