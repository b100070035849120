package pgstore

import (
	"testing"
)

func makeVersions() []versionRow {
	return []versionRow{
		{Major: 3, Minor: 4, Patch: 2, Status: "active", Kind: "query", Method: "GET", Path: "/users/{id}", Subject: "proc.users.byId.v3"},
		{Major: 3, Minor: 3, Patch: 0, Status: "active", Kind: "query", Method: "GET", Path: "/users/{id}", Subject: "proc.users.byId.v3"},
		{Major: 3, Minor: 2, Patch: 1, Status: "deprecated", Kind: "query", Method: "GET", Path: "/users/{id}", Subject: "proc.users.byId.v3"},
		{Major: 2, Minor: 1, Patch: 0, Status: "active", Kind: "query", Method: "GET", Path: "/v2/users/{id}", Subject: "proc.users.byId.v2"},
		{Major: 2, Minor: 0, Patch: 0, Status: "active", Kind: "query", Method: "GET", Path: "/v2/users/{id}", Subject: "proc.users.byId.v2"},
		{Major: 1, Minor: 0, Patch: 0, Status: "disabled", Kind: "query", Method: "GET", Path: "/v1/users/{id}", Subject: "proc.users.byId.v1"},
		{Major: 3, Minor: 5, Patch: 0, Prerelease: "alpha.1", Status: "active", Kind: "query", Method: "GET", Path: "/users/{id}", Subject: "proc.users.byId.v3"},
	}
}

func TestResolveBest_NoRange(t *testing.T) {
	result := resolveBest(makeVersions(), "")

	if result == nil {
		t.Fatal("expected result, got nil")
	}
	// Latest stable in the highest major wins; 3.5.0-alpha.1 is skipped
	// because a stable release exists.
	if result.versionString() != "3.4.2" {
		t.Errorf("expected 3.4.2, got %s", result.versionString())
	}
}

func TestResolveBest_PrereleaseWhenNoStable(t *testing.T) {
	versions := []versionRow{
		{Major: 1, Minor: 0, Patch: 0, Prerelease: "beta.2", Status: "active"},
		{Major: 1, Minor: 0, Patch: 0, Prerelease: "beta.1", Status: "active"},
	}

	result := resolveBest(versions, "")
	if result == nil {
		t.Fatal("expected result, got nil")
	}
	if result.Prerelease != "beta.2" {
		t.Errorf("expected beta.2, got %s", result.Prerelease)
	}
}

func TestResolveBest_MajorOnly(t *testing.T) {
	result := resolveBest(makeVersions(), "2")

	if result == nil {
		t.Fatal("expected result, got nil")
	}
	if result.versionString() != "2.1.0" {
		t.Errorf("expected 2.1.0, got %s", result.versionString())
	}
}

func TestResolveBest_CaretRange(t *testing.T) {
	result := resolveBest(makeVersions(), "^3.2.0")

	if result == nil {
		t.Fatal("expected result, got nil")
	}
	// Constraints skip prereleases, so 3.4.2 beats 3.5.0-alpha.1.
	if result.versionString() != "3.4.2" {
		t.Errorf("expected 3.4.2, got %s", result.versionString())
	}
}

func TestResolveBest_RangePrefersActive(t *testing.T) {
	versions := []versionRow{
		{Major: 1, Minor: 2, Patch: 0, Status: "deprecated"},
		{Major: 1, Minor: 1, Patch: 0, Status: "active"},
	}

	result := resolveBest(versions, "^1.0.0")
	if result == nil {
		t.Fatal("expected result, got nil")
	}
	if result.versionString() != "1.1.0" {
		t.Errorf("expected active 1.1.0, got %s", result.versionString())
	}
}

func TestResolveBest_AllDeprecatedStillResolves(t *testing.T) {
	versions := []versionRow{
		{Major: 1, Minor: 2, Patch: 0, Status: "deprecated"},
		{Major: 1, Minor: 1, Patch: 0, Status: "deprecated"},
	}

	result := resolveBest(versions, "1")
	if result == nil {
		t.Fatal("expected result, got nil")
	}
	if result.versionString() != "1.2.0" {
		t.Errorf("expected 1.2.0, got %s", result.versionString())
	}
}

func TestResolveBest_ExactVersion(t *testing.T) {
	result := resolveBest(makeVersions(), "3.5.0-alpha.1")

	if result == nil {
		t.Fatal("expected result, got nil")
	}
	if result.Prerelease != "alpha.1" {
		t.Errorf("expected alpha.1 prerelease, got %q", result.Prerelease)
	}
}

func TestResolveBest_DisabledExcluded(t *testing.T) {
	// 1.0.0 is disabled, so major 1 has nothing eligible.
	if result := resolveBest(makeVersions(), "1"); result != nil {
		t.Errorf("expected nil for disabled-only major, got %s", result.versionString())
	}
}

func TestResolveBest_NoMatch(t *testing.T) {
	if result := resolveBest(makeVersions(), "99"); result != nil {
		t.Errorf("expected nil for non-existent major, got %s", result.versionString())
	}
}

func TestResolveBest_EmptyVersions(t *testing.T) {
	if result := resolveBest(nil, ""); result != nil {
		t.Errorf("expected nil for empty versions, got %v", result)
	}
}

func TestVersionString(t *testing.T) {
	tests := []struct {
		name string
		row  versionRow
		want string
	}{
		{"simple", versionRow{Major: 3, Minor: 4, Patch: 2}, "3.4.2"},
		{"with prerelease", versionRow{Major: 3, Minor: 5, Patch: 0, Prerelease: "alpha.1"}, "3.5.0-alpha.1"},
		{"zeros", versionRow{}, "0.0.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.row.versionString(); got != tt.want {
				t.Errorf("versionString() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDefinitionRef(t *testing.T) {
	def := Definition{Namespace: "users", Name: "byId", Version: "1.2.0"}
	if got := def.Ref(); got != "users.byId@1.2.0" {
		t.Errorf("Ref() = %q, want %q", got, "users.byId@1.2.0")
	}
}

func TestResolve_InMemory(t *testing.T) {
	defs := []Definition{
		{ID: "users.byId", Namespace: "users", Name: "byId", Version: "1.0.0", Kind: "query", Method: "GET", Path: "/users/{id}", Subject: "proc.users.byId.v1"},
		{ID: "users.byId", Namespace: "users", Name: "byId", Version: "2.1.0", Kind: "query", Method: "GET", Path: "/v2/users/{id}", Subject: "proc.users.byId.v2"},
		{ID: "orders.create", Namespace: "orders", Name: "create", Version: "1.0.0", Kind: "mutation", Method: "POST", Path: "/orders", Subject: "proc.orders.create.v1"},
	}

	def, err := Resolve(defs, "users.byId")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if def.Version != "2.1.0" || def.Path != "/v2/users/{id}" {
		t.Errorf("bare ref resolved %s %s, want 2.1.0 /v2/users/{id}", def.Version, def.Path)
	}

	def, err = Resolve(defs, "users.byId@1")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if def.Version != "1.0.0" {
		t.Errorf("major pin resolved %s, want 1.0.0", def.Version)
	}

	def, err = Resolve(defs, "users.byId@^2.0.0")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if def.Version != "2.1.0" {
		t.Errorf("caret range resolved %s, want 2.1.0", def.Version)
	}
}

func TestResolve_InMemoryErrors(t *testing.T) {
	defs := []Definition{
		{ID: "users.byId", Namespace: "users", Name: "byId", Version: "1.0.0", Kind: "query", Method: "GET", Path: "/users/{id}", Subject: "proc.users.byId.v1"},
	}

	if _, err := Resolve(defs, "users.missing"); err == nil {
		t.Error("expected error for unknown procedure")
	}
	if _, err := Resolve(defs, "users.byId@3"); err == nil {
		t.Error("expected error for unsatisfiable range")
	}
	if _, err := Resolve(defs, "noNamespace"); err == nil {
		t.Error("expected error for malformed ref")
	}
}
