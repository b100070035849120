package pgstore

import (
	"encoding/json"
	"fmt"
	"sort"

	masterminds "github.com/Masterminds/semver/v3"

	"github.com/srushti98/trpc-openapi/pkg/procedure"
)

const resolverLogPrefix = "pgstore:resolver"

// versionRow is one procedure_versions row.
type versionRow struct {
	Major       int
	Minor       int
	Patch       int
	Prerelease  string
	Status      string // "active", "deprecated", "disabled"
	Kind        string
	Method      string
	Path        string
	Subject     string
	InputSchema json.RawMessage
	Description string
}

func (v *versionRow) versionString() string {
	base := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Prerelease != "" {
		return base + "-" + v.Prerelease
	}
	return base
}

// resolveBest finds the best matching version for a range. Disabled versions
// never match. An empty range picks the highest eligible major's best
// version; stable releases are preferred over prereleases and active over
// deprecated.
func resolveBest(versions []versionRow, rangeStr string) *versionRow {
	filtered := make([]versionRow, 0, len(versions))
	for _, v := range versions {
		if v.Status == "disabled" {
			continue
		}
		filtered = append(filtered, v)
	}

	if len(filtered) == 0 {
		return nil
	}

	// Case 1: No range specified - pick the latest in the highest major.
	if rangeStr == "" {
		return latestInMajor(filtered, highestMajor(filtered))
	}

	// Case 2: Major-only range (e.g., "3")
	if procedure.IsMajorOnly(rangeStr) {
		return latestInMajor(filtered, procedure.ExtractMajorFromRange(rangeStr))
	}

	// Case 3: SemVer range (e.g., "^3.2.0", "~3.2.0", ">=3.0.0 <4.0.0")
	constraint, err := masterminds.NewConstraint(rangeStr)
	if err != nil {
		// If range parsing fails, try as exact version
		return exactVersion(filtered, rangeStr)
	}

	var matching []versionRow
	for _, v := range filtered {
		sv, err := masterminds.NewVersion(v.versionString())
		if err != nil {
			continue
		}
		if constraint.Check(sv) {
			matching = append(matching, v)
		}
	}

	if len(matching) == 0 {
		return nil
	}

	sortVersionsDesc(matching)

	// Prefer active over deprecated
	for i := range matching {
		if matching[i].Status == "active" {
			return &matching[i]
		}
	}
	return &matching[0]
}

// Resolve picks the definition satisfying ref from an in-memory set, using
// the same selection rules as the database lookups. Loaded definitions
// carry no status, so every version counts as active.
func Resolve(defs []Definition, ref string) (*Definition, error) {
	parsed, err := procedure.ParseRef(ref)
	if err != nil {
		return nil, err
	}

	var namespace, name string
	var versions []versionRow
	for i := range defs {
		if defs[i].ID != parsed.Full {
			continue
		}
		sv, err := masterminds.NewVersion(defs[i].Version)
		if err != nil {
			return nil, fmt.Errorf("%s - invalid version %q for %s: %w", resolverLogPrefix, defs[i].Version, parsed.Full, err)
		}
		namespace, name = defs[i].Namespace, defs[i].Name
		versions = append(versions, versionRow{
			Major:       int(sv.Major()),
			Minor:       int(sv.Minor()),
			Patch:       int(sv.Patch()),
			Prerelease:  sv.Prerelease(),
			Status:      "active",
			Kind:        defs[i].Kind,
			Method:      defs[i].Method,
			Path:        defs[i].Path,
			Subject:     defs[i].Subject,
			InputSchema: defs[i].InputSchema,
			Description: defs[i].Description,
		})
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("%s - procedure not found: %s", resolverLogPrefix, parsed.Full)
	}

	best := resolveBest(versions, parsed.Range)
	if best == nil {
		return nil, fmt.Errorf("%s - no version of %s satisfies %q", resolverLogPrefix, parsed.Full, parsed.Range)
	}

	def := definitionFor(parsed.Full, namespace, name, "", best)
	return &def, nil
}

func highestMajor(versions []versionRow) int {
	highest := -1
	for _, v := range versions {
		if v.Major > highest {
			highest = v.Major
		}
	}
	return highest
}

func latestInMajor(versions []versionRow, major int) *versionRow {
	var inMajor []versionRow
	for _, v := range versions {
		if v.Major == major {
			inMajor = append(inMajor, v)
		}
	}

	if len(inMajor) == 0 {
		return nil
	}

	// Prefer latest stable in the major; fall back to prereleases only when
	// no stable release exists.
	var stable []versionRow
	for _, v := range inMajor {
		if v.Prerelease == "" {
			stable = append(stable, v)
		}
	}
	candidates := inMajor
	if len(stable) > 0 {
		candidates = stable
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Minor != b.Minor {
			return a.Minor > b.Minor
		}
		if a.Patch != b.Patch {
			return a.Patch > b.Patch
		}
		return false
	})

	// Prefer active over deprecated
	for i := range candidates {
		if candidates[i].Status == "active" {
			return &candidates[i]
		}
	}
	return &candidates[0]
}

func exactVersion(versions []versionRow, versionStr string) *versionRow {
	for i := range versions {
		if versions[i].versionString() == versionStr {
			return &versions[i]
		}
	}
	return nil
}

func sortVersionsDesc(versions []versionRow) {
	sort.Slice(versions, func(i, j int) bool {
		vi, err1 := masterminds.NewVersion(versions[i].versionString())
		vj, err2 := masterminds.NewVersion(versions[j].versionString())
		if err1 != nil || err2 != nil {
			return false
		}
		return vi.GreaterThan(vj)
	})
}
