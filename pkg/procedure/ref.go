package procedure

import (
	"fmt"
	"regexp"
	"strings"
)

// ParsedRef holds the parsed components of a procedure reference string.
type ParsedRef struct {
	// Full procedure identifier without a range (e.g., "users.byId")
	Full string
	// Namespace the procedure belongs to (e.g., "users")
	Namespace string
	// Procedure name within the namespace (e.g., "byId")
	Name string
	// Version range if specified (e.g., "^2.1.0", "2", ""); empty means no version
	Range string
	// Raw input string
	Raw string
}

var (
	procNameRegex     = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._-]*$`)
	namespaceRegex    = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
	majorOnlyRegex    = regexp.MustCompile(`^\d+$`)
	exactVersionRegex = regexp.MustCompile(`^\d+\.\d+\.\d+(-[\w.]+)?(\+[\w.]+)?$`)
)

// ParseRef parses a procedure reference string.
//
// Supported formats:
//   - users.byId                (no version)
//   - billing.invoices.list@2   (major only)
//   - billing.invoices.list@2.1.0   (exact version)
//   - billing.invoices.list@^2.1.0  (caret range)
//   - billing.invoices.list@~2.1.0  (tilde range)
//   - billing.invoices.list@>=2.0.0 (comparison range)
func ParseRef(input string) (*ParsedRef, error) {
	raw := strings.TrimSpace(input)

	// Split on @ to separate the identifier from the version range
	atIndex := strings.Index(raw, "@")

	var idPart string
	var rangeStr string

	if atIndex == -1 {
		idPart = raw
	} else {
		idPart = raw[:atIndex]
		rangeStr = raw[atIndex+1:]
	}

	// Parse identifier part: namespace.name (name can have dots)
	firstDot := strings.Index(idPart, ".")
	if firstDot == -1 {
		return nil, fmt.Errorf("invalid procedure reference, missing namespace: %s", raw)
	}

	namespace := idPart[:firstDot]
	name := idPart[firstDot+1:]

	if namespace == "" || name == "" {
		return nil, fmt.Errorf("invalid procedure reference: %s", raw)
	}

	return &ParsedRef{
		Full:      idPart,
		Namespace: namespace,
		Name:      name,
		Range:     rangeStr,
		Raw:       raw,
	}, nil
}

// IsMajorOnly checks if a range is a major-only specifier (e.g., "2").
func IsMajorOnly(rangeStr string) bool {
	return majorOnlyRegex.MatchString(rangeStr)
}

// IsExactVersion checks if a range is an exact version (e.g., "2.1.0").
func IsExactVersion(rangeStr string) bool {
	return exactVersionRegex.MatchString(rangeStr)
}

// ExtractMajorFromRange extracts the major version if the range is major-only.
// Returns -1 if not a major-only range.
func ExtractMajorFromRange(rangeStr string) int {
	if !IsMajorOnly(rangeStr) {
		return -1
	}
	var major int
	fmt.Sscanf(rangeStr, "%d", &major)
	return major
}

// BuildRef builds a full procedure reference string from parts.
func BuildRef(params BuildRefParams) string {
	base := params.Namespace + "." + params.Name
	if params.Version != "" {
		return base + "@" + params.Version
	}
	return base
}

// BuildRefParams holds parameters for BuildRef.
type BuildRefParams struct {
	Namespace string
	Name      string
	Version   string
}

// ValidateProcName validates a procedure name (letters, digits, dots, hyphens, underscores).
func ValidateProcName(name string) bool {
	return procNameRegex.MatchString(name)
}

// ValidateNamespace validates a namespace (lowercase, alphanumeric, hyphens).
func ValidateNamespace(namespace string) bool {
	return namespaceRegex.MatchString(namespace)
}
