package manifest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

const logPrefix = "manifest:loader"

// Load reads the first readable manifest file and validates it.
// It tries paths in order: first any paths passed in, then the
// GATEWAY_PROCEDURES_FILE env var, then defaults. So an explicit path
// (e.g. from "seed my.json") is tried before the env var.
//
// Unreadable or unparseable files are skipped; a file that parses but
// fails validation is a hard error, not a fallthrough.
func Load(paths ...string) (*Manifest, error) {
	// Build path list: passed paths first, then env, then defaults
	all := make([]string, 0, len(paths)+3)
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	if envPath := os.Getenv("GATEWAY_PROCEDURES_FILE"); envPath != "" {
		all = append(all, envPath)
	}
	all = append(all, "config/procedures.json", "procedures.json")

	for _, p := range all {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}

		var m Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			slog.Warn(fmt.Sprintf("%s - Failed to parse manifest %s: %v", logPrefix, p, err))
			continue
		}
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("%s - manifest %s: %w", logPrefix, p, err)
		}

		slog.Info(fmt.Sprintf("%s - Loaded %d procedures from %s", logPrefix, len(m.Procedures), p))
		return &m, nil
	}

	return nil, fmt.Errorf("%s - no procedure manifest found", logPrefix)
}
