// Package dataset bundles the static artifacts the server runs on: the
// schema snapshot and the optional profiles, glossary, and query-pattern
// files. An override directory can supply regenerated artifacts without
// rebuilding the binary.
package dataset

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Artifact file names, identical on disk and in the embedded bundle.
const (
	SchemaFile        = "aact_schema_static.json"
	ProfilesFile      = "column_profiles.json"
	GlossaryFile      = "glossary.json"
	QueryPatternsFile = "query_patterns.json"
)

//go:embed aact_schema_static.json column_profiles.json glossary.json query_patterns.json
var bundled embed.FS

// Read returns the named artifact, preferring overrideDir when a file of
// that name exists there. A missing override falls through to the bundle;
// fs.ErrNotExist from the bundle means the artifact was not shipped.
func Read(name, overrideDir string) ([]byte, error) {
	if overrideDir != "" {
		path := filepath.Join(overrideDir, name)
		data, err := os.ReadFile(path)
		if err == nil {
			return data, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}
	data, err := bundled.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("bundled artifact %s: %w", name, fs.ErrNotExist)
	}
	return data, nil
}
