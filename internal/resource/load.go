package resource

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/trialdata/aactschema/internal/dataset"
	"github.com/trialdata/aactschema/internal/logging"
	"github.com/trialdata/aactschema/internal/profile"
	"github.com/trialdata/aactschema/internal/reference"
	"github.com/trialdata/aactschema/internal/schema"
)

// BuildStores assembles the stores aggregate once at process start. The
// schema comes from a live database when AACT_DB_* is configured and
// reachable, otherwise from the bundled snapshot; a failure on both is
// fatal. The optional artifacts degrade to empty stores with a warning.
func BuildStores(ctx context.Context, overrideDir string) (*Stores, error) {
	schemaStore, err := loadSchema(ctx, overrideDir)
	if err != nil {
		return nil, err
	}

	stores := &Stores{
		Schema:        schemaStore,
		Profiles:      profile.Empty(),
		Glossary:      reference.EmptyGlossary(),
		QueryPatterns: reference.EmptyQueryPatterns(),
	}

	if data, err := dataset.Read(dataset.ProfilesFile, overrideDir); err != nil {
		logging.Warn("Column profiles unavailable: %v", err)
	} else if ps, err := profile.Load(data); err != nil {
		logging.Warn("Column profiles unreadable, continuing without: %v", err)
	} else {
		stores.Profiles = ps
	}

	if data, err := dataset.Read(dataset.GlossaryFile, overrideDir); err != nil {
		logging.Warn("Glossary unavailable: %v", err)
	} else if g, err := reference.LoadGlossary(data); err != nil {
		logging.Warn("Glossary unreadable, continuing without: %v", err)
	} else {
		stores.Glossary = g
	}

	if data, err := dataset.Read(dataset.QueryPatternsFile, overrideDir); err != nil {
		logging.Warn("Query patterns unavailable: %v", err)
	} else if q, err := reference.LoadQueryPatterns(data); err != nil {
		logging.Warn("Query patterns unreadable, continuing without: %v", err)
	} else {
		stores.QueryPatterns = q
	}

	return stores, nil
}

// loadSchema prefers the live database, falling back to the bundled
// snapshot when the connection is unavailable.
func loadSchema(ctx context.Context, overrideDir string) (*schema.Store, error) {
	if cfg, ok := schema.LiveConfigFromEnv(); ok {
		store, err := schema.LoadLive(ctx, cfg)
		if err == nil {
			return store, nil
		}
		logging.Warn("Live DB unavailable (%v), falling back to static schema", err)
	}

	data, err := dataset.Read(dataset.SchemaFile, overrideDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("schema snapshot missing: %w", err)
		}
		return nil, fmt.Errorf("reading schema snapshot: %w", err)
	}
	return schema.Load(data)
}
