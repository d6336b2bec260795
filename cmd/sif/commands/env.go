package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/sif-factory/sif/pkg/composition"
	"github.com/sif-factory/sif/pkg/config"
	"github.com/sif-factory/sif/pkg/orchestrator"
	"github.com/sif-factory/sif/pkg/stores"
	"github.com/sif-factory/sif/pkg/telemetry"
)

// env is what a command runs against.
type env struct {
	catalog *config.Catalog
	store   *stores.SQLiteStore
	tel     *telemetry.Telemetry
	orch    *orchestrator.Orchestrator
}

type envOptions struct {
	// storedContent renders from the content published to the store.
	storedContent bool
}

// openStore opens and migrates the state database.
func openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

func newTelemetry() (*telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if metricsAddr != "" {
		cfg.Metrics.ListenAddress = metricsAddr
	} else {
		cfg.Metrics.Enabled = false
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = "otlp"
		cfg.Tracing.Endpoint = endpoint
	}
	return telemetry.NewTelemetry(cfg)
}

// openEnv loads the catalog, opens the store and builds an orchestrator.
func openEnv(ctx context.Context, opts envOptions) (*env, error) {
	catalog, err := config.Load(catalogPath)
	if err != nil {
		return nil, err
	}
	tel, err := newTelemetry()
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	tel.StartMetricsServer()

	store, err := openStore(ctx)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	var content composition.Source
	if opts.storedContent {
		content = store
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Catalog:   catalog,
		Store:     store,
		Content:   content,
		Telemetry: tel,
		Actor:     actor(),
	})
	if err != nil {
		_ = store.Close()
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	return &env{catalog: catalog, store: store, tel: tel, orch: orch}, nil
}

// close waits for running jobs, then releases the store and telemetry.
func (e *env) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.orch.Close(ctx); err != nil {
		log.Warn().Err(err).Msg("Jobs still running at shutdown")
	}
	if err := e.tel.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Telemetry shutdown failed")
	}
	if err := e.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close store")
	}
}

func actor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "sif"
}

// parseSets turns key=value flags into a configuration map. Values are
// decoded as YAML scalars so that numbers and booleans keep their type.
func parseSets(sets []string) (map[string]interface{}, error) {
	if len(sets) == 0 {
		return nil, nil
	}
	out := make(map[string]interface{}, len(sets))
	for _, s := range sets {
		key, raw, ok := strings.Cut(s, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q: expected key=value", s)
		}
		var value interface{}
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
			value = raw
		}
		out[key] = value
	}
	return out, nil
}

// loadConfigFile reads a YAML or JSON configuration map.
func loadConfigFile(path string) (map[string]interface{}, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var out map[string]interface{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return out, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
