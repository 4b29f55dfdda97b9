package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/PixelDroid19/orbis-core/internal/client"
	"github.com/PixelDroid19/orbis-core/internal/config"
	"github.com/PixelDroid19/orbis-core/internal/db"
	"github.com/PixelDroid19/orbis-core/internal/journal"
	"github.com/PixelDroid19/orbis-core/internal/model"
)

// loadConfig reads the configured file, falling back to defaults when
// it does not exist.
func loadConfig() (config.Config, error) {
	path := viper.GetString("config")
	if path == "" {
		path = cfgFile
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(path)
}

// openJournal opens the journal database when the journal is enabled.
func openJournal(cfg config.Config) (*journal.Store, func(), error) {
	if !cfg.Journal.Enabled {
		return nil, func() {}, nil
	}
	path := cfg.Journal.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, func() {}, fmt.Errorf("create journal dir: %w", err)
	}
	handle, err := db.Open(path)
	if err != nil {
		return nil, func() {}, err
	}
	return journal.NewStore(handle), closeFunc(handle), nil
}

func closeFunc(handle *sql.DB) func() {
	return func() { _ = handle.Close() }
}

// newEngine builds a client over a file-reading context collector.
// Real-time polling is disabled for one-shot CLI invocations.
func newEngine(cfg config.Config, file string) (*client.Client, func(), error) {
	store, closeFn, err := openJournal(cfg)
	if err != nil {
		return nil, func() {}, err
	}
	cfg.Client.EnableRealTimeUpdates = false
	return client.New(cfg, &fileCollector{path: file}, store), closeFn, nil
}

// fileCollector builds context snapshots from a file on disk. It
// stands in for the editor collaborator when the engine runs from the
// command line.
type fileCollector struct {
	path string
}

func (f *fileCollector) Collect(_ context.Context) (model.ContextSnapshot, error) {
	snapshot := model.ContextSnapshot{
		Buffer: model.BufferContext{Language: "plaintext"},
	}
	if f.path == "" {
		return snapshot, nil
	}
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return model.ContextSnapshot{}, fmt.Errorf("read %s: %w", f.path, err)
	}
	snapshot.Buffer = model.BufferContext{
		Content:  string(raw),
		Language: languageForPath(f.path),
		Path:     f.path,
	}
	return snapshot, nil
}

func languageForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js", ".mjs", ".cjs":
		return "javascript"
	case ".ts", ".tsx":
		return "typescript"
	case ".go":
		return "go"
	case ".py":
		return "python"
	default:
		return "plaintext"
	}
}

// parseParams turns key=value pairs into an action parameter map.
func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", pair)
		}
		out[key] = value
	}
	return out, nil
}

// printOutput renders v as json or yaml on stdout.
func printOutput(v any, format string) error {
	switch format {
	case "yaml":
		raw, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		fmt.Print(string(raw))
		return nil
	case "json", "":
		raw, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		fmt.Println(string(raw))
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
