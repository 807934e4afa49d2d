package home

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultDirName is the default name for the sift home directory.
	DefaultDirName = ".sift"

	// ResultsDirName is the subdirectory for batch results.
	ResultsDirName = "results"

	// SchemasDirName holds named schema files served by the catalog.
	SchemasDirName = "schemas"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// EnvFileName holds KEY=value pairs loaded before the config.
	EnvFileName = ".env"

	// LedgerFileName is the default SQLite usage ledger.
	LedgerFileName = "ledger.db"
)

// Dir represents the sift home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.sift).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// EnvPath returns the path to the home .env file.
func (d *Dir) EnvPath() string {
	return filepath.Join(d.path, EnvFileName)
}

// LedgerPath returns the path to the default SQLite ledger.
func (d *Dir) LedgerPath() string {
	return filepath.Join(d.path, LedgerFileName)
}

// ResultsPath returns the directory batch results are written to.
func (d *Dir) ResultsPath() string {
	return filepath.Join(d.path, ResultsDirName)
}

// SchemasPath returns the directory of named schema files.
func (d *Dir) SchemasPath() string {
	return filepath.Join(d.path, SchemasDirName)
}

// ResultPath returns the result file for a batch document.
func (d *Dir) ResultPath(batchID, documentID string) string {
	return filepath.Join(d.ResultsPath(), batchID, safeName(documentID)+".json")
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	// Create results directory (this also creates the parent)
	if err := os.MkdirAll(d.ResultsPath(), 0o755); err != nil {
		return fmt.Errorf("failed to create results directory: %w", err)
	}
	if err := os.MkdirAll(d.SchemasPath(), 0o755); err != nil {
		return fmt.Errorf("failed to create schemas directory: %w", err)
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// safeName keeps document IDs from escaping the results directory.
func safeName(id string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	name := r.Replace(id)
	if name == "" {
		return "_"
	}
	return name
}
