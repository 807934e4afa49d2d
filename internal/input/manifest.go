package input

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Entry is one document in a batch manifest.
type Entry struct {
	DocumentID    string `json:"document_id"`
	Path          string `json:"path"`
	ExpectedClass string `json:"expected_class,omitempty"`
	BaselinePath  string `json:"baseline_path,omitempty"`
}

// ParseManifest reads a CSV (.csv, .txt) or JSON (.json) manifest. JSON
// manifests are either an array of entries or an object with a
// "documents" array. Relative document paths resolve against the working
// directory first and then against the manifest's directory.
func ParseManifest(path string) ([]Entry, error) {
	var (
		rows []map[string]string
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv", ".txt":
		rows, err = readCSV(path)
	case ".json":
		rows, err = readJSON(path)
	default:
		return nil, fmt.Errorf("unsupported manifest format %q, use .csv or .json", ext)
	}
	if err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	entries := make([]Entry, 0, len(rows))
	for i, row := range rows {
		entry, err := normalize(row, base)
		if err != nil {
			return nil, fmt.Errorf("manifest entry %d: %w", i+1, err)
		}
		entries = append(entries, entry)
	}
	slog.Debug("parsed manifest", "path", path, "documents", len(entries))
	return entries, nil
}

// ValidateManifest parses path and rejects empty manifests and duplicate IDs.
func ValidateManifest(path string) ([]Entry, error) {
	entries, err := ParseManifest(path)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errors.New("manifest contains no documents")
	}

	seen := make(map[string]bool, len(entries))
	var dups []string
	for _, e := range entries {
		if seen[e.DocumentID] {
			dups = append(dups, e.DocumentID)
		}
		seen[e.DocumentID] = true
	}
	if len(dups) > 0 {
		return nil, fmt.Errorf("duplicate document IDs found: %s", strings.Join(dups, ", "))
	}
	return entries, nil
}

func readCSV(path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []map[string]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest: %w", err)
		}
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func readJSON(path string) ([]map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var list []map[string]any
	if err := json.Unmarshal(data, &list); err != nil {
		var wrapped struct {
			Documents []map[string]any `json:"documents"`
		}
		if err2 := json.Unmarshal(data, &wrapped); err2 != nil || wrapped.Documents == nil {
			return nil, errors.New("JSON manifest must be an array or an object with a 'documents' key")
		}
		list = wrapped.Documents
	}

	rows := make([]map[string]string, len(list))
	for i, doc := range list {
		row := make(map[string]string, len(doc))
		for k, v := range doc {
			if s, ok := v.(string); ok {
				row[k] = s
			}
		}
		rows[i] = row
	}
	return rows, nil
}

func firstOf(row map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(row[k]); v != "" {
			return v
		}
	}
	return ""
}

func normalize(row map[string]string, base string) (Entry, error) {
	path := firstOf(row, "document_path", "path")
	if path == "" {
		return Entry{}, errors.New("missing required field 'document_path' or 'path'")
	}
	if strings.Contains(path, "://") {
		return Entry{}, fmt.Errorf("remote paths are not supported: %s", path)
	}

	resolved, err := resolve(path, base)
	if err != nil {
		return Entry{}, fmt.Errorf("local file not found: %s", path)
	}

	id := firstOf(row, "document_id", "id")
	if id == "" {
		id = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	entry := Entry{
		DocumentID:    id,
		Path:          resolved,
		ExpectedClass: firstOf(row, "expected_class"),
	}
	if baseline := firstOf(row, "baseline_path", "baseline_key"); baseline != "" {
		if entry.BaselinePath, err = resolve(baseline, base); err != nil {
			return Entry{}, fmt.Errorf("baseline not found: %s", baseline)
		}
	}
	return entry, nil
}

func resolve(path, base string) (string, error) {
	candidates := []string{path}
	if !filepath.IsAbs(path) {
		candidates = append(candidates, filepath.Join(base, path))
	}
	var err error
	for _, c := range candidates {
		if _, err = os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", err
}
