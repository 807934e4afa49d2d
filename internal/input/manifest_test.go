package input

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestParseManifest(t *testing.T) {
	dir := t.TempDir()
	invoice := writeFile(t, dir, "invoice-001.pdf", minimalPDF())
	writeFile(t, dir, "receipt.txt", []byte("total 12.50"))
	baseline := writeFile(t, dir, "invoice-001.json", []byte(`{}`))

	t.Run("csv", func(t *testing.T) {
		path := writeFile(t, dir, "batch.csv", []byte(
			"document_id,document_path,baseline_path,expected_class\n"+
				"inv-1,"+invoice+","+baseline+",Invoice\n"+
				",receipt.txt,,\n"))

		entries, err := ParseManifest(path)
		if err != nil {
			t.Fatalf("ParseManifest() error = %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("entries = %+v", entries)
		}
		if entries[0].DocumentID != "inv-1" || entries[0].BaselinePath != baseline || entries[0].ExpectedClass != "Invoice" {
			t.Errorf("entries[0] = %+v", entries[0])
		}
		if entries[1].DocumentID != "receipt" {
			t.Errorf("default id = %q, want file stem", entries[1].DocumentID)
		}
		if entries[1].Path != filepath.Join(dir, "receipt.txt") {
			t.Errorf("relative path resolved to %q", entries[1].Path)
		}
	})

	t.Run("json array with aliases", func(t *testing.T) {
		path := writeFile(t, dir, "batch.json", []byte(
			`[{"id": "a", "path": "`+invoice+`", "baseline_key": "invoice-001.json"}]`))
		entries, err := ParseManifest(path)
		if err != nil {
			t.Fatalf("ParseManifest() error = %v", err)
		}
		if entries[0].DocumentID != "a" || entries[0].Path != invoice || entries[0].BaselinePath != baseline {
			t.Errorf("entries[0] = %+v", entries[0])
		}
	})

	t.Run("json documents object", func(t *testing.T) {
		path := writeFile(t, dir, "wrapped.json", []byte(`{"documents": [{"document_path": "receipt.txt"}]}`))
		entries, err := ParseManifest(path)
		if err != nil || len(entries) != 1 || entries[0].DocumentID != "receipt" {
			t.Errorf("ParseManifest() = %+v, %v", entries, err)
		}
	})

	errCases := []struct {
		name, file, content, want string
	}{
		{"missing path", "nopath.csv", "document_id\nx\n", "document_path"},
		{"missing file", "gone.csv", "path\nnot-here.pdf\n", "local file not found"},
		{"remote path", "remote.json", `[{"path": "s3://bucket/key.pdf"}]`, "remote paths"},
		{"bad json", "bad.json", `{"docs": []}`, "documents"},
		{"bad extension", "batch.xml", "<x/>", "unsupported manifest format"},
		{"missing baseline", "nobase.csv", "path,baseline_path\nreceipt.txt,nope.json\n", "baseline not found"},
	}
	for _, tc := range errCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseManifest(writeFile(t, dir, tc.file, []byte(tc.content)))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("ParseManifest() error = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestValidateManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", []byte("a"))

	if _, err := ValidateManifest(writeFile(t, dir, "empty.csv", []byte("path\n"))); err == nil {
		t.Error("expected error for empty manifest")
	}

	dup := writeFile(t, dir, "dup.csv", []byte("id,path\nx,a.txt\nx,a.txt\n"))
	if _, err := ValidateManifest(dup); err == nil || !strings.Contains(err.Error(), "duplicate document IDs found: x") {
		t.Errorf("ValidateManifest() error = %v", err)
	}

	ok := writeFile(t, dir, "ok.csv", []byte("path\na.txt\n"))
	if entries, err := ValidateManifest(ok); err != nil || len(entries) != 1 {
		t.Errorf("ValidateManifest() = %v, %v", entries, err)
	}
}
