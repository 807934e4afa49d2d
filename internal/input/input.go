// Package input turns files on disk into extraction prompts and baselines.
package input

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"gopkg.in/yaml.v3"

	"github.com/jackzampolin/sift/internal/extraction"
)

// ErrUnsupported is returned for files that cannot become a prompt.
var ErrUnsupported = errors.New("unsupported input type")

// Kind classifies a loaded input.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindDocument Kind = "document"
)

// Info describes a loaded input file.
type Info struct {
	Path     string `json:"path"`
	Kind     Kind   `json:"kind"`
	MIMEType string `json:"mime_type"`
	Size     int    `json:"size"`
	Pages    int    `json:"pages,omitempty"`
}

var imageTypes = []string{"image/png", "image/jpeg", "image/gif", "image/webp", "image/bmp", "image/tiff"}

// Load reads path and builds the prompt its content calls for: text files
// become text prompts, raster images become image prompts and PDFs become
// document prompts after a structural check.
func Load(path string) (extraction.Prompt, *Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return FromBytes(filepath.Base(path), data)
}

// FromBytes classifies data by content and builds a prompt for it.
func FromBytes(name string, data []byte) (extraction.Prompt, *Info, error) {
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("%s: empty input", name)
	}

	mt := mimetype.Detect(data)
	info := &Info{Path: name, MIMEType: mt.String(), Size: len(data)}

	switch {
	case mimetype.EqualsAny(mt.String(), imageTypes...):
		info.Kind = KindImage
		return extraction.Image{Data: data}, info, nil

	case mt.Is("application/pdf"):
		pages, err := api.PageCount(bytes.NewReader(data), nil)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: invalid PDF: %w", name, err)
		}
		if pages == 0 {
			return nil, nil, fmt.Errorf("%s: PDF has no pages", name)
		}
		info.Kind = KindDocument
		info.Pages = pages
		info.MIMEType = "application/pdf"
		return extraction.Document{Name: name, Data: data, MIMEType: info.MIMEType}, info, nil

	case isText(mt):
		info.Kind = KindText
		return extraction.Text(string(data)), info, nil
	}

	return nil, nil, fmt.Errorf("%s: %w: %s", name, ErrUnsupported, mt.String())
}

// isText reports whether mt is text/plain or descends from it (csv, json, html...).
func isText(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// LoadBaseline reads an existing record from a JSON or YAML file.
func LoadBaseline(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var record map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &record)
	default:
		err = json.Unmarshal(data, &record)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse baseline %s: %w", path, err)
	}
	if record == nil {
		return nil, fmt.Errorf("baseline %s is empty", path)
	}
	return record, nil
}
