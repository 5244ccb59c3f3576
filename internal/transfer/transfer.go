// Package transfer exports and imports todo documents as JSON, JSON Lines,
// YAML or TOML files.
package transfer

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/mschirtzinger/todosync/internal/model"
)

// Format is a file encoding.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
	FormatTOML  Format = "toml"
)

// Formats lists the supported encodings.
var Formats = []Format{FormatJSON, FormatJSONL, FormatYAML, FormatTOML}

// ErrUnknownFormat is returned for names and extensions that match no format.
var ErrUnknownFormat = errors.New("unknown format")

// ParseFormat resolves a format name.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(name, ".")) {
	case "json":
		return FormatJSON, nil
	case "jsonl", "ndjson":
		return FormatJSONL, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "toml":
		return FormatTOML, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	ext := filepath.Ext(path)
	if ext == "" {
		return "", fmt.Errorf("%w: %s has no extension", ErrUnknownFormat, path)
	}
	return ParseFormat(ext)
}

// resolve returns f, or the format implied by path when f is empty.
func resolve(f Format, path string) (Format, error) {
	if f != "" {
		return ParseFormat(string(f))
	}
	return FormatFromPath(path)
}

// Encode writes doc to w.
func Encode(w io.Writer, doc *model.Document, f Format) error {
	out := *doc
	if out.Categories == nil {
		out.Categories = []model.Category{}
	}

	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)

	case FormatJSONL:
		// One category per line; the timestamp is not carried.
		enc := json.NewEncoder(w)
		for n := range out.Categories {
			if err := enc.Encode(out.Categories[n]); err != nil {
				return fmt.Errorf("failed to encode category %s: %w", out.Categories[n].ID, err)
			}
		}
		return nil

	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return err
		}
		return enc.Close()

	case FormatTOML:
		return toml.NewEncoder(w).Encode(out)
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, f)
}

// Decode reads a document from r. Missing ids are generated and the result
// is validated.
func Decode(r io.Reader, f Format) (*model.Document, error) {
	var doc model.Document

	switch f {
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(&doc); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}

	case FormatJSONL:
		categories, err := decodeJSONL(r)
		if err != nil {
			return nil, err
		}
		doc.Categories = categories

	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}

	case FormatTOML:
		if _, err := toml.NewDecoder(r).Decode(&doc); err != nil {
			return nil, fmt.Errorf("invalid TOML: %w", err)
		}

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}

	if doc.Categories == nil {
		doc.Categories = []model.Category{}
	}
	for n := range doc.Categories {
		doc.Categories[n].SetDefaults()
	}
	if err := model.ValidateCategories(doc.Categories); err != nil {
		return nil, err
	}
	if doc.LastUpdate != "" {
		if _, err := doc.Time(); err != nil {
			return nil, err
		}
	}
	return &doc, nil
}

func decodeJSONL(r io.Reader) ([]model.Category, error) {
	var categories []model.Category
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 5*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var cat model.Category
		if err := json.Unmarshal(line, &cat); err != nil {
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum, err)
		}
		categories = append(categories, cat)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read JSONL: %w", err)
	}
	return categories, nil
}

// ExportOptions configures ExportFile.
type ExportOptions struct {
	// Format overrides the extension-derived format.
	Format Format

	// Backup keeps a timestamped copy of an existing file before overwriting.
	Backup bool
}

// ExportResult describes a completed export.
type ExportResult struct {
	Path          string
	Format        Format
	Categories    int
	Items         int
	BackupCreated string
}

// ExportFile writes doc to path atomically.
func ExportFile(path string, doc *model.Document, opts ExportOptions) (*ExportResult, error) {
	f, err := resolve(opts.Format, path)
	if err != nil {
		return nil, err
	}

	result := &ExportResult{Path: path, Format: f, Categories: len(doc.Categories)}
	for n := range doc.Categories {
		result.Items += len(doc.Categories[n].TodoItems)
	}

	var buf bytes.Buffer
	if err := Encode(&buf, doc, f); err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", f, err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	if opts.Backup {
		if existing, err := os.ReadFile(path); err == nil {
			backupPath := path + ".backup." + time.Now().Format("20060102-150405")
			if err := os.WriteFile(backupPath, existing, 0600); err != nil {
				return nil, fmt.Errorf("failed to create backup: %w", err)
			}
			result.BackupCreated = backupPath
		}
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0600); err != nil {
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return result, nil
}

// ImportFile reads and validates a document from path. format may be empty
// to use the file extension.
func ImportFile(path string, format Format) (*model.Document, error) {
	f, err := resolve(format, path)
	if err != nil {
		return nil, err
	}

	// #nosec G304 - path comes from the command line
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	doc, err := Decode(file, f)
	if err != nil {
		return nil, fmt.Errorf("failed to import %s: %w", path, err)
	}
	return doc, nil
}
