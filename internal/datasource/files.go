package datasource

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func resolvePath(baseDir, p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("filePath is required")
	}
	if !filepath.IsAbs(p) && baseDir != "" {
		p = filepath.Join(baseDir, p)
	}
	return p, nil
}

// ── JSON File Source ────────────────────────────────────────

type jsonFileSource struct {
	baseDir string
}

func (s *jsonFileSource) Spec() SourceSpec {
	return SourceSpec{
		Type:  "jsonfile",
		Label: "JSON File",
		ConfigFields: []ConfigField{
			{Key: "filePath", Label: "File Path", Type: "file", Required: true, Help: "Absolute, or relative to the data directory"},
			{Key: "dataPath", Label: "Data Path", Type: "string", Help: "Dot-separated path to the array (e.g., 'data.items'). Leave empty if root is an array."},
		},
	}
}

func (s *jsonFileSource) Fetch(_ context.Context, cfg Config) ([]Item, error) {
	path, err := resolvePath(s.baseDir, cfg.String("filePath"))
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	raw, err = navigatePath(raw, cfg.String("dataPath"))
	if err != nil {
		return nil, err
	}
	return toItems(raw), nil
}

// ── CSV File Source ─────────────────────────────────────────

type csvFileSource struct {
	baseDir string
}

func (s *csvFileSource) Spec() SourceSpec {
	return SourceSpec{
		Type:  "csvfile",
		Label: "CSV File",
		ConfigFields: []ConfigField{
			{Key: "filePath", Label: "File Path", Type: "file", Required: true, Help: "Absolute, or relative to the data directory"},
			{Key: "delimiter", Label: "Delimiter", Type: "string", Default: ",", Help: "Column delimiter (default: comma)"},
			{Key: "hasHeader", Label: "Has Header", Type: "select", Options: []string{"true", "false"}, Default: "true", Help: "Whether the first row contains column names"},
		},
	}
}

func (s *csvFileSource) Fetch(_ context.Context, cfg Config) ([]Item, error) {
	path, err := resolvePath(s.baseDir, cfg.String("filePath"))
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	if delim := cfg.String("delimiter"); delim != "" {
		reader.Comma = rune(delim[0])
	}
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return []Item{}, nil
	}

	hasHeader := true
	switch h := cfg["hasHeader"].(type) {
	case string:
		hasHeader = strings.ToLower(h) != "false"
	case bool:
		hasHeader = h
	}

	var headers []string
	rows := records
	if hasHeader {
		headers, rows = records[0], records[1:]
	} else {
		headers = make([]string, len(records[0]))
		for i := range headers {
			headers[i] = fmt.Sprintf("col_%d", i+1)
		}
	}

	items := make([]Item, 0, len(rows))
	for _, row := range rows {
		it := make(Item, len(headers))
		for j, h := range headers {
			if j < len(row) {
				it[h] = inferCSVValue(row[j])
			}
		}
		items = append(items, it)
	}
	return items, nil
}

// inferCSVValue parses numbers and booleans, leaving other text as is.
func inferCSVValue(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch strings.ToLower(s) {
	case "true", "yes":
		return true
	case "false", "no":
		return false
	}
	return s
}
