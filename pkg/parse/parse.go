// Package parse loads and writes record sets. Three interchangeable formats
// are supported, picked by file extension: JSON, YAML and CSV. Loading the
// same logical data from any format yields the same set, so the derived
// files a run emits round-trip as input to the next run.
package parse

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"batchmint/pkg/models"
)

// fileSet is the canonical on-disk shape for JSON and YAML. A bare top-level
// list is accepted on load for hand-written files.
type fileSet struct {
	Records []*models.Record `json:"records" yaml:"records"`
}

// Load reads a record set from path, detecting the format by extension
func Load(path string) (*models.RecordSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}

	var records []*models.Record
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		records, err = decodeJSON(data)
	case ".yaml", ".yml":
		records, err = decodeYAML(data)
	case ".csv":
		records, err = decodeCSV(data)
	default:
		return nil, fmt.Errorf("unsupported input format %q (expected .json, .yaml, .yml or .csv)", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}

	return models.NewRecordSet(records)
}

// Write serializes a record set to path in the format its extension names
func Write(set *models.RecordSet, path string) error {
	var data []byte
	var err error

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		data, err = json.MarshalIndent(fileSet{Records: set.Records}, "", "  ")
		if err == nil {
			data = append(data, '\n')
		}
	case ".yaml", ".yml":
		data, err = yaml.Marshal(fileSet{Records: set.Records})
	case ".csv":
		data, err = encodeCSV(set.Records)
	default:
		return fmt.Errorf("unsupported output format %q", ext)
	}
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func decodeJSON(data []byte) ([]*models.Record, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var records []*models.Record
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, err
		}
		return records, nil
	}
	var fs fileSet
	if err := json.Unmarshal(data, &fs); err != nil {
		return nil, err
	}
	return fs.Records, nil
}

func decodeYAML(data []byte) ([]*models.Record, error) {
	var fs fileSet
	if err := yaml.Unmarshal(data, &fs); err == nil && fs.Records != nil {
		return fs.Records, nil
	}
	var records []*models.Record
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}
