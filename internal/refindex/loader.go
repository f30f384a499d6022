package refindex

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/opensource-finance/claimscan/internal/domain"
)

// LoadFile reads reference datasets from a YAML or JSON file.
// JSON files use the camelCase API keys; YAML files use snake_case keys.
func LoadFile(path string) (*domain.ReferenceData, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reference file %s: %w", path, err)
	}

	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}

	data, err := Parse(content, format)
	if err != nil {
		return nil, fmt.Errorf("parse reference file %s: %w", path, err)
	}
	return data, nil
}

// Parse decodes reference datasets in the given format ("yaml" or "json").
func Parse(content []byte, format string) (*domain.ReferenceData, error) {
	var data domain.ReferenceData

	switch format {
	case "json":
		if err := json.Unmarshal(content, &data); err != nil {
			return nil, fmt.Errorf("invalid JSON reference data: %w", err)
		}
	case "yaml", "yml", "":
		if err := yaml.Unmarshal(content, &data); err != nil {
			return nil, fmt.Errorf("invalid YAML reference data: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported reference format %q", format)
	}

	return &data, nil
}
