package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk layout of a schema file
type File struct {
	Tables []TableSchema `yaml:"tables"`
}

// LoadFile reads table descriptions from a YAML file
func LoadFile(filePath string) ([]TableSchema, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse schema file: %w", err)
	}

	return f.Tables, nil
}
