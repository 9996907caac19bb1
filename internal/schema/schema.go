// Package schema describes the local tables: which fields are persisted and
// which one is the primary key.
package schema

import (
	"fmt"
	"strings"
)

// Field is one column of a table description
type Field struct {
	Name       string `mapstructure:"name" yaml:"name"`
	PrimaryKey bool   `mapstructure:"primary_key" yaml:"primary_key"`
	Virtual    bool   `mapstructure:"virtual" yaml:"virtual"` // computed/associated, never persisted
}

// TableSchema is the explicit description of one table
type TableSchema struct {
	Name   string  `mapstructure:"name" yaml:"name"`
	Fields []Field `mapstructure:"fields" yaml:"fields"`
	// PushTypes lists the event type names the push stream uses for this table
	PushTypes []string `mapstructure:"push_types" yaml:"push_types"`
	// RemotePath is the API path listing rows of this table, used by the CLI and debug API
	RemotePath string `mapstructure:"remote_path" yaml:"remote_path"`
}

type tableInfo struct {
	schema     TableSchema
	persisted  []string
	primaryKey string
}

// Index is the read-only lookup built once from table descriptions
type Index struct {
	tables    map[string]*tableInfo
	order     []string
	pushTypes map[string]string
	folded    map[string]string
}

// NewIndex builds the index. Every table needs a name and a primary key.
func NewIndex(tables []TableSchema) (*Index, error) {
	idx := &Index{
		tables:    make(map[string]*tableInfo, len(tables)),
		pushTypes: make(map[string]string),
		folded:    make(map[string]string),
	}

	for _, t := range tables {
		if t.Name == "" {
			return nil, fmt.Errorf("table name is required")
		}
		if _, exists := idx.tables[t.Name]; exists {
			return nil, fmt.Errorf("table %s defined twice", t.Name)
		}

		info := &tableInfo{schema: t}
		for _, f := range t.Fields {
			if f.Name == "" {
				return nil, fmt.Errorf("table %s: field name is required", t.Name)
			}
			if !f.Virtual {
				info.persisted = append(info.persisted, f.Name)
			}
			// first primary key wins
			if f.PrimaryKey && info.primaryKey == "" {
				info.primaryKey = f.Name
			}
		}
		if info.primaryKey == "" {
			return nil, fmt.Errorf("table %s has no primary key", t.Name)
		}

		idx.tables[t.Name] = info
		idx.order = append(idx.order, t.Name)
		idx.folded[strings.ToLower(t.Name)] = t.Name
		for _, p := range t.PushTypes {
			idx.pushTypes[strings.ToLower(p)] = t.Name
		}
	}

	return idx, nil
}

// Has reports whether the table is defined
func (idx *Index) Has(table string) bool {
	_, ok := idx.tables[table]
	return ok
}

// Tables returns the table names in definition order
func (idx *Index) Tables() []string {
	out := make([]string, len(idx.order))
	copy(out, idx.order)
	return out
}

// Table returns the description of a table
func (idx *Index) Table(table string) (TableSchema, bool) {
	info, ok := idx.tables[table]
	if !ok {
		return TableSchema{}, false
	}
	return info.schema, true
}

// PersistedFields returns the non-virtual fields of a table, in definition order
func (idx *Index) PersistedFields(table string) ([]string, bool) {
	info, ok := idx.tables[table]
	if !ok {
		return nil, false
	}
	out := make([]string, len(info.persisted))
	copy(out, info.persisted)
	return out, true
}

// PrimaryKey returns the primary key field of a table
func (idx *Index) PrimaryKey(table string) (string, bool) {
	info, ok := idx.tables[table]
	if !ok {
		return "", false
	}
	return info.primaryKey, true
}

// TableForPushType maps a push event type ("post", "stages", "activities") to a table name.
// Explicit push types win, then a case-insensitive name match, then the singular form.
func (idx *Index) TableForPushType(pushType string) (string, bool) {
	key := strings.ToLower(pushType)
	if key == "" {
		return "", false
	}
	if table, ok := idx.pushTypes[key]; ok {
		return table, true
	}
	if table, ok := idx.folded[key]; ok {
		return table, true
	}
	if table, ok := idx.folded[singular(key)]; ok {
		return table, true
	}
	return "", false
}

func singular(word string) string {
	switch {
	case strings.HasSuffix(word, "ies") && len(word) > 3:
		return strings.TrimSuffix(word, "ies") + "y"
	case strings.HasSuffix(word, "ses"):
		return strings.TrimSuffix(word, "es")
	case strings.HasSuffix(word, "s") && !strings.HasSuffix(word, "ss"):
		return strings.TrimSuffix(word, "s")
	default:
		return word
	}
}

// RemotePath returns the API path listing rows of a table. Without an
// explicit remote_path it is the lowercased table name.
func (idx *Index) RemotePath(table string) (string, bool) {
	info, ok := idx.tables[table]
	if !ok {
		return "", false
	}
	if info.schema.RemotePath != "" {
		return "/" + strings.Trim(info.schema.RemotePath, "/"), true
	}
	return "/" + strings.ToLower(table), true
}
