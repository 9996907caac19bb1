package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTables() []TableSchema {
	return []TableSchema{
		{
			Name: "Post",
			Fields: []Field{
				{Name: "_id", PrimaryKey: true},
				{Name: "title"},
				{Name: "content"},
				{Name: "creator", Virtual: true},
			},
		},
		{
			Name:      "Stage",
			Fields:    []Field{{Name: "_id", PrimaryKey: true}, {Name: "_tasklistId"}},
			PushTypes: []string{"stages"},
		},
		{
			Name:   "Activity",
			Fields: []Field{{Name: "_id", PrimaryKey: true}, {Name: "action"}},
		},
	}
}

func TestNewIndex_PersistedFieldsAndPrimaryKey(t *testing.T) {
	idx, err := NewIndex(testTables())
	require.NoError(t, err)

	fields, ok := idx.PersistedFields("Post")
	require.True(t, ok)
	assert.Equal(t, []string{"_id", "title", "content"}, fields)

	pk, ok := idx.PrimaryKey("Post")
	require.True(t, ok)
	assert.Equal(t, "_id", pk)

	_, ok = idx.PersistedFields("Ghost")
	assert.False(t, ok)
	assert.Equal(t, []string{"Post", "Stage", "Activity"}, idx.Tables())
}

func TestNewIndex_Validation(t *testing.T) {
	tests := []struct {
		name   string
		tables []TableSchema
	}{
		{"missing name", []TableSchema{{Fields: []Field{{Name: "id", PrimaryKey: true}}}}},
		{"missing primary key", []TableSchema{{Name: "T", Fields: []Field{{Name: "id"}}}}},
		{"duplicate table", []TableSchema{
			{Name: "T", Fields: []Field{{Name: "id", PrimaryKey: true}}},
			{Name: "T", Fields: []Field{{Name: "id", PrimaryKey: true}}},
		}},
		{"empty field name", []TableSchema{{Name: "T", Fields: []Field{{Name: "id", PrimaryKey: true}, {}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewIndex(tt.tables)
			assert.Error(t, err)
		})
	}
}

func TestIndex_TableForPushType(t *testing.T) {
	idx, err := NewIndex(testTables())
	require.NoError(t, err)

	tests := []struct {
		pushType string
		want     string
		found    bool
	}{
		{"post", "Post", true},
		{"Post", "Post", true},
		{"posts", "Post", true},
		{"stages", "Stage", true},
		{"activities", "Activity", true},
		{"event", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.pushType, func(t *testing.T) {
			table, ok := idx.TableForPushType(tt.pushType)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, table)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	content := `
tables:
  - name: Event
    remote_path: /events
    fields:
      - name: _id
        primary_key: true
      - name: title
      - name: attendees
        virtual: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	tables, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "Event", tables[0].Name)
	assert.Equal(t, "/events", tables[0].RemotePath)
	assert.True(t, tables[0].Fields[2].Virtual)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestIndex_RemotePath(t *testing.T) {
	tables := testTables()
	tables[1].RemotePath = "tasklists/stages/"
	idx, err := NewIndex(tables)
	require.NoError(t, err)

	path, ok := idx.RemotePath("Post")
	require.True(t, ok)
	assert.Equal(t, "/post", path)

	path, _ = idx.RemotePath("Stage")
	assert.Equal(t, "/tasklists/stages", path)

	_, ok = idx.RemotePath("Ghost")
	assert.False(t, ok)
}
