package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	content := `
transport:
  base_url: ` + baseURL + `
  timeout: 5s
store:
  driver: sqlite
  path: ` + filepath.Join(dir, "localsync.db") + `
logging:
  level: error
  output: ` + filepath.Join(dir, "localsync.log") + `
tables:
  - name: Post
    remote_path: /posts
    fields:
      - name: _id
        primary_key: true
      - name: title
`
	path := filepath.Join(dir, "localsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestFetchCmd(t *testing.T) {
	var query string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		if r.URL.Path != "/posts" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		io.WriteString(w, `[{"_id":"1","title":"open"},{"_id":"2","title":"closed"}]`)
	}))
	defer api.Close()
	cfg := writeConfig(t, api.URL)

	out, err := execute(t, "--config", cfg, "fetch", "Post", "--where", "title=open")
	require.NoError(t, err)
	assert.Equal(t, "title=open", query)

	var rows []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "1", rows[0]["_id"])
}

func TestFetchCmd_Errors(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer api.Close()
	cfg := writeConfig(t, api.URL)

	_, err := execute(t, "--config", cfg, "fetch", "Ghost")
	assert.ErrorContains(t, err, "Ghost")

	_, err = execute(t, "--config", cfg, "fetch", "Post", "--strategy", "sometimes")
	assert.ErrorContains(t, err, "invalid strategy")

	_, err = execute(t, "--config", cfg, "fetch", "Post")
	assert.ErrorContains(t, err, "returned status 503")
}

func TestTablesCmd(t *testing.T) {
	cfg := writeConfig(t, "http://localhost:1")

	out, err := execute(t, "--config", cfg, "tables")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Post\tpk=_id\tpath=/posts\tfields=_id,title"))
}
