package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testCatalog = "testdata/catalog.yaml"
	testConfig  = "testdata/engine.cue"
)

// writeFile writes content to name in a temp dir and returns the path.
func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestValidateValidCatalog(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--catalog", testCatalog, "--config", testConfig})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ Catalog and config valid")
}

func TestValidateValidCatalogJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--catalog", testCatalog})

	err := cmd.Execute()
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	data := resp.Data.(map[string]any)
	assert.Equal(t, true, data["valid"])
}

func TestValidateMissingCatalog(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--catalog", "/nonexistent/catalog.yaml"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNotFound)
	assert.Contains(t, buf.String(), "not found")
}

func TestValidateCatalogFlagRequired(t *testing.T) {
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog")
}

func TestValidateMalformedCatalog(t *testing.T) {
	path := writeFile(t, "catalog.yaml", "stores: [unclosed")

	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--catalog", path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeCatalog)
}

func TestValidateReportsAllCatalogErrors(t *testing.T) {
	path := writeFile(t, "catalog.yaml", `
stores:
  - {id: 1, code: en, website_id: 1}
entities:
  - {id: 0, type_id: simple, sku: A, enabled: true, store_ids: [1]}
  - {id: 6, sku: B, enabled: true, store_ids: [1]}
relations:
  - {kind: kit, parent: 6, children: [6]}
`)

	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--catalog", path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "validation failed with 4 error(s)")

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.Len(t, resp.Data.Errors, 4)

	fields := make([]string, 0, len(resp.Data.Errors))
	for _, e := range resp.Data.Errors {
		assert.Equal(t, "catalog", e.Source)
		fields = append(fields, e.Field)
	}
	assert.ElementsMatch(t, []string{
		"entities[0].id",
		"entities[1].type_id",
		"relations[0].kind",
		"relations[0].children[0]",
	}, fields)
}

func TestValidateCycleIsWarning(t *testing.T) {
	path := writeFile(t, "catalog.yaml", `
stores:
  - {id: 1, code: en, website_id: 1}
entities:
  - {id: 10, type_id: bundle, sku: A, enabled: true, store_ids: [1]}
  - {id: 20, type_id: bundle, sku: B, enabled: true, store_ids: [1]}
relations:
  - {kind: bundle, parent: 10, children: [20]}
  - {kind: bundle, parent: 20, children: [10]}
`)

	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--catalog", path})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ Catalog and config valid")
	assert.Contains(t, buf.String(), "warning: relation cycle")
}

func TestValidateUnknownStores(t *testing.T) {
	cfg := writeFile(t, "engine.cue", `
api_keys: {
	default: stores: [1, 7]
	outlet: stores: [9]
}
`)

	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--catalog", testCatalog, "--config", cfg})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "2 error(s)")

	output := buf.String()
	assert.Contains(t, output, "✗ Validation failed")
	assert.Contains(t, output, "E202: api_keys.default.stores: unknown store 7")
	assert.Contains(t, output, "E202: api_keys.outlet.stores: unknown store 9")
}

func TestValidateConfigSchemaError(t *testing.T) {
	cfg := writeFile(t, "engine.cue", `api_keys: default: stores: [1]
concurrency: -1
`)

	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--catalog", testCatalog, "--config", cfg})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E200", resp.Error.Code)
}

func TestValidateMissingConfig(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--catalog", testCatalog, "--config", "/nonexistent/engine.cue"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "config file not found")
}

func TestValidateVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	errBuf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text", Verbose: true})
	cmd.SetOut(buf)
	cmd.SetErr(errBuf)
	cmd.SetArgs([]string{"--catalog", testCatalog})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, errBuf.String(), "Read 2 store(s), 4 entit(ies), 1 relation(s)")
}
