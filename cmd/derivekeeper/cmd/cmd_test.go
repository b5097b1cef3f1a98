package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/solatis/derivekeeper/internal/document"
)

const testRules = `
rules:
  - source: commands[].c1
    target: meta.commands
    unique: true
  - source: commands[]
    target: stats.total
    operation: count
`

const testDocs = `[
  {"commands": [{"c1": "meta"}, {"c1": "spec"}]},
  {"commands": [{"c1": "git"}, {"c1": "meta"}]}
]`

var runIDPattern = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-7[0-9a-f]{3}-[0-9a-f]{4}-[0-9a-f]{12}`)

// resetFlags restores every flag to its default so commands can run repeatedly.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	t.Cleanup(func() { resetFlags(rootCmd) })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func decodeJSON(t *testing.T, out string) map[string]any {
	t.Helper()
	v, err := document.Decode([]byte(out), document.FormatJSON)
	require.NoError(t, err)
	obj, ok := v.(map[string]any)
	require.True(t, ok, "output is not an object: %s", out)
	return obj
}

func TestAggregateCommand(t *testing.T) {
	dir := t.TempDir()
	rules := writeTemp(t, dir, "rules.yaml", testRules)
	docs := writeTemp(t, dir, "docs.json", testDocs)
	base := writeTemp(t, dir, "base.yaml", "title: report\n")

	out, err := execute(t, "aggregate", "--log-level", "error", "--rules", rules, "--base", base, docs)
	require.NoError(t, err)

	got := decodeJSON(t, out)
	require.Equal(t, "report", got["title"])
	require.Equal(t, []any{"meta", "spec", "git"}, got["meta"].(map[string]any)["commands"])
	require.Equal(t, float64(4), got["stats"].(map[string]any)["total"])
}

func TestAggregateCommand_BatchedAndDerivedOnly(t *testing.T) {
	dir := t.TempDir()
	rules := writeTemp(t, dir, "rules.yaml", testRules)
	docs := writeTemp(t, dir, "docs.json", testDocs)

	out, err := execute(t, "aggregate", "--log-level", "error", "--rules", rules, "--batch", "1", "--derived-only", docs)
	require.NoError(t, err)
	got := decodeJSON(t, out)
	require.NotContains(t, got, "title")
	require.Equal(t, float64(4), got["stats"].(map[string]any)["total"])
}

func TestAggregateCommand_Rejected(t *testing.T) {
	dir := t.TempDir()
	rules := writeTemp(t, dir, "rules.yaml", testRules)
	docs := writeTemp(t, dir, "docs.json", testDocs)
	t.Setenv("DK_BREAKER_MAX_DATASET_SIZE", "1")

	_, err := execute(t, "aggregate", "--log-level", "error", "--rules", rules, docs)
	require.ErrorContains(t, err, "dataset")

	_, err = execute(t, "aggregate", "--log-level", "error", "--rules", rules, "--no-breaker", docs)
	require.NoError(t, err)
}

func TestCombineCommand(t *testing.T) {
	dir := t.TempDir()
	a := writeTemp(t, dir, "a.json", `{"name": "a", "tags": ["x"], "nested": {"k": 1}}`)
	b := writeTemp(t, dir, "b.yaml", "name: b\ntags: [y]\nnested:\n  j: 2\n")

	out, err := execute(t, "combine", "--log-level", "error", "--strategy", "merge", "--conflict", "first-wins", a, b)
	require.NoError(t, err)
	require.Equal(t, map[string]any{
		"name":   "a",
		"tags":   []any{"x", "y"},
		"nested": map[string]any{"k": float64(1), "j": float64(2)},
	}, decodeJSON(t, out))

	out, err = execute(t, "combine", "--log-level", "error", "--array-key", "items", "--metadata", a, b)
	require.NoError(t, err)
	got := decodeJSON(t, out)
	require.Len(t, got["items"], 2)
	require.Equal(t, "array", got["metadata"].(map[string]any)["strategy"])

	_, err = execute(t, "combine", "--log-level", "error", "--strategy", "zip", a)
	require.ErrorContains(t, err, "UNKNOWN_STRATEGY")
}

func TestLedgerCommands(t *testing.T) {
	dir := t.TempDir()
	dbURL := "sqlite://" + filepath.Join(dir, "runs.db")
	rules := writeTemp(t, dir, "rules.yaml", testRules)
	docs := writeTemp(t, dir, "docs.json", testDocs)

	out, err := execute(t, "migrate", "--log-level", "error", "--db-url", dbURL)
	require.NoError(t, err)
	require.Contains(t, out, "applied 1 migration(s)")

	out, err = execute(t, "migrate", "status", "--log-level", "error", "--db-url", dbURL)
	require.NoError(t, err)
	require.Contains(t, out, "001_runs.sql")
	require.Contains(t, out, "applied")

	_, err = execute(t, "aggregate", "--log-level", "error", "--db-url", dbURL, "--rules", rules, docs)
	require.NoError(t, err)
	_, err = execute(t, "combine", "--log-level", "error", "--db-url", dbURL, "--strategy", "merge", docs)
	require.Error(t, err)

	out, err = execute(t, "runs", "stats", "--log-level", "error", "--db-url", dbURL)
	require.NoError(t, err)
	require.Contains(t, out, "succeeded")
	require.Contains(t, out, "failed")
	require.Contains(t, strings.ToLower(out), "total")

	out, err = execute(t, "runs", "list", "--log-level", "error", "--db-url", dbURL, "--status", "succeeded")
	require.NoError(t, err)
	ids := runIDPattern.FindAllString(out, -1)
	require.Len(t, ids, 1)
	runID := ids[0]

	out, err = execute(t, "runs", "show", "--log-level", "error", "--db-url", dbURL, runID)
	require.NoError(t, err)
	shown := decodeJSON(t, out)
	require.Equal(t, "aggregate", shown["kind"])
	require.Equal(t, float64(4), shown["result"].(map[string]any)["stats"].(map[string]any)["total"])

	out, err = execute(t, "runs", "prune", "--log-level", "error", "--db-url", dbURL, "--older-than", "1h")
	require.NoError(t, err)
	require.Contains(t, out, "pruned 0 run(s)")
}

func TestLedgerCommands_RequireDatabase(t *testing.T) {
	_, err := execute(t, "runs", "list", "--log-level", "error")
	require.ErrorContains(t, err, "--db-url")
}

func TestEnvFile(t *testing.T) {
	dir := t.TempDir()
	rules := writeTemp(t, dir, "rules.yaml", testRules)
	docs := writeTemp(t, dir, "docs.json", testDocs)
	env := writeTemp(t, dir, "test.env", "DK_BREAKER_MAX_DATASET_SIZE=1\n")

	// Register restoration, then clear so the env file can set the variable.
	t.Setenv("DK_BREAKER_MAX_DATASET_SIZE", "")
	require.NoError(t, os.Unsetenv("DK_BREAKER_MAX_DATASET_SIZE"))

	_, err := execute(t, "aggregate", "--log-level", "error", "--env-file", env, "--rules", rules, docs)
	require.ErrorContains(t, err, "dataset")

	_, err = execute(t, "aggregate", "--log-level", "error", "--env-file", filepath.Join(dir, "missing.env"), "--rules", rules, docs)
	require.ErrorContains(t, err, "env file")
}
