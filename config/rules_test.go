package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRules(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()
	writeRules(t, dir, "rules/style.md", "Use imperative step descriptions.")
	writeRules(t, dir, "rules/safety/ppe.md", "Always list required PPE.")
	writeRules(t, dir, "notes.txt", "not a rules file")

	rules, err := LoadRules(dir, []string{"rules/**/*.md"})
	require.NoError(t, err)

	assert.False(t, rules.Empty())
	assert.Equal(t, []string{"rules/safety/ppe.md", "rules/style.md"}, rules.Files)
	assert.Contains(t, rules.Content, "## rules/style.md")
	assert.Contains(t, rules.Content, "imperative step descriptions")
	assert.NotContains(t, rules.Content, "not a rules file")
	assert.Len(t, rules.Checksum, 64)
}

func TestLoadRules_ChecksumChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	writeRules(t, dir, "RULES.md", "version one")

	before, err := LoadRules(dir, []string{"RULES.md"})
	require.NoError(t, err)

	writeRules(t, dir, "RULES.md", "version two")

	after, err := LoadRules(dir, []string{"RULES.md"})
	require.NoError(t, err)

	assert.NotEqual(t, before.Checksum, after.Checksum)
}

func TestLoadRules_NoMatches(t *testing.T) {
	dir := t.TempDir()

	rules, err := LoadRules(dir, []string{"rules/**/*.md"})
	require.NoError(t, err)
	assert.True(t, rules.Empty())
	assert.Empty(t, rules.Checksum)

	rules, err = LoadRules(dir, nil)
	require.NoError(t, err)
	assert.True(t, rules.Empty())
}

func TestLoadRules_BadPattern(t *testing.T) {
	_, err := LoadRules(t.TempDir(), []string{"[bad"})
	assert.Error(t, err)
}
