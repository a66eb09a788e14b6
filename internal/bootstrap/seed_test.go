package bootstrap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osahq/osa/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := &config.Config{}
	cfg.Storage.StateDir = base
	cfg.Storage.SessionsDir = filepath.Join(base, "sessions")
	cfg.Storage.MemoryFile = filepath.Join(base, "memory.md")
	cfg.Storage.SkillsDir = filepath.Join(base, "skills")
	cfg.Agent.Workspace = filepath.Join(base, "workspace")
	return cfg
}

func TestEnsureStateLayoutSeedsMissing(t *testing.T) {
	cfg := testConfig(t)

	created, err := EnsureStateLayout(cfg)
	require.NoError(t, err)
	assert.Len(t, created, 3)

	assert.FileExists(t, filepath.Join(cfg.WorkspacePath(), IdentityFile))
	assert.FileExists(t, cfg.Storage.MemoryFile)
	assert.FileExists(t, filepath.Join(cfg.Storage.SkillsDir, "summarize", "SKILL.md"))
	assert.DirExists(t, cfg.Storage.SessionsDir)
}

func TestEnsureStateLayoutNeverOverwrites(t *testing.T) {
	cfg := testConfig(t)

	_, err := EnsureStateLayout(cfg)
	require.NoError(t, err)

	identityPath := filepath.Join(cfg.WorkspacePath(), IdentityFile)
	require.NoError(t, os.WriteFile(identityPath, []byte("custom persona"), 0o644))

	created, err := EnsureStateLayout(cfg)
	require.NoError(t, err)
	assert.Empty(t, created)

	data, err := os.ReadFile(identityPath)
	require.NoError(t, err)
	assert.Equal(t, "custom persona", string(data))
}

func TestIdentity(t *testing.T) {
	dir := t.TempDir()
	assert.Empty(t, Identity(dir), "missing file falls back to default persona")

	require.NoError(t, os.WriteFile(filepath.Join(dir, IdentityFile), []byte("be terse\n"), 0o644))
	assert.Equal(t, "be terse", Identity(dir))
}
