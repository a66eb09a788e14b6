// Package bootstrap seeds the state directory on first run: workspace,
// sessions, skills, the identity file, and the long-term memory file.
// Existing files are never overwritten.
package bootstrap

import (
	"embed"
	"os"
	"path/filepath"
	"strings"

	"github.com/osahq/osa/internal/config"
)

//go:embed templates/*.md
var templateFS embed.FS

// IdentityFile is the workspace file holding the assistant persona.
const IdentityFile = "IDENTITY.md"

// EnsureStateLayout creates the state directories and seeds template
// files that are missing. Returns the paths it created.
func EnsureStateLayout(cfg *config.Config) ([]string, error) {
	workspace := cfg.WorkspacePath()
	dirs := []string{
		cfg.Storage.StateDir,
		cfg.Storage.SessionsDir,
		cfg.Storage.SkillsDir,
		workspace,
		filepath.Join(cfg.Storage.SkillsDir, "summarize"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	seeds := []struct {
		template string
		dest     string
	}{
		{"IDENTITY.md", filepath.Join(workspace, IdentityFile)},
		{"memory.md", cfg.Storage.MemoryFile},
		{"skill-summarize.md", filepath.Join(cfg.Storage.SkillsDir, "summarize", "SKILL.md")},
	}

	var created []string
	for _, s := range seeds {
		ok, err := seedFile(s.template, s.dest)
		if err != nil {
			return created, err
		}
		if ok {
			created = append(created, s.dest)
		}
	}
	return created, nil
}

// Identity returns the persona text from the workspace identity file,
// or "" when the file is missing or empty so the caller falls back to
// the built-in default.
func Identity(workspace string) string {
	data, err := os.ReadFile(filepath.Join(workspace, IdentityFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// seedFile writes an embedded template to dest unless dest already
// exists. O_EXCL keeps concurrent starts from clobbering each other.
func seedFile(template, dest string) (bool, error) {
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	content, err := templateFS.ReadFile(filepath.Join("templates", template))
	if err != nil {
		os.Remove(dest)
		return false, err
	}
	if _, err := f.Write(content); err != nil {
		return false, err
	}
	return true, nil
}
