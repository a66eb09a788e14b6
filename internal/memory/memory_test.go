package memory

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "memory.md"))
}

func TestRememberCreatesSection(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Remember("prefers tabs over spaces", "preferences"))

	text := s.Recall()
	require.Contains(t, text, "## preferences")
	require.Contains(t, text, "prefers tabs over spaces")
}

func TestRememberAppendsToExistingSection(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Remember("first note", "work"))
	require.NoError(t, s.Remember("second note", "work"))
	require.NoError(t, s.Remember("other topic", "home"))

	text := s.Recall()
	require.Equal(t, 1, strings.Count(text, "## work"))
	workBody := sectionBody(text, "work")
	require.Contains(t, workBody, "first note")
	require.Contains(t, workBody, "second note")
	require.NotContains(t, workBody, "other topic")
}

func TestSnippetsRelevance(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Remember("deploy pipeline uses blue-green rollout", "infrastructure"))
	require.NoError(t, s.Remember("birthday cake recipe needs vanilla", "cooking"))

	snips := s.Snippets("how does the deploy pipeline work", 3)
	require.NotEmpty(t, snips)
	require.Contains(t, snips[0], "blue-green")
	for _, sn := range snips {
		require.NotContains(t, sn, "vanilla")
	}
}

func TestSnippetsEmptyWhenNoMatch(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Remember("some note", "general"))
	require.Empty(t, s.Snippets("zzz qqq xxx", 3))
}

func TestEmptyNoteRejected(t *testing.T) {
	s := newStore(t)
	require.Error(t, s.Remember("   ", "general"))
}
