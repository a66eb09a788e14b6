package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/osahq/osa/internal/providers"
)

func TestAppendRecallRoundTrip(t *testing.T) {
	st, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, st.Append("abc", providers.Message{Role: "user", Content: "one"}))
	require.NoError(t, st.Append("abc", providers.Message{
		Role: "assistant",
		ToolCalls: []providers.ToolCall{
			{ID: "call_1", Name: "echo", Arguments: map[string]any{"text": "x"}},
		},
	}))

	msgs, err := st.Recall("abc")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "echo", msgs[1].ToolCalls[0].Name)
}

func TestRecallUnknownSessionIsEmpty(t *testing.T) {
	st, err := New(t.TempDir())
	require.NoError(t, err)

	msgs, err := st.Recall("never-seen")
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestRecallSkipsTornLine(t *testing.T) {
	dir := t.TempDir()
	st, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, st.Append("t", providers.Message{Role: "user", Content: "good"}))
	f, err := os.OpenFile(filepath.Join(dir, "t.jsonl"), os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"role":"user","cont`)
	require.NoError(t, err)
	f.Close()

	msgs, err := st.Recall("t")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestSanitizeID(t *testing.T) {
	st, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, st.Append("tg:123/456", providers.Message{Role: "user", Content: "x"}))
	msgs, err := st.Recall("tg:123/456")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}
