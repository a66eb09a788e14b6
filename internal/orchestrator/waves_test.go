package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waveNames(w []SubTask) []string {
	out := make([]string, len(w))
	for i, st := range w {
		out[i] = st.Name
	}
	return out
}

func TestWavesLinearChain(t *testing.T) {
	subtasks := []SubTask{
		{Name: "c", DependsOn: []string{"b"}},
		{Name: "a"},
		{Name: "b", DependsOn: []string{"a"}},
	}
	got := waves(subtasks, nil)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a"}, waveNames(got[0]))
	assert.Equal(t, []string{"b"}, waveNames(got[1]))
	assert.Equal(t, []string{"c"}, waveNames(got[2]))
}

func TestWavesDiamond(t *testing.T) {
	subtasks := []SubTask{
		{Name: "root"},
		{Name: "left", DependsOn: []string{"root"}},
		{Name: "right", DependsOn: []string{"root"}},
		{Name: "join", DependsOn: []string{"left", "right"}},
	}
	got := waves(subtasks, nil)
	require.Len(t, got, 3)
	assert.ElementsMatch(t, []string{"left", "right"}, waveNames(got[1]))
	assert.Equal(t, []string{"join"}, waveNames(got[2]))
}

func TestWavesIndependentTasksOneWave(t *testing.T) {
	subtasks := []SubTask{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	got := waves(subtasks, nil)
	require.Len(t, got, 1)
	assert.Len(t, got[0], 3)
}

func TestWavesDependencyOrderProperty(t *testing.T) {
	subtasks := []SubTask{
		{Name: "api", DependsOn: []string{"schema"}},
		{Name: "schema"},
		{Name: "ui", DependsOn: []string{"api"}},
		{Name: "tests", DependsOn: []string{"api", "ui"}},
		{Name: "docs"},
	}
	got := waves(subtasks, nil)

	position := map[string]int{}
	for i, wave := range got {
		for _, st := range wave {
			position[st.Name] = i
		}
	}
	for _, st := range subtasks {
		for _, dep := range st.DependsOn {
			assert.Greater(t, position[st.Name], position[dep],
				"%s must run after %s", st.Name, dep)
		}
	}
}

func TestWavesCycleForcedIntoTerminalWave(t *testing.T) {
	subtasks := []SubTask{
		{Name: "setup"},
		{Name: "x", DependsOn: []string{"y"}},
		{Name: "y", DependsOn: []string{"x"}},
	}
	got := waves(subtasks, nil)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"setup"}, waveNames(got[0]))
	assert.ElementsMatch(t, []string{"x", "y"}, waveNames(got[1]))
}

func TestWavesEmpty(t *testing.T) {
	assert.Empty(t, waves(nil, nil))
}
