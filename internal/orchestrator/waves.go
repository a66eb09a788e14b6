package orchestrator

import "log/slog"

// waves groups subtasks into execution layers: a subtask runs strictly
// after everything it depends on. When the remaining graph is cyclic the
// leftovers go into one terminal wave rather than deadlocking.
func waves(subtasks []SubTask, log *slog.Logger) [][]SubTask {
	done := make(map[string]bool, len(subtasks))
	remaining := make([]SubTask, len(subtasks))
	copy(remaining, subtasks)

	var out [][]SubTask
	for len(remaining) > 0 {
		var wave, next []SubTask
		for _, st := range remaining {
			ready := true
			for _, dep := range st.DependsOn {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, st)
			} else {
				next = append(next, st)
			}
		}

		if len(wave) == 0 {
			// Cycle: nothing is ready but work remains.
			if log != nil {
				log.Warn("cyclic subtask dependencies, forcing terminal wave",
					"remaining", len(next))
			}
			out = append(out, next)
			return out
		}

		for _, st := range wave {
			done[st.Name] = true
		}
		out = append(out, wave)
		remaining = next
	}
	return out
}
