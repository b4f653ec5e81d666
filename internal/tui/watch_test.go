package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/helmsman-dev/helmsman/pkg/models"
)

func testSnapshot() snapshotMsg {
	return snapshotMsg{
		session: &models.Session{
			ID:    "sess-abc123",
			Goal:  "ship the importer",
			State: models.SessionImplementing,
			Repo:  models.RepoContext{Branch: "main", Revision: "0123456789abcdef"},
			Stats: models.SessionStats{TasksAttempted: 3, TasksCompleted: 2, TasksFailed: 1},
		},
		groups: []models.GroupMetadata{
			{
				ID:      "infra",
				Phase:   models.GroupPhaseConcurrent,
				Status:  models.GroupStatusInProgress,
				TaskIDs: []string{"task-1", "task-2"},
				Results: []models.TaskResult{
					{TaskID: "task-1", Status: models.TaskStatusCompleted},
					{TaskID: "task-2", Status: models.TaskStatusInProgress},
				},
			},
		},
		errs: []models.ErrorRecord{
			{Category: models.ErrorTransient, Kind: models.ErrorKindTimeout, Message: "request timed out", DetectedAt: time.Now()},
		},
	}
}

func TestWatchViewRendersSnapshot(t *testing.T) {
	m := NewWatchModel(nil, "sess-abc123")

	updated, _ := m.Update(testSnapshot())
	view := updated.View()

	for _, want := range []string{"sess-abc123", "ship the importer", "infra", "1/2 tasks", "timeout"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestWatchViewBeforeFirstSnapshot(t *testing.T) {
	m := NewWatchModel(nil, "sess-abc123")
	view := m.View()
	if !strings.Contains(view, "waiting for session") {
		t.Errorf("initial view = %q", view)
	}
}

func TestWatchQuitKeys(t *testing.T) {
	m := NewWatchModel(nil, "sess-abc123")

	for _, key := range []string{"q", "esc", "ctrl+c"} {
		_, cmd := m.Update(keyMsg(key))
		if cmd == nil {
			t.Fatalf("key %q did not produce a command", key)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("key %q did not quit", key)
		}
	}
}

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
	if got := truncate("0123456789abcdef", 8); got != "01234..." {
		t.Errorf("truncate long = %q", got)
	}
}
