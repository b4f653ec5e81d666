// Package notify handles out-of-band communication with the orchestrator
// through the project's .helmsman directory: pause/kill signal files,
// human escalation responses, and the shared decisions file.
package notify

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// SignalManager watches the .helmsman/signals directory so a human can
// pause or kill a running session, and collects answers to escalations.
type SignalManager struct {
	helmsmanDir string

	mu          sync.RWMutex
	stopSignal  bool
	pauseSignal bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewSignalManager creates a signal manager rooted at the given project.
// A failed watcher setup degrades to stat-based polling, never an error.
func NewSignalManager(projectRoot string) (*SignalManager, error) {
	helmsmanDir := filepath.Join(projectRoot, ".helmsman")

	dirs := []string{
		helmsmanDir,
		filepath.Join(helmsmanDir, "signals"),
		filepath.Join(helmsmanDir, "escalations"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	decisionsPath := filepath.Join(helmsmanDir, "decisions.md")
	if _, err := os.Stat(decisionsPath); os.IsNotExist(err) {
		initial := `# Project Decisions

Shared naming conventions, patterns, and architectural decisions.
Executors read this file before each task and append new decisions after completing work.

## Naming Conventions

<!-- Add naming decisions here -->

## Patterns

<!-- Add pattern decisions here -->

## Constraints

<!-- Add constraint decisions here -->
`
		if err := os.WriteFile(decisionsPath, []byte(initial), 0644); err != nil {
			return nil, err
		}
	}

	sm := &SignalManager{
		helmsmanDir: helmsmanDir,
		done:        make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// Continue without watcher - will use polling fallback
		return sm, nil
	}
	sm.watcher = watcher

	signalsDir := filepath.Join(helmsmanDir, "signals")
	if err := watcher.Add(signalsDir); err != nil {
		watcher.Close()
		sm.watcher = nil
		return sm, nil
	}

	go sm.watchSignals()

	return sm, nil
}

// watchSignals monitors the signals directory for kill/pause files.
func (sm *SignalManager) watchSignals() {
	for {
		select {
		case <-sm.done:
			return
		case event, ok := <-sm.watcher.Events:
			if !ok {
				return
			}
			sm.mu.Lock()
			base := filepath.Base(event.Name)
			if base == "kill" && (event.Op&fsnotify.Create != 0 || event.Op&fsnotify.Write != 0) {
				sm.stopSignal = true
			} else if base == "pause" && (event.Op&fsnotify.Create != 0 || event.Op&fsnotify.Write != 0) {
				sm.pauseSignal = true
			}
			sm.mu.Unlock()
		case <-sm.watcher.Errors:
			// Ignore errors, keep watching
		}
	}
}

// ShouldStop returns true if a kill signal has been received.
func (sm *SignalManager) ShouldStop() bool {
	// Also check file directly in case watcher missed it
	killPath := filepath.Join(sm.helmsmanDir, "signals", "kill")
	if _, err := os.Stat(killPath); err == nil {
		sm.mu.Lock()
		sm.stopSignal = true
		sm.mu.Unlock()
	}

	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.stopSignal
}

// ShouldPause returns true if a pause signal has been received.
func (sm *SignalManager) ShouldPause() bool {
	pausePath := filepath.Join(sm.helmsmanDir, "signals", "pause")
	if _, err := os.Stat(pausePath); err == nil {
		sm.mu.Lock()
		sm.pauseSignal = true
		sm.mu.Unlock()
	}

	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.pauseSignal
}

// SendKill creates a kill signal file.
func (sm *SignalManager) SendKill() error {
	path := filepath.Join(sm.helmsmanDir, "signals", "kill")
	return os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0644)
}

// SendPause creates a pause signal file.
func (sm *SignalManager) SendPause() error {
	path := filepath.Join(sm.helmsmanDir, "signals", "pause")
	return os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0644)
}

// ClearSignals removes all signal files and resets signal state.
func (sm *SignalManager) ClearSignals() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.stopSignal = false
	sm.pauseSignal = false

	os.Remove(filepath.Join(sm.helmsmanDir, "signals", "kill"))
	os.Remove(filepath.Join(sm.helmsmanDir, "signals", "pause"))
}

// Escalate writes an escalation question file for the human operator and
// returns the id the answer is expected under.
func (sm *SignalManager) Escalate(id, question string) error {
	path := filepath.Join(sm.helmsmanDir, "escalations", id+".md")
	content := "# Escalation " + id + "\n\n" + question +
		"\n\nWrite your answer to " + id + ".answer in this directory.\n"
	return os.WriteFile(path, []byte(content), 0644)
}

// EscalationAnswer returns the human's answer to an escalation, or empty
// string when no answer file exists yet.
func (sm *SignalManager) EscalationAnswer(id string) string {
	path := filepath.Join(sm.helmsmanDir, "escalations", id+".answer")
	content, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(content))
}

// WaitForAnswer polls for an escalation answer until timeout. Returns the
// answer and true, or empty and false on timeout.
func (sm *SignalManager) WaitForAnswer(id string, timeout time.Duration) (string, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if answer := sm.EscalationAnswer(id); answer != "" {
			return answer, true
		}
		select {
		case <-sm.done:
			return "", false
		case <-time.After(200 * time.Millisecond):
		}
	}
	return "", false
}

// ClearEscalation removes an escalation and its answer file.
func (sm *SignalManager) ClearEscalation(id string) {
	os.Remove(filepath.Join(sm.helmsmanDir, "escalations", id+".md"))
	os.Remove(filepath.Join(sm.helmsmanDir, "escalations", id+".answer"))
}

// ReadDecisions returns the current contents of the decisions file.
func (sm *SignalManager) ReadDecisions() string {
	path := filepath.Join(sm.helmsmanDir, "decisions.md")
	content, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(content)
}

// AppendDecision adds a new decision to the decisions file.
func (sm *SignalManager) AppendDecision(decision string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	path := filepath.Join(sm.helmsmanDir, "decisions.md")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	timestamp := time.Now().Format("2006-01-02 15:04")
	entry := "\n- " + timestamp + ": " + decision + "\n"

	_, err = f.WriteString(entry)
	return err
}

// HelmsmanDir returns the path to the .helmsman directory.
func (sm *SignalManager) HelmsmanDir() string {
	return sm.helmsmanDir
}

// Close shuts down the signal manager.
func (sm *SignalManager) Close() {
	close(sm.done)
	if sm.watcher != nil {
		sm.watcher.Close()
	}
}
