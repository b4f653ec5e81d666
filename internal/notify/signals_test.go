package notify

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setupSignals(t *testing.T) *SignalManager {
	t.Helper()
	sm, err := NewSignalManager(t.TempDir())
	if err != nil {
		t.Fatalf("new signal manager: %v", err)
	}
	t.Cleanup(sm.Close)
	return sm
}

func TestSignalLifecycle(t *testing.T) {
	sm := setupSignals(t)

	if sm.ShouldStop() || sm.ShouldPause() {
		t.Fatal("signals set before any were sent")
	}

	if err := sm.SendPause(); err != nil {
		t.Fatalf("send pause: %v", err)
	}
	if !sm.ShouldPause() {
		t.Error("pause signal not detected")
	}

	if err := sm.SendKill(); err != nil {
		t.Fatalf("send kill: %v", err)
	}
	if !sm.ShouldStop() {
		t.Error("kill signal not detected")
	}

	sm.ClearSignals()
	if sm.ShouldStop() || sm.ShouldPause() {
		t.Error("signals survived ClearSignals")
	}
}

func TestDecisionsFile(t *testing.T) {
	sm := setupSignals(t)

	initial := sm.ReadDecisions()
	if !strings.Contains(initial, "# Project Decisions") {
		t.Fatalf("decisions file not initialized: %q", initial)
	}

	if err := sm.AppendDecision("use snake_case for table names"); err != nil {
		t.Fatalf("append decision: %v", err)
	}
	updated := sm.ReadDecisions()
	if !strings.Contains(updated, "use snake_case for table names") {
		t.Error("appended decision missing")
	}
}

func TestEscalationRoundTrip(t *testing.T) {
	sm := setupSignals(t)

	if err := sm.Escalate("esc-1", "Which database should the cache use?"); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if answer := sm.EscalationAnswer("esc-1"); answer != "" {
		t.Fatalf("answer before one was written: %q", answer)
	}

	answerPath := filepath.Join(sm.HelmsmanDir(), "escalations", "esc-1.answer")
	if err := os.WriteFile(answerPath, []byte("redis\n"), 0644); err != nil {
		t.Fatalf("write answer: %v", err)
	}

	answer, ok := sm.WaitForAnswer("esc-1", time.Second)
	if !ok || answer != "redis" {
		t.Errorf("answer = %q ok=%v, want redis", answer, ok)
	}

	sm.ClearEscalation("esc-1")
	if answer := sm.EscalationAnswer("esc-1"); answer != "" {
		t.Errorf("answer survived ClearEscalation: %q", answer)
	}
}

func TestWaitForAnswerTimeout(t *testing.T) {
	sm := setupSignals(t)

	start := time.Now()
	_, ok := sm.WaitForAnswer("esc-none", 300*time.Millisecond)
	if ok {
		t.Error("WaitForAnswer reported an answer that does not exist")
	}
	if time.Since(start) < 300*time.Millisecond {
		t.Error("WaitForAnswer returned before the timeout")
	}
}
