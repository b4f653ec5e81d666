package recovery

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/helmsman-dev/helmsman/pkg/models"
)

func intPtr(n int) *int { return &n }

func TestDetect(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		exitCode *int
		wantKind models.ErrorKind
		wantNil  bool
	}{
		{"timeout", "error: operation timed out after 30s", nil, models.ErrorKindTimeout, false},
		{"network", "dial tcp: connection refused", nil, models.ErrorKindNetwork, false},
		{"rate limit", "HTTP 429: rate limit exceeded, retry later", nil, models.ErrorKindRateLimited, false},
		{"syntax", "main.go:14: syntax error: unexpected token", nil, models.ErrorKindSyntax, false},
		{"import", "main.go:3: cannot find package \"foo/bar\"", nil, models.ErrorKindImport, false},
		{"file not found", "open config.yaml: no such file or directory", nil, models.ErrorKindFileNotFound, false},
		{"permission", "mkdir /etc/app: permission denied", nil, models.ErrorKindPermission, false},
		{"missing dep", "bash: jq: command not found", nil, models.ErrorKindMissingDependency, false},
		{"logic", "--- FAIL: TestThing (0.01s)", nil, models.ErrorKindLogic, false},
		{"configuration", "invalid configuration: port out of range", nil, models.ErrorKindConfiguration, false},
		{"generic on exit code", "something went wrong", intPtr(2), models.ErrorKindGeneric, false},
		{"clean output", "all tests passed", nil, "", true},
		{"clean output zero exit", "done", intPtr(0), "", true},
		{"empty input", "", nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Detect(tt.output, "test", tt.exitCode, nil)
			if tt.wantNil {
				if rec != nil {
					t.Fatalf("Detect() = %+v, want nil", rec)
				}
				return
			}
			if rec == nil {
				t.Fatal("Detect() = nil, want record")
			}
			if rec.Kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", rec.Kind, tt.wantKind)
			}
			if rec.Category != Classify(rec.Kind) {
				t.Errorf("category %s inconsistent with Classify(%s)", rec.Category, rec.Kind)
			}
		})
	}
}

func TestClassifyIsTotal(t *testing.T) {
	transient := []models.ErrorKind{
		models.ErrorKindTimeout, models.ErrorKindNetwork, models.ErrorKindRateLimited,
	}
	permanent := []models.ErrorKind{
		models.ErrorKindSyntax, models.ErrorKindImport, models.ErrorKindFileNotFound,
		models.ErrorKindPermission, models.ErrorKindMissingDependency,
		models.ErrorKindLogic, models.ErrorKindConfiguration,
	}

	for _, kind := range transient {
		if got := Classify(kind); got != models.ErrorTransient {
			t.Errorf("Classify(%s) = %s, want transient", kind, got)
		}
	}
	for _, kind := range permanent {
		if got := Classify(kind); got != models.ErrorPermanent {
			t.Errorf("Classify(%s) = %s, want permanent", kind, got)
		}
	}
	if got := Classify(models.ErrorKindGeneric); got != models.ErrorAmbiguous {
		t.Errorf("Classify(generic) = %s, want ambiguous", got)
	}
	if got := Classify(models.ErrorKind("made_up")); got != models.ErrorAmbiguous {
		t.Errorf("Classify(unknown) = %s, want ambiguous", got)
	}
}

func TestBackoffSequence(t *testing.T) {
	p := DefaultRetryPolicy()

	want := []time.Duration{
		0,
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		60 * time.Second,
		60 * time.Second,
	}
	for i, expected := range want {
		attempt := i + 1
		if got := p.Backoff(attempt); got != expected {
			t.Errorf("Backoff(%d) = %v, want %v", attempt, got, expected)
		}
	}
}

func TestSelectStrategy(t *testing.T) {
	e := NewEngine("sess-1", nil, DefaultRetryPolicy())

	transient := &models.ErrorRecord{Category: models.ErrorTransient, Kind: models.ErrorKindTimeout}
	permanent := &models.ErrorRecord{Category: models.ErrorPermanent, Kind: models.ErrorKindSyntax}
	ambiguous := &models.ErrorRecord{Category: models.ErrorAmbiguous, Kind: models.ErrorKindGeneric}

	if got := e.SelectStrategy(transient, Context{Source: "t1"}); got != models.StrategyRetryWithBackoff {
		t.Errorf("transient = %s, want retry_with_backoff", got)
	}
	if got := e.SelectStrategy(permanent, Context{Source: "t1", CheckpointID: "cp-1"}); got != models.StrategyRollbackToCheckpoint {
		t.Errorf("permanent with checkpoint = %s, want rollback", got)
	}
	if got := e.SelectStrategy(permanent, Context{Source: "t1"}); got != models.StrategyAlternativeApproach {
		t.Errorf("permanent without checkpoint = %s, want alternative", got)
	}
	if got := e.SelectStrategy(ambiguous, Context{Source: "t1"}); got != models.StrategyRequestHumanInput {
		t.Errorf("ambiguous = %s, want human input", got)
	}
	if got := e.SelectStrategy(ambiguous, Context{Source: "t1", Skippable: true}); got != models.StrategySkipAndContinue {
		t.Errorf("ambiguous skippable = %s, want skip", got)
	}
}

func TestSelectStrategyExhaustedBudget(t *testing.T) {
	e := NewEngine("sess-1", nil, DefaultRetryPolicy())
	transient := &models.ErrorRecord{
		Category: models.ErrorTransient,
		Kind:     models.ErrorKindTimeout,
		Message:  "request timed out",
	}
	ctx := Context{Source: "task-1"}

	for i := 0; i < 3; i++ {
		strategy := e.SelectStrategy(transient, ctx)
		if strategy != models.StrategyRetryWithBackoff {
			t.Fatalf("attempt %d: strategy = %s, want retry", i+1, strategy)
		}
		result := e.ExecuteRecovery(strategy, transient, ctx)
		if !result.Success || result.Next.Kind != models.ActionRetry {
			t.Fatalf("attempt %d: result = %+v", i+1, result)
		}
	}

	if got := e.SelectStrategy(transient, ctx); got != models.StrategyEscalate {
		t.Errorf("after budget exhausted = %s, want escalate", got)
	}
}

func TestExecuteRecoveryRejectsNonTransientRetry(t *testing.T) {
	e := NewEngine("sess-1", nil, DefaultRetryPolicy())
	// Misclassified as transient but the message carries no transient
	// signature; the independent re-check must refuse the retry.
	rec := &models.ErrorRecord{
		Category: models.ErrorTransient,
		Kind:     models.ErrorKindTimeout,
		Message:  "syntax error near line 10",
	}

	result := e.ExecuteRecovery(models.StrategyRetryWithBackoff, rec, Context{Source: "task-1"})
	if result.Success {
		t.Error("retry accepted for non-transient signature")
	}
	if result.Next.Kind != models.ActionEscalateToHuman {
		t.Errorf("next = %s, want escalate_to_human", result.Next.Kind)
	}
	if e.Attempts("task-1") != 0 {
		t.Errorf("rejected retry consumed an attempt")
	}
}

func TestExecuteRecoveryRetryDelays(t *testing.T) {
	e := NewEngine("sess-1", nil, DefaultRetryPolicy())
	rec := &models.ErrorRecord{
		Category: models.ErrorTransient,
		Kind:     models.ErrorKindTimeout,
		Message:  "operation timed out",
	}
	ctx := Context{Source: "task-1"}

	want := []time.Duration{0, time.Second, 2 * time.Second}
	for i, expected := range want {
		result := e.ExecuteRecovery(models.StrategyRetryWithBackoff, rec, ctx)
		if result.Delay != expected {
			t.Errorf("attempt %d delay = %v, want %v", i+1, result.Delay, expected)
		}
	}
}

func TestExecuteRecoveryRollback(t *testing.T) {
	e := NewEngine("sess-1", nil, DefaultRetryPolicy())
	rec := &models.ErrorRecord{Category: models.ErrorPermanent, Kind: models.ErrorKindSyntax}

	result := e.ExecuteRecovery(models.StrategyRollbackToCheckpoint, rec, Context{CheckpointID: "cp-42"})
	if !result.Success {
		t.Fatalf("rollback result: %+v", result)
	}
	if result.Next.String() != "rollback_to_checkpoint:cp-42" {
		t.Errorf("next = %s", result.Next.String())
	}

	// Missing checkpoint surfaces as a failed recovery, not a panic.
	result = e.ExecuteRecovery(models.StrategyRollbackToCheckpoint, rec, Context{})
	if result.Success {
		t.Error("rollback succeeded without a checkpoint")
	}
}

func TestHandleUnmatchedOutput(t *testing.T) {
	e := NewEngine("sess-1", nil, DefaultRetryPolicy())

	// Output matching no signature and carrying no exit code is still a
	// failure from the caller's point of view: the group driver reports
	// plain "task failed" summaries. Handle must not drop it.
	rec, res := e.Handle("task-1: task failed", nil, Context{Source: "group:infra", Skippable: true})
	if rec == nil || res == nil {
		t.Fatalf("Handle = (%v, %v), want a record and a result", rec, res)
	}
	if rec.Kind != models.ErrorKindGeneric || rec.Category != models.ErrorAmbiguous {
		t.Errorf("record = %s/%s, want ambiguous/generic", rec.Category, rec.Kind)
	}
	if res.Next.Kind != models.ActionContinueToNextTask {
		t.Errorf("next = %s, want continue_to_next_task for a skippable failure", res.Next.Kind)
	}

	_, res = e.Handle("task-1: task failed", nil, Context{Source: "validation"})
	if res.Next.Kind != models.ActionWaitForHuman {
		t.Errorf("next = %s, want wait_for_human_input", res.Next.Kind)
	}

	// Both failures landed in the session log.
	if total := e.Summary().Total; total != 2 {
		t.Errorf("log total = %d, want 2", total)
	}
}

func TestResetAttempts(t *testing.T) {
	e := NewEngine("sess-1", nil, DefaultRetryPolicy())
	rec := &models.ErrorRecord{
		Category: models.ErrorTransient, Kind: models.ErrorKindTimeout, Message: "timed out",
	}
	ctx := Context{Source: "task-1"}

	e.ExecuteRecovery(models.StrategyRetryWithBackoff, rec, ctx)
	e.ExecuteRecovery(models.StrategyRetryWithBackoff, rec, ctx)
	if e.Attempts("task-1") != 2 {
		t.Fatalf("attempts = %d, want 2", e.Attempts("task-1"))
	}

	e.ResetAttempts("task-1")
	if e.Attempts("task-1") != 0 {
		t.Errorf("attempts = %d after reset, want 0", e.Attempts("task-1"))
	}
}

func TestSummaryAndSaveLog(t *testing.T) {
	e := NewEngine("sess-1", nil, DefaultRetryPolicy())

	e.Detect("operation timed out", "task-1", nil, nil)
	e.Detect("connection refused", "task-2", nil, nil)
	e.Detect("syntax error: unexpected token", "task-3", nil, nil)

	s := e.Summary()
	if s.Total != 3 {
		t.Fatalf("total = %d, want 3", s.Total)
	}
	if s.ByCategory[models.ErrorTransient] != 2 {
		t.Errorf("transient count = %d, want 2", s.ByCategory[models.ErrorTransient])
	}
	if s.ByCategory[models.ErrorPermanent] != 1 {
		t.Errorf("permanent count = %d, want 1", s.ByCategory[models.ErrorPermanent])
	}
	if s.ByKind[models.ErrorKindTimeout] != 1 {
		t.Errorf("timeout count = %d, want 1", s.ByKind[models.ErrorKindTimeout])
	}
	if len(s.Recent) != 3 {
		t.Errorf("recent = %d entries, want 3", len(s.Recent))
	}

	path := filepath.Join(t.TempDir(), "logs", "errors.json")
	if err := e.SaveLog(path); err != nil {
		t.Fatalf("save log: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var payload struct {
		Summary Summary              `json:"summary"`
		Errors  []models.ErrorRecord `json:"errors"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("unmarshal log: %v", err)
	}
	if payload.Summary.Total != 3 || len(payload.Errors) != 3 {
		t.Errorf("persisted log: total=%d errors=%d", payload.Summary.Total, len(payload.Errors))
	}
}

func TestIsTransientSignature(t *testing.T) {
	if !isTransientSignature("Request timed out", nil) {
		t.Error("timeout message not recognized")
	}
	if !isTransientSignature("unrelated", intPtr(124)) {
		t.Error("exit 124 not recognized")
	}
	if isTransientSignature("syntax error", intPtr(1)) {
		t.Error("permanent failure recognized as transient")
	}
}
