package recovery

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/helmsman-dev/helmsman/internal/state"
	"github.com/helmsman-dev/helmsman/pkg/models"
)

// RetryPolicy controls the exponential backoff schedule.
type RetryPolicy struct {
	// BaseDelay is the delay applied on the second attempt.
	BaseDelay time.Duration
	// BackoffBase is the exponential growth factor.
	BackoffBase float64
	// MaxDelay caps the computed delay.
	MaxDelay time.Duration
	// MaxRetries bounds attempts before escalation.
	MaxRetries int
}

// DefaultRetryPolicy returns the standard schedule: 1s base, doubling,
// capped at 60s, three retries.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:   time.Second,
		BackoffBase: 2.0,
		MaxDelay:    60 * time.Second,
		MaxRetries:  3,
	}
}

// Backoff computes the delay before the given attempt:
// min(base * factor^(attempt-1), max). Attempt 1 is immediate.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	delay := float64(p.BaseDelay) * math.Pow(p.BackoffBase, float64(attempt-2))
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Context carries the driver's knowledge about a failure site into strategy
// selection and execution.
type Context struct {
	// Source identifies the failure site; attempt counting is per source.
	Source string
	// CheckpointID names a checkpoint available for rollback, if any.
	CheckpointID string
	// Skippable marks the failed work as safe to skip.
	Skippable bool
}

// Engine tracks per-source attempts, selects recovery strategies, and keeps
// the session error log.
type Engine struct {
	sessionID string
	store     state.Store // nil disables persistence
	policy    RetryPolicy

	mu       sync.Mutex
	attempts map[string]int
	log      []models.ErrorRecord
}

// NewEngine creates a recovery engine for one session. store may be nil, in
// which case the error log is kept in memory only.
func NewEngine(sessionID string, store state.Store, policy RetryPolicy) *Engine {
	if policy.MaxRetries < 1 {
		policy = DefaultRetryPolicy()
	}
	return &Engine{
		sessionID: sessionID,
		store:     store,
		policy:    policy,
		attempts:  make(map[string]int),
	}
}

// Detect runs pattern detection and records any match in the session error
// log. Returns nil when no failure signature is found.
func (e *Engine) Detect(output, source string, exitCode *int, context map[string]string) *models.ErrorRecord {
	rec := Detect(output, source, exitCode, context)
	if rec == nil {
		return nil
	}
	return e.record(rec)
}

// record appends an error to the session log. Persistence is best-effort;
// recording itself never fails.
func (e *Engine) record(rec *models.ErrorRecord) *models.ErrorRecord {
	e.mu.Lock()
	e.log = append(e.log, *rec)
	e.mu.Unlock()

	if e.store != nil {
		e.store.AppendError(e.sessionID, rec)
	}
	return rec
}

// SelectStrategy applies the decision table:
// transient -> retry (escalate once the budget is exhausted);
// permanent -> rollback when a checkpoint is available, else alternative;
// ambiguous -> skip when marked skippable, else human input.
// Selection always returns a strategy.
func (e *Engine) SelectStrategy(rec *models.ErrorRecord, ctx Context) models.RecoveryStrategy {
	switch rec.Category {
	case models.ErrorTransient:
		if e.Attempts(ctx.Source) >= e.policy.MaxRetries {
			return models.StrategyEscalate
		}
		return models.StrategyRetryWithBackoff
	case models.ErrorPermanent:
		if ctx.CheckpointID != "" {
			return models.StrategyRollbackToCheckpoint
		}
		return models.StrategyAlternativeApproach
	default:
		if ctx.Skippable {
			return models.StrategySkipAndContinue
		}
		return models.StrategyRequestHumanInput
	}
}

// ExecuteRecovery performs the chosen strategy's bookkeeping and returns the
// next-action token the caller must act on. Failures of the recovery action
// itself surface as Success=false; they are never retried automatically.
func (e *Engine) ExecuteRecovery(strategy models.RecoveryStrategy, rec *models.ErrorRecord, ctx Context) *models.RecoveryResult {
	result := &models.RecoveryResult{
		Strategy:  strategy,
		CreatedAt: time.Now(),
		Details:   map[string]string{},
	}

	switch strategy {
	case models.StrategyRetryWithBackoff:
		// Independent transient re-check: retries are never applied to a
		// cause that doesn't look transient on its own evidence.
		if !isTransientSignature(rec.Message, rec.ExitCode) {
			result.Success = false
			result.Message = "retry rejected: failure does not match transient signatures"
			result.Next = models.NextAction{Kind: models.ActionEscalateToHuman}
			return result
		}
		attempt := e.bumpAttempts(ctx.Source)
		result.Success = true
		result.Delay = e.policy.Backoff(attempt)
		result.Next = models.NextAction{Kind: models.ActionRetry}
		result.Details["attempt"] = strconv.Itoa(attempt)
		result.Message = fmt.Sprintf("retry attempt %d after %s", attempt, result.Delay)

	case models.StrategyRollbackToCheckpoint:
		if ctx.CheckpointID == "" {
			result.Success = false
			result.Message = "rollback selected but no checkpoint available"
			result.Next = models.NextAction{Kind: models.ActionEscalateToHuman}
			return result
		}
		result.Success = true
		result.Next = models.RollbackAction(ctx.CheckpointID)
		result.Details["checkpoint_id"] = ctx.CheckpointID
		result.Message = fmt.Sprintf("roll back to checkpoint %s", ctx.CheckpointID)

	case models.StrategyAlternativeApproach:
		attempt := e.bumpAttempts(ctx.Source)
		result.Success = true
		result.Next = models.NextAction{Kind: models.ActionTryAlternative}
		result.Details["approach"] = alternativeApproach(attempt)
		result.Message = fmt.Sprintf("try alternative approach: %s", result.Details["approach"])

	case models.StrategySkipAndContinue:
		result.Success = true
		result.Next = models.NextAction{Kind: models.ActionContinueToNextTask}
		result.Message = "skipping failed work and continuing"

	case models.StrategyRequestHumanInput:
		result.Success = true
		result.Next = models.NextAction{Kind: models.ActionWaitForHuman}
		result.Message = "waiting for human input"

	case models.StrategyEscalate:
		result.Success = true
		result.Next = models.NextAction{Kind: models.ActionEscalateToHuman}
		result.Message = fmt.Sprintf("escalating after %d attempts", e.Attempts(ctx.Source))

	default:
		result.Success = false
		result.Next = models.NextAction{Kind: models.ActionEscalateToHuman}
		result.Message = fmt.Sprintf("unknown strategy %q", strategy)
	}

	return result
}

// Handle is the full detect-classify-select-execute pass for one observed
// failure. Callers invoke it only after something went wrong, so output that
// matches no signature is still recorded, as a generic ambiguous failure,
// and the caller always gets a next action.
func (e *Engine) Handle(output string, exitCode *int, ctx Context) (*models.ErrorRecord, *models.RecoveryResult) {
	rec := e.Detect(output, ctx.Source, exitCode, nil)
	if rec == nil {
		rec = e.record(&models.ErrorRecord{
			Message:    firstNonEmptyLine(output),
			Category:   models.ErrorAmbiguous,
			Kind:       models.ErrorKindGeneric,
			Source:     ctx.Source,
			ExitCode:   exitCode,
			Suggestion: "inspect the full output; the failure did not match a known signature",
			DetectedAt: time.Now(),
		})
	}
	strategy := e.SelectStrategy(rec, ctx)
	return rec, e.ExecuteRecovery(strategy, rec, ctx)
}

// ResetAttempts clears the attempt counter for a source after success.
func (e *Engine) ResetAttempts(source string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.attempts, source)
}

// Attempts returns the attempt count recorded for a source.
func (e *Engine) Attempts(source string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempts[source]
}

func (e *Engine) bumpAttempts(source string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attempts[source]++
	return e.attempts[source]
}

// alternativeApproach returns a progression of fallback approaches keyed by
// how many have already been tried.
func alternativeApproach(attempt int) string {
	approaches := []string{
		"retry_with_context",
		"simplify_approach",
		"decompose_task",
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(approaches) {
		idx = len(approaches) - 1
	}
	return approaches[idx]
}

// transientSubstrings is the independent allow-list used to gate retries.
var transientSubstrings = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection refused",
	"connection reset",
	"rate limit",
	"too many requests",
	"network is unreachable",
	"temporary failure",
	"broken pipe",
	"no such host",
}

// transientExitCodes covers exit codes conventionally used for timeouts.
var transientExitCodes = map[int]bool{
	124: true, // timeout(1)
	137: true, // SIGKILL, typically an external watchdog
}

// isTransientSignature re-checks a failure against the transient allow-list
// independently of its classified kind.
func isTransientSignature(message string, exitCode *int) bool {
	lowered := strings.ToLower(message)
	for _, sub := range transientSubstrings {
		if strings.Contains(lowered, sub) {
			return true
		}
	}
	if exitCode != nil && transientExitCodes[*exitCode] {
		return true
	}
	return false
}

// Summary aggregates the session error log for observability.
type Summary struct {
	SessionID  string                       `json:"session_id"`
	Total      int                          `json:"total"`
	ByCategory map[models.ErrorCategory]int `json:"by_category"`
	ByKind     map[models.ErrorKind]int     `json:"by_kind"`
	Recent     []models.ErrorRecord         `json:"recent"`
}

// recentErrorCount bounds how many errors a summary carries.
const recentErrorCount = 10

// Summary returns counts by category and kind plus the most recent errors.
func (e *Engine) Summary() Summary {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Summary{
		SessionID:  e.sessionID,
		Total:      len(e.log),
		ByCategory: make(map[models.ErrorCategory]int),
		ByKind:     make(map[models.ErrorKind]int),
	}
	for _, rec := range e.log {
		s.ByCategory[rec.Category]++
		s.ByKind[rec.Kind]++
	}

	start := len(e.log) - recentErrorCount
	if start < 0 {
		start = 0
	}
	s.Recent = append(s.Recent, e.log[start:]...)
	return s
}

// SaveLog writes the error summary and full log to a JSON file.
func (e *Engine) SaveLog(path string) error {
	summary := e.Summary()

	e.mu.Lock()
	full := make([]models.ErrorRecord, len(e.log))
	copy(full, e.log)
	e.mu.Unlock()

	payload := struct {
		Summary Summary              `json:"summary"`
		Errors  []models.ErrorRecord `json:"errors"`
	}{Summary: summary, Errors: full}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal error log: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write error log: %w", err)
	}
	return nil
}
