// Package recovery detects, classifies, and resolves failures. The engine
// is a state machine over a single failure: detect, classify, select a
// strategy, execute it, and optionally loop on retry.
package recovery

import (
	"strings"
	"time"

	"github.com/helmsman-dev/helmsman/pkg/models"
)

// signature is one failure pattern. Substrings are matched case-insensitively
// against command output; the first matching signature wins.
type signature struct {
	substrings []string
	kind       models.ErrorKind
	suggestion string
}

// Signatures are ordered most-specific first so a rate-limit message is not
// swallowed by the broader network patterns.
var signatures = []signature{
	{[]string{"rate limit", "too many requests", "429"}, models.ErrorKindRateLimited,
		"wait for the rate limit window to pass and retry"},
	{[]string{"timed out", "timeout", "deadline exceeded"}, models.ErrorKindTimeout,
		"retry; consider raising the operation timeout"},
	{[]string{"connection refused", "connection reset", "no such host", "network is unreachable", "temporary failure in name resolution", "broken pipe"}, models.ErrorKindNetwork,
		"check network connectivity and retry"},
	{[]string{"syntax error", "unexpected token", "parse error", "expected ';'"}, models.ErrorKindSyntax,
		"fix the syntax error at the reported location"},
	{[]string{"cannot find package", "no module named", "cannot resolve import", "undefined:", "undeclared name"}, models.ErrorKindImport,
		"add the missing import or dependency"},
	{[]string{"no such file or directory", "file not found", "enoent"}, models.ErrorKindFileNotFound,
		"verify the path exists before retrying"},
	{[]string{"permission denied", "operation not permitted", "eacces"}, models.ErrorKindPermission,
		"check file ownership and permissions"},
	{[]string{"command not found", "executable file not found", "missing dependency", "not installed"}, models.ErrorKindMissingDependency,
		"install the missing tool or dependency"},
	{[]string{"assertion failed", "test failed", "--- fail", "panic:", "nil pointer dereference", "index out of range"}, models.ErrorKindLogic,
		"inspect the failing assertion or panic and fix the logic"},
	{[]string{"invalid configuration", "missing required config", "unknown flag", "invalid value for"}, models.ErrorKindConfiguration,
		"correct the configuration value and retry"},
}

// categoryByKind is the fixed, total classification table.
var categoryByKind = map[models.ErrorKind]models.ErrorCategory{
	models.ErrorKindTimeout:           models.ErrorTransient,
	models.ErrorKindNetwork:           models.ErrorTransient,
	models.ErrorKindRateLimited:       models.ErrorTransient,
	models.ErrorKindSyntax:            models.ErrorPermanent,
	models.ErrorKindImport:            models.ErrorPermanent,
	models.ErrorKindFileNotFound:      models.ErrorPermanent,
	models.ErrorKindPermission:        models.ErrorPermanent,
	models.ErrorKindMissingDependency: models.ErrorPermanent,
	models.ErrorKindLogic:             models.ErrorPermanent,
	models.ErrorKindConfiguration:     models.ErrorPermanent,
	models.ErrorKindGeneric:           models.ErrorAmbiguous,
}

// Detect pattern-matches output and exit code against the known failure
// signatures. It returns nil when no signature matches and the exit code is
// zero or absent; it never returns an error, malformed input is simply a
// non-match.
func Detect(output, source string, exitCode *int, context map[string]string) *models.ErrorRecord {
	lowered := strings.ToLower(output)

	for _, sig := range signatures {
		for _, sub := range sig.substrings {
			if strings.Contains(lowered, sub) {
				return &models.ErrorRecord{
					Message:    firstLineMatching(output, sub),
					Pattern:    sub,
					Category:   Classify(sig.kind),
					Kind:       sig.kind,
					Source:     source,
					ExitCode:   exitCode,
					Context:    context,
					Suggestion: sig.suggestion,
					DetectedAt: time.Now(),
				}
			}
		}
	}

	// A non-zero exit with no recognizable signature is still a failure.
	if exitCode != nil && *exitCode != 0 {
		return &models.ErrorRecord{
			Message:    firstNonEmptyLine(output),
			Category:   models.ErrorAmbiguous,
			Kind:       models.ErrorKindGeneric,
			Source:     source,
			ExitCode:   exitCode,
			Context:    context,
			Suggestion: "inspect the full output; the failure did not match a known signature",
			DetectedAt: time.Now(),
		}
	}

	return nil
}

// Classify maps a kind to its category. The mapping is total: unrecognized
// kinds classify as ambiguous.
func Classify(kind models.ErrorKind) models.ErrorCategory {
	if cat, ok := categoryByKind[kind]; ok {
		return cat
	}
	return models.ErrorAmbiguous
}

// firstLineMatching returns the first output line containing the matched
// substring, preserving original casing for the record.
func firstLineMatching(output, sub string) string {
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(strings.ToLower(line), sub) {
			return strings.TrimSpace(line)
		}
	}
	return strings.TrimSpace(output)
}

// firstNonEmptyLine returns the first non-blank line of output, or a
// placeholder when output is empty.
func firstNonEmptyLine(output string) string {
	for _, line := range strings.Split(output, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return "(no output)"
}
