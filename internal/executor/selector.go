package executor

import (
	"strings"

	"github.com/helmsman-dev/helmsman/pkg/models"
)

// Rule maps task text to an executor. Rules are evaluated in order against
// the task title and description; the first match wins. Rule sets evolve
// independently of the coordinator, so they stay data, not code.
type Rule struct {
	// Substrings match case-insensitively against title + description.
	Substrings []string
	// Executor is the executor name the rule selects.
	Executor string
	// Guidance is capability guidance pre-applied to matching tasks.
	Guidance string
}

// Selector resolves an executor identity for a task: explicit metadata
// first, then the ordered rule list, then the default.
type Selector struct {
	rules       []Rule
	defaultName string
}

// NewSelector creates a selector with the given rules and default executor.
func NewSelector(rules []Rule, defaultName string) *Selector {
	return &Selector{rules: rules, defaultName: defaultName}
}

// DefaultRules is the standard inference rule set.
var DefaultRules = []Rule{
	{
		Substrings: []string{"test", "spec", "coverage"},
		Executor:   "claude",
		Guidance:   "Run the existing test suite before and after your changes.",
	},
	{
		Substrings: []string{"migration", "schema", "database"},
		Executor:   "claude",
		Guidance:   "Database work: never drop data; write reversible migrations.",
	},
	{
		Substrings: []string{"document", "readme", "changelog"},
		Executor:   "api",
		Guidance:   "Documentation only; do not modify source files.",
	},
}

// Resolve returns the executor name and guidance for a task. Explicit
// metadata always wins; otherwise the first matching rule; otherwise the
// default executor with no guidance.
func (s *Selector) Resolve(task models.TaskMetadata) (string, string) {
	if task.Executor != "" {
		return task.Executor, ""
	}

	lowered := strings.ToLower(task.Title + " " + task.Description)
	for _, rule := range s.rules {
		for _, sub := range rule.Substrings {
			if strings.Contains(lowered, sub) {
				return rule.Executor, rule.Guidance
			}
		}
	}

	return s.defaultName, ""
}
