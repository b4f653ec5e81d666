// Package executor is the opaque work-execution boundary. The coordinator
// supplies an executor identity, a task prompt, and optional capability
// guidance; it consumes back a terminal status and a result payload. What an
// executor does internally is not interpreted by the core.
package executor

import (
	"context"
	"sync"

	"github.com/helmsman-dev/helmsman/pkg/models"
)

// Request is one unit of work handed to an executor.
type Request struct {
	// TaskID is the tracker id of the task being executed.
	TaskID string
	// Prompt is the task prompt/context.
	Prompt string
	// Guidance is pre-applied capability guidance, if any.
	Guidance string
	// WorkDir is the directory the work happens in.
	WorkDir string
}

// Result is the terminal outcome of one execution.
type Result struct {
	// Status is the terminal task status (completed or failed).
	Status models.TaskStatus
	// Output is the executor's result payload.
	Output string
}

// Executor runs one task to a terminal status. Launch failures are returned
// as err; a task that ran and failed is Status=failed with err=nil.
type Executor interface {
	Name() string
	Execute(ctx context.Context, req Request) (Result, error)
}

// Registry holds the available executors and the default fallback chain.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Executor
	chain  []string
}

// NewRegistry creates a registry with the given default chain of executor
// names, tried in order when a task names no executor of its own.
func NewRegistry(chain []string) *Registry {
	return &Registry{
		byName: make(map[string]Executor),
		chain:  chain,
	}
}

// Register adds an executor under its name.
func (r *Registry) Register(e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[e.Name()] = e
}

// Get returns a registered executor by name.
func (r *Registry) Get(name string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	return e, ok
}

// Chain returns the default fallback chain.
func (r *Registry) Chain() []string {
	return r.chain
}

// ResolveChain returns the ordered, deduplicated list of registered
// executors to try for a task: the resolved primary first, then the task's
// declared fallbacks, then the default chain.
func (r *Registry) ResolveChain(task models.TaskMetadata, sel *Selector) []Executor {
	primary, _ := sel.Resolve(task)

	names := append([]string{primary}, task.FallbackExecutors...)
	names = append(names, r.chain...)

	seen := make(map[string]bool)
	var out []Executor
	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if e, ok := r.Get(name); ok {
			out = append(out, e)
		}
	}
	return out
}
