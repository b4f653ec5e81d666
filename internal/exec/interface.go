// Package exec provides an interface for command execution.
package exec

import (
	"context"
)

// Result holds the outcome of a command invocation. ExitCode is preserved
// so failure output can be routed through error detection.
type Result struct {
	// Output is the combined stdout/stderr output.
	Output []byte
	// ExitCode is the process exit code; 0 on success, -1 when the
	// process never ran or was killed by a signal.
	ExitCode int
}

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// Run executes a command. The working directory is set to workDir if
	// non-empty. A non-zero exit is returned in Result, not as err; err
	// is reserved for failures to launch.
	Run(ctx context.Context, workDir string, name string, args ...string) (Result, error)

	// RunShell executes a shell command through "sh -c".
	RunShell(ctx context.Context, workDir string, command string) (Result, error)
}
