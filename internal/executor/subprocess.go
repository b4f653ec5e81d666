package executor

import (
	"context"
	"strings"

	"github.com/helmsman-dev/helmsman/internal/exec"
	"github.com/helmsman-dev/helmsman/pkg/models"
)

// SubprocessExecutor runs tasks through an external CLI agent binary. The
// prompt is passed as the final argument; guidance, when present, is
// prepended to the prompt text.
type SubprocessExecutor struct {
	name     string
	command  string
	args     []string
	commands exec.CommandRunner
}

// NewSubprocessExecutor creates an executor that invokes command with args
// plus the task prompt. name is the registry identity.
func NewSubprocessExecutor(name, command string, args []string, commands exec.CommandRunner) *SubprocessExecutor {
	return &SubprocessExecutor{
		name:     name,
		command:  command,
		args:     args,
		commands: commands,
	}
}

// Name returns the registry identity.
func (e *SubprocessExecutor) Name() string {
	return e.name
}

// Execute runs the CLI to completion. A non-zero exit is a failed task, not
// an error; errors are reserved for launch failures so the coordinator can
// advance to a fallback executor.
func (e *SubprocessExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	prompt := req.Prompt
	if req.Guidance != "" {
		prompt = req.Guidance + "\n\n" + prompt
	}

	args := append(append([]string{}, e.args...), prompt)
	res, err := e.commands.Run(ctx, req.WorkDir, e.command, args...)
	if err != nil {
		return Result{}, err
	}

	output := strings.TrimSpace(string(res.Output))
	if res.ExitCode != 0 {
		return Result{Status: models.TaskStatusFailed, Output: output}, nil
	}
	return Result{Status: models.TaskStatusCompleted, Output: output}, nil
}

var _ Executor = (*SubprocessExecutor)(nil)
