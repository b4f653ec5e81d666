package git

import (
	"fmt"
	"os/exec"
	"strings"
)

// ExecRunner implements Runner using exec.Command.
type ExecRunner struct {
	repoPath string
}

// NewRunner creates a new git runner for the repository at the given path.
func NewRunner(repoPath string) *ExecRunner {
	return &ExecRunner{repoPath: repoPath}
}

// run executes a git command and returns its trimmed output.
func (r *ExecRunner) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.repoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return strings.TrimSpace(string(out)), nil
}

// runSilent executes a git command and ignores output.
func (r *ExecRunner) runSilent(args ...string) error {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.repoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return nil
}

// Run executes an arbitrary git command with the given arguments.
func (r *ExecRunner) Run(args ...string) (string, error) {
	return r.run(args...)
}

// Status returns the output of git status --porcelain.
func (r *ExecRunner) Status() (string, error) {
	return r.run("status", "--porcelain")
}

// HasChanges returns true if there are uncommitted changes.
func (r *ExecRunner) HasChanges() (bool, error) {
	status, err := r.Status()
	if err != nil {
		return false, err
	}
	return len(status) > 0, nil
}

// CurrentBranch returns the name of the current branch.
func (r *ExecRunner) CurrentBranch() (string, error) {
	return r.run("rev-parse", "--abbrev-ref", "HEAD")
}

// CurrentRevision returns the full SHA of HEAD.
func (r *ExecRunner) CurrentRevision() (string, error) {
	return r.run("rev-parse", "HEAD")
}

// AddAll stages all changes, including untracked files.
func (r *ExecRunner) AddAll() error {
	return r.runSilent("add", "-A")
}

// Commit creates a new commit with the given message.
func (r *ExecRunner) Commit(message string) error {
	return r.runSilent("commit", "-m", message)
}

// CreateTag creates a lightweight tag at the given revision.
func (r *ExecRunner) CreateTag(name, revision string) error {
	return r.runSilent("tag", name, revision)
}

// DeleteTag deletes a tag.
func (r *ExecRunner) DeleteTag(name string) error {
	return r.runSilent("tag", "-d", name)
}

// TagExists returns true if the tag exists.
func (r *ExecRunner) TagExists(name string) (bool, error) {
	cmd := exec.Command("git", "show-ref", "--verify", "--quiet", "refs/tags/"+name)
	cmd.Dir = r.repoPath
	err := cmd.Run()
	if err != nil {
		// Exit code 1 means the tag doesn't exist (not an error)
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return false, nil
		}
		return false, fmt.Errorf("check tag exists: %w", err)
	}
	return true, nil
}

// ResolveRef returns the commit SHA a ref points at.
func (r *ExecRunner) ResolveRef(ref string) (string, error) {
	return r.run("rev-parse", ref+"^{commit}")
}

// ResetHard discards all local changes and moves HEAD to the revision.
func (r *ExecRunner) ResetHard(revision string) error {
	return r.runSilent("reset", "--hard", revision)
}

// ResetMixed moves HEAD to the revision but keeps file contents, unstaged.
func (r *ExecRunner) ResetMixed(revision string) error {
	return r.runSilent("reset", "--mixed", revision)
}

// Verify ExecRunner implements Runner at compile time.
var _ Runner = (*ExecRunner)(nil)
