// Package git provides an interface for the git operations the checkpoint
// subsystem depends on.
package git

// StatusOperations defines the interface for working-tree inspection.
type StatusOperations interface {
	// Status returns the output of git status --porcelain.
	Status() (string, error)
	// HasChanges returns true if there are uncommitted changes.
	HasChanges() (bool, error)
	// CurrentBranch returns the name of the current branch.
	CurrentBranch() (string, error)
	// CurrentRevision returns the full SHA of HEAD.
	CurrentRevision() (string, error)
}

// CommitOperations defines the interface for staging and committing.
type CommitOperations interface {
	// AddAll stages all changes, including untracked files.
	AddAll() error
	// Commit creates a new commit with the given message.
	Commit(message string) error
}

// TagOperations defines the interface for the lightweight tags that back
// checkpoints.
type TagOperations interface {
	// CreateTag creates a lightweight tag at the given revision.
	CreateTag(name, revision string) error
	// DeleteTag deletes a tag. The tagged revision is never deleted.
	DeleteTag(name string) error
	// TagExists returns true if the tag exists.
	TagExists(name string) (bool, error)
	// ResolveRef returns the commit SHA a ref (tag, branch, SHA) points at.
	ResolveRef(ref string) (string, error)
}

// ResetOperations defines the interface for moving the working tree to a
// revision during rollback.
type ResetOperations interface {
	// ResetHard discards all local changes and moves HEAD to the revision.
	ResetHard(revision string) error
	// ResetMixed moves HEAD to the revision but keeps file contents,
	// unstaged.
	ResetMixed(revision string) error
}

// Runner defines the complete interface for git operations.
// Consumers should prefer the focused interfaces when possible.
type Runner interface {
	StatusOperations
	CommitOperations
	TagOperations
	ResetOperations
	// Run executes an arbitrary git command with the given arguments.
	Run(args ...string) (string, error)
}
