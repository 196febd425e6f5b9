package gitstore

import (
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/FeepingCreature/forge/internal/ferr"
)

// WorkingTreeSync is the only operation permitted to touch the working
// directory. When branch is the currently checked-out branch
// and the working tree has no uncommitted changes, it fast-forwards the
// working tree to targetCommit. If branch is not checked out, it is a
// no-op. If the working tree is dirty, it fails with WorkdirDirty.
func (s *Store) WorkingTreeSync(branch string, targetCommit plumbing.Hash) error {
	head, err := s.repo.Head()
	if err != nil {
		// No commits/HEAD yet; nothing to fast-forward.
		return nil
	}
	if head.Name() != plumbing.NewBranchReferenceName(branch) {
		return nil
	}

	wt, err := s.repo.Worktree()
	if err != nil {
		if err == git.ErrIsBareRepository {
			return nil
		}
		return fmt.Errorf("open worktree: %w", err)
	}

	status, err := wt.Status()
	if err != nil {
		return fmt.Errorf("worktree status: %w", err)
	}
	if !status.IsClean() {
		return ferr.New(ferr.WorkdirDirty, branch)
	}

	if err := wt.Reset(&git.ResetOptions{Commit: targetCommit, Mode: git.HardReset}); err != nil {
		return fmt.Errorf("fast-forward worktree to %s: %w", targetCommit, err)
	}
	return nil
}

// CheckWorkdirClean fails with WorkdirDirty if branch is currently checked
// out and the working tree has uncommitted user changes. The turn executor
// calls this before a turn starts, surfacing the precondition to the user
// instead of discovering it at commit-sync time.
func (s *Store) CheckWorkdirClean(branch string) error {
	head, err := s.repo.Head()
	if err != nil {
		return nil
	}
	if head.Name() != plumbing.NewBranchReferenceName(branch) {
		return nil
	}

	wt, err := s.repo.Worktree()
	if err != nil {
		if err == git.ErrIsBareRepository {
			return nil
		}
		return fmt.Errorf("open worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return fmt.Errorf("worktree status: %w", err)
	}
	if !status.IsClean() {
		return ferr.New(ferr.WorkdirDirty, branch)
	}
	return nil
}
