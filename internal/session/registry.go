package session

import (
	"log"
	"sync"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"golang.org/x/sync/errgroup"

	"github.com/FeepingCreature/forge/internal/ferr"
	"github.com/FeepingCreature/forge/internal/gitstore"
	"github.com/FeepingCreature/forge/internal/vfs"
)

// Registry holds every loaded LiveSession, keyed by branch: a
// mutex-guarded map where loading a session means reading its record from
// the branch tip, never allocating fresh state.
type Registry struct {
	store *gitstore.Store

	mu       sync.Mutex
	sessions map[string]*LiveSession
}

// NewRegistry creates an empty registry over store.
func NewRegistry(store *gitstore.Store) *Registry {
	return &Registry{store: store, sessions: make(map[string]*LiveSession)}
}

// Get returns the loaded session for branch, if any.
func (r *Registry) Get(branch string) (*LiveSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ls, ok := r.sessions[branch]
	return ls, ok
}

// Load brings branch into memory, reading its session record from the
// branch tip. Loading an already-loaded branch is a no-op returning the
// existing LiveSession.
func (r *Registry) Load(branch string) (*LiveSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ls, ok := r.sessions[branch]; ok {
		return ls, nil
	}

	tip := r.store.BranchTip(branch)
	if tip == plumbing.ZeroHash {
		return nil, ferr.New(ferr.NotFound, "branch "+branch)
	}
	view, err := vfs.NewWorkingView(r.store, tip)
	if err != nil {
		return nil, err
	}
	record, err := LoadRecord(view, branch)
	if err != nil {
		return nil, err
	}

	ls := newLiveSession(branch, view, record)
	r.sessions[branch] = ls
	return ls, nil
}

// Unload removes branch from memory. This is only legal
// when the session's state is IDLE, COMPLETED, or ERROR and no observer is
// attached; violating either invariant fails with IllegalTransition rather
// than silently refusing, so a caller's bug surfaces immediately.
func (r *Registry) Unload(branch string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ls, ok := r.sessions[branch]
	if !ok {
		return nil
	}
	switch st := ls.State(); st {
	case Idle, Completed, Error:
	default:
		return ferr.New(ferr.IllegalTransition, branch+": cannot unload while "+string(st))
	}
	if ls.Bus.Count() > 0 {
		return ferr.New(ferr.IllegalTransition, branch+": observer still attached")
	}
	delete(r.sessions, branch)
	return nil
}

// branchState resolves a branch's current state without requiring it to
// be loaded: a loaded session's in-memory state is authoritative (it may
// be ahead of the last persisted commit); otherwise the persisted record
// at the branch tip is read directly.
func (r *Registry) branchState(branch string) (State, error) {
	if ls, ok := r.Get(branch); ok {
		return ls.State(), nil
	}
	tip := r.store.BranchTip(branch)
	if tip == plumbing.ZeroHash {
		return "", ferr.New(ferr.NotFound, "branch "+branch)
	}
	view, err := vfs.NewWorkingView(r.store, tip)
	if err != nil {
		return "", err
	}
	record, err := LoadRecord(view, branch)
	if err != nil {
		return "", err
	}
	return record.State, nil
}

// NotifyChildCompleted drives the child-completion protocol: it
// resolves childBranch's parent, and if the parent is WAITING_CHILDREN with
// every awaited branch now terminal, transitions the parent back to
// RUNNING so its turn executor resumes. Per the invariant that a
// WAITING_CHILDREN/RUNNING session must always be loaded, a parent that
// isn't found loaded is treated as an invariant violation, not a silent
// no-op — it means the registry's own bookkeeping has drifted.
func (r *Registry) NotifyChildCompleted(childBranch string) error {
	child, ok := r.Get(childBranch)
	var parentBranch string
	if ok {
		parentBranch = child.ParentBranch()
	} else {
		tip := r.store.BranchTip(childBranch)
		if tip == plumbing.ZeroHash {
			return ferr.New(ferr.NotFound, "branch "+childBranch)
		}
		view, err := vfs.NewWorkingView(r.store, tip)
		if err != nil {
			return err
		}
		record, err := LoadRecord(view, childBranch)
		if err != nil {
			return err
		}
		parentBranch = record.ParentBranch
	}
	if parentBranch == "" {
		return nil
	}

	parent, ok := r.Get(parentBranch)
	if !ok {
		return ferr.New(ferr.IllegalTransition, parentBranch+": parent of waiting/running child not loaded")
	}
	_, err := r.ResumeIfChildrenDone(parent)
	return err
}

// ResumeIfChildrenDone transitions a WAITING_CHILDREN session back to
// RUNNING if every awaited branch is already terminal, reporting whether
// it resumed. The turn executor calls this right after entering the wait,
// closing the race where a child completed (and its notify ran) before the
// parent's state transition; NotifyChildCompleted shares the same check.
func (r *Registry) ResumeIfChildrenDone(ls *LiveSession) (bool, error) {
	if ls.State() != WaitingChildren {
		return false, nil
	}

	// Awaited children live on independent branches with no ordering
	// relationship between them, so their states are read concurrently;
	// errgroup fans the reads out and carries the first error back.
	waiting := ls.WaitingOn()
	states := make([]State, len(waiting))
	g := new(errgroup.Group)
	for i, b := range waiting {
		i, b := i, b
		g.Go(func() error {
			st, err := r.branchState(b)
			if err != nil {
				return err
			}
			states[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}
	for _, st := range states {
		if !st.Terminal() {
			return false, nil
		}
	}

	ls.SetState(Running)
	log.Printf("session %s: all awaited children terminal, resuming", ls.Branch)
	return true, nil
}

// StartupScan is the crash-recovery pass over every known
// branch: WAITING_CHILDREN sessions (and their children) are loaded back
// into memory; RUNNING sessions are reset to IDLE via a committed fixup
// (no auto-resume); everything else is left SUSPENDED (absent from the
// registry until a caller explicitly Loads it).
func (r *Registry) StartupScan(branches []string, author object.Signature) error {
	for _, branch := range branches {
		st, err := r.branchState(branch)
		if err != nil {
			if ferr.Is(err, ferr.NotFound) {
				continue
			}
			return err
		}
		switch st {
		case WaitingChildren:
			ls, err := r.Load(branch)
			if err != nil {
				return err
			}
			children := ls.Snapshot().ChildBranches
			g := new(errgroup.Group)
			for _, child := range children {
				child := child
				g.Go(func() error {
					if _, err := r.Load(child); err != nil {
						log.Printf("session %s: failed to load child %s on startup: %v", branch, child, err)
					}
					return nil
				})
			}
			g.Wait()
		case Running:
			if err := r.resetRunningToIdle(branch, author); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Registry) resetRunningToIdle(branch string, author object.Signature) error {
	tip := r.store.BranchTip(branch)
	view, err := vfs.NewWorkingView(r.store, tip)
	if err != nil {
		return err
	}
	if err := view.Claim(); err != nil {
		return err
	}
	defer view.Release()

	record, err := LoadRecord(view, branch)
	if err != nil {
		return err
	}
	record.State = Idle
	if err := SaveRecord(view, record); err != nil {
		return err
	}
	_, err = view.Commit(author, "session: crash recovery reset to idle", branch)
	return err
}
