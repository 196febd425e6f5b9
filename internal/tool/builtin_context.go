package tool

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/FeepingCreature/forge/internal/ferr"
	"github.com/FeepingCreature/forge/internal/vfs"
)

// CloseFile removes a path from the session's active files. It complements
// OpenFile for the update_context built-in, which takes both add[] and
// remove[] path lists.
type CloseFile struct{ Path string }

func (CloseFile) directive() {}

// resettable is implemented by vfs.WorkingView; undo_edit needs it to
// revert a path to its base-commit content without a dedicated VFS method
// on the narrow interface.
type resettable interface {
	ResetPath(path string) error
}

// --- update_context ---

type updateContextArgs struct {
	Add    []string `json:"add"`
	Remove []string `json:"remove"`
}

type updateContextTool struct{}

func newUpdateContext() Tool { return updateContextTool{} }

func (updateContextTool) Name() string        { return "update_context" }
func (updateContextTool) Description() string { return "Add or remove paths from the active-files context." }
func (updateContextTool) ArgsExample() any     { return &updateContextArgs{} }
func (updateContextTool) Builtin() bool        { return true }

func (updateContextTool) Execute(fs vfs.VFS, raw json.RawMessage, tc *Context) (*Result, error) {
	var a updateContextArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, ferr.Wrap(ferr.BadArguments, "update_context", err)
	}
	var directives []Directive
	for _, p := range a.Add {
		directives = append(directives, OpenFile{Path: p})
	}
	for _, p := range a.Remove {
		directives = append(directives, CloseFile{Path: p})
	}
	return &Result{Content: fmt.Sprintf("added %d, removed %d", len(a.Add), len(a.Remove)), Directives: directives}, nil
}

// --- grep_open ---

type grepOpenArgs struct {
	Pattern string `json:"pattern"`
}

type grepOpenTool struct{}

func newGrepOpen() Tool { return grepOpenTool{} }

func (grepOpenTool) Name() string        { return "grep_open" }
func (grepOpenTool) Description() string { return "Search all files for a pattern and add matching files to context." }
func (grepOpenTool) ArgsExample() any     { return &grepOpenArgs{} }
func (grepOpenTool) Builtin() bool        { return true }

func (grepOpenTool) Execute(fs vfs.VFS, raw json.RawMessage, tc *Context) (*Result, error) {
	var a grepOpenArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, ferr.Wrap(ferr.BadArguments, "grep_open", err)
	}
	re, err := regexp.Compile(a.Pattern)
	if err != nil {
		return nil, ferr.Wrap(ferr.BadArguments, "grep_open: bad pattern", err)
	}

	paths, err := fs.List()
	if err != nil {
		return nil, err
	}

	var matches []string
	var directives []Directive
	for _, p := range paths {
		if isBinary, _ := fs.IsBinary(p); isBinary {
			continue
		}
		data, err := fs.Read(p)
		if err != nil {
			continue
		}
		if re.Match(data) {
			matches = append(matches, p)
			directives = append(directives, OpenFile{Path: p})
		}
	}
	return &Result{Content: strings.Join(matches, "\n"), Directives: directives}, nil
}

// --- grep_context ---

type grepContextArgs struct {
	Pattern string `json:"pattern"`
	Before  int    `json:"before"`
	After   int    `json:"after"`
}

type grepContextTool struct{}

func newGrepContext() Tool { return grepContextTool{} }

func (grepContextTool) Name() string { return "grep_context" }
func (grepContextTool) Description() string {
	return "Search all files for a pattern and return matching lines with surrounding context, without adding files to persistent context."
}
func (grepContextTool) ArgsExample() any { return &grepContextArgs{} }
func (grepContextTool) Builtin() bool    { return true }

func (grepContextTool) Execute(fs vfs.VFS, raw json.RawMessage, tc *Context) (*Result, error) {
	var a grepContextArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, ferr.Wrap(ferr.BadArguments, "grep_context", err)
	}
	re, err := regexp.Compile(a.Pattern)
	if err != nil {
		return nil, ferr.Wrap(ferr.BadArguments, "grep_context: bad pattern", err)
	}

	paths, err := fs.List()
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	for _, p := range paths {
		if isBinary, _ := fs.IsBinary(p); isBinary {
			continue
		}
		data, err := fs.Read(p)
		if err != nil {
			continue
		}
		lines := strings.Split(string(data), "\n")
		for i, line := range lines {
			if !re.MatchString(line) {
				continue
			}
			start := i - a.Before
			if start < 0 {
				start = 0
			}
			end := i + a.After
			if end >= len(lines) {
				end = len(lines) - 1
			}
			fmt.Fprintf(&b, "%s:%d:\n", p, i+1)
			for j := start; j <= end; j++ {
				fmt.Fprintf(&b, "  %d: %s\n", j+1, lines[j])
			}
		}
	}

	return &Result{
		Content:    b.String(),
		Directives: []Directive{EphemeralResult{Payload: b.String()}},
	}, nil
}

// --- undo_edit ---

type undoEditArgs struct {
	Path string `json:"path"`
}

type undoEditTool struct{}

func newUndoEdit() Tool { return undoEditTool{} }

func (undoEditTool) Name() string        { return "undo_edit" }
func (undoEditTool) Description() string { return "Discard this turn's pending edit to a file, reverting to its committed content." }
func (undoEditTool) ArgsExample() any     { return &undoEditArgs{} }
func (undoEditTool) Builtin() bool        { return true }

func (undoEditTool) Execute(fs vfs.VFS, raw json.RawMessage, tc *Context) (*Result, error) {
	var a undoEditArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, ferr.Wrap(ferr.BadArguments, "undo_edit", err)
	}
	r, ok := fs.(resettable)
	if !ok {
		return nil, ferr.New(ferr.ToolFailed, "undo_edit: not a writable view")
	}
	if err := r.ResetPath(a.Path); err != nil {
		return nil, err
	}
	return &Result{Content: "reverted " + a.Path}, nil
}
