package tool

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/FeepingCreature/forge/internal/ferr"
	"github.com/FeepingCreature/forge/internal/vfs"
)

// unifiedPreview renders a short diff summary between old and new content,
// attached to write_file/search_replace results so the agent (and any
// observer) can see what changed without re-reading the whole file.
func unifiedPreview(path, oldContent, newContent string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldContent, newContent, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	return fmt.Sprintf("%s:\n%s", path, dmp.DiffPrettyText(diffs))
}

// --- write_file ---

type writeFileArgs struct {
	Path    string `json:"path" jsonschema_description:"repository-relative path to write"`
	Content string `json:"content" jsonschema_description:"full new file content"`
}

type writeFileTool struct{}

func newWriteFile() Tool { return writeFileTool{} }

func (writeFileTool) Name() string        { return "write_file" }
func (writeFileTool) Description() string { return "Write the full contents of a file, creating or overwriting it." }
func (writeFileTool) ArgsExample() any     { return &writeFileArgs{} }
func (writeFileTool) Builtin() bool        { return true }

func (writeFileTool) Execute(fs vfs.VFS, raw json.RawMessage, tc *Context) (*Result, error) {
	var a writeFileArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, ferr.Wrap(ferr.BadArguments, "write_file", err)
	}
	old, _ := fs.Read(a.Path)
	if err := fs.Write(a.Path, []byte(a.Content)); err != nil {
		return nil, ferr.Wrap(ferr.ToolFailed, "write_file", err)
	}
	return &Result{
		Content:    unifiedPreview(a.Path, string(old), a.Content),
		Directives: []Directive{OpenFile{Path: a.Path}},
	}, nil
}

// --- delete_file ---

type deleteFileArgs struct {
	Path string `json:"path" jsonschema_description:"repository-relative path to delete"`
}

type deleteFileTool struct{}

func newDeleteFile() Tool { return deleteFileTool{} }

func (deleteFileTool) Name() string        { return "delete_file" }
func (deleteFileTool) Description() string { return "Delete a file." }
func (deleteFileTool) ArgsExample() any     { return &deleteFileArgs{} }
func (deleteFileTool) Builtin() bool        { return true }

func (deleteFileTool) Execute(fs vfs.VFS, raw json.RawMessage, tc *Context) (*Result, error) {
	var a deleteFileArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, ferr.Wrap(ferr.BadArguments, "delete_file", err)
	}
	if err := fs.Delete(a.Path); err != nil {
		return nil, ferr.Wrap(ferr.ToolFailed, "delete_file", err)
	}
	return &Result{Content: "deleted " + a.Path}, nil
}

// --- rename_file ---

type renameFileArgs struct {
	OldPath string `json:"old_path"`
	NewPath string `json:"new_path"`
}

type renameFileTool struct{}

func newRenameFile() Tool { return renameFileTool{} }

func (renameFileTool) Name() string        { return "rename_file" }
func (renameFileTool) Description() string { return "Rename or move a file, preserving its content." }
func (renameFileTool) ArgsExample() any     { return &renameFileArgs{} }
func (renameFileTool) Builtin() bool        { return true }

func (renameFileTool) Execute(fs vfs.VFS, raw json.RawMessage, tc *Context) (*Result, error) {
	var a renameFileArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, ferr.Wrap(ferr.BadArguments, "rename_file", err)
	}
	content, err := fs.Read(a.OldPath)
	if err != nil {
		return nil, err
	}
	if err := fs.Write(a.NewPath, content); err != nil {
		return nil, ferr.Wrap(ferr.ToolFailed, "rename_file", err)
	}
	if err := fs.Delete(a.OldPath); err != nil {
		return nil, ferr.Wrap(ferr.ToolFailed, "rename_file", err)
	}
	return &Result{
		Content:    fmt.Sprintf("renamed %s -> %s", a.OldPath, a.NewPath),
		Directives: []Directive{OpenFile{Path: a.NewPath}},
	}, nil
}

// --- search_replace ---

type searchReplaceArgs struct {
	Path    string `json:"path"`
	Find    string `json:"find"`
	Replace string `json:"replace"`
}

type searchReplaceTool struct{}

func newSearchReplace() Tool { return searchReplaceTool{} }

func (searchReplaceTool) Name() string { return "search_replace" }
func (searchReplaceTool) Description() string {
	return "Replace an exact (or whitespace-tolerant) unique substring match in a file."
}
func (searchReplaceTool) ArgsExample() any { return &searchReplaceArgs{} }
func (searchReplaceTool) Builtin() bool    { return true }

func (searchReplaceTool) Execute(fs vfs.VFS, raw json.RawMessage, tc *Context) (*Result, error) {
	var a searchReplaceArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, ferr.Wrap(ferr.BadArguments, "search_replace", err)
	}
	content, err := fs.Read(a.Path)
	if err != nil {
		return nil, err
	}
	original := string(content)

	count := strings.Count(original, a.Find)
	matched := a.Find
	if count == 0 {
		// Whitespace-tolerant fallback: collapse runs of whitespace before
		// comparing, then locate the matching span in the original text.
		count, matched = whitespaceTolerantFind(original, a.Find)
	}
	if count == 0 {
		return nil, ferr.New(ferr.ToolFailed, "search_replace: no match").WithData("reason", "NoMatch")
	}
	if count > 1 {
		return nil, ferr.New(ferr.ToolFailed, "search_replace: ambiguous match").WithData("reason", "AmbiguousMatch").WithData("count", count)
	}

	updated := strings.Replace(original, matched, a.Replace, 1)
	if err := fs.Write(a.Path, []byte(updated)); err != nil {
		return nil, ferr.Wrap(ferr.ToolFailed, "search_replace", err)
	}
	return &Result{
		Content:    unifiedPreview(a.Path, original, updated),
		Directives: []Directive{OpenFile{Path: a.Path}},
	}, nil
}

// whitespaceTolerantFind looks for find in content allowing differences in
// runs of whitespace, returning the match count and (when exactly one
// match is found) the literal substring of content that matched, so the
// caller can do an exact strings.Replace on it.
func whitespaceTolerantFind(content, find string) (int, string) {
	normalize := func(s string) string {
		return strings.Join(strings.Fields(s), " ")
	}
	target := normalize(find)
	if target == "" {
		return 0, ""
	}

	lines := strings.Split(content, "\n")
	findLineCount := strings.Count(find, "\n") + 1

	count := 0
	var matched string
	for i := 0; i+findLineCount <= len(lines); i++ {
		candidate := strings.Join(lines[i:i+findLineCount], "\n")
		if normalize(candidate) == target {
			count++
			matched = candidate
		}
	}
	return count, matched
}

// --- get_lines ---

type getLinesArgs struct {
	Path   string `json:"path"`
	Line   int    `json:"line"`
	Radius int    `json:"radius"`
}

type getLinesTool struct{}

func newGetLines() Tool { return getLinesTool{} }

func (getLinesTool) Name() string        { return "get_lines" }
func (getLinesTool) Description() string { return "Return a window of lines around a given line number." }
func (getLinesTool) ArgsExample() any     { return &getLinesArgs{} }
func (getLinesTool) Builtin() bool        { return true }

func (getLinesTool) Execute(fs vfs.VFS, raw json.RawMessage, tc *Context) (*Result, error) {
	var a getLinesArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, ferr.Wrap(ferr.BadArguments, "get_lines", err)
	}
	data, err := fs.Read(a.Path)
	if err != nil {
		return nil, err
	}
	isBinary, _ := fs.IsBinary(a.Path)
	if isBinary {
		return nil, ferr.New(ferr.Binary, a.Path)
	}
	lines := strings.Split(string(data), "\n")
	start := a.Line - a.Radius
	if start < 1 {
		start = 1
	}
	end := a.Line + a.Radius
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	for i := start; i <= end && i <= len(lines); i++ {
		fmt.Fprintf(&b, "%d: %s\n", i, lines[i-1])
	}
	return &Result{Content: b.String()}, nil
}
