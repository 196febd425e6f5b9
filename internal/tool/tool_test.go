package tool

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FeepingCreature/forge/internal/ferr"
	"github.com/FeepingCreature/forge/internal/gitstore"
	"github.com/FeepingCreature/forge/internal/vfs"
)

func newClaimedView(t *testing.T) *vfs.WorkingView {
	t.Helper()
	store, err := gitstore.OpenMemory()
	require.NoError(t, err)
	view, err := vfs.NewWorkingView(store, plumbing.ZeroHash)
	require.NoError(t, err)
	require.NoError(t, view.Claim())
	return view
}

func newTestContext() *Context {
	return &Context{Context: context.Background(), Turn: 1, ToolCallRef: "tc-1"}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestRegisterBuiltinsRegistersEveryName(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterBuiltins()
	want := []string{
		"check", "commit", "compact", "delete_file", "get_lines",
		"grep_context", "grep_open", "rename_file", "run_tests", "scout",
		"search_replace", "spawn_session", "think", "undo_edit",
		"update_context", "wait_session", "write_file",
	}
	assert.ElementsMatch(t, want, reg.Names())
}

func TestWriteFileThenReadBack(t *testing.T) {
	view := newClaimedView(t)
	tl := newWriteFile()
	_, err := tl.Execute(view, mustJSON(t, writeFileArgs{Path: "a.txt", Content: "hi\n"}), newTestContext())
	require.NoError(t, err)

	data, err := view.Read("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(data))
}

func TestSearchReplaceAmbiguousMatch(t *testing.T) {
	view := newClaimedView(t)
	require.NoError(t, view.Write("a.txt", []byte("foo\nfoo\n")))

	tl := newSearchReplace()
	_, err := tl.Execute(view, mustJSON(t, searchReplaceArgs{Path: "a.txt", Find: "foo", Replace: "bar"}), newTestContext())
	require.Error(t, err)
	assert.True(t, ferr.Is(err, ferr.ToolFailed))
	var fe *ferr.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "AmbiguousMatch", fe.Data["reason"])
	assert.Equal(t, 2, fe.Data["count"])
}

func TestSearchReplaceWhitespaceTolerant(t *testing.T) {
	view := newClaimedView(t)
	require.NoError(t, view.Write("a.txt", []byte("func f() {\n  return   1\n}\n")))

	tl := newSearchReplace()
	_, err := tl.Execute(view, mustJSON(t, searchReplaceArgs{Path: "a.txt", Find: "return 1", Replace: "return 2"}), newTestContext())
	require.NoError(t, err)

	data, _ := view.Read("a.txt")
	assert.Contains(t, string(data), "return 2")
}

func TestUndoEditRevertsOverlay(t *testing.T) {
	view := newClaimedView(t)
	require.NoError(t, view.Write("a.txt", []byte("committed\n")))
	_, err := view.Commit(gitstore.DefaultSignature(), "base", "main")
	require.NoError(t, err)

	require.NoError(t, view.Write("a.txt", []byte("uncommitted\n")))

	tl := newUndoEdit()
	_, err = tl.Execute(view, mustJSON(t, undoEditArgs{Path: "a.txt"}), newTestContext())
	require.NoError(t, err)

	data, err := view.Read("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "committed\n", string(data))
}

func TestUpdateContextEmitsOpenAndCloseDirectives(t *testing.T) {
	view := newClaimedView(t)
	tl := newUpdateContext()
	res, err := tl.Execute(view, mustJSON(t, updateContextArgs{Add: []string{"a.txt"}, Remove: []string{"b.txt"}}), newTestContext())
	require.NoError(t, err)
	require.Len(t, res.Directives, 2)
	assert.Equal(t, OpenFile{Path: "a.txt"}, res.Directives[0])
	assert.Equal(t, CloseFile{Path: "b.txt"}, res.Directives[1])
}

func TestCommitToolRequiresMessage(t *testing.T) {
	view := newClaimedView(t)
	tl := newCommitTool()
	_, err := tl.Execute(view, mustJSON(t, commitArgs{}), newTestContext())
	require.Error(t, err)
	assert.True(t, ferr.Is(err, ferr.BadArguments))
}

func TestCommitToolEmitsCommitNowDirective(t *testing.T) {
	view := newClaimedView(t)
	tl := newCommitTool()
	res, err := tl.Execute(view, mustJSON(t, commitArgs{Message: "checkpoint"}), newTestContext())
	require.NoError(t, err)
	require.Len(t, res.Directives, 1)
	assert.Equal(t, CommitNow{Message: "checkpoint"}, res.Directives[0])
}

func TestSpawnSessionGeneratesBranchWhenOmitted(t *testing.T) {
	view := newClaimedView(t)
	tl := newSpawnSession()
	res, err := tl.Execute(view, mustJSON(t, spawnSessionArgs{InitialMessage: "go"}), newTestContext())
	require.NoError(t, err)
	require.Len(t, res.Directives, 1)
	spawn, ok := res.Directives[0].(SpawnChild)
	require.True(t, ok)
	assert.NotEmpty(t, spawn.Branch)
	assert.Equal(t, "go", spawn.InitialMessage)
}

func TestWaitSessionRequiresBranches(t *testing.T) {
	view := newClaimedView(t)
	tl := newWaitSession()
	_, err := tl.Execute(view, mustJSON(t, waitSessionArgs{}), newTestContext())
	require.Error(t, err)
	assert.True(t, ferr.Is(err, ferr.BadArguments))
}

func TestThinkIsEphemeral(t *testing.T) {
	view := newClaimedView(t)
	tl := newThink()
	res, err := tl.Execute(view, mustJSON(t, thinkArgs{Thought: "scratch note"}), newTestContext())
	require.NoError(t, err)
	assert.Equal(t, "scratch note", res.Content)
	require.Len(t, res.Directives, 1)
	assert.Equal(t, EphemeralResult{Payload: "scratch note"}, res.Directives[0])
}

func TestScoutFiltersByPathPrefix(t *testing.T) {
	view := newClaimedView(t)
	require.NoError(t, view.Write("src/a.go", []byte("package a\n")))
	require.NoError(t, view.Write("docs/readme.md", []byte("# readme\n")))

	tl := newScout()
	res, err := tl.Execute(view, mustJSON(t, scoutArgs{Path: "src"}), newTestContext())
	require.NoError(t, err)
	assert.Contains(t, res.Content, "src/a.go")
	assert.NotContains(t, res.Content, "docs/readme.md")
}

func TestCheckFailsWithoutMaterialize(t *testing.T) {
	view := newClaimedView(t)
	tl := newCheck()
	_, err := tl.Execute(view, mustJSON(t, checkArgs{}), newTestContext())
	require.Error(t, err)
	assert.True(t, ferr.Is(err, ferr.ToolFailed))
}

func TestApprovalGateBypassedForBuiltins(t *testing.T) {
	ar, err := LoadApprovalRecord(t.TempDir() + "/approved.json")
	require.NoError(t, err)
	err = RequireApproval(ar, writeFileTool{}, nil)
	assert.NoError(t, err)
}

func TestApprovalGateRequiresHashMatchForUserTools(t *testing.T) {
	ar, err := LoadApprovalRecord(t.TempDir() + "/approved.json")
	require.NoError(t, err)
	fake := fakeUserTool{}

	err = RequireApproval(ar, fake, []byte("source v1"))
	require.Error(t, err)
	assert.True(t, ferr.Is(err, ferr.ApprovalRequired))

	require.NoError(t, ar.Approve(fake.Name(), []byte("source v1")))
	assert.NoError(t, RequireApproval(ar, fake, []byte("source v1")))

	err = RequireApproval(ar, fake, []byte("source v2"))
	assert.True(t, ferr.Is(err, ferr.ApprovalRequired))
}

type fakeUserTool struct{}

func (fakeUserTool) Name() string        { return "custom_tool" }
func (fakeUserTool) Description() string { return "a user tool" }
func (fakeUserTool) ArgsExample() any     { return &struct{}{} }
func (fakeUserTool) Builtin() bool        { return false }
func (fakeUserTool) Execute(fs vfs.VFS, raw json.RawMessage, tc *Context) (*Result, error) {
	return &Result{Content: "ok"}, nil
}
