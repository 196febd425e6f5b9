package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/FeepingCreature/forge/internal/config"
	"github.com/FeepingCreature/forge/internal/events"
	"github.com/FeepingCreature/forge/internal/ferr"
	"github.com/FeepingCreature/forge/internal/gitstore"
	"github.com/FeepingCreature/forge/internal/modelstream"
	"github.com/FeepingCreature/forge/internal/prompt"
	"github.com/FeepingCreature/forge/internal/session"
	"github.com/FeepingCreature/forge/internal/summary"
	"github.com/FeepingCreature/forge/internal/tool"
	"github.com/FeepingCreature/forge/internal/vfs"
)

// systemPreamble is the fixed system block every turn's prompt stream
// opens with.
const systemPreamble = "You drive one agent turn: stream assistant text, dispatch any tool calls against the claimed working view in document order, and finalise with a single atomic commit."

// Spawner schedules a freshly forked child session to actually run its own
// turn loop. The executor only creates the child's branch and session
// record; who runs it (a worker pool, an inline recursive call) is the
// caller's concern, kept out of this package the same way tool.Context
// keeps tools from depending on the live session concretely.
type Spawner interface {
	Spawn(branch, initialMessage, parentBranch string) error
}

// Executor drives a single LiveSession's turn loop to completion or
// suspension.
type Executor struct {
	Session   *session.LiveSession
	Registry  *session.Registry
	Tools     *tool.Registry
	Approvals *tool.ApprovalRecord
	Sources   tool.SourceLookup
	Model     modelstream.Client
	Prompt    *prompt.Stream
	Store     *gitstore.Store
	Spawner   Spawner
	Config    *config.Config
	Author    object.Signature
	// Summaries, when set, supplies the prompt stream's summary region for
	// files outside the active set.
	Summaries *summary.Cache

	// ephemerals tracks ephemeral tool-result blocks appended during the
	// current turn; each is replaced by a placeholder at the start of the
	// next turn.
	ephemerals []ephemeralRef
}

type ephemeralRef struct {
	turn int
	ref  string
}

func (e *Executor) publish(kind events.Kind, data map[string]any) {
	e.Session.Bus.Publish(events.Event{Kind: kind, Branch: e.Session.Branch, Data: data})
}

// toolCall is the executor's internal, unified shape for both a
// structured model tool call and a parsed inline command.
type toolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Run drives the turn state machine:
//
//	IDLE → STREAMING → [TOOLCALLS? → EXECUTING → STREAMING]* → FINALISING → IDLE|COMPLETED|ERROR
//
// A WaitChildren directive mid-turn suspends into WAITING_CHILDREN instead
// of reaching FINALISING; the caller resumes by calling Run again once the
// registry's NotifyChildCompleted transitions the session back to Running.
func (e *Executor) Run(ctx context.Context) error {
	if err := e.Store.CheckWorkdirClean(e.Session.Branch); err != nil {
		return err
	}

	for _, eph := range e.ephemerals {
		e.Prompt.ReplaceEphemeral(eph.turn, eph.ref, "[ephemeral tool result elided]")
	}
	e.ephemerals = e.ephemerals[:0]

	e.syncPromptFromSession()
	for _, m := range e.Session.DrainPending() {
		e.recordMessage(m)
	}
	e.Session.SetState(session.Running)

	retries := 0
	turn := 0
	for {
		if err := ctx.Err(); err != nil {
			return e.suspendCancelledStreaming("")
		}

		messages := renderMessages(e.Prompt)
		schemas, err := convertSchemas(e.Tools.Schemas())
		if err != nil {
			e.Session.SetState(session.Error)
			return err
		}

		stream, sendErr := e.Model.Send(ctx, messages, schemas, modelstream.Options{})
		if sendErr != nil {
			retried, failErr := e.handleModelError(sendErr, &retries)
			if failErr != nil {
				return failErr
			}
			if retried {
				continue
			}
		}

		text, calls, cancelled, readErr := e.readStream(ctx, stream)
		if cancelled {
			return e.suspendCancelledStreaming(text)
		}
		if readErr != nil {
			retried, failErr := e.handleModelError(readErr, &retries)
			if failErr != nil {
				return failErr
			}
			if retried {
				continue
			}
		}

		for _, inline := range ParseInlineCommands(text) {
			calls = append(calls, toolCall{
				ID:        fmt.Sprintf("inline-%d-%d", turn, len(calls)),
				Name:      inline.Tool,
				Arguments: inline.JSON(),
			})
		}

		e.recordMessage(session.Message{
			Role:      "assistant",
			Content:   text,
			ToolCalls: toRecordCalls(calls),
		})

		if len(calls) == 0 {
			return e.finalize()
		}

		suspended, err := e.dispatchAll(ctx, turn, calls)
		if err != nil {
			return err
		}
		if suspended {
			return nil
		}
		turn++
	}
}

// handleModelError bounds stream retries: non-retriable kinds fail the
// turn immediately; otherwise a synthetic note is injected and the stream
// reopened, up to Config.MaxModelRetries attempts.
func (e *Executor) handleModelError(err error, retries *int) (retried bool, failErr error) {
	kind := ferr.KindOf(err)
	if !ferr.Retriable(kind) {
		e.Session.SetState(session.Error)
		e.publish(events.Error, map[string]any{"kind": string(kind), "detail": err.Error()})
		return false, err
	}
	*retries++
	if *retries > e.Config.MaxModelRetries {
		e.Session.SetState(session.Error)
		e.publish(events.Error, map[string]any{"kind": string(ferr.ModelUnavailable), "detail": "retry budget exhausted"})
		return false, ferr.Wrap(ferr.ModelUnavailable, "retry budget exhausted", err)
	}
	e.recordMessage(session.Message{
		Role:    "user",
		Content: fmt.Sprintf("[transient error, retry %d/%d: %s]", *retries, e.Config.MaxModelRetries, err),
	})
	return true, nil
}

// pendingCall accumulates one structured tool call's argument fragments as
// they stream in.
type pendingCall struct {
	name string
	args strings.Builder
}

// readStream pulls events off stream until Stop, ctx cancellation, or a
// transport error, assembling the accumulated assistant text and any
// structured tool calls in the document order the model emitted them.
func (e *Executor) readStream(ctx context.Context, stream modelstream.Stream) (text string, calls []toolCall, cancelled bool, err error) {
	var textBuf strings.Builder
	order := make([]string, 0, 4)
	pending := make(map[string]*pendingCall)

	for {
		if ctx.Err() != nil {
			stream.Cancel()
			return textBuf.String(), nil, true, nil
		}
		ev, nerr := stream.Next(ctx)
		if nerr != nil {
			return textBuf.String(), nil, false, nerr
		}
		switch ev.Kind {
		case modelstream.DeltaText:
			textBuf.WriteString(ev.Text)
		case modelstream.ToolCallStart:
			pending[ev.ID] = &pendingCall{name: ev.Name}
			order = append(order, ev.ID)
		case modelstream.ToolCallArg:
			if p, ok := pending[ev.ID]; ok {
				p.args.WriteString(ev.ArgChunk)
			}
		case modelstream.Stop:
			for _, id := range order {
				p := pending[id]
				calls = append(calls, toolCall{ID: id, Name: p.name, Arguments: json.RawMessage(p.args.String())})
			}
			return textBuf.String(), calls, false, nil
		}
	}
}

// dispatchAll executes calls one at a time against the claimed working
// view, never in parallel: tools share the view, and their ordering is
// observable in the resulting commit. It returns suspended=true if a
// WaitChildren directive parked the session in WAITING_CHILDREN, or if a
// tool requires approval.
func (e *Executor) dispatchAll(ctx context.Context, turnIdx int, calls []toolCall) (suspended bool, err error) {
	view := e.Session.View

	for _, call := range calls {
		e.publish(events.ToolCallStarted, map[string]any{"tool": call.Name, "id": call.ID})

		if err := view.Claim(); err != nil {
			e.Session.SetState(session.Error)
			return false, err
		}
		toolCtx, cancelTool := context.WithTimeout(ctx, e.Config.ToolTimeout)
		tc := &tool.Context{
			Context:     toolCtx,
			Turn:        turnIdx,
			ToolCallRef: call.ID,
			Materialize: view.MaterializeToTempdir,
		}
		result, derr := tool.Dispatch(e.Tools, e.Approvals, e.Sources, call.Name, view, call.Arguments, tc)
		cancelTool()
		view.Release()

		if ctx.Err() != nil {
			e.discardOverlay()
			return false, e.suspendCancelledTool()
		}

		content, directives, needsApproval := classifyResult(result, derr)
		e.recordMessage(session.Message{Role: "tool", Content: content, ToolCallID: call.ID})
		e.publish(events.ToolCallResult, map[string]any{"tool": call.Name, "id": call.ID, "failed": derr != nil})

		if needsApproval {
			var fe *ferr.Error
			data := map[string]any{"tool": call.Name}
			if errors.As(derr, &fe) {
				data["hash"] = fe.Data["hash"]
			}
			e.publish(events.ApprovalRequired, data)
			e.Session.SetState(session.WaitingInput)
			return true, nil
		}

		waitBranches, spawn, commitMsg := e.applyDirectives(turnIdx, call.ID, directives)

		if spawn != nil {
			if err := e.spawnChild(*spawn); err != nil {
				return false, err
			}
		}
		if commitMsg != "" {
			if _, err := e.commit(commitMsg); err != nil {
				return false, err
			}
		}
		if waitBranches != nil {
			e.Session.WaitOn(waitBranches)
			if _, err := e.commit("session: waiting on children"); err != nil {
				return false, err
			}
			// A child may have reached a terminal state (and its notify
			// run) before the transition above; re-check so the wait
			// resolves immediately instead of blocking forever.
			if e.Registry != nil {
				resumed, err := e.Registry.ResumeIfChildrenDone(e.Session)
				if err != nil {
					return false, err
				}
				if resumed {
					continue
				}
			}
			return true, nil
		}
	}
	return false, nil
}

// classifyResult turns a tool.Dispatch outcome into the tool-result message
// content, the directives to apply, and whether the call is blocked on
// approval. Tool-level errors become tool-result content the agent can
// self-correct from rather than aborting the turn; ApprovalRequired is the
// one kind that suspends instead.
func classifyResult(result *tool.Result, err error) (content string, directives []tool.Directive, needsApproval bool) {
	if err != nil {
		if ferr.Is(err, ferr.ApprovalRequired) {
			return err.Error(), nil, true
		}
		return err.Error(), nil, false
	}
	return result.Content, result.Directives, false
}

// applyDirectives folds a tool result's directives into session state and
// the prompt stream, and pulls out the three directives that need
// executor-level handling (spawn, explicit commit, wait).
func (e *Executor) applyDirectives(turnIdx int, callRef string, directives []tool.Directive) (waitBranches []string, spawn *tool.SpawnChild, commitMsg string) {
	for _, d := range directives {
		switch v := d.(type) {
		case tool.OpenFile:
			e.Session.OpenFile(v.Path)
			e.Prompt.AppendFileContent(v.Path, "overlay", e.readForPrompt(v.Path))
		case tool.CloseFile:
			e.Session.CloseFile(v.Path)
		case tool.EphemeralResult:
			e.Prompt.AppendEphemeralResult(turnIdx, callRef, v.Payload)
			e.ephemerals = append(e.ephemerals, ephemeralRef{turn: turnIdx, ref: callRef})
		case tool.CommitNow:
			commitMsg = v.Message
		case tool.SpawnChild:
			cp := v
			spawn = &cp
		case tool.WaitChildren:
			waitBranches = v.Branches
		case tool.CompactContext:
			e.Session.Compact(v.Summary)
			e.Prompt = prompt.New()
			e.syncPromptFromSession()
		}
	}
	return
}

func pathSet(paths []string) map[string]bool {
	out := make(map[string]bool, len(paths))
	for _, p := range paths {
		out[p] = true
	}
	return out
}

// spawnChild forks a child branch (pure ref creation, no object copy),
// seeds its session record, and hands scheduling off to Spawner.
func (e *Executor) spawnChild(sp tool.SpawnChild) error {
	if err := e.Store.ForkBranch(sp.Branch, e.Session.View.Base()); err != nil {
		return err
	}

	view, err := vfs.NewWorkingView(e.Store, e.Store.BranchTip(sp.Branch))
	if err != nil {
		return err
	}
	if err := view.Claim(); err != nil {
		return err
	}
	defer view.Release()

	rec := session.NewRecord(sp.Branch, e.Session.Branch)
	// The child is queued for its own turn, not idle: seeding it RUNNING
	// keeps a wait_session in the same parent turn from treating it as
	// already finished. Crash recovery resets any stale RUNNING record.
	rec.State = session.Running
	if sp.InitialMessage != "" {
		rec.Messages = []session.Message{{Role: "user", Content: sp.InitialMessage}}
	}
	if err := session.SaveRecord(view, rec); err != nil {
		return err
	}
	if _, err := view.Commit(e.Author, "session: spawn "+sp.Branch, sp.Branch); err != nil {
		return err
	}

	e.Session.AddChild(sp.Branch)
	if e.Registry != nil {
		if _, err := e.Registry.Load(sp.Branch); err != nil {
			return err
		}
	}

	if e.Spawner == nil {
		return nil
	}
	return e.Spawner.Spawn(sp.Branch, sp.InitialMessage, e.Session.Branch)
}

// commit persists the current session record alongside the working view's
// overlay in one atomic commit.
func (e *Executor) commit(message string) (plumbing.Hash, error) {
	view := e.Session.View
	if err := view.Claim(); err != nil {
		return plumbing.ZeroHash, err
	}
	defer view.Release()

	rec := e.Session.Snapshot()
	if err := session.SaveRecord(view, rec); err != nil {
		return plumbing.ZeroHash, err
	}
	hash, err := view.Commit(e.Author, message, e.Session.Branch)
	if err != nil {
		if ferr.Is(err, ferr.MergeConflict) {
			e.Session.SetState(session.Error)
			e.publish(events.Error, map[string]any{"kind": string(ferr.MergeConflict), "detail": err.Error()})
		}
		return plumbing.ZeroHash, err
	}

	if e.Config.DataRoot != "" {
		if rerr := e.Store.RecordReflog(e.Config.DataRoot, e.Session.Branch, hash, message); rerr != nil {
			log.Printf("turn %s: reflog append failed: %v", e.Session.Branch, rerr)
		}
	}
	if serr := e.Store.WorkingTreeSync(e.Session.Branch, hash); serr != nil {
		// The user dirtied the checked-out tree mid-turn; the commit itself
		// stands, only the fast-forward is skipped.
		log.Printf("turn %s: working tree sync skipped: %v", e.Session.Branch, serr)
	}
	return hash, nil
}

// finalize closes the turn once the assistant stops with no pending tool
// calls. Only a non-empty overlay
// produces a commit; an idle turn (pure conversation, no file edits) never
// touches the branch.
func (e *Executor) finalize() error {
	touched := e.Session.View.TouchedPaths()
	commitRef := plumbing.ZeroHash
	if len(touched) > 0 {
		hash, err := e.commit(commitMessage(touched))
		if err != nil {
			return err
		}
		commitRef = hash
	}
	if e.Session.State() != session.WaitingChildren && e.Session.State() != session.WaitingInput {
		e.Session.SetState(session.Idle)
	}
	e.publish(events.TurnFinished, map[string]any{"commit": commitRef.String()})
	return nil
}

// commitMessage derives a local message from the touched paths. No
// auxiliary summarisation model is wired, so agent turns use the same
// heuristic as manual saves rather than a model-generated message.
func commitMessage(paths []string) string {
	switch len(paths) {
	case 1:
		return "edit: " + paths[0]
	default:
		return fmt.Sprintf("edit: %d files", len(paths))
	}
}

// discardOverlay drops every pending overlay entry so nothing accumulated
// this turn can leak into a later commit. The view persists across turns
// on the live session, so cancellation must empty it, not just unwind the
// in-flight call.
func (e *Executor) discardOverlay() {
	view := e.Session.View
	if err := view.Claim(); err != nil {
		log.Printf("turn %s: discard overlay: %v", e.Session.Branch, err)
		return
	}
	defer view.Release()
	if err := view.DiscardOverlay(); err != nil {
		log.Printf("turn %s: discard overlay: %v", e.Session.Branch, err)
	}
}

// suspendCancelledStreaming handles a cancel observed while streaming:
// partial text is persisted as a cancelled assistant message, a
// synthetic user note is appended, the pending overlay is dropped, and the
// session returns to IDLE without a commit.
func (e *Executor) suspendCancelledStreaming(partial string) error {
	e.discardOverlay()
	e.recordMessage(session.Message{Role: "assistant", Content: partial, Cancelled: true})
	e.recordMessage(session.Message{Role: "user", Content: "[turn cancelled]"})
	e.Session.SetState(session.Idle)
	return ferr.New(ferr.Cancelled, "cancelled during streaming")
}

// suspendCancelledTool implements the cancel-during-tool-execution case:
// the caller has already discarded the pending overlay; the session
// returns to IDLE without a commit.
func (e *Executor) suspendCancelledTool() error {
	e.Session.SetState(session.Idle)
	return ferr.New(ferr.Cancelled, "cancelled during tool execution")
}

func (e *Executor) readForPrompt(path string) string {
	data, err := e.Session.View.Read(path)
	if err != nil {
		return ""
	}
	return string(data)
}
