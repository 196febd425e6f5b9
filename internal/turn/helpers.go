package turn

import (
	"encoding/json"
	"strings"

	"github.com/FeepingCreature/forge/internal/modelstream"
	"github.com/FeepingCreature/forge/internal/prompt"
	"github.com/FeepingCreature/forge/internal/session"
	"github.com/FeepingCreature/forge/internal/tool"
)

// syncPromptFromSession seeds a freshly built prompt.Stream from the
// session's persisted state (on first Run, or right after a compact), so
// resuming a turn on an already-loaded session doesn't lose its history.
// A no-op once the stream already holds blocks, since AppendMessage/
// AppendFileContent keep it current from then on.
func (e *Executor) syncPromptFromSession() {
	if e.Prompt.Len() > 0 {
		return
	}
	e.Prompt.SetSystem(systemPreamble)
	e.addSummaryRegion()
	for _, path := range e.Session.ActiveFiles() {
		e.Prompt.AppendFileContent(path, "base", e.readForPrompt(path))
	}
	for i, m := range e.Session.Snapshot().Messages {
		e.pushMessageBlock(i, m)
	}
}

// addSummaryRegion fills the prompt stream's summary region from the
// summary cache: one block per file outside the active set (active files
// appear in full instead), keyed to the view's current base commit.
func (e *Executor) addSummaryRegion() {
	if e.Summaries == nil {
		return
	}
	paths, err := e.Session.View.List()
	if err != nil {
		return
	}
	active := pathSet(e.Session.ActiveFiles())
	base := e.Session.View.Base().String()
	for _, p := range paths {
		if active[p] || strings.HasPrefix(p, ".forge/") {
			continue
		}
		if text, ok := e.Summaries.Get(base, p); ok {
			e.Prompt.AddSummary(p, text)
		}
	}
}

// pushMessageBlock stores one session message as a JSON-encoded prompt
// block, so renderMessages can decode it back into a full
// modelstream.Message (role, tool calls, tool_call_id) without needing a
// second parallel representation.
func (e *Executor) pushMessageBlock(idx int, m session.Message) {
	data, _ := json.Marshal(m)
	e.Prompt.AppendMessage(idx, string(data))
}

// recordMessage appends m to both the session's persisted conversation and
// the prompt stream, keeping the two in lockstep.
func (e *Executor) recordMessage(m session.Message) {
	idx := len(e.Session.Snapshot().Messages)
	e.Session.AppendMessage(m)
	e.pushMessageBlock(idx, m)
}

// renderMessages flattens a prompt.Stream into the ordered message list a
// modelstream.Client sends. System/summary blocks become system messages;
// file blocks become user-role context; message blocks decode back into
// their original role and tool-call shape.
func renderMessages(stream *prompt.Stream) []modelstream.Message {
	blocks := stream.Render()
	out := make([]modelstream.Message, 0, len(blocks))
	for _, b := range blocks {
		switch b.Tag {
		case prompt.TagSystem, prompt.TagSummary:
			out = append(out, modelstream.Message{Role: "system", Content: b.Content})
		case prompt.TagFile:
			out = append(out, modelstream.Message{Role: "user", Content: b.Content})
		case prompt.TagEphemeral:
			out = append(out, modelstream.Message{Role: "tool", Content: b.Content})
		default:
			var m session.Message
			if err := json.Unmarshal([]byte(b.Content), &m); err != nil {
				out = append(out, modelstream.Message{Role: "user", Content: b.Content})
				continue
			}
			out = append(out, modelstream.Message{
				Role:       m.Role,
				Content:    m.Content,
				ToolCalls:  toStreamCalls(m.ToolCalls),
				ToolCallID: m.ToolCallID,
			})
		}
	}
	return out
}

func toStreamCalls(calls []session.ToolCall) []modelstream.ToolCall {
	out := make([]modelstream.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = modelstream.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}
	return out
}

// toRecordCalls converts the executor's internal toolCall shape into the
// session record's persisted ToolCall shape, for the assistant message
// that triggered them.
func toRecordCalls(calls []toolCall) []session.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]session.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = session.ToolCall{ID: c.ID, Name: c.Name, Arguments: string(c.Arguments)}
	}
	return out
}

// convertSchemas renders the tool registry's reflected JSON schemas into
// the opaque byte form modelstream.ToolSchema carries.
func convertSchemas(schemas []tool.Schema) ([]modelstream.ToolSchema, error) {
	out := make([]modelstream.ToolSchema, len(schemas))
	for i, s := range schemas {
		data, err := json.Marshal(s.Parameters)
		if err != nil {
			return nil, err
		}
		out[i] = modelstream.ToolSchema{Name: s.Name, Description: s.Description, Parameters: data}
	}
	return out, nil
}
