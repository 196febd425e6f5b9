// Package modelstream defines the model streaming interface the turn
// executor consumes: send a
// conversation plus tool schemas, then pull delta events off the returned
// stream until it reports stop. Any provider — a vendor SDK, an HTTP/SSE
// client, a local model server — satisfies Client/Stream without the
// executor knowing which.
package modelstream

import "context"

// Message is one entry of the conversation sent to the model, matching the
// common chat-tool-protocol shape the session record uses.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolCall is a structured tool invocation attached to an assistant message.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolSchema is the model-facing description of one dispatchable tool.
type ToolSchema struct {
	Name        string
	Description string
	// Parameters is the tool's JSON Schema, opaque to this package.
	Parameters []byte
}

// Options carries provider-agnostic generation knobs.
type Options struct {
	MaxTokens   int
	Temperature float64
}

// EventKind names one kind of stream event.
type EventKind string

const (
	DeltaText     EventKind = "delta_text"
	ToolCallStart EventKind = "tool_call_start"
	ToolCallArg   EventKind = "tool_call_arg"
	Stop          EventKind = "stop"
)

// Event is one unit the executor pulls off a Stream. Only the fields
// relevant to Kind are populated.
type Event struct {
	Kind EventKind

	// DeltaText
	Text string

	// ToolCallStart / ToolCallArg: ID identifies the call across the
	// start/arg events that build it; Name is only set on ToolCallStart.
	ID   string
	Name string
	// ArgChunk is a fragment of the call's JSON arguments, to be
	// concatenated across ToolCallArg events in order.
	ArgChunk string
}

// Stream is one in-flight model response.
type Stream interface {
	// Next blocks until the next event is available, ctx is done, or the
	// stream ends. Implementations must treat ctx cancellation the same
	// as an explicit Cancel.
	Next(ctx context.Context) (Event, error)
	// Cancel requests the provider stop generating. Safe to call more
	// than once; safe to call after the stream has already stopped.
	Cancel()
}

// Client opens a model stream for one request.
type Client interface {
	Send(ctx context.Context, messages []Message, tools []ToolSchema, opts Options) (Stream, error)
}
