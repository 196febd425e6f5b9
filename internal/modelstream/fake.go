package modelstream

import (
	"context"
	"sync"
)

// FakeClient is a scripted Client for exercising the turn executor without
// a real provider. Each call to Send consumes the next queued script;
// calling Send more times than scripts were queued panics, same as an
// out-of-bounds slice access would, so a test's intent is obvious in the
// failure.
type FakeClient struct {
	mu       sync.Mutex
	scripts  []Script
	sendErrs []error
	calls    []Call
}

// Call records one Send invocation's arguments for assertions.
type Call struct {
	Messages []Message
	Tools    []ToolSchema
	Options  Options
}

// Script is the fixed sequence of events a FakeStream plays back.
type Script []Event

// NewFakeClient queues scripts in Send order.
func NewFakeClient(scripts ...Script) *FakeClient {
	return &FakeClient{scripts: scripts}
}

func (f *FakeClient) Send(_ context.Context, messages []Message, tools []ToolSchema, opts Options) (Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Messages: messages, Tools: tools, Options: opts})
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		return nil, err
	}
	script := f.scripts[0]
	f.scripts = f.scripts[1:]
	return &FakeStream{events: script}, nil
}

// QueueSendError makes the next Send call fail with err before consuming a
// script, for exercising the executor's retry bounding.
func (f *FakeClient) QueueSendError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErrs = append(f.sendErrs, err)
}

// Calls returns every Send call observed so far, in order.
func (f *FakeClient) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// FakeStream replays a fixed Script, one event per Next call, then returns
// io.EOF-equivalent behaviour by repeating a final Stop event.
type FakeStream struct {
	mu        sync.Mutex
	events    []Event
	idx       int
	cancelled bool
}

func (s *FakeStream) Next(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return Event{Kind: Stop}, nil
	}
	if s.idx >= len(s.events) {
		return Event{Kind: Stop}, nil
	}
	e := s.events[s.idx]
	s.idx++
	return e, nil
}

func (s *FakeStream) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
}
