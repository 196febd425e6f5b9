// Package prompt implements the cache-optimised prompt stream:
// an append-only sequence of content blocks where modifications are
// realised as delete-then-reappend, so that the longest possible
// byte-identical prefix is preserved across turns for a model provider's
// prefix cache. Prefix caches reuse when the first k blocks are
// byte-identical to a prior request; relocating changed blocks to the
// tail maximises k.
package prompt

import (
	"fmt"
	"strings"
)

// Tag names the kind of content a Block carries.
type Tag string

const (
	TagSystem    Tag = "system"
	TagSummary   Tag = "summary"
	TagFile      Tag = "file"
	TagMessage   Tag = "conversation-message"
	TagEphemeral Tag = "ephemeral-tool-result"
)

// Block is one entry in the prompt stream. ID is a stable identity used to
// find and replace prior blocks for the same logical content (e.g. the
// same file path, or the same message index).
type Block struct {
	Tag       Tag
	ID        string
	Content   string
	Ephemeral bool

	// seq is the monotonic sequence at which this block was last
	// (re)appended; used to order file-region relocation.
	seq int
}

// Stream holds the content-block sequence, split into four regions in
// order: system, summary, file, then conversation/ephemeral. Region
// membership is enforced by always inserting within the correct region
// rather than tracking explicit boundaries.
type Stream struct {
	blocks  []*Block
	nextSeq int
}

// New creates an empty prompt stream.
func New() *Stream {
	return &Stream{}
}

func (s *Stream) tick() int {
	s.nextSeq++
	return s.nextSeq
}

func fileID(path string) string    { return "file:" + path }
func summaryID(path string) string { return "summary:" + path }
func messageID(idx int) string     { return fmt.Sprintf("message:%d", idx) }

// regionEnd returns the index one past the last block of the given tag's
// region (system < summary < file < message/ephemeral), used to insert new
// blocks at the tail of their own region rather than the whole stream.
func (s *Stream) regionEnd(tag Tag) int {
	rank := func(t Tag) int {
		switch t {
		case TagSystem:
			return 0
		case TagSummary:
			return 1
		case TagFile:
			return 2
		default:
			return 3
		}
	}
	target := rank(tag)
	end := 0
	for i, b := range s.blocks {
		r := rank(b.Tag)
		if strings.HasPrefix(b.ID, "ephemeral:") {
			// A replaced ephemeral result keeps its place in the
			// conversation region even though its placeholder is a summary.
			r = rank(TagEphemeral)
		}
		if r <= target {
			end = i + 1
		}
	}
	return end
}

func (s *Stream) deleteByID(id string) (int, *Block, bool) {
	for i, b := range s.blocks {
		if b.ID == id {
			removed := b
			s.blocks = append(s.blocks[:i], s.blocks[i+1:]...)
			return i, removed, true
		}
	}
	return -1, nil, false
}

// SetSystem sets (or replaces) the single system block, always at position 0.
func (s *Stream) SetSystem(text string) {
	s.deleteByID("system")
	s.blocks = append([]*Block{{Tag: TagSystem, ID: "system", Content: text, seq: s.tick()}}, s.blocks...)
}

// AddSummary appends (or relocates) a summary block for path.
func (s *Stream) AddSummary(path, text string) {
	s.deleteByID(summaryID(path))
	end := s.regionEnd(TagSummary)
	block := &Block{Tag: TagSummary, ID: summaryID(path), Content: text, seq: s.tick()}
	s.insertAt(end, block)
}

// AppendFileContent deletes any existing block for path and re-appends it
// at the tail of the file region, so the prefix up to the earliest
// unchanged file block stays cache-valid.
func (s *Stream) AppendFileContent(path, commitOrOverlay, text string) {
	s.deleteByID(fileID(path))
	end := s.regionEnd(TagFile)
	block := &Block{Tag: TagFile, ID: fileID(path), Content: text, seq: s.tick()}
	s.insertAt(end, block)
}

// AppendMessage deletes any prior block for the same message index and
// appends the new one at the tail of the conversation region.
func (s *Stream) AppendMessage(index int, text string) {
	id := messageID(index)
	s.deleteByID(id)
	block := &Block{Tag: TagMessage, ID: id, Content: text, seq: s.tick()}
	s.blocks = append(s.blocks, block)
}

// AppendEphemeralResult appends a turn/tool-call-scoped ephemeral block.
// The caller bounds its lifetime by calling ReplaceEphemeral at the start
// of the next turn.
func (s *Stream) AppendEphemeralResult(turn int, toolCallRef, payload string) {
	id := fmt.Sprintf("ephemeral:%d:%s", turn, toolCallRef)
	s.deleteByID(id)
	block := &Block{Tag: TagEphemeral, ID: id, Content: payload, Ephemeral: true, seq: s.tick()}
	s.blocks = append(s.blocks, block)
}

// ReplaceEphemeral replaces an ephemeral block with a placeholder summary,
// freeing its content from the cacheable region at the start of the next
// turn.
func (s *Stream) ReplaceEphemeral(turn int, toolCallRef, placeholder string) {
	id := fmt.Sprintf("ephemeral:%d:%s", turn, toolCallRef)
	idx, _, found := s.deleteByID(id)
	if !found {
		return
	}
	block := &Block{Tag: TagSummary, ID: id + ":summary", Content: placeholder, seq: s.tick()}
	s.insertAt(idx, block)
}

func (s *Stream) insertAt(idx int, b *Block) {
	if idx >= len(s.blocks) {
		s.blocks = append(s.blocks, b)
		return
	}
	s.blocks = append(s.blocks, nil)
	copy(s.blocks[idx+1:], s.blocks[idx:])
	s.blocks[idx] = b
}

// Render returns the flat block sequence for transmission. Exactly one
// rendered block carries the ephemeral cache marker, and it is always the
// last one: the marker is the provider's cache breakpoint, distinct from
// the ephemeral-tool-result tag a block may carry internally.
func (s *Stream) Render() []Block {
	out := make([]Block, len(s.blocks))
	for i, b := range s.blocks {
		out[i] = *b
		out[i].Ephemeral = i == len(s.blocks)-1
	}
	return out
}

// Len reports the number of blocks currently in the stream.
func (s *Stream) Len() int { return len(s.blocks) }
