package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idsOf(blocks []Block) []string {
	out := make([]string, len(blocks))
	for i, b := range blocks {
		out[i] = b.ID
	}
	return out
}

func TestFileRegionContiguous(t *testing.T) {
	s := New()
	s.SetSystem("sys")
	s.AddSummary("a.txt", "summary a")
	s.AppendFileContent("a.txt", "c0", "content a")
	s.AppendFileContent("b.txt", "c0", "content b")
	s.AppendMessage(0, "hello")

	rendered := s.Render()
	require.Len(t, rendered, 5)
	assert.Equal(t, TagSystem, rendered[0].Tag)
	assert.Equal(t, TagSummary, rendered[1].Tag)
	assert.Equal(t, TagFile, rendered[2].Tag)
	assert.Equal(t, TagFile, rendered[3].Tag)
	assert.Equal(t, TagMessage, rendered[4].Tag)
}

func TestAppendFileContentRelocatesToTail(t *testing.T) {
	s := New()
	s.AppendFileContent("a.txt", "c0", "1")
	s.AppendFileContent("b.txt", "c0", "1")
	s.AppendFileContent("c.txt", "c0", "1")

	// Modify the middle file; it must move to the tail of the file region,
	// and the relative order of the untouched files must be preserved.
	s.AppendFileContent("b.txt", "c0", "2")

	ids := idsOf(s.Render())
	assert.Equal(t, []string{fileID("a.txt"), fileID("c.txt"), fileID("b.txt")}, ids)
}

func TestAppendMessageReplacesSameIndex(t *testing.T) {
	s := New()
	s.AppendMessage(0, "first draft")
	s.AppendMessage(1, "reply")
	s.AppendMessage(0, "edited draft")

	rendered := s.Render()
	require.Len(t, rendered, 2)
	assert.Equal(t, "reply", rendered[0].Content)
	assert.Equal(t, "edited draft", rendered[1].Content)
}

func TestRenderMarksExactlyTheLastBlockEphemeral(t *testing.T) {
	s := New()
	s.SetSystem("sys")
	s.AppendMessage(0, "hi")
	s.AppendEphemeralResult(1, "call-1", "one")
	s.AppendEphemeralResult(1, "call-2", "two")

	rendered := s.Render()
	require.NotEmpty(t, rendered)
	for i, b := range rendered {
		assert.Equal(t, i == len(rendered)-1, b.Ephemeral, "block %d", i)
	}
}

func TestEphemeralReplacedByPlaceholder(t *testing.T) {
	s := New()
	s.AppendMessage(0, "hi")
	s.AppendEphemeralResult(1, "call-1", "big tool output")

	s.ReplaceEphemeral(1, "call-1", "see prior summary")
	rendered := s.Render()
	last := rendered[len(rendered)-1]
	assert.Equal(t, "see prior summary", last.Content)
	assert.Equal(t, TagSummary, last.Tag)
	for _, b := range rendered {
		assert.NotEqual(t, TagEphemeral, b.Tag)
	}
}
