package chunking

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conclave/pkg/types"
)

func makeLines(n int) string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d", i+1)
	}
	return strings.Join(lines, "\n")
}

func testFile() *types.ProjectFile {
	return &types.ProjectFile{ID: "file-1", ProjectID: "proj-1", Path: "docs/sample.txt"}
}

func TestChunkFileWindowMath(t *testing.T) {
	c := New(50)

	tests := []struct {
		lines      int
		wantChunks int
		lastStart  int
		lastEnd    int
	}{
		{1, 1, 1, 1},
		{50, 1, 1, 50},
		{51, 2, 51, 51},
		{125, 3, 101, 125},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d lines", tt.lines), func(t *testing.T) {
			chunks := c.ChunkFile(testFile(), makeLines(tt.lines))
			require.Len(t, chunks, tt.wantChunks)

			last := chunks[len(chunks)-1]
			assert.Equal(t, tt.lastStart, last.Location["start_line"])
			assert.Equal(t, tt.lastEnd, last.Location["end_line"])
			assert.Equal(t, len(chunks)-1, last.ChunkIndex)
		})
	}
}

func TestChunkFileCharOffsets(t *testing.T) {
	c := New(2)
	content := "aa\nbbb\ncccc\nd"
	chunks := c.ChunkFile(testFile(), content)
	require.Len(t, chunks, 2)

	first, second := chunks[0], chunks[1]
	assert.Equal(t, "aa\nbbb", first.Content)
	assert.Equal(t, 0, first.Location["start_char"])
	assert.Equal(t, 6, first.Location["end_char"])

	assert.Equal(t, "cccc\nd", second.Content)
	assert.Equal(t, 7, second.Location["start_char"])
	assert.Equal(t, 13, second.Location["end_char"])

	// Offsets address the exact bytes of the joined text.
	assert.Equal(t, first.Content, content[0:6])
	assert.Equal(t, second.Content, content[7:13])
}

func TestChunkFileConcatenationRoundTrip(t *testing.T) {
	c := New(50)
	for _, lines := range []int{1, 49, 50, 51, 137} {
		content := makeLines(lines)
		chunks := c.ChunkFile(testFile(), content)

		parts := make([]string, len(chunks))
		for i, chunk := range chunks {
			parts[i] = chunk.Content
		}
		assert.Equal(t, content, strings.Join(parts, "\n"))
	}
}

func TestChunkFileTokenCount(t *testing.T) {
	c := New(50)
	chunks := c.ChunkFile(testFile(), "abcdefg") // 7 bytes, ceil(7/4)=2
	require.Len(t, chunks, 1)
	assert.Equal(t, 2, chunks[0].TokenCount)
	assert.Equal(t, types.SourceFile, chunks[0].SourceType)
	assert.Equal(t, "file-1", chunks[0].SourceID)
	assert.Equal(t, "docs/sample.txt", chunks[0].Location["path"])
}

func TestChunkFileEmptyContent(t *testing.T) {
	assert.Nil(t, New(50).ChunkFile(testFile(), ""))
}

func TestChunkMessage(t *testing.T) {
	c := New(50)
	msg := &types.Message{
		ID:          "msg-1",
		RoundNumber: 3,
		Speaker:     "agent:mock:mock-echo:0",
		Content:     "Echo: hello",
	}
	chunks := c.ChunkMessage(msg, "proj-1")
	require.Len(t, chunks, 1)

	chunk := chunks[0]
	assert.Equal(t, types.SourceMessage, chunk.SourceType)
	assert.Equal(t, "msg-1", chunk.SourceID)
	assert.Equal(t, 0, chunk.ChunkIndex)
	assert.Equal(t, "Echo: hello", chunk.Content)
	assert.Equal(t, 3, chunk.Location["round_number"])
	assert.Equal(t, "agent:mock:mock-echo:0", chunk.Location["speaker"])

	assert.Nil(t, c.ChunkMessage(&types.Message{ID: "empty"}, "proj-1"))
}
