// Package chunking splits file and message content into indexable chunks
// with precise location pointers back into the source.
package chunking

import (
	"strings"

	"conclave/pkg/types"
)

// DefaultLinesPerChunk is the fixed line-window size for file chunking.
const DefaultLinesPerChunk = 50

// Chunker produces deterministic chunks. It is pure: the same input always
// yields the same chunks, ids and timestamps excluded.
type Chunker struct {
	linesPerChunk int
}

// New creates a chunker. linesPerChunk <= 0 selects DefaultLinesPerChunk.
func New(linesPerChunk int) *Chunker {
	if linesPerChunk <= 0 {
		linesPerChunk = DefaultLinesPerChunk
	}
	return &Chunker{linesPerChunk: linesPerChunk}
}

// ChunkFile splits file content into line windows. Line ranges are
// 1-indexed and inclusive; character offsets are byte offsets into the
// newline-joined content, so concatenating the chunks with "\n" between
// them reproduces the input exactly.
func (c *Chunker) ChunkFile(file *types.ProjectFile, content string) []*types.Chunk {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")

	var chunks []*types.Chunk
	startChar := 0
	for start := 0; start < len(lines); start += c.linesPerChunk {
		end := start + c.linesPerChunk
		if end > len(lines) {
			end = len(lines)
		}
		window := strings.Join(lines[start:end], "\n")
		endChar := startChar + len(window)

		chunks = append(chunks, &types.Chunk{
			SourceType: types.SourceFile,
			SourceID:   file.ID,
			ProjectID:  file.ProjectID,
			ChunkIndex: len(chunks),
			Content:    window,
			Location: map[string]any{
				"path":       file.Path,
				"start_line": start + 1,
				"end_line":   end,
				"start_char": startChar,
				"end_char":   endChar,
			},
			TokenCount: estimateTokens(window),
		})
		// Skip the joining newline before the next window.
		startChar = endChar + 1
	}
	return chunks
}

// ChunkMessage wraps a conversation message in a single chunk.
func (c *Chunker) ChunkMessage(msg *types.Message, projectID string) []*types.Chunk {
	if msg.Content == "" {
		return nil
	}
	return []*types.Chunk{{
		SourceType: types.SourceMessage,
		SourceID:   msg.ID,
		ProjectID:  projectID,
		ChunkIndex: 0,
		Content:    msg.Content,
		Location: map[string]any{
			"round_number": msg.RoundNumber,
			"speaker":      msg.Speaker,
		},
		TokenCount: estimateTokens(msg.Content),
	}}
}

// estimateTokens approximates the token count as ceil(len/4).
func estimateTokens(content string) int {
	return (len(content) + 3) / 4
}
