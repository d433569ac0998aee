package indexer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conclave/internal/chunking"
	"conclave/internal/filestore"
	"conclave/internal/store"
	"conclave/pkg/types"
)

type fixture struct {
	store   *store.Store
	files   *filestore.FileStore
	indexer *Indexer
	project *types.Project
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	files, err := filestore.New(filepath.Join(dir, "blobs"), 0)
	require.NoError(t, err)

	project := &types.Project{Name: "index test"}
	require.NoError(t, st.CreateProject(context.Background(), project))

	return &fixture{
		store:   st,
		files:   files,
		indexer: New(st, files, chunking.New(50), nil),
		project: project,
	}
}

func (f *fixture) upload(t *testing.T, path, content string, metadata map[string]any) *types.ProjectFile {
	t.Helper()
	put, err := f.files.Put([]byte(content))
	require.NoError(t, err)
	file := &types.ProjectFile{
		ProjectID:       f.project.ID,
		Path:            path,
		Content:         put.InlineText,
		ContentLocation: put.Location,
		ContentHash:     put.Hash,
		MimeType:        filestore.DetectMime(path),
		SizeBytes:       put.Size,
		Metadata:        metadata,
	}
	_, err = f.store.UpsertFile(context.Background(), file)
	require.NoError(t, err)
	return file
}

func TestIndexFileWritesChunksOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	file := f.upload(t, "docs/a.md", "some indexable text", nil)

	result, err := f.indexer.IndexFile(ctx, file.ID)
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, 1, result.ChunksWritten)
	assert.Len(t, result.ChunkIDs, 1)

	// Idempotence: the second call is a reported no-op.
	again, err := f.indexer.IndexFile(ctx, file.ID)
	require.NoError(t, err)
	assert.True(t, again.Skipped)
	assert.Equal(t, "already indexed", again.Reason)

	chunkRows, indexRows, err := f.store.ChunkCounts(ctx, types.SourceFile, file.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, chunkRows)
	assert.Equal(t, 1, indexRows)

	// last_indexed_at is stamped into the file metadata.
	loaded, err := f.store.GetFile(ctx, file.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, loaded.Metadata["last_indexed_at"])
}

func TestIndexFileSkipsIneligible(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	file := f.upload(t, "secret.txt", "do not index", map[string]any{"retrieval_eligible": false})

	result, err := f.indexer.IndexFile(ctx, file.ID)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, "retrieval_eligible is false", result.Reason)

	exists, err := f.store.HasChunks(ctx, types.SourceFile, file.ID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestIndexFileSkipsMissingContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	file := &types.ProjectFile{
		ProjectID: f.project.ID, Path: "hollow.txt",
		ContentHash: "h", MimeType: "text/plain",
	}
	_, err := f.store.UpsertFile(ctx, file)
	require.NoError(t, err)

	result, err := f.indexer.IndexFile(ctx, file.ID)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, "content unavailable", result.Reason)
}

func TestIndexFileUnknownID(t *testing.T) {
	f := newFixture(t)
	_, err := f.indexer.IndexFile(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestIndexMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv := &types.Conversation{ProjectID: f.project.ID, Title: "t"}
	require.NoError(t, f.store.CreateConversation(ctx, conv))
	userMsg := &types.Message{Content: "what about retrieval"}
	_, err := f.store.AppendRound(ctx, conv.ID, userMsg)
	require.NoError(t, err)

	result, err := f.indexer.IndexMessage(ctx, userMsg.ID)
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, 1, result.ChunksWritten)

	chunks, err := f.store.ListChunksBySource(ctx, types.SourceMessage, userMsg.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, f.project.ID, chunks[0].ProjectID)
	assert.Equal(t, "what about retrieval", chunks[0].Content)

	again, err := f.indexer.IndexMessage(ctx, userMsg.ID)
	require.NoError(t, err)
	assert.True(t, again.Skipped)
}

func TestReindexProjectCollectsResults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.upload(t, "a.txt", "alpha content", nil)
	f.upload(t, "b.txt", "beta content", nil)
	ineligible := f.upload(t, "c.txt", "gamma content", map[string]any{"retrieval_eligible": false})

	result, err := f.indexer.ReindexProject(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Indexed)
	assert.Equal(t, 1, result.Skipped)
	assert.Zero(t, result.Failed)
	assert.Len(t, result.Files, 3)

	// A second pass skips everything already indexed.
	result, err = f.indexer.ReindexProject(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Zero(t, result.Indexed)
	assert.Equal(t, 3, result.Skipped)

	exists, err := f.store.HasChunks(ctx, types.SourceFile, ineligible.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = f.indexer.ReindexProject(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
