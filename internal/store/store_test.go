package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conclave/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedProject(t *testing.T, s *Store) *types.Project {
	t.Helper()
	project := &types.Project{Name: "test project"}
	require.NoError(t, s.CreateProject(context.Background(), project))
	return project
}

func seedConversation(t *testing.T, s *Store, projectID string) *types.Conversation {
	t.Helper()
	conv := &types.Conversation{ProjectID: projectID, Title: "test conversation"}
	require.NoError(t, s.CreateConversation(context.Background(), conv))
	return conv
}

func TestMigrationsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "migrate.db")

	s, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// A second open re-runs migrate against the same file.
	s, err = Open(path, nil)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	var applied int
	err = s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM migrations`).Scan(&applied)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), applied)
}

func TestEnsureDefaultProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.EnsureDefaultProject(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := s.EnsureDefaultProject(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// A deleted default project is reseeded, not resurrected.
	require.NoError(t, s.DeleteProject(ctx, first))
	third, err := s.EnsureDefaultProject(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestAppendRoundMaintainsRoundCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	project := seedProject(t, s)
	conv := seedConversation(t, s, project.ID)

	for want := 1; want <= 3; want++ {
		round, err := s.AppendRound(ctx, conv.ID, &types.Message{Content: "hello"})
		require.NoError(t, err)
		assert.Equal(t, want, round)
	}

	loaded, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.RoundCount)
	assert.Len(t, loaded.Rounds, 3)
	for i, round := range loaded.Rounds {
		assert.Equal(t, i+1, round.Number)
		require.NotNil(t, round.User)
		assert.Equal(t, types.SpeakerUser, round.User.Speaker)
	}
}

func TestAppendAgentMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	project := seedProject(t, s)
	conv := seedConversation(t, s, project.ID)

	round, err := s.AppendRound(ctx, conv.ID, &types.Message{Content: "hi"})
	require.NoError(t, err)

	msg := &types.Message{
		ConversationID: conv.ID,
		RoundNumber:    round,
		Speaker:        types.AgentSpeaker("mock:mock-echo:0"),
		Content:        "Echo: hi",
		Metadata:       map[string]any{"model_id": "mock-echo"},
	}
	require.NoError(t, s.AppendAgentMessage(ctx, msg))

	loaded, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Rounds, 1)
	require.Len(t, loaded.Rounds[0].Agents, 1)
	assert.Equal(t, "Echo: hi", loaded.Rounds[0].Agents[0].Content)
	assert.Equal(t, "mock-echo", loaded.Rounds[0].Agents[0].Metadata["model_id"])

	err = s.AppendAgentMessage(ctx, &types.Message{
		ConversationID: "missing", RoundNumber: 1, Speaker: "agent:x", Content: "y"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertFileConflictAndReplace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	project := seedProject(t, s)

	file := &types.ProjectFile{
		ProjectID:   project.ID,
		Path:        "docs/a.md",
		Content:     "first",
		ContentHash: "h1",
		MimeType:    "text/markdown",
		SizeBytes:   5,
	}
	_, err := s.UpsertFile(ctx, file)
	require.NoError(t, err)
	firstID := file.ID
	firstCreated := file.CreatedAt

	replacement := &types.ProjectFile{
		ProjectID:       project.ID,
		Path:            "docs/a.md",
		ContentLocation: "/blobs/deadbeef",
		ContentHash:     "h2",
		MimeType:        "text/markdown",
		SizeBytes:       99,
	}
	prevLocation, err := s.UpsertFile(ctx, replacement)
	require.NoError(t, err)
	assert.Empty(t, prevLocation, "inline predecessor has no blob")
	assert.Equal(t, firstID, replacement.ID, "replace keeps the row id")
	assert.Equal(t, firstCreated, replacement.CreatedAt)

	loaded, err := s.GetFileByPath(ctx, project.ID, "docs/a.md")
	require.NoError(t, err)
	assert.Equal(t, "h2", loaded.ContentHash)
	assert.Equal(t, "/blobs/deadbeef", loaded.ContentLocation)

	_, err = s.UpsertFile(ctx, &types.ProjectFile{ProjectID: "missing", Path: "x", ContentHash: "h"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChunkInsertIdempotence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	project := seedProject(t, s)

	file := &types.ProjectFile{ProjectID: project.ID, Path: "a.txt", Content: "hello", ContentHash: "h", MimeType: "text/plain", SizeBytes: 5}
	_, err := s.UpsertFile(ctx, file)
	require.NoError(t, err)

	chunks := []*types.Chunk{{
		SourceType: types.SourceFile,
		SourceID:   file.ID,
		ProjectID:  project.ID,
		ChunkIndex: 0,
		Content:    "hello",
		Location:   map[string]any{"path": "a.txt"},
		TokenCount: 2,
	}}
	inserted, err := s.InsertChunks(ctx, chunks)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.InsertChunks(ctx, chunks)
	require.NoError(t, err)
	assert.False(t, inserted, "second insert for the same source is skipped")

	chunkRows, indexRows, err := s.ChunkCounts(ctx, types.SourceFile, file.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, chunkRows)
	assert.Equal(t, 1, indexRows)
}

func TestFileDeleteCascadesToChunksAndIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	project := seedProject(t, s)

	file := &types.ProjectFile{ProjectID: project.ID, Path: "b.txt", Content: "indexable words", ContentHash: "h", MimeType: "text/plain", SizeBytes: 15}
	_, err := s.UpsertFile(ctx, file)
	require.NoError(t, err)

	_, err = s.InsertChunks(ctx, []*types.Chunk{{
		SourceType: types.SourceFile, SourceID: file.ID, ProjectID: project.ID,
		ChunkIndex: 0, Content: "indexable words", Location: map[string]any{"path": "b.txt"},
	}})
	require.NoError(t, err)

	_, err = s.DeleteFile(ctx, file.ID)
	require.NoError(t, err)

	chunkRows, indexRows, err := s.ChunkCounts(ctx, types.SourceFile, file.ID)
	require.NoError(t, err)
	assert.Zero(t, chunkRows)
	assert.Zero(t, indexRows)
}

func TestProjectDeleteCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	project := seedProject(t, s)
	conv := seedConversation(t, s, project.ID)

	_, err := s.AppendRound(ctx, conv.ID, &types.Message{Content: "hello there"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteProject(ctx, project.ID))

	_, err = s.GetConversation(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	count, err := s.ConversationCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCreateProjectDuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	project := seedProject(t, s)

	err := s.CreateProject(ctx, &types.Project{ID: project.ID, Name: "duplicate"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestSettingsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetSetting(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetSetting(ctx, "key", "one"))
	require.NoError(t, s.SetSetting(ctx, "key", "two"))

	value, err := s.GetSetting(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, "two", value)
}
