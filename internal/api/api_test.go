package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conclave/internal/ai"
	"conclave/internal/chunking"
	"conclave/internal/config"
	"conclave/internal/filestore"
	"conclave/internal/indexer"
	"conclave/internal/orchestrator"
	"conclave/internal/search"
	"conclave/internal/store"
	"conclave/pkg/types"
)

type apiFixture struct {
	server    *httptest.Server
	store     *store.Store
	projectID string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Storage.DatabasePath = filepath.Join(dir, "test.db")
	cfg.Storage.BlobDir = filepath.Join(dir, "blobs")
	cfg.Storage.TranscriptsDir = filepath.Join(dir, "transcripts")
	cfg.Storage.MaxUploadBytes = 1 << 16

	st, err := store.Open(cfg.Storage.DatabasePath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	projectID, err := st.EnsureDefaultProject(context.Background())
	require.NoError(t, err)

	files, err := filestore.New(cfg.Storage.BlobDir, cfg.Storage.InlineThresholdBytes)
	require.NoError(t, err)
	idx := indexer.New(st, files, chunking.New(cfg.Chunking.LinesPerChunk), nil)
	searchSvc := search.New(st, cfg.Search.MaxLimit, cfg.Search.DefaultLimit, nil)
	providers := ai.NewRegistry(&cfg.Providers)
	orch := orchestrator.New(st, providers, orchestrator.NewRegistry(st), idx,
		nil, cfg.Storage.TranscriptsDir, projectID)

	server := httptest.NewServer(NewServer(cfg, st, files, idx, searchSvc, orch, nil).Router())
	t.Cleanup(server.Close)

	return &apiFixture{server: server, store: st, projectID: projectID}
}

// doJSON posts body and decodes the reply into out when it is non-nil.
func (f *apiFixture) doJSON(t *testing.T, method, path string, body, out any) *http.Response {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req, err := http.NewRequest(method, f.server.URL+path, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

// searchTotal polls the search endpoint; -1 signals a transport or decode
// failure. It avoids test assertions so Eventually conditions can call it.
func (f *apiFixture) searchTotal(query string) int {
	payload, err := json.Marshal(map[string]any{"query": query})
	if err != nil {
		return -1
	}
	resp, err := f.server.Client().Post(f.server.URL+"/projects/"+f.projectID+"/search",
		"application/json", bytes.NewReader(payload))
	if err != nil {
		return -1
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return -1
	}
	var result struct {
		Total int `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return -1
	}
	return result.Total
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)

	var health struct {
		Status        string `json:"status"`
		Conversations int    `json:"conversations"`
	}
	resp := f.doJSON(t, http.MethodGet, "/health", nil, &health)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", health.Status)
	assert.Zero(t, health.Conversations)
}

func TestTurnAggregate(t *testing.T) {
	f := newAPIFixture(t)

	var turn orchestrator.TurnResponse
	resp := f.doJSON(t, http.MethodPost, "/turn", map[string]any{
		"user_message": "hello",
		"target_models": []map[string]any{
			{"provider": "mock", "model_id": "mock-echo"},
			{"provider": "mock", "model_id": "mock-lorem"},
		},
	}, &turn)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, 1, turn.RoundNumber)
	require.Len(t, turn.Results, 2)
	texts := []string{turn.Results[0].Text, turn.Results[1].Text}
	assert.Contains(t, texts, "Echo: hello")
	assert.Contains(t, texts, ai.MockLoremText)
}

func TestTurnValidationError(t *testing.T) {
	f := newAPIFixture(t)

	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	resp := f.doJSON(t, http.MethodPost, "/turn", map[string]any{
		"user_message": "hello",
	}, &envelope)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "BAD_REQUEST", envelope.Error.Code)
}

func TestTurnSSEStream(t *testing.T) {
	f := newAPIFixture(t)

	payload, err := json.Marshal(map[string]any{
		"user_message": "stream this",
		"target_models": []map[string]any{
			{"provider": "mock", "model_id": "mock-echo"},
		},
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/turn", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var events []*orchestrator.Event
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event orchestrator.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event))
		events = append(events, &event)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, events, 3)
	assert.Equal(t, orchestrator.EventInit, events[0].Type)
	assert.NotEmpty(t, events[0].ConversationID)
	assert.Equal(t, orchestrator.EventResult, events[1].Type)
	require.NotNil(t, events[1].Result)
	assert.Equal(t, "Echo: stream this", events[1].Result.Text)
	assert.Equal(t, orchestrator.EventDone, events[2].Type)
}

func TestTurnSSEPartialFailure(t *testing.T) {
	f := newAPIFixture(t)

	payload, err := json.Marshal(map[string]any{
		"user_message": "mixed",
		"target_models": []map[string]any{
			{"provider": "mock", "model_id": "mock-error"},
		},
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/turn", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var sawResultError bool
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event orchestrator.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event))
		if event.Type == orchestrator.EventResult {
			sawResultError = event.Result != nil && event.Result.Error == "Simulated mock error"
		}
	}
	assert.True(t, sawResultError, "the failing agent still emits a result frame")
}

func TestFileLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	base := "/projects/" + f.projectID + "/files"

	var uploaded struct {
		ID          string `json:"id"`
		Path        string `json:"path"`
		SizeBytes   int64  `json:"size_bytes"`
		ContentHash string `json:"content_hash"`
	}
	content := "searchable prose about orchestration"
	resp := f.doJSON(t, http.MethodPost, base, map[string]any{
		"path":    "docs/notes.md",
		"content": content,
	}, &uploaded)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "docs/notes.md", uploaded.Path)
	assert.Equal(t, int64(len(content)), uploaded.SizeBytes)
	assert.Equal(t, filestore.HashBytes([]byte(content)), uploaded.ContentHash)

	// Indexing runs in the background; the hit appears shortly after.
	assert.Eventually(t, func() bool {
		return f.searchTotal("orchestration") == 1
	}, 5*time.Second, 50*time.Millisecond)

	var listing struct {
		Files []struct {
			ID      string `json:"id"`
			Content string `json:"content"`
		} `json:"files"`
		Total int `json:"total"`
	}
	resp = f.doJSON(t, http.MethodGet, base, nil, &listing)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, listing.Total)
	assert.Empty(t, listing.Files[0].Content, "listings omit content bodies")

	var fetched struct {
		Content string `json:"content"`
	}
	resp = f.doJSON(t, http.MethodGet, base+"/"+uploaded.ID, nil, &fetched)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, content, fetched.Content)

	resp = f.doJSON(t, http.MethodDelete, base+"/"+uploaded.ID, nil, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Chunk and index rows cascade with the row, so the hit is gone at once.
	assert.Zero(t, f.searchTotal("orchestration"))

	resp = f.doJSON(t, http.MethodGet, base+"/"+uploaded.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFileUploadRejectsBadInput(t *testing.T) {
	f := newAPIFixture(t)
	base := "/projects/" + f.projectID + "/files"

	resp := f.doJSON(t, http.MethodPost, base, map[string]any{
		"path": "../escape.txt", "content": "x",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.doJSON(t, http.MethodPost, base, map[string]any{
		"path": "big.txt", "content": strings.Repeat("x", (1<<16)+1),
	}, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	resp = f.doJSON(t, http.MethodPost, "/projects/missing/files", map[string]any{
		"path": "a.txt", "content": "x",
	}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFileCrossProjectAccessIs404(t *testing.T) {
	f := newAPIFixture(t)

	var uploaded struct {
		ID string `json:"id"`
	}
	resp := f.doJSON(t, http.MethodPost, "/projects/"+f.projectID+"/files", map[string]any{
		"path": "a.txt", "content": "content",
	}, &uploaded)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	other := &types.Project{Name: "other"}
	require.NoError(t, f.store.CreateProject(context.Background(), other))

	resp = f.doJSON(t, http.MethodGet, "/projects/"+other.ID+"/files/"+uploaded.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFileReplaceKeepsSearchCurrent(t *testing.T) {
	f := newAPIFixture(t)
	base := "/projects/" + f.projectID + "/files"

	resp := f.doJSON(t, http.MethodPost, base, map[string]any{
		"path": "doc.txt", "content": "original wording",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Eventually(t, func() bool {
		return f.searchTotal("original") == 1
	}, 5*time.Second, 50*time.Millisecond)

	resp = f.doJSON(t, http.MethodPost, base, map[string]any{
		"path": "doc.txt", "content": "replacement wording",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	assert.Eventually(t, func() bool {
		return f.searchTotal("replacement") == 1 && f.searchTotal("original") == 0
	}, 5*time.Second, 50*time.Millisecond)
}

func TestSearchUnknownProject(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.doJSON(t, http.MethodPost, "/projects/missing/search",
		map[string]any{"query": "x"}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReindexEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.doJSON(t, http.MethodPost, "/projects/"+f.projectID+"/files", map[string]any{
		"path": "a.txt", "content": "reindex target",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result indexer.ProjectResult
	resp = f.doJSON(t, http.MethodPost, "/projects/"+f.projectID+"/reindex", nil, &result)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, f.projectID, result.ProjectID)
	assert.Equal(t, 1, result.Indexed+result.Skipped, "indexed now or already indexed in background")

	resp = f.doJSON(t, http.MethodPost, "/projects/missing/reindex", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConversationEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	var turn orchestrator.TurnResponse
	resp := f.doJSON(t, http.MethodPost, "/turn", map[string]any{
		"user_message":  "export me",
		"target_models": []map[string]any{{"provider": "mock", "model_id": "mock-echo"}},
	}, &turn)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var conv struct {
		ID         string `json:"id"`
		RoundCount int    `json:"round_count"`
	}
	resp = f.doJSON(t, http.MethodGet, "/conversations/"+turn.ConversationID+"/", nil, &conv)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, turn.ConversationID, conv.ID)
	assert.Equal(t, 1, conv.RoundCount)

	req, err := http.NewRequest(http.MethodGet,
		f.server.URL+"/conversations/"+turn.ConversationID+"/export?format=md", nil)
	require.NoError(t, err)
	exportResp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = exportResp.Body.Close() }()
	require.Equal(t, http.StatusOK, exportResp.StatusCode)
	assert.Equal(t, "text/markdown; charset=utf-8", exportResp.Header.Get("Content-Type"))
	assert.Equal(t,
		fmt.Sprintf(`attachment; filename="conversation-%s.md"`, turn.ConversationID),
		exportResp.Header.Get("Content-Disposition"))

	resp = f.doJSON(t, http.MethodGet, "/conversations/missing/", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAutoSaveEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	var turn orchestrator.TurnResponse
	resp := f.doJSON(t, http.MethodPost, "/turn", map[string]any{
		"user_message":  "autosave me",
		"target_models": []map[string]any{{"provider": "mock", "model_id": "mock-echo"}},
	}, &turn)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Enabled bool   `json:"enabled"`
		Path    string `json:"path"`
	}
	resp = f.doJSON(t, http.MethodPost, "/conversations/"+turn.ConversationID+"/autosave",
		map[string]any{"enabled": true, "format": "md"}, &result)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, result.Enabled)
	assert.NotEmpty(t, result.Path, "enabling writes one transcript immediately")

	resp = f.doJSON(t, http.MethodPost, "/conversations/"+turn.ConversationID+"/autosave",
		map[string]any{"enabled": true, "format": "pdf"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.doJSON(t, http.MethodPost, "/conversations/missing/autosave",
		map[string]any{"enabled": true}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPreviewViewEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	var view ai.Request
	resp := f.doJSON(t, http.MethodPost, "/preview-view", map[string]any{
		"user_message":  "draft",
		"target_models": []map[string]any{{"provider": "mock", "model_id": "mock-echo"}},
		"provider":      "mock",
		"model_id":      "mock-echo",
	}, &view)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "mock-echo", view.Model)
	require.NotEmpty(t, view.Messages)
	assert.Equal(t, "User: draft", view.Messages[len(view.Messages)-1].Content)

	resp = f.doJSON(t, http.MethodPost, "/preview-view", map[string]any{
		"user_message": "draft",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
