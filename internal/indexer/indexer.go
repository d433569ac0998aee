// Package indexer writes content chunks and their retrieval index rows for
// files and conversation messages.
package indexer

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"conclave/internal/chunking"
	"conclave/internal/filestore"
	"conclave/internal/logging"
	"conclave/internal/store"
	"conclave/pkg/types"
)

// reindexWorkers bounds the fan-out of ReindexProject.
const reindexWorkers = 4

// Result reports the outcome of indexing one source.
type Result struct {
	SourceID      string   `json:"source_id"`
	ChunksWritten int      `json:"chunks_written"`
	ChunkIDs      []string `json:"chunk_ids,omitempty"`
	Skipped       bool     `json:"skipped,omitempty"`
	Reason        string   `json:"reason,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// ProjectResult aggregates a full-project reindex.
type ProjectResult struct {
	ProjectID string    `json:"project_id"`
	Files     []*Result `json:"files"`
	Indexed   int       `json:"indexed"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
}

// Indexer coordinates chunking and index writes against the store.
type Indexer struct {
	store   *store.Store
	files   *filestore.FileStore
	chunker *chunking.Chunker
	logger  logging.Logger
}

// New creates an indexer.
func New(st *store.Store, files *filestore.FileStore, chunker *chunking.Chunker, logger logging.Logger) *Indexer {
	if logger == nil {
		logger = logging.WithComponent("indexer")
	}
	return &Indexer{store: st, files: files, chunker: chunker, logger: logger}
}

// IndexFile chunks and indexes one project file. Already-indexed files,
// files opted out via retrieval_eligible=false, and files with no
// resolvable content are reported as skipped.
func (ix *Indexer) IndexFile(ctx context.Context, fileID string) (*Result, error) {
	file, err := ix.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}

	exists, err := ix.store.HasChunks(ctx, types.SourceFile, fileID)
	if err != nil {
		return nil, err
	}
	if exists {
		return &Result{SourceID: fileID, Skipped: true, Reason: "already indexed"}, nil
	}

	if eligible, ok := file.Metadata["retrieval_eligible"].(bool); ok && !eligible {
		return &Result{SourceID: fileID, Skipped: true, Reason: "retrieval_eligible is false"}, nil
	}

	content, err := ix.resolveContent(file)
	if err != nil {
		ix.logger.Warn("file content unavailable, skipping index",
			"file_id", fileID, "error", err.Error())
		return &Result{SourceID: fileID, Skipped: true, Reason: "content unavailable"}, nil
	}
	if len(content) == 0 {
		return &Result{SourceID: fileID, Skipped: true, Reason: "empty content"}, nil
	}

	chunks := ix.chunker.ChunkFile(file, string(content))
	return ix.writeChunks(ctx, fileID, chunks, true)
}

// IndexMessage indexes one conversation message as a single chunk.
func (ix *Indexer) IndexMessage(ctx context.Context, messageID string) (*Result, error) {
	msg, err := ix.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}

	exists, err := ix.store.HasChunks(ctx, types.SourceMessage, messageID)
	if err != nil {
		return nil, err
	}
	if exists {
		return &Result{SourceID: messageID, Skipped: true, Reason: "already indexed"}, nil
	}

	projectID, err := ix.store.ConversationProjectID(ctx, msg.ConversationID)
	if err != nil {
		return nil, err
	}

	chunks := ix.chunker.ChunkMessage(msg, projectID)
	if len(chunks) == 0 {
		return &Result{SourceID: messageID, Skipped: true, Reason: "empty content"}, nil
	}
	return ix.writeChunks(ctx, messageID, chunks, false)
}

// ReindexProject indexes every file of a project with bounded concurrency.
// Per-file failures are collected, not fatal.
func (ix *Indexer) ReindexProject(ctx context.Context, projectID string) (*ProjectResult, error) {
	if _, err := ix.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	fileIDs, err := ix.store.ListProjectFileIDs(ctx, projectID)
	if err != nil {
		return nil, err
	}

	results := make([]*Result, len(fileIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reindexWorkers)
	for i, fileID := range fileIDs {
		i, fileID := i, fileID
		g.Go(func() error {
			result, err := ix.IndexFile(gctx, fileID)
			if err != nil {
				result = &Result{SourceID: fileID, Error: err.Error()}
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := &ProjectResult{ProjectID: projectID, Files: results}
	for _, result := range results {
		switch {
		case result.Error != "":
			summary.Failed++
		case result.Skipped:
			summary.Skipped++
		default:
			summary.Indexed++
		}
	}
	ix.logger.Info("project reindex complete", "project_id", projectID,
		"indexed", summary.Indexed, "skipped", summary.Skipped, "failed", summary.Failed)
	return summary, nil
}

// writeChunks commits chunks plus index rows, then stamps last_indexed_at
// for file sources.
func (ix *Indexer) writeChunks(ctx context.Context, sourceID string, chunks []*types.Chunk, isFile bool) (*Result, error) {
	inserted, err := ix.store.InsertChunks(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to index %s: %w", sourceID, err)
	}
	if !inserted {
		return &Result{SourceID: sourceID, Skipped: true, Reason: "already indexed"}, nil
	}

	result := &Result{SourceID: sourceID, ChunksWritten: len(chunks)}
	for _, chunk := range chunks {
		result.ChunkIDs = append(result.ChunkIDs, chunk.ID)
	}

	if isFile {
		stamp := map[string]any{"last_indexed_at": time.Now().UTC().Format(time.RFC3339Nano)}
		if err := ix.store.MergeFileMetadata(ctx, sourceID, stamp); err != nil {
			ix.logger.Warn("failed to stamp last_indexed_at",
				"file_id", sourceID, "error", err.Error())
		}
	}
	return result, nil
}

func (ix *Indexer) resolveContent(file *types.ProjectFile) ([]byte, error) {
	if file.Content == "" && file.ContentLocation == "" {
		return nil, fmt.Errorf("file %s has no content", file.ID)
	}
	return ix.files.Get(file.Content, file.ContentLocation)
}
