package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"conclave/pkg/types"
)

// HasChunks reports whether any chunk exists for the given source. The
// indexer uses this as its idempotence guard.
func (s *Store) HasChunks(ctx context.Context, sourceType types.SourceType, sourceID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM content_chunks
		WHERE source_type = ? AND source_id = ?`, sourceType, sourceID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count > 0, nil
}

// InsertChunks writes all chunks of one source in a single transaction.
// Each chunk row is paired with a retrieval_index row keyed by the same
// chunk id. The guard against pre-existing chunks runs inside the same
// transaction, so racing indexers cannot commit duplicates; the loser
// reports itself skipped.
func (s *Store) InsertChunks(ctx context.Context, chunks []*types.Chunk) (inserted bool, err error) {
	if len(chunks) == 0 {
		return false, nil
	}
	first := chunks[0]

	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM content_chunks
			WHERE source_type = ? AND source_id = ?`,
			first.SourceType, first.SourceID).Scan(&count); err != nil {
			return err
		}
		if count > 0 {
			return nil // another indexer won the race
		}

		chunkStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO content_chunks
				(id, source_type, source_id, project_id, chunk_index,
				 content, location, token_count, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare chunk statement: %w", err)
		}
		defer func() { _ = chunkStmt.Close() }()

		indexStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO retrieval_index (content, chunk_id, project_id, metadata)
			VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare index statement: %w", err)
		}
		defer func() { _ = indexStmt.Close() }()

		for _, chunk := range chunks {
			if chunk.ID == "" {
				chunk.ID = types.NewID()
			}
			if chunk.CreatedAt.IsZero() {
				chunk.CreatedAt = time.Now().UTC()
			}
			location, err := marshalMap(chunk.Location)
			if err != nil {
				return err
			}
			if _, err := chunkStmt.ExecContext(ctx,
				chunk.ID, chunk.SourceType, chunk.SourceID, chunk.ProjectID,
				chunk.ChunkIndex, chunk.Content, location, chunk.TokenCount,
				formatTime(chunk.CreatedAt)); err != nil {
				return classifyError(err)
			}
			if _, err := indexStmt.ExecContext(ctx,
				chunk.Content, chunk.ID, chunk.ProjectID, location); err != nil {
				return classifyError(err)
			}
		}
		inserted = true
		return nil
	})
	return inserted, err
}

// ListChunksBySource returns a source's chunks in chunk_index order.
func (s *Store) ListChunksBySource(ctx context.Context, sourceType types.SourceType, sourceID string) ([]*types.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_type, source_id, project_id, chunk_index,
		       content, location, token_count, created_at
		FROM content_chunks
		WHERE source_type = ? AND source_id = ?
		ORDER BY chunk_index`, sourceType, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chunks []*types.Chunk
	for rows.Next() {
		var chunk types.Chunk
		var location, createdAt string
		if err := rows.Scan(&chunk.ID, &chunk.SourceType, &chunk.SourceID,
			&chunk.ProjectID, &chunk.ChunkIndex, &chunk.Content, &location,
			&chunk.TokenCount, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunk.Location = unmarshalMap(location)
		chunk.CreatedAt = parseTime(createdAt)
		chunks = append(chunks, &chunk)
	}
	return chunks, rows.Err()
}

// DeleteChunksBySource removes a source's chunks (index rows follow via
// trigger). Used to force a reindex.
func (s *Store) DeleteChunksBySource(ctx context.Context, sourceType types.SourceType, sourceID string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM content_chunks
			WHERE source_type = ? AND source_id = ?`, sourceType, sourceID)
		return classifyError(err)
	})
}

// ChunkCounts returns (chunk rows, index rows) for a source; test hook for
// the cascade invariants.
func (s *Store) ChunkCounts(ctx context.Context, sourceType types.SourceType, sourceID string) (chunkRows, indexRows int, err error) {
	if err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM content_chunks
		WHERE source_type = ? AND source_id = ?`, sourceType, sourceID).Scan(&chunkRows); err != nil {
		return 0, 0, err
	}
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM retrieval_index
		WHERE chunk_id IN (
			SELECT id FROM content_chunks WHERE source_type = ? AND source_id = ?
		)`, sourceType, sourceID).Scan(&indexRows)
	return chunkRows, indexRows, err
}

// IndexRowCount returns the total number of retrieval index rows for a
// project.
func (s *Store) IndexRowCount(ctx context.Context, projectID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM retrieval_index WHERE project_id = ?`, projectID).Scan(&count)
	return count, err
}
