package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"conclave/pkg/types"
)

// UpsertFile inserts or replaces a file row keyed by (project_id, path).
// On replace the previous row's id and created_at survive so chunks keyed
// by the file id can be re-pointed by the caller before reindexing.
// Returns the stored row and the previous content_location (empty when the
// file is new or was inline) so the caller can unlink a displaced blob.
func (s *Store) UpsertFile(ctx context.Context, file *types.ProjectFile) (prevLocation string, err error) {
	if file.ID == "" {
		file.ID = types.NewID()
	}
	now := time.Now().UTC()
	if file.CreatedAt.IsZero() {
		file.CreatedAt = now
	}
	file.UpdatedAt = now

	metadata, err := marshalMap(file.Metadata)
	if err != nil {
		return "", err
	}

	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM projects WHERE id = ?`, file.ProjectID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("project %s: %w", file.ProjectID, ErrNotFound)
		}

		var prevID, prevCreatedAt string
		var prevLoc sql.NullString
		err := tx.QueryRowContext(ctx, `
			SELECT id, content_location, created_at FROM project_files
			WHERE project_id = ? AND path = ?`, file.ProjectID, file.Path).
			Scan(&prevID, &prevLoc, &prevCreatedAt)
		switch {
		case err == sql.ErrNoRows:
			// fresh insert
		case err != nil:
			return err
		default:
			file.ID = prevID
			file.CreatedAt = parseTime(prevCreatedAt)
			prevLocation = prevLoc.String
			// Upsert invalidates old chunks; they are rebuilt on reindex.
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM content_chunks
				WHERE source_type = 'file' AND source_id = ?`, prevID); err != nil {
				return classifyError(err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO project_files
				(id, project_id, path, content, content_location, content_hash,
				 mime_type, size_bytes, metadata, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(project_id, path) DO UPDATE SET
				content          = excluded.content,
				content_location = excluded.content_location,
				content_hash     = excluded.content_hash,
				mime_type        = excluded.mime_type,
				size_bytes       = excluded.size_bytes,
				metadata         = excluded.metadata,
				updated_at       = excluded.updated_at`,
			file.ID, file.ProjectID, file.Path,
			nullable(file.Content), nullable(file.ContentLocation), file.ContentHash,
			file.MimeType, file.SizeBytes, metadata,
			formatTime(file.CreatedAt), formatTime(file.UpdatedAt))
		return classifyError(err)
	})
	return prevLocation, err
}

// GetFile fetches a file row by id. Content bytes are returned as stored;
// resolving disk-backed content is the filestore's job.
func (s *Store) GetFile(ctx context.Context, id string) (*types.ProjectFile, error) {
	row := s.db.QueryRowContext(ctx, fileSelect+` WHERE id = ?`, id)
	file, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load file: %w", err)
	}
	return file, nil
}

// GetFileByPath fetches a file row by its unique (project_id, path) key.
func (s *Store) GetFileByPath(ctx context.Context, projectID, path string) (*types.ProjectFile, error) {
	row := s.db.QueryRowContext(ctx, fileSelect+` WHERE project_id = ? AND path = ?`, projectID, path)
	file, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("file %s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load file: %w", err)
	}
	return file, nil
}

// ListFiles returns a page of a project's files ordered by path. filter
// supports '*' wildcards matched against the path.
func (s *Store) ListFiles(ctx context.Context, projectID string, limit, offset int, filter string) ([]*types.ProjectFile, int, error) {
	where := `WHERE project_id = ?`
	args := []any{projectID}
	if filter != "" {
		where += ` AND path LIKE ?`
		args = append(args, strings.ReplaceAll(filter, "*", "%"))
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM project_files `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count files: %w", err)
	}

	query := fileSelect + ` ` + where + ` ORDER BY path LIMIT ? OFFSET ?`
	args = append(args, limit, offset)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var files []*types.ProjectFile
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, 0, err
		}
		files = append(files, file)
	}
	return files, total, rows.Err()
}

// ListProjectFileIDs returns all file ids of a project (reindex iteration).
func (s *Store) ListProjectFileIDs(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM project_files WHERE project_id = ? ORDER BY path`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list file ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteFile removes a file row; chunk and index rows follow through
// triggers. Returns the content_location so the caller can unlink the blob.
func (s *Store) DeleteFile(ctx context.Context, id string) (location string, err error) {
	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		var loc sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT content_location FROM project_files WHERE id = ?`, id).Scan(&loc)
		if err == sql.ErrNoRows {
			return fmt.Errorf("file %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}
		location = loc.String
		_, err = tx.ExecContext(ctx, `DELETE FROM project_files WHERE id = ?`, id)
		return classifyError(err)
	})
	return location, err
}

// MergeFileMetadata merges patch into the file's metadata JSON (used for
// last_indexed_at stamping).
func (s *Store) MergeFileMetadata(ctx context.Context, id string, patch map[string]any) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx,
			`SELECT metadata FROM project_files WHERE id = ?`, id).Scan(&current)
		if err == sql.ErrNoRows {
			return fmt.Errorf("file %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}
		merged := unmarshalMap(current)
		if merged == nil {
			merged = make(map[string]any, len(patch))
		}
		for k, v := range patch {
			merged[k] = v
		}
		metadata, err := marshalMap(merged)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE project_files SET metadata = ?, updated_at = ? WHERE id = ?`,
			metadata, formatTime(time.Now().UTC()), id)
		return classifyError(err)
	})
}

const fileSelect = `
	SELECT id, project_id, path, content, content_location, content_hash,
	       mime_type, size_bytes, metadata, created_at, updated_at
	FROM project_files`

func scanFile(row rowScanner) (*types.ProjectFile, error) {
	var f types.ProjectFile
	var content, location sql.NullString
	var metadata, createdAt, updatedAt string
	err := row.Scan(&f.ID, &f.ProjectID, &f.Path, &content, &location, &f.ContentHash,
		&f.MimeType, &f.SizeBytes, &metadata, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	f.Content = content.String
	f.ContentLocation = location.String
	f.Metadata = unmarshalMap(metadata)
	f.CreatedAt = parseTime(createdAt)
	f.UpdatedAt = parseTime(updatedAt)
	return &f, nil
}
