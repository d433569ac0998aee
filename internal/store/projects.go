package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"conclave/pkg/types"
)

// DefaultProjectKey is the well-known settings key recording the id of the
// project seeded at first boot.
const DefaultProjectKey = "default_project_id"

// CreateProject inserts a new project. A missing id is generated; empty
// settings default to the empty object.
func (s *Store) CreateProject(ctx context.Context, project *types.Project) error {
	if project.ID == "" {
		project.ID = types.NewID()
	}
	now := time.Now().UTC()
	if project.CreatedAt.IsZero() {
		project.CreatedAt = now
	}
	project.UpdatedAt = now

	settings := "{}"
	if len(project.Settings) > 0 {
		settings = string(project.Settings)
	}

	return s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projects (id, name, description, settings, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			project.ID, project.Name, project.Description, settings,
			formatTime(project.CreatedAt), formatTime(project.UpdatedAt))
		if err != nil {
			return classifyError(err)
		}
		return nil
	})
}

// GetProject fetches a project by id.
func (s *Store) GetProject(ctx context.Context, id string) (*types.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, settings, created_at, updated_at
		FROM projects WHERE id = ?`, id)

	var p types.Project
	var settings, createdAt, updatedAt string
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &settings, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	p.Settings = json.RawMessage(settings)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

// DeleteProject removes a project; conversations, messages, files, chunks
// and index rows follow through cascades and triggers.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
		if err != nil {
			return classifyError(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("project %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

// EnsureDefaultProject seeds the default project on first boot and records
// its id under DefaultProjectKey. Subsequent calls return the recorded id.
func (s *Store) EnsureDefaultProject(ctx context.Context) (string, error) {
	if id, err := s.GetSetting(ctx, DefaultProjectKey); err == nil && id != "" {
		// Guard against a stale pointer to a deleted project.
		if _, err := s.GetProject(ctx, id); err == nil {
			return id, nil
		}
	}

	project := &types.Project{
		Name:        "Default Project",
		Description: "Auto-created project for conversations without an explicit project",
	}
	if err := s.CreateProject(ctx, project); err != nil {
		return "", fmt.Errorf("failed to seed default project: %w", err)
	}
	if err := s.SetSetting(ctx, DefaultProjectKey, project.ID); err != nil {
		return "", fmt.Errorf("failed to record default project id: %w", err)
	}
	s.logger.Info("default project seeded", "project_id", project.ID)
	return project.ID, nil
}

// GetSetting reads a settings value. Missing keys return ErrNotFound.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("setting %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read setting: %w", err)
	}
	return value, nil
}

// SetSetting writes a settings value, replacing any previous one.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO settings (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
		return classifyError(err)
	})
}
