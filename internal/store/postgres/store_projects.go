package postgres

import (
	"buildmysite-backend/internal/models"
	"buildmysite-backend/internal/store"
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// selectProject joins the current version so current_code is always the code of the
// version the pointer references.
const selectProject = `
SELECT p.id, p.owner_id, p.name, p.initial_prompt, p.is_published, p.current_version_id,
       COALESCE(v.code, ''), p.generation_status, p.generation_error, p.generation_message_id,
       p.generation_started_at, p.created_at, p.updated_at
FROM projects p
LEFT JOIN versions v ON v.id = p.current_version_id AND v.project_id = p.id
`

func scanProject(row pgx.Row) (*models.Project, error) {
	var p models.Project
	err := row.Scan(
		&p.ID,
		&p.OwnerID,
		&p.Name,
		&p.InitialPrompt,
		&p.IsPublished,
		&p.CurrentVersionID,
		&p.CurrentCode,
		&p.GenerationStatus,
		&p.GenerationError,
		&p.GenerationMessageID,
		&p.GenerationStartedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func getProject(ctx context.Context, q querier, id uuid.UUID) (*models.Project, error) {
	p, err := scanProject(q.QueryRow(ctx, selectProject+`WHERE p.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("error scanning project: %w", err)
	}
	return p, nil
}

const createProject = `
INSERT INTO projects (id, owner_id, name, initial_prompt)
VALUES ($1, $2, $3, $4)
`

func (s *PostgresStore) CreateProject(ctx context.Context, arg store.CreateProjectParams) (*models.Project, error) {
	id := arg.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	if _, err := s.db.Exec(ctx, createProject, id, arg.OwnerID, arg.Name, arg.InitialPrompt); err != nil {
		s.logger.Error("CreateProject failed", zap.Stringer("owner_id", arg.OwnerID), zap.Error(err))
		return nil, fmt.Errorf("database error creating project: %w", err)
	}

	s.logger.Debug("Project created", zap.Stringer("project_id", id), zap.Stringer("owner_id", arg.OwnerID))
	return getProject(ctx, s.db, id)
}

func (s *PostgresStore) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	return getProject(ctx, s.db, id)
}

// GetProjectSnapshot reads the project, its messages and its versions inside one
// repeatable-read transaction. Versions are returned without code.
func (s *PostgresStore) GetProjectSnapshot(ctx context.Context, id uuid.UUID) (*models.ProjectSnapshot, error) {
	var snap models.ProjectSnapshot

	err := pgx.BeginTxFunc(ctx, s.db, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		p, err := getProject(ctx, tx, id)
		if err != nil {
			return err
		}
		snap.Project = *p

		msgs, err := listMessages(ctx, tx, id)
		if err != nil {
			return err
		}
		snap.Messages = msgs

		versions, err := listVersionMarkers(ctx, tx, id)
		if err != nil {
			return err
		}
		snap.Versions = versions
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

const listMessagesByProject = `
SELECT id, project_id, role, content, seq, created_at
FROM messages
WHERE project_id = $1
ORDER BY seq ASC
`

func listMessages(ctx context.Context, tx pgx.Tx, projectID uuid.UUID) ([]models.Message, error) {
	rows, err := tx.Query(ctx, listMessagesByProject, projectID)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %w", err)
	}
	defer rows.Close()

	msgs := []models.Message{}
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Role, &m.Content, &m.Seq, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("error scanning message row: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return msgs, nil
}

const listVersionsByProject = `
SELECT id, project_id, source, caused_by_message_id, seq, created_at
FROM versions
WHERE project_id = $1
ORDER BY seq ASC
`

func listVersionMarkers(ctx context.Context, tx pgx.Tx, projectID uuid.UUID) ([]models.Version, error) {
	rows, err := tx.Query(ctx, listVersionsByProject, projectID)
	if err != nil {
		return nil, fmt.Errorf("error querying versions: %w", err)
	}
	defer rows.Close()

	versions := []models.Version{}
	for rows.Next() {
		var v models.Version
		if err := rows.Scan(&v.ID, &v.ProjectID, &v.Source, &v.CausedByMessageID, &v.Seq, &v.Timestamp); err != nil {
			return nil, fmt.Errorf("error scanning version row: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating version rows: %w", err)
	}
	return versions, nil
}

func (s *PostgresStore) ListProjectsByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Project, error) {
	rows, err := s.db.Query(ctx, selectProject+`WHERE p.owner_id = $1 ORDER BY p.created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("error querying projects: %w", err)
	}
	defer rows.Close()

	projects := []models.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning project row: %w", err)
		}
		projects = append(projects, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating project rows: %w", err)
	}
	return projects, nil
}

// DeleteProject removes the project; versions and messages go with it through FK cascades.
func (s *PostgresStore) DeleteProject(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM projects WHERE id = $1 AND generation_status <> 'PENDING'`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := getProject(ctx, s.db, id); err != nil {
			return err
		}
		return store.ErrGenerationInProgress
	}

	s.logger.Info("Project deleted", zap.Stringer("project_id", id))
	return nil
}

func (s *PostgresStore) TogglePublish(ctx context.Context, id uuid.UUID) (bool, error) {
	const toggle = `
		UPDATE projects
		SET is_published = NOT is_published, updated_at = NOW()
		WHERE id = $1
		RETURNING is_published`

	var published bool
	if err := s.db.QueryRow(ctx, toggle, id).Scan(&published); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, store.ErrNotFound
		}
		return false, fmt.Errorf("failed to toggle publish: %w", err)
	}
	return published, nil
}

const getVersion = `
SELECT id, project_id, code, source, caused_by_message_id, seq, created_at
FROM versions
WHERE project_id = $1 AND id = $2
`

func (s *PostgresStore) GetVersion(ctx context.Context, projectID, versionID uuid.UUID) (*models.Version, error) {
	var v models.Version
	err := s.db.QueryRow(ctx, getVersion, projectID, versionID).Scan(
		&v.ID,
		&v.ProjectID,
		&v.Code,
		&v.Source,
		&v.CausedByMessageID,
		&v.Seq,
		&v.Timestamp,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("error scanning version: %w", err)
	}
	return &v, nil
}

// SetCurrentVersion repoints the project. The version must belong to the same project;
// a foreign or unknown version leaves the row untouched and yields store.ErrNotFound.
// The returned project is read inside the same transaction as the update.
func (s *PostgresStore) SetCurrentVersion(ctx context.Context, projectID, versionID uuid.UUID) (*models.Project, error) {
	const setCurrent = `
		UPDATE projects
		SET current_version_id = $2, updated_at = NOW()
		WHERE id = $1
		  AND EXISTS (SELECT 1 FROM versions WHERE id = $2 AND project_id = $1)`

	var project *models.Project
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, setCurrent, projectID, versionID)
		if err != nil {
			return fmt.Errorf("failed to set current version: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return store.ErrNotFound
		}
		project, err = getProject(ctx, tx, projectID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Current version changed", zap.Stringer("project_id", projectID), zap.Stringer("version_id", versionID))
	return project, nil
}

// SaveCode stores a manual edit as a new version and makes it current.
func (s *PostgresStore) SaveCode(ctx context.Context, arg store.SaveCodeParams) (*models.Version, error) {
	var version *models.Version

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		status, _, err := lockProject(ctx, tx, arg.ProjectID)
		if err != nil {
			return err
		}
		if status == models.GenerationPending {
			return store.ErrGenerationInProgress
		}

		version, err = insertVersion(ctx, tx, arg.ProjectID, arg.Code, models.VersionSourceManual, nil)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `UPDATE projects SET current_version_id = $2, updated_at = NOW() WHERE id = $1`, arg.ProjectID, version.ID)
		if err != nil {
			return fmt.Errorf("failed to repoint current version: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return version, nil
}
