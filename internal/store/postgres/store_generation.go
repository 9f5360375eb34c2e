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

// lockProject takes the row lock that serialises every multi-statement mutation of a project.
func lockProject(ctx context.Context, tx pgx.Tx, projectID uuid.UUID) (models.GenerationStatus, *uuid.UUID, error) {
	var status models.GenerationStatus
	var claim *uuid.UUID
	err := tx.QueryRow(ctx,
		`SELECT generation_status, generation_message_id FROM projects WHERE id = $1 FOR UPDATE`,
		projectID,
	).Scan(&status, &claim)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil, store.ErrNotFound
		}
		return "", nil, fmt.Errorf("failed to lock project: %w", err)
	}
	return status, claim, nil
}

func insertVersion(ctx context.Context, tx pgx.Tx, projectID uuid.UUID, code string, source models.VersionSource, causedBy *uuid.UUID) (*models.Version, error) {
	const insert = `
		INSERT INTO versions (id, project_id, code, source, caused_by_message_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING seq, created_at`

	v := &models.Version{
		ID:                uuid.New(),
		ProjectID:         projectID,
		Code:              code,
		Source:            source,
		CausedByMessageID: causedBy,
	}
	if err := tx.QueryRow(ctx, insert, v.ID, v.ProjectID, v.Code, string(v.Source), v.CausedByMessageID).Scan(&v.Seq, &v.Timestamp); err != nil {
		return nil, fmt.Errorf("failed to insert version: %w", err)
	}
	return v, nil
}

func insertMessage(ctx context.Context, tx pgx.Tx, m *models.Message) error {
	const insert = `
		INSERT INTO messages (id, project_id, role, content)
		VALUES ($1, $2, $3, $4)
		RETURNING seq, created_at`

	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if err := tx.QueryRow(ctx, insert, m.ID, m.ProjectID, string(m.Role), m.Content).Scan(&m.Seq, &m.Timestamp); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// BeginGeneration claims the generation slot and appends the user's message in one transaction.
// If the slot is held by a claim younger than StaleAfter nothing is written. The current
// version is read under the same row lock, so the claim carries the code it builds on.
func (s *PostgresStore) BeginGeneration(ctx context.Context, arg store.BeginGenerationParams) (*store.GenerationClaim, error) {
	claim := &store.GenerationClaim{Message: arg.Message}
	claim.Message.ProjectID = arg.ProjectID

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var status models.GenerationStatus
		var stale bool
		err := tx.QueryRow(ctx, `
			SELECT p.generation_status,
			       COALESCE(p.generation_started_at < NOW() - make_interval(secs => $2), FALSE),
			       p.current_version_id, COALESCE(v.code, '')
			FROM projects p
			LEFT JOIN versions v ON v.id = p.current_version_id AND v.project_id = p.id
			WHERE p.id = $1
			FOR UPDATE OF p`,
			arg.ProjectID, arg.StaleAfter.Seconds(),
		).Scan(&status, &stale, &claim.BaseVersionID, &claim.BaseCode)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrNotFound
			}
			return fmt.Errorf("failed to lock project: %w", err)
		}

		if status == models.GenerationPending {
			if arg.StaleAfter <= 0 || !stale {
				return store.ErrGenerationInProgress
			}
			s.logger.Warn("Taking over stale generation claim", zap.Stringer("project_id", arg.ProjectID))
		}

		if err := insertMessage(ctx, tx, &claim.Message); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE projects
			SET generation_status = 'PENDING', generation_error = NULL,
			    generation_message_id = $2, generation_started_at = NOW(), updated_at = NOW()
			WHERE id = $1`,
			arg.ProjectID, claim.Message.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to claim generation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Generation claimed", zap.Stringer("project_id", arg.ProjectID), zap.Stringer("message_id", claim.Message.ID))
	return claim, nil
}

// CommitGeneration inserts the version, repoints the project and releases the claim atomically.
func (s *PostgresStore) CommitGeneration(ctx context.Context, arg store.CommitGenerationParams) (*models.Version, error) {
	var version *models.Version

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		status, claim, err := lockProject(ctx, tx, arg.ProjectID)
		if err != nil {
			return err
		}
		if status != models.GenerationPending || claim == nil || *claim != arg.ClaimMessageID {
			return store.ErrStaleGeneration
		}

		causedBy := arg.ClaimMessageID
		version, err = insertVersion(ctx, tx, arg.ProjectID, arg.Code, models.VersionSourceGeneration, &causedBy)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE projects
			SET current_version_id = $2, generation_status = 'READY', generation_error = NULL,
			    generation_message_id = NULL, generation_started_at = NULL, updated_at = NOW()
			WHERE id = $1`,
			arg.ProjectID, version.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to repoint current version: %w", err)
		}

		if arg.AssistantMessage != nil {
			reply := models.Message{ProjectID: arg.ProjectID, Role: models.RoleAssistant, Content: *arg.AssistantMessage}
			if err := insertMessage(ctx, tx, &reply); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Generation committed", zap.Stringer("project_id", arg.ProjectID), zap.Stringer("version_id", version.ID))
	return version, nil
}

// FailGeneration releases the claim, leaving the current version untouched.
func (s *PostgresStore) FailGeneration(ctx context.Context, arg store.FailGenerationParams) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE projects
		SET generation_status = 'FAILED', generation_error = $3,
		    generation_message_id = NULL, generation_started_at = NULL, updated_at = NOW()
		WHERE id = $1 AND generation_status = 'PENDING' AND generation_message_id = $2`,
		arg.ProjectID, arg.ClaimMessageID, arg.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to record generation failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrStaleGeneration
	}
	return nil
}

// ExpireStaleGeneration fails a PENDING claim older than StaleAfter, judged by the database clock
// like the takeover in BeginGeneration.
func (s *PostgresStore) ExpireStaleGeneration(ctx context.Context, arg store.ExpireGenerationParams) (bool, error) {
	if arg.StaleAfter <= 0 {
		return false, nil
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE projects
		SET generation_status = 'FAILED', generation_error = $3,
		    generation_message_id = NULL, generation_started_at = NULL, updated_at = NOW()
		WHERE id = $1 AND generation_status = 'PENDING'
		  AND generation_started_at < NOW() - make_interval(secs => $2)`,
		arg.ProjectID, arg.StaleAfter.Seconds(), arg.Reason,
	)
	if err != nil {
		return false, fmt.Errorf("failed to expire generation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	s.logger.Warn("Expired stale generation claim", zap.Stringer("project_id", arg.ProjectID))
	return true, nil
}

// ClearGenerationFailure moves a FAILED project back to IDLE. Other non-pending states are left as is.
func (s *PostgresStore) ClearGenerationFailure(ctx context.Context, projectID uuid.UUID) (*models.Project, error) {
	var project *models.Project

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		status, _, err := lockProject(ctx, tx, projectID)
		if err != nil {
			return err
		}
		switch status {
		case models.GenerationPending:
			return store.ErrGenerationInProgress
		case models.GenerationFailed:
			_, err = tx.Exec(ctx, `
				UPDATE projects
				SET generation_status = 'IDLE', generation_error = NULL, updated_at = NOW()
				WHERE id = $1`,
				projectID,
			)
			if err != nil {
				return fmt.Errorf("failed to clear generation failure: %w", err)
			}
		}
		project, err = getProject(ctx, tx, projectID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}
