package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents an account that can own projects.
type User struct {
	ID             uuid.UUID `db:"id"`
	Email          string    `db:"email"`
	HashedPassword string    `db:"hashed_password"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// GenerationStatus tracks the asynchronous generation lifecycle of a project.
type GenerationStatus string

const (
	GenerationIdle    GenerationStatus = "IDLE"    // Nothing requested yet, or a failure was dismissed
	GenerationPending GenerationStatus = "PENDING" // A backend call is in flight
	GenerationReady   GenerationStatus = "READY"   // The last generation committed a version
	GenerationFailed  GenerationStatus = "FAILED"  // The last generation failed; see GenerationError
)

// Project is the aggregate root: metadata plus a pointer to the current version.
// CurrentCode is not a column, it is the code of the version CurrentVersionID points at.
type Project struct {
	ID                  uuid.UUID        `db:"id"`
	OwnerID             uuid.UUID        `db:"owner_id"`
	Name                string           `db:"name"`
	InitialPrompt       string           `db:"initial_prompt"`
	IsPublished         bool             `db:"is_published"`
	CurrentVersionID    *uuid.UUID       `db:"current_version_id"` // nil until the first version exists
	CurrentCode         string           `db:"current_code"`
	GenerationStatus    GenerationStatus `db:"generation_status"`
	GenerationError     *string          `db:"generation_error"`
	GenerationMessageID *uuid.UUID       `db:"generation_message_id"` // user message that holds the pending claim
	GenerationStartedAt *time.Time       `db:"generation_started_at"`
	CreatedAt           time.Time        `db:"created_at"`
	UpdatedAt           time.Time        `db:"updated_at"`
}

// IsGenerating reports whether a generation claim is currently held.
func (p *Project) IsGenerating() bool {
	return p.GenerationStatus == GenerationPending
}

// VersionSource records how a version came to exist.
type VersionSource string

const (
	VersionSourceGeneration VersionSource = "generation"
	VersionSourceManual     VersionSource = "manual"
)

// Version is an immutable full snapshot of a project's code.
type Version struct {
	ID                uuid.UUID     `db:"id"`
	ProjectID         uuid.UUID     `db:"project_id"`
	Code              string        `db:"code"`
	Source            VersionSource `db:"source"`
	CausedByMessageID *uuid.UUID    `db:"caused_by_message_id"`
	Seq               int64         `db:"seq"`
	Timestamp         time.Time     `db:"created_at"`
}

// ProjectSnapshot is a project together with its conversation and versions,
// all read at the same point in time.
type ProjectSnapshot struct {
	Project  Project
	Messages []Message
	Versions []Version
}
