package store

import (
	"buildmysite-backend/internal/models"
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a specific record is not found.
var ErrNotFound = errors.New("record not found")

// ErrDuplicate is returned when a unique constraint (e.g. user email) is violated.
var ErrDuplicate = errors.New("record already exists")

// ErrGenerationInProgress is returned when a project already holds a pending generation claim
// and the requested mutation cannot proceed alongside it.
var ErrGenerationInProgress = errors.New("generation already in progress")

// ErrStaleGeneration is returned when a generation tries to finish after its claim was taken over.
var ErrStaleGeneration = errors.New("generation claim no longer held")

// CreateProjectParams contains parameters for creating a project.
type CreateProjectParams struct {
	ID            uuid.UUID
	OwnerID       uuid.UUID
	Name          string
	InitialPrompt string
}

// BeginGenerationParams claims the project's generation slot and records the user's request.
// A PENDING claim older than StaleAfter may be taken over; zero disables takeover.
type BeginGenerationParams struct {
	ProjectID  uuid.UUID
	Message    models.Message // Role/Content required; ID and timestamps are filled in when empty
	StaleAfter time.Duration
}

// GenerationClaim is what BeginGeneration hands back: the recorded user message, which is also
// the claim token, and the current version read under the same lock as the claim.
type GenerationClaim struct {
	Message       models.Message
	BaseVersionID *uuid.UUID // nil when the project has no version yet
	BaseCode      string
}

// ExpireGenerationParams fails a PENDING claim that has outlived StaleAfter.
type ExpireGenerationParams struct {
	ProjectID  uuid.UUID
	StaleAfter time.Duration
	Reason     string
}

// CommitGenerationParams finishes a claimed generation with new code.
type CommitGenerationParams struct {
	ProjectID        uuid.UUID
	ClaimMessageID   uuid.UUID // the user message returned by BeginGeneration
	Code             string
	AssistantMessage *string // optional assistant reply appended in the same transaction
}

// FailGenerationParams finishes a claimed generation without a version.
type FailGenerationParams struct {
	ProjectID      uuid.UUID
	ClaimMessageID uuid.UUID
	Reason         string
}

// SaveCodeParams records a manual edit as a new version.
type SaveCodeParams struct {
	ProjectID uuid.UUID
	Code      string
}

// Store defines the interface for persistence of projects, versions and conversations.
// Every mutating method is atomic with respect to a single project.
type Store interface {
	// User operations
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error

	// Project operations
	CreateProject(ctx context.Context, arg CreateProjectParams) (*models.Project, error)
	GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)
	GetProjectSnapshot(ctx context.Context, id uuid.UUID) (*models.ProjectSnapshot, error)
	ListProjectsByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Project, error)
	DeleteProject(ctx context.Context, id uuid.UUID) error
	TogglePublish(ctx context.Context, id uuid.UUID) (bool, error)

	// Version operations
	GetVersion(ctx context.Context, projectID, versionID uuid.UUID) (*models.Version, error)
	SetCurrentVersion(ctx context.Context, projectID, versionID uuid.UUID) (*models.Project, error)
	SaveCode(ctx context.Context, arg SaveCodeParams) (*models.Version, error)

	// Generation lifecycle
	BeginGeneration(ctx context.Context, arg BeginGenerationParams) (*GenerationClaim, error)
	CommitGeneration(ctx context.Context, arg CommitGenerationParams) (*models.Version, error)
	FailGeneration(ctx context.Context, arg FailGenerationParams) error
	// ExpireStaleGeneration reports whether it turned an abandoned claim into FAILED.
	// Fresh claims, other states and unknown projects report false.
	ExpireStaleGeneration(ctx context.Context, arg ExpireGenerationParams) (bool, error)
	ClearGenerationFailure(ctx context.Context, projectID uuid.UUID) (*models.Project, error)
}
