package models

import (
	"time"

	"github.com/google/uuid"
)

// --- Request Structs ---

// SignupRequest defines the expected body for the signup endpoint.
type SignupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// LoginRequest defines the expected body for the login endpoint.
type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// CreateProjectRequest starts a new project from a natural-language description.
type CreateProjectRequest struct {
	InitialPrompt string  `json:"initial_prompt" validate:"required"`
	Name          *string `json:"name,omitempty" validate:"omitempty,max=120"`
}

// RevisionRequest asks the AI backend to change the current code.
type RevisionRequest struct {
	Message string `json:"message" validate:"required"`
}

// RollbackRequest points the project back at an earlier version.
type RollbackRequest struct {
	VersionID uuid.UUID `json:"version_id" validate:"required"`
}

// SaveCodeRequest overrides the current code with a manual edit.
type SaveCodeRequest struct {
	Code string `json:"code" validate:"required"`
}

// --- Response Structs ---

// UserResponse defines the user information returned by the API.
type UserResponse struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
}

// AuthResponse defines the response body for successful authentication.
type AuthResponse struct {
	AccessToken string       `json:"access_token"`
	User        UserResponse `json:"user"`
}

// ErrorResponse defines the standard structure for API errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ProjectResponse is the client view of a project.
// An empty CurrentCode together with a PENDING status means the first generation is still running.
type ProjectResponse struct {
	ID               uuid.UUID        `json:"id"`
	OwnerID          uuid.UUID        `json:"owner_id"`
	Name             string           `json:"name"`
	InitialPrompt    string           `json:"initial_prompt"`
	IsPublished      bool             `json:"is_published"`
	CurrentVersionID *uuid.UUID       `json:"current_version_id"`
	CurrentCode      string           `json:"current_code"`
	GenerationStatus GenerationStatus `json:"generation_status"`
	GenerationError  *string          `json:"generation_error,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// ProjectDetailResponse is a project plus its merged timeline.
type ProjectDetailResponse struct {
	Project  ProjectResponse `json:"project"`
	Timeline []TimelineEntry `json:"timeline"`
}

// ListProjectsResponse wraps the caller's projects.
type ListProjectsResponse struct {
	Projects []ProjectResponse `json:"projects"`
}

// CreateProjectResponse is returned once the initial generation has been accepted.
type CreateProjectResponse struct {
	ProjectID uuid.UUID       `json:"project_id"`
	Project   ProjectResponse `json:"project"`
}

// RevisionAcceptedResponse carries the user message recorded for an accepted revision.
type RevisionAcceptedResponse struct {
	Message Message `json:"message"`
}

// PublishResponse carries the publish flag after a toggle.
type PublishResponse struct {
	IsPublished bool `json:"is_published"`
}

// TimelineResponse wraps a merged timeline.
type TimelineResponse struct {
	Timeline []TimelineEntry `json:"timeline"`
}

// VersionResponse is one version including its full code.
type VersionResponse struct {
	ID                uuid.UUID     `json:"id"`
	ProjectID         uuid.UUID     `json:"project_id"`
	Source            VersionSource `json:"source"`
	CausedByMessageID *uuid.UUID    `json:"caused_by_message_id,omitempty"`
	Code              string        `json:"code"`
	IsCurrent         bool          `json:"is_current"`
	Timestamp         time.Time     `json:"timestamp"`
}

// --- Timeline ---

// TimelineKind discriminates timeline entries.
type TimelineKind string

const (
	TimelineKindMessage TimelineKind = "message"
	TimelineKindVersion TimelineKind = "version"
)

// VersionMarker is how a version appears in the timeline. Code is fetched separately.
type VersionMarker struct {
	ID                uuid.UUID     `json:"id"`
	Source            VersionSource `json:"source"`
	CausedByMessageID *uuid.UUID    `json:"caused_by_message_id,omitempty"`
	IsCurrent         bool          `json:"is_current"`
	Timestamp         time.Time     `json:"timestamp"`
}

// TimelineEntry is exactly one of Message or Version, as named by Kind.
type TimelineEntry struct {
	Kind      TimelineKind   `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	Message   *Message       `json:"message,omitempty"`
	Version   *VersionMarker `json:"version,omitempty"`
	Seq       int64          `json:"-"`
}

// NewProjectResponse converts a stored project into its client view.
func NewProjectResponse(p *Project) ProjectResponse {
	return ProjectResponse{
		ID:               p.ID,
		OwnerID:          p.OwnerID,
		Name:             p.Name,
		InitialPrompt:    p.InitialPrompt,
		IsPublished:      p.IsPublished,
		CurrentVersionID: p.CurrentVersionID,
		CurrentCode:      p.CurrentCode,
		GenerationStatus: p.GenerationStatus,
		GenerationError:  p.GenerationError,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

// NewVersionResponse converts a stored version; currentVersionID marks whether it is current.
func NewVersionResponse(v *Version, currentVersionID *uuid.UUID) VersionResponse {
	return VersionResponse{
		ID:                v.ID,
		ProjectID:         v.ProjectID,
		Source:            v.Source,
		CausedByMessageID: v.CausedByMessageID,
		Code:              v.Code,
		IsCurrent:         currentVersionID != nil && *currentVersionID == v.ID,
		Timestamp:         v.Timestamp,
	}
}
