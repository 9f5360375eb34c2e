package services

import (
	"buildmysite-backend/internal/events"
	"buildmysite-backend/internal/models"
	"buildmysite-backend/internal/store"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultNameLength = 60

// ProjectDetail is a project with its merged timeline, read from one snapshot.
type ProjectDetail struct {
	Project  models.Project
	Timeline []models.TimelineEntry
}

// ProjectService exposes the project aggregate: lifecycle, history, rollback and publishing.
type ProjectService struct {
	store       store.Store
	generations *GenerationService
	broker      *events.Broker
	logger      *zap.Logger
}

// NewProjectService creates a new ProjectService.
func NewProjectService(s store.Store, generations *GenerationService, b *events.Broker, logger *zap.Logger) *ProjectService {
	return &ProjectService{
		store:       s,
		generations: generations,
		broker:      b,
		logger:      logger.Named("projects"),
	}
}

// CreateProject inserts the project and submits its initial generation.
// The returned project is PENDING with no code yet.
func (s *ProjectService) CreateProject(ctx context.Context, ownerID uuid.UUID, req models.CreateProjectRequest) (*models.Project, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	prompt, err := cleanPrompt(req.InitialPrompt, s.generations.opts.MaxPromptLength)
	if err != nil {
		return nil, err
	}

	name := defaultProjectName(prompt)
	if req.Name != nil && strings.TrimSpace(*req.Name) != "" {
		name = strings.TrimSpace(*req.Name)
	}

	project, err := s.store.CreateProject(ctx, store.CreateProjectParams{
		OwnerID:       ownerID,
		Name:          name,
		InitialPrompt: prompt,
	})
	if err != nil {
		s.logger.Error("Failed to create project", zap.Stringer("owner_id", ownerID), zap.Error(err))
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	if _, err := s.generations.Submit(ctx, ownerID, project.ID, GenerationRequest{IsInitial: true, Prompt: prompt}); err != nil {
		return nil, err
	}

	s.logger.Info("Project created", zap.Stringer("project_id", project.ID), zap.Stringer("owner_id", ownerID))
	return s.store.GetProject(ctx, project.ID)
}

// defaultProjectName is the first line of the prompt, cut to defaultNameLength runes.
func defaultProjectName(prompt string) string {
	line, _, _ := strings.Cut(prompt, "\n")
	line = strings.TrimSpace(line)
	if r := []rune(line); len(r) > defaultNameLength {
		line = strings.TrimSpace(string(r[:defaultNameLength])) + "…"
	}
	return line
}

// Authorize checks that ownerID owns projectID and returns the project.
func (s *ProjectService) Authorize(ctx context.Context, ownerID, projectID uuid.UUID) (*models.Project, error) {
	return s.generations.loadProject(ctx, ownerID, projectID)
}

// ListProjects returns the owner's projects, newest first.
func (s *ProjectService) ListProjects(ctx context.Context, ownerID uuid.UUID) ([]models.Project, error) {
	projects, err := s.store.ListProjectsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	for i := range projects {
		projects[i] = *s.generations.expireStale(ctx, &projects[i])
	}
	return projects, nil
}

// GetProject returns the project and its timeline as of a single point in time.
func (s *ProjectService) GetProject(ctx context.Context, ownerID, projectID uuid.UUID) (*ProjectDetail, error) {
	snap, err := s.store.GetProjectSnapshot(ctx, projectID)
	if err != nil {
		return nil, translateStoreError(err, "project")
	}
	if snap.Project.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	if snap.Project.IsGenerating() && !s.generations.expireStale(ctx, &snap.Project).IsGenerating() {
		if snap, err = s.store.GetProjectSnapshot(ctx, projectID); err != nil {
			return nil, translateStoreError(err, "project")
		}
	}
	return &ProjectDetail{
		Project:  snap.Project,
		Timeline: BuildTimeline(snap.Messages, snap.Versions, snap.Project.CurrentVersionID),
	}, nil
}

// GetTimeline returns only the merged timeline.
func (s *ProjectService) GetTimeline(ctx context.Context, ownerID, projectID uuid.UUID) ([]models.TimelineEntry, error) {
	detail, err := s.GetProject(ctx, ownerID, projectID)
	if err != nil {
		return nil, err
	}
	return detail.Timeline, nil
}

// GetVersion returns one version of the project including its code.
func (s *ProjectService) GetVersion(ctx context.Context, ownerID, projectID, versionID uuid.UUID) (*models.Version, *models.Project, error) {
	project, err := loadOwnedProject(ctx, s.store, ownerID, projectID)
	if err != nil {
		return nil, nil, err
	}
	v, err := s.store.GetVersion(ctx, projectID, versionID)
	if err != nil {
		return nil, nil, translateStoreError(err, "version")
	}
	return v, project, nil
}

// Rollback makes versionID current again. The version must belong to projectID; history is not touched.
func (s *ProjectService) Rollback(ctx context.Context, ownerID, projectID, versionID uuid.UUID) (*models.Project, error) {
	if _, err := loadOwnedProject(ctx, s.store, ownerID, projectID); err != nil {
		return nil, err
	}

	project, err := s.store.SetCurrentVersion(ctx, projectID, versionID)
	if err != nil {
		return nil, translateStoreError(err, "version")
	}

	s.logger.Info("Rolled back project", zap.Stringer("project_id", projectID), zap.Stringer("version_id", versionID))
	s.broker.Publish(events.Event{Type: events.ProjectUpdated, ProjectID: projectID, VersionID: &versionID})
	return project, nil
}

// SaveCode stores a manual edit as a new current version.
func (s *ProjectService) SaveCode(ctx context.Context, ownerID, projectID uuid.UUID, req models.SaveCodeRequest) (*models.Project, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Code) == "" {
		return nil, fmt.Errorf("%w: code cannot be empty", ErrValidation)
	}
	if _, err := s.generations.loadProject(ctx, ownerID, projectID); err != nil {
		return nil, err
	}

	v, err := s.store.SaveCode(ctx, store.SaveCodeParams{ProjectID: projectID, Code: req.Code})
	if err != nil {
		return nil, translateStoreError(err, "project")
	}

	versionID := v.ID
	s.broker.Publish(events.Event{Type: events.ProjectUpdated, ProjectID: projectID, VersionID: &versionID})
	return s.store.GetProject(ctx, projectID)
}

// TogglePublish flips the publish flag and returns the new value.
func (s *ProjectService) TogglePublish(ctx context.Context, ownerID, projectID uuid.UUID) (bool, error) {
	if _, err := loadOwnedProject(ctx, s.store, ownerID, projectID); err != nil {
		return false, err
	}
	published, err := s.store.TogglePublish(ctx, projectID)
	if err != nil {
		return false, translateStoreError(err, "project")
	}
	s.broker.Publish(events.Event{Type: events.ProjectUpdated, ProjectID: projectID})
	return published, nil
}

// DeleteProject removes the project with all of its versions and messages.
func (s *ProjectService) DeleteProject(ctx context.Context, ownerID, projectID uuid.UUID) error {
	if _, err := s.generations.loadProject(ctx, ownerID, projectID); err != nil {
		return err
	}
	if err := s.store.DeleteProject(ctx, projectID); err != nil {
		return translateStoreError(err, "project")
	}

	s.logger.Info("Project deleted", zap.Stringer("project_id", projectID))
	s.broker.Publish(events.Event{Type: events.ProjectDeleted, ProjectID: projectID})
	return nil
}

// GetPublishedSite returns the current code of a published project. Anyone may call it.
func (s *ProjectService) GetPublishedSite(ctx context.Context, projectID uuid.UUID) (string, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return "", translateStoreError(err, "site")
	}
	if !project.IsPublished || project.CurrentCode == "" {
		return "", fmt.Errorf("%w: site", ErrNotFound)
	}
	return project.CurrentCode, nil
}

// WaitForGeneration blocks until the project is no longer PENDING or timeout elapses,
// then returns the project as it is at that moment.
func (s *ProjectService) WaitForGeneration(ctx context.Context, ownerID, projectID uuid.UUID, timeout time.Duration) (*models.Project, error) {
	// Subscribe before reading so a completion between the read and the wait is not missed.
	updates, cancel := s.broker.Subscribe(projectID)
	defer cancel()

	project, err := s.generations.loadProject(ctx, ownerID, projectID)
	if err != nil {
		return nil, err
	}
	if !project.IsGenerating() {
		return project, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ev := <-updates:
			if ev.Type == events.ProjectDeleted {
				return nil, fmt.Errorf("%w: project", ErrNotFound)
			}
			if !ev.Terminal() {
				continue
			}
			// The event may belong to an earlier generation; only a settled project ends the wait.
			if project, err = s.reload(ctx, projectID); err != nil || !project.IsGenerating() {
				return project, err
			}
		case <-timer.C:
			return s.reload(ctx, projectID)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *ProjectService) reload(ctx context.Context, projectID uuid.UUID) (*models.Project, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, translateStoreError(err, "project")
	}
	return s.generations.expireStale(ctx, project), nil
}
