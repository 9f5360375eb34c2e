package handlers

import (
	"buildmysite-backend/internal/models"
	"buildmysite-backend/internal/services"
	"buildmysite-backend/pkg/httputil"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultWaitTimeout = 25 * time.Second
	maxWaitTimeout     = 60 * time.Second
)

// ProjectHandlers handles HTTP requests related to projects, their versions and generations.
type ProjectHandlers struct {
	projects    *services.ProjectService
	generations *services.GenerationService
	logger      *zap.Logger
}

// NewProjectHandlers creates a new ProjectHandlers instance.
func NewProjectHandlers(projects *services.ProjectService, generations *services.GenerationService, logger *zap.Logger) *ProjectHandlers {
	return &ProjectHandlers{
		projects:    projects,
		generations: generations,
		logger:      logger.Named("project_handler"),
	}
}

// HandleCreateProject handles POST /v1/projects. The initial generation runs in the background.
func (h *ProjectHandlers) HandleCreateProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req models.CreateProjectRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	project, err := h.projects.CreateProject(r.Context(), userID, req)
	if err != nil {
		respondServiceError(w, h.logger, "create_project", err)
		return
	}

	httputil.RespondJSON(w, http.StatusAccepted, models.CreateProjectResponse{
		ProjectID: project.ID,
		Project:   models.NewProjectResponse(project),
	})
}

// HandleListProjects handles GET /v1/projects.
func (h *ProjectHandlers) HandleListProjects(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	projects, err := h.projects.ListProjects(r.Context(), userID)
	if err != nil {
		respondServiceError(w, h.logger, "list_projects", err)
		return
	}

	resp := models.ListProjectsResponse{Projects: make([]models.ProjectResponse, 0, len(projects))}
	for i := range projects {
		resp.Projects = append(resp.Projects, models.NewProjectResponse(&projects[i]))
	}
	httputil.RespondJSON(w, http.StatusOK, resp)
}

// HandleGetProject handles GET /v1/projects/{projectID}.
func (h *ProjectHandlers) HandleGetProject(w http.ResponseWriter, r *http.Request) {
	userID, projectID, ok := h.projectRequest(w, r)
	if !ok {
		return
	}

	detail, err := h.projects.GetProject(r.Context(), userID, projectID)
	if err != nil {
		respondServiceError(w, h.logger, "get_project", err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, models.ProjectDetailResponse{
		Project:  models.NewProjectResponse(&detail.Project),
		Timeline: detail.Timeline,
	})
}

// HandleDeleteProject handles DELETE /v1/projects/{projectID}.
func (h *ProjectHandlers) HandleDeleteProject(w http.ResponseWriter, r *http.Request) {
	userID, projectID, ok := h.projectRequest(w, r)
	if !ok {
		return
	}

	if err := h.projects.DeleteProject(r.Context(), userID, projectID); err != nil {
		respondServiceError(w, h.logger, "delete_project", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetTimeline handles GET /v1/projects/{projectID}/timeline.
func (h *ProjectHandlers) HandleGetTimeline(w http.ResponseWriter, r *http.Request) {
	userID, projectID, ok := h.projectRequest(w, r)
	if !ok {
		return
	}

	timeline, err := h.projects.GetTimeline(r.Context(), userID, projectID)
	if err != nil {
		respondServiceError(w, h.logger, "get_timeline", err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, models.TimelineResponse{Timeline: timeline})
}

// HandleRequestRevision handles POST /v1/projects/{projectID}/revisions.
// It answers 202 with the recorded user message; clients follow the result via polling or events.
func (h *ProjectHandlers) HandleRequestRevision(w http.ResponseWriter, r *http.Request) {
	userID, projectID, ok := h.projectRequest(w, r)
	if !ok {
		return
	}

	var req models.RevisionRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.generations.Submit(r.Context(), userID, projectID, services.GenerationRequest{Prompt: req.Message})
	if err != nil {
		respondServiceError(w, h.logger, "request_revision", err)
		return
	}
	httputil.RespondJSON(w, http.StatusAccepted, models.RevisionAcceptedResponse{Message: *msg})
}

// HandleRollback handles POST /v1/projects/{projectID}/rollback.
func (h *ProjectHandlers) HandleRollback(w http.ResponseWriter, r *http.Request) {
	userID, projectID, ok := h.projectRequest(w, r)
	if !ok {
		return
	}

	var req models.RollbackRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.VersionID == uuid.Nil {
		httputil.RespondError(w, http.StatusBadRequest, "version_id is required")
		return
	}

	project, err := h.projects.Rollback(r.Context(), userID, projectID, req.VersionID)
	if err != nil {
		respondServiceError(w, h.logger, "rollback", err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, models.NewProjectResponse(project))
}

// HandleSaveCode handles PUT /v1/projects/{projectID}/code.
func (h *ProjectHandlers) HandleSaveCode(w http.ResponseWriter, r *http.Request) {
	userID, projectID, ok := h.projectRequest(w, r)
	if !ok {
		return
	}

	var req models.SaveCodeRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	project, err := h.projects.SaveCode(r.Context(), userID, projectID, req)
	if err != nil {
		respondServiceError(w, h.logger, "save_code", err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, models.NewProjectResponse(project))
}

// HandleTogglePublish handles POST /v1/projects/{projectID}/publish.
func (h *ProjectHandlers) HandleTogglePublish(w http.ResponseWriter, r *http.Request) {
	userID, projectID, ok := h.projectRequest(w, r)
	if !ok {
		return
	}

	published, err := h.projects.TogglePublish(r.Context(), userID, projectID)
	if err != nil {
		respondServiceError(w, h.logger, "toggle_publish", err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, models.PublishResponse{IsPublished: published})
}

// HandleDismissGeneration handles DELETE /v1/projects/{projectID}/generation.
func (h *ProjectHandlers) HandleDismissGeneration(w http.ResponseWriter, r *http.Request) {
	userID, projectID, ok := h.projectRequest(w, r)
	if !ok {
		return
	}

	project, err := h.generations.DismissGeneration(r.Context(), userID, projectID)
	if err != nil {
		respondServiceError(w, h.logger, "dismiss_generation", err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, models.NewProjectResponse(project))
}

// HandleGetVersion handles GET /v1/projects/{projectID}/versions/{versionID}.
func (h *ProjectHandlers) HandleGetVersion(w http.ResponseWriter, r *http.Request) {
	userID, projectID, ok := h.projectRequest(w, r)
	if !ok {
		return
	}
	versionID, ok := uuidParam(w, r, "versionID")
	if !ok {
		return
	}

	version, project, err := h.projects.GetVersion(r.Context(), userID, projectID, versionID)
	if err != nil {
		respondServiceError(w, h.logger, "get_version", err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, models.NewVersionResponse(version, project.CurrentVersionID))
}

// HandleWait handles GET /v1/projects/{projectID}/wait?timeout=25s, a long-poll that returns
// once the project leaves PENDING or the timeout elapses.
func (h *ProjectHandlers) HandleWait(w http.ResponseWriter, r *http.Request) {
	userID, projectID, ok := h.projectRequest(w, r)
	if !ok {
		return
	}

	timeout := defaultWaitTimeout
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			httputil.RespondError(w, http.StatusBadRequest, "timeout must be a positive duration such as 25s")
			return
		}
		timeout = min(d, maxWaitTimeout)
	}

	project, err := h.projects.WaitForGeneration(r.Context(), userID, projectID, timeout)
	if err != nil {
		if r.Context().Err() != nil {
			return // client went away
		}
		respondServiceError(w, h.logger, "wait", err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, models.NewProjectResponse(project))
}

// HandlePublishedSite handles GET /sites/{projectID}. It needs no authentication.
func (h *ProjectHandlers) HandlePublishedSite(w http.ResponseWriter, r *http.Request) {
	projectID, ok := uuidParam(w, r, "projectID")
	if !ok {
		return
	}

	html, err := h.projects.GetPublishedSite(r.Context(), projectID)
	if err != nil {
		respondServiceError(w, h.logger, "published_site", err)
		return
	}
	httputil.RespondHTML(w, http.StatusOK, html)
}

func (h *ProjectHandlers) projectRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	projectID, ok := uuidParam(w, r, "projectID")
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return userID, projectID, true
}
