package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"buildmysite-backend/internal/events"
	"buildmysite-backend/internal/generator"
	"buildmysite-backend/internal/handlers"
	"buildmysite-backend/internal/models"
	"buildmysite-backend/internal/services"
	"buildmysite-backend/internal/store/memory"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

// gatedGenerator holds every call until release is closed.
type gatedGenerator struct {
	release chan struct{}
}

func (g *gatedGenerator) Generate(ctx context.Context, req generator.Request) (string, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return generator.TemplateGenerator{}.Generate(ctx, req)
}

type testServer struct {
	*httptest.Server
}

func newTestServer(t *testing.T, g generator.Generator) *testServer {
	t.Helper()
	logger := zap.NewNop()
	st := memory.NewMemoryStore()
	broker := events.NewBroker()

	generations := services.NewGenerationService(st, g, broker, services.GenerationOptions{
		Timeout:         5 * time.Second,
		MaxPromptLength: 500,
	}, logger)
	projects := services.NewProjectService(st, generations, broker, logger)
	authSvc := services.NewAuthService(st, services.AuthOptions{JWTSecret: testSecret, TokenExpiration: time.Hour}, logger)

	router := NewRouter(RouterDependencies{
		AuthHandler:    handlers.NewAuthHandler(authSvc, logger),
		ProjectHandler: handlers.NewProjectHandlers(projects, generations, logger),
		EventsHandler:  handlers.NewEventsHandler(projects, broker, []string{"http://localhost:5173"}, logger),
		JWTSecret:      testSecret,
		TrustedOrigins: []string{"http://localhost:5173"},
		Logger:         logger,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		assert.NoError(t, generations.Shutdown(ctx))
	})
	return &testServer{Server: srv}
}

// do sends a JSON request and decodes a JSON answer into out when out is non-nil.
func (s *testServer) do(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out), "%s %s", method, path)
	}
	return resp.StatusCode
}

func (s *testServer) signup(t *testing.T, email string) string {
	t.Helper()
	creds := models.SignupRequest{Email: email, Password: "long-enough-password"}
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/v1/auth/signup", "", creds, nil))

	var auth models.AuthResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/v1/auth/login", "", models.LoginRequest{Email: email, Password: creds.Password}, &auth))
	require.NotEmpty(t, auth.AccessToken)
	return auth.AccessToken
}

func (s *testServer) createProject(t *testing.T, token, prompt string) uuid.UUID {
	t.Helper()
	var created models.CreateProjectResponse
	status := s.do(t, http.MethodPost, "/v1/projects", token, models.CreateProjectRequest{InitialPrompt: prompt}, &created)
	require.Equal(t, http.StatusAccepted, status)
	require.NotEqual(t, uuid.Nil, created.ProjectID)
	return created.ProjectID
}

func (s *testServer) waitSettled(t *testing.T, token string, projectID uuid.UUID) models.ProjectResponse {
	t.Helper()
	var project models.ProjectResponse
	status := s.do(t, http.MethodGet, "/v1/projects/"+projectID.String()+"/wait?timeout=5s", token, nil, &project)
	require.Equal(t, http.StatusOK, status)
	require.NotEqual(t, models.GenerationPending, project.GenerationStatus)
	return project
}

func TestAuthEndpoints(t *testing.T) {
	srv := newTestServer(t, generator.TemplateGenerator{})
	srv.signup(t, "ada@example.com")

	var errResp models.ErrorResponse
	status := srv.do(t, http.MethodPost, "/v1/auth/signup", "", models.SignupRequest{Email: "ada@example.com", Password: "long-enough-password"}, &errResp)
	assert.Equal(t, http.StatusConflict, status)

	status = srv.do(t, http.MethodPost, "/v1/auth/signup", "", models.SignupRequest{Email: "not-an-email", Password: "long-enough-password"}, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)

	status = srv.do(t, http.MethodPost, "/v1/auth/login", "", models.LoginRequest{Email: "ada@example.com", Password: "wrong-password"}, &errResp)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestProjectRoutesRequireToken(t *testing.T) {
	srv := newTestServer(t, generator.TemplateGenerator{})

	var errResp models.ErrorResponse
	assert.Equal(t, http.StatusUnauthorized, srv.do(t, http.MethodGet, "/v1/projects", "", nil, &errResp))
	assert.Equal(t, http.StatusUnauthorized, srv.do(t, http.MethodGet, "/v1/projects", "garbage", nil, &errResp))
	assert.Equal(t, "Malformed token", errResp.Error)
}

func TestProjectLifecycle(t *testing.T) {
	srv := newTestServer(t, generator.TemplateGenerator{})
	token := srv.signup(t, "ada@example.com")
	projectID := srv.createProject(t, token, "A bakery landing page")
	base := "/v1/projects/" + projectID.String()

	first := srv.waitSettled(t, token, projectID)
	require.Equal(t, models.GenerationReady, first.GenerationStatus)
	require.NotNil(t, first.CurrentVersionID)
	assert.Contains(t, first.CurrentCode, "A bakery landing page")
	assert.Equal(t, "A bakery landing page", first.Name)

	var list models.ListProjectsResponse
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, "/v1/projects", token, nil, &list))
	require.Len(t, list.Projects, 1)

	var accepted models.RevisionAcceptedResponse
	require.Equal(t, http.StatusAccepted, srv.do(t, http.MethodPost, base+"/revisions", token, models.RevisionRequest{Message: "make it blue"}, &accepted))
	assert.Equal(t, models.RoleUser, accepted.Message.Role)
	assert.Equal(t, "make it blue", accepted.Message.Content)

	second := srv.waitSettled(t, token, projectID)
	require.Equal(t, models.GenerationReady, second.GenerationStatus)
	assert.NotEqual(t, *first.CurrentVersionID, *second.CurrentVersionID)
	assert.Contains(t, second.CurrentCode, "Revised: make it blue")

	var detail models.ProjectDetailResponse
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, base, token, nil, &detail))
	require.Len(t, detail.Timeline, 6)
	var versions int
	for i, entry := range detail.Timeline {
		if i > 0 {
			assert.False(t, entry.Timestamp.Before(detail.Timeline[i-1].Timestamp))
		}
		if entry.Kind == models.TimelineKindVersion {
			versions++
			assert.Equal(t, entry.Version.ID == *second.CurrentVersionID, entry.Version.IsCurrent)
		}
	}
	assert.Equal(t, 2, versions)

	var rolled models.ProjectResponse
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodPost, base+"/rollback", token, models.RollbackRequest{VersionID: *first.CurrentVersionID}, &rolled))
	assert.Equal(t, first.CurrentVersionID, rolled.CurrentVersionID)
	assert.Equal(t, first.CurrentCode, rolled.CurrentCode)

	var version models.VersionResponse
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, base+"/versions/"+second.CurrentVersionID.String(), token, nil, &version))
	assert.False(t, version.IsCurrent)
	assert.Equal(t, second.CurrentCode, version.Code)

	var saved models.ProjectResponse
	manual := "<!DOCTYPE html><p>hand made</p>"
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodPut, base+"/code", token, models.SaveCodeRequest{Code: manual}, &saved))
	assert.Equal(t, manual, saved.CurrentCode)

	var timeline models.TimelineResponse
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, base+"/timeline", token, nil, &timeline))
	last := timeline.Timeline[len(timeline.Timeline)-1]
	require.Equal(t, models.TimelineKindVersion, last.Kind)
	assert.Equal(t, models.VersionSourceManual, last.Version.Source)
	assert.True(t, last.Version.IsCurrent)

	var errResp models.ErrorResponse
	assert.Equal(t, http.StatusNoContent, srv.do(t, http.MethodDelete, base, token, nil, nil))
	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodGet, base, token, nil, &errResp))
}

func TestPublishedSite(t *testing.T) {
	srv := newTestServer(t, generator.TemplateGenerator{})
	token := srv.signup(t, "ada@example.com")
	projectID := srv.createProject(t, token, "A bakery landing page")
	project := srv.waitSettled(t, token, projectID)

	sitePath := srv.URL + "/sites/" + projectID.String()
	resp, err := http.Get(sitePath)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var published models.PublishResponse
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodPost, "/v1/projects/"+projectID.String()+"/publish", token, nil, &published))
	assert.True(t, published.IsPublished)

	resp, err = http.Get(sitePath)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html"))
	assert.Equal(t, project.CurrentCode, string(body))

	require.Equal(t, http.StatusOK, srv.do(t, http.MethodPost, "/v1/projects/"+projectID.String()+"/publish", token, nil, &published))
	assert.False(t, published.IsPublished)
}

func TestRevisionWhilePendingIsRejected(t *testing.T) {
	gate := &gatedGenerator{release: make(chan struct{})}
	srv := newTestServer(t, gate)
	token := srv.signup(t, "ada@example.com")
	projectID := srv.createProject(t, token, "A bakery landing page")
	base := "/v1/projects/" + projectID.String()

	var errResp models.ErrorResponse
	assert.Equal(t, http.StatusConflict, srv.do(t, http.MethodPost, base+"/revisions", token, models.RevisionRequest{Message: "make it blue"}, &errResp))
	assert.Equal(t, http.StatusConflict, srv.do(t, http.MethodPut, base+"/code", token, models.SaveCodeRequest{Code: "<p>x</p>"}, &errResp))

	var pending models.ProjectResponse
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, base+"/wait?timeout=50ms", token, nil, &pending))
	assert.Equal(t, models.GenerationPending, pending.GenerationStatus)
	assert.Empty(t, pending.CurrentCode)

	close(gate.release)
	project := srv.waitSettled(t, token, projectID)
	assert.Equal(t, models.GenerationReady, project.GenerationStatus)
}

func TestProjectAccessChecks(t *testing.T) {
	srv := newTestServer(t, generator.TemplateGenerator{})
	owner := srv.signup(t, "ada@example.com")
	intruder := srv.signup(t, "eve@example.com")

	projectID := srv.createProject(t, owner, "A bakery landing page")
	srv.waitSettled(t, owner, projectID)
	otherID := srv.createProject(t, owner, "A florist landing page")
	other := srv.waitSettled(t, owner, otherID)

	base := "/v1/projects/" + projectID.String()
	var errResp models.ErrorResponse

	assert.Equal(t, http.StatusForbidden, srv.do(t, http.MethodGet, base, intruder, nil, &errResp))
	assert.Equal(t, http.StatusForbidden, srv.do(t, http.MethodPost, base+"/revisions", intruder, models.RevisionRequest{Message: "x"}, &errResp))
	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodGet, "/v1/projects/"+uuid.NewString(), owner, nil, &errResp))
	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodGet, "/v1/projects/not-a-uuid", owner, nil, &errResp))

	// A version of another project is not a valid rollback target.
	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodPost, base+"/rollback", owner, models.RollbackRequest{VersionID: *other.CurrentVersionID}, &errResp))
	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodPost, base+"/rollback", owner, map[string]string{}, &errResp))
	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodPost, base+"/revisions", owner, models.RevisionRequest{Message: "   "}, &errResp))
	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodGet, base+"/wait?timeout=soon", owner, nil, &errResp))
}

func TestProjectEventsWebsocket(t *testing.T) {
	srv := newTestServer(t, generator.TemplateGenerator{})
	token := srv.signup(t, "ada@example.com")
	projectID := srv.createProject(t, token, "A bakery landing page")
	srv.waitSettled(t, token, projectID)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/projects/" + projectID.String() + "/events?access_token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.ProjectUpdated, ev.Type)
	assert.Equal(t, projectID, ev.ProjectID)

	require.Equal(t, http.StatusAccepted, srv.do(t, http.MethodPost, "/v1/projects/"+projectID.String()+"/revisions", token, models.RevisionRequest{Message: "make it blue"}, nil))

	var seen []events.Type
	for {
		require.NoError(t, conn.ReadJSON(&ev))
		seen = append(seen, ev.Type)
		if ev.Terminal() {
			break
		}
	}
	assert.Equal(t, events.GenerationCompleted, seen[len(seen)-1])
	assert.NotNil(t, ev.VersionID)

	_, _, err = websocket.DefaultDialer.Dial(strings.Split(wsURL, "?")[0], nil)
	assert.Error(t, err, "dial without token must fail")
}
