package services

import (
	"buildmysite-backend/internal/events"
	"buildmysite-backend/internal/generator"
	"buildmysite-backend/internal/models"
	"buildmysite-backend/internal/store"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const bakeryHTML = "<!DOCTYPE html><html><body>Bakery</body></html>"

func TestGenerate_InitialCommitsVersionAndReply(t *testing.T) {
	gen := new(mockGenerator)
	env := newTestEnv(t, gen)
	project := env.newProject(t)

	gen.On("Generate", mock.Anything, generator.Request{
		Mode:        generator.ModeInitial,
		Instruction: "a landing page for a bakery",
	}).Return("```html\n"+bakeryHTML+"\n```", nil).Once()

	version, err := env.generations.Generate(context.Background(), env.ownerID, project.ID, GenerationRequest{
		IsInitial: true,
		Prompt:    "  a landing page for a bakery ",
	})
	require.NoError(t, err)
	assert.Equal(t, bakeryHTML, version.Code)
	assert.Equal(t, models.VersionSourceGeneration, version.Source)

	snap := env.snapshot(t, project.ID)
	assert.Equal(t, models.GenerationReady, snap.Project.GenerationStatus)
	require.NotNil(t, snap.Project.CurrentVersionID)
	assert.Equal(t, version.ID, *snap.Project.CurrentVersionID)
	assert.Equal(t, bakeryHTML, snap.Project.CurrentCode)

	require.Len(t, snap.Messages, 2)
	assert.Equal(t, models.RoleUser, snap.Messages[0].Role)
	assert.Equal(t, "a landing page for a bakery", snap.Messages[0].Content)
	assert.Equal(t, models.RoleAssistant, snap.Messages[1].Role)
	assert.Equal(t, initialReply, snap.Messages[1].Content)

	require.NotNil(t, version.CausedByMessageID)
	assert.Equal(t, snap.Messages[0].ID, *version.CausedByMessageID)
	gen.AssertExpectations(t)
}

func TestGenerate_RevisionSendsCurrentCode(t *testing.T) {
	gen := new(mockGenerator)
	env := newTestEnv(t, gen)
	project := env.newProject(t)

	gen.On("Generate", mock.Anything, mock.MatchedBy(func(r generator.Request) bool {
		return r.Mode == generator.ModeInitial
	})).Return(bakeryHTML, nil).Once()
	gen.On("Generate", mock.Anything, generator.Request{
		Mode:        generator.ModeRevision,
		Instruction: "make the background blue",
		CurrentCode: bakeryHTML,
	}).Return("<!DOCTYPE html><html><body style=\"background:blue\">Bakery</body></html>", nil).Once()

	ctx := context.Background()
	_, err := env.generations.Generate(ctx, env.ownerID, project.ID, GenerationRequest{IsInitial: true, Prompt: "bakery"})
	require.NoError(t, err)
	v2, err := env.generations.Generate(ctx, env.ownerID, project.ID, GenerationRequest{Prompt: "make the background blue"})
	require.NoError(t, err)

	snap := env.snapshot(t, project.ID)
	assert.Len(t, snap.Versions, 2)
	assert.Equal(t, v2.ID, *snap.Project.CurrentVersionID)
	assert.Contains(t, snap.Project.CurrentCode, "background:blue")
	assert.Equal(t, revisionReply, snap.Messages[len(snap.Messages)-1].Content)
	gen.AssertExpectations(t)
}

func TestGenerate_BackendErrorOnEmptyProject(t *testing.T) {
	gen := new(mockGenerator)
	env := newTestEnv(t, gen)
	project := env.newProject(t)

	gen.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("upstream 500")).Once()

	_, err := env.generations.Generate(context.Background(), env.ownerID, project.ID, GenerationRequest{Prompt: "add a contact form"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGeneration)

	snap := env.snapshot(t, project.ID)
	require.Len(t, snap.Messages, 1, "only the optimistic user message is kept")
	assert.Equal(t, models.RoleUser, snap.Messages[0].Role)
	assert.Empty(t, snap.Versions)
	assert.Nil(t, snap.Project.CurrentVersionID)
	assert.Empty(t, snap.Project.CurrentCode)
	assert.Equal(t, models.GenerationFailed, snap.Project.GenerationStatus)
	require.NotNil(t, snap.Project.GenerationError)
	assert.NotContains(t, *snap.Project.GenerationError, "upstream 500")
}

func TestGenerate_FailureLeavesCurrentVersion(t *testing.T) {
	gen := new(mockGenerator)
	env := newTestEnv(t, gen)
	project := env.newProject(t)

	gen.On("Generate", mock.Anything, mock.MatchedBy(func(r generator.Request) bool {
		return r.Mode == generator.ModeInitial
	})).Return(bakeryHTML, nil).Once()
	gen.On("Generate", mock.Anything, mock.MatchedBy(func(r generator.Request) bool {
		return r.Mode == generator.ModeRevision
	})).Return("   ", nil).Once()

	ctx := context.Background()
	v1, err := env.generations.Generate(ctx, env.ownerID, project.ID, GenerationRequest{IsInitial: true, Prompt: "bakery"})
	require.NoError(t, err)

	_, err = env.generations.Generate(ctx, env.ownerID, project.ID, GenerationRequest{Prompt: "add prices"})
	assert.ErrorIs(t, err, ErrGeneration)

	snap := env.snapshot(t, project.ID)
	assert.Equal(t, v1.ID, *snap.Project.CurrentVersionID)
	assert.Equal(t, bakeryHTML, snap.Project.CurrentCode)
	assert.Len(t, snap.Versions, 1)
	assert.Len(t, snap.Messages, 3) // user, assistant, failed user request
	assert.Equal(t, models.GenerationFailed, snap.Project.GenerationStatus)
}

func TestGenerate_TimeoutBecomesGenerationError(t *testing.T) {
	gen := generatorFunc(func(ctx context.Context, _ generator.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	env := newTestEnvWithOptions(t, gen, GenerationOptions{Timeout: 20 * time.Millisecond})
	project := env.newProject(t)

	start := time.Now()
	_, err := env.generations.Generate(context.Background(), env.ownerID, project.ID, GenerationRequest{IsInitial: true, Prompt: "bakery"})
	assert.ErrorIs(t, err, ErrGeneration)
	assert.Less(t, time.Since(start), 2*time.Second)

	snap := env.snapshot(t, project.ID)
	assert.Equal(t, models.GenerationFailed, snap.Project.GenerationStatus)
	require.NotNil(t, snap.Project.GenerationError)
	assert.Contains(t, *snap.Project.GenerationError, "did not answer")
}

func TestSubmit_RejectsConcurrentRequest(t *testing.T) {
	release := make(chan struct{})
	calls := 0
	gen := generatorFunc(func(ctx context.Context, req generator.Request) (string, error) {
		calls++
		<-release
		return bakeryHTML, nil
	})
	env := newTestEnv(t, gen)
	project := env.newProject(t)
	ctx := context.Background()

	first, err := env.generations.Submit(ctx, env.ownerID, project.ID, GenerationRequest{IsInitial: true, Prompt: "bakery"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, first.Role)

	_, err = env.generations.Submit(ctx, env.ownerID, project.ID, GenerationRequest{Prompt: "make it blue"})
	assert.ErrorIs(t, err, ErrConflict)

	close(release)
	env.waitIdle(t)

	snap := env.snapshot(t, project.ID)
	assert.Equal(t, 1, calls)
	assert.Len(t, snap.Versions, 1, "only one version is created")
	assert.Len(t, snap.Messages, 2, "the rejected request leaves no message")
	assert.Equal(t, models.GenerationReady, snap.Project.GenerationStatus)
}

func TestSubmit_SurvivesCallerCancellation(t *testing.T) {
	release := make(chan struct{})
	gen := generatorFunc(func(ctx context.Context, _ generator.Request) (string, error) {
		<-release
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return bakeryHTML, nil
	})
	env := newTestEnv(t, gen)
	project := env.newProject(t)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := env.generations.Submit(ctx, env.ownerID, project.ID, GenerationRequest{IsInitial: true, Prompt: "bakery"})
	require.NoError(t, err)
	cancel()
	close(release)
	env.waitIdle(t)

	snap := env.snapshot(t, project.ID)
	assert.Equal(t, models.GenerationReady, snap.Project.GenerationStatus)
	assert.Equal(t, bakeryHTML, snap.Project.CurrentCode)
}

func TestGenerate_RejectsBeforeCallingBackend(t *testing.T) {
	gen := new(mockGenerator)
	env := newTestEnv(t, gen)
	project := env.newProject(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		prompt string
	}{
		{name: "empty prompt", prompt: "   "},
		{name: "prompt too long", prompt: strings.Repeat("a", 201)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.generations.Generate(ctx, env.ownerID, project.ID, GenerationRequest{Prompt: tt.prompt})
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	t.Run("other owner", func(t *testing.T) {
		_, err := env.generations.Generate(ctx, uuid.New(), project.ID, GenerationRequest{Prompt: "hello"})
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("unknown project", func(t *testing.T) {
		_, err := env.generations.Generate(ctx, env.ownerID, uuid.New(), GenerationRequest{Prompt: "hello"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	assert.Empty(t, env.snapshot(t, project.ID).Messages)
}

func TestDismissGeneration(t *testing.T) {
	release := make(chan struct{})
	fail := true
	gen := generatorFunc(func(ctx context.Context, _ generator.Request) (string, error) {
		<-release
		if fail {
			return "", errors.New("boom")
		}
		return bakeryHTML, nil
	})
	env := newTestEnv(t, gen)
	project := env.newProject(t)
	ctx := context.Background()

	_, err := env.generations.Submit(ctx, env.ownerID, project.ID, GenerationRequest{IsInitial: true, Prompt: "bakery"})
	require.NoError(t, err)

	_, err = env.generations.DismissGeneration(ctx, env.ownerID, project.ID)
	assert.ErrorIs(t, err, ErrConflict, "a pending generation cannot be dismissed")

	close(release)
	env.waitIdle(t)

	p, err := env.generations.DismissGeneration(ctx, env.ownerID, project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationIdle, p.GenerationStatus)
	assert.Nil(t, p.GenerationError)

	// A dismissed project accepts a new request.
	fail = false
	_, err = env.generations.Generate(ctx, env.ownerID, project.ID, GenerationRequest{Prompt: "bakery again"})
	require.NoError(t, err)
}

func TestGenerate_RevisesCodeSavedJustBeforeClaim(t *testing.T) {
	var got generator.Request
	gen := generatorFunc(func(_ context.Context, req generator.Request) (string, error) {
		got = req
		return bakeryHTML, nil
	})
	env, hooks := newHookedTestEnv(t, gen, GenerationOptions{Timeout: 5 * time.Second})
	project := env.newProject(t)
	ctx := context.Background()

	_, err := env.store.SaveCode(ctx, store.SaveCodeParams{ProjectID: project.ID, Code: "<p>v1</p>"})
	require.NoError(t, err)

	// A manual save lands after the access check and before the claim.
	saved := false
	hooks.beforeBegin = func() {
		if saved {
			return
		}
		saved = true
		_, err := env.store.SaveCode(ctx, store.SaveCodeParams{ProjectID: project.ID, Code: "<p>hand edited</p>"})
		require.NoError(t, err)
	}

	_, err = env.generations.Generate(ctx, env.ownerID, project.ID, GenerationRequest{Prompt: "make it blue"})
	require.NoError(t, err)
	assert.True(t, saved)
	assert.Equal(t, generator.ModeRevision, got.Mode)
	assert.Equal(t, "<p>hand edited</p>", got.CurrentCode)
}

func TestAbandonedClaimExpiresOnRead(t *testing.T) {
	gen := generatorFunc(func(context.Context, generator.Request) (string, error) {
		return "", errors.New("boom")
	})
	env, hooks := newHookedTestEnv(t, gen, GenerationOptions{Timeout: 20 * time.Millisecond})
	hooks.failErr = errors.New("database unavailable")
	project := env.newProject(t)
	ctx := context.Background()

	_, err := env.generations.Generate(ctx, env.ownerID, project.ID, GenerationRequest{IsInitial: true, Prompt: "bakery"})
	assert.ErrorIs(t, err, ErrGeneration)
	assert.Equal(t, models.GenerationPending, env.snapshot(t, project.ID).Project.GenerationStatus, "the failure was not recorded")

	updates, cancel := env.broker.Subscribe(project.ID)
	defer cancel()
	time.Sleep(60 * time.Millisecond)

	p, err := env.projects.Authorize(ctx, env.ownerID, project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationFailed, p.GenerationStatus)
	require.NotNil(t, p.GenerationError)
	assert.Equal(t, abandonedReason, *p.GenerationError)

	select {
	case ev := <-updates:
		assert.Equal(t, events.GenerationFailed, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no event for the expired generation")
	}

	p, err = env.generations.DismissGeneration(ctx, env.ownerID, project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationIdle, p.GenerationStatus)
	require.NoError(t, env.projects.DeleteProject(ctx, env.ownerID, project.ID))
}

func TestAbandonedClaimDoesNotBlockDelete(t *testing.T) {
	gen := generatorFunc(func(context.Context, generator.Request) (string, error) {
		return "", errors.New("boom")
	})
	env, hooks := newHookedTestEnv(t, gen, GenerationOptions{Timeout: 20 * time.Millisecond})
	hooks.failErr = errors.New("database unavailable")
	project := env.newProject(t)
	ctx := context.Background()

	_, err := env.generations.Generate(ctx, env.ownerID, project.ID, GenerationRequest{IsInitial: true, Prompt: "bakery"})
	assert.ErrorIs(t, err, ErrGeneration)
	time.Sleep(60 * time.Millisecond)

	require.NoError(t, env.projects.DeleteProject(ctx, env.ownerID, project.ID))
	_, err = env.store.GetProject(ctx, project.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGenerate_PanickingBackendFails(t *testing.T) {
	gen := generatorFunc(func(context.Context, generator.Request) (string, error) {
		panic("nil pointer in backend")
	})
	env := newTestEnv(t, gen)
	project := env.newProject(t)

	_, err := env.generations.Generate(context.Background(), env.ownerID, project.ID, GenerationRequest{IsInitial: true, Prompt: "bakery"})
	assert.ErrorIs(t, err, ErrGeneration)

	snap := env.snapshot(t, project.ID)
	assert.Equal(t, models.GenerationFailed, snap.Project.GenerationStatus)
	assert.Empty(t, snap.Versions)
}
