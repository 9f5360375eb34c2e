package services

import (
	"buildmysite-backend/internal/events"
	"buildmysite-backend/internal/generator"
	"buildmysite-backend/internal/models"
	"buildmysite-backend/internal/store"
	"buildmysite-backend/internal/store/memory"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockGenerator is a testify mock of generator.Generator.
type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate(ctx context.Context, req generator.Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// generatorFunc adapts a function for tests that need to block or inspect ctx.
type generatorFunc func(ctx context.Context, req generator.Request) (string, error)

func (f generatorFunc) Generate(ctx context.Context, req generator.Request) (string, error) {
	return f(ctx, req)
}

// hookedStore runs test code around selected store calls.
type hookedStore struct {
	store.Store
	beforeBegin func()
	failErr     error
}

func (h *hookedStore) BeginGeneration(ctx context.Context, arg store.BeginGenerationParams) (*store.GenerationClaim, error) {
	if h.beforeBegin != nil {
		h.beforeBegin()
	}
	return h.Store.BeginGeneration(ctx, arg)
}

func (h *hookedStore) FailGeneration(ctx context.Context, arg store.FailGenerationParams) error {
	if h.failErr != nil {
		return h.failErr
	}
	return h.Store.FailGeneration(ctx, arg)
}

type testEnv struct {
	store       *memory.MemoryStore
	broker      *events.Broker
	generations *GenerationService
	projects    *ProjectService
	ownerID     uuid.UUID
}

func newTestEnv(t *testing.T, gen generator.Generator) *testEnv {
	return newTestEnvWithOptions(t, gen, GenerationOptions{Timeout: 5 * time.Second, MaxPromptLength: 200})
}

func newTestEnvWithOptions(t *testing.T, gen generator.Generator, opts GenerationOptions) *testEnv {
	t.Helper()
	st := memory.NewMemoryStore()
	return buildTestEnv(t, st, st, gen, opts)
}

// newHookedTestEnv is newTestEnvWithOptions with the services talking to the store through hooks.
func newHookedTestEnv(t *testing.T, gen generator.Generator, opts GenerationOptions) (*testEnv, *hookedStore) {
	t.Helper()
	st := memory.NewMemoryStore()
	hooks := &hookedStore{Store: st}
	return buildTestEnv(t, st, hooks, gen, opts), hooks
}

func buildTestEnv(t *testing.T, st *memory.MemoryStore, serviceStore store.Store, gen generator.Generator, opts GenerationOptions) *testEnv {
	t.Helper()
	broker := events.NewBroker()
	logger := zap.NewNop()
	gens := NewGenerationService(serviceStore, gen, broker, opts, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = gens.Shutdown(ctx)
	})
	return &testEnv{
		store:       st,
		broker:      broker,
		generations: gens,
		projects:    NewProjectService(serviceStore, gens, broker, logger),
		ownerID:     uuid.New(),
	}
}

// newProject inserts a project directly, without running the initial generation.
func (e *testEnv) newProject(t *testing.T) *models.Project {
	t.Helper()
	p, err := e.store.CreateProject(context.Background(), store.CreateProjectParams{
		OwnerID:       e.ownerID,
		Name:          "Bakery",
		InitialPrompt: "a landing page for a bakery",
	})
	require.NoError(t, err)
	return p
}

func (e *testEnv) snapshot(t *testing.T, projectID uuid.UUID) *models.ProjectSnapshot {
	t.Helper()
	snap, err := e.store.GetProjectSnapshot(context.Background(), projectID)
	require.NoError(t, err)
	return snap
}

func (e *testEnv) waitIdle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.generations.Shutdown(ctx))
}
