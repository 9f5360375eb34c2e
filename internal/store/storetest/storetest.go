// Package storetest holds behaviour tests shared by every store.Store implementation.
package storetest

import (
	"buildmysite-backend/internal/models"
	"buildmysite-backend/internal/store"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run exercises s against the store.Store contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("ProjectLifecycle", func(t *testing.T) { testProjectLifecycle(t, newStore(t)) })
	t.Run("GenerationClaim", func(t *testing.T) { testGenerationClaim(t, newStore(t)) })
	t.Run("GenerationFailure", func(t *testing.T) { testGenerationFailure(t, newStore(t)) })
	t.Run("StaleClaimTakeover", func(t *testing.T) { testStaleClaimTakeover(t, newStore(t)) })
	t.Run("StaleClaimExpiry", func(t *testing.T) { testStaleClaimExpiry(t, newStore(t)) })
	t.Run("ClaimReadsLatestCode", func(t *testing.T) { testClaimReadsLatestCode(t, newStore(t)) })
	t.Run("CurrentVersion", func(t *testing.T) { testCurrentVersion(t, newStore(t)) })
	t.Run("ConcurrentRollback", func(t *testing.T) { testConcurrentRollback(t, newStore(t)) })
	t.Run("SaveCode", func(t *testing.T) { testSaveCode(t, newStore(t)) })
	t.Run("Snapshot", func(t *testing.T) { testSnapshot(t, newStore(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore(t)) })
}

func createUser(t *testing.T, s store.Store) uuid.UUID {
	t.Helper()
	u := &models.User{ID: uuid.New(), Email: uuid.NewString() + "@example.com", HashedPassword: "hash"}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u.ID
}

func createProject(t *testing.T, s store.Store, ownerID uuid.UUID) *models.Project {
	t.Helper()
	p, err := s.CreateProject(context.Background(), store.CreateProjectParams{
		OwnerID:       ownerID,
		Name:          "Bakery",
		InitialPrompt: "a bakery site",
	})
	require.NoError(t, err)
	return p
}

func userMessage(content string) models.Message {
	return models.Message{Role: models.RoleUser, Content: content}
}

// generate runs one successful claim/commit cycle.
func generate(t *testing.T, s store.Store, projectID uuid.UUID, code string) *models.Version {
	t.Helper()
	ctx := context.Background()
	claim, err := s.BeginGeneration(ctx, store.BeginGenerationParams{ProjectID: projectID, Message: userMessage("change " + code)})
	require.NoError(t, err)
	reply := "done"
	v, err := s.CommitGeneration(ctx, store.CommitGenerationParams{
		ProjectID:        projectID,
		ClaimMessageID:   claim.Message.ID,
		Code:             code,
		AssistantMessage: &reply,
	})
	require.NoError(t, err)
	return v
}

func testUsers(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := &models.User{ID: uuid.New(), Email: "carol@example.com", HashedPassword: "hash"}
	require.NoError(t, s.CreateUser(ctx, u))
	assert.False(t, u.CreatedAt.IsZero())

	dup := &models.User{ID: uuid.New(), Email: "carol@example.com", HashedPassword: "hash"}
	assert.ErrorIs(t, s.CreateUser(ctx, dup), store.ErrDuplicate)

	got, err := s.GetUserByEmail(ctx, "carol@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "hash", got.HashedPassword)

	_, err = s.GetUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testProjectLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := createUser(t, s)

	p := createProject(t, s, owner)
	assert.Equal(t, models.GenerationIdle, p.GenerationStatus)
	assert.Nil(t, p.CurrentVersionID)
	assert.Empty(t, p.CurrentCode)
	assert.False(t, p.IsPublished)

	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, owner, got.OwnerID)

	_, err = s.GetProject(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)

	time.Sleep(5 * time.Millisecond)
	newer := createProject(t, s, owner)
	createProject(t, s, createUser(t, s))

	list, err := s.ListProjectsByOwner(ctx, owner)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID, "newest first")
	assert.Equal(t, p.ID, list[1].ID)

	published, err := s.TogglePublish(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, published)
	published, err = s.TogglePublish(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, published)

	_, err = s.TogglePublish(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testGenerationClaim(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := createProject(t, s, createUser(t, s))

	claim, err := s.BeginGeneration(ctx, store.BeginGenerationParams{ProjectID: p.ID, Message: userMessage("bakery"), StaleAfter: time.Hour})
	require.NoError(t, err)
	assert.Nil(t, claim.BaseVersionID)
	assert.Empty(t, claim.BaseCode)
	msg := claim.Message
	assert.NotEqual(t, uuid.Nil, msg.ID)
	assert.Equal(t, p.ID, msg.ProjectID)
	assert.NotZero(t, msg.Seq)

	pending, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationPending, pending.GenerationStatus)
	require.NotNil(t, pending.GenerationMessageID)
	assert.Equal(t, msg.ID, *pending.GenerationMessageID)

	_, err = s.BeginGeneration(ctx, store.BeginGenerationParams{ProjectID: p.ID, Message: userMessage("again"), StaleAfter: time.Hour})
	assert.ErrorIs(t, err, store.ErrGenerationInProgress)

	_, err = s.CommitGeneration(ctx, store.CommitGenerationParams{ProjectID: p.ID, ClaimMessageID: uuid.New(), Code: "<p>x</p>"})
	assert.ErrorIs(t, err, store.ErrStaleGeneration)

	reply := "created"
	v, err := s.CommitGeneration(ctx, store.CommitGenerationParams{ProjectID: p.ID, ClaimMessageID: msg.ID, Code: "<p>v1</p>", AssistantMessage: &reply})
	require.NoError(t, err)
	assert.Equal(t, models.VersionSourceGeneration, v.Source)
	require.NotNil(t, v.CausedByMessageID)
	assert.Equal(t, msg.ID, *v.CausedByMessageID)
	assert.Greater(t, v.Seq, msg.Seq)

	ready, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationReady, ready.GenerationStatus)
	assert.Nil(t, ready.GenerationMessageID)
	assert.Equal(t, v.ID, *ready.CurrentVersionID)
	assert.Equal(t, "<p>v1</p>", ready.CurrentCode)

	_, err = s.CommitGeneration(ctx, store.CommitGenerationParams{ProjectID: p.ID, ClaimMessageID: msg.ID, Code: "<p>dup</p>"})
	assert.ErrorIs(t, err, store.ErrStaleGeneration, "a claim commits once")

	snap, err := s.GetProjectSnapshot(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, snap.Versions, 1)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, models.RoleAssistant, snap.Messages[1].Role)
	assert.Equal(t, "created", snap.Messages[1].Content)
}

func testGenerationFailure(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := createProject(t, s, createUser(t, s))
	v1 := generate(t, s, p.ID, "<p>v1</p>")

	claim, err := s.BeginGeneration(ctx, store.BeginGenerationParams{ProjectID: p.ID, Message: userMessage("break it")})
	require.NoError(t, err)
	require.NotNil(t, claim.BaseVersionID)
	assert.Equal(t, v1.ID, *claim.BaseVersionID)
	assert.Equal(t, "<p>v1</p>", claim.BaseCode)
	msg := claim.Message

	_, err = s.ClearGenerationFailure(ctx, p.ID)
	assert.ErrorIs(t, err, store.ErrGenerationInProgress)

	assert.ErrorIs(t, s.FailGeneration(ctx, store.FailGenerationParams{ProjectID: p.ID, ClaimMessageID: uuid.New(), Reason: "x"}), store.ErrStaleGeneration)
	require.NoError(t, s.FailGeneration(ctx, store.FailGenerationParams{ProjectID: p.ID, ClaimMessageID: msg.ID, Reason: "backend down"}))

	failed, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationFailed, failed.GenerationStatus)
	require.NotNil(t, failed.GenerationError)
	assert.Equal(t, "backend down", *failed.GenerationError)
	assert.Equal(t, v1.ID, *failed.CurrentVersionID)
	assert.Equal(t, "<p>v1</p>", failed.CurrentCode)

	snap, err := s.GetProjectSnapshot(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, snap.Versions, 1)
	assert.Len(t, snap.Messages, 3)

	cleared, err := s.ClearGenerationFailure(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationIdle, cleared.GenerationStatus)
	assert.Nil(t, cleared.GenerationError)

	// Clearing a non-failed project is a no-op.
	again, err := s.ClearGenerationFailure(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationIdle, again.GenerationStatus)
}

func testStaleClaimTakeover(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := createProject(t, s, createUser(t, s))

	first, err := s.BeginGeneration(ctx, store.BeginGenerationParams{ProjectID: p.ID, Message: userMessage("first")})
	require.NoError(t, err)

	// Without a threshold a held claim is never taken over.
	_, err = s.BeginGeneration(ctx, store.BeginGenerationParams{ProjectID: p.ID, Message: userMessage("second")})
	assert.ErrorIs(t, err, store.ErrGenerationInProgress)

	time.Sleep(50 * time.Millisecond)
	second, err := s.BeginGeneration(ctx, store.BeginGenerationParams{ProjectID: p.ID, Message: userMessage("second"), StaleAfter: 10 * time.Millisecond})
	require.NoError(t, err)

	_, err = s.CommitGeneration(ctx, store.CommitGenerationParams{ProjectID: p.ID, ClaimMessageID: first.Message.ID, Code: "<p>late</p>"})
	assert.ErrorIs(t, err, store.ErrStaleGeneration, "the superseded claim cannot commit")

	v, err := s.CommitGeneration(ctx, store.CommitGenerationParams{ProjectID: p.ID, ClaimMessageID: second.Message.ID, Code: "<p>fresh</p>"})
	require.NoError(t, err)
	assert.Equal(t, second.Message.ID, *v.CausedByMessageID)
}

func testStaleClaimExpiry(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := createProject(t, s, createUser(t, s))
	v1 := generate(t, s, p.ID, "<p>v1</p>")

	claim, err := s.BeginGeneration(ctx, store.BeginGenerationParams{ProjectID: p.ID, Message: userMessage("change")})
	require.NoError(t, err)

	expired, err := s.ExpireStaleGeneration(ctx, store.ExpireGenerationParams{ProjectID: p.ID, StaleAfter: time.Hour, Reason: "gave up"})
	require.NoError(t, err)
	assert.False(t, expired, "a fresh claim is kept")
	pending, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationPending, pending.GenerationStatus)

	time.Sleep(50 * time.Millisecond)
	expired, err = s.ExpireStaleGeneration(ctx, store.ExpireGenerationParams{ProjectID: p.ID, StaleAfter: 10 * time.Millisecond, Reason: "gave up"})
	require.NoError(t, err)
	assert.True(t, expired)

	failed, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationFailed, failed.GenerationStatus)
	require.NotNil(t, failed.GenerationError)
	assert.Equal(t, "gave up", *failed.GenerationError)
	assert.Nil(t, failed.GenerationMessageID)
	assert.Equal(t, v1.ID, *failed.CurrentVersionID)

	expired, err = s.ExpireStaleGeneration(ctx, store.ExpireGenerationParams{ProjectID: p.ID, StaleAfter: 10 * time.Millisecond, Reason: "again"})
	require.NoError(t, err)
	assert.False(t, expired, "only pending projects expire")

	_, err = s.CommitGeneration(ctx, store.CommitGenerationParams{ProjectID: p.ID, ClaimMessageID: claim.Message.ID, Code: "<p>late</p>"})
	assert.ErrorIs(t, err, store.ErrStaleGeneration, "an expired claim cannot commit")

	cleared, err := s.ClearGenerationFailure(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationIdle, cleared.GenerationStatus)

	expired, err = s.ExpireStaleGeneration(ctx, store.ExpireGenerationParams{ProjectID: uuid.New(), StaleAfter: time.Millisecond, Reason: "x"})
	require.NoError(t, err)
	assert.False(t, expired)

	require.NoError(t, s.DeleteProject(ctx, p.ID))
}

func testClaimReadsLatestCode(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := createProject(t, s, createUser(t, s))
	generate(t, s, p.ID, "<p>v1</p>")

	manual, err := s.SaveCode(ctx, store.SaveCodeParams{ProjectID: p.ID, Code: "<p>hand edited</p>"})
	require.NoError(t, err)

	claim, err := s.BeginGeneration(ctx, store.BeginGenerationParams{ProjectID: p.ID, Message: userMessage("change")})
	require.NoError(t, err)
	require.NotNil(t, claim.BaseVersionID)
	assert.Equal(t, manual.ID, *claim.BaseVersionID)
	assert.Equal(t, "<p>hand edited</p>", claim.BaseCode)
}

func testCurrentVersion(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := createUser(t, s)
	a := createProject(t, s, owner)
	b := createProject(t, s, owner)
	aV1 := generate(t, s, a.ID, "<p>a1</p>")
	aV2 := generate(t, s, a.ID, "<p>a2</p>")
	bV1 := generate(t, s, b.ID, "<p>b1</p>")

	p, err := s.SetCurrentVersion(ctx, a.ID, aV1.ID)
	require.NoError(t, err)
	assert.Equal(t, aV1.ID, *p.CurrentVersionID)
	assert.Equal(t, "<p>a1</p>", p.CurrentCode)

	_, err = s.SetCurrentVersion(ctx, a.ID, bV1.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.SetCurrentVersion(ctx, uuid.New(), aV1.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	unchanged, err := s.GetProject(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, aV1.ID, *unchanged.CurrentVersionID)

	v, err := s.GetVersion(ctx, a.ID, aV2.ID)
	require.NoError(t, err)
	assert.Equal(t, "<p>a2</p>", v.Code)
	_, err = s.GetVersion(ctx, a.ID, bV1.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// testConcurrentRollback checks that each rollback returns the project as its own write left it.
func testConcurrentRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := createProject(t, s, createUser(t, s))
	versions := []*models.Version{
		generate(t, s, p.ID, "<p>v1</p>"),
		generate(t, s, p.ID, "<p>v2</p>"),
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				want := versions[(w+i)%2]
				got, err := s.SetCurrentVersion(ctx, p.ID, want.ID)
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, want.ID, *got.CurrentVersionID)
				assert.Equal(t, want.Code, got.CurrentCode)
			}
		}(w)
	}
	wg.Wait()
}

func testSaveCode(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := createProject(t, s, createUser(t, s))

	v, err := s.SaveCode(ctx, store.SaveCodeParams{ProjectID: p.ID, Code: "<p>manual</p>"})
	require.NoError(t, err)
	assert.Equal(t, models.VersionSourceManual, v.Source)
	assert.Nil(t, v.CausedByMessageID)

	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, v.ID, *got.CurrentVersionID)
	assert.Equal(t, "<p>manual</p>", got.CurrentCode)

	_, err = s.BeginGeneration(ctx, store.BeginGenerationParams{ProjectID: p.ID, Message: userMessage("change")})
	require.NoError(t, err)
	_, err = s.SaveCode(ctx, store.SaveCodeParams{ProjectID: p.ID, Code: "<p>blocked</p>"})
	assert.ErrorIs(t, err, store.ErrGenerationInProgress)

	_, err = s.SaveCode(ctx, store.SaveCodeParams{ProjectID: uuid.New(), Code: "<p>x</p>"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testSnapshot(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := createProject(t, s, createUser(t, s))
	generate(t, s, p.ID, "<p>v1</p>")
	generate(t, s, p.ID, "<p>v2</p>")

	snap, err := s.GetProjectSnapshot(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, snap.Messages, 4)
	require.Len(t, snap.Versions, 2)
	assert.Equal(t, "<p>v2</p>", snap.Project.CurrentCode)

	for _, v := range snap.Versions {
		assert.Empty(t, v.Code, "snapshot versions carry no code")
	}
	for i := 1; i < len(snap.Messages); i++ {
		assert.Greater(t, snap.Messages[i].Seq, snap.Messages[i-1].Seq)
		assert.False(t, snap.Messages[i].Timestamp.Before(snap.Messages[i-1].Timestamp))
	}
	// Each version sits between the request that caused it and the reply.
	assert.Greater(t, snap.Versions[0].Seq, snap.Messages[0].Seq)
	assert.Less(t, snap.Versions[0].Seq, snap.Messages[1].Seq)

	_, err = s.GetProjectSnapshot(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := createProject(t, s, createUser(t, s))
	v := generate(t, s, p.ID, "<p>v1</p>")

	_, err := s.BeginGeneration(ctx, store.BeginGenerationParams{ProjectID: p.ID, Message: userMessage("change")})
	require.NoError(t, err)
	assert.ErrorIs(t, s.DeleteProject(ctx, p.ID), store.ErrGenerationInProgress)

	other := createProject(t, s, createUser(t, s))
	require.NoError(t, s.DeleteProject(ctx, other.ID))
	_, err = s.GetProject(ctx, other.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, s.DeleteProject(ctx, uuid.New()), store.ErrNotFound)

	_, err = s.GetVersion(ctx, p.ID, v.ID)
	require.NoError(t, err, "the pending project was not deleted")
}
