// Package memory is an in-process store.Store used for local development and tests.
// Every method runs under one lock, which gives the same per-project atomicity the
// Postgres store gets from transactions.
package memory

import (
	"buildmysite-backend/internal/models"
	"buildmysite-backend/internal/store"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ store.Store = (*MemoryStore)(nil)

type projectRecord struct {
	project  models.Project
	messages []models.Message
	versions []models.Version
}

type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]models.User
	projects map[uuid.UUID]*projectRecord
	seq      int64
	last     time.Time
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock lets tests control timestamps.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]models.User),
		projects: make(map[uuid.UUID]*projectRecord),
		now:      now,
	}
}

// stamp returns the next sequence number and a timestamp that never goes backwards.
// Callers must hold the write lock.
func (s *MemoryStore) stamp() (int64, time.Time) {
	s.seq++
	t := s.now().UTC()
	if t.Before(s.last) {
		t = s.last
	}
	s.last = t
	return s.seq, t
}

// view copies the project and fills in CurrentCode. Callers must hold a lock.
func (r *projectRecord) view() *models.Project {
	p := r.project
	p.CurrentCode = ""
	if p.CurrentVersionID != nil {
		for _, v := range r.versions {
			if v.ID == *p.CurrentVersionID {
				p.CurrentCode = v.Code
				break
			}
		}
	}
	return &p
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[email]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (s *MemoryStore) CreateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[user.Email]; exists {
		return store.ErrDuplicate
	}
	_, now := s.stamp()
	user.CreatedAt, user.UpdatedAt = now, now
	s.users[user.Email] = *user
	return nil
}

func (s *MemoryStore) CreateProject(_ context.Context, arg store.CreateProjectParams) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := arg.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	_, now := s.stamp()
	rec := &projectRecord{project: models.Project{
		ID:               id,
		OwnerID:          arg.OwnerID,
		Name:             arg.Name,
		InitialPrompt:    arg.InitialPrompt,
		GenerationStatus: models.GenerationIdle,
		CreatedAt:        now,
		UpdatedAt:        now,
	}}
	s.projects[id] = rec
	return rec.view(), nil
}

func (s *MemoryStore) GetProject(_ context.Context, id uuid.UUID) (*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.projects[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec.view(), nil
}

// GetProjectSnapshot mirrors the Postgres store: versions come back without code.
func (s *MemoryStore) GetProjectSnapshot(_ context.Context, id uuid.UUID) (*models.ProjectSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.projects[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	snap := &models.ProjectSnapshot{
		Project:  *rec.view(),
		Messages: append([]models.Message{}, rec.messages...),
		Versions: make([]models.Version, len(rec.versions)),
	}
	for i, v := range rec.versions {
		v.Code = ""
		snap.Versions[i] = v
	}
	return snap, nil
}

func (s *MemoryStore) ListProjectsByOwner(_ context.Context, ownerID uuid.UUID) ([]models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	projects := []models.Project{}
	for _, rec := range s.projects {
		if rec.project.OwnerID == ownerID {
			projects = append(projects, *rec.view())
		}
	}
	sort.SliceStable(projects, func(i, j int) bool {
		return projects[i].CreatedAt.After(projects[j].CreatedAt)
	})
	return projects, nil
}

func (s *MemoryStore) DeleteProject(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.projects[id]
	if !ok {
		return store.ErrNotFound
	}
	if rec.project.IsGenerating() {
		return store.ErrGenerationInProgress
	}
	delete(s.projects, id)
	return nil
}

func (s *MemoryStore) TogglePublish(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.projects[id]
	if !ok {
		return false, store.ErrNotFound
	}
	_, now := s.stamp()
	rec.project.IsPublished = !rec.project.IsPublished
	rec.project.UpdatedAt = now
	return rec.project.IsPublished, nil
}

func (s *MemoryStore) GetVersion(_ context.Context, projectID, versionID uuid.UUID) (*models.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.projects[projectID]
	if !ok {
		return nil, store.ErrNotFound
	}
	for _, v := range rec.versions {
		if v.ID == versionID {
			return &v, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *MemoryStore) SetCurrentVersion(_ context.Context, projectID, versionID uuid.UUID) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.projects[projectID]
	if !ok {
		return nil, store.ErrNotFound
	}
	for _, v := range rec.versions {
		if v.ID == versionID {
			_, now := s.stamp()
			id := versionID
			rec.project.CurrentVersionID = &id
			rec.project.UpdatedAt = now
			return rec.view(), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *MemoryStore) SaveCode(_ context.Context, arg store.SaveCodeParams) (*models.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.projects[arg.ProjectID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if rec.project.IsGenerating() {
		return nil, store.ErrGenerationInProgress
	}
	v := s.appendVersion(rec, arg.Code, models.VersionSourceManual, nil)
	return &v, nil
}

// appendVersion adds a version and makes it current. Callers must hold the write lock.
func (s *MemoryStore) appendVersion(rec *projectRecord, code string, source models.VersionSource, causedBy *uuid.UUID) models.Version {
	seq, now := s.stamp()
	v := models.Version{
		ID:                uuid.New(),
		ProjectID:         rec.project.ID,
		Code:              code,
		Source:            source,
		CausedByMessageID: causedBy,
		Seq:               seq,
		Timestamp:         now,
	}
	rec.versions = append(rec.versions, v)
	id := v.ID
	rec.project.CurrentVersionID = &id
	rec.project.UpdatedAt = now
	return v
}

// appendMessage fills in identity and ordering fields. Callers must hold the write lock.
func (s *MemoryStore) appendMessage(rec *projectRecord, m models.Message) models.Message {
	seq, now := s.stamp()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.ProjectID = rec.project.ID
	m.Seq = seq
	m.Timestamp = now
	rec.messages = append(rec.messages, m)
	return m
}

func (s *MemoryStore) BeginGeneration(_ context.Context, arg store.BeginGenerationParams) (*store.GenerationClaim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.projects[arg.ProjectID]
	if !ok {
		return nil, store.ErrNotFound
	}

	p := &rec.project
	if p.IsGenerating() && !s.isStale(p, arg.StaleAfter) {
		return nil, store.ErrGenerationInProgress
	}

	base := rec.view()
	m := s.appendMessage(rec, arg.Message)
	started := m.Timestamp
	claim := m.ID
	p.GenerationStatus = models.GenerationPending
	p.GenerationError = nil
	p.GenerationMessageID = &claim
	p.GenerationStartedAt = &started
	p.UpdatedAt = started
	return &store.GenerationClaim{Message: m, BaseVersionID: base.CurrentVersionID, BaseCode: base.CurrentCode}, nil
}

// isStale reports whether a pending claim is older than staleAfter; zero never expires.
// Callers must hold a lock.
func (s *MemoryStore) isStale(p *models.Project, staleAfter time.Duration) bool {
	return staleAfter > 0 && p.GenerationStartedAt != nil && s.now().Sub(*p.GenerationStartedAt) > staleAfter
}

func (s *MemoryStore) CommitGeneration(_ context.Context, arg store.CommitGenerationParams) (*models.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.projects[arg.ProjectID]
	if !ok {
		return nil, store.ErrNotFound
	}

	p := &rec.project
	if !p.IsGenerating() || p.GenerationMessageID == nil || *p.GenerationMessageID != arg.ClaimMessageID {
		return nil, store.ErrStaleGeneration
	}

	causedBy := arg.ClaimMessageID
	v := s.appendVersion(rec, arg.Code, models.VersionSourceGeneration, &causedBy)
	p.GenerationStatus = models.GenerationReady
	p.GenerationError = nil
	p.GenerationMessageID = nil
	p.GenerationStartedAt = nil

	if arg.AssistantMessage != nil {
		s.appendMessage(rec, models.Message{Role: models.RoleAssistant, Content: *arg.AssistantMessage})
	}
	return &v, nil
}

func (s *MemoryStore) FailGeneration(_ context.Context, arg store.FailGenerationParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.projects[arg.ProjectID]
	if !ok {
		return store.ErrStaleGeneration
	}

	p := &rec.project
	if !p.IsGenerating() || p.GenerationMessageID == nil || *p.GenerationMessageID != arg.ClaimMessageID {
		return store.ErrStaleGeneration
	}

	_, now := s.stamp()
	reason := arg.Reason
	p.GenerationStatus = models.GenerationFailed
	p.GenerationError = &reason
	p.GenerationMessageID = nil
	p.GenerationStartedAt = nil
	p.UpdatedAt = now
	return nil
}

func (s *MemoryStore) ExpireStaleGeneration(_ context.Context, arg store.ExpireGenerationParams) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.projects[arg.ProjectID]
	if !ok {
		return false, nil
	}

	p := &rec.project
	if !p.IsGenerating() || !s.isStale(p, arg.StaleAfter) {
		return false, nil
	}

	_, now := s.stamp()
	reason := arg.Reason
	p.GenerationStatus = models.GenerationFailed
	p.GenerationError = &reason
	p.GenerationMessageID = nil
	p.GenerationStartedAt = nil
	p.UpdatedAt = now
	return true, nil
}

func (s *MemoryStore) ClearGenerationFailure(_ context.Context, projectID uuid.UUID) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.projects[projectID]
	if !ok {
		return nil, store.ErrNotFound
	}

	p := &rec.project
	switch p.GenerationStatus {
	case models.GenerationPending:
		return nil, store.ErrGenerationInProgress
	case models.GenerationFailed:
		_, now := s.stamp()
		p.GenerationStatus = models.GenerationIdle
		p.GenerationError = nil
		p.UpdatedAt = now
	}
	return rec.view(), nil
}
