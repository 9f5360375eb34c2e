package services

import (
	"buildmysite-backend/internal/events"
	"buildmysite-backend/internal/generator"
	"buildmysite-backend/internal/metrics"
	"buildmysite-backend/internal/models"
	"buildmysite-backend/internal/store"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	initialReply  = "I've created your website! You can now preview it and ask me for any changes."
	revisionReply = "I've applied your changes! You can now preview the new version."

	// bookkeepingTimeout bounds the store writes that close a generation.
	bookkeepingTimeout = 15 * time.Second

	abandonedReason = "The AI service did not finish this request. Please try again."
)

// GenerationOptions tunes the orchestrator.
type GenerationOptions struct {
	Timeout         time.Duration // maximum wait on the AI backend
	MaxPromptLength int
}

// GenerationRequest is an initial prompt or a revision instruction.
type GenerationRequest struct {
	IsInitial bool
	Prompt    string
}

// generationJob is a claimed generation waiting to be run.
type generationJob struct {
	projectID   uuid.UUID
	message     models.Message
	mode        generator.Mode
	currentCode string
}

// GenerationService owns the pending → ready | failed lifecycle of a project.
// At most one generation per project is in flight; a second request is rejected with ErrConflict.
type GenerationService struct {
	store     store.Store
	generator generator.Generator
	broker    *events.Broker
	opts      GenerationOptions
	logger    *zap.Logger

	inflight sync.WaitGroup
}

// NewGenerationService creates a new GenerationService.
func NewGenerationService(s store.Store, g generator.Generator, b *events.Broker, opts GenerationOptions, logger *zap.Logger) *GenerationService {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Minute
	}
	return &GenerationService{
		store:     s,
		generator: g,
		broker:    b,
		opts:      opts,
		logger:    logger.Named("generation"),
	}
}

// Generate runs a generation to completion and returns the committed version.
// On backend failure the user's message stays in the log and the error wraps ErrGeneration.
func (s *GenerationService) Generate(ctx context.Context, ownerID, projectID uuid.UUID, req GenerationRequest) (*models.Version, error) {
	job, err := s.begin(ctx, ownerID, projectID, req)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, job)
}

// Submit validates and claims the generation synchronously, then runs the backend call in the
// background. The returned message is the optimistic user entry already in the conversation.
// The background run is detached from ctx: abandoning the request does not cancel it.
func (s *GenerationService) Submit(ctx context.Context, ownerID, projectID uuid.UUID, req GenerationRequest) (*models.Message, error) {
	job, err := s.begin(ctx, ownerID, projectID, req)
	if err != nil {
		return nil, err
	}

	runCtx := context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if _, err := s.run(runCtx, job); err != nil {
			s.logger.Warn("Background generation finished with error",
				zap.Stringer("project_id", job.projectID),
				zap.Error(err),
			)
		}
	}()

	msg := job.message
	return &msg, nil
}

// Shutdown waits for background generations to finish or for ctx to end.
func (s *GenerationService) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight generations: %w", ctx.Err())
	}
}

// DismissGeneration clears a FAILED status so clients stop showing the failure.
func (s *GenerationService) DismissGeneration(ctx context.Context, ownerID, projectID uuid.UUID) (*models.Project, error) {
	if _, err := s.loadProject(ctx, ownerID, projectID); err != nil {
		return nil, err
	}
	p, err := s.store.ClearGenerationFailure(ctx, projectID)
	if err != nil {
		return nil, translateStoreError(err, "project")
	}
	s.broker.Publish(events.Event{Type: events.ProjectUpdated, ProjectID: projectID})
	return p, nil
}

func (s *GenerationService) begin(ctx context.Context, ownerID, projectID uuid.UUID, req GenerationRequest) (*generationJob, error) {
	prompt, err := cleanPrompt(req.Prompt, s.opts.MaxPromptLength)
	if err != nil {
		metrics.GenerationRejected("validation")
		return nil, err
	}

	if _, err := loadOwnedProject(ctx, s.store, ownerID, projectID); err != nil {
		metrics.GenerationRejected("access")
		return nil, err
	}

	claim, err := s.store.BeginGeneration(ctx, store.BeginGenerationParams{
		ProjectID:  projectID,
		Message:    models.Message{Role: models.RoleUser, Content: prompt},
		StaleAfter: s.staleAfter(),
	})
	if err != nil {
		if errors.Is(err, store.ErrGenerationInProgress) {
			metrics.GenerationRejected("conflict")
			s.logger.Info("Rejected concurrent generation", zap.Stringer("project_id", projectID))
		}
		return nil, translateStoreError(err, "project")
	}

	// Mode and base code come from the claim, read under its lock.
	mode := generator.ModeRevision
	if req.IsInitial || claim.BaseCode == "" {
		mode = generator.ModeInitial
	}

	s.logger.Info("Generation accepted",
		zap.Stringer("project_id", projectID),
		zap.Stringer("message_id", claim.Message.ID),
		zap.String("mode", string(mode)),
	)
	s.broker.Publish(events.Event{Type: events.GenerationStarted, ProjectID: projectID})

	job := &generationJob{projectID: projectID, message: claim.Message, mode: mode}
	if mode == generator.ModeRevision {
		job.currentCode = claim.BaseCode
	}
	return job, nil
}

func (s *GenerationService) run(ctx context.Context, job *generationJob) (*models.Version, error) {
	log := s.logger.With(zap.Stringer("project_id", job.projectID), zap.Stringer("message_id", job.message.ID))

	callCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	done := metrics.GenerationStarted()
	start := time.Now()
	code, err := s.callGenerator(callCtx, job)
	if err == nil {
		code, err = generator.ExtractHTML(code)
	}
	elapsed := time.Since(start)
	done()

	if err != nil {
		outcome, reason := metrics.OutcomeFailure, "The AI service could not generate the website. Please try again."
		switch {
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
			outcome, reason = metrics.OutcomeTimeout, fmt.Sprintf("The AI service did not answer within %s. Please try again.", s.opts.Timeout)
		case errors.Is(err, generator.ErrEmptyOutput):
			reason = "The AI service returned an empty response. Please try again."
		}
		metrics.ObserveGeneration(string(job.mode), outcome, elapsed)
		log.Error("Generation failed", zap.String("outcome", outcome), zap.Duration("elapsed", elapsed), zap.Error(err))

		s.fail(ctx, job, reason)
		return nil, fmt.Errorf("%w: %s", ErrGeneration, reason)
	}
	metrics.ObserveGeneration(string(job.mode), metrics.OutcomeSuccess, elapsed)

	reply := revisionReply
	if job.mode == generator.ModeInitial {
		reply = initialReply
	}

	writeCtx, writeCancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer writeCancel()
	version, err := s.store.CommitGeneration(writeCtx, store.CommitGenerationParams{
		ProjectID:        job.projectID,
		ClaimMessageID:   job.message.ID,
		Code:             code,
		AssistantMessage: &reply,
	})
	if err != nil {
		if errors.Is(err, store.ErrStaleGeneration) {
			log.Warn("Generation result discarded, claim was taken over")
			return nil, fmt.Errorf("%w: the request was superseded", ErrGeneration)
		}
		log.Error("Failed to commit generation", zap.Error(err))
		s.fail(ctx, job, "The generated website could not be saved. Please try again.")
		return nil, fmt.Errorf("committing generation: %w", err)
	}

	log.Info("Generation completed", zap.Stringer("version_id", version.ID), zap.Duration("elapsed", elapsed))
	versionID := version.ID
	s.broker.Publish(events.Event{Type: events.GenerationCompleted, ProjectID: job.projectID, VersionID: &versionID})
	return version, nil
}

// callGenerator turns a panicking backend into an ordinary failure.
func (s *GenerationService) callGenerator(ctx context.Context, job *generationJob) (code string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("generator panicked: %v", r)
		}
	}()
	return s.generator.Generate(ctx, generator.Request{
		Mode:        job.mode,
		Instruction: job.message.Content,
		CurrentCode: job.currentCode,
	})
}

// fail releases the claim with a user-facing reason. If this write fails the claim is
// expired by the next read after the stale threshold, see expireStale.
func (s *GenerationService) fail(ctx context.Context, job *generationJob, reason string) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	err := s.store.FailGeneration(writeCtx, store.FailGenerationParams{
		ProjectID:      job.projectID,
		ClaimMessageID: job.message.ID,
		Reason:         reason,
	})
	if err != nil {
		s.logger.Error("Failed to record generation failure",
			zap.Stringer("project_id", job.projectID),
			zap.Error(err),
		)
		return
	}
	s.broker.Publish(events.Event{Type: events.GenerationFailed, ProjectID: job.projectID, Error: reason})
}

// staleAfter is how long a claim may stay PENDING before it counts as abandoned.
func (s *GenerationService) staleAfter() time.Duration {
	return 2 * s.opts.Timeout
}

// expireStale fails an abandoned claim so readers never see a project stuck in PENDING.
// It returns the project as it is afterwards. Store errors are logged and p is returned.
func (s *GenerationService) expireStale(ctx context.Context, p *models.Project) *models.Project {
	if !p.IsGenerating() {
		return p
	}
	expired, err := s.store.ExpireStaleGeneration(ctx, store.ExpireGenerationParams{
		ProjectID:  p.ID,
		StaleAfter: s.staleAfter(),
		Reason:     abandonedReason,
	})
	if err != nil {
		s.logger.Error("Failed to expire stale generation", zap.Stringer("project_id", p.ID), zap.Error(err))
		return p
	}
	if !expired {
		return p
	}

	s.logger.Warn("Expired abandoned generation", zap.Stringer("project_id", p.ID))
	s.broker.Publish(events.Event{Type: events.GenerationFailed, ProjectID: p.ID, Error: abandonedReason})
	fresh, err := s.store.GetProject(ctx, p.ID)
	if err != nil {
		s.logger.Error("Failed to reload project", zap.Stringer("project_id", p.ID), zap.Error(err))
		return p
	}
	return fresh
}

// loadProject is loadOwnedProject followed by expireStale.
func (s *GenerationService) loadProject(ctx context.Context, ownerID, projectID uuid.UUID) (*models.Project, error) {
	project, err := loadOwnedProject(ctx, s.store, ownerID, projectID)
	if err != nil {
		return nil, err
	}
	return s.expireStale(ctx, project), nil
}

// loadOwnedProject fetches a project and checks that ownerID owns it.
func loadOwnedProject(ctx context.Context, st store.Store, ownerID, projectID uuid.UUID) (*models.Project, error) {
	project, err := st.GetProject(ctx, projectID)
	if err != nil {
		return nil, translateStoreError(err, "project")
	}
	if project.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	return project, nil
}
