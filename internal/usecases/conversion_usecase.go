package usecases

import (
	"context"
	"fmt"
	"io"

	"convertapi/internal/entities"
	"convertapi/internal/infrastructure"
	"convertapi/internal/interfaces"

	"go.uber.org/zap"
)

type SubmitInput struct {
	// Identity is nil for anonymous submissions.
	Identity *Identity
	ToolType string
	Filename string
	Size     int64
	Body     io.Reader
	Options  map[string]string
}

type Submission struct {
	Job  *entities.Job
	Tool entities.ToolConfig
}

// ConversionUsecase accepts uploads: validate, reserve quota, store the
// input, register the job, hand it to the dispatcher.
type ConversionUsecase struct {
	registry       *JobRegistry
	ledger         *QuotaLedger
	dispatcher     *Dispatcher
	artifacts      interfaces.ArtifactStore
	metrics        *infrastructure.Metrics
	logger         *zap.SugaredLogger
	allowAnonymous bool
}

func NewConversionUsecase(
	registry *JobRegistry,
	ledger *QuotaLedger,
	dispatcher *Dispatcher,
	artifacts interfaces.ArtifactStore,
	metrics *infrastructure.Metrics,
	logger *zap.SugaredLogger,
	allowAnonymous bool,
) *ConversionUsecase {
	return &ConversionUsecase{
		registry:       registry,
		ledger:         ledger,
		dispatcher:     dispatcher,
		artifacts:      artifacts,
		metrics:        metrics,
		logger:         logger,
		allowAnonymous: allowAnonymous,
	}
}

func (uc *ConversionUsecase) AllowAnonymous() bool {
	return uc.allowAnonymous
}

func (uc *ConversionUsecase) Submit(ctx context.Context, in SubmitInput) (*Submission, error) {
	userID := in.Identity.UserID()
	if userID == "" && !uc.allowAnonymous {
		return nil, &CredentialError{Kind: CredentialRequired, Message: "api key required"}
	}
	if in.Body == nil {
		return nil, &entities.ValidationError{Field: "file", Message: "file is required"}
	}
	tool, err := uc.registry.Validate(in.ToolType, in.Filename, in.Size)
	if err != nil {
		return nil, err
	}

	if userID != "" {
		if _, err := uc.ledger.Reserve(ctx, userID); err != nil {
			return nil, err
		}
	}
	release := func() {
		if userID == "" {
			return
		}
		if err := uc.ledger.Release(context.WithoutCancel(ctx), userID); err != nil {
			uc.logger.Errorw("quota release failed", "user_id", userID, "error", err)
		}
	}

	art, err := uc.artifacts.Save(ctx, in.Filename, io.LimitReader(in.Body, tool.MaxBytes()+1))
	if err != nil {
		release()
		return nil, fmt.Errorf("store upload: %w", err)
	}
	// The declared size is client supplied; re-check what was actually stored.
	if err := tool.ValidateInput(in.Filename, art.Size); err != nil {
		uc.discard(ctx, art.Ref)
		release()
		return nil, err
	}

	job, err := uc.registry.Create(ctx, NewJob{
		UserID:        userID,
		APIKeyID:      in.Identity.APIKeyID(),
		Tool:          tool,
		InputFilename: in.Filename,
		InputRef:      art.Ref,
		InputSize:     art.Size,
		Options:       in.Options,
	})
	if err != nil {
		uc.discard(ctx, art.Ref)
		release()
		return nil, fmt.Errorf("create job: %w", err)
	}
	uc.metrics.JobSubmitted(string(tool.Type))
	uc.logger.Infow("job submitted", "job_id", job.ID, "tool", tool.Type, "user_id", userID, "size", art.Size)

	if !uc.dispatcher.Dispatch(job.Clone(), tool) {
		if current, err := uc.registry.Get(context.WithoutCancel(ctx), job.ID, userID); err == nil {
			job = current
		}
	}
	return &Submission{Job: job, Tool: tool}, nil
}

func (uc *ConversionUsecase) discard(ctx context.Context, ref string) {
	if err := uc.artifacts.Delete(context.WithoutCancel(ctx), ref); err != nil {
		uc.logger.Warnw("artifact cleanup failed", "ref", ref, "error", err)
	}
}
