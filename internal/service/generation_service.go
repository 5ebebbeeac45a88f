package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mellowlab/asmrgen/internal/config"
	"github.com/mellowlab/asmrgen/internal/kie"
	"github.com/mellowlab/asmrgen/internal/repository"
)

var ErrCreditsRequired = errors.New("insufficient credits, purchase required")

const deductDescription = "ASMR video generation"

// GenerationService starts generation jobs and reacts to their completion
// callbacks. It spends credits through the ledger before a job is accepted and
// refunds them when the generator reports failure.
type GenerationService struct {
	cfg          config.Config
	log          *slog.Logger
	profiles     *repository.ProfileRepository
	transactions *repository.TransactionRepository
	credits      *CreditService
	videos       *VideoService
	kie          *kie.Client
}

type GenerationRequest struct {
	Prompt      string
	AspectRatio string
	Duration    int
}

type GenerationStart struct {
	TaskID           string
	RemainingCredits int
}

func NewGenerationService(cfg config.Config, log *slog.Logger, profiles *repository.ProfileRepository, transactions *repository.TransactionRepository, credits *CreditService, videos *VideoService, client *kie.Client) *GenerationService {
	return &GenerationService{
		cfg:          cfg,
		log:          log,
		profiles:     profiles,
		transactions: transactions,
		credits:      credits,
		videos:       videos,
		kie:          client,
	}
}

// Start spends credits and submits a generation task. The deduction carries the
// generator's task id so the completion callback can tag the transaction later.
// The pre-check on balance keeps us from creating tasks the user cannot pay
// for; it is advisory only, the authoritative check happens in Deduct.
func (s *GenerationService) Start(ctx context.Context, userID string, req GenerationRequest) (*GenerationStart, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("prompt cannot be empty")
	}
	if req.AspectRatio == "" {
		req.AspectRatio = "16:9"
	}

	profile, _, err := s.profiles.Ensure(ctx, userID, s.cfg.SignupCredits)
	if err != nil {
		return nil, fmt.Errorf("ensure profile: %w", err)
	}
	if profile.Credits < s.cfg.CreditsPerVideo {
		return nil, ErrCreditsRequired
	}

	taskID, err := s.kie.CreateTask(ctx, kie.GenerateOptions{
		Prompt:      req.Prompt,
		AspectRatio: req.AspectRatio,
		Duration:    req.Duration,
		CallbackURL: s.cfg.KIECallbackURL,
	})
	if err != nil {
		return nil, err
	}

	result, err := s.credits.Deduct(ctx, userID, s.cfg.CreditsPerVideo, deductDescription, taskID)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		// The task was already submitted; it will render unpaid. Log it and
		// surface the failure, there is no way to cancel a submitted job.
		s.log.Error("deduct failed after task creation", "user", userID, "task", taskID, "reason", result.Reason)
		return nil, ErrCreditsRequired
	}

	s.log.Info("generation started", "user", userID, "task", taskID, "remaining", result.RemainingCredits)
	return &GenerationStart{TaskID: taskID, RemainingCredits: result.RemainingCredits}, nil
}

// HandleCompletion processes a generator callback for a finished task. The
// callback carries only the task id; the paying usage transaction links it back
// to a user. A success runs the media pipeline; a failure refunds the credits.
func (s *GenerationService) HandleCompletion(ctx context.Context, taskID string, succeeded bool, videoURL, thumbnailURL, failMsg string) (*CompletionResult, error) {
	if taskID == "" {
		return nil, fmt.Errorf("taskId cannot be empty")
	}

	usage, err := s.transactions.FindUsageByTaskID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("correlate task: %w", err)
	}
	userID := ""
	if usage != nil {
		userID = usage.UserID
	}

	if !succeeded {
		if failMsg == "" {
			failMsg = "unknown error"
		}
		s.log.Error("generation failed", "task", taskID, "user", userID, "msg", failMsg)
		if userID != "" {
			// Refund what the usage row actually deducted; the configured
			// price may have changed since the task was started.
			refundAmount := -usage.Amount
			if refundAmount <= 0 {
				refundAmount = s.cfg.CreditsPerVideo
			}
			if _, err := s.credits.Refund(ctx, userID, refundAmount, "Generation failed: "+failMsg, taskID, nil); err != nil {
				return nil, fmt.Errorf("refund failed generation: %w", err)
			}
		}
		return nil, nil
	}

	if videoURL == "" {
		return nil, fmt.Errorf("callback for task %s carries no video url", taskID)
	}
	if thumbnailURL == "" {
		return nil, fmt.Errorf("callback for task %s carries no thumbnail url", taskID)
	}

	// The generator redelivers callbacks it considers unacknowledged; a task
	// that already produced a catalog row is not processed again.
	if existing, err := s.videos.FindByTask(ctx, taskID); err != nil {
		return nil, fmt.Errorf("check existing video: %w", err)
	} else if existing != nil {
		s.log.Info("duplicate completion callback", "task", taskID, "video_id", existing.ID)
		return &CompletionResult{
			VideoID:      existing.ID,
			VideoURL:     existing.VideoURL,
			ThumbnailURL: existing.ThumbnailURL,
		}, nil
	}

	meta := VideoMetadata{TaskID: taskID, UserID: userID}
	return s.videos.CompleteVideoProcessing(ctx, videoURL, thumbnailURL, meta)
}

// TaskStatus queries the generator directly, for reconciling tasks whose
// callback never arrived.
func (s *GenerationService) TaskStatus(ctx context.Context, taskID string) (*kie.RecordInfo, error) {
	return s.kie.GetRecordInfo(ctx, taskID)
}
