package service

import (
	"context"
	"fmt"

	"github.com/mellowlab/asmrgen/internal/config"
	"github.com/mellowlab/asmrgen/internal/models"
	"github.com/mellowlab/asmrgen/internal/repository"
)

// ProfileService exposes profile lookup and first-touch creation. Accounts
// themselves live in the external auth provider; we only keep the credit
// profile keyed by its user id.
type ProfileService struct {
	cfg      config.Config
	profiles *repository.ProfileRepository
}

func NewProfileService(cfg config.Config, profiles *repository.ProfileRepository) *ProfileService {
	return &ProfileService{cfg: cfg, profiles: profiles}
}

func (s *ProfileService) Ensure(ctx context.Context, userID string) (*models.UserProfile, bool, error) {
	profile, created, err := s.profiles.Ensure(ctx, userID, s.cfg.SignupCredits)
	if err != nil {
		return nil, false, fmt.Errorf("ensure profile: %w", err)
	}
	return profile, created, nil
}

func (s *ProfileService) Get(ctx context.Context, userID string) (*models.UserProfile, error) {
	return s.profiles.FindByID(ctx, userID)
}
