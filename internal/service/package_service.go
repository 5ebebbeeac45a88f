package service

import (
	"context"
	"fmt"

	"github.com/mellowlab/asmrgen/internal/config"
	"github.com/mellowlab/asmrgen/internal/models"
	"github.com/mellowlab/asmrgen/internal/repository"
)

// PackageService manages the purchasable credit packages and their mapping to
// gateway product ids.
type PackageService struct {
	cfg  config.Config
	repo *repository.PackageRepository
}

type CreatePackageInput struct {
	Title           string
	Description     string
	ProductID       string
	Currency        string
	PriceMinorUnits int
	Credits         int
	IsActive        *bool
}

type UpdatePackageInput struct {
	Title           *string
	Description     *string
	ProductID       *string
	Currency        *string
	PriceMinorUnits *int
	Credits         *int
	IsActive        *bool
}

func NewPackageService(cfg config.Config, repo *repository.PackageRepository) *PackageService {
	return &PackageService{cfg: cfg, repo: repo}
}

// EnsureDefaultPackage seeds the starter package from configuration when the
// table is empty. Skipped when no default product id is configured.
func (s *PackageService) EnsureDefaultPackage(ctx context.Context) error {
	if s.cfg.DefaultPackageProductID == "" {
		return nil
	}
	pkg, err := s.repo.GetByProductID(ctx, s.cfg.DefaultPackageProductID)
	if err != nil {
		return err
	}
	if pkg != nil {
		return nil
	}
	defaultPkg := &models.CreditPackage{
		Title:           s.cfg.DefaultPackageTitle,
		ProductID:       s.cfg.DefaultPackageProductID,
		Currency:        s.cfg.PaymentCurrency,
		PriceMinorUnits: s.cfg.DefaultPackagePriceUSD,
		Credits:         s.cfg.DefaultPackageCredits,
		IsActive:        true,
	}
	if _, err := s.repo.Create(ctx, defaultPkg); err != nil {
		return fmt.Errorf("create default package: %w", err)
	}
	return nil
}

func (s *PackageService) List(ctx context.Context) ([]models.CreditPackage, error) {
	return s.repo.List(ctx)
}

func (s *PackageService) Create(ctx context.Context, input CreatePackageInput) (*models.CreditPackage, error) {
	if input.Title == "" {
		return nil, fmt.Errorf("title is required")
	}
	if input.ProductID == "" {
		return nil, fmt.Errorf("product_id is required")
	}
	if input.Currency == "" {
		input.Currency = s.cfg.PaymentCurrency
	}
	if input.PriceMinorUnits <= 0 {
		return nil, fmt.Errorf("price must be positive")
	}
	if input.Credits <= 0 {
		return nil, fmt.Errorf("credits must be positive")
	}
	isActive := true
	if input.IsActive != nil {
		isActive = *input.IsActive
	}
	pkg := models.CreditPackage{
		Title:           input.Title,
		Description:     input.Description,
		ProductID:       input.ProductID,
		Currency:        input.Currency,
		PriceMinorUnits: input.PriceMinorUnits,
		Credits:         input.Credits,
		IsActive:        isActive,
	}
	return s.repo.Create(ctx, &pkg)
}

func (s *PackageService) Update(ctx context.Context, id int64, input UpdatePackageInput) (*models.CreditPackage, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("package not found")
	}
	if input.Title != nil {
		existing.Title = *input.Title
	}
	if input.Description != nil {
		existing.Description = *input.Description
	}
	if input.ProductID != nil && *input.ProductID != "" {
		existing.ProductID = *input.ProductID
	}
	if input.Currency != nil && *input.Currency != "" {
		existing.Currency = *input.Currency
	}
	if input.PriceMinorUnits != nil && *input.PriceMinorUnits > 0 {
		existing.PriceMinorUnits = *input.PriceMinorUnits
	}
	if input.Credits != nil && *input.Credits > 0 {
		existing.Credits = *input.Credits
	}
	if input.IsActive != nil {
		existing.IsActive = *input.IsActive
	}
	return s.repo.Update(ctx, existing)
}

func (s *PackageService) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

func (s *PackageService) GetDefault(ctx context.Context) (*models.CreditPackage, error) {
	return s.repo.GetDefault(ctx)
}

func (s *PackageService) GetByID(ctx context.Context, id int64) (*models.CreditPackage, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *PackageService) GetByProductID(ctx context.Context, productID string) (*models.CreditPackage, error) {
	return s.repo.GetByProductID(ctx, productID)
}
