package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mellowlab/asmrgen/internal/models"
)

type PackageRepository struct {
	db *sql.DB
}

func NewPackageRepository(db *sql.DB) *PackageRepository {
	return &PackageRepository{db: db}
}

const packageColumns = `id, title, COALESCE(description, ''), product_id, currency, price_minor_units, credits, is_active, created_at, updated_at`

func (r *PackageRepository) List(ctx context.Context) ([]models.CreditPackage, error) {
	query := `
SELECT ` + packageColumns + `
FROM credit_packages
ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	defer rows.Close()

	var packages []models.CreditPackage
	for rows.Next() {
		var pkg models.CreditPackage
		if err := rows.Scan(&pkg.ID, &pkg.Title, &pkg.Description, &pkg.ProductID, &pkg.Currency, &pkg.PriceMinorUnits, &pkg.Credits, &pkg.IsActive, &pkg.CreatedAt, &pkg.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan package: %w", err)
		}
		packages = append(packages, pkg)
	}
	return packages, rows.Err()
}

func (r *PackageRepository) GetByID(ctx context.Context, id int64) (*models.CreditPackage, error) {
	query := `
SELECT ` + packageColumns + `
FROM credit_packages
WHERE id = ?`
	return r.getOne(ctx, query, id)
}

func (r *PackageRepository) GetByProductID(ctx context.Context, productID string) (*models.CreditPackage, error) {
	query := `
SELECT ` + packageColumns + `
FROM credit_packages
WHERE product_id = ?`
	return r.getOne(ctx, query, productID)
}

func (r *PackageRepository) GetDefault(ctx context.Context) (*models.CreditPackage, error) {
	query := `
SELECT ` + packageColumns + `
FROM credit_packages
WHERE is_active = 1
ORDER BY id ASC
LIMIT 1`
	return r.getOne(ctx, query)
}

func (r *PackageRepository) getOne(ctx context.Context, query string, args ...any) (*models.CreditPackage, error) {
	row := r.db.QueryRowContext(ctx, query, args...)
	var pkg models.CreditPackage
	if err := row.Scan(&pkg.ID, &pkg.Title, &pkg.Description, &pkg.ProductID, &pkg.Currency, &pkg.PriceMinorUnits, &pkg.Credits, &pkg.IsActive, &pkg.CreatedAt, &pkg.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get package: %w", err)
	}
	return &pkg, nil
}

func (r *PackageRepository) Create(ctx context.Context, pkg *models.CreditPackage) (*models.CreditPackage, error) {
	const query = `
INSERT INTO credit_packages (title, description, product_id, currency, price_minor_units, credits, is_active)
VALUES (?, NULLIF(?, ''), ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, pkg.Title, pkg.Description, pkg.ProductID, pkg.Currency, pkg.PriceMinorUnits, pkg.Credits, pkg.IsActive)
	if err != nil {
		return nil, fmt.Errorf("create package: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("package last insert id: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *PackageRepository) Update(ctx context.Context, pkg *models.CreditPackage) (*models.CreditPackage, error) {
	const query = `
UPDATE credit_packages
SET title = ?, description = NULLIF(?, ''), product_id = ?, currency = ?, price_minor_units = ?, credits = ?, is_active = ?, updated_at = NOW()
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, pkg.Title, pkg.Description, pkg.ProductID, pkg.Currency, pkg.PriceMinorUnits, pkg.Credits, pkg.IsActive, pkg.ID); err != nil {
		return nil, fmt.Errorf("update package: %w", err)
	}
	return r.GetByID(ctx, pkg.ID)
}

func (r *PackageRepository) Delete(ctx context.Context, id int64) error {
	const query = `DELETE FROM credit_packages WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete package: %w", err)
	}
	return nil
}
