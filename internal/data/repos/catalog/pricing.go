package catalog

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/andrewdyar/switchyard-sub001/internal/domain"
	"github.com/andrewdyar/switchyard-sub001/internal/platform/dbctx"
	"github.com/andrewdyar/switchyard-sub001/internal/platform/logger"
)

type PricingRepo interface {
	// GetOpen returns the row with effective_to IS NULL, or nil.
	GetOpen(dbc dbctx.Context, productID uuid.UUID, retailer, locationID string) (*types.ProductPricing, error)
	Insert(dbc dbctx.Context, row *types.ProductPricing) error
	// Close sets effective_to on an open row. It reports false when the row
	// was already closed by someone else.
	Close(dbc dbctx.Context, id uuid.UUID, at time.Time) (bool, error)
	// Series returns all rows for the key ordered by effective_from.
	Series(dbc dbctx.Context, productID uuid.UUID, retailer, locationID string) ([]*types.ProductPricing, error)
	ListOpenByProductID(dbc dbctx.Context, productID uuid.UUID) ([]*types.ProductPricing, error)
}

type pricingRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPricingRepo(db *gorm.DB, baseLog *logger.Logger) PricingRepo {
	return &pricingRepo{db: db, log: baseLog.With("repo", "PricingRepo")}
}

func (r *pricingRepo) GetOpen(dbc dbctx.Context, productID uuid.UUID, retailer, locationID string) (*types.ProductPricing, error) {
	if productID == uuid.Nil {
		return nil, nil
	}
	var row types.ProductPricing
	err := dbc.Or(r.db).WithContext(dbc.Context()).
		Where("product_id = ? AND retailer = ? AND location_id = ? AND effective_to IS NULL", productID, retailer, locationID).
		Order("effective_from DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *pricingRepo) Insert(dbc dbctx.Context, row *types.ProductPricing) error {
	if row == nil {
		return nil
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	return dbc.Or(r.db).WithContext(dbc.Context()).Create(row).Error
}

func (r *pricingRepo) Close(dbc dbctx.Context, id uuid.UUID, at time.Time) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	res := dbc.Or(r.db).WithContext(dbc.Context()).
		Model(&types.ProductPricing{}).
		Where("id = ? AND effective_to IS NULL", id).
		Update("effective_to", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *pricingRepo) Series(dbc dbctx.Context, productID uuid.UUID, retailer, locationID string) ([]*types.ProductPricing, error) {
	var out []*types.ProductPricing
	if productID == uuid.Nil {
		return out, nil
	}
	if err := dbc.Or(r.db).WithContext(dbc.Context()).
		Where("product_id = ? AND retailer = ? AND location_id = ?", productID, retailer, locationID).
		Order("effective_from ASC, created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *pricingRepo) ListOpenByProductID(dbc dbctx.Context, productID uuid.UUID) ([]*types.ProductPricing, error) {
	var out []*types.ProductPricing
	if productID == uuid.Nil {
		return out, nil
	}
	if err := dbc.Or(r.db).WithContext(dbc.Context()).
		Where("product_id = ? AND effective_to IS NULL", productID).
		Order("retailer ASC, location_id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
