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

type ProductRepo interface {
	Create(dbc dbctx.Context, row *types.Product) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Product, error)
	GetByBarcode(dbc dbctx.Context, barcode string) (*types.Product, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	Count(dbc dbctx.Context) (int64, error)
}

type productRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProductRepo(db *gorm.DB, baseLog *logger.Logger) ProductRepo {
	return &productRepo{db: db, log: baseLog.With("repo", "ProductRepo")}
}

func (r *productRepo) Create(dbc dbctx.Context, row *types.Product) error {
	if row == nil {
		return nil
	}
	return dbc.Or(r.db).WithContext(dbc.Context()).Omit("Mappings", "Pricing", "Category", "Subcategory").Create(row).Error
}

func (r *productRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Product, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var row types.Product
	err := dbc.Or(r.db).WithContext(dbc.Context()).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *productRepo) GetByBarcode(dbc dbctx.Context, barcode string) (*types.Product, error) {
	if barcode == "" {
		return nil, nil
	}
	var row types.Product
	err := dbc.Or(r.db).WithContext(dbc.Context()).Where("barcode = ?", barcode).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *productRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return dbc.Or(r.db).WithContext(dbc.Context()).
		Model(&types.Product{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *productRepo) Count(dbc dbctx.Context) (int64, error) {
	var n int64
	err := dbc.Or(r.db).WithContext(dbc.Context()).Model(&types.Product{}).Count(&n).Error
	return n, err
}
