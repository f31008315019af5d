package catalog

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/andrewdyar/switchyard-sub001/internal/domain"
	"github.com/andrewdyar/switchyard-sub001/internal/platform/dbctx"
	"github.com/andrewdyar/switchyard-sub001/internal/platform/logger"
)

type StoreMappingRepo interface {
	// GetByRetailerExternalID prefers the active mapping when several exist.
	GetByRetailerExternalID(dbc dbctx.Context, retailer, externalID string) (*types.ProductStoreMapping, error)
	GetByKey(dbc dbctx.Context, productID uuid.UUID, retailer, externalID string) (*types.ProductStoreMapping, error)
	// Upsert inserts or updates on (product_id, retailer, external_id).
	Upsert(dbc dbctx.Context, row *types.ProductStoreMapping) error
	ListByProductID(dbc dbctx.Context, productID uuid.UUID) ([]*types.ProductStoreMapping, error)
	// DeactivateUnseen flips is_active off for mappings of a retailer location
	// that were not seen since before.
	DeactivateUnseen(dbc dbctx.Context, retailer, locationID string, before time.Time) (int64, error)
}

type storeMappingRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStoreMappingRepo(db *gorm.DB, baseLog *logger.Logger) StoreMappingRepo {
	return &storeMappingRepo{db: db, log: baseLog.With("repo", "StoreMappingRepo")}
}

func (r *storeMappingRepo) GetByRetailerExternalID(dbc dbctx.Context, retailer, externalID string) (*types.ProductStoreMapping, error) {
	if retailer == "" || externalID == "" {
		return nil, nil
	}
	var row types.ProductStoreMapping
	err := dbc.Or(r.db).WithContext(dbc.Context()).
		Where("retailer = ? AND external_id = ?", retailer, externalID).
		Order("is_active DESC, created_at ASC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *storeMappingRepo) GetByKey(dbc dbctx.Context, productID uuid.UUID, retailer, externalID string) (*types.ProductStoreMapping, error) {
	if productID == uuid.Nil {
		return nil, nil
	}
	var row types.ProductStoreMapping
	err := dbc.Or(r.db).WithContext(dbc.Context()).
		Where("product_id = ? AND retailer = ? AND external_id = ?", productID, retailer, externalID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *storeMappingRepo) Upsert(dbc dbctx.Context, row *types.ProductStoreMapping) error {
	if row == nil || row.ProductID == uuid.Nil {
		return nil
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	now := time.Now().UTC()
	if row.LastSeenAt.IsZero() {
		row.LastSeenAt = now
	}
	row.UpdatedAt = now

	return dbc.Or(r.db).WithContext(dbc.Context()).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "product_id"}, {Name: "retailer"}, {Name: "external_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"store_item_id",
				"store_item_name",
				"image_url",
				"location_id",
				"aisle",
				"block",
				"zone",
				"rating",
				"review_count",
				"is_active",
				"last_seen_at",
				"updated_at",
			}),
		}).
		Create(row).Error
}

func (r *storeMappingRepo) ListByProductID(dbc dbctx.Context, productID uuid.UUID) ([]*types.ProductStoreMapping, error) {
	var out []*types.ProductStoreMapping
	if productID == uuid.Nil {
		return out, nil
	}
	if err := dbc.Or(r.db).WithContext(dbc.Context()).
		Where("product_id = ?", productID).
		Order("retailer ASC, external_id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *storeMappingRepo) DeactivateUnseen(dbc dbctx.Context, retailer, locationID string, before time.Time) (int64, error) {
	if retailer == "" {
		return 0, nil
	}
	res := dbc.Or(r.db).WithContext(dbc.Context()).
		Model(&types.ProductStoreMapping{}).
		Where("retailer = ? AND location_id = ? AND is_active = ? AND last_seen_at < ?", retailer, locationID, true, before).
		Updates(map[string]interface{}{"is_active": false, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
