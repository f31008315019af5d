package catalog

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/andrewdyar/switchyard-sub001/internal/domain"
	"github.com/andrewdyar/switchyard-sub001/internal/platform/dbctx"
	"github.com/andrewdyar/switchyard-sub001/internal/platform/logger"
)

type CategoryRepo interface {
	Create(dbc dbctx.Context, row *types.Category) error
	GetBySlug(dbc dbctx.Context, slug string) (*types.Category, error)
	// FindGoodsByName looks up a goods-sourced category by name under parentID
	// (nil for top level). Returns nil, nil when absent.
	FindGoodsByName(dbc dbctx.Context, name string, parentID *uuid.UUID) (*types.Category, error)
	List(dbc dbctx.Context) ([]*types.Category, error)
}

type categoryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCategoryRepo(db *gorm.DB, baseLog *logger.Logger) CategoryRepo {
	return &categoryRepo{db: db, log: baseLog.With("repo", "CategoryRepo")}
}

func (r *categoryRepo) Create(dbc dbctx.Context, row *types.Category) error {
	if row == nil {
		return nil
	}
	return dbc.Or(r.db).WithContext(dbc.Context()).Create(row).Error
}

func (r *categoryRepo) GetBySlug(dbc dbctx.Context, slug string) (*types.Category, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, nil
	}
	var row types.Category
	err := dbc.Or(r.db).WithContext(dbc.Context()).
		Where("slug = ?", slug).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *categoryRepo) FindGoodsByName(dbc dbctx.Context, name string, parentID *uuid.UUID) (*types.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	q := dbc.Or(r.db).WithContext(dbc.Context()).
		Where("name = ? AND source = ?", name, types.CategorySourceGoods)
	if parentID == nil {
		q = q.Where("parent_id IS NULL")
	} else {
		q = q.Where("parent_id = ?", *parentID)
	}
	var row types.Category
	err := q.Order("level ASC").Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *categoryRepo) List(dbc dbctx.Context) ([]*types.Category, error) {
	var out []*types.Category
	if err := dbc.Or(r.db).WithContext(dbc.Context()).
		Order("level ASC, slug ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
