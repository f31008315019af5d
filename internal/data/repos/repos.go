package repos

import (
	"gorm.io/gorm"

	"github.com/andrewdyar/switchyard-sub001/internal/data/repos/catalog"
	"github.com/andrewdyar/switchyard-sub001/internal/platform/logger"
)

type CategoryRepo = catalog.CategoryRepo
type ProductRepo = catalog.ProductRepo
type StoreMappingRepo = catalog.StoreMappingRepo
type PricingRepo = catalog.PricingRepo

func NewCategoryRepo(db *gorm.DB, baseLog *logger.Logger) CategoryRepo {
	return catalog.NewCategoryRepo(db, baseLog)
}
func NewProductRepo(db *gorm.DB, baseLog *logger.Logger) ProductRepo {
	return catalog.NewProductRepo(db, baseLog)
}
func NewStoreMappingRepo(db *gorm.DB, baseLog *logger.Logger) StoreMappingRepo {
	return catalog.NewStoreMappingRepo(db, baseLog)
}
func NewPricingRepo(db *gorm.DB, baseLog *logger.Logger) PricingRepo {
	return catalog.NewPricingRepo(db, baseLog)
}

// Set bundles the catalog repositories over one connection.
type Set struct {
	Categories CategoryRepo
	Products   ProductRepo
	Mappings   StoreMappingRepo
	Pricing    PricingRepo
}

func NewSet(db *gorm.DB, baseLog *logger.Logger) Set {
	return Set{
		Categories: NewCategoryRepo(db, baseLog),
		Products:   NewProductRepo(db, baseLog),
		Mappings:   NewStoreMappingRepo(db, baseLog),
		Pricing:    NewPricingRepo(db, baseLog),
	}
}

// IsUniqueViolation reports whether err came from a unique index.
func IsUniqueViolation(err error) bool { return catalog.IsUniqueViolation(err) }
