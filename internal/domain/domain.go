package domain

import "github.com/andrewdyar/switchyard-sub001/internal/domain/catalog"

const (
	CategorySourceGoods  = catalog.CategorySourceGoods
	CategorySourceManual = catalog.CategorySourceManual
)

type Category = catalog.Category
type Product = catalog.Product
type ProductStoreMapping = catalog.ProductStoreMapping
type ProductPricing = catalog.ProductPricing
type CanonicalProduct = catalog.CanonicalProduct

// Models lists every persisted entity, in migration order.
func Models() []any {
	return []any{
		&Category{},
		&Product{},
		&ProductStoreMapping{},
		&ProductPricing{},
	}
}
