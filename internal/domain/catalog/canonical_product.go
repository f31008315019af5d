package catalog

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// CanonicalProduct is the normalized, retailer-independent record emitted by
// the normalizer and consumed by the catalog writer.
type CanonicalProduct struct {
	Retailer   string `json:"retailer"`
	LocationID string `json:"location_id"`
	ExternalID string `json:"external_id"`

	// Barcode is nil or a digit string of length >= 6 without leading zeros.
	Barcode *string `json:"barcode,omitempty"`

	Name          string  `json:"name"`
	Brand         *string `json:"brand,omitempty"`
	Description   *string `json:"description,omitempty"`
	Size          *string `json:"size,omitempty"`
	UnitOfMeasure *string `json:"unit_of_measure,omitempty"`
	ImageURL      *string `json:"image_url,omitempty"`
	StoreItemID   *string `json:"store_item_id,omitempty"`

	CostPrice       decimal.NullDecimal `json:"cost_price"`
	ListPrice       decimal.NullDecimal `json:"list_price"`
	PricePerUnit    decimal.NullDecimal `json:"price_per_unit"`
	PricePerUnitUOM *string             `json:"price_per_unit_uom,omitempty"`
	IsOnSale        bool                `json:"is_on_sale"`

	Rating      *float64 `json:"rating,omitempty"`
	ReviewCount *int     `json:"review_count,omitempty"`

	Aisle    *string `json:"aisle,omitempty"`
	Block    *string `json:"block,omitempty"`
	Zone     *string `json:"zone,omitempty"`
	IsActive bool    `json:"is_active"`

	// Root to leaf.
	RetailerCategoryPath []string `json:"retailer_category_path,omitempty"`

	// Taxonomy keys resolved by the normalizer; Subcategory may be empty.
	Category    string `json:"category"`
	Subcategory string `json:"subcategory,omitempty"`
	NeedsReview bool   `json:"needs_review"`

	Raw json.RawMessage `json:"raw,omitempty"`
}

// Leaf returns the last retailer category name, or "".
func (c *CanonicalProduct) Leaf() string {
	if c == nil || len(c.RetailerCategoryPath) == 0 {
		return ""
	}
	return c.RetailerCategoryPath[len(c.RetailerCategoryPath)-1]
}

// Parent returns the retailer category directly above the leaf, or "".
func (c *CanonicalProduct) Parent() string {
	if c == nil || len(c.RetailerCategoryPath) < 2 {
		return ""
	}
	return c.RetailerCategoryPath[len(c.RetailerCategoryPath)-2]
}
