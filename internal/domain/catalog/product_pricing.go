package catalog

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ProductPricing rows are append-only. The row with a nil EffectiveTo is the
// current price for (product, retailer, location).
type ProductPricing struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ProductID  uuid.UUID `gorm:"type:uuid;not null;index:idx_pricing_series,priority:1" json:"product_id"`
	Retailer   string    `gorm:"column:retailer;not null;index:idx_pricing_series,priority:2" json:"retailer"`
	LocationID string    `gorm:"column:location_id;not null;index:idx_pricing_series,priority:3" json:"location_id"`

	Price           decimal.Decimal     `gorm:"column:price;type:numeric(12,2);not null" json:"price"`
	ListPrice       decimal.NullDecimal `gorm:"column:list_price;type:numeric(12,2)" json:"list_price"`
	PricePerUnit    decimal.NullDecimal `gorm:"column:price_per_unit;type:numeric(12,4)" json:"price_per_unit"`
	PricePerUnitUOM *string             `gorm:"column:price_per_unit_uom" json:"price_per_unit_uom,omitempty"`
	IsOnSale        bool                `gorm:"column:is_on_sale;not null;default:false" json:"is_on_sale"`

	EffectiveFrom time.Time  `gorm:"column:effective_from;not null" json:"effective_from"`
	EffectiveTo   *time.Time `gorm:"column:effective_to;index:idx_pricing_series,priority:4" json:"effective_to,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (ProductPricing) TableName() string { return "product_pricing" }

func (p *ProductPricing) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// IsOpen reports whether the row is the current price.
func (p *ProductPricing) IsOpen() bool { return p != nil && p.EffectiveTo == nil }
