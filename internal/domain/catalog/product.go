package catalog

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Product struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Barcode *string   `gorm:"column:barcode;uniqueIndex:idx_product_barcode,where:deleted_at IS NULL" json:"barcode,omitempty"`

	Name          string  `gorm:"column:name;not null" json:"name"`
	Brand         *string `gorm:"column:brand" json:"brand,omitempty"`
	Description   *string `gorm:"column:description;type:text" json:"description,omitempty"`
	ImageURL      *string `gorm:"column:image_url" json:"image_url,omitempty"`
	Size          *string `gorm:"column:size" json:"size,omitempty"`
	UnitOfMeasure *string `gorm:"column:unit_of_measure" json:"unit_of_measure,omitempty"`

	CategoryID    *uuid.UUID `gorm:"type:uuid;column:category_id;index" json:"category_id,omitempty"`
	Category      *Category  `gorm:"foreignKey:CategoryID;references:ID" json:"category,omitempty"`
	SubcategoryID *uuid.UUID `gorm:"type:uuid;column:subcategory_id;index" json:"subcategory_id,omitempty"`
	Subcategory   *Category  `gorm:"foreignKey:SubcategoryID;references:ID" json:"subcategory,omitempty"`
	NeedsReview   bool       `gorm:"column:needs_review;not null;default:false;index" json:"needs_review"`

	// Last retailer payload seen for this product.
	Raw datatypes.JSON `gorm:"column:raw;type:jsonb" json:"raw,omitempty"`

	Mappings []ProductStoreMapping `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE" json:"mappings,omitempty"`
	Pricing  []ProductPricing      `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE" json:"pricing,omitempty"`

	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Product) TableName() string { return "product" }

func (p *Product) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
