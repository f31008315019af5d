package catalog

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProductStoreMapping binds a product to one retailer's identifier for it.
type ProductStoreMapping struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ProductID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_psm_product_retailer_external,priority:1" json:"product_id"`
	Retailer   string    `gorm:"column:retailer;not null;uniqueIndex:idx_psm_product_retailer_external,priority:2;index:idx_psm_retailer_external,priority:1" json:"retailer"`
	ExternalID string    `gorm:"column:external_id;not null;uniqueIndex:idx_psm_product_retailer_external,priority:3;index:idx_psm_retailer_external,priority:2" json:"external_id"`

	StoreItemID   string  `gorm:"column:store_item_id;not null" json:"store_item_id"`
	StoreItemName string  `gorm:"column:store_item_name;not null" json:"store_item_name"`
	ImageURL      *string `gorm:"column:image_url" json:"image_url,omitempty"`
	LocationID    string  `gorm:"column:location_id" json:"location_id"`
	Aisle         *string `gorm:"column:aisle" json:"aisle,omitempty"`
	Block         *string `gorm:"column:block" json:"block,omitempty"`
	Zone          *string `gorm:"column:zone" json:"zone,omitempty"`

	Rating      *float64 `gorm:"column:rating" json:"rating,omitempty"`
	ReviewCount *int     `gorm:"column:review_count" json:"review_count,omitempty"`

	IsActive   bool      `gorm:"column:is_active;not null;index" json:"is_active"`
	LastSeenAt time.Time `gorm:"column:last_seen_at;not null;index" json:"last_seen_at"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (ProductStoreMapping) TableName() string { return "product_store_mapping" }

func (m *ProductStoreMapping) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
