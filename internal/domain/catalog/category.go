package catalog

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	CategorySourceGoods  = "goods"
	CategorySourceManual = "manual"
)

// Category is a node of the internal taxonomy. Slug is the key path
// ("beverages", "beverages/soda") and is unique.
type Category struct {
	ID       uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Slug     string     `gorm:"column:slug;not null;uniqueIndex" json:"slug"`
	Name     string     `gorm:"column:name;not null;index" json:"name"`
	ParentID *uuid.UUID `gorm:"type:uuid;column:parent_id;index" json:"parent_id,omitempty"`
	Parent   *Category  `gorm:"foreignKey:ParentID;references:ID" json:"parent,omitempty"`
	Level    int        `gorm:"column:level;not null" json:"level"`
	Source   string     `gorm:"column:source;not null;index" json:"source"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Category) TableName() string { return "category" }

func (c *Category) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
