package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Product is a farmer's listing. Only the fields the order flow reads are
// mapped here; catalog CRUD lives in another service.
type Product struct {
	ID           uuid.UUID      `gorm:"column:id;type:uuid;primaryKey"`
	FarmerID     uuid.UUID      `gorm:"column:farmer_id;type:uuid;not null;index"`
	Name         string         `gorm:"column:name;not null"`
	Unit         string         `gorm:"column:unit;not null"`
	PriceCents   int64          `gorm:"column:price_cents;not null"`
	MinimumOrder int            `gorm:"column:minimum_order;not null;default:1"`
	MaximumOrder int            `gorm:"column:maximum_order;not null;default:0"`
	IsAvailable  bool           `gorm:"column:is_available;not null;default:true"`
	Inventory    *InventoryItem `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
