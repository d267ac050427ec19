package models

import (
	"time"

	"github.com/google/uuid"
)

// InventoryItem is the stock row for one product. Reserving an order moves
// units from AvailableQty to ReservedQty; cancelling moves them back.
type InventoryItem struct {
	ProductID    uuid.UUID `gorm:"column:product_id;type:uuid;primaryKey"`
	AvailableQty int       `gorm:"column:available_qty;not null;default:0;check:available_qty >= 0"`
	ReservedQty  int       `gorm:"column:reserved_qty;not null;default:0;check:reserved_qty >= 0"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (InventoryItem) TableName() string { return "inventory_items" }
