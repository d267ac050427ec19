package catalog

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/farmcart-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/farmcart-backend/pkg/errors"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:catalog_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Product{}, &models.InventoryItem{}))
	return db
}

func seedStock(t *testing.T, db *gorm.DB, available int) uuid.UUID {
	t.Helper()
	product := models.Product{
		FarmerID:     uuid.New(),
		Name:         "Tomatoes",
		Unit:         "kg",
		PriceCents:   4000,
		MinimumOrder: 1,
		IsAvailable:  true,
	}
	require.NoError(t, db.Create(&product).Error)
	require.NoError(t, db.Create(&models.InventoryItem{ProductID: product.ID, AvailableQty: available}).Error)
	return product.ID
}

func loadStock(t *testing.T, db *gorm.DB, productID uuid.UUID) models.InventoryItem {
	t.Helper()
	var item models.InventoryItem
	require.NoError(t, db.First(&item, "product_id = ?", productID).Error)
	return item
}

func TestReserveAllAppliesEveryLine(t *testing.T) {
	db := newTestDB(t)
	a := seedStock(t, db, 5)
	b := seedStock(t, db, 2)

	comp, err := NewCompensator(NewRepository(db))
	require.NoError(t, err)

	err = comp.ReserveAll(context.Background(), db, []Line{{ProductID: a, Qty: 3}, {ProductID: b, Qty: 2}})
	require.NoError(t, err)

	require.Equal(t, 2, loadStock(t, db, a).AvailableQty)
	require.Equal(t, 3, loadStock(t, db, a).ReservedQty)
	require.Equal(t, 0, loadStock(t, db, b).AvailableQty)
	require.Equal(t, 2, loadStock(t, db, b).ReservedQty)
}

func TestReserveAllRollsBackOnShortfall(t *testing.T) {
	db := newTestDB(t)
	a := seedStock(t, db, 5)
	b := seedStock(t, db, 1)

	comp, err := NewCompensator(NewRepository(db))
	require.NoError(t, err)

	err = comp.ReserveAll(context.Background(), db, []Line{{ProductID: a, Qty: 3}, {ProductID: b, Qty: 2}})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeStateConflict, typed.Code())
	require.Equal(t, "insufficient stock", typed.Message())

	require.Equal(t, 5, loadStock(t, db, a).AvailableQty)
	require.Equal(t, 0, loadStock(t, db, a).ReservedQty)
	require.Equal(t, 1, loadStock(t, db, b).AvailableQty)
}

func TestReserveAllRejectsNonPositiveQty(t *testing.T) {
	db := newTestDB(t)
	a := seedStock(t, db, 5)

	comp, err := NewCompensator(NewRepository(db))
	require.NoError(t, err)

	err = comp.ReserveAll(context.Background(), db, []Line{{ProductID: a, Qty: 0}})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	require.Equal(t, 5, loadStock(t, db, a).AvailableQty)
}

func TestRestoreAllReturnsReservedStock(t *testing.T) {
	db := newTestDB(t)
	a := seedStock(t, db, 4)

	comp, err := NewCompensator(NewRepository(db))
	require.NoError(t, err)
	ctx := context.Background()

	lines := []Line{{ProductID: a, Qty: 4}}
	require.NoError(t, comp.ReserveAll(ctx, db, lines))
	require.Equal(t, 0, loadStock(t, db, a).AvailableQty)

	require.NoError(t, comp.RestoreAll(ctx, db, lines))
	item := loadStock(t, db, a)
	require.Equal(t, 4, item.AvailableQty)
	require.Equal(t, 0, item.ReservedQty)
}

func TestReserveNeverOversellsUnderContention(t *testing.T) {
	db := newTestDB(t)
	a := seedStock(t, db, 3)
	repo := NewRepository(db)

	var ok, short int
	for i := 0; i < 5; i++ {
		switch err := repo.Reserve(context.Background(), a, 1); err {
		case nil:
			ok++
		case ErrInsufficientStock:
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 3, ok)
	require.Equal(t, 2, short)
	require.Equal(t, 0, loadStock(t, db, a).AvailableQty)
}

func TestFindProductsByIDs(t *testing.T) {
	db := newTestDB(t)
	a := seedStock(t, db, 1)
	repo := NewRepository(db)

	found, err := repo.FindProductsByIDs(context.Background(), []uuid.UUID{a, uuid.New()})
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "Tomatoes", found[a].Name)
}
