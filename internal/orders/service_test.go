package orders

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/farmcart-backend/internal/catalog"
	"github.com/angelmondragon/farmcart-backend/pkg/auth"
	"github.com/angelmondragon/farmcart-backend/pkg/config"
	"github.com/angelmondragon/farmcart-backend/pkg/db"
	"github.com/angelmondragon/farmcart-backend/pkg/db/models"
	"github.com/angelmondragon/farmcart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/farmcart-backend/pkg/errors"
	"github.com/angelmondragon/farmcart-backend/pkg/logger"
	"github.com/angelmondragon/farmcart-backend/pkg/outbox"
	"github.com/angelmondragon/farmcart-backend/pkg/types"
)

var fixedNow = time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)

type harness struct {
	db      *gorm.DB
	repo    Repository
	service Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:orders_%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&models.Product{},
		&models.InventoryItem{},
		&models.Order{},
		&models.OrderItem{},
		&models.OutboxEvent{},
	))

	logg := logger.New(logger.Options{ServiceName: "orders-test", Output: io.Discard})
	repo := NewRepository(conn)
	comp, err := catalog.NewCompensator(catalog.NewRepository(conn))
	require.NoError(t, err)
	numbers, err := NewNumberGenerator("ORD", nil, NewCountSequence(repo, "ORD"), logg)
	require.NoError(t, err)
	pricer, err := NewPricer(config.PricingConfig{TaxRate: "0.08", DeliveryFeeCents: 5000, Currency: "INR"})
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Repository:  repo,
		Tx:          db.NewFromGorm(conn),
		Compensator: comp,
		Outbox:      outbox.NewService(outbox.NewRepository(conn), logg),
		Numbers:     numbers,
		Pricer:      pricer,
		Logger:      logg,
		Now:         func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return &harness{db: conn, repo: repo, service: svc}
}

func (h *harness) seedProduct(t *testing.T, farmerID uuid.UUID, price int64, stock, minQty, maxQty int) uuid.UUID {
	t.Helper()
	product := models.Product{
		FarmerID:     farmerID,
		Name:         "Product " + uuid.NewString()[:6],
		Unit:         "kg",
		PriceCents:   price,
		MinimumOrder: minQty,
		MaximumOrder: maxQty,
		IsAvailable:  true,
	}
	require.NoError(t, h.db.Create(&product).Error)
	require.NoError(t, h.db.Create(&models.InventoryItem{ProductID: product.ID, AvailableQty: stock}).Error)
	return product.ID
}

func (h *harness) stock(t *testing.T, productID uuid.UUID) models.InventoryItem {
	t.Helper()
	var item models.InventoryItem
	require.NoError(t, h.db.First(&item, "product_id = ?", productID).Error)
	return item
}

func (h *harness) countRows(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Model(model).Count(&n).Error)
	return n
}

func (h *harness) eventTypes(t *testing.T) []enums.OutboxEventType {
	t.Helper()
	var rows []models.OutboxEvent
	require.NoError(t, h.db.Order("created_at ASC").Find(&rows).Error)
	out := make([]enums.OutboxEventType, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.EventType)
	}
	return out
}

func buyer() auth.Actor {
	return auth.Actor{UserID: uuid.New(), Role: enums.RoleBuyer}
}

func deliveryInput(actor auth.Actor, items ...ItemInput) CreateOrderInput {
	return CreateOrderInput{
		Actor:          actor,
		Items:          items,
		DeliveryMethod: enums.DeliveryMethodDelivery,
		PaymentMethod:  enums.PaymentMethodCash,
		DeliveryAddress: &types.DeliveryAddress{
			Line1:      "12 Market Road",
			City:       "Pune",
			State:      "MH",
			PostalCode: "411001",
		},
	}
}

func TestCreateOrderComputesTotalsAndReservesStock(t *testing.T) {
	h := newHarness(t)
	farmer := uuid.New()
	tomatoes := h.seedProduct(t, farmer, 4000, 10, 1, 5)
	onions := h.seedProduct(t, farmer, 2550, 8, 2, 0)

	order, err := h.service.Create(context.Background(), deliveryInput(buyer(),
		ItemInput{ProductID: tomatoes, Quantity: 3},
		ItemInput{ProductID: onions, Quantity: 2},
	))
	require.NoError(t, err)

	require.Equal(t, int64(3*4000+2*2550), order.SubtotalCents)
	require.Equal(t, int64(5000), order.DeliveryFeeCents)
	// 17100 * 0.08 = 1368
	require.Equal(t, int64(1368), order.TaxCents)
	require.Equal(t, order.SubtotalCents+order.DeliveryFeeCents+order.TaxCents, order.TotalCents)
	require.Equal(t, "INR", order.Currency)
	require.Equal(t, enums.OrderStatusPending, order.Status)
	require.Equal(t, enums.PaymentStatusPending, order.PaymentStatus)
	require.Equal(t, farmer, order.FarmerID)
	require.Len(t, order.Items, 2)

	require.Regexp(t, regexp.MustCompile(`^ORD261015\d{4}$`), order.OrderNumber)
	require.Equal(t, "ORD2610150001", order.OrderNumber)

	require.Equal(t, 7, h.stock(t, tomatoes).AvailableQty)
	require.Equal(t, 3, h.stock(t, tomatoes).ReservedQty)
	require.Equal(t, 6, h.stock(t, onions).AvailableQty)

	require.Equal(t, []enums.OutboxEventType{enums.EventOrderCreated}, h.eventTypes(t))
}

func TestCreateOrderTaxRoundsHalfUp(t *testing.T) {
	h := newHarness(t)
	farmer := uuid.New()
	// 6249 * 0.08 = 499.92
	p := h.seedProduct(t, farmer, 2083, 10, 1, 0)
	input := deliveryInput(buyer(), ItemInput{ProductID: p, Quantity: 3})
	input.DeliveryMethod = enums.DeliveryMethodPickup
	input.DeliveryAddress = nil

	order, err := h.service.Create(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, int64(6249), order.SubtotalCents)
	require.Equal(t, int64(0), order.DeliveryFeeCents)
	require.Equal(t, int64(500), order.TaxCents)
	require.Equal(t, int64(6749), order.TotalCents)
}

func TestCreateOrderSequentialNumbers(t *testing.T) {
	h := newHarness(t)
	farmer := uuid.New()
	p := h.seedProduct(t, farmer, 100, 10, 1, 0)

	first, err := h.service.Create(context.Background(), deliveryInput(buyer(), ItemInput{ProductID: p, Quantity: 1}))
	require.NoError(t, err)
	second, err := h.service.Create(context.Background(), deliveryInput(buyer(), ItemInput{ProductID: p, Quantity: 1}))
	require.NoError(t, err)

	require.Equal(t, "ORD2610150001", first.OrderNumber)
	require.Equal(t, "ORD2610150002", second.OrderNumber)
}

func TestCreateOrderRejectsMixedFarmers(t *testing.T) {
	h := newHarness(t)
	a := h.seedProduct(t, uuid.New(), 4000, 10, 1, 0)
	b := h.seedProduct(t, uuid.New(), 4000, 10, 1, 0)

	_, err := h.service.Create(context.Background(), deliveryInput(buyer(),
		ItemInput{ProductID: a, Quantity: 1},
		ItemInput{ProductID: b, Quantity: 1},
	))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	require.Zero(t, h.countRows(t, &models.Order{}))
	require.Zero(t, h.countRows(t, &models.OutboxEvent{}))
	require.Equal(t, 10, h.stock(t, a).AvailableQty)
	require.Equal(t, 10, h.stock(t, b).AvailableQty)
}

func TestCreateOrderInsufficientStockLeavesNothingBehind(t *testing.T) {
	h := newHarness(t)
	farmer := uuid.New()
	a := h.seedProduct(t, farmer, 100, 10, 1, 0)
	b := h.seedProduct(t, farmer, 100, 1, 1, 0)

	_, err := h.service.Create(context.Background(), deliveryInput(buyer(),
		ItemInput{ProductID: a, Quantity: 4},
		ItemInput{ProductID: b, Quantity: 2},
	))
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeStateConflict, typed.Code())
	require.Equal(t, "insufficient stock", typed.Message())

	require.Zero(t, h.countRows(t, &models.Order{}))
	require.Equal(t, 10, h.stock(t, a).AvailableQty)
	require.Equal(t, 0, h.stock(t, a).ReservedQty)
	require.Equal(t, 1, h.stock(t, b).AvailableQty)
}

func TestCreateOrderValidation(t *testing.T) {
	h := newHarness(t)
	farmer := uuid.New()
	bounded := h.seedProduct(t, farmer, 100, 50, 2, 5)

	cases := []struct {
		name  string
		input CreateOrderInput
		code  pkgerrors.Code
	}{
		{"below minimum", deliveryInput(buyer(), ItemInput{ProductID: bounded, Quantity: 1}), pkgerrors.CodeValidation},
		{"above maximum", deliveryInput(buyer(), ItemInput{ProductID: bounded, Quantity: 6}), pkgerrors.CodeValidation},
		{"unknown product", deliveryInput(buyer(), ItemInput{ProductID: uuid.New(), Quantity: 2}), pkgerrors.CodeNotFound},
		{"no items", deliveryInput(buyer()), pkgerrors.CodeValidation},
		{"farmer cannot order", deliveryInput(auth.Actor{UserID: uuid.New(), Role: enums.RoleFarmer}, ItemInput{ProductID: bounded, Quantity: 2}), pkgerrors.CodeForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.service.Create(context.Background(), tc.input)
			require.True(t, pkgerrors.IsCode(err, tc.code), "got %v", err)
		})
	}

	missingAddress := deliveryInput(buyer(), ItemInput{ProductID: bounded, Quantity: 2})
	missingAddress.DeliveryAddress = nil
	_, err := h.service.Create(context.Background(), missingAddress)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	require.NoError(t, h.db.Model(&models.Product{}).Where("id = ?", bounded).Update("is_available", false).Error)
	_, err = h.service.Create(context.Background(), deliveryInput(buyer(), ItemInput{ProductID: bounded, Quantity: 2}))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	require.Equal(t, 50, h.stock(t, bounded).AvailableQty)
}

func TestUpdateStatusRejectsSkippedTransition(t *testing.T) {
	h := newHarness(t)
	farmerID := uuid.New()
	p := h.seedProduct(t, farmerID, 100, 10, 1, 0)
	order, err := h.service.Create(context.Background(), deliveryInput(buyer(), ItemInput{ProductID: p, Quantity: 1}))
	require.NoError(t, err)

	farmer := auth.Actor{UserID: farmerID, Role: enums.RoleFarmer}
	_, err = h.service.UpdateStatus(context.Background(), UpdateStatusInput{
		OrderID: order.ID,
		Status:  enums.OrderStatusPreparing,
		Actor:   farmer,
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	reloaded, err := h.repo.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusPending, reloaded.Status)
}

func TestUpdateStatusWalksLifecycle(t *testing.T) {
	h := newHarness(t)
	farmerID := uuid.New()
	p := h.seedProduct(t, farmerID, 100, 10, 1, 0)
	order, err := h.service.Create(context.Background(), deliveryInput(buyer(), ItemInput{ProductID: p, Quantity: 1}))
	require.NoError(t, err)

	farmer := auth.Actor{UserID: farmerID, Role: enums.RoleFarmer}
	for _, next := range []enums.OrderStatus{
		enums.OrderStatusConfirmed,
		enums.OrderStatusPreparing,
		enums.OrderStatusReady,
		enums.OrderStatusDelivered,
	} {
		order, err = h.service.UpdateStatus(context.Background(), UpdateStatusInput{OrderID: order.ID, Status: next, Actor: farmer})
		require.NoError(t, err)
		require.Equal(t, next, order.Status)
	}
	require.NotNil(t, order.DeliveredAt)

	again, err := h.service.UpdateStatus(context.Background(), UpdateStatusInput{OrderID: order.ID, Status: enums.OrderStatusDelivered, Actor: farmer})
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusDelivered, again.Status)

	_, err = h.service.Cancel(context.Background(), CancelInput{OrderID: order.ID, Actor: farmer})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestUpdateStatusAuthorization(t *testing.T) {
	h := newHarness(t)
	farmerID := uuid.New()
	p := h.seedProduct(t, farmerID, 100, 10, 1, 0)
	owner := buyer()
	order, err := h.service.Create(context.Background(), deliveryInput(owner, ItemInput{ProductID: p, Quantity: 1}))
	require.NoError(t, err)

	_, err = h.service.UpdateStatus(context.Background(), UpdateStatusInput{OrderID: order.ID, Status: enums.OrderStatusConfirmed, Actor: owner})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	otherFarmer := auth.Actor{UserID: uuid.New(), Role: enums.RoleFarmer}
	_, err = h.service.UpdateStatus(context.Background(), UpdateStatusInput{OrderID: order.ID, Status: enums.OrderStatusConfirmed, Actor: otherFarmer})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = h.service.Get(context.Background(), order.ID, buyer())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	admin := auth.Actor{UserID: uuid.New(), Role: enums.RoleAdmin}
	confirmed, err := h.service.UpdateStatus(context.Background(), UpdateStatusInput{OrderID: order.ID, Status: enums.OrderStatusConfirmed, Actor: admin})
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusConfirmed, confirmed.Status)

	_, err = h.service.Get(context.Background(), uuid.New(), admin)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestCancelReadyOrderRestoresStock(t *testing.T) {
	h := newHarness(t)
	farmerID := uuid.New()
	a := h.seedProduct(t, farmerID, 100, 10, 1, 0)
	b := h.seedProduct(t, farmerID, 300, 4, 1, 0)
	owner := buyer()
	order, err := h.service.Create(context.Background(), deliveryInput(owner,
		ItemInput{ProductID: a, Quantity: 6},
		ItemInput{ProductID: b, Quantity: 4},
	))
	require.NoError(t, err)
	require.Equal(t, 4, h.stock(t, a).AvailableQty)
	require.Equal(t, 0, h.stock(t, b).AvailableQty)

	farmer := auth.Actor{UserID: farmerID, Role: enums.RoleFarmer}
	for _, next := range []enums.OrderStatus{enums.OrderStatusConfirmed, enums.OrderStatusPreparing, enums.OrderStatusReady} {
		_, err = h.service.UpdateStatus(context.Background(), UpdateStatusInput{OrderID: order.ID, Status: next, Actor: farmer})
		require.NoError(t, err)
	}

	reason := "  buyer unreachable "
	cancelled, err := h.service.Cancel(context.Background(), CancelInput{OrderID: order.ID, Actor: owner, Reason: &reason})
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)
	require.NotNil(t, cancelled.CancelledBy)
	require.Equal(t, owner.UserID, *cancelled.CancelledBy)
	require.NotNil(t, cancelled.CancellationReason)
	require.Equal(t, "buyer unreachable", *cancelled.CancellationReason)

	require.Equal(t, 10, h.stock(t, a).AvailableQty)
	require.Equal(t, 0, h.stock(t, a).ReservedQty)
	require.Equal(t, 4, h.stock(t, b).AvailableQty)
	require.Equal(t, 0, h.stock(t, b).ReservedQty)

	events := h.eventTypes(t)
	require.Contains(t, events, enums.EventOrderCancelled)
	require.Equal(t, enums.EventOrderCreated, events[0])

	// cancelling twice is a no-op and must not restore stock again
	_, err = h.service.Cancel(context.Background(), CancelInput{OrderID: order.ID, Actor: owner})
	require.NoError(t, err)
	require.Equal(t, 10, h.stock(t, a).AvailableQty)
}

func TestRepositoryPaymentSideEffectsAreGuarded(t *testing.T) {
	h := newHarness(t)
	p := h.seedProduct(t, uuid.New(), 100, 10, 1, 0)
	order, err := h.service.Create(context.Background(), deliveryInput(buyer(), ItemInput{ProductID: p, Quantity: 1}))
	require.NoError(t, err)
	ctx := context.Background()

	moved, err := h.repo.MarkPaid(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, moved)
	moved, err = h.repo.MarkPaid(ctx, order.ID)
	require.NoError(t, err)
	require.False(t, moved)

	reloaded, err := h.repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusConfirmed, reloaded.Status)
	require.Equal(t, enums.PaymentStatusPaid, reloaded.PaymentStatus)

	moved, err = h.repo.MarkPaymentFailed(ctx, order.ID)
	require.NoError(t, err)
	require.False(t, moved)

	moved, err = h.repo.MarkRefunded(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, moved)
	reloaded, err = h.repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusRefunded, reloaded.PaymentStatus)
}
