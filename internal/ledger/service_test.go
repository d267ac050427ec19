package ledger

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/farmcart-backend/internal/orders"
	"github.com/angelmondragon/farmcart-backend/pkg/auth"
	"github.com/angelmondragon/farmcart-backend/pkg/db"
	"github.com/angelmondragon/farmcart-backend/pkg/db/models"
	"github.com/angelmondragon/farmcart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/farmcart-backend/pkg/errors"
	"github.com/angelmondragon/farmcart-backend/pkg/logger"
	"github.com/angelmondragon/farmcart-backend/pkg/outbox"
	"github.com/angelmondragon/farmcart-backend/pkg/pagination"
)

type harness struct {
	db      *gorm.DB
	repo    Repository
	orders  orders.Repository
	service Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:ledger_%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&models.Order{},
		&models.OrderItem{},
		&models.Transaction{},
		&models.OutboxEvent{},
	))

	logg := logger.New(logger.Options{ServiceName: "ledger-test", Output: io.Discard})
	repo := NewRepository(conn)
	orderRepo := orders.NewRepository(conn)
	svc, err := NewService(ServiceParams{
		Repository: repo,
		Orders:     orderRepo,
		Tx:         db.NewFromGorm(conn),
		Outbox:     outbox.NewService(outbox.NewRepository(conn), logg),
		Logger:     logg,
		Currency:   "INR",
	})
	require.NoError(t, err)
	return &harness{db: conn, repo: repo, orders: orderRepo, service: svc}
}

type party struct {
	buyer  auth.Actor
	farmer auth.Actor
}

func newParty() party {
	return party{
		buyer:  auth.Actor{UserID: uuid.New(), Role: enums.RoleBuyer},
		farmer: auth.Actor{UserID: uuid.New(), Role: enums.RoleFarmer},
	}
}

func admin() auth.Actor {
	return auth.Actor{UserID: uuid.New(), Role: enums.RoleAdmin}
}

func (h *harness) seedOrder(t *testing.T, p party, total int64, method enums.PaymentMethod) *models.Order {
	t.Helper()
	order := &models.Order{
		OrderNumber:    "ORD" + strings.ToUpper(uuid.NewString()[:10]),
		BuyerID:        p.buyer.UserID,
		FarmerID:       p.farmer.UserID,
		SubtotalCents:  total,
		TotalCents:     total,
		Currency:       "INR",
		Status:         enums.OrderStatusPending,
		PaymentStatus:  enums.PaymentStatusPending,
		PaymentMethod:  method,
		DeliveryMethod: enums.DeliveryMethodPickup,
		Items: []models.OrderItem{{
			ProductID:      uuid.New(),
			ProductName:    "Tomatoes",
			Unit:           "kg",
			Quantity:       1,
			UnitPriceCents: total,
			LineTotalCents: total,
		}},
	}
	require.NoError(t, h.db.Create(order).Error)
	return order
}

func (h *harness) order(t *testing.T, id uuid.UUID) *models.Order {
	t.Helper()
	order, err := h.orders.FindByID(context.Background(), id)
	require.NoError(t, err)
	return order
}

func (h *harness) events(t *testing.T, aggregate uuid.UUID) []enums.OutboxEventType {
	t.Helper()
	var rows []models.OutboxEvent
	require.NoError(t, h.db.Where("aggregate_id = ?", aggregate).Order("created_at ASC").Find(&rows).Error)
	out := make([]enums.OutboxEventType, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.EventType)
	}
	return out
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	require.Error(t, err)
	require.True(t, pkgerrors.IsCode(err, code), "expected %s, got %v", code, err)
}

func TestCreatePaymentSnapshotsOrder(t *testing.T) {
	h := newHarness(t)
	p := newParty()
	order := h.seedOrder(t, p, 17468, enums.PaymentMethodCard)

	txn, err := h.service.Create(context.Background(), CreateTransactionInput{OrderID: order.ID, Actor: p.buyer})
	require.NoError(t, err)

	require.Regexp(t, regexp.MustCompile(`^TXN\d{8}[0-9A-F]{12}$`), txn.TxnNumber)
	require.Equal(t, enums.TransactionStatusPending, txn.Status)
	require.Equal(t, enums.TransactionTypePayment, txn.Type)
	require.Equal(t, int64(17468), txn.AmountCents)
	require.Equal(t, enums.PaymentProviderLocal, txn.Provider)
	require.Equal(t, order.ID, *txn.OrderID)
	require.Equal(t, p.farmer.UserID, *txn.FarmerID)
	require.Contains(t, string(txn.Metadata), order.OrderNumber)
	require.Nil(t, txn.PaymentReference)
	require.Equal(t, []enums.OutboxEventType{enums.EventTransactionInitiated}, h.events(t, txn.ID))
}

func TestCreatePaymentRules(t *testing.T) {
	h := newHarness(t)
	p := newParty()
	order := h.seedOrder(t, p, 5000, enums.PaymentMethodCash)
	ctx := context.Background()

	_, err := h.service.Create(ctx, CreateTransactionInput{OrderID: order.ID, Actor: newParty().buyer})
	requireCode(t, err, pkgerrors.CodeForbidden)

	wrong := int64(4999)
	_, err = h.service.Create(ctx, CreateTransactionInput{OrderID: order.ID, Actor: p.buyer, AmountCents: &wrong})
	requireCode(t, err, pkgerrors.CodeValidation)

	_, err = h.service.Create(ctx, CreateTransactionInput{OrderID: uuid.New(), Actor: p.buyer})
	requireCode(t, err, pkgerrors.CodeNotFound)

	first, err := h.service.Create(ctx, CreateTransactionInput{OrderID: order.ID, Actor: p.buyer})
	require.NoError(t, err)
	_, err = h.service.Create(ctx, CreateTransactionInput{OrderID: order.ID, Actor: p.buyer})
	requireCode(t, err, pkgerrors.CodeStateConflict)

	// A failed attempt frees the order for a retry.
	_, err = h.service.Fail(ctx, first.ID, "card declined")
	require.NoError(t, err)
	retry, err := h.service.Create(ctx, CreateTransactionInput{OrderID: order.ID, Actor: p.buyer})
	require.NoError(t, err)
	require.NotEqual(t, first.ID, retry.ID)
}

func TestCreatePhonePeAssignsMerchantReference(t *testing.T) {
	h := newHarness(t)
	p := newParty()
	order := h.seedOrder(t, p, 2500, enums.PaymentMethodPhonePe)

	txn, err := h.service.Create(context.Background(), CreateTransactionInput{OrderID: order.ID, Actor: p.buyer})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentProviderPhonePe, txn.Provider)
	require.NotNil(t, txn.PaymentReference)
	require.Equal(t, MerchantTransactionID(txn.TxnNumber), *txn.PaymentReference)

	found, err := h.service.FindByPaymentReference(context.Background(), enums.PaymentProviderPhonePe, *txn.PaymentReference)
	require.NoError(t, err)
	require.Equal(t, txn.ID, found.ID)
}

func TestProcessCompletesOnceAndConfirmsOrder(t *testing.T) {
	h := newHarness(t)
	p := newParty()
	order := h.seedOrder(t, p, 9000, enums.PaymentMethodCard)
	ctx := context.Background()

	txn, err := h.service.Create(ctx, CreateTransactionInput{OrderID: order.ID, Actor: p.buyer})
	require.NoError(t, err)

	done, err := h.service.Process(ctx, txn.ID, p.buyer)
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStatusCompleted, done.Status)
	require.NotNil(t, done.ProcessedAt)
	firstProcessed := *done.ProcessedAt

	again, err := h.service.Process(ctx, txn.ID, admin())
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStatusCompleted, again.Status)
	require.True(t, firstProcessed.Equal(*again.ProcessedAt))

	current := h.order(t, order.ID)
	require.Equal(t, enums.PaymentStatusPaid, current.PaymentStatus)
	require.Equal(t, enums.OrderStatusConfirmed, current.Status)

	require.Equal(t, []enums.OutboxEventType{
		enums.EventTransactionInitiated,
		enums.EventPaymentCompleted,
	}, h.events(t, txn.ID))

	_, err = h.service.Process(ctx, txn.ID, newParty().buyer)
	requireCode(t, err, pkgerrors.CodeForbidden)
}

func TestProcessRejectsAsyncProviders(t *testing.T) {
	h := newHarness(t)
	p := newParty()
	order := h.seedOrder(t, p, 9000, enums.PaymentMethodPayPal)

	txn, err := h.service.Create(context.Background(), CreateTransactionInput{OrderID: order.ID, Actor: p.buyer})
	require.NoError(t, err)
	_, err = h.service.Process(context.Background(), txn.ID, p.buyer)
	requireCode(t, err, pkgerrors.CodeStateConflict)
}

func TestSettleIsMonotonic(t *testing.T) {
	h := newHarness(t)
	p := newParty()
	order := h.seedOrder(t, p, 1200, enums.PaymentMethodPayPal)
	ctx := context.Background()

	txn, err := h.service.Create(ctx, CreateTransactionInput{OrderID: order.ID, Actor: p.buyer})
	require.NoError(t, err)

	res, err := h.service.Settle(ctx, SettleInput{TransactionID: txn.ID, To: enums.TransactionStatusFailed, Source: SourceWebhook, Reason: "declined"})
	require.NoError(t, err)
	require.True(t, res.Applied)
	require.Equal(t, "declined", *res.Transaction.FailureReason)
	require.Equal(t, enums.PaymentStatusFailed, h.order(t, order.ID).PaymentStatus)

	res, err = h.service.Settle(ctx, SettleInput{TransactionID: txn.ID, To: enums.TransactionStatusCompleted, Source: SourceWebhook})
	require.NoError(t, err)
	require.False(t, res.Applied)
	require.Equal(t, enums.TransactionStatusFailed, res.Transaction.Status)
	require.Equal(t, enums.PaymentStatusFailed, h.order(t, order.ID).PaymentStatus)

	_, err = h.service.Settle(ctx, SettleInput{TransactionID: txn.ID, To: enums.TransactionStatusCancelled})
	requireCode(t, err, pkgerrors.CodeValidation)
}

func TestExpireMarksOrderPaymentFailed(t *testing.T) {
	h := newHarness(t)
	p := newParty()
	order := h.seedOrder(t, p, 1200, enums.PaymentMethodPayPal)
	ctx := context.Background()

	txn, err := h.service.Create(ctx, CreateTransactionInput{OrderID: order.ID, Actor: p.buyer})
	require.NoError(t, err)

	res, err := h.service.Expire(ctx, txn.ID, "no capture within window")
	require.NoError(t, err)
	require.True(t, res.Applied)
	require.Equal(t, enums.TransactionStatusExpired, res.Transaction.Status)
	require.NotNil(t, res.Transaction.ExpiredAt)
	require.Equal(t, enums.PaymentStatusFailed, h.order(t, order.ID).PaymentStatus)
	require.Contains(t, h.events(t, txn.ID), enums.EventTransactionExpired)

	res, err = h.service.Expire(ctx, txn.ID, "again")
	require.NoError(t, err)
	require.False(t, res.Applied)
}

func TestAttachReferenceOnlyWhilePending(t *testing.T) {
	h := newHarness(t)
	p := newParty()
	order := h.seedOrder(t, p, 1200, enums.PaymentMethodPayPal)
	ctx := context.Background()

	txn, err := h.service.Create(ctx, CreateTransactionInput{OrderID: order.ID, Actor: p.buyer})
	require.NoError(t, err)

	updated, err := h.service.AttachReference(ctx, txn.ID, "PAYPAL-ORDER-1", []byte(`{"status":"CREATED"}`))
	require.NoError(t, err)
	require.Equal(t, "PAYPAL-ORDER-1", *updated.PaymentReference)
	require.JSONEq(t, `{"status":"CREATED"}`, string(updated.Details))

	_, err = h.service.Fail(ctx, txn.ID, "cancelled by buyer")
	require.NoError(t, err)
	_, err = h.service.AttachReference(ctx, txn.ID, "PAYPAL-ORDER-2", nil)
	requireCode(t, err, pkgerrors.CodeStateConflict)
}

func TestCreateRejectsProviderThatCannotSettleMethod(t *testing.T) {
	h := newHarness(t)
	p := newParty()
	ctx := context.Background()
	order := h.seedOrder(t, p, 3100, enums.PaymentMethodPhonePe)

	_, err := h.service.Create(ctx, CreateTransactionInput{OrderID: order.ID, Actor: p.buyer, Provider: enums.PaymentProviderLocal})
	requireCode(t, err, pkgerrors.CodeValidation)
	_, err = h.service.Create(ctx, CreateTransactionInput{OrderID: order.ID, Actor: p.buyer, PaymentMethod: enums.PaymentMethodCash, Provider: enums.PaymentProviderPhonePe})
	requireCode(t, err, pkgerrors.CodeValidation)

	var count int64
	require.NoError(t, h.db.Model(&models.Transaction{}).Where("order_id = ?", order.ID).Count(&count).Error)
	require.Zero(t, count)
	current := h.order(t, order.ID)
	require.Equal(t, enums.OrderStatusPending, current.Status)
	require.Equal(t, enums.PaymentStatusPending, current.PaymentStatus)

	card := h.seedOrder(t, p, 3100, enums.PaymentMethodCard)
	txn, err := h.service.Create(ctx, CreateTransactionInput{OrderID: card.ID, Actor: p.buyer, Provider: enums.PaymentProviderSquare})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentProviderSquare, txn.Provider)

	_, err = h.service.OpenUnlinked(ctx, OpenUnlinkedInput{Actor: p.buyer, AmountCents: 900, PaymentMethod: enums.PaymentMethodPayPal, Provider: enums.PaymentProviderLocal})
	requireCode(t, err, pkgerrors.CodeValidation)
}

func TestSettleDetailsReload(t *testing.T) {
	h := newHarness(t)
	p := newParty()
	order := h.seedOrder(t, p, 1500, enums.PaymentMethodPayPal)
	ctx := context.Background()

	txn, err := h.service.Create(ctx, CreateTransactionInput{OrderID: order.ID, Actor: p.buyer})
	require.NoError(t, err)
	captureID := "CAPTURE-1"
	res, err := h.service.Settle(ctx, SettleInput{
		TransactionID: txn.ID,
		To:            enums.TransactionStatusCompleted,
		Source:        SourceCapture,
		CaptureID:     &captureID,
		Details:       []byte(`{"capture_status":"COMPLETED"}`),
	})
	require.NoError(t, err)
	require.True(t, res.Applied)

	stored, err := h.service.Get(ctx, txn.ID)
	require.NoError(t, err)
	require.JSONEq(t, `{"capture_status":"COMPLETED"}`, string(stored.Details))
	require.Equal(t, captureID, *stored.CaptureID)
}

func TestLinkRejectsCancelledOrder(t *testing.T) {
	h := newHarness(t)
	p := newParty()
	ctx := context.Background()

	txn, err := h.service.OpenUnlinked(ctx, OpenUnlinkedInput{Actor: p.buyer, AmountCents: 4200, PaymentMethod: enums.PaymentMethodPayPal})
	require.NoError(t, err)
	_, err = h.service.Settle(ctx, SettleInput{TransactionID: txn.ID, To: enums.TransactionStatusCompleted, Source: SourceCapture})
	require.NoError(t, err)

	order := h.seedOrder(t, p, 4200, enums.PaymentMethodPayPal)
	require.NoError(t, h.db.Model(&models.Order{}).Where("id = ?", order.ID).Update("status", enums.OrderStatusCancelled).Error)

	_, err = h.service.LinkToOrder(ctx, LinkInput{TransactionID: txn.ID, OrderID: order.ID, Actor: p.buyer})
	requireCode(t, err, pkgerrors.CodeStateConflict)

	stored, err := h.service.Get(ctx, txn.ID)
	require.NoError(t, err)
	require.False(t, stored.IsLinked())
	require.Equal(t, enums.PaymentStatusPending, h.order(t, order.ID).PaymentStatus)
}

func TestOpenUnlinkedThenLink(t *testing.T) {
	h := newHarness(t)
	p := newParty()
	ctx := context.Background()

	txn, err := h.service.OpenUnlinked(ctx, OpenUnlinkedInput{Actor: p.buyer, AmountCents: 4200, PaymentMethod: enums.PaymentMethodPayPal})
	require.NoError(t, err)
	require.False(t, txn.IsLinked())
	require.Nil(t, txn.FarmerID)
	require.Equal(t, "INR", txn.Currency)

	_, err = h.service.Settle(ctx, SettleInput{TransactionID: txn.ID, To: enums.TransactionStatusCompleted, Source: SourceCapture})
	require.NoError(t, err)

	mismatched := h.seedOrder(t, p, 4100, enums.PaymentMethodPayPal)
	_, err = h.service.LinkToOrder(ctx, LinkInput{TransactionID: txn.ID, OrderID: mismatched.ID, Actor: p.buyer})
	requireCode(t, err, pkgerrors.CodeStateConflict)

	order := h.seedOrder(t, p, 4200, enums.PaymentMethodPayPal)
	_, err = h.service.LinkToOrder(ctx, LinkInput{TransactionID: txn.ID, OrderID: order.ID, OrderNumber: "ORD-OTHER", Actor: p.buyer})
	requireCode(t, err, pkgerrors.CodeValidation)

	_, err = h.service.LinkToOrder(ctx, LinkInput{TransactionID: txn.ID, OrderID: order.ID, Actor: newParty().buyer})
	requireCode(t, err, pkgerrors.CodeForbidden)

	linked, err := h.service.LinkToOrder(ctx, LinkInput{TransactionID: txn.ID, OrderID: order.ID, OrderNumber: order.OrderNumber, FarmerID: p.farmer.UserID, Actor: p.buyer})
	require.NoError(t, err)
	require.Equal(t, order.ID, *linked.OrderID)
	require.Equal(t, p.farmer.UserID, *linked.FarmerID)
	require.Equal(t, enums.PaymentStatusPaid, h.order(t, order.ID).PaymentStatus)
	require.Contains(t, string(linked.Metadata), order.OrderNumber)

	again, err := h.service.LinkToOrder(ctx, LinkInput{TransactionID: txn.ID, OrderID: order.ID, Actor: p.buyer})
	require.NoError(t, err)
	require.Equal(t, linked.ID, again.ID)

	other := h.seedOrder(t, p, 4200, enums.PaymentMethodPayPal)
	_, err = h.service.LinkToOrder(ctx, LinkInput{TransactionID: txn.ID, OrderID: other.ID, Actor: p.buyer})
	requireCode(t, err, pkgerrors.CodeStateConflict)

	require.Equal(t, []enums.OutboxEventType{
		enums.EventTransactionInitiated,
		enums.EventPaymentCompleted,
		enums.EventTransactionLinked,
	}, h.events(t, txn.ID))
}

func TestRefundClosesOriginalAndOrder(t *testing.T) {
	h := newHarness(t)
	p := newParty()
	order := h.seedOrder(t, p, 8000, enums.PaymentMethodCard)
	ctx := context.Background()

	txn, err := h.service.Create(ctx, CreateTransactionInput{OrderID: order.ID, Actor: p.buyer})
	require.NoError(t, err)
	_, err = h.service.Refund(ctx, RefundInput{TransactionID: txn.ID, Actor: admin()})
	requireCode(t, err, pkgerrors.CodeStateConflict)

	_, err = h.service.Process(ctx, txn.ID, p.buyer)
	require.NoError(t, err)

	_, err = h.service.Refund(ctx, RefundInput{TransactionID: txn.ID, Actor: p.buyer})
	requireCode(t, err, pkgerrors.CodeForbidden)

	res, err := h.service.Refund(ctx, RefundInput{TransactionID: txn.ID, Reason: "  spoiled  ", Actor: p.farmer})
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStatusCancelled, res.Original.Status)
	require.NotNil(t, res.Original.RefundedAt)
	require.Equal(t, "spoiled", *res.Original.RefundReason)
	require.Equal(t, p.farmer.UserID, *res.Original.RefundedBy)

	require.Equal(t, enums.TransactionTypeRefund, res.Refund.Type)
	require.Equal(t, enums.TransactionStatusCompleted, res.Refund.Status)
	require.Equal(t, int64(8000), res.Refund.AmountCents)
	require.Equal(t, txn.ID, *res.Refund.RelatedTransactionID)
	require.Equal(t, enums.PaymentStatusRefunded, h.order(t, order.ID).PaymentStatus)
	require.Contains(t, h.events(t, res.Refund.ID), enums.EventPaymentRefunded)

	_, err = h.service.Refund(ctx, RefundInput{TransactionID: txn.ID, Actor: admin()})
	requireCode(t, err, pkgerrors.CodeStateConflict)
}

func TestOpenRefundSettledByProvider(t *testing.T) {
	h := newHarness(t)
	p := newParty()
	order := h.seedOrder(t, p, 6000, enums.PaymentMethodPhonePe)
	ctx := context.Background()

	txn, err := h.service.Create(ctx, CreateTransactionInput{OrderID: order.ID, Actor: p.buyer})
	require.NoError(t, err)
	_, err = h.service.Settle(ctx, SettleInput{TransactionID: txn.ID, To: enums.TransactionStatusCompleted, Source: SourceWebhook})
	require.NoError(t, err)

	_, err = h.service.Refund(ctx, RefundInput{TransactionID: txn.ID, Actor: admin()})
	requireCode(t, err, pkgerrors.CodeStateConflict)

	_, err = h.service.OpenRefund(ctx, OpenRefundInput{OriginalID: txn.ID, AmountCents: 6001, Actor: admin()})
	requireCode(t, err, pkgerrors.CodeValidation)
	_, err = h.service.OpenRefund(ctx, OpenRefundInput{OriginalID: txn.ID, AmountCents: 0, Actor: admin()})
	requireCode(t, err, pkgerrors.CodeValidation)

	refund, err := h.service.OpenRefund(ctx, OpenRefundInput{OriginalID: txn.ID, AmountCents: 2500, Reason: "short weight", Actor: p.farmer})
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStatusPending, refund.Status)
	require.NotNil(t, refund.PaymentReference)
	require.NotEqual(t, *txn.PaymentReference, *refund.PaymentReference)

	_, err = h.service.OpenRefund(ctx, OpenRefundInput{OriginalID: txn.ID, AmountCents: 100, Actor: p.farmer})
	requireCode(t, err, pkgerrors.CodeStateConflict)

	res, err := h.service.Settle(ctx, SettleInput{TransactionID: refund.ID, To: enums.TransactionStatusCompleted, Source: SourcePoll})
	require.NoError(t, err)
	require.True(t, res.Applied)

	original, err := h.service.Get(ctx, txn.ID)
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStatusCancelled, original.Status)
	require.Equal(t, "short weight", *original.RefundReason)
	require.Equal(t, enums.PaymentStatusRefunded, h.order(t, order.ID).PaymentStatus)
}

func TestViewRestrictsToParties(t *testing.T) {
	h := newHarness(t)
	p := newParty()
	order := h.seedOrder(t, p, 1000, enums.PaymentMethodCash)
	ctx := context.Background()

	txn, err := h.service.Create(ctx, CreateTransactionInput{OrderID: order.ID, Actor: p.buyer})
	require.NoError(t, err)

	for _, actor := range []auth.Actor{p.buyer, p.farmer, admin()} {
		_, err := h.service.View(ctx, txn.ID, actor)
		require.NoError(t, err)
	}
	_, err = h.service.View(ctx, txn.ID, newParty().buyer)
	requireCode(t, err, pkgerrors.CodeForbidden)
	_, err = h.service.View(ctx, uuid.New(), admin())
	requireCode(t, err, pkgerrors.CodeNotFound)
}

func TestStatsAggregatesByStatus(t *testing.T) {
	h := newHarness(t)
	p := newParty()
	ctx := context.Background()

	paid := h.seedOrder(t, p, 3000, enums.PaymentMethodCash)
	open := h.seedOrder(t, p, 2000, enums.PaymentMethodCash)
	txn, err := h.service.Create(ctx, CreateTransactionInput{OrderID: paid.ID, Actor: p.buyer})
	require.NoError(t, err)
	_, err = h.service.Process(ctx, txn.ID, p.buyer)
	require.NoError(t, err)
	_, err = h.service.Create(ctx, CreateTransactionInput{OrderID: open.ID, Actor: p.buyer})
	require.NoError(t, err)

	stranger := newParty()
	strangerOrder := h.seedOrder(t, stranger, 7000, enums.PaymentMethodCash)
	_, err = h.service.Create(ctx, CreateTransactionInput{OrderID: strangerOrder.ID, Actor: stranger.buyer})
	require.NoError(t, err)

	stats, err := h.service.Stats(ctx, p.buyer, "")
	require.NoError(t, err)
	require.Equal(t, enums.StatsPeriod30d, stats.Period)
	require.Equal(t, int64(2), stats.TotalCount)
	require.Equal(t, int64(5000), stats.TotalAmount)
	require.Len(t, stats.ByStatus, 2)

	farmerStats, err := h.service.Stats(ctx, p.farmer, enums.StatsPeriod7d)
	require.NoError(t, err)
	require.Equal(t, int64(2), farmerStats.TotalCount)

	all, err := h.service.Stats(ctx, admin(), enums.StatsPeriod1y)
	require.NoError(t, err)
	require.Equal(t, int64(3), all.TotalCount)
	require.Equal(t, int64(12000), all.TotalAmount)

	_, err = h.service.Stats(ctx, p.buyer, enums.StatsPeriod("2w"))
	requireCode(t, err, pkgerrors.CodeValidation)
}

func TestExportWritesCSV(t *testing.T) {
	h := newHarness(t)
	p := newParty()
	ctx := context.Background()

	order := h.seedOrder(t, p, 12345, enums.PaymentMethodCard)
	txn, err := h.service.Create(ctx, CreateTransactionInput{OrderID: order.ID, Actor: p.buyer})
	require.NoError(t, err)
	_, err = h.service.Process(ctx, txn.ID, p.buyer)
	require.NoError(t, err)

	stranger := newParty()
	_, err = h.service.Create(ctx, CreateTransactionInput{OrderID: h.seedOrder(t, stranger, 500, enums.PaymentMethodCash).ID, Actor: stranger.buyer})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, h.service.Export(ctx, ExportFilter{Actor: p.buyer}, &buf))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, ExportHeader, records[0])

	row := records[1]
	require.Equal(t, txn.TxnNumber, row[0])
	require.Equal(t, order.OrderNumber, row[1])
	require.Equal(t, "payment", row[2])
	require.Equal(t, "completed", row[3])
	require.Equal(t, "123.45", row[4])
	require.Equal(t, "INR", row[5])
	require.Equal(t, "", row[8])
	require.NotEmpty(t, row[10])

	buf.Reset()
	require.NoError(t, h.service.Export(ctx, ExportFilter{Actor: admin()}, &buf))
	records, err = csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
}

func TestListPagesNewestFirst(t *testing.T) {
	h := newHarness(t)
	p := newParty()
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		txn, err := h.service.OpenUnlinked(ctx, OpenUnlinkedInput{Actor: p.buyer, AmountCents: int64(100 * (i + 1)), PaymentMethod: enums.PaymentMethodPayPal})
		require.NoError(t, err)
		ids = append(ids, txn.ID)
		time.Sleep(2 * time.Millisecond)
	}

	page, err := h.service.List(ctx, ListFilter{Actor: p.buyer}, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.Equal(t, ids[2], page.Items[0].ID)
	require.NotEmpty(t, page.NextCursor)

	rest, err := h.service.List(ctx, ListFilter{Actor: p.buyer}, pagination.Params{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, rest.Items, 1)
	require.Equal(t, ids[0], rest.Items[0].ID)
	require.Empty(t, rest.NextCursor)

	none, err := h.service.List(ctx, ListFilter{Actor: newParty().buyer}, pagination.Params{})
	require.NoError(t, err)
	require.Empty(t, none.Items)

	_, err = h.service.List(ctx, ListFilter{Actor: p.buyer}, pagination.Params{Cursor: "not-a-cursor"})
	requireCode(t, err, pkgerrors.CodeValidation)
}
