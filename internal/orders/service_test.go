package orders

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platemate/order-core/internal/catalog"
	"github.com/platemate/order-core/internal/pricing"
	"github.com/platemate/order-core/pkg/apperrors"
	"github.com/platemate/order-core/pkg/models"
)

var lockColumns = []string{
	"id", "user_id", "restaurant_id", "branch_id", "status", "payment_status",
	"total_amount", "currency", "promo_code", "note", "created_at", "updated_at",
}

func lockedOrderRow(orderID, userID, restaurantID string, status models.OrderStatus, payment models.PaymentStatus, total float64) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(lockColumns).
		AddRow(orderID, userID, restaurantID, nil, string(status), string(payment),
			total, "IDR", nil, nil, now, now)
}

func TestCancelPendingOrderByCustomer(t *testing.T) {
	store, mock := newMockStore(t)
	svc := NewService(store, nil, testLogger())

	mock.ExpectBegin()
	mock.ExpectQuery("FROM orders WHERE id = (.+) FOR UPDATE").
		WithArgs("ord-1").
		WillReturnRows(lockedOrderRow("ord-1", "user-1", "rest-1", models.StatusPending, models.PaymentUnpaid, 50000))
	mock.ExpectExec("UPDATE orders SET status").
		WithArgs(string(models.StatusCancelled), string(models.PaymentUnpaid), sqlmock.AnyArg(), "ord-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_events").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO outbox").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	order, err := svc.Cancel(context.Background(), Principal{UserID: "user-1", Role: RoleCustomer}, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, order.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelRejectedOncePreparing(t *testing.T) {
	store, mock := newMockStore(t)
	svc := NewService(store, nil, testLogger())

	mock.ExpectBegin()
	mock.ExpectQuery("FROM orders WHERE id = (.+) FOR UPDATE").
		WithArgs("ord-1").
		WillReturnRows(lockedOrderRow("ord-1", "user-1", "rest-1", models.StatusPreparing, models.PaymentUnpaid, 50000))
	mock.ExpectRollback()

	_, err := svc.Cancel(context.Background(), Principal{UserID: "user-1", Role: RoleCustomer}, "ord-1")

	var validation *apperrors.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelPaidOrderByCustomerRejected(t *testing.T) {
	store, mock := newMockStore(t)
	svc := NewService(store, nil, testLogger())

	mock.ExpectBegin()
	mock.ExpectQuery("FROM orders WHERE id = (.+) FOR UPDATE").
		WithArgs("ord-1").
		WillReturnRows(lockedOrderRow("ord-1", "user-1", "rest-1", models.StatusConfirmed, models.PaymentPaid, 50000))
	mock.ExpectRollback()

	_, err := svc.Cancel(context.Background(), Principal{UserID: "user-1", Role: RoleCustomer}, "ord-1")

	var validation *apperrors.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Contains(t, err.Error(), "paid orders")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelOwnerOutsideScopeForbidden(t *testing.T) {
	store, mock := newMockStore(t)
	svc := NewService(store, nil, testLogger())

	mock.ExpectBegin()
	mock.ExpectQuery("FROM orders WHERE id = (.+) FOR UPDATE").
		WithArgs("ord-1").
		WillReturnRows(lockedOrderRow("ord-1", "user-1", "rest-1", models.StatusPending, models.PaymentUnpaid, 50000))
	mock.ExpectRollback()

	principal := Principal{UserID: "owner-1", Role: RoleOwner, RestaurantIDs: []string{"rest-9"}}
	_, err := svc.Cancel(context.Background(), principal, "ord-1")

	var forbidden *apperrors.ForbiddenError
	require.ErrorAs(t, err, &forbidden)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusRequiresStaffRole(t *testing.T) {
	store, _ := newMockStore(t)
	svc := NewService(store, nil, testLogger())

	_, err := svc.UpdateStatus(context.Background(), Principal{UserID: "user-1", Role: RoleCustomer}, "ord-1", models.StatusPreparing)

	var forbidden *apperrors.ForbiddenError
	require.ErrorAs(t, err, &forbidden)
}

func TestUpdateStatusRejectsUnknownTarget(t *testing.T) {
	store, _ := newMockStore(t)
	svc := NewService(store, nil, testLogger())

	_, err := svc.UpdateStatus(context.Background(), Principal{UserID: "admin-1", Role: RoleAdmin}, "ord-1", models.OrderStatus("shipped"))

	var validation *apperrors.ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestUpdateStatusAdvancesOrder(t *testing.T) {
	store, mock := newMockStore(t)
	svc := NewService(store, nil, testLogger())

	mock.ExpectBegin()
	mock.ExpectQuery("FROM orders WHERE id = (.+) FOR UPDATE").
		WithArgs("ord-1").
		WillReturnRows(lockedOrderRow("ord-1", "user-1", "rest-1", models.StatusConfirmed, models.PaymentPaid, 50000))
	mock.ExpectExec("UPDATE orders SET status").
		WithArgs(string(models.StatusPreparing), string(models.PaymentPaid), sqlmock.AnyArg(), "ord-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_events").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO outbox").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	principal := Principal{UserID: "owner-1", Role: RoleOwner, RestaurantIDs: []string{"rest-1"}}
	order, err := svc.UpdateStatus(context.Background(), principal, "ord-1", models.StatusPreparing)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPreparing, order.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusRejectsSkippedStep(t *testing.T) {
	store, mock := newMockStore(t)
	svc := NewService(store, nil, testLogger())

	mock.ExpectBegin()
	mock.ExpectQuery("FROM orders WHERE id = (.+) FOR UPDATE").
		WithArgs("ord-1").
		WillReturnRows(lockedOrderRow("ord-1", "user-1", "rest-1", models.StatusPending, models.PaymentUnpaid, 50000))
	mock.ExpectRollback()

	principal := Principal{UserID: "admin-1", Role: RoleAdmin}
	_, err := svc.UpdateStatus(context.Background(), principal, "ord-1", models.StatusDelivering)

	var validation *apperrors.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func expectFullOrderLoad(mock sqlmock.Sqlmock, orderID, userID, restaurantID string) {
	now := time.Now()
	orderColumns := []string{
		"id", "user_id", "restaurant_id", "branch_id", "source", "fulfillment_type",
		"status", "payment_status", "items_subtotal", "items_discount", "order_discount",
		"surcharges_total", "shipping_fee", "tax_total", "tip_amount", "total_amount",
		"currency", "promo_code", "note", "metadata", "created_at", "updated_at",
	}
	mock.ExpectQuery("FROM orders WHERE id =").
		WithArgs(orderID).
		WillReturnRows(sqlmock.NewRows(orderColumns).
			AddRow(orderID, userID, restaurantID, nil, "api", "pickup",
				"pending", "unpaid", 50000.0, 0.0, 0.0,
				0.0, 0.0, 3500.0, 0.0, 53500.0,
				"IDR", nil, nil, nil, now, now))
	mock.ExpectQuery("FROM order_items").
		WillReturnRows(sqlmock.NewRows([]string{"id", "product_id", "variant_id", "quantity", "unit_price", "total_price", "product_snapshot"}))
	mock.ExpectQuery("FROM order_discounts").
		WillReturnRows(sqlmock.NewRows([]string{"id", "source", "code", "amount", "meta"}))
	mock.ExpectQuery("FROM order_surcharges").
		WillReturnRows(sqlmock.NewRows([]string{"id", "source", "code", "amount", "meta"}))
	mock.ExpectQuery("FROM order_promotions").
		WillReturnRows(sqlmock.NewRows([]string{"id", "source", "code", "amount", "meta"}))
	mock.ExpectQuery("FROM order_tax_breakdowns").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tax_template_code", "tax_rate", "tax_amount"}))
	mock.ExpectQuery("FROM deliveries").
		WillReturnError(sql.ErrNoRows)
}

func TestGetOrderMasksOtherCustomersOrders(t *testing.T) {
	store, mock := newMockStore(t)
	svc := NewService(store, nil, testLogger())

	expectFullOrderLoad(mock, "ord-1", "someone-else", "rest-1")

	_, err := svc.GetOrder(context.Background(), Principal{UserID: "user-1", Role: RoleCustomer}, "ord-1")

	var notFound *apperrors.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrderOwnerOutsideScopeForbidden(t *testing.T) {
	store, mock := newMockStore(t)
	svc := NewService(store, nil, testLogger())

	expectFullOrderLoad(mock, "ord-1", "user-1", "rest-1")

	principal := Principal{UserID: "owner-1", Role: RoleOwner, RestaurantIDs: []string{"rest-9"}}
	_, err := svc.GetOrder(context.Background(), principal, "ord-1")

	var forbidden *apperrors.ForbiddenError
	require.ErrorAs(t, err, &forbidden)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderRejectsEmptyItemList(t *testing.T) {
	store, _ := newMockStore(t)
	svc := NewService(store, nil, testLogger())

	_, err := svc.CreateOrder(context.Background(), Principal{UserID: "user-1", Role: RoleCustomer}, &CreateOrderRequest{
		RestaurantID: "rest-1",
	})

	var validation *apperrors.ValidationError
	require.ErrorAs(t, err, &validation)
}

type stubCatalogSource struct {
	cat *catalog.Catalog
}

func (s *stubCatalogSource) FetchBranchCatalog(ctx context.Context, restaurantID string) (*catalog.Catalog, error) {
	return s.cat, nil
}

func newPricedService(store *Store) *Service {
	taxRate := 7.0
	source := &stubCatalogSource{cat: &catalog.Catalog{
		Restaurant: catalog.Restaurant{ID: "rest-1", Name: "Warung Tengah"},
		Branches: []catalog.Branch{{
			ID: "branch-1",
			Products: []catalog.BranchProduct{{
				ID:        "prod-1",
				Name:      "Nasi Goreng",
				BasePrice: 50000,
				TaxRate:   &taxRate,
				Available: true,
				IsVisible: true,
			}},
		}},
	}}
	resolver := pricing.NewResolver(source, false, 7.0, testLogger())
	return NewService(store, resolver, testLogger())
}

func expectOrderGraphInserts(mock sqlmock.Sqlmock) {
	mock.ExpectExec("INSERT INTO orders").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO order_items").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectExec("INSERT INTO order_item_tax_breakdowns").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_tax_breakdowns").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_events").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_revisions").WillReturnResult(sqlmock.NewResult(0, 1))
}

// An online-flow order announces both its creation and the awaited payment
// in the same transaction.
func TestCreateOrderOnlineFlowWritesPaymentPendingOutbox(t *testing.T) {
	store, mock := newMockStore(t)
	svc := newPricedService(store)

	mock.ExpectBegin()
	expectOrderGraphInserts(mock)
	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(sqlmock.AnyArg(), "order", sqlmock.AnyArg(), "order.created", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(sqlmock.AnyArg(), "order", sqlmock.AnyArg(), "order.payment_pending", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	order, err := svc.CreateOrder(context.Background(), Principal{UserID: "user-1", Role: RoleCustomer}, &CreateOrderRequest{
		RestaurantID:  "rest-1",
		PaymentMethod: "card",
		Items:         []pricing.ItemRequest{{ProductID: "prod-1", Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, order.PaymentStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderCashFlowWritesSingleOutboxEntry(t *testing.T) {
	store, mock := newMockStore(t)
	svc := newPricedService(store)

	mock.ExpectBegin()
	expectOrderGraphInserts(mock)
	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(sqlmock.AnyArg(), "order", sqlmock.AnyArg(), "order.created", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	order, err := svc.CreateOrder(context.Background(), Principal{UserID: "user-1", Role: RoleCustomer}, &CreateOrderRequest{
		RestaurantID:  "rest-1",
		PaymentMethod: "cash",
		Items:         []pricing.ItemRequest{{ProductID: "prod-1", Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentUnpaid, order.PaymentStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}
