package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platemate/order-core/pkg/apperrors"
	"github.com/platemate/order-core/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db, testLogger()), mock
}

func sampleOrder() *models.Order {
	now := time.Now()
	scheduled := now.Add(time.Hour)
	return &models.Order{
		ID:              "ord-1",
		UserID:          "user-1",
		RestaurantID:    "rest-1",
		BranchID:        "branch-1",
		Source:          "api",
		FulfillmentType: "delivery",
		Status:          models.StatusPending,
		PaymentStatus:   models.PaymentPending,
		ItemsSubtotal:   170000,
		TaxTotal:        11900,
		TotalAmount:     181900,
		Currency:        "IDR",
		CreatedAt:       now,
		UpdatedAt:       now,
		Items: []models.OrderItem{
			{
				ProductID:  "prod-1",
				Quantity:   2,
				UnitPrice:  85000,
				TotalPrice: 170000,
				Options: []models.OrderItemOption{
					{OptionGroupName: "Protein", OptionItemName: "Extra Chicken", PriceDelta: 10000},
				},
				Taxes: []models.OrderItemTax{
					{TemplateCode: "vat", TaxRate: 7, TaxAmount: 11900},
				},
			},
		},
		Promotions: []models.OrderPromotion{
			{Source: "campaign", Code: "WEEKEND", Amount: 0},
		},
		TaxBreakdown: []models.OrderTaxLine{
			{TemplateCode: "vat", TaxRate: 7, TaxAmount: 11900},
		},
		Delivery: &models.Delivery{
			DeliveryStatus: "pending",
			Address:        "Jl. Sudirman 1",
			ScheduledAt:    &scheduled,
		},
	}
}

func sampleOutbox(orderID string) []*models.OutboxEntry {
	payload, _ := json.Marshal(map[string]string{"order_id": orderID})
	return []*models.OutboxEntry{{
		AggregateType: "order",
		AggregateID:   orderID,
		EventType:     "order.created",
		Payload:       payload,
	}}
}

func TestCreateOrderPersistsFullGraph(t *testing.T) {
	store, mock := newMockStore(t)
	order := sampleOrder()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO orders").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO order_items").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectExec("INSERT INTO order_item_options").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_item_tax_breakdowns").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_promotions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_tax_breakdowns").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO deliveries").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_events").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_revisions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO outbox").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	outbox := sampleOutbox(order.ID)
	err := store.CreateOrder(context.Background(), order, outbox)
	require.NoError(t, err)

	assert.Equal(t, int64(11), order.Items[0].ID)
	assert.Equal(t, order.ID, order.Items[0].OrderID)
	// The event id is fixed at insert time; the drain worker reuses it.
	assert.NotEmpty(t, outbox[0].EventID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderRollsBackWhenChildInsertFails(t *testing.T) {
	store, mock := newMockStore(t)
	order := sampleOrder()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO orders").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO order_items").
		WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectRollback()

	err := store.CreateOrder(context.Background(), order, sampleOutbox(order.ID))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert order item")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderRollsBackWhenOutboxInsertFails(t *testing.T) {
	store, mock := newMockStore(t)
	order := sampleOrder()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO orders").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO order_items").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectExec("INSERT INTO order_item_options").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_item_tax_breakdowns").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_promotions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_tax_breakdowns").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO deliveries").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_events").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_revisions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO outbox").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.CreateOrder(context.Background(), order, sampleOutbox(order.ID))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert outbox entry")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockOrderNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM orders WHERE id = (.+) FOR UPDATE").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), func(tx *sql.Tx) error {
		_, err := store.LockOrder(context.Background(), tx, "missing")
		return err
	})

	var notFound *apperrors.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchUnpublishedReturnsOldestFirst(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "event_id", "aggregate_type", "aggregate_id", "event_type", "payload", "created_at"}).
		AddRow(int64(1), "evt-1", "order", "ord-1", "order.created", []byte(`{}`), time.Now()).
		AddRow(int64(2), "evt-2", "order", "ord-1", "order.cancelled", []byte(`{}`), time.Now())
	mock.ExpectQuery("FROM outbox WHERE published_at IS NULL").
		WithArgs(50).
		WillReturnRows(rows)

	entries, err := store.FetchUnpublished(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].ID)
	assert.Equal(t, "evt-1", entries[0].EventID)
	assert.Equal(t, "order.created", entries[0].EventType)
	assert.Equal(t, "order.cancelled", entries[1].EventType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkPublished(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE outbox SET published_at").
		WithArgs(sqlmock.AnyArg(), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.MarkPublished(context.Background(), 7))
	assert.NoError(t, mock.ExpectationsWereMet())
}
