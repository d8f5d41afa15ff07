package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rookgm/flyem/internal/models"
	"github.com/rookgm/flyem/internal/repository/postgres"
)

const pgErrUniqueViolationCode = "23505"

const orderColumns = `id, user_id, COALESCE(idempotency_key, ''), items, shipping_address, payment_method, payment_result,
						items_price, tax_price, shipping_price, discount_amount, total_price, coupon_code,
						is_paid, paid_at, is_delivered, delivered_at, state, status,
						fulfillment_id, fulfillment_status, version, created_at, updated_at`

const (
	insertOrderQuery = `
						INSERT INTO orders (id, user_id, idempotency_key, items, shipping_address, payment_method, payment_result,
							items_price, tax_price, shipping_price, discount_amount, total_price, coupon_code,
							is_paid, paid_at, state, status)
						VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
						RETURNING ` + orderColumns

	selectOrderByIDQuery = `
						SELECT ` + orderColumns + ` FROM orders
						WHERE id = $1
`
	selectOrderByIdempotencyKeyQuery = `
						SELECT ` + orderColumns + ` FROM orders
						WHERE idempotency_key = $1
`
	selectOrdersByUserIDQuery = `
						SELECT ` + orderColumns + ` FROM orders
						WHERE user_id = $1
						ORDER BY created_at DESC
`
	selectOrdersQuery = `
						SELECT ` + orderColumns + ` FROM orders
						ORDER BY created_at DESC
`
	selectOrdersPendingFulfillmentQuery = `
						SELECT ` + orderColumns + ` FROM orders
						WHERE fulfillment_id IS NULL
							AND (state = $1 OR (state IN ($2, $3) AND updated_at < $4))
						ORDER BY created_at
						LIMIT $5
`
	updateOrderQuery = `
						UPDATE orders
						SET payment_result = $3, is_paid = $4, paid_at = $5, is_delivered = $6, delivered_at = $7,
							state = $8, status = $9, fulfillment_id = $10, fulfillment_status = $11,
							version = version + 1, updated_at = now()
						WHERE id = $1 AND version = $2
						RETURNING ` + orderColumns
	orderExistsQuery = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`
)

// OrderRepository implements OrderRepository interface
type OrderRepository struct {
	db DB
}

// NewOrderRepository creates new OrderRepository instance
func NewOrderRepository(db DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// CreateOrder inserts new order with generated id
func (or *OrderRepository) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return nil, fmt.Errorf("marshal items: %w", err)
	}
	address, err := json.Marshal(order.Shipping)
	if err != nil {
		return nil, fmt.Errorf("marshal address: %w", err)
	}
	payment, err := marshalPayment(order.PaymentResult)
	if err != nil {
		return nil, err
	}

	row := or.db.QueryRow(ctx, insertOrderQuery,
		uuid.NewString(), order.UserID, order.IdempotencyKey, items, address, order.PaymentMethod, payment,
		order.ItemsPrice, order.TaxPrice, order.ShippingPrice, order.DiscountAmount, order.TotalPrice, order.CouponCode,
		order.IsPaid, order.PaidAt, order.State, order.Status)

	created, err := scanOrder(row)
	if err != nil {
		if errCode := postgres.ErrorCode(err); errCode == pgErrUniqueViolationCode {
			return nil, models.ErrConflictData
		}
		return nil, err
	}

	return created, nil
}

// GetOrderByID returns order by id
func (or *OrderRepository) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	order, err := scanOrder(or.db.QueryRow(ctx, selectOrderByIDQuery, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrDataNotFound
		}
		return nil, err
	}

	return order, nil
}

// GetOrderByIdempotencyKey returns order placed with key
func (or *OrderRepository) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	order, err := scanOrder(or.db.QueryRow(ctx, selectOrderByIdempotencyKeyQuery, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrDataNotFound
		}
		return nil, err
	}

	return order, nil
}

// GetOrdersByUserID gets user orders, newest first
func (or *OrderRepository) GetOrdersByUserID(ctx context.Context, userID string) ([]models.Order, error) {
	return or.queryOrders(ctx, selectOrdersByUserIDQuery, userID)
}

// GetOrders returns all orders, newest first
func (or *OrderRepository) GetOrders(ctx context.Context) ([]models.Order, error) {
	return or.queryOrders(ctx, selectOrdersQuery)
}

// GetOrdersPendingFulfillment returns paid orders without external id: skipped ones, and paid or
// fulfillment pending ones not touched since staleBefore
func (or *OrderRepository) GetOrdersPendingFulfillment(ctx context.Context, staleBefore time.Time, limit int) ([]models.Order, error) {
	return or.queryOrders(ctx, selectOrdersPendingFulfillmentQuery,
		models.StateFulfillmentSkipped, models.StatePaid, models.StateFulfillmentPending, staleBefore, limit)
}

// UpdateOrder writes state, payment, delivery and fulfillment fields if stored version equals expectedVersion.
// Items and money fields are never updated.
func (or *OrderRepository) UpdateOrder(ctx context.Context, order *models.Order, expectedVersion int64) (*models.Order, error) {
	payment, err := marshalPayment(order.PaymentResult)
	if err != nil {
		return nil, err
	}

	row := or.db.QueryRow(ctx, updateOrderQuery,
		order.ID, expectedVersion, payment, order.IsPaid, order.PaidAt, order.IsDelivered, order.DeliveredAt,
		order.State, order.Status, order.FulfillmentID, order.FulfillmentStatus)

	updated, err := scanOrder(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	var exists bool
	if err := or.db.QueryRow(ctx, orderExistsQuery, order.ID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, models.ErrDataNotFound
	}

	return nil, models.ErrVersionConflict
}

func (or *OrderRepository) queryOrders(ctx context.Context, query string, args ...any) ([]models.Order, error) {
	rows, err := or.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := []models.Order{}

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	var (
		o                      models.Order
		items, address, paymnt []byte
		state                  string
		paidAt, deliveredAt    *time.Time
	)

	err := row.Scan(&o.ID, &o.UserID, &o.IdempotencyKey, &items, &address, &o.PaymentMethod, &paymnt,
		&o.ItemsPrice, &o.TaxPrice, &o.ShippingPrice, &o.DiscountAmount, &o.TotalPrice, &o.CouponCode,
		&o.IsPaid, &paidAt, &o.IsDelivered, &deliveredAt, &state, &o.Status,
		&o.FulfillmentID, &o.FulfillmentStatus, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshal items: %w", err)
	}
	if err := json.Unmarshal(address, &o.Shipping); err != nil {
		return nil, fmt.Errorf("unmarshal address: %w", err)
	}
	if len(paymnt) > 0 {
		o.PaymentResult = &models.PaymentResult{}
		if err := json.Unmarshal(paymnt, o.PaymentResult); err != nil {
			return nil, fmt.Errorf("unmarshal payment result: %w", err)
		}
	}
	o.State = models.OrderState(state)
	o.PaidAt = paidAt
	o.DeliveredAt = deliveredAt

	return &o, nil
}

func marshalPayment(pr *models.PaymentResult) ([]byte, error) {
	if pr == nil {
		return nil, nil
	}
	b, err := json.Marshal(pr)
	if err != nil {
		return nil, fmt.Errorf("marshal payment result: %w", err)
	}
	return b, nil
}
