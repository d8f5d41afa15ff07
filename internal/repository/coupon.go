package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rookgm/flyem/internal/models"
)

const (
	selectCouponByCodeQuery = `
						SELECT id, code, discount_type, discount_value, min_order_amount, expiration_date,
							is_active, usage_limit, used_count, created_at
						FROM coupons
						WHERE code = $1
`
	incrementCouponUsageQuery = `
						UPDATE coupons
						SET used_count = used_count + 1
						WHERE code = $1 AND used_count < usage_limit
`
)

// CouponRepository implements CouponRepository interface
type CouponRepository struct {
	db DB
}

// NewCouponRepository creates new CouponRepository instance
func NewCouponRepository(db DB) *CouponRepository {
	return &CouponRepository{db: db}
}

// GetCouponByCode returns coupon by its upper case code
func (cr *CouponRepository) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	c := models.Coupon{}
	err := cr.db.QueryRow(ctx, selectCouponByCodeQuery, code).Scan(&c.ID, &c.Code, &c.DiscountType, &c.DiscountValue,
		&c.MinOrderAmount, &c.ExpirationDate, &c.IsActive, &c.UsageLimit, &c.UsedCount, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrDataNotFound
		}
		return nil, err
	}

	return &c, nil
}

// IncrementUsage increments used count unless usage limit is reached
func (cr *CouponRepository) IncrementUsage(ctx context.Context, code string) error {
	cmd, err := cr.db.Exec(ctx, incrementCouponUsageQuery, code)
	if err != nil {
		return err
	}

	if cmd.RowsAffected() == 0 {
		return models.ErrCouponUsageExceeded
	}

	return nil
}
