package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mmeshcher/loyalty-engine/internal/model"
)

// CreateCoupon сохраняет новое мастер-определение купона.
func (r *PostgresRepository) CreateCoupon(ctx context.Context, c model.Coupon) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO coupons (name, type, value, min_order_amount, expiry_date, is_active, code, is_direct_assign, usage_limit)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		c.Name, string(c.Type), c.Value, c.MinOrderAmount, c.ExpiryDate, c.IsActive, c.Code, c.IsDirectAssign, c.UsageLimit,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) && c.Code != nil {
			return 0, fmt.Errorf("%w: %s", ErrCouponCodeTaken, *c.Code)
		}
		return 0, fmt.Errorf("create coupon: %w", err)
	}
	return id, nil
}

func scanCoupon(row pgx.Row) (*model.Coupon, error) {
	var (
		c       model.Coupon
		typeStr string
	)
	err := row.Scan(&c.ID, &c.Name, &typeStr, &c.Value, &c.MinOrderAmount, &c.ExpiryDate,
		&c.IsActive, &c.Code, &c.IsDirectAssign, &c.UsageLimit, &c.UsedCount, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.Type = model.CouponType(typeStr)
	return &c, nil
}

const couponColumns = `id, name, type, value, min_order_amount, expiry_date, is_active, code, is_direct_assign, usage_limit, used_count, created_at`

// GetCouponByID возвращает купон по идентификатору.
func (r *PostgresRepository) GetCouponByID(ctx context.Context, id int64) (*model.Coupon, error) {
	c, err := scanCoupon(r.pool.QueryRow(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %d", ErrCouponNotFound, id)
		}
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	return c, nil
}

// GetCouponByCode ищет активный купон по коду активации. Купоны прямой выдачи
// по коду не находятся. Код сравнивается без учёта регистра.
func (r *PostgresRepository) GetCouponByCode(ctx context.Context, code string) (*model.Coupon, error) {
	c, err := scanCoupon(r.pool.QueryRow(ctx,
		`SELECT `+couponColumns+`
		 FROM coupons
		 WHERE code IS NOT NULL AND upper(code) = upper($1)
		   AND is_direct_assign = FALSE AND is_active = TRUE`,
		code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: code %s", ErrCouponNotFound, code)
		}
		return nil, fmt.Errorf("get coupon by code: %w", err)
	}
	return c, nil
}

// UpdateCoupon частично обновляет купон: nil-поля патча остаются прежними.
func (r *PostgresRepository) UpdateCoupon(ctx context.Context, id int64, patch model.CouponPatch) error {
	var typeStr *string
	if patch.Type != nil {
		s := string(*patch.Type)
		typeStr = &s
	}

	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE coupons SET
			name = COALESCE($2, name),
			type = COALESCE($3, type),
			value = COALESCE($4, value),
			min_order_amount = COALESCE($5, min_order_amount),
			expiry_date = COALESCE($6, expiry_date),
			is_active = COALESCE($7, is_active),
			usage_limit = COALESCE($8, usage_limit)
		 WHERE id = $1`,
		id, patch.Name, typeStr, patch.Value, patch.MinOrderAmount, patch.ExpiryDate, patch.IsActive, patch.UsageLimit,
	)
	if err != nil {
		return fmt.Errorf("update coupon: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", ErrCouponNotFound, id)
	}
	return nil
}

// DeleteCoupon удаляет купон. Купон с выданными экземплярами удалить нельзя:
// экземпляры хранятся как аудиторская запись.
func (r *PostgresRepository) DeleteCoupon(ctx context.Context, id int64) error {
	cmdTag, err := r.pool.Exec(ctx, `DELETE FROM coupons WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: id %d", ErrCouponInUse, id)
		}
		return fmt.Errorf("delete coupon: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", ErrCouponNotFound, id)
	}
	return nil
}

// ToggleCouponActive переключает признак активности купона и возвращает новое значение.
func (r *PostgresRepository) ToggleCouponActive(ctx context.Context, id int64) (bool, error) {
	var isActive bool
	err := r.pool.QueryRow(ctx,
		`UPDATE coupons SET is_active = NOT is_active WHERE id = $1 RETURNING is_active`,
		id,
	).Scan(&isActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("%w: id %d", ErrCouponNotFound, id)
		}
		return false, fmt.Errorf("toggle coupon: %w", err)
	}
	return isActive, nil
}

// IssueCoupon выдаёт купон пользователю. Повторная выдача того же купона
// отсекается уникальным индексом (user_id, coupon_id), поэтому проверка и
// вставка не разнесены по разным запросам снаружи транзакции.
func (r *PostgresRepository) IssueCoupon(ctx context.Context, userID, couponID int64) (uuid.UUID, string, error) {
	id := uuid.New()
	var name string

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var isActive bool
		err := tx.QueryRow(ctx,
			`SELECT name, is_active FROM coupons WHERE id = $1`,
			couponID,
		).Scan(&name, &isActive)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: id %d", ErrCouponNotFound, couponID)
			}
			return fmt.Errorf("get coupon: %w", err)
		}

		if !isActive {
			return ErrCouponInactive
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO user_coupons (id, user_id, coupon_id, status, issued_date)
			 VALUES ($1, $2, $3, 'available', CURRENT_DATE)`,
			id, userID, couponID,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrCouponAlreadyIssued
			}
			return fmt.Errorf("insert user coupon: %w", err)
		}

		return nil
	})
	if err != nil {
		return uuid.Nil, "", err
	}

	return id, name, nil
}

// RegisterCouponByCode активирует купон по коду: создаёт экземпляр для
// пользователя и увеличивает счётчик активаций купона одной транзакцией.
// Строка купона блокируется, чтобы счётчик не перешагнул лимит при
// конкурентных активациях.
func (r *PostgresRepository) RegisterCouponByCode(ctx context.Context, userID int64, code string) (uuid.UUID, string, error) {
	id := uuid.New()
	var name string

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var (
			couponID             int64
			usedCount, usageLimit int
			expired              bool
		)
		err := tx.QueryRow(ctx,
			`SELECT id, name, used_count, usage_limit, expiry_date < CURRENT_DATE
			 FROM coupons
			 WHERE code IS NOT NULL AND upper(code) = upper($1)
			   AND is_direct_assign = FALSE AND is_active = TRUE
			 FOR UPDATE`,
			code,
		).Scan(&couponID, &name, &usedCount, &usageLimit, &expired)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: code %s", ErrCouponNotFound, code)
			}
			return fmt.Errorf("lock coupon: %w", err)
		}

		if usedCount >= usageLimit {
			return ErrUsageLimitReached
		}
		if expired {
			return ErrCouponExpired
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO user_coupons (id, user_id, coupon_id, status, issued_date)
			 VALUES ($1, $2, $3, 'available', CURRENT_DATE)`,
			id, userID, couponID,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrCouponAlreadyIssued
			}
			return fmt.Errorf("insert user coupon: %w", err)
		}

		cmdTag, err := tx.Exec(ctx,
			`UPDATE coupons SET used_count = used_count + 1
			 WHERE id = $1 AND used_count < usage_limit`,
			couponID,
		)
		if err != nil {
			return fmt.Errorf("increment used count: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return ErrUsageLimitReached
		}

		return nil
	})
	if err != nil {
		return uuid.Nil, "", err
	}

	return id, name, nil
}

// UseUserCoupon применяет купон к заказу. Если срок действия купона уже
// истёк, но фоновая очистка до него не дошла, экземпляр переводится в
// expired здесь же, и применение отклоняется.
func (r *PostgresRepository) UseUserCoupon(ctx context.Context, userCouponID uuid.UUID, userID int64, orderID string) (string, time.Time, error) {
	var (
		name        string
		usedDate    time.Time
		lazyExpired bool
	)

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var (
			ownerID   int64
			statusStr string
			expired   bool
		)
		err := tx.QueryRow(ctx,
			`SELECT uc.user_id, uc.status, c.name, c.expiry_date < CURRENT_DATE
			 FROM user_coupons uc
			 JOIN coupons c ON c.id = uc.coupon_id
			 WHERE uc.id = $1
			 FOR UPDATE OF uc`,
			userCouponID,
		).Scan(&ownerID, &statusStr, &name, &expired)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: id %s", ErrUserCouponNotFound, userCouponID)
			}
			return fmt.Errorf("lock user coupon: %w", err)
		}

		if ownerID != userID {
			return ErrNotOwner
		}

		switch model.UserCouponStatus(statusStr) {
		case model.UserCouponUsed:
			return ErrCouponAlreadyUsed
		case model.UserCouponExpired:
			return ErrCouponExpired
		}

		if expired {
			_, err = tx.Exec(ctx,
				`UPDATE user_coupons SET status = 'expired', expired_date = CURRENT_DATE WHERE id = $1`,
				userCouponID,
			)
			if err != nil {
				return fmt.Errorf("expire user coupon: %w", err)
			}
			// Переход фиксируется коммитом, ошибка возвращается после него.
			lazyExpired = true
			return nil
		}

		err = tx.QueryRow(ctx,
			`UPDATE user_coupons SET status = 'used', used_date = CURRENT_DATE, order_id = $2
			 WHERE id = $1
			 RETURNING used_date`,
			userCouponID, orderID,
		).Scan(&usedDate)
		if err != nil {
			return fmt.Errorf("use user coupon: %w", err)
		}

		return nil
	})
	if err != nil {
		return "", time.Time{}, err
	}

	if lazyExpired {
		return "", time.Time{}, ErrCouponExpired
	}

	return name, usedDate, nil
}
