package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ListExpiredAvailableCoupons возвращает экземпляры купонов в состоянии
// available, срок действия которых уже истёк. Размер выборки ограничен limit.
func (r *PostgresRepository) ListExpiredAvailableCoupons(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT uc.id
		 FROM user_coupons uc
		 JOIN coupons c ON c.id = uc.coupon_id
		 WHERE uc.status = 'available' AND c.expiry_date < CURRENT_DATE
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select expirable coupons: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user coupon id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return ids, nil
}

// ExpireUserCoupon переводит экземпляр купона в состояние expired.
// Возвращает false, если экземпляр уже покинул состояние available:
// повторный проход очистки его не трогает.
func (r *PostgresRepository) ExpireUserCoupon(ctx context.Context, userCouponID uuid.UUID) (bool, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE user_coupons SET status = 'expired', expired_date = CURRENT_DATE
		 WHERE id = $1 AND status = 'available'`,
		userCouponID,
	)
	if err != nil {
		return false, fmt.Errorf("expire user coupon: %w", err)
	}
	return cmdTag.RowsAffected() == 1, nil
}

// ListStaleEarnUsers возвращает пользователей, у которых есть непогашенные
// начисления старше cutoff.
func (r *PostgresRepository) ListStaleEarnUsers(ctx context.Context, cutoff time.Time, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT user_id
		 FROM point_transactions
		 WHERE type = 'earn' AND NOT expired AND created_at < $1
		 LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select stale earn users: %w", err)
	}
	defer rows.Close()

	var users []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		users = append(users, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return users, nil
}

// ExpireUserPoints одной транзакцией помечает устаревшие начисления
// пользователя, уменьшает баланс на их сумму (не ниже нуля) и добавляет
// запись expire в журнал. Возвращает фактически списанную сумму.
// Помеченные начисления в следующие проходы не попадают, поэтому повторный
// запуск по тем же данным ничего не списывает.
func (r *PostgresRepository) ExpireUserPoints(ctx context.Context, userID int64, cutoff time.Time) (int64, error) {
	var deduction int64

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var balance int64
		err := tx.QueryRow(ctx,
			`SELECT balance FROM balances WHERE user_id = $1 FOR UPDATE`,
			userID,
		).Scan(&balance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: user %d", ErrBalanceNotFound, userID)
			}
			return fmt.Errorf("lock balance: %w", err)
		}

		rows, err := tx.Query(ctx,
			`UPDATE point_transactions SET expired = TRUE
			 WHERE user_id = $1 AND type = 'earn' AND NOT expired AND created_at < $2
			 RETURNING amount`,
			userID, cutoff,
		)
		if err != nil {
			return fmt.Errorf("mark expired transactions: %w", err)
		}

		var total int64
		for rows.Next() {
			var amount int64
			if err := rows.Scan(&amount); err != nil {
				rows.Close()
				return fmt.Errorf("scan expired amount: %w", err)
			}
			total += amount
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}

		if total == 0 {
			return nil
		}

		deduction = total
		if deduction > balance {
			deduction = balance
		}
		if deduction == 0 {
			return nil
		}

		newBalance := balance - deduction

		_, err = tx.Exec(ctx,
			`UPDATE balances SET balance = $2, updated_at = now() WHERE user_id = $1`,
			userID, newBalance,
		)
		if err != nil {
			return fmt.Errorf("update balance: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO point_transactions (id, user_id, type, amount, description, balance_after, expired)
			 VALUES ($1, $2, 'expire', $3, 'points expired', $4, TRUE)`,
			uuid.New(), userID, deduction, newBalance,
		)
		if err != nil {
			return fmt.Errorf("insert expire transaction: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return deduction, nil
}
