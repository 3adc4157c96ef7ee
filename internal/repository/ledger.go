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

// HistoryCursor задаёт позицию в журнале операций для продолжения выборки.
type HistoryCursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// CreateBalance заводит бонусный счёт пользователя с нулевым балансом.
func (r *PostgresRepository) CreateBalance(ctx context.Context, userID int64) error {
	cmdTag, err := r.pool.Exec(ctx,
		`INSERT INTO balances (user_id, balance) VALUES ($1, 0) ON CONFLICT (user_id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("create balance: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %d", ErrBalanceExists, userID)
	}
	return nil
}

// EarnPoints начисляет баллы пользователю и записывает операцию в журнал.
func (r *PostgresRepository) EarnPoints(ctx context.Context, userID, amount int64, description string, orderID *string) (int64, error) {
	return r.applyPointOperation(ctx, userID, model.TransactionEarn, amount, description, orderID)
}

// UsePoints списывает баллы пользователя. Возвращает ErrInsufficientBalance,
// если текущий баланс меньше списываемой суммы; баланс при этом не меняется.
func (r *PostgresRepository) UsePoints(ctx context.Context, userID, amount int64, description, orderID string) (int64, error) {
	return r.applyPointOperation(ctx, userID, model.TransactionUse, amount, description, &orderID)
}

// RefundPoints возвращает ранее списанные баллы. Соответствие суммы возврата
// первоначальному списанию по тому же заказу — контракт вызывающей стороны.
func (r *PostgresRepository) RefundPoints(ctx context.Context, userID, amount int64, description, orderID string) (int64, error) {
	return r.applyPointOperation(ctx, userID, model.TransactionRefund, amount, description, &orderID)
}

// applyPointOperation выполняет операцию с балансом одной транзакцией:
// блокирует строку счёта, проверяет предусловия по свежепрочитанному значению,
// обновляет баланс и добавляет запись журнала.
func (r *PostgresRepository) applyPointOperation(ctx context.Context, userID int64, txType model.TransactionType, amount int64, description string, orderID *string) (int64, error) {
	var newBalance int64

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

		if txType == model.TransactionUse {
			if balance < amount {
				return ErrInsufficientBalance
			}
			newBalance = balance - amount
		} else {
			newBalance = balance + amount
		}

		_, err = tx.Exec(ctx,
			`UPDATE balances SET balance = $2, updated_at = now() WHERE user_id = $1`,
			userID, newBalance,
		)
		if err != nil {
			return fmt.Errorf("update balance: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO point_transactions (id, user_id, type, amount, description, order_id, balance_after)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.New(), userID, string(txType), amount, description, orderID, newBalance,
		)
		if err != nil {
			return fmt.Errorf("insert point transaction: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return newBalance, nil
}

// GetBalance возвращает текущий баланс пользователя.
func (r *PostgresRepository) GetBalance(ctx context.Context, userID int64) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx,
		`SELECT balance FROM balances WHERE user_id = $1`,
		userID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: user %d", ErrBalanceNotFound, userID)
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// GetHistory возвращает журнал операций пользователя в обратном хронологическом
// порядке. Курсор указывает на последнюю уже отданную запись.
func (r *PostgresRepository) GetHistory(ctx context.Context, userID int64, limit int, after *HistoryCursor) ([]model.PointTransaction, error) {
	var (
		rows pgx.Rows
		err  error
	)

	if after != nil {
		rows, err = r.pool.Query(ctx,
			`SELECT id, type, amount, description, order_id, balance_after, expired, created_at
			 FROM point_transactions
			 WHERE user_id = $1 AND (created_at, id) < ($2, $3)
			 ORDER BY created_at DESC, id DESC
			 LIMIT $4`,
			userID, after.CreatedAt, after.ID, limit,
		)
	} else {
		rows, err = r.pool.Query(ctx,
			`SELECT id, type, amount, description, order_id, balance_after, expired, created_at
			 FROM point_transactions
			 WHERE user_id = $1
			 ORDER BY created_at DESC, id DESC
			 LIMIT $2`,
			userID, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	defer rows.Close()

	var res []model.PointTransaction
	for rows.Next() {
		var (
			txn     model.PointTransaction
			typeStr string
		)
		if err := rows.Scan(&txn.ID, &typeStr, &txn.Amount, &txn.Description, &txn.OrderID, &txn.BalanceAfter, &txn.Expired, &txn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan point transaction: %w", err)
		}
		txn.UserID = userID
		txn.Type = model.TransactionType(typeStr)
		res = append(res, txn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
