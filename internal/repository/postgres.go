// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrBalanceExists возвращается при попытке завести уже существующий бонусный счёт.
var (
	ErrBalanceExists = errors.New("balance already exists")
	// ErrBalanceNotFound возвращается, если бонусный счёт пользователя не найден.
	ErrBalanceNotFound = errors.New("balance not found")
	// ErrInsufficientBalance возвращается при попытке списания суммы, превышающей баланс.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrCouponNotFound возвращается, если купон не найден.
	ErrCouponNotFound = errors.New("coupon not found")
	// ErrCouponInactive возвращается при попытке выдать отключённый купон.
	ErrCouponInactive = errors.New("coupon is not active")
	// ErrCouponExpired возвращается, если срок действия купона истёк.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrCouponCodeTaken возвращается, если код купона уже занят другим купоном.
	ErrCouponCodeTaken = errors.New("coupon code already taken")
	// ErrCouponAlreadyIssued возвращается при повторной выдаче купона тому же пользователю.
	ErrCouponAlreadyIssued = errors.New("coupon already issued to user")
	// ErrCouponAlreadyUsed возвращается при попытке повторно применить купон.
	ErrCouponAlreadyUsed = errors.New("coupon already used")
	// ErrCouponInUse возвращается при попытке удалить купон, у которого есть выданные экземпляры.
	ErrCouponInUse = errors.New("coupon has issued instances")
	// ErrUserCouponNotFound возвращается, если экземпляр купона пользователя не найден.
	ErrUserCouponNotFound = errors.New("user coupon not found")
	// ErrUsageLimitReached возвращается, если лимит активаций купона исчерпан.
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrNotOwner возвращается, если купон принадлежит другому пользователю.
	ErrNotOwner = errors.New("coupon belongs to another user")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет операцию при конфликте конкурентных транзакций
// (serialization failure, deadlock) с ограниченным числом попыток.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewConstant(100*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
		}

		return err
	})
}

// inTx выполняет fn внутри транзакции с повторами при конфликтах записи.
// Любая ошибка fn откатывает транзакцию целиком.
func (r *PostgresRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(tx); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}
