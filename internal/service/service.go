// Package service реализует бизнес-логику движка лояльности.
package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/loyalty-engine/internal/model"
	"github.com/mmeshcher/loyalty-engine/internal/repository"
	"github.com/mmeshcher/loyalty-engine/internal/validation"
)

// ErrInvalidAmount возвращается, если сумма операции не положительна.
var (
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrEmptyDescription возвращается, если описание операции пустое.
	ErrEmptyDescription = errors.New("description must not be empty")
	// ErrMissingOrderID возвращается, если не передан идентификатор заказа.
	ErrMissingOrderID = errors.New("order id must not be empty")
	// ErrInvalidCoupon возвращается при некорректном определении купона.
	ErrInvalidCoupon = errors.New("invalid coupon definition")
	// ErrInvalidCouponCode возвращается при некорректном коде купона.
	ErrInvalidCouponCode = errors.New("invalid coupon code")
	// ErrInvalidPageSize возвращается при некорректном размере страницы журнала.
	ErrInvalidPageSize = errors.New("page size must be positive")
	// ErrInvalidCursor возвращается при нечитаемом курсоре журнала.
	ErrInvalidCursor = errors.New("invalid history cursor")
)

const maxPageSize = 100

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateBalance(ctx context.Context, userID int64) error
	EarnPoints(ctx context.Context, userID, amount int64, description string, orderID *string) (int64, error)
	UsePoints(ctx context.Context, userID, amount int64, description, orderID string) (int64, error)
	RefundPoints(ctx context.Context, userID, amount int64, description, orderID string) (int64, error)
	GetBalance(ctx context.Context, userID int64) (int64, error)
	GetHistory(ctx context.Context, userID int64, limit int, after *repository.HistoryCursor) ([]model.PointTransaction, error)

	CreateCoupon(ctx context.Context, c model.Coupon) (int64, error)
	GetCouponByID(ctx context.Context, id int64) (*model.Coupon, error)
	GetCouponByCode(ctx context.Context, code string) (*model.Coupon, error)
	UpdateCoupon(ctx context.Context, id int64, patch model.CouponPatch) error
	DeleteCoupon(ctx context.Context, id int64) error
	ToggleCouponActive(ctx context.Context, id int64) (bool, error)

	IssueCoupon(ctx context.Context, userID, couponID int64) (uuid.UUID, string, error)
	RegisterCouponByCode(ctx context.Context, userID int64, code string) (uuid.UUID, string, error)
	UseUserCoupon(ctx context.Context, userCouponID uuid.UUID, userID int64, orderID string) (string, time.Time, error)

	ListExpiredAvailableCoupons(ctx context.Context, limit int) ([]uuid.UUID, error)
	ExpireUserCoupon(ctx context.Context, userCouponID uuid.UUID) (bool, error)
	ListStaleEarnUsers(ctx context.Context, cutoff time.Time, limit int) ([]int64, error)
	ExpireUserPoints(ctx context.Context, userID int64, cutoff time.Time) (int64, error)
}

// SweepConfig задаёт параметры фоновой очистки.
type SweepConfig struct {
	Interval        time.Duration
	BatchSize       int
	RetentionMonths int
}

// Service содержит бизнес-логику движка лояльности.
type Service struct {
	repo   Repository
	logger *zap.Logger
	sweep  SweepConfig
}

// NewService создаёт новый сервис с указанным репозиторием и параметрами очистки.
func NewService(repo Repository, logger *zap.Logger, sweep SweepConfig) *Service {
	if sweep.BatchSize <= 0 {
		sweep.BatchSize = 500
	}
	if sweep.RetentionMonths <= 0 {
		sweep.RetentionMonths = 6
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		repo:   repo,
		logger: logger,
		sweep:  sweep,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// CreateBalance заводит бонусный счёт пользователя.
func (s *Service) CreateBalance(ctx context.Context, userID int64) error {
	return s.repo.CreateBalance(ctx, userID)
}

// Earn начисляет баллы пользователю. Проверка аргументов выполняется до
// открытия транзакции: дешёвые отказы не доходят до хранилища.
func (s *Service) Earn(ctx context.Context, userID, amount int64, description string, orderID *string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if strings.TrimSpace(description) == "" {
		return 0, ErrEmptyDescription
	}
	return s.repo.EarnPoints(ctx, userID, amount, description, orderID)
}

// Use списывает баллы пользователя в счёт заказа.
func (s *Service) Use(ctx context.Context, userID, amount int64, description, orderID string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if strings.TrimSpace(orderID) == "" {
		return 0, ErrMissingOrderID
	}
	return s.repo.UsePoints(ctx, userID, amount, description, orderID)
}

// Refund возвращает ранее списанные баллы по заказу. Движок не сверяет сумму
// возврата с первоначальным списанием — это контракт вызывающей стороны.
func (s *Service) Refund(ctx context.Context, userID, amount int64, description, orderID string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if strings.TrimSpace(description) == "" {
		return 0, ErrEmptyDescription
	}
	if strings.TrimSpace(orderID) == "" {
		return 0, ErrMissingOrderID
	}
	return s.repo.RefundPoints(ctx, userID, amount, description, orderID)
}

// GetBalance возвращает текущий баланс пользователя.
func (s *Service) GetBalance(ctx context.Context, userID int64) (int64, error) {
	return s.repo.GetBalance(ctx, userID)
}

// GetHistory возвращает страницу журнала операций пользователя и курсор для
// следующей страницы. hasMore сообщает, что журнал, вероятно, не исчерпан.
func (s *Service) GetHistory(ctx context.Context, userID int64, pageSize int, cursor string) ([]model.PointTransaction, string, bool, error) {
	if pageSize <= 0 {
		return nil, "", false, ErrInvalidPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	var after *repository.HistoryCursor
	if cursor != "" {
		decoded, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", false, err
		}
		after = decoded
	}

	transactions, err := s.repo.GetHistory(ctx, userID, pageSize, after)
	if err != nil {
		return nil, "", false, err
	}

	hasMore := len(transactions) == pageSize

	var nextCursor string
	if hasMore {
		last := transactions[len(transactions)-1]
		nextCursor = encodeCursor(last.CreatedAt, last.ID)
	}

	return transactions, nextCursor, hasMore, nil
}

func encodeCursor(createdAt time.Time, id uuid.UUID) string {
	raw := strconv.FormatInt(createdAt.UnixNano(), 10) + ":" + id.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (*repository.HistoryCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCursor, cursor)
	}

	nanosStr, idStr, ok := strings.Cut(string(raw), ":")
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCursor, cursor)
	}

	nanos, err := strconv.ParseInt(nanosStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCursor, cursor)
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCursor, cursor)
	}

	return &repository.HistoryCursor{
		CreatedAt: time.Unix(0, nanos).UTC(),
		ID:        id,
	}, nil
}

// CreateCoupon проверяет и сохраняет новое определение купона. Код купона,
// активируемого пользователем, нормализуется к верхнему регистру; для купонов
// прямой выдачи код не хранится.
func (s *Service) CreateCoupon(ctx context.Context, c model.Coupon) (int64, error) {
	if strings.TrimSpace(c.Name) == "" {
		return 0, fmt.Errorf("%w: empty name", ErrInvalidCoupon)
	}

	switch c.Type {
	case model.CouponAmount, model.CouponPercent, model.CouponFreeShipping:
	default:
		return 0, fmt.Errorf("%w: unknown type %q", ErrInvalidCoupon, c.Type)
	}

	if c.UsageLimit < 1 {
		return 0, fmt.Errorf("%w: usage limit must be at least 1", ErrInvalidCoupon)
	}

	if c.IsDirectAssign {
		c.Code = nil
	} else {
		if c.Code == nil {
			return 0, fmt.Errorf("%w: code required for user-registered coupon", ErrInvalidCoupon)
		}
		code := validation.NormalizeCouponCode(*c.Code)
		if !validation.IsValidCouponCode(code) {
			return 0, fmt.Errorf("%w: %s", ErrInvalidCouponCode, *c.Code)
		}
		c.Code = &code
	}

	return s.repo.CreateCoupon(ctx, c)
}

// GetCouponByID возвращает купон по идентификатору.
func (s *Service) GetCouponByID(ctx context.Context, id int64) (*model.Coupon, error) {
	return s.repo.GetCouponByID(ctx, id)
}

// UpdateCoupon частично обновляет определение купона.
func (s *Service) UpdateCoupon(ctx context.Context, id int64, patch model.CouponPatch) error {
	if patch.UsageLimit != nil && *patch.UsageLimit < 1 {
		return fmt.Errorf("%w: usage limit must be at least 1", ErrInvalidCoupon)
	}
	if patch.Type != nil {
		switch *patch.Type {
		case model.CouponAmount, model.CouponPercent, model.CouponFreeShipping:
		default:
			return fmt.Errorf("%w: unknown type %q", ErrInvalidCoupon, *patch.Type)
		}
	}
	return s.repo.UpdateCoupon(ctx, id, patch)
}

// DeleteCoupon удаляет определение купона.
func (s *Service) DeleteCoupon(ctx context.Context, id int64) error {
	return s.repo.DeleteCoupon(ctx, id)
}

// ToggleCouponActive переключает признак активности купона.
func (s *Service) ToggleCouponActive(ctx context.Context, id int64) (bool, error) {
	return s.repo.ToggleCouponActive(ctx, id)
}

// IssueCoupon выдаёт купон пользователю напрямую.
func (s *Service) IssueCoupon(ctx context.Context, userID, couponID int64) (uuid.UUID, string, error) {
	return s.repo.IssueCoupon(ctx, userID, couponID)
}

// RegisterCouponByCode активирует купон по коду, введённому пользователем.
func (s *Service) RegisterCouponByCode(ctx context.Context, userID int64, code string) (uuid.UUID, string, string, error) {
	normalized := validation.NormalizeCouponCode(code)
	if !validation.IsValidCouponCode(normalized) {
		return uuid.Nil, "", "", fmt.Errorf("%w: %s", ErrInvalidCouponCode, code)
	}

	id, name, err := s.repo.RegisterCouponByCode(ctx, userID, normalized)
	if err != nil {
		return uuid.Nil, "", "", err
	}

	return id, name, normalized, nil
}

// UseCoupon применяет купон пользователя к заказу.
func (s *Service) UseCoupon(ctx context.Context, userCouponID uuid.UUID, userID int64, orderID string) (string, time.Time, error) {
	if strings.TrimSpace(orderID) == "" {
		return "", time.Time{}, ErrMissingOrderID
	}
	return s.repo.UseUserCoupon(ctx, userCouponID, userID, orderID)
}
