// Package model содержит доменные сущности движка лояльности.
package model

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType описывает тип операции с баллами.
type TransactionType string

const (
	TransactionEarn   TransactionType = "earn"
	TransactionUse    TransactionType = "use"
	TransactionRefund TransactionType = "refund"
	TransactionExpire TransactionType = "expire"
)

// Balance представляет бонусный счёт пользователя.
type Balance struct {
	UserID    int64
	Balance   int64
	UpdatedAt time.Time
}

// PointTransaction описывает одну запись журнала операций с баллами.
// Записи не изменяются и не удаляются; сумма всех записей со знаком
// всегда равна текущему балансу пользователя.
type PointTransaction struct {
	ID           uuid.UUID
	UserID       int64
	Type         TransactionType
	Amount       int64
	Description  string
	OrderID      *string
	BalanceAfter int64
	Expired      bool
	CreatedAt    time.Time
}

// CouponType описывает тип скидки купона.
type CouponType string

const (
	CouponAmount       CouponType = "amount"
	CouponPercent      CouponType = "percent"
	CouponFreeShipping CouponType = "free_shipping"
)

// Coupon описывает мастер-определение купона.
// Для купонов, активируемых по коду (IsDirectAssign == false),
// Code обязателен и уникален без учёта регистра.
type Coupon struct {
	ID             int64
	Name           string
	Type           CouponType
	Value          int64
	MinOrderAmount int64
	ExpiryDate     time.Time
	IsActive       bool
	Code           *string
	IsDirectAssign bool
	UsageLimit     int
	UsedCount      int
	CreatedAt      time.Time
}

// CouponPatch описывает частичное обновление купона. nil-поля не изменяются.
type CouponPatch struct {
	Name           *string
	Type           *CouponType
	Value          *int64
	MinOrderAmount *int64
	ExpiryDate     *time.Time
	IsActive       *bool
	UsageLimit     *int
}

// UserCouponStatus описывает состояние экземпляра купона пользователя.
type UserCouponStatus string

const (
	UserCouponAvailable UserCouponStatus = "available"
	UserCouponUsed      UserCouponStatus = "used"
	UserCouponExpired   UserCouponStatus = "expired"
)

// UserCoupon представляет купон, выданный конкретному пользователю.
// Переходы состояний монотонны: available → used либо available → expired,
// обратных переходов нет.
type UserCoupon struct {
	ID          uuid.UUID
	UserID      int64
	CouponID    int64
	Status      UserCouponStatus
	IssuedDate  time.Time
	UsedDate    *time.Time
	OrderID     *string
	ExpiredDate *time.Time
}

// SweepSummary содержит итоги одного прохода фоновой очистки.
type SweepSummary struct {
	CouponsExpired int   `json:"coupons_expired"`
	UsersDecayed   int   `json:"users_decayed"`
	PointsExpired  int64 `json:"points_expired"`
}
