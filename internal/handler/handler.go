// Package handler содержит HTTP-обработчики API движка лояльности.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/loyalty-engine/internal/middleware"
	"github.com/mmeshcher/loyalty-engine/internal/model"
	"github.com/mmeshcher/loyalty-engine/internal/repository"
	"github.com/mmeshcher/loyalty-engine/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateBalance(ctx context.Context, userID int64) error
	Earn(ctx context.Context, userID, amount int64, description string, orderID *string) (int64, error)
	Use(ctx context.Context, userID, amount int64, description, orderID string) (int64, error)
	Refund(ctx context.Context, userID, amount int64, description, orderID string) (int64, error)
	GetBalance(ctx context.Context, userID int64) (int64, error)
	GetHistory(ctx context.Context, userID int64, pageSize int, cursor string) ([]model.PointTransaction, string, bool, error)

	CreateCoupon(ctx context.Context, c model.Coupon) (int64, error)
	GetCouponByID(ctx context.Context, id int64) (*model.Coupon, error)
	UpdateCoupon(ctx context.Context, id int64, patch model.CouponPatch) error
	DeleteCoupon(ctx context.Context, id int64) error
	ToggleCouponActive(ctx context.Context, id int64) (bool, error)

	IssueCoupon(ctx context.Context, userID, couponID int64) (uuid.UUID, string, error)
	RegisterCouponByCode(ctx context.Context, userID int64, code string) (uuid.UUID, string, string, error)
	UseCoupon(ctx context.Context, userCouponID uuid.UUID, userID int64, orderID string) (string, time.Time, error)

	RunExpirySweep(ctx context.Context) (model.SweepSummary, error)
}

// Handler реализует HTTP-обработчики API движка лояльности.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError транслирует ошибку бизнес-логики в HTTP-статус.
// Внутренние ошибки журналируются с именем операции и ключами сущностей,
// но без содержимого запроса.
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error, fields ...zap.Field) {
	switch {
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrEmptyDescription),
		errors.Is(err, service.ErrMissingOrderID),
		errors.Is(err, service.ErrInvalidCoupon),
		errors.Is(err, service.ErrInvalidCouponCode),
		errors.Is(err, service.ErrInvalidPageSize),
		errors.Is(err, service.ErrInvalidCursor):
		writeError(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, repository.ErrNotOwner):
		writeError(w, http.StatusForbidden, err.Error())

	case errors.Is(err, repository.ErrBalanceNotFound),
		errors.Is(err, repository.ErrCouponNotFound),
		errors.Is(err, repository.ErrUserCouponNotFound):
		writeError(w, http.StatusNotFound, err.Error())

	case errors.Is(err, repository.ErrInsufficientBalance):
		writeError(w, http.StatusPaymentRequired, err.Error())

	case errors.Is(err, repository.ErrBalanceExists),
		errors.Is(err, repository.ErrCouponAlreadyIssued),
		errors.Is(err, repository.ErrCouponCodeTaken),
		errors.Is(err, repository.ErrCouponAlreadyUsed),
		errors.Is(err, repository.ErrCouponExpired),
		errors.Is(err, repository.ErrCouponInactive),
		errors.Is(err, repository.ErrCouponInUse):
		writeError(w, http.StatusConflict, err.Error())

	case errors.Is(err, repository.ErrUsageLimitReached):
		writeError(w, http.StatusTooManyRequests, err.Error())

	default:
		h.logger.Error(op+" error", append(fields, zap.Error(err))...)
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}

type createBalanceRequest struct {
	UserID int64 `json:"user_id"`
}

// CreateBalance заводит бонусный счёт пользователя.
func (h *Handler) CreateBalance(w http.ResponseWriter, r *http.Request) {
	var req createBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.service.CreateBalance(r.Context(), req.UserID); err != nil {
		h.writeServiceError(w, "create balance", err, zap.Int64("userID", req.UserID))
		return
	}

	w.WriteHeader(http.StatusCreated)
}

type earnRequest struct {
	Amount      int64   `json:"amount"`
	Description string  `json:"description"`
	OrderID     *string `json:"order_id,omitempty"`
}

type earnResponse struct {
	NewBalance int64 `json:"new_balance"`
}

// Earn начисляет баллы текущему пользователю.
func (h *Handler) Earn(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req earnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	newBalance, err := h.service.Earn(r.Context(), userID, req.Amount, req.Description, req.OrderID)
	if err != nil {
		h.writeServiceError(w, "earn points", err, zap.Int64("userID", userID))
		return
	}

	writeJSON(w, http.StatusOK, earnResponse{NewBalance: newBalance})
}

type useRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	OrderID     string `json:"order_id"`
}

type useResponse struct {
	NewBalance int64 `json:"new_balance"`
	UsedAmount int64 `json:"used_amount"`
}

// Use списывает баллы текущего пользователя в счёт заказа.
func (h *Handler) Use(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req useRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	newBalance, err := h.service.Use(r.Context(), userID, req.Amount, req.Description, req.OrderID)
	if err != nil {
		h.writeServiceError(w, "use points", err, zap.Int64("userID", userID), zap.String("orderID", req.OrderID))
		return
	}

	writeJSON(w, http.StatusOK, useResponse{NewBalance: newBalance, UsedAmount: req.Amount})
}

type refundResponse struct {
	NewBalance     int64 `json:"new_balance"`
	RefundedAmount int64 `json:"refunded_amount"`
}

// Refund возвращает ранее списанные баллы текущему пользователю.
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req useRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	newBalance, err := h.service.Refund(r.Context(), userID, req.Amount, req.Description, req.OrderID)
	if err != nil {
		h.writeServiceError(w, "refund points", err, zap.Int64("userID", userID), zap.String("orderID", req.OrderID))
		return
	}

	writeJSON(w, http.StatusOK, refundResponse{NewBalance: newBalance, RefundedAmount: req.Amount})
}

type balanceResponse struct {
	Balance int64 `json:"balance"`
}

// GetBalance возвращает баланс текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, "get balance", err, zap.Int64("userID", userID))
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{Balance: balance})
}

type transactionResponse struct {
	ID           string  `json:"id"`
	Type         string  `json:"type"`
	Amount       int64   `json:"amount"`
	Description  string  `json:"description"`
	OrderID      *string `json:"order_id,omitempty"`
	BalanceAfter int64   `json:"balance_after"`
	Expired      bool    `json:"expired"`
	CreatedAt    string  `json:"created_at"`
}

type historyResponse struct {
	Transactions []transactionResponse `json:"transactions"`
	NextCursor   string                `json:"next_cursor,omitempty"`
	HasMore      bool                  `json:"has_more"`
}

const defaultPageSize = 20

// GetHistory возвращает страницу журнала операций текущего пользователя.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	pageSize := defaultPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		pageSize = parsed
	}

	transactions, nextCursor, hasMore, err := h.service.GetHistory(r.Context(), userID, pageSize, r.URL.Query().Get("cursor"))
	if err != nil {
		h.writeServiceError(w, "get history", err, zap.Int64("userID", userID))
		return
	}

	resp := historyResponse{
		Transactions: make([]transactionResponse, 0, len(transactions)),
		NextCursor:   nextCursor,
		HasMore:      hasMore,
	}
	for _, txn := range transactions {
		resp.Transactions = append(resp.Transactions, transactionResponse{
			ID:           txn.ID.String(),
			Type:         string(txn.Type),
			Amount:       txn.Amount,
			Description:  txn.Description,
			OrderID:      txn.OrderID,
			BalanceAfter: txn.BalanceAfter,
			Expired:      txn.Expired,
			CreatedAt:    txn.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// RunSweep запускает один проход фоновой очистки по запросу внешнего планировщика.
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.RunExpirySweep(r.Context())
	if err != nil {
		h.writeServiceError(w, "run sweep", err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}
