package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/loyalty-engine/internal/middleware"
	"github.com/mmeshcher/loyalty-engine/internal/model"
)

const dateLayout = "2006-01-02"

type createCouponRequest struct {
	Name           string  `json:"name"`
	Type           string  `json:"type"`
	Value          int64   `json:"value"`
	MinOrderAmount int64   `json:"min_order_amount"`
	ExpiryDate     string  `json:"expiry_date"`
	IsActive       bool    `json:"is_active"`
	Code           *string `json:"code,omitempty"`
	IsDirectAssign bool    `json:"is_direct_assign"`
	UsageLimit     int     `json:"usage_limit"`
}

type createCouponResponse struct {
	ID int64 `json:"id"`
}

// CreateCoupon сохраняет новое мастер-определение купона.
func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req createCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	expiry, err := time.Parse(dateLayout, req.ExpiryDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid expiry_date, expected YYYY-MM-DD")
		return
	}

	id, err := h.service.CreateCoupon(r.Context(), model.Coupon{
		Name:           req.Name,
		Type:           model.CouponType(req.Type),
		Value:          req.Value,
		MinOrderAmount: req.MinOrderAmount,
		ExpiryDate:     expiry,
		IsActive:       req.IsActive,
		Code:           req.Code,
		IsDirectAssign: req.IsDirectAssign,
		UsageLimit:     req.UsageLimit,
	})
	if err != nil {
		h.writeServiceError(w, "create coupon", err)
		return
	}

	writeJSON(w, http.StatusCreated, createCouponResponse{ID: id})
}

type couponResponse struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	Type           string  `json:"type"`
	Value          int64   `json:"value"`
	MinOrderAmount int64   `json:"min_order_amount"`
	ExpiryDate     string  `json:"expiry_date"`
	IsActive       bool    `json:"is_active"`
	Code           *string `json:"code,omitempty"`
	IsDirectAssign bool    `json:"is_direct_assign"`
	UsageLimit     int     `json:"usage_limit"`
	UsedCount      int     `json:"used_count"`
}

func couponID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil
}

// GetCoupon возвращает мастер-определение купона.
func (h *Handler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	id, ok := couponID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid coupon id")
		return
	}

	c, err := h.service.GetCouponByID(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "get coupon", err, zap.Int64("couponID", id))
		return
	}

	writeJSON(w, http.StatusOK, couponResponse{
		ID:             c.ID,
		Name:           c.Name,
		Type:           string(c.Type),
		Value:          c.Value,
		MinOrderAmount: c.MinOrderAmount,
		ExpiryDate:     c.ExpiryDate.Format(dateLayout),
		IsActive:       c.IsActive,
		Code:           c.Code,
		IsDirectAssign: c.IsDirectAssign,
		UsageLimit:     c.UsageLimit,
		UsedCount:      c.UsedCount,
	})
}

type updateCouponRequest struct {
	Name           *string `json:"name,omitempty"`
	Type           *string `json:"type,omitempty"`
	Value          *int64  `json:"value,omitempty"`
	MinOrderAmount *int64  `json:"min_order_amount,omitempty"`
	ExpiryDate     *string `json:"expiry_date,omitempty"`
	IsActive       *bool   `json:"is_active,omitempty"`
	UsageLimit     *int    `json:"usage_limit,omitempty"`
}

// UpdateCoupon частично обновляет мастер-определение купона.
func (h *Handler) UpdateCoupon(w http.ResponseWriter, r *http.Request) {
	id, ok := couponID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid coupon id")
		return
	}

	var req updateCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	patch := model.CouponPatch{
		Name:           req.Name,
		Value:          req.Value,
		MinOrderAmount: req.MinOrderAmount,
		IsActive:       req.IsActive,
		UsageLimit:     req.UsageLimit,
	}
	if req.Type != nil {
		t := model.CouponType(*req.Type)
		patch.Type = &t
	}
	if req.ExpiryDate != nil {
		expiry, err := time.Parse(dateLayout, *req.ExpiryDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid expiry_date, expected YYYY-MM-DD")
			return
		}
		patch.ExpiryDate = &expiry
	}

	if err := h.service.UpdateCoupon(r.Context(), id, patch); err != nil {
		h.writeServiceError(w, "update coupon", err, zap.Int64("couponID", id))
		return
	}

	w.WriteHeader(http.StatusOK)
}

// DeleteCoupon удаляет мастер-определение купона.
func (h *Handler) DeleteCoupon(w http.ResponseWriter, r *http.Request) {
	id, ok := couponID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid coupon id")
		return
	}

	if err := h.service.DeleteCoupon(r.Context(), id); err != nil {
		h.writeServiceError(w, "delete coupon", err, zap.Int64("couponID", id))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type toggleCouponResponse struct {
	IsActive bool `json:"is_active"`
}

// ToggleCoupon переключает признак активности купона.
func (h *Handler) ToggleCoupon(w http.ResponseWriter, r *http.Request) {
	id, ok := couponID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid coupon id")
		return
	}

	isActive, err := h.service.ToggleCouponActive(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "toggle coupon", err, zap.Int64("couponID", id))
		return
	}

	writeJSON(w, http.StatusOK, toggleCouponResponse{IsActive: isActive})
}

type issueCouponRequest struct {
	CouponID int64 `json:"coupon_id"`
}

type issueCouponResponse struct {
	UserCouponID string `json:"user_coupon_id"`
	CouponName   string `json:"coupon_name"`
}

// IssueCoupon выдаёт купон текущему пользователю.
func (h *Handler) IssueCoupon(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req issueCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CouponID == 0 {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, name, err := h.service.IssueCoupon(r.Context(), userID, req.CouponID)
	if err != nil {
		h.writeServiceError(w, "issue coupon", err, zap.Int64("userID", userID), zap.Int64("couponID", req.CouponID))
		return
	}

	writeJSON(w, http.StatusCreated, issueCouponResponse{
		UserCouponID: id.String(),
		CouponName:   name,
	})
}

type registerCouponRequest struct {
	Code string `json:"code"`
}

type registerCouponResponse struct {
	UserCouponID string `json:"user_coupon_id"`
	CouponName   string `json:"coupon_name"`
	Code         string `json:"code"`
}

// RegisterCoupon активирует купон по коду для текущего пользователя.
func (h *Handler) RegisterCoupon(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req registerCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, name, code, err := h.service.RegisterCouponByCode(r.Context(), userID, req.Code)
	if err != nil {
		h.writeServiceError(w, "register coupon", err, zap.Int64("userID", userID))
		return
	}

	writeJSON(w, http.StatusCreated, registerCouponResponse{
		UserCouponID: id.String(),
		CouponName:   name,
		Code:         code,
	})
}

type useCouponRequest struct {
	OrderID string `json:"order_id"`
}

type useCouponResponse struct {
	CouponName string `json:"coupon_name"`
	UsedDate   string `json:"used_date"`
	OrderID    string `json:"order_id"`
}

// UseCoupon применяет купон текущего пользователя к заказу.
func (h *Handler) UseCoupon(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	userCouponID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user coupon id")
		return
	}

	var req useCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	name, usedDate, err := h.service.UseCoupon(r.Context(), userCouponID, userID, req.OrderID)
	if err != nil {
		h.writeServiceError(w, "use coupon", err,
			zap.Int64("userID", userID), zap.String("userCouponID", userCouponID.String()))
		return
	}

	writeJSON(w, http.StatusOK, useCouponResponse{
		CouponName: name,
		UsedDate:   usedDate.Format(dateLayout),
		OrderID:    req.OrderID,
	})
}
