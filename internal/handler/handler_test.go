package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/loyalty-engine/internal/middleware"
	"github.com/mmeshcher/loyalty-engine/internal/model"
	"github.com/mmeshcher/loyalty-engine/internal/repository"
	"github.com/mmeshcher/loyalty-engine/internal/service"
)

type stubService struct {
	earnBalance int64
	earnErr     error

	useBalance int64
	useErr     error

	refundBalance int64
	refundErr     error

	balance    int64
	balanceErr error

	history    []model.PointTransaction
	nextCursor string
	hasMore    bool
	historyErr error

	coupon    *model.Coupon
	couponErr error

	issueID   uuid.UUID
	issueName string
	issueErr  error

	registerID   uuid.UUID
	registerName string
	registerCode string
	registerErr  error

	useCouponName string
	useCouponDate time.Time
	useCouponErr  error

	sweepSummary model.SweepSummary
	sweepErr     error
}

func (s *stubService) CreateBalance(ctx context.Context, userID int64) error { return nil }

func (s *stubService) Earn(ctx context.Context, userID, amount int64, description string, orderID *string) (int64, error) {
	return s.earnBalance, s.earnErr
}

func (s *stubService) Use(ctx context.Context, userID, amount int64, description, orderID string) (int64, error) {
	return s.useBalance, s.useErr
}

func (s *stubService) Refund(ctx context.Context, userID, amount int64, description, orderID string) (int64, error) {
	return s.refundBalance, s.refundErr
}

func (s *stubService) GetBalance(ctx context.Context, userID int64) (int64, error) {
	return s.balance, s.balanceErr
}

func (s *stubService) GetHistory(ctx context.Context, userID int64, pageSize int, cursor string) ([]model.PointTransaction, string, bool, error) {
	return s.history, s.nextCursor, s.hasMore, s.historyErr
}

func (s *stubService) CreateCoupon(ctx context.Context, c model.Coupon) (int64, error) {
	if s.couponErr != nil {
		return 0, s.couponErr
	}
	return 1, nil
}

func (s *stubService) GetCouponByID(ctx context.Context, id int64) (*model.Coupon, error) {
	return s.coupon, s.couponErr
}

func (s *stubService) UpdateCoupon(ctx context.Context, id int64, patch model.CouponPatch) error {
	return s.couponErr
}

func (s *stubService) DeleteCoupon(ctx context.Context, id int64) error { return s.couponErr }

func (s *stubService) ToggleCouponActive(ctx context.Context, id int64) (bool, error) {
	return true, s.couponErr
}

func (s *stubService) IssueCoupon(ctx context.Context, userID, couponID int64) (uuid.UUID, string, error) {
	return s.issueID, s.issueName, s.issueErr
}

func (s *stubService) RegisterCouponByCode(ctx context.Context, userID int64, code string) (uuid.UUID, string, string, error) {
	return s.registerID, s.registerName, s.registerCode, s.registerErr
}

func (s *stubService) UseCoupon(ctx context.Context, userCouponID uuid.UUID, userID int64, orderID string) (string, time.Time, error) {
	return s.useCouponName, s.useCouponDate, s.useCouponErr
}

func (s *stubService) RunExpirySweep(ctx context.Context) (model.SweepSummary, error) {
	return s.sweepSummary, s.sweepErr
}

func newTestServer(t *testing.T, svc Service) (*httptest.Server, *middleware.AuthMiddleware) {
	t.Helper()
	auth := middleware.NewAuthMiddleware("test-secret")
	h := NewHandler(svc, zap.NewNop(), auth)
	srv := httptest.NewServer(h.SetupRouter())
	t.Cleanup(srv.Close)
	return srv, auth
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestEarn_Success(t *testing.T) {
	srv, auth := newTestServer(t, &stubService{earnBalance: 1500})

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/points/earn", auth.Token(42),
		map[string]any{"amount": 500, "description": "order bonus"})

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var got earnResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.NewBalance != 1500 {
		t.Fatalf("new_balance = %d, want 1500", got.NewBalance)
	}
}

func TestEarn_Unauthorized(t *testing.T) {
	srv, _ := newTestServer(t, &stubService{})

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/points/earn", "",
		map[string]any{"amount": 500, "description": "order bonus"})

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
}

func TestStatusMapping(t *testing.T) {
	userCouponID := uuid.New()

	tests := []struct {
		name       string
		svc        *stubService
		method     string
		path       string
		body       any
		wantStatus int
	}{
		{
			name:       "invalid amount",
			svc:        &stubService{earnErr: service.ErrInvalidAmount},
			method:     http.MethodPost,
			path:       "/api/points/earn",
			body:       map[string]any{"amount": -1, "description": "x"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "balance not found",
			svc:        &stubService{earnErr: repository.ErrBalanceNotFound},
			method:     http.MethodPost,
			path:       "/api/points/earn",
			body:       map[string]any{"amount": 100, "description": "x"},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "insufficient balance",
			svc:        &stubService{useErr: repository.ErrInsufficientBalance},
			method:     http.MethodPost,
			path:       "/api/points/use",
			body:       map[string]any{"amount": 900, "order_id": "o1"},
			wantStatus: http.StatusPaymentRequired,
		},
		{
			name:       "coupon already issued",
			svc:        &stubService{issueErr: repository.ErrCouponAlreadyIssued},
			method:     http.MethodPost,
			path:       "/api/user/coupons/",
			body:       map[string]any{"coupon_id": 7},
			wantStatus: http.StatusConflict,
		},
		{
			name:       "usage limit reached",
			svc:        &stubService{registerErr: repository.ErrUsageLimitReached},
			method:     http.MethodPost,
			path:       "/api/user/coupons/register",
			body:       map[string]any{"code": "SPRING2026"},
			wantStatus: http.StatusTooManyRequests,
		},
		{
			name:       "not owner",
			svc:        &stubService{useCouponErr: repository.ErrNotOwner},
			method:     http.MethodPost,
			path:       "/api/user/coupons/" + userCouponID.String() + "/use",
			body:       map[string]any{"order_id": "o1"},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "coupon expired",
			svc:        &stubService{useCouponErr: repository.ErrCouponExpired},
			method:     http.MethodPost,
			path:       "/api/user/coupons/" + userCouponID.String() + "/use",
			body:       map[string]any{"order_id": "o1"},
			wantStatus: http.StatusConflict,
		},
		{
			name:       "coupon in use",
			svc:        &stubService{couponErr: repository.ErrCouponInUse},
			method:     http.MethodDelete,
			path:       "/api/coupons/7",
			body:       nil,
			wantStatus: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, auth := newTestServer(t, tt.svc)

			resp := doJSON(t, tt.method, srv.URL+tt.path, auth.Token(42), tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestGetHistory_Response(t *testing.T) {
	orderID := "o1"
	now := time.Now().UTC()
	svc := &stubService{
		history: []model.PointTransaction{
			{
				ID:           uuid.New(),
				Type:         model.TransactionUse,
				Amount:       400,
				Description:  "order payment",
				OrderID:      &orderID,
				BalanceAfter: 600,
				CreatedAt:    now,
			},
			{
				ID:           uuid.New(),
				Type:         model.TransactionEarn,
				Amount:       1000,
				Description:  "welcome bonus",
				BalanceAfter: 1000,
				CreatedAt:    now.Add(-time.Hour),
			},
		},
		nextCursor: "abc",
		hasMore:    true,
	}
	srv, auth := newTestServer(t, svc)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/points/history?limit=2", auth.Token(42), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var got historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got.Transactions) != 2 {
		t.Fatalf("got %d transactions, want 2", len(got.Transactions))
	}
	if got.Transactions[0].Type != "use" || got.Transactions[0].OrderID == nil || *got.Transactions[0].OrderID != "o1" {
		t.Fatalf("unexpected first transaction: %+v", got.Transactions[0])
	}
	if !got.HasMore || got.NextCursor != "abc" {
		t.Fatalf("hasMore = %v, nextCursor = %q", got.HasMore, got.NextCursor)
	}
}

func TestGetCoupon_Response(t *testing.T) {
	code := "SPRING2026"
	svc := &stubService{
		coupon: &model.Coupon{
			ID:         7,
			Name:       "spring sale",
			Type:       model.CouponPercent,
			Value:      10,
			ExpiryDate: time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
			IsActive:   true,
			Code:       &code,
			UsageLimit: 100,
			UsedCount:  3,
		},
	}
	srv, auth := newTestServer(t, svc)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/coupons/7", auth.Token(42), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var got couponResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != 7 || got.Type != "percent" || got.ExpiryDate != "2026-12-31" || got.UsedCount != 3 {
		t.Fatalf("unexpected coupon response: %+v", got)
	}
}

func TestRegisterCoupon_Success(t *testing.T) {
	id := uuid.New()
	svc := &stubService{registerID: id, registerName: "spring sale", registerCode: "SPRING2026"}
	srv, auth := newTestServer(t, svc)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/user/coupons/register", auth.Token(42),
		map[string]any{"code": " spring2026 "})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}

	var got registerCouponResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.UserCouponID != id.String() || got.Code != "SPRING2026" {
		t.Fatalf("unexpected response: %+v", got)
	}
}

func TestUseCoupon_InvalidID(t *testing.T) {
	srv, auth := newTestServer(t, &stubService{})

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/user/coupons/not-a-uuid/use", auth.Token(42),
		map[string]any{"order_id": "o1"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestRunSweep_NoAuthRequired(t *testing.T) {
	svc := &stubService{sweepSummary: model.SweepSummary{CouponsExpired: 2, UsersDecayed: 1, PointsExpired: 300}}
	srv, _ := newTestServer(t, svc)

	resp := doJSON(t, http.MethodPost, srv.URL+"/internal/sweep", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var got model.SweepSummary
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got != svc.sweepSummary {
		t.Fatalf("summary = %+v, want %+v", got, svc.sweepSummary)
	}
}
