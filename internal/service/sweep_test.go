package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestRunExpirySweep_Summary(t *testing.T) {
	coupons := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	repo := &stubRepo{
		expirableCoupons: coupons,
		staleUsers:       []int64{1, 2, 3},
		expirePointsBy:   map[int64]int64{1: 400, 2: 0, 3: 150},
	}
	svc := newTestService(repo)

	summary, err := svc.RunExpirySweep(context.Background())
	if err != nil {
		t.Fatalf("RunExpirySweep error: %v", err)
	}
	if summary.CouponsExpired != 3 {
		t.Fatalf("couponsExpired = %d, want 3", summary.CouponsExpired)
	}
	if summary.UsersDecayed != 2 {
		t.Fatalf("usersDecayed = %d, want 2", summary.UsersDecayed)
	}
	if summary.PointsExpired != 550 {
		t.Fatalf("pointsExpired = %d, want 550", summary.PointsExpired)
	}
}

func TestRunExpirySweep_SkipsFailedItems(t *testing.T) {
	broken := uuid.New()
	ok := uuid.New()
	repo := &stubRepo{
		expirableCoupons: []uuid.UUID{broken, ok},
		expireCouponErrs: map[uuid.UUID]error{broken: errors.New("connection reset")},
		staleUsers:       []int64{1, 2},
		expirePointsBy:   map[int64]int64{2: 100},
		expirePointsErrs: map[int64]error{1: errors.New("connection reset")},
	}
	svc := newTestService(repo)

	summary, err := svc.RunExpirySweep(context.Background())
	if err != nil {
		t.Fatalf("RunExpirySweep error: %v", err)
	}
	if summary.CouponsExpired != 1 {
		t.Fatalf("couponsExpired = %d, want 1", summary.CouponsExpired)
	}
	if len(repo.expiredCoupons) != 1 || repo.expiredCoupons[0] != ok {
		t.Fatalf("expired coupons = %v, want only %s", repo.expiredCoupons, ok)
	}
	if summary.UsersDecayed != 1 || summary.PointsExpired != 100 {
		t.Fatalf("summary = %+v, want one user and 100 points", summary)
	}
}

func TestRunExpirySweep_NothingToDo(t *testing.T) {
	svc := newTestService(&stubRepo{})

	summary, err := svc.RunExpirySweep(context.Background())
	if err != nil {
		t.Fatalf("RunExpirySweep error: %v", err)
	}
	if summary.CouponsExpired != 0 || summary.UsersDecayed != 0 || summary.PointsExpired != 0 {
		t.Fatalf("summary = %+v, want empty", summary)
	}
}

func TestStartSweeper_DisabledWithoutInterval(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, SweepConfig{Interval: 0})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// При нулевом интервале фоновый цикл не запускается.
	svc.StartSweeper(ctx)
}
