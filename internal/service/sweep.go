package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/loyalty-engine/internal/model"
)

// RunExpirySweep выполняет один проход фоновой очистки: переводит просроченные
// купоны в состояние expired и списывает устаревшие начисления баллов.
// Ошибка на отдельном элементе журналируется и не прерывает проход: элемент
// будет обработан следующим запуском.
func (s *Service) RunExpirySweep(ctx context.Context) (model.SweepSummary, error) {
	var summary model.SweepSummary

	ids, err := s.repo.ListExpiredAvailableCoupons(ctx, s.sweep.BatchSize)
	if err != nil {
		s.logger.Error("sweep: list expirable coupons", zap.Error(err))
	}
	for _, id := range ids {
		expired, err := s.repo.ExpireUserCoupon(ctx, id)
		if err != nil {
			s.logger.Error("sweep: expire user coupon", zap.Error(err), zap.String("userCouponID", id.String()))
			continue
		}
		if expired {
			summary.CouponsExpired++
		}
	}

	cutoff := time.Now().UTC().AddDate(0, -s.sweep.RetentionMonths, 0)

	users, err := s.repo.ListStaleEarnUsers(ctx, cutoff, s.sweep.BatchSize)
	if err != nil {
		s.logger.Error("sweep: list stale earn users", zap.Error(err))
	}
	for _, userID := range users {
		expired, err := s.repo.ExpireUserPoints(ctx, userID, cutoff)
		if err != nil {
			s.logger.Error("sweep: expire user points", zap.Error(err), zap.Int64("userID", userID))
			continue
		}
		if expired > 0 {
			summary.UsersDecayed++
			summary.PointsExpired += expired
		}
	}

	return summary, nil
}

// StartSweeper запускает периодический запуск очистки с интервалом из
// конфигурации. При нулевом интервале очистка запускается только извне
// через RunExpirySweep.
func (s *Service) StartSweeper(ctx context.Context) {
	if s.sweep.Interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(s.sweep.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				summary, err := s.RunExpirySweep(ctx)
				if err != nil {
					s.logger.Error("expiry sweep failed", zap.Error(err))
					continue
				}
				s.logger.Info("expiry sweep finished",
					zap.Int("couponsExpired", summary.CouponsExpired),
					zap.Int("usersDecayed", summary.UsersDecayed),
					zap.Int64("pointsExpired", summary.PointsExpired),
				)
			}
		}
	}()
}
