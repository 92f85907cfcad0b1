// Package sweep は期限切れデータの定期削除ジョブを提供する。
// ワンタイムコードのハードスイープ（期限切れまたは作成から1時間超過）と、
// 保持期間を過ぎた期限切れビューワーセッションの物理削除を行う。
// 削除は冪等であり、失敗してもワーカーを停止させない。
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/kaisho/internal/repository"
)

// Job は期限切れデータの定期削除ジョブ。
type Job struct {
	otpRepo     repository.OtpRepository
	sessionRepo repository.ViewerSessionRepository
	logger      *slog.Logger

	// SessionRetention は期限切れセッションを物理削除までDB上に保持する期間。
	// 期限切れ直後の削除は監査・デバッグを難しくするため少し寝かせる。
	SessionRetention time.Duration

	now func() time.Time
}

// NewJob は新しいJobを生成する。
func NewJob(
	otpRepo repository.OtpRepository,
	sessionRepo repository.ViewerSessionRepository,
	logger *slog.Logger,
	sessionRetention time.Duration,
) *Job {
	return &Job{
		otpRepo:          otpRepo,
		sessionRepo:      sessionRepo,
		logger:           logger,
		SessionRetention: sessionRetention,
		now:              time.Now,
	}
}

// Run はスイープを1回実行する。
// 各対象の失敗は独立にログに記録し、他の対象の処理は継続する。
func (j *Job) Run(ctx context.Context) {
	start := j.now()

	otpDeleted, err := j.otpRepo.DeleteSweepable(ctx, start)
	if err != nil {
		j.logger.Error("確認コードのスイープに失敗しました",
			slog.String("error", err.Error()),
		)
	}

	cutoff := start.Add(-j.SessionRetention)
	sessionsDeleted, err := j.sessionRepo.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("期限切れセッションの削除に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	j.logger.Info("スイープジョブが完了しました",
		slog.Int64("otp_deleted", otpDeleted),
		slog.Int64("sessions_deleted", sessionsDeleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
}

// Start は指定間隔でスイープを繰り返し実行する。
// コンテキストのキャンセルで停止する。起動直後にも1回実行する。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Run(ctx)
		}
	}
}
