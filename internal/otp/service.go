// Package otp はメールアドレス確認用ワンタイムコードの発行・検証を提供する。
// コードは6桁数字・有効期間3分・検証成功時に即削除の単回使用とする。
// 「使用済み」フラグではなく削除によって単回使用を強制する。
package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/hitoshi/kaisho/internal/model"
	"github.com/hitoshi/kaisho/internal/repository"
)

// codeDigits はコードの桁数。
const codeDigits = 6

// Sender はコードの配送インターフェース。
// メール送信基盤は外部コラボレータとして扱う。
type Sender interface {
	SendCode(ctx context.Context, email, code string) error
}

// Service はワンタイムコードのサービス層。
type Service struct {
	repo   repository.OtpRepository
	sender Sender
	now    func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// senderはnilを許容する（配送なし。テストおよび開発環境用）。
func NewService(repo repository.OtpRepository, sender Sender) *Service {
	return &Service{
		repo:   repo,
		sender: sender,
		now:    time.Now,
	}
}

// Issue は6桁コードを生成して保存し、メールアドレス宛に送信する。
// 実行前にCleanupを行う。同一メールへの再発行は既存コードを上書きする。
func (s *Service) Issue(ctx context.Context, email string) error {
	s.Cleanup(ctx)

	normalized := model.NormalizeEmail(email)
	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("確認コードの生成に失敗しました: %w", err)
	}

	now := s.now()
	record := &model.OtpRecord{
		Email:     normalized,
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(model.OtpValidity),
	}
	if err := s.repo.Save(ctx, record); err != nil {
		return fmt.Errorf("確認コードの保存に失敗しました: %w", err)
	}

	if s.sender != nil {
		if err := s.sender.SendCode(ctx, normalized, code); err != nil {
			return fmt.Errorf("確認コードの送信に失敗しました: %w", err)
		}
	}

	slog.Info("確認コードを発行しました",
		slog.Time("expires_at", record.ExpiresAt),
	)
	return nil
}

// Verify は入力コードを検証する。
// 記録なしはCodeNotFound、期限切れはCodeExpired（記録を削除）、
// 不一致はCodeMismatch（記録は残し、期間内の再入力を許す）。
// 一致した場合は記録を削除して成功を返す。
// 一括クリーンアップはここでは行わない。検証対象を先に消すと
// 期限切れがCodeNotFoundに化け、UIが再発行を案内できなくなる。
func (s *Service) Verify(ctx context.Context, email, inputCode string) error {
	normalized := model.NormalizeEmail(email)
	record, err := s.repo.Find(ctx, normalized)
	if err != nil {
		return fmt.Errorf("確認コードの取得に失敗しました: %w", err)
	}
	if record == nil {
		return model.NewCodeNotFoundError()
	}

	if record.IsExpired(s.now()) {
		if err := s.repo.Delete(ctx, normalized); err != nil {
			slog.Warn("期限切れ確認コードの削除に失敗しました",
				slog.String("error", err.Error()),
			)
		}
		return model.NewCodeExpiredError()
	}

	if record.Code != inputCode {
		return model.NewCodeMismatchError()
	}

	if err := s.repo.Delete(ctx, normalized); err != nil {
		return fmt.Errorf("確認コードの削除に失敗しました: %w", err)
	}

	slog.Info("確認コードを検証しました")
	return nil
}

// Cleanup は期限切れまたは作成から1時間超過の記録を削除する。
// 失敗はログに記録して握りつぶし、Issue/Verifyの主経路を妨げない。
func (s *Service) Cleanup(ctx context.Context) {
	deleted, err := s.repo.DeleteSweepable(ctx, s.now())
	if err != nil {
		slog.Warn("確認コードのクリーンアップに失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}
	if deleted > 0 {
		slog.Info("確認コードをクリーンアップしました",
			slog.Int64("deleted_count", deleted),
		)
	}
}

// generateCode は暗号論的乱数から6桁の数字コードを生成する。
func generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n), nil
}
