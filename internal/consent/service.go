// Package consent は同意台帳のドメインロジックを提供する。
// (アカウント, 加盟店)ペアごとの仮名管理、同意の付与・取り消し、
// 導出ステータスの算出を行う。このパッケージ自体はデータを開示しない。
package consent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/kaisho/internal/model"
	"github.com/hitoshi/kaisho/internal/repository"
)

// Notifier は同意イベントの加盟店向け通知インターフェース。
// 通知はベストエフォートであり、失敗しても同意操作は成功する。
type Notifier interface {
	NotifyRevoked(ctx context.Context, mall *model.Mall, delegateUID string)
}

// Service は同意台帳のサービス層。
type Service struct {
	consentRepo repository.ConsentRepository
	mallRepo    repository.MallRepository
	notifier    Notifier
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// notifierはnilを許容する（通知なし）。
func NewService(
	consentRepo repository.ConsentRepository,
	mallRepo repository.MallRepository,
	notifier Notifier,
) *Service {
	return &Service{
		consentRepo: consentRepo,
		mallRepo:    mallRepo,
		notifier:    notifier,
		now:         time.Now,
	}
}

// Grant は(アカウント, 加盟店)ペアに同意を付与し、仮名を返す。
// 既存レコードがある場合はその仮名を再利用する。仮名の再生成は
// 加盟店側のユーザー紐付けを壊すため、失効・取り消し後であっても行わない。
func (s *Service) Grant(
	ctx context.Context,
	accountID, mallID, shopUserID string,
	fields []model.Field,
	consentType model.ConsentType,
) (string, error) {
	if f, ok := model.ValidateFields(fields); !ok {
		return "", model.NewUnknownFieldError(f)
	}

	mall, err := s.mallRepo.FindByID(ctx, mallID)
	if err != nil {
		return "", fmt.Errorf("加盟店の取得に失敗しました: %w", err)
	}
	if mall == nil {
		return "", model.NewMallNotFoundError(mallID)
	}
	if !mall.IsActive {
		return "", model.NewMallInactiveError(mallID)
	}
	if f, ok := model.FieldsSubset(fields, mall.AllowedFields); !ok {
		return "", model.NewFieldNotGrantedError(f)
	}

	existing, err := s.consentRepo.FindByAccountAndMall(ctx, accountID, mallID)
	if err != nil {
		return "", fmt.Errorf("同意の取得に失敗しました: %w", err)
	}

	delegateUID := ""
	if existing != nil {
		delegateUID = existing.DelegateUID
	} else {
		delegateUID = mallID + "-" + uuid.NewString()
	}

	now := s.now()
	record := &model.ConsentRecord{
		AccountID:     accountID,
		MallID:        mallID,
		DelegateUID:   delegateUID,
		ShopUserID:    shopUserID,
		ConsentType:   consentType,
		GrantedFields: model.SortedFields(fields),
		CreatedAt:     now,
		IsActive:      true,
	}
	if consentType == model.ConsentTypeAlways {
		expiresAt := now.Add(model.AlwaysConsentValidity)
		record.ExpiresAt = &expiresAt
	}

	// 並行するGrantが同じペアに別の仮名を生成した場合、
	// ストレージ側は最初の仮名に収束する。呼び出し元には
	// 生成した仮名ではなく、実際に永続化された仮名を返す。
	storedUID, err := s.consentRepo.Upsert(ctx, record)
	if err != nil {
		return "", fmt.Errorf("同意の保存に失敗しました: %w", err)
	}

	slog.Info("同意を記録しました",
		slog.String("mall_id", mallID),
		slog.String("delegate_uid", storedUID),
		slog.String("consent_type", string(consentType)),
		slog.Int("field_count", len(fields)),
	)

	return storedUID, nil
}

// Revoke は同意を論理的に取り消す。レコードは削除せず、
// 将来の再同意に備えて仮名の安定性を保つ。
// 加盟店に通知先が登録されている場合はベストエフォートで通知する。
func (s *Service) Revoke(ctx context.Context, accountID, mallID string) error {
	existing, err := s.consentRepo.FindByAccountAndMall(ctx, accountID, mallID)
	if err != nil {
		return fmt.Errorf("同意の取得に失敗しました: %w", err)
	}
	if existing == nil {
		return model.NewConsentNotFoundError(mallID)
	}

	if err := s.consentRepo.Deactivate(ctx, accountID, mallID); err != nil {
		return fmt.Errorf("同意の取り消しに失敗しました: %w", err)
	}

	slog.Info("同意を取り消しました",
		slog.String("mall_id", mallID),
		slog.String("delegate_uid", existing.DelegateUID),
	)

	if s.notifier != nil {
		mall, err := s.mallRepo.FindByID(ctx, mallID)
		if err != nil {
			slog.Warn("通知用の加盟店取得に失敗しました",
				slog.String("mall_id", mallID),
				slog.String("error", err.Error()),
			)
			return nil
		}
		if mall != nil && mall.NotifyURL != "" {
			s.notifier.NotifyRevoked(ctx, mall, existing.DelegateUID)
		}
	}

	return nil
}

// ConsentView は同意と導出ステータスを合わせた閲覧用ビュー。
type ConsentView struct {
	Record *model.ConsentRecord
	Status model.ConsentStatus
}

// List はアカウントの全同意を導出ステータス付きで返す。
// ステータスは保存された値ではなく、呼び出し時点の時刻から導出する。
func (s *Service) List(ctx context.Context, accountID string) ([]ConsentView, error) {
	records, err := s.consentRepo.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("同意一覧の取得に失敗しました: %w", err)
	}

	now := s.now()
	views := make([]ConsentView, 0, len(records))
	for _, r := range records {
		views = append(views, ConsentView{
			Record: r,
			Status: r.CurrentStatus(now),
		})
	}
	return views, nil
}

// FindUsableByDelegateUID は仮名から使用可能な同意を解決する。
// トークン発行・開示時のゲートとして使用する。
func (s *Service) FindUsableByDelegateUID(ctx context.Context, delegateUID, mallID string) (*model.ConsentRecord, error) {
	record, err := s.consentRepo.FindByDelegateUID(ctx, delegateUID)
	if err != nil {
		return nil, fmt.Errorf("同意の取得に失敗しました: %w", err)
	}
	if record == nil || record.MallID != mallID {
		return nil, model.NewConsentNotFoundError(mallID)
	}

	now := s.now()
	if !record.IsActive {
		return nil, model.NewConsentNotFoundError(mallID)
	}
	if record.ConsentType == model.ConsentTypeOnce && record.ConsumedAt != nil {
		return nil, model.NewConsentConsumedError(mallID)
	}
	if record.ExpiresAt != nil && now.After(*record.ExpiresAt) {
		return nil, model.NewConsentExpiredError(mallID)
	}
	return record, nil
}

// ConsumeOnce はonce同意を消費済みにする。
// 最初の開示成功時にビューワーセッション管理から呼ばれる。
// always同意には何もしない。
func (s *Service) ConsumeOnce(ctx context.Context, record *model.ConsentRecord) error {
	if record.ConsentType != model.ConsentTypeOnce {
		return nil
	}
	if err := s.consentRepo.MarkConsumed(ctx, record.AccountID, record.MallID, s.now()); err != nil {
		return fmt.Errorf("once同意の消費記録に失敗しました: %w", err)
	}
	slog.Info("once同意を消費しました",
		slog.String("mall_id", record.MallID),
		slog.String("delegate_uid", record.DelegateUID),
	)
	return nil
}
