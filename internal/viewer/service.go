// Package viewer はビューワーセッションの管理を提供する。
// 検証済み委任トークンを短命・最小範囲のセッションに変換し、
// 開示内容の解決、期限管理、制限付き延長を行う。
// 状態機械: Created → (Active ⇄ Extended)* → Expired。期限切れは終端であり、
// 延長が期限切れセッションを復活させることはない。
package viewer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/kaisho/internal/model"
	"github.com/hitoshi/kaisho/internal/repository"
)

// ConsentResolver は仮名から同意を解決するインターフェース。
type ConsentResolver interface {
	FindUsableByDelegateUID(ctx context.Context, delegateUID, mallID string) (*model.ConsentRecord, error)
	ConsumeOnce(ctx context.Context, record *model.ConsentRecord) error
}

// ProfileLoader はアカウントのプロファイル読み出しインターフェース。
type ProfileLoader interface {
	Load(ctx context.Context, accountID string) (map[model.Field]string, error)
}

// Sanitizer は開示値のサニタイズインターフェース。
type Sanitizer interface {
	Sanitize(raw string) string
}

// Service はビューワーセッションのサービス層。
type Service struct {
	sessionRepo repository.ViewerSessionRepository
	consents    ConsentResolver
	profiles    ProfileLoader
	sanitizer   Sanitizer
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	sessionRepo repository.ViewerSessionRepository,
	consents ConsentResolver,
	profiles ProfileLoader,
	sanitizer Sanitizer,
) *Service {
	return &Service{
		sessionRepo: sessionRepo,
		consents:    consents,
		profiles:    profiles,
		sanitizer:   sanitizer,
		now:         time.Now,
	}
}

// CreateOrReuse は検証済みトークンの内容からセッションを作成する。
// (shopID, mallID, 整列済みフィールド集合)が一致する未期限切れセッションが
// あればそれを返す（冪等な発行）。2値目は既存セッションを再利用したかを示す。
// requiredFieldsがトークンのfieldsの部分集合であることは呼び出し側が検証済みであること。
//
// 同一フィールド集合への並行作成は重複セッションを生みうるが、
// どちらも等しく有効で独立に期限切れとなるため許容する。
func (s *Service) CreateOrReuse(
	ctx context.Context,
	shopID, mallID string,
	requiredFields []model.Field,
	viewerType model.ViewerType,
) (*model.ViewerSession, bool, error) {
	if f, ok := model.ValidateFields(requiredFields); !ok {
		return nil, false, model.NewUnknownFieldError(f)
	}

	policy, ok := model.PolicyForViewerType(viewerType)
	if !ok {
		return nil, false, model.NewInvalidViewerTypeError(viewerType)
	}

	sorted := model.SortedFields(requiredFields)
	now := s.now()

	existing, err := s.sessionRepo.FindActiveMatch(
		ctx, shopID, mallID, repository.FieldsKey(sorted), now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("セッションの検索に失敗しました: %w", err)
	}
	if existing != nil {
		slog.Info("既存のビューワーセッションを再利用します",
			slog.String("session_id", existing.ID),
			slog.String("mall_id", mallID),
		)
		return existing, true, nil
	}

	session := &model.ViewerSession{
		ID:             uuid.NewString(),
		ShopID:         shopID,
		MallID:         mallID,
		RequiredFields: sorted,
		ViewerType:     viewerType,
		CreatedAt:      now,
		ExpiresAt:      now.Add(policy.TTL),
		Extensions:     0,
		MaxExtensions:  policy.MaxExtensions,
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, false, fmt.Errorf("セッションの作成に失敗しました: %w", err)
	}

	slog.Info("ビューワーセッションを作成しました",
		slog.String("session_id", session.ID),
		slog.String("mall_id", mallID),
		slog.String("viewer_type", string(viewerType)),
		slog.Time("expires_at", session.ExpiresAt),
	)
	return session, false, nil
}

// Extend はセッションの期限をTTL1回分延長する。
// 延長不可の種別はNotExtensible、延長回数を使い切っている場合は
// ExtensionBudgetExhaustedで失敗する。期限切れセッションは延長できない。
func (s *Service) Extend(ctx context.Context, sessionID string) (*model.ViewerSession, error) {
	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("セッションの取得に失敗しました: %w", err)
	}
	if session == nil {
		return nil, model.NewSessionNotFoundError(sessionID)
	}

	now := s.now()
	if session.IsExpired(now) {
		return nil, model.NewSessionExpiredError()
	}

	policy, ok := model.PolicyForViewerType(session.ViewerType)
	if !ok {
		return nil, model.NewInvalidViewerTypeError(session.ViewerType)
	}
	if policy.MaxExtensions == 0 {
		return nil, model.NewNotExtensibleError(session.ViewerType)
	}
	if session.Extensions >= session.MaxExtensions {
		return nil, model.NewExtensionExhaustedError()
	}

	session.ExpiresAt = session.ExpiresAt.Add(policy.TTL)
	session.Extensions++
	if err := s.sessionRepo.UpdateExpiry(ctx, session.ID, session.ExpiresAt, session.Extensions); err != nil {
		return nil, fmt.Errorf("セッションの延長に失敗しました: %w", err)
	}

	slog.Info("ビューワーセッションを延長しました",
		slog.String("session_id", session.ID),
		slog.Int("extensions", session.Extensions),
		slog.Time("expires_at", session.ExpiresAt),
	)
	return session, nil
}

// Resolve はセッションが要求するフィールドのみを復号して返す。
// RequiredFields以外のフィールドは、プロファイルに存在しても決して含めない。
// once同意の場合、最初の解決成功で同意を消費する。
func (s *Service) Resolve(ctx context.Context, sessionID string) (map[model.Field]string, error) {
	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("セッションの取得に失敗しました: %w", err)
	}
	if session == nil {
		return nil, model.NewSessionNotFoundError(sessionID)
	}
	if session.IsExpired(s.now()) {
		return nil, model.NewSessionExpiredError()
	}

	record, err := s.consents.FindUsableByDelegateUID(ctx, session.ShopID, session.MallID)
	if err != nil {
		return nil, err
	}

	all, err := s.profiles.Load(ctx, record.AccountID)
	if err != nil {
		return nil, err
	}

	// 要求フィールドへの射影。超過分は決して返さない
	disclosed := make(map[model.Field]string, len(session.RequiredFields))
	for _, f := range session.RequiredFields {
		if v, ok := all[f]; ok {
			disclosed[f] = s.sanitizer.Sanitize(v)
		}
	}

	if err := s.consents.ConsumeOnce(ctx, record); err != nil {
		// 消費記録の失敗は開示自体より優先する（二重開示の防止）
		return nil, err
	}

	slog.Info("開示内容を解決しました",
		slog.String("session_id", session.ID),
		slog.String("mall_id", session.MallID),
		slog.Int("field_count", len(disclosed)),
	)
	return disclosed, nil
}
