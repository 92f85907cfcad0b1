package consent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/kaisho/internal/model"
)

// --- モック定義 ---

type mockConsentRepo struct {
	findByAccountAndMallFn func(ctx context.Context, accountID, mallID string) (*model.ConsentRecord, error)
	findByDelegateUIDFn    func(ctx context.Context, delegateUID string) (*model.ConsentRecord, error)
	listByAccountFn        func(ctx context.Context, accountID string) ([]*model.ConsentRecord, error)
	upsertFn               func(ctx context.Context, record *model.ConsentRecord) (string, error)
	deactivateFn           func(ctx context.Context, accountID, mallID string) error
	markConsumedFn         func(ctx context.Context, accountID, mallID string, consumedAt time.Time) error
}

func (m *mockConsentRepo) FindByAccountAndMall(ctx context.Context, accountID, mallID string) (*model.ConsentRecord, error) {
	if m.findByAccountAndMallFn != nil {
		return m.findByAccountAndMallFn(ctx, accountID, mallID)
	}
	return nil, nil
}

func (m *mockConsentRepo) FindByDelegateUID(ctx context.Context, delegateUID string) (*model.ConsentRecord, error) {
	if m.findByDelegateUIDFn != nil {
		return m.findByDelegateUIDFn(ctx, delegateUID)
	}
	return nil, nil
}

func (m *mockConsentRepo) ListByAccount(ctx context.Context, accountID string) ([]*model.ConsentRecord, error) {
	if m.listByAccountFn != nil {
		return m.listByAccountFn(ctx, accountID)
	}
	return nil, nil
}

func (m *mockConsentRepo) Upsert(ctx context.Context, record *model.ConsentRecord) (string, error) {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, record)
	}
	return record.DelegateUID, nil
}

func (m *mockConsentRepo) Deactivate(ctx context.Context, accountID, mallID string) error {
	if m.deactivateFn != nil {
		return m.deactivateFn(ctx, accountID, mallID)
	}
	return nil
}

func (m *mockConsentRepo) MarkConsumed(ctx context.Context, accountID, mallID string, consumedAt time.Time) error {
	if m.markConsumedFn != nil {
		return m.markConsumedFn(ctx, accountID, mallID, consumedAt)
	}
	return nil
}

type mockMallRepo struct {
	findByIDFn func(ctx context.Context, id string) (*model.Mall, error)
}

func (m *mockMallRepo) FindByID(ctx context.Context, id string) (*model.Mall, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockMallRepo) FindByAPIKeyHash(ctx context.Context, hash string) (*model.Mall, error) {
	return nil, nil
}

func (m *mockMallRepo) Create(ctx context.Context, mall *model.Mall) error { return nil }
func (m *mockMallRepo) Update(ctx context.Context, mall *model.Mall) error { return nil }

type mockNotifier struct {
	notifyRevokedFn func(ctx context.Context, mall *model.Mall, delegateUID string)
}

func (m *mockNotifier) NotifyRevoked(ctx context.Context, mall *model.Mall, delegateUID string) {
	if m.notifyRevokedFn != nil {
		m.notifyRevokedFn(ctx, mall, delegateUID)
	}
}

func activeMall(id string) *model.Mall {
	return &model.Mall{
		ID:            id,
		Name:          "テストモール",
		AllowedFields: []model.Field{model.FieldName, model.FieldEmail, model.FieldAddress},
		IsActive:      true,
	}
}

// --- Grant テスト ---

func TestService_Grant_NewPairGeneratesPseudonym(t *testing.T) {
	var saved *model.ConsentRecord
	repo := &mockConsentRepo{
		upsertFn: func(ctx context.Context, record *model.ConsentRecord) (string, error) {
			saved = record
			return record.DelegateUID, nil
		},
	}
	malls := &mockMallRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Mall, error) {
			return activeMall("mall-a"), nil
		},
	}

	svc := NewService(repo, malls, nil)
	uid, err := svc.Grant(context.Background(), "acc-1", "mall-a", "shop-user-9",
		[]model.Field{model.FieldName, model.FieldEmail}, model.ConsentTypeOnce)
	if err != nil {
		t.Fatalf("Grant failed: %v", err)
	}

	if !strings.HasPrefix(uid, "mall-a-") {
		t.Errorf("delegateUID = %q, want prefix %q", uid, "mall-a-")
	}
	if saved == nil {
		t.Fatal("record not saved")
	}
	if saved.DelegateUID != uid {
		t.Errorf("saved delegateUID = %q, want %q", saved.DelegateUID, uid)
	}
	if saved.ExpiresAt != nil {
		t.Error("once consent has ExpiresAt")
	}
	if !saved.IsActive {
		t.Error("new consent not active")
	}
}

func TestService_Grant_ExistingPairReusesPseudonym(t *testing.T) {
	existing := &model.ConsentRecord{
		AccountID:   "acc-1",
		MallID:      "mall-a",
		DelegateUID: "mall-a-11111111-2222-3333-4444-555555555555",
		IsActive:    false, // 取り消し後の再同意でも仮名は再利用する
	}
	repo := &mockConsentRepo{
		findByAccountAndMallFn: func(ctx context.Context, accountID, mallID string) (*model.ConsentRecord, error) {
			return existing, nil
		},
	}
	malls := &mockMallRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Mall, error) {
			return activeMall("mall-a"), nil
		},
	}

	svc := NewService(repo, malls, nil)
	uid, err := svc.Grant(context.Background(), "acc-1", "mall-a", "shop-user-9",
		[]model.Field{model.FieldName}, model.ConsentTypeAlways)
	if err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	if uid != existing.DelegateUID {
		t.Errorf("delegateUID = %q, want reused %q", uid, existing.DelegateUID)
	}
}

func TestService_Grant_ConcurrentLoserReturnsStoredPseudonym(t *testing.T) {
	// 競合するGrantに挿入で先を越された状況:
	// 事前のFindは空を返すが、ストレージには既に別の仮名が確定している。
	const winnerUID = "mall-a-11111111-2222-3333-4444-555555555555"
	repo := &mockConsentRepo{
		upsertFn: func(ctx context.Context, record *model.ConsentRecord) (string, error) {
			if record.DelegateUID == winnerUID {
				t.Error("losing Grant should have generated its own pseudonym")
			}
			return winnerUID, nil
		},
	}
	malls := &mockMallRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Mall, error) {
			return activeMall("mall-a"), nil
		},
	}

	svc := NewService(repo, malls, nil)
	uid, err := svc.Grant(context.Background(), "acc-1", "mall-a", "su",
		[]model.Field{model.FieldName}, model.ConsentTypeOnce)
	if err != nil {
		t.Fatalf("Grant failed: %v", err)
	}

	// 未永続の仮名を加盟店に渡すと以後のトークン発行が解決できない
	if uid != winnerUID {
		t.Errorf("delegateUID = %q, want stored %q", uid, winnerUID)
	}
}

func TestService_Grant_AlwaysSetsExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var saved *model.ConsentRecord
	repo := &mockConsentRepo{
		upsertFn: func(ctx context.Context, record *model.ConsentRecord) (string, error) {
			saved = record
			return record.DelegateUID, nil
		},
	}
	malls := &mockMallRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Mall, error) {
			return activeMall("mall-a"), nil
		},
	}

	svc := NewService(repo, malls, nil)
	svc.now = func() time.Time { return now }

	if _, err := svc.Grant(context.Background(), "acc-1", "mall-a", "su",
		[]model.Field{model.FieldName}, model.ConsentTypeAlways); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}

	if saved.ExpiresAt == nil {
		t.Fatal("always consent has no ExpiresAt")
	}
	want := now.Add(model.AlwaysConsentValidity)
	if !saved.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", saved.ExpiresAt, want)
	}
}

func TestService_Grant_RejectsFieldOutsideMallAllowList(t *testing.T) {
	malls := &mockMallRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Mall, error) {
			return activeMall("mall-a"), nil
		},
	}

	svc := NewService(&mockConsentRepo{}, malls, nil)
	_, err := svc.Grant(context.Background(), "acc-1", "mall-a", "su",
		[]model.Field{model.FieldName, model.FieldPhone}, model.ConsentTypeOnce)

	assertErrorCode(t, err, model.ErrCodeFieldNotGranted)
}

func TestService_Grant_RejectsUnknownField(t *testing.T) {
	svc := NewService(&mockConsentRepo{}, &mockMallRepo{}, nil)
	_, err := svc.Grant(context.Background(), "acc-1", "mall-a", "su",
		[]model.Field{model.Field("ssn")}, model.ConsentTypeOnce)

	assertErrorCode(t, err, model.ErrCodeUnknownField)
}

func TestService_Grant_RejectsInactiveMall(t *testing.T) {
	malls := &mockMallRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Mall, error) {
			mall := activeMall("mall-a")
			mall.IsActive = false
			return mall, nil
		},
	}

	svc := NewService(&mockConsentRepo{}, malls, nil)
	_, err := svc.Grant(context.Background(), "acc-1", "mall-a", "su",
		[]model.Field{model.FieldName}, model.ConsentTypeOnce)

	assertErrorCode(t, err, model.ErrCodeMallInactive)
}

// --- Revoke テスト ---

func TestService_Revoke_DeactivatesAndNotifies(t *testing.T) {
	deactivated := false
	notified := ""
	mall := activeMall("mall-a")
	mall.NotifyURL = "https://shop.example.com/hooks/consent"

	repo := &mockConsentRepo{
		findByAccountAndMallFn: func(ctx context.Context, accountID, mallID string) (*model.ConsentRecord, error) {
			return &model.ConsentRecord{
				AccountID: accountID, MallID: mallID,
				DelegateUID: "mall-a-uid", IsActive: true,
			}, nil
		},
		deactivateFn: func(ctx context.Context, accountID, mallID string) error {
			deactivated = true
			return nil
		},
	}
	malls := &mockMallRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Mall, error) {
			return mall, nil
		},
	}
	notifier := &mockNotifier{
		notifyRevokedFn: func(ctx context.Context, m *model.Mall, delegateUID string) {
			notified = delegateUID
		},
	}

	svc := NewService(repo, malls, notifier)
	if err := svc.Revoke(context.Background(), "acc-1", "mall-a"); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if !deactivated {
		t.Error("consent not deactivated")
	}
	if notified != "mall-a-uid" {
		t.Errorf("notified delegateUID = %q, want %q", notified, "mall-a-uid")
	}
}

func TestService_Revoke_NotFound(t *testing.T) {
	svc := NewService(&mockConsentRepo{}, &mockMallRepo{}, nil)
	err := svc.Revoke(context.Background(), "acc-1", "mall-x")
	assertErrorCode(t, err, model.ErrCodeConsentNotFound)
}

// --- FindUsableByDelegateUID テスト ---

func TestService_FindUsableByDelegateUID(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name     string
		record   *model.ConsentRecord
		wantCode string
	}{
		{
			name: "有効なalways同意",
			record: &model.ConsentRecord{
				MallID: "mall-a", ConsentType: model.ConsentTypeAlways,
				IsActive: true, ExpiresAt: &future,
			},
		},
		{
			name:     "仮名が存在しない",
			record:   nil,
			wantCode: model.ErrCodeConsentNotFound,
		},
		{
			name: "他の加盟店の仮名",
			record: &model.ConsentRecord{
				MallID: "mall-b", ConsentType: model.ConsentTypeAlways,
				IsActive: true, ExpiresAt: &future,
			},
			wantCode: model.ErrCodeConsentNotFound,
		},
		{
			name: "取り消し済み",
			record: &model.ConsentRecord{
				MallID: "mall-a", ConsentType: model.ConsentTypeAlways,
				IsActive: false, ExpiresAt: &future,
			},
			wantCode: model.ErrCodeConsentNotFound,
		},
		{
			name: "消費済みonce同意",
			record: &model.ConsentRecord{
				MallID: "mall-a", ConsentType: model.ConsentTypeOnce,
				IsActive: true, ConsumedAt: &past,
			},
			wantCode: model.ErrCodeConsentConsumed,
		},
		{
			name: "期限切れalways同意",
			record: &model.ConsentRecord{
				MallID: "mall-a", ConsentType: model.ConsentTypeAlways,
				IsActive: true, ExpiresAt: &past,
			},
			wantCode: model.ErrCodeConsentExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockConsentRepo{
				findByDelegateUIDFn: func(ctx context.Context, delegateUID string) (*model.ConsentRecord, error) {
					return tt.record, nil
				},
			}
			svc := NewService(repo, &mockMallRepo{}, nil)
			svc.now = func() time.Time { return now }

			record, err := svc.FindUsableByDelegateUID(context.Background(), "uid", "mall-a")
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if record == nil {
					t.Fatal("record is nil")
				}
				return
			}
			assertErrorCode(t, err, tt.wantCode)
		})
	}
}

// --- ConsumeOnce テスト ---

func TestService_ConsumeOnce(t *testing.T) {
	consumed := false
	repo := &mockConsentRepo{
		markConsumedFn: func(ctx context.Context, accountID, mallID string, consumedAt time.Time) error {
			consumed = true
			return nil
		},
	}
	svc := NewService(repo, &mockMallRepo{}, nil)

	once := &model.ConsentRecord{AccountID: "a", MallID: "m", ConsentType: model.ConsentTypeOnce}
	if err := svc.ConsumeOnce(context.Background(), once); err != nil {
		t.Fatalf("ConsumeOnce failed: %v", err)
	}
	if !consumed {
		t.Error("once consent not marked consumed")
	}

	// always同意は消費しない
	consumed = false
	always := &model.ConsentRecord{AccountID: "a", MallID: "m", ConsentType: model.ConsentTypeAlways}
	if err := svc.ConsumeOnce(context.Background(), always); err != nil {
		t.Fatalf("ConsumeOnce failed: %v", err)
	}
	if consumed {
		t.Error("always consent was marked consumed")
	}
}

// --- List テスト ---

func TestService_List_DerivesStatus(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	soon := now.Add(3 * 24 * time.Hour)
	repo := &mockConsentRepo{
		listByAccountFn: func(ctx context.Context, accountID string) ([]*model.ConsentRecord, error) {
			return []*model.ConsentRecord{
				{MallID: "m1", ConsentType: model.ConsentTypeOnce, IsActive: true},
				{MallID: "m2", ConsentType: model.ConsentTypeAlways, IsActive: true, ExpiresAt: &soon},
			}, nil
		},
	}
	svc := NewService(repo, &mockMallRepo{}, nil)
	svc.now = func() time.Time { return now }

	views, err := svc.List(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("len(views) = %d, want 2", len(views))
	}
	if views[0].Status != model.ConsentStatusActive {
		t.Errorf("views[0].Status = %q, want active", views[0].Status)
	}
	if views[1].Status != model.ConsentStatusExpiring {
		t.Errorf("views[1].Status = %q, want expiring", views[1].Status)
	}
}

// assertErrorCode はエラーが指定コードのAPIErrorであることを検証する。
func assertErrorCode(t *testing.T, err error, wantCode string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error code %q, got nil", wantCode)
	}
	apiErr, ok := err.(*model.APIError)
	if !ok {
		t.Fatalf("error is %T, want *model.APIError: %v", err, err)
	}
	if apiErr.Code != wantCode {
		t.Errorf("error code = %q, want %q", apiErr.Code, wantCode)
	}
}
