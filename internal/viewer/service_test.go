package viewer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/kaisho/internal/model"
)

// --- モック定義 ---

type mockSessionRepo struct {
	findByIDFn        func(ctx context.Context, id string) (*model.ViewerSession, error)
	findActiveMatchFn func(ctx context.Context, shopID, mallID, fieldsKey string, now time.Time) (*model.ViewerSession, error)
	createFn          func(ctx context.Context, session *model.ViewerSession) error
	updateExpiryFn    func(ctx context.Context, id string, expiresAt time.Time, extensions int) error
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.ViewerSession, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionRepo) FindActiveMatch(ctx context.Context, shopID, mallID, fieldsKey string, now time.Time) (*model.ViewerSession, error) {
	if m.findActiveMatchFn != nil {
		return m.findActiveMatchFn(ctx, shopID, mallID, fieldsKey, now)
	}
	return nil, nil
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.ViewerSession) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) UpdateExpiry(ctx context.Context, id string, expiresAt time.Time, extensions int) error {
	if m.updateExpiryFn != nil {
		return m.updateExpiryFn(ctx, id, expiresAt, extensions)
	}
	return nil
}

func (m *mockSessionRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type mockConsentResolver struct {
	findFn    func(ctx context.Context, delegateUID, mallID string) (*model.ConsentRecord, error)
	consumeFn func(ctx context.Context, record *model.ConsentRecord) error
}

func (m *mockConsentResolver) FindUsableByDelegateUID(ctx context.Context, delegateUID, mallID string) (*model.ConsentRecord, error) {
	if m.findFn != nil {
		return m.findFn(ctx, delegateUID, mallID)
	}
	return &model.ConsentRecord{
		AccountID: "acc-1", MallID: mallID, DelegateUID: delegateUID,
		ConsentType: model.ConsentTypeAlways, IsActive: true,
	}, nil
}

func (m *mockConsentResolver) ConsumeOnce(ctx context.Context, record *model.ConsentRecord) error {
	if m.consumeFn != nil {
		return m.consumeFn(ctx, record)
	}
	return nil
}

type mockProfileLoader struct {
	loadFn func(ctx context.Context, accountID string) (map[model.Field]string, error)
}

func (m *mockProfileLoader) Load(ctx context.Context, accountID string) (map[model.Field]string, error) {
	if m.loadFn != nil {
		return m.loadFn(ctx, accountID)
	}
	return map[model.Field]string{}, nil
}

type passthroughSanitizer struct{}

func (passthroughSanitizer) Sanitize(raw string) string { return raw }

func newTestService(repo *mockSessionRepo, consents *mockConsentResolver, profiles *mockProfileLoader) *Service {
	if repo == nil {
		repo = &mockSessionRepo{}
	}
	if consents == nil {
		consents = &mockConsentResolver{}
	}
	if profiles == nil {
		profiles = &mockProfileLoader{}
	}
	return NewService(repo, consents, profiles, passthroughSanitizer{})
}

// --- CreateOrReuse テスト ---

func TestService_CreateOrReuse_NewSession(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var created *model.ViewerSession
	repo := &mockSessionRepo{
		createFn: func(ctx context.Context, session *model.ViewerSession) error {
			created = session
			return nil
		},
	}

	svc := newTestService(repo, nil, nil)
	svc.now = func() time.Time { return now }

	session, reused, err := svc.CreateOrReuse(context.Background(), "shop-uid", "mall-a",
		[]model.Field{model.FieldEmail, model.FieldName}, model.ViewerTypeQR)
	if err != nil {
		t.Fatalf("CreateOrReuse failed: %v", err)
	}
	if reused {
		t.Error("new session reported as reused")
	}
	if created == nil {
		t.Fatal("session not persisted")
	}
	if session.ID == "" {
		t.Error("session ID is empty")
	}
	if !session.ExpiresAt.Equal(now.Add(12 * time.Hour)) {
		t.Errorf("ExpiresAt = %v, want %v", session.ExpiresAt, now.Add(12*time.Hour))
	}
	if session.MaxExtensions != 3 {
		t.Errorf("MaxExtensions = %d, want 3", session.MaxExtensions)
	}
}

func TestService_CreateOrReuse_DedupesOnMatch(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	existing := &model.ViewerSession{
		ID: "sess-1", ShopID: "shop-uid", MallID: "mall-a",
		RequiredFields: []model.Field{model.FieldEmail, model.FieldName},
		ViewerType:     model.ViewerTypeQR,
		ExpiresAt:      now.Add(time.Hour),
	}
	repo := &mockSessionRepo{
		findActiveMatchFn: func(ctx context.Context, shopID, mallID, fieldsKey string, _ time.Time) (*model.ViewerSession, error) {
			// フィールド順が違っても同じキーに正規化される
			if fieldsKey != "email,name" {
				t.Errorf("fieldsKey = %q, want %q", fieldsKey, "email,name")
			}
			return existing, nil
		},
		createFn: func(ctx context.Context, session *model.ViewerSession) error {
			t.Error("Create called despite existing match")
			return nil
		},
	}

	svc := newTestService(repo, nil, nil)
	svc.now = func() time.Time { return now }

	session, reused, err := svc.CreateOrReuse(context.Background(), "shop-uid", "mall-a",
		[]model.Field{model.FieldName, model.FieldEmail}, model.ViewerTypeQR)
	if err != nil {
		t.Fatalf("CreateOrReuse failed: %v", err)
	}
	if !reused {
		t.Error("existing session not reported as reused")
	}
	if session.ID != "sess-1" {
		t.Errorf("session.ID = %q, want sess-1", session.ID)
	}
}

func TestService_CreateOrReuse_RejectsUnknownViewerType(t *testing.T) {
	svc := newTestService(nil, nil, nil)
	_, _, err := svc.CreateOrReuse(context.Background(), "s", "m",
		[]model.Field{model.FieldName}, model.ViewerType("hologram"))
	assertErrorCode(t, err, model.ErrCodeInvalidViewerType)
}

// --- Extend テスト ---

func TestService_Extend_QRAddsOneTTL(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	expiresAt := now.Add(time.Hour)
	session := &model.ViewerSession{
		ID: "sess-1", ViewerType: model.ViewerTypeQR,
		ExpiresAt: expiresAt, Extensions: 1, MaxExtensions: 3,
	}
	var updatedExpiry time.Time
	repo := &mockSessionRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.ViewerSession, error) {
			return session, nil
		},
		updateExpiryFn: func(ctx context.Context, id string, e time.Time, extensions int) error {
			updatedExpiry = e
			if extensions != 2 {
				t.Errorf("extensions = %d, want 2", extensions)
			}
			return nil
		},
	}

	svc := newTestService(repo, nil, nil)
	svc.now = func() time.Time { return now }

	got, err := svc.Extend(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Extend failed: %v", err)
	}
	want := expiresAt.Add(12 * time.Hour)
	if !updatedExpiry.Equal(want) {
		t.Errorf("new expiry = %v, want %v", updatedExpiry, want)
	}
	if got.RemainingExtensions() != 1 {
		t.Errorf("RemainingExtensions = %d, want 1", got.RemainingExtensions())
	}
}

func TestService_Extend_PaperNotExtensible(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := &mockSessionRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.ViewerSession, error) {
			return &model.ViewerSession{
				ID: id, ViewerType: model.ViewerTypePaper,
				ExpiresAt: now.Add(time.Hour), MaxExtensions: 0,
			}, nil
		},
	}
	svc := newTestService(repo, nil, nil)
	svc.now = func() time.Time { return now }

	_, err := svc.Extend(context.Background(), "sess-1")
	assertErrorCode(t, err, model.ErrCodeNotExtensible)
}

func TestService_Extend_BudgetExhausted(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := &mockSessionRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.ViewerSession, error) {
			return &model.ViewerSession{
				ID: id, ViewerType: model.ViewerTypeQR,
				ExpiresAt: now.Add(time.Hour), Extensions: 3, MaxExtensions: 3,
			}, nil
		},
	}
	svc := newTestService(repo, nil, nil)
	svc.now = func() time.Time { return now }

	_, err := svc.Extend(context.Background(), "sess-1")
	assertErrorCode(t, err, model.ErrCodeExtensionExhausted)
}

func TestService_Extend_ExpiredIsTerminal(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := &mockSessionRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.ViewerSession, error) {
			return &model.ViewerSession{
				ID: id, ViewerType: model.ViewerTypeQR,
				ExpiresAt: now.Add(-time.Minute), Extensions: 0, MaxExtensions: 3,
			}, nil
		},
	}
	svc := newTestService(repo, nil, nil)
	svc.now = func() time.Time { return now }

	_, err := svc.Extend(context.Background(), "sess-1")
	assertErrorCode(t, err, model.ErrCodeSessionExpired)
}

func TestService_Extend_NotFound(t *testing.T) {
	svc := newTestService(nil, nil, nil)
	_, err := svc.Extend(context.Background(), "missing")
	assertErrorCode(t, err, model.ErrCodeSessionNotFound)
}

// --- Resolve テスト ---

func activeSession(now time.Time, fields ...model.Field) *model.ViewerSession {
	return &model.ViewerSession{
		ID: "sess-1", ShopID: "shop-uid", MallID: "mall-a",
		RequiredFields: fields,
		ViewerType:     model.ViewerTypeQR,
		ExpiresAt:      now.Add(time.Hour),
	}
}

func TestService_Resolve_ProjectsToRequiredFieldsOnly(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := &mockSessionRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.ViewerSession, error) {
			return activeSession(now, model.FieldName, model.FieldEmail), nil
		},
	}
	profiles := &mockProfileLoader{
		loadFn: func(ctx context.Context, accountID string) (map[model.Field]string, error) {
			return map[model.Field]string{
				model.FieldName:    "山田太郎",
				model.FieldEmail:   "taro@example.com",
				model.FieldAddress: "東京都千代田区1-1", // 要求外
				model.FieldPhone:   "090-0000-0000",  // 要求外
			}, nil
		},
	}

	svc := newTestService(repo, nil, profiles)
	svc.now = func() time.Time { return now }

	disclosed, err := svc.Resolve(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(disclosed) != 2 {
		t.Fatalf("len(disclosed) = %d, want 2", len(disclosed))
	}
	if disclosed[model.FieldName] != "山田太郎" {
		t.Errorf("name = %q", disclosed[model.FieldName])
	}
	if _, ok := disclosed[model.FieldAddress]; ok {
		t.Error("address disclosed despite not being required")
	}
}

func TestService_Resolve_ConsumesOnceConsent(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := &mockSessionRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.ViewerSession, error) {
			return activeSession(now, model.FieldName), nil
		},
	}
	consumed := false
	consents := &mockConsentResolver{
		findFn: func(ctx context.Context, delegateUID, mallID string) (*model.ConsentRecord, error) {
			return &model.ConsentRecord{
				AccountID: "acc-1", MallID: mallID,
				ConsentType: model.ConsentTypeOnce, IsActive: true,
			}, nil
		},
		consumeFn: func(ctx context.Context, record *model.ConsentRecord) error {
			consumed = true
			return nil
		},
	}

	svc := newTestService(repo, consents, nil)
	svc.now = func() time.Time { return now }

	if _, err := svc.Resolve(context.Background(), "sess-1"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !consumed {
		t.Error("once consent not consumed on first resolve")
	}
}

func TestService_Resolve_ConsumeFailureTakesPrecedence(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := &mockSessionRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.ViewerSession, error) {
			return activeSession(now, model.FieldName), nil
		},
	}
	consents := &mockConsentResolver{
		consumeFn: func(ctx context.Context, record *model.ConsentRecord) error {
			return errors.New("db write failed")
		},
	}

	svc := newTestService(repo, consents, nil)
	svc.now = func() time.Time { return now }

	if _, err := svc.Resolve(context.Background(), "sess-1"); err == nil {
		t.Error("Resolve succeeded despite consume failure")
	}
}

func TestService_Resolve_ExpiredSession(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := &mockSessionRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.ViewerSession, error) {
			s := activeSession(now, model.FieldName)
			s.ExpiresAt = now.Add(-time.Second)
			return s, nil
		},
	}
	svc := newTestService(repo, nil, nil)
	svc.now = func() time.Time { return now }

	_, err := svc.Resolve(context.Background(), "sess-1")
	assertErrorCode(t, err, model.ErrCodeSessionExpired)
}

func TestService_Resolve_PropagatesIntegrityViolation(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := &mockSessionRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.ViewerSession, error) {
			return activeSession(now, model.FieldName), nil
		},
	}
	profiles := &mockProfileLoader{
		loadFn: func(ctx context.Context, accountID string) (map[model.Field]string, error) {
			return nil, model.NewIntegrityViolationError()
		},
	}

	svc := newTestService(repo, nil, profiles)
	svc.now = func() time.Time { return now }

	_, err := svc.Resolve(context.Background(), "sess-1")
	assertErrorCode(t, err, model.ErrCodeIntegrityViolation)
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
