package handler

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/kaisho/internal/middleware"
	"github.com/hitoshi/kaisho/internal/model"
	"github.com/hitoshi/kaisho/internal/token"
)

// --- モック定義 ---

type mockTokenService struct {
	issueFn     func(ctx context.Context, delegateUID, mallID string, fields []model.Field) (*token.IssueResult, error)
	publicKeyFn func() ed25519.PublicKey
}

func (m *mockTokenService) Issue(ctx context.Context, delegateUID, mallID string, fields []model.Field) (*token.IssueResult, error) {
	if m.issueFn != nil {
		return m.issueFn(ctx, delegateUID, mallID, fields)
	}
	return &token.IssueResult{Token: "jwt", ExpiresIn: time.Minute}, nil
}

func (m *mockTokenService) PublicKey() ed25519.PublicKey {
	if m.publicKeyFn != nil {
		return m.publicKeyFn()
	}
	return make(ed25519.PublicKey, ed25519.PublicKeySize)
}

type mockTokenMetrics struct {
	issued   []string
	rejected []string
}

func (m *mockTokenMetrics) RecordTokenIssued(mallID string)   { m.issued = append(m.issued, mallID) }
func (m *mockTokenMetrics) RecordTokenRejected(reason string) { m.rejected = append(m.rejected, reason) }

func mallRequest(t *testing.T, mallID string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/token", bytes.NewReader(data))
	ctx := middleware.ContextWithMall(req.Context(), &model.Mall{
		ID:       mallID,
		IsActive: true,
		AllowedFields: []model.Field{
			model.FieldName, model.FieldEmail, model.FieldAddress,
		},
	})
	return req.WithContext(ctx)
}

// --- POST /token テスト ---

func TestTokenHandler_Issue_Success(t *testing.T) {
	svc := &mockTokenService{
		issueFn: func(ctx context.Context, delegateUID, mallID string, fields []model.Field) (*token.IssueResult, error) {
			if delegateUID != "mall-a-uid" {
				t.Errorf("delegateUID = %q", delegateUID)
			}
			if mallID != "mall-a" {
				t.Errorf("mallID = %q", mallID)
			}
			return &token.IssueResult{Token: "signed-jwt", ExpiresIn: 15 * time.Minute}, nil
		},
	}
	metrics := &mockTokenMetrics{}
	h := NewTokenHandler(svc, metrics)

	req := mallRequest(t, "mall-a", tokenRequest{
		DelegateUID: "mall-a-uid",
		MallID:      "mall-a",
		Fields:      []string{"name", "email"},
	})
	rec := httptest.NewRecorder()
	h.Issue(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp tokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Token != "signed-jwt" {
		t.Errorf("token = %q", resp.Token)
	}
	if resp.ExpiresIn != 900 {
		t.Errorf("expiresIn = %d, want 900", resp.ExpiresIn)
	}
	if len(metrics.issued) != 1 {
		t.Errorf("issued metrics = %d, want 1", len(metrics.issued))
	}
}

func TestTokenHandler_Issue_MallMismatch(t *testing.T) {
	h := NewTokenHandler(&mockTokenService{}, nil)

	req := mallRequest(t, "mall-a", tokenRequest{
		DelegateUID: "mall-b-uid",
		MallID:      "mall-b",
		Fields:      []string{"name"},
	})
	rec := httptest.NewRecorder()
	h.Issue(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestTokenHandler_Issue_NoAuthenticatedMall(t *testing.T) {
	h := NewTokenHandler(&mockTokenService{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/token", bytes.NewReader([]byte("{}")))
	rec := httptest.NewRecorder()
	h.Issue(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestTokenHandler_Issue_FieldOutsideMallAllowList(t *testing.T) {
	svc := &mockTokenService{
		issueFn: func(ctx context.Context, delegateUID, mallID string, fields []model.Field) (*token.IssueResult, error) {
			t.Error("サービスが呼ばれてはならない")
			return nil, nil
		},
	}
	h := NewTokenHandler(svc, nil)

	// birth_dateは加盟店の許可フィールド集合に含まれない
	req := mallRequest(t, "mall-a", tokenRequest{
		DelegateUID: "uid", MallID: "mall-a", Fields: []string{"name", "birth_date"},
	})
	rec := httptest.NewRecorder()
	h.Issue(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	var errResp apiErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if errResp.Code != model.ErrCodeFieldNotGranted {
		t.Errorf("code = %q, want %q", errResp.Code, model.ErrCodeFieldNotGranted)
	}
}

func TestTokenHandler_Issue_UnknownField(t *testing.T) {
	h := NewTokenHandler(&mockTokenService{}, nil)

	req := mallRequest(t, "mall-a", tokenRequest{
		DelegateUID: "uid", MallID: "mall-a", Fields: []string{"credit_card"},
	})
	rec := httptest.NewRecorder()
	h.Issue(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestTokenHandler_Issue_ConsentErrorMapsToForbidden(t *testing.T) {
	svc := &mockTokenService{
		issueFn: func(ctx context.Context, delegateUID, mallID string, fields []model.Field) (*token.IssueResult, error) {
			return nil, model.NewFieldNotGrantedError(model.FieldAddress)
		},
	}
	metrics := &mockTokenMetrics{}
	h := NewTokenHandler(svc, metrics)

	req := mallRequest(t, "mall-a", tokenRequest{
		DelegateUID: "uid", MallID: "mall-a", Fields: []string{"address"},
	})
	rec := httptest.NewRecorder()
	h.Issue(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	if len(metrics.rejected) != 1 || metrics.rejected[0] != model.ErrCodeFieldNotGranted {
		t.Errorf("rejected metrics = %v", metrics.rejected)
	}
}

func TestTokenHandler_Issue_MissingFields(t *testing.T) {
	h := NewTokenHandler(&mockTokenService{}, nil)

	req := mallRequest(t, "mall-a", tokenRequest{MallID: "mall-a"})
	rec := httptest.NewRecorder()
	h.Issue(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

// --- GET /token/key テスト ---

func TestTokenHandler_PublicKey(t *testing.T) {
	h := NewTokenHandler(&mockTokenService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/token/key", nil)
	rec := httptest.NewRecorder()
	h.PublicKey(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp publicKeyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Algorithm != "EdDSA" {
		t.Errorf("algorithm = %q, want EdDSA", resp.Algorithm)
	}
	if resp.PublicKey == "" {
		t.Error("publicKey is empty")
	}
}
