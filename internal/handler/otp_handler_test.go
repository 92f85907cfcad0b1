package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/kaisho/internal/model"
)

// --- モック定義 ---

type mockOtpService struct {
	issueFn  func(ctx context.Context, email string) error
	verifyFn func(ctx context.Context, email, inputCode string) error
}

func (m *mockOtpService) Issue(ctx context.Context, email string) error {
	return m.issueFn(ctx, email)
}

func (m *mockOtpService) Verify(ctx context.Context, email, inputCode string) error {
	return m.verifyFn(ctx, email, inputCode)
}

type mockOtpMetrics struct {
	issued   int
	verified []string
}

func (m *mockOtpMetrics) RecordOtpIssued() { m.issued++ }
func (m *mockOtpMetrics) RecordOtpVerified(outcome string) {
	m.verified = append(m.verified, outcome)
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return httptest.NewRequest(method, target, bytes.NewReader(data))
}

// --- POST /otp テスト ---

func TestOtpHandler_Issue_Success(t *testing.T) {
	svc := &mockOtpService{
		issueFn: func(ctx context.Context, email string) error {
			if email != "taro@example.com" {
				t.Errorf("email = %q", email)
			}
			return nil
		},
	}
	metrics := &mockOtpMetrics{}
	h := NewOtpHandler(svc, metrics)

	req := jsonRequest(t, http.MethodPost, "/otp", otpIssueRequest{Email: "taro@example.com"})
	rec := httptest.NewRecorder()
	h.Issue(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204: %s", rec.Code, rec.Body.String())
	}
	// コードをレスポンスに含めない
	if rec.Body.Len() != 0 {
		t.Errorf("body should be empty, got %q", rec.Body.String())
	}
	if metrics.issued != 1 {
		t.Errorf("issued metrics = %d", metrics.issued)
	}
}

func TestOtpHandler_Issue_InvalidEmail(t *testing.T) {
	tests := []struct {
		name  string
		email string
	}{
		{name: "空文字", email: ""},
		{name: "アットマークなし", email: "taro.example.com"},
		{name: "ローカル部なし", email: "@example.com"},
		{name: "ドメインなし", email: "taro@"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewOtpHandler(&mockOtpService{}, nil)

			req := jsonRequest(t, http.MethodPost, "/otp", otpIssueRequest{Email: tt.email})
			rec := httptest.NewRecorder()
			h.Issue(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

// --- POST /otp/verify テスト ---

func TestOtpHandler_Verify_Success(t *testing.T) {
	svc := &mockOtpService{
		verifyFn: func(ctx context.Context, email, inputCode string) error {
			if email != "taro@example.com" || inputCode != "123456" {
				t.Errorf("email = %q, code = %q", email, inputCode)
			}
			return nil
		},
	}
	metrics := &mockOtpMetrics{}
	h := NewOtpHandler(svc, metrics)

	req := jsonRequest(t, http.MethodPost, "/otp/verify", otpVerifyRequest{
		Email: "taro@example.com", Code: "123456",
	})
	rec := httptest.NewRecorder()
	h.Verify(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp otpVerifyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !resp.Verified {
		t.Error("verified = false, want true")
	}
	if len(metrics.verified) != 1 || metrics.verified[0] != "success" {
		t.Errorf("verified metrics = %v", metrics.verified)
	}
}

func TestOtpHandler_Verify_Mismatch(t *testing.T) {
	svc := &mockOtpService{
		verifyFn: func(ctx context.Context, email, inputCode string) error {
			return model.NewCodeMismatchError()
		},
	}
	metrics := &mockOtpMetrics{}
	h := NewOtpHandler(svc, metrics)

	req := jsonRequest(t, http.MethodPost, "/otp/verify", otpVerifyRequest{
		Email: "taro@example.com", Code: "000000",
	})
	rec := httptest.NewRecorder()
	h.Verify(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if len(metrics.verified) != 1 || metrics.verified[0] != model.ErrCodeCodeMismatch {
		t.Errorf("verified metrics = %v", metrics.verified)
	}
}

func TestOtpHandler_Verify_MissingCode(t *testing.T) {
	h := NewOtpHandler(&mockOtpService{}, nil)

	req := jsonRequest(t, http.MethodPost, "/otp/verify", otpVerifyRequest{Email: "taro@example.com"})
	rec := httptest.NewRecorder()
	h.Verify(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
