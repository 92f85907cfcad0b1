package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// OtpServiceInterface はOTPハンドラーが必要とするサービスインターフェース。
type OtpServiceInterface interface {
	Issue(ctx context.Context, email string) error
	Verify(ctx context.Context, email, inputCode string) error
}

// OtpMetrics はOTP操作のメトリクス記録インターフェース。
type OtpMetrics interface {
	RecordOtpIssued()
	RecordOtpVerified(outcome string)
}

// OtpHandler はメールアドレス確認コードのHTTPハンドラー。
type OtpHandler struct {
	service OtpServiceInterface
	metrics OtpMetrics
}

// NewOtpHandler はOtpHandlerを生成する。
func NewOtpHandler(service OtpServiceInterface, metrics OtpMetrics) *OtpHandler {
	return &OtpHandler{service: service, metrics: metrics}
}

// otpIssueRequest はコード発行リクエストのボディ。
type otpIssueRequest struct {
	Email string `json:"email"`
}

// Issue は確認コードを発行してメールアドレス宛に送信する。
// 成功時はボディなしの204を返す（コードはレスポンスに決して含めない）。
// POST /otp
func (h *OtpHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req otpIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w, "リクエストボディの解析に失敗しました。")
		return
	}
	if !isPlausibleEmail(req.Email) {
		writeInvalidRequest(w, "有効なメールアドレスを指定してください。")
		return
	}

	if err := h.service.Issue(r.Context(), req.Email); err != nil {
		handleServiceError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordOtpIssued()
	}
	w.WriteHeader(http.StatusNoContent)
}

// otpVerifyRequest はコード検証リクエストのボディ。
type otpVerifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// otpVerifyResponse はコード検証成功レスポンス。
type otpVerifyResponse struct {
	Verified bool `json:"verified"`
}

// Verify は入力された確認コードを検証する。
// 不一致の場合も記録は残り、有効期間内の再入力を許す。
// POST /otp/verify
func (h *OtpHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req otpVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w, "リクエストボディの解析に失敗しました。")
		return
	}
	if req.Email == "" || req.Code == "" {
		writeInvalidRequest(w, "emailとcodeは必須です。")
		return
	}

	if err := h.service.Verify(r.Context(), req.Email, req.Code); err != nil {
		if h.metrics != nil {
			h.metrics.RecordOtpVerified(errorCode(err))
		}
		handleServiceError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordOtpVerified("success")
	}
	writeJSON(w, http.StatusOK, otpVerifyResponse{Verified: true})
}

// isPlausibleEmail はメールアドレスの最低限の形式チェックを行う。
// 厳密なRFC準拠検証は行わず、実在性は確認コードの到達で検証する。
func isPlausibleEmail(email string) bool {
	email = strings.TrimSpace(email)
	at := strings.Index(email, "@")
	return at > 0 && at < len(email)-1
}
