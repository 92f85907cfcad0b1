package handler

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/kaisho/internal/middleware"
	"github.com/hitoshi/kaisho/internal/model"
	"github.com/hitoshi/kaisho/internal/token"
)

// TokenServiceInterface はトークンハンドラーが必要とするサービスインターフェース。
type TokenServiceInterface interface {
	// Issue は委任トークンを発行する。
	Issue(ctx context.Context, delegateUID, mallID string, fields []model.Field) (*token.IssueResult, error)
	// PublicKey は検証用公開鍵を返す。
	PublicKey() ed25519.PublicKey
}

// TokenMetrics はトークン発行のメトリクス記録インターフェース。
type TokenMetrics interface {
	RecordTokenIssued(mallID string)
	RecordTokenRejected(reason string)
}

// TokenHandler は委任トークン発行のHTTPハンドラー。
type TokenHandler struct {
	service TokenServiceInterface
	metrics TokenMetrics
}

// NewTokenHandler はTokenHandlerを生成する。
func NewTokenHandler(service TokenServiceInterface, metrics TokenMetrics) *TokenHandler {
	return &TokenHandler{service: service, metrics: metrics}
}

// tokenRequest はトークン発行リクエストのボディ。
type tokenRequest struct {
	DelegateUID string   `json:"delegateUid"`
	MallID      string   `json:"mallId"`
	Fields      []string `json:"fields"`
}

// tokenResponse はトークン発行レスポンス。
type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"` // 秒
}

// Issue は委任トークンを発行する。
// POST /token（APIキー認証必須）
func (h *TokenHandler) Issue(w http.ResponseWriter, r *http.Request) {
	mall, err := middleware.MallFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w, "リクエストボディの解析に失敗しました。")
		return
	}
	if req.DelegateUID == "" || req.MallID == "" || len(req.Fields) == 0 {
		writeInvalidRequest(w, "delegateUid、mallId、fieldsは必須です。")
		return
	}

	// 認証済み加盟店と要求加盟店の一致を強制する
	if req.MallID != mall.ID {
		writeAPIErrorResponse(w, http.StatusForbidden, &model.APIError{
			Code:     "MALL_MISMATCH",
			Message:  "APIキーと異なる加盟店のトークンは発行できません。",
			Category: "auth",
			Action:   "自店のmallIdを指定してください。",
		})
		return
	}

	fields := model.FieldsFromStrings(req.Fields)
	if f, ok := model.ValidateFields(fields); !ok {
		handleServiceError(w, model.NewUnknownFieldError(f))
		return
	}
	// 同意範囲の検証とは独立に、加盟店自身の許可フィールド集合も強制する
	if f, ok := model.FieldsSubset(fields, mall.AllowedFields); !ok {
		handleServiceError(w, model.NewFieldNotGrantedError(f))
		return
	}

	result, err := h.service.Issue(r.Context(), req.DelegateUID, req.MallID, fields)
	if err != nil {
		if h.metrics != nil {
			var apiErr *model.APIError
			if errors.As(err, &apiErr) {
				h.metrics.RecordTokenRejected(apiErr.Code)
			}
		}
		handleServiceError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordTokenIssued(mall.ID)
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     result.Token,
		ExpiresIn: int64(result.ExpiresIn.Seconds()),
	})
}

// publicKeyResponse は検証鍵レスポンス。
type publicKeyResponse struct {
	Algorithm string `json:"algorithm"`
	PublicKey string `json:"publicKey"` // base64
}

// PublicKey はトークン検証用の公開鍵を返す。
// 加盟店バックエンドはこの鍵でブローカーへの問い合わせ前に自己検証できる。
// GET /token/key（APIキー認証必須）
func (h *TokenHandler) PublicKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, publicKeyResponse{
		Algorithm: "EdDSA",
		PublicKey: base64.StdEncoding.EncodeToString(h.service.PublicKey()),
	})
}
