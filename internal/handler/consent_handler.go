package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/kaisho/internal/consent"
	"github.com/hitoshi/kaisho/internal/middleware"
	"github.com/hitoshi/kaisho/internal/model"
	"github.com/hitoshi/kaisho/internal/repository"
)

// ConsentServiceInterface は同意ハンドラーが必要とするサービスインターフェース。
type ConsentServiceInterface interface {
	Grant(ctx context.Context, accountID, mallID, shopUserID string, fields []model.Field, consentType model.ConsentType) (string, error)
	Revoke(ctx context.Context, accountID, mallID string) error
	List(ctx context.Context, accountID string) ([]consent.ConsentView, error)
}

// ConsentHandler は同意台帳のHTTPハンドラー。アカウント認証必須。
type ConsentHandler struct {
	service  ConsentServiceInterface
	mallRepo repository.MallRepository
}

// NewConsentHandler はConsentHandlerを生成する。
func NewConsentHandler(service ConsentServiceInterface, mallRepo repository.MallRepository) *ConsentHandler {
	return &ConsentHandler{service: service, mallRepo: mallRepo}
}

// grantRequest は同意付与リクエストのボディ。
// ReturnURLは同意完了後に加盟店へ戻るリダイレクト先で、
// 加盟店の許可ドメインリストに完全一致するホストのみ受け付ける。
type grantRequest struct {
	MallID      string   `json:"mallId"`
	ShopUserID  string   `json:"shopUserId"`
	Fields      []string `json:"fields"`
	ConsentType string   `json:"consentType"`
	ReturnURL   string   `json:"returnUrl,omitempty"`
}

// grantResponse は同意付与レスポンス。
type grantResponse struct {
	DelegateUID string `json:"delegateUid"`
	ReturnURL   string `json:"returnUrl,omitempty"`
}

// Grant は認証済みアカウントから加盟店への同意を記録し、仮名を返す。
// POST /consents
func (h *ConsentHandler) Grant(w http.ResponseWriter, r *http.Request) {
	accountID, err := middleware.AccountIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w, "リクエストボディの解析に失敗しました。")
		return
	}
	if req.MallID == "" || req.ShopUserID == "" || len(req.Fields) == 0 {
		writeInvalidRequest(w, "mallId、shopUserId、fieldsは必須です。")
		return
	}

	consentType := model.ConsentType(req.ConsentType)
	if consentType != model.ConsentTypeOnce && consentType != model.ConsentTypeAlways {
		writeInvalidRequest(w, "consentTypeはonceまたはalwaysを指定してください。")
		return
	}

	// リダイレクト先はオープンリダイレクト防止のため許可ドメインに限定する
	if req.ReturnURL != "" {
		if err := h.validateReturnURL(r.Context(), req.MallID, req.ReturnURL); err != nil {
			handleServiceError(w, err)
			return
		}
	}

	delegateUID, err := h.service.Grant(
		r.Context(), accountID, req.MallID, req.ShopUserID,
		model.FieldsFromStrings(req.Fields), consentType,
	)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, grantResponse{
		DelegateUID: delegateUID,
		ReturnURL:   req.ReturnURL,
	})
}

// Revoke は認証済みアカウントの同意を取り消す。
// DELETE /consents/{mallId}
func (h *ConsentHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	accountID, err := middleware.AccountIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	mallID := chi.URLParam(r, "mallId")
	if mallID == "" {
		writeInvalidRequest(w, "mallIdが指定されていません。")
		return
	}

	if err := h.service.Revoke(r.Context(), accountID, mallID); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// consentItemResponse は同意一覧の1件分。
type consentItemResponse struct {
	MallID      string   `json:"mallId"`
	DelegateUID string   `json:"delegateUid"`
	ConsentType string   `json:"consentType"`
	Fields      []string `json:"fields"`
	Status      string   `json:"status"`
	CreatedAt   string   `json:"createdAt"`
	ExpiresAt   string   `json:"expiresAt,omitempty"`
}

// consentListResponse は同意一覧レスポンス。
type consentListResponse struct {
	Consents []consentItemResponse `json:"consents"`
}

// List は認証済みアカウントの全同意を導出ステータス付きで返す。
// GET /consents
func (h *ConsentHandler) List(w http.ResponseWriter, r *http.Request) {
	accountID, err := middleware.AccountIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	views, err := h.service.List(r.Context(), accountID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	items := make([]consentItemResponse, 0, len(views))
	for _, v := range views {
		item := consentItemResponse{
			MallID:      v.Record.MallID,
			DelegateUID: v.Record.DelegateUID,
			ConsentType: string(v.Record.ConsentType),
			Fields:      model.FieldStrings(v.Record.GrantedFields),
			Status:      string(v.Status),
			CreatedAt:   v.Record.CreatedAt.UTC().Format(time.RFC3339),
		}
		if v.Record.ExpiresAt != nil {
			item.ExpiresAt = v.Record.ExpiresAt.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, consentListResponse{Consents: items})
}

// validateReturnURL はリダイレクト先URLが加盟店の許可ドメインに含まれるかを検証する。
func (h *ConsentHandler) validateReturnURL(ctx context.Context, mallID, returnURL string) error {
	mall, err := h.mallRepo.FindByID(ctx, mallID)
	if err != nil {
		return err
	}
	if mall == nil {
		return model.NewMallNotFoundError(mallID)
	}

	parsed, err := url.Parse(returnURL)
	if err != nil || parsed.Scheme != "https" || parsed.Hostname() == "" {
		return model.NewDomainNotAllowedError(returnURL)
	}
	if !mall.IsAllowedDomain(parsed.Hostname()) {
		return model.NewDomainNotAllowedError(parsed.Hostname())
	}
	return nil
}
