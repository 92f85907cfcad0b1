package handler

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/kaisho/internal/middleware"
	"github.com/hitoshi/kaisho/internal/model"
	"github.com/hitoshi/kaisho/internal/repository"
	"github.com/hitoshi/kaisho/internal/security"
)

// apiKeyBytes は生成するAPIキーのバイト長。
const apiKeyBytes = 32

// defaultAPIKeyValidity はAPIキーの既定有効期間。
const defaultAPIKeyValidity = 365 * 24 * time.Hour

// mallIDPattern は加盟店IDのスラグ形式。
var mallIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}[a-z0-9]$`)

// AdminHandler は加盟店登録・更新の管理用HTTPハンドラー。
// 共有管理トークンによる認証を前提とする。
type AdminHandler struct {
	mallRepo  repository.MallRepository
	ssrfGuard security.SSRFGuardService
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(mallRepo repository.MallRepository, ssrfGuard security.SSRFGuardService) *AdminHandler {
	return &AdminHandler{mallRepo: mallRepo, ssrfGuard: ssrfGuard}
}

// createMallRequest は加盟店作成リクエストのボディ。
type createMallRequest struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	AllowedFields  []string `json:"allowedFields"`
	AllowedDomains []string `json:"allowedDomains"`
	NotifyURL      string   `json:"notifyUrl,omitempty"`
}

// createMallResponse は加盟店作成レスポンス。
// APIKeyは生成時の一度だけ平文で返す。以後はハッシュのみ保持する。
type createMallResponse struct {
	ID           string `json:"id"`
	APIKey       string `json:"apiKey"`
	APIKeyExpiry string `json:"apiKeyExpiry"`
}

// CreateMall は加盟店を登録し、生成したAPIキーを返す。
// POST /admin/malls
func (h *AdminHandler) CreateMall(w http.ResponseWriter, r *http.Request) {
	var req createMallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w, "リクエストボディの解析に失敗しました。")
		return
	}
	if req.Name == "" || len(req.AllowedFields) == 0 {
		writeInvalidRequest(w, "nameとallowedFieldsは必須です。")
		return
	}
	if !mallIDPattern.MatchString(req.ID) {
		writeInvalidRequest(w, "idは小文字英数字とハイフンのスラグ形式で指定してください。")
		return
	}

	allowedFields := model.FieldsFromStrings(req.AllowedFields)
	if f, ok := model.ValidateFields(allowedFields); !ok {
		handleServiceError(w, model.NewUnknownFieldError(f))
		return
	}

	if req.NotifyURL != "" {
		if err := h.ssrfGuard.ValidateURL(req.NotifyURL); err != nil {
			writeInvalidRequest(w, "notifyUrlが不正です。")
			return
		}
	}

	existing, err := h.mallRepo.FindByID(r.Context(), req.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if existing != nil {
		writeInvalidRequest(w, "同じidの加盟店が既に存在します。")
		return
	}

	apiKey, err := generateAPIKey()
	if err != nil {
		handleServiceError(w, err)
		return
	}

	now := time.Now()
	mall := &model.Mall{
		ID:             req.ID,
		Name:           req.Name,
		AllowedFields:  model.SortedFields(allowedFields),
		AllowedDomains: req.AllowedDomains,
		NotifyURL:      req.NotifyURL,
		APIKeyHash:     middleware.HashAPIKey(apiKey),
		APIKeyExpiry:   now.Add(defaultAPIKeyValidity),
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := h.mallRepo.Create(r.Context(), mall); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createMallResponse{
		ID:           mall.ID,
		APIKey:       apiKey,
		APIKeyExpiry: mall.APIKeyExpiry.UTC().Format(time.RFC3339),
	})
}

// updateMallRequest は加盟店更新リクエストのボディ。
// nilのフィールドは変更しない。IDは変更できない。
type updateMallRequest struct {
	Name           *string   `json:"name,omitempty"`
	AllowedFields  *[]string `json:"allowedFields,omitempty"`
	AllowedDomains *[]string `json:"allowedDomains,omitempty"`
	NotifyURL      *string   `json:"notifyUrl,omitempty"`
	IsActive       *bool     `json:"isActive,omitempty"`
	RotateAPIKey   bool      `json:"rotateApiKey,omitempty"`
}

// updateMallResponse は加盟店更新レスポンス。
// APIキーをローテーションした場合のみAPIKeyを含む。
type updateMallResponse struct {
	ID           string `json:"id"`
	APIKey       string `json:"apiKey,omitempty"`
	APIKeyExpiry string `json:"apiKeyExpiry,omitempty"`
}

// UpdateMall は加盟店の可変属性を更新する。
// PATCH /admin/malls/{id}
func (h *AdminHandler) UpdateMall(w http.ResponseWriter, r *http.Request) {
	mallID := chi.URLParam(r, "id")
	if mallID == "" {
		writeInvalidRequest(w, "加盟店IDが指定されていません。")
		return
	}

	mall, err := h.mallRepo.FindByID(r.Context(), mallID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if mall == nil {
		handleServiceError(w, model.NewMallNotFoundError(mallID))
		return
	}

	var req updateMallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w, "リクエストボディの解析に失敗しました。")
		return
	}

	if req.Name != nil {
		mall.Name = *req.Name
	}
	if req.AllowedFields != nil {
		fields := model.FieldsFromStrings(*req.AllowedFields)
		if f, ok := model.ValidateFields(fields); !ok {
			handleServiceError(w, model.NewUnknownFieldError(f))
			return
		}
		mall.AllowedFields = model.SortedFields(fields)
	}
	if req.AllowedDomains != nil {
		mall.AllowedDomains = *req.AllowedDomains
	}
	if req.NotifyURL != nil {
		if *req.NotifyURL != "" {
			if err := h.ssrfGuard.ValidateURL(*req.NotifyURL); err != nil {
				writeInvalidRequest(w, "notifyUrlが不正です。")
				return
			}
		}
		mall.NotifyURL = *req.NotifyURL
	}
	if req.IsActive != nil {
		mall.IsActive = *req.IsActive
	}

	resp := updateMallResponse{ID: mall.ID}
	if req.RotateAPIKey {
		apiKey, err := generateAPIKey()
		if err != nil {
			handleServiceError(w, err)
			return
		}
		mall.APIKeyHash = middleware.HashAPIKey(apiKey)
		mall.APIKeyExpiry = time.Now().Add(defaultAPIKeyValidity)
		resp.APIKey = apiKey
		resp.APIKeyExpiry = mall.APIKeyExpiry.UTC().Format(time.RFC3339)
	}

	mall.UpdatedAt = time.Now()
	if err := h.mallRepo.Update(r.Context(), mall); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// generateAPIKey は暗号論的乱数からAPIキーを生成する。
func generateAPIKey() (string, error) {
	buf := make([]byte, apiKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
