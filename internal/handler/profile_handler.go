package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/kaisho/internal/middleware"
	"github.com/hitoshi/kaisho/internal/model"
)

// ProfileStoreInterface はプロファイルハンドラーが必要とするストアインターフェース。
type ProfileStoreInterface interface {
	Load(ctx context.Context, accountID string) (map[model.Field]string, error)
	Update(ctx context.Context, accountID string, partialFields map[model.Field]string) error
}

// ProfileHandler は暗号化プロファイルのHTTPハンドラー。アカウント認証必須。
// 本人による自分自身のプロファイルの読み書きのみを扱う。
type ProfileHandler struct {
	store ProfileStoreInterface
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(store ProfileStoreInterface) *ProfileHandler {
	return &ProfileHandler{store: store}
}

// profileResponse はプロファイル取得レスポンス。
type profileResponse struct {
	Fields map[string]string `json:"fields"`
}

// Get は認証済みアカウント自身のプロファイルを復号して返す。
// GET /profile
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	accountID, err := middleware.AccountIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	fields, err := h.store.Load(r.Context(), accountID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := profileResponse{Fields: make(map[string]string, len(fields))}
	for f, v := range fields {
		resp.Fields[string(f)] = v
	}
	writeJSON(w, http.StatusOK, resp)
}

// profileUpdateRequest はプロファイル更新リクエストのボディ。
type profileUpdateRequest struct {
	Fields map[string]string `json:"fields"`
}

// Put は認証済みアカウント自身のプロファイルを部分更新する。
// 含まれないフィールドは既存の値を維持する。
// PUT /profile
func (h *ProfileHandler) Put(w http.ResponseWriter, r *http.Request) {
	accountID, err := middleware.AccountIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req profileUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w, "リクエストボディの解析に失敗しました。")
		return
	}
	if len(req.Fields) == 0 {
		writeInvalidRequest(w, "fieldsは必須です。")
		return
	}

	partial := make(map[model.Field]string, len(req.Fields))
	for name, v := range req.Fields {
		f := model.Field(name)
		if !model.IsKnownField(f) {
			handleServiceError(w, model.NewUnknownFieldError(f))
			return
		}
		partial[f] = v
	}

	if err := h.store.Update(r.Context(), accountID, partial); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
