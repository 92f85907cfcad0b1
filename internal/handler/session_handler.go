package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/kaisho/internal/model"
	"github.com/hitoshi/kaisho/internal/token"
)

// TokenVerifier は委任トークンの検証インターフェース。
type TokenVerifier interface {
	Verify(tokenString string) (*token.VerifiedToken, error)
}

// SessionServiceInterface はセッションハンドラーが必要とするサービスインターフェース。
type SessionServiceInterface interface {
	CreateOrReuse(ctx context.Context, shopID, mallID string, requiredFields []model.Field, viewerType model.ViewerType) (*model.ViewerSession, bool, error)
	Extend(ctx context.Context, sessionID string) (*model.ViewerSession, error)
	Resolve(ctx context.Context, sessionID string) (map[model.Field]string, error)
}

// SessionMetrics はセッション操作のメトリクス記録インターフェース。
type SessionMetrics interface {
	RecordSessionCreated(viewerType string)
	RecordSessionReused(viewerType string)
	RecordSessionExtended()
	RecordResolveSuccess()
	RecordResolveFailure(reason string)
	RecordIntegrityViolation()
}

// SessionHandler はビューワーセッションのHTTPハンドラー。
type SessionHandler struct {
	verifier TokenVerifier
	service  SessionServiceInterface
	metrics  SessionMetrics
	baseURL  string
}

// NewSessionHandler はSessionHandlerを生成する。
// baseURLはビューワーURL組み立てに使う外部公開URL（末尾スラッシュなし）。
func NewSessionHandler(verifier TokenVerifier, service SessionServiceInterface, metrics SessionMetrics, baseURL string) *SessionHandler {
	return &SessionHandler{
		verifier: verifier,
		service:  service,
		metrics:  metrics,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

// sessionRequest はセッション作成リクエストのボディ。
type sessionRequest struct {
	RequiredFields []string `json:"requiredFields"`
	ViewerType     string   `json:"viewerType"`
}

// sessionResponse はセッション作成・延長レスポンス。
type sessionResponse struct {
	SessionID           string   `json:"sessionId"`
	ViewerURL           string   `json:"viewerUrl,omitempty"`
	ViewerType          string   `json:"viewerType"`
	RequiredFields      []string `json:"requiredFields"`
	ExpiresAt           string   `json:"expiresAt"`
	RemainingExtensions int      `json:"remainingExtensions"`
}

// Create は委任トークンからビューワーセッションを作成する。
// Authorizationヘッダーの委任トークンを検証し、requiredFieldsが
// トークンのfieldsの部分集合であることを強制する。
// POST /session
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	raw, ok := bearerFromRequest(r)
	if !ok {
		writeUnauthorized(w)
		return
	}

	verified, err := h.verifier.Verify(raw)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w, "リクエストボディの解析に失敗しました。")
		return
	}
	if len(req.RequiredFields) == 0 || req.ViewerType == "" {
		writeInvalidRequest(w, "requiredFieldsとviewerTypeは必須です。")
		return
	}

	requiredFields := model.FieldsFromStrings(req.RequiredFields)
	if f, ok := model.ValidateFields(requiredFields); !ok {
		handleServiceError(w, model.NewUnknownFieldError(f))
		return
	}

	// セッションの範囲はトークンの範囲を超えられない
	if f, ok := model.FieldsSubset(requiredFields, verified.Fields); !ok {
		handleServiceError(w, model.NewFieldNotGrantedError(f))
		return
	}

	session, reused, err := h.service.CreateOrReuse(
		r.Context(), verified.ShopID, verified.MallID,
		requiredFields, model.ViewerType(req.ViewerType),
	)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if h.metrics != nil {
		if reused {
			h.metrics.RecordSessionReused(string(session.ViewerType))
		} else {
			h.metrics.RecordSessionCreated(string(session.ViewerType))
		}
	}

	status := http.StatusCreated
	if reused {
		status = http.StatusOK
	}
	writeJSON(w, status, h.toResponse(session, true))
}

// Extend はセッションの期限を1回分延長する。
// POST /session/{id}/extend
func (h *SessionHandler) Extend(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		writeInvalidRequest(w, "セッションIDが指定されていません。")
		return
	}

	session, err := h.service.Extend(r.Context(), sessionID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordSessionExtended()
	}
	writeJSON(w, http.StatusOK, h.toResponse(session, false))
}

// resolveResponse は開示内容レスポンス。
type resolveResponse struct {
	Fields map[string]string `json:"fields"`
}

// Resolve はセッションが要求するフィールドの開示内容を返す。
// GET /session/{id}/resolve
func (h *SessionHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		writeInvalidRequest(w, "セッションIDが指定されていません。")
		return
	}

	disclosed, err := h.service.Resolve(r.Context(), sessionID)
	if err != nil {
		if h.metrics != nil {
			code := errorCode(err)
			h.metrics.RecordResolveFailure(code)
			if code == model.ErrCodeIntegrityViolation {
				h.metrics.RecordIntegrityViolation()
			}
		}
		handleServiceError(w, err)
		return
	}

	fields := make(map[string]string, len(disclosed))
	for f, v := range disclosed {
		fields[string(f)] = v
	}

	if h.metrics != nil {
		h.metrics.RecordResolveSuccess()
	}
	writeJSON(w, http.StatusOK, resolveResponse{Fields: fields})
}

// toResponse はセッションをレスポンス形式へ変換する。
func (h *SessionHandler) toResponse(session *model.ViewerSession, withURL bool) sessionResponse {
	resp := sessionResponse{
		SessionID:           session.ID,
		ViewerType:          string(session.ViewerType),
		RequiredFields:      model.FieldStrings(session.RequiredFields),
		ExpiresAt:           session.ExpiresAt.UTC().Format(time.RFC3339),
		RemainingExtensions: session.RemainingExtensions(),
	}
	if withURL {
		resp.ViewerURL = h.baseURL + "/viewer/" + session.ID
	}
	return resp
}

// bearerFromRequest はAuthorizationヘッダーからBearerトークンを取り出す。
func bearerFromRequest(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	token := strings.TrimSpace(auth[len(prefix):])
	return token, token != ""
}

// errorCode はAPIErrorのコードを取り出す。変換できない場合は"internal"を返す。
func errorCode(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return "internal"
}
