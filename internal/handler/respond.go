// Package handler はHTTP APIのハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/kaisho/internal/model"
)

// apiErrorResponse はAPIエラーレスポンスのボディ。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeJSON(w, statusCode, apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// writeInvalidRequest はリクエストボディ不正の統一レスポンスを書き込む。
func writeInvalidRequest(w http.ResponseWriter, message string) {
	writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  message,
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	})
}

// writeUnauthorized は認証エラーの統一レスポンスを書き込む。
func writeUnauthorized(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusUnauthorized, &model.APIError{
		Code:     "UNAUTHORIZED",
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "認証情報を確認してください。",
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnknownField, model.ErrCodeInvalidViewerType,
		model.ErrCodeDomainNotAllowed, model.ErrCodeNotExtensible:
		return http.StatusBadRequest
	case model.ErrCodeTokenExpired, model.ErrCodeTokenInvalidSig,
		model.ErrCodeMallInactive:
		return http.StatusUnauthorized
	case model.ErrCodeFieldNotGranted, model.ErrCodeConsentNotFound,
		model.ErrCodeConsentExpired, model.ErrCodeConsentConsumed:
		return http.StatusForbidden
	case model.ErrCodeMallNotFound, model.ErrCodeSessionNotFound,
		model.ErrCodeProfileNotFound:
		return http.StatusNotFound
	case model.ErrCodeExtensionExhausted:
		return http.StatusConflict
	case model.ErrCodeSessionExpired:
		return http.StatusGone
	case model.ErrCodeCodeNotFound, model.ErrCodeCodeExpired, model.ErrCodeCodeMismatch:
		return http.StatusBadRequest
	case model.ErrCodeIntegrityViolation:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
