// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, consent, disclosure, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnknownField       = "UNKNOWN_FIELD"
	ErrCodeFieldNotGranted    = "FIELD_NOT_GRANTED"
	ErrCodeConsentNotFound    = "CONSENT_NOT_FOUND"
	ErrCodeConsentExpired     = "CONSENT_EXPIRED"
	ErrCodeConsentConsumed    = "CONSENT_CONSUMED"
	ErrCodeTokenExpired       = "TOKEN_EXPIRED"
	ErrCodeTokenInvalidSig    = "TOKEN_INVALID_SIGNATURE"
	ErrCodeSessionNotFound    = "SESSION_NOT_FOUND"
	ErrCodeSessionExpired     = "SESSION_EXPIRED"
	ErrCodeNotExtensible      = "NOT_EXTENSIBLE"
	ErrCodeExtensionExhausted = "EXTENSION_BUDGET_EXHAUSTED"
	ErrCodeIntegrityViolation = "INTEGRITY_VIOLATION"
	ErrCodeProfileNotFound    = "PROFILE_NOT_FOUND"
	ErrCodeCodeNotFound       = "CODE_NOT_FOUND"
	ErrCodeCodeExpired        = "CODE_EXPIRED"
	ErrCodeCodeMismatch       = "CODE_MISMATCH"
	ErrCodeMallNotFound       = "MALL_NOT_FOUND"
	ErrCodeMallInactive       = "MALL_INACTIVE"
	ErrCodeDomainNotAllowed   = "DOMAIN_NOT_ALLOWED"
	ErrCodeInvalidViewerType  = "INVALID_VIEWER_TYPE"
)

// NewUnknownFieldError は未知のフィールド名エラーを生成する。
func NewUnknownFieldError(field Field) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownField,
		Message:  fmt.Sprintf("未知のフィールド名です: %s", field),
		Category: "validation",
		Action:   "定義済みのフィールド名を指定してください。",
	}
}

// NewFieldNotGrantedError は同意範囲外フィールド要求エラーを生成する。
// ポリシー違反は黙って縮小せず、常に呼び出し元に通知する。
func NewFieldNotGrantedError(field Field) *APIError {
	return &APIError{
		Code:     ErrCodeFieldNotGranted,
		Message:  fmt.Sprintf("同意されていないフィールドが要求されました: %s", field),
		Category: "consent",
		Action:   "同意済みフィールドの範囲内で要求するか、再同意を依頼してください。",
	}
}

// NewConsentNotFoundError は同意レコード未検出エラーを生成する。
func NewConsentNotFoundError(mallID string) *APIError {
	return &APIError{
		Code:     ErrCodeConsentNotFound,
		Message:  fmt.Sprintf("有効な同意が見つかりません: %s", mallID),
		Category: "consent",
		Action:   "アカウントから同意を取得してください。",
	}
}

// NewConsentExpiredError は同意期限切れエラーを生成する。
func NewConsentExpiredError(mallID string) *APIError {
	return &APIError{
		Code:     ErrCodeConsentExpired,
		Message:  fmt.Sprintf("同意の有効期限が切れています: %s", mallID),
		Category: "consent",
		Action:   "アカウントに再同意を依頼してください。",
	}
}

// NewConsentConsumedError は消費済みonce同意エラーを生成する。
func NewConsentConsumedError(mallID string) *APIError {
	return &APIError{
		Code:     ErrCodeConsentConsumed,
		Message:  fmt.Sprintf("1回限りの同意は既に使用されています: %s", mallID),
		Category: "consent",
		Action:   "再度開示が必要な場合はアカウントに再同意を依頼してください。",
	}
}

// NewTokenExpiredError は委任トークン期限切れエラーを生成する。
// UIが「再取得」を案内できるよう、汎用エラーとは区別する。
func NewTokenExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenExpired,
		Message:  "委任トークンの有効期限が切れています。",
		Category: "auth",
		Action:   "トークンを再発行してください。",
	}
}

// NewTokenInvalidSignatureError は委任トークン署名不正エラーを生成する。
func NewTokenInvalidSignatureError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenInvalidSig,
		Message:  "委任トークンの署名を検証できませんでした。",
		Category: "auth",
		Action:   "正規の手順で発行されたトークンを使用してください。",
	}
}

// NewSessionNotFoundError はビューワーセッション未検出エラーを生成する。
func NewSessionNotFoundError(sessionID string) *APIError {
	return &APIError{
		Code:     ErrCodeSessionNotFound,
		Message:  fmt.Sprintf("指定されたセッションが見つかりません: %s", sessionID),
		Category: "disclosure",
		Action:   "セッションIDを確認してください。",
	}
}

// NewSessionExpiredError はビューワーセッション期限切れエラーを生成する。
func NewSessionExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionExpired,
		Message:  "ビューワーセッションの有効期限が切れています。",
		Category: "disclosure",
		Action:   "新しいセッションを作成してください。",
	}
}

// NewNotExtensibleError は延長不可ビューワーの延長要求エラーを生成する。
func NewNotExtensibleError(vt ViewerType) *APIError {
	return &APIError{
		Code:     ErrCodeNotExtensible,
		Message:  fmt.Sprintf("このビューワー種別は延長できません: %s", vt),
		Category: "disclosure",
		Action:   "新しいセッションを作成してください。",
	}
}

// NewExtensionExhaustedError は延長回数上限超過エラーを生成する。
func NewExtensionExhaustedError() *APIError {
	return &APIError{
		Code:     ErrCodeExtensionExhausted,
		Message:  "セッションの延長回数が上限に達しています。",
		Category: "disclosure",
		Action:   "新しいセッションを作成してください。",
	}
}

// NewIntegrityViolationError はプロファイル完全性検証失敗エラーを生成する。
// データ破損として扱い、部分的なデータも返さない。
func NewIntegrityViolationError() *APIError {
	return &APIError{
		Code:     ErrCodeIntegrityViolation,
		Message:  "プロファイルデータの完全性検証に失敗しました。",
		Category: "system",
		Action:   "プロファイルを再登録してください。",
	}
}

// NewProfileNotFoundError はプロファイル未登録エラーを生成する。
func NewProfileNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileNotFound,
		Message:  "プロファイルが登録されていません。",
		Category: "disclosure",
		Action:   "プロファイルを登録してください。",
	}
}

// NewCodeNotFoundError は確認コード未検出エラーを生成する。
func NewCodeNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeCodeNotFound,
		Message:  "確認コードが見つかりません。",
		Category: "auth",
		Action:   "確認コードを再発行してください。",
	}
}

// NewCodeExpiredError は確認コード期限切れエラーを生成する。
func NewCodeExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeCodeExpired,
		Message:  "確認コードの有効期限が切れています。",
		Category: "auth",
		Action:   "確認コードを再発行してください。",
	}
}

// NewCodeMismatchError は確認コード不一致エラーを生成する。
func NewCodeMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodeCodeMismatch,
		Message:  "確認コードが一致しません。",
		Category: "auth",
		Action:   "コードを確認して再入力してください。",
	}
}

// NewMallNotFoundError は加盟店未検出エラーを生成する。
func NewMallNotFoundError(mallID string) *APIError {
	return &APIError{
		Code:     ErrCodeMallNotFound,
		Message:  fmt.Sprintf("指定された加盟店が見つかりません: %s", mallID),
		Category: "validation",
		Action:   "加盟店IDを確認してください。",
	}
}

// NewMallInactiveError は無効化済み加盟店エラーを生成する。
func NewMallInactiveError(mallID string) *APIError {
	return &APIError{
		Code:     ErrCodeMallInactive,
		Message:  fmt.Sprintf("この加盟店は現在利用できません: %s", mallID),
		Category: "auth",
		Action:   "管理者に問い合わせてください。",
	}
}

// NewDomainNotAllowedError は許可外リダイレクト先エラーを生成する。
func NewDomainNotAllowedError(host string) *APIError {
	return &APIError{
		Code:     ErrCodeDomainNotAllowed,
		Message:  fmt.Sprintf("許可されていないリダイレクト先です: %s", host),
		Category: "validation",
		Action:   "加盟店に登録済みのドメインを指定してください。",
	}
}

// NewInvalidViewerTypeError は未知のビューワー種別エラーを生成する。
func NewInvalidViewerTypeError(vt ViewerType) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidViewerType,
		Message:  fmt.Sprintf("無効なビューワー種別です: %s", vt),
		Category: "validation",
		Action:   "paper または qr を指定してください。",
	}
}
