// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// OtpValidity はワンタイムコードの有効期間。
const OtpValidity = 3 * time.Minute

// OtpHardSweepAge は記録自体の保持上限。
// 期限のブックキーピングが壊れた記録でも、作成から1時間で必ず掃除される。
const OtpHardSweepAge = 1 * time.Hour

// OtpRecord はメールアドレス確認用のワンタイムコード記録を表す。
// 正規化済みメールアドレスをキーとし、検証成功時に即削除される（単回使用）。
type OtpRecord struct {
	Email     string // 正規化済み
	Code      string // 6桁数字
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsExpired は指定時刻においてコードが期限切れかを判定する。
func (o *OtpRecord) IsExpired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

// IsSweepable はバックグラウンド掃除の対象かを判定する。
// 期限切れ、または作成から1時間超過のいずれかで対象となる。
func (o *OtpRecord) IsSweepable(now time.Time) bool {
	return now.After(o.ExpiresAt) || now.After(o.CreatedAt.Add(OtpHardSweepAge))
}

// NormalizeEmail はメールアドレスをキーとして使える形に正規化する。
// 前後空白を除去し小文字に統一する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
