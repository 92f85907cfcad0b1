// Package model はドメインモデルを定義する。
package model

import "time"

// ConsentType は同意の種別を表す。
type ConsentType string

const (
	// ConsentTypeOnce は1回限りの開示に対する同意。
	// ExpiresAtを持たず、最初の開示成功時に消費される。
	ConsentTypeOnce ConsentType = "once"
	// ConsentTypeAlways は継続的な開示に対する同意。
	// 作成から6ヶ月で期限切れとなる。
	ConsentTypeAlways ConsentType = "always"
)

// AlwaysConsentValidity はalways同意の有効期間。
const AlwaysConsentValidity = 6 * 30 * 24 * time.Hour

// ExpiringThreshold は「まもなく期限切れ」と判定する残余期間。
const ExpiringThreshold = 7 * 24 * time.Hour

// ConsentRecord は(アカウント, 加盟店)ペアごとの同意レコードを表す。
// DelegateUIDはペアごとに1度だけ生成され、再同意・失効・取り消し後も
// 同一ペアでは必ず再利用される。他の加盟店に同じ仮名が現れることはない。
type ConsentRecord struct {
	AccountID     string
	MallID        string
	DelegateUID   string     // "<mallID>-<uuid>" 形式の加盟店向け仮名
	ShopUserID    string     // 加盟店側のユーザー識別子（付け替え検出用）
	ConsentType   ConsentType
	GrantedFields []Field
	CreatedAt     time.Time
	ExpiresAt     *time.Time // onceの場合はnil
	ConsumedAt    *time.Time // once同意が開示成功により消費された日時
	IsActive      bool
}

// ConsentStatus は同意の導出ステータスを表す。
// ステータスは保存せず、常にExpiresAtから導出する。
type ConsentStatus string

const (
	// ConsentStatusActive は有効な同意。
	ConsentStatusActive ConsentStatus = "active"
	// ConsentStatusExpiring は残余期間が7日以内の同意。
	ConsentStatusExpiring ConsentStatus = "expiring"
	// ConsentStatusExpired は期限切れの同意。
	ConsentStatusExpired ConsentStatus = "expired"
)

// CurrentStatus は指定時刻における同意のステータスを導出する純粋関数。
// ExpiresAtがnil（once同意）のレコードはこの判定の対象外であり、activeを返す。
func (c *ConsentRecord) CurrentStatus(now time.Time) ConsentStatus {
	if c.ExpiresAt == nil {
		return ConsentStatusActive
	}
	switch {
	case now.After(*c.ExpiresAt):
		return ConsentStatusExpired
	case c.ExpiresAt.Sub(now) <= ExpiringThreshold:
		return ConsentStatusExpiring
	default:
		return ConsentStatusActive
	}
}

// IsUsable は指定時刻においてトークン発行の根拠にできる同意かを判定する。
// 取り消し済み・期限切れ・消費済みonce同意は使用できない。
func (c *ConsentRecord) IsUsable(now time.Time) bool {
	if !c.IsActive {
		return false
	}
	if c.ConsentType == ConsentTypeOnce && c.ConsumedAt != nil {
		return false
	}
	if c.ExpiresAt != nil && now.After(*c.ExpiresAt) {
		return false
	}
	return true
}
