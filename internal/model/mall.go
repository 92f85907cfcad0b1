// Package model はドメインモデルを定義する。
package model

import "time"

// Mall は本ブローカーに統合された加盟店（リライングパーティ）を表す。
// IDはスラグ形式の人間可読な識別子で、作成後は変更できない。
type Mall struct {
	ID             string
	Name           string
	AllowedFields  []Field   // この加盟店が要求を許可されたフィールドの全集合
	AllowedDomains []string  // リダイレクト先として許可されたドメイン
	NotifyURL      string    // 同意イベント通知先（任意）
	APIKeyHash     string    // APIキーのSHA-256ハッシュ（平文は保存しない）
	APIKeyExpiry   time.Time
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsAllowedDomain はリダイレクト先ホストが許可リストに含まれるかを検証する。
// サブドメインは許可しない（完全一致のみ）。
func (m *Mall) IsAllowedDomain(host string) bool {
	for _, d := range m.AllowedDomains {
		if d == host {
			return true
		}
	}
	return false
}
