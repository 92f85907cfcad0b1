// Package model はドメインモデルを定義する。
package model

import "time"

// ViewerType はビューワーの種別を表す。
// 種別ごとにTTLと延長ポリシーが決まる。
type ViewerType string

const (
	// ViewerTypePaper は紙面印刷向けビューワー。TTL 1時間、延長不可。
	ViewerTypePaper ViewerType = "paper"
	// ViewerTypeQR はQRコード提示向けビューワー。TTL 12時間、最大3回延長可。
	ViewerTypeQR ViewerType = "qr"
)

// ViewerPolicy はビューワー種別ごとのTTLと延長ポリシー。
type ViewerPolicy struct {
	TTL           time.Duration
	MaxExtensions int
}

// viewerPolicies が種別ごとのポリシーの正とする（旧ルート定数の12時間一律は廃止）。
var viewerPolicies = map[ViewerType]ViewerPolicy{
	ViewerTypePaper: {TTL: 1 * time.Hour, MaxExtensions: 0},
	ViewerTypeQR:    {TTL: 12 * time.Hour, MaxExtensions: 3},
}

// PolicyForViewerType はビューワー種別のポリシーを返す。
// 未知の種別の場合はfalseを返す。
func PolicyForViewerType(vt ViewerType) (ViewerPolicy, bool) {
	p, ok := viewerPolicies[vt]
	return p, ok
}

// ViewerSession は開示内容を人間に表示するための短命セッションを表す。
// RequiredFieldsは発行元トークンのfieldsの部分集合であることが常に保証される。
type ViewerSession struct {
	ID             string // 推測不能なランダム識別子
	ShopID         string // DelegateUID
	MallID         string
	RequiredFields []Field
	ViewerType     ViewerType
	CreatedAt      time.Time
	ExpiresAt      time.Time
	Extensions     int
	MaxExtensions  int
}

// IsExpired は指定時刻においてセッションが期限切れかを判定する。
func (s *ViewerSession) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// RemainingExtensions は残りの延長可能回数を返す。
func (s *ViewerSession) RemainingExtensions() int {
	remain := s.MaxExtensions - s.Extensions
	if remain < 0 {
		return 0
	}
	return remain
}
