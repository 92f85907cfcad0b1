// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"html"

	"github.com/microcosm-cc/bluemonday"
)

// maxSanitizePasses はサニタイズとエンティティ復号の反復上限。
// 多重エスケープされた入力でも数回で不動点に到達する。
const maxSanitizePasses = 4

// DisclosureSanitizerService は開示値サニタイズのインターフェースを定義する。
// プロファイルのフィールド値は利用者自身が入力した文字列であり、
// ビューワーがそのまま描画するため、解決時に必ずサニタイズを通す。
type DisclosureSanitizerService interface {
	// Sanitize は値からHTMLタグを全て除去したプレーンテキストを返す。
	// 開示値にマークアップが含まれる正当な理由はないため、
	// 許可リストは空（StrictPolicy）とする。
	// 出力はエンティティ符号化しない。「山田&佐藤」のような
	// 無害な文字は保存時のままの形で返る。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// disclosureSanitizer はDisclosureSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type disclosureSanitizer struct {
	policy *bluemonday.Policy
}

// NewDisclosureSanitizer はDisclosureSanitizerServiceの新しいインスタンスを生成する。
func NewDisclosureSanitizer() *disclosureSanitizer {
	return &disclosureSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は値からHTMLタグを全て除去したプレーンテキストを返す。
// StrictPolicyは残したテキストをエンティティ符号化するため、
// そのまま返すとAPIが「&amp;」のような符号化済みデータを開示してしまう。
// 一方で復号するとエンティティでマスクされたマークアップが現れうるので、
// 除去と復号を不動点に達するまで繰り返す。
func (s *disclosureSanitizer) Sanitize(raw string) string {
	out := raw
	for i := 0; i < maxSanitizePasses; i++ {
		next := html.UnescapeString(s.policy.Sanitize(out))
		if next == out {
			return out
		}
		out = next
	}
	// 上限到達時は符号化された形のまま返し、マークアップは残さない
	return s.policy.Sanitize(out)
}
