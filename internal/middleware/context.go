// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"

	"github.com/hitoshi/kaisho/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// accountIDContextKey はリクエストコンテキストにアカウントIDを格納するためのキー。
var accountIDContextKey = contextKey("account_id")

// accountEmailContextKey はリクエストコンテキストにアカウントのメールアドレスを格納するためのキー。
var accountEmailContextKey = contextKey("account_email")

// mallContextKey はリクエストコンテキストに認証済み加盟店を格納するためのキー。
var mallContextKey = contextKey("mall")

// AccountIDFromContext はリクエストコンテキストからアカウントIDを取得する。
// アカウント認証ミドルウェアを通過したリクエストでのみ有効。
func AccountIDFromContext(ctx context.Context) (string, error) {
	accountID, ok := ctx.Value(accountIDContextKey).(string)
	if !ok || accountID == "" {
		return "", fmt.Errorf("account ID not found in context")
	}
	return accountID, nil
}

// AccountEmailFromContext はリクエストコンテキストからメールアドレスを取得する。
func AccountEmailFromContext(ctx context.Context) (string, error) {
	email, ok := ctx.Value(accountEmailContextKey).(string)
	if !ok || email == "" {
		return "", fmt.Errorf("account email not found in context")
	}
	return email, nil
}

// ContextWithAccount はコンテキストにアカウントIDとメールアドレスを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithAccount(ctx context.Context, accountID, email string) context.Context {
	ctx = context.WithValue(ctx, accountIDContextKey, accountID)
	return context.WithValue(ctx, accountEmailContextKey, email)
}

// MallFromContext はリクエストコンテキストから認証済み加盟店を取得する。
// APIキー認証ミドルウェアを通過したリクエストでのみ有効。
func MallFromContext(ctx context.Context) (*model.Mall, error) {
	mall, ok := ctx.Value(mallContextKey).(*model.Mall)
	if !ok || mall == nil {
		return nil, fmt.Errorf("mall not found in context")
	}
	return mall, nil
}

// ContextWithMall はコンテキストに認証済み加盟店を注入する。
func ContextWithMall(ctx context.Context, mall *model.Mall) context.Context {
	return context.WithValue(ctx, mallContextKey, mall)
}

// CallerIDFromContext はレート制限・ログ用の呼び出し元識別子を返す。
// アカウント認証済みならアカウントID、加盟店認証済みなら加盟店IDを返す。
func CallerIDFromContext(ctx context.Context) (string, bool) {
	if accountID, err := AccountIDFromContext(ctx); err == nil {
		return accountID, true
	}
	if mall, err := MallFromContext(ctx); err == nil {
		return mall.ID, true
	}
	return "", false
}
