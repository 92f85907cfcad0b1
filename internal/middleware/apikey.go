package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/kaisho/internal/model"
)

// apiKeyHeader は加盟店APIキーのリクエストヘッダー名。
const apiKeyHeader = "X-API-Key"

// MallFinder は加盟店の検索に必要なインターフェース。
// repository.MallRepositoryの部分集合として定義する。
type MallFinder interface {
	FindByAPIKeyHash(ctx context.Context, hash string) (*model.Mall, error)
}

// HashAPIKey はAPIキーのSHA-256ハッシュを16進文字列で返す。
// 保存・検索は常にハッシュで行い、平文キーは保持しない。
func HashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// NewAPIKeyMiddleware はX-API-Keyヘッダーで加盟店を認証し、
// 認証済み加盟店をリクエストコンテキストに注入するミドルウェアを返す。
// キー不正・期限切れ・無効化済み加盟店には401 Unauthorizedを返す。
func NewAPIKeyMiddleware(finder MallFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(apiKeyHeader)
			if key == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			mall, err := finder.FindByAPIKeyHash(r.Context(), HashAPIKey(key))
			if err != nil {
				slog.Error("加盟店の検索に失敗しました",
					slog.String("error", err.Error()),
				)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if mall == nil || !mall.IsActive {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if time.Now().After(mall.APIKeyExpiry) {
				slog.Warn("期限切れAPIキーによるアクセスを拒否しました",
					slog.String("mall_id", mall.ID),
				)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := ContextWithMall(r.Context(), mall)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewAdminAuthMiddleware は管理API用の共有トークン認証ミドルウェアを返す。
func NewAdminAuthMiddleware(adminToken string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok || token != adminToken {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
