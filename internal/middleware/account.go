package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// accountClaims は外部IdPが発行するアカウントトークンのクレーム。
// subが安定したAccountId、emailが確認済みメールアドレス。
type accountClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// NewAccountAuthMiddleware は外部IdP発行のBearerトークンを検証し、
// アカウントIDとメールアドレスをリクエストコンテキストに注入するミドルウェアを返す。
// コアの各操作はグローバル状態ではなく、ここで一度だけ解決された
// アカウントIDを明示的な引数として受け取る。
// 未認証リクエストには401 Unauthorizedを返す。
func NewAccountAuthMiddleware(sharedSecret []byte) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(r)
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			claims := &accountClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims,
				func(t *jwt.Token) (any, error) {
					if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
						return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
					}
					return sharedSecret, nil
				},
				jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			)
			if err != nil || !token.Valid {
				slog.Warn("アカウントトークンの検証に失敗しました",
					slog.String("path", r.URL.Path),
				)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if claims.Subject == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := ContextWithAccount(r.Context(), claims.Subject, claims.Email)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", false
	}
	return token, true
}
