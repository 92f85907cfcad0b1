// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Delegation token
	TokenSigningKey string        // Ed25519秘密鍵のシード（base64ではなくhex 64文字）
	TokenTTL        time.Duration // 委任トークンの有効期間

	// Identity provider
	IdpSharedSecret string // 外部IdP発行のアカウントトークン検証用共有鍵
	AdminToken      string // 管理APIの共有トークン

	// Profile store
	ProfileStoreDir     string // アカウントローカルの暗号化プロファイル格納ディレクトリ
	ProfileMasterSecret string // ラップ鍵導出の元になるストア側秘密（中央DBには保存しない）

	// Rate Limit
	RateLimitGeneral int // req/min per caller
	RateLimitToken   int // req/min per mall（トークン発行専用）

	// Notify
	NotifyTimeout time.Duration

	// Sweep
	SweepInterval           time.Duration
	SessionRetentionExpired time.Duration // 期限切れセッションを物理削除するまでの保持期間

	// Server
	ServerPort string
	BaseURL    string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.TokenSigningKey = os.Getenv("TOKEN_SIGNING_KEY")
	if cfg.TokenSigningKey == "" {
		missing = append(missing, "TOKEN_SIGNING_KEY")
	}

	cfg.IdpSharedSecret = os.Getenv("IDP_SHARED_SECRET")
	if cfg.IdpSharedSecret == "" {
		missing = append(missing, "IDP_SHARED_SECRET")
	}

	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")
	if cfg.AdminToken == "" {
		missing = append(missing, "ADMIN_TOKEN")
	}

	cfg.ProfileStoreDir = os.Getenv("PROFILE_STORE_DIR")
	if cfg.ProfileStoreDir == "" {
		missing = append(missing, "PROFILE_STORE_DIR")
	}

	cfg.ProfileMasterSecret = os.Getenv("PROFILE_MASTER_SECRET")
	if cfg.ProfileMasterSecret == "" {
		missing = append(missing, "PROFILE_MASTER_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.TokenTTL = getEnvDuration("TOKEN_TTL", 15*time.Minute)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitToken = getEnvInt("RATE_LIMIT_TOKEN", 30)
	cfg.NotifyTimeout = getEnvDuration("NOTIFY_TIMEOUT", 5*time.Second)
	cfg.SweepInterval = getEnvDuration("SWEEP_INTERVAL", 10*time.Minute)
	cfg.SessionRetentionExpired = getEnvDuration("SESSION_RETENTION_EXPIRED", 24*time.Hour)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	// トークンTTLは失効リストを持たない設計の唯一の安全弁のため、上限を強制する
	if cfg.TokenTTL > 2*time.Hour {
		return nil, fmt.Errorf("TOKEN_TTL must not exceed 2h, got %s", cfg.TokenTTL)
	}

	if !strings.HasPrefix(cfg.BaseURL, "http://") && !strings.HasPrefix(cfg.BaseURL, "https://") {
		return nil, fmt.Errorf("BASE_URL must start with http:// or https://: %s", cfg.BaseURL)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
