package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/kaisho/internal/middleware"
	"github.com/hitoshi/kaisho/internal/repository"
	"github.com/hitoshi/kaisho/internal/security"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	HealthChecker     HealthChecker
	MallFinder        middleware.MallFinder
	IdpSharedSecret   []byte
	AdminToken        string
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	MetricsHandler    http.Handler

	// トークン
	TokenService TokenServiceInterface
	TokenMetrics TokenMetrics

	// セッション
	TokenVerifier  TokenVerifier
	SessionService SessionServiceInterface
	SessionMetrics SessionMetrics
	BaseURL        string

	// OTP
	OtpService OtpServiceInterface
	OtpMetrics OtpMetrics

	// 同意・プロファイル
	ConsentService ConsentServiceInterface
	MallRepo       repository.MallRepository
	ProfileStore   ProfileStoreInterface

	// 管理
	SSRFGuard security.SSRFGuardService
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → CORS → (認証) → RateLimit(General)
//
// トークン発行（POST /token）には発行専用のレート制限を追加で適用する。
// ヘルスチェックとメトリクスは認証・レート制限の外に置く。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(slog.Default()))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	tokenHandler := NewTokenHandler(deps.TokenService, deps.TokenMetrics)
	sessionHandler := NewSessionHandler(deps.TokenVerifier, deps.SessionService, deps.SessionMetrics, deps.BaseURL)
	otpHandler := NewOtpHandler(deps.OtpService, deps.OtpMetrics)
	consentHandler := NewConsentHandler(deps.ConsentService, deps.MallRepo)
	profileHandler := NewProfileHandler(deps.ProfileStore)
	adminHandler := NewAdminHandler(deps.MallRepo, deps.SSRFGuard)

	// --- 運用エンドポイント（認証・レート制限なし） ---
	r.Get("/healthz", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 加盟店向け（APIキー認証） ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAPIKeyMiddleware(deps.MallFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.With(deps.RateLimiter.TokenIssueMiddleware()).Post("/token", tokenHandler.Issue)
		r.Get("/token/key", tokenHandler.PublicKey)
	})

	// --- 委任トークン持参（Bearer） ---
	// セッション作成はハンドラー内でトークンを検証するため認証ミドルウェアを通さない
	r.Post("/session", sessionHandler.Create)

	// --- セッションID持参 ---
	// セッションIDは推測不能なランダム識別子であり、それ自体が資格情報となる
	r.Route("/session/{id}", func(r chi.Router) {
		r.Get("/resolve", sessionHandler.Resolve)
		r.Post("/extend", sessionHandler.Extend)
	})

	// --- メールアドレス確認 ---
	r.Post("/otp", otpHandler.Issue)
	r.Post("/otp/verify", otpHandler.Verify)

	// --- アカウント向け（IdPトークン認証） ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAccountAuthMiddleware(deps.IdpSharedSecret))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/consents", func(r chi.Router) {
			r.Get("/", consentHandler.List)
			r.Post("/", consentHandler.Grant)
			r.Delete("/{mallId}", consentHandler.Revoke)
		})

		r.Route("/profile", func(r chi.Router) {
			r.Get("/", profileHandler.Get)
			r.Put("/", profileHandler.Put)
		})
	})

	// --- 管理向け（共有管理トークン認証） ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAdminAuthMiddleware(deps.AdminToken))

		r.Route("/admin/malls", func(r chi.Router) {
			r.Post("/", adminHandler.CreateMall)
			r.Patch("/{id}", adminHandler.UpdateMall)
		})
	})

	return r
}
