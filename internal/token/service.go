// Package token は委任トークンの発行と検証を提供する。
// トークンはEd25519署名付きJWTで、加盟店が開示を要求できるフィールドと
// 期限を運ぶ。検証はステートレスであり、台帳への問い合わせを伴わない。
// 失効リストは持たないため、TTLが唯一の失効手段となる。
package token

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/kaisho/internal/model"
)

// Claims は委任トークンのクレーム構造。
type Claims struct {
	jwt.RegisteredClaims
	ShopID string   `json:"shopId"` // DelegateUID
	MallID string   `json:"mallId"`
	Fields []string `json:"fields"`
}

// ConsentGate は発行時の同意検証インターフェース。
// consentパッケージのサービスの部分集合として定義する。
type ConsentGate interface {
	FindUsableByDelegateUID(ctx context.Context, delegateUID, mallID string) (*model.ConsentRecord, error)
}

// Service は委任トークンの発行・検証サービス。
type Service struct {
	privateKey  ed25519.PrivateKey
	publicKey   ed25519.PublicKey
	consentGate ConsentGate
	ttl         time.Duration
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// seedはEd25519秘密鍵のシード（32バイト）。
func NewService(seed []byte, consentGate ConsentGate, ttl time.Duration) (*Service, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing key seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	privateKey := ed25519.NewKeyFromSeed(seed)
	return &Service{
		privateKey:  privateKey,
		publicKey:   privateKey.Public().(ed25519.PublicKey),
		consentGate: consentGate,
		ttl:         ttl,
		now:         time.Now,
	}, nil
}

// IssueResult は発行結果。
type IssueResult struct {
	Token     string
	ExpiresIn time.Duration
}

// Issue は委任トークンを発行する。
// 要求フィールドが同意済みフィールドの部分集合でない場合はFieldNotGrantedで失敗する。
// 同意が取り消し済み・期限切れ・消費済みの場合も発行しない。
func (s *Service) Issue(ctx context.Context, delegateUID, mallID string, fields []model.Field) (*IssueResult, error) {
	if f, ok := model.ValidateFields(fields); !ok {
		return nil, model.NewUnknownFieldError(f)
	}

	record, err := s.consentGate.FindUsableByDelegateUID(ctx, delegateUID, mallID)
	if err != nil {
		return nil, err
	}

	if f, ok := model.FieldsSubset(fields, record.GrantedFields); !ok {
		return nil, model.NewFieldNotGrantedError(f)
	}

	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		ShopID: delegateUID,
		MallID: mallID,
		Fields: model.FieldStrings(model.SortedFields(fields)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign delegation token: %w", err)
	}

	slog.Info("委任トークンを発行しました",
		slog.String("mall_id", mallID),
		slog.String("shop_id", delegateUID),
		slog.Int("field_count", len(fields)),
		slog.Duration("ttl", s.ttl),
	)

	return &IssueResult{Token: signed, ExpiresIn: s.ttl}, nil
}

// VerifiedToken は検証済みトークンの内容。
type VerifiedToken struct {
	ShopID string
	MallID string
	Fields []model.Field
}

// Verify はトークンの署名と期限のみを検証する。
// 台帳は参照しない（ステートレス検証）。期限切れはTokenExpired、
// 署名不正はTokenInvalidSignatureとして区別して返す。
func (s *Service) Verify(tokenString string) (*VerifiedToken, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return s.publicKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, model.NewTokenExpiredError()
		}
		return nil, model.NewTokenInvalidSignatureError()
	}
	if !parsed.Valid {
		return nil, model.NewTokenInvalidSignatureError()
	}

	return &VerifiedToken{
		ShopID: claims.ShopID,
		MallID: claims.MallID,
		Fields: model.FieldsFromStrings(claims.Fields),
	}, nil
}

// PublicKey は検証用公開鍵を返す。
// 加盟店バックエンドはこの鍵でブローカーへの問い合わせ前に自己検証できる。
func (s *Service) PublicKey() ed25519.PublicKey {
	return s.publicKey
}
