// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/kaisho/internal/model"
)

// MallRepository は加盟店登録情報の永続化インターフェース。
type MallRepository interface {
	// FindByID は指定IDの加盟店を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Mall, error)

	// FindByAPIKeyHash はAPIキーハッシュで加盟店を検索する。見つからない場合はnilを返す。
	FindByAPIKeyHash(ctx context.Context, hash string) (*model.Mall, error)

	// Create は加盟店を作成する。IDの重複はエラーとなる。
	Create(ctx context.Context, mall *model.Mall) error

	// Update は加盟店の可変属性を更新する。IDは変更できない。
	Update(ctx context.Context, mall *model.Mall) error
}

// ConsentRepository は同意台帳の永続化インターフェース。
type ConsentRepository interface {
	// FindByAccountAndMall は(アカウント, 加盟店)ペアの同意を取得する。
	// 見つからない場合はnilを返す。
	FindByAccountAndMall(ctx context.Context, accountID, mallID string) (*model.ConsentRecord, error)

	// FindByDelegateUID は仮名で同意を逆引きする。見つからない場合はnilを返す。
	FindByDelegateUID(ctx context.Context, delegateUID string) (*model.ConsentRecord, error)

	// ListByAccount はアカウントの全同意を作成日時降順で返す。
	ListByAccount(ctx context.Context, accountID string) ([]*model.ConsentRecord, error)

	// Upsert は同意を作成または上書きし、永続化された仮名を返す。
	// 既存レコードがある場合、delegate_uidは決して書き換えない。
	// 同一ペアへの並行Upsertは最初に書かれた仮名に収束するため、
	// 呼び出し側は渡した仮名ではなく戻り値を使うこと。
	Upsert(ctx context.Context, record *model.ConsentRecord) (string, error)

	// Deactivate は同意を論理的に取り消す。レコード自体は削除しない。
	Deactivate(ctx context.Context, accountID, mallID string) error

	// MarkConsumed はonce同意の消費日時を記録する。
	MarkConsumed(ctx context.Context, accountID, mallID string, consumedAt time.Time) error
}

// ViewerSessionRepository はビューワーセッションの永続化インターフェース。
type ViewerSessionRepository interface {
	// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
	// 期限切れセッションも返す（期限判定はサービス層が行う）。
	FindByID(ctx context.Context, id string) (*model.ViewerSession, error)

	// FindActiveMatch は(shop_id, mall_id, 整列済みフィールド集合)が一致する
	// 未期限切れセッションを検索する。見つからない場合はnilを返す。
	FindActiveMatch(ctx context.Context, shopID, mallID, fieldsKey string, now time.Time) (*model.ViewerSession, error)

	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.ViewerSession) error

	// UpdateExpiry はセッションの期限と延長回数を更新する。
	UpdateExpiry(ctx context.Context, id string, expiresAt time.Time, extensions int) error

	// DeleteExpiredBefore は指定時刻より前に期限切れとなったセッションを物理削除する。
	// 削除件数を返す。
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// OtpRepository はワンタイムコード記録の永続化インターフェース。
type OtpRepository interface {
	// Find は正規化済みメールアドレスで記録を取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, email string) (*model.OtpRecord, error)

	// Save は記録を作成または上書きする（同一メールへの再発行は上書き）。
	Save(ctx context.Context, record *model.OtpRecord) error

	// Delete は記録を削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, email string) error

	// DeleteSweepable は期限切れまたは作成から1時間超過の記録を削除する。
	// 削除件数を返す。
	DeleteSweepable(ctx context.Context, now time.Time) (int64, error)
}

// ProfileKeyRecord はラップ済みプロファイル鍵の中央保存レコード。
// 中央にはラップ済み鍵とソルトのみを置き、平文鍵・平文データは置かない。
type ProfileKeyRecord struct {
	AccountID  string
	WrappedKey []byte
	WrapNonce  []byte
	Salt       []byte
	UpdatedAt  time.Time
}

// ProfileKeyRepository はプロファイル鍵ポインタの永続化インターフェース。
type ProfileKeyRepository interface {
	// Find は指定アカウントの鍵レコードを取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, accountID string) (*ProfileKeyRecord, error)

	// Save は鍵レコードを作成または上書きする。
	Save(ctx context.Context, record *ProfileKeyRecord) error
}
