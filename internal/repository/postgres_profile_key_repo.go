package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresProfileKeyRepo はPostgreSQLを使用したプロファイル鍵ポインタリポジトリ。
// 中央にはラップ済み鍵のみが保存されるため、このテーブルだけでは復号できない。
type PostgresProfileKeyRepo struct {
	db *sql.DB
}

// NewPostgresProfileKeyRepo はPostgresProfileKeyRepoを生成する。
func NewPostgresProfileKeyRepo(db *sql.DB) *PostgresProfileKeyRepo {
	return &PostgresProfileKeyRepo{db: db}
}

// Find は指定アカウントの鍵レコードを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileKeyRepo) Find(ctx context.Context, accountID string) (*ProfileKeyRecord, error) {
	record := &ProfileKeyRecord{}
	err := r.db.QueryRowContext(ctx,
		`SELECT account_id, wrapped_key, wrap_nonce, salt, updated_at
		 FROM profile_keys WHERE account_id = $1`,
		accountID,
	).Scan(&record.AccountID, &record.WrappedKey, &record.WrapNonce, &record.Salt, &record.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile key: %w", err)
	}
	return record, nil
}

// Save は鍵レコードを作成または上書きする。
func (r *PostgresProfileKeyRepo) Save(ctx context.Context, record *ProfileKeyRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO profile_keys (account_id, wrapped_key, wrap_nonce, salt, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (account_id) DO UPDATE
		 SET wrapped_key = EXCLUDED.wrapped_key,
		     wrap_nonce = EXCLUDED.wrap_nonce,
		     salt = EXCLUDED.salt,
		     updated_at = now()`,
		record.AccountID, record.WrappedKey, record.WrapNonce, record.Salt,
	)
	if err != nil {
		return fmt.Errorf("failed to save profile key: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ProfileKeyRepository = (*PostgresProfileKeyRepo)(nil)
