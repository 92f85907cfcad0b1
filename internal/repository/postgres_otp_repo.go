package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/kaisho/internal/model"
)

// PostgresOtpRepo はPostgreSQLを使用したワンタイムコードリポジトリ。
type PostgresOtpRepo struct {
	db *sql.DB
}

// NewPostgresOtpRepo はPostgresOtpRepoを生成する。
func NewPostgresOtpRepo(db *sql.DB) *PostgresOtpRepo {
	return &PostgresOtpRepo{db: db}
}

// Find は正規化済みメールアドレスで記録を取得する。見つからない場合はnilを返す。
func (r *PostgresOtpRepo) Find(ctx context.Context, email string) (*model.OtpRecord, error) {
	record := &model.OtpRecord{}
	err := r.db.QueryRowContext(ctx,
		`SELECT email, code, created_at, expires_at FROM verifications WHERE email = $1`,
		email,
	).Scan(&record.Email, &record.Code, &record.CreatedAt, &record.ExpiresAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find otp record: %w", err)
	}
	return record, nil
}

// Save は記録を作成または上書きする（同一メールへの再発行は上書き）。
func (r *PostgresOtpRepo) Save(ctx context.Context, record *model.OtpRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO verifications (email, code, created_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (email) DO UPDATE
		 SET code = EXCLUDED.code,
		     created_at = EXCLUDED.created_at,
		     expires_at = EXCLUDED.expires_at`,
		record.Email, record.Code, record.CreatedAt, record.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save otp record: %w", err)
	}
	return nil
}

// Delete は記録を削除する。存在しない場合もエラーにしない。
func (r *PostgresOtpRepo) Delete(ctx context.Context, email string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM verifications WHERE email = $1`,
		email,
	)
	if err != nil {
		return fmt.Errorf("failed to delete otp record: %w", err)
	}
	return nil
}

// DeleteSweepable は期限切れまたは作成から1時間超過の記録を削除する。
// 期限のブックキーピングが壊れた記録への防御として、作成時刻ベースの条件を併置する。
func (r *PostgresOtpRepo) DeleteSweepable(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM verifications WHERE expires_at < $1 OR created_at < $2`,
		now, now.Add(-model.OtpHardSweepAge),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep otp records: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// compile-time interface check
var _ OtpRepository = (*PostgresOtpRepo)(nil)
