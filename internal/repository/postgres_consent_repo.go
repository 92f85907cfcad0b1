package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/kaisho/internal/model"
)

// PostgresConsentRepo はPostgreSQLを使用した同意台帳リポジトリ。
type PostgresConsentRepo struct {
	db *sql.DB
}

// NewPostgresConsentRepo はPostgresConsentRepoを生成する。
func NewPostgresConsentRepo(db *sql.DB) *PostgresConsentRepo {
	return &PostgresConsentRepo{db: db}
}

const consentColumns = `account_id, mall_id, delegate_uid, shop_user_id, consent_type,
	granted_fields, created_at, expires_at, consumed_at, is_active`

// FindByAccountAndMall は(アカウント, 加盟店)ペアの同意を取得する。
// 見つからない場合はnilを返す。
func (r *PostgresConsentRepo) FindByAccountAndMall(ctx context.Context, accountID, mallID string) (*model.ConsentRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+consentColumns+` FROM consents WHERE account_id = $1 AND mall_id = $2`,
		accountID, mallID,
	)
	return scanConsent(row)
}

// FindByDelegateUID は仮名で同意を逆引きする。見つからない場合はnilを返す。
func (r *PostgresConsentRepo) FindByDelegateUID(ctx context.Context, delegateUID string) (*model.ConsentRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+consentColumns+` FROM consents WHERE delegate_uid = $1`,
		delegateUID,
	)
	return scanConsent(row)
}

// ListByAccount はアカウントの全同意を作成日時降順で返す。
func (r *PostgresConsentRepo) ListByAccount(ctx context.Context, accountID string) ([]*model.ConsentRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+consentColumns+` FROM consents
		 WHERE account_id = $1 ORDER BY created_at DESC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list consents: %w", err)
	}
	defer rows.Close()

	var records []*model.ConsentRecord
	for rows.Next() {
		record, err := scanConsentRows(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate consents: %w", err)
	}
	return records, nil
}

// Upsert は同意を作成または上書きし、永続化された仮名を返す。
// ON CONFLICTのSET句にdelegate_uidを含めないことで、並行するGrantが
// それぞれ別の仮名を生成しても最初に書かれた仮名に収束する。
// RETURNINGで行の仮名を読み戻すため、衝突に負けた側も
// 実際に保存された仮名を受け取れる。
func (r *PostgresConsentRepo) Upsert(ctx context.Context, record *model.ConsentRecord) (string, error) {
	var storedUID string
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO consents (account_id, mall_id, delegate_uid, shop_user_id,
		    consent_type, granted_fields, created_at, expires_at, consumed_at, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (account_id, mall_id) DO UPDATE
		 SET shop_user_id = EXCLUDED.shop_user_id,
		     consent_type = EXCLUDED.consent_type,
		     granted_fields = EXCLUDED.granted_fields,
		     created_at = EXCLUDED.created_at,
		     expires_at = EXCLUDED.expires_at,
		     consumed_at = EXCLUDED.consumed_at,
		     is_active = EXCLUDED.is_active
		 RETURNING delegate_uid`,
		record.AccountID, record.MallID, record.DelegateUID, record.ShopUserID,
		string(record.ConsentType),
		pq.Array(model.FieldStrings(record.GrantedFields)),
		record.CreatedAt, record.ExpiresAt, record.ConsumedAt, record.IsActive,
	).Scan(&storedUID)
	if err != nil {
		return "", fmt.Errorf("failed to upsert consent: %w", err)
	}
	return storedUID, nil
}

// Deactivate は同意を論理的に取り消す。レコード自体は削除しない。
func (r *PostgresConsentRepo) Deactivate(ctx context.Context, accountID, mallID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE consents SET is_active = FALSE WHERE account_id = $1 AND mall_id = $2`,
		accountID, mallID,
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate consent: %w", err)
	}
	return nil
}

// MarkConsumed はonce同意の消費日時を記録する。
func (r *PostgresConsentRepo) MarkConsumed(ctx context.Context, accountID, mallID string, consumedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE consents SET consumed_at = $3
		 WHERE account_id = $1 AND mall_id = $2 AND consumed_at IS NULL`,
		accountID, mallID, consumedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to mark consent consumed: %w", err)
	}
	return nil
}

// scanTarget は*sql.Rowと*sql.Rowsの共通部分。
type scanTarget interface {
	Scan(dest ...any) error
}

func scanConsentFrom(t scanTarget) (*model.ConsentRecord, error) {
	record := &model.ConsentRecord{}
	var fields []string
	var consentType string
	err := t.Scan(
		&record.AccountID, &record.MallID, &record.DelegateUID, &record.ShopUserID,
		&consentType, pq.Array(&fields),
		&record.CreatedAt, &record.ExpiresAt, &record.ConsumedAt, &record.IsActive,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan consent: %w", err)
	}
	record.ConsentType = model.ConsentType(consentType)
	record.GrantedFields = model.FieldsFromStrings(fields)
	return record, nil
}

func scanConsent(row *sql.Row) (*model.ConsentRecord, error) {
	return scanConsentFrom(row)
}

func scanConsentRows(rows *sql.Rows) (*model.ConsentRecord, error) {
	return scanConsentFrom(rows)
}

// compile-time interface check
var _ ConsentRepository = (*PostgresConsentRepo)(nil)
