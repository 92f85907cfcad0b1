package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/kaisho/internal/model"
)

// PostgresViewerSessionRepo はPostgreSQLを使用したビューワーセッションリポジトリ。
type PostgresViewerSessionRepo struct {
	db *sql.DB
}

// NewPostgresViewerSessionRepo はPostgresViewerSessionRepoを生成する。
func NewPostgresViewerSessionRepo(db *sql.DB) *PostgresViewerSessionRepo {
	return &PostgresViewerSessionRepo{db: db}
}

const viewerSessionColumns = `id, shop_id, mall_id, required_fields, viewer_type,
	created_at, expires_at, extensions, max_extensions`

// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
// 期限切れセッションも返す（410 Goneの判定はサービス層が行う）。
func (r *PostgresViewerSessionRepo) FindByID(ctx context.Context, id string) (*model.ViewerSession, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+viewerSessionColumns+` FROM viewer_sessions WHERE id = $1`,
		id,
	)
	return scanViewerSession(row)
}

// FindActiveMatch は(shop_id, mall_id, 整列済みフィールド集合)が一致する
// 未期限切れセッションを検索する。見つからない場合はnilを返す。
// 複数存在する場合（許容される重複）は期限が最も遠いものを返す。
func (r *PostgresViewerSessionRepo) FindActiveMatch(ctx context.Context, shopID, mallID, fieldsKey string, now time.Time) (*model.ViewerSession, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+viewerSessionColumns+` FROM viewer_sessions
		 WHERE shop_id = $1 AND mall_id = $2 AND fields_key = $3 AND expires_at > $4
		 ORDER BY expires_at DESC
		 LIMIT 1`,
		shopID, mallID, fieldsKey, now,
	)
	return scanViewerSession(row)
}

// Create はセッションを作成する。
func (r *PostgresViewerSessionRepo) Create(ctx context.Context, session *model.ViewerSession) error {
	sorted := model.SortedFields(session.RequiredFields)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO viewer_sessions (id, shop_id, mall_id, required_fields, fields_key,
		    viewer_type, created_at, expires_at, extensions, max_extensions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		session.ID, session.ShopID, session.MallID,
		pq.Array(model.FieldStrings(session.RequiredFields)),
		FieldsKey(sorted),
		string(session.ViewerType), session.CreatedAt, session.ExpiresAt,
		session.Extensions, session.MaxExtensions,
	)
	if err != nil {
		return fmt.Errorf("failed to create viewer session: %w", err)
	}
	return nil
}

// UpdateExpiry はセッションの期限と延長回数を更新する。
func (r *PostgresViewerSessionRepo) UpdateExpiry(ctx context.Context, id string, expiresAt time.Time, extensions int) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE viewer_sessions SET expires_at = $2, extensions = $3 WHERE id = $1`,
		id, expiresAt, extensions,
	)
	if err != nil {
		return fmt.Errorf("failed to update viewer session expiry: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("viewer session not found: %s", id)
	}
	return nil
}

// DeleteExpiredBefore は指定時刻より前に期限切れとなったセッションを物理削除する。
func (r *PostgresViewerSessionRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM viewer_sessions WHERE expires_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired viewer sessions: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// FieldsKey は整列済みフィールド集合から同一性判定キーを生成する。
// 呼び出し前にmodel.SortedFieldsで整列・重複除去しておくこと。
func FieldsKey(sorted []model.Field) string {
	key := ""
	for i, f := range sorted {
		if i > 0 {
			key += ","
		}
		key += string(f)
	}
	return key
}

func scanViewerSession(row *sql.Row) (*model.ViewerSession, error) {
	session := &model.ViewerSession{}
	var fields []string
	var viewerType string
	err := row.Scan(
		&session.ID, &session.ShopID, &session.MallID,
		pq.Array(&fields), &viewerType,
		&session.CreatedAt, &session.ExpiresAt,
		&session.Extensions, &session.MaxExtensions,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan viewer session: %w", err)
	}
	session.RequiredFields = model.FieldsFromStrings(fields)
	session.ViewerType = model.ViewerType(viewerType)
	return session, nil
}

// compile-time interface check
var _ ViewerSessionRepository = (*PostgresViewerSessionRepo)(nil)
