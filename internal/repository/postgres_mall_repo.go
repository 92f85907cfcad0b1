package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/kaisho/internal/model"
)

// PostgresMallRepo はPostgreSQLを使用した加盟店リポジトリ。
type PostgresMallRepo struct {
	db *sql.DB
}

// NewPostgresMallRepo はPostgresMallRepoを生成する。
func NewPostgresMallRepo(db *sql.DB) *PostgresMallRepo {
	return &PostgresMallRepo{db: db}
}

const mallColumns = `id, name, allowed_fields, allowed_domains, notify_url,
	api_key_hash, api_key_expiry, is_active, created_at, updated_at`

// FindByID は指定IDの加盟店を取得する。見つからない場合はnilを返す。
func (r *PostgresMallRepo) FindByID(ctx context.Context, id string) (*model.Mall, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+mallColumns+` FROM malls WHERE id = $1`,
		id,
	)
	return scanMall(row)
}

// FindByAPIKeyHash はAPIキーハッシュで加盟店を検索する。見つからない場合はnilを返す。
func (r *PostgresMallRepo) FindByAPIKeyHash(ctx context.Context, hash string) (*model.Mall, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+mallColumns+` FROM malls WHERE api_key_hash = $1`,
		hash,
	)
	return scanMall(row)
}

// Create は加盟店を作成する。IDの重複はエラーとなる。
func (r *PostgresMallRepo) Create(ctx context.Context, mall *model.Mall) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO malls (id, name, allowed_fields, allowed_domains, notify_url,
		    api_key_hash, api_key_expiry, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		mall.ID, mall.Name,
		pq.Array(model.FieldStrings(mall.AllowedFields)),
		pq.Array(mall.AllowedDomains),
		mall.NotifyURL, mall.APIKeyHash, mall.APIKeyExpiry,
		mall.IsActive, mall.CreatedAt, mall.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create mall: %w", err)
	}
	return nil
}

// Update は加盟店の可変属性を更新する。IDは変更できない。
func (r *PostgresMallRepo) Update(ctx context.Context, mall *model.Mall) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE malls
		 SET name = $2, allowed_fields = $3, allowed_domains = $4, notify_url = $5,
		     api_key_hash = $6, api_key_expiry = $7, is_active = $8, updated_at = now()
		 WHERE id = $1`,
		mall.ID, mall.Name,
		pq.Array(model.FieldStrings(mall.AllowedFields)),
		pq.Array(mall.AllowedDomains),
		mall.NotifyURL, mall.APIKeyHash, mall.APIKeyExpiry, mall.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to update mall: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("mall not found: %s", mall.ID)
	}
	return nil
}

// scanMall は1行を読み取ってMallに変換する。sql.ErrNoRowsはnilに写像する。
func scanMall(row *sql.Row) (*model.Mall, error) {
	mall := &model.Mall{}
	var fields, domains []string
	err := row.Scan(
		&mall.ID, &mall.Name,
		pq.Array(&fields), pq.Array(&domains),
		&mall.NotifyURL, &mall.APIKeyHash, &mall.APIKeyExpiry,
		&mall.IsActive, &mall.CreatedAt, &mall.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan mall: %w", err)
	}
	mall.AllowedFields = model.FieldsFromStrings(fields)
	mall.AllowedDomains = domains
	return mall, nil
}

// compile-time interface check
var _ MallRepository = (*PostgresMallRepo)(nil)
