package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/hitoshi/fitclub/internal/model"
)

const userColumns = `id, email, name, provider, provider_id, role, avatar_url, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

func scanUser(s scanner) (*model.User, error) {
	user := &model.User{}
	var avatarURL sql.NullString
	err := s.Scan(
		&user.ID, &user.Email, &user.Name, &user.Provider, &user.ProviderID,
		&user.Role, &avatarURL, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.AvatarURL = stringPtr(avatarURL)
	return user, nil
}

func (r *PostgresUserRepo) findOne(ctx context.Context, msg, query string, args ...any) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", msg, err)
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	return r.findOne(ctx, "ユーザーの取得に失敗しました",
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, "メールアドレスによるユーザーの検索に失敗しました",
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

// FindByProvider は(provider, provider_id)でユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByProvider(ctx context.Context, provider model.Provider, providerID string) (*model.User, error) {
	return r.findOne(ctx, "プロバイダーによるユーザーの検索に失敗しました",
		`SELECT `+userColumns+` FROM users WHERE provider = $1 AND provider_id = $2`,
		provider, providerID)
}

// Create はユーザーを作成し、採番されたIDとタイムスタンプを設定する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (email, name, provider, provider_id, role, avatar_url)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		user.Email, user.Name, user.Provider, user.ProviderID, user.Role, user.AvatarURL,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return wrapWriteError(err, "", "ユーザーの作成に失敗しました")
	}
	return nil
}

// UpdateProfile は表示名とアバターURLを更新する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, id int64, name string, avatarURL *string) (*model.User, error) {
	return r.findOne(ctx, "プロフィールの更新に失敗しました",
		`UPDATE users SET name = $2, avatar_url = $3, updated_at = now()
		 WHERE id = $1
		 RETURNING `+userColumns,
		id, name, avatarURL)
}

// UpdatePasswordHash はemailプロバイダーのユーザーのパスワードハッシュを更新する。
func (r *PostgresUserRepo) UpdatePasswordHash(ctx context.Context, id int64, hash string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET provider_id = $2, updated_at = now()
		 WHERE id = $1 AND provider = 'email'`,
		id, hash,
	)
	if err != nil {
		return false, fmt.Errorf("パスワードの更新に失敗しました: %w", err)
	}
	return rowsAffected(result, "パスワード更新結果の取得に失敗しました")
}

// UpdateRole はロールを更新する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) UpdateRole(ctx context.Context, id int64, role model.Role) (*model.User, error) {
	return r.findOne(ctx, "ロールの更新に失敗しました",
		`UPDATE users SET role = $2, updated_at = now()
		 WHERE id = $1
		 RETURNING `+userColumns,
		id, role)
}

// List は会員一覧と総件数を返す。Queryは名前またはメールアドレスの部分一致で絞り込む。
func (r *PostgresUserRepo) List(ctx context.Context, filter model.UserListFilter) ([]*model.User, int, error) {
	pattern := "%" + escapeLike(strings.TrimSpace(filter.Query)) + "%"

	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE name ILIKE $1 OR email ILIKE $1`,
		pattern,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("会員数の取得に失敗しました: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE name ILIKE $1 OR email ILIKE $1
		 ORDER BY id ASC
		 LIMIT $2 OFFSET $3`,
		pattern, filter.Limit, filter.Offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("会員一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("会員一覧の読み取りに失敗しました: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("会員一覧の走査に失敗しました: %w", err)
	}

	return users, total, nil
}

// escapeLike はLIKEパターンのメタ文字をエスケープする。
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
