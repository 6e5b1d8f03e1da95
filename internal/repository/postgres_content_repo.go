package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/fitclub/internal/model"
)

const announcementColumns = `id, title, body, published, published_at, expires_at, author_id, created_at, updated_at`

// PostgresAnnouncementRepo はPostgreSQLを使用したお知らせリポジトリ。
type PostgresAnnouncementRepo struct {
	db *sql.DB
}

// NewPostgresAnnouncementRepo はPostgresAnnouncementRepoを生成する。
func NewPostgresAnnouncementRepo(db *sql.DB) *PostgresAnnouncementRepo {
	return &PostgresAnnouncementRepo{db: db}
}

func scanAnnouncement(s scanner) (*model.Announcement, error) {
	a := &model.Announcement{}
	var publishedAt, expiresAt sql.NullTime
	err := s.Scan(
		&a.ID, &a.Title, &a.Body, &a.Published, &publishedAt, &expiresAt,
		&a.AuthorID, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.PublishedAt = timePtr(publishedAt)
	a.ExpiresAt = timePtr(expiresAt)
	return a, nil
}

func (r *PostgresAnnouncementRepo) list(ctx context.Context, query string, args ...any) ([]*model.Announcement, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("お知らせ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var list []*model.Announcement
	for rows.Next() {
		a, err := scanAnnouncement(rows)
		if err != nil {
			return nil, fmt.Errorf("お知らせの読み取りに失敗しました: %w", err)
		}
		list = append(list, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("お知らせ一覧の走査に失敗しました: %w", err)
	}
	return list, nil
}

// ListPublished は公開中かつ期限切れでないお知らせを返す。
func (r *PostgresAnnouncementRepo) ListPublished(ctx context.Context, now time.Time) ([]*model.Announcement, error) {
	return r.list(ctx,
		`SELECT `+announcementColumns+` FROM announcements
		 WHERE published = true AND (expires_at IS NULL OR expires_at > $1)
		 ORDER BY published_at DESC NULLS LAST, id DESC`,
		now)
}

// ListAll は全てのお知らせを返す。
func (r *PostgresAnnouncementRepo) ListAll(ctx context.Context) ([]*model.Announcement, error) {
	return r.list(ctx,
		`SELECT `+announcementColumns+` FROM announcements ORDER BY created_at DESC, id DESC`)
}

// FindByID は指定IDのお知らせを取得する。見つからない場合はnilを返す。
func (r *PostgresAnnouncementRepo) FindByID(ctx context.Context, id int64) (*model.Announcement, error) {
	a, err := scanAnnouncement(r.db.QueryRowContext(ctx,
		`SELECT `+announcementColumns+` FROM announcements WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("お知らせの取得に失敗しました: %w", err)
	}
	return a, nil
}

// Create はお知らせを作成する。
func (r *PostgresAnnouncementRepo) Create(ctx context.Context, a *model.Announcement) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO announcements (title, body, published, published_at, expires_at, author_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		a.Title, a.Body, a.Published, a.PublishedAt, a.ExpiresAt, a.AuthorID,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("お知らせの作成に失敗しました: %w", err)
	}
	return nil
}

// Update はお知らせを更新する。対象がない場合はfalseを返す。
func (r *PostgresAnnouncementRepo) Update(ctx context.Context, a *model.Announcement) (bool, error) {
	err := r.db.QueryRowContext(ctx,
		`UPDATE announcements SET
		    title = $2, body = $3, published = $4, published_at = $5,
		    expires_at = $6, updated_at = now()
		 WHERE id = $1
		 RETURNING author_id, created_at, updated_at`,
		a.ID, a.Title, a.Body, a.Published, a.PublishedAt, a.ExpiresAt,
	).Scan(&a.AuthorID, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("お知らせの更新に失敗しました: %w", err)
	}
	return true, nil
}

// Delete はお知らせを削除する。対象がない場合はfalseを返す。
func (r *PostgresAnnouncementRepo) Delete(ctx context.Context, id int64) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM announcements WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("お知らせの削除に失敗しました: %w", err)
	}
	return rowsAffected(result, "お知らせ削除結果の取得に失敗しました")
}

const blogPostColumns = `id, slug, title, body, published, published_at, source_id, guid, source_url, author_id, created_at, updated_at`

// PostgresBlogPostRepo はPostgreSQLを使用したブログ記事リポジトリ。
type PostgresBlogPostRepo struct {
	db *sql.DB
}

// NewPostgresBlogPostRepo はPostgresBlogPostRepoを生成する。
func NewPostgresBlogPostRepo(db *sql.DB) *PostgresBlogPostRepo {
	return &PostgresBlogPostRepo{db: db}
}

func scanBlogPost(s scanner) (*model.BlogPost, error) {
	p := &model.BlogPost{}
	var publishedAt sql.NullTime
	var sourceID, authorID sql.NullInt64
	var guid, sourceURL sql.NullString
	err := s.Scan(
		&p.ID, &p.Slug, &p.Title, &p.Body, &p.Published, &publishedAt,
		&sourceID, &guid, &sourceURL, &authorID, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.PublishedAt = timePtr(publishedAt)
	p.SourceID = int64Ptr(sourceID)
	p.GUID = stringPtr(guid)
	p.SourceURL = stringPtr(sourceURL)
	p.AuthorID = int64Ptr(authorID)
	return p, nil
}

func (r *PostgresBlogPostRepo) list(ctx context.Context, query string, args ...any) ([]*model.BlogPost, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ブログ記事一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var list []*model.BlogPost
	for rows.Next() {
		p, err := scanBlogPost(rows)
		if err != nil {
			return nil, fmt.Errorf("ブログ記事の読み取りに失敗しました: %w", err)
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ブログ記事一覧の走査に失敗しました: %w", err)
	}
	return list, nil
}

func (r *PostgresBlogPostRepo) findOne(ctx context.Context, query string, args ...any) (*model.BlogPost, error) {
	p, err := scanBlogPost(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ブログ記事の取得に失敗しました: %w", err)
	}
	return p, nil
}

// ListPublished は公開中の記事を公開日時の新しい順に返す。
func (r *PostgresBlogPostRepo) ListPublished(ctx context.Context, limit, offset int) ([]*model.BlogPost, error) {
	return r.list(ctx,
		`SELECT `+blogPostColumns+` FROM blog_posts
		 WHERE published = true
		 ORDER BY published_at DESC NULLS LAST, id DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset)
}

// FindPublishedBySlug は公開中の記事をslugで取得する。見つからない場合はnilを返す。
func (r *PostgresBlogPostRepo) FindPublishedBySlug(ctx context.Context, slug string) (*model.BlogPost, error) {
	return r.findOne(ctx,
		`SELECT `+blogPostColumns+` FROM blog_posts WHERE slug = $1 AND published = true`, slug)
}

// ListAll は下書きを含む全記事を返す。
func (r *PostgresBlogPostRepo) ListAll(ctx context.Context, limit, offset int) ([]*model.BlogPost, error) {
	return r.list(ctx,
		`SELECT `+blogPostColumns+` FROM blog_posts
		 ORDER BY created_at DESC, id DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset)
}

// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
func (r *PostgresBlogPostRepo) FindByID(ctx context.Context, id int64) (*model.BlogPost, error) {
	return r.findOne(ctx, `SELECT `+blogPostColumns+` FROM blog_posts WHERE id = $1`, id)
}

// Create は記事を作成する。
func (r *PostgresBlogPostRepo) Create(ctx context.Context, p *model.BlogPost) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO blog_posts (slug, title, body, published, published_at, author_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		p.Slug, p.Title, p.Body, p.Published, p.PublishedAt, p.AuthorID,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return wrapWriteError(err, "blog_posts_slug_key", "ブログ記事の作成に失敗しました")
	}
	return nil
}

// Update は記事を更新する。取り込み元の情報は変更しない。
func (r *PostgresBlogPostRepo) Update(ctx context.Context, p *model.BlogPost) (bool, error) {
	err := r.db.QueryRowContext(ctx,
		`UPDATE blog_posts SET
		    slug = $2, title = $3, body = $4, published = $5,
		    published_at = $6, updated_at = now()
		 WHERE id = $1
		 RETURNING created_at, updated_at`,
		p.ID, p.Slug, p.Title, p.Body, p.Published, p.PublishedAt,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrapWriteError(err, "blog_posts_slug_key", "ブログ記事の更新に失敗しました")
	}
	return true, nil
}

// Delete は記事を削除する。対象がない場合はfalseを返す。
func (r *PostgresBlogPostRepo) Delete(ctx context.Context, id int64) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM blog_posts WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("ブログ記事の削除に失敗しました: %w", err)
	}
	return rowsAffected(result, "ブログ記事削除結果の取得に失敗しました")
}

// UpsertImported は取り込み元の記事を (source_id, guid) で冪等に保存する。
// 公開状態とslugは管理者の編集を優先するため、既存記事では更新しない。
func (r *PostgresBlogPostRepo) UpsertImported(ctx context.Context, sourceID int64, slug string, post model.ImportedPost) (bool, error) {
	var inserted bool
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO blog_posts (slug, title, body, published, published_at, source_id, guid, source_url)
		 VALUES ($1, $2, $3, false, $4, $5, $6, $7)
		 ON CONFLICT (source_id, guid) WHERE guid IS NOT NULL DO UPDATE SET
		    title = EXCLUDED.title,
		    body = EXCLUDED.body,
		    source_url = EXCLUDED.source_url,
		    updated_at = now()
		 RETURNING (xmax = 0) AS inserted`,
		slug, post.Title, post.Content, post.PublishedAt, sourceID, post.GUID, nullString(post.Link),
	).Scan(&inserted)
	if err != nil {
		return false, wrapWriteError(err, "blog_posts_slug_key", "取り込み記事の保存に失敗しました")
	}
	return inserted, nil
}

const blogSourceColumns = `id, feed_url, title, fetch_status, consecutive_errors, error_message, etag, last_modified, next_fetch_at, created_at, updated_at`

// PostgresBlogSourceRepo はPostgreSQLを使用したブログ取り込み元リポジトリ。
type PostgresBlogSourceRepo struct {
	db *sql.DB
}

// NewPostgresBlogSourceRepo はPostgresBlogSourceRepoを生成する。
func NewPostgresBlogSourceRepo(db *sql.DB) *PostgresBlogSourceRepo {
	return &PostgresBlogSourceRepo{db: db}
}

func scanBlogSource(s scanner) (*model.BlogSource, error) {
	src := &model.BlogSource{}
	err := s.Scan(
		&src.ID, &src.FeedURL, &src.Title, &src.FetchStatus, &src.ConsecutiveErrors,
		&src.ErrorMessage, &src.ETag, &src.LastModified, &src.NextFetchAt,
		&src.CreatedAt, &src.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return src, nil
}

func (r *PostgresBlogSourceRepo) list(ctx context.Context, msg, query string, args ...any) ([]*model.BlogSource, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", msg, err)
	}
	defer rows.Close()

	var list []*model.BlogSource
	for rows.Next() {
		src, err := scanBlogSource(rows)
		if err != nil {
			return nil, fmt.Errorf("取り込み元の読み取りに失敗しました: %w", err)
		}
		list = append(list, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("取り込み元一覧の走査に失敗しました: %w", err)
	}
	return list, nil
}

// List は全ての取り込み元を返す。
func (r *PostgresBlogSourceRepo) List(ctx context.Context) ([]*model.BlogSource, error) {
	return r.list(ctx, "取り込み元一覧の取得に失敗しました",
		`SELECT `+blogSourceColumns+` FROM blog_sources ORDER BY id ASC`)
}

// FindByID は指定IDの取り込み元を取得する。見つからない場合はnilを返す。
func (r *PostgresBlogSourceRepo) FindByID(ctx context.Context, id int64) (*model.BlogSource, error) {
	src, err := scanBlogSource(r.db.QueryRowContext(ctx,
		`SELECT `+blogSourceColumns+` FROM blog_sources WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("取り込み元の取得に失敗しました: %w", err)
	}
	return src, nil
}

// Create は取り込み元を作成する。作成直後にフェッチ対象となる。
func (r *PostgresBlogSourceRepo) Create(ctx context.Context, src *model.BlogSource) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO blog_sources (feed_url, title)
		 VALUES ($1, $2)
		 RETURNING `+blogSourceColumns,
		src.FeedURL, src.Title,
	).Scan(
		&src.ID, &src.FeedURL, &src.Title, &src.FetchStatus, &src.ConsecutiveErrors,
		&src.ErrorMessage, &src.ETag, &src.LastModified, &src.NextFetchAt,
		&src.CreatedAt, &src.UpdatedAt,
	)
	if err != nil {
		return wrapWriteError(err, "blog_sources_feed_url_key", "取り込み元の作成に失敗しました")
	}
	return nil
}

// Delete は取り込み元を削除する。取り込み済み記事のsource_idはNULLになる。
func (r *PostgresBlogSourceRepo) Delete(ctx context.Context, id int64) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM blog_sources WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("取り込み元の削除に失敗しました: %w", err)
	}
	return rowsAffected(result, "取り込み元削除結果の取得に失敗しました")
}

// ListDueForFetch はフェッチ対象の取り込み元を取得する。
// 複数のworkerが同時に動いても同じ取り込み元を重複して処理しないよう
// FOR UPDATE SKIP LOCKEDで取得する。
func (r *PostgresBlogSourceRepo) ListDueForFetch(ctx context.Context) ([]*model.BlogSource, error) {
	return r.list(ctx, "フェッチ対象の取り込み元の取得に失敗しました",
		`SELECT `+blogSourceColumns+` FROM blog_sources
		 WHERE next_fetch_at <= now() AND fetch_status = 'active'
		 ORDER BY next_fetch_at ASC
		 FOR UPDATE SKIP LOCKED`)
}

// UpdateFetchState はフェッチ状態を更新する。
func (r *PostgresBlogSourceRepo) UpdateFetchState(ctx context.Context, src *model.BlogSource) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE blog_sources SET
		    title = $2, fetch_status = $3, consecutive_errors = $4,
		    error_message = $5, etag = $6, last_modified = $7,
		    next_fetch_at = $8, updated_at = now()
		 WHERE id = $1`,
		src.ID, src.Title, src.FetchStatus, src.ConsecutiveErrors,
		src.ErrorMessage, src.ETag, src.LastModified, src.NextFetchAt,
	)
	if err != nil {
		return fmt.Errorf("取り込み元のフェッチ状態の更新に失敗しました: %w", err)
	}
	return nil
}

// Resume は停止中の取り込み元をactiveに戻し、即時フェッチ対象にする。
func (r *PostgresBlogSourceRepo) Resume(ctx context.Context, id int64) (*model.BlogSource, error) {
	src, err := scanBlogSource(r.db.QueryRowContext(ctx,
		`UPDATE blog_sources SET
		    fetch_status = 'active', consecutive_errors = 0, error_message = '',
		    next_fetch_at = now(), updated_at = now()
		 WHERE id = $1
		 RETURNING `+blogSourceColumns,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("取り込み元の再開に失敗しました: %w", err)
	}
	return src, nil
}

// compile-time interface checks
var (
	_ AnnouncementRepository = (*PostgresAnnouncementRepo)(nil)
	_ BlogPostRepository     = (*PostgresBlogPostRepo)(nil)
	_ BlogSourceRepository   = (*PostgresBlogSourceRepo)(nil)
)
