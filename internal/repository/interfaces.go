// Package repository はデータ永続化のインターフェースを定義する。
//
// 会員が所有するレコード（健康記録、アドバイス、質問、問い合わせ）の検索・更新は
// 必ず user_id を条件に含める。他の会員のレコードは「存在しない」として扱う。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/fitclub/internal/model"
)

// ErrDuplicate は一意制約違反を表す。
// 呼び出し側は errors.Is で判定し、409 Conflict に変換する。
var ErrDuplicate = errors.New("duplicate record")

// scanner は *sql.Row と *sql.Rows の共通インターフェース。
type scanner interface {
	Scan(dest ...any) error
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByProvider は(provider, provider_id)でユーザーを検索する。見つからない場合はnilを返す。
	FindByProvider(ctx context.Context, provider model.Provider, providerID string) (*model.User, error)

	// Create はユーザーを作成し、採番されたIDとタイムスタンプを設定する。
	// email または (provider, provider_id) が重複する場合は ErrDuplicate を返す。
	Create(ctx context.Context, user *model.User) error

	// UpdateProfile は表示名とアバターURLを更新する。見つからない場合はnilを返す。
	UpdateProfile(ctx context.Context, id int64, name string, avatarURL *string) (*model.User, error)

	// UpdatePasswordHash はemailプロバイダーのユーザーのパスワードハッシュを更新する。
	// 対象が存在しないかemailプロバイダーでない場合はfalseを返す。
	UpdatePasswordHash(ctx context.Context, id int64, hash string) (bool, error)

	// UpdateRole はロールを更新する。見つからない場合はnilを返す。
	UpdateRole(ctx context.Context, id int64, role model.Role) (*model.User, error)

	// List は会員一覧と総件数を返す。
	List(ctx context.Context, filter model.UserListFilter) ([]*model.User, int, error)
}

// HealthRecordRepository は健康記録の永続化インターフェース。
type HealthRecordRepository interface {
	// ListByUser はユーザーの健康記録を記録日の新しい順に返す。
	// sinceがnilでない場合はその日以降の記録のみを返す。
	ListByUser(ctx context.Context, userID int64, since *time.Time) ([]*model.HealthRecord, error)

	// FindByIDAndUser はユーザーが所有する健康記録を取得する。見つからない場合はnilを返す。
	FindByIDAndUser(ctx context.Context, id, userID int64) (*model.HealthRecord, error)

	// Create は健康記録を作成する。
	Create(ctx context.Context, record *model.HealthRecord) error

	// Update はユーザーが所有する健康記録を更新する。対象がない場合はfalseを返す。
	Update(ctx context.Context, record *model.HealthRecord) (bool, error)

	// Delete はユーザーが所有する健康記録を削除する。対象がない場合はfalseを返す。
	Delete(ctx context.Context, id, userID int64) (bool, error)
}

// AdviceRepository はアドバイスの永続化インターフェース。
type AdviceRepository interface {
	// ListByUser はユーザー宛てのアドバイスを新しい順に返す。
	ListByUser(ctx context.Context, userID int64) ([]*model.Advice, error)

	// FindByIDAndUser はユーザー宛てのアドバイスを取得する。見つからない場合はnilを返す。
	FindByIDAndUser(ctx context.Context, id, userID int64) (*model.Advice, error)

	// Create はアドバイスを作成する。
	Create(ctx context.Context, advice *model.Advice) error
}

// QuestionRepository は質問の永続化インターフェース。
type QuestionRepository interface {
	// ListByUser はユーザーの質問を新しい順に返す。
	ListByUser(ctx context.Context, userID int64) ([]*model.Question, error)

	// FindByIDAndUser はユーザーの質問を取得する。見つからない場合はnilを返す。
	FindByIDAndUser(ctx context.Context, id, userID int64) (*model.Question, error)

	// Create は質問を作成する。
	Create(ctx context.Context, q *model.Question) error

	// DeleteOpen は未回答の質問を削除する。対象がない場合はfalseを返す。
	DeleteOpen(ctx context.Context, id, userID int64) (bool, error)

	// List は全会員の質問を返す。statusがnilでない場合は状態で絞り込む。
	List(ctx context.Context, status *model.QuestionStatus) ([]*model.Question, error)

	// Answer は質問に回答し answered 状態にする。見つからない場合はnilを返す。
	Answer(ctx context.Context, id int64, answer string, answeredBy int64) (*model.Question, error)
}

// InquiryRepository は問い合わせの永続化インターフェース。
type InquiryRepository interface {
	// ListByUser はユーザーの問い合わせを新しい順に返す。
	ListByUser(ctx context.Context, userID int64) ([]*model.Inquiry, error)

	// FindByIDAndUser はユーザーの問い合わせを取得する。見つからない場合はnilを返す。
	FindByIDAndUser(ctx context.Context, id, userID int64) (*model.Inquiry, error)

	// Create は問い合わせを作成する。
	Create(ctx context.Context, inquiry *model.Inquiry) error

	// List は全会員の問い合わせを返す。statusがnilでない場合は状態で絞り込む。
	List(ctx context.Context, status *model.InquiryStatus) ([]*model.Inquiry, error)

	// UpdateStatus は対応状況と回答を更新する。responseがnilの場合は既存の回答を保持する。
	// 見つからない場合はnilを返す。
	UpdateStatus(ctx context.Context, id int64, status model.InquiryStatus, response *string, respondedBy int64) (*model.Inquiry, error)
}

// AnnouncementRepository はお知らせの永続化インターフェース。
type AnnouncementRepository interface {
	// ListPublished は公開中かつ期限切れでないお知らせを公開日時の新しい順に返す。
	ListPublished(ctx context.Context, now time.Time) ([]*model.Announcement, error)

	// ListAll は全てのお知らせを返す（管理画面用）。
	ListAll(ctx context.Context) ([]*model.Announcement, error)

	// FindByID は指定IDのお知らせを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Announcement, error)

	// Create はお知らせを作成する。
	Create(ctx context.Context, a *model.Announcement) error

	// Update はお知らせを更新する。対象がない場合はfalseを返す。
	Update(ctx context.Context, a *model.Announcement) (bool, error)

	// Delete はお知らせを削除する。対象がない場合はfalseを返す。
	Delete(ctx context.Context, id int64) (bool, error)
}

// BlogPostRepository はブログ記事の永続化インターフェース。
type BlogPostRepository interface {
	// ListPublished は公開中の記事を公開日時の新しい順に返す。
	ListPublished(ctx context.Context, limit, offset int) ([]*model.BlogPost, error)

	// FindPublishedBySlug は公開中の記事をslugで取得する。見つからない場合はnilを返す。
	FindPublishedBySlug(ctx context.Context, slug string) (*model.BlogPost, error)

	// ListAll は下書きを含む全記事を返す（管理画面用）。
	ListAll(ctx context.Context, limit, offset int) ([]*model.BlogPost, error)

	// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.BlogPost, error)

	// Create は記事を作成する。slugが重複する場合は ErrDuplicate を返す。
	Create(ctx context.Context, p *model.BlogPost) error

	// Update は記事を更新する。対象がない場合はfalseを返す。
	Update(ctx context.Context, p *model.BlogPost) (bool, error)

	// Delete は記事を削除する。対象がない場合はfalseを返す。
	Delete(ctx context.Context, id int64) (bool, error)

	// UpsertImported は取り込み元の記事を (source_id, guid) で冪等に保存する。
	// 新規の場合は下書きとして作成し、既存の場合はタイトルと本文のみ更新する。
	// 新規作成した場合はtrueを返す。
	UpsertImported(ctx context.Context, sourceID int64, slug string, post model.ImportedPost) (bool, error)
}

// BlogSourceRepository はブログ取り込み元フィードの永続化インターフェース。
type BlogSourceRepository interface {
	// List は全ての取り込み元を返す。
	List(ctx context.Context) ([]*model.BlogSource, error)

	// FindByID は指定IDの取り込み元を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.BlogSource, error)

	// Create は取り込み元を作成する。feed_urlが重複する場合は ErrDuplicate を返す。
	Create(ctx context.Context, src *model.BlogSource) error

	// Delete は取り込み元を削除する。取り込み済みの記事は残る。対象がない場合はfalseを返す。
	Delete(ctx context.Context, id int64) (bool, error)

	// ListDueForFetch はフェッチ対象の取り込み元を取得する。
	// next_fetch_at <= now() かつ fetch_status = 'active' のものを
	// FOR UPDATE SKIP LOCKEDで排他的に取得する。
	ListDueForFetch(ctx context.Context) ([]*model.BlogSource, error)

	// UpdateFetchState はフェッチ状態を更新する。
	UpdateFetchState(ctx context.Context, src *model.BlogSource) error

	// Resume は停止中の取り込み元をactiveに戻し、即時フェッチ対象にする。
	// 見つからない場合はnilを返す。
	Resume(ctx context.Context, id int64) (*model.BlogSource, error)
}
