package model

import "time"

// Announcement はジムからのお知らせを表す。
// ExpiresAt を過ぎたものはアーカイブジョブにより非公開になる。
type Announcement struct {
	ID          int64
	Title       string
	Body        string
	Published   bool
	PublishedAt *time.Time
	ExpiresAt   *time.Time
	AuthorID    int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BlogPost はブログ記事を表す。
// 管理画面で書かれたものと外部フィードから取り込まれたもの（SourceID != nil）がある。
type BlogPost struct {
	ID          int64
	Slug        string
	Title       string
	Body        string
	Published   bool
	PublishedAt *time.Time
	SourceID    *int64
	GUID        *string
	SourceURL   *string
	AuthorID    *int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsImported は外部フィードから取り込まれた記事かどうかを返す。
func (p *BlogPost) IsImported() bool {
	return p.SourceID != nil
}

// FetchStatus は取り込み元フィードのフェッチ状態を表す。
type FetchStatus string

const (
	// FetchStatusActive は定期フェッチ対象。
	FetchStatusActive FetchStatus = "active"
	// FetchStatusStopped は停止中。管理者が再開するまでフェッチしない。
	FetchStatusStopped FetchStatus = "stopped"
)

// BlogSource はブログ記事の取り込み元フィードを表す。
type BlogSource struct {
	ID                int64
	FeedURL           string
	Title             string
	FetchStatus       FetchStatus
	ConsecutiveErrors int
	ErrorMessage      string
	ETag              string
	LastModified      string
	NextFetchAt       time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ImportedPost はフィードから解析された取り込み対象の記事。
type ImportedPost struct {
	GUID        string
	Title       string
	Link        string
	Content     string
	PublishedAt *time.Time
}
