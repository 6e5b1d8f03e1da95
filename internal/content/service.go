// Package content はお知らせ・ブログ記事・ブログ取り込み元のドメインロジックを提供する。
//
// 本文HTMLは保存前に必ずサニタイズする。レスポンス時には再サニタイズしない。
package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/fitclub/internal/feed"
	"github.com/hitoshi/fitclub/internal/model"
	"github.com/hitoshi/fitclub/internal/repository"
	"github.com/hitoshi/fitclub/internal/security"
	"github.com/hitoshi/fitclub/internal/user"
)

const (
	maxTitleLength = 200
	maxSlugLength  = 100
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// FeedURLValidator は取り込み元URLを検証する。
type FeedURLValidator interface {
	ValidateFeedURL(rawURL string) error
}

// FeedDiscoverer はページURLからフィードURLを検出する。
type FeedDiscoverer interface {
	Discover(ctx context.Context, rawURL string) (string, error)
}

// AnnouncementInput はお知らせ作成・更新の入力。
type AnnouncementInput struct {
	Title     string
	Body      string
	Published bool
	ExpiresAt *time.Time
}

// PostInput はブログ記事作成・更新の入力。
type PostInput struct {
	Slug      string
	Title     string
	Body      string
	Published bool
}

// SourceInput は取り込み元登録の入力。
type SourceInput struct {
	FeedURL string
	Title   string
}

// Service はお知らせ・ブログのサービス層。
type Service struct {
	announcements repository.AnnouncementRepository
	posts         repository.BlogPostRepository
	sources       repository.BlogSourceRepository
	sanitizer     security.HTMLSanitizer
	urlValidator  FeedURLValidator
	discoverer    FeedDiscoverer
	now           func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	announcements repository.AnnouncementRepository,
	posts repository.BlogPostRepository,
	sources repository.BlogSourceRepository,
	sanitizer security.HTMLSanitizer,
	urlValidator FeedURLValidator,
) *Service {
	return &Service{
		announcements: announcements,
		posts:         posts,
		sources:       sources,
		sanitizer:     sanitizer,
		urlValidator:  urlValidator,
		now:           time.Now,
	}
}

// SetFeedDiscoverer は取り込み元登録時のフィード自動検出を有効にする。
// 未設定の場合は入力URLをそのまま登録する。
func (s *Service) SetFeedDiscoverer(d FeedDiscoverer) {
	s.discoverer = d
}

// --- お知らせ ---

// ListPublishedAnnouncements は公開中かつ期限内のお知らせを返す。
func (s *Service) ListPublishedAnnouncements(ctx context.Context) ([]*model.Announcement, error) {
	list, err := s.announcements.ListPublished(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("お知らせ一覧の取得に失敗しました: %w", err)
	}
	if list == nil {
		list = []*model.Announcement{}
	}
	return list, nil
}

// ListAllAnnouncements は下書き・期限切れを含む全てのお知らせを返す。
func (s *Service) ListAllAnnouncements(ctx context.Context) ([]*model.Announcement, error) {
	list, err := s.announcements.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("お知らせ一覧の取得に失敗しました: %w", err)
	}
	if list == nil {
		list = []*model.Announcement{}
	}
	return list, nil
}

// CreateAnnouncement はお知らせを作成する。
func (s *Service) CreateAnnouncement(ctx context.Context, authorID int64, in AnnouncementInput) (*model.Announcement, error) {
	title, body, err := s.validateArticle(in.Title, in.Body)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return nil, model.NewValidationError("掲載期限は未来の日時を指定してください。")
	}

	a := &model.Announcement{
		Title:     title,
		Body:      body,
		Published: in.Published,
		ExpiresAt: in.ExpiresAt,
		AuthorID:  authorID,
	}
	if in.Published {
		a.PublishedAt = &now
	}
	if err := s.announcements.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("お知らせの作成に失敗しました: %w", err)
	}
	return a, nil
}

// UpdateAnnouncement はお知らせを更新する。
// 初めて公開した時点の日時をpublished_atとして保持する。
func (s *Service) UpdateAnnouncement(ctx context.Context, id int64, in AnnouncementInput) (*model.Announcement, error) {
	title, body, err := s.validateArticle(in.Title, in.Body)
	if err != nil {
		return nil, err
	}

	existing, err := s.announcements.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("お知らせの取得に失敗しました: %w", err)
	}
	if existing == nil {
		return nil, model.NewNotFoundError("お知らせ")
	}

	existing.Title = title
	existing.Body = body
	existing.Published = in.Published
	existing.ExpiresAt = in.ExpiresAt
	if in.Published && existing.PublishedAt == nil {
		now := s.now()
		existing.PublishedAt = &now
	}

	updated, err := s.announcements.Update(ctx, existing)
	if err != nil {
		return nil, fmt.Errorf("お知らせの更新に失敗しました: %w", err)
	}
	if !updated {
		return nil, model.NewNotFoundError("お知らせ")
	}
	return existing, nil
}

// DeleteAnnouncement はお知らせを削除する。
func (s *Service) DeleteAnnouncement(ctx context.Context, id int64) error {
	deleted, err := s.announcements.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("お知らせの削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewNotFoundError("お知らせ")
	}
	return nil
}

// --- ブログ記事 ---

// ListPublishedPosts は公開中の記事を返す。
func (s *Service) ListPublishedPosts(ctx context.Context, limit, offset int) ([]*model.BlogPost, error) {
	limit, offset = user.NormalizePage(limit, offset)
	list, err := s.posts.ListPublished(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ブログ記事一覧の取得に失敗しました: %w", err)
	}
	if list == nil {
		list = []*model.BlogPost{}
	}
	return list, nil
}

// GetPublishedPost は公開中の記事をslugで取得する。下書きはnot_foundになる。
func (s *Service) GetPublishedPost(ctx context.Context, slug string) (*model.BlogPost, error) {
	post, err := s.posts.FindPublishedBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("ブログ記事の取得に失敗しました: %w", err)
	}
	if post == nil {
		return nil, model.NewNotFoundError("ブログ記事")
	}
	return post, nil
}

// ListAllPosts は下書きを含む全記事を返す。
func (s *Service) ListAllPosts(ctx context.Context, limit, offset int) ([]*model.BlogPost, error) {
	limit, offset = user.NormalizePage(limit, offset)
	list, err := s.posts.ListAll(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ブログ記事一覧の取得に失敗しました: %w", err)
	}
	if list == nil {
		list = []*model.BlogPost{}
	}
	return list, nil
}

// CreatePost は記事を作成する。
func (s *Service) CreatePost(ctx context.Context, authorID int64, in PostInput) (*model.BlogPost, error) {
	slug, err := validateSlug(in.Slug)
	if err != nil {
		return nil, err
	}
	title, body, err := s.validateArticle(in.Title, in.Body)
	if err != nil {
		return nil, err
	}

	p := &model.BlogPost{
		Slug:      slug,
		Title:     title,
		Body:      body,
		Published: in.Published,
		AuthorID:  &authorID,
	}
	if in.Published {
		now := s.now()
		p.PublishedAt = &now
	}
	if err := s.posts.Create(ctx, p); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewConflictError("このslugは既に使われています。")
		}
		return nil, fmt.Errorf("ブログ記事の作成に失敗しました: %w", err)
	}
	return p, nil
}

// UpdatePost は記事を更新する。取り込み記事も編集・公開できる。
func (s *Service) UpdatePost(ctx context.Context, id int64, in PostInput) (*model.BlogPost, error) {
	slug, err := validateSlug(in.Slug)
	if err != nil {
		return nil, err
	}
	title, body, err := s.validateArticle(in.Title, in.Body)
	if err != nil {
		return nil, err
	}

	existing, err := s.posts.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ブログ記事の取得に失敗しました: %w", err)
	}
	if existing == nil {
		return nil, model.NewNotFoundError("ブログ記事")
	}

	existing.Slug = slug
	existing.Title = title
	existing.Body = body
	existing.Published = in.Published
	if in.Published && existing.PublishedAt == nil {
		now := s.now()
		existing.PublishedAt = &now
	}

	updated, err := s.posts.Update(ctx, existing)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewConflictError("このslugは既に使われています。")
		}
		return nil, fmt.Errorf("ブログ記事の更新に失敗しました: %w", err)
	}
	if !updated {
		return nil, model.NewNotFoundError("ブログ記事")
	}
	return existing, nil
}

// DeletePost は記事を削除する。
func (s *Service) DeletePost(ctx context.Context, id int64) error {
	deleted, err := s.posts.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("ブログ記事の削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewNotFoundError("ブログ記事")
	}
	return nil
}

// --- 取り込み元 ---

// ListSources は取り込み元を返す。
func (s *Service) ListSources(ctx context.Context) ([]*model.BlogSource, error) {
	list, err := s.sources.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("取り込み元一覧の取得に失敗しました: %w", err)
	}
	if list == nil {
		list = []*model.BlogSource{}
	}
	return list, nil
}

// AddSource は取り込み元を登録する。次回のワーカー実行でフェッチされる。
func (s *Service) AddSource(ctx context.Context, in SourceInput) (*model.BlogSource, error) {
	feedURL := strings.TrimSpace(in.FeedURL)
	if err := s.urlValidator.ValidateFeedURL(feedURL); err != nil {
		return nil, model.NewValidationError("このURLは取り込み元として登録できません。")
	}
	title := s.sanitizer.PlainText(in.Title)
	if utf8.RuneCountInString(title) > maxTitleLength {
		return nil, model.NewValidationError(fmt.Sprintf("タイトルは%d文字以下で入力してください。", maxTitleLength))
	}

	if s.discoverer != nil {
		discovered, err := s.discoverer.Discover(ctx, feedURL)
		switch {
		case errors.Is(err, feed.ErrNotDetected), errors.Is(err, security.ErrUnsafeURL):
			return nil, model.NewValidationError("このURLからフィードが見つかりませんでした。")
		case err != nil:
			slog.Warn("フィードの自動検出に失敗しました",
				slog.String("feed_url", feedURL),
				slog.String("error", err.Error()),
			)
			return nil, model.NewUpstreamError()
		}
		// 検出されたURLが別ホストを指す場合があるため再検証する
		if err := s.urlValidator.ValidateFeedURL(discovered); err != nil {
			return nil, model.NewValidationError("このURLは取り込み元として登録できません。")
		}
		feedURL = discovered
	}

	src := &model.BlogSource{FeedURL: feedURL, Title: title}
	if err := s.sources.Create(ctx, src); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewConflictError("このフィードは既に登録されています。")
		}
		return nil, fmt.Errorf("取り込み元の登録に失敗しました: %w", err)
	}
	return src, nil
}

// DeleteSource は取り込み元を削除する。取り込み済みの記事は残る。
func (s *Service) DeleteSource(ctx context.Context, id int64) error {
	deleted, err := s.sources.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("取り込み元の削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewNotFoundError("取り込み元")
	}
	return nil
}

// ResumeSource は停止中の取り込み元を再開する。
func (s *Service) ResumeSource(ctx context.Context, id int64) (*model.BlogSource, error) {
	src, err := s.sources.Resume(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("取り込み元の再開に失敗しました: %w", err)
	}
	if src == nil {
		return nil, model.NewNotFoundError("取り込み元")
	}
	return src, nil
}

// validateArticle はタイトルを検証し、本文をサニタイズして返す。
func (s *Service) validateArticle(title, body string) (string, string, error) {
	title = strings.TrimSpace(title)
	if title == "" || utf8.RuneCountInString(title) > maxTitleLength {
		return "", "", model.NewValidationError(fmt.Sprintf("タイトルは1文字以上%d文字以下で入力してください。", maxTitleLength))
	}
	clean := s.sanitizer.Sanitize(body)
	if clean == "" {
		return "", "", model.NewValidationError("本文を入力してください。")
	}
	return title, clean, nil
}

func validateSlug(slug string) (string, error) {
	slug = strings.TrimSpace(slug)
	if len(slug) > maxSlugLength || !slugPattern.MatchString(slug) {
		return "", model.NewValidationError("slugは英小文字・数字・ハイフンで入力してください。")
	}
	return slug, nil
}
