package blogimport

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/fitclub/internal/metrics"
	"github.com/hitoshi/fitclub/internal/model"
	"github.com/hitoshi/fitclub/internal/security"
)

const userAgent = "FitClub/1.0 Blog Importer"

// SourceStateUpdater は取り込み元のフェッチ状態を保存する。
type SourceStateUpdater interface {
	UpdateFetchState(ctx context.Context, src *model.BlogSource) error
}

// PostUpserter は取り込み記事を保存する。
type PostUpserter interface {
	UpsertImported(ctx context.Context, sourceID int64, slug string, post model.ImportedPost) (bool, error)
}

// Config は取り込み処理の設定。
type Config struct {
	Timeout     time.Duration // 1フィードあたりのHTTPタイムアウト
	MaxBodySize int64         // レスポンスボディの上限
	Interval    time.Duration // 成功時の次回フェッチまでの間隔
}

// Importer は取り込み元フィードを1件フェッチし、記事を下書きとして保存する。
// ETag/Last-Modifiedによる条件付きGET、SSRF対策済みクライアント、
// gofeedによるパース、bluemondayによる本文のサニタイズを行う。
type Importer struct {
	sources   SourceStateUpdater
	posts     PostUpserter
	guard     security.URLGuard
	sanitizer security.HTMLSanitizer
	recorder  metrics.ImportRecorder
	logger    *slog.Logger
	config    Config
}

// NewImporter はImporterの新しいインスタンスを生成する。
// recorderがnilの場合はメトリクスを記録しない。
func NewImporter(
	sources SourceStateUpdater,
	posts PostUpserter,
	guard security.URLGuard,
	sanitizer security.HTMLSanitizer,
	recorder metrics.ImportRecorder,
	logger *slog.Logger,
	config Config,
) *Importer {
	return &Importer{
		sources:   sources,
		posts:     posts,
		guard:     guard,
		sanitizer: sanitizer,
		recorder:  recorder,
		logger:    logger,
		config:    config,
	}
}

// Import は取り込み元をフェッチし、結果に応じてフェッチ状態を更新する。
func (im *Importer) Import(ctx context.Context, src *model.BlogSource) error {
	start := time.Now()

	if err := im.guard.ValidateFeedURL(src.FeedURL); err != nil {
		im.logger.Error("取り込み元URLの検証に失敗しました",
			slog.Int64("source_id", src.ID),
			slog.String("feed_url", src.FeedURL),
			slog.String("error", err.Error()),
		)
		ApplyStop(src, fmt.Sprintf("URL検証失敗: %s", err.Error()))
		im.recordFailure(src.ID, "unsafe_url")
		im.saveState(ctx, src)
		return fmt.Errorf("URL検証に失敗: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.FeedURL, nil)
	if err != nil {
		return fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")
	if src.ETag != "" {
		req.Header.Set("If-None-Match", src.ETag)
	}
	if src.LastModified != "" {
		req.Header.Set("If-Modified-Since", src.LastModified)
	}

	client := im.guard.NewSafeClient(im.config.Timeout)
	resp, err := client.Do(req)
	if err != nil {
		im.logger.Error("HTTPリクエストに失敗しました",
			slog.Int64("source_id", src.ID),
			slog.String("feed_url", src.FeedURL),
			slog.String("error", err.Error()),
		)
		ApplyBackoff(src, fmt.Sprintf("HTTPリクエスト失敗: %s", err.Error()))
		im.recordFailure(src.ID, "network")
		im.saveState(ctx, src)
		return fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start)
	if im.recorder != nil {
		im.recorder.RecordFetchLatency(duration)
	}

	switch ClassifyHTTPStatus(resp.StatusCode) {
	case FetchResultNotModified:
		im.logger.Info("取り込み元は未変更です（304）",
			slog.Int64("source_id", src.ID),
			slog.Float64("duration_ms", float64(duration.Milliseconds())),
		)
		ApplySuccess(src, im.config.Interval)
		im.recordSuccess(src.ID)
		return im.sources.UpdateFetchState(ctx, src)

	case FetchResultStop:
		reason := fmt.Sprintf("HTTPステータス %d により取り込みを停止しました", resp.StatusCode)
		im.logger.Warn("取り込み元を停止します",
			slog.Int64("source_id", src.ID),
			slog.String("feed_url", src.FeedURL),
			slog.Int("http_status", resp.StatusCode),
		)
		ApplyStop(src, reason)
		im.recordFailure(src.ID, "stopped")
		return im.sources.UpdateFetchState(ctx, src)

	case FetchResultBackoff:
		im.logger.Warn("取り込みにバックオフを適用します",
			slog.Int64("source_id", src.ID),
			slog.Int("http_status", resp.StatusCode),
			slog.Int("consecutive_errors", src.ConsecutiveErrors+1),
		)
		ApplyBackoff(src, fmt.Sprintf("HTTPステータス %d によりバックオフを適用しました", resp.StatusCode))
		im.recordFailure(src.ID, "backoff")
		return im.sources.UpdateFetchState(ctx, src)

	case FetchResultOK:
	default:
		im.logger.Warn("予期しないHTTPステータスコード",
			slog.Int64("source_id", src.ID),
			slog.Int("http_status", resp.StatusCode),
		)
		ApplyBackoff(src, fmt.Sprintf("予期しないHTTPステータス: %d", resp.StatusCode))
		im.recordFailure(src.ID, "unexpected_status")
		return im.sources.UpdateFetchState(ctx, src)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, im.config.MaxBodySize))
	if err != nil {
		ApplyBackoff(src, fmt.Sprintf("レスポンス読み取り失敗: %s", err.Error()))
		im.recordFailure(src.ID, "network")
		return im.sources.UpdateFetchState(ctx, src)
	}

	if etag := resp.Header.Get("ETag"); etag != "" {
		src.ETag = etag
	}
	if lastMod := resp.Header.Get("Last-Modified"); lastMod != "" {
		src.LastModified = lastMod
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		im.logger.Error("フィードのパースに失敗しました",
			slog.Int64("source_id", src.ID),
			slog.String("feed_url", src.FeedURL),
			slog.String("error", err.Error()),
		)
		ApplyParseFailure(src, err.Error())
		if im.recorder != nil {
			im.recorder.RecordParseFailure(src.ID)
		}
		im.saveState(ctx, src)
		return nil // パース失敗はカウントして継続
	}

	if src.Title == "" && feed.Title != "" {
		src.Title = im.sanitizer.PlainText(feed.Title)
	}

	posts := im.convertItems(feed.Items)
	created := 0
	for _, post := range posts {
		isNew, err := im.posts.UpsertImported(ctx, src.ID, ImportSlug(src.ID, post.GUID), post)
		if err != nil {
			im.logger.Error("取り込み記事の保存に失敗しました",
				slog.Int64("source_id", src.ID),
				slog.String("guid", post.GUID),
				slog.String("error", err.Error()),
			)
			ApplyBackoff(src, fmt.Sprintf("記事の保存に失敗: %s", err.Error()))
			im.recordFailure(src.ID, "storage")
			im.saveState(ctx, src)
			return fmt.Errorf("取り込み記事の保存に失敗: %w", err)
		}
		if isNew {
			created++
		}
	}
	if im.recorder != nil {
		im.recorder.RecordPostsUpserted(len(posts))
	}

	ApplySuccess(src, im.config.Interval)
	if err := im.sources.UpdateFetchState(ctx, src); err != nil {
		im.logger.Error("取り込み元の状態更新に失敗しました",
			slog.Int64("source_id", src.ID),
			slog.String("error", err.Error()),
		)
		return err
	}
	im.recordSuccess(src.ID)

	im.logger.Info("ブログ記事の取り込みが完了しました",
		slog.Int64("source_id", src.ID),
		slog.String("feed_url", src.FeedURL),
		slog.Int("http_status", resp.StatusCode),
		slog.Int("posts_created", created),
		slog.Int("posts_total", len(posts)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return nil
}

// convertItems はgofeedの記事を取り込み記事に変換する。
// GUIDもリンクもない記事は冪等に保存できないため除外する。
func (im *Importer) convertItems(items []*gofeed.Item) []model.ImportedPost {
	posts := make([]model.ImportedPost, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}

		post := model.ImportedPost{
			GUID:    strings.TrimSpace(item.GUID),
			Title:   im.sanitizer.PlainText(item.Title),
			Link:    strings.TrimSpace(item.Link),
			Content: item.Content,
		}
		if post.Content == "" {
			post.Content = item.Description
		}
		post.Content = im.sanitizer.Sanitize(post.Content)

		if post.GUID == "" {
			post.GUID = post.Link
		}
		if post.GUID == "" {
			continue
		}
		if post.Link == "" && (strings.HasPrefix(post.GUID, "http://") || strings.HasPrefix(post.GUID, "https://")) {
			post.Link = post.GUID
		}
		if post.Title == "" {
			post.Title = post.Link
		}

		if item.PublishedParsed != nil {
			t := *item.PublishedParsed
			post.PublishedAt = &t
		} else if item.UpdatedParsed != nil {
			t := *item.UpdatedParsed
			post.PublishedAt = &t
		}

		posts = append(posts, post)
	}
	return posts
}

// ImportSlug は取り込み記事のslugを生成する。
// 同じ (source_id, guid) からは常に同じslugになる。
func ImportSlug(sourceID int64, guid string) string {
	sum := sha256.Sum256([]byte(guid))
	return fmt.Sprintf("import-%d-%s", sourceID, hex.EncodeToString(sum[:])[:12])
}

func (im *Importer) saveState(ctx context.Context, src *model.BlogSource) {
	if err := im.sources.UpdateFetchState(ctx, src); err != nil {
		im.logger.Error("取り込み元の状態更新に失敗しました",
			slog.Int64("source_id", src.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (im *Importer) recordSuccess(sourceID int64) {
	if im.recorder != nil {
		im.recorder.RecordImportSuccess(sourceID)
	}
}

func (im *Importer) recordFailure(sourceID int64, reason string) {
	if im.recorder != nil {
		im.recorder.RecordImportFailure(sourceID, reason)
	}
}
