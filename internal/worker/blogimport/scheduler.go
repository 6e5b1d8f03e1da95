// Package blogimport は外部ブログフィードからの記事取り込みを提供する。
// スケジューラ、インポーター、リトライ/バックオフ戦略を含む。
package blogimport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/fitclub/internal/model"
)

// SourceLister はフェッチ対象の取り込み元を取得する。
type SourceLister interface {
	ListDueForFetch(ctx context.Context) ([]*model.BlogSource, error)
}

// SourceImporter は取り込み元を1件処理する。
type SourceImporter interface {
	Import(ctx context.Context, src *model.BlogSource) error
}

// Scheduler は一定間隔でフェッチ対象の取り込み元を取得し、
// semaphoreで並列数を制限しながら取り込みを実行する。
type Scheduler struct {
	sources        SourceLister
	importer       SourceImporter
	logger         *slog.Logger
	maxConcurrency int
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値4を使用する。
func NewScheduler(sources SourceLister, importer SourceImporter, logger *slog.Logger, maxConcurrency int) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &Scheduler{
		sources:        sources,
		importer:       importer,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Start はintervalごとに取り込みサイクルを実行する。
// 起動直後に1回実行し、コンテキストがキャンセルされるまで継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("取り込みスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("取り込みサイクルの実行に失敗しました", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("取り込みスケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("取り込みサイクルの実行に失敗しました", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce はフェッチ対象の取り込み元を1回取得し、並列で取り込む。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	sources, err := s.sources.ListDueForFetch(ctx)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		s.logger.Debug("取り込み対象の取り込み元はありません")
		return nil
	}

	s.logger.Info("取り込みサイクルを開始します", slog.Int("source_count", len(sources)))

	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, src := range sources {
		wg.Add(1)
		sem <- struct{}{}

		go func(src *model.BlogSource) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := s.importer.Import(ctx, src); err != nil {
				s.logger.Error("ブログ記事の取り込みに失敗しました",
					slog.Int64("source_id", src.ID),
					slog.String("feed_url", src.FeedURL),
					slog.String("error", err.Error()),
				)
			}
		}(src)
	}

	wg.Wait()

	s.logger.Info("取り込みサイクルが完了しました",
		slog.Int("source_count", len(sources)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}
