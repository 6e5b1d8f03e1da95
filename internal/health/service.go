// Package health は健康記録とアドバイスのドメインロジックを提供する。
package health

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/fitclub/internal/model"
	"github.com/hitoshi/fitclub/internal/repository"
)

// AnalysisWindow はAI分析の対象期間。
const AnalysisWindow = 30 * 24 * time.Hour

const (
	dateLayout      = "2006-01-02"
	maxNoteLength   = 1000
	maxAdviceLength = 2000
	maxSteps        = 200000
)

// Synthesizer はテキストを音声（MP3）に変換する。
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// MemberFinder は会員の存在確認に使う。
type MemberFinder interface {
	FindByID(ctx context.Context, id int64) (*model.User, error)
}

// RecordInput は健康記録の作成・更新の入力。
type RecordInput struct {
	RecordedOn string // YYYY-MM-DD
	WeightKg   *float64
	BodyFatPct *float64
	Steps      *int
	SleepHours *float64
	Note       string
}

// Service は健康記録とアドバイスのサービス層。
type Service struct {
	records     repository.HealthRecordRepository
	advice      repository.AdviceRepository
	members     MemberFinder
	synthesizer Synthesizer
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// synthesizerがnilの場合、音声合成は常にupstream_errorになる。
func NewService(records repository.HealthRecordRepository, advice repository.AdviceRepository, members MemberFinder, synthesizer Synthesizer) *Service {
	return &Service{
		records:     records,
		advice:      advice,
		members:     members,
		synthesizer: synthesizer,
		now:         time.Now,
	}
}

// ListRecords は会員自身の健康記録を新しい順に返す。
func (s *Service) ListRecords(ctx context.Context, userID int64, since *time.Time) ([]*model.HealthRecord, error) {
	records, err := s.records.ListByUser(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("健康記録一覧の取得に失敗しました: %w", err)
	}
	if records == nil {
		records = []*model.HealthRecord{}
	}
	return records, nil
}

// GetRecord は会員自身の健康記録を1件取得する。
func (s *Service) GetRecord(ctx context.Context, userID, id int64) (*model.HealthRecord, error) {
	rec, err := s.records.FindByIDAndUser(ctx, id, userID)
	if err != nil {
		return nil, fmt.Errorf("健康記録の取得に失敗しました: %w", err)
	}
	if rec == nil {
		return nil, model.NewNotFoundError("健康記録")
	}
	return rec, nil
}

// CreateRecord は健康記録を作成する。
func (s *Service) CreateRecord(ctx context.Context, userID int64, in RecordInput) (*model.HealthRecord, error) {
	rec, err := s.buildRecord(in)
	if err != nil {
		return nil, err
	}
	rec.UserID = userID

	if err := s.records.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("健康記録の作成に失敗しました: %w", err)
	}
	return rec, nil
}

// UpdateRecord は健康記録を更新する。他の会員の記録はnot_foundになる。
func (s *Service) UpdateRecord(ctx context.Context, userID, id int64, in RecordInput) (*model.HealthRecord, error) {
	rec, err := s.buildRecord(in)
	if err != nil {
		return nil, err
	}
	rec.ID = id
	rec.UserID = userID

	updated, err := s.records.Update(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("健康記録の更新に失敗しました: %w", err)
	}
	if !updated {
		return nil, model.NewNotFoundError("健康記録")
	}
	return rec, nil
}

// DeleteRecord は健康記録を削除する。
func (s *Service) DeleteRecord(ctx context.Context, userID, id int64) error {
	deleted, err := s.records.Delete(ctx, id, userID)
	if err != nil {
		return fmt.Errorf("健康記録の削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewNotFoundError("健康記録")
	}
	return nil
}

// ListMemberRecords は指定会員の健康記録を返す（管理者用）。
func (s *Service) ListMemberRecords(ctx context.Context, memberID int64) ([]*model.HealthRecord, error) {
	if err := s.requireMember(ctx, memberID); err != nil {
		return nil, err
	}
	return s.ListRecords(ctx, memberID, nil)
}

// ListAdvice は会員自身へのアドバイスを新しい順に返す。
func (s *Service) ListAdvice(ctx context.Context, userID int64) ([]*model.Advice, error) {
	list, err := s.advice.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("アドバイス一覧の取得に失敗しました: %w", err)
	}
	if list == nil {
		list = []*model.Advice{}
	}
	return list, nil
}

// AddStaffAdvice はスタッフから会員へのアドバイスを登録する。
func (s *Service) AddStaffAdvice(ctx context.Context, staffID, memberID int64, content string) (*model.Advice, error) {
	content = strings.TrimSpace(content)
	if content == "" || utf8.RuneCountInString(content) > maxAdviceLength {
		return nil, model.NewValidationError(fmt.Sprintf("アドバイスは1文字以上%d文字以下で入力してください。", maxAdviceLength))
	}
	if err := s.requireMember(ctx, memberID); err != nil {
		return nil, err
	}

	a := &model.Advice{
		UserID:   memberID,
		Source:   model.AdviceSourceStaff,
		Content:  content,
		AuthorID: &staffID,
	}
	if err := s.advice.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("アドバイスの登録に失敗しました: %w", err)
	}
	return a, nil
}

// Analyze は直近30日の記録を分析し、結果をAIアドバイスとして保存する。
func (s *Service) Analyze(ctx context.Context, userID int64) (*model.Advice, error) {
	since := s.now().Add(-AnalysisWindow)
	records, err := s.records.ListByUser(ctx, userID, &since)
	if err != nil {
		return nil, fmt.Errorf("分析対象の記録取得に失敗しました: %w", err)
	}

	content, err := Analyze(records)
	if err != nil {
		return nil, err
	}

	a := &model.Advice{
		UserID:  userID,
		Source:  model.AdviceSourceAI,
		Content: content,
	}
	if err := s.advice.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("アドバイスの保存に失敗しました: %w", err)
	}
	return a, nil
}

// Speech は会員自身のアドバイスを音声に変換する。
func (s *Service) Speech(ctx context.Context, userID, adviceID int64) ([]byte, error) {
	a, err := s.advice.FindByIDAndUser(ctx, adviceID, userID)
	if err != nil {
		return nil, fmt.Errorf("アドバイスの取得に失敗しました: %w", err)
	}
	if a == nil {
		return nil, model.NewNotFoundError("アドバイス")
	}

	if s.synthesizer == nil {
		return nil, model.NewUpstreamError()
	}
	audio, err := s.synthesizer.Synthesize(ctx, a.Content)
	if err != nil {
		slog.Error("音声合成に失敗しました",
			slog.Int64("advice_id", adviceID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewUpstreamError()
	}
	return audio, nil
}

func (s *Service) requireMember(ctx context.Context, memberID int64) error {
	member, err := s.members.FindByID(ctx, memberID)
	if err != nil {
		return fmt.Errorf("会員の取得に失敗しました: %w", err)
	}
	if member == nil {
		return model.NewNotFoundError("会員")
	}
	return nil
}

// buildRecord は入力を検証して記録を組み立てる。
func (s *Service) buildRecord(in RecordInput) (*model.HealthRecord, error) {
	day, err := time.Parse(dateLayout, strings.TrimSpace(in.RecordedOn))
	if err != nil {
		return nil, model.NewValidationError("記録日はYYYY-MM-DD形式で入力してください。")
	}
	// タイムゾーン差を考慮して翌日までは受け付ける
	if day.After(s.now().AddDate(0, 0, 1)) {
		return nil, model.NewValidationError("未来の日付には記録できません。")
	}

	rec := &model.HealthRecord{
		RecordedOn: day,
		WeightKg:   in.WeightKg,
		BodyFatPct: in.BodyFatPct,
		Steps:      in.Steps,
		SleepHours: in.SleepHours,
		Note:       strings.TrimSpace(in.Note),
	}
	if !rec.HasMetric() {
		return nil, model.NewValidationError("体重・体脂肪率・歩数・睡眠時間のいずれかを入力してください。")
	}
	if msg := validateRanges(rec); msg != "" {
		return nil, model.NewValidationError(msg)
	}
	if utf8.RuneCountInString(rec.Note) > maxNoteLength {
		return nil, model.NewValidationError(fmt.Sprintf("メモは%d文字以下で入力してください。", maxNoteLength))
	}
	return rec, nil
}

func validateRanges(r *model.HealthRecord) string {
	switch {
	case r.WeightKg != nil && (*r.WeightKg <= 0 || *r.WeightKg > 500):
		return "体重は0より大きく500以下で入力してください。"
	case r.BodyFatPct != nil && (*r.BodyFatPct <= 0 || *r.BodyFatPct >= 100):
		return "体脂肪率は0より大きく100未満で入力してください。"
	case r.Steps != nil && (*r.Steps < 0 || *r.Steps > maxSteps):
		return fmt.Sprintf("歩数は0以上%d以下で入力してください。", maxSteps)
	case r.SleepHours != nil && (*r.SleepHours < 0 || *r.SleepHours > 24):
		return "睡眠時間は0以上24以下で入力してください。"
	}
	return ""
}
