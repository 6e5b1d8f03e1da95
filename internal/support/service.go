// Package support は会員からの質問と問い合わせのドメインロジックを提供する。
package support

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/fitclub/internal/model"
	"github.com/hitoshi/fitclub/internal/repository"
)

const (
	maxTitleLength   = 200
	maxBodyLength    = 5000
	maxAnswerLength  = 5000
	ticketMaxRetries = 3
)

// QuestionInput は質問投稿の入力。
type QuestionInput struct {
	Title string
	Body  string
}

// InquiryInput は問い合わせ投稿の入力。
type InquiryInput struct {
	Category model.InquiryCategory
	Subject  string
	Message  string
}

// InquiryUpdateInput は問い合わせの対応状況更新の入力。
// Responseがnilの場合は既存の回答を保持する。
type InquiryUpdateInput struct {
	Status   model.InquiryStatus
	Response *string
}

// Service は質問・問い合わせのサービス層。
type Service struct {
	questions repository.QuestionRepository
	inquiries repository.InquiryRepository
	tickets   *TicketGenerator
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(questions repository.QuestionRepository, inquiries repository.InquiryRepository, tickets *TicketGenerator) *Service {
	return &Service{
		questions: questions,
		inquiries: inquiries,
		tickets:   tickets,
	}
}

// --- 質問（会員） ---

// ListQuestions は会員自身の質問を返す。
func (s *Service) ListQuestions(ctx context.Context, userID int64) ([]*model.Question, error) {
	list, err := s.questions.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("質問一覧の取得に失敗しました: %w", err)
	}
	if list == nil {
		list = []*model.Question{}
	}
	return list, nil
}

// GetQuestion は会員自身の質問を取得する。
func (s *Service) GetQuestion(ctx context.Context, userID, id int64) (*model.Question, error) {
	q, err := s.questions.FindByIDAndUser(ctx, id, userID)
	if err != nil {
		return nil, fmt.Errorf("質問の取得に失敗しました: %w", err)
	}
	if q == nil {
		return nil, model.NewNotFoundError("質問")
	}
	return q, nil
}

// CreateQuestion は質問を投稿する。
func (s *Service) CreateQuestion(ctx context.Context, userID int64, in QuestionInput) (*model.Question, error) {
	title, body, err := validateTitleBody(in.Title, in.Body, "タイトル", "本文")
	if err != nil {
		return nil, err
	}

	q := &model.Question{
		UserID: userID,
		Title:  title,
		Body:   body,
		Status: model.QuestionStatusOpen,
	}
	if err := s.questions.Create(ctx, q); err != nil {
		return nil, fmt.Errorf("質問の投稿に失敗しました: %w", err)
	}
	return q, nil
}

// DeleteQuestion は未回答の質問を削除する。
// 回答済みの質問はvalidation_error、存在しないか他の会員の質問はnot_foundになる。
func (s *Service) DeleteQuestion(ctx context.Context, userID, id int64) error {
	deleted, err := s.questions.DeleteOpen(ctx, id, userID)
	if err != nil {
		return fmt.Errorf("質問の削除に失敗しました: %w", err)
	}
	if deleted {
		return nil
	}

	q, err := s.questions.FindByIDAndUser(ctx, id, userID)
	if err != nil {
		return fmt.Errorf("質問の取得に失敗しました: %w", err)
	}
	if q == nil {
		return model.NewNotFoundError("質問")
	}
	return model.NewValidationError("回答済みの質問は削除できません。")
}

// --- 質問（管理者） ---

// ListAllQuestions は全会員の質問を返す。
func (s *Service) ListAllQuestions(ctx context.Context, status *model.QuestionStatus) ([]*model.Question, error) {
	if status != nil && *status != model.QuestionStatusOpen && *status != model.QuestionStatusAnswered {
		return nil, model.NewValidationError("statusは open または answered を指定してください。")
	}

	list, err := s.questions.List(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("質問一覧の取得に失敗しました: %w", err)
	}
	if list == nil {
		list = []*model.Question{}
	}
	return list, nil
}

// AnswerQuestion は質問に回答する。回答済みの質問は回答を上書きする。
func (s *Service) AnswerQuestion(ctx context.Context, staffID, id int64, answer string) (*model.Question, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" || utf8.RuneCountInString(answer) > maxAnswerLength {
		return nil, model.NewValidationError(fmt.Sprintf("回答は1文字以上%d文字以下で入力してください。", maxAnswerLength))
	}

	q, err := s.questions.Answer(ctx, id, answer, staffID)
	if err != nil {
		return nil, fmt.Errorf("質問への回答に失敗しました: %w", err)
	}
	if q == nil {
		return nil, model.NewNotFoundError("質問")
	}
	return q, nil
}

// --- 問い合わせ（会員） ---

// ListInquiries は会員自身の問い合わせを返す。
func (s *Service) ListInquiries(ctx context.Context, userID int64) ([]*model.Inquiry, error) {
	list, err := s.inquiries.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("問い合わせ一覧の取得に失敗しました: %w", err)
	}
	if list == nil {
		list = []*model.Inquiry{}
	}
	return list, nil
}

// GetInquiry は会員自身の問い合わせを取得する。
func (s *Service) GetInquiry(ctx context.Context, userID, id int64) (*model.Inquiry, error) {
	in, err := s.inquiries.FindByIDAndUser(ctx, id, userID)
	if err != nil {
		return nil, fmt.Errorf("問い合わせの取得に失敗しました: %w", err)
	}
	if in == nil {
		return nil, model.NewNotFoundError("問い合わせ")
	}
	return in, nil
}

// CreateInquiry は問い合わせを受け付け、受付番号を発行する。
// 分類を省略した場合は general になる。
func (s *Service) CreateInquiry(ctx context.Context, userID int64, in InquiryInput) (*model.Inquiry, error) {
	category := in.Category
	if category == "" {
		category = model.InquiryCategoryGeneral
	}
	if !category.Valid() {
		return nil, model.NewValidationError("分類は general / billing / facility / account のいずれかを指定してください。")
	}
	subject, message, err := validateTitleBody(in.Subject, in.Message, "件名", "内容")
	if err != nil {
		return nil, err
	}

	inquiry := &model.Inquiry{
		UserID:   userID,
		Category: category,
		Subject:  subject,
		Message:  message,
		Status:   model.InquiryStatusOpen,
	}

	for attempt := 1; ; attempt++ {
		ticket, err := s.tickets.Next()
		if err != nil {
			return nil, fmt.Errorf("受付番号の発行に失敗しました: %w", err)
		}
		inquiry.Ticket = ticket

		err = s.inquiries.Create(ctx, inquiry)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrDuplicate) || attempt >= ticketMaxRetries {
			return nil, fmt.Errorf("問い合わせの登録に失敗しました: %w", err)
		}
		slog.Warn("受付番号が重複したため再発行します", slog.String("ticket", ticket))
	}

	slog.Info("問い合わせを受け付けました",
		slog.String("ticket", inquiry.Ticket),
		slog.Int64("user_id", userID),
		slog.String("category", string(category)),
	)
	return inquiry, nil
}

// --- 問い合わせ（管理者） ---

// ListAllInquiries は全会員の問い合わせを返す。
func (s *Service) ListAllInquiries(ctx context.Context, status *model.InquiryStatus) ([]*model.Inquiry, error) {
	if status != nil && !status.Valid() {
		return nil, model.NewValidationError("statusは open / in_progress / resolved のいずれかを指定してください。")
	}

	list, err := s.inquiries.List(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("問い合わせ一覧の取得に失敗しました: %w", err)
	}
	if list == nil {
		list = []*model.Inquiry{}
	}
	return list, nil
}

// UpdateInquiry は問い合わせの対応状況を更新する。
func (s *Service) UpdateInquiry(ctx context.Context, staffID, id int64, in InquiryUpdateInput) (*model.Inquiry, error) {
	if !in.Status.Valid() {
		return nil, model.NewValidationError("statusは open / in_progress / resolved のいずれかを指定してください。")
	}

	var response *string
	if in.Response != nil {
		r := strings.TrimSpace(*in.Response)
		if r == "" || utf8.RuneCountInString(r) > maxAnswerLength {
			return nil, model.NewValidationError(fmt.Sprintf("回答は1文字以上%d文字以下で入力してください。", maxAnswerLength))
		}
		response = &r
	}

	inquiry, err := s.inquiries.UpdateStatus(ctx, id, in.Status, response, staffID)
	if err != nil {
		return nil, fmt.Errorf("問い合わせの更新に失敗しました: %w", err)
	}
	if inquiry == nil {
		return nil, model.NewNotFoundError("問い合わせ")
	}
	return inquiry, nil
}

func validateTitleBody(title, body, titleLabel, bodyLabel string) (string, string, error) {
	title = strings.TrimSpace(title)
	body = strings.TrimSpace(body)
	if title == "" || utf8.RuneCountInString(title) > maxTitleLength {
		return "", "", model.NewValidationError(fmt.Sprintf("%sは1文字以上%d文字以下で入力してください。", titleLabel, maxTitleLength))
	}
	if body == "" || utf8.RuneCountInString(body) > maxBodyLength {
		return "", "", model.NewValidationError(fmt.Sprintf("%sは1文字以上%d文字以下で入力してください。", bodyLabel, maxBodyLength))
	}
	return title, body, nil
}
