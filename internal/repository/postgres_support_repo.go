package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/fitclub/internal/model"
)

const questionColumns = `id, user_id, title, body, status, answer, answered_by, answered_at, created_at, updated_at`

// PostgresQuestionRepo はPostgreSQLを使用した質問リポジトリ。
type PostgresQuestionRepo struct {
	db *sql.DB
}

// NewPostgresQuestionRepo はPostgresQuestionRepoを生成する。
func NewPostgresQuestionRepo(db *sql.DB) *PostgresQuestionRepo {
	return &PostgresQuestionRepo{db: db}
}

func scanQuestion(s scanner) (*model.Question, error) {
	q := &model.Question{}
	var answer sql.NullString
	var answeredBy sql.NullInt64
	var answeredAt sql.NullTime
	err := s.Scan(
		&q.ID, &q.UserID, &q.Title, &q.Body, &q.Status,
		&answer, &answeredBy, &answeredAt, &q.CreatedAt, &q.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	q.Answer = stringPtr(answer)
	q.AnsweredBy = int64Ptr(answeredBy)
	q.AnsweredAt = timePtr(answeredAt)
	return q, nil
}

func (r *PostgresQuestionRepo) list(ctx context.Context, query string, args ...any) ([]*model.Question, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("質問一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var list []*model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("質問の読み取りに失敗しました: %w", err)
		}
		list = append(list, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("質問一覧の走査に失敗しました: %w", err)
	}
	return list, nil
}

// ListByUser はユーザーの質問を新しい順に返す。
func (r *PostgresQuestionRepo) ListByUser(ctx context.Context, userID int64) ([]*model.Question, error) {
	return r.list(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE user_id = $1 ORDER BY created_at DESC, id DESC`,
		userID)
}

// FindByIDAndUser はユーザーの質問を取得する。見つからない場合はnilを返す。
func (r *PostgresQuestionRepo) FindByIDAndUser(ctx context.Context, id, userID int64) (*model.Question, error) {
	q, err := scanQuestion(r.db.QueryRowContext(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE id = $1 AND user_id = $2`,
		id, userID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("質問の取得に失敗しました: %w", err)
	}
	return q, nil
}

// Create は質問を作成する。
func (r *PostgresQuestionRepo) Create(ctx context.Context, q *model.Question) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO questions (user_id, title, body, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		q.UserID, q.Title, q.Body, q.Status,
	).Scan(&q.ID, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return fmt.Errorf("質問の作成に失敗しました: %w", err)
	}
	return nil
}

// DeleteOpen は未回答の質問を削除する。対象がない場合はfalseを返す。
func (r *PostgresQuestionRepo) DeleteOpen(ctx context.Context, id, userID int64) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM questions WHERE id = $1 AND user_id = $2 AND status = 'open'`,
		id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("質問の削除に失敗しました: %w", err)
	}
	return rowsAffected(result, "質問削除結果の取得に失敗しました")
}

// List は全会員の質問を返す。
func (r *PostgresQuestionRepo) List(ctx context.Context, status *model.QuestionStatus) ([]*model.Question, error) {
	if status == nil {
		return r.list(ctx,
			`SELECT `+questionColumns+` FROM questions ORDER BY created_at DESC, id DESC`)
	}
	return r.list(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE status = $1 ORDER BY created_at DESC, id DESC`,
		*status)
}

// Answer は質問に回答し answered 状態にする。見つからない場合はnilを返す。
func (r *PostgresQuestionRepo) Answer(ctx context.Context, id int64, answer string, answeredBy int64) (*model.Question, error) {
	q, err := scanQuestion(r.db.QueryRowContext(ctx,
		`UPDATE questions SET
		    answer = $2, answered_by = $3, answered_at = now(),
		    status = 'answered', updated_at = now()
		 WHERE id = $1
		 RETURNING `+questionColumns,
		id, answer, answeredBy,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("質問への回答に失敗しました: %w", err)
	}
	return q, nil
}

const inquiryColumns = `id, ticket, user_id, category, subject, message, status, response, responded_by, responded_at, created_at, updated_at`

// PostgresInquiryRepo はPostgreSQLを使用した問い合わせリポジトリ。
type PostgresInquiryRepo struct {
	db *sql.DB
}

// NewPostgresInquiryRepo はPostgresInquiryRepoを生成する。
func NewPostgresInquiryRepo(db *sql.DB) *PostgresInquiryRepo {
	return &PostgresInquiryRepo{db: db}
}

func scanInquiry(s scanner) (*model.Inquiry, error) {
	in := &model.Inquiry{}
	var response sql.NullString
	var respondedBy sql.NullInt64
	var respondedAt sql.NullTime
	err := s.Scan(
		&in.ID, &in.Ticket, &in.UserID, &in.Category, &in.Subject, &in.Message, &in.Status,
		&response, &respondedBy, &respondedAt, &in.CreatedAt, &in.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	in.Response = stringPtr(response)
	in.RespondedBy = int64Ptr(respondedBy)
	in.RespondedAt = timePtr(respondedAt)
	return in, nil
}

func (r *PostgresInquiryRepo) list(ctx context.Context, query string, args ...any) ([]*model.Inquiry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("問い合わせ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var list []*model.Inquiry
	for rows.Next() {
		in, err := scanInquiry(rows)
		if err != nil {
			return nil, fmt.Errorf("問い合わせの読み取りに失敗しました: %w", err)
		}
		list = append(list, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("問い合わせ一覧の走査に失敗しました: %w", err)
	}
	return list, nil
}

// ListByUser はユーザーの問い合わせを新しい順に返す。
func (r *PostgresInquiryRepo) ListByUser(ctx context.Context, userID int64) ([]*model.Inquiry, error) {
	return r.list(ctx,
		`SELECT `+inquiryColumns+` FROM inquiries WHERE user_id = $1 ORDER BY created_at DESC, id DESC`,
		userID)
}

// FindByIDAndUser はユーザーの問い合わせを取得する。見つからない場合はnilを返す。
func (r *PostgresInquiryRepo) FindByIDAndUser(ctx context.Context, id, userID int64) (*model.Inquiry, error) {
	in, err := scanInquiry(r.db.QueryRowContext(ctx,
		`SELECT `+inquiryColumns+` FROM inquiries WHERE id = $1 AND user_id = $2`,
		id, userID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("問い合わせの取得に失敗しました: %w", err)
	}
	return in, nil
}

// Create は問い合わせを作成する。
func (r *PostgresInquiryRepo) Create(ctx context.Context, in *model.Inquiry) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO inquiries (ticket, user_id, category, subject, message, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		in.Ticket, in.UserID, in.Category, in.Subject, in.Message, in.Status,
	).Scan(&in.ID, &in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return wrapWriteError(err, "inquiries_ticket_key", "問い合わせの作成に失敗しました")
	}
	return nil
}

// List は全会員の問い合わせを返す。
func (r *PostgresInquiryRepo) List(ctx context.Context, status *model.InquiryStatus) ([]*model.Inquiry, error) {
	if status == nil {
		return r.list(ctx,
			`SELECT `+inquiryColumns+` FROM inquiries ORDER BY created_at DESC, id DESC`)
	}
	return r.list(ctx,
		`SELECT `+inquiryColumns+` FROM inquiries WHERE status = $1 ORDER BY created_at DESC, id DESC`,
		*status)
}

// UpdateStatus は対応状況と回答を更新する。
// responseがnilの場合は既存の回答と回答者を保持する。
func (r *PostgresInquiryRepo) UpdateStatus(ctx context.Context, id int64, status model.InquiryStatus, response *string, respondedBy int64) (*model.Inquiry, error) {
	in, err := scanInquiry(r.db.QueryRowContext(ctx,
		`UPDATE inquiries SET
		    status = $2,
		    response = COALESCE($3, response),
		    responded_by = CASE WHEN $3::text IS NULL THEN responded_by ELSE $4 END,
		    responded_at = CASE WHEN $3::text IS NULL THEN responded_at ELSE now() END,
		    updated_at = now()
		 WHERE id = $1
		 RETURNING `+inquiryColumns,
		id, status, response, respondedBy,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("問い合わせの更新に失敗しました: %w", err)
	}
	return in, nil
}

// compile-time interface checks
var (
	_ QuestionRepository = (*PostgresQuestionRepo)(nil)
	_ InquiryRepository  = (*PostgresInquiryRepo)(nil)
)
