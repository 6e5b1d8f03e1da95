package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/fitclub/internal/model"
)

const healthRecordColumns = `id, user_id, recorded_on, weight_kg, body_fat_pct, steps, sleep_hours, note, created_at, updated_at`

// PostgresHealthRecordRepo はPostgreSQLを使用した健康記録リポジトリ。
// すべてのクエリは user_id を条件に含める。
type PostgresHealthRecordRepo struct {
	db *sql.DB
}

// NewPostgresHealthRecordRepo はPostgresHealthRecordRepoを生成する。
func NewPostgresHealthRecordRepo(db *sql.DB) *PostgresHealthRecordRepo {
	return &PostgresHealthRecordRepo{db: db}
}

func scanHealthRecord(s scanner) (*model.HealthRecord, error) {
	rec := &model.HealthRecord{}
	var weight, bodyFat, sleep sql.NullFloat64
	var steps sql.NullInt64
	err := s.Scan(
		&rec.ID, &rec.UserID, &rec.RecordedOn, &weight, &bodyFat, &steps, &sleep,
		&rec.Note, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.WeightKg = float64Ptr(weight)
	rec.BodyFatPct = float64Ptr(bodyFat)
	rec.Steps = intPtr(steps)
	rec.SleepHours = float64Ptr(sleep)
	return rec, nil
}

// ListByUser はユーザーの健康記録を記録日の新しい順に返す。
func (r *PostgresHealthRecordRepo) ListByUser(ctx context.Context, userID int64, since *time.Time) ([]*model.HealthRecord, error) {
	var sinceDate sql.NullString
	if since != nil {
		sinceDate = nullString(since.Format(time.DateOnly))
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+healthRecordColumns+` FROM health_records
		 WHERE user_id = $1 AND ($2::date IS NULL OR recorded_on >= $2::date)
		 ORDER BY recorded_on DESC, id DESC`,
		userID, sinceDate,
	)
	if err != nil {
		return nil, fmt.Errorf("健康記録一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var records []*model.HealthRecord
	for rows.Next() {
		rec, err := scanHealthRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("健康記録の読み取りに失敗しました: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("健康記録一覧の走査に失敗しました: %w", err)
	}
	return records, nil
}

// FindByIDAndUser はユーザーが所有する健康記録を取得する。見つからない場合はnilを返す。
func (r *PostgresHealthRecordRepo) FindByIDAndUser(ctx context.Context, id, userID int64) (*model.HealthRecord, error) {
	rec, err := scanHealthRecord(r.db.QueryRowContext(ctx,
		`SELECT `+healthRecordColumns+` FROM health_records WHERE id = $1 AND user_id = $2`,
		id, userID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("健康記録の取得に失敗しました: %w", err)
	}
	return rec, nil
}

// Create は健康記録を作成する。
func (r *PostgresHealthRecordRepo) Create(ctx context.Context, rec *model.HealthRecord) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO health_records (user_id, recorded_on, weight_kg, body_fat_pct, steps, sleep_hours, note)
		 VALUES ($1, $2::date, $3, $4, $5, $6, $7)
		 RETURNING id, created_at, updated_at`,
		rec.UserID, rec.RecordedOn.Format(time.DateOnly),
		rec.WeightKg, rec.BodyFatPct, rec.Steps, rec.SleepHours, rec.Note,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("健康記録の作成に失敗しました: %w", err)
	}
	return nil
}

// Update はユーザーが所有する健康記録を更新する。対象がない場合はfalseを返す。
func (r *PostgresHealthRecordRepo) Update(ctx context.Context, rec *model.HealthRecord) (bool, error) {
	err := r.db.QueryRowContext(ctx,
		`UPDATE health_records SET
		    recorded_on = $3::date, weight_kg = $4, body_fat_pct = $5,
		    steps = $6, sleep_hours = $7, note = $8, updated_at = now()
		 WHERE id = $1 AND user_id = $2
		 RETURNING created_at, updated_at`,
		rec.ID, rec.UserID, rec.RecordedOn.Format(time.DateOnly),
		rec.WeightKg, rec.BodyFatPct, rec.Steps, rec.SleepHours, rec.Note,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("健康記録の更新に失敗しました: %w", err)
	}
	return true, nil
}

// Delete はユーザーが所有する健康記録を削除する。対象がない場合はfalseを返す。
func (r *PostgresHealthRecordRepo) Delete(ctx context.Context, id, userID int64) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM health_records WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("健康記録の削除に失敗しました: %w", err)
	}
	return rowsAffected(result, "健康記録削除結果の取得に失敗しました")
}

// PostgresAdviceRepo はPostgreSQLを使用したアドバイスリポジトリ。
type PostgresAdviceRepo struct {
	db *sql.DB
}

// NewPostgresAdviceRepo はPostgresAdviceRepoを生成する。
func NewPostgresAdviceRepo(db *sql.DB) *PostgresAdviceRepo {
	return &PostgresAdviceRepo{db: db}
}

const adviceColumns = `id, user_id, source, content, author_id, created_at`

func scanAdvice(s scanner) (*model.Advice, error) {
	a := &model.Advice{}
	var authorID sql.NullInt64
	if err := s.Scan(&a.ID, &a.UserID, &a.Source, &a.Content, &authorID, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.AuthorID = int64Ptr(authorID)
	return a, nil
}

// ListByUser はユーザー宛てのアドバイスを新しい順に返す。
func (r *PostgresAdviceRepo) ListByUser(ctx context.Context, userID int64) ([]*model.Advice, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+adviceColumns+` FROM advice WHERE user_id = $1 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("アドバイス一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var list []*model.Advice
	for rows.Next() {
		a, err := scanAdvice(rows)
		if err != nil {
			return nil, fmt.Errorf("アドバイスの読み取りに失敗しました: %w", err)
		}
		list = append(list, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("アドバイス一覧の走査に失敗しました: %w", err)
	}
	return list, nil
}

// FindByIDAndUser はユーザー宛てのアドバイスを取得する。見つからない場合はnilを返す。
func (r *PostgresAdviceRepo) FindByIDAndUser(ctx context.Context, id, userID int64) (*model.Advice, error) {
	a, err := scanAdvice(r.db.QueryRowContext(ctx,
		`SELECT `+adviceColumns+` FROM advice WHERE id = $1 AND user_id = $2`,
		id, userID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("アドバイスの取得に失敗しました: %w", err)
	}
	return a, nil
}

// Create はアドバイスを作成する。
func (r *PostgresAdviceRepo) Create(ctx context.Context, a *model.Advice) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO advice (user_id, source, content, author_id)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		a.UserID, a.Source, a.Content, a.AuthorID,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("アドバイスの作成に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface checks
var (
	_ HealthRecordRepository = (*PostgresHealthRecordRepo)(nil)
	_ AdviceRepository       = (*PostgresAdviceRepo)(nil)
)
