package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/fitclub/internal/database"
)

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

func float64Ptr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time
	return &v
}

// wrapWriteError は一意制約違反をErrDuplicateに変換し、それ以外はメッセージを付けてラップする。
func wrapWriteError(err error, constraint, msg string) error {
	if database.IsUniqueViolation(err, constraint) {
		return fmt.Errorf("%w: %s", ErrDuplicate, constraint)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// rowsAffected は更新・削除の対象が存在したかを返す。
func rowsAffected(result sql.Result, msg string) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", msg, err)
	}
	return n > 0, nil
}
