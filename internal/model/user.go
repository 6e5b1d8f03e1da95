// Package model はドメインモデルを定義する。
package model

import "time"

// Provider はユーザーの認証方式を表す。
type Provider string

const (
	ProviderEmail  Provider = "email"
	ProviderGoogle Provider = "google"
	ProviderLINE   Provider = "line"
)

// Valid は定義済みのプロバイダーかどうかを返す。
func (p Provider) Valid() bool {
	switch p {
	case ProviderEmail, ProviderGoogle, ProviderLINE:
		return true
	}
	return false
}

// Role はユーザーの権限を表す。
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid は定義済みのロールかどうかを返す。
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User はジム会員（管理者を含む）を表す。
//
// ProviderID の意味は Provider によって異なる。
// email の場合はパスワードハッシュ、google/line の場合は外部IdPのsubject。
// 直接参照せず PasswordHash / ExternalID を使うこと。
type User struct {
	ID         int64
	Email      string
	Name       string
	Provider   Provider
	ProviderID string
	Role       Role
	AvatarURL  *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// PasswordHash はemailプロバイダーのユーザーのみパスワードハッシュを返す。
func (u *User) PasswordHash() (string, bool) {
	if u.Provider != ProviderEmail {
		return "", false
	}
	return u.ProviderID, true
}

// ExternalID はOAuthプロバイダーのユーザーのみ外部subjectを返す。
func (u *User) ExternalID() (string, bool) {
	if u.Provider == ProviderEmail {
		return "", false
	}
	return u.ProviderID, true
}

// IsAdmin は管理者ロールかどうかを返す。
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// UserListFilter は会員一覧の検索条件。
type UserListFilter struct {
	Query  string // name/emailの部分一致
	Limit  int
	Offset int
}
