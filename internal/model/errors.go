package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// Code はレスポンスの error フィールド、Message は message フィールドになる。
type APIError struct {
	Code     string // エラーコード
	Message  string // クライアント向けメッセージ
	Category string // カテゴリ: auth, validation, resource, system
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeMissingCredential  = "missing_credential"
	ErrCodeInvalidToken       = "invalid_token"
	ErrCodeExpiredToken       = "expired_token"
	ErrCodeUnknownPrincipal   = "unknown_principal"
	ErrCodeInvalidCredentials = "invalid_credentials"
	ErrCodeInsufficientRole   = "insufficient_role"
	ErrCodeValidation         = "validation_error"
	ErrCodeNotFound           = "not_found"
	ErrCodeConflict           = "conflict"
	ErrCodeRateLimited        = "rate_limited"
	ErrCodeStorage            = "storage_error"
	ErrCodeUpstream           = "upstream_error"
	ErrCodeInternal           = "internal_error"
)

// NewMissingCredentialError は認証情報なしエラーを生成する。
func NewMissingCredentialError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingCredential,
		Message:  "認証が必要です。",
		Category: "auth",
	}
}

// NewInvalidTokenError は不正トークンエラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "トークンが無効です。",
		Category: "auth",
	}
}

// NewExpiredTokenError は期限切れトークンエラーを生成する。
func NewExpiredTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeExpiredToken,
		Message:  "トークンの有効期限が切れています。再度ログインしてください。",
		Category: "auth",
	}
}

// NewUnknownPrincipalError はトークンのユーザーが存在しない場合のエラーを生成する。
func NewUnknownPrincipalError() *APIError {
	return &APIError{
		Code:     ErrCodeUnknownPrincipal,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
// メールアドレスとパスワードのどちらが誤りかは返さない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
	}
}

// NewInsufficientRoleError は権限不足エラーを生成する。
func NewInsufficientRoleError() *APIError {
	return &APIError{
		Code:     ErrCodeInsufficientRole,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
	}
}

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
	}
}

// NewNotFoundError はリソース未検出エラーを生成する。
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("%sが見つかりません。", resource),
		Category: "resource",
	}
}

// NewConflictError は一意制約違反などの競合エラーを生成する。
func NewConflictError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeConflict,
		Message:  message,
		Category: "resource",
	}
}

// NewRateLimitedError はレート制限エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。しばらく待ってから再度お試しください。",
		Category: "system",
	}
}

// NewStorageError はデータベースエラーを生成する。詳細はログにのみ残す。
func NewStorageError() *APIError {
	return &APIError{
		Code:     ErrCodeStorage,
		Message:  "データの処理中にエラーが発生しました。",
		Category: "system",
	}
}

// NewUpstreamError は外部サービス（OAuth、音声合成）の呼び出し失敗エラーを生成する。
func NewUpstreamError() *APIError {
	return &APIError{
		Code:     ErrCodeUpstream,
		Message:  "外部サービスとの通信に失敗しました。",
		Category: "system",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
	}
}
