package auth

import (
	"errors"

	"github.com/hitoshi/fitclub/internal/model"
)

// 認証・認可で発生する拒否理由。
// いずれもクライアントの責によるもので、ストレージ障害は含まない。
var (
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidToken      = errors.New("invalid token")
	ErrExpiredToken      = errors.New("expired token")
	ErrUnknownPrincipal  = errors.New("unknown principal")
	ErrInsufficientRole  = errors.New("insufficient role")

	// ErrEmptySecret は署名鍵が空の場合に起動時に返される。
	ErrEmptySecret = errors.New("token secret must not be empty")
)

// ToAPIError は認証・認可の拒否理由をAPIErrorに変換する。
// 拒否理由でないエラーの場合はfalseを返す。
func ToAPIError(err error) (*model.APIError, bool) {
	switch {
	case errors.Is(err, ErrMissingCredential):
		return model.NewMissingCredentialError(), true
	case errors.Is(err, ErrExpiredToken):
		return model.NewExpiredTokenError(), true
	case errors.Is(err, ErrInvalidToken):
		return model.NewInvalidTokenError(), true
	case errors.Is(err, ErrUnknownPrincipal):
		return model.NewUnknownPrincipalError(), true
	case errors.Is(err, ErrInsufficientRole):
		return model.NewInsufficientRoleError(), true
	}
	return nil, false
}
