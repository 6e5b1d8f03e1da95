package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/hitoshi/fitclub/internal/model"
)

const bearerPrefix = "bearer "

// UserFinder はトークンのユーザーを解決するためのインターフェース。
// repository.UserRepositoryの部分集合として定義する。
type UserFinder interface {
	FindByID(ctx context.Context, id int64) (*model.User, error)
}

// Principal は認証済みのリクエスト主体。
// Role はトークン発行時点のロールで、ユーザーレコードの現在値ではない。
type Principal struct {
	User   *model.User
	Role   model.Role
	Claims *Claims
}

// UserID はPrincipalのユーザーIDを返す。
func (p *Principal) UserID() int64 {
	return p.User.ID
}

// Authenticator はAuthorizationヘッダーからPrincipalを解決する。
// 1リクエストにつきユーザー検索を1回行うのみで、書き込みやトークンの更新は行わない。
type Authenticator struct {
	codec *TokenCodec
	users UserFinder
}

// NewAuthenticator はAuthenticatorを生成する。
func NewAuthenticator(codec *TokenCodec, users UserFinder) *Authenticator {
	return &Authenticator{codec: codec, users: users}
}

// Authenticate はAuthorizationヘッダーの値を検証しPrincipalを返す。
//
// 拒否理由は ErrMissingCredential / ErrInvalidToken / ErrExpiredToken /
// ErrUnknownPrincipal のいずれか。ストレージ障害はそれ以外のエラーとして返す。
func (a *Authenticator) Authenticate(ctx context.Context, authorization string) (*Principal, error) {
	token, err := ExtractBearerToken(authorization)
	if err != nil {
		return nil, err
	}

	claims, err := a.codec.Decode(token)
	if err != nil {
		return nil, err
	}

	user, err := a.users.FindByID(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find principal: %w", err)
	}
	if user == nil {
		return nil, ErrUnknownPrincipal
	}

	return &Principal{
		User:   user,
		Role:   claims.Role,
		Claims: claims,
	}, nil
}

// ExtractBearerToken は "Bearer <token>" 形式のヘッダー値からトークンを取り出す。
// スキーム名の大文字小文字は区別しない。
func ExtractBearerToken(authorization string) (string, error) {
	authorization = strings.TrimSpace(authorization)
	if len(authorization) < len(bearerPrefix) || !strings.EqualFold(authorization[:len(bearerPrefix)], bearerPrefix) {
		return "", ErrMissingCredential
	}
	token := strings.TrimSpace(authorization[len(bearerPrefix):])
	if token == "" {
		return "", ErrMissingCredential
	}
	return token, nil
}
