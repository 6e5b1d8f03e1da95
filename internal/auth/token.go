package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/fitclub/internal/model"
)

// Claims はトークンに含めるセッション情報。
// exp は秒単位のUNIX時刻としてシリアライズされる。
type Claims struct {
	UserID int64      `json:"userId"`
	Email  string     `json:"email"`
	Role   model.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenCodec はHS256署名付きトークンの発行と検証を行う。
// 状態は署名鍵と時計のみで、I/Oは行わない。
type TokenCodec struct {
	secret []byte
	now    func() time.Time
}

// CodecOption はTokenCodecの生成オプション。
type CodecOption func(*TokenCodec)

// WithClock は現在時刻の取得関数を差し替える。テスト用。
func WithClock(now func() time.Time) CodecOption {
	return func(c *TokenCodec) {
		c.now = now
	}
}

// NewTokenCodec はTokenCodecを生成する。
// 空の署名鍵は設定ミスとしてErrEmptySecretを返す。
func NewTokenCodec(secret string, opts ...CodecOption) (*TokenCodec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrEmptySecret
	}
	c := &TokenCodec{
		secret: []byte(secret),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Encode はclaimsに有効期限を設定して署名済みトークンを返す。
// ttlが0以下でもエラーにはせず、発行時点で期限切れのトークンを返す。
func (c *TokenCodec) Encode(claims Claims, ttl time.Duration) (string, error) {
	now := c.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Decode はトークンの署名と有効期限を検証してclaimsを返す。
//
// 署名検証は期限の検証より先に行われるため、改ざんされたトークンは
// 期限切れであってもErrInvalidTokenになる。
// 期限はexpが現在時刻より厳密に後の場合のみ有効で、時刻ずれの猶予はない。
func (c *TokenCodec) Decode(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) {
			return c.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.UserID <= 0 || !claims.Role.Valid() {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
