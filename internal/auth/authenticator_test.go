package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/fitclub/internal/model"
)

type mockUserFinder struct {
	findByIDFn func(ctx context.Context, id int64) (*model.User, error)
	calls      int
}

func (m *mockUserFinder) FindByID(ctx context.Context, id int64) (*model.User, error) {
	m.calls++
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr error
	}{
		{"正常", "Bearer abc.def.ghi", "abc.def.ghi", nil},
		{"小文字スキーム", "bearer abc.def.ghi", "abc.def.ghi", nil},
		{"前後の空白", "  Bearer   abc.def.ghi  ", "abc.def.ghi", nil},
		{"ヘッダーなし", "", "", ErrMissingCredential},
		{"Basicスキーム", "Basic dXNlcjpwYXNz", "", ErrMissingCredential},
		{"トークンなし", "Bearer ", "", ErrMissingCredential},
		{"スキームのみ", "Bearer", "", ErrMissingCredential},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractBearerToken(tt.header)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthenticator_Authenticate_Success(t *testing.T) {
	codec := newTestCodec(t, &fixedClock{now: time.Now()})
	users := &mockUserFinder{
		findByIDFn: func(_ context.Context, id int64) (*model.User, error) {
			// DB上のロールはトークン発行後に変わっていても影響しない
			return &model.User{ID: id, Email: "member@example.com", Role: model.RoleAdmin}, nil
		},
	}
	authn := NewAuthenticator(codec, users)

	token, err := codec.Encode(testClaims(), time.Hour)
	require.NoError(t, err)

	p, err := authn.Authenticate(context.Background(), "Bearer "+token)
	require.NoError(t, err)

	assert.Equal(t, int64(42), p.UserID())
	assert.Equal(t, model.RoleUser, p.Role)
	assert.Equal(t, "member@example.com", p.Claims.Email)
	assert.Equal(t, 1, users.calls)
}

func TestAuthenticator_Authenticate_Rejections(t *testing.T) {
	clock := &fixedClock{now: time.Now()}
	codec := newTestCodec(t, clock)

	valid, err := codec.Encode(testClaims(), time.Hour)
	require.NoError(t, err)
	expired, err := codec.Encode(testClaims(), -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name    string
		header  string
		user    *model.User
		wantErr error
		calls   int
	}{
		{"ヘッダーなし", "", nil, ErrMissingCredential, 0},
		{"不正なトークン", "Bearer not.a.token", nil, ErrInvalidToken, 0},
		{"期限切れ", "Bearer " + expired, nil, ErrExpiredToken, 0},
		{"ユーザー不在", "Bearer " + valid, nil, ErrUnknownPrincipal, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := &mockUserFinder{
				findByIDFn: func(context.Context, int64) (*model.User, error) { return tt.user, nil },
			}
			authn := NewAuthenticator(codec, users)

			p, err := authn.Authenticate(context.Background(), tt.header)
			assert.Nil(t, p)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.calls, users.calls)

			apiErr, ok := ToAPIError(err)
			require.True(t, ok)
			assert.NotEmpty(t, apiErr.Code)
		})
	}
}

func TestAuthenticator_Authenticate_StorageErrorIsNotRejection(t *testing.T) {
	codec := newTestCodec(t, &fixedClock{now: time.Now()})
	users := &mockUserFinder{
		findByIDFn: func(context.Context, int64) (*model.User, error) {
			return nil, errors.New("connection refused")
		},
	}
	authn := NewAuthenticator(codec, users)

	token, err := codec.Encode(testClaims(), time.Hour)
	require.NoError(t, err)

	_, err = authn.Authenticate(context.Background(), "Bearer "+token)
	require.Error(t, err)

	_, isRejection := ToAPIError(err)
	assert.False(t, isRejection)
}

func TestToAPIError_Codes(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{ErrMissingCredential, model.ErrCodeMissingCredential},
		{ErrInvalidToken, model.ErrCodeInvalidToken},
		{ErrExpiredToken, model.ErrCodeExpiredToken},
		{ErrUnknownPrincipal, model.ErrCodeUnknownPrincipal},
		{ErrInsufficientRole, model.ErrCodeInsufficientRole},
	}
	for _, tt := range tests {
		apiErr, ok := ToAPIError(tt.err)
		require.True(t, ok)
		assert.Equal(t, tt.code, apiErr.Code)
	}
}
