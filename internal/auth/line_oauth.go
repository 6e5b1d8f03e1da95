package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hitoshi/fitclub/internal/model"
)

const (
	defaultLINEAuthURL   = "https://access.line.me/oauth2/v2.1/authorize"
	defaultLINETokenURL  = "https://api.line.me/oauth2/v2.1/token"
	defaultLINEVerifyURL = "https://api.line.me/oauth2/v2.1/verify"
)

// LINEOAuthConfig はLINEログインの設定。
type LINEOAuthConfig struct {
	ChannelID     string
	ChannelSecret string
	RedirectURL   string

	// テスト用にオーバーライド可能
	AuthURL    string
	TokenURL   string
	VerifyURL  string
	HTTPClient *http.Client
}

// LINEOAuthProvider はLINEログイン v2.1 による認証を提供する。
// ユーザー情報はIDトークンの検証エンドポイントから取得する。
type LINEOAuthProvider struct {
	config LINEOAuthConfig
}

// NewLINEOAuthProvider はLINEOAuthProviderを生成する。
func NewLINEOAuthProvider(config LINEOAuthConfig) *LINEOAuthProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultLINEAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultLINETokenURL
	}
	if config.VerifyURL == "" {
		config.VerifyURL = defaultLINEVerifyURL
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: defaultOAuthTimeout}
	}
	return &LINEOAuthProvider{config: config}
}

// Provider はmodel.ProviderLINEを返す。
func (p *LINEOAuthProvider) Provider() model.Provider {
	return model.ProviderLINE
}

// GetLoginURL はLINEログインの認証URLを生成する。
func (p *LINEOAuthProvider) GetLoginURL(state string) string {
	params := url.Values{
		"response_type": {"code"},
		"client_id":     {p.config.ChannelID},
		"redirect_uri":  {p.config.RedirectURL},
		"state":         {state},
		"scope":         {"openid profile email"},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

type lineTokenResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type lineIDTokenClaims struct {
	Sub     string `json:"sub"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
	Email   string `json:"email"`
}

// ExchangeCode は認可コードをトークンに交換し、IDトークンを検証してユーザー情報を取得する。
// emailスコープが許可されなかった場合、Emailは空になる。
func (p *LINEOAuthProvider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	var tokenResp lineTokenResponse
	err := postForm(ctx, p.config.HTTPClient, p.config.TokenURL, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {p.config.RedirectURL},
		"client_id":     {p.config.ChannelID},
		"client_secret": {p.config.ChannelSecret},
	}, &tokenResp)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}
	if tokenResp.IDToken == "" {
		return nil, fmt.Errorf("empty id token in response")
	}

	var claims lineIDTokenClaims
	err = postForm(ctx, p.config.HTTPClient, p.config.VerifyURL, url.Values{
		"id_token":  {tokenResp.IDToken},
		"client_id": {p.config.ChannelID},
	}, &claims)
	if err != nil {
		return nil, fmt.Errorf("failed to verify id token: %w", err)
	}
	if claims.Sub == "" {
		return nil, fmt.Errorf("empty sub in id token")
	}

	return &OAuthUserInfo{
		Provider:       model.ProviderLINE,
		ProviderUserID: claims.Sub,
		Email:          claims.Email,
		Name:           claims.Name,
		AvatarURL:      claims.Picture,
	}, nil
}

// compile-time interface check
var _ OAuthProvider = (*LINEOAuthProvider)(nil)
