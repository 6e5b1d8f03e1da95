package handler

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/fitclub/internal/auth"
	"github.com/hitoshi/fitclub/internal/middleware"
	"github.com/hitoshi/fitclub/internal/model"
)

const (
	oauthStateCookie = "oauth_state"
	oauthStateMaxAge = 600 // 10分
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, in auth.RegisterInput) (*auth.AuthResult, error)
	Login(ctx context.Context, email, password string) (*auth.AuthResult, error)
	AdminLogin(ctx context.Context, email, password string) (*auth.AuthResult, error)
	HasProvider(provider model.Provider) bool
	GetLoginURL(provider model.Provider, state string) (string, error)
	HandleCallback(ctx context.Context, provider model.Provider, code string) (*auth.AuthResult, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL      string
	CookieDomain string
	CookieSecure bool
}

// AuthHandler は会員登録・ログイン・OAuthフローのHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type claimsResponse struct {
	UserID    int64  `json:"userId"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	ExpiresAt int64  `json:"exp"`
	IssuedAt  int64  `json:"iat,omitempty"`
}

type verifyResponse struct {
	User   userResponse   `json:"user"`
	Claims claimsResponse `json:"claims"`
}

// Register はemailプロバイダーで会員登録する。
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.Register(r.Context(), auth.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, toAuthResponse(result))
}

// Login はメールアドレスとパスワードでログインする。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, h.service.Login)
}

// AdminLogin は管理者としてログインする。管理者でない場合は403。
// POST /api/auth/admin/login
func (h *AuthHandler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, h.service.AdminLogin)
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, email, password string) (*auth.AuthResult, error)) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := fn(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, toAuthResponse(result))
}

// Verify はトークンを検証し、ユーザーとクレームを返す。
// GET /api/auth/verify
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	resp := verifyResponse{
		User: toUserResponse(p.User),
		Claims: claimsResponse{
			UserID: p.User.ID,
			Role:   string(p.Role),
		},
	}
	if p.Claims != nil {
		resp.Claims.UserID = p.Claims.UserID
		resp.Claims.Email = p.Claims.Email
		if p.Claims.ExpiresAt != nil {
			resp.Claims.ExpiresAt = p.Claims.ExpiresAt.Unix()
		}
		if p.Claims.IssuedAt != nil {
			resp.Claims.IssuedAt = p.Claims.IssuedAt.Unix()
		}
	}

	middleware.WriteJSON(w, http.StatusOK, resp)
}

// OAuthLogin はOAuthフローを開始するハンドラーを返す。
// GET /api/auth/{provider}/login
func (h *AuthHandler) OAuthLogin(provider model.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := generateState()
		if err != nil {
			slog.Error("OAuth stateの生成に失敗しました", slog.String("error", err.Error()))
			middleware.WriteInternalServerError(w)
			return
		}

		loginURL, err := h.service.GetLoginURL(provider, state)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		// stateをCookieに保存（CSRF対策）
		http.SetCookie(w, h.stateCookie(provider, state, oauthStateMaxAge))
		http.Redirect(w, r, loginURL, http.StatusTemporaryRedirect)
	}
}

// OAuthCallback はOAuthコールバックを処理するハンドラーを返す。
// 成功するとフロントエンドの BASE_URL/#token=<jwt> にリダイレクトする。
// GET /api/auth/{provider}/callback?code=xxx&state=yyy
func (h *AuthHandler) OAuthCallback(provider model.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := r.URL.Query().Get("state")
		cookie, err := r.Cookie(oauthStateCookie)
		if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) != 1 {
			slog.Warn("OAuth stateが一致しません", slog.String("provider", string(provider)))
			middleware.WriteErrorResponse(w, model.NewValidationError("不正なリクエストです。もう一度ログインしてください。"))
			return
		}

		// stateは1回限り
		http.SetCookie(w, h.stateCookie(provider, "", -1))

		if errParam := r.URL.Query().Get("error"); errParam != "" {
			slog.Warn("OAuth認可が拒否されました",
				slog.String("provider", string(provider)),
				slog.String("error", errParam),
			)
			middleware.WriteErrorResponse(w, model.NewUpstreamError())
			return
		}

		result, err := h.service.HandleCallback(r.Context(), provider, r.URL.Query().Get("code"))
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		http.Redirect(w, r, h.tokenRedirectURL(result.Token), http.StatusTemporaryRedirect)
	}
}

func (h *AuthHandler) stateCookie(provider model.Provider, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     oauthStateCookie,
		Value:    value,
		Path:     "/api/auth/" + string(provider),
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

// tokenRedirectURL はトークンをクエリではなくフラグメントに載せたリダイレクト先を返す。
func (h *AuthHandler) tokenRedirectURL(token string) string {
	return strings.TrimRight(h.config.BaseURL, "/") + "/#token=" + url.QueryEscape(token)
}

func toAuthResponse(result *auth.AuthResult) authResponse {
	return authResponse{
		Token: result.Token,
		User:  toUserResponse(result.User),
	}
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
