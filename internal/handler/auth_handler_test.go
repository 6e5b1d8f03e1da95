package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/fitclub/internal/auth"
	"github.com/hitoshi/fitclub/internal/middleware"
	"github.com/hitoshi/fitclub/internal/model"
)

func newTestAuthHandler(svc *mockAuthService) *AuthHandler {
	return NewAuthHandler(svc, AuthHandlerConfig{
		BaseURL:      "http://localhost:3000/",
		CookieSecure: true,
	})
}

func TestAuthHandler_Register(t *testing.T) {
	t.Run("登録に成功すると201でトークンとユーザーを返す", func(t *testing.T) {
		var got auth.RegisterInput
		svc := &mockAuthService{
			registerFn: func(ctx context.Context, in auth.RegisterInput) (*auth.AuthResult, error) {
				got = in
				return &auth.AuthResult{Token: "jwt-token", User: testUser(1, model.RoleUser)}, nil
			},
		}
		h := newTestAuthHandler(svc)

		body := `{"email":"member@example.com","password":"password123","name":"会員"}`
		w := httptest.NewRecorder()
		h.Register(w, httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(body)))

		if w.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201", w.Code)
		}
		if got.Email != "member@example.com" || got.Password != "password123" || got.Name != "会員" {
			t.Errorf("RegisterInput = %+v", got)
		}

		var resp authResponse
		decodeData(t, w, &resp)
		if resp.Token != "jwt-token" {
			t.Errorf("token = %q", resp.Token)
		}
		if resp.User.ID != 1 || resp.User.Role != "user" {
			t.Errorf("user = %+v", resp.User)
		}
	})

	t.Run("パスワードハッシュはレスポンスに含めない", func(t *testing.T) {
		svc := &mockAuthService{
			registerFn: func(ctx context.Context, in auth.RegisterInput) (*auth.AuthResult, error) {
				return &auth.AuthResult{Token: "t", User: testUser(1, model.RoleUser)}, nil
			},
		}
		h := newTestAuthHandler(svc)

		w := httptest.NewRecorder()
		h.Register(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@example.com","password":"password123","name":"a"}`)))

		if strings.Contains(w.Body.String(), "argon2id") {
			t.Errorf("response leaks password hash: %s", w.Body.String())
		}
	})

	t.Run("メールアドレスが重複していると409を返す", func(t *testing.T) {
		svc := &mockAuthService{
			registerFn: func(ctx context.Context, in auth.RegisterInput) (*auth.AuthResult, error) {
				return nil, model.NewConflictError("このメールアドレスは既に登録されています。")
			},
		}
		h := newTestAuthHandler(svc)

		w := httptest.NewRecorder()
		h.Register(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@example.com","password":"password123","name":"a"}`)))

		assertErrorEnvelope(t, w, http.StatusConflict, model.ErrCodeConflict)
	})

	t.Run("不正なボディは400を返しサービスを呼ばない", func(t *testing.T) {
		called := false
		svc := &mockAuthService{
			registerFn: func(ctx context.Context, in auth.RegisterInput) (*auth.AuthResult, error) {
				called = true
				return nil, nil
			},
		}
		h := newTestAuthHandler(svc)

		w := httptest.NewRecorder()
		h.Register(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`not json`)))

		assertErrorEnvelope(t, w, http.StatusBadRequest, model.ErrCodeValidation)
		if called {
			t.Error("Register should not be called")
		}
	})
}

func TestAuthHandler_Login(t *testing.T) {
	t.Run("ログインに成功すると200でトークンを返す", func(t *testing.T) {
		svc := &mockAuthService{
			loginFn: func(ctx context.Context, email, password string) (*auth.AuthResult, error) {
				if email != "member@example.com" || password != "password123" {
					t.Errorf("Login(%q, %q)", email, password)
				}
				return &auth.AuthResult{Token: "jwt-token", User: testUser(1, model.RoleUser)}, nil
			},
		}
		h := newTestAuthHandler(svc)

		w := httptest.NewRecorder()
		h.Login(w, httptest.NewRequest(http.MethodPost, "/api/auth/login",
			strings.NewReader(`{"email":"member@example.com","password":"password123"}`)))

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		var resp authResponse
		decodeData(t, w, &resp)
		if resp.Token != "jwt-token" {
			t.Errorf("token = %q", resp.Token)
		}
	})

	t.Run("認証情報が誤っていると401を返す", func(t *testing.T) {
		svc := &mockAuthService{
			loginFn: func(ctx context.Context, email, password string) (*auth.AuthResult, error) {
				return nil, model.NewInvalidCredentialsError()
			},
		}
		h := newTestAuthHandler(svc)

		w := httptest.NewRecorder()
		h.Login(w, httptest.NewRequest(http.MethodPost, "/api/auth/login",
			strings.NewReader(`{"email":"member@example.com","password":"wrong"}`)))

		assertErrorEnvelope(t, w, http.StatusUnauthorized, model.ErrCodeInvalidCredentials)
	})
}

func TestAuthHandler_AdminLogin(t *testing.T) {
	t.Run("管理者でない場合は403を返す", func(t *testing.T) {
		svc := &mockAuthService{
			adminLoginFn: func(ctx context.Context, email, password string) (*auth.AuthResult, error) {
				return nil, model.NewInsufficientRoleError()
			},
			loginFn: func(ctx context.Context, email, password string) (*auth.AuthResult, error) {
				t.Error("Login should not be called from AdminLogin")
				return nil, nil
			},
		}
		h := newTestAuthHandler(svc)

		w := httptest.NewRecorder()
		h.AdminLogin(w, httptest.NewRequest(http.MethodPost, "/api/auth/admin/login",
			strings.NewReader(`{"email":"member@example.com","password":"password123"}`)))

		assertErrorEnvelope(t, w, http.StatusForbidden, model.ErrCodeInsufficientRole)
	})

	t.Run("管理者は200でトークンを受け取る", func(t *testing.T) {
		svc := &mockAuthService{
			adminLoginFn: func(ctx context.Context, email, password string) (*auth.AuthResult, error) {
				return &auth.AuthResult{Token: "admin-token", User: testUser(9, model.RoleAdmin)}, nil
			},
		}
		h := newTestAuthHandler(svc)

		w := httptest.NewRecorder()
		h.AdminLogin(w, httptest.NewRequest(http.MethodPost, "/api/auth/admin/login",
			strings.NewReader(`{"email":"admin@example.com","password":"password123"}`)))

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		var resp authResponse
		decodeData(t, w, &resp)
		if resp.User.Role != "admin" {
			t.Errorf("role = %q, want admin", resp.User.Role)
		}
	})
}

func TestAuthHandler_Verify(t *testing.T) {
	t.Run("Principalのユーザーとクレームを返す", func(t *testing.T) {
		h := newTestAuthHandler(&mockAuthService{})

		issued := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
		p := &auth.Principal{
			User: testUser(5, model.RoleAdmin),
			Role: model.RoleAdmin,
			Claims: &auth.Claims{
				UserID: 5,
				Email:  "member@example.com",
				Role:   model.RoleAdmin,
				RegisteredClaims: jwt.RegisteredClaims{
					IssuedAt:  jwt.NewNumericDate(issued),
					ExpiresAt: jwt.NewNumericDate(issued.Add(24 * time.Hour)),
				},
			},
		}
		req := httptest.NewRequest(http.MethodGet, "/api/auth/verify", nil)
		req = req.WithContext(middleware.ContextWithPrincipal(req.Context(), p))

		w := httptest.NewRecorder()
		h.Verify(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		var resp verifyResponse
		decodeData(t, w, &resp)
		if resp.User.ID != 5 {
			t.Errorf("user.id = %d, want 5", resp.User.ID)
		}
		if resp.Claims.UserID != 5 || resp.Claims.Role != "admin" || resp.Claims.Email != "member@example.com" {
			t.Errorf("claims = %+v", resp.Claims)
		}
		if resp.Claims.IssuedAt != issued.Unix() || resp.Claims.ExpiresAt != issued.Add(24*time.Hour).Unix() {
			t.Errorf("iat/exp = %d/%d", resp.Claims.IssuedAt, resp.Claims.ExpiresAt)
		}
	})

	t.Run("Principalがない場合は401を返す", func(t *testing.T) {
		h := newTestAuthHandler(&mockAuthService{})

		w := httptest.NewRecorder()
		h.Verify(w, httptest.NewRequest(http.MethodGet, "/api/auth/verify", nil))

		assertErrorEnvelope(t, w, http.StatusUnauthorized, model.ErrCodeMissingCredential)
	})
}

func TestAuthHandler_OAuthLogin(t *testing.T) {
	t.Run("stateをCookieに保存して認可URLへリダイレクトする", func(t *testing.T) {
		var gotState string
		svc := &mockAuthService{
			getLoginURLFn: func(provider model.Provider, state string) (string, error) {
				if provider != model.ProviderGoogle {
					t.Errorf("provider = %q", provider)
				}
				gotState = state
				return "https://accounts.google.com/o/oauth2/auth?state=" + state, nil
			},
		}
		h := newTestAuthHandler(svc)

		w := httptest.NewRecorder()
		h.OAuthLogin(model.ProviderGoogle)(w, httptest.NewRequest(http.MethodGet, "/api/auth/google/login", nil))

		if w.Code != http.StatusTemporaryRedirect {
			t.Fatalf("status = %d, want 307", w.Code)
		}
		if len(gotState) != 32 {
			t.Errorf("state length = %d, want 32", len(gotState))
		}
		if loc := w.Header().Get("Location"); !strings.HasSuffix(loc, "state="+gotState) {
			t.Errorf("Location = %q", loc)
		}

		var stateCookie *http.Cookie
		for _, c := range w.Result().Cookies() {
			if c.Name == oauthStateCookie {
				stateCookie = c
			}
		}
		if stateCookie == nil {
			t.Fatal("oauth_state cookie not set")
		}
		if stateCookie.Value != gotState {
			t.Errorf("cookie value = %q, want %q", stateCookie.Value, gotState)
		}
		if !stateCookie.HttpOnly || !stateCookie.Secure {
			t.Error("cookie must be HttpOnly and Secure")
		}
		if stateCookie.Path != "/api/auth/google" {
			t.Errorf("cookie path = %q", stateCookie.Path)
		}
		if stateCookie.MaxAge != oauthStateMaxAge {
			t.Errorf("cookie MaxAge = %d", stateCookie.MaxAge)
		}
	})

	t.Run("プロバイダーが設定されていなければ404を返す", func(t *testing.T) {
		svc := &mockAuthService{
			getLoginURLFn: func(provider model.Provider, state string) (string, error) {
				return "", model.NewNotFoundError("認証プロバイダー")
			},
		}
		h := newTestAuthHandler(svc)

		w := httptest.NewRecorder()
		h.OAuthLogin(model.ProviderLINE)(w, httptest.NewRequest(http.MethodGet, "/api/auth/line/login", nil))

		assertErrorEnvelope(t, w, http.StatusNotFound, model.ErrCodeNotFound)
	})
}

func callbackRequest(query, cookieValue string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/auth/google/callback?"+query, nil)
	if cookieValue != "" {
		req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: cookieValue})
	}
	return req
}

func TestAuthHandler_OAuthCallback(t *testing.T) {
	t.Run("成功するとフラグメントにトークンを載せてリダイレクトする", func(t *testing.T) {
		svc := &mockAuthService{
			handleCallbackFn: func(ctx context.Context, provider model.Provider, code string) (*auth.AuthResult, error) {
				if code != "auth-code" {
					t.Errorf("code = %q", code)
				}
				return &auth.AuthResult{Token: "a.b+c", User: testUser(1, model.RoleUser)}, nil
			},
		}
		h := newTestAuthHandler(svc)

		w := httptest.NewRecorder()
		h.OAuthCallback(model.ProviderGoogle)(w, callbackRequest("code=auth-code&state=abc", "abc"))

		if w.Code != http.StatusTemporaryRedirect {
			t.Fatalf("status = %d, want 307", w.Code)
		}
		want := "http://localhost:3000/#token=" + url.QueryEscape("a.b+c")
		if loc := w.Header().Get("Location"); loc != want {
			t.Errorf("Location = %q, want %q", loc, want)
		}

		cleared := false
		for _, c := range w.Result().Cookies() {
			if c.Name == oauthStateCookie && c.MaxAge < 0 {
				cleared = true
			}
		}
		if !cleared {
			t.Error("oauth_state cookie should be cleared")
		}
	})

	t.Run("stateが一致しない場合は400を返す", func(t *testing.T) {
		tests := []struct {
			name   string
			query  string
			cookie string
		}{
			{"Cookieなし", "code=x&state=abc", ""},
			{"state不一致", "code=x&state=abc", "xyz"},
			{"stateなし", "code=x", "abc"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				svc := &mockAuthService{
					handleCallbackFn: func(ctx context.Context, provider model.Provider, code string) (*auth.AuthResult, error) {
						t.Error("HandleCallback should not be called")
						return nil, nil
					},
				}
				h := newTestAuthHandler(svc)

				w := httptest.NewRecorder()
				h.OAuthCallback(model.ProviderGoogle)(w, callbackRequest(tt.query, tt.cookie))

				assertErrorEnvelope(t, w, http.StatusBadRequest, model.ErrCodeValidation)
			})
		}
	})

	t.Run("認可が拒否された場合は500を返す", func(t *testing.T) {
		h := newTestAuthHandler(&mockAuthService{})

		w := httptest.NewRecorder()
		h.OAuthCallback(model.ProviderGoogle)(w, callbackRequest("error=access_denied&state=abc", "abc"))

		assertErrorEnvelope(t, w, http.StatusInternalServerError, model.ErrCodeUpstream)
	})

	t.Run("トークン交換に失敗した場合は500を返す", func(t *testing.T) {
		svc := &mockAuthService{
			handleCallbackFn: func(ctx context.Context, provider model.Provider, code string) (*auth.AuthResult, error) {
				return nil, model.NewUpstreamError()
			},
		}
		h := newTestAuthHandler(svc)

		w := httptest.NewRecorder()
		h.OAuthCallback(model.ProviderGoogle)(w, callbackRequest("code=x&state=abc", "abc"))

		assertErrorEnvelope(t, w, http.StatusInternalServerError, model.ErrCodeUpstream)
	})
}
