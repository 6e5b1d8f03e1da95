package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/fitclub/internal/auth"
	"github.com/hitoshi/fitclub/internal/health"
	"github.com/hitoshi/fitclub/internal/middleware"
	"github.com/hitoshi/fitclub/internal/model"
	"github.com/hitoshi/fitclub/internal/repository"
	"github.com/hitoshi/fitclub/internal/user"
)

// --- インメモリリポジトリ ---

type memUserRepo struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*model.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[int64]*model.User)}
}

func (r *memUserRepo) copyOf(u *model.User) *model.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func (r *memUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyOf(r.users[id]), nil
}

func (r *memUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			return r.copyOf(u), nil
		}
	}
	return nil, nil
}

func (r *memUserRepo) FindByProvider(ctx context.Context, provider model.Provider, providerID string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Provider == provider && u.ProviderID == providerID {
			return r.copyOf(u), nil
		}
	}
	return nil, nil
}

func (r *memUserRepo) Create(ctx context.Context, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == u.Email {
			return repository.ErrDuplicate
		}
	}
	r.nextID++
	u.ID = r.nextID
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	r.users[u.ID] = r.copyOf(u)
	return nil
}

func (r *memUserRepo) UpdateProfile(ctx context.Context, id int64, name string, avatarURL *string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	u.Name = name
	u.AvatarURL = avatarURL
	return r.copyOf(u), nil
}

func (r *memUserRepo) UpdatePasswordHash(ctx context.Context, id int64, hash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || u.Provider != model.ProviderEmail {
		return false, nil
	}
	u.ProviderID = hash
	return true, nil
}

func (r *memUserRepo) UpdateRole(ctx context.Context, id int64, role model.Role) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	u.Role = role
	return r.copyOf(u), nil
}

func (r *memUserRepo) List(ctx context.Context, filter model.UserListFilter) ([]*model.User, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.User{}
	for _, u := range r.users {
		out = append(out, r.copyOf(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

type memHealthRepo struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]*model.HealthRecord
}

func newMemHealthRepo() *memHealthRepo {
	return &memHealthRepo{records: make(map[int64]*model.HealthRecord)}
}

func (r *memHealthRepo) ListByUser(ctx context.Context, userID int64, since *time.Time) ([]*model.HealthRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.HealthRecord{}
	for _, rec := range r.records {
		if rec.UserID != userID {
			continue
		}
		if since != nil && rec.RecordedOn.Before(*since) {
			continue
		}
		c := *rec
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedOn.After(out[j].RecordedOn) })
	return out, nil
}

func (r *memHealthRepo) FindByIDAndUser(ctx context.Context, id, userID int64) (*model.HealthRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.UserID != userID {
		return nil, nil
	}
	c := *rec
	return &c, nil
}

func (r *memHealthRepo) Create(ctx context.Context, rec *model.HealthRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	rec.ID = r.nextID
	rec.CreatedAt = time.Now()
	rec.UpdatedAt = rec.CreatedAt
	c := *rec
	r.records[rec.ID] = &c
	return nil
}

func (r *memHealthRepo) Update(ctx context.Context, rec *model.HealthRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.records[rec.ID]
	if !ok || existing.UserID != rec.UserID {
		return false, nil
	}
	c := *rec
	r.records[rec.ID] = &c
	return true, nil
}

func (r *memHealthRepo) Delete(ctx context.Context, id, userID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.records[id]
	if !ok || existing.UserID != userID {
		return false, nil
	}
	delete(r.records, id)
	return true, nil
}

type memAdviceRepo struct {
	mu     sync.Mutex
	nextID int64
	advice []*model.Advice
}

func (r *memAdviceRepo) ListByUser(ctx context.Context, userID int64) ([]*model.Advice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.Advice{}
	for _, a := range r.advice {
		if a.UserID == userID {
			c := *a
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *memAdviceRepo) FindByIDAndUser(ctx context.Context, id, userID int64) (*model.Advice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.advice {
		if a.ID == id && a.UserID == userID {
			c := *a
			return &c, nil
		}
	}
	return nil, nil
}

func (r *memAdviceRepo) Create(ctx context.Context, a *model.Advice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	a.ID = r.nextID
	a.CreatedAt = time.Now()
	c := *a
	r.advice = append(r.advice, &c)
	return nil
}

// --- 統合テスト用ルーター ---

type integrationState struct {
	users  *memUserRepo
	router http.Handler
}

func newIntegrationState(t *testing.T) *integrationState {
	t.Helper()

	users := newMemUserRepo()
	codec, err := auth.NewTokenCodec("integration-test-secret")
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	authService := auth.NewService(users, codec, auth.ServiceConfig{TokenTTL: time.Hour})
	healthService := health.NewService(newMemHealthRepo(), &memAdviceRepo{}, users, nil)

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	router := NewRouter(&RouterDeps{
		Authenticator:   auth.NewAuthenticator(codec, users),
		RateLimiter:     rl,
		HealthChecker:   &mockPinger{},
		AuthService:     authService,
		AuthConfig:      AuthHandlerConfig{BaseURL: "http://localhost:3000"},
		UserService:     user.NewService(users, auth.IsHTTPSURL),
		PasswordChanger: authService,
		HealthService:   healthService,
		SupportService:  &mockSupportService{},
		ContentService:  &mockContentService{},
	})

	return &integrationState{users: users, router: router}
}

func (s *integrationState) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.RemoteAddr = "192.0.2.1:1234"
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// register は会員登録してトークンとユーザーIDを返す。
func (s *integrationState) register(t *testing.T, email string) (string, int64) {
	t.Helper()
	body := `{"email":"` + email + `","password":"password123","name":"会員"}`
	w := s.do(t, http.MethodPost, "/api/auth/register", "", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("register %s status = %d, body = %s", email, w.Code, w.Body.String())
	}
	var resp authResponse
	decodeData(t, w, &resp)
	return resp.Token, resp.User.ID
}

// --- 統合テスト ---

func TestIntegration_RegisterLoginVerify(t *testing.T) {
	s := newIntegrationState(t)

	token, id := s.register(t, "taro@example.com")
	if token == "" {
		t.Fatal("register should issue a token")
	}

	// 同じメールアドレスでの再登録は409
	w := s.do(t, http.MethodPost, "/api/auth/register", "", `{"email":"TARO@example.com","password":"password123","name":"別人"}`)
	assertErrorEnvelope(t, w, http.StatusConflict, model.ErrCodeConflict)

	// 誤ったパスワードは401
	w = s.do(t, http.MethodPost, "/api/auth/login", "", `{"email":"taro@example.com","password":"wrong-password"}`)
	assertErrorEnvelope(t, w, http.StatusUnauthorized, model.ErrCodeInvalidCredentials)

	w = s.do(t, http.MethodPost, "/api/auth/login", "", `{"email":"taro@example.com","password":"password123"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", w.Code, w.Body.String())
	}
	var login authResponse
	decodeData(t, w, &login)

	w = s.do(t, http.MethodGet, "/api/auth/verify", login.Token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("verify status = %d, body = %s", w.Code, w.Body.String())
	}
	var verify verifyResponse
	decodeData(t, w, &verify)
	if verify.User.ID != id || verify.Claims.UserID != id {
		t.Errorf("verify user/claims id = %d/%d, want %d", verify.User.ID, verify.Claims.UserID, id)
	}
	if verify.Claims.Role != "user" || verify.Claims.Email != "taro@example.com" {
		t.Errorf("claims = %+v", verify.Claims)
	}
	if verify.Claims.ExpiresAt <= verify.Claims.IssuedAt {
		t.Errorf("exp %d should be after iat %d", verify.Claims.ExpiresAt, verify.Claims.IssuedAt)
	}

	// 改ざんしたトークンは401
	w = s.do(t, http.MethodGet, "/api/me", login.Token+"x", "")
	assertErrorEnvelope(t, w, http.StatusUnauthorized, model.ErrCodeInvalidToken)
}

func TestIntegration_AdminLoginAndAdminRoutes(t *testing.T) {
	s := newIntegrationState(t)

	userToken, memberID := s.register(t, "member@example.com")
	_, adminID := s.register(t, "staff@example.com")
	if _, err := s.users.UpdateRole(context.Background(), adminID, model.RoleAdmin); err != nil {
		t.Fatal(err)
	}

	t.Run("一般会員の管理者ログインは403", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/auth/admin/login", "", `{"email":"member@example.com","password":"password123"}`)
		assertErrorEnvelope(t, w, http.StatusForbidden, model.ErrCodeInsufficientRole)
	})

	t.Run("一般会員のトークンで管理APIは403", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/admin/members", userToken, "")
		assertErrorEnvelope(t, w, http.StatusForbidden, model.ErrCodeInsufficientRole)
	})

	w := s.do(t, http.MethodPost, "/api/auth/admin/login", "", `{"email":"staff@example.com","password":"password123"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("admin login status = %d, body = %s", w.Code, w.Body.String())
	}
	var admin authResponse
	decodeData(t, w, &admin)

	t.Run("管理者は会員一覧を取得できる", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/admin/members", admin.Token, "")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
		}
		var resp memberListResponse
		decodeData(t, w, &resp)
		if resp.Total != 2 {
			t.Errorf("total = %d, want 2", resp.Total)
		}
	})

	t.Run("管理者は会員にアドバイスを送れる", func(t *testing.T) {
		path := "/api/admin/members/" + strconv.FormatInt(memberID, 10) + "/advice"
		w := s.do(t, http.MethodPost, path, admin.Token, `{"content":"週3回のトレーニングを続けましょう。"}`)
		if w.Code != http.StatusCreated {
			t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
		}

		w = s.do(t, http.MethodGet, "/api/me/advice", userToken, "")
		var list []adviceResponse
		decodeData(t, w, &list)
		if len(list) != 1 || list[0].Source != "staff" {
			t.Errorf("advice = %+v", list)
		}
	})
}

func TestIntegration_HealthRecordsAreIsolatedPerMember(t *testing.T) {
	s := newIntegrationState(t)

	aliceToken, _ := s.register(t, "alice@example.com")
	bobToken, _ := s.register(t, "bob@example.com")

	w := s.do(t, http.MethodPost, "/api/me/health-records", aliceToken, `{"recorded_on":"2024-06-01","weight_kg":55.2}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	var rec healthRecordResponse
	decodeData(t, w, &rec)
	path := "/api/me/health-records/" + strconv.FormatInt(rec.ID, 10)

	t.Run("他の会員の記録は存在しない扱い", func(t *testing.T) {
		w := s.do(t, http.MethodGet, path, bobToken, "")
		assertErrorEnvelope(t, w, http.StatusNotFound, model.ErrCodeNotFound)

		w = s.do(t, http.MethodPut, path, bobToken, `{"recorded_on":"2024-06-01","weight_kg":99}`)
		assertErrorEnvelope(t, w, http.StatusNotFound, model.ErrCodeNotFound)

		w = s.do(t, http.MethodDelete, path, bobToken, "")
		assertErrorEnvelope(t, w, http.StatusNotFound, model.ErrCodeNotFound)
	})

	t.Run("一覧には自分の記録のみ含まれる", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/me/health-records", bobToken, "")
		var list []healthRecordResponse
		decodeData(t, w, &list)
		if len(list) != 0 {
			t.Errorf("bob sees %d records, want 0", len(list))
		}

		w = s.do(t, http.MethodGet, "/api/me/health-records", aliceToken, "")
		decodeData(t, w, &list)
		if len(list) != 1 || list[0].WeightKg == nil || *list[0].WeightKg != 55.2 {
			t.Errorf("alice records = %+v", list)
		}
	})

	t.Run("所有者は削除できる", func(t *testing.T) {
		w := s.do(t, http.MethodDelete, path, aliceToken, "")
		if w.Code != http.StatusNoContent {
			t.Errorf("status = %d, want 204", w.Code)
		}
	})

}

func TestIntegration_ResponsesNeverExposePasswordHash(t *testing.T) {
	s := newIntegrationState(t)
	token, _ := s.register(t, "hash@example.com")

	w := s.do(t, http.MethodGet, "/api/me", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "argon2id") || strings.Contains(w.Body.String(), "provider_id") {
		t.Errorf("response exposes credential material: %s", w.Body.String())
	}
}
