package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/fitclub/internal/auth"
	"github.com/hitoshi/fitclub/internal/content"
	"github.com/hitoshi/fitclub/internal/health"
	"github.com/hitoshi/fitclub/internal/middleware"
	"github.com/hitoshi/fitclub/internal/model"
	"github.com/hitoshi/fitclub/internal/support"
	"github.com/hitoshi/fitclub/internal/user"
)

// --- テストヘルパー ---

// testEnvelope はレスポンスエンベロープのデコード先。dataは後からデコードする。
type testEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) testEnvelope {
	t.Helper()
	var env testEnvelope
	if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}
	return env
}

// decodeData はエンベロープのdataをdstにデコードする。
func decodeData(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	env := decodeEnvelope(t, w)
	if !env.Success {
		t.Fatalf("expected success envelope, got error=%q message=%q", env.Error, env.Message)
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("failed to decode data: %v", err)
	}
}

// assertErrorEnvelope はステータスとエラーコードを検証する。
func assertErrorEnvelope(t *testing.T, w *httptest.ResponseRecorder, wantStatus int, wantCode string) {
	t.Helper()
	if w.Code != wantStatus {
		t.Errorf("status = %d, want %d", w.Code, wantStatus)
	}
	env := decodeEnvelope(t, w)
	if env.Success {
		t.Error("success = true, want false")
	}
	if env.Error != wantCode {
		t.Errorf("error = %q, want %q", env.Error, wantCode)
	}
}

func testUser(id int64, role model.Role) *model.User {
	return &model.User{
		ID:         id,
		Email:      "member@example.com",
		Name:       "会員",
		Provider:   model.ProviderEmail,
		ProviderID: "$argon2id$secret",
		Role:       role,
		CreatedAt:  time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:  time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

// withPrincipal はテスト用にリクエストコンテキストにPrincipalを注入するヘルパー。
func withPrincipal(r *http.Request, id int64, role model.Role) *http.Request {
	p := &auth.Principal{User: testUser(id, role), Role: role}
	return r.WithContext(middleware.ContextWithPrincipal(r.Context(), p))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

var errDB = errors.New("pq: connection refused")

// --- モック定義 ---

type mockAuthService struct {
	registerFn       func(ctx context.Context, in auth.RegisterInput) (*auth.AuthResult, error)
	loginFn          func(ctx context.Context, email, password string) (*auth.AuthResult, error)
	adminLoginFn     func(ctx context.Context, email, password string) (*auth.AuthResult, error)
	providers        map[model.Provider]bool
	getLoginURLFn    func(provider model.Provider, state string) (string, error)
	handleCallbackFn func(ctx context.Context, provider model.Provider, code string) (*auth.AuthResult, error)
}

func (m *mockAuthService) Register(ctx context.Context, in auth.RegisterInput) (*auth.AuthResult, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, in)
	}
	return nil, nil
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*auth.AuthResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, nil
}

func (m *mockAuthService) AdminLogin(ctx context.Context, email, password string) (*auth.AuthResult, error) {
	if m.adminLoginFn != nil {
		return m.adminLoginFn(ctx, email, password)
	}
	return nil, nil
}

func (m *mockAuthService) HasProvider(provider model.Provider) bool {
	return m.providers[provider]
}

func (m *mockAuthService) GetLoginURL(provider model.Provider, state string) (string, error) {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(provider, state)
	}
	return "", nil
}

func (m *mockAuthService) HandleCallback(ctx context.Context, provider model.Provider, code string) (*auth.AuthResult, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, provider, code)
	}
	return nil, nil
}

type mockUserService struct {
	getProfileFn    func(ctx context.Context, userID int64) (*model.User, error)
	updateProfileFn func(ctx context.Context, userID int64, in user.UpdateProfileInput) (*model.User, error)
	listMembersFn   func(ctx context.Context, filter model.UserListFilter) ([]*model.User, int, error)
	getMemberFn     func(ctx context.Context, id int64) (*model.User, error)
	changeRoleFn    func(ctx context.Context, actorID, targetID int64, role model.Role) (*model.User, error)
}

func (m *mockUserService) GetProfile(ctx context.Context, userID int64) (*model.User, error) {
	if m.getProfileFn != nil {
		return m.getProfileFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockUserService) UpdateProfile(ctx context.Context, userID int64, in user.UpdateProfileInput) (*model.User, error) {
	if m.updateProfileFn != nil {
		return m.updateProfileFn(ctx, userID, in)
	}
	return nil, nil
}

func (m *mockUserService) ListMembers(ctx context.Context, filter model.UserListFilter) ([]*model.User, int, error) {
	if m.listMembersFn != nil {
		return m.listMembersFn(ctx, filter)
	}
	return []*model.User{}, 0, nil
}

func (m *mockUserService) GetMember(ctx context.Context, id int64) (*model.User, error) {
	if m.getMemberFn != nil {
		return m.getMemberFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserService) ChangeRole(ctx context.Context, actorID, targetID int64, role model.Role) (*model.User, error) {
	if m.changeRoleFn != nil {
		return m.changeRoleFn(ctx, actorID, targetID, role)
	}
	return nil, nil
}

type mockPasswordChanger struct {
	changePasswordFn func(ctx context.Context, userID int64, current, next string) error
}

func (m *mockPasswordChanger) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	if m.changePasswordFn != nil {
		return m.changePasswordFn(ctx, userID, current, next)
	}
	return nil
}

type mockHealthService struct {
	listRecordsFn       func(ctx context.Context, userID int64, since *time.Time) ([]*model.HealthRecord, error)
	getRecordFn         func(ctx context.Context, userID, id int64) (*model.HealthRecord, error)
	createRecordFn      func(ctx context.Context, userID int64, in health.RecordInput) (*model.HealthRecord, error)
	updateRecordFn      func(ctx context.Context, userID, id int64, in health.RecordInput) (*model.HealthRecord, error)
	deleteRecordFn      func(ctx context.Context, userID, id int64) error
	listMemberRecordsFn func(ctx context.Context, memberID int64) ([]*model.HealthRecord, error)
	listAdviceFn        func(ctx context.Context, userID int64) ([]*model.Advice, error)
	addStaffAdviceFn    func(ctx context.Context, staffID, memberID int64, content string) (*model.Advice, error)
	analyzeFn           func(ctx context.Context, userID int64) (*model.Advice, error)
	speechFn            func(ctx context.Context, userID, adviceID int64) ([]byte, error)
}

func (m *mockHealthService) ListRecords(ctx context.Context, userID int64, since *time.Time) ([]*model.HealthRecord, error) {
	if m.listRecordsFn != nil {
		return m.listRecordsFn(ctx, userID, since)
	}
	return []*model.HealthRecord{}, nil
}

func (m *mockHealthService) GetRecord(ctx context.Context, userID, id int64) (*model.HealthRecord, error) {
	if m.getRecordFn != nil {
		return m.getRecordFn(ctx, userID, id)
	}
	return nil, model.NewNotFoundError("健康記録")
}

func (m *mockHealthService) CreateRecord(ctx context.Context, userID int64, in health.RecordInput) (*model.HealthRecord, error) {
	if m.createRecordFn != nil {
		return m.createRecordFn(ctx, userID, in)
	}
	return nil, nil
}

func (m *mockHealthService) UpdateRecord(ctx context.Context, userID, id int64, in health.RecordInput) (*model.HealthRecord, error) {
	if m.updateRecordFn != nil {
		return m.updateRecordFn(ctx, userID, id, in)
	}
	return nil, nil
}

func (m *mockHealthService) DeleteRecord(ctx context.Context, userID, id int64) error {
	if m.deleteRecordFn != nil {
		return m.deleteRecordFn(ctx, userID, id)
	}
	return nil
}

func (m *mockHealthService) ListMemberRecords(ctx context.Context, memberID int64) ([]*model.HealthRecord, error) {
	if m.listMemberRecordsFn != nil {
		return m.listMemberRecordsFn(ctx, memberID)
	}
	return []*model.HealthRecord{}, nil
}

func (m *mockHealthService) ListAdvice(ctx context.Context, userID int64) ([]*model.Advice, error) {
	if m.listAdviceFn != nil {
		return m.listAdviceFn(ctx, userID)
	}
	return []*model.Advice{}, nil
}

func (m *mockHealthService) AddStaffAdvice(ctx context.Context, staffID, memberID int64, content string) (*model.Advice, error) {
	if m.addStaffAdviceFn != nil {
		return m.addStaffAdviceFn(ctx, staffID, memberID, content)
	}
	return nil, nil
}

func (m *mockHealthService) Analyze(ctx context.Context, userID int64) (*model.Advice, error) {
	if m.analyzeFn != nil {
		return m.analyzeFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockHealthService) Speech(ctx context.Context, userID, adviceID int64) ([]byte, error) {
	if m.speechFn != nil {
		return m.speechFn(ctx, userID, adviceID)
	}
	return nil, nil
}

type mockSupportService struct {
	listQuestionsFn    func(ctx context.Context, userID int64) ([]*model.Question, error)
	getQuestionFn      func(ctx context.Context, userID, id int64) (*model.Question, error)
	createQuestionFn   func(ctx context.Context, userID int64, in support.QuestionInput) (*model.Question, error)
	deleteQuestionFn   func(ctx context.Context, userID, id int64) error
	listAllQuestionsFn func(ctx context.Context, status *model.QuestionStatus) ([]*model.Question, error)
	answerQuestionFn   func(ctx context.Context, staffID, id int64, answer string) (*model.Question, error)
	listInquiriesFn    func(ctx context.Context, userID int64) ([]*model.Inquiry, error)
	getInquiryFn       func(ctx context.Context, userID, id int64) (*model.Inquiry, error)
	createInquiryFn    func(ctx context.Context, userID int64, in support.InquiryInput) (*model.Inquiry, error)
	listAllInquiriesFn func(ctx context.Context, status *model.InquiryStatus) ([]*model.Inquiry, error)
	updateInquiryFn    func(ctx context.Context, staffID, id int64, in support.InquiryUpdateInput) (*model.Inquiry, error)
}

func (m *mockSupportService) ListQuestions(ctx context.Context, userID int64) ([]*model.Question, error) {
	if m.listQuestionsFn != nil {
		return m.listQuestionsFn(ctx, userID)
	}
	return []*model.Question{}, nil
}

func (m *mockSupportService) GetQuestion(ctx context.Context, userID, id int64) (*model.Question, error) {
	if m.getQuestionFn != nil {
		return m.getQuestionFn(ctx, userID, id)
	}
	return nil, model.NewNotFoundError("質問")
}

func (m *mockSupportService) CreateQuestion(ctx context.Context, userID int64, in support.QuestionInput) (*model.Question, error) {
	if m.createQuestionFn != nil {
		return m.createQuestionFn(ctx, userID, in)
	}
	return nil, nil
}

func (m *mockSupportService) DeleteQuestion(ctx context.Context, userID, id int64) error {
	if m.deleteQuestionFn != nil {
		return m.deleteQuestionFn(ctx, userID, id)
	}
	return nil
}

func (m *mockSupportService) ListAllQuestions(ctx context.Context, status *model.QuestionStatus) ([]*model.Question, error) {
	if m.listAllQuestionsFn != nil {
		return m.listAllQuestionsFn(ctx, status)
	}
	return []*model.Question{}, nil
}

func (m *mockSupportService) AnswerQuestion(ctx context.Context, staffID, id int64, answer string) (*model.Question, error) {
	if m.answerQuestionFn != nil {
		return m.answerQuestionFn(ctx, staffID, id, answer)
	}
	return nil, nil
}

func (m *mockSupportService) ListInquiries(ctx context.Context, userID int64) ([]*model.Inquiry, error) {
	if m.listInquiriesFn != nil {
		return m.listInquiriesFn(ctx, userID)
	}
	return []*model.Inquiry{}, nil
}

func (m *mockSupportService) GetInquiry(ctx context.Context, userID, id int64) (*model.Inquiry, error) {
	if m.getInquiryFn != nil {
		return m.getInquiryFn(ctx, userID, id)
	}
	return nil, model.NewNotFoundError("問い合わせ")
}

func (m *mockSupportService) CreateInquiry(ctx context.Context, userID int64, in support.InquiryInput) (*model.Inquiry, error) {
	if m.createInquiryFn != nil {
		return m.createInquiryFn(ctx, userID, in)
	}
	return nil, nil
}

func (m *mockSupportService) ListAllInquiries(ctx context.Context, status *model.InquiryStatus) ([]*model.Inquiry, error) {
	if m.listAllInquiriesFn != nil {
		return m.listAllInquiriesFn(ctx, status)
	}
	return []*model.Inquiry{}, nil
}

func (m *mockSupportService) UpdateInquiry(ctx context.Context, staffID, id int64, in support.InquiryUpdateInput) (*model.Inquiry, error) {
	if m.updateInquiryFn != nil {
		return m.updateInquiryFn(ctx, staffID, id, in)
	}
	return nil, nil
}

type mockContentService struct {
	listPublishedAnnouncementsFn func(ctx context.Context) ([]*model.Announcement, error)
	createAnnouncementFn         func(ctx context.Context, authorID int64, in content.AnnouncementInput) (*model.Announcement, error)
	updateAnnouncementFn         func(ctx context.Context, id int64, in content.AnnouncementInput) (*model.Announcement, error)
	deleteAnnouncementFn         func(ctx context.Context, id int64) error
	listPublishedPostsFn         func(ctx context.Context, limit, offset int) ([]*model.BlogPost, error)
	getPublishedPostFn           func(ctx context.Context, slug string) (*model.BlogPost, error)
	createPostFn                 func(ctx context.Context, authorID int64, in content.PostInput) (*model.BlogPost, error)
	addSourceFn                  func(ctx context.Context, in content.SourceInput) (*model.BlogSource, error)
	resumeSourceFn               func(ctx context.Context, id int64) (*model.BlogSource, error)
}

func (m *mockContentService) ListPublishedAnnouncements(ctx context.Context) ([]*model.Announcement, error) {
	if m.listPublishedAnnouncementsFn != nil {
		return m.listPublishedAnnouncementsFn(ctx)
	}
	return []*model.Announcement{}, nil
}

func (m *mockContentService) ListAllAnnouncements(ctx context.Context) ([]*model.Announcement, error) {
	return []*model.Announcement{}, nil
}

func (m *mockContentService) CreateAnnouncement(ctx context.Context, authorID int64, in content.AnnouncementInput) (*model.Announcement, error) {
	if m.createAnnouncementFn != nil {
		return m.createAnnouncementFn(ctx, authorID, in)
	}
	return nil, nil
}

func (m *mockContentService) UpdateAnnouncement(ctx context.Context, id int64, in content.AnnouncementInput) (*model.Announcement, error) {
	if m.updateAnnouncementFn != nil {
		return m.updateAnnouncementFn(ctx, id, in)
	}
	return nil, nil
}

func (m *mockContentService) DeleteAnnouncement(ctx context.Context, id int64) error {
	if m.deleteAnnouncementFn != nil {
		return m.deleteAnnouncementFn(ctx, id)
	}
	return nil
}

func (m *mockContentService) ListPublishedPosts(ctx context.Context, limit, offset int) ([]*model.BlogPost, error) {
	if m.listPublishedPostsFn != nil {
		return m.listPublishedPostsFn(ctx, limit, offset)
	}
	return []*model.BlogPost{}, nil
}

func (m *mockContentService) GetPublishedPost(ctx context.Context, slug string) (*model.BlogPost, error) {
	if m.getPublishedPostFn != nil {
		return m.getPublishedPostFn(ctx, slug)
	}
	return nil, model.NewNotFoundError("記事")
}

func (m *mockContentService) ListAllPosts(ctx context.Context, limit, offset int) ([]*model.BlogPost, error) {
	return []*model.BlogPost{}, nil
}

func (m *mockContentService) CreatePost(ctx context.Context, authorID int64, in content.PostInput) (*model.BlogPost, error) {
	if m.createPostFn != nil {
		return m.createPostFn(ctx, authorID, in)
	}
	return nil, nil
}

func (m *mockContentService) UpdatePost(ctx context.Context, id int64, in content.PostInput) (*model.BlogPost, error) {
	return nil, model.NewNotFoundError("記事")
}

func (m *mockContentService) DeletePost(ctx context.Context, id int64) error {
	return nil
}

func (m *mockContentService) ListSources(ctx context.Context) ([]*model.BlogSource, error) {
	return []*model.BlogSource{}, nil
}

func (m *mockContentService) AddSource(ctx context.Context, in content.SourceInput) (*model.BlogSource, error) {
	if m.addSourceFn != nil {
		return m.addSourceFn(ctx, in)
	}
	return nil, nil
}

func (m *mockContentService) DeleteSource(ctx context.Context, id int64) error {
	return nil
}

func (m *mockContentService) ResumeSource(ctx context.Context, id int64) (*model.BlogSource, error) {
	if m.resumeSourceFn != nil {
		return m.resumeSourceFn(ctx, id)
	}
	return nil, nil
}

// --- 共通ヘルパーのテスト ---

func TestHandleServiceError_HidesBackendError(t *testing.T) {
	w := httptest.NewRecorder()
	handleServiceError(w, httptest.NewRequest(http.MethodGet, "/api/me", nil), errDB)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	env := decodeEnvelope(t, w)
	if env.Error != model.ErrCodeStorage {
		t.Errorf("error = %q, want %q", env.Error, model.ErrCodeStorage)
	}
	if env.Message == errDB.Error() {
		t.Error("backend error text must not reach the client")
	}
}

func TestHandleServiceError_WrappedAPIError(t *testing.T) {
	w := httptest.NewRecorder()
	err := errors.Join(errors.New("context"), model.NewConflictError("重複しています。"))
	handleServiceError(w, httptest.NewRequest(http.MethodPost, "/", nil), err)

	assertErrorEnvelope(t, w, http.StatusConflict, model.ErrCodeConflict)
}

func TestDecodeJSON_RejectsUnknownFields(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"不正なJSON", `{"email":`},
		{"未知のフィールド", `{"email":"a@example.com","role":"admin"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dst loginRequest
			if decodeJSON(w, req, &dst) {
				t.Fatal("decodeJSON returned true")
			}
			assertErrorEnvelope(t, w, http.StatusBadRequest, model.ErrCodeValidation)
		})
	}
}

func TestPathID_InvalidIsNotFound(t *testing.T) {
	for _, v := range []string{"abc", "0", "-3", ""} {
		w := httptest.NewRecorder()
		req := withChiURLParam(httptest.NewRequest(http.MethodGet, "/", nil), "id", v)
		if _, ok := pathID(w, req, "id", "質問"); ok {
			t.Errorf("pathID(%q) ok = true", v)
			continue
		}
		assertErrorEnvelope(t, w, http.StatusNotFound, model.ErrCodeNotFound)
	}
}
