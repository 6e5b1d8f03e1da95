// Package handler はHTTPハンドラーを提供する。
//
// レスポンスは全て middleware.Envelope 形式で返す。会員向けのハンドラーは
// 認証済みPrincipalのユーザーIDのみをストレージ操作のスコープとして使い、
// リクエストボディやパスに含まれるユーザーIDは信用しない。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/fitclub/internal/auth"
	"github.com/hitoshi/fitclub/internal/middleware"
	"github.com/hitoshi/fitclub/internal/model"
)

// maxRequestBodySize はJSONリクエストボディの上限（1 MiB）。
const maxRequestBodySize = 1 << 20

const dateLayout = "2006-01-02"

// handleServiceError はサービス層から返されたエラーをエンベロープに変換する。
// APIError以外はストレージ障害として扱い、詳細はログにのみ残す。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, apiErr)
		return
	}

	slog.Error("リクエストの処理に失敗しました",
		slog.String("error", err.Error()),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
	)
	middleware.WriteErrorResponse(w, model.NewStorageError())
}

// decodeJSON はリクエストボディをdstにデコードする。
// 失敗した場合はvalidation_errorを書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		middleware.WriteErrorResponse(w, model.NewValidationError("リクエストボディの解析に失敗しました。"))
		return false
	}
	return true
}

// pathID はURLパラメータを正の整数IDとして解釈する。
// 解釈できない場合は存在しないリソースとしてnot_foundを書き込む。
func pathID(w http.ResponseWriter, r *http.Request, key, resource string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		middleware.WriteErrorResponse(w, model.NewNotFoundError(resource))
		return 0, false
	}
	return id, true
}

// queryInt はクエリパラメータを整数として取得する。未指定や不正値は0とする。
func queryInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return v
}

// requirePrincipal は認証済みPrincipalを取得する。
// 認証ミドルウェアの外で呼ばれた場合は401を書き込む。
func requirePrincipal(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, model.NewMissingCredentialError())
		return nil, false
	}
	return p, true
}

// --- レスポンス型 ---

type userResponse struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Provider  string    `json:"provider"`
	Role      string    `json:"role"`
	AvatarURL *string   `json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// toUserResponse はユーザーをレスポンス型に変換する。
// provider_id（パスワードハッシュ・外部subject）は含めない。
func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Provider:  string(u.Provider),
		Role:      string(u.Role),
		AvatarURL: u.AvatarURL,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func toUserResponses(users []*model.User) []userResponse {
	out := make([]userResponse, len(users))
	for i, u := range users {
		out[i] = toUserResponse(u)
	}
	return out
}

type healthRecordResponse struct {
	ID         int64     `json:"id"`
	RecordedOn string    `json:"recorded_on"`
	WeightKg   *float64  `json:"weight_kg"`
	BodyFatPct *float64  `json:"body_fat_pct"`
	Steps      *int      `json:"steps"`
	SleepHours *float64  `json:"sleep_hours"`
	Note       string    `json:"note"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toHealthRecordResponse(rec *model.HealthRecord) healthRecordResponse {
	return healthRecordResponse{
		ID:         rec.ID,
		RecordedOn: rec.RecordedOn.Format(dateLayout),
		WeightKg:   rec.WeightKg,
		BodyFatPct: rec.BodyFatPct,
		Steps:      rec.Steps,
		SleepHours: rec.SleepHours,
		Note:       rec.Note,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
}

func toHealthRecordResponses(recs []*model.HealthRecord) []healthRecordResponse {
	out := make([]healthRecordResponse, len(recs))
	for i, rec := range recs {
		out[i] = toHealthRecordResponse(rec)
	}
	return out
}

type adviceResponse struct {
	ID        int64     `json:"id"`
	Source    string    `json:"source"`
	Content   string    `json:"content"`
	AuthorID  *int64    `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
}

func toAdviceResponse(a *model.Advice) adviceResponse {
	return adviceResponse{
		ID:        a.ID,
		Source:    string(a.Source),
		Content:   a.Content,
		AuthorID:  a.AuthorID,
		CreatedAt: a.CreatedAt,
	}
}

func toAdviceResponses(list []*model.Advice) []adviceResponse {
	out := make([]adviceResponse, len(list))
	for i, a := range list {
		out[i] = toAdviceResponse(a)
	}
	return out
}

type questionResponse struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	Title      string     `json:"title"`
	Body       string     `json:"body"`
	Status     string     `json:"status"`
	Answer     *string    `json:"answer"`
	AnsweredAt *time.Time `json:"answered_at"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func toQuestionResponse(q *model.Question) questionResponse {
	return questionResponse{
		ID:         q.ID,
		UserID:     q.UserID,
		Title:      q.Title,
		Body:       q.Body,
		Status:     string(q.Status),
		Answer:     q.Answer,
		AnsweredAt: q.AnsweredAt,
		CreatedAt:  q.CreatedAt,
		UpdatedAt:  q.UpdatedAt,
	}
}

func toQuestionResponses(list []*model.Question) []questionResponse {
	out := make([]questionResponse, len(list))
	for i, q := range list {
		out[i] = toQuestionResponse(q)
	}
	return out
}

type inquiryResponse struct {
	ID          int64      `json:"id"`
	Ticket      string     `json:"ticket"`
	UserID      int64      `json:"user_id"`
	Category    string     `json:"category"`
	Subject     string     `json:"subject"`
	Message     string     `json:"message"`
	Status      string     `json:"status"`
	Response    *string    `json:"response"`
	RespondedAt *time.Time `json:"responded_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func toInquiryResponse(in *model.Inquiry) inquiryResponse {
	return inquiryResponse{
		ID:          in.ID,
		Ticket:      in.Ticket,
		UserID:      in.UserID,
		Category:    string(in.Category),
		Subject:     in.Subject,
		Message:     in.Message,
		Status:      string(in.Status),
		Response:    in.Response,
		RespondedAt: in.RespondedAt,
		CreatedAt:   in.CreatedAt,
		UpdatedAt:   in.UpdatedAt,
	}
}

func toInquiryResponses(list []*model.Inquiry) []inquiryResponse {
	out := make([]inquiryResponse, len(list))
	for i, in := range list {
		out[i] = toInquiryResponse(in)
	}
	return out
}

type announcementResponse struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	Published   bool       `json:"published"`
	PublishedAt *time.Time `json:"published_at"`
	ExpiresAt   *time.Time `json:"expires_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func toAnnouncementResponse(a *model.Announcement) announcementResponse {
	return announcementResponse{
		ID:          a.ID,
		Title:       a.Title,
		Body:        a.Body,
		Published:   a.Published,
		PublishedAt: a.PublishedAt,
		ExpiresAt:   a.ExpiresAt,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func toAnnouncementResponses(list []*model.Announcement) []announcementResponse {
	out := make([]announcementResponse, len(list))
	for i, a := range list {
		out[i] = toAnnouncementResponse(a)
	}
	return out
}

type blogPostResponse struct {
	ID          int64      `json:"id"`
	Slug        string     `json:"slug"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	Published   bool       `json:"published"`
	PublishedAt *time.Time `json:"published_at"`
	Imported    bool       `json:"imported"`
	SourceURL   *string    `json:"source_url"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func toBlogPostResponse(p *model.BlogPost) blogPostResponse {
	return blogPostResponse{
		ID:          p.ID,
		Slug:        p.Slug,
		Title:       p.Title,
		Body:        p.Body,
		Published:   p.Published,
		PublishedAt: p.PublishedAt,
		Imported:    p.IsImported(),
		SourceURL:   p.SourceURL,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func toBlogPostResponses(list []*model.BlogPost) []blogPostResponse {
	out := make([]blogPostResponse, len(list))
	for i, p := range list {
		out[i] = toBlogPostResponse(p)
	}
	return out
}

type blogSourceResponse struct {
	ID                int64     `json:"id"`
	FeedURL           string    `json:"feed_url"`
	Title             string    `json:"title"`
	FetchStatus       string    `json:"fetch_status"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	ErrorMessage      string    `json:"error_message"`
	NextFetchAt       time.Time `json:"next_fetch_at"`
	CreatedAt         time.Time `json:"created_at"`
}

func toBlogSourceResponse(s *model.BlogSource) blogSourceResponse {
	return blogSourceResponse{
		ID:                s.ID,
		FeedURL:           s.FeedURL,
		Title:             s.Title,
		FetchStatus:       string(s.FetchStatus),
		ConsecutiveErrors: s.ConsecutiveErrors,
		ErrorMessage:      s.ErrorMessage,
		NextFetchAt:       s.NextFetchAt,
		CreatedAt:         s.CreatedAt,
	}
}

func toBlogSourceResponses(list []*model.BlogSource) []blogSourceResponse {
	out := make([]blogSourceResponse, len(list))
	for i, s := range list {
		out[i] = toBlogSourceResponse(s)
	}
	return out
}
