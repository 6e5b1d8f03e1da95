package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/fitclub/internal/content"
	"github.com/hitoshi/fitclub/internal/middleware"
	"github.com/hitoshi/fitclub/internal/model"
)

// ContentServiceInterface はお知らせ・ブログハンドラーが必要とするサービスインターフェース。
type ContentServiceInterface interface {
	ListPublishedAnnouncements(ctx context.Context) ([]*model.Announcement, error)
	ListAllAnnouncements(ctx context.Context) ([]*model.Announcement, error)
	CreateAnnouncement(ctx context.Context, authorID int64, in content.AnnouncementInput) (*model.Announcement, error)
	UpdateAnnouncement(ctx context.Context, id int64, in content.AnnouncementInput) (*model.Announcement, error)
	DeleteAnnouncement(ctx context.Context, id int64) error

	ListPublishedPosts(ctx context.Context, limit, offset int) ([]*model.BlogPost, error)
	GetPublishedPost(ctx context.Context, slug string) (*model.BlogPost, error)
	ListAllPosts(ctx context.Context, limit, offset int) ([]*model.BlogPost, error)
	CreatePost(ctx context.Context, authorID int64, in content.PostInput) (*model.BlogPost, error)
	UpdatePost(ctx context.Context, id int64, in content.PostInput) (*model.BlogPost, error)
	DeletePost(ctx context.Context, id int64) error

	ListSources(ctx context.Context) ([]*model.BlogSource, error)
	AddSource(ctx context.Context, in content.SourceInput) (*model.BlogSource, error)
	DeleteSource(ctx context.Context, id int64) error
	ResumeSource(ctx context.Context, id int64) (*model.BlogSource, error)
}

// ContentHandler はお知らせとブログのHTTPハンドラー。
type ContentHandler struct {
	service ContentServiceInterface
}

// NewContentHandler はContentHandlerを生成する。
func NewContentHandler(service ContentServiceInterface) *ContentHandler {
	return &ContentHandler{service: service}
}

type announcementRequest struct {
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	Published bool       `json:"published"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func (req announcementRequest) toInput() content.AnnouncementInput {
	return content.AnnouncementInput{
		Title:     req.Title,
		Body:      req.Body,
		Published: req.Published,
		ExpiresAt: req.ExpiresAt,
	}
}

type postRequest struct {
	Slug      string `json:"slug"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Published bool   `json:"published"`
}

func (req postRequest) toInput() content.PostInput {
	return content.PostInput{
		Slug:      req.Slug,
		Title:     req.Title,
		Body:      req.Body,
		Published: req.Published,
	}
}

type sourceRequest struct {
	FeedURL string `json:"feed_url"`
	Title   string `json:"title"`
}

// --- 公開 ---

// ListAnnouncements は公開中のお知らせを返す。
// GET /api/announcements
func (h *ContentHandler) ListAnnouncements(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListPublishedAnnouncements(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toAnnouncementResponses(list))
}

// ListPosts は公開中のブログ記事を返す。
// GET /api/blog?limit=&offset=
func (h *ContentHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListPublishedPosts(r.Context(), queryInt(r, "limit"), queryInt(r, "offset"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toBlogPostResponses(list))
}

// GetPost は公開中のブログ記事をslugで返す。
// GET /api/blog/{slug}
func (h *ContentHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	post, err := h.service.GetPublishedPost(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toBlogPostResponse(post))
}

// --- お知らせ（管理者） ---

// ListAllAnnouncements は非公開を含む全お知らせを返す。
// GET /api/admin/announcements
func (h *ContentHandler) ListAllAnnouncements(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListAllAnnouncements(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toAnnouncementResponses(list))
}

// CreateAnnouncement はお知らせを作成する。
// POST /api/admin/announcements
func (h *ContentHandler) CreateAnnouncement(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req announcementRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	a, err := h.service.CreateAnnouncement(r.Context(), p.UserID(), req.toInput())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, toAnnouncementResponse(a))
}

// UpdateAnnouncement はお知らせを更新する。
// PUT /api/admin/announcements/{id}
func (h *ContentHandler) UpdateAnnouncement(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "お知らせ")
	if !ok {
		return
	}

	var req announcementRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	a, err := h.service.UpdateAnnouncement(r.Context(), id, req.toInput())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toAnnouncementResponse(a))
}

// DeleteAnnouncement はお知らせを削除する。
// DELETE /api/admin/announcements/{id}
func (h *ContentHandler) DeleteAnnouncement(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "お知らせ")
	if !ok {
		return
	}

	if err := h.service.DeleteAnnouncement(r.Context(), id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- ブログ記事（管理者） ---

// ListAllPosts は下書きと取り込み記事を含む全記事を返す。
// GET /api/admin/blog/posts?limit=&offset=
func (h *ContentHandler) ListAllPosts(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListAllPosts(r.Context(), queryInt(r, "limit"), queryInt(r, "offset"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toBlogPostResponses(list))
}

// CreatePost はブログ記事を作成する。
// POST /api/admin/blog/posts
func (h *ContentHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req postRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	post, err := h.service.CreatePost(r.Context(), p.UserID(), req.toInput())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, toBlogPostResponse(post))
}

// UpdatePost はブログ記事を更新する。取り込み記事の公開もここで行う。
// PUT /api/admin/blog/posts/{id}
func (h *ContentHandler) UpdatePost(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "記事")
	if !ok {
		return
	}

	var req postRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	post, err := h.service.UpdatePost(r.Context(), id, req.toInput())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toBlogPostResponse(post))
}

// DeletePost はブログ記事を削除する。
// DELETE /api/admin/blog/posts/{id}
func (h *ContentHandler) DeletePost(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "記事")
	if !ok {
		return
	}

	if err := h.service.DeletePost(r.Context(), id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- 取り込み元（管理者） ---

// ListSources は取り込み元フィードの一覧を返す。
// GET /api/admin/blog/sources
func (h *ContentHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListSources(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toBlogSourceResponses(list))
}

// AddSource は取り込み元フィードを登録する。
// POST /api/admin/blog/sources
func (h *ContentHandler) AddSource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	src, err := h.service.AddSource(r.Context(), content.SourceInput{
		FeedURL: req.FeedURL,
		Title:   req.Title,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, toBlogSourceResponse(src))
}

// DeleteSource は取り込み元フィードを削除する。取り込み済みの記事は残る。
// DELETE /api/admin/blog/sources/{id}
func (h *ContentHandler) DeleteSource(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "取り込み元")
	if !ok {
		return
	}

	if err := h.service.DeleteSource(r.Context(), id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResumeSource は停止中の取り込み元を再開する。
// POST /api/admin/blog/sources/{id}/resume
func (h *ContentHandler) ResumeSource(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "取り込み元")
	if !ok {
		return
	}

	src, err := h.service.ResumeSource(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toBlogSourceResponse(src))
}
