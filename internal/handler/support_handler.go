package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/fitclub/internal/middleware"
	"github.com/hitoshi/fitclub/internal/model"
	"github.com/hitoshi/fitclub/internal/support"
)

// SupportServiceInterface は質問・問い合わせハンドラーが必要とするサービスインターフェース。
type SupportServiceInterface interface {
	ListQuestions(ctx context.Context, userID int64) ([]*model.Question, error)
	GetQuestion(ctx context.Context, userID, id int64) (*model.Question, error)
	CreateQuestion(ctx context.Context, userID int64, in support.QuestionInput) (*model.Question, error)
	DeleteQuestion(ctx context.Context, userID, id int64) error
	ListAllQuestions(ctx context.Context, status *model.QuestionStatus) ([]*model.Question, error)
	AnswerQuestion(ctx context.Context, staffID, id int64, answer string) (*model.Question, error)

	ListInquiries(ctx context.Context, userID int64) ([]*model.Inquiry, error)
	GetInquiry(ctx context.Context, userID, id int64) (*model.Inquiry, error)
	CreateInquiry(ctx context.Context, userID int64, in support.InquiryInput) (*model.Inquiry, error)
	ListAllInquiries(ctx context.Context, status *model.InquiryStatus) ([]*model.Inquiry, error)
	UpdateInquiry(ctx context.Context, staffID, id int64, in support.InquiryUpdateInput) (*model.Inquiry, error)
}

// SupportHandler は質問・問い合わせのHTTPハンドラー。
type SupportHandler struct {
	service SupportServiceInterface
}

// NewSupportHandler はSupportHandlerを生成する。
func NewSupportHandler(service SupportServiceInterface) *SupportHandler {
	return &SupportHandler{service: service}
}

type questionRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type answerRequest struct {
	Answer string `json:"answer"`
}

type inquiryRequest struct {
	Category string `json:"category"`
	Subject  string `json:"subject"`
	Message  string `json:"message"`
}

type inquiryUpdateRequest struct {
	Status   string  `json:"status"`
	Response *string `json:"response"`
}

// --- 質問 ---

// ListQuestions は自分の質問一覧を返す。
// GET /api/me/questions
func (h *SupportHandler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	list, err := h.service.ListQuestions(r.Context(), p.UserID())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, toQuestionResponses(list))
}

// GetQuestion は自分の質問を1件返す。
// GET /api/me/questions/{id}
func (h *SupportHandler) GetQuestion(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id", "質問")
	if !ok {
		return
	}

	q, err := h.service.GetQuestion(r.Context(), p.UserID(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, toQuestionResponse(q))
}

// CreateQuestion は質問を投稿する。
// POST /api/me/questions
func (h *SupportHandler) CreateQuestion(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req questionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	q, err := h.service.CreateQuestion(r.Context(), p.UserID(), support.QuestionInput{
		Title: req.Title,
		Body:  req.Body,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, toQuestionResponse(q))
}

// DeleteQuestion は未回答の質問を取り下げる。
// DELETE /api/me/questions/{id}
func (h *SupportHandler) DeleteQuestion(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id", "質問")
	if !ok {
		return
	}

	if err := h.service.DeleteQuestion(r.Context(), p.UserID(), id); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListAllQuestions は全会員の質問を返す（管理者用）。
// GET /api/admin/questions?status=open|answered
func (h *SupportHandler) ListAllQuestions(w http.ResponseWriter, r *http.Request) {
	var status *model.QuestionStatus
	if v := r.URL.Query().Get("status"); v != "" {
		s := model.QuestionStatus(v)
		if s != model.QuestionStatusOpen && s != model.QuestionStatusAnswered {
			middleware.WriteErrorResponse(w, model.NewValidationError("statusは open または answered を指定してください。"))
			return
		}
		status = &s
	}

	list, err := h.service.ListAllQuestions(r.Context(), status)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, toQuestionResponses(list))
}

// AnswerQuestion は質問に回答する（管理者用）。
// PUT /api/admin/questions/{id}/answer
func (h *SupportHandler) AnswerQuestion(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id", "質問")
	if !ok {
		return
	}

	var req answerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	q, err := h.service.AnswerQuestion(r.Context(), p.UserID(), id, req.Answer)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, toQuestionResponse(q))
}

// --- 問い合わせ ---

// ListInquiries は自分の問い合わせ一覧を返す。
// GET /api/me/inquiries
func (h *SupportHandler) ListInquiries(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	list, err := h.service.ListInquiries(r.Context(), p.UserID())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, toInquiryResponses(list))
}

// GetInquiry は自分の問い合わせを1件返す。
// GET /api/me/inquiries/{id}
func (h *SupportHandler) GetInquiry(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id", "問い合わせ")
	if !ok {
		return
	}

	in, err := h.service.GetInquiry(r.Context(), p.UserID(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, toInquiryResponse(in))
}

// CreateInquiry は問い合わせを登録し、受付番号を発行する。
// POST /api/me/inquiries
func (h *SupportHandler) CreateInquiry(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req inquiryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	in, err := h.service.CreateInquiry(r.Context(), p.UserID(), support.InquiryInput{
		Category: model.InquiryCategory(req.Category),
		Subject:  req.Subject,
		Message:  req.Message,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, toInquiryResponse(in))
}

// ListAllInquiries は全会員の問い合わせを返す（管理者用）。
// GET /api/admin/inquiries?status=open|in_progress|resolved
func (h *SupportHandler) ListAllInquiries(w http.ResponseWriter, r *http.Request) {
	var status *model.InquiryStatus
	if v := r.URL.Query().Get("status"); v != "" {
		s := model.InquiryStatus(v)
		if !s.Valid() {
			middleware.WriteErrorResponse(w, model.NewValidationError("statusは open、in_progress、resolved のいずれかを指定してください。"))
			return
		}
		status = &s
	}

	list, err := h.service.ListAllInquiries(r.Context(), status)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, toInquiryResponses(list))
}

// UpdateInquiry は問い合わせの対応状況と回答を更新する（管理者用）。
// PUT /api/admin/inquiries/{id}
func (h *SupportHandler) UpdateInquiry(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id", "問い合わせ")
	if !ok {
		return
	}

	var req inquiryUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	in, err := h.service.UpdateInquiry(r.Context(), p.UserID(), id, support.InquiryUpdateInput{
		Status:   model.InquiryStatus(req.Status),
		Response: req.Response,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, toInquiryResponse(in))
}
