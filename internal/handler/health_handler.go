package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/fitclub/internal/health"
	"github.com/hitoshi/fitclub/internal/middleware"
	"github.com/hitoshi/fitclub/internal/model"
)

// HealthServiceInterface は健康記録ハンドラーが必要とするサービスインターフェース。
type HealthServiceInterface interface {
	ListRecords(ctx context.Context, userID int64, since *time.Time) ([]*model.HealthRecord, error)
	GetRecord(ctx context.Context, userID, id int64) (*model.HealthRecord, error)
	CreateRecord(ctx context.Context, userID int64, in health.RecordInput) (*model.HealthRecord, error)
	UpdateRecord(ctx context.Context, userID, id int64, in health.RecordInput) (*model.HealthRecord, error)
	DeleteRecord(ctx context.Context, userID, id int64) error
	ListMemberRecords(ctx context.Context, memberID int64) ([]*model.HealthRecord, error)
	ListAdvice(ctx context.Context, userID int64) ([]*model.Advice, error)
	AddStaffAdvice(ctx context.Context, staffID, memberID int64, content string) (*model.Advice, error)
	Analyze(ctx context.Context, userID int64) (*model.Advice, error)
	Speech(ctx context.Context, userID, adviceID int64) ([]byte, error)
}

// HealthHandler は健康記録とアドバイスのHTTPハンドラー。
type HealthHandler struct {
	service HealthServiceInterface
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(service HealthServiceInterface) *HealthHandler {
	return &HealthHandler{service: service}
}

type healthRecordRequest struct {
	RecordedOn string   `json:"recorded_on"`
	WeightKg   *float64 `json:"weight_kg"`
	BodyFatPct *float64 `json:"body_fat_pct"`
	Steps      *int     `json:"steps"`
	SleepHours *float64 `json:"sleep_hours"`
	Note       string   `json:"note"`
}

func (req healthRecordRequest) toInput() health.RecordInput {
	return health.RecordInput{
		RecordedOn: req.RecordedOn,
		WeightKg:   req.WeightKg,
		BodyFatPct: req.BodyFatPct,
		Steps:      req.Steps,
		SleepHours: req.SleepHours,
		Note:       req.Note,
	}
}

type staffAdviceRequest struct {
	Content string `json:"content"`
}

// ListRecords は自分の健康記録を返す。
// GET /api/me/health-records?since=YYYY-MM-DD
func (h *HealthHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var since *time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			middleware.WriteErrorResponse(w, model.NewValidationError("sinceはYYYY-MM-DD形式で指定してください。"))
			return
		}
		since = &t
	}

	records, err := h.service.ListRecords(r.Context(), p.UserID(), since)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, toHealthRecordResponses(records))
}

// GetRecord は自分の健康記録を1件返す。
// GET /api/me/health-records/{id}
func (h *HealthHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id", "健康記録")
	if !ok {
		return
	}

	rec, err := h.service.GetRecord(r.Context(), p.UserID(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, toHealthRecordResponse(rec))
}

// CreateRecord は健康記録を作成する。
// POST /api/me/health-records
func (h *HealthHandler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req healthRecordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rec, err := h.service.CreateRecord(r.Context(), p.UserID(), req.toInput())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, toHealthRecordResponse(rec))
}

// UpdateRecord は自分の健康記録を更新する。
// PUT /api/me/health-records/{id}
func (h *HealthHandler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id", "健康記録")
	if !ok {
		return
	}

	var req healthRecordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rec, err := h.service.UpdateRecord(r.Context(), p.UserID(), id, req.toInput())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, toHealthRecordResponse(rec))
}

// DeleteRecord は自分の健康記録を削除する。
// DELETE /api/me/health-records/{id}
func (h *HealthHandler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id", "健康記録")
	if !ok {
		return
	}

	if err := h.service.DeleteRecord(r.Context(), p.UserID(), id); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListAdvice は自分宛てのアドバイスを返す。
// GET /api/me/advice
func (h *HealthHandler) ListAdvice(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	list, err := h.service.ListAdvice(r.Context(), p.UserID())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, toAdviceResponses(list))
}

// Analyze は直近30日の記録を分析し、AIアドバイスとして保存する。
// POST /api/me/advice/analyze
func (h *HealthHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	advice, err := h.service.Analyze(r.Context(), p.UserID())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, toAdviceResponse(advice))
}

// Speech はアドバイスを音声（MP3）に変換して返す。
// GET /api/me/advice/{id}/speech
func (h *HealthHandler) Speech(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id", "アドバイス")
	if !ok {
		return
	}

	audio, err := h.service.Speech(r.Context(), p.UserID(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(audio); err != nil {
		slog.Warn("音声データの送信に失敗しました", slog.String("error", err.Error()))
	}
}

// ListMemberRecords は指定会員の健康記録を返す（管理者用）。
// GET /api/admin/members/{id}/health-records
func (h *HealthHandler) ListMemberRecords(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "会員")
	if !ok {
		return
	}

	records, err := h.service.ListMemberRecords(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, toHealthRecordResponses(records))
}

// AddStaffAdvice は指定会員にスタッフアドバイスを送る（管理者用）。
// POST /api/admin/members/{id}/advice
func (h *HealthHandler) AddStaffAdvice(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id", "会員")
	if !ok {
		return
	}

	var req staffAdviceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	advice, err := h.service.AddStaffAdvice(r.Context(), p.UserID(), id, req.Content)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, toAdviceResponse(advice))
}
