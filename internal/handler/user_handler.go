package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/hitoshi/fitclub/internal/middleware"
	"github.com/hitoshi/fitclub/internal/model"
	"github.com/hitoshi/fitclub/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	GetProfile(ctx context.Context, userID int64) (*model.User, error)
	UpdateProfile(ctx context.Context, userID int64, in user.UpdateProfileInput) (*model.User, error)
	ListMembers(ctx context.Context, filter model.UserListFilter) ([]*model.User, int, error)
	GetMember(ctx context.Context, id int64) (*model.User, error)
	ChangeRole(ctx context.Context, actorID, targetID int64, role model.Role) (*model.User, error)
}

// PasswordChanger はパスワード変更を行う。
type PasswordChanger interface {
	ChangePassword(ctx context.Context, userID int64, current, next string) error
}

// UserHandler は会員プロフィールと会員管理のHTTPハンドラー。
type UserHandler struct {
	service   UserServiceInterface
	passwords PasswordChanger
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, passwords PasswordChanger) *UserHandler {
	return &UserHandler{
		service:   service,
		passwords: passwords,
	}
}

type updateProfileRequest struct {
	Name      string  `json:"name"`
	AvatarURL *string `json:"avatar_url"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type changeRoleRequest struct {
	Role string `json:"role"`
}

type memberListResponse struct {
	Members []userResponse `json:"members"`
	Total   int            `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
}

// Me はログイン中の会員のプロフィールを返す。
// GET /api/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	u, err := h.service.GetProfile(r.Context(), p.UserID())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, toUserResponse(u))
}

// UpdateMe は表示名とアバターURLを更新する。
// PUT /api/me
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.service.UpdateProfile(r.Context(), p.UserID(), user.UpdateProfileInput{
		Name:      req.Name,
		AvatarURL: req.AvatarURL,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, toUserResponse(u))
}

// ChangePassword はパスワードを変更する。emailプロバイダーの会員のみ。
// PUT /api/me/password
func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.passwords.ChangePassword(r.Context(), p.UserID(), req.CurrentPassword, req.NewPassword); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListMembers は会員一覧を返す。
// GET /api/admin/members?limit=&offset=&q=
func (h *UserHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	limit, offset := user.NormalizePage(queryInt(r, "limit"), queryInt(r, "offset"))
	filter := model.UserListFilter{
		Query:  strings.TrimSpace(r.URL.Query().Get("q")),
		Limit:  limit,
		Offset: offset,
	}

	members, total, err := h.service.ListMembers(r.Context(), filter)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, memberListResponse{
		Members: toUserResponses(members),
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

// GetMember は会員詳細を返す。
// GET /api/admin/members/{id}
func (h *UserHandler) GetMember(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "会員")
	if !ok {
		return
	}

	u, err := h.service.GetMember(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, toUserResponse(u))
}

// ChangeRole は会員のロールを変更する。
// PUT /api/admin/members/{id}/role
func (h *UserHandler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id", "会員")
	if !ok {
		return
	}

	var req changeRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.service.ChangeRole(r.Context(), p.UserID(), id, model.Role(req.Role))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, toUserResponse(u))
}
