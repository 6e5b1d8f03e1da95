// Package user は会員プロフィールと会員管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/fitclub/internal/model"
	"github.com/hitoshi/fitclub/internal/repository"
)

// 一覧取得の件数制約
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

const maxNameLength = 100

// AvatarURLValidator はアバターURLの形式を検証する。
type AvatarURLValidator func(raw string) bool

// UpdateProfileInput はプロフィール更新の入力。
// AvatarURLがnilの場合はアバターを削除する。
type UpdateProfileInput struct {
	Name      string
	AvatarURL *string
}

// Service は会員管理のサービス層。
type Service struct {
	userRepo    repository.UserRepository
	validAvatar AvatarURLValidator
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository, validAvatar AvatarURLValidator) *Service {
	return &Service{
		userRepo:    userRepo,
		validAvatar: validAvatar,
	}
}

// GetProfile は会員自身のプロフィールを取得する。
func (s *Service) GetProfile(ctx context.Context, userID int64) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewNotFoundError("ユーザー")
	}
	return user, nil
}

// UpdateProfile は表示名とアバターURLを更新する。
// アバターURLはhttpsのみ受け付ける。
func (s *Service) UpdateProfile(ctx context.Context, userID int64, in UpdateProfileInput) (*model.User, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return nil, model.NewValidationError(fmt.Sprintf("名前は1文字以上%d文字以下で入力してください。", maxNameLength))
	}

	var avatar *string
	if in.AvatarURL != nil && strings.TrimSpace(*in.AvatarURL) != "" {
		v := strings.TrimSpace(*in.AvatarURL)
		if s.validAvatar != nil && !s.validAvatar(v) {
			return nil, model.NewValidationError("アバターURLはhttpsのURLを指定してください。")
		}
		avatar = &v
	}

	user, err := s.userRepo.UpdateProfile(ctx, userID, name, avatar)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewNotFoundError("ユーザー")
	}
	return user, nil
}

// ListMembers は会員一覧と総件数を返す。
func (s *Service) ListMembers(ctx context.Context, filter model.UserListFilter) ([]*model.User, int, error) {
	filter.Limit, filter.Offset = NormalizePage(filter.Limit, filter.Offset)

	users, total, err := s.userRepo.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("会員一覧の取得に失敗しました: %w", err)
	}
	if users == nil {
		users = []*model.User{}
	}
	return users, total, nil
}

// GetMember は指定会員を取得する（管理者用）。
func (s *Service) GetMember(ctx context.Context, id int64) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("会員の取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewNotFoundError("会員")
	}
	return user, nil
}

// ChangeRole は会員のロールを変更する。
// 管理者が自分自身を降格すると管理者不在になり得るため拒否する。
// 変更は次回のトークン発行から有効になる。
func (s *Service) ChangeRole(ctx context.Context, actorID, targetID int64, role model.Role) (*model.User, error) {
	if !role.Valid() {
		return nil, model.NewValidationError("ロールは user または admin を指定してください。")
	}
	if actorID == targetID && role != model.RoleAdmin {
		return nil, model.NewValidationError("自分自身の管理者権限は解除できません。")
	}

	user, err := s.userRepo.UpdateRole(ctx, targetID, role)
	if err != nil {
		return nil, fmt.Errorf("ロールの更新に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewNotFoundError("会員")
	}

	slog.Info("会員のロールを変更しました",
		slog.Int64("actor_id", actorID),
		slog.Int64("user_id", targetID),
		slog.String("role", string(role)),
	)
	return user, nil
}

// NormalizePage はlimit/offsetを許容範囲に丸める。
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
