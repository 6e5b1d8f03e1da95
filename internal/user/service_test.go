package user

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/fitclub/internal/model"
	"github.com/hitoshi/fitclub/internal/repository"
)

// --- モック ---

type mockUserRepo struct {
	findByIDFn      func(ctx context.Context, id int64) (*model.User, error)
	updateProfileFn func(ctx context.Context, id int64, name string, avatarURL *string) (*model.User, error)
	updateRoleFn    func(ctx context.Context, id int64, role model.Role) (*model.User, error)
	listFn          func(ctx context.Context, filter model.UserListFilter) ([]*model.User, int, error)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}
func (m *mockUserRepo) FindByEmail(context.Context, string) (*model.User, error) { return nil, nil }
func (m *mockUserRepo) FindByProvider(context.Context, model.Provider, string) (*model.User, error) {
	return nil, nil
}
func (m *mockUserRepo) Create(context.Context, *model.User) error { return nil }
func (m *mockUserRepo) UpdateProfile(ctx context.Context, id int64, name string, avatarURL *string) (*model.User, error) {
	if m.updateProfileFn != nil {
		return m.updateProfileFn(ctx, id, name, avatarURL)
	}
	return nil, nil
}
func (m *mockUserRepo) UpdatePasswordHash(context.Context, int64, string) (bool, error) {
	return false, nil
}
func (m *mockUserRepo) UpdateRole(ctx context.Context, id int64, role model.Role) (*model.User, error) {
	if m.updateRoleFn != nil {
		return m.updateRoleFn(ctx, id, role)
	}
	return nil, nil
}
func (m *mockUserRepo) List(ctx context.Context, filter model.UserListFilter) ([]*model.User, int, error) {
	if m.listFn != nil {
		return m.listFn(ctx, filter)
	}
	return nil, 0, nil
}

var _ repository.UserRepository = (*mockUserRepo)(nil)

func httpsOnly(raw string) bool {
	return len(raw) > len("https://") && raw[:len("https://")] == "https://"
}

func assertAPIErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %v", err)
	}
	if apiErr.Code != code {
		t.Errorf("code = %q, want %q", apiErr.Code, code)
	}
}

// --- テスト ---

func TestGetProfile_NotFound(t *testing.T) {
	svc := NewService(&mockUserRepo{}, httpsOnly)

	_, err := svc.GetProfile(context.Background(), 1)
	assertAPIErrorCode(t, err, model.ErrCodeNotFound)
}

func TestGetProfile_StorageError(t *testing.T) {
	svc := NewService(&mockUserRepo{
		findByIDFn: func(context.Context, int64) (*model.User, error) {
			return nil, errors.New("db down")
		},
	}, httpsOnly)

	_, err := svc.GetProfile(context.Background(), 1)
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		t.Errorf("storage failure must not be an APIError, got %v", apiErr)
	}
}

func TestUpdateProfile(t *testing.T) {
	var gotName string
	var gotAvatar *string
	repo := &mockUserRepo{
		updateProfileFn: func(_ context.Context, id int64, name string, avatarURL *string) (*model.User, error) {
			gotName, gotAvatar = name, avatarURL
			return &model.User{ID: id, Name: name, AvatarURL: avatarURL}, nil
		},
	}
	svc := NewService(repo, httpsOnly)
	avatar := " https://cdn.example.com/me.png "

	user, err := svc.UpdateProfile(context.Background(), 5, UpdateProfileInput{Name: "  佐藤  ", AvatarURL: &avatar})
	if err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
	if gotName != "佐藤" {
		t.Errorf("name = %q, want 佐藤", gotName)
	}
	if gotAvatar == nil || *gotAvatar != "https://cdn.example.com/me.png" {
		t.Errorf("avatar = %v", gotAvatar)
	}
	if user.ID != 5 {
		t.Errorf("ID = %d, want 5", user.ID)
	}
}

func TestUpdateProfile_Validation(t *testing.T) {
	svc := NewService(&mockUserRepo{}, httpsOnly)
	insecure := "http://cdn.example.com/me.png"

	tests := []struct {
		name string
		in   UpdateProfileInput
	}{
		{"名前なし", UpdateProfileInput{Name: ""}},
		{"httpのアバター", UpdateProfileInput{Name: "A", AvatarURL: &insecure}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UpdateProfile(context.Background(), 1, tt.in)
			assertAPIErrorCode(t, err, model.ErrCodeValidation)
		})
	}
}

func TestListMembers_NormalizesPage(t *testing.T) {
	var got model.UserListFilter
	svc := NewService(&mockUserRepo{
		listFn: func(_ context.Context, f model.UserListFilter) ([]*model.User, int, error) {
			got = f
			return nil, 0, nil
		},
	}, httpsOnly)

	users, total, err := svc.ListMembers(context.Background(), model.UserListFilter{Limit: 1000, Offset: -5, Query: "tanaka"})
	if err != nil {
		t.Fatalf("ListMembers() error = %v", err)
	}
	if got.Limit != MaxListLimit || got.Offset != 0 || got.Query != "tanaka" {
		t.Errorf("filter = %+v", got)
	}
	if users == nil || len(users) != 0 || total != 0 {
		t.Errorf("users=%v total=%d", users, total)
	}
}

func TestChangeRole(t *testing.T) {
	svc := NewService(&mockUserRepo{
		updateRoleFn: func(_ context.Context, id int64, role model.Role) (*model.User, error) {
			if id == 404 {
				return nil, nil
			}
			return &model.User{ID: id, Role: role}, nil
		},
	}, httpsOnly)
	ctx := context.Background()

	user, err := svc.ChangeRole(ctx, 1, 2, model.RoleAdmin)
	if err != nil {
		t.Fatalf("ChangeRole() error = %v", err)
	}
	if user.Role != model.RoleAdmin {
		t.Errorf("role = %q", user.Role)
	}

	_, err = svc.ChangeRole(ctx, 1, 2, model.Role("owner"))
	assertAPIErrorCode(t, err, model.ErrCodeValidation)

	_, err = svc.ChangeRole(ctx, 1, 1, model.RoleUser)
	assertAPIErrorCode(t, err, model.ErrCodeValidation)

	_, err = svc.ChangeRole(ctx, 1, 404, model.RoleUser)
	assertAPIErrorCode(t, err, model.ErrCodeNotFound)
}

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{0, 0, DefaultListLimit, 0},
		{-1, -1, DefaultListLimit, 0},
		{50, 10, 50, 10},
		{101, 0, MaxListLimit, 0},
	}
	for _, tt := range tests {
		l, o := NormalizePage(tt.limit, tt.offset)
		if l != tt.wantLimit || o != tt.wantOffset {
			t.Errorf("NormalizePage(%d, %d) = %d, %d", tt.limit, tt.offset, l, o)
		}
	}
}
