// Package auth はトークン認証、パスワード検証、OAuthログインを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/fitclub/internal/model"
	"github.com/hitoshi/fitclub/internal/repository"
)

// 入力値の制約
const (
	minPasswordLength = 8
	maxPasswordLength = 256
	maxNameLength     = 100
	maxEmailLength    = 254
)

// lineEmailDomain はメールアドレスを提供しないLINEユーザーに割り当てるドメイン。
// .invalid はRFC 2606で予約されており実在しない。
const lineEmailDomain = "line.invalid"

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	Provider       model.Provider
	ProviderUserID string
	Email          string
	Name           string
	AvatarURL      string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// Provider はプロバイダー種別を返す。
	Provider() model.Provider
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	TokenTTL time.Duration
}

// AuthResult はログイン成功時に返すトークンとユーザー。
type AuthResult struct {
	Token string
	User  *model.User
}

// RegisterInput は会員登録の入力。
type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

// LoginRecorder はログイン成功をプロバイダー別に記録する。
type LoginRecorder interface {
	RecordLogin(provider string)
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	users     repository.UserRepository
	codec     *TokenCodec
	providers map[model.Provider]OAuthProvider
	config    ServiceConfig
	recorder  LoginRecorder
}

// NewService はServiceを生成する。
// providersには設定済みのOAuthプロバイダーのみを渡す。
func NewService(
	users repository.UserRepository,
	codec *TokenCodec,
	config ServiceConfig,
	providers ...OAuthProvider,
) *Service {
	m := make(map[model.Provider]OAuthProvider, len(providers))
	for _, p := range providers {
		m[p.Provider()] = p
	}
	return &Service{
		users:     users,
		codec:     codec,
		providers: m,
		config:    config,
	}
}

// SetLoginRecorder はログイン記録先を設定する。
func (s *Service) SetLoginRecorder(r LoginRecorder) {
	s.recorder = r
}

// Register はemailプロバイダーの会員を作成しトークンを発行する。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}
	name, err := normalizeName(in.Name)
	if err != nil {
		return nil, err
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		Email:      email,
		Name:       name,
		Provider:   model.ProviderEmail,
		ProviderID: hash,
		Role:       model.RoleUser,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewConflictError("このメールアドレスは既に登録されています。")
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("新規会員を登録しました",
		slog.Int64("user_id", user.ID),
		slog.String("provider", string(user.Provider)),
	)

	return s.issue(user)
}

// Login はメールアドレスとパスワードで認証しトークンを発行する。
// 旧形式のダイジェストで認証に成功した場合はArgon2idで再ハッシュして保存する。
func (s *Service) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.verifyCredentials(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return s.issue(user)
}

// AdminLogin はLoginと同じ認証を行ったうえで管理者ロールを要求する。
// 管理者でない場合はトークンを発行せずinsufficient_roleを返す。
func (s *Service) AdminLogin(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.verifyCredentials(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := Authorize(&Principal{User: user, Role: user.Role}, model.RoleAdmin); err != nil {
		slog.Warn("管理者ログインを拒否しました", slog.Int64("user_id", user.ID))
		return nil, model.NewInsufficientRoleError()
	}
	return s.issue(user)
}

// ChangePassword は現在のパスワードを確認したうえでパスワードを変更する。
// emailプロバイダー以外のユーザーはvalidation_errorになる。
func (s *Service) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return model.NewNotFoundError("ユーザー")
	}

	hash, ok := user.PasswordHash()
	if !ok {
		return model.NewValidationError("外部サービスでログインしているアカウントはパスワードを変更できません。")
	}
	if !VerifyPassword(current, hash) {
		return model.NewValidationError("現在のパスワードが正しくありません。")
	}
	if err := validatePassword(next); err != nil {
		return err
	}

	newHash, err := HashPassword(next)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	updated, err := s.users.UpdatePasswordHash(ctx, userID, newHash)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if !updated {
		return model.NewNotFoundError("ユーザー")
	}
	return nil
}

// HasProvider は指定プロバイダーが設定済みかを返す。
func (s *Service) HasProvider(provider model.Provider) bool {
	_, ok := s.providers[provider]
	return ok
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(provider model.Provider, state string) (string, error) {
	p, ok := s.providers[provider]
	if !ok {
		return "", model.NewNotFoundError("ログイン方法")
	}
	return p.GetLoginURL(state), nil
}

// HandleCallback はOAuthコールバックを処理し、トークンを発行する。
// (provider, subject)で既存ユーザーを検索し、未登録の場合は自動作成する。
func (s *Service) HandleCallback(ctx context.Context, provider model.Provider, code string) (*AuthResult, error) {
	p, ok := s.providers[provider]
	if !ok {
		return nil, model.NewNotFoundError("ログイン方法")
	}
	if code == "" {
		return nil, model.NewValidationError("認可コードが指定されていません。")
	}

	info, err := p.ExchangeCode(ctx, code)
	if err != nil {
		slog.Error("OAuth認可コードの交換に失敗しました",
			slog.String("provider", string(provider)),
			slog.String("error", err.Error()),
		)
		return nil, model.NewUpstreamError()
	}

	user, err := s.users.FindByProvider(ctx, provider, info.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by provider: %w", err)
	}

	if user != nil {
		slog.Info("既存ユーザーがログインしました",
			slog.Int64("user_id", user.ID),
			slog.String("provider", string(provider)),
		)
		return s.issue(user)
	}

	user = newOAuthUser(provider, info)
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewConflictError("このメールアドレスは既に別のログイン方法で登録されています。")
		}
		return nil, fmt.Errorf("failed to create oauth user: %w", err)
	}

	slog.Info("新規会員を登録しました",
		slog.Int64("user_id", user.ID),
		slog.String("provider", string(provider)),
	)

	return s.issue(user)
}

func (s *Service) verifyCredentials(ctx context.Context, email, password string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, model.NewValidationError("メールアドレスとパスワードを入力してください。")
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil {
		return nil, model.NewInvalidCredentialsError()
	}

	hash, ok := user.PasswordHash()
	if !ok || !VerifyPassword(password, hash) {
		return nil, model.NewInvalidCredentialsError()
	}

	if NeedsRehash(hash) {
		s.rehash(ctx, user, password)
	}

	return user, nil
}

// rehash はパスワードを現行パラメータで再ハッシュする。
// 失敗してもログインは成功させる。
func (s *Service) rehash(ctx context.Context, user *model.User, password string) {
	newHash, err := HashPassword(password)
	if err != nil {
		slog.Warn("パスワードの再ハッシュに失敗しました",
			slog.Int64("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if _, err := s.users.UpdatePasswordHash(ctx, user.ID, newHash); err != nil {
		slog.Warn("再ハッシュしたパスワードの保存に失敗しました",
			slog.Int64("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	user.ProviderID = newHash
	slog.Info("パスワードハッシュを更新しました", slog.Int64("user_id", user.ID))
}

func (s *Service) issue(user *model.User) (*AuthResult, error) {
	token, err := s.codec.Encode(Claims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
	}, s.config.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	if s.recorder != nil {
		s.recorder.RecordLogin(string(user.Provider))
	}
	return &AuthResult{Token: token, User: user}, nil
}

func newOAuthUser(provider model.Provider, info *OAuthUserInfo) *model.User {
	email := strings.ToLower(strings.TrimSpace(info.Email))
	if email == "" {
		email = info.ProviderUserID + "@" + lineEmailDomain
	}

	name := strings.TrimSpace(info.Name)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		name = string([]rune(name)[:maxNameLength])
	}

	user := &model.User{
		Email:      email,
		Name:       name,
		Provider:   provider,
		ProviderID: info.ProviderUserID,
		Role:       model.RoleUser,
	}
	if IsHTTPSURL(info.AvatarURL) {
		avatar := info.AvatarURL
		user.AvatarURL = &avatar
	}
	return user
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || len(email) > maxEmailLength {
		return "", model.NewValidationError("メールアドレスの形式が正しくありません。")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", model.NewValidationError("メールアドレスの形式が正しくありません。")
	}
	return email, nil
}

func validatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < minPasswordLength || n > maxPasswordLength {
		return model.NewValidationError(fmt.Sprintf("パスワードは%d文字以上%d文字以下で入力してください。", minPasswordLength, maxPasswordLength))
	}
	return nil
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return "", model.NewValidationError(fmt.Sprintf("名前は1文字以上%d文字以下で入力してください。", maxNameLength))
	}
	return name, nil
}

// IsHTTPSURL はホスト名を持つhttps URLかどうかを返す。
func IsHTTPSURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "https" && u.Host != ""
}
