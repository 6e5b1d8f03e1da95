package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/fitclub/internal/middleware"
	"github.com/hitoshi/fitclub/internal/model"
)

// healthCheckTimeout はDB疎通確認のタイムアウト。
const healthCheckTimeout = 3 * time.Second

// HealthChecker はDBの疎通確認を行う。*sql.DB が満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// MetricsRecorder はミドルウェアが記録するメトリクスの出力先。
type MetricsRecorder interface {
	middleware.HTTPStatusRecorder
	middleware.AuthRejectionRecorder
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Authenticator     middleware.PrincipalResolver
	RateLimiter       *middleware.RateLimiter
	Metrics           MetricsRecorder
	MetricsHandler    http.Handler
	HealthChecker     HealthChecker
	CORSAllowedOrigin string
	TrustProxyHeaders bool

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 会員
	UserService     UserServiceInterface
	PasswordChanger PasswordChanger

	// 健康記録・アドバイス
	HealthService HealthServiceInterface

	// 質問・問い合わせ
	SupportService SupportServiceInterface

	// お知らせ・ブログ
	ContentService ContentServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → RequestID → CORS → Logging → Metrics
//
// 会員ルートは Auth → RateLimit(General)、管理者ルートは Auth → RequireRole(admin) を追加する。
// ログイン・登録にはIP単位のレート制限を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if deps.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	}

	var rejections middleware.AuthRejectionRecorder
	if deps.Metrics != nil {
		rejections = deps.Metrics
	}
	authenticate := middleware.NewAuthMiddleware(deps.Authenticator, rejections)
	requireAdmin := middleware.NewRequireRoleMiddleware(model.RoleAdmin, rejections)

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService, deps.PasswordChanger)
	healthHandler := NewHealthHandler(deps.HealthService)
	supportHandler := NewSupportHandler(deps.SupportService)
	contentHandler := NewContentHandler(deps.ContentService)

	notFound := func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteErrorResponse(w, model.NewNotFoundError("リソース"))
	}
	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)

	// --- 認証不要のルート ---

	r.Get("/health", healthCheckHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Get("/api/announcements", contentHandler.ListAnnouncements)
	r.Get("/api/blog", contentHandler.ListPosts)
	r.Get("/api/blog/{slug}", contentHandler.GetPost)

	r.Route("/api/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.LoginMiddleware())
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/admin/login", authHandler.AdminLogin)
		})

		r.With(authenticate).Get("/verify", authHandler.Verify)

		// 設定済みのプロバイダーのみ公開する
		for _, provider := range []model.Provider{model.ProviderGoogle, model.ProviderLINE} {
			if !deps.AuthService.HasProvider(provider) {
				continue
			}
			r.Get("/"+string(provider)+"/login", authHandler.OAuthLogin(provider))
			r.Get("/"+string(provider)+"/callback", authHandler.OAuthCallback(provider))
		}
	})

	// --- 会員ルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Route("/api/me", func(r chi.Router) {
		r.Use(authenticate)
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/", userHandler.Me)
		r.Put("/", userHandler.UpdateMe)
		r.Put("/password", userHandler.ChangePassword)

		r.Route("/health-records", func(r chi.Router) {
			r.Get("/", healthHandler.ListRecords)
			r.Post("/", healthHandler.CreateRecord)
			r.Get("/{id}", healthHandler.GetRecord)
			r.Put("/{id}", healthHandler.UpdateRecord)
			r.Delete("/{id}", healthHandler.DeleteRecord)
		})

		r.Route("/advice", func(r chi.Router) {
			r.Get("/", healthHandler.ListAdvice)
			r.Post("/analyze", healthHandler.Analyze)
			r.Get("/{id}/speech", healthHandler.Speech)
		})

		r.Route("/questions", func(r chi.Router) {
			r.Get("/", supportHandler.ListQuestions)
			r.Post("/", supportHandler.CreateQuestion)
			r.Get("/{id}", supportHandler.GetQuestion)
			r.Delete("/{id}", supportHandler.DeleteQuestion)
		})

		r.Route("/inquiries", func(r chi.Router) {
			r.Get("/", supportHandler.ListInquiries)
			r.Post("/", supportHandler.CreateInquiry)
			r.Get("/{id}", supportHandler.GetInquiry)
		})
	})

	// --- 管理者ルート ---
	// ミドルウェアスタック: Auth → RequireRole(admin)
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(authenticate)
		r.Use(requireAdmin)

		r.Route("/members", func(r chi.Router) {
			r.Get("/", userHandler.ListMembers)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", userHandler.GetMember)
				r.Put("/role", userHandler.ChangeRole)
				r.Get("/health-records", healthHandler.ListMemberRecords)
				r.Post("/advice", healthHandler.AddStaffAdvice)
			})
		})

		r.Get("/questions", supportHandler.ListAllQuestions)
		r.Put("/questions/{id}/answer", supportHandler.AnswerQuestion)

		r.Get("/inquiries", supportHandler.ListAllInquiries)
		r.Put("/inquiries/{id}", supportHandler.UpdateInquiry)

		r.Route("/announcements", func(r chi.Router) {
			r.Get("/", contentHandler.ListAllAnnouncements)
			r.Post("/", contentHandler.CreateAnnouncement)
			r.Put("/{id}", contentHandler.UpdateAnnouncement)
			r.Delete("/{id}", contentHandler.DeleteAnnouncement)
		})

		r.Route("/blog", func(r chi.Router) {
			r.Get("/posts", contentHandler.ListAllPosts)
			r.Post("/posts", contentHandler.CreatePost)
			r.Put("/posts/{id}", contentHandler.UpdatePost)
			r.Delete("/posts/{id}", contentHandler.DeletePost)

			r.Get("/sources", contentHandler.ListSources)
			r.Post("/sources", contentHandler.AddSource)
			r.Delete("/sources/{id}", contentHandler.DeleteSource)
			r.Post("/sources/{id}/resume", contentHandler.ResumeSource)
		})
	})

	return r
}

type healthStatusResponse struct {
	Status string `json:"status"`
}

// healthCheckHandler はDBへの疎通を確認するヘルスチェックハンドラーを返す。
// GET /health
func healthCheckHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("ヘルスチェックでDB疎通に失敗しました", slog.String("error", err.Error()))
				middleware.WriteErrorResponse(w, model.NewStorageError())
				return
			}
		}
		middleware.WriteJSON(w, http.StatusOK, healthStatusResponse{Status: "ok"})
	}
}
