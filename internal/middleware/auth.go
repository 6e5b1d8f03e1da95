// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/fitclub/internal/auth"
	"github.com/hitoshi/fitclub/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var principalContextKey = contextKey("principal")

// PrincipalResolver はAuthorizationヘッダーからPrincipalを解決する。
// auth.Authenticatorが実装する。
type PrincipalResolver interface {
	Authenticate(ctx context.Context, authorization string) (*auth.Principal, error)
}

// AuthRejectionRecorder は認証・認可の拒否をエラーコード別に記録する。
type AuthRejectionRecorder interface {
	RecordAuthRejection(code string)
}

// NewAuthMiddleware はBearerトークンを検証し、Principalをコンテキストに注入するミドルウェアを返す。
// 拒否時は401、ストレージ障害時は500を返す。
func NewAuthMiddleware(resolver PrincipalResolver, recorder AuthRejectionRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := resolver.Authenticate(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				if apiErr, ok := auth.ToAPIError(err); ok {
					if recorder != nil {
						recorder.RecordAuthRejection(apiErr.Code)
					}
					WriteErrorResponse(w, apiErr)
					return
				}
				slog.Error("認証中にエラーが発生しました",
					slog.String("error", err.Error()),
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, model.NewStorageError())
				return
			}

			setLoggedUserID(r.Context(), principal.UserID())
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

// NewRequireRoleMiddleware はPrincipalが指定ロールを持つ場合のみ通過させるミドルウェアを返す。
// NewAuthMiddlewareの後に配置する。
func NewRequireRoleMiddleware(role model.Role, recorder AuthRejectionRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, _ := PrincipalFromContext(r.Context())
			if err := auth.Authorize(principal, role); err != nil {
				apiErr, _ := auth.ToAPIError(err)
				if recorder != nil {
					recorder.RecordAuthRejection(apiErr.Code)
				}
				WriteErrorResponse(w, apiErr)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PrincipalFromContext はリクエストコンテキストからPrincipalを取得する。
func PrincipalFromContext(ctx context.Context) (*auth.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*auth.Principal)
	return p, ok && p != nil
}

// ContextWithPrincipal はコンテキストにPrincipalを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithPrincipal(ctx context.Context, p *auth.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}
