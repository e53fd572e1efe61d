// Package middleware содержит HTTP middleware сервиса групповых закупок.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/mmeshcher/groupbuy/internal/auth"
)

type contextKey string

const principalKey contextKey = "principal"

const (
	authCookieName = "auth_token"
	authCookieTTL  = 24 * time.Hour
	bearerPrefix   = "Bearer "
)

// AuthMiddleware проверяет токен доступа из заголовка Authorization или cookie.
type AuthMiddleware struct {
	tokens *auth.JWTManager
}

// NewAuthMiddleware создаёт AuthMiddleware поверх менеджера токенов.
func NewAuthMiddleware(tokens *auth.JWTManager) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Middleware пропускает запрос дальше только с действующим токеном
// и кладёт участника в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.tokens.Validate(tokenFromRequest(r))
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequireRole отклоняет запросы участников с другой ролью.
// Должен стоять после Middleware.
func RequireRole(role auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			if p.Role != role {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SetAuthCookie отдаёт токен клиенту в cookie и в заголовке Authorization.
func SetAuthCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(authCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.Header().Set("Authorization", bearerPrefix+token)
}

// PrincipalFromContext извлекает участника из контекста запроса.
func PrincipalFromContext(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalKey).(auth.Principal)
	return p, ok
}

// WithPrincipal кладёт участника в контекст.
func WithPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(h, bearerPrefix))
	}
	if c, err := r.Cookie(authCookieName); err == nil {
		return c.Value
	}
	return ""
}
