package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mmeshcher/groupbuy/internal/auth"
)

func newTestAuth(t *testing.T) (*AuthMiddleware, *auth.JWTManager) {
	t.Helper()
	tokens := auth.NewJWTManager("test-secret", time.Hour)
	return NewAuthMiddleware(tokens), tokens
}

func TestAuthMiddleware_WithValidCookie(t *testing.T) {
	m, tokens := newTestAuth(t)
	want := auth.Principal{ID: "buyer-42", Role: auth.RoleBuyer}

	token, err := tokens.Generate(want)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			t.Fatalf("principal not in context")
		}
		if p != want {
			t.Fatalf("principal from context = %+v, want %+v", p, want)
		}
	})

	w := httptest.NewRecorder()
	SetAuthCookie(w, token)
	resCookies := w.Result().Cookies()
	if len(resCookies) == 0 {
		t.Fatalf("no cookies set by SetAuthCookie")
	}
	if got := w.Header().Get("Authorization"); got != "Bearer "+token {
		t.Fatalf("authorization header = %q", got)
	}

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.AddCookie(resCookies[0])

	m.Middleware(next).ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestAuthMiddleware_WithBearerHeader(t *testing.T) {
	m, tokens := newTestAuth(t)

	token, err := tokens.Generate(auth.Principal{ID: "supplier-1", Role: auth.RoleSupplier})
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
	})

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	m.Middleware(next).ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	m, _ := newTestAuth(t)
	foreign, err := auth.NewJWTManager("other-secret", time.Hour).Generate(auth.Principal{ID: "x", Role: auth.RoleBuyer})
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	tests := []struct {
		name   string
		header string
	}{
		{name: "no token"},
		{name: "garbage token", header: "Bearer not-a-jwt"},
		{name: "foreign signature", header: "Bearer " + foreign},
		{name: "basic scheme", header: "Basic dXNlcjpwYXNz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatalf("next handler should not be called")
			})

			r := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			m.Middleware(next).ServeHTTP(w, r)

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := RequireRole(auth.RoleSupplier)(ok)

	tests := []struct {
		name      string
		principal *auth.Principal
		want      int
	}{
		{name: "matching role", principal: &auth.Principal{ID: "s", Role: auth.RoleSupplier}, want: http.StatusNoContent},
		{name: "other role", principal: &auth.Principal{ID: "b", Role: auth.RoleBuyer}, want: http.StatusForbidden},
		{name: "anonymous", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.principal != nil {
				r = r.WithContext(WithPrincipal(r.Context(), *tt.principal))
			}
			w := httptest.NewRecorder()

			h.ServeHTTP(w, r)

			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
