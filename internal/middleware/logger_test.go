package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mmeshcher/groupbuy/internal/metrics"
)

func TestLogger_LevelByStatus(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	r := chi.NewRouter()
	r.Use(Logger(zap.New(core), metrics.New()))
	r.Get("/groups/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch chi.URLParam(r, "id") {
		case "missing":
			w.WriteHeader(http.StatusNotFound)
		case "broken":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			_, _ = w.Write([]byte("ok"))
		}
	})

	tests := []struct {
		path  string
		level zapcore.Level
		code  int64
	}{
		{path: "/groups/g1", level: zapcore.InfoLevel, code: http.StatusOK},
		{path: "/groups/missing", level: zapcore.WarnLevel, code: http.StatusNotFound},
		{path: "/groups/broken", level: zapcore.ErrorLevel, code: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))

		entries := logs.TakeAll()
		if len(entries) != 1 {
			t.Fatalf("%s: got %d log entries, want 1", tt.path, len(entries))
		}
		e := entries[0]
		if e.Level != tt.level {
			t.Fatalf("%s: level = %v, want %v", tt.path, e.Level, tt.level)
		}
		fields := e.ContextMap()
		if fields["status"] != tt.code {
			t.Fatalf("%s: status field = %v, want %d", tt.path, fields["status"], tt.code)
		}
		if fields["route"] != "/groups/{id}" {
			t.Fatalf("%s: route field = %v", tt.path, fields["route"])
		}
	}
}

func TestLogger_NilMetrics(t *testing.T) {
	h := Logger(zap.NewNop(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
}
