package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

// TestRequestID проверяет генерацию и сохранение X-Request-ID.
func TestRequestID(t *testing.T) {
	incoming := uuid.NewString()

	tests := []struct {
		name     string
		header   string
		wantSame bool
	}{
		{"без заголовка", "", false},
		{"валидный UUID сохраняется", incoming, true},
		{"мусор заменяется", "not-a-uuid\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fromCtx string
			handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fromCtx = RequestIDFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
			if tt.header != "" {
				req.Header.Set(HeaderRequestID, tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			got := rec.Header().Get(HeaderRequestID)
			if _, err := uuid.Parse(got); err != nil {
				t.Fatalf("X-Request-ID = %q не UUID", got)
			}
			if got != fromCtx {
				t.Errorf("контекст = %q, заголовок = %q", fromCtx, got)
			}
			if tt.wantSame != (got == incoming) {
				t.Errorf("X-Request-ID = %q, входящий %q", got, incoming)
			}
		})
	}
}

// TestRequestLogger проверяет, что обёртка пропускает статус.
func TestRequestLogger(t *testing.T) {
	handler := RequestLogger(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("x"))
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("статус = %d, ожидался 418", rec.Code)
	}
}
