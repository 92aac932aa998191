package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteError_Envelope(t *testing.T) {
	w := httptest.NewRecorder()
	IntegrityViolation(w, "хеш не совпал")

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("статус = %d, ожидался 422", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body Body
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("ошибка декодирования: %v", err)
	}
	if body.Error.Code != CodeIntegrityViolation || body.Error.Message != "хеш не совпал" {
		t.Errorf("тело = %+v", body)
	}
}

func TestConstructors_Status(t *testing.T) {
	tests := []struct {
		fn     func(http.ResponseWriter, string)
		status int
		code   string
	}{
		{ValidationError, http.StatusBadRequest, CodeValidationError},
		{NotFound, http.StatusNotFound, CodeNotFound},
		{Unauthorized, http.StatusUnauthorized, CodeUnauthorized},
		{Forbidden, http.StatusForbidden, CodeForbidden},
		{Conflict, http.StatusConflict, CodeConflict},
		{FileTooLarge, http.StatusRequestEntityTooLarge, CodeFileTooLarge},
		{DecryptionError, http.StatusBadRequest, CodeDecryptionError},
		{InternalError, http.StatusInternalServerError, CodeInternalError},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		tt.fn(w, "msg")
		var body Body
		_ = json.NewDecoder(w.Body).Decode(&body)
		if w.Code != tt.status || body.Error.Code != tt.code {
			t.Errorf("%s: статус %d код %s, ожидались %d %s", tt.code, w.Code, body.Error.Code, tt.status, tt.code)
		}
	}
}
