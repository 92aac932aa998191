// Пакет sidecar — HTTP-обработчики криптосервиса:
// шифрование, расшифровка и проверка целостности по base64-телам.
// Ключи и открытый текст не логируются.
package sidecar

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apierrors "github.com/bigkaa/medvault/internal/api/errors"
	"github.com/bigkaa/medvault/internal/crypto"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mr_sidecar_operations_total",
		Help: "Количество операций криптосервиса",
	}, []string{"operation", "status"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mr_sidecar_operation_duration_seconds",
		Help:    "Длительность операций криптосервиса",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)

// EncryptRequest — тело POST /api/v1/encrypt.
type EncryptRequest struct {
	ContentBase64 string `json:"content_base64"`
}

// EncryptResponse — ответ POST /api/v1/encrypt.
type EncryptResponse struct {
	EncryptedContent string `json:"encrypted_content"`
	IV               string `json:"iv"`
	Key              string `json:"key"` //nolint:gosec // G117: ключ возвращается вызывающему сервису
	Hash             string `json:"hash"`
}

// DecryptRequest — тело POST /api/v1/decrypt.
type DecryptRequest struct {
	EncryptedContent string `json:"encrypted_content"`
	IV               string `json:"iv"`
	Key              string `json:"key"` //nolint:gosec // G117: поле запроса
}

// DecryptResponse — ответ POST /api/v1/decrypt.
type DecryptResponse struct {
	ContentBase64 string `json:"content_base64"`
	Size          int    `json:"size"`
}

// VerifyRequest — тело POST /api/v1/verify.
type VerifyRequest struct {
	ContentBase64 string `json:"content_base64"`
	ExpectedHash  string `json:"expected_hash"`
}

// VerifyResponse — ответ POST /api/v1/verify.
type VerifyResponse struct {
	Verified     bool   `json:"verified"`
	Tampered     bool   `json:"tampered"`
	ComputedHash string `json:"computed_hash"`
	ExpectedHash string `json:"expected_hash"`
	Message      string `json:"message"`
}

// Handler — обработчики криптосервиса.
type Handler struct {
	maxBodyBytes int64
	logger       *slog.Logger
}

// NewHandler создаёт обработчик. maxFileSize — предел открытого текста;
// предел тела учитывает расширение base64 и паддинг.
func NewHandler(maxFileSize int64, logger *slog.Logger) *Handler {
	return &Handler{
		maxBodyBytes: (maxFileSize+16)/3*4 + 4096,
		logger:       logger.With(slog.String("component", "crypto_sidecar")),
	}
}

// RegisterRoutes регистрирует маршруты криптосервиса.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/v1/encrypt", h.Encrypt)
	r.Post("/api/v1/decrypt", h.Decrypt)
	r.Post("/api/v1/verify", h.Verify)
}

// Encrypt — POST /api/v1/encrypt.
func (h *Handler) Encrypt(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { operationDuration.WithLabelValues("encrypt").Observe(time.Since(start).Seconds()) }()

	var req EncryptRequest
	if !h.decode(w, r, "encrypt", &req) {
		return
	}
	plain, err := base64.StdEncoding.DecodeString(req.ContentBase64)
	if err != nil {
		h.reject(w, "encrypt", "content_base64 не в base64")
		return
	}
	if len(plain) == 0 {
		h.reject(w, "encrypt", "Пустой файл")
		return
	}

	env, err := crypto.Encrypt(plain)
	if err != nil {
		operationsTotal.WithLabelValues("encrypt", "error").Inc()
		h.logger.Error("Ошибка шифрования", slog.String("error", err.Error()))
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.CodeEncryptionFailed, "Ошибка шифрования")
		return
	}

	operationsTotal.WithLabelValues("encrypt", "ok").Inc()
	h.logger.Debug("Файл зашифрован", slog.Int("size", len(plain)))
	writeJSON(w, http.StatusOK, EncryptResponse{
		EncryptedContent: base64.StdEncoding.EncodeToString(env.Ciphertext),
		IV:               env.IV,
		Key:              env.Key,
		Hash:             env.Hash,
	})
}

// Decrypt — POST /api/v1/decrypt.
func (h *Handler) Decrypt(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { operationDuration.WithLabelValues("decrypt").Observe(time.Since(start).Seconds()) }()

	var req DecryptRequest
	if !h.decode(w, r, "decrypt", &req) {
		return
	}
	ct, err := base64.StdEncoding.DecodeString(req.EncryptedContent)
	if err != nil {
		operationsTotal.WithLabelValues("decrypt", "invalid").Inc()
		apierrors.DecryptionError(w, "encrypted_content не в base64")
		return
	}

	plain, err := crypto.Decrypt(ct, req.IV, req.Key)
	if err != nil {
		operationsTotal.WithLabelValues("decrypt", "invalid").Inc()
		if errors.Is(err, crypto.ErrDecryption) {
			apierrors.DecryptionError(w, "Расшифровка не удалась: неверный ключ, IV или шифротекст")
			return
		}
		h.logger.Error("Ошибка расшифровки", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка расшифровки")
		return
	}

	operationsTotal.WithLabelValues("decrypt", "ok").Inc()
	writeJSON(w, http.StatusOK, DecryptResponse{
		ContentBase64: base64.StdEncoding.EncodeToString(plain),
		Size:          len(plain),
	})
}

// Verify — POST /api/v1/verify.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if !h.decode(w, r, "verify", &req) {
		return
	}
	content, err := base64.StdEncoding.DecodeString(req.ContentBase64)
	if err != nil {
		h.reject(w, "verify", "content_base64 не в base64")
		return
	}
	if len(content) == 0 {
		h.reject(w, "verify", "Пустой файл")
		return
	}
	if req.ExpectedHash == "" {
		h.reject(w, "verify", "expected_hash обязателен")
		return
	}

	v := crypto.Verify(content, req.ExpectedHash)
	resp := VerifyResponse{
		Verified:     v.Verified,
		Tampered:     v.Tampered,
		ComputedHash: v.ComputedHash,
		ExpectedHash: v.ExpectedHash,
		Message:      "Целостность подтверждена",
	}
	status := "ok"
	if v.Tampered {
		resp.Message = "Хеш не совпадает: данные изменены"
		status = "tampered"
		h.logger.Warn("Проверка целостности не пройдена",
			slog.String("expected_hash", v.ExpectedHash),
			slog.String("computed_hash", v.ComputedHash),
		)
	}
	operationsTotal.WithLabelValues("verify", status).Inc()
	writeJSON(w, http.StatusOK, resp)
}

// decode читает JSON-тело с ограничением размера.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, op string, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		operationsTotal.WithLabelValues(op, "invalid").Inc()
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.FileTooLarge(w, "Тело запроса превышает допустимый размер")
			return false
		}
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return false
	}
	return true
}

func (h *Handler) reject(w http.ResponseWriter, op, msg string) {
	operationsTotal.WithLabelValues(op, "invalid").Inc()
	apierrors.ValidationError(w, msg)
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
