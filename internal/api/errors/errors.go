// Пакет errors — единый формат HTTP-ошибок сервисов:
// {"error": {"code": "...", "message": "..."}}.
package errors //nolint:revive // конфликт имени со stdlib, импортируется как apierrors

import (
	"encoding/json"
	"net/http"
)

// Машиночитаемые коды ошибок.
const (
	CodeValidationError      = "VALIDATION_ERROR"
	CodeNotFound             = "NOT_FOUND"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeForbidden            = "FORBIDDEN"
	CodeConflict             = "CONFLICT"
	CodeFileTooLarge         = "FILE_TOO_LARGE"
	CodeEncryptionFailed     = "ENCRYPTION_FAILED"
	CodeDecryptionError      = "DECRYPTION_ERROR"
	CodeCryptoUnavailable    = "CRYPTO_UNAVAILABLE"
	CodeBlobStoreUnavailable = "BLOB_STORE_UNAVAILABLE"
	CodeBlobStoreRejected    = "BLOB_STORE_REJECTED"
	CodeBlobNotFound         = "BLOB_NOT_FOUND"
	CodeIntegrityViolation   = "INTEGRITY_VIOLATION"
	CodeInternalError        = "INTERNAL_ERROR"
)

// Body — тело ответа ошибки. Экспортируется для клиентов сервисов.
type Body struct {
	Error Detail `json:"error"`
}

// Detail — детали ошибки.
type Detail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в едином формате.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(Body{
		Error: Detail{
			Code:    code,
			Message: message,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// Conflict — 409 конфликт состояния.
func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConflict, message)
}

// FileTooLarge — 413 файл превышает лимит.
func FileTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, message)
}

// DecryptionError — 400 неверный ключ или повреждённый шифротекст.
func DecryptionError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeDecryptionError, message)
}

// IntegrityViolation — 422 хеш расшифрованных данных не совпал с реестром.
func IntegrityViolation(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnprocessableEntity, CodeIntegrityViolation, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
