// handler.go — общие части HTTP-обработчиков: контракты сервисного слоя,
// сопоставление ошибок сервисов с HTTP-ответами, JSON-ответы.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/medvault/internal/api/errors"
	"github.com/bigkaa/medvault/internal/domain/model"
	"github.com/bigkaa/medvault/internal/service"
)

// Uploader — конвейер загрузки (service.UploadService).
type Uploader interface {
	Upload(ctx context.Context, params service.UploadParams) (*service.UploadResult, error)
}

// Downloader — конвейер скачивания (service.DownloadService).
type Downloader interface {
	Download(ctx context.Context, params service.DownloadParams) (service.DownloadResult, error)
}

// Reconciler — сверка с леджером (service.ReconcileService).
type Reconciler interface {
	Reconcile(ctx context.Context, params service.ReconcileParams) (*service.ReconcileResult, error)
}

// RecordReader — запросы метаданных (service.RecordService).
type RecordReader interface {
	Get(ctx context.Context, requester string, recordID int64) (*model.Record, error)
	GetByContentID(ctx context.Context, requester, contentID string) (*model.Record, error)
	ListByPatient(ctx context.Context, params service.ListParams) (*service.ListResult, error)
	UpdateLedgerTx(ctx context.Context, requester string, recordID int64, txHash string) (*model.Record, error)
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeServiceError сопоставляет ошибку сервисного слоя с HTTP-ответом.
// Неизвестные ошибки логируются и отдаются как 500 без деталей.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	switch {
	case errors.Is(err, service.ErrFileTooLarge):
		apierrors.FileTooLarge(w, err.Error())
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrCryptoUnavailable):
		apierrors.WriteError(w, http.StatusServiceUnavailable, apierrors.CodeCryptoUnavailable, "Криптосервис недоступен")
	case errors.Is(err, service.ErrEncryptionFailed):
		apierrors.WriteError(w, http.StatusBadGateway, apierrors.CodeEncryptionFailed, "Ошибка шифрования файла")
	case errors.Is(err, service.ErrDecryption):
		apierrors.DecryptionError(w, "Неверный ключ шифрования или повреждённые данные")
	case errors.Is(err, service.ErrBlobStoreUnavailable):
		apierrors.WriteError(w, http.StatusServiceUnavailable, apierrors.CodeBlobStoreUnavailable, "Хранилище шифротекстов недоступно")
	case errors.Is(err, service.ErrBlobStoreRejected):
		apierrors.WriteError(w, http.StatusBadGateway, apierrors.CodeBlobStoreRejected, "Хранилище шифротекстов отклонило запрос")
	case errors.Is(err, service.ErrBlobNotFound):
		apierrors.WriteError(w, http.StatusNotFound, apierrors.CodeBlobNotFound, "Шифротекст не найден в хранилище")
	case errors.Is(err, service.ErrRecordNotFound):
		apierrors.NotFound(w, "Запись не найдена")
	case errors.Is(err, service.ErrAccessDenied):
		apierrors.Forbidden(w, "Доступ к записи запрещён")
	case errors.Is(err, service.ErrIntegrityViolation):
		apierrors.IntegrityViolation(w, "Целостность файла не подтверждена: хеш не совпадает с реестром")
	case errors.Is(err, service.ErrConflict):
		apierrors.Conflict(w, err.Error())
	default:
		logger.Error("Внутренняя ошибка",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
		return
	}

	logger.Debug("Запрос отклонён",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}
