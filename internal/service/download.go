// download.go — конвейер скачивания: запись (кэш/БД) → авторизация →
// шифротекст из blob store → расшифровка → проверка SHA-256.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/medvault/internal/blobstore"
	"github.com/bigkaa/medvault/internal/crypto"
	"github.com/bigkaa/medvault/internal/domain/model"
	"github.com/bigkaa/medvault/internal/keywrap"
)

// Prometheus-метрики скачивания.
var (
	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mr_downloads_total",
		Help: "Общее количество запросов на скачивание (по статусу).",
	}, []string{"status"})

	downloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mr_download_duration_seconds",
		Help:    "Длительность конвейера скачивания.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	integrityViolationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mr_integrity_violations_total",
		Help: "Количество расхождений хеша расшифрованных данных с реестром.",
	})
)

// DownloadParams — входные данные скачивания.
type DownloadParams struct {
	// Requester — адрес запрашивающего
	Requester string
	RecordID  int64
	// Key — ключ или токен инкапсуляции; пусто — только метаданные
	Key string
}

// DownloadResult — исход скачивания: *Decrypted или *NeedsKey.
type DownloadResult interface {
	downloadResult()
}

// Decrypted — расшифрованный и проверенный файл.
type Decrypted struct {
	RecordID  int64
	ContentID string
	Filename  string
	CreatedAt time.Time
	Plaintext []byte
}

// NeedsKey — доступ разрешён, но ключ не передан.
type NeedsKey struct {
	RecordID  int64
	ContentID string
	Filename  string
}

func (*Decrypted) downloadResult() {}
func (*NeedsKey) downloadResult()  {}

// DownloadService — конвейер скачивания.
type DownloadService struct {
	store   RecordStore
	cache   *CacheService
	blobs   blobstore.Store
	cipher  Cipher
	wrapper keywrap.Wrapper
	logger  *slog.Logger
}

// NewDownloadService создаёт конвейер скачивания.
func NewDownloadService(
	store RecordStore,
	cache *CacheService,
	blobs blobstore.Store,
	cipher Cipher,
	wrapper keywrap.Wrapper,
	logger *slog.Logger,
) *DownloadService {
	return &DownloadService{
		store:   store,
		cache:   cache,
		blobs:   blobs,
		cipher:  cipher,
		wrapper: wrapper,
		logger:  logger.With(slog.String("component", "download_service")),
	}
}

// Download выполняет конвейер скачивания. Открытый текст возвращается
// только после совпадения SHA-256 с реестром.
func (ds *DownloadService) Download(ctx context.Context, params DownloadParams) (DownloadResult, error) {
	start := time.Now()

	requester, err := model.ValidateAddress(params.Requester)
	if err != nil {
		downloadsTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: запрашивающий: %v", ErrValidation, err)
	}
	if params.RecordID <= 0 {
		downloadsTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: record_id должен быть > 0", ErrValidation)
	}

	// 1. Запись (кэш или БД)
	rec, err := lookupRecord(ctx, ds.store, ds.cache, params.RecordID)
	if err != nil {
		downloadsTotal.WithLabelValues("not_found").Inc()
		return nil, err
	}

	// 2. Авторизация до любых действий с ключом
	if !rec.CanAccess(requester) {
		downloadsTotal.WithLabelValues("forbidden").Inc()
		ds.logger.Warn("Отказ в доступе к записи",
			slog.Int64("record_id", rec.RecordID),
			slog.String("requester", requester),
		)
		return nil, fmt.Errorf("%w: запись %d", ErrAccessDenied, rec.RecordID)
	}

	// 3. Без ключа — только идентификаторы
	key := strings.TrimSpace(params.Key)
	if key == "" {
		downloadsTotal.WithLabelValues("key_required").Inc()
		return &NeedsKey{RecordID: rec.RecordID, ContentID: rec.ContentID, Filename: rec.Filename}, nil
	}

	// 4. Шифротекст
	ciphertext, err := ds.blobs.Get(ctx, rec.ContentID)
	if err != nil {
		downloadsTotal.WithLabelValues("blob_error").Inc()
		return nil, mapBlobError(err)
	}

	// 5. Раскрытие ключа и расшифровка сохранённым IV
	rawKey, err := ds.wrapper.Unwrap(key)
	if err != nil {
		downloadsTotal.WithLabelValues("decrypt_error").Inc()
		return nil, fmt.Errorf("%w: %w", ErrDecryption, err)
	}
	plaintext, err := ds.cipher.Decrypt(ctx, ciphertext, rec.EncryptionIV, rawKey)
	if err != nil {
		downloadsTotal.WithLabelValues("decrypt_error").Inc()
		return nil, mapCryptoError(err, ErrDecryption)
	}

	// 6. Проверка целостности
	v := crypto.Verify(plaintext, rec.ContentHash)
	if !v.Verified {
		downloadsTotal.WithLabelValues("integrity_violation").Inc()
		integrityViolationsTotal.Inc()
		ds.logger.Error("Нарушение целостности: хеш расшифрованных данных не совпал с реестром",
			slog.String("security_event", "integrity_violation"),
			slog.Int64("record_id", rec.RecordID),
			slog.String("content_id", rec.ContentID),
			slog.String("expected_hash", v.ExpectedHash),
			slog.String("computed_hash", v.ComputedHash),
			slog.String("requester", requester),
		)
		return nil, fmt.Errorf("%w: запись %d", ErrIntegrityViolation, rec.RecordID)
	}

	duration := time.Since(start)
	downloadsTotal.WithLabelValues("success").Inc()
	downloadDuration.Observe(duration.Seconds())

	ds.logger.Info("Запись расшифрована",
		slog.Int64("record_id", rec.RecordID),
		slog.String("requester", requester),
		slog.Int("size", len(plaintext)),
		slog.Duration("duration", duration),
	)

	// 7. Результат
	return &Decrypted{
		RecordID:  rec.RecordID,
		ContentID: rec.ContentID,
		Filename:  rec.Filename,
		CreatedAt: rec.CreatedAt,
		Plaintext: plaintext,
	}, nil
}
