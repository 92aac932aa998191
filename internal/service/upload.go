// upload.go — конвейер загрузки: валидация → шифрование → blob store →
// атомарная регистрация в реестре → выдача ключа владельцу.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/medvault/internal/blobstore"
	"github.com/bigkaa/medvault/internal/domain/model"
	"github.com/bigkaa/medvault/internal/keywrap"
	"github.com/bigkaa/medvault/internal/repository"
)

// Ограничения полей записи.
const (
	maxFilenameLen    = 255
	maxDescriptionLen = 4096
)

// Prometheus-метрики загрузки.
var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mr_uploads_total",
		Help: "Общее количество загрузок записей (по статусу).",
	}, []string{"status"})

	uploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mr_upload_duration_seconds",
		Help:    "Длительность конвейера загрузки.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mr_upload_bytes_total",
		Help: "Общее количество байт открытого текста в успешных загрузках.",
	})
)

// UploadParams — входные данные загрузки.
type UploadParams struct {
	// Custodian — адрес загружающего (из идентификации запроса)
	Custodian   string
	Patient     string
	Filename    string
	Content     []byte
	RecordType  string
	Description string
}

// UploadResult — результат загрузки. EncryptionKey — единственная копия
// ключа (или токен инкапсуляции), сервис его не хранит.
type UploadResult struct {
	RecordID       int64
	ContentID      string
	ContentHash    string
	EncryptionIV   string
	EncryptionKey  string
	KeyScheme      string
	PatientAddress string
}

// UploadService — конвейер загрузки.
type UploadService struct {
	cipher      Cipher
	blobs       blobstore.Store
	store       RecordStore
	wrapper     keywrap.Wrapper
	maxFileSize int64
	logger      *slog.Logger
}

// NewUploadService создаёт конвейер загрузки.
func NewUploadService(
	cipher Cipher,
	blobs blobstore.Store,
	store RecordStore,
	wrapper keywrap.Wrapper,
	maxFileSize int64,
	logger *slog.Logger,
) *UploadService {
	return &UploadService{
		cipher:      cipher,
		blobs:       blobs,
		store:       store,
		wrapper:     wrapper,
		maxFileSize: maxFileSize,
		logger:      logger.With(slog.String("component", "upload_service")),
	}
}

// Upload выполняет конвейер загрузки.
// Ошибка на любом шаге прерывает конвейер; после шага 3 возможен
// осиротевший шифротекст в blob store, но не запись в реестре.
func (s *UploadService) Upload(ctx context.Context, params UploadParams) (*UploadResult, error) {
	start := time.Now()

	// 1. Валидация
	rec, err := s.validate(params)
	if err != nil {
		uploadsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	// 2. Шифрование свежими ключом и IV
	env, err := s.cipher.Encrypt(ctx, params.Content)
	if err != nil {
		uploadsTotal.WithLabelValues("encrypt_error").Inc()
		return nil, mapCryptoError(err, ErrEncryptionFailed)
	}
	rec.ContentHash = "0x" + strings.ToLower(env.Hash)
	rec.EncryptionIV = env.IV

	// Инкапсуляция ключа до записи в blob store
	token, err := s.wrapper.Wrap(env.Key)
	if err != nil {
		uploadsTotal.WithLabelValues("encrypt_error").Inc()
		return nil, fmt.Errorf("%w: инкапсуляция ключа: %w", ErrEncryptionFailed, err)
	}

	// 3. Шифротекст в blob store
	cid, err := s.blobs.Put(ctx, env.Ciphertext, rec.Filename+".encrypted")
	if err != nil {
		uploadsTotal.WithLabelValues("blob_error").Inc()
		return nil, mapBlobError(err)
	}
	rec.ContentID = cid

	// 4-5. Участники и запись — одной транзакцией
	if err := s.store.CreateRecord(ctx, rec); err != nil {
		uploadsTotal.WithLabelValues("registry_error").Inc()
		s.logger.Error("Шифротекст сохранён, но запись не зарегистрирована",
			slog.String("content_id", cid),
			slog.String("patient", rec.PatientAddress),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: %w", ErrConflict, err)
		}
		return nil, fmt.Errorf("регистрация записи: %w", err)
	}

	duration := time.Since(start)
	uploadsTotal.WithLabelValues("success").Inc()
	uploadDuration.Observe(duration.Seconds())
	uploadBytesTotal.Add(float64(len(params.Content)))

	s.logger.Info("Запись загружена",
		slog.Int64("record_id", rec.RecordID),
		slog.String("content_id", cid),
		slog.String("patient", rec.PatientAddress),
		slog.String("custodian", rec.CustodianAddress),
		slog.Int64("size", rec.FileSize),
		slog.Duration("duration", duration),
	)

	// 6. Результат
	return &UploadResult{
		RecordID:       rec.RecordID,
		ContentID:      cid,
		ContentHash:    rec.ContentHash,
		EncryptionIV:   rec.EncryptionIV,
		EncryptionKey:  token,
		KeyScheme:      s.wrapper.Scheme(),
		PatientAddress: rec.PatientAddress,
	}, nil
}

// validate проверяет входные данные и собирает черновик записи.
func (s *UploadService) validate(params UploadParams) (*model.Record, error) {
	custodian, err := model.ValidateAddress(params.Custodian)
	if err != nil {
		return nil, fmt.Errorf("%w: загружающий: %v", ErrValidation, err)
	}
	patient, err := model.ValidateAddress(params.Patient)
	if err != nil {
		return nil, fmt.Errorf("%w: пациент: %v", ErrValidation, err)
	}

	filename, err := cleanFilename(params.Filename)
	if err != nil {
		return nil, err
	}

	if len(params.Content) == 0 {
		return nil, fmt.Errorf("%w: пустой файл", ErrValidation)
	}
	if s.maxFileSize > 0 && int64(len(params.Content)) > s.maxFileSize {
		return nil, fmt.Errorf("%w: %d байт, максимум %d", ErrFileTooLarge, len(params.Content), s.maxFileSize)
	}

	recordType, err := model.ParseRecordType(params.RecordType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	description := strings.TrimSpace(params.Description)
	if utf8.RuneCountInString(description) > maxDescriptionLen {
		return nil, fmt.Errorf("%w: описание длиннее %d символов", ErrValidation, maxDescriptionLen)
	}

	return &model.Record{
		PatientAddress:   patient,
		CustodianAddress: custodian,
		Filename:         filename,
		FileSize:         int64(len(params.Content)),
		RecordType:       recordType,
		Description:      description,
	}, nil
}

// cleanFilename убирает путь из имени файла и проверяет длину.
func cleanFilename(name string) (string, error) {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	name = path.Base(name)
	if name == "" || name == "." || name == "/" || name == ".." {
		return "", fmt.Errorf("%w: имя файла не задано", ErrValidation)
	}
	if utf8.RuneCountInString(name) > maxFilenameLen {
		return "", fmt.Errorf("%w: имя файла длиннее %d символов", ErrValidation, maxFilenameLen)
	}
	return name, nil
}
