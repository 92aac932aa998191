// reconcile.go — восстановление строки реестра по данным, засвидетельствованным
// леджером: запись уже закреплена в леджере, но отсутствует в БД.
package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/medvault/internal/crypto"
	"github.com/bigkaa/medvault/internal/domain/model"
	"github.com/bigkaa/medvault/internal/repository"
)

// Значения по умолчанию для полей, которые леджер мог не передать.
const defaultSyncFilename = "Unknown"

var reconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mr_reconcile_total",
	Help: "Общее количество запросов сверки с леджером (по результату).",
}, []string{"result"})

// ReconcileParams — поля записи, засвидетельствованные леджером.
type ReconcileParams struct {
	// Caller — адрес вызывающего
	Caller string
	Patient string
	// OriginalCustodian — загрузивший по данным леджера; пусто — Caller
	OriginalCustodian string
	ContentID         string
	ContentHash       string
	Filename          string
	FileSize          int64
	EncryptionIV      string
	RecordType        string
	Description       string
	LedgerTxHash      string
}

// ReconcileResult — результат сверки. Created=false — запись уже была.
type ReconcileResult struct {
	RecordID int64
	Created  bool
}

// ReconcileService — конвейер сверки реестра с леджером.
type ReconcileService struct {
	store  RecordStore
	logger *slog.Logger
}

// NewReconcileService создаёт сервис сверки.
func NewReconcileService(store RecordStore, logger *slog.Logger) *ReconcileService {
	return &ReconcileService{
		store:  store,
		logger: logger.With(slog.String("component", "reconcile_service")),
	}
}

// Reconcile создаёт строку реестра, если content_id ещё не зарегистрирован.
// Повторный вызов с тем же content_id возвращает существующую запись,
// если вызывающий — её пациент или загрузивший, иначе ErrAccessDenied.
func (s *ReconcileService) Reconcile(ctx context.Context, params ReconcileParams) (*ReconcileResult, error) {
	contentID := strings.TrimSpace(params.ContentID)
	if contentID == "" {
		reconcileTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: content_id не задан", ErrValidation)
	}

	// 1. Уже есть — ничего не создаём
	existing, err := s.store.GetByContentID(ctx, contentID)
	switch {
	case err == nil:
		return s.existingResult(existing, params.Caller)
	case !errors.Is(err, repository.ErrNotFound):
		reconcileTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("поиск записи по content_id: %w", err)
	}

	// 2. Валидация и нормализация
	rec, err := s.buildRecord(contentID, params)
	if err != nil {
		reconcileTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	// 3. Создание; проигравший гонку получает запись победителя
	if err := s.store.CreateRecord(ctx, rec); err != nil {
		if !errors.Is(err, repository.ErrConflict) {
			reconcileTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("создание записи при сверке: %w", err)
		}
		winner, getErr := s.store.GetByContentID(ctx, contentID)
		if getErr != nil {
			reconcileTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("%w: content_id %s: %w", ErrConflict, contentID, getErr)
		}
		return s.existingResult(winner, params.Caller)
	}

	reconcileTotal.WithLabelValues("created").Inc()
	s.logger.Info("Запись восстановлена из леджера",
		slog.Int64("record_id", rec.RecordID),
		slog.String("content_id", contentID),
		slog.String("patient", rec.PatientAddress),
		slog.String("custodian", rec.CustodianAddress),
	)

	return &ReconcileResult{RecordID: rec.RecordID, Created: true}, nil
}

// existingResult возвращает уже зарегистрированную запись только её участнику.
func (s *ReconcileService) existingResult(existing *model.Record, caller string) (*ReconcileResult, error) {
	if !existing.CanAccess(caller) {
		reconcileTotal.WithLabelValues("denied").Inc()
		s.logger.Warn("Сверка по чужой записи отклонена",
			slog.String("content_id", existing.ContentID),
			slog.String("caller", caller),
		)
		return nil, fmt.Errorf("%w: content_id %s", ErrAccessDenied, existing.ContentID)
	}
	reconcileTotal.WithLabelValues("exists").Inc()
	return &ReconcileResult{RecordID: existing.RecordID, Created: false}, nil
}

// buildRecord проверяет поля леджера и собирает запись.
func (s *ReconcileService) buildRecord(contentID string, params ReconcileParams) (*model.Record, error) {
	patient, err := model.ValidateAddress(params.Patient)
	if err != nil {
		return nil, fmt.Errorf("%w: пациент: %v", ErrValidation, err)
	}

	custodianRaw := params.OriginalCustodian
	if strings.TrimSpace(custodianRaw) == "" {
		custodianRaw = params.Caller
	}
	custodian, err := model.ValidateAddress(custodianRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: загружающий: %v", ErrValidation, err)
	}

	hash, err := model.NormalizeContentHash(params.ContentHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	iv := strings.TrimSpace(params.EncryptionIV)
	if iv != "" {
		raw, decErr := base64.StdEncoding.DecodeString(iv)
		if decErr != nil || len(raw) != crypto.IVSize {
			return nil, fmt.Errorf("%w: encryption_iv должен быть base64 от %d байт", ErrValidation, crypto.IVSize)
		}
	}

	var txHash *string
	if strings.TrimSpace(params.LedgerTxHash) != "" {
		h, txErr := model.ValidateTxHash(params.LedgerTxHash)
		if txErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, txErr)
		}
		txHash = &h
	}

	recordType, err := model.ParseRecordType(params.RecordType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	filename := defaultSyncFilename
	if strings.TrimSpace(params.Filename) != "" {
		if filename, err = cleanFilename(params.Filename); err != nil {
			return nil, err
		}
	}

	if params.FileSize < 0 {
		return nil, fmt.Errorf("%w: file_size не может быть отрицательным", ErrValidation)
	}

	return &model.Record{
		PatientAddress:   patient,
		CustodianAddress: custodian,
		ContentID:        contentID,
		ContentHash:      hash,
		EncryptionIV:     iv,
		Filename:         filename,
		FileSize:         params.FileSize,
		RecordType:       recordType,
		Description:      strings.TrimSpace(params.Description),
		LedgerTxHash:     txHash,
	}, nil
}
