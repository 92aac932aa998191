// records.go — запросы метаданных записей и привязка хеша транзакции леджера.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bigkaa/medvault/internal/domain/model"
	"github.com/bigkaa/medvault/internal/repository"
)

// Границы пагинации списка записей.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// ListParams — параметры списка записей пациента.
type ListParams struct {
	Requester  string
	Patient    string
	RecordType string
	Limit      int
	Offset     int
}

// ListResult — страница записей.
type ListResult struct {
	Records []*model.Record
	Total   int
	Limit   int
	Offset  int
	HasMore bool
}

// RecordService — чтение метаданных записей с проверкой доступа.
type RecordService struct {
	store  RecordStore
	cache  *CacheService
	logger *slog.Logger
}

// NewRecordService создаёт сервис метаданных.
func NewRecordService(store RecordStore, cache *CacheService, logger *slog.Logger) *RecordService {
	return &RecordService{
		store:  store,
		cache:  cache,
		logger: logger.With(slog.String("component", "record_service")),
	}
}

// Get возвращает запись по record_id, если запрашивающий — пациент или загрузивший.
func (s *RecordService) Get(ctx context.Context, requester string, recordID int64) (*model.Record, error) {
	addr, err := model.ValidateAddress(requester)
	if err != nil {
		return nil, fmt.Errorf("%w: запрашивающий: %v", ErrValidation, err)
	}
	if recordID <= 0 {
		return nil, fmt.Errorf("%w: record_id должен быть > 0", ErrValidation)
	}

	rec, err := lookupRecord(ctx, s.store, s.cache, recordID)
	if err != nil {
		return nil, err
	}
	if !rec.CanAccess(addr) {
		return nil, fmt.Errorf("%w: запись %d", ErrAccessDenied, recordID)
	}
	return rec, nil
}

// GetByContentID возвращает запись по content_id с той же проверкой доступа.
func (s *RecordService) GetByContentID(ctx context.Context, requester, contentID string) (*model.Record, error) {
	addr, err := model.ValidateAddress(requester)
	if err != nil {
		return nil, fmt.Errorf("%w: запрашивающий: %v", ErrValidation, err)
	}
	contentID = strings.TrimSpace(contentID)
	if contentID == "" {
		return nil, fmt.Errorf("%w: content_id не задан", ErrValidation)
	}

	rec, err := s.store.GetByContentID(ctx, contentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: content_id %s", ErrRecordNotFound, contentID)
		}
		return nil, fmt.Errorf("получение записи по content_id: %w", err)
	}
	if !rec.CanAccess(addr) {
		return nil, fmt.Errorf("%w: content_id %s", ErrAccessDenied, contentID)
	}
	s.cache.Set(rec.RecordID, rec)
	return rec, nil
}

// ListByPatient возвращает записи пациента, видимые запрашивающему:
// пациенту — все, остальным — только загруженные ими.
func (s *RecordService) ListByPatient(ctx context.Context, params ListParams) (*ListResult, error) {
	requester, err := model.ValidateAddress(params.Requester)
	if err != nil {
		return nil, fmt.Errorf("%w: запрашивающий: %v", ErrValidation, err)
	}
	patient, err := model.ValidateAddress(params.Patient)
	if err != nil {
		return nil, fmt.Errorf("%w: пациент: %v", ErrValidation, err)
	}

	limit := params.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if params.Offset < 0 {
		return nil, fmt.Errorf("%w: offset не может быть отрицательным", ErrValidation)
	}

	query := repository.ListParams{
		Patient: patient,
		Limit:   limit,
		Offset:  params.Offset,
	}
	if params.RecordType != "" {
		rt, err := model.ParseRecordType(params.RecordType)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		query.RecordType = string(rt)
	}
	if requester != patient {
		query.Custodian = requester
	}

	records, total, err := s.store.ListByPatient(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("список записей пациента: %w", err)
	}

	return &ListResult{
		Records: records,
		Total:   total,
		Limit:   limit,
		Offset:  params.Offset,
		HasMore: params.Offset+len(records) < total,
	}, nil
}

// UpdateLedgerTx привязывает хеш транзакции леджера к записи.
// Повтор с тем же хешем идемпотентен, другой хеш — ErrConflict.
func (s *RecordService) UpdateLedgerTx(ctx context.Context, requester string, recordID int64, txHash string) (*model.Record, error) {
	if _, err := s.Get(ctx, requester, recordID); err != nil {
		return nil, err
	}

	hash, err := model.ValidateTxHash(txHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	rec, err := s.store.SetLedgerTxHash(ctx, recordID, hash)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			s.cache.Delete(recordID)
			return nil, fmt.Errorf("%w: %d", ErrRecordNotFound, recordID)
		case errors.Is(err, repository.ErrConflict):
			return nil, fmt.Errorf("%w: запись %d уже привязана к другой транзакции", ErrConflict, recordID)
		default:
			return nil, fmt.Errorf("привязка транзакции: %w", err)
		}
	}

	s.cache.Set(recordID, rec)
	s.logger.Info("Транзакция леджера привязана к записи",
		slog.Int64("record_id", recordID),
		slog.String("tx_hash", hash),
	)
	return rec, nil
}
