package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/medvault/internal/domain/model"
)

// recordColumns — столбцы medical_records для SELECT/RETURNING.
const recordColumns = `record_id, patient_address, uploaded_by_address, content_id, content_hash,
	encryption_iv, filename, file_size, record_type, description, created_at, ledger_tx_hash`

// ListParams — параметры выборки записей пациента.
type ListParams struct {
	// Patient — адрес пациента (обязателен)
	Patient string
	// Custodian — если задан, только записи, загруженные этим адресом
	Custodian string
	// RecordType — если задан, фильтр по категории
	RecordType string
	Limit      int
	Offset     int
}

// RecordRepository — доступ к таблице medical_records.
type RecordRepository interface {
	// Create вставляет запись, заполняя RecordID и CreatedAt.
	// Повтор content_id — ErrConflict.
	Create(ctx context.Context, rec *model.Record) error
	GetByID(ctx context.Context, recordID int64) (*model.Record, error)
	GetByContentID(ctx context.Context, contentID string) (*model.Record, error)
	// ListByPatient возвращает страницу записей и общее количество.
	ListByPatient(ctx context.Context, params ListParams) ([]*model.Record, int, error)
	// SetLedgerTxHash привязывает хеш транзакции один раз.
	// Тот же хеш повторно — успех, другой — ErrConflict.
	SetLedgerTxHash(ctx context.Context, recordID int64, txHash string) (*model.Record, error)
}

type recordRepo struct {
	db DBTX
}

// NewRecordRepository создаёт репозиторий записей.
func NewRecordRepository(db DBTX) RecordRepository {
	return &recordRepo{db: db}
}

// Create вставляет запись.
func (r *recordRepo) Create(ctx context.Context, rec *model.Record) error {
	query := `
		INSERT INTO medical_records (
			patient_address, uploaded_by_address, content_id, content_hash, encryption_iv,
			filename, file_size, record_type, description, ledger_tx_hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING record_id, created_at`

	err := r.db.QueryRow(ctx, query,
		rec.PatientAddress, rec.CustodianAddress, rec.ContentID, rec.ContentHash, rec.EncryptionIV,
		rec.Filename, rec.FileSize, string(rec.RecordType), rec.Description, rec.LedgerTxHash,
	).Scan(&rec.RecordID, &rec.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: content_id %s", ErrConflict, rec.ContentID)
		}
		return fmt.Errorf("ошибка создания записи: %w", err)
	}
	return nil
}

// GetByID возвращает запись по record_id или ErrNotFound.
func (r *recordRepo) GetByID(ctx context.Context, recordID int64) (*model.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM medical_records WHERE record_id = $1`, recordColumns)
	return r.getOne(ctx, query, recordID)
}

// GetByContentID возвращает запись по content_id или ErrNotFound.
func (r *recordRepo) GetByContentID(ctx context.Context, contentID string) (*model.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM medical_records WHERE content_id = $1`, recordColumns)
	return r.getOne(ctx, query, contentID)
}

func (r *recordRepo) getOne(ctx context.Context, query string, arg any) (*model.Record, error) {
	rec, err := scanRecord(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи: %w", err)
	}
	return rec, nil
}

// ListByPatient выбирает записи пациента от новых к старым.
func (r *recordRepo) ListByPatient(ctx context.Context, params ListParams) ([]*model.Record, int, error) {
	where, args := buildListWhere(params)
	argNum := len(args) + 1

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM medical_records %s ORDER BY created_at DESC, record_id DESC LIMIT $%d OFFSET $%d`,
		recordColumns, where, argNum, argNum+1,
	)
	rows, err := r.db.Query(ctx, dataQuery, append(args, params.Limit, params.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка выборки записей: %w", err)
	}
	defer rows.Close()

	result := make([]*model.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ошибка итерации результатов: %w", err)
	}

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM medical_records %s`, where)
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта записей: %w", err)
	}

	return result, total, nil
}

// SetLedgerTxHash выполняет переход ledger_tx_hash NULL → txHash.
func (r *recordRepo) SetLedgerTxHash(ctx context.Context, recordID int64, txHash string) (*model.Record, error) {
	query := fmt.Sprintf(`
		UPDATE medical_records
		SET ledger_tx_hash = $2
		WHERE record_id = $1 AND (ledger_tx_hash IS NULL OR ledger_tx_hash = $2)
		RETURNING %s`, recordColumns)

	rec, err := scanRecord(r.db.QueryRow(ctx, query, recordID, txHash))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ошибка обновления хеша транзакции: %w", err)
	}

	// Строка не обновлена: либо её нет, либо хеш уже другой
	if _, err := r.GetByID(ctx, recordID); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: хеш транзакции уже привязан", ErrConflict)
}

// buildListWhere строит WHERE для выборки записей пациента.
func buildListWhere(params ListParams) (whereClause string, args []any) {
	conditions := []string{"patient_address = $1"}
	args = []any{params.Patient}

	if params.Custodian != "" {
		args = append(args, params.Custodian)
		conditions = append(conditions, fmt.Sprintf("uploaded_by_address = $%d", len(args)))
	}
	if params.RecordType != "" {
		args = append(args, params.RecordType)
		conditions = append(conditions, fmt.Sprintf("record_type = $%d", len(args)))
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

func scanRecord(row pgx.Row) (*model.Record, error) {
	rec := &model.Record{}
	var recordType string
	if err := row.Scan(
		&rec.RecordID, &rec.PatientAddress, &rec.CustodianAddress, &rec.ContentID, &rec.ContentHash,
		&rec.EncryptionIV, &rec.Filename, &rec.FileSize, &recordType, &rec.Description,
		&rec.CreatedAt, &rec.LedgerTxHash,
	); err != nil {
		return nil, err
	}
	rec.RecordType = model.RecordType(recordType)
	return rec, nil
}
