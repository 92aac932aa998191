package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/medvault/internal/domain/model"
)

// Registry — реестр записей: атомарная регистрация с неявным
// созданием участников плюс чтение через пул.
type Registry struct {
	tx      *TxRunner
	records RecordRepository
}

// NewRegistry создаёт реестр поверх пула подключений.
func NewRegistry(pool *pgxpool.Pool) *Registry {
	return &Registry{
		tx:      NewTxRunner(pool),
		records: NewRecordRepository(pool),
	}
}

// CreateRecord в одной транзакции создаёт при необходимости пациента
// (роль patient) и загрузившего (роль doctor) и вставляет запись.
// Сетевых вызовов внутри транзакции нет.
func (g *Registry) CreateRecord(ctx context.Context, rec *model.Record) error {
	return g.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		users := NewUserRepository(tx)
		for _, p := range participants(rec) {
			if _, _, err := users.GetOrCreate(ctx, p.address, p.role); err != nil {
				return fmt.Errorf("участник %s (%s): %w", p.address, p.role, err)
			}
		}
		return NewRecordRepository(tx).Create(ctx, rec)
	})
}

// participant — адрес участника записи и роль при первом появлении.
type participant struct {
	address string
	role    model.Role
}

// participants возвращает участников записи в порядке возрастания адреса.
// Единый порядок блокировок строк users исключает взаимоблокировку
// встречных загрузок (P→D и D→P). Совпадающий адрес создаётся как пациент.
func participants(rec *model.Record) []participant {
	patient := participant{address: rec.PatientAddress, role: model.RolePatient}
	custodian := participant{address: rec.CustodianAddress, role: model.RoleDoctor}

	switch {
	case patient.address == custodian.address:
		return []participant{patient}
	case custodian.address < patient.address:
		return []participant{custodian, patient}
	default:
		return []participant{patient, custodian}
	}
}

// GetByID возвращает запись по record_id.
func (g *Registry) GetByID(ctx context.Context, recordID int64) (*model.Record, error) {
	return g.records.GetByID(ctx, recordID)
}

// GetByContentID возвращает запись по content_id.
func (g *Registry) GetByContentID(ctx context.Context, contentID string) (*model.Record, error) {
	return g.records.GetByContentID(ctx, contentID)
}

// ListByPatient возвращает страницу записей пациента.
func (g *Registry) ListByPatient(ctx context.Context, params ListParams) ([]*model.Record, int, error) {
	return g.records.ListByPatient(ctx, params)
}

// SetLedgerTxHash привязывает хеш транзакции к записи.
func (g *Registry) SetLedgerTxHash(ctx context.Context, recordID int64, txHash string) (*model.Record, error) {
	return g.records.SetLedgerTxHash(ctx, recordID, txHash)
}
