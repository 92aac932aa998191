package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/bigkaa/medvault/internal/domain/model"
	"github.com/bigkaa/medvault/internal/repository"
)

func newTestRecordService(store *mockStore) *RecordService {
	return NewRecordService(store, NewCacheService(100, 5*time.Minute), slog.Default())
}

func seedRecord(t *testing.T, store *mockStore, contentID string) *model.Record {
	t.Helper()
	rec := &model.Record{
		PatientAddress:   testPatient,
		CustodianAddress: testDoctor,
		ContentID:        contentID,
		ContentHash:      "0x" + "00",
		Filename:         "a.pdf",
		RecordType:       model.RecordTypeLab,
	}
	if err := store.CreateRecord(context.Background(), rec); err != nil {
		t.Fatalf("CreateRecord ошибка: %v", err)
	}
	return rec
}

// TestRecordService_Get проверяет доступ к метаданным.
func TestRecordService_Get(t *testing.T) {
	store := newMockStore()
	rec := seedRecord(t, store, "bafy1")
	svc := newTestRecordService(store)

	got, err := svc.Get(context.Background(), testPatient, rec.RecordID)
	if err != nil {
		t.Fatalf("Get ошибка: %v", err)
	}
	if got.ContentID != "bafy1" {
		t.Errorf("ContentID = %q", got.ContentID)
	}

	if _, err := svc.Get(context.Background(), testStranger, rec.RecordID); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("чужой: ошибка = %v, ожидалась ErrAccessDenied", err)
	}
	if _, err := svc.Get(context.Background(), testPatient, 999); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("нет записи: ошибка = %v, ожидалась ErrRecordNotFound", err)
	}
	if _, err := svc.Get(context.Background(), "nobody", rec.RecordID); !errors.Is(err, ErrValidation) {
		t.Errorf("плохой адрес: ошибка = %v, ожидалась ErrValidation", err)
	}
}

// TestRecordService_GetByContentID проверяет поиск по content_id.
func TestRecordService_GetByContentID(t *testing.T) {
	store := newMockStore()
	seedRecord(t, store, "bafy2")
	svc := newTestRecordService(store)

	if _, err := svc.GetByContentID(context.Background(), testDoctor, "bafy2"); err != nil {
		t.Errorf("GetByContentID ошибка: %v", err)
	}
	if _, err := svc.GetByContentID(context.Background(), testStranger, "bafy2"); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("ошибка = %v, ожидалась ErrAccessDenied", err)
	}
	if _, err := svc.GetByContentID(context.Background(), testDoctor, "bafy-missing"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("ошибка = %v, ожидалась ErrRecordNotFound", err)
	}
}

// TestRecordService_ListByPatient проверяет фильтр видимости и пагинацию.
func TestRecordService_ListByPatient(t *testing.T) {
	tests := []struct {
		name          string
		requester     string
		limit         int
		wantCustodian string
		wantLimit     int
	}{
		{"пациент видит всё", testPatient, 0, "", DefaultListLimit},
		{"врач — только свои", testDoctor, 10, testDoctor, 10},
		{"лимит ограничен", testPatient, 10000, "", MaxListLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockStore()
			store.listFn = func(_ context.Context, params repository.ListParams) ([]*model.Record, int, error) {
				if params.Patient != testPatient {
					t.Errorf("Patient = %q", params.Patient)
				}
				if params.Custodian != tt.wantCustodian {
					t.Errorf("Custodian = %q, ожидался %q", params.Custodian, tt.wantCustodian)
				}
				if params.Limit != tt.wantLimit {
					t.Errorf("Limit = %d, ожидался %d", params.Limit, tt.wantLimit)
				}
				return []*model.Record{{RecordID: 1}, {RecordID: 2}}, 5, nil
			}
			svc := newTestRecordService(store)

			res, err := svc.ListByPatient(context.Background(), ListParams{
				Requester: tt.requester,
				Patient:   testPatient,
				Limit:     tt.limit,
			})
			if err != nil {
				t.Fatalf("ListByPatient ошибка: %v", err)
			}
			if res.Total != 5 || !res.HasMore {
				t.Errorf("Total = %d, HasMore = %v", res.Total, res.HasMore)
			}
		})
	}
}

// TestRecordService_ListByPatient_Invalid проверяет валидацию параметров.
func TestRecordService_ListByPatient_Invalid(t *testing.T) {
	svc := newTestRecordService(newMockStore())

	cases := []ListParams{
		{Requester: testPatient, Patient: "x"},
		{Requester: testPatient, Patient: testPatient, Offset: -1},
		{Requester: testPatient, Patient: testPatient, RecordType: "dental"},
	}
	for _, p := range cases {
		if _, err := svc.ListByPatient(context.Background(), p); !errors.Is(err, ErrValidation) {
			t.Errorf("%+v: ошибка = %v, ожидалась ErrValidation", p, err)
		}
	}
}

// TestRecordService_UpdateLedgerTx проверяет привязку транзакции и обновление кэша.
func TestRecordService_UpdateLedgerTx(t *testing.T) {
	store := newMockStore()
	rec := seedRecord(t, store, "bafy3")
	svc := newTestRecordService(store)

	// Прогреваем кэш
	if _, err := svc.Get(context.Background(), testPatient, rec.RecordID); err != nil {
		t.Fatalf("Get ошибка: %v", err)
	}

	updated, err := svc.UpdateLedgerTx(context.Background(), testDoctor, rec.RecordID, testTxHash)
	if err != nil {
		t.Fatalf("UpdateLedgerTx ошибка: %v", err)
	}
	if updated.LedgerTxHash == nil || *updated.LedgerTxHash != testTxHash {
		t.Errorf("LedgerTxHash = %v", updated.LedgerTxHash)
	}

	cached, err := svc.Get(context.Background(), testPatient, rec.RecordID)
	if err != nil {
		t.Fatalf("Get ошибка: %v", err)
	}
	if cached.LedgerTxHash == nil {
		t.Error("кэш не обновлён после привязки транзакции")
	}

	// Повтор тем же хешем идемпотентен
	if _, err := svc.UpdateLedgerTx(context.Background(), testPatient, rec.RecordID, testTxHash); err != nil {
		t.Errorf("повтор: ошибка %v", err)
	}
	// Другой хеш — конфликт
	if _, err := svc.UpdateLedgerTx(context.Background(), testPatient, rec.RecordID, testTxHashAlt); !errors.Is(err, ErrConflict) {
		t.Errorf("ошибка = %v, ожидалась ErrConflict", err)
	}
	// Посторонний
	if _, err := svc.UpdateLedgerTx(context.Background(), testStranger, rec.RecordID, testTxHash); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("ошибка = %v, ожидалась ErrAccessDenied", err)
	}
	// Плохой формат
	if _, err := svc.UpdateLedgerTx(context.Background(), testPatient, rec.RecordID, "0x1"); !errors.Is(err, ErrValidation) {
		t.Errorf("ошибка = %v, ожидалась ErrValidation", err)
	}
}
