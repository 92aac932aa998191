// records.go — HTTP-обработчики медицинских записей:
// загрузка, скачивание, сверка с леджером, метаданные, привязка транзакции.
package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/medvault/internal/api/errors"
	"github.com/bigkaa/medvault/internal/api/middleware"
	"github.com/bigkaa/medvault/internal/domain/model"
	"github.com/bigkaa/medvault/internal/service"
)

// multipartMemory — порог, после которого части multipart уходят во временные файлы.
const multipartMemory = 32 << 20

// multipartOverhead — запас на заголовки и текстовые поля формы.
const multipartOverhead = 1 << 20

// RecordsHandler — обработчик endpoints /api/v1/records.
type RecordsHandler struct {
	uploader    Uploader
	downloader  Downloader
	reconciler  Reconciler
	records     RecordReader
	maxFileSize int64
	logger      *slog.Logger
}

// NewRecordsHandler создаёт обработчик записей.
func NewRecordsHandler(
	uploader Uploader,
	downloader Downloader,
	reconciler Reconciler,
	records RecordReader,
	maxFileSize int64,
	logger *slog.Logger,
) *RecordsHandler {
	return &RecordsHandler{
		uploader:    uploader,
		downloader:  downloader,
		reconciler:  reconciler,
		records:     records,
		maxFileSize: maxFileSize,
		logger:      logger.With(slog.String("component", "records_handler")),
	}
}

// RegisterRoutes регистрирует маршруты записей.
func (h *RecordsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/records", func(r chi.Router) {
		r.Post("/upload", h.Upload)
		r.Post("/download", h.Download)
		r.Post("/sync", h.Sync)
		r.Get("/cid/{cid}", h.GetByContentID)
		r.Get("/patient/{address}", h.ListByPatient)
		r.Get("/{record_id}", h.Get)
		r.Post("/{record_id}/tx", h.UpdateLedgerTx)
	})
}

// --- Представления ---

// recordResponse — метаданные записи в ответах API.
type recordResponse struct {
	RecordID       int64     `json:"record_id"`
	PatientAddress string    `json:"patient_address"`
	DoctorAddress  string    `json:"doctor_address"`
	ContentID      string    `json:"content_id"`
	ContentHash    string    `json:"content_hash"`
	EncryptionIV   string    `json:"encryption_iv"`
	Filename       string    `json:"filename"`
	FileSize       int64     `json:"file_size"`
	RecordType     string    `json:"record_type"`
	Description    string    `json:"description"`
	CreatedAt      time.Time `json:"created_at"`
	LedgerTxHash   *string   `json:"ledger_tx_hash"`
}

func toRecordResponse(rec *model.Record) recordResponse {
	return recordResponse{
		RecordID:       rec.RecordID,
		PatientAddress: rec.PatientAddress,
		DoctorAddress:  rec.CustodianAddress,
		ContentID:      rec.ContentID,
		ContentHash:    rec.ContentHash,
		EncryptionIV:   rec.EncryptionIV,
		Filename:       rec.Filename,
		FileSize:       rec.FileSize,
		RecordType:     string(rec.RecordType),
		Description:    rec.Description,
		CreatedAt:      rec.CreatedAt,
		LedgerTxHash:   rec.LedgerTxHash,
	}
}

// uploadResponse — ответ загрузки. encryption_key — единственная копия ключа.
type uploadResponse struct {
	RecordID       int64  `json:"record_id"`
	ContentID      string `json:"content_id"`
	ContentHash    string `json:"content_hash"`
	EncryptionIV   string `json:"encryption_iv"`
	EncryptionKey  string `json:"encryption_key"`
	KeyScheme      string `json:"key_scheme"`
	PatientAddress string `json:"patient_address"`
	Message        string `json:"message"`
}

// downloadRequest — тело POST /download.
type downloadRequest struct {
	RecordID      int64  `json:"record_id"`
	EncryptionKey string `json:"encryption_key"`
}

// keyRequiredResponse — 428: доступ разрешён, нужен ключ.
type keyRequiredResponse struct {
	Status    string `json:"status"`
	RecordID  int64  `json:"record_id"`
	ContentID string `json:"content_id"`
	Filename  string `json:"filename"`
	Message   string `json:"message"`
}

// syncRequest — тело POST /sync: поля записи из леджера.
type syncRequest struct {
	PatientAddress string `json:"patient_address"`
	DoctorAddress  string `json:"doctor_address"`
	ContentID      string `json:"content_id"`
	ContentHash    string `json:"content_hash"`
	Filename       string `json:"filename"`
	FileSize       int64  `json:"file_size"`
	EncryptionIV   string `json:"encryption_iv"`
	RecordType     string `json:"record_type"`
	Description    string `json:"description"`
	LedgerTxHash   string `json:"ledger_tx_hash"`
}

// syncResponse — результат сверки.
type syncResponse struct {
	RecordID int64  `json:"record_id"`
	Created  bool   `json:"created"`
	Message  string `json:"message"`
}

// listResponse — страница записей пациента.
type listResponse struct {
	Items   []recordResponse `json:"items"`
	Total   int              `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
	HasMore bool             `json:"has_more"`
}

// txRequest — тело POST /{record_id}/tx.
type txRequest struct {
	TxHash string `json:"tx_hash"`
}

// --- Обработчики ---

// Upload обрабатывает POST /api/v1/records/upload.
// Multipart form: file (обязательно), patient_address (обязательно),
// record_type, description (опционально).
func (h *RecordsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	requester := middleware.AddressFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.FileTooLarge(w, fmt.Sprintf("Файл превышает допустимый размер %d байт", h.maxFileSize))
			return
		}
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Поле file обязательно")
		return
	}
	defer file.Close()

	if header.Size > h.maxFileSize {
		apierrors.FileTooLarge(w, fmt.Sprintf("Файл превышает допустимый размер %d байт", h.maxFileSize))
		return
	}
	content, err := io.ReadAll(io.LimitReader(file, h.maxFileSize+1))
	if err != nil {
		apierrors.ValidationError(w, "Ошибка чтения файла")
		return
	}

	res, err := h.uploader.Upload(r.Context(), service.UploadParams{
		Custodian:   requester,
		Patient:     r.FormValue("patient_address"),
		Filename:    header.Filename,
		Content:     content,
		RecordType:  r.FormValue("record_type"),
		Description: r.FormValue("description"),
	})
	if err != nil {
		writeServiceError(w, h.logger, "upload", err)
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse{
		RecordID:       res.RecordID,
		ContentID:      res.ContentID,
		ContentHash:    res.ContentHash,
		EncryptionIV:   res.EncryptionIV,
		EncryptionKey:  res.EncryptionKey,
		KeyScheme:      res.KeyScheme,
		PatientAddress: res.PatientAddress,
		Message:        "Файл зашифрован и сохранён. Сохраните encryption_key: без него файл не расшифровать.",
	})
}

// Download обрабатывает POST /api/v1/records/download.
// Без ключа — 428 с идентификаторами записи, с ключом — расшифрованный файл.
func (h *RecordsHandler) Download(w http.ResponseWriter, r *http.Request) {
	requester := middleware.AddressFromContext(r.Context())

	var req downloadRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, multipartOverhead)).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON в теле запроса")
		return
	}

	res, err := h.downloader.Download(r.Context(), service.DownloadParams{
		Requester: requester,
		RecordID:  req.RecordID,
		Key:       req.EncryptionKey,
	})
	if err != nil {
		writeServiceError(w, h.logger, "download", err)
		return
	}

	switch res := res.(type) {
	case *service.NeedsKey:
		writeJSON(w, http.StatusPreconditionRequired, keyRequiredResponse{
			Status:    "key_required",
			RecordID:  res.RecordID,
			ContentID: res.ContentID,
			Filename:  res.Filename,
			Message:   "Для расшифровки передайте encryption_key",
		})
	case *service.Decrypted:
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": res.Filename}))
		w.Header().Set("X-Record-ID", strconv.FormatInt(res.RecordID, 10))
		w.Header().Set("X-Content-ID", res.ContentID)
		w.Header().Set("Cache-Control", "no-store")
		http.ServeContent(w, r, res.Filename, res.CreatedAt, bytes.NewReader(res.Plaintext))
	default:
		writeServiceError(w, h.logger, "download", fmt.Errorf("неизвестный результат скачивания %T", res))
	}
}

// Sync обрабатывает POST /api/v1/records/sync.
// 201 — запись создана, 200 — уже существовала.
func (h *RecordsHandler) Sync(w http.ResponseWriter, r *http.Request) {
	requester := middleware.AddressFromContext(r.Context())

	var req syncRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, multipartOverhead)).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON в теле запроса")
		return
	}

	res, err := h.reconciler.Reconcile(r.Context(), service.ReconcileParams{
		Caller:            requester,
		Patient:           req.PatientAddress,
		OriginalCustodian: req.DoctorAddress,
		ContentID:         req.ContentID,
		ContentHash:       req.ContentHash,
		Filename:          req.Filename,
		FileSize:          req.FileSize,
		EncryptionIV:      req.EncryptionIV,
		RecordType:        req.RecordType,
		Description:       req.Description,
		LedgerTxHash:      req.LedgerTxHash,
	})
	if err != nil {
		writeServiceError(w, h.logger, "sync", err)
		return
	}

	if res.Created {
		writeJSON(w, http.StatusCreated, syncResponse{RecordID: res.RecordID, Created: true, Message: "Запись восстановлена из леджера"})
		return
	}
	writeJSON(w, http.StatusOK, syncResponse{RecordID: res.RecordID, Created: false, Message: "Запись уже существует"})
}

// Get обрабатывает GET /api/v1/records/{record_id}.
func (h *RecordsHandler) Get(w http.ResponseWriter, r *http.Request) {
	recordID, ok := parseRecordID(w, r)
	if !ok {
		return
	}

	rec, err := h.records.Get(r.Context(), middleware.AddressFromContext(r.Context()), recordID)
	if err != nil {
		writeServiceError(w, h.logger, "get_record", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponse(rec))
}

// GetByContentID обрабатывает GET /api/v1/records/cid/{cid}.
func (h *RecordsHandler) GetByContentID(w http.ResponseWriter, r *http.Request) {
	rec, err := h.records.GetByContentID(r.Context(), middleware.AddressFromContext(r.Context()), chi.URLParam(r, "cid"))
	if err != nil {
		writeServiceError(w, h.logger, "get_record_by_cid", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponse(rec))
}

// ListByPatient обрабатывает GET /api/v1/records/patient/{address}?limit&offset&record_type.
func (h *RecordsHandler) ListByPatient(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		apierrors.ValidationError(w, "limit: "+err.Error())
		return
	}
	offset, err := queryInt(q.Get("offset"))
	if err != nil {
		apierrors.ValidationError(w, "offset: "+err.Error())
		return
	}

	res, err := h.records.ListByPatient(r.Context(), service.ListParams{
		Requester:  middleware.AddressFromContext(r.Context()),
		Patient:    chi.URLParam(r, "address"),
		RecordType: q.Get("record_type"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		writeServiceError(w, h.logger, "list_records", err)
		return
	}

	items := make([]recordResponse, 0, len(res.Records))
	for _, rec := range res.Records {
		items = append(items, toRecordResponse(rec))
	}
	writeJSON(w, http.StatusOK, listResponse{
		Items:   items,
		Total:   res.Total,
		Limit:   res.Limit,
		Offset:  res.Offset,
		HasMore: res.HasMore,
	})
}

// UpdateLedgerTx обрабатывает POST /api/v1/records/{record_id}/tx.
func (h *RecordsHandler) UpdateLedgerTx(w http.ResponseWriter, r *http.Request) {
	recordID, ok := parseRecordID(w, r)
	if !ok {
		return
	}

	var req txRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON в теле запроса")
		return
	}

	rec, err := h.records.UpdateLedgerTx(r.Context(), middleware.AddressFromContext(r.Context()), recordID, req.TxHash)
	if err != nil {
		writeServiceError(w, h.logger, "update_ledger_tx", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponse(rec))
}

// --- Вспомогательные функции ---

// parseRecordID разбирает {record_id}; при ошибке пишет 400.
func parseRecordID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "record_id"), 10, 64)
	if err != nil || id <= 0 {
		apierrors.ValidationError(w, "record_id должен быть положительным целым числом")
		return 0, false
	}
	return id, true
}

// queryInt разбирает необязательный целочисленный query-параметр.
func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число %q", raw)
	}
	return n, nil
}
