// Пакет model — доменные модели сервиса медицинских записей.
// Record — маппинг таблицы medical_records, User — таблицы users.
package model

import (
	"fmt"
	"strings"
	"time"
)

// RecordType — категория медицинской записи.
type RecordType string

// Допустимые категории записей.
const (
	RecordTypeLab          RecordType = "lab"
	RecordTypeImaging      RecordType = "imaging"
	RecordTypePrescription RecordType = "prescription"
	RecordTypeDischarge    RecordType = "discharge"
	RecordTypeReferral     RecordType = "referral"
	RecordTypeVaccination  RecordType = "vaccination"
	RecordTypeAyush        RecordType = "ayush"
	RecordTypeUnknown      RecordType = "unknown"
)

var recordTypes = map[RecordType]struct{}{
	RecordTypeLab:          {},
	RecordTypeImaging:      {},
	RecordTypePrescription: {},
	RecordTypeDischarge:    {},
	RecordTypeReferral:     {},
	RecordTypeVaccination:  {},
	RecordTypeAyush:        {},
	RecordTypeUnknown:      {},
}

// ParseRecordType приводит строку к RecordType.
// Пустое значение — RecordTypeUnknown, значение вне перечня — ошибка.
func ParseRecordType(s string) (RecordType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return RecordTypeUnknown, nil
	}
	rt := RecordType(s)
	if _, ok := recordTypes[rt]; !ok {
		return "", fmt.Errorf("недопустимый тип записи %q", s)
	}
	return rt, nil
}

// Record — метаданные зашифрованной медицинской записи.
// Ключ шифрования в записи не хранится никогда.
type Record struct {
	// RecordID — суррогатный ключ (BIGSERIAL)
	RecordID int64
	// PatientAddress — адрес владельца записи
	PatientAddress string
	// CustodianAddress — адрес загрузившего (врач)
	CustodianAddress string
	// ContentID — идентификатор шифротекста в blob store (IPFS CID)
	ContentID string
	// ContentHash — SHA-256 открытого текста, "0x" + 64 hex
	ContentHash string
	// EncryptionIV — IV в base64
	EncryptionIV string
	// Filename — оригинальное имя файла
	Filename string
	// FileSize — размер открытого текста в байтах
	FileSize int64
	// RecordType — категория записи
	RecordType RecordType
	// Description — свободное описание
	Description string
	// CreatedAt — время регистрации
	CreatedAt time.Time
	// LedgerTxHash — хеш транзакции в леджере, nil если не привязана
	LedgerTxHash *string
}

// CanAccess сообщает, вправе ли адрес читать запись: пациент или загрузивший.
func (r *Record) CanAccess(address string) bool {
	a := NormalizeAddress(address)
	return a != "" && (a == NormalizeAddress(r.PatientAddress) || a == NormalizeAddress(r.CustodianAddress))
}
