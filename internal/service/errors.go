// Пакет service — конвейеры загрузки, скачивания и сверки медицинских
// записей, запросы метаданных, LRU-кэш и мониторинг зависимостей.
package service

import "errors"

// Ошибки сервисного слоя. Обработчики HTTP сопоставляют их через errors.Is.
var (
	// ErrValidation — некорректные входные данные.
	ErrValidation = errors.New("некорректные данные")
	// ErrFileTooLarge — файл превышает допустимый размер.
	ErrFileTooLarge = errors.New("файл превышает допустимый размер")
	// ErrEncryptionFailed — шифрование не выполнено.
	ErrEncryptionFailed = errors.New("ошибка шифрования")
	// ErrCryptoUnavailable — криптосервис недоступен.
	ErrCryptoUnavailable = errors.New("криптосервис недоступен")
	// ErrDecryption — неверный ключ, IV или шифротекст.
	ErrDecryption = errors.New("ошибка расшифровки")
	// ErrBlobStoreUnavailable — blob store недоступен.
	ErrBlobStoreUnavailable = errors.New("blob store недоступен")
	// ErrBlobStoreRejected — blob store отклонил запись.
	ErrBlobStoreRejected = errors.New("blob store отклонил запись")
	// ErrBlobNotFound — шифротекст отсутствует в blob store.
	ErrBlobNotFound = errors.New("шифротекст не найден в blob store")
	// ErrRecordNotFound — запись не найдена в реестре.
	ErrRecordNotFound = errors.New("запись не найдена")
	// ErrAccessDenied — запрашивающий не пациент и не загрузивший.
	ErrAccessDenied = errors.New("доступ запрещён")
	// ErrIntegrityViolation — хеш расшифрованных данных не совпал с реестром.
	ErrIntegrityViolation = errors.New("нарушение целостности")
	// ErrConflict — конфликт состояния реестра.
	ErrConflict = errors.New("конфликт состояния")
)
