// Пакет keywrap — инкапсуляция ключей шифрования записей.
// Сырой ключ AES не покидает сервис: владельцу выдаётся токен,
// зашифрованный age (X25519) на ключ сервиса и ключи эскроу.
package keywrap

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
)

// Схемы инкапсуляции.
const (
	SchemeAge = "age-x25519"
	SchemeRaw = "raw"
)

// ErrUnwrap — токен не удалось раскрыть (чужой, повреждённый).
var ErrUnwrap = errors.New("не удалось раскрыть ключ")

// Wrapper — граница инкапсуляции ключа.
type Wrapper interface {
	// Wrap превращает сырой ключ (base64) в токен для владельца.
	Wrap(rawKey string) (string, error)
	// Unwrap восстанавливает сырой ключ (base64) из токена.
	Unwrap(token string) (string, error)
	// Scheme возвращает имя схемы для ответа клиенту.
	Scheme() string
}

// AgeWrapper шифрует ключи на X25519-получателей age.
type AgeWrapper struct {
	identity   *age.X25519Identity
	recipients []age.Recipient
}

// NewAgeWrapper создаёт обёртку из identity сервиса и дополнительных
// получателей эскроу (age1...). Ключ сервиса всегда среди получателей.
func NewAgeWrapper(identity *age.X25519Identity, escrow []string) (*AgeWrapper, error) {
	if identity == nil {
		return nil, errors.New("identity не задана")
	}
	recipients := []age.Recipient{identity.Recipient()}
	for _, key := range escrow {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		r, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("некорректный получатель %q: %w", key, err)
		}
		recipients = append(recipients, r)
	}
	return &AgeWrapper{identity: identity, recipients: recipients}, nil
}

// LoadIdentityFile читает X25519 identity из файла формата age-keygen.
func LoadIdentityFile(path string) (*age.X25519Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия файла ключа: %w", err)
	}
	defer f.Close()

	ids, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора файла ключа: %w", err)
	}
	for _, id := range ids {
		if x, ok := id.(*age.X25519Identity); ok {
			return x, nil
		}
	}
	return nil, fmt.Errorf("в файле %s нет X25519 identity", path)
}

// Wrap шифрует ключ на всех получателей, токен — base64 шифротекста age.
func (w *AgeWrapper) Wrap(rawKey string) (string, error) {
	var buf bytes.Buffer
	wr, err := age.Encrypt(&buf, w.recipients...)
	if err != nil {
		return "", fmt.Errorf("ошибка создания age-шифратора: %w", err)
	}
	if _, err := io.WriteString(wr, rawKey); err != nil {
		return "", fmt.Errorf("ошибка записи ключа: %w", err)
	}
	if err := wr.Close(); err != nil {
		return "", fmt.Errorf("ошибка завершения age-шифрования: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Unwrap расшифровывает токен ключом сервиса.
func (w *AgeWrapper) Unwrap(token string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return "", fmt.Errorf("%w: токен не в base64", ErrUnwrap)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), w.identity)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnwrap, err)
	}
	key, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnwrap, err)
	}
	return string(key), nil
}

// Scheme возвращает SchemeAge.
func (w *AgeWrapper) Scheme() string { return SchemeAge }

// Plain — режим без инкапсуляции: токен и есть сырой ключ.
type Plain struct{}

// Wrap возвращает ключ без изменений.
func (Plain) Wrap(rawKey string) (string, error) { return rawKey, nil }

// Unwrap возвращает токен без изменений.
func (Plain) Unwrap(token string) (string, error) { return strings.TrimSpace(token), nil }

// Scheme возвращает SchemeRaw.
func (Plain) Scheme() string { return SchemeRaw }
