// Пакет blobstore — клиенты контентно-адресуемого хранилища шифротекстов.
// Основной backend — IPFS (Pinata API для pin, gateway для чтения),
// дополнительный — Redis для одноузловых инсталляций.
// Повторов запросов и кэша нет: ошибки классифицируются и отдаются выше.
package blobstore

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Ошибки blob store.
var (
	// ErrUnavailable — сеть, таймаут или 5xx при чтении.
	ErrUnavailable = errors.New("blob store недоступен")
	// ErrRejected — хранилище отклонило запись или вернуло некорректный ответ.
	ErrRejected = errors.New("blob store отклонил запрос")
	// ErrNotFound — объект с таким CID не найден.
	ErrNotFound = errors.New("объект не найден в blob store")
)

// Store — контентно-адресуемое хранилище.
type Store interface {
	// Put сохраняет данные и возвращает их CID.
	// nameHint — имя файла для метаданных хранилища, на CID не влияет.
	Put(ctx context.Context, data []byte, nameHint string) (string, error)
	// Get возвращает данные по CID.
	Get(ctx context.Context, cid string) ([]byte, error)
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA-сертификатом.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("в %s нет PEM-сертификатов", caCertPath)
	}

	return &tls.Config{
		RootCAs:    caCertPool,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// normalizeURL убирает trailing slash из URL.
func normalizeURL(rawURL string) string {
	return strings.TrimRight(rawURL, "/")
}
