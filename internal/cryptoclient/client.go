// Пакет cryptoclient — HTTP-клиент криптосервиса (crypto-sidecar).
// Контракт совпадает с локальным crypto.Engine: ошибки сводятся к
// crypto.ErrEncryption, crypto.ErrDecryption и crypto.ErrUnavailable.
package cryptoclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	apierrors "github.com/bigkaa/medvault/internal/api/errors"
	"github.com/bigkaa/medvault/internal/crypto"
	"github.com/bigkaa/medvault/internal/domain/model"
	"github.com/bigkaa/medvault/internal/sidecar"
)

// maxErrorBody — предел чтения тела ответа с ошибкой.
const maxErrorBody = 4096

// Client — HTTP-клиент криптосервиса.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// New создаёт клиент. timeout — таймаут одного запроса.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
			},
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With(slog.String("component", "crypto_client")),
	}
}

// Encrypt шифрует данные в криптосервисе.
// POST {baseURL}/api/v1/encrypt
func (c *Client) Encrypt(ctx context.Context, plaintext []byte) (*crypto.Envelope, error) {
	var resp sidecar.EncryptResponse
	err := c.do(ctx, "/api/v1/encrypt", sidecar.EncryptRequest{
		ContentBase64: base64.StdEncoding.EncodeToString(plaintext),
	}, &resp, crypto.ErrEncryption)
	if err != nil {
		return nil, err
	}

	ct, err := base64.StdEncoding.DecodeString(resp.EncryptedContent)
	if err != nil {
		return nil, fmt.Errorf("%w: шифротекст в ответе не в base64", crypto.ErrEncryption)
	}
	hash, err := model.NormalizeContentHash(resp.Hash)
	if err != nil {
		return nil, fmt.Errorf("%w: хеш в ответе: %v", crypto.ErrEncryption, err)
	}
	if iv, err := base64.StdEncoding.DecodeString(resp.IV); err != nil || len(iv) != crypto.IVSize {
		return nil, fmt.Errorf("%w: IV в ответе должен быть %d байт в base64", crypto.ErrEncryption, crypto.IVSize)
	}
	return &crypto.Envelope{
		Ciphertext: ct,
		IV:         resp.IV,
		Key:        resp.Key,
		Hash:       model.StripHexPrefix(hash),
	}, nil
}

// Decrypt расшифровывает данные в криптосервисе.
// POST {baseURL}/api/v1/decrypt
func (c *Client) Decrypt(ctx context.Context, ciphertext []byte, ivB64, keyB64 string) ([]byte, error) {
	var resp sidecar.DecryptResponse
	err := c.do(ctx, "/api/v1/decrypt", sidecar.DecryptRequest{
		EncryptedContent: base64.StdEncoding.EncodeToString(ciphertext),
		IV:               ivB64,
		Key:              keyB64,
	}, &resp, crypto.ErrDecryption)
	if err != nil {
		return nil, err
	}

	plain, err := base64.StdEncoding.DecodeString(resp.ContentBase64)
	if err != nil {
		return nil, fmt.Errorf("%w: ответ криптосервиса не в base64", crypto.ErrUnavailable)
	}
	return plain, nil
}

// do выполняет JSON-запрос. rejectErr — ошибка для ответов 4xx,
// кроме DECRYPTION_ERROR, который всегда сводится к crypto.ErrDecryption.
func (c *Client) do(ctx context.Context, path string, reqBody, respBody any, rejectErr error) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("%w: кодирование запроса: %v", rejectErr, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("создание запроса %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return fmt.Errorf("%w: запрос %s: %v", crypto.ErrUnavailable, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body apierrors.Body
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = json.Unmarshal(raw, &body)

		c.logger.Debug("Криптосервис вернул ошибку",
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("code", body.Error.Code),
		)

		switch {
		case body.Error.Code == apierrors.CodeDecryptionError:
			return fmt.Errorf("%w: %s", crypto.ErrDecryption, body.Error.Message)
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w: статус %d", crypto.ErrUnavailable, resp.StatusCode)
		default:
			return fmt.Errorf("%w: статус %d: %s", rejectErr, resp.StatusCode, body.Error.Message)
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return fmt.Errorf("%w: декодирование ответа %s: %v", crypto.ErrUnavailable, path, err)
	}
	return nil
}
