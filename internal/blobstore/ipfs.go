package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"regexp"
	"time"
)

// cidRe — допустимые символы CID (base58btc для v0, base32 для v1).
var cidRe = regexp.MustCompile(`^[A-Za-z0-9]{10,128}$`)

// IPFSConfig — параметры клиента IPFS.
type IPFSConfig struct {
	// APIURL — базовый URL pinning API (https://api.pinata.cloud)
	APIURL string
	// GatewayURL — базовый URL gateway (https://gateway.pinata.cloud)
	GatewayURL string
	// APIKey, APISecret — пара ключей pinning API
	APIKey    string
	APISecret string //nolint:gosec // G101: поле структуры
	// JWT — альтернатива паре ключей (Authorization: Bearer)
	JWT string //nolint:gosec // G101: поле структуры
	// CACertPath — CA для TLS (пустая строка — системный пул)
	CACertPath string
	// Timeout — таймаут одного запроса
	Timeout time.Duration
	// MaxObjectSize — предел размера читаемого объекта
	MaxObjectSize int64
}

// IPFSClient — клиент IPFS через Pinata.
type IPFSClient struct {
	httpClient *http.Client
	cfg        IPFSConfig
	logger     *slog.Logger
}

// NewIPFSClient создаёт клиент IPFS.
func NewIPFSClient(cfg IPFSConfig, logger *slog.Logger) (*IPFSClient, error) {
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
	}

	if cfg.CACertPath != "" {
		tlsConfig, err := buildTLSConfig(cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата IPFS: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
		logger.Info("CA-сертификат IPFS добавлен в пул доверия",
			slog.String("ca_cert", cfg.CACertPath),
		)
	}

	cfg.APIURL = normalizeURL(cfg.APIURL)
	cfg.GatewayURL = normalizeURL(cfg.GatewayURL)

	return &IPFSClient{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		cfg:    cfg,
		logger: logger.With(slog.String("component", "ipfs_client")),
	}, nil
}

// pinResponse — ответ pinFileToIPFS.
type pinResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

// Put выполняет pin данных.
// Формат запроса: POST {api}/pinning/pinFileToIPFS, multipart поле "file".
func (c *IPFSClient) Put(ctx context.Context, data []byte, nameHint string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", nameHint)
	if err != nil {
		return "", fmt.Errorf("%w: формирование multipart: %v", ErrRejected, err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("%w: формирование multipart: %v", ErrRejected, err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("%w: формирование multipart: %v", ErrRejected, err)
	}

	reqURL := c.cfg.APIURL + "/pinning/pinFileToIPFS"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, &body)
	if err != nil {
		return "", fmt.Errorf("создание запроса Put: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.setAuth(req)

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return "", fmt.Errorf("%w: запрос pin к %s: %v", ErrUnavailable, c.cfg.APIURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Любой не-2xx на pin — отказ
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("%w: pin API вернул статус %d: %s", ErrRejected, resp.StatusCode, string(msg))
	}

	var pr pinResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&pr); err != nil {
		return "", fmt.Errorf("%w: декодирование ответа pin: %v", ErrRejected, err)
	}
	if !cidRe.MatchString(pr.IpfsHash) {
		return "", fmt.Errorf("%w: некорректный CID в ответе %q", ErrRejected, pr.IpfsHash)
	}

	c.logger.Debug("Объект закреплён в IPFS",
		slog.String("cid", pr.IpfsHash),
		slog.Int("size", len(data)),
	)
	return pr.IpfsHash, nil
}

// Get читает объект через gateway: GET {gateway}/ipfs/{cid}.
func (c *IPFSClient) Get(ctx context.Context, cid string) ([]byte, error) {
	if !cidRe.MatchString(cid) {
		return nil, fmt.Errorf("%w: некорректный CID %q", ErrNotFound, cid)
	}
	reqURL := fmt.Sprintf("%s/ipfs/%s", c.cfg.GatewayURL, url.PathEscape(cid))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("создание запроса Get: %w", err)
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return nil, fmt.Errorf("%w: запрос к gateway %s: %v", ErrUnavailable, c.cfg.GatewayURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, cid)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: gateway вернул статус %d", ErrUnavailable, resp.StatusCode)
	}

	limit := c.cfg.MaxObjectSize
	if limit <= 0 {
		limit = 64 << 20
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: чтение ответа gateway: %v", ErrUnavailable, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: объект %s больше %d байт", ErrRejected, cid, limit)
	}
	return data, nil
}

// setAuth добавляет учётные данные pinning API.
func (c *IPFSClient) setAuth(req *http.Request) {
	if c.cfg.JWT != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.JWT)
		return
	}
	req.Header.Set("pinata_api_key", c.cfg.APIKey)
	req.Header.Set("pinata_secret_api_key", c.cfg.APISecret)
}
