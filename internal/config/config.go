// Пакет config — загрузка и валидация конфигурации record-service
// и crypto-sidecar из переменных окружения (префикс MR_).
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Backend blob store.
const (
	BlobBackendIPFS  = "ipfs"
	BlobBackendRedis = "redis"
)

// Режим шифрования.
const (
	CryptoModeLocal   = "local"
	CryptoModeSidecar = "sidecar"
)

// Config содержит параметры конфигурации сервисов.
// LoadSidecar заполняет только секции сервера и шифрования.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// Таймаут graceful shutdown (по умолчанию 5s)
	ShutdownTimeout time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Blob store ---

	// BlobBackend — ipfs или redis
	BlobBackend string
	// BlobTimeout — таймаут одного запроса к хранилищу (по умолчанию 30s)
	BlobTimeout    time.Duration
	IPFSAPIURL     string
	IPFSGatewayURL string
	IPFSAPIKey     string
	IPFSAPISecret  string
	IPFSJWT        string
	IPFSCACertPath string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int

	// --- Шифрование ---

	// CryptoMode — local (в процессе) или sidecar (HTTP)
	CryptoMode       string
	CryptoSidecarURL string
	// CryptoTimeout — таймаут запросов к sidecar (по умолчанию 30s)
	CryptoTimeout time.Duration
	// MaxFileSize — максимальный размер открытого текста (по умолчанию 50 MB)
	MaxFileSize int64

	// --- Инкапсуляция ключей ---

	// KeywrapIdentityFile — файл age-identity сервиса; пусто — выдаётся сырой ключ
	KeywrapIdentityFile string
	// KeywrapEscrowRecipients — дополнительные получатели age1...
	KeywrapEscrowRecipients []string

	// --- Идентификация ---

	// JWTJWKSURL — пусто: адрес берётся из X-Wallet-Address
	JWTJWKSURL          string
	JWTIssuer           string
	JWTAddressClaim     string
	JWKSCACertPath      string
	JWKSClientTimeout   time.Duration
	JWKSRefreshInterval time.Duration
	JWTLeeway           time.Duration

	// --- Кэш метаданных ---

	CacheSize int
	CacheTTL  time.Duration

	// --- dephealth ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration
	// DephealthIsEntry — лейбл isentry=yes для входной точки графа
	DephealthIsEntry bool
}

// Load загружает конфигурацию record-service.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	if err = loadServer(cfg, "MR_PORT", 8040); err != nil {
		return nil, err
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("MR_DB_HOST"); err != nil {
		return nil, err
	}
	if cfg.DBPort, err = getEnvInt("MR_DB_PORT", 5432); err != nil {
		return nil, fmt.Errorf("MR_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("MR_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("MR_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("MR_DB_PASSWORD"); err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("MR_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("MR_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Blob store ---

	cfg.BlobBackend = getEnvDefault("MR_BLOB_BACKEND", BlobBackendIPFS)
	if cfg.BlobTimeout, err = getEnvDuration("MR_BLOB_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("MR_BLOB_TIMEOUT: %w", err)
	}
	switch cfg.BlobBackend {
	case BlobBackendIPFS:
		cfg.IPFSAPIURL = getEnvDefault("MR_IPFS_API_URL", "https://api.pinata.cloud")
		cfg.IPFSGatewayURL = getEnvDefault("MR_IPFS_GATEWAY_URL", "https://gateway.pinata.cloud")
		for key, val := range map[string]string{"MR_IPFS_API_URL": cfg.IPFSAPIURL, "MR_IPFS_GATEWAY_URL": cfg.IPFSGatewayURL} {
			if err := validateHTTPURL(val); err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
		}
		cfg.IPFSAPIKey = os.Getenv("MR_IPFS_API_KEY")
		cfg.IPFSAPISecret = os.Getenv("MR_IPFS_API_SECRET")
		cfg.IPFSJWT = os.Getenv("MR_IPFS_JWT")
		if cfg.IPFSJWT == "" && (cfg.IPFSAPIKey == "" || cfg.IPFSAPISecret == "") {
			return nil, fmt.Errorf("MR_IPFS_JWT или пара MR_IPFS_API_KEY/MR_IPFS_API_SECRET обязательны для backend ipfs")
		}
		cfg.IPFSCACertPath = os.Getenv("MR_IPFS_CA_CERT_PATH")
	case BlobBackendRedis:
		cfg.RedisAddr = getEnvDefault("MR_REDIS_ADDR", "localhost:6379")
		cfg.RedisPassword = os.Getenv("MR_REDIS_PASSWORD")
		if cfg.RedisDB, err = getEnvInt("MR_REDIS_DB", 0); err != nil {
			return nil, fmt.Errorf("MR_REDIS_DB: %w", err)
		}
	default:
		return nil, fmt.Errorf("MR_BLOB_BACKEND: недопустимое значение %q, допустимые: ipfs, redis", cfg.BlobBackend)
	}

	if err = loadCrypto(cfg); err != nil {
		return nil, err
	}
	cfg.CryptoMode = getEnvDefault("MR_CRYPTO_MODE", CryptoModeLocal)
	switch cfg.CryptoMode {
	case CryptoModeLocal:
	case CryptoModeSidecar:
		if cfg.CryptoSidecarURL, err = getEnvRequired("MR_CRYPTO_SIDECAR_URL"); err != nil {
			return nil, err
		}
		if err := validateHTTPURL(cfg.CryptoSidecarURL); err != nil {
			return nil, fmt.Errorf("MR_CRYPTO_SIDECAR_URL: %w", err)
		}
	default:
		return nil, fmt.Errorf("MR_CRYPTO_MODE: недопустимое значение %q, допустимые: local, sidecar", cfg.CryptoMode)
	}
	if cfg.CryptoTimeout, err = getEnvDuration("MR_CRYPTO_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("MR_CRYPTO_TIMEOUT: %w", err)
	}

	// --- Инкапсуляция ключей ---

	cfg.KeywrapIdentityFile = os.Getenv("MR_KEYWRAP_IDENTITY_FILE")
	cfg.KeywrapEscrowRecipients = getEnvList("MR_KEYWRAP_ESCROW_RECIPIENTS")
	if cfg.KeywrapIdentityFile == "" && len(cfg.KeywrapEscrowRecipients) > 0 {
		return nil, fmt.Errorf("MR_KEYWRAP_ESCROW_RECIPIENTS требует MR_KEYWRAP_IDENTITY_FILE")
	}

	// --- Идентификация ---

	cfg.JWTJWKSURL = os.Getenv("MR_JWT_JWKS_URL")
	if cfg.JWTJWKSURL != "" {
		if err := validateHTTPURL(cfg.JWTJWKSURL); err != nil {
			return nil, fmt.Errorf("MR_JWT_JWKS_URL: %w", err)
		}
	}
	cfg.JWTIssuer = os.Getenv("MR_JWT_ISSUER")
	cfg.JWTAddressClaim = getEnvDefault("MR_JWT_ADDRESS_CLAIM", "sub")
	cfg.JWKSCACertPath = os.Getenv("MR_JWKS_CA_CERT_PATH")
	if cfg.JWKSClientTimeout, err = getEnvDuration("MR_JWKS_CLIENT_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("MR_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	if cfg.JWKSRefreshInterval, err = getEnvDuration("MR_JWKS_REFRESH_INTERVAL", 15*time.Minute); err != nil {
		return nil, fmt.Errorf("MR_JWKS_REFRESH_INTERVAL: %w", err)
	}
	if cfg.JWTLeeway, err = getEnvDuration("MR_JWT_LEEWAY", 5*time.Second); err != nil {
		return nil, fmt.Errorf("MR_JWT_LEEWAY: %w", err)
	}

	// --- Кэш ---

	if cfg.CacheSize, err = getEnvInt("MR_CACHE_SIZE", 1000); err != nil {
		return nil, fmt.Errorf("MR_CACHE_SIZE: %w", err)
	}
	if cfg.CacheSize <= 0 {
		return nil, fmt.Errorf("MR_CACHE_SIZE: значение должно быть > 0")
	}
	if cfg.CacheTTL, err = getEnvDuration("MR_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("MR_CACHE_TTL: %w", err)
	}

	// --- dephealth ---

	cfg.DephealthGroup = getEnvDefault("MR_DEPHEALTH_GROUP", "medvault")
	if cfg.DephealthCheckInterval, err = getEnvDuration("MR_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("MR_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	if v := os.Getenv("MR_DEPHEALTH_ISENTRY"); v != "" {
		if cfg.DephealthIsEntry, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("MR_DEPHEALTH_ISENTRY: некорректное логическое значение %q", v)
		}
	}

	return cfg, nil
}

// LoadSidecar загружает конфигурацию crypto-sidecar.
// БД и blob store sidecar не нужны.
func LoadSidecar() (*Config, error) {
	cfg := &Config{CryptoMode: CryptoModeLocal}
	if err := loadServer(cfg, "MR_SIDECAR_PORT", 8041); err != nil {
		return nil, err
	}
	if err := loadCrypto(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadServer загружает общие параметры HTTP-сервера и логирования.
func loadServer(cfg *Config, portKey string, defaultPort int) error {
	var err error

	cfg.Port, err = getEnvInt(portKey, defaultPort)
	if err != nil {
		return fmt.Errorf("%s: %w", portKey, err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("%s: порт %d вне диапазона 1-65535", portKey, cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("MR_LOG_LEVEL", "info"))
	if err != nil {
		return fmt.Errorf("MR_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("MR_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return fmt.Errorf("MR_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	if cfg.HTTPReadTimeout, err = getEnvDuration("MR_HTTP_READ_TIMEOUT", 60*time.Second); err != nil {
		return fmt.Errorf("MR_HTTP_READ_TIMEOUT: %w", err)
	}
	if cfg.HTTPWriteTimeout, err = getEnvDuration("MR_HTTP_WRITE_TIMEOUT", 120*time.Second); err != nil {
		return fmt.Errorf("MR_HTTP_WRITE_TIMEOUT: %w", err)
	}
	if cfg.HTTPIdleTimeout, err = getEnvDuration("MR_HTTP_IDLE_TIMEOUT", 120*time.Second); err != nil {
		return fmt.Errorf("MR_HTTP_IDLE_TIMEOUT: %w", err)
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("MR_SHUTDOWN_TIMEOUT", 5*time.Second); err != nil {
		return fmt.Errorf("MR_SHUTDOWN_TIMEOUT: %w", err)
	}
	return nil
}

// loadCrypto загружает ограничения размера файла.
func loadCrypto(cfg *Config) error {
	size, err := getEnvInt("MR_MAX_FILE_SIZE", 50*1024*1024)
	if err != nil {
		return fmt.Errorf("MR_MAX_FILE_SIZE: %w", err)
	}
	if size <= 0 {
		return fmt.Errorf("MR_MAX_FILE_SIZE: значение должно быть > 0")
	}
	cfg.MaxFileSize = int64(size)
	return nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения для golang-migrate (pgx5://).
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает положительную time.Duration из переменной окружения
// или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

// getEnvList разбирает список через запятую, пустые элементы отбрасываются.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// validateHTTPURL проверяет, что значение — абсолютный http(s) URL.
func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("некорректный URL %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("ожидается http(s) URL, получено %q", raw)
	}
	return nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
