// auth.go — идентификация запрашивающего по адресу кошелька.
// Режим JWT: Bearer token валидируется через JWKS, адрес берётся из claim
// (по умолчанию sub). Режим заголовка: адрес из X-Wallet-Address, который
// выставляет аутентифицирующий шлюз перед сервисом.
package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/medvault/internal/api/errors"
	"github.com/bigkaa/medvault/internal/domain/model"
)

// HeaderWalletAddress — заголовок с адресом в режиме без JWT.
const HeaderWalletAddress = "X-Wallet-Address"

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeyAddress — нормализованный адрес запрашивающего.
	ContextKeyAddress contextKey = "wallet_address"
)

// AddressResolver извлекает адрес запрашивающего из запроса.
type AddressResolver interface {
	ResolveAddress(r *http.Request) (string, error)
}

// HeaderResolver берёт адрес из X-Wallet-Address.
type HeaderResolver struct{}

// ResolveAddress возвращает значение заголовка.
func (HeaderResolver) ResolveAddress(r *http.Request) (string, error) {
	addr := r.Header.Get(HeaderWalletAddress)
	if addr == "" {
		return "", fmt.Errorf("отсутствует заголовок %s", HeaderWalletAddress)
	}
	return addr, nil
}

// Identity возвращает middleware, кладущий адрес запрашивающего в контекст.
// Адрес нормализуется и проверяется; при ошибке — 401.
func Identity(resolver AddressResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	log := logger.With(slog.String("component", "identity"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := resolver.ResolveAddress(r)
			if err != nil {
				log.Debug("Идентификация не пройдена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, err.Error())
				return
			}
			addr, err := model.ValidateAddress(raw)
			if err != nil {
				apierrors.Unauthorized(w, "Некорректный адрес кошелька")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAddress(r.Context(), addr)))
		})
	}
}

// WithAddress кладёт адрес в контекст.
func WithAddress(ctx context.Context, address string) context.Context {
	return context.WithValue(ctx, ContextKeyAddress, address)
}

// AddressFromContext извлекает адрес из контекста запроса.
// Возвращает пустую строку, если адреса нет.
func AddressFromContext(ctx context.Context) string {
	addr, _ := ctx.Value(ContextKeyAddress).(string)
	return addr
}

// JWTAuth — валидация JWT через JWKS и извлечение адреса из claim.
type JWTAuth struct {
	jwks         keyfunc.Keyfunc
	logger       *slog.Logger
	issuer       string
	addressClaim string
	jwtLeeway    time.Duration
}

// NewJWTAuth создаёт JWT-резолвер с JWKS по URL.
// caCertPath — опциональный путь к CA-сертификату для TLS.
// issuer — ожидаемый issuer JWT (пусто — не проверяется).
// addressClaim — имя claim с адресом кошелька.
func NewJWTAuth(
	jwksURL string,
	caCertPath string,
	issuer string,
	addressClaim string,
	jwksClientTimeout time.Duration,
	jwksRefreshInterval time.Duration,
	jwtLeeway time.Duration,
	logger *slog.Logger,
) (*JWTAuth, error) {
	// HTTP-клиент для JWKS (с кастомным CA или стандартный)
	httpClient := &http.Client{Timeout: jwksClientTimeout}
	if caCertPath != "" {
		var err error
		httpClient, err = httpClientWithCA(caCertPath, jwksClientTimeout)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата %s: %w", caCertPath, err)
		}
		logger.Info("CA-сертификат для JWKS добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	// JWKS Storage с фоновым обновлением.
	// NoErrorReturnFirstHTTPReq — стартуем даже если провайдер ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           jwksRefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return NewJWTAuthWithKeyfunc(k, issuer, addressClaim, jwtLeeway, logger), nil
}

// NewJWTAuthWithKeyfunc создаёт резолвер с готовым keyfunc (для тестов).
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, issuer, addressClaim string, jwtLeeway time.Duration, logger *slog.Logger) *JWTAuth {
	if addressClaim == "" {
		addressClaim = "sub"
	}
	return &JWTAuth{
		jwks:         kf,
		logger:       logger.With(slog.String("component", "jwt_auth")),
		issuer:       issuer,
		addressClaim: addressClaim,
		jwtLeeway:    jwtLeeway,
	}
}

// httpClientWithCA создаёт HTTP-клиент с кастомным CA-сертификатом.
func httpClientWithCA(caCertPath string, timeout time.Duration) (*http.Client, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, err
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs:    caCertPool,
				MinVersion: tls.VersionTLS12,
			},
		},
	}, nil
}

// ResolveAddress извлекает Bearer token, валидирует подпись (RS256/ES256),
// срок действия и issuer, возвращает значение claim с адресом.
func (j *JWTAuth) ResolveAddress(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("отсутствует заголовок Authorization")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", fmt.Errorf("неверный формат Authorization: ожидается Bearer <token>")
	}

	// Парсинг и валидация JWT через JWKS
	claims := jwt.MapClaims{}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(j.jwtLeeway),
	}
	if j.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
	}

	token, err := jwt.ParseWithClaims(parts[1], claims, j.jwks.KeyfuncCtx(r.Context()), parserOpts...)
	if err != nil || !token.Valid {
		if err != nil {
			j.logger.Debug("JWT валидация не пройдена",
				slog.String("error", err.Error()),
				slog.String("remote_addr", r.RemoteAddr),
			)
		}
		return "", fmt.Errorf("невалидный или просроченный токен")
	}

	addr, _ := claims[j.addressClaim].(string)
	if addr == "" {
		return "", fmt.Errorf("отсутствует claim %s в токене", j.addressClaim)
	}
	return addr, nil
}

// --- ReadinessChecker для JWKS ---

// JWKSReadinessChecker — проверка доступности JWKS провайдера.
type JWKSReadinessChecker struct {
	jwksURL string
	client  *http.Client
}

// NewJWKSReadinessChecker создаёт checker доступности JWKS.
func NewJWKSReadinessChecker(jwksURL, caCertPath string, readinessTimeout time.Duration) (*JWKSReadinessChecker, error) {
	client := &http.Client{Timeout: readinessTimeout}
	if caCertPath != "" {
		var err error
		client, err = httpClientWithCA(caCertPath, readinessTimeout)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA для readiness checker: %w", err)
		}
	}

	return &JWKSReadinessChecker{
		jwksURL: jwksURL,
		client:  client,
	}, nil
}

const statusFail = "fail"

// CheckReady проверяет доступность JWKS endpoint.
func (k *JWKSReadinessChecker) CheckReady() (status, message string) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, k.jwksURL, http.NoBody)
	if err != nil {
		return statusFail, "ошибка создания запроса: " + err.Error()
	}
	resp, err := k.client.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return statusFail, fmt.Sprintf("JWKS недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusFail, fmt.Sprintf("JWKS вернул статус %d", resp.StatusCode)
	}

	// Проверяем, что ответ — валидный JSON с ключами
	var jwksResp struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwksResp); err != nil {
		return "degraded", fmt.Sprintf("JWKS: невалидный JSON: %v", err)
	}

	if len(jwksResp.Keys) == 0 {
		return "degraded", "JWKS: нет ключей"
	}

	return "ok", fmt.Sprintf("JWKS доступен, ключей: %d", len(jwksResp.Keys))
}
