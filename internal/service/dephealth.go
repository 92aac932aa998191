// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// record-service мониторит:
//   - PostgreSQL — SQL checker через существующий pgxpool (connection pool mode, critical)
//   - IPFS gateway — HTTP checker (critical), только для backend ipfs
//   - crypto-sidecar — HTTP checker к /health/live (critical), только в режиме sidecar
//
// Redis-backend проверяется readiness-пробой через PING.
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
//   - app_dependency_status — категория статуса
//   - app_dependency_status_detail — детальный статус
package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрация HTTP checker factory
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// gatewayProbePath — identity CID пустого содержимого, шлюз отдаёт его без сети.
const gatewayProbePath = "/ipfs/bafkqaaa"

// DephealthTargets — зависимости для мониторинга.
type DephealthTargets struct {
	// DB — *sql.DB, полученный из pgxpool через stdlib.OpenDBFromPool()
	DB *sql.DB
	// PostgresURL — URL PostgreSQL (для лейблов, не для подключения)
	PostgresURL string
	// IPFSGatewayURL — пусто, если backend не ipfs
	IPFSGatewayURL string
	// CryptoSidecarURL — пусто в режиме local
	CryptoSidecarURL string
	CheckInterval    time.Duration
	// IsEntry — лейбл isentry=yes ко всем зависимостям
	IsEntry bool
}

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
func NewDephealthService(serviceID, group string, targets DephealthTargets, logger *slog.Logger) (*DephealthService, error) {
	return newDephealthService(serviceID, group, targets, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	serviceID, group string,
	targets DephealthTargets,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, targets, logger, dephealth.WithRegisterer(registerer))
}

func newDephealthService(
	serviceID, group string,
	targets DephealthTargets,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	common := func(extra ...dephealth.DependencyOption) []dephealth.DependencyOption {
		opts := append([]dephealth.DependencyOption{
			dephealth.CheckInterval(targets.CheckInterval),
			dephealth.Critical(true),
		}, extra...)
		if targets.IsEntry {
			opts = append(opts, dephealth.WithLabel("isentry", "yes"))
		}
		return opts
	}

	opts := []dephealth.Option{
		dephealth.WithLogger(logger),
		// PostgreSQL — connection pool mode: проверка через *sql.DB над pgxpool
		// обнаруживает исчерпание пула.
		dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(targets.DB)),
			common(dephealth.FromURL(targets.PostgresURL))...),
	}

	if targets.IPFSGatewayURL != "" {
		opts = append(opts, dephealth.HTTP("ipfs-gateway",
			httpDepOpts(targets.IPFSGatewayURL, gatewayProbePath, common)...))
	}
	if targets.CryptoSidecarURL != "" {
		opts = append(opts, dephealth.HTTP("crypto-sidecar",
			httpDepOpts(targets.CryptoSidecarURL, "/health/live", common)...))
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(serviceID, group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// httpDepOpts собирает опции HTTP-зависимости; TLS определяется по схеме URL.
func httpDepOpts(
	rawURL, healthPath string,
	common func(...dephealth.DependencyOption) []dephealth.DependencyOption,
) []dephealth.DependencyOption {
	opts := []dephealth.DependencyOption{
		dephealth.FromURL(rawURL),
		dephealth.WithHTTPHealthPath(healthPath),
	}
	if parsed, err := url.Parse(rawURL); err == nil && parsed.Scheme == "https" {
		opts = append(opts, dephealth.WithHTTPTLSSkipVerify(false))
	}
	return common(opts...)
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — "dependency:host:port", значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}

// CheckReady сводит Health() к статусу readiness.
// Недоступная зависимость даёт "degraded", а не "fail".
func (ds *DephealthService) CheckReady() (status, message string) {
	return dependencyStatus(ds.Health())
}

// dependencyStatus — "ok", если все зависимости здоровы, иначе "degraded"
// со списком проблемных в сообщении.
func dependencyStatus(health map[string]bool) (status, message string) {
	if len(health) == 0 {
		return "degraded", "проверки зависимостей ещё не выполнены"
	}

	var failed []string
	for name, ok := range health {
		if !ok {
			failed = append(failed, name)
		}
	}
	if len(failed) == 0 {
		return "ok", fmt.Sprintf("зависимостей: %d, все доступны", len(health))
	}
	sort.Strings(failed)
	return "degraded", "недоступны: " + strings.Join(failed, ", ")
}
