// Точка входа record-service — сервиса зашифрованных медицинских записей.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// выбирает blob store (IPFS или Redis), шифрование (в процессе или sidecar),
// инкапсуляцию ключей, создаёт сервисный слой и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/bigkaa/medvault/internal/api/handlers"
	"github.com/bigkaa/medvault/internal/api/middleware"
	"github.com/bigkaa/medvault/internal/blobstore"
	"github.com/bigkaa/medvault/internal/config"
	"github.com/bigkaa/medvault/internal/crypto"
	"github.com/bigkaa/medvault/internal/cryptoclient"
	"github.com/bigkaa/medvault/internal/database"
	"github.com/bigkaa/medvault/internal/keywrap"
	"github.com/bigkaa/medvault/internal/repository"
	"github.com/bigkaa/medvault/internal/server"
	"github.com/bigkaa/medvault/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("record-service запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("blob_backend", cfg.BlobBackend),
		slog.String("crypto_mode", cfg.CryptoMode),
	)

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics
	pgDB := database.SQLDB(pool)
	defer pgDB.Close()

	checkers := map[string]handlers.ReadinessChecker{
		"postgresql": database.NewReadinessChecker(pool),
	}

	// 5. Blob store
	var blobs blobstore.Store
	switch cfg.BlobBackend {
	case config.BlobBackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:         cfg.RedisAddr,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			ReadTimeout:  cfg.BlobTimeout,
			WriteTimeout: cfg.BlobTimeout,
		})
		defer rdb.Close()
		redisStore := blobstore.NewRedisStore(rdb, logger)
		checkers["redis"] = redisStore
		blobs = redisStore
		logger.Info("Blob store: Redis", slog.String("addr", cfg.RedisAddr))
	default:
		ipfs, err := blobstore.NewIPFSClient(blobstore.IPFSConfig{
			APIURL:        cfg.IPFSAPIURL,
			GatewayURL:    cfg.IPFSGatewayURL,
			APIKey:        cfg.IPFSAPIKey,
			APISecret:     cfg.IPFSAPISecret,
			JWT:           cfg.IPFSJWT,
			CACertPath:    cfg.IPFSCACertPath,
			Timeout:       cfg.BlobTimeout,
			MaxObjectSize: cfg.MaxFileSize + 2*crypto.IVSize,
		}, logger)
		if err != nil {
			logger.Error("Ошибка создания IPFS-клиента", slog.String("error", err.Error()))
			os.Exit(1)
		}
		blobs = ipfs
		logger.Info("Blob store: IPFS",
			slog.String("api_url", cfg.IPFSAPIURL),
			slog.String("gateway_url", cfg.IPFSGatewayURL),
		)
	}

	// 6. Шифрование
	var cipher service.Cipher
	if cfg.CryptoMode == config.CryptoModeSidecar {
		cipher = cryptoclient.New(cfg.CryptoSidecarURL, cfg.CryptoTimeout, logger)
		logger.Info("Шифрование через sidecar", slog.String("url", cfg.CryptoSidecarURL))
	} else {
		cipher = crypto.NewEngine()
	}

	// 7. Инкапсуляция ключей
	var wrapper keywrap.Wrapper = keywrap.Plain{}
	if cfg.KeywrapIdentityFile != "" {
		identity, err := keywrap.LoadIdentityFile(cfg.KeywrapIdentityFile)
		if err != nil {
			logger.Error("Ошибка загрузки age-identity", slog.String("path", cfg.KeywrapIdentityFile), slog.String("error", err.Error()))
			os.Exit(1)
		}
		ageWrapper, err := keywrap.NewAgeWrapper(identity, cfg.KeywrapEscrowRecipients)
		if err != nil {
			logger.Error("Ошибка создания age-обёртки ключей", slog.String("error", err.Error()))
			os.Exit(1)
		}
		wrapper = ageWrapper
		logger.Info("Ключи выдаются в age-обёртке",
			slog.String("recipient", identity.Recipient().String()),
			slog.Int("escrow_recipients", len(cfg.KeywrapEscrowRecipients)),
		)
	} else {
		logger.Warn("MR_KEYWRAP_IDENTITY_FILE не задан, ключ шифрования выдаётся клиенту в открытом виде")
	}

	// 8. Repositories и кэш
	registry := repository.NewRegistry(pool)
	cache := service.NewCacheService(cfg.CacheSize, cfg.CacheTTL)

	// 9. Services
	uploadSvc := service.NewUploadService(cipher, blobs, registry, wrapper, cfg.MaxFileSize, logger)
	downloadSvc := service.NewDownloadService(registry, cache, blobs, cipher, wrapper, logger)
	reconcileSvc := service.NewReconcileService(registry, logger)
	recordSvc := service.NewRecordService(registry, cache, logger)

	// 10. topologymetrics — мониторинг зависимостей
	targets := service.DephealthTargets{
		DB:            pgDB,
		PostgresURL:   cfg.DatabaseURL(),
		CheckInterval: cfg.DephealthCheckInterval,
		IsEntry:       cfg.DephealthIsEntry,
	}
	if cfg.BlobBackend == config.BlobBackendIPFS {
		targets.IPFSGatewayURL = cfg.IPFSGatewayURL
	}
	if cfg.CryptoMode == config.CryptoModeSidecar {
		targets.CryptoSidecarURL = cfg.CryptoSidecarURL
	}
	dephealthSvc, err := service.NewDephealthService("record-service", cfg.DephealthGroup, targets, logger)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		dephealthSvc = nil
	} else {
		checkers["dependencies"] = dephealthSvc
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 11. Идентификация вызывающего
	var resolver middleware.AddressResolver = middleware.HeaderResolver{}
	if cfg.JWTJWKSURL != "" {
		jwtAuth, err := middleware.NewJWTAuth(
			cfg.JWTJWKSURL,
			cfg.JWKSCACertPath,
			cfg.JWTIssuer,
			cfg.JWTAddressClaim,
			cfg.JWKSClientTimeout,
			cfg.JWKSRefreshInterval,
			cfg.JWTLeeway,
			logger,
		)
		if err != nil {
			logger.Error("Ошибка создания JWT-резолвера", slog.String("error", err.Error()))
			os.Exit(1)
		}
		resolver = jwtAuth

		jwksChecker, err := middleware.NewJWKSReadinessChecker(cfg.JWTJWKSURL, cfg.JWKSCACertPath, cfg.JWKSClientTimeout)
		if err != nil {
			logger.Error("Ошибка создания JWKS readiness checker", slog.String("error", err.Error()))
			os.Exit(1)
		}
		checkers["jwks"] = jwksChecker
		logger.Info("Адрес вызывающего берётся из JWT",
			slog.String("jwks_url", cfg.JWTJWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	} else {
		logger.Warn("MR_JWT_JWKS_URL не задан, адрес вызывающего берётся из заголовка " + middleware.HeaderWalletAddress)
	}

	// 12. HTTP handlers
	healthHandler := handlers.NewHealthHandler("record-service", checkers)
	recordsHandler := handlers.NewRecordsHandler(uploadSvc, downloadSvc, reconcileSvc, recordSvc, cfg.MaxFileSize, logger)

	// 13. HTTP-сервер: request id → логирование → метрики → идентификация
	srv := server.New(cfg, logger,
		[]func(http.Handler) http.Handler{
			middleware.RequestID(),
			middleware.RequestLogger(logger),
			middleware.MetricsMiddleware(),
			server.WithExclusions(middleware.Identity(resolver, logger), "/health/", "/metrics"),
		},
		healthHandler,
		recordsHandler,
	)

	// 14. Запуск сервера (блокирующий вызов с graceful shutdown)
	runErr := srv.Run()

	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	if runErr != nil {
		logger.Error("Сервер завершился с ошибкой", slog.String("error", runErr.Error()))
		os.Exit(1)
	}

	logger.Info("record-service остановлен")
}
