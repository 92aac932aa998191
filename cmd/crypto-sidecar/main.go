// Точка входа crypto-sidecar — HTTP-сервиса шифрования AES-256-CBC.
// Состояния не хранит: БД и blob store не нужны.
package main

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/bigkaa/medvault/internal/api/handlers"
	"github.com/bigkaa/medvault/internal/api/middleware"
	"github.com/bigkaa/medvault/internal/config"
	"github.com/bigkaa/medvault/internal/server"
	"github.com/bigkaa/medvault/internal/sidecar"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.LoadSidecar()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("crypto-sidecar запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.Int64("max_file_size", cfg.MaxFileSize),
	)

	// 3. HTTP-сервер
	srv := server.New(cfg, logger,
		[]func(http.Handler) http.Handler{
			middleware.RequestID(),
			middleware.RequestLogger(logger),
			middleware.MetricsMiddleware(),
		},
		handlers.NewHealthHandler("crypto-sidecar", nil),
		sidecar.NewHandler(cfg.MaxFileSize, logger),
	)

	// 4. Запуск сервера (блокирующий вызов с graceful shutdown)
	if err := srv.Run(); err != nil {
		logger.Error("Сервер завершился с ошибкой", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("crypto-sidecar остановлен")
}
