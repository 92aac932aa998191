package blobstore

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisCIDPrefix — префикс CID объектов Redis backend.
const redisCIDPrefix = "sha256-"

// RedisStore — контентно-адресуемое хранилище поверх Redis.
// CID = "sha256-" + hex(SHA-256 данных); ключ = "blob:" + CID.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisStore создаёт хранилище поверх готового клиента.
func NewRedisStore(client *redis.Client, logger *slog.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		logger: logger.With(slog.String("component", "redis_blobstore")),
	}
}

// Put сохраняет данные. Повторная запись тех же байт идемпотентна.
func (s *RedisStore) Put(ctx context.Context, data []byte, nameHint string) (string, error) {
	cid := fmt.Sprintf("%s%x", redisCIDPrefix, sha256.Sum256(data))

	created, err := s.client.SetNX(ctx, blobKey(cid), data, 0).Result()
	if err != nil {
		return "", fmt.Errorf("%w: запись %s: %v", ErrUnavailable, cid, err)
	}

	s.logger.Debug("Объект сохранён в Redis",
		slog.String("cid", cid),
		slog.String("name", nameHint),
		slog.Bool("created", created),
	)
	return cid, nil
}

// Get читает данные по CID.
func (s *RedisStore) Get(ctx context.Context, cid string) ([]byte, error) {
	if !strings.HasPrefix(cid, redisCIDPrefix) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, cid)
	}
	data, err := s.client.Get(ctx, blobKey(cid)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, cid)
		}
		return nil, fmt.Errorf("%w: чтение %s: %v", ErrUnavailable, cid, err)
	}
	return data, nil
}

// Ping проверяет доступность Redis (readiness).
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// CheckReady пингует Redis с таймаутом 3s для /health/ready.
func (s *RedisStore) CheckReady() (status, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := s.Ping(ctx); err != nil {
		return "fail", fmt.Sprintf("Redis недоступен: %v", err)
	}
	return "ok", "подключение активно"
}

func blobKey(cid string) string {
	return "blob:" + cid
}
