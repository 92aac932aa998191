package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bigkaa/medvault/internal/blobstore"
	"github.com/bigkaa/medvault/internal/crypto"
	"github.com/bigkaa/medvault/internal/domain/model"
	"github.com/bigkaa/medvault/internal/repository"
)

// Cipher — шифрование файлов: локальный crypto.Engine или cryptoclient.Client.
type Cipher interface {
	Encrypt(ctx context.Context, plaintext []byte) (*crypto.Envelope, error)
	Decrypt(ctx context.Context, ciphertext []byte, ivB64, keyB64 string) ([]byte, error)
}

// RecordStore — реестр записей (repository.Registry).
type RecordStore interface {
	CreateRecord(ctx context.Context, rec *model.Record) error
	GetByID(ctx context.Context, recordID int64) (*model.Record, error)
	GetByContentID(ctx context.Context, contentID string) (*model.Record, error)
	ListByPatient(ctx context.Context, params repository.ListParams) ([]*model.Record, int, error)
	SetLedgerTxHash(ctx context.Context, recordID int64, txHash string) (*model.Record, error)
}

// lookupRecord читает запись из кэша, при промахе — из реестра с сохранением в кэш.
func lookupRecord(ctx context.Context, store RecordStore, cache *CacheService, recordID int64) (*model.Record, error) {
	if rec, ok := cache.Get(recordID); ok {
		return rec, nil
	}

	rec, err := store.GetByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrRecordNotFound, recordID)
		}
		return nil, fmt.Errorf("получение записи %d: %w", recordID, err)
	}

	cache.Set(recordID, rec)
	return rec, nil
}

// mapBlobError переводит ошибки blob store в ошибки сервисного слоя.
func mapBlobError(err error) error {
	switch {
	case errors.Is(err, blobstore.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrBlobNotFound, err)
	case errors.Is(err, blobstore.ErrRejected):
		return fmt.Errorf("%w: %w", ErrBlobStoreRejected, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrBlobStoreUnavailable, err)
	}
}

// mapCryptoError переводит ошибки Cipher. fallback — для прочих ошибок.
func mapCryptoError(err, fallback error) error {
	switch {
	case errors.Is(err, crypto.ErrUnavailable):
		return fmt.Errorf("%w: %w", ErrCryptoUnavailable, err)
	case errors.Is(err, crypto.ErrDecryption):
		return fmt.Errorf("%w: %w", ErrDecryption, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %w", fallback, err)
	}
}
