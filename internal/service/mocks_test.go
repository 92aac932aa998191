package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/bigkaa/medvault/internal/blobstore"
	"github.com/bigkaa/medvault/internal/crypto"
	"github.com/bigkaa/medvault/internal/domain/model"
	"github.com/bigkaa/medvault/internal/repository"
)

const (
	testPatient   = "0x1111111111111111111111111111111111111111"
	testDoctor    = "0x2222222222222222222222222222222222222222"
	testStranger  = "0x3333333333333333333333333333333333333333"
	testTxHash    = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	testTxHashAlt = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

// mockStore — мок RecordStore. Без fn-полей работает как хранилище в памяти.
type mockStore struct {
	mu      sync.Mutex
	records map[int64]*model.Record
	nextID  int64

	createFn     func(ctx context.Context, rec *model.Record) error
	getByIDFn    func(ctx context.Context, recordID int64) (*model.Record, error)
	getByCIDFn   func(ctx context.Context, contentID string) (*model.Record, error)
	listFn       func(ctx context.Context, params repository.ListParams) ([]*model.Record, int, error)
	setTxHashFn  func(ctx context.Context, recordID int64, txHash string) (*model.Record, error)
	getByIDCalls int
	createCalls  int
}

func newMockStore() *mockStore {
	return &mockStore{records: make(map[int64]*model.Record)}
}

func (m *mockStore) CreateRecord(ctx context.Context, rec *model.Record) error {
	m.mu.Lock()
	m.createCalls++
	m.mu.Unlock()
	if m.createFn != nil {
		return m.createFn(ctx, rec)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ContentID == rec.ContentID {
			return repository.ErrConflict
		}
	}
	m.nextID++
	rec.RecordID = m.nextID
	cp := *rec
	m.records[rec.RecordID] = &cp
	return nil
}

func (m *mockStore) GetByID(ctx context.Context, recordID int64) (*model.Record, error) {
	m.mu.Lock()
	m.getByIDCalls++
	m.mu.Unlock()
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, recordID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[recordID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *mockStore) GetByContentID(ctx context.Context, contentID string) (*model.Record, error) {
	if m.getByCIDFn != nil {
		return m.getByCIDFn(ctx, contentID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ContentID == contentID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *mockStore) ListByPatient(ctx context.Context, params repository.ListParams) ([]*model.Record, int, error) {
	if m.listFn != nil {
		return m.listFn(ctx, params)
	}
	return nil, 0, nil
}

func (m *mockStore) SetLedgerTxHash(ctx context.Context, recordID int64, txHash string) (*model.Record, error) {
	if m.setTxHashFn != nil {
		return m.setTxHashFn(ctx, recordID, txHash)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[recordID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if rec.LedgerTxHash != nil && *rec.LedgerTxHash != txHash {
		return nil, repository.ErrConflict
	}
	h := txHash
	rec.LedgerTxHash = &h
	cp := *rec
	return &cp, nil
}

// mockBlobs — мок blobstore.Store в памяти.
type mockBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte

	putFn func(ctx context.Context, data []byte, nameHint string) (string, error)
	getFn func(ctx context.Context, cid string) ([]byte, error)
}

func newMockBlobs() *mockBlobs {
	return &mockBlobs{blobs: make(map[string][]byte)}
}

func (m *mockBlobs) Put(ctx context.Context, data []byte, nameHint string) (string, error) {
	if m.putFn != nil {
		return m.putFn(ctx, data, nameHint)
	}
	sum := sha256.Sum256(data)
	cid := "bafy" + hex.EncodeToString(sum[:16])
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[cid] = append([]byte(nil), data...)
	return cid, nil
}

func (m *mockBlobs) Get(ctx context.Context, cid string) ([]byte, error) {
	if m.getFn != nil {
		return m.getFn(ctx, cid)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[cid]
	if !ok {
		return nil, blobstore.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// mockCipher — мок Cipher; без fn-полей делегирует crypto.Engine.
type mockCipher struct {
	encryptFn func(ctx context.Context, plaintext []byte) (*crypto.Envelope, error)
	decryptFn func(ctx context.Context, ciphertext []byte, ivB64, keyB64 string) ([]byte, error)
}

func (m *mockCipher) Encrypt(ctx context.Context, plaintext []byte) (*crypto.Envelope, error) {
	if m.encryptFn != nil {
		return m.encryptFn(ctx, plaintext)
	}
	return crypto.NewEngine().Encrypt(ctx, plaintext)
}

func (m *mockCipher) Decrypt(ctx context.Context, ciphertext []byte, ivB64, keyB64 string) ([]byte, error) {
	if m.decryptFn != nil {
		return m.decryptFn(ctx, ciphertext, ivB64, keyB64)
	}
	return crypto.NewEngine().Decrypt(ctx, ciphertext, ivB64, keyB64)
}
