package cryptoclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/medvault/internal/crypto"
	"github.com/bigkaa/medvault/internal/sidecar"
)

// newSidecar поднимает настоящий обработчик криптосервиса.
func newSidecar(t *testing.T) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	sidecar.NewHandler(1<<20, slog.Default()).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_RoundTrip(t *testing.T) {
	srv := newSidecar(t)
	c := New(srv.URL+"/", 2*time.Second, slog.Default())
	ctx := context.Background()
	plain := []byte("referral letter")

	env, err := c.Encrypt(ctx, plain)
	if err != nil {
		t.Fatalf("Encrypt() вернул ошибку: %v", err)
	}
	if env.Hash != crypto.Hash(plain) {
		t.Errorf("Hash = %s", env.Hash)
	}

	// Шифротекст криптосервиса расшифровывается локально и наоборот
	local, err := crypto.Decrypt(env.Ciphertext, env.IV, env.Key)
	if err != nil || !bytes.Equal(local, plain) {
		t.Fatalf("локальная расшифровка: %q, %v", local, err)
	}

	got, err := c.Decrypt(ctx, env.Ciphertext, env.IV, env.Key)
	if err != nil {
		t.Fatalf("Decrypt() вернул ошибку: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("Decrypt() = %q", got)
	}
}

func TestClient_DecryptionError(t *testing.T) {
	srv := newSidecar(t)
	c := New(srv.URL, 2*time.Second, slog.Default())

	env, err := crypto.Encrypt([]byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	other, _ := crypto.Encrypt([]byte("y"))

	_, err = c.Decrypt(context.Background(), env.Ciphertext[:5], env.IV, other.Key)
	if !errors.Is(err, crypto.ErrDecryption) {
		t.Errorf("ожидался ErrDecryption, получено %v", err)
	}
}

func TestClient_EmptyFileRejected(t *testing.T) {
	srv := newSidecar(t)
	c := New(srv.URL, 2*time.Second, slog.Default())

	_, err := c.Encrypt(context.Background(), nil)
	if !errors.Is(err, crypto.ErrEncryption) {
		t.Errorf("ожидался ErrEncryption, получено %v", err)
	}
}

func TestClient_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	c := New(srv.URL, time.Second, slog.Default())

	if _, err := c.Encrypt(context.Background(), []byte("x")); !errors.Is(err, crypto.ErrUnavailable) {
		t.Errorf("5xx: ожидался ErrUnavailable, получено %v", err)
	}

	srv.Close()
	if _, err := c.Decrypt(context.Background(), []byte("x"), "iv", "key"); !errors.Is(err, crypto.ErrUnavailable) {
		t.Errorf("нет соединения: ожидался ErrUnavailable, получено %v", err)
	}
}

// TestClient_EncryptMalformedResponse проверяет, что некорректный хеш или IV
// в ответе криптосервиса не доходит до blob store.
func TestClient_EncryptMalformedResponse(t *testing.T) {
	good, err := crypto.Encrypt([]byte("discharge summary"))
	if err != nil {
		t.Fatal(err)
	}
	valid := sidecar.EncryptResponse{
		EncryptedContent: base64.StdEncoding.EncodeToString(good.Ciphertext),
		IV:               good.IV,
		Key:              good.Key,
		Hash:             good.Hash,
	}

	tests := []struct {
		name   string
		mutate func(r *sidecar.EncryptResponse)
	}{
		{"пустой хеш", func(r *sidecar.EncryptResponse) { r.Hash = "" }},
		{"хеш не hex", func(r *sidecar.EncryptResponse) { r.Hash = "not-a-hash" }},
		{"короткий хеш", func(r *sidecar.EncryptResponse) { r.Hash = good.Hash[:40] }},
		{"IV не base64", func(r *sidecar.EncryptResponse) { r.IV = "%%%" }},
		{"IV 8 байт", func(r *sidecar.EncryptResponse) { r.IV = base64.StdEncoding.EncodeToString(make([]byte, 8)) }},
		{"пустой IV", func(r *sidecar.EncryptResponse) { r.IV = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := valid
			tt.mutate(&resp)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(resp)
			}))
			defer srv.Close()

			c := New(srv.URL, 2*time.Second, slog.Default())
			env, err := c.Encrypt(context.Background(), []byte("discharge summary"))
			if !errors.Is(err, crypto.ErrEncryption) {
				t.Errorf("ожидался ErrEncryption, получено %v", err)
			}
			if env != nil {
				t.Errorf("Encrypt() вернул конверт при некорректном ответе")
			}
		})
	}
}

func TestClient_EncryptNormalizesHash(t *testing.T) {
	good, err := crypto.Encrypt([]byte("lab results"))
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(sidecar.EncryptResponse{
			EncryptedContent: base64.StdEncoding.EncodeToString(good.Ciphertext),
			IV:               good.IV,
			Key:              good.Key,
			Hash:             "0X" + strings.ToUpper(good.Hash),
		})
	}))
	defer srv.Close()

	env, err := New(srv.URL, 2*time.Second, slog.Default()).Encrypt(context.Background(), []byte("lab results"))
	if err != nil {
		t.Fatalf("Encrypt() вернул ошибку: %v", err)
	}
	if env.Hash != good.Hash {
		t.Errorf("Hash = %s, ожидалось %s", env.Hash, good.Hash)
	}
}
