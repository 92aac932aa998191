package sidecar

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/medvault/internal/api/errors"
	"github.com/bigkaa/medvault/internal/crypto"
)

func newTestRouter(maxFileSize int64) http.Handler {
	r := chi.NewRouter()
	NewHandler(maxFileSize, slog.Default()).RegisterRoutes(r)
	return r
}

func post(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatal(err)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, &buf))
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body apierrors.Body
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("ошибка декодирования тела ошибки: %v", err)
	}
	return body.Error.Code
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	h := newTestRouter(1 << 20)
	plain := []byte("prescription: amoxicillin 500mg")

	w := post(t, h, "/api/v1/encrypt", EncryptRequest{ContentBase64: base64.StdEncoding.EncodeToString(plain)})
	if w.Code != http.StatusOK {
		t.Fatalf("encrypt: статус %d, тело %s", w.Code, w.Body.String())
	}
	var enc EncryptResponse
	if err := json.NewDecoder(w.Body).Decode(&enc); err != nil {
		t.Fatal(err)
	}
	if enc.Hash != crypto.Hash(plain) {
		t.Errorf("hash = %s, ожидался %s", enc.Hash, crypto.Hash(plain))
	}

	w = post(t, h, "/api/v1/decrypt", DecryptRequest{EncryptedContent: enc.EncryptedContent, IV: enc.IV, Key: enc.Key})
	if w.Code != http.StatusOK {
		t.Fatalf("decrypt: статус %d, тело %s", w.Code, w.Body.String())
	}
	var dec DecryptResponse
	if err := json.NewDecoder(w.Body).Decode(&dec); err != nil {
		t.Fatal(err)
	}
	got, _ := base64.StdEncoding.DecodeString(dec.ContentBase64)
	if !bytes.Equal(got, plain) || dec.Size != len(plain) {
		t.Errorf("расшифровано %q (size %d)", got, dec.Size)
	}
}

func TestEncrypt_Validation(t *testing.T) {
	h := newTestRouter(1 << 20)

	tests := []struct {
		name string
		body any
	}{
		{"пустой файл", EncryptRequest{ContentBase64: ""}},
		{"не base64", EncryptRequest{ContentBase64: "!!!"}},
		{"битый JSON", "{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(t, h, "/api/v1/encrypt", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("статус = %d, ожидался 400", w.Code)
			}
			if code := errorCode(t, w); code != apierrors.CodeValidationError {
				t.Errorf("код = %s", code)
			}
		})
	}
}

func TestEncrypt_TooLarge(t *testing.T) {
	h := newTestRouter(16)
	big := base64.StdEncoding.EncodeToString(make([]byte, 8192))

	w := post(t, h, "/api/v1/encrypt", EncryptRequest{ContentBase64: big})
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("статус = %d, ожидался 413", w.Code)
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	h := newTestRouter(1 << 20)
	env, err := crypto.Encrypt([]byte("imaging report"))
	if err != nil {
		t.Fatal(err)
	}

	w := post(t, h, "/api/v1/decrypt", DecryptRequest{
		EncryptedContent: base64.StdEncoding.EncodeToString(env.Ciphertext),
		IV:               env.IV,
		Key:              base64.StdEncoding.EncodeToString([]byte("short")),
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("статус = %d, ожидался 400", w.Code)
	}
	if code := errorCode(t, w); code != apierrors.CodeDecryptionError {
		t.Errorf("код = %s, ожидался %s", code, apierrors.CodeDecryptionError)
	}
}

func TestVerify(t *testing.T) {
	h := newTestRouter(1 << 20)
	content := []byte("vaccination certificate")
	b64 := base64.StdEncoding.EncodeToString(content)

	w := post(t, h, "/api/v1/verify", VerifyRequest{ContentBase64: b64, ExpectedHash: "0x" + strings.ToUpper(crypto.Hash(content))})
	var ok VerifyResponse
	if err := json.NewDecoder(w.Body).Decode(&ok); err != nil {
		t.Fatal(err)
	}
	if !ok.Verified || ok.Tampered {
		t.Errorf("ожидалось verified: %+v", ok)
	}

	w = post(t, h, "/api/v1/verify", VerifyRequest{ContentBase64: b64, ExpectedHash: crypto.Hash([]byte("other"))})
	var bad VerifyResponse
	if err := json.NewDecoder(w.Body).Decode(&bad); err != nil {
		t.Fatal(err)
	}
	if bad.Verified || !bad.Tampered {
		t.Errorf("ожидалось tampered: %+v", bad)
	}

	w = post(t, h, "/api/v1/verify", VerifyRequest{ContentBase64: b64})
	if w.Code != http.StatusBadRequest {
		t.Errorf("без expected_hash: статус %d, ожидался 400", w.Code)
	}
}
