package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

const (
	testKeyID   = "test-key"
	testAddress = "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	}
	data, _ := json.Marshal(jwks)
	return data
}

func newTestJWTAuth(t *testing.T, key *rsa.PrivateKey, claim string) *JWTAuth {
	t.Helper()
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("не удалось создать keyfunc из JWKS JSON: %v", err)
	}
	return NewJWTAuthWithKeyfunc(kf, "https://idp.test", claim, 5*time.Second, testLogger())
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// serveIdentity прогоняет запрос через Identity и возвращает статус и адрес из контекста.
func serveIdentity(resolver AddressResolver, req *http.Request) (int, string) {
	var got string
	handler := Identity(resolver, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = AddressFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Code, got
}

// TestIdentity_Header проверяет режим X-Wallet-Address.
func TestIdentity_Header(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantAddr   string
	}{
		{"валидный адрес в верхнем регистре", "0xABCDEFABCDEFABCDEFABCDEFABCDEFABCDEFABCD", http.StatusOK, testAddress},
		{"нет заголовка", "", http.StatusUnauthorized, ""},
		{"некорректный адрес", "alice", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/records/1", nil)
			if tt.header != "" {
				req.Header.Set(HeaderWalletAddress, tt.header)
			}
			status, addr := serveIdentity(HeaderResolver{}, req)
			if status != tt.wantStatus {
				t.Errorf("статус = %d, ожидался %d", status, tt.wantStatus)
			}
			if addr != tt.wantAddr {
				t.Errorf("адрес = %q, ожидался %q", addr, tt.wantAddr)
			}
		})
	}
}

// TestIdentity_JWT проверяет режим JWT.
func TestIdentity_JWT(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	valid := jwt.MapClaims{
		"sub":    "user-1",
		"wallet": testAddress,
		"iss":    "https://idp.test",
		"exp":    now.Add(time.Hour).Unix(),
	}

	tests := []struct {
		name       string
		key        *rsa.PrivateKey
		claims     jwt.MapClaims
		header     string
		wantStatus int
	}{
		{"валидный токен", key, valid, "", http.StatusOK},
		{"чужая подпись", other, valid, "", http.StatusUnauthorized},
		{"просрочен", key, jwt.MapClaims{"wallet": testAddress, "iss": "https://idp.test", "exp": now.Add(-time.Hour).Unix()}, "", http.StatusUnauthorized},
		{"без exp", key, jwt.MapClaims{"wallet": testAddress, "iss": "https://idp.test"}, "", http.StatusUnauthorized},
		{"чужой issuer", key, jwt.MapClaims{"wallet": testAddress, "iss": "https://evil.test", "exp": now.Add(time.Hour).Unix()}, "", http.StatusUnauthorized},
		{"нет claim адреса", key, jwt.MapClaims{"iss": "https://idp.test", "exp": now.Add(time.Hour).Unix()}, "", http.StatusUnauthorized},
		{"не Bearer", key, valid, "Basic abc", http.StatusUnauthorized},
	}

	auth := newTestJWTAuth(t, key, "wallet")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/records/1", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			} else {
				req.Header.Set("Authorization", "Bearer "+signToken(t, tt.key, tt.claims))
			}
			status, addr := serveIdentity(auth, req)
			if status != tt.wantStatus {
				t.Errorf("статус = %d, ожидался %d", status, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK && addr != testAddress {
				t.Errorf("адрес = %q, ожидался %q", addr, testAddress)
			}
		})
	}
}

// TestIdentity_JWTNoHeader проверяет отсутствие Authorization.
func TestIdentity_JWTNoHeader(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderWalletAddress, testAddress)

	status, _ := serveIdentity(newTestJWTAuth(t, key, ""), req)
	if status != http.StatusUnauthorized {
		t.Errorf("статус = %d, ожидался 401: заголовок адреса не должен действовать в режиме JWT", status)
	}
}

// TestJWKSReadinessChecker проверяет проверку доступности JWKS.
func TestJWKSReadinessChecker(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	jwks := buildJWKSetJSON(&key.PublicKey, testKeyID)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write(jwks)
		case "/empty":
			_, _ = w.Write([]byte(`{"keys":[]}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	tests := []struct {
		path string
		want string
	}{
		{"/ok", "ok"},
		{"/empty", "degraded"},
		{"/down", "fail"},
	}
	for _, tt := range tests {
		checker, err := NewJWKSReadinessChecker(srv.URL+tt.path, "", time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if status, msg := checker.CheckReady(); status != tt.want {
			t.Errorf("%s: статус = %q (%s), ожидался %q", tt.path, status, msg, tt.want)
		}
	}
}
