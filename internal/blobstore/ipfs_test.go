package blobstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCID = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"

func newTestIPFS(t *testing.T, api, gateway string, maxSize int64) *IPFSClient {
	t.Helper()
	c, err := NewIPFSClient(IPFSConfig{
		APIURL:        api + "/",
		GatewayURL:    gateway,
		APIKey:        "key",
		APISecret:     "secret",
		Timeout:       2 * time.Second,
		MaxObjectSize: maxSize,
	}, slog.Default())
	require.NoError(t, err)
	return c
}

func TestIPFSClient_Put(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/pinning/pinFileToIPFS", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("pinata_api_key"))
		assert.Equal(t, "secret", r.Header.Get("pinata_secret_api_key"))

		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		body, _ := io.ReadAll(f)
		assert.Equal(t, "scan.pdf.encrypted", hdr.Filename)
		assert.Equal(t, []byte("ciphertext"), body)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"IpfsHash":"` + testCID + `","PinSize":10}`))
	}))
	defer srv.Close()

	c := newTestIPFS(t, srv.URL, srv.URL, 0)
	cid, err := c.Put(context.Background(), []byte("ciphertext"), "scan.pdf.encrypted")
	require.NoError(t, err)
	assert.Equal(t, testCID, cid)
}

func TestIPFSClient_Put_JWTAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("pinata_api_key"))
		_, _ = w.Write([]byte(`{"IpfsHash":"` + testCID + `"}`))
	}))
	defer srv.Close()

	c, err := NewIPFSClient(IPFSConfig{APIURL: srv.URL, GatewayURL: srv.URL, JWT: "token", Timeout: time.Second}, slog.Default())
	require.NoError(t, err)
	_, err = c.Put(context.Background(), []byte("x"), "x")
	require.NoError(t, err)
}

func TestIPFSClient_Put_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"401 — отклонено", http.StatusUnauthorized, `{"error":"bad key"}`, ErrRejected},
		{"500 — отклонено", http.StatusInternalServerError, `oops`, ErrRejected},
		{"503 — отклонено", http.StatusServiceUnavailable, ``, ErrRejected},
		{"битый JSON", http.StatusOK, `{`, ErrRejected},
		{"пустой CID", http.StatusOK, `{"IpfsHash":""}`, ErrRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := newTestIPFS(t, srv.URL, srv.URL, 0)
			_, err := c.Put(context.Background(), []byte("x"), "x")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestIPFSClient_Put_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c := newTestIPFS(t, addr, addr, 0)
	_, err := c.Put(context.Background(), []byte("x"), "x")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestIPFSClient_Get(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ipfs/" + testCID:
			_, _ = w.Write([]byte("ciphertext"))
		case "/ipfs/QmMissingMissingMissing":
			http.NotFound(w, r)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	c := newTestIPFS(t, srv.URL, srv.URL, 0)

	data, err := c.Get(context.Background(), testCID)
	require.NoError(t, err)
	assert.Equal(t, []byte("ciphertext"), data)

	_, err = c.Get(context.Background(), "QmMissingMissingMissing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.Get(context.Background(), "QmOtherOtherOtherOther")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = c.Get(context.Background(), "../etc/passwd")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIPFSClient_Get_TooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(make([]byte, 100))
	}))
	defer srv.Close()

	c := newTestIPFS(t, srv.URL, srv.URL, 50)
	_, err := c.Get(context.Background(), testCID)
	assert.True(t, errors.Is(err, ErrRejected), "err = %v", err)
}

func TestIPFSClient_Get_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
		}
	}))
	defer srv.Close()

	c, err := NewIPFSClient(IPFSConfig{APIURL: srv.URL, GatewayURL: srv.URL, Timeout: 100 * time.Millisecond}, slog.Default())
	require.NoError(t, err)
	_, err = c.Get(context.Background(), testCID)
	assert.ErrorIs(t, err, ErrUnavailable)
}
