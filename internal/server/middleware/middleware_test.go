package middleware_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldbet/internal/crypto"
	"github.com/alanyoungcy/yieldbet/internal/domain"
	"github.com/alanyoungcy/yieldbet/internal/server/middleware"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// echoAccount writes the caller address, or "anonymous", and the body.
var echoAccount = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	if a, ok := middleware.AccountFrom(r.Context()); ok {
		_, _ = w.Write([]byte(a.Hex() + "|" + string(body)))
		return
	}
	_, _ = w.Write([]byte("anonymous|" + string(body)))
})

func TestIdentityWithoutSignatures(t *testing.T) {
	h := middleware.Identity(middleware.SignatureConfig{})(echoAccount)
	acct := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/pools", nil)
	req.Header.Set(middleware.HeaderAccount, acct.Hex())
	h.ServeHTTP(rec, req)
	assert.Equal(t, acct.Hex()+"|", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pools", nil))
	assert.Equal(t, "anonymous|", rec.Body.String())

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/pools", nil)
	req.Header.Set(middleware.HeaderAccount, "nope")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIdentityVerifiesSignature(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	acct := ethcrypto.PubkeyToAddress(key.PublicKey)
	now := time.Unix(1_714_521_600, 0)

	h := middleware.Identity(middleware.SignatureConfig{
		Required: true,
		MaxSkew:  time.Minute,
		Now:      func() time.Time { return now },
	})(echoAccount)

	body := `{"guess":25000,"stake":"1000"}`
	path := "/api/pools/0x01/bets"
	sig, err := crypto.SignRequest(key, http.MethodPost, path, now.Unix(), []byte(body))
	require.NoError(t, err)

	send := func(sig string, ts int64, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set(middleware.HeaderAccount, acct.Hex())
		req.Header.Set(middleware.HeaderSignature, sig)
		req.Header.Set(middleware.HeaderTimestamp, strconv.FormatInt(ts, 10))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := send(sig, now.Unix(), body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, acct.Hex()+"|"+body, rec.Body.String())

	assert.Equal(t, http.StatusForbidden, send(sig, now.Unix(), `{"guess":1}`).Code)
	assert.Equal(t, http.StatusForbidden, send(sig, now.Unix()-120, body).Code)
	assert.Equal(t, http.StatusForbidden, send("", now.Unix(), body).Code)
}

// onceLocks grants each key once, like SETNX with a long TTL.
type onceLocks struct {
	seen map[string]bool
	err  error
}

func (l *onceLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	if l.seen[key] {
		return nil, domain.ErrLockHeld
	}
	l.seen[key] = true
	return func() {}, nil
}

func TestIdentityRejectsReplayedSignature(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	acct := ethcrypto.PubkeyToAddress(key.PublicKey)
	now := time.Unix(1_714_521_600, 0)
	locks := &onceLocks{seen: make(map[string]bool)}

	h := middleware.Identity(middleware.SignatureConfig{
		Required: true,
		MaxSkew:  time.Minute,
		Now:      func() time.Time { return now },
		Replay:   locks,
	})(echoAccount)

	send := func(method, path, body string, ts int64) int {
		sig, err := crypto.SignRequest(key, method, path, ts, []byte(body))
		require.NoError(t, err)
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(middleware.HeaderAccount, acct.Hex())
		req.Header.Set(middleware.HeaderSignature, sig)
		req.Header.Set(middleware.HeaderTimestamp, strconv.FormatInt(ts, 10))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	bets := "/api/pools/0x01/bets"
	body := `{"guess":25000,"stake":"1000"}`
	assert.Equal(t, http.StatusOK, send(http.MethodPost, bets, body, now.Unix()))
	assert.Equal(t, http.StatusForbidden, send(http.MethodPost, bets, body, now.Unix()))
	assert.Equal(t, http.StatusOK, send(http.MethodPost, bets, body, now.Unix()+1))

	// Reads are not tracked.
	assert.Equal(t, http.StatusOK, send(http.MethodGet, "/api/pools", "", now.Unix()))
	assert.Equal(t, http.StatusOK, send(http.MethodGet, "/api/pools", "", now.Unix()))
	assert.Len(t, locks.seen, 2)

	locks.err = errors.New("redis down")
	assert.Equal(t, http.StatusServiceUnavailable, send(http.MethodPost, bets, body, now.Unix()+2))
}

func TestAPIKey(t *testing.T) {
	h := middleware.APIKey("secret")(echoAccount)

	cases := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"bearer", "Authorization", "Bearer secret", http.StatusOK},
		{"header", "X-API-Key", "secret", http.StatusOK},
		{"wrong", "X-API-Key", "guess", http.StatusUnauthorized},
		{"missing", "", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/pools", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	middleware.APIKey("")(echoAccount).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

type countingLimiter struct {
	keys  []string
	allow int
	err   error
}

func (l *countingLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	l.keys = append(l.keys, key)
	if l.err != nil {
		return false, l.err
	}
	return len(l.keys) <= l.allow, nil
}

func TestRateLimit(t *testing.T) {
	lim := &countingLimiter{allow: 1}
	h := middleware.RateLimit(lim, 1, time.Minute, quiet)(echoAccount)

	req := httptest.NewRequest(http.MethodGet, "/api/pools", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "api:ip:10.0.0.1", lim.keys[0])

	failing := &countingLimiter{err: errors.New("redis down")}
	rec = httptest.NewRecorder()
	middleware.RateLimit(failing, 1, time.Minute, quiet)(echoAccount).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := middleware.CORS([]string{"https://app.example"})(echoAccount)

	req := httptest.NewRequest(http.MethodOptions, "/api/pools", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), middleware.HeaderSignature)

	req = httptest.NewRequest(http.MethodGet, "/api/pools", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoggingRequestID(t *testing.T) {
	h := middleware.Logging(quiet)(echoAccount)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get(middleware.HeaderRequestID))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(middleware.HeaderRequestID, "abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get(middleware.HeaderRequestID))
}
