package middleware

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/yieldbet/internal/crypto"
	"github.com/alanyoungcy/yieldbet/internal/domain"
)

// Caller identity headers.
const (
	HeaderAccount   = "X-Account"
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
)

// maxSignedBody bounds the body read for signature checks.
const maxSignedBody = 1 << 20

type accountKey struct{}

// WithAccount returns ctx carrying the authenticated caller.
func WithAccount(ctx context.Context, account common.Address) context.Context {
	return context.WithValue(ctx, accountKey{}, account)
}

// AccountFrom returns the caller set by Identity.
func AccountFrom(ctx context.Context) (common.Address, bool) {
	a, ok := ctx.Value(accountKey{}).(common.Address)
	return a, ok
}

// SignatureConfig controls Identity.
type SignatureConfig struct {
	// Required makes every request naming an account prove it with a
	// personal-sign signature over method|path|timestamp|sha256(body).
	Required bool
	// MaxSkew is how far X-Timestamp may drift from now.
	MaxSkew time.Duration
	Now     func() time.Time
	// Replay, when set, remembers every signed state-changing request for
	// twice MaxSkew so a captured request cannot be sent again. Clients
	// repeating an identical call must use a new timestamp.
	Replay domain.LockManager
}

// Identity reads X-Account and, when signatures are required, verifies
// X-Signature before attaching the account to the request context. Requests
// without X-Account pass through anonymously; handlers that need a caller
// reject them.
func Identity(cfg SignatureConfig) func(http.Handler) http.Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = 5 * time.Minute
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(HeaderAccount))
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !common.IsHexAddress(raw) {
				writeJSONError(w, http.StatusBadRequest, "invalid "+HeaderAccount+" header")
				return
			}
			account := common.HexToAddress(raw)

			if cfg.Required {
				body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
				if err != nil {
					writeJSONError(w, http.StatusBadRequest, "read body")
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))

				ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
				if err != nil {
					writeJSONError(w, http.StatusForbidden, "missing or invalid "+HeaderTimestamp+" header")
					return
				}
				sig := r.Header.Get(HeaderSignature)
				if err := crypto.VerifyRequest(account, sig, r.Method, r.URL.Path, ts, body, cfg.Now(), cfg.MaxSkew); err != nil {
					writeJSONError(w, http.StatusForbidden, "signature rejected")
					return
				}
				if cfg.Replay != nil && !safeMethod(r.Method) {
					key := "sig:" + crypto.RequestDigest(account, r.Method, r.URL.Path, ts, body).Hex()
					if _, err := cfg.Replay.Acquire(r.Context(), key, 2*cfg.MaxSkew); err != nil {
						if errors.Is(err, domain.ErrLockHeld) {
							writeJSONError(w, http.StatusForbidden, domain.ErrReplayed.Error())
							return
						}
						writeJSONError(w, http.StatusServiceUnavailable, "replay check unavailable")
						return
					}
				}
			}

			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), account)))
		})
	}
}

// APIKey guards operator routes with a Bearer token or X-API-Key header. An
// empty key disables the check.
func APIKey(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			token := extractToken(r)
			if token == "" {
				writeJSONError(w, http.StatusUnauthorized, "missing authentication token")
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				writeJSONError(w, http.StatusUnauthorized, "invalid authentication token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func safeMethod(m string) bool {
	return m == http.MethodGet || m == http.MethodHead || m == http.MethodOptions
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
