package common

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	idemPending       = "pending"
	idemSettleTimeout = 2 * time.Second
)

// Idem provides an Idempotency-Key middleware backed by Redis. The first
// request with a key claims it; a successful response is stored and replayed
// for later requests with the same key. Any other outcome releases the key so
// the cashier can try again.
type Idem struct {
	R   *redis.Client
	TTL time.Duration
}

type storedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

func (i Idem) ttl() time.Duration {
	if i.TTL <= 0 {
		return 24 * time.Hour
	}
	return i.TTL
}

// idemKey scopes a header value to the cashier, method and path.
func idemKey(r *http.Request, header string) string {
	cashier, _ := UserID(r.Context())
	sum := sha256.Sum256([]byte(cashier + "|" + r.Method + "|" + r.URL.Path + "|" + header))
	return "idem:" + hex.EncodeToString(sum[:])
}

// Middleware enforces idempotency semantics for write endpoints.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Idempotency-Key")
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		key := idemKey(r, header)
		ok, err := i.R.SetNX(ctx, key, idemPending, i.ttl()).Result()
		if err != nil {
			JSONError(w, http.StatusInternalServerError, "INTERNAL", "idempotency store error", nil)
			return
		}
		if !ok {
			i.replay(w, r, key)
			return
		}

		rec := &bufferedWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		i.settle(ctx, key, rec)
	})
}

// settle stores a 2xx response for replay or releases the key. The write
// ignores client cancellation and is bounded by idemSettleTimeout.
func (i Idem) settle(ctx context.Context, key string, rec *bufferedWriter) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), idemSettleTimeout)
	defer cancel()

	var err error
	action := "store"
	if rec.status >= 200 && rec.status < 300 {
		payload, merr := json.Marshal(storedResponse{Status: rec.status, Body: json.RawMessage(bytes.TrimSpace(rec.body.Bytes()))})
		if merr != nil {
			action, err = "release", i.R.Del(sctx, key).Err()
		} else {
			err = i.R.Set(sctx, key, payload, i.ttl()).Err()
		}
	} else {
		action, err = "release", i.R.Del(sctx, key).Err()
	}
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("action", action).Int("status", rec.status).Msg("idempotency key not settled")
	}
}

func (i Idem) replay(w http.ResponseWriter, r *http.Request, key string) {
	raw, err := i.R.Get(r.Context(), key).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		JSONError(w, http.StatusInternalServerError, "INTERNAL", "idempotency store error", nil)
		return
	}
	if string(raw) == idemPending || len(raw) == 0 {
		JSONError(w, http.StatusConflict, "IDEMPOTENT_IN_PROGRESS", "a request with this idempotency key is in flight", nil)
		return
	}
	var stored storedResponse
	if err := json.Unmarshal(raw, &stored); err != nil || len(stored.Body) == 0 {
		JSONError(w, http.StatusConflict, "IDEMPOTENT_REPLAY", "duplicate request", nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Idempotent-Replay", "true")
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
}

type bufferedWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (b *bufferedWriter) WriteHeader(code int) {
	b.status = code
	b.ResponseWriter.WriteHeader(code)
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	b.body.Write(p)
	return b.ResponseWriter.Write(p)
}
