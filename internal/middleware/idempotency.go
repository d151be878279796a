package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/servicehub/internal/auth"
	"github.com/josh-kwaku/servicehub/internal/handler"
	"github.com/josh-kwaku/servicehub/internal/logging"
	"github.com/josh-kwaku/servicehub/internal/repository"
)

type idempotencyRepository interface {
	Claim(ctx context.Context, key string, userID uuid.UUID, requestHash string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string, userID uuid.UUID) (*repository.IdempotencyEntry, error)
	Complete(ctx context.Context, key string, userID uuid.UUID, statusCode int, body []byte) error
	Release(ctx context.Context, key string, userID uuid.UUID) error
}

// Idempotency makes a mutating route safe to retry. The first request with a
// key claims it; later requests replay the stored response, or get 409 while
// the first is still running. Server errors release the claim.
func Idempotency(repo idempotencyRepository, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			log := logging.FromContext(r.Context())

			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				handler.RespondAppError(w, handler.ErrMissingIdempotencyKey, nil)
				return
			}

			actor, ok := auth.ActorFromContext(r.Context())
			if !ok {
				handler.RespondAppError(w, handler.ErrMissingToken, nil)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				handler.RespondAppError(w, handler.ErrInvalidRequest, nil)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			reqHash := computeHash(r.Method, r.URL.Path, body)

			claimed, err := repo.Claim(r.Context(), key, actor.ID, reqHash, ttl)
			if err != nil {
				log.Error("idempotency claim failed", "error", err, "idempotency_key", key)
				handler.RespondAppError(w, handler.ErrInternalError, nil)
				return
			}

			if !claimed {
				replay(w, r, repo, key, actor.ID, reqHash)
				return
			}

			// The client's context may be gone by now; the outcome still has
			// to be stored.
			ctx := context.WithoutCancel(r.Context())
			release := func() {
				if err := repo.Release(ctx, key, actor.ID); err != nil {
					log.Error("idempotency release failed", "error", err, "idempotency_key", key)
				}
			}

			rec := &responseRecorder{ResponseWriter: w, body: &bytes.Buffer{}, statusCode: http.StatusOK}
			finished := false
			defer func() {
				// next panicked; Recovery further out writes the 500.
				if !finished {
					release()
				}
			}()
			next.ServeHTTP(rec, r)
			finished = true

			if rec.statusCode >= http.StatusInternalServerError {
				release()
				return
			}
			if err := repo.Complete(ctx, key, actor.ID, rec.statusCode, rec.body.Bytes()); err != nil {
				log.Error("idempotency cache store failed", "error", err, "idempotency_key", key)
			}
		})
	}
}

func replay(w http.ResponseWriter, r *http.Request, repo idempotencyRepository, key string, userID uuid.UUID, reqHash string) {
	log := logging.FromContext(r.Context())

	cached, err := repo.Get(r.Context(), key, userID)
	if err != nil {
		log.Error("idempotency cache lookup failed", "error", err, "idempotency_key", key)
		handler.RespondAppError(w, handler.ErrInternalError, nil)
		return
	}
	// Released between our claim and this read.
	if cached == nil {
		handler.RespondAppError(w, handler.ErrIdempotencyInFlight, nil)
		return
	}
	if cached.RequestHash != reqHash {
		handler.RespondAppError(w, handler.ErrIdempotencyConflict, nil)
		return
	}
	if cached.InFlight() {
		handler.RespondAppError(w, handler.ErrIdempotencyInFlight, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Idempotent-Replayed", "true")
	w.WriteHeader(cached.StatusCode)
	if _, err := w.Write(cached.ResponseBody); err != nil {
		log.Error("failed to write idempotent replay", "error", err, "idempotency_key", key)
	}
}

func computeHash(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte(path))
	h.Write(body)
	return fmt.Sprintf("%x", h.Sum(nil))
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
