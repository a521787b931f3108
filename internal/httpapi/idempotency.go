package httpapi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const (
	// IdempotencyKeyHeader — заголовок, которым касса помечает повторяемый запрос.
	IdempotencyKeyHeader = "Idempotency-Key"
	replayedHeader       = "Idempotent-Replayed"

	maxIdempotentBody = 1 << 20
)

// idempotent сохраняет ответ на запрос с Idempotency-Key и отдаёт его же при
// повторе. Ответы 5xx не сохраняются: ключ освобождается для новой попытки.
func idempotent(store domain.IdempotencyStore, ttl time.Duration, now func() time.Time, logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			if key == "" || store == nil {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotentBody))
			if err != nil {
				respondError(w, http.StatusBadRequest, "invalid_request", "failed to read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			scopedKey := scopeKey(r, key)
			record, err := store.Reserve(r.Context(), scopedKey, requestHash(r, body), now().Add(ttl))
			switch {
			case errors.Is(err, domain.ErrIdempotencyHashMismatch):
				respondError(w, http.StatusUnprocessableEntity, "idempotency_key_reused", "idempotency key was used with a different request")
				return
			case errors.Is(err, domain.ErrIdempotencyKeyExists):
				if record.Status == domain.IdempotencyStatusDone {
					replay(w, record)
					return
				}
				respondError(w, http.StatusConflict, "request_in_progress", "request with this idempotency key is still processing")
				return
			case err != nil:
				logger.WithError(err).WithField("idempotency_key", key).Warn("idempotency store unavailable, processing request without replay protection")
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithoutCancel(r.Context())
			release := func() {
				if err := store.Release(ctx, scopedKey); err != nil {
					logger.WithError(err).WithField("idempotency_key", key).Warn("failed to release idempotency key")
				}
			}

			var captured bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&captured)

			completed := false
			defer func() {
				// panic в обработчике: ключ освобождается, ответ пишет Recoverer
				if !completed {
					release()
				}
			}()
			next.ServeHTTP(ww, r)
			completed = true

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			if status >= http.StatusInternalServerError {
				release()
				return
			}
			if err := store.Complete(ctx, scopedKey, status, captured.Bytes()); err != nil {
				logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
			}
		})
	}
}

func replay(w http.ResponseWriter, record domain.IdempotencyRecord) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(replayedHeader, "true")
	w.WriteHeader(record.StatusCode)
	_, _ = w.Write(record.Body)
}

// scopeKey привязывает ключ к пользователю, чтобы ключи разных кассиров не пересекались.
func scopeKey(r *http.Request, key string) string {
	if claims, ok := ClaimsFromContext(r.Context()); ok && claims.UserID != "" {
		return claims.UserID + ":" + key
	}
	return key
}

func requestHash(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{0})
	h.Write([]byte(r.URL.Path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
