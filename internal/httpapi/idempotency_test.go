package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
)

func TestIdempotent_PanicReleasesKey(t *testing.T) {
	store := memory.NewIdempotencyRepository()
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			panic("boom")
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	logger := log.NewEntry(log.New())
	chain := middleware.Recoverer(idempotent(store, time.Hour, func() time.Time { return time.Now().UTC() }, logger)(handler))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/submit", strings.NewReader(`{}`))
		req.Header.Set(IdempotencyKeyHeader, "sale-1")
		rec := httptest.NewRecorder()
		chain.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	require.Equal(t, http.StatusInternalServerError, first.Code)

	second := send()
	assert.Equal(t, http.StatusCreated, second.Code, "retry after panic is processed, not rejected as in progress")
	assert.Equal(t, 2, calls)

	third := send()
	assert.Equal(t, http.StatusCreated, third.Code)
	assert.Equal(t, "true", third.Header().Get(replayedHeader))
	assert.Equal(t, 2, calls)
}
