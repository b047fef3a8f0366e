package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/naturalily/shop-api/internal/platform/auth"
)

var fixedTime = time.Date(2024, time.March, 3, 9, 0, 0, 0, time.UTC)

func newConfirmRequest(uid, key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/confirm", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
}

func countingHandler(calls *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Location", "/api/v1/orders/ord_1")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"call": *calls})
	})
}

func TestMiddlewareReplaysStoredResponse(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(countingHandler(&calls, http.StatusCreated))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newConfirmRequest("user-1", "key-1", `{"firstname":"Mona"}`))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newConfirmRequest("user-1", "key-1", `{"firstname":"Mona"}`))

	if calls != 1 {
		t.Fatalf("expected handler to run once, ran %d times", calls)
	}
	if second.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201, got %d", second.Code)
	}
	if second.Header().Get(replayHeaderName) != "true" {
		t.Fatalf("expected replay header")
	}
	if second.Header().Get("Location") != "/api/v1/orders/ord_1" {
		t.Fatalf("expected stored headers to be replayed")
	}
	if !bytes.Equal(first.Body.Bytes(), second.Body.Bytes()) {
		t.Fatalf("expected identical bodies, got %q and %q", first.Body.String(), second.Body.String())
	}
}

func TestMiddlewarePassesThroughWithoutKey(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusCreated))

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), newConfirmRequest("user-1", "", `{}`))
	}
	if calls != 2 {
		t.Fatalf("expected both requests to reach the handler, got %d", calls)
	}
}

func TestMiddlewareScopesKeysPerUser(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusCreated))

	handler.ServeHTTP(httptest.NewRecorder(), newConfirmRequest("user-1", "shared", `{}`))
	handler.ServeHTTP(httptest.NewRecorder(), newConfirmRequest("user-2", "shared", `{}`))
	if calls != 2 {
		t.Fatalf("expected keys to be isolated per user, got %d calls", calls)
	}
}

func TestMiddlewareRejectsReusedKeyWithDifferentBody(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusCreated))

	handler.ServeHTTP(httptest.NewRecorder(), newConfirmRequest("user-1", "k", `{"phone":"1"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newConfirmRequest("user-1", "k", `{"phone":"2"}`))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if calls != 1 {
		t.Fatalf("expected second request to be blocked, got %d calls", calls)
	}
}

func TestMiddlewareReleasesKeyOnServerError(t *testing.T) {
	var calls int
	store := NewMemoryStore()
	handler := Middleware(store)(countingHandler(&calls, http.StatusServiceUnavailable))

	handler.ServeHTTP(httptest.NewRecorder(), newConfirmRequest("user-1", "k", `{}`))
	handler.ServeHTTP(httptest.NewRecorder(), newConfirmRequest("user-1", "k", `{}`))
	if calls != 2 {
		t.Fatalf("expected retry after server error to run the handler again, got %d", calls)
	}
}

func TestMiddlewarePendingReservationConflicts(t *testing.T) {
	store := NewMemoryStore()
	fingerprint := sha256Hex([]byte(http.MethodPost + "|/api/v1/checkout/confirm|" + sha256Hex([]byte(`{}`))))
	if _, err := store.Reserve(context.Background(), "user-1|k", fingerprint, fixedTime, time.Hour); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	var calls int
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(countingHandler(&calls, http.StatusCreated))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newConfirmRequest("user-1", "k", `{}`))
	if rec.Code != http.StatusConflict || calls != 0 {
		t.Fatalf("expected 409 without running handler, got %d and %d calls", rec.Code, calls)
	}
}

func TestMemoryStoreCleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_, _ = store.Reserve(ctx, "a", "f", fixedTime, time.Minute)
	_, _ = store.Reserve(ctx, "b", "f", fixedTime, time.Hour)

	removed, err := store.CleanupExpired(ctx, fixedTime.Add(10*time.Minute), 10)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one expired record removed, got %d", removed)
	}
	res, err := store.Reserve(ctx, "b", "f", fixedTime.Add(10*time.Minute), time.Hour)
	if err != nil || res.State != ReservationStatePending {
		t.Fatalf("expected unexpired record to survive, got %+v %v", res, err)
	}
}
