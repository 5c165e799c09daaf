package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vaultline/vaultline/internal/alert"
	"github.com/vaultline/vaultline/internal/server/handler"
	"github.com/vaultline/vaultline/internal/settlement"
	"github.com/vaultline/vaultline/internal/vault"
)

var baseTime = time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

func setupRouter(t *testing.T) (*gin.Engine, *settlement.Engine, *vault.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := vault.NewMemoryStore()
	store.Seed(
		vault.Account{ID: "1001", Name: "Alice", Balance: decimal.NewFromInt(500)},
		vault.Account{ID: "1002", Name: "Bassam", Balance: decimal.NewFromInt(200)},
		vault.Account{ID: "9000", Name: "Authority", Balance: decimal.NewFromInt(1000)},
	)
	logger := zap.NewNop()
	engine := settlement.New(store, alert.NewNoopNotifier(logger), settlement.Config{}, logger)
	engine.SetClock(func() time.Time { return baseTime })

	r := gin.New()
	v1 := r.Group("/api/v1")
	handler.NewTransactionHandler(engine, store, logger).Register(v1)
	handler.NewLedgerHandler(store, logger).Register(v1)
	handler.NewAccountHandler(engine, store, logger).Register(v1)
	return r, engine, store
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func submitTx(t *testing.T, router *gin.Engine, amount, mode string) string {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/api/v1/transactions", map[string]any{
		"sender":   "1001",
		"receiver": "1002",
		"amount":   amount,
		"mode":     mode,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("submit: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	id, _ := resp["id"].(string)
	if id == "" {
		t.Fatalf("submit response has no id: %s", w.Body.String())
	}
	return id
}

func approveTx(t *testing.T, router *gin.Engine, id string, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	return doJSON(t, router, http.MethodPost, "/api/v1/transactions/"+id+"/approve", body)
}

func tamperAmount(t *testing.T, store *vault.MemoryStore, id, amount string) {
	t.Helper()
	d, err := decimal.NewFromString(amount)
	if err != nil {
		t.Fatalf("parse %q: %v", amount, err)
	}
	err = store.Update(context.Background(), func(s *vault.State) error {
		i := s.Pending(id)
		if i < 0 {
			t.Fatalf("transaction %s not queued", id)
		}
		s.Queue[i].Amount = d
		return nil
	})
	if err != nil {
		t.Fatalf("tamper: %v", err)
	}
}
