package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/tapline/tapline/internal/app"
	"github.com/tapline/tapline/internal/auth"
	"github.com/tapline/tapline/internal/items"
	"github.com/tapline/tapline/internal/observability"
	"github.com/tapline/tapline/internal/store/memory"
	_ "github.com/tapline/tapline/internal/testing/guard"
)

type server struct {
	t       *testing.T
	handler http.Handler
	store   *memory.Store
}

func newServer(t *testing.T) *server {
	t.Helper()
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	repos := app.MemoryRepositories(store)
	metrics := observability.NewMetrics()
	tokens := auth.NewTokenStore(client, time.Hour)
	svc := app.NewServices(repos, app.ServiceOptions{
		Registerer:   metrics.Registerer(),
		Redis:        client,
		Tokens:       tokens,
		PasswordCost: bcrypt.MinCost,
	}, logger)
	_, err := app.Bootstrap(ctx, svc, app.BootstrapInput{
		RootID:        "root",
		RootName:      "Root",
		AdminUsername: "admin",
		AdminPassword: "admin-password",
		PasswordCost:  bcrypt.MinCost,
	}, logger)
	require.NoError(t, err)

	params := app.HandlersFor(svc, logger)
	params.Config = &app.Config{RateLimitPerMin: 10000, AppRequestTimeout: 5 * time.Second}
	params.Tokens = tokens
	params.Metrics = metrics
	params.Ready = repos.Ping
	return &server{t: t, handler: app.NewRouter(params), store: store}
}

func (s *server) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *server) login(username, password string) string {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/auth/token", "", map[string]string{"username": username, "password": password})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(s.t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Token
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestHealthz(t *testing.T) {
	s := newServer(t)
	rec := s.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.NotEmpty(t, rec.Header().Get("X-Frame-Options"))
}

func TestBarAndStockFlow(t *testing.T) {
	s := newServer(t)
	admin := s.login("admin", "admin-password")

	rec := s.do(http.MethodPost, "/bars", "", map[string]any{"id": "pub", "name": "The Pub"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/bars", admin, map[string]any{"id": "pub", "name": "The Pub"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	bar := decode[map[string]any](t, rec)
	require.Equal(t, "root", bar["parent_id"])

	rec = s.do(http.MethodPost, "/bars", admin, map[string]any{"id": "pub", "name": "Again"})
	require.Equal(t, http.StatusConflict, rec.Code)

	details := s.store.PutItemDetails(items.ItemDetails{Name: "Blonde", Brand: "Tapline", Container: "keg"})
	sell := s.store.PutSellItem(items.SellItem{BarID: "pub", Name: "Blonde", Tax: 0.1})

	rec = s.do(http.MethodPost, "/stockitems", admin, map[string]any{
		"bar_id": "pub", "details_id": details.ID, "sell_item_id": sell.ID, "sell_to_buy": 0.5, "price": 10,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	item := decode[struct {
		ID    int64   `json:"id"`
		Price float64 `json:"price"`
	}](t, rec)
	require.Equal(t, 10.0, item.Price)

	opsPath := fmt.Sprintf("/stockitems/%d/operations", item.ID)
	rec = s.do(http.MethodPost, opsPath, admin, map[string]any{"field": "qty", "delta": 4})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = s.do(http.MethodPost, opsPath, admin, map[string]any{"field": "qty", "unit": "sell", "delta": -2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[struct {
		Operation struct {
			Seq       int64   `json:"seq"`
			Resulting float64 `json:"resulting"`
		} `json:"operation"`
		StockItem struct {
			Qty     float64 `json:"qty"`
			SellQty float64 `json:"sell_qty"`
		} `json:"stock_item"`
	}](t, rec)
	require.Equal(t, int64(3), created.Operation.Seq)
	require.Equal(t, 3.0, created.StockItem.Qty)
	require.Equal(t, 6.0, created.StockItem.SellQty)

	rec = s.do(http.MethodPost, opsPath, admin, map[string]any{"field": "qty", "delta": 1, "next_value": 2})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, opsPath, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]map[string]any](t, rec)
	require.Len(t, history, 3)

	rec = s.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "tapline_ledger_operations_total")
	require.Contains(t, rec.Body.String(), "tapline_http_requests_total")
}

func TestUserAndRoleFlow(t *testing.T) {
	s := newServer(t)
	admin := s.login("admin", "admin-password")

	rec := s.do(http.MethodPost, "/users", admin, map[string]any{"username": "barman", "password": "barman-password"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	user := decode[struct {
		ID int64 `json:"id"`
	}](t, rec)

	rec = s.do(http.MethodPost, "/bars", admin, map[string]any{"id": "pub", "name": "Pub"})
	require.Equal(t, http.StatusCreated, rec.Code)

	barman := s.login("barman", "barman-password")
	rec = s.do(http.MethodGet, "/permissions/check?capability=manage-inventory&bar=pub", barman, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, decode[map[string]any](t, rec)["allowed"].(bool))

	rec = s.do(http.MethodPost, "/roles", admin, map[string]any{"user_id": user.ID, "bar_id": "pub", "name": "admin"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/permissions/check?capability=manage-inventory&bar=pub", barman, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decode[map[string]any](t, rec)["allowed"].(bool))

	rec = s.do(http.MethodPost, "/roles", barman, map[string]any{"user_id": user.ID, "bar_id": "root", "name": "admin"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodGet, "/users", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/users/me", barman, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), `"barman"`))

	rec = s.do(http.MethodDelete, "/auth/token", barman, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(http.MethodGet, "/users/me", barman, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
