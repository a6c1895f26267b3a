package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/bher20/energybill/internal/auth"
	"github.com/bher20/energybill/internal/calculation"
	"github.com/bher20/energybill/internal/storage"
)

type brokenStore struct{ storage.Storage }

func (brokenStore) ListActiveRates(ctx context.Context) ([]storage.Rate, error) {
	return nil, errors.New("connection reset")
}

func (brokenStore) Ping(ctx context.Context) error { return errors.New("connection reset") }

func seeded(t *testing.T) *storage.MemoryStorage {
	t.Helper()
	ctx := context.Background()
	st := storage.NewMemory()
	require.NoError(t, st.UpsertHouse(ctx, storage.House{ID: "h1", Name: "Home"}))
	require.NoError(t, st.UpsertFlag(ctx, storage.Flag{
		ID: "green", Active: true,
		ConsumptionReference: decimal.RequireFromString("200"),
		AdditionalValue:      decimal.RequireFromString("0.20"),
	}))
	require.NoError(t, st.UpsertRate(ctx, storage.Rate{ID: "fx", Type: "FIXED", Value: decimal.RequireFromString("100"), Active: true}))
	require.NoError(t, st.UpsertRate(ctx, storage.Rate{ID: "kwh", Type: "CONSUMPTION", Value: decimal.RequireFromString("0.80"), Active: true}))
	require.NoError(t, st.UpsertRate(ctx, storage.Rate{ID: "tax", Type: "TAXATION", Value: decimal.RequireFromString("10"), Active: true}))
	return st
}

func newServer(t *testing.T, st storage.Storage, authSvc *auth.Service) *httptest.Server {
	t.Helper()
	mux := NewMux(calculation.NewService(st, zap.NewNop()), st, authSvc, zap.NewNop())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type envelope struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func do(t *testing.T, method, url, body string, header ...string) (*http.Response, envelope) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if len(header) == 2 {
		req.Header.Set(header[0], header[1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	}
	return resp, env
}

type calculationView struct {
	ID        string              `json:"id"`
	HouseID   string              `json:"houseId"`
	Value     decimal.NullDecimal `json:"value"`
	House     *storage.House      `json:"house"`
	LineItems []struct {
		RateID      string          `json:"rateId"`
		Value       decimal.Decimal `json:"value"`
		Description string          `json:"description"`
		Rate        *storage.Rate   `json:"rate"`
	} `json:"lineItems"`
}

func TestCreateAndGetCalculation(t *testing.T) {
	srv := newServer(t, seeded(t), nil)

	resp, env := do(t, http.MethodPost, srv.URL+"/api/v1/energy-calculations",
		`{"houseId":"h1","flagId":"green","date":"2024-04-30","consumption":250}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "energy calculation created", env.Message)

	var created calculationView
	require.NoError(t, json.Unmarshal(env.Data, &created))
	require.True(t, created.Value.Valid)
	assert.True(t, decimal.RequireFromString("310").Equal(created.Value.Decimal), "total %s", created.Value.Decimal)
	require.NotNil(t, created.House)
	assert.Equal(t, "Home", created.House.Name)
	require.Len(t, created.LineItems, 4)
	assert.Equal(t, "base-tariff consumption", created.LineItems[1].Description)
	require.NotNil(t, created.LineItems[3].Rate)
	assert.Equal(t, "TAXATION", created.LineItems[3].Rate.Type)

	resp, env = do(t, http.MethodGet, srv.URL+"/api/v1/energy-calculations/"+created.ID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got calculationView
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, created.ID, got.ID)
	assert.Len(t, got.LineItems, 4)
}

func TestCreateCalculation_ConsumptionAsString(t *testing.T) {
	srv := newServer(t, seeded(t), nil)
	resp, _ := do(t, http.MethodPost, srv.URL+"/api/v1/energy-calculations",
		`{"houseId":"h1","flagId":"green","consumption":"100.5"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestCreateCalculation_Errors(t *testing.T) {
	srv := newServer(t, seeded(t), nil)
	tests := []struct {
		name string
		body string
		code int
		err  string
	}{
		{"malformed json", `{"houseId":`, http.StatusBadRequest, "invalid_body"},
		{"unknown field", `{"houseId":"h1","flagId":"green","consumption":1,"extra":true}`, http.StatusBadRequest, "invalid_body"},
		{"missing consumption", `{"houseId":"h1","flagId":"green"}`, http.StatusBadRequest, "invalid_request"},
		{"bad date", `{"houseId":"h1","flagId":"green","consumption":1,"date":"April"}`, http.StatusBadRequest, "invalid_request"},
		{"negative consumption", `{"houseId":"h1","flagId":"green","consumption":-5}`, http.StatusBadRequest, "invalid_request"},
		{"missing flag id", `{"houseId":"h1","consumption":5}`, http.StatusBadRequest, "invalid_request"},
		{"unknown flag", `{"houseId":"h1","flagId":"purple","consumption":5}`, http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, env := do(t, http.MethodPost, srv.URL+"/api/v1/energy-calculations", tt.body)
			assert.Equal(t, tt.code, resp.StatusCode)
			assert.Equal(t, tt.err, env.Error)
		})
	}
}

func TestCreateCalculation_StoreFailureHidesCause(t *testing.T) {
	srv := newServer(t, brokenStore{seeded(t)}, nil)
	resp, env := do(t, http.MethodPost, srv.URL+"/api/v1/energy-calculations",
		`{"houseId":"h1","flagId":"green","consumption":5}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "internal", env.Error)
}

func TestGetCalculation_NotFound(t *testing.T) {
	srv := newServer(t, seeded(t), nil)
	resp, env := do(t, http.MethodGet, srv.URL+"/api/v1/energy-calculations/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", env.Error)
}

func TestListRates(t *testing.T) {
	srv := newServer(t, seeded(t), nil)
	resp, env := do(t, http.MethodGet, srv.URL+"/api/v1/rates", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rates []storage.Rate
	require.NoError(t, json.Unmarshal(env.Data, &rates))
	assert.Len(t, rates, 3)
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newServer(t, seeded(t), nil)
	resp, _ := do(t, http.MethodDelete, srv.URL+"/api/v1/rates", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealthEndpoints(t *testing.T) {
	srv := newServer(t, seeded(t), nil)
	for _, path := range []string{"/healthz", "/readyz", "/livez", "/metrics", "/docs/", "/docs/openapi.yaml"} {
		resp, _ := do(t, http.MethodGet, srv.URL+path, "")
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	broken := newServer(t, brokenStore{seeded(t)}, nil)
	resp, _ := do(t, http.MethodGet, broken.URL+"/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAuthEnabled(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("viewer-secret"), bcrypt.MinCost)
	require.NoError(t, err)
	authSvc, err := auth.NewService([]string{"dash:viewer:" + string(hash)})
	require.NoError(t, err)
	srv := newServer(t, seeded(t), authSvc)

	resp, _ := do(t, http.MethodGet, srv.URL+"/api/v1/rates", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/rates", "", "Authorization", "Bearer viewer-secret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/v1/energy-calculations",
		`{"houseId":"h1","flagId":"green","consumption":5}`, "Authorization", "Bearer viewer-secret")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// health stays open
	resp, _ = do(t, http.MethodGet, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
