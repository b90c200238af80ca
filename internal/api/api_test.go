package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/geeky-vaiiib/BankEase/internal/auth"
	"github.com/geeky-vaiiib/BankEase/internal/metrics"
	"github.com/geeky-vaiiib/BankEase/internal/models"
	"github.com/geeky-vaiiib/BankEase/internal/money"
	"github.com/geeky-vaiiib/BankEase/internal/ratelimit"
	"github.com/geeky-vaiiib/BankEase/internal/service"
	"github.com/geeky-vaiiib/BankEase/internal/storage"
	"github.com/geeky-vaiiib/BankEase/internal/storage/memory"
)

// response mirrors envelope with raw data for per-test decoding.
type response struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Kind string `json:"kind"`
	} `json:"error"`
}

type testServer struct {
	*httptest.Server
	store   *memory.Store
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T, mutate func(*Options)) *testServer {
	t.Helper()

	store := memory.New(storage.WithStartingBalance(money.MustParse("1000")))
	logger := slog.New(slog.DiscardHandler)
	m := metrics.New()

	authSvc := service.NewAuthService(
		auth.NewPINAuthenticator(store, bcrypt.MinCost),
		auth.NewJWTManager("test-secret", time.Hour),
		store,
		logger,
	)

	opts := Options{
		Auth:      authSvc,
		Transfers: service.NewTransferService(store, logger, service.WithObserver(m)),
		Accounts:  service.NewAccountService(store, logger),
		Store:     store,
		Logger:    logger,
		Metrics:   m,
	}
	if mutate != nil {
		mutate(&opts)
	}

	srv := httptest.NewServer(NewRouter(opts))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: store, metrics: m}
}

// do sends a JSON request and checks the status code.
func (s *testServer) do(t *testing.T, method, path, token string, body any, wantCode int) response {
	t.Helper()
	return s.doWithHeaders(t, method, path, token, nil, body, wantCode)
}

func (s *testServer) doWithHeaders(t *testing.T, method, path, token string, headers map[string]string, body any, wantCode int) response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, wantCode, resp.StatusCode, "body: %s", raw)

	var out response
	require.NoError(t, json.Unmarshal(raw, &out), "body: %s", raw)
	return out
}

type userData struct {
	Token string `json:"token"`
	User  struct {
		ID      string  `json:"id"`
		Name    string  `json:"name"`
		Phone   string  `json:"phone"`
		Balance float64 `json:"balance"`
	} `json:"user"`
}

func (s *testServer) register(t *testing.T, name, phone string) userData {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": name, "phone": phone, "pin": "1234",
	}, http.StatusCreated)
	require.True(t, resp.Success)

	var data userData
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	return data
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), "data: %s", raw)
	return v
}

func requireError(t *testing.T, resp response, kind string) {
	t.Helper()
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, kind, resp.Error.Kind)
	assert.NotEmpty(t, resp.Message)
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t, nil)

	alice := s.register(t, "Alice", "5550001")
	assert.NotEmpty(t, alice.Token)
	assert.Equal(t, "Alice", alice.User.Name)
	assert.Equal(t, 1000.0, alice.User.Balance)

	resp := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Mallory", "phone": "5550001", "pin": "9999",
	}, http.StatusConflict)
	requireError(t, resp, "CONFLICT")

	resp = s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Bob", "phone": "5550002", "pin": "12",
	}, http.StatusBadRequest)
	requireError(t, resp, "INVALID_INPUT")

	resp = s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"phone": "5550001", "pin": "1234",
	}, http.StatusOK)
	login := decode[userData](t, resp.Data)
	assert.Equal(t, alice.User.ID, login.User.ID)

	resp = s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"phone": "5550001", "pin": "0000",
	}, http.StatusUnauthorized)
	requireError(t, resp, "INVALID_CREDENTIALS")

	resp = s.do(t, http.MethodGet, "/api/auth/verify", login.Token, nil, http.StatusOK)
	verified := decode[userData](t, resp.Data)
	assert.Equal(t, alice.User.ID, verified.User.ID)

	resp = s.do(t, http.MethodGet, "/api/auth/verify", "", nil, http.StatusUnauthorized)
	requireError(t, resp, "INVALID_TOKEN")

	resp = s.do(t, http.MethodGet, "/api/auth/verify", "garbage", nil, http.StatusUnauthorized)
	requireError(t, resp, "INVALID_TOKEN")
}

func TestMalformedBody(t *testing.T) {
	s := newTestServer(t, nil)

	resp := s.do(t, http.MethodPost, "/api/auth/register", "", "{not json", http.StatusBadRequest)
	requireError(t, resp, "INVALID_INPUT")
}

func TestTransferFlow(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.register(t, "Alice", "5550001")
	bob := s.register(t, "Bob", "5550002")

	resp := s.do(t, http.MethodPost, "/api/transactions/send", alice.Token, map[string]any{
		"to": "5550002", "amount": 250,
	}, http.StatusOK)
	assert.Equal(t, "Money sent successfully", resp.Message)

	sent := decode[struct {
		TransactionID string  `json:"transactionId"`
		Amount        float64 `json:"amount"`
		NewBalance    float64 `json:"newBalance"`
		Recipient     struct {
			Name  string `json:"name"`
			Phone string `json:"phone"`
		} `json:"recipient"`
	}](t, resp.Data)
	assert.NotEmpty(t, sent.TransactionID)
	assert.Equal(t, 250.0, sent.Amount)
	assert.Equal(t, 750.0, sent.NewBalance)
	assert.Equal(t, "Bob", sent.Recipient.Name)

	type balanceData struct {
		Balance float64 `json:"balance"`
		UserID  string  `json:"userId"`
	}
	resp = s.do(t, http.MethodGet, "/api/transactions/balance", bob.Token, nil, http.StatusOK)
	bb := decode[balanceData](t, resp.Data)
	assert.Equal(t, 1250.0, bb.Balance)
	assert.Equal(t, bob.User.ID, bb.UserID)

	// String amounts keep their exact decimal form.
	s.do(t, http.MethodPost, "/api/transactions/send", bob.Token, map[string]any{
		"to": "5550001", "amount": "0.10", "description": "coffee",
	}, http.StatusOK)

	type txView struct {
		TransactionID string  `json:"transactionId"`
		Type          string  `json:"type"`
		Amount        float64 `json:"amount"`
		To            string  `json:"to"`
		From          string  `json:"from"`
		Description   string  `json:"description"`
		Status        string  `json:"status"`
	}

	resp = s.do(t, http.MethodGet, "/api/transactions/recent", alice.Token, nil, http.StatusOK)
	recent := decode[struct {
		Transactions []txView `json:"transactions"`
	}](t, resp.Data)
	require.Len(t, recent.Transactions, 2)
	assert.Equal(t, "receive", recent.Transactions[0].Type)
	assert.Equal(t, "5550002", recent.Transactions[0].From)
	assert.Equal(t, "coffee", recent.Transactions[0].Description)
	assert.Equal(t, 0.1, recent.Transactions[0].Amount)
	assert.Equal(t, "send", recent.Transactions[1].Type)
	assert.Equal(t, "5550002", recent.Transactions[1].To)
	assert.Equal(t, "Sent to Bob", recent.Transactions[1].Description)
	assert.Equal(t, "completed", recent.Transactions[1].Status)

	resp = s.do(t, http.MethodGet, "/api/transactions/"+sent.TransactionID, bob.Token, nil, http.StatusOK)
	detail := decode[struct {
		Transaction txView `json:"transaction"`
	}](t, resp.Data)
	assert.Equal(t, "receive", detail.Transaction.Type)
	assert.Equal(t, "Received from Alice", detail.Transaction.Description)

	resp = s.do(t, http.MethodGet, "/api/transactions/does-not-exist", bob.Token, nil, http.StatusNotFound)
	requireError(t, resp, "NOT_FOUND")
}

func TestTransferErrors(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.register(t, "Alice", "5550001")
	s.register(t, "Bob", "5550002")

	tests := []struct {
		name     string
		body     map[string]any
		wantCode int
		wantKind string
	}{
		{"missing fields", map[string]any{"to": "5550002"}, http.StatusBadRequest, "INVALID_INPUT"},
		{"negative amount", map[string]any{"to": "5550002", "amount": -5}, http.StatusBadRequest, "INVALID_AMOUNT"},
		{"sub-cent amount", map[string]any{"to": "5550002", "amount": "0.001"}, http.StatusBadRequest, "INVALID_AMOUNT"},
		{"unknown recipient", map[string]any{"to": "5559999", "amount": 1}, http.StatusNotFound, "RECIPIENT_NOT_FOUND"},
		{"self transfer", map[string]any{"to": "5550001", "amount": 1}, http.StatusBadRequest, "SELF_TRANSFER"},
		{"insufficient funds", map[string]any{"to": "5550002", "amount": 1000.01}, http.StatusBadRequest, "INSUFFICIENT_FUNDS"},
		{"long description", map[string]any{"to": "5550002", "amount": 1, "description": strings.Repeat("x", 201)}, http.StatusBadRequest, "INVALID_INPUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.do(t, http.MethodPost, "/api/transactions/send", alice.Token, tt.body, tt.wantCode)
			requireError(t, resp, tt.wantKind)
		})
	}

	resp := s.do(t, http.MethodGet, "/api/transactions/balance", alice.Token, nil, http.StatusOK)
	assert.Equal(t, 1000.0, decode[struct {
		Balance float64 `json:"balance"`
	}](t, resp.Data).Balance)
}

func TestTransactionsRequireAuth(t *testing.T) {
	s := newTestServer(t, nil)

	for _, path := range []string{"/api/transactions/balance", "/api/transactions/recent", "/api/transactions/history", "/api/transactions/abc"} {
		resp := s.do(t, http.MethodGet, path, "", nil, http.StatusUnauthorized)
		requireError(t, resp, "INVALID_TOKEN")
	}
	resp := s.do(t, http.MethodPost, "/api/transactions/send", "", map[string]any{"to": "1", "amount": 1}, http.StatusUnauthorized)
	requireError(t, resp, "INVALID_TOKEN")
}

func TestHistoryPagination(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.register(t, "Alice", "5550001")
	s.register(t, "Bob", "5550002")

	for i := 1; i <= 12; i++ {
		s.do(t, http.MethodPost, "/api/transactions/send", alice.Token, map[string]any{
			"to": "5550002", "amount": i,
		}, http.StatusOK)
	}

	type page struct {
		Transactions []struct {
			Amount float64 `json:"amount"`
		} `json:"transactions"`
		Pagination struct {
			CurrentPage       int  `json:"currentPage"`
			TotalPages        int  `json:"totalPages"`
			TotalTransactions int  `json:"totalTransactions"`
			HasNextPage       bool `json:"hasNextPage"`
			HasPrevPage       bool `json:"hasPrevPage"`
		} `json:"pagination"`
	}

	resp := s.do(t, http.MethodGet, "/api/transactions/history", alice.Token, nil, http.StatusOK)
	first := decode[page](t, resp.Data)
	require.Len(t, first.Transactions, 10)
	assert.Equal(t, 12.0, first.Transactions[0].Amount, "newest first")
	assert.Equal(t, 1, first.Pagination.CurrentPage)
	assert.Equal(t, 2, first.Pagination.TotalPages)
	assert.Equal(t, 12, first.Pagination.TotalTransactions)
	assert.True(t, first.Pagination.HasNextPage)
	assert.False(t, first.Pagination.HasPrevPage)

	resp = s.do(t, http.MethodGet, "/api/transactions/history?page=2&limit=10", alice.Token, nil, http.StatusOK)
	second := decode[page](t, resp.Data)
	require.Len(t, second.Transactions, 2)
	assert.Equal(t, 1.0, second.Transactions[1].Amount)
	assert.False(t, second.Pagination.HasNextPage)
	assert.True(t, second.Pagination.HasPrevPage)

	for _, q := range []string{"page=0", "limit=0", "limit=101", "page=abc"} {
		resp = s.do(t, http.MethodGet, "/api/transactions/history?"+q, alice.Token, nil, http.StatusBadRequest)
		requireError(t, resp, "INVALID_INPUT")
	}
}

func TestConcurrentOverdrawOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.register(t, "Alice", "5550001")
	s.register(t, "Bob", "5550002")

	var wg sync.WaitGroup
	codes := make([]int, 2)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := strings.NewReader(`{"to":"5550002","amount":600}`)
			req, _ := http.NewRequest(http.MethodPost, s.URL+"/api/transactions/send", body)
			req.Header.Set("Authorization", "Bearer "+alice.Token)
			resp, err := s.Client().Do(req)
			if err != nil {
				return
			}
			codes[i] = resp.StatusCode
			resp.Body.Close()
		}(i)
	}
	wg.Wait()

	assert.ElementsMatch(t, []int{http.StatusOK, http.StatusBadRequest}, codes)

	resp := s.do(t, http.MethodGet, "/api/transactions/balance", alice.Token, nil, http.StatusOK)
	assert.Equal(t, 400.0, decode[struct {
		Balance float64 `json:"balance"`
	}](t, resp.Data).Balance)
}

func TestIdempotencyKeyHeader(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.register(t, "Alice", "5550001")
	s.register(t, "Bob", "5550002")

	headers := map[string]string{"Idempotency-Key": "order-42"}
	body := map[string]any{"to": "5550002", "amount": 100}

	first := s.doWithHeaders(t, http.MethodPost, "/api/transactions/send", alice.Token, headers, body, http.StatusOK)
	second := s.doWithHeaders(t, http.MethodPost, "/api/transactions/send", alice.Token, headers, body, http.StatusOK)

	type sendData struct {
		TransactionID string `json:"transactionId"`
		Replayed      bool   `json:"replayed"`
	}
	a, b := decode[sendData](t, first.Data), decode[sendData](t, second.Data)
	assert.Equal(t, a.TransactionID, b.TransactionID)
	assert.False(t, a.Replayed)
	assert.True(t, b.Replayed)

	body["amount"] = 5
	resp := s.doWithHeaders(t, http.MethodPost, "/api/transactions/send", alice.Token, headers, body, http.StatusConflict)
	requireError(t, resp, "CONFLICT")

	resp = s.do(t, http.MethodGet, "/api/transactions/balance", alice.Token, nil, http.StatusOK)
	assert.Equal(t, 900.0, decode[struct {
		Balance float64 `json:"balance"`
	}](t, resp.Data).Balance)
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, nil)

	resp := s.do(t, http.MethodGet, "/api/nope", "", nil, http.StatusNotFound)
	requireError(t, resp, "NOT_FOUND")

	resp = s.do(t, http.MethodGet, "/api/auth/login", "", nil, http.StatusMethodNotAllowed)
	assert.False(t, resp.Success)

	resp = s.do(t, http.MethodPost, "/api/transactions/balance", "", nil, http.StatusMethodNotAllowed)
	assert.False(t, resp.Success)

	// Authentication is checked only once the route and method match.
	resp = s.do(t, http.MethodGet, "/api/transactions/send", "", nil, http.StatusUnauthorized)
	requireError(t, resp, "INVALID_TOKEN")
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("database is down") }

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	resp, err := s.Client().Get(s.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	down := newTestServer(t, func(o *Options) { o.Store = failingPinger{} })
	resp, err = down.Client().Get(down.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "unavailable", body["store"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.register(t, "Alice", "5550001")
	s.register(t, "Bob", "5550002")
	s.do(t, http.MethodPost, "/api/transactions/send", alice.Token, map[string]any{"to": "5550002", "amount": 1}, http.StatusOK)

	resp, err := s.Client().Get(s.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	body := string(raw)
	assert.Contains(t, body, `bankease_transfers_total{outcome="completed"} 1`)
	assert.Contains(t, body, `route="/api/auth/register"`)
}

func TestAuthRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter, err := ratelimit.New(client, "auth", 2, time.Minute)
	require.NoError(t, err)

	s := newTestServer(t, func(o *Options) { o.AuthLimiter = limiter })

	body := map[string]string{"phone": "5550001", "pin": "1234"}
	for i := 0; i < 2; i++ {
		s.do(t, http.MethodPost, "/api/auth/login", "", body, http.StatusUnauthorized)
	}
	resp := s.do(t, http.MethodPost, "/api/auth/login", "", body, http.StatusTooManyRequests)
	requireError(t, resp, "RATE_LIMITED")
	assert.Equal(t, "Too many authentication attempts, please try again later.", resp.Message)

	// Transaction routes are not limited.
	s.do(t, http.MethodGet, "/api/transactions/balance", "", nil, http.StatusUnauthorized)
}

func TestAPIRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter, err := ratelimit.New(client, "api", 3, time.Minute)
	require.NoError(t, err)

	s := newTestServer(t, func(o *Options) { o.APILimiter = limiter })

	s.do(t, http.MethodGet, "/api/transactions/balance", "", nil, http.StatusUnauthorized)
	s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"phone": "5550001", "pin": "1234"}, http.StatusUnauthorized)
	s.do(t, http.MethodGet, "/api/nope", "", nil, http.StatusNotFound)

	resp := s.do(t, http.MethodGet, "/api/transactions/balance", "", nil, http.StatusTooManyRequests)
	requireError(t, resp, "RATE_LIMITED")
	assert.Equal(t, "Too many requests from this IP, please try again later.", resp.Message)
	assert.True(t, mr.Exists("ratelimit:api:127.0.0.1"))

	// Paths outside /api/ are not limited.
	health, err := s.Client().Get(s.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, func(o *Options) { o.CORSOrigins = []string{"http://localhost:8081"} })

	req, err := http.NewRequest(http.MethodOptions, s.URL+"/api/transactions/send", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:8081")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization, Idempotency-Key")

	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "http://localhost:8081", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestPanicRecovery(t *testing.T) {
	router := NewRouter(Options{
		Auth:   panicAuth{},
		Store:  failingPinger{},
		Logger: slog.New(slog.DiscardHandler),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"phone":"1","pin":"1234"}`)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// panicAuth panics on every call.
type panicAuth struct{}

func (panicAuth) Register(context.Context, service.RegisterRequest) (*service.AuthResult, error) {
	panic("register")
}

func (panicAuth) Login(context.Context, service.LoginRequest) (*service.AuthResult, error) {
	panic("login")
}

func (panicAuth) Verify(context.Context, string) (*models.AccountSummary, error) {
	panic("verify")
}
