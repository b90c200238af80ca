// Package api serves the BankEase REST interface.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/geeky-vaiiib/BankEase/internal/apperr"
	"github.com/geeky-vaiiib/BankEase/internal/calculator"
	"github.com/geeky-vaiiib/BankEase/internal/middleware"
	"github.com/geeky-vaiiib/BankEase/internal/models"
	"github.com/geeky-vaiiib/BankEase/internal/money"
	"github.com/geeky-vaiiib/BankEase/internal/service"
)

// AuthService is the identity side of the API.
type AuthService interface {
	Register(ctx context.Context, req service.RegisterRequest) (*service.AuthResult, error)
	Login(ctx context.Context, req service.LoginRequest) (*service.AuthResult, error)
	Verify(ctx context.Context, token string) (*models.AccountSummary, error)
}

// TransferService moves money.
type TransferService interface {
	Transfer(ctx context.Context, req service.TransferRequest) (*service.TransferResult, error)
}

// AccountService answers balance and history queries.
type AccountService interface {
	Balance(ctx context.Context, accountID string) (*service.Balance, error)
	Recent(ctx context.Context, accountID string) ([]*models.TransactionRecord, error)
	History(ctx context.Context, accountID string, page, limit int) (*service.History, error)
	Transaction(ctx context.Context, accountID, transactionID string) (*models.TransactionRecord, error)
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type handler struct {
	auth      AuthService
	transfers TransferService
	accounts  AccountService
	store     Pinger
	logger    *slog.Logger
	writeErr  func(w http.ResponseWriter, r *http.Request, err error)
}

type authResponse struct {
	Token     string                `json:"token"`
	ExpiresAt time.Time             `json:"expiresAt"`
	User      models.AccountSummary `json:"user"`
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Phone string `json:"phone"`
		PIN   string `json:"pin"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}

	res, err := h.auth.Register(r.Context(), service.RegisterRequest{Name: req.Name, Phone: req.Phone, PIN: req.PIN})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeData(w, http.StatusCreated, "User registered successfully", authResponse{
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
		User:      res.User,
	})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone string `json:"phone"`
		PIN   string `json:"pin"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}

	res, err := h.auth.Login(r.Context(), service.LoginRequest{Phone: req.Phone, PIN: req.PIN})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeData(w, http.StatusOK, "Login successful", authResponse{
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
		User:      res.User,
	})
}

func (h *handler) verify(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, "", map[string]any{
		"user": middleware.GetAccount(r.Context()),
	})
}

func (h *handler) balance(w http.ResponseWriter, r *http.Request) {
	b, err := h.accounts.Balance(r.Context(), middleware.GetAccountID(r.Context()))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeData(w, http.StatusOK, "", map[string]any{
		"balance":     b.Balance,
		"userId":      b.AccountID,
		"lastUpdated": b.LastUpdated,
	})
}

type sendResponse struct {
	TransactionID string            `json:"transactionId"`
	Amount        money.Amount      `json:"amount"`
	Recipient     recipientResponse `json:"recipient"`
	NewBalance    money.Amount      `json:"newBalance"`
	Timestamp     time.Time         `json:"timestamp"`
	Replayed      bool              `json:"replayed,omitempty"`
}

type recipientResponse struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

func (h *handler) send(w http.ResponseWriter, r *http.Request) {
	var req struct {
		To          string       `json:"to"`
		Amount      textOrNumber `json:"amount"`
		Description string       `json:"description"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}

	res, err := h.transfers.Transfer(r.Context(), service.TransferRequest{
		SenderID:       middleware.GetAccountID(r.Context()),
		RecipientPhone: req.To,
		Amount:         string(req.Amount),
		Description:    req.Description,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	if res.Replayed {
		w.Header().Set("Idempotent-Replayed", "true")
	}
	writeData(w, http.StatusOK, "Money sent successfully", sendResponse{
		TransactionID: res.TransactionID,
		Amount:        res.Amount,
		Recipient:     recipientResponse{Name: res.Recipient.Name, Phone: res.Recipient.Phone},
		NewBalance:    res.NewBalance,
		Timestamp:     res.Timestamp,
		Replayed:      res.Replayed,
	})
}

func (h *handler) recent(w http.ResponseWriter, r *http.Request) {
	records, err := h.accounts.Recent(r.Context(), middleware.GetAccountID(r.Context()))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeData(w, http.StatusOK, "", map[string]any{
		"transactions": transactionViews(records),
	})
}

type paginationResponse struct {
	CurrentPage       int  `json:"currentPage"`
	TotalPages        int  `json:"totalPages"`
	TotalTransactions int  `json:"totalTransactions"`
	HasNextPage       bool `json:"hasNextPage"`
	HasPrevPage       bool `json:"hasPrevPage"`
}

func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, err := queryInt(query.Get("page"), calculator.DefaultPage, "page")
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	limit, err := queryInt(query.Get("limit"), calculator.DefaultLimit, "limit")
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	hist, err := h.accounts.History(r.Context(), middleware.GetAccountID(r.Context()), page, limit)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeData(w, http.StatusOK, "", map[string]any{
		"transactions": transactionViews(hist.Records),
		"pagination": paginationResponse{
			CurrentPage:       hist.Page.CurrentPage,
			TotalPages:        hist.Page.TotalPages,
			TotalTransactions: hist.Page.TotalItems,
			HasNextPage:       hist.Page.HasNextPage,
			HasPrevPage:       hist.Page.HasPrevPage,
		},
	})
}

func (h *handler) transaction(w http.ResponseWriter, r *http.Request) {
	record, err := h.accounts.Transaction(r.Context(), middleware.GetAccountID(r.Context()), mux.Vars(r)["transactionId"])
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeData(w, http.StatusOK, "", map[string]any{
		"transaction": newTransactionView(record),
	})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, storeState, code := "OK", "ok", http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("Health check failed", "error", err)
		status, storeState, code = "DEGRADED", "unavailable", http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"message":   "BankEase API is running",
		"store":     storeState,
		"timestamp": time.Now().UTC(),
	})
}

func (h *handler) notFound(w http.ResponseWriter, r *http.Request) {
	h.writeErr(w, r, apperr.New(apperr.KindNotFound, "API endpoint not found"))
}

func (h *handler) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, envelope{Success: false, Message: "method not allowed"})
}

func queryInt(raw string, fallback int, name string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInvalidInput, name+" must be an integer", err)
	}
	return n, nil
}
