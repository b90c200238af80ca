package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/geeky-vaiiib/BankEase/internal/apperr"
	"github.com/geeky-vaiiib/BankEase/internal/auth"
	"github.com/geeky-vaiiib/BankEase/internal/models"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// AccountKey is the context key for the authenticated account summary.
	AccountKey contextKey = "account"
	// requestInfoKey carries per-request details back out to RequestLogger.
	requestInfoKey contextKey = "request_info"
)

// ErrorWriter renders err as the response to r.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// TokenVerifier resolves a bearer token to the account it was issued for.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*models.AccountSummary, error)
}

// GetAccount extracts the authenticated account from the context.
// Returns nil if not found.
func GetAccount(ctx context.Context) *models.AccountSummary {
	account, _ := ctx.Value(AccountKey).(*models.AccountSummary)
	return account
}

// GetAccountID extracts the authenticated account ID from the context.
// Returns empty string if not found.
func GetAccountID(ctx context.Context) string {
	if account := GetAccount(ctx); account != nil {
		return account.ID
	}
	return ""
}

// WithAccount returns a copy of ctx carrying account.
func WithAccount(ctx context.Context, account *models.AccountSummary) context.Context {
	return context.WithValue(ctx, AccountKey, account)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", auth.ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", auth.ErrInvalidToken
	}
	return strings.TrimSpace(token), nil
}

// RequireAuth returns a middleware that validates bearer tokens and requires authentication.
// It extracts the token from the Authorization header, verifies it, and adds
// the account to the request context.
func RequireAuth(verifier TokenVerifier, onError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := BearerToken(r.Header.Get("Authorization"))
			if err != nil {
				onError(w, r, apperr.Wrap(apperr.KindInvalidToken, "Access denied. No valid token provided.", err))
				return
			}

			account, err := verifier.Verify(r.Context(), token)
			if err != nil {
				onError(w, r, err)
				return
			}

			if info, ok := r.Context().Value(requestInfoKey).(*requestInfo); ok {
				info.accountID = account.ID
			}

			// Call the next handler with enriched context
			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), account)))
		})
	}
}
