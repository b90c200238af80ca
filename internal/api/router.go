package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/geeky-vaiiib/BankEase/internal/metrics"
	"github.com/geeky-vaiiib/BankEase/internal/middleware"
)

// Options are the dependencies of the HTTP surface.
type Options struct {
	Auth      AuthService
	Transfers TransferService
	Accounts  AccountService
	Store     Pinger
	Logger    *slog.Logger

	// Metrics may be nil, which disables /metrics and request instrumentation.
	Metrics *metrics.Metrics
	// APILimiter may be nil, which disables rate limiting of /api/.
	APILimiter middleware.Limiter
	// AuthLimiter may be nil, which disables the stricter limit on /api/auth.
	AuthLimiter middleware.Limiter

	// CORSOrigins defaults to any origin when empty.
	CORSOrigins []string
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	TrustProxy bool
}

const (
	apiRateLimitMessage  = "Too many requests from this IP, please try again later."
	authRateLimitMessage = "Too many authentication attempts, please try again later."
)

// NewRouter builds the full handler chain.
//
//	POST /api/auth/register
//	POST /api/auth/login
//	GET  /api/auth/verify                     (bearer)
//	GET  /api/transactions/balance            (bearer)
//	POST /api/transactions/send               (bearer, Idempotency-Key)
//	GET  /api/transactions/recent             (bearer)
//	GET  /api/transactions/history            (bearer, ?page&limit)
//	GET  /api/transactions/{transactionId}    (bearer)
//	GET  /health
//	GET  /metrics
func NewRouter(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &handler{
		auth:      opts.Auth,
		transfers: opts.Transfers,
		accounts:  opts.Accounts,
		store:     opts.Store,
		logger:    logger,
		writeErr:  errorWriter(logger),
	}
	requireAuth := middleware.RequireAuth(opts.Auth, h.writeErr)

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(h.notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(h.methodNotAllowed)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler()).Methods(http.MethodGet)
	}

	var authChain []func(http.Handler) http.Handler
	if opts.AuthLimiter != nil {
		authChain = append(authChain, middleware.RateLimit(opts.AuthLimiter, authRateLimitMessage, opts.Metrics, logger, h.writeErr))
	}
	r.Handle("/api/auth/register", with(h.register, authChain...)).Methods(http.MethodPost)
	r.Handle("/api/auth/login", with(h.login, authChain...)).Methods(http.MethodPost)
	r.Handle("/api/auth/verify", with(h.verify, append(authChain, requireAuth)...)).Methods(http.MethodGet)

	r.Handle("/api/transactions/balance", with(h.balance, requireAuth)).Methods(http.MethodGet)
	r.Handle("/api/transactions/send", with(h.send, requireAuth)).Methods(http.MethodPost)
	r.Handle("/api/transactions/recent", with(h.recent, requireAuth)).Methods(http.MethodGet)
	r.Handle("/api/transactions/history", with(h.history, requireAuth)).Methods(http.MethodGet)
	r.Handle("/api/transactions/{transactionId}", with(h.transaction, requireAuth)).Methods(http.MethodGet)

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	var chain http.Handler = r
	if opts.APILimiter != nil {
		chain = limitPrefix("/api/", middleware.RateLimit(opts.APILimiter, apiRateLimitMessage, opts.Metrics, logger, h.writeErr))(chain)
	}
	chain = handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type", "Idempotency-Key"}),
		handlers.ExposedHeaders([]string{"Idempotent-Replayed", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"}),
	)(chain)
	chain = middleware.RequestLogger(logger)(chain)
	chain = handlers.RecoveryHandler(
		handlers.RecoveryLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError)),
		handlers.PrintRecoveryStack(true),
	)(chain)
	if opts.TrustProxy {
		chain = handlers.ProxyHeaders(chain)
	}

	return chain
}

// with wraps h in mws, the first being outermost.
func with(h http.HandlerFunc, mws ...func(http.Handler) http.Handler) http.Handler {
	var out http.Handler = h
	for i := len(mws) - 1; i >= 0; i-- {
		out = mws[i](out)
	}
	return out
}

// limitPrefix applies mw only to requests whose path starts with prefix,
// matched or not.
func limitPrefix(prefix string, mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		limited := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, prefix) {
				limited.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
