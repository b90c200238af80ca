package service

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/geeky-vaiiib/BankEase/internal/apperr"
	"github.com/geeky-vaiiib/BankEase/internal/auth"
	"github.com/geeky-vaiiib/BankEase/internal/models"
	"github.com/geeky-vaiiib/BankEase/internal/storage"
)

const (
	minNameLength = 2
	maxNameLength = 50
)

var phonePattern = regexp.MustCompile(`^\+?[\d\s\-()]+$`)

// AccountReader resolves accounts by id.
type AccountReader interface {
	GetAccountByID(ctx context.Context, id string) (*models.Account, error)
}

// RegisterRequest carries the fields of a registration.
type RegisterRequest struct {
	Name  string
	Phone string
	PIN   string
}

// LoginRequest carries the fields of a login.
type LoginRequest struct {
	Phone string
	PIN   string
}

// AuthResult is an issued credential and the account it belongs to.
type AuthResult struct {
	Token     string
	ExpiresAt time.Time
	User      models.AccountSummary
}

// AuthService registers accounts, logs them in and verifies their tokens.
type AuthService struct {
	authenticator auth.Authenticator
	jwtManager    *auth.JWTManager
	accounts      AccountReader
	logger        *slog.Logger
}

// NewAuthService creates a new authentication service.
func NewAuthService(authenticator auth.Authenticator, jwtManager *auth.JWTManager, accounts AccountReader, logger *slog.Logger) *AuthService {
	return &AuthService{
		authenticator: authenticator,
		jwtManager:    jwtManager,
		accounts:      accounts,
		logger:        logger,
	}
}

// Register creates a new account and issues its first token.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*AuthResult, error) {
	name := strings.TrimSpace(req.Name)
	phone := strings.TrimSpace(req.Phone)
	s.logger.Info("Register request", "phone", phone)

	// Validate input
	if name == "" || phone == "" || req.PIN == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "Please provide name, phone, and PIN")
	}
	if n := utf8.RuneCountInString(name); n < minNameLength || n > maxNameLength {
		return nil, apperr.New(apperr.KindInvalidInput, "Name must be between 2 and 50 characters long")
	}
	if !phonePattern.MatchString(phone) {
		return nil, apperr.New(apperr.KindInvalidInput, "Please provide a valid phone number")
	}
	if err := s.authenticator.ValidateCredential(req.PIN); err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidInput, "PIN must be exactly 4 digits", err)
	}

	account, err := s.authenticator.Register(ctx, name, phone, req.PIN)
	if err != nil {
		if errors.Is(err, auth.ErrPhoneExists) {
			s.logger.Warn("Registration rejected", "phone", phone, "reason", "phone exists")
			return nil, apperr.Wrap(apperr.KindConflict, "User with this phone number already exists", err)
		}
		if errors.Is(err, auth.ErrInvalidPIN) {
			return nil, apperr.Wrap(apperr.KindInvalidInput, "PIN must be exactly 4 digits", err)
		}
		s.logger.Error("Registration failed", "phone", phone, "error", err)
		return nil, apperr.Internal(err)
	}

	result, err := s.issue(account)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Account registered successfully", "account_id", account.ID)
	return result, nil
}

// Login authenticates an account by phone and PIN and issues a token.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*AuthResult, error) {
	phone := strings.TrimSpace(req.Phone)
	s.logger.Info("Login request", "phone", phone)

	// Validate input
	if phone == "" || req.PIN == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "Please provide phone and PIN")
	}

	account, err := s.authenticator.Authenticate(ctx, phone, req.PIN)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.logger.Warn("Login failed", "phone", phone)
			return nil, apperr.Wrap(apperr.KindInvalidCredentials, "Invalid phone number or PIN", err)
		}
		s.logger.Error("Login failed", "phone", phone, "error", err)
		return nil, apperr.Internal(err)
	}

	result, err := s.issue(account)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Account logged in successfully", "account_id", account.ID)
	return result, nil
}

// Verify checks a bearer token and returns the account it names.
// The account must still exist.
func (s *AuthService) Verify(ctx context.Context, token string) (*models.AccountSummary, error) {
	if token == "" {
		return nil, apperr.Wrap(apperr.KindInvalidToken, "Access denied. No valid token provided.", auth.ErrMissingToken)
	}

	claims, err := s.jwtManager.Validate(token)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidToken, "Invalid or expired token", err)
	}

	account, err := s.accounts.GetAccountByID(ctx, claims.AccountID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Wrap(apperr.KindInvalidToken, "Invalid token. User not found.", err)
	}
	if err != nil {
		s.logger.Error("Token account lookup failed", "account_id", claims.AccountID, "error", err)
		return nil, apperr.Internal(err)
	}

	summary := account.Summary()
	return &summary, nil
}

func (s *AuthService) issue(account *models.Account) (*AuthResult, error) {
	cred, err := s.jwtManager.Generate(account)
	if err != nil {
		s.logger.Error("Failed to generate token", "account_id", account.ID, "error", err)
		return nil, apperr.Internal(err)
	}
	return &AuthResult{
		Token:     cred.Token,
		ExpiresAt: cred.ExpiresAt,
		User:      account.Summary(),
	}, nil
}
