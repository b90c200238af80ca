package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/geeky-vaiiib/BankEase/internal/apperr"
)

const maxBodyBytes = 1 << 20

// envelope is the shape of every JSON response.
type envelope struct {
	Success bool       `json:"success"`
	Message string     `json:"message,omitempty"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Kind apperr.Kind `json:"kind"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidInput, apperr.KindInvalidAmount,
		apperr.KindInsufficientFunds, apperr.KindSelfTransfer:
		return http.StatusBadRequest
	case apperr.KindInvalidCredentials, apperr.KindInvalidToken:
		return http.StatusUnauthorized
	case apperr.KindNotFound, apperr.KindRecipientNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, code int, message string, data any) {
	writeJSON(w, code, envelope{Success: true, Message: message, Data: data})
}

// errorWriter returns a function that renders err with the status of its
// kind. Causes of internal errors are logged and never sent.
func errorWriter(logger *slog.Logger) func(w http.ResponseWriter, r *http.Request, err error) {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		kind := apperr.KindOf(err)
		if kind == apperr.KindInternal {
			logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		}
		writeJSON(w, statusFor(kind), envelope{
			Success: false,
			Message: apperr.MessageOf(err),
			Error:   &errorBody{Kind: kind},
		})
	}
}

// decodeJSON reads a JSON request body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperr.Wrap(apperr.KindInvalidInput, "Request body too large", err)
		}
		return apperr.Wrap(apperr.KindInvalidInput, "Request body must be valid JSON", err)
	}
	return nil
}

// textOrNumber accepts a JSON string or number and returns its text, so
// amounts keep their exact decimal form.
type textOrNumber string

func (t *textOrNumber) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*t = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = textOrNumber(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected a string or number: %w", err)
	}
	*t = textOrNumber(n)
	return nil
}
