package money

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Amount
		wantErr error
	}{
		{name: "whole units", input: "250", want: 25000},
		{name: "one decimal", input: "250.5", want: 25050},
		{name: "two decimals", input: "250.50", want: 25050},
		{name: "trailing zeros beyond scale", input: "1.500", want: 150},
		{name: "minimum unit", input: "0.01", want: 1},
		{name: "surrounding whitespace", input: "  12.34 ", want: 1234},
		{name: "negative kept", input: "-5", want: -500},
		{name: "sub-cent precision", input: "0.001", wantErr: ErrPrecision},
		{name: "garbage", input: "abc", wantErr: ErrInvalid},
		{name: "empty", input: "", wantErr: ErrInvalid},
		{name: "overflow", input: "999999999999999999999", wantErr: ErrOverflow},
		{name: "exponent notation", input: "2.5e2", want: 25000},
		{name: "zero with huge exponent", input: "0e99999999", want: 0},
		{name: "huge positive exponent", input: "1e99999999", wantErr: ErrOverflow},
		{name: "huge negative exponent", input: "1e-99999999", wantErr: ErrPrecision},
		{name: "exponent just past int64", input: "1e19", wantErr: ErrOverflow},
		{name: "too long", input: "1" + strings.Repeat("0", 40), wantErr: ErrInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Parse(%q) error = %v, want %v", tt.input, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseExponentIsCheap(t *testing.T) {
	for _, input := range []string{"1e99999999", "9e2147483647", "1e-99999999", "-1e99999999"} {
		start := time.Now()
		if _, err := Parse(input); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", input)
		}
		if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
			t.Errorf("Parse(%q) took %v", input, elapsed)
		}
	}
}

func TestAmountString(t *testing.T) {
	if got := Amount(75000).String(); got != "750.00" {
		t.Errorf("String() = %s, want 750.00", got)
	}
	if got := Amount(5).String(); got != "0.05" {
		t.Errorf("String() = %s, want 0.05", got)
	}
}

func TestAmountJSON(t *testing.T) {
	var payload struct {
		A Amount `json:"a"`
		B Amount `json:"b"`
	}
	if err := json.Unmarshal([]byte(`{"a": 12.5, "b": "0.99"}`), &payload); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if payload.A != 1250 || payload.B != 99 {
		t.Fatalf("got a=%d b=%d", payload.A, payload.B)
	}

	out, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(out) != `{"a":12.50,"b":0.99}` {
		t.Errorf("Marshal = %s", out)
	}
}
