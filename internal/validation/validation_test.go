package validation

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateCity_Valid(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"shimla", "shimla"},
		{"  New Delhi  ", "New Delhi"},
		{"São Paulo", "São Paulo"},
		{"St. John's", "St. John's"},
		{"Winston-Salem, US", "Winston-Salem, US"},
		{"東京", "東京"},
		{"zzzzz123", "zzzzz123"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ValidateCity(tt.input, 100)
			if err != nil {
				t.Fatalf("ValidateCity(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ValidateCity(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidateCity_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		maxLen  int
		wantErr error
	}{
		{"empty", "", 100, ErrCityEmpty},
		{"whitespace", " \t ", 100, ErrCityEmpty},
		{"too long", strings.Repeat("a", 101), 100, ErrCityTooLong},
		{"too long in runes", strings.Repeat("é", 6), 5, ErrCityTooLong},
		{"slash", "sea/ttle", 100, ErrCityInvalidChars},
		{"angle brackets", "<script>", 100, ErrCityInvalidChars},
		{"semicolon", "paris;drop", 100, ErrCityInvalidChars},
		{"newline", "par\nis", 100, ErrCityInvalidChars},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateCity(tt.input, tt.maxLen)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateCity(%q) error = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateCity_NoMaxLen(t *testing.T) {
	if _, err := ValidateCity(strings.Repeat("a", 500), 0); err != nil {
		t.Errorf("ValidateCity() with maxLen 0 error = %v", err)
	}
}
