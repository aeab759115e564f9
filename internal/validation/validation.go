package validation

import (
	"errors"
	"strings"
	"unicode"
)

var (
	// ErrCityEmpty is returned when the city is empty or whitespace-only after trim.
	ErrCityEmpty = errors.New("city is required")
	// ErrCityTooLong is returned when the city exceeds the maximum rune count.
	ErrCityTooLong = errors.New("city name too long")
	// ErrCityInvalidChars is returned when the city contains characters no place name uses.
	ErrCityInvalidChars = errors.New("city contains invalid characters")
)

// ValidateCity trims the input, enforces maxLen (in runes, ignored when <= 0),
// and allows letters, marks, digits, space, comma, hyphen, period and apostrophe.
// It returns the trimmed name.
func ValidateCity(input string, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", ErrCityEmpty
	}
	if maxLen > 0 && len([]rune(s)) > maxLen {
		return "", ErrCityTooLong
	}
	for _, r := range s {
		if !isAllowedCityRune(r) {
			return "", ErrCityInvalidChars
		}
	}
	return s, nil
}

func isAllowedCityRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsMark(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}
