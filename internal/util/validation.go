package util

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// ErrInvalidURL indicates that a URL failed validation.
var ErrInvalidURL = errors.New("invalid url")

// EnsureMaxRunes ensures a string is not longer than the provided rune
// count.
func EnsureMaxRunes(field, value string, max int) error {
	if max <= 0 {
		return nil
	}
	length := utf8.RuneCountInString(value)
	if length > max {
		return fmt.Errorf("%s exceeds maximum length of %d characters", field, max)
	}
	return nil
}

// ValidateHTTPURL ensures the provided string is a valid HTTP or HTTPS
// URL.
func ValidateHTTPURL(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%w: value is empty", ErrInvalidURL)
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: host is required", ErrInvalidURL)
	}

	return trimmed, nil
}
