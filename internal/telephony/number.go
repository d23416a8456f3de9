package telephony

import (
	"errors"
	"strings"
)

var ErrInvalidNumber = errors.New("telephony: invalid phone number")

// NormalizeNumber strips common separators ("+49 30 / 123-45") and keeps an
// optional leading '+'. It does not validate country codes.
func NormalizeNumber(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidNumber
	}

	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '/' || r == '(' || r == ')' || r == '.':
		default:
			return "", ErrInvalidNumber
		}
	}

	out := b.String()
	digits := strings.TrimPrefix(out, "+")
	if len(digits) < 3 || len(digits) > 15 {
		return "", ErrInvalidNumber
	}
	return out, nil
}
