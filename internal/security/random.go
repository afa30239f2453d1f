package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
)

// NewRandomString returns a URL-safe token built from n random bytes.
// Callers pass at least 16 bytes (128 bits) for security-bearing tokens.
func NewRandomString(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NewNumericCode returns a zero-padded numeric one-time code of the given
// number of digits, drawn from crypto/rand.
func NewNumericCode(digits int) (string, error) {
	if digits <= 0 || digits > 18 {
		return "", fmt.Errorf("invalid code length %d", digits)
	}
	bound := big.NewInt(1)
	for i := 0; i < digits; i++ {
		bound.Mul(bound, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

func NewCSRFToken() (string, error) {
	return NewRandomString(32)
}
