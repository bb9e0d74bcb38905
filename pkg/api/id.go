package api

import (
	"crypto/rand"
	"math/big"
	"regexp"
)

const (
	tokenLength = 32
	charset     = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var csrfTokenPattern = regexp.MustCompile(`^[a-zA-Z0-9]{32}$`)

// NewCSRFToken generates 32 cryptographically random alphanumeric characters.
func NewCSRFToken() string {
	return randomAlphanumeric(tokenLength)
}

// ValidateCSRFToken checks whether the given string has the shape of a CSRF
// token. It says nothing about whether the token was ever issued.
func ValidateCSRFToken(token string) bool {
	return csrfTokenPattern.MatchString(token)
}

func randomAlphanumeric(n int) string {
	max := big.NewInt(int64(len(charset)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		b[i] = charset[idx.Int64()]
	}
	return string(b)
}
