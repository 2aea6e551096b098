package models

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// tokenBytes is the amount of randomness behind a job token.
const tokenBytes = 64

// Token is the bearer credential minted for a job. Values of this type are
// redacted by the logger.
type Token string

// NewToken generates a hex encoded token from 64 random bytes.
func NewToken() (Token, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return Token(hex.EncodeToString(buf)), nil
}

// Equal compares two tokens in constant time.
func (t Token) Equal(other string) bool {
	return subtle.ConstantTimeCompare([]byte(t), []byte(other)) == 1
}
