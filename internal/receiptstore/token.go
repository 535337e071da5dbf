package receiptstore

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// TokenBytes is the amount of randomness behind every receipt token (256 bits).
const TokenBytes = 32

// NewToken returns a fresh URL-safe token drawn from crypto/rand.
func NewToken() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func blobKey(token string) string {
	return "receipts/" + token
}
