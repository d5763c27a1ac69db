package game

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const secretBytes = 16

// NewSecret returns a fresh random player secret.
func NewSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
