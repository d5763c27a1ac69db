package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var errInvalidToken = errors.New("invalid token")

// Tokens signs and verifies ed25519 JWTs whose subject is a user id.
type Tokens struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	// Expire is the token lifetime; zero issues tokens without exp.
	Expire time.Duration
}

// ParseTokenExpireTime interprets TOKEN_EXPIRE_TIME values: "", "0" and
// "never" mean no expiry, anything else is a Go duration.
func ParseTokenExpireTime(v string) (time.Duration, error) {
	if v == "never" || v == "0" || v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("failed to parse token expire time: %w", err)
	}
	return d, nil
}

// NewTokens generates a fresh key pair at runtime. Tokens issued by one
// process are not valid in another.
func NewTokens(expire time.Duration) (*Tokens, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return &Tokens{privateKey: priv, publicKey: pub, Expire: expire}, nil
}

// LoadTokens reads the ed25519 key pair from disk. A missing private key is
// allowed: the result can then verify but not sign.
func LoadTokens(privatePath, publicPath string, expire time.Duration) (*Tokens, error) {
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}
	if len(publicKeyData) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key %s: want %d bytes, got %d", publicPath, ed25519.PublicKeySize, len(publicKeyData))
	}
	t := &Tokens{publicKey: ed25519.PublicKey(publicKeyData), Expire: expire}

	privateKeyData, err := os.ReadFile(privatePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return t, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	if len(privateKeyData) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key %s: want %d bytes, got %d", privatePath, ed25519.PrivateKeySize, len(privateKeyData))
	}
	t.privateKey = ed25519.PrivateKey(privateKeyData)
	return t, nil
}

// Create signs a token with "sub" = subject.
func (t *Tokens) Create(subject string) (string, error) {
	if t.privateKey == nil {
		return "", errors.New("no private key loaded")
	}
	claims := jwt.MapClaims{
		"sub": subject,
	}
	if t.Expire > 0 {
		claims["exp"] = time.Now().Add(t.Expire).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(t.privateKey)
}

// Verify checks the signature and expiry of tokenString and returns its
// subject.
func (t *Tokens) Verify(tokenString string) (string, error) {
	tok, err := jwt.Parse(tokenString, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.publicKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("jwt parse error: %w", err)
	}
	if !tok.Valid {
		return "", errInvalidToken
	}

	sub, err := tok.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("missing sub in jwt: %w", errInvalidToken)
	}
	return sub, nil
}
