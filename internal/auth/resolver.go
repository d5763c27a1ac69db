// Package auth resolves the credential of an authorization event into a
// user identity.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shampiniony/sightquest-server/internal/database"
	"github.com/shampiniony/sightquest-server/internal/models"
)

// ErrBadCredential means the credential does not identify a known user.
var ErrBadCredential = errors.New("bad credential")

// Resolver turns a client credential into a user.
type Resolver interface {
	Resolve(ctx context.Context, credential string) (*models.User, error)
}

// UserLookup is the part of the Snapshot Store a resolver needs.
type UserLookup interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

// UserIDResolver treats the credential as a raw numeric user id.
type UserIDResolver struct {
	users UserLookup
}

func NewUserIDResolver(users UserLookup) *UserIDResolver {
	return &UserIDResolver{users: users}
}

func (r *UserIDResolver) Resolve(ctx context.Context, credential string) (*models.User, error) {
	return lookup(ctx, r.users, credential)
}

// JWTResolver accepts a signed token whose subject is the user id.
type JWTResolver struct {
	users  UserLookup
	tokens *Tokens
}

func NewJWTResolver(users UserLookup, tokens *Tokens) *JWTResolver {
	return &JWTResolver{users: users, tokens: tokens}
}

func (r *JWTResolver) Resolve(ctx context.Context, credential string) (*models.User, error) {
	sub, err := r.tokens.Verify(credential)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadCredential, err)
	}
	return lookup(ctx, r.users, sub)
}

// lookup returns ErrBadCredential for ids that are malformed or unknown.
// Store outages are returned as is.
func lookup(ctx context.Context, users UserLookup, raw string) (*models.User, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("user id %q: %w", raw, ErrBadCredential)
	}
	u, err := users.GetUser(ctx, id)
	if database.IsNotFound(err) {
		return nil, fmt.Errorf("user %d: %w", id, ErrBadCredential)
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}
