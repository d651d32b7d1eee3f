package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/warp/access-engine/access"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for an unknown email or a wrong password.
// The two cases are not distinguished.
var ErrInvalidCredentials = errors.New("invalid email or password")

// Authenticator verifies passwords against the user directory.
type Authenticator struct {
	Users access.UserRepository
}

// Authenticate returns the user whose email and password match.
func (a Authenticator) Authenticate(ctx context.Context, email, password string) (*access.User, error) {
	user, err := a.Users.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil || user.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	return user, nil
}
