package session

import (
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for any failed administrator login.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Admin holds the configured administrator account.
type Admin struct {
	email        string
	passwordHash []byte
}

// NewAdmin returns an Admin for email with a bcrypt passwordHash. An empty
// hash disables administrator login.
func NewAdmin(email, passwordHash string) *Admin {
	return &Admin{email: strings.ToLower(strings.TrimSpace(email)), passwordHash: []byte(passwordHash)}
}

// Enabled reports whether an administrator account is configured.
func (a *Admin) Enabled() bool {
	return a.email != "" && len(a.passwordHash) > 0
}

// Authenticate checks email and password.
func (a *Admin) Authenticate(email, password string) error {
	if !a.Enabled() {
		return ErrInvalidCredentials
	}
	given := strings.ToLower(strings.TrimSpace(email))
	emailOK := subtle.ConstantTimeCompare([]byte(given), []byte(a.email)) == 1
	// bcrypt runs even when the email does not match.
	pwErr := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password))
	if !emailOK || pwErr != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// HashPassword returns a bcrypt hash suitable for session.admin_password_hash.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
