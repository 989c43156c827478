package auth

import (
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/crypto/bcrypt"
)

const (
	AdminSubject = "admin"
	RoleAdmin    = "admin"
)

var (
	ErrAdminDisabled      = errors.New("auth: no admin password configured")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
)

// Admin holds the single administrator credential. Tokens carry the version
// current at login; Logout bumps it so earlier tokens stop validating.
type Admin struct {
	passwordHash []byte
	version      atomic.Int64
}

func NewAdmin(passwordHash string) *Admin {
	return &Admin{passwordHash: []byte(passwordHash)}
}

func (a *Admin) Enabled() bool { return len(a.passwordHash) > 0 }

// Check compares password against the configured bcrypt hash.
func (a *Admin) Check(password string) error {
	if !a.Enabled() {
		return ErrAdminDisabled
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

func (a *Admin) TokenVersion() int64 { return a.version.Load() }

func (a *Admin) Logout() { a.version.Add(1) }

// HashPassword returns the bcrypt hash to put in the auth config.
func HashPassword(password string) (string, error) {
	if len(password) < 8 || len(password) > 72 {
		return "", fmt.Errorf("password must be 8-72 chars")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
