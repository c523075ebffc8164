package session

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for a wrong username or password.
var ErrInvalidCredentials = errors.New("invalid username or password")

// Credentials is the single operator credential the console accepts.
type Credentials struct {
	username     string
	passwordHash []byte
}

// NewCredentials creates a credential from a username and a bcrypt hash.
func NewCredentials(username, passwordHash string) Credentials {
	return Credentials{username: username, passwordHash: []byte(passwordHash)}
}

// Check verifies username and password. The password hash is always
// compared so a wrong username costs the same as a wrong password.
func (c Credentials) Check(username, password string) error {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(c.username)) == 1
	hashErr := bcrypt.CompareHashAndPassword(c.passwordHash, []byte(password))
	if !userOK || hashErr != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// HashPassword returns a bcrypt hash for password, for provisioning config.
func HashPassword(password string, cost int) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
