// Package auth verifies credentials and opens sessions carrying the actor's
// permission snapshot.
package auth

import (
	"errors"
	"time"
)

var (
	// ErrInvalidCredentials is returned for unknown users, wrong passwords and inactive accounts alike.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrUserNotFound is returned by repositories when no account matches.
	ErrUserNotFound = errors.New("auth: user not found")
)

// User represents an authenticated user account.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	Role         string
	IsActive     bool
	LastLoginAt  *time.Time
	CreatedAt    time.Time
}
