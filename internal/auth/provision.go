package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/iers-platform/iers/internal/rbac"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 10

var (
	// ErrWeakPassword rejects passwords below MinPasswordLength or above bcrypt's input limit.
	ErrWeakPassword = errors.New("auth: password too weak")
	// ErrEmailTaken is returned when an account with the same email exists.
	ErrEmailTaken = errors.New("auth: email already registered")
	// ErrInvalidAccount rejects malformed emails and blank roles.
	ErrInvalidAccount = errors.New("auth: invalid account")
)

var accountValidator = validator.New()

// UserCreator persists new accounts.
type UserCreator interface {
	CreateUser(ctx context.Context, email, passwordHash, role string) (*User, error)
}

// HashPassword returns the bcrypt hash stored in users.password_hash.
func HashPassword(password string) (string, error) {
	if utf8.RuneCountInString(password) < MinPasswordLength || len(password) > 72 {
		return "", ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(hash), nil
}

// CreateUser validates and stores a new active account.
func CreateUser(ctx context.Context, repo UserCreator, email, password, role string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := accountValidator.Var(email, "required,email,max=254"); err != nil {
		return nil, fmt.Errorf("%w: email %q", ErrInvalidAccount, email)
	}
	role = rbac.NormalizeRole(role)
	if role == "" {
		return nil, fmt.Errorf("%w: role required", ErrInvalidAccount)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	return repo.CreateUser(ctx, email, hash, role)
}
