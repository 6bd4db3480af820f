package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword returns the bcrypt hash stored for a user.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// AdminProvisioner creates or resets the administrator account.
type AdminProvisioner interface {
	UpsertAdmin(ctx context.Context, username, passwordHash string) error
}

// ProvisionAdmin makes sure username exists as an admin with password.
func ProvisionAdmin(ctx context.Context, users AdminProvisioner, username, password string) error {
	if username == "" {
		return errors.New("admin username must not be empty")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	if err := users.UpsertAdmin(ctx, username, hash); err != nil {
		return fmt.Errorf("provision admin %q: %w", username, err)
	}
	return nil
}
