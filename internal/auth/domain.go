// Package auth handles credential checks and login session records.
package auth

import "time"

// User is the credential view of an account.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
