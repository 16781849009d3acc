package models

import (
	"time"
)

type User struct {
	ID                  string
	Username            string
	Email               string
	PasswordHash        string // random hash for OAuth-only users
	FullName            string
	EmailVerified       bool
	Enabled             bool
	MFAEnabled          bool
	MFASecret           *string // base32 TOTP secret, set when MFA is enabled
	MFAEnrolledAt       *time.Time
	FailedLoginAttempts int
	LastFailedLoginAt   *time.Time
	AccountLocked       bool
	LockedAt            *time.Time
	LastLoginAt         *time.Time
	PasswordChangedAt   *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
