package models

import "time"

// OtpPurpose tags what a one-time password may be used for. A code issued for
// one purpose never verifies for another.
type OtpPurpose string

const (
	OtpPurposeLogin             OtpPurpose = "LOGIN"
	OtpPurposePasswordReset     OtpPurpose = "PASSWORD_RESET"
	OtpPurposeEmailVerification OtpPurpose = "EMAIL_VERIFICATION"
)

// OneTimePassword is an emailed numeric code. Issuing a new code invalidates
// all prior unused codes for the same (user, purpose) pair.
type OneTimePassword struct {
	ID        string
	UserID    string
	Code      string
	Purpose   OtpPurpose
	Used      bool
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsValid is the derived validity predicate: unused and unexpired.
func (o *OneTimePassword) IsValid(now time.Time) bool {
	return !o.Used && now.Before(o.ExpiresAt)
}

// BackupCode is a single-use recovery code, stored as a bcrypt hash. The full
// set is replaced atomically on regeneration or MFA disable.
type BackupCode struct {
	ID        string
	UserID    string
	CodeHash  string
	Used      bool
	UsedAt    *time.Time
	CreatedAt time.Time
}
