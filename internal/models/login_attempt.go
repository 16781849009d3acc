package models

import "time"

// LoginAttempt is one row in the append-only attempt ledger. Rows are never
// updated after insert; all reads are aggregates over a trailing window.
type LoginAttempt struct {
	ID                   string
	Username             string
	IPAddress            string
	UserAgent            string
	DeviceFingerprint    *string
	Success              bool
	RiskScore            int
	RiskFactors          string // comma-joined factor summary for audit
	CountryCode          *string
	City                 *string
	Proxy                bool
	VPN                  bool
	VerificationRequired bool
	VerificationMethod   *string // TOTP, EMAIL_OTP, BACKUP_CODE
	AttemptedAt          time.Time
}
