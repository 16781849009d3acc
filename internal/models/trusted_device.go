package models

import "time"

// TrustedDevice is a device fingerprint the user has opted to trust after a
// successful verification. At most one active row exists per
// (user, fingerprint) pair; expiry is checked lazily at read time.
type TrustedDevice struct {
	ID                string
	UserID            string
	DeviceFingerprint string
	DeviceName        string
	LastIPAddress     *string
	LastUserAgent     *string
	LastCountryCode   *string
	CreatedAt         time.Time
	LastUsedAt        time.Time
	TrustExpiresAt    time.Time
	Active            bool
}

// IsExpired reports whether the trust window has passed.
func (d *TrustedDevice) IsExpired(now time.Time) bool {
	return !now.Before(d.TrustExpiresAt)
}
