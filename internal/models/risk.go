package models

// LoginContext captures the environment of a single login attempt. It is
// built once per submission and never mutated or persisted; only derived
// LoginAttempt rows are stored.
type LoginContext struct {
	IPAddress         string
	UserAgent         string
	DeviceFingerprint *string
	CountryCode       *string
	City              *string
	Proxy             bool
	VPN               bool
	HourOfDay         int // 0-23
	DayOfWeek         int // 0=Sunday .. 6=Saturday
}

// RiskLevel buckets a 0-100 risk score.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// Verification methods recommended to the caller after a risky primary
// authentication.
const (
	VerificationMethodTOTP              = "TOTP"
	VerificationMethodEmailOTP          = "EMAIL_OTP"
	VerificationMethodSecurityQuestions = "SECURITY_QUESTIONS"
	VerificationMethodBackupCode        = "BACKUP_CODE"
	VerificationMethodBlock             = "BLOCK"
)

// RiskDetails breaks the score down into its individual signals.
type RiskDetails struct {
	NewDevice               bool
	NewLocation             bool
	SuspiciousIP            bool
	UnusualTime             bool
	MultipleFailedAttempts  bool
	RapidLocationChange     bool
	RecentFailedAttempts    int
	DistinctIPCount         int
	DistinctCountries       []string
}

// RiskAssessmentResult is the output of a single risk evaluation. It is
// ephemeral; only the score and factor summary are folded into the recorded
// LoginAttempt. Factor strings are ordered by evaluation order so output is
// stable across runs with identical inputs.
type RiskAssessmentResult struct {
	RiskScore                      int
	RiskLevel                      RiskLevel
	RequiresAdditionalVerification bool
	RecommendedVerificationMethods []string
	RiskFactors                    []string
	RiskDetails                    RiskDetails
}

// ChallengeState is the explicit state passed between primary authentication
// and the secondary verification step. It is carried in a signed token issued
// to the caller, never in ambient session storage.
type ChallengeState struct {
	Username    string
	RiskScore   int
	RiskLevel   RiskLevel
	RiskFactors []string
	Context     LoginContext
}
