package auth_test

import (
	"testing"
	"time"

	"github.com/calder-ross/bastion/internal/auth"
	"github.com/calder-ross/bastion/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChallengeSecret = "0123456789abcdef0123456789abcdef"

func sampleState() models.ChallengeState {
	fp := "fp-42"
	country := "DE"
	return models.ChallengeState{
		Username:    "alice",
		RiskScore:   55,
		RiskLevel:   models.RiskLevelMedium,
		RiskFactors: []string{"access from a new device", "access at an unusual time of day"},
		Context: models.LoginContext{
			IPAddress:         "198.51.100.7",
			UserAgent:         "test-agent",
			DeviceFingerprint: &fp,
			CountryCode:       &country,
			HourOfDay:         3,
			DayOfWeek:         2,
		},
	}
}

func TestChallengeToken_RoundTrip(t *testing.T) {
	cm := auth.NewChallengeManager(testChallengeSecret, 5*time.Minute)

	token, err := cm.Issue(sampleState())
	require.NoError(t, err)
	require.NotEmpty(t, token)

	state, err := cm.Parse(token)
	require.NoError(t, err)

	assert.Equal(t, "alice", state.Username)
	assert.Equal(t, 55, state.RiskScore)
	assert.Equal(t, models.RiskLevelMedium, state.RiskLevel)
	assert.Equal(t, []string{"access from a new device", "access at an unusual time of day"}, state.RiskFactors)
	require.NotNil(t, state.Context.DeviceFingerprint)
	assert.Equal(t, "fp-42", *state.Context.DeviceFingerprint)
	require.NotNil(t, state.Context.CountryCode)
	assert.Equal(t, "DE", *state.Context.CountryCode)
	assert.Equal(t, 3, state.Context.HourOfDay)
}

func TestChallengeToken_ExpiredTokenRejected(t *testing.T) {
	cm := auth.NewChallengeManager(testChallengeSecret, -1*time.Minute)

	token, err := cm.Issue(sampleState())
	require.NoError(t, err)

	_, err = cm.Parse(token)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestChallengeToken_WrongSecretRejected(t *testing.T) {
	issuer := auth.NewChallengeManager(testChallengeSecret, 5*time.Minute)
	parser := auth.NewChallengeManager("ffffffffffffffffffffffffffffffff", 5*time.Minute)

	token, err := issuer.Issue(sampleState())
	require.NoError(t, err)

	_, err = parser.Parse(token)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestChallengeToken_GarbageRejected(t *testing.T) {
	cm := auth.NewChallengeManager(testChallengeSecret, 5*time.Minute)

	for _, token := range []string{"", "garbage", "a.b.c"} {
		_, err := cm.Parse(token)
		assert.ErrorIs(t, err, models.ErrUnauthorized, "token %q", token)
	}
}

func TestChallengeToken_TamperedPayloadRejected(t *testing.T) {
	cm := auth.NewChallengeManager(testChallengeSecret, 5*time.Minute)

	token, err := cm.Issue(sampleState())
	require.NoError(t, err)

	tampered := []byte(token)
	// Flip a character in the payload segment; the signature no longer matches.
	mid := len(tampered) / 2
	if tampered[mid] == 'A' {
		tampered[mid] = 'B'
	} else {
		tampered[mid] = 'A'
	}

	_, err = cm.Parse(string(tampered))
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}
