package services

import (
	"testing"

	"github.com/calder-ross/bastion/internal/config"
	"github.com/calder-ross/bastion/internal/models"
	"github.com/stretchr/testify/assert"
)

func thresholdService() *RiskService {
	return &RiskService{config: config.RiskConfig{
		LowThreshold:    30,
		MediumThreshold: 60,
		HighThreshold:   80,
	}}
}

func TestRiskLevel_StepFunction(t *testing.T) {
	svc := thresholdService()

	cases := []struct {
		score int
		level models.RiskLevel
	}{
		{0, models.RiskLevelLow},
		{30, models.RiskLevelLow},
		{31, models.RiskLevelMedium},
		{60, models.RiskLevelMedium},
		{61, models.RiskLevelHigh},
		{80, models.RiskLevelHigh},
		{81, models.RiskLevelCritical},
		{100, models.RiskLevelCritical},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.level, svc.riskLevel(tc.score), "score %d", tc.score)
	}
}

func TestRecommendedMethods_FollowThresholds(t *testing.T) {
	svc := thresholdService()
	plain := &models.User{Username: "alice"}
	withMFA := &models.User{Username: "bob", MFAEnabled: true}

	assert.Empty(t, svc.recommendedMethods(30, plain))

	assert.Equal(t, []string{models.VerificationMethodEmailOTP}, svc.recommendedMethods(31, plain))
	assert.Equal(t,
		[]string{models.VerificationMethodTOTP, models.VerificationMethodEmailOTP},
		svc.recommendedMethods(31, withMFA))

	assert.Equal(t,
		[]string{models.VerificationMethodEmailOTP, models.VerificationMethodSecurityQuestions},
		svc.recommendedMethods(61, plain))
	assert.Equal(t,
		[]string{models.VerificationMethodTOTP, models.VerificationMethodEmailOTP, models.VerificationMethodSecurityQuestions},
		svc.recommendedMethods(61, withMFA))
}
