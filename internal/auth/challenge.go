package auth

import (
	"fmt"
	"time"

	"github.com/calder-ross/bastion/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

// ChallengeManager issues and validates the short-lived signed token that
// carries ChallengeState between primary authentication and the secondary
// verification step. The state lives entirely in the token; the server keeps
// nothing between the two requests.
type ChallengeManager struct {
	secret []byte
	expiry time.Duration
}

type challengeClaims struct {
	Username    string              `json:"username"`
	RiskScore   int                 `json:"risk_score"`
	RiskLevel   string              `json:"risk_level"`
	RiskFactors []string            `json:"risk_factors"`
	Context     models.LoginContext `json:"context"`
	jwt.RegisteredClaims
}

// NewChallengeManager creates a new challenge token manager
func NewChallengeManager(secret string, expiry time.Duration) *ChallengeManager {
	return &ChallengeManager{
		secret: []byte(secret),
		expiry: expiry,
	}
}

// Issue signs a challenge token for the given state
func (cm *ChallengeManager) Issue(state models.ChallengeState) (string, error) {
	now := time.Now()
	claims := challengeClaims{
		Username:    state.Username,
		RiskScore:   state.RiskScore,
		RiskLevel:   string(state.RiskLevel),
		RiskFactors: state.RiskFactors,
		Context:     state.Context,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   state.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cm.expiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(cm.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign challenge token: %w", err)
	}

	return signed, nil
}

// Parse validates a challenge token and returns the embedded state.
// Expired or tampered tokens return ErrUnauthorized.
func (cm *ChallengeManager) Parse(tokenString string) (*models.ChallengeState, error) {
	token, err := jwt.ParseWithClaims(tokenString, &challengeClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return cm.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, models.ErrUnauthorized
	}

	claims, ok := token.Claims.(*challengeClaims)
	if !ok {
		return nil, models.ErrUnauthorized
	}

	return &models.ChallengeState{
		Username:    claims.Username,
		RiskScore:   claims.RiskScore,
		RiskLevel:   models.RiskLevel(claims.RiskLevel),
		RiskFactors: claims.RiskFactors,
		Context:     claims.Context,
	}, nil
}
