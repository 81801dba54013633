package steps

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nodeforge/gatewayflow/pipeline"
	"github.com/nodeforge/gatewayflow/types"
)

// bridgeClaims is the JWT payload internal-channel bearer tokens carry:
// the subject is the user id, TokenVersion pins the token to the user
// row's token_version at issuance time so a password change or forced
// logout (which bumps the row) invalidates every token issued before it,
// independent of the token's own expiry.
type bridgeClaims struct {
	TokenVersion int `json:"token_version"`
	jwt.RegisteredClaims
}

// JWTAuthStep verifies the internal channel's bearer access token: valid
// HMAC signature, unexpired, and a token_version matching the current
// value on the user's row. Skipped entirely for the external channel,
// which authenticates via SignatureStep's HMAC request signing instead.
type JWTAuthStep struct {
	pipeline.BaseStep
	deps *Deps
}

func (s *JWTAuthStep) Name() string        { return "jwt_auth" }
func (s *JWTAuthStep) DependsOn() []string { return []string{"validation"} }

func (s *JWTAuthStep) Execute(ctx context.Context, wc *pipeline.Context) pipeline.StepResult {
	if wc.Channel != pipeline.ChannelInternal {
		return pipeline.StepResult{Status: pipeline.StatusSkipped}
	}

	raw, _ := wc.Get("validation", "bearer_token")
	tokenString, _ := raw.(string)
	if tokenString == "" {
		return s.reject(wc, "missing bearer token")
	}

	claims := &bridgeClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.deps.JWTSecret, nil
	})
	if err != nil || !token.Valid {
		return s.reject(wc, "invalid or expired bearer token")
	}

	userID := claims.Subject
	if userID == "" {
		return s.reject(wc, "bearer token missing subject")
	}

	if s.deps.TokenVersions != nil {
		current, err := s.deps.TokenVersions.TokenVersion(ctx, userID)
		if err != nil {
			return s.reject(wc, "unknown user")
		}
		if current != claims.TokenVersion {
			return s.reject(wc, "token revoked")
		}
	}

	wc.UserID = userID
	return pipeline.StepResult{Status: pipeline.StatusSuccess}
}

func (s *JWTAuthStep) reject(wc *pipeline.Context, reason string) pipeline.StepResult {
	wc.Fail(pipeline.ErrorSourceClient, types.ErrUnauthorized, reason)
	return pipeline.StepResult{Status: pipeline.StatusFailed, Message: reason}
}
