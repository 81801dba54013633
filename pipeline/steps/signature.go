package steps

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/nodeforge/gatewayflow/internal/cache"
	"github.com/nodeforge/gatewayflow/pipeline"
	"github.com/nodeforge/gatewayflow/types"
)

// An API key is blacklisted once signatureFailThreshold failures are counted
// within signatureFailWindow. Used nonces are remembered for the signature
// skew window, as long as a replayed request could still pass the
// timestamp check.
const signatureFailThreshold = 5
const signatureFailWindow = time.Minute

// SignatureStep verifies the external channel's HMAC signature over
// api_key || timestamp || nonce using the key's secret_hash, rejects
// replayed nonces and stale timestamps, and blacklists API keys that fail
// repeatedly within a rolling window.
type SignatureStep struct {
	pipeline.BaseStep
	deps *Deps
}

func (s *SignatureStep) Name() string        { return "signature" }
func (s *SignatureStep) DependsOn() []string { return []string{"validation"} }

func (s *SignatureStep) Execute(ctx context.Context, wc *pipeline.Context) pipeline.StepResult {
	if wc.Channel != pipeline.ChannelExternal {
		return pipeline.StepResult{Status: pipeline.StatusSkipped}
	}

	apiKeyID := wc.APIKeyID
	blacklistKey := cache.NamespacedKey("api_key_blacklist", apiKeyID)
	if blocked, _ := s.deps.Cache.Get(ctx, blacklistKey); blocked != "" {
		wc.Fail(pipeline.ErrorSourceClient, types.ErrUnauthorized, "api key temporarily blacklisted")
		return pipeline.StepResult{Status: pipeline.StatusFailed, Message: "blacklisted"}
	}

	sig, _ := wc.Get("validation", "signature")
	timestampRaw, _ := wc.Get("validation", "timestamp")
	nonce, _ := wc.Get("validation", "nonce")

	signature, _ := sig.(string)
	timestampStr, _ := timestampRaw.(string)
	nonceStr, _ := nonce.(string)

	if signature == "" || timestampStr == "" || nonceStr == "" {
		return s.reject(ctx, wc, "missing signature fields")
	}

	timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		return s.reject(ctx, wc, "malformed timestamp")
	}
	skew := s.deps.SignatureSkew
	if skew <= 0 {
		skew = 300
	}
	if abs(time.Now().Unix()-timestamp) > skew {
		return s.reject(ctx, wc, "timestamp outside allowed skew")
	}

	nonceKey := cache.NamespacedKey("signature_nonce", apiKeyID, nonceStr)
	if exists, _ := s.deps.Cache.Exists(ctx, nonceKey); exists > 0 {
		return s.reject(ctx, wc, "nonce already used")
	}

	secretHash, err := s.deps.APIKeys.SecretHash(ctx, apiKeyID)
	if err != nil {
		return s.reject(ctx, wc, "unknown api key")
	}

	expected := computeSignature(secretHash, apiKeyID, timestampStr, nonceStr)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return s.reject(ctx, wc, "signature mismatch")
	}

	_ = s.deps.Cache.Set(ctx, nonceKey, "1", time.Duration(skew)*time.Second)
	return pipeline.StepResult{Status: pipeline.StatusSuccess}
}

// reject records a signature failure against the rolling per-key counter
// and blacklists the key once the threshold is crossed, then fails the
// context with UNAUTHORIZED.
func (s *SignatureStep) reject(ctx context.Context, wc *pipeline.Context, reason string) pipeline.StepResult {
	failKey := cache.NamespacedKey("signature_fail", wc.APIKeyID)
	count := s.incrementFailureCount(ctx, failKey)
	if count >= signatureFailThreshold {
		blacklistKey := cache.NamespacedKey("api_key_blacklist", wc.APIKeyID)
		_ = s.deps.Cache.Set(ctx, blacklistKey, "1", 10*time.Minute)
	}

	wc.Fail(pipeline.ErrorSourceClient, types.ErrUnauthorized, reason)
	return pipeline.StepResult{Status: pipeline.StatusFailed, Message: reason}
}

func (s *SignatureStep) incrementFailureCount(ctx context.Context, key string) int {
	current, _ := s.deps.Cache.Get(ctx, key)
	count := 0
	if current != "" {
		count, _ = strconv.Atoi(current)
	}
	count++
	_ = s.deps.Cache.Set(ctx, key, strconv.Itoa(count), signatureFailWindow)
	return count
}

func computeSignature(secretHash, apiKeyID, timestamp, nonce string) string {
	mac := hmac.New(sha256.New, []byte(secretHash))
	mac.Write([]byte(fmt.Sprintf("%s%s%s", apiKeyID, timestamp, nonce)))
	return hex.EncodeToString(mac.Sum(nil))
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
