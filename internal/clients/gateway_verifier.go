package clients

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrVerifierNotConfigured is returned when no gateway key secret is set
var ErrVerifierNotConfigured = errors.New("gateway key secret not configured")

// HMACVerifier checks gateway callbacks signed as
// hex(HMAC-SHA256(secret, gatewayOrderID + "|" + gatewayPaymentID))
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier creates a verifier for the gateway key secret
func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

// Sign returns the signature the gateway would send for the pair
func (v *HMACVerifier) Sign(gatewayOrderID, gatewayPaymentID string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(gatewayOrderID + "|" + gatewayPaymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is authentic
func (v *HMACVerifier) Verify(ctx context.Context, gatewayOrderID, gatewayPaymentID, signature string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if len(v.secret) == 0 {
		return false, ErrVerifierNotConfigured
	}

	expected := v.Sign(gatewayOrderID, gatewayPaymentID)
	return hmac.Equal([]byte(expected), []byte(signature)), nil
}
