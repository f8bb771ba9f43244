package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var (
	// ErrMissingSecret means the verifier was built without a shared secret;
	// deliveries cannot be authenticated and must not be processed.
	ErrMissingSecret = errors.New("webhook: signing secret not configured")
	// ErrMissingSignature means the delivery carried no signature header.
	ErrMissingSignature = errors.New("webhook: missing signature header")
	// ErrInvalidSignature means the signature does not match the body.
	ErrInvalidSignature = errors.New("webhook: invalid signature")
)

// Verifier authenticates webhook deliveries with HMAC-SHA256 over the raw
// request body.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Sign computes the hex-encoded HMAC-SHA256 of body under the shared secret.
func (v *Verifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a delivery signature against the raw body. Comparison is
// constant time.
func (v *Verifier) Verify(body []byte, signature string) error {
	if len(v.secret) == 0 {
		return ErrMissingSecret
	}
	if signature == "" {
		return ErrMissingSignature
	}
	expected := v.Sign(body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}
