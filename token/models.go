package token

import "time"

// SigningToken authenticates one signer invitation. The value is 32 bytes of
// cryptographically secure randomness, hex encoded. Expired or consumed
// tokens require a fresh invitation; there is no renewal.
type SigningToken struct {
	Token              string
	SignatureRequestID string
	ExpiresAt          time.Time
	ConsumedAt         *time.Time
	CreatedAt          time.Time
}

// Expired reports whether the token is past its hard expiry.
func (t SigningToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// OtpChallenge is one outstanding email verification code. The code itself is
// stored only as a bcrypt hash. A challenge dies on success, on expiry, or
// when its attempt budget runs out.
type OtpChallenge struct {
	ID                string
	SignerEmail       string
	CodeHash          string
	ExpiresAt         time.Time
	AttemptsRemaining int
	LastSentAt        time.Time
}

// SendCodeResult is returned by SendCode for display to the signer.
type SendCodeResult struct {
	MaskedEmail    string
	ExpiresSeconds int
}

// ValidateResult is returned when a code checks out.
type ValidateResult struct {
	SessionToken    string
	AlreadyVerified bool
}
