package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrTokenExpired signals a signing token past its hard expiry; the
	// signer must be re-invited.
	ErrTokenExpired = errors.New("token: signing token expired")
	// ErrTokenConsumed signals a signing token that was already used to enter
	// the signing flow.
	ErrTokenConsumed = errors.New("token: signing token already consumed")
	// ErrCodeExpired signals the OTP window elapsed (or no challenge exists);
	// the signer must request a new code.
	ErrCodeExpired = errors.New("token: verification code expired")
	// ErrAttemptsExceeded signals the attempt budget ran out; the signer must
	// request a new code.
	ErrAttemptsExceeded = errors.New("token: verification attempts exceeded")
)

// CooldownError rejects a resend request while the cooldown window is active,
// reporting the remaining wait so the UI can count it down.
type CooldownError struct {
	Wait time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("token: resend blocked for another %ds", int(e.Wait.Seconds()))
}

// MismatchError reports a wrong code with the guesses left on the budget.
type MismatchError struct {
	AttemptsRemaining int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("token: wrong verification code, %d attempts remaining", e.AttemptsRemaining)
}

// Mailer delivers verification codes. The transport is an external
// collaborator; this subsystem only hands it the rendered code.
type Mailer interface {
	SendVerificationCode(ctx context.Context, email, code string) error
}

const (
	defaultTokenTTLDays   = 7
	defaultOtpTTL         = 600 * time.Second
	defaultOtpAttempts    = 3
	defaultResendCooldown = 60 * time.Second
	sessionTTL            = 24 * time.Hour
)

// Service handles signing-token and OTP business logic.
type Service struct {
	repo           Repository
	mailer         Mailer
	jwtSecret      []byte
	tokenTTL       time.Duration
	otpTTL         time.Duration
	otpAttempts    int
	resendCooldown time.Duration
	now            func() time.Time
}

// NewService creates a token service. tokenTTLDays <= 0 selects the default
// 7-day invitation window.
func NewService(repo Repository, mailer Mailer, jwtSecret string, tokenTTLDays int) *Service {
	if tokenTTLDays <= 0 {
		tokenTTLDays = defaultTokenTTLDays
	}
	return &Service{
		repo:           repo,
		mailer:         mailer,
		jwtSecret:      []byte(jwtSecret),
		tokenTTL:       time.Duration(tokenTTLDays) * 24 * time.Hour,
		otpTTL:         defaultOtpTTL,
		otpAttempts:    defaultOtpAttempts,
		resendCooldown: defaultResendCooldown,
		now:            time.Now,
	}
}

// IssueSigningToken mints a fresh invitation token for a signature request.
// A value collision is retried once with new randomness.
func (s *Service) IssueSigningToken(ctx context.Context, signatureRequestID string) (SigningToken, error) {
	for attempt := 0; ; attempt++ {
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			return SigningToken{}, fmt.Errorf("token: generate signing token: %w", err)
		}

		tok := SigningToken{
			Token:              hex.EncodeToString(raw),
			SignatureRequestID: signatureRequestID,
			ExpiresAt:          s.now().Add(s.tokenTTL),
		}
		err := s.repo.InsertToken(ctx, tok)
		if err == nil {
			return tok, nil
		}
		if errors.Is(err, ErrTokenCollision) && attempt == 0 {
			continue
		}
		return SigningToken{}, err
	}
}

// ResolveSigningToken validates a token value: existence, then expiry. It does
// not consume the token; consumption happens once the signer is authenticated
// into the flow.
func (s *Service) ResolveSigningToken(ctx context.Context, value string) (SigningToken, error) {
	tok, err := s.repo.GetToken(ctx, value)
	if err != nil {
		return SigningToken{}, err
	}
	if tok.Expired(s.now()) {
		return SigningToken{}, ErrTokenExpired
	}
	return tok, nil
}

// ConsumeSigningToken marks the token used after the signer authenticates.
func (s *Service) ConsumeSigningToken(ctx context.Context, value string) error {
	tok, err := s.repo.GetToken(ctx, value)
	if err != nil {
		return err
	}
	if tok.ConsumedAt != nil {
		return ErrTokenConsumed
	}
	if tok.Expired(s.now()) {
		return ErrTokenExpired
	}
	return s.repo.ConsumeToken(ctx, value)
}

// SendCode issues a new OTP challenge for the signer, honoring the resend
// cooldown so a hostile client cannot email-bomb the signer.
func (s *Service) SendCode(ctx context.Context, signerEmail string) (SendCodeResult, error) {
	signerEmail = strings.ToLower(strings.TrimSpace(signerEmail))
	if signerEmail == "" {
		return SendCodeResult{}, fmt.Errorf("token: empty signer email")
	}

	existing, err := s.repo.GetChallenge(ctx, signerEmail)
	switch {
	case err == nil:
		if wait := s.resendCooldown - s.now().Sub(existing.LastSentAt); wait > 0 {
			return SendCodeResult{}, &CooldownError{Wait: wait}
		}
	case errors.Is(err, ErrChallengeNotFound):
		// first code for this signer
	default:
		return SendCodeResult{}, err
	}

	code, err := generateCode()
	if err != nil {
		return SendCodeResult{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return SendCodeResult{}, fmt.Errorf("token: hash code: %w", err)
	}

	if err := s.repo.UpsertChallenge(ctx, OtpChallenge{
		SignerEmail:       signerEmail,
		CodeHash:          string(hash),
		ExpiresAt:         s.now().Add(s.otpTTL),
		AttemptsRemaining: s.otpAttempts,
	}); err != nil {
		return SendCodeResult{}, err
	}

	if err := s.mailer.SendVerificationCode(ctx, signerEmail, code); err != nil {
		return SendCodeResult{}, fmt.Errorf("token: deliver code: %w", err)
	}

	return SendCodeResult{
		MaskedEmail:    MaskEmail(signerEmail),
		ExpiresSeconds: int(s.otpTTL.Seconds()),
	}, nil
}

// ValidateCode checks a submitted OTP. Every call consumes one attempt,
// correct or not. Expiry and an exhausted budget are distinct failures because
// the UI gives different guidance for each; both force a fresh challenge.
func (s *Service) ValidateCode(ctx context.Context, signatureRequestID, signerEmail, code string) (ValidateResult, error) {
	signerEmail = strings.ToLower(strings.TrimSpace(signerEmail))

	ch, err := s.repo.GetChallenge(ctx, signerEmail)
	if err != nil {
		if errors.Is(err, ErrChallengeNotFound) {
			return ValidateResult{}, ErrCodeExpired
		}
		return ValidateResult{}, err
	}
	if s.now().After(ch.ExpiresAt) {
		if err := s.repo.DeleteChallenge(ctx, signerEmail); err != nil {
			return ValidateResult{}, err
		}
		return ValidateResult{}, ErrCodeExpired
	}

	remaining, err := s.repo.ConsumeAttempt(ctx, signerEmail)
	if err != nil {
		if errors.Is(err, ErrChallengeNotFound) {
			// Budget already at zero; force re-issue.
			if derr := s.repo.DeleteChallenge(ctx, signerEmail); derr != nil {
				return ValidateResult{}, derr
			}
			return ValidateResult{}, ErrAttemptsExceeded
		}
		return ValidateResult{}, err
	}

	if bcrypt.CompareHashAndPassword([]byte(ch.CodeHash), []byte(code)) != nil {
		if remaining == 0 {
			if err := s.repo.DeleteChallenge(ctx, signerEmail); err != nil {
				return ValidateResult{}, err
			}
			return ValidateResult{}, ErrAttemptsExceeded
		}
		return ValidateResult{}, &MismatchError{AttemptsRemaining: remaining}
	}

	if err := s.repo.DeleteChallenge(ctx, signerEmail); err != nil {
		return ValidateResult{}, err
	}
	alreadyVerified, err := s.repo.MarkVerified(ctx, signatureRequestID)
	if err != nil {
		return ValidateResult{}, err
	}

	session, err := s.generateSession(signatureRequestID, signerEmail)
	if err != nil {
		return ValidateResult{}, err
	}
	return ValidateResult{SessionToken: session, AlreadyVerified: alreadyVerified}, nil
}

// VerifySession validates a signer session token and returns the signature
// request it authorizes.
func (s *Service) VerifySession(tokenString string) (string, error) {
	tok, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", fmt.Errorf("token: parse session: %w", err)
	}

	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok || !tok.Valid {
		return "", fmt.Errorf("token: invalid session")
	}
	requestID, ok := claims["signature_request_id"].(string)
	if !ok || requestID == "" {
		return "", fmt.Errorf("token: invalid signature_request_id in session")
	}
	return requestID, nil
}

func (s *Service) generateSession(signatureRequestID, signerEmail string) (string, error) {
	claims := jwt.MapClaims{
		"signature_request_id": signatureRequestID,
		"signer_email":         signerEmail,
		"exp":                  s.now().Add(sessionTTL).Unix(),
		"iat":                  s.now().Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("token: sign session: %w", err)
	}
	return signed, nil
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("token: generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// MaskEmail reveals at most the first two characters of the local part. The
// two-character cap is a deliberate privacy minimization, not a styling
// choice.
func MaskEmail(email string) string {
	at := strings.Index(email, "@")
	if at <= 0 {
		return "***"
	}
	local, domain := email[:at], email[at+1:]
	visible := local
	if len(visible) > 2 {
		visible = visible[:2]
	}
	return visible + "***@" + domain
}
