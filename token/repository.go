package token

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrTokenNotFound signals no signing token row matches the value.
	ErrTokenNotFound = errors.New("token: signing token not found")
	// ErrChallengeNotFound signals no outstanding OTP challenge for the email.
	ErrChallengeNotFound = errors.New("token: otp challenge not found")
	// ErrTokenCollision signals the generated token value already exists.
	ErrTokenCollision = errors.New("token: signing token collision")
	// ErrRequestNotFound signals no signature request row matches the id.
	ErrRequestNotFound = errors.New("token: signature request not found")
)

// Repository handles data access for signing tokens and OTP challenges.
type Repository interface {
	InsertToken(ctx context.Context, tok SigningToken) error
	GetToken(ctx context.Context, value string) (SigningToken, error)
	ConsumeToken(ctx context.Context, value string) error

	GetChallenge(ctx context.Context, signerEmail string) (OtpChallenge, error)
	UpsertChallenge(ctx context.Context, ch OtpChallenge) error
	ConsumeAttempt(ctx context.Context, signerEmail string) (int, error)
	DeleteChallenge(ctx context.Context, signerEmail string) error

	MarkVerified(ctx context.Context, signatureRequestID string) (bool, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) InsertToken(ctx context.Context, tok SigningToken) error {
	const q = `
INSERT INTO signing_tokens (token, signature_request_id, expires_at)
VALUES ($1, $2, $3)
`
	if _, err := r.pool.Exec(ctx, q, tok.Token, tok.SignatureRequestID, tok.ExpiresAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrTokenCollision
		}
		return fmt.Errorf("token: insert signing token: %w", err)
	}
	return nil
}

func (r *PGRepository) GetToken(ctx context.Context, value string) (SigningToken, error) {
	const q = `
SELECT token, signature_request_id::text, expires_at, consumed_at, created_at
FROM signing_tokens
WHERE token = $1
`
	var tok SigningToken
	err := r.pool.QueryRow(ctx, q, value).Scan(&tok.Token, &tok.SignatureRequestID, &tok.ExpiresAt, &tok.ConsumedAt, &tok.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SigningToken{}, ErrTokenNotFound
		}
		return SigningToken{}, fmt.Errorf("token: get signing token: %w", err)
	}
	return tok, nil
}

func (r *PGRepository) ConsumeToken(ctx context.Context, value string) error {
	const q = `
UPDATE signing_tokens
SET consumed_at = COALESCE(consumed_at, now())
WHERE token = $1
`
	if _, err := r.pool.Exec(ctx, q, value); err != nil {
		return fmt.Errorf("token: consume signing token: %w", err)
	}
	return nil
}

func (r *PGRepository) GetChallenge(ctx context.Context, signerEmail string) (OtpChallenge, error) {
	const q = `
SELECT id, signer_email, code_hash, expires_at, attempts_remaining, last_sent_at
FROM otp_challenges
WHERE signer_email = $1
`
	var ch OtpChallenge
	err := r.pool.QueryRow(ctx, q, signerEmail).Scan(&ch.ID, &ch.SignerEmail, &ch.CodeHash, &ch.ExpiresAt, &ch.AttemptsRemaining, &ch.LastSentAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return OtpChallenge{}, ErrChallengeNotFound
		}
		return OtpChallenge{}, fmt.Errorf("token: get challenge: %w", err)
	}
	return ch, nil
}

// UpsertChallenge replaces any outstanding challenge for the email with a
// fresh code, expiry, and attempt budget.
func (r *PGRepository) UpsertChallenge(ctx context.Context, ch OtpChallenge) error {
	const q = `
INSERT INTO otp_challenges (signer_email, code_hash, expires_at, attempts_remaining, last_sent_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (signer_email)
DO UPDATE SET code_hash = EXCLUDED.code_hash,
              expires_at = EXCLUDED.expires_at,
              attempts_remaining = EXCLUDED.attempts_remaining,
              last_sent_at = now()
`
	if _, err := r.pool.Exec(ctx, q, ch.SignerEmail, ch.CodeHash, ch.ExpiresAt, ch.AttemptsRemaining); err != nil {
		return fmt.Errorf("token: upsert challenge: %w", err)
	}
	return nil
}

// ConsumeAttempt atomically decrements the attempt budget and returns the
// remaining count. ErrChallengeNotFound signals either no challenge or a
// budget already at zero; concurrent validators can never obtain more than
// the budgeted guesses.
func (r *PGRepository) ConsumeAttempt(ctx context.Context, signerEmail string) (int, error) {
	const q = `
UPDATE otp_challenges
SET attempts_remaining = attempts_remaining - 1
WHERE signer_email = $1
  AND attempts_remaining > 0
RETURNING attempts_remaining
`
	var remaining int
	err := r.pool.QueryRow(ctx, q, signerEmail).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrChallengeNotFound
		}
		return 0, fmt.Errorf("token: consume attempt: %w", err)
	}
	return remaining, nil
}

func (r *PGRepository) DeleteChallenge(ctx context.Context, signerEmail string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM otp_challenges WHERE signer_email = $1`, signerEmail); err != nil {
		return fmt.Errorf("token: delete challenge: %w", err)
	}
	return nil
}

// MarkVerified stamps identity_verified_at on the signature request. The
// returned flag reports whether the request was already verified. An id with
// no row is ErrRequestNotFound, never a replay.
func (r *PGRepository) MarkVerified(ctx context.Context, signatureRequestID string) (bool, error) {
	const q = `
UPDATE signature_requests
SET identity_verified_at = now(),
    updated_at = now()
WHERE id = $1
  AND identity_verified_at IS NULL
RETURNING id
`
	var id string
	err := r.pool.QueryRow(ctx, q, signatureRequestID).Scan(&id)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("token: mark verified: %w", err)
	}

	// No unverified row: either the stamp already landed or the request does
	// not exist at all.
	var exists bool
	const check = `SELECT EXISTS (SELECT 1 FROM signature_requests WHERE id = $1)`
	if err := r.pool.QueryRow(ctx, check, signatureRequestID).Scan(&exists); err != nil {
		return false, fmt.Errorf("token: mark verified: %w", err)
	}
	if !exists {
		return false, ErrRequestNotFound
	}
	return true, nil
}
