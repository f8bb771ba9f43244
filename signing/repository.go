package signing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrRequestNotFound is returned when no signature request row exists for
	// the provided identifier.
	ErrRequestNotFound = errors.New("signing: signature request not found")
	// ErrSubscriptionNotFound signals the referenced subscription is absent.
	ErrSubscriptionNotFound = errors.New("signing: subscription not found")
	// ErrDocumentNotFound signals no document row matches the workflow run.
	ErrDocumentNotFound = errors.New("signing: document not found")
)

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// GetRequestForUpdate loads and row-locks one signature request inside the
// active transaction.
func (r *Repository) GetRequestForUpdate(ctx context.Context, tx pgx.Tx, id string) (SignatureRequest, error) {
	const q = `
SELECT id, document_type, deal_id::text, investor_id::text, subscription_id::text,
       member_id::text, signer_role, signer_email, status, workflow_run_id, signed_at
FROM signature_requests
WHERE id = $1
FOR UPDATE
`
	var req SignatureRequest
	err := tx.QueryRow(ctx, q, id).Scan(
		&req.ID,
		&req.DocumentType,
		&req.DealID,
		&req.InvestorID,
		&req.SubscriptionID,
		&req.MemberID,
		&req.SignerRole,
		&req.SignerEmail,
		&req.Status,
		&req.WorkflowRunID,
		&req.SignedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SignatureRequest{}, ErrRequestNotFound
		}
		return SignatureRequest{}, fmt.Errorf("signing: load request: %w", err)
	}
	return req, nil
}

// MarkSigned flips a request to signed, keeping the first signed_at on replay.
func (r *Repository) MarkSigned(ctx context.Context, tx pgx.Tx, id string) error {
	const q = `
UPDATE signature_requests
SET status = 'signed',
    signed_at = COALESCE(signed_at, now()),
    updated_at = now()
WHERE id = $1
`
	if _, err := tx.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("signing: mark signed: %w", err)
	}
	return nil
}

// CountNDARoles locks and aggregates the completion-gating rows of one NDA,
// scoped by deal and investor.
func (r *Repository) CountNDARoles(ctx context.Context, tx pgx.Tx, dealID, investorID string) (RoleCounts, error) {
	const q = `
SELECT status FROM signature_requests
WHERE document_type = 'nda'
  AND deal_id = $1
  AND investor_id = $2
  AND signer_role = ANY($3)
FOR UPDATE
`
	return r.countLocked(ctx, tx, q, dealID, investorID, roleNames())
}

// CountSubscriptionRoles locks and aggregates the gating rows of one
// subscription pack.
func (r *Repository) CountSubscriptionRoles(ctx context.Context, tx pgx.Tx, subscriptionID string) (RoleCounts, error) {
	const q = `
SELECT status FROM signature_requests
WHERE document_type = 'subscription'
  AND subscription_id = $1
  AND signer_role = ANY($2)
FOR UPDATE
`
	return r.countLocked(ctx, tx, q, subscriptionID, roleNames())
}

// CountWorkflowRunRoles aggregates the gating rows of a legacy request set
// keyed only by workflow run id.
func (r *Repository) CountWorkflowRunRoles(ctx context.Context, tx pgx.Tx, workflowRunID string) (RoleCounts, error) {
	const q = `
SELECT status FROM signature_requests
WHERE document_type = 'subscription'
  AND workflow_run_id = $1
  AND signer_role = ANY($2)
FOR UPDATE
`
	return r.countLocked(ctx, tx, q, workflowRunID, roleNames())
}

func (r *Repository) countLocked(ctx context.Context, tx pgx.Tx, query string, args ...any) (RoleCounts, error) {
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return RoleCounts{}, fmt.Errorf("signing: lock role rows: %w", err)
	}
	defer rows.Close()

	var counts RoleCounts
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return RoleCounts{}, fmt.Errorf("signing: scan role row: %w", err)
		}
		counts.Total++
		if status != StatusSigned {
			counts.Pending++
		}
	}
	if err := rows.Err(); err != nil {
		return RoleCounts{}, fmt.Errorf("signing: iterate role rows: %w", err)
	}
	return counts, nil
}

func roleNames() []string {
	names := make([]string, len(CompletionRoles))
	for i, role := range CompletionRoles {
		names[i] = string(role)
	}
	return names
}

// GetActiveSubscription finds a pending or committed subscription for the
// deal/investor pair. Its presence at NDA-completion time selects the Direct
// Subscribe product flow.
func (r *Repository) GetActiveSubscription(ctx context.Context, tx pgx.Tx, dealID, investorID string) (Subscription, error) {
	const q = `
SELECT id, deal_id::text, investor_id::text, document_id::text, status, signed_at, committed_at
FROM subscriptions
WHERE deal_id = $1
  AND investor_id = $2
  AND status IN ('pending','committed')
LIMIT 1
`
	return scanSubscription(tx.QueryRow(ctx, q, dealID, investorID))
}

// GetSubscriptionForUpdate loads and row-locks a subscription by id.
func (r *Repository) GetSubscriptionForUpdate(ctx context.Context, tx pgx.Tx, id string) (Subscription, error) {
	const q = `
SELECT id, deal_id::text, investor_id::text, document_id::text, status, signed_at, committed_at
FROM subscriptions
WHERE id = $1
FOR UPDATE
`
	return scanSubscription(tx.QueryRow(ctx, q, id))
}

// GetSubscriptionByDocumentForUpdate resolves the subscription linked to a
// legacy document record.
func (r *Repository) GetSubscriptionByDocumentForUpdate(ctx context.Context, tx pgx.Tx, documentID string) (Subscription, error) {
	const q = `
SELECT id, deal_id::text, investor_id::text, document_id::text, status, signed_at, committed_at
FROM subscriptions
WHERE document_id = $1
FOR UPDATE
`
	return scanSubscription(tx.QueryRow(ctx, q, documentID))
}

func scanSubscription(row pgx.Row) (Subscription, error) {
	var sub Subscription
	err := row.Scan(
		&sub.ID,
		&sub.DealID,
		&sub.InvestorID,
		&sub.DocumentID,
		&sub.Status,
		&sub.SignedAt,
		&sub.CommittedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Subscription{}, ErrSubscriptionNotFound
		}
		return Subscription{}, fmt.Errorf("signing: load subscription: %w", err)
	}
	return sub, nil
}

// CommitSubscription performs the terminal subscription transition. COALESCE
// keeps the first timestamps if a replay ever reaches this write.
func (r *Repository) CommitSubscription(ctx context.Context, tx pgx.Tx, id string) error {
	const q = `
UPDATE subscriptions
SET status = 'committed',
    signed_at = COALESCE(signed_at, now()),
    committed_at = COALESCE(committed_at, now()),
    updated_at = now()
WHERE id = $1
`
	if _, err := tx.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("signing: commit subscription: %w", err)
	}
	return nil
}

// StampMembershipNDASigned sets nda_signed_at once per membership. The
// returned flag reports whether this call performed the NULL->set transition,
// which gates the one-time notifications.
func (r *Repository) StampMembershipNDASigned(ctx context.Context, tx pgx.Tx, dealID, investorID string) (bool, error) {
	const q = `
UPDATE deal_memberships
SET nda_signed_at = now()
WHERE deal_id = $1
  AND investor_id = $2
  AND nda_signed_at IS NULL
`
	tag, err := tx.Exec(ctx, q, dealID, investorID)
	if err != nil {
		return false, fmt.Errorf("signing: stamp membership: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetRequestSignerEmail reads one request's signer email outside any
// transaction; the signer-facing OTP flow needs it before a session exists.
func (r *Repository) GetRequestSignerEmail(ctx context.Context, pool *pgxpool.Pool, id string) (string, error) {
	var email string
	err := pool.QueryRow(ctx, `SELECT signer_email FROM signature_requests WHERE id = $1`, id).Scan(&email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrRequestNotFound
		}
		return "", fmt.Errorf("signing: load signer email: %w", err)
	}
	return email, nil
}

// MarkDocumentSigned stamps the legacy document record for a workflow run and
// returns its id.
func (r *Repository) MarkDocumentSigned(ctx context.Context, tx pgx.Tx, workflowRunID string) (string, error) {
	const q = `
UPDATE documents
SET signed_at = COALESCE(signed_at, now())
WHERE workflow_run_id = $1
RETURNING id
`
	var id string
	if err := tx.QueryRow(ctx, q, workflowRunID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrDocumentNotFound
		}
		return "", fmt.Errorf("signing: mark document signed: %w", err)
	}
	return id, nil
}
