package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"dealflow/signing"
	"dealflow/token"
)

// CompletionDeliverer replays provider completion webhooks for a fixed set of
// signature requests, in random order and with duplicates, the way an
// at-least-once sender behaves under retries. Delivery errors are treated as
// transient (the chaos actor kills backends on purpose); correctness is judged
// by the oracles, not by individual delivery outcomes.
func CompletionDeliverer(ctx context.Context, svc *signing.Service, requestIDs []string, docType signing.DocumentType, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		id := requestIDs[rand.Intn(len(requestIDs))]
		_ = svc.HandleCompletion(ctx, signing.CompletionEvent{
			SignatureRequestID: id,
			DocumentType:       docType,
			Status:             signing.StatusSigned,
		})
		time.Sleep(time.Duration(5+rand.Intn(20)) * time.Millisecond)
	}
}

// NDAOnboarder continuously seeds fresh investors onto the deal and drives
// their two-signer NDA to completion, exercising the grant/notification path
// end to end while other actors churn the same tables.
func NDAOnboarder(ctx context.Context, pool *pgxpool.Pool, svc *signing.Service, dealID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		if err := onboardOne(ctx, pool, svc, dealID); err != nil && !errors.Is(err, context.Canceled) {
			// transient under chaos; next iteration starts clean
			time.Sleep(50 * time.Millisecond)
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}

func onboardOne(ctx context.Context, pool *pgxpool.Pool, svc *signing.Service, dealID string) error {
	var investorID, memberID string
	err := pool.QueryRow(ctx, `INSERT INTO investors (email, full_name) VALUES ($1, 'Stress Investor') RETURNING id`,
		fmt.Sprintf("inv%d@example.com", rand.Int63())).Scan(&investorID)
	if err != nil {
		return fmt.Errorf("onboard investor: %w", err)
	}
	if err := pool.QueryRow(ctx, `INSERT INTO deal_memberships (deal_id, investor_id) VALUES ($1, $2) RETURNING id`,
		dealID, investorID).Scan(&memberID); err != nil {
		return fmt.Errorf("onboard membership: %w", err)
	}

	ids := make([]string, 0, 2)
	for _, role := range signing.CompletionRoles {
		var reqID string
		if err := pool.QueryRow(ctx, `
INSERT INTO signature_requests (document_type, deal_id, investor_id, member_id, signer_role)
VALUES ('nda', $1, $2, $3, $4) RETURNING id
`, dealID, investorID, memberID, string(role)).Scan(&reqID); err != nil {
			return fmt.Errorf("onboard request: %w", err)
		}
		ids = append(ids, reqID)
	}

	// Deliver both completions, then replay one.
	for _, id := range append(ids, ids[rand.Intn(len(ids))]) {
		if err := svc.HandleCompletion(ctx, signing.CompletionEvent{
			SignatureRequestID: id, DocumentType: signing.DocumentNDA, Status: signing.StatusSigned,
		}); err != nil {
			return fmt.Errorf("onboard completion: %w", err)
		}
	}
	return nil
}

// OtpBruteforcer hammers the verification endpoint with wrong codes and
// re-requests challenges, verifying the attempt budget and resend cooldown
// hold under concurrency. Business rejections are the expected outcome here;
// infrastructure errors are treated as transient chaos fallout.
func OtpBruteforcer(ctx context.Context, svc *token.Service, requestID, email string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		_, _ = svc.SendCode(ctx, email)
		_, _ = svc.ValidateCode(ctx, requestID, email, fmt.Sprintf("%06d", rand.Intn(1_000_000)))
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}
