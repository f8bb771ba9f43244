package signing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
)

// DefaultAccessWindow is how long a data-room grant issued on NDA completion
// stays valid.
const DefaultAccessWindow = 7 * 24 * time.Hour

// CompletionEvent is a provider completion notification normalized for the
// service, already authenticated by the webhook layer.
type CompletionEvent struct {
	SignatureRequestID string
	WorkflowRunID      string
	DocumentType       DocumentType
	Status             string
}

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// CompletionRepository defines the data access required by the service.
type CompletionRepository interface {
	GetRequestForUpdate(ctx context.Context, tx pgx.Tx, id string) (SignatureRequest, error)
	MarkSigned(ctx context.Context, tx pgx.Tx, id string) error
	CountNDARoles(ctx context.Context, tx pgx.Tx, dealID, investorID string) (RoleCounts, error)
	CountSubscriptionRoles(ctx context.Context, tx pgx.Tx, subscriptionID string) (RoleCounts, error)
	CountWorkflowRunRoles(ctx context.Context, tx pgx.Tx, workflowRunID string) (RoleCounts, error)
	GetActiveSubscription(ctx context.Context, tx pgx.Tx, dealID, investorID string) (Subscription, error)
	GetSubscriptionForUpdate(ctx context.Context, tx pgx.Tx, id string) (Subscription, error)
	GetSubscriptionByDocumentForUpdate(ctx context.Context, tx pgx.Tx, documentID string) (Subscription, error)
	CommitSubscription(ctx context.Context, tx pgx.Tx, id string) error
	StampMembershipNDASigned(ctx context.Context, tx pgx.Tx, dealID, investorID string) (bool, error)
	MarkDocumentSigned(ctx context.Context, tx pgx.Tx, workflowRunID string) (string, error)
}

// Notifier records a notification row inside the caller's transaction.
type Notifier interface {
	Insert(ctx context.Context, tx pgx.Tx, investorID string, kind string, payload map[string]any) error
}

// GrantStore upserts time-boxed data-room access.
type GrantStore interface {
	Upsert(ctx context.Context, tx pgx.Tx, dealID, investorID string, expiresAt time.Time) error
}

// Service is the signer completion state machine. A logical document has no
// stored "partially executed" state; completion is re-derived from all scoped
// rows on every update, which keeps the transition idempotent under
// at-least-once webhook delivery.
type Service struct {
	pool         TxBeginner
	repo         CompletionRepository
	notifier     Notifier
	grants       GrantStore
	accessWindow time.Duration
	now          func() time.Time
}

func NewService(pool TxBeginner, repo CompletionRepository, notifier Notifier, grants GrantStore) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{
		pool:         pool,
		repo:         repo,
		notifier:     notifier,
		grants:       grants,
		accessWindow: DefaultAccessWindow,
		now:          time.Now,
	}
}

// HandleCompletion applies one completion event. Benign absences (request,
// subscription, or document not found yet) return nil so the webhook sender
// does not retry-storm; real database failures propagate.
func (s *Service) HandleCompletion(ctx context.Context, evt CompletionEvent) error {
	if evt.SignatureRequestID == "" {
		return fmt.Errorf("signing: missing signature request id")
	}
	if evt.Status != StatusSigned {
		log.Printf("signing: ignoring completion event with status %q for request %s", evt.Status, evt.SignatureRequestID)
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("signing: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.repo.GetRequestForUpdate(ctx, tx, evt.SignatureRequestID)
	if err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			log.Printf("signing: request %s not found; accepting as no-op", evt.SignatureRequestID)
			return nil
		}
		return err
	}

	if err := s.repo.MarkSigned(ctx, tx, req.ID); err != nil {
		return err
	}

	switch req.DocumentType {
	case DocumentNDA:
		err = s.completeNDA(ctx, tx, req)
	case DocumentSubscription:
		err = s.completeSubscription(ctx, tx, req)
	default:
		log.Printf("signing: request %s has unknown document type %q", req.ID, req.DocumentType)
	}
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("signing: commit tx: %w", err)
	}
	return nil
}

// completeNDA re-evaluates the NDA's signer set and, on full execution,
// branches on the product flow: Direct Subscribe (a subscription already
// exists) only stamps the membership and nudges the signer toward the
// subscription pack; Interest additionally unlocks the data room for a
// limited window.
func (s *Service) completeNDA(ctx context.Context, tx pgx.Tx, req SignatureRequest) error {
	if req.DealID == nil || req.InvestorID == nil {
		log.Printf("signing: nda request %s missing deal or investor linkage", req.ID)
		return nil
	}
	dealID, investorID := *req.DealID, *req.InvestorID

	counts, err := s.repo.CountNDARoles(ctx, tx, dealID, investorID)
	if err != nil {
		return err
	}
	if !counts.FullyExecuted() {
		return nil
	}

	stamped, err := s.repo.StampMembershipNDASigned(ctx, tx, dealID, investorID)
	if err != nil {
		return err
	}

	sub, err := s.repo.GetActiveSubscription(ctx, tx, dealID, investorID)
	switch {
	case err == nil:
		// Direct Subscribe: the NDA alone does not unlock documents.
		if stamped {
			return s.notifier.Insert(ctx, tx, investorID, NotifyCompleteSubscriptionSigning, map[string]any{
				"deal_id":         dealID,
				"subscription_id": sub.ID,
			})
		}
		return nil
	case errors.Is(err, ErrSubscriptionNotFound):
		// Interest: grant time-boxed data-room access.
		if err := s.grants.Upsert(ctx, tx, dealID, investorID, s.now().Add(s.accessWindow)); err != nil {
			return err
		}
		if stamped {
			return s.notifier.Insert(ctx, tx, investorID, NotifyDataRoomUnlocked, map[string]any{
				"deal_id": dealID,
			})
		}
		return nil
	default:
		return err
	}
}

// completeSubscription resolves the completion route once, then re-evaluates
// the pack's signer set and commits the subscription. The commit itself is
// guarded by the persisted status, not just the aggregate predicate.
func (s *Service) completeSubscription(ctx context.Context, tx pgx.Tx, req SignatureRequest) error {
	route := resolveRoute(req)
	switch route.kind {
	case routeBySubscription:
		counts, err := s.repo.CountSubscriptionRoles(ctx, tx, route.subscriptionID)
		if err != nil {
			return err
		}
		if !counts.FullyExecuted() {
			return nil
		}
		sub, err := s.repo.GetSubscriptionForUpdate(ctx, tx, route.subscriptionID)
		if err != nil {
			if errors.Is(err, ErrSubscriptionNotFound) {
				log.Printf("signing: subscription %s not found; accepting as no-op", route.subscriptionID)
				return nil
			}
			return err
		}
		return s.commitSubscription(ctx, tx, sub)

	case routeByWorkflowRun:
		counts, err := s.repo.CountWorkflowRunRoles(ctx, tx, route.workflowRunID)
		if err != nil {
			return err
		}
		if !counts.FullyExecuted() {
			return nil
		}
		docID, err := s.repo.MarkDocumentSigned(ctx, tx, route.workflowRunID)
		if err != nil {
			if errors.Is(err, ErrDocumentNotFound) {
				log.Printf("signing: no document for workflow run %s; accepting as no-op", route.workflowRunID)
				return nil
			}
			return err
		}
		sub, err := s.repo.GetSubscriptionByDocumentForUpdate(ctx, tx, docID)
		if err != nil {
			if errors.Is(err, ErrSubscriptionNotFound) {
				log.Printf("signing: no subscription linked to document %s; accepting as no-op", docID)
				return nil
			}
			return err
		}
		return s.commitSubscription(ctx, tx, sub)

	default:
		log.Printf("signing: subscription request %s carries neither subscription id nor workflow run id", req.ID)
		return nil
	}
}

func (s *Service) commitSubscription(ctx context.Context, tx pgx.Tx, sub Subscription) error {
	if sub.Status == SubscriptionCommitted {
		// Already committed by an earlier delivery; never double-fire.
		return nil
	}
	if err := s.repo.CommitSubscription(ctx, tx, sub.ID); err != nil {
		return err
	}
	return s.notifier.Insert(ctx, tx, sub.InvestorID, NotifySubscriptionCommitted, map[string]any{
		"subscription_id": sub.ID,
		"deal_id":         sub.DealID,
	})
}
