package signing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func newTestService(repo *fakeRepo) (*Service, *fakePool, *fakeNotifier, *fakeGrants) {
	pool := &fakePool{}
	notifier := &fakeNotifier{}
	grants := &fakeGrants{}
	svc := NewService(pool, repo, notifier, grants)
	return svc, pool, notifier, grants
}

func strPtr(s string) *string { return &s }

func TestHandleCompletion_RequestNotFoundIsBenign(t *testing.T) {
	repo := &fakeRepo{requestErr: ErrRequestNotFound}
	svc, pool, notifier, _ := newTestService(repo)

	err := svc.HandleCompletion(context.Background(), CompletionEvent{
		SignatureRequestID: "missing",
		DocumentType:       DocumentNDA,
		Status:             StatusSigned,
	})
	if err != nil {
		t.Fatalf("expected benign nil, got %v", err)
	}
	if pool.tx.committed {
		t.Errorf("expected no commit on missing request")
	}
	if len(notifier.inserted) != 0 {
		t.Errorf("expected no notifications")
	}
}

func TestHandleCompletion_NonSignedStatusIgnored(t *testing.T) {
	repo := &fakeRepo{}
	svc, pool, _, _ := newTestService(repo)

	err := svc.HandleCompletion(context.Background(), CompletionEvent{
		SignatureRequestID: "req-1",
		DocumentType:       DocumentNDA,
		Status:             "declined",
	})
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if pool.tx != nil {
		t.Errorf("expected no transaction for a non-signed event")
	}
}

func TestHandleCompletion_MissingRequestID(t *testing.T) {
	repo := &fakeRepo{}
	svc, _, _, _ := newTestService(repo)
	if err := svc.HandleCompletion(context.Background(), CompletionEvent{Status: StatusSigned}); err == nil {
		t.Fatal("expected error for missing signature request id")
	}
}

func TestHandleCompletion_NDAInterestPath(t *testing.T) {
	repo := &fakeRepo{
		request: SignatureRequest{
			ID:           "req-1",
			DocumentType: DocumentNDA,
			DealID:       strPtr("deal-1"),
			InvestorID:   strPtr("inv-1"),
			SignerRole:   RoleInvestor,
		},
		ndaCounts:       RoleCounts{Total: 2, Pending: 0},
		subscriptionErr: ErrSubscriptionNotFound,
		stampResult:     true,
	}
	svc, pool, notifier, grants := newTestService(repo)

	err := svc.HandleCompletion(context.Background(), CompletionEvent{
		SignatureRequestID: "req-1",
		DocumentType:       DocumentNDA,
		Status:             StatusSigned,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pool.tx.committed {
		t.Fatalf("expected commit")
	}
	if len(grants.upserts) != 1 {
		t.Fatalf("expected one data-room grant upsert, got %d", len(grants.upserts))
	}
	if got := grants.upserts[0]; got.dealID != "deal-1" || got.investorID != "inv-1" {
		t.Errorf("grant scoped to %s/%s, want deal-1/inv-1", got.dealID, got.investorID)
	}
	if want := time.Now().Add(DefaultAccessWindow); grants.upserts[0].expiresAt.Sub(want) > time.Minute {
		t.Errorf("grant expiry %v too far from now+7d", grants.upserts[0].expiresAt)
	}
	if len(notifier.inserted) != 1 || notifier.inserted[0].kind != NotifyDataRoomUnlocked {
		t.Fatalf("expected data_room_unlocked notification, got %+v", notifier.inserted)
	}
}

func TestHandleCompletion_NDAInterestReplayDoesNotRenotify(t *testing.T) {
	repo := &fakeRepo{
		request: SignatureRequest{
			ID:           "req-1",
			DocumentType: DocumentNDA,
			DealID:       strPtr("deal-1"),
			InvestorID:   strPtr("inv-1"),
		},
		ndaCounts:       RoleCounts{Total: 2, Pending: 0},
		subscriptionErr: ErrSubscriptionNotFound,
		stampResult:     false, // nda_signed_at already set by the first delivery
	}
	svc, _, notifier, grants := newTestService(repo)

	err := svc.HandleCompletion(context.Background(), CompletionEvent{
		SignatureRequestID: "req-1",
		DocumentType:       DocumentNDA,
		Status:             StatusSigned,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The grant upsert is idempotent and may repeat; the notification must not.
	if len(grants.upserts) != 1 {
		t.Fatalf("expected grant upsert on replay, got %d", len(grants.upserts))
	}
	if len(notifier.inserted) != 0 {
		t.Fatalf("expected no notification on replay, got %+v", notifier.inserted)
	}
}

func TestHandleCompletion_NDADirectSubscribePath(t *testing.T) {
	repo := &fakeRepo{
		request: SignatureRequest{
			ID:           "req-1",
			DocumentType: DocumentNDA,
			DealID:       strPtr("deal-1"),
			InvestorID:   strPtr("inv-1"),
		},
		ndaCounts:    RoleCounts{Total: 1, Pending: 0},
		subscription: Subscription{ID: "sub-1", DealID: "deal-1", InvestorID: "inv-1", Status: SubscriptionPending},
		stampResult:  true,
	}
	svc, _, notifier, grants := newTestService(repo)

	err := svc.HandleCompletion(context.Background(), CompletionEvent{
		SignatureRequestID: "req-1",
		DocumentType:       DocumentNDA,
		Status:             StatusSigned,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Direct Subscribe must not unlock the data room.
	if len(grants.upserts) != 0 {
		t.Fatalf("expected no grant on direct-subscribe path, got %d", len(grants.upserts))
	}
	if len(notifier.inserted) != 1 || notifier.inserted[0].kind != NotifyCompleteSubscriptionSigning {
		t.Fatalf("expected complete_subscription_signing notification, got %+v", notifier.inserted)
	}
}

func TestHandleCompletion_NDAPartiallySigned(t *testing.T) {
	repo := &fakeRepo{
		request: SignatureRequest{
			ID:           "req-1",
			DocumentType: DocumentNDA,
			DealID:       strPtr("deal-1"),
			InvestorID:   strPtr("inv-1"),
		},
		ndaCounts: RoleCounts{Total: 2, Pending: 1},
	}
	svc, pool, notifier, grants := newTestService(repo)

	if err := svc.HandleCompletion(context.Background(), CompletionEvent{
		SignatureRequestID: "req-1", DocumentType: DocumentNDA, Status: StatusSigned,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pool.tx.committed {
		t.Fatalf("status update alone should still commit")
	}
	if len(notifier.inserted) != 0 || len(grants.upserts) != 0 {
		t.Fatalf("no side effects while signatures remain pending")
	}
}

func TestRoleCounts_ZeroRowsNeverFullyExecuted(t *testing.T) {
	if (RoleCounts{Total: 0, Pending: 0}).FullyExecuted() {
		t.Fatal("zero scoped rows must not count as fully executed")
	}
	if !(RoleCounts{Total: 2, Pending: 0}).FullyExecuted() {
		t.Fatal("all-signed set must count as fully executed")
	}
}

func TestHandleCompletion_SubscriptionCommit(t *testing.T) {
	repo := &fakeRepo{
		request: SignatureRequest{
			ID:             "req-1",
			DocumentType:   DocumentSubscription,
			SubscriptionID: strPtr("sub-1"),
			WorkflowRunID:  strPtr("run-1"), // subscription id wins the route
		},
		subCounts:    RoleCounts{Total: 2, Pending: 0},
		subscription: Subscription{ID: "sub-1", DealID: "deal-1", InvestorID: "inv-1", Status: SubscriptionPending},
	}
	svc, _, notifier, _ := newTestService(repo)

	if err := svc.HandleCompletion(context.Background(), CompletionEvent{
		SignatureRequestID: "req-1", DocumentType: DocumentSubscription, Status: StatusSigned,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.committedID != "sub-1" {
		t.Fatalf("expected subscription sub-1 committed, got %q", repo.committedID)
	}
	if repo.workflowRunCounted {
		t.Fatalf("legacy route must not run when subscription id is present")
	}
	if len(notifier.inserted) != 1 || notifier.inserted[0].kind != NotifySubscriptionCommitted {
		t.Fatalf("expected subscription_committed notification, got %+v", notifier.inserted)
	}
}

func TestHandleCompletion_SubscriptionReplayAfterCommit(t *testing.T) {
	repo := &fakeRepo{
		request: SignatureRequest{
			ID:             "req-1",
			DocumentType:   DocumentSubscription,
			SubscriptionID: strPtr("sub-1"),
		},
		subCounts:    RoleCounts{Total: 2, Pending: 0},
		subscription: Subscription{ID: "sub-1", DealID: "deal-1", InvestorID: "inv-1", Status: SubscriptionCommitted},
	}
	svc, pool, notifier, _ := newTestService(repo)

	if err := svc.HandleCompletion(context.Background(), CompletionEvent{
		SignatureRequestID: "req-1", DocumentType: DocumentSubscription, Status: StatusSigned,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.committedID != "" {
		t.Fatalf("already-committed subscription must not be rewritten")
	}
	if len(notifier.inserted) != 0 {
		t.Fatalf("no duplicate notification on replay, got %+v", notifier.inserted)
	}
	if !pool.tx.committed {
		t.Fatalf("replay still commits the request status update")
	}
}

func TestHandleCompletion_LegacyWorkflowRunRoute(t *testing.T) {
	repo := &fakeRepo{
		request: SignatureRequest{
			ID:            "req-1",
			DocumentType:  DocumentSubscription,
			WorkflowRunID: strPtr("run-9"),
		},
		runCounts:    RoleCounts{Total: 3, Pending: 0},
		documentID:   "doc-1",
		subscription: Subscription{ID: "sub-9", DealID: "deal-1", InvestorID: "inv-1", Status: SubscriptionPending},
	}
	svc, _, notifier, _ := newTestService(repo)

	if err := svc.HandleCompletion(context.Background(), CompletionEvent{
		SignatureRequestID: "req-1", DocumentType: DocumentSubscription, Status: StatusSigned,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.signedDocRun != "run-9" {
		t.Fatalf("expected document for run-9 marked signed, got %q", repo.signedDocRun)
	}
	if repo.lookedUpDocID != "doc-1" {
		t.Fatalf("expected subscription lookup by document doc-1, got %q", repo.lookedUpDocID)
	}
	if repo.committedID != "sub-9" {
		t.Fatalf("expected sub-9 committed, got %q", repo.committedID)
	}
	if len(notifier.inserted) != 1 {
		t.Fatalf("expected commit notification, got %+v", notifier.inserted)
	}
}

func TestHandleCompletion_LegacyRouteMissingDocumentIsBenign(t *testing.T) {
	repo := &fakeRepo{
		request: SignatureRequest{
			ID:            "req-1",
			DocumentType:  DocumentSubscription,
			WorkflowRunID: strPtr("run-9"),
		},
		runCounts:   RoleCounts{Total: 1, Pending: 0},
		documentErr: ErrDocumentNotFound,
	}
	svc, pool, notifier, _ := newTestService(repo)

	if err := svc.HandleCompletion(context.Background(), CompletionEvent{
		SignatureRequestID: "req-1", DocumentType: DocumentSubscription, Status: StatusSigned,
	}); err != nil {
		t.Fatalf("expected benign nil, got %v", err)
	}
	if !pool.tx.committed {
		t.Fatalf("benign missing document still commits the status update")
	}
	if len(notifier.inserted) != 0 {
		t.Fatalf("no notifications without a document")
	}
}

// --- fakes ---

type grantCall struct {
	dealID, investorID string
	expiresAt          time.Time
}

type fakeGrants struct {
	upserts []grantCall
}

func (f *fakeGrants) Upsert(ctx context.Context, tx pgx.Tx, dealID, investorID string, expiresAt time.Time) error {
	f.upserts = append(f.upserts, grantCall{dealID, investorID, expiresAt})
	return nil
}

type insertedNotification struct {
	investorID string
	kind       string
	payload    map[string]any
}

type fakeNotifier struct {
	inserted []insertedNotification
}

func (f *fakeNotifier) Insert(ctx context.Context, tx pgx.Tx, investorID string, kind string, payload map[string]any) error {
	f.inserted = append(f.inserted, insertedNotification{investorID, kind, payload})
	return nil
}

type fakeRepo struct {
	request    SignatureRequest
	requestErr error

	ndaCounts RoleCounts
	subCounts RoleCounts
	runCounts RoleCounts

	subscription    Subscription
	subscriptionErr error

	documentID  string
	documentErr error

	stampResult bool

	markedSigned       []string
	committedID        string
	signedDocRun       string
	lookedUpDocID      string
	workflowRunCounted bool
}

func (f *fakeRepo) GetRequestForUpdate(ctx context.Context, tx pgx.Tx, id string) (SignatureRequest, error) {
	if f.requestErr != nil {
		return SignatureRequest{}, f.requestErr
	}
	return f.request, nil
}

func (f *fakeRepo) MarkSigned(ctx context.Context, tx pgx.Tx, id string) error {
	f.markedSigned = append(f.markedSigned, id)
	return nil
}

func (f *fakeRepo) CountNDARoles(ctx context.Context, tx pgx.Tx, dealID, investorID string) (RoleCounts, error) {
	return f.ndaCounts, nil
}

func (f *fakeRepo) CountSubscriptionRoles(ctx context.Context, tx pgx.Tx, subscriptionID string) (RoleCounts, error) {
	return f.subCounts, nil
}

func (f *fakeRepo) CountWorkflowRunRoles(ctx context.Context, tx pgx.Tx, workflowRunID string) (RoleCounts, error) {
	f.workflowRunCounted = true
	return f.runCounts, nil
}

func (f *fakeRepo) GetActiveSubscription(ctx context.Context, tx pgx.Tx, dealID, investorID string) (Subscription, error) {
	if f.subscriptionErr != nil {
		return Subscription{}, f.subscriptionErr
	}
	return f.subscription, nil
}

func (f *fakeRepo) GetSubscriptionForUpdate(ctx context.Context, tx pgx.Tx, id string) (Subscription, error) {
	if f.subscriptionErr != nil {
		return Subscription{}, f.subscriptionErr
	}
	return f.subscription, nil
}

func (f *fakeRepo) GetSubscriptionByDocumentForUpdate(ctx context.Context, tx pgx.Tx, documentID string) (Subscription, error) {
	f.lookedUpDocID = documentID
	if f.subscriptionErr != nil {
		return Subscription{}, f.subscriptionErr
	}
	return f.subscription, nil
}

func (f *fakeRepo) CommitSubscription(ctx context.Context, tx pgx.Tx, id string) error {
	f.committedID = id
	return nil
}

func (f *fakeRepo) StampMembershipNDASigned(ctx context.Context, tx pgx.Tx, dealID, investorID string) (bool, error) {
	return f.stampResult, nil
}

func (f *fakeRepo) MarkDocumentSigned(ctx context.Context, tx pgx.Tx, workflowRunID string) (string, error) {
	f.signedDocRun = workflowRunID
	if f.documentErr != nil {
		return "", f.documentErr
	}
	return f.documentID, nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
