package signing

import "time"

// DocumentType discriminates the two logical document families.
type DocumentType string

const (
	DocumentNDA          DocumentType = "nda"
	DocumentSubscription DocumentType = "subscription"
)

// SignerRole is the capacity in which a party signs. Only investor-side roles
// gate document completion.
type SignerRole string

const (
	RoleInvestor            SignerRole = "investor"
	RoleAuthorizedSignatory SignerRole = "authorized_signatory"
	RoleIssuer              SignerRole = "issuer"
)

// CompletionRoles are the signer roles whose signatures a logical document
// needs before it counts as fully executed.
var CompletionRoles = []SignerRole{RoleInvestor, RoleAuthorizedSignatory}

// Request statuses.
const (
	StatusPending = "pending"
	StatusSigned  = "signed"
)

// Subscription statuses touched by this subsystem.
const (
	SubscriptionPending   = "pending"
	SubscriptionCommitted = "committed"
)

// Notification kinds emitted on terminal transitions.
const (
	NotifyCompleteSubscriptionSigning = "complete_subscription_signing"
	NotifyDataRoomUnlocked            = "data_room_unlocked"
	NotifySubscriptionCommitted       = "subscription_committed"
)

// SignatureRequest mirrors the signature_requests columns this subsystem
// reads. Many rows exist per logical document, one per signer.
type SignatureRequest struct {
	ID             string
	DocumentType   DocumentType
	DealID         *string
	InvestorID     *string
	SubscriptionID *string
	MemberID       *string
	SignerRole     SignerRole
	SignerEmail    string
	Status         string
	WorkflowRunID  *string
	SignedAt       *time.Time
}

// Subscription mirrors the subscriptions columns touched on commit.
type Subscription struct {
	ID          string
	DealID      string
	InvestorID  string
	DocumentID  *string
	Status      string
	SignedAt    *time.Time
	CommittedAt *time.Time
}

// RoleCounts aggregates the completion-gating rows of one logical document.
// Total of zero must never be treated as fully executed.
type RoleCounts struct {
	Total   int
	Pending int
}

// FullyExecuted reports the completion invariant: at least one gating row and
// none of them pending.
func (c RoleCounts) FullyExecuted() bool {
	return c.Total > 0 && c.Pending == 0
}

// routeKind resolves the subscription completion path once, at the top of the
// handler. The workflow-run route is a legacy fallback for requests created
// before subscription ids were stamped onto signature requests.
type routeKind int

const (
	routeNone routeKind = iota
	routeBySubscription
	routeByWorkflowRun
)

type completionRoute struct {
	kind           routeKind
	subscriptionID string
	workflowRunID  string
}

func resolveRoute(req SignatureRequest) completionRoute {
	if req.SubscriptionID != nil && *req.SubscriptionID != "" {
		return completionRoute{kind: routeBySubscription, subscriptionID: *req.SubscriptionID}
	}
	if req.WorkflowRunID != nil && *req.WorkflowRunID != "" {
		return completionRoute{kind: routeByWorkflowRun, workflowRunID: *req.WorkflowRunID}
	}
	return completionRoute{kind: routeNone}
}
