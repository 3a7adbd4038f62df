package models

// Claim lifecycle states. Submitted → CodeValidated → {AutoApproved |
// PendingReview} → {Settled | Rejected}; Settled may enter Disputed within
// the appeal window and resolve to Resolved or Rejected. Resolved and
// Rejected are terminal and immutable.
const (
	ClaimStateSubmitted     = "SUBMITTED"
	ClaimStateCodeValidated = "CODE_VALIDATED"
	ClaimStateAutoApproved  = "AUTO_APPROVED"
	ClaimStatePendingReview = "PENDING_REVIEW"
	ClaimStateSettled       = "SETTLED"
	ClaimStateDisputed      = "DISPUTED"
	ClaimStateResolved      = "RESOLVED"
	ClaimStateRejected      = "REJECTED"
)

// Claim represents the VLT_CLAIM table. Amounts are fixed-point integers
// in minor currency units; no floating point anywhere in settlement
// arithmetic. RowVersion guards every transition with optimistic
// concurrency so two settlement attempts cannot both succeed.
type Claim struct {
	ClaimID           string  `db:"CLAIM_ID" json:"claimId"`
	PatientID         string  `db:"PATIENT_ID" json:"patientIdentity"`
	ProviderID        string  `db:"PROVIDER_ID" json:"providerIdentity"`
	Code              string  `db:"CODE" json:"code"`
	AmountMinor       int64   `db:"AMOUNT_MINOR" json:"amount"`
	SettledMinor      *int64  `db:"SETTLED_MINOR" json:"settledAmount,omitempty"`
	State             string  `db:"CURRENT_STATE" json:"state"`
	SubmittedAt       int64   `db:"SUBMITTED_AT" json:"submittedAt"`
	SettledAt         *int64  `db:"SETTLED_AT" json:"settledAt,omitempty"`
	DisputeReason     *string `db:"DISPUTE_REASON" json:"disputeReason,omitempty"`
	AttestationDigest string  `db:"ATTESTATION_DIGEST" json:"-"`
	RowVersion        int64   `db:"ROW_VERSION" json:"-"`
	CreatedTime       int64   `db:"CREATED_TIME" json:"createdTime"`
	UpdatedTime       int64   `db:"UPDATED_TIME" json:"updatedTime"`
}

// IsTerminal reports whether the claim can never transition again
func (c *Claim) IsTerminal() bool {
	return c.State == ClaimStateResolved || c.State == ClaimStateRejected
}

// ClaimEvent represents one row of the VLT_CLAIM_EVENT table: the full
// state-transition history of a claim, exportable for dispute review.
// Every transition records who moved the claim and why.
type ClaimEvent struct {
	EventID     string `db:"EVENT_ID" json:"eventId"`
	ClaimID     string `db:"CLAIM_ID" json:"claimId"`
	FromState   string `db:"FROM_STATE" json:"fromState"`
	ToState     string `db:"TO_STATE" json:"toState"`
	ActionBy    string `db:"ACTION_BY" json:"actionBy"`
	Reason      string `db:"REASON" json:"reason"`
	AmountMinor *int64 `db:"AMOUNT_MINOR" json:"amount,omitempty"`
	EventTime   int64  `db:"EVENT_TIME" json:"eventTime"`
}

// SubmitClaimAPIRequest is the inbound payload for submitting a claim.
// ClaimID is caller-supplied so resubmission is idempotent.
type SubmitClaimAPIRequest struct {
	ClaimID    string `json:"claimId" binding:"required"`
	PatientID  string `json:"patientIdentity" binding:"required"`
	ProviderID string `json:"providerIdentity" binding:"required"`
	Code       string `json:"code" binding:"required"`
	Amount     int64  `json:"amount" binding:"required"`
}

// Review decisions accepted by ReviewClaim
const (
	ReviewDecisionApprove = "APPROVE"
	ReviewDecisionReject  = "REJECT"
)

// ReviewClaimAPIRequest is the inbound payload for a manual review decision.
// Amount is optional; when present it overrides the requested amount.
type ReviewClaimAPIRequest struct {
	Decision string `json:"decision" binding:"required"`
	Amount   *int64 `json:"amount,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// DisputeAPIRequest is the inbound payload for disputing a settled claim
type DisputeAPIRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// Dispute resolutions accepted by ResolveDispute. RESOLVE closes the
// dispute with the settlement standing or amended; REOPEN sends the claim
// back through manual review.
const (
	ResolveDecisionResolve = "RESOLVE"
	ResolveDecisionReopen  = "REOPEN"
)

// ResolveDisputeAPIRequest is the inbound payload for resolving a dispute.
// Amount, when present, amends the settled amount.
type ResolveDisputeAPIRequest struct {
	Decision string `json:"decision" binding:"required"`
	Amount   *int64 `json:"amount,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// ClaimResponse is the outbound representation of a claim
type ClaimResponse struct {
	ClaimID       string  `json:"claimId"`
	PatientID     string  `json:"patientIdentity"`
	ProviderID    string  `json:"providerIdentity"`
	Code          string  `json:"code"`
	Amount        int64   `json:"amount"`
	SettledAmount *int64  `json:"settledAmount,omitempty"`
	State         string  `json:"state"`
	SubmittedAt   int64   `json:"submittedAt"`
	SettledAt     *int64  `json:"settledAt,omitempty"`
	DisputeReason *string `json:"disputeReason,omitempty"`
}

// ToResponse converts a claim to its outbound representation
func (c *Claim) ToResponse() *ClaimResponse {
	return &ClaimResponse{
		ClaimID:       c.ClaimID,
		PatientID:     c.PatientID,
		ProviderID:    c.ProviderID,
		Code:          c.Code,
		Amount:        c.AmountMinor,
		SettledAmount: c.SettledMinor,
		State:         c.State,
		SubmittedAt:   c.SubmittedAt,
		SettledAt:     c.SettledAt,
		DisputeReason: c.DisputeReason,
	}
}

// BillingCode represents one row of a versioned code table. A claim
// validates against the table version in effect at its submission instant,
// never the latest, so old claims stay valid when tables rotate.
type BillingCode struct {
	Code          string `db:"CODE" json:"code"`
	Description   string `db:"DESCRIPTION" json:"description"`
	TableVersion  int    `db:"TABLE_VERSION" json:"tableVersion"`
	EffectiveFrom int64  `db:"EFFECTIVE_FROM" json:"effectiveFrom"`
	EffectiveTo   int64  `db:"EFFECTIVE_TO" json:"effectiveTo"`
}
