package models

import "time"

// Grant lifecycle statuses. Active is entered immediately on creation since
// consent is an explicit patient action; there is no pending state.
const (
	GrantStatusActive  = "ACTIVE"
	GrantStatusExpired = "EXPIRED"
	GrantStatusRevoked = "REVOKED"
)

// EmergencyWindow is the fixed lifetime of a break-glass grant. Emergency
// grants force-expire at exactly creation+24h regardless of explicit
// revocation or the requested validity.
const EmergencyWindow = 24 * time.Hour

// FullScope marks an emergency grant as covering every record type
const FullScope = "*"

// ScopeBillingAttestation is the scope member the cross-ledger bridge
// requires before issuing a permission attestation.
const ScopeBillingAttestation = "billing-attestation"

// ConsentGrant represents the VLT_CONSENT_GRANT table. Grants are never
// hard-deleted; revocation only flips REVOKED, and grants past retention
// are archived rather than erased so the audit history stays intact.
type ConsentGrant struct {
	GrantID       string     `db:"GRANT_ID" json:"grantId"`
	PatientID     string     `db:"PATIENT_ID" json:"patientIdentity"`
	GranteeID     string     `db:"GRANTEE_ID" json:"granteeIdentity"`
	Scope         StringList `db:"SCOPE" json:"scope"`
	ScopeKey      string     `db:"SCOPE_KEY" json:"-"`
	ValidFrom     int64      `db:"VALID_FROM" json:"validFrom"`
	ValidUntil    int64      `db:"VALID_UNTIL" json:"validUntil"`
	Revoked       bool       `db:"REVOKED" json:"revoked"`
	Emergency     bool       `db:"EMERGENCY" json:"emergency"`
	CurrentStatus string     `db:"CURRENT_STATUS" json:"currentStatus"`
	CreatedTime   int64      `db:"CREATED_TIME" json:"createdTime"`
	UpdatedTime   int64      `db:"UPDATED_TIME" json:"updatedTime"`
}

// EffectiveUntil returns the instant the grant stops being valid. For
// emergency grants this is capped at creation+24h.
func (g *ConsentGrant) EffectiveUntil() int64 {
	if g.Emergency {
		cap := g.CreatedTime + EmergencyWindow.Milliseconds()
		if cap < g.ValidUntil {
			return cap
		}
	}
	return g.ValidUntil
}

// ActiveAt reports whether the grant authorizes access at the given
// instant. The upper bound is exclusive: at validUntil the grant is
// already expired.
func (g *ConsentGrant) ActiveAt(now int64) bool {
	if g.Revoked {
		return false
	}
	return now >= g.ValidFrom && now < g.EffectiveUntil()
}

// Covers reports whether the grant scope includes a record type
func (g *ConsentGrant) Covers(recordType string) bool {
	return g.Scope.Contains(FullScope) || g.Scope.Contains(recordType)
}

// GrantConsentAPIRequest is the inbound payload for creating a consent grant
type GrantConsentAPIRequest struct {
	PatientID  string   `json:"patientIdentity" binding:"required"`
	GranteeID  string   `json:"granteeIdentity" binding:"required"`
	Scope      []string `json:"scope" binding:"required"`
	ValidFrom  int64    `json:"validFrom,omitempty"`
	ValidUntil int64    `json:"validUntil" binding:"required"`
}

// EmergencyAccessAPIRequest is the inbound payload for break-glass access
type EmergencyAccessAPIRequest struct {
	PatientID     string `json:"patientIdentity" binding:"required"`
	GranteeID     string `json:"granteeIdentity" binding:"required"`
	Justification string `json:"justification" binding:"required"`
}

// RevokeAPIRequest is the inbound payload for revoking a grant
type RevokeAPIRequest struct {
	Reason string `json:"reason,omitempty"`
}

// GrantResponse is the outbound representation of a consent grant
type GrantResponse struct {
	GrantID       string   `json:"grantId"`
	PatientID     string   `json:"patientIdentity"`
	GranteeID     string   `json:"granteeIdentity"`
	Scope         []string `json:"scope"`
	ValidFrom     int64    `json:"validFrom"`
	ValidUntil    int64    `json:"validUntil"`
	Emergency     bool     `json:"emergency"`
	CurrentStatus string   `json:"currentStatus"`
	CreatedTime   int64    `json:"createdTime"`
}

// ToResponse converts a grant to its outbound representation. The reported
// validUntil is the effective one so emergency callers see the 24h cap.
func (g *ConsentGrant) ToResponse() *GrantResponse {
	return &GrantResponse{
		GrantID:       g.GrantID,
		PatientID:     g.PatientID,
		GranteeID:     g.GranteeID,
		Scope:         g.Scope,
		ValidFrom:     g.ValidFrom,
		ValidUntil:    g.EffectiveUntil(),
		Emergency:     g.Emergency,
		CurrentStatus: g.CurrentStatus,
		CreatedTime:   g.CreatedTime,
	}
}
