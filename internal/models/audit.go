package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Audit actions recorded by the core. Every state change and every record
// access attempt, successful or not, appends exactly one entry.
const (
	ActionGrantCreated        = "GRANT_CREATED"
	ActionGrantRevoked        = "GRANT_REVOKED"
	ActionGrantExpired        = "GRANT_EXPIRED"
	ActionEmergencyAccess     = "EMERGENCY_ACCESS"
	ActionRecordWritten       = "RECORD_WRITTEN"
	ActionRecordRead          = "RECORD_READ"
	ActionRecordAccessDenied  = "RECORD_ACCESS_DENIED"
	ActionPatientErased       = "PATIENT_ERASED"
	ActionClaimSubmitted      = "CLAIM_SUBMITTED"
	ActionClaimAutoApproved   = "CLAIM_AUTO_APPROVED"
	ActionClaimPendingReview  = "CLAIM_PENDING_REVIEW"
	ActionClaimSettled        = "CLAIM_SETTLED"
	ActionClaimRejected       = "CLAIM_REJECTED"
	ActionClaimDisputed       = "CLAIM_DISPUTED"
	ActionClaimResolved       = "CLAIM_RESOLVED"
	ActionAttestationIssued   = "ATTESTATION_ISSUED"
	ActionAttestationRejected = "ATTESTATION_REJECTED"
)

// Audit severities. Break-glass access and erasure are always critical.
const (
	SeverityInfo     = "INFO"
	SeverityWarning  = "WARNING"
	SeverityCritical = "CRITICAL"
)

// SystemShard collects entries with no patient subject
const SystemShard = "system"

// AuditEntry represents one row of the VLT_AUDIT_LOG table. Entries form a
// per-shard hash chain: entryHash = SHA-256(canonical JSON of all fields
// including prevHash). Sequence numbers are gapless within a shard.
type AuditEntry struct {
	Shard          string `db:"SHARD" json:"shard"`
	SequenceNumber int64  `db:"SEQUENCE_NUMBER" json:"sequenceNumber"`
	PrevHash       string `db:"PREV_HASH" json:"prevHash"`
	EntryHash      string `db:"ENTRY_HASH" json:"entryHash"`
	Actor          string `db:"ACTOR" json:"actor"`
	Action         string `db:"ACTION" json:"action"`
	PatientID      string `db:"PATIENT_ID" json:"subjectPatientIdentity"`
	Outcome        string `db:"OUTCOME" json:"outcome"`
	Detail         string `db:"DETAIL" json:"detail,omitempty"`
	Severity       string `db:"SEVERITY" json:"severity"`
	Timestamp      int64  `db:"ENTRY_TIME" json:"timestamp"`
}

// hashedEntry fixes the field set and order hashed into the chain. All
// fields are plain values (no maps) so json.Marshal is deterministic and
// the chain can be recomputed byte-for-byte by an offline auditor.
type hashedEntry struct {
	Shard          string `json:"shard"`
	SequenceNumber int64  `json:"sequenceNumber"`
	PrevHash       string `json:"prevHash"`
	Actor          string `json:"actor"`
	Action         string `json:"action"`
	PatientID      string `json:"subjectPatientIdentity"`
	Outcome        string `json:"outcome"`
	Detail         string `json:"detail"`
	Severity       string `json:"severity"`
	Timestamp      int64  `json:"timestamp"`
}

// ComputeHash returns the chain hash for the entry. EntryHash itself is
// excluded; PrevHash is included, which is what links the chain.
func (e *AuditEntry) ComputeHash() string {
	payload, err := json.Marshal(hashedEntry{
		Shard:          e.Shard,
		SequenceNumber: e.SequenceNumber,
		PrevHash:       e.PrevHash,
		Actor:          e.Actor,
		Action:         e.Action,
		PatientID:      e.PatientID,
		Outcome:        e.Outcome,
		Detail:         e.Detail,
		Severity:       e.Severity,
		Timestamp:      e.Timestamp,
	})
	if err != nil {
		// hashedEntry contains only marshalable scalar fields
		panic(err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Outcomes recorded on audit entries
const (
	OutcomeSuccess = "SUCCESS"
	OutcomeFailure = "FAILURE"
)

// AuditHead represents the VLT_AUDIT_HEAD table: the current tip of each
// shard's hash chain. Appends lock this row, which is what keeps sequence
// numbers gapless under concurrency.
type AuditHead struct {
	Shard        string `db:"SHARD" json:"shard"`
	HeadSequence int64  `db:"HEAD_SEQUENCE" json:"headSequence"`
	HeadHash     string `db:"HEAD_HASH" json:"headHash"`
}
