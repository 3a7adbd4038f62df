package models

// PermissionAttestation is a compact, short-lived, minimal-disclosure proof
// that a patient has active billing consent. It carries no grant details
// and is never persisted beyond its validity window; the settlement ledger
// verifies it independently of the consent ledger.
type PermissionAttestation struct {
	PatientID  string `json:"patientIdentity"`
	ValidUntil int64  `json:"validUntil"`
	// Token is the signed compact serialization the verifier checks.
	Token string `json:"token"`
	// ProofDigest is the SHA-256 of the token, recorded on claims for
	// provenance without storing the token itself.
	ProofDigest string `json:"proofDigest"`
}

// CandidateCode is one advisory suggestion from the NLP collaborator.
// Suggestions are never applied to a claim without explicit human
// acceptance and always pass the normal code-validation gate.
type CandidateCode struct {
	Code        string  `json:"code"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}
