package models

// CurrentSchemaVersion is stamped on every newly written record payload
const CurrentSchemaVersion = 1

// EncryptedRecord represents the VLT_RECORD table. Records are immutable
// once written; "updates" append a new version and "deletion" happens by
// destroying the patient's key material, never by removing rows.
type EncryptedRecord struct {
	RecordID      string `db:"RECORD_ID" json:"recordId"`
	PatientID     string `db:"PATIENT_ID" json:"patientIdentity"`
	RecordType    string `db:"RECORD_TYPE" json:"recordType"`
	RecordVersion int    `db:"RECORD_VERSION" json:"recordVersion"`
	Ciphertext    []byte `db:"CIPHERTEXT" json:"-"`
	ContentHash   string `db:"CONTENT_HASH" json:"contentHash"`
	SchemaVersion int    `db:"SCHEMA_VERSION" json:"schemaVersion"`
	// KeyGrantID is the grant whose derived key sealed this ciphertext.
	// Readers derive the same key from the patient's master secret; once
	// that secret is erased no key for any grant can be rebuilt.
	KeyGrantID  string `db:"KEY_GRANT_ID" json:"-"`
	CreatedTime int64  `db:"CREATED_TIME" json:"createdAt"`
}

// WriteRecordAPIRequest is the inbound payload for writing a record
type WriteRecordAPIRequest struct {
	PatientID  string `json:"patientIdentity" binding:"required"`
	RecordType string `json:"recordType" binding:"required"`
	GrantID    string `json:"grantId" binding:"required"`
	// Payload is the plaintext record content; it never touches storage
	// unencrypted.
	Payload string `json:"payload" binding:"required"`
}

// WriteRecordResponse is the outbound acknowledgement for a record write
type WriteRecordResponse struct {
	RecordID      string `json:"recordId"`
	RecordVersion int    `json:"recordVersion"`
	ContentHash   string `json:"contentHash"`
	CreatedTime   int64  `json:"createdAt"`
}

// ReadRecordResponse is the outbound payload for a decrypted record read
type ReadRecordResponse struct {
	RecordID      string `json:"recordId"`
	PatientID     string `json:"patientIdentity"`
	RecordType    string `json:"recordType"`
	RecordVersion int    `json:"recordVersion"`
	SchemaVersion int    `json:"schemaVersion"`
	Payload       string `json:"payload"`
	CreatedTime   int64  `json:"createdAt"`
}

// EraseAPIRequest is the inbound payload for cryptographic erasure. The
// patient is identified by the request path.
type EraseAPIRequest struct {
	Reason string `json:"reason,omitempty"`
}
