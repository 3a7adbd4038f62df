package serviceerror

// Error codes for the Health Vault & Claims Settlement core.
// HVE-4xxx are client errors, HVE-5xxx are server errors.
var (
	// Consent ledger errors

	GrantNotFound = &ServiceError{
		Code:        "HVE-4040",
		Type:        ClientErrorType,
		Message:     "grant_not_found",
		Description: "No consent grant exists for the given identifier",
	}

	GrantExpired = &ServiceError{
		Code:        "HVE-4031",
		Type:        ClientErrorType,
		Message:     "grant_expired",
		Description: "The consent grant validity window has ended",
	}

	GrantInsufficientScope = &ServiceError{
		Code:        "HVE-4032",
		Type:        ClientErrorType,
		Message:     "grant_insufficient_scope",
		Description: "The consent grant does not cover the requested record type",
	}

	GrantScopeMismatch = &ServiceError{
		Code:        "HVE-4033",
		Type:        ClientErrorType,
		Message:     "grant_scope_mismatch",
		Description: "The consent grant scope does not match the record being accessed",
	}

	GrantRevoked = &ServiceError{
		Code:        "HVE-4034",
		Type:        ClientErrorType,
		Message:     "grant_revoked",
		Description: "The consent grant has been revoked",
	}

	InvalidScope = &ServiceError{
		Code:        "HVE-4001",
		Type:        ClientErrorType,
		Message:     "invalid_scope",
		Description: "Consent scope must contain at least one record type",
	}

	InvalidWindow = &ServiceError{
		Code:        "HVE-4002",
		Type:        ClientErrorType,
		Message:     "invalid_window",
		Description: "Consent validity window must end in the future",
	}

	// Record vault errors

	RecordNotFound = &ServiceError{
		Code:        "HVE-4041",
		Type:        ClientErrorType,
		Message:     "record_not_found",
		Description: "No record exists for the given identifier",
	}

	RecordErased = &ServiceError{
		Code:        "HVE-4100",
		Type:        ClientErrorType,
		Message:     "record_erased",
		Description: "The patient's key material has been cryptographically erased; the record is permanently unreadable",
		Permanent:   true,
	}

	AuthorityDenied = &ServiceError{
		Code:        "HVE-4035",
		Type:        ClientErrorType,
		Message:     "authority_denied",
		Description: "The actor does not hold the required authority capability",
	}

	// Claims settlement errors

	UnknownCode = &ServiceError{
		Code:        "HVE-4010",
		Type:        ClientErrorType,
		Message:     "unknown_code",
		Description: "The billing code is not present in the code table version in effect",
	}

	CodeExpired = &ServiceError{
		Code:        "HVE-4011",
		Type:        ClientErrorType,
		Message:     "code_expired",
		Description: "The billing code was not effective at submission time",
	}

	DuplicateClaimSuppressed = &ServiceError{
		Code:        "HVE-4012",
		Type:        ClientErrorType,
		Message:     "duplicate_claim_suppressed",
		Description: "An unresolved claim for the same patient, provider and code exists within the cooldown window",
	}

	InvalidTransition = &ServiceError{
		Code:        "HVE-4013",
		Type:        ClientErrorType,
		Message:     "invalid_transition",
		Description: "The claim is not in a state that permits this operation",
	}

	AppealWindowClosed = &ServiceError{
		Code:        "HVE-4014",
		Type:        ClientErrorType,
		Message:     "appeal_window_closed",
		Description: "The dispute was raised after the appeal window closed",
	}

	// Cross-ledger bridge errors

	NoActiveConsent = &ServiceError{
		Code:        "HVE-4050",
		Type:        ClientErrorType,
		Message:     "no_active_consent",
		Description: "No active consent grant covers billing attestation for this patient",
	}

	AttestationInvalid = &ServiceError{
		Code:        "HVE-4051",
		Type:        ClientErrorType,
		Message:     "attestation_invalid",
		Description: "The permission attestation failed verification",
	}

	// Concurrency

	ConcurrentModification = &ServiceError{
		Code:        "HVE-4090",
		Type:        ClientErrorType,
		Message:     "concurrent_modification",
		Description: "The resource was modified by another request; retry with fresh state",
	}

	// Crypto errors

	KeyInvalid = &ServiceError{
		Code:        "HVE-4060",
		Type:        ClientErrorType,
		Message:     "key_invalid",
		Description: "The decryption key is not valid for this ciphertext",
	}

	AuthTagMismatch = &ServiceError{
		Code:        "HVE-4061",
		Type:        ClientErrorType,
		Message:     "auth_tag_mismatch",
		Description: "Authenticated decryption failed; the ciphertext has been tampered with",
	}

	// Audit log errors

	ChainBroken = &ServiceError{
		Code:        "HVE-5010",
		Type:        ServerErrorType,
		Message:     "audit_chain_broken",
		Description: "Recomputed audit chain hash does not match the stored head",
	}

	// General errors

	ValidationError = &ServiceError{
		Code:        "HVE-4000",
		Type:        ClientErrorType,
		Message:     "validation_error",
		Description: "Validation failed",
	}

	ResourceNotFound = &ServiceError{
		Code:        "HVE-4004",
		Type:        ClientErrorType,
		Message:     "resource_not_found",
		Description: "Resource not found",
	}

	DatabaseError = &ServiceError{
		Code:        "HVE-5001",
		Type:        ServerErrorType,
		Message:     "database_error",
		Description: "A database error occurred",
	}

	InternalServerError = &ServiceError{
		Code:        "HVE-5000",
		Type:        ServerErrorType,
		Message:     "internal_server_error",
		Description: "An unexpected error occurred",
	}
)
