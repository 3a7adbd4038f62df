package utils

import (
	"fmt"
	"strings"
)

// ValidatePatientID validates patient identity format
func ValidatePatientID(patientID string) error {
	if patientID == "" {
		return fmt.Errorf("patient identity cannot be empty")
	}
	if len(patientID) > 255 {
		return fmt.Errorf("patient identity too long (max 255 characters)")
	}
	return nil
}

// ValidateActorID validates actor (grantee/provider/authority) identity format
func ValidateActorID(actorID string) error {
	if actorID == "" {
		return fmt.Errorf("actor identity cannot be empty")
	}
	if len(actorID) > 255 {
		return fmt.Errorf("actor identity too long (max 255 characters)")
	}
	return nil
}

// ValidateRecordType validates a record type (scope member)
func ValidateRecordType(recordType string) error {
	if recordType == "" {
		return fmt.Errorf("record type cannot be empty")
	}
	if len(recordType) > 64 {
		return fmt.Errorf("record type too long (max 64 characters)")
	}
	return nil
}

// ValidateBillingCode validates a procedure/billing code
func ValidateBillingCode(code string) error {
	if code == "" {
		return fmt.Errorf("billing code cannot be empty")
	}
	if len(code) > 32 {
		return fmt.Errorf("billing code too long (max 32 characters)")
	}
	return nil
}

// ValidateAmountMinor validates a monetary amount in minor currency units
func ValidateAmountMinor(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("amount must be a positive number of minor currency units")
	}
	return nil
}

// ValidateRequired validates that a field is not empty
func ValidateRequired(fieldName, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}
