// Package errors provides structured error handling for kbsearch.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage and dataset errors
//   - 3XX: Network errors (redis, postgres)
//   - 4XX: Validation errors
//   - 5XX: Retrieval, tokenizer and internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates knowledge-base storage and dataset errors.
	CategoryStorage Category = "STORAGE"
	// CategoryNetwork indicates network-related errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryRetrieval indicates search pipeline errors.
	CategoryRetrieval Category = "RETRIEVAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Storage errors (200-299)
	ErrCodeStorageOpen     = "ERR_201_STORAGE_OPEN"
	ErrCodeDatasetInvalid  = "ERR_202_DATASET_INVALID"
	ErrCodeDatasetNotFound = "ERR_203_DATASET_NOT_FOUND"
	ErrCodeStorageQuery    = "ERR_204_STORAGE_QUERY"
	ErrCodeLockHeld        = "ERR_205_LOCK_HELD"

	// Network errors (300-399)
	ErrCodeNetworkTimeout     = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeNetworkUnavailable = "ERR_302_NETWORK_UNAVAILABLE"

	// Validation errors (400-499)
	ErrCodeInvalidInput = "ERR_401_INVALID_INPUT"
	ErrCodeQueryTooLong = "ERR_402_QUERY_TOO_LONG"

	// Retrieval and internal errors (500-599)
	ErrCodeInternal             = "ERR_501_INTERNAL"
	ErrCodeProbeFailure         = "ERR_502_PROBE_FAILURE"
	ErrCodeStorageUnavailable   = "ERR_503_STORAGE_UNAVAILABLE"
	ErrCodeTokenizerUnavailable = "ERR_504_TOKENIZER_UNAVAILABLE"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryRetrieval
	}

	// "101" from "ERR_101_CONFIG_NOT_FOUND"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryRetrieval
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeStorageOpen:
		return SeverityFatal
	case ErrCodeProbeFailure, ErrCodeTokenizerUnavailable:
		// Recovered locally, the search continues with reduced quality.
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeNetworkUnavailable, ErrCodeStorageUnavailable, ErrCodeLockHeld:
		return true
	default:
		return false
	}
}
