// Package errors provides structured error handling for the attendance board.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Subscription errors
	CodeMirrorSubscriptionFailed Code = "MIRROR_SUBSCRIPTION_FAILED"
	CodeRecordSubscriptionFailed Code = "RECORD_SUBSCRIPTION_FAILED"

	// Configuration errors
	CodeConfigurationInvalidMode   Code = "CONFIGURATION_INVALID_MODE"
	CodeConfigurationInvalidDate   Code = "CONFIGURATION_INVALID_DATE"
	CodeConfigurationEmptySection  Code = "CONFIGURATION_EMPTY_SECTION"
	CodeConfigurationInvalidStatus Code = "CONFIGURATION_INVALID_STATUS"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// IsConfiguration reports whether the code rejects a caller-supplied input.
func (c Code) IsConfiguration() bool {
	switch c {
	case CodeConfigurationInvalidMode,
		CodeConfigurationInvalidDate,
		CodeConfigurationEmptySection,
		CodeConfigurationInvalidStatus:
		return true
	default:
		return false
	}
}

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch {
	case c.IsConfiguration():
		return http.StatusBadRequest
	case c == CodeNotFound:
		return http.StatusNotFound
	case c == CodeMirrorSubscriptionFailed, c == CodeRecordSubscriptionFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
