// Package errors provides structured error handling for tracker operations.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Project lifecycle errors
	CodeProjectInvalidTransition Code = "PROJECT_INVALID_TRANSITION"
	CodeProjectUnauthorized      Code = "PROJECT_UNAUTHORIZED"
	CodeProjectMissingData       Code = "PROJECT_MISSING_DATA"
	CodeProjectNameEmpty         Code = "PROJECT_NAME_EMPTY"
	CodeProjectRateEmpty         Code = "PROJECT_RATE_EMPTY"
	CodeProjectEditorRequired    Code = "PROJECT_EDITOR_REQUIRED"
	CodeProjectThreadImmutable   Code = "PROJECT_THREAD_IMMUTABLE"

	// Editor roster errors
	CodeEditorUnavailable      Code = "EDITOR_UNAVAILABLE"
	CodeEditorEmptyName        Code = "EDITOR_EMPTY_NAME"
	CodeEditorEmptyUserID      Code = "EDITOR_EMPTY_USER_ID"
	CodeEditorInvalidStatus    Code = "EDITOR_INVALID_AVAILABILITY_STATUS"
	CodeEditorInvalidMaxActive Code = "EDITOR_INVALID_MAX_CONCURRENT"

	// Storage errors
	CodeNotFound           Code = "NOT_FOUND"
	CodePersistenceFailure Code = "PERSISTENCE_FAILURE"

	// Delivery errors
	CodeDeliveryFailure Code = "DELIVERY_FAILURE"
)

// HTTPStatus maps domain codes to HTTP status codes for the API boundary.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - validation failures, bad input
	case CodeProjectNameEmpty,
		CodeProjectRateEmpty,
		CodeProjectEditorRequired,
		CodeProjectMissingData,
		CodeEditorEmptyName,
		CodeEditorEmptyUserID,
		CodeEditorInvalidStatus,
		CodeEditorInvalidMaxActive:
		return http.StatusBadRequest

	// Conflict - current state disallows the operation
	case CodeProjectInvalidTransition,
		CodeProjectThreadImmutable,
		CodeEditorUnavailable:
		return http.StatusConflict

	// Forbidden - actor lacks the required role or identity
	case CodeProjectUnauthorized:
		return http.StatusForbidden

	// Not found - resource doesn't exist
	case CodeNotFound:
		return http.StatusNotFound

	default:
		return http.StatusInternalServerError
	}
}
