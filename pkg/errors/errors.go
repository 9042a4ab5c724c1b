package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes surfaced to API callers
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeNotFound         = "NOT_FOUND"
	CodeInvalidAction    = "INVALID_ACTION"
	CodeInvalidState     = "INVALID_STATE"
	CodeInsufficientRole = "INSUFFICIENT_ROLE"
	CodeActiveRuns       = "ACTIVE_RUNS"
	CodeConflict         = "CONFLICT"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeDatabase         = "DB_ERROR"
	CodeInternal         = "INTERNAL_ERROR"
	CodeUnknown          = "UNKNOWN_ERROR"
)

// AppError is the base interface for all application errors
type AppError interface {
	error
	HTTPStatus() int
	Code() string
}

// NotFoundError represents a resource that was not found
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s with ID '%s' not found", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e *NotFoundError) HTTPStatus() int {
	return http.StatusNotFound
}

func (e *NotFoundError) Code() string {
	return CodeNotFound
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError represents invalid input
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

func (e *ValidationError) HTTPStatus() int {
	return http.StatusBadRequest
}

func (e *ValidationError) Code() string {
	return CodeValidation
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// InvalidActionError is returned when an action is not allowed for a stage type
type InvalidActionError struct {
	Action    string
	StageType string
}

func (e *InvalidActionError) Error() string {
	return fmt.Sprintf("action '%s' is not allowed on a %s stage", e.Action, e.StageType)
}

func (e *InvalidActionError) HTTPStatus() int {
	return http.StatusBadRequest
}

func (e *InvalidActionError) Code() string {
	return CodeInvalidAction
}

// NewInvalidActionError creates a new InvalidActionError
func NewInvalidActionError(action, stageType string) *InvalidActionError {
	return &InvalidActionError{Action: action, StageType: stageType}
}

// InvalidStateError is returned when a run cannot accept the requested operation
type InvalidStateError struct {
	Resource string
	ID       string
	Reason   string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s '%s' is in an invalid state: %s", e.Resource, e.ID, e.Reason)
}

func (e *InvalidStateError) HTTPStatus() int {
	return http.StatusBadRequest
}

func (e *InvalidStateError) Code() string {
	return CodeInvalidState
}

// NewInvalidStateError creates a new InvalidStateError
func NewInvalidStateError(resource, id, reason string) *InvalidStateError {
	return &InvalidStateError{Resource: resource, ID: id, Reason: reason}
}

// InsufficientRoleError represents a caller lacking the role a stage requires
type InsufficientRoleError struct {
	RequiredRole string
	UserID       string
}

func (e *InsufficientRoleError) Error() string {
	return fmt.Sprintf("role '%s' is required to act on this stage", e.RequiredRole)
}

func (e *InsufficientRoleError) HTTPStatus() int {
	return http.StatusForbidden
}

func (e *InsufficientRoleError) Code() string {
	return CodeInsufficientRole
}

// NewInsufficientRoleError creates a new InsufficientRoleError
func NewInsufficientRoleError(requiredRole, userID string) *InsufficientRoleError {
	return &InsufficientRoleError{RequiredRole: requiredRole, UserID: userID}
}

// ActiveRunsError blocks structural edits of a definition that still has active runs
type ActiveRunsError struct {
	WorkflowID string
	Count      int
}

func (e *ActiveRunsError) Error() string {
	return fmt.Sprintf("workflow '%s' has %d active run(s)", e.WorkflowID, e.Count)
}

func (e *ActiveRunsError) HTTPStatus() int {
	return http.StatusConflict
}

func (e *ActiveRunsError) Code() string {
	return CodeActiveRuns
}

// NewActiveRunsError creates a new ActiveRunsError
func NewActiveRunsError(workflowID string, count int) *ActiveRunsError {
	return &ActiveRunsError{WorkflowID: workflowID, Count: count}
}

// ConflictError represents a concurrent modification or duplicate data
type ConflictError struct {
	Resource string
	ID       string
	Reason   string
}

func (e *ConflictError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s '%s' conflict: %s", e.Resource, e.ID, e.Reason)
	}
	return fmt.Sprintf("%s '%s' was modified concurrently", e.Resource, e.ID)
}

func (e *ConflictError) HTTPStatus() int {
	return http.StatusConflict
}

func (e *ConflictError) Code() string {
	return CodeConflict
}

// NewConflictError creates a new ConflictError
func NewConflictError(resource, id, reason string) *ConflictError {
	return &ConflictError{Resource: resource, ID: id, Reason: reason}
}

// UnauthorizedError represents a request without caller identity
type UnauthorizedError struct {
	Reason string
}

func (e *UnauthorizedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unauthorized: %s", e.Reason)
	}
	return "unauthorized"
}

func (e *UnauthorizedError) HTTPStatus() int {
	return http.StatusUnauthorized
}

func (e *UnauthorizedError) Code() string {
	return CodeUnauthorized
}

// NewUnauthorizedError creates a new UnauthorizedError
func NewUnauthorizedError(reason string) *UnauthorizedError {
	return &UnauthorizedError{Reason: reason}
}

// DatabaseError wraps persistence failures
type DatabaseError struct {
	Op    string
	Cause error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database error during %s: %v", e.Op, e.Cause)
}

func (e *DatabaseError) HTTPStatus() int {
	return http.StatusInternalServerError
}

func (e *DatabaseError) Code() string {
	return CodeDatabase
}

func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

// NewDatabaseError creates a new DatabaseError
func NewDatabaseError(op string, cause error) *DatabaseError {
	return &DatabaseError{Op: op, Cause: cause}
}

// InternalError represents unexpected server errors
type InternalError struct {
	Message string
	Cause   error
}

func (e *InternalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("internal error: %s (caused by: %v)", e.Message, e.Cause)
	}
	return fmt.Sprintf("internal error: %s", e.Message)
}

func (e *InternalError) HTTPStatus() int {
	return http.StatusInternalServerError
}

func (e *InternalError) Code() string {
	return CodeInternal
}

func (e *InternalError) Unwrap() error {
	return e.Cause
}

// NewInternalError creates a new InternalError
func NewInternalError(message string, cause error) *InternalError {
	return &InternalError{Message: message, Cause: cause}
}

// IsNotFound checks if an error is a NotFoundError
func IsNotFound(err error) bool {
	var notFound *NotFoundError
	return errors.As(err, &notFound)
}

// IsValidation checks if an error is a ValidationError
func IsValidation(err error) bool {
	var validation *ValidationError
	return errors.As(err, &validation)
}

// IsConflict checks if an error is a ConflictError
func IsConflict(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict)
}

// GetHTTPStatus returns the HTTP status code for an error
// Returns 500 if the error doesn't implement AppError
func GetHTTPStatus(err error) int {
	var appErr AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// GetErrorCode returns the error code for an error
// Returns "UNKNOWN_ERROR" if the error doesn't implement AppError
func GetErrorCode(err error) string {
	var appErr AppError
	if errors.As(err, &appErr) {
		return appErr.Code()
	}
	return CodeUnknown
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ToResponse converts an error to an ErrorResponse
func ToResponse(err error) ErrorResponse {
	return ErrorResponse{
		Code:    GetErrorCode(err),
		Message: err.Error(),
	}
}
