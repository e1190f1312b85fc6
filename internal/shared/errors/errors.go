package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error types for different domains
type ErrorType string

const (
	ErrorTypeValidation     ErrorType = "VALIDATION_ERROR"
	ErrorTypeInfrastructure ErrorType = "INFRASTRUCTURE_ERROR"
	ErrorTypeNotFound       ErrorType = "NOT_FOUND_ERROR"
	ErrorTypeConflict       ErrorType = "CONFLICT_ERROR"
	ErrorTypeInternal       ErrorType = "INTERNAL_ERROR"

	// Harvest pipeline errors
	ErrorTypeEntityProvision ErrorType = "ENTITY_PROVISION_ERROR"
	ErrorTypeResourceMirror  ErrorType = "RESOURCE_MIRROR_ERROR"
)

// Common application errors
var (
	ErrNotFound = errors.New("resource not found")
)

// Harvest-specific errors
var (
	ErrMissingDatasetName = errors.New("dataset name is required")
	ErrUnknownHarvester   = errors.New("unknown harvester")
	ErrDatasetNotFound    = errors.New("dataset not found")
)

// AppError represents a custom application error with context
type AppError struct {
	Type      ErrorType              `json:"type"`
	Message   string                 `json:"message"`
	Code      string                 `json:"code,omitempty"`
	HTTPCode  int                    `json:"-"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Cause     error                  `json:"-"`
	Component string                 `json:"component,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, message string, httpCode int) *AppError {
	return &AppError{
		Type:     errorType,
		Message:  message,
		HTTPCode: httpCode,
		Details:  make(map[string]interface{}),
	}
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithCause adds the underlying cause
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithComponent adds the component name
func (e *AppError) WithComponent(component string) *AppError {
	e.Component = component
	return e
}

// WithDetail adds a detail field
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Common error constructors

// NewValidationError creates a validation error. Validation errors are never retried.
func NewValidationError(message string) *AppError {
	return NewAppError(ErrorTypeValidation, message, http.StatusBadRequest)
}

// NewInfrastructureError creates an infrastructure error (transient network failures)
func NewInfrastructureError(message string) *AppError {
	return NewAppError(ErrorTypeInfrastructure, message, http.StatusBadGateway)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *AppError {
	return NewAppError(ErrorTypeConflict, message, http.StatusConflict)
}

// NewInternalError creates an internal server error
func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, message, http.StatusInternalServerError)
}

// NewEntityProvisionError reports a failure to ensure an organization or group.
func NewEntityProvisionError(kind, name string) *AppError {
	return NewAppError(ErrorTypeEntityProvision, fmt.Sprintf("failed to ensure %s %q", kind, name), http.StatusBadGateway).
		WithDetail("entity_kind", kind).
		WithDetail("entity_name", name)
}

// NewMirrorError reports a resource that could not be copied into blob storage.
func NewMirrorError(resourceName, url string) *AppError {
	return NewAppError(ErrorTypeResourceMirror, fmt.Sprintf("failed to mirror resource %q", resourceName), http.StatusBadGateway).
		WithDetail("resource_name", resourceName).
		WithDetail("url", url)
}

// ValidationError represents validation errors for multiple fields
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// ValidationErrors represents a collection of validation errors
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

// Error implements the error interface
func (ve *ValidationErrors) Error() string {
	if len(ve.Errors) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", ve.Errors[0].Message)
}

// NewValidationErrors creates a new validation errors instance
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{
		Errors: make([]ValidationError, 0),
	}
}

// Add adds a validation error
func (ve *ValidationErrors) Add(field, message string, value interface{}) *ValidationErrors {
	ve.Errors = append(ve.Errors, ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	})
	return ve
}

// HasErrors returns true if there are validation errors
func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Errors) > 0
}

// ToAppError converts validation errors to an AppError
func (ve *ValidationErrors) ToAppError() *AppError {
	if !ve.HasErrors() {
		return nil
	}

	appErr := NewValidationError(ve.Error())
	appErr.Details["validation_errors"] = ve.Errors
	return appErr
}

// TypeOf returns the AppError type carried by err, or "" for foreign errors.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}

func hasType(err error, t ErrorType) bool {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Type == t {
			return true
		}
		err = appErr.Cause
	}
	return false
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	if hasType(err, ErrorTypeNotFound) {
		return true
	}
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrDatasetNotFound)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	if hasType(err, ErrorTypeValidation) {
		return true
	}
	var ve *ValidationErrors
	return errors.As(err, &ve) || errors.Is(err, ErrMissingDatasetName)
}

// IsConflict checks if an error is a conflict error
func IsConflict(err error) bool {
	return hasType(err, ErrorTypeConflict)
}

// IsInfrastructure checks if an error is a transient infrastructure error
func IsInfrastructure(err error) bool {
	return hasType(err, ErrorTypeInfrastructure)
}

// IsEntityProvision checks if an error came from organization or group provisioning
func IsEntityProvision(err error) bool {
	return hasType(err, ErrorTypeEntityProvision)
}

// IsMirrorDegradation checks if an error is a resource mirror degradation
func IsMirrorDegradation(err error) bool {
	return hasType(err, ErrorTypeResourceMirror)
}
