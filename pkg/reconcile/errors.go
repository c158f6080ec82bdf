package reconcile

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the reconciler and its stores.
var (
	ErrPartyNotFound         = errors.New("party not found")
	ErrPartyWithoutLegacyID  = errors.New("party has no legacy id")
	ErrNoDefaultUser         = errors.New("no default user")
	ErrInvalidPartyCode      = errors.New("invalid party code")
	ErrInvalidNewID          = errors.New("invalid new id")
	ErrInvalidLegacyID       = errors.New("invalid legacy id")
	ErrInvalidEntityType     = errors.New("invalid entity type")
	ErrInvalidRole           = errors.New("invalid role")
	ErrInvalidRecordStatus   = errors.New("invalid record status")
	ErrInvalidMode           = errors.New("invalid mode")
	ErrInvalidReconcilerConf = errors.New("invalid reconciler config")
	ErrSourceRecordMissing   = errors.New("source record missing")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
