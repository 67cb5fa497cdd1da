package models

import (
	"errors"
	"fmt"
)

// Classification tags a DeliveryError as Poison (never retry, acknowledge
// and move on) or Retryable (leave on the queue / let redelivery run).
type Classification int

const (
	Retryable Classification = iota
	Poison
)

func (c Classification) String() string {
	if c == Poison {
		return "poison"
	}
	return "retryable"
}

// DeliveryError is the single error type the worker loop dispatches on. It
// carries a Classification instead of relying on type assertions, per the
// redesign away from exception-based control flow (§9).
type DeliveryError struct {
	Classification Classification
	Reason         string
	TenantID       string // empty when the error isn't tenant-scoped
	Err            error
}

func (e *DeliveryError) Error() string {
	prefix := e.Classification.String()
	if e.TenantID != "" {
		prefix = fmt.Sprintf("%s (tenant %s)", prefix, e.TenantID)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Reason)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// IsPoison reports whether err (or anything it wraps) is a poison DeliveryError.
func IsPoison(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Classification == Poison
}

// IsNonRecoverable is an alias for IsPoison kept for the worker-loop call
// sites that phrase the check as "should this record be acknowledged".
func IsNonRecoverable(err error) bool {
	return IsPoison(err)
}

// NewPoisonError builds a tenant-scoped poison error.
func NewPoisonError(tenantID, reason string) *DeliveryError {
	return &DeliveryError{Classification: Poison, Reason: reason, TenantID: tenantID}
}

// WrapPoisonError wraps an underlying error as poison.
func WrapPoisonError(tenantID, reason string, err error) *DeliveryError {
	return &DeliveryError{Classification: Poison, Reason: reason, TenantID: tenantID, Err: err}
}

// NewRetryableError builds a retryable error with no underlying cause.
func NewRetryableError(reason string) *DeliveryError {
	return &DeliveryError{Classification: Retryable, Reason: reason}
}

// WrapRetryableError wraps an underlying error as retryable.
func WrapRetryableError(reason string, err error) *DeliveryError {
	return &DeliveryError{Classification: Retryable, Reason: reason, Err: err}
}

// NewTenantNotFoundError builds the poison error raised when a tenant has no
// usable delivery configuration (§4.2 "fail closed").
func NewTenantNotFoundError(tenantID, reason string) *DeliveryError {
	if reason == "" {
		reason = "no delivery configurations found for tenant"
	}
	return NewPoisonError(tenantID, reason)
}

// NewInvalidNotificationError builds the poison error raised when an envelope
// or object key fails to parse (§4.7, §3 Object Key Schema).
func NewInvalidNotificationError(reason string) *DeliveryError {
	return &DeliveryError{Classification: Poison, Reason: "invalid notification: " + reason}
}
