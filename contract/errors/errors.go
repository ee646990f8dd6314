package errors

import "fmt"

// Error codes for the bus and lifecycle contracts. Keep stable; used across adapters, bus and supervisor.
const (
	ErrCodeInvalidMessage   = "eventbus.invalid_message"
	ErrCodeInvalidHandler   = "eventbus.invalid_handler"
	ErrCodeDuplicateBinding = "eventbus.duplicate_binding"
	ErrCodeNotRegistered    = "eventbus.not_registered"
	ErrCodeDeliveryFailed   = "eventbus.delivery_failed"
	ErrCodeClosed           = "eventbus.closed"

	ErrCodeInvalidServiceSet = "lifecycle.invalid_service_set"
	ErrCodeIllegalState      = "lifecycle.illegal_state"
	ErrCodeTimeout           = "lifecycle.timeout"
	ErrCodeServiceFailure    = "lifecycle.service_failure"
	ErrCodeInvalidSchedule   = "lifecycle.invalid_schedule"
	ErrCodeInvalidService    = "lifecycle.invalid_service"

	ErrCodeSinkNotConfigured   = "sink.not_configured"
	ErrCodeForwardFailed       = "sink.forward_failed"
	ErrCodeSerializationFailed = "sink.serialization_failed"

	ErrCodeInvalidConfig = "config.invalid"
)

// Code returns an error value that carries only a code string.
// It implements error by returning the code string in Error().
func Code(code string) error { return codedError(code) }

type codedError string

func (e codedError) Error() string { return string(e) }

var (
	ErrInvalidMessage   = Code(ErrCodeInvalidMessage)
	ErrInvalidHandler   = Code(ErrCodeInvalidHandler)
	ErrDuplicateBinding = Code(ErrCodeDuplicateBinding)
	ErrNotRegistered    = Code(ErrCodeNotRegistered)
	ErrDeliveryFailed   = Code(ErrCodeDeliveryFailed)
	ErrClosed           = Code(ErrCodeClosed)

	ErrInvalidServiceSet = Code(ErrCodeInvalidServiceSet)
	ErrIllegalState      = Code(ErrCodeIllegalState)
	ErrTimeout           = Code(ErrCodeTimeout)
	ErrServiceFailure    = Code(ErrCodeServiceFailure)
	ErrInvalidSchedule   = Code(ErrCodeInvalidSchedule)
	ErrInvalidService    = Code(ErrCodeInvalidService)

	ErrSinkNotConfigured   = Code(ErrCodeSinkNotConfigured)
	ErrForwardFailed       = Code(ErrCodeForwardFailed)
	ErrSerializationFailed = Code(ErrCodeSerializationFailed)

	ErrInvalidConfig = Code(ErrCodeInvalidConfig)
)

// DeliveryError reports a single failed handler invocation.
// It matches ErrDeliveryFailed and its cause with errors.Is.
type DeliveryError struct {
	Handler     string
	MessageType string
	Err         error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s to %s: %v", e.MessageType, e.Handler, e.Err)
}

func (e *DeliveryError) Unwrap() []error { return []error{ErrDeliveryFailed, e.Err} }

// ServiceFailureError reports the error that moved a service to FAILED.
// State is the state the service failed from.
type ServiceFailureError struct {
	Service string
	State   string
	Err     error
}

func (e *ServiceFailureError) Error() string {
	return fmt.Sprintf("service %s failed while %s: %v", e.Service, e.State, e.Err)
}

func (e *ServiceFailureError) Unwrap() []error { return []error{ErrServiceFailure, e.Err} }
