// Package errors holds the error definitions shared by the ring store,
// the ingestion path and the HTTP API.
//
// This file provides:
// - Sentinel errors for every failure kind of the store
// - Category checking functions
// - Code names and HTTP status mapping
// - Error wrapping utilities
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ============================================================================
// Error codes - used in JSON error bodies of the HTTP API
// ============================================================================

const (
	CodeUnknown          int32 = 1
	CodeUnknownChannel   int32 = 2
	CodeInvalidBatch     int32 = 3
	CodeStoreUnavailable int32 = 4
	CodeStoreUnreachable int32 = 5
	CodeOutOfOrder       int32 = 6
	CodeInvalidWindow    int32 = 7
	CodeQueueFull        int32 = 8
	CodeNotRunning       int32 = 9
	CodeUnknownDevice    int32 = 10
	CodeInvalidConfig    int32 = 11
	CodeInternal         int32 = 12
)

// CodeName returns a human-readable name for an error code.
func CodeName(code int32) string {
	switch code {
	case CodeUnknown:
		return "Unknown"
	case CodeUnknownChannel:
		return "UnknownChannel"
	case CodeInvalidBatch:
		return "InvalidBatch"
	case CodeStoreUnavailable:
		return "StoreUnavailable"
	case CodeStoreUnreachable:
		return "StoreUnreachable"
	case CodeOutOfOrder:
		return "OutOfOrderSample"
	case CodeInvalidWindow:
		return "InvalidWindow"
	case CodeQueueFull:
		return "QueueFull"
	case CodeNotRunning:
		return "NotRunning"
	case CodeUnknownDevice:
		return "UnknownDevice"
	case CodeInvalidConfig:
		return "InvalidConfig"
	case CodeInternal:
		return "Internal"
	default:
		return fmt.Sprintf("Code(%d)", code)
	}
}

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Catalog errors
	ErrUnknownChannel = errors.New("unknown channel")
	ErrUnknownDevice  = errors.New("unknown device")

	// Validation errors
	ErrInvalidBatch  = errors.New("invalid batch")
	ErrInvalidWindow = errors.New("invalid window")
	ErrInvalidConfig = errors.New("invalid configuration")

	// Store errors
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrStoreUnreachable = errors.New("store unreachable")
	ErrStoreClosed      = errors.New("store closed")

	// ErrOutOfOrderSample is advisory: the sample is older than the current
	// head of its channel. It only fails a write under the reject policy.
	ErrOutOfOrderSample = errors.New("out-of-order sample")

	// Ingestion errors
	ErrQueueFull  = errors.New("ingestion queue full")
	ErrNotRunning = errors.New("service not running")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// New is a convenience wrapper for errors.New
var New = errors.New

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// IsValidation returns true if err was caused by bad caller input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidBatch) ||
		errors.Is(err, ErrInvalidWindow) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrUnknownChannel) ||
		errors.Is(err, ErrUnknownDevice)
}

// IsUnavailable returns true if the backing store could not serve the call.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrStoreUnreachable) ||
		errors.Is(err, ErrStoreClosed)
}

// ============================================================================
// Error to code mapping
// ============================================================================

// ErrorToCode maps a sentinel error to its code.
func ErrorToCode(err error) int32 {
	if err == nil {
		return CodeUnknown
	}

	switch {
	case Is(err, ErrUnknownChannel):
		return CodeUnknownChannel
	case Is(err, ErrUnknownDevice):
		return CodeUnknownDevice
	case Is(err, ErrInvalidBatch):
		return CodeInvalidBatch
	case Is(err, ErrInvalidWindow):
		return CodeInvalidWindow
	case Is(err, ErrInvalidConfig):
		return CodeInvalidConfig
	case Is(err, ErrOutOfOrderSample):
		return CodeOutOfOrder
	case Is(err, ErrStoreUnreachable):
		return CodeStoreUnreachable
	case Is(err, ErrStoreUnavailable), Is(err, ErrStoreClosed):
		return CodeStoreUnavailable
	case Is(err, ErrQueueFull):
		return CodeQueueFull
	case Is(err, ErrNotRunning):
		return CodeNotRunning
	default:
		return CodeInternal
	}
}

// HTTPStatus maps an error to the status code the HTTP API answers with.
func HTTPStatus(err error) int {
	switch ErrorToCode(err) {
	case CodeUnknownChannel, CodeUnknownDevice:
		return http.StatusNotFound
	case CodeInvalidBatch, CodeInvalidWindow, CodeInvalidConfig, CodeOutOfOrder:
		return http.StatusBadRequest
	case CodeStoreUnavailable, CodeStoreUnreachable, CodeNotRunning:
		return http.StatusServiceUnavailable
	case CodeQueueFull:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Unavailable marks err as a store availability failure while keeping the
// original cause in the chain.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewUnknownChannel creates an unknown-channel error naming the channel.
func NewUnknownChannel(name string) error {
	return fmt.Errorf("channel '%s': %w", name, ErrUnknownChannel)
}

// NewUnknownDevice creates an unknown-device error naming the parameter.
func NewUnknownDevice(parameter string) error {
	return fmt.Errorf("device for parameter '%s': %w", parameter, ErrUnknownDevice)
}

// NewInvalidBatch creates an invalid-batch error with a reason.
func NewInvalidBatch(reason string) error {
	return fmt.Errorf("%s: %w", reason, ErrInvalidBatch)
}

// NewValidation creates a config validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}
