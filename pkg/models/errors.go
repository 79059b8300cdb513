// Package models defines the core domain types for the irrigation planning
// and execution system: farm topology, water-level readings, plans, and
// execution state.
package models

import (
	"errors"
	"strconv"
)

// Sentinel errors, one per error kind distinguished in the error handling
// design. Callers use errors.Is/errors.As to tell them apart.
var (
	// Config invalid
	ErrInvalidFarmConfig = errors.New("farm configuration is invalid")
	ErrInvalidGateID     = errors.New("gate id does not match the expected SEGMENT-Gn pattern")

	// Data missing
	ErrPlanNotFound   = errors.New("plan not found")
	ErrBatchNotFound  = errors.New("batch index out of range")
	ErrFieldNotFound  = errors.New("field not found")
	ErrSegmentNotFound = errors.New("segment not found")
	ErrGateNotFound   = errors.New("gate not found")
	ErrPumpNotFound   = errors.New("pump not found")

	// Water-level reading validation
	ErrReadingOutOfBounds = errors.New("reading value outside the 0-1000mm band")
	ErrReadingInvalid     = errors.New("reading quality is invalid")

	// Sensor unavailable
	ErrSensorUnavailable = errors.New("sensor API unavailable")
	ErrSensorTimeout     = errors.New("sensor API call timed out")
	ErrSensorThrottled   = errors.New("sensor API call throttled")

	// Regeneration rejected
	ErrRegenerationRejected = errors.New("regenerated batch exceeds validation bounds")

	// Device dispatch
	ErrDispatchFailed = errors.New("device control callback returned failure")

	// Cancellation
	ErrExecutionCancelled = errors.New("execution cancelled")

	// Invariant violations
	ErrIllegalTransition = errors.New("illegal batch state transition")
	ErrNotRunning        = errors.New("scheduler is not running")
	ErrAlreadyRunning    = errors.New("scheduler is already running")
)

// PlanError reports an error tied to a specific plan.
type PlanError struct {
	PlanID string
	Op     string
	Err    error
}

func (e *PlanError) Error() string {
	return "plan " + e.PlanID + " " + e.Op + ": " + e.Err.Error()
}

func (e *PlanError) Unwrap() error { return e.Err }

// BatchError reports an error tied to one batch of a running execution.
type BatchError struct {
	BatchIndex int
	Op         string
	Err        error
}

func (e *BatchError) Error() string {
	return "batch " + strconv.Itoa(e.BatchIndex) + " " + e.Op + ": " + e.Err.Error()
}

func (e *BatchError) Unwrap() error { return e.Err }

// RegenerationRejectedError carries the reason a batch regeneration was
// rejected by the validation bounds check.
type RegenerationRejectedError struct {
	BatchIndex int
	Reason     string
}

func (e *RegenerationRejectedError) Error() string {
	return "batch " + strconv.Itoa(e.BatchIndex) + " regeneration rejected: " + e.Reason
}

func (e *RegenerationRejectedError) Unwrap() error { return ErrRegenerationRejected }

// DispatchError reports a device-control callback failure.
type DispatchError struct {
	DeviceID string
	Action   string
	Err      error
}

func (e *DispatchError) Error() string {
	return "dispatch " + e.DeviceID + " " + e.Action + ": " + e.Err.Error()
}

func (e *DispatchError) Unwrap() error { return e.Err }

// ValidationError represents one field-level validation failure in a farm
// configuration document.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors aggregates multiple field-level validation failures.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Error()
}

