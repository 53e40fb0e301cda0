package device

import "errors"

// Sentinel errors; repository and validation errors wrap these, so match
// with errors.Is.
var (
	ErrDeviceNotFound  = errors.New("device: not found")
	ErrDeviceNameTaken = errors.New("device: name already exists")

	ErrInvalidName      = errors.New("device: invalid name")
	ErrInvalidStatus    = errors.New("device: invalid status")
	ErrInvalidUnitType  = errors.New("device: invalid unit type")
	ErrInvalidPosition  = errors.New("device: invalid position")
	ErrInvalidTelemetry = errors.New("device: invalid telemetry")
)
