package models

import "errors"

// Error taxonomy shared across services. Validation errors
// (ErrInvalidTransition, ErrAlreadyRecorded, ErrUnparsablePosition) indicate a
// caller or upstream-data defect and must never be retried automatically.
// ErrNoDroneAvailable is retryable by caller policy.
var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrDeliveryNotFound   = errors.New("delivery not found")
	ErrDroneNotFound      = errors.New("drone not found")
	ErrInvalidTransition  = errors.New("invalid order transition")
	ErrTerminalOrder      = errors.New("order is in a terminal status")
	ErrNoDroneAvailable   = errors.New("no drone available")
	ErrAlreadyRecorded    = errors.New("delivery stage already recorded")
	ErrUnparsablePosition = errors.New("unparsable position report")
)
