package telemetry

import "context"

// Source delivers raw position reports for a drone. The payload may arrive in
// any of the wire formats tolerated by Normalize; callers must not decode it
// themselves.
type Source interface {
	GetReport(ctx context.Context, droneCode string) ([]byte, error)
}
