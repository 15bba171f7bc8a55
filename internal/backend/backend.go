// Package backend provides the analysis capability behind the coaching
// pipeline: three interchangeable backends that turn raw image bytes into a
// frame measurement, and the orchestrator that tries them in priority order.
package backend

import (
	"context"

	"github.com/rescuelabs/cprd/internal/analysis"
)

// Backend turns raw image bytes into one frame's measurements.
//
// Implementations never return an error: faults are encoded in
// Result.Error so the orchestrator alone decides what a failure means.
// Implementations must respect ctx cancellation and not block past it.
type Backend interface {
	// Name is the stable identifier used in configuration and logs.
	Name() string

	Analyze(ctx context.Context, image []byte) analysis.Result
}
