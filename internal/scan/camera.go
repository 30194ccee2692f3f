package scan

import (
	"context"
	"image"
)

// Facing is the preferred camera direction.
type Facing string

// Camera facings.
const (
	FacingRear  Facing = "rear"
	FacingFront Facing = "front"
)

// Camera opens frame streams. Open returns ErrPermissionDenied or ErrCameraUnavailable
// (possibly wrapped) when capture is impossible.
type Camera interface {
	Open(ctx context.Context, facing Facing) (Stream, error)
}

// Stream yields frames until closed. Next returns ErrStreamEnded when the source is exhausted.
type Stream interface {
	Next(ctx context.Context) (image.Image, error)
	Close() error
}
