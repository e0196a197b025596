package audio

import (
	"context"
	"errors"

	"PIIReview/model"
)

// ErrUndecodable is returned when no playback metadata can be read from a payload.
var ErrUndecodable = errors.New("audio: payload could not be decoded")

// Prober reads playback metadata from an artifact.
type Prober interface {
	// Duration returns the playable length in seconds.
	Duration(ctx context.Context, a *model.Artifact) (float64, error)
}
