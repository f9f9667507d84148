// Package source supplies per-frame facial landmarks to the alerter.
// Face detection, landmark extraction and identity tracking happen in
// external collaborators; a source only delivers their output.
package source

import (
	"context"
	"time"

	"github.com/mattmezza/drowsy/internal/geometry"
)

// Face is one detected face in one frame. ID must be stable across frames
// for the same person. Landmarks holds a 68-point face; alternatively Left
// and Right carry the six eye points directly.
type Face struct {
	ID        string
	Landmarks []geometry.Point
	Left      []geometry.Point
	Right     []geometry.Point
}

// Eyes returns the ordered eye landmarks, or an error wrapping
// geometry.ErrMissingLandmarks when the collaborator sent too few points.
func (f Face) Eyes() (left, right geometry.EyeLandmarks, err error) {
	if len(f.Left) > 0 || len(f.Right) > 0 {
		if left, err = geometry.NewEyeLandmarks(f.Left); err != nil {
			return left, right, err
		}
		right, err = geometry.NewEyeLandmarks(f.Right)
		return left, right, err
	}
	return geometry.EyesFromFace(f.Landmarks)
}

// Frame is everything known about one captured video frame.
type Frame struct {
	Index uint64
	Time  time.Time // monotonic for live sources
	Faces []Face
}

// Source yields frames in capture order. Next returns io.EOF when the
// source is exhausted.
type Source interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
}
