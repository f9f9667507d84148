// Package geometry computes the Eye Aspect Ratio (EAR) from facial landmark points.
package geometry

import (
	"errors"
	"fmt"
	"math"
)

// ErrMissingLandmarks is returned when a collaborator hands over fewer landmark
// points than an eye or a face requires. It indicates a caller bug, not noise.
var ErrMissingLandmarks = errors.New("missing landmarks")

// Number of points that make up one eye.
const EyePoints = 6

// FacePoints is the size of the 68-point facial landmark model.
const FacePoints = 68

// Landmark index ranges in the 68-point model.
var (
	LeftEyeIndices  = [EyePoints]int{36, 37, 38, 39, 40, 41}
	RightEyeIndices = [EyePoints]int{42, 43, 44, 45, 46, 47}
)

// Point is a single 2-D landmark coordinate in image pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// EyeLandmarks holds the six ordered points of one eye.
// Index 0 is the outer corner, 3 the inner corner, (1,5) and (2,4) the
// vertical eyelid pairs.
type EyeLandmarks [EyePoints]Point

// Distance returns the Euclidean distance between a and b.
func Distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// NewEyeLandmarks builds an EyeLandmarks from exactly six points.
func NewEyeLandmarks(points []Point) (EyeLandmarks, error) {
	var eye EyeLandmarks
	if len(points) != EyePoints {
		return eye, fmt.Errorf("eye needs %d points, got %d: %w", EyePoints, len(points), ErrMissingLandmarks)
	}
	copy(eye[:], points)
	return eye, nil
}

// EAR computes (|p1-p5| + |p2-p4|) / (2·|p0-p3|).
// ok is false when the eye corners coincide and the ratio is undefined;
// callers must skip the reading rather than use the returned value.
func EAR(eye EyeLandmarks) (ear float64, ok bool) {
	width := Distance(eye[0], eye[3])
	if width == 0 || math.IsNaN(width) {
		return 0, false
	}
	vertical := Distance(eye[1], eye[5]) + Distance(eye[2], eye[4])
	ear = vertical / (2 * width)
	if math.IsInf(ear, 0) || math.IsNaN(ear) {
		return 0, false
	}
	return ear, true
}

// EyesFromFace extracts the left and right eyes from a 68-point face.
func EyesFromFace(points []Point) (left, right EyeLandmarks, err error) {
	// Only the eye ranges are needed, so anything covering index 47 is enough.
	need := RightEyeIndices[EyePoints-1] + 1
	if len(points) < need {
		return left, right, fmt.Errorf("face needs at least %d points, got %d: %w", need, len(points), ErrMissingLandmarks)
	}
	for i, idx := range LeftEyeIndices {
		left[i] = points[idx]
	}
	for i, idx := range RightEyeIndices {
		right[i] = points[idx]
	}
	return left, right, nil
}
