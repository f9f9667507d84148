// Package overlay describes what should be drawn over a frame for each face.
// It produces plain requests; drawing them is the renderer's business.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/mattmezza/drowsy/internal/classifier"
	"github.com/mattmezza/drowsy/internal/geometry"
)

var (
	Red  = color.RGBA{R: 255, A: 255}
	Blue = color.RGBA{B: 255, A: 255}
	Edge = color.RGBA{R: 255, G: 255, A: 255}
)

const (
	BlinkText  = "You are blinking."
	DrowsyText = "You are drowsy!"

	// Each additional face shifts its notices down so they do not overlap.
	slotStride = 40
)

type TextRequest struct {
	Text      string
	Position  image.Point
	Color     color.RGBA
	Scale     float64
	Thickness int
}

type ContourRequest struct {
	Points    []image.Point
	Color     color.RGBA
	Thickness int
}

type Requests struct {
	Contours []ContourRequest
	Texts    []TextRequest
}

// Input is what one face contributed in one frame.
type Input struct {
	Left, Right    geometry.EyeLandmarks
	Classification classifier.Classification
	Alerting       bool
	Slot           int // position of the face within the frame
}

// Build returns both eye contours, the live EAR label and the blink and
// drowsiness notices when they apply.
func Build(in Input) Requests {
	reqs := Requests{
		Contours: []ContourRequest{
			{Points: eyePolygon(in.Left), Color: Red, Thickness: 2},
			{Points: eyePolygon(in.Right), Color: Red, Thickness: 2},
		},
	}

	shift := image.Pt(0, in.Slot*slotStride)

	label := "EAR: n/a"
	if in.Classification.Defined {
		label = fmt.Sprintf("EAR: %.2f", in.Classification.AvgEAR)
	}
	reqs.Texts = append(reqs.Texts, TextRequest{
		Text:      label,
		Position:  labelAnchor(in.Left, in.Right),
		Color:     Edge,
		Scale:     0.6,
		Thickness: 1,
	})

	if in.Classification.Blinking {
		reqs.Texts = append(reqs.Texts, TextRequest{
			Text:      BlinkText,
			Position:  image.Pt(50, 100).Add(shift),
			Color:     Red,
			Scale:     1.2,
			Thickness: 2,
		})
	}
	if in.Alerting {
		reqs.Texts = append(reqs.Texts, TextRequest{
			Text:      DrowsyText,
			Position:  image.Pt(50, 400).Add(shift),
			Color:     Blue,
			Scale:     1.5,
			Thickness: 3,
		})
	}
	return reqs
}

// Merge appends other's requests to r.
func (r *Requests) Merge(other Requests) {
	r.Contours = append(r.Contours, other.Contours...)
	r.Texts = append(r.Texts, other.Texts...)
}

func eyePolygon(eye geometry.EyeLandmarks) []image.Point {
	pts := make([]image.Point, len(eye))
	for i, p := range eye {
		pts[i] = image.Pt(int(math.Round(p.X)), int(math.Round(p.Y)))
	}
	return pts
}

// labelAnchor places the EAR label just above the higher of the two eyes,
// starting at the leftmost corner.
func labelAnchor(left, right geometry.EyeLandmarks) image.Point {
	minX, minY := math.Inf(1), math.Inf(1)
	for _, eye := range [2]geometry.EyeLandmarks{left, right} {
		for _, p := range eye {
			minX = math.Min(minX, p.X)
			minY = math.Min(minY, p.Y)
		}
	}
	y := int(math.Round(minY)) - 15
	if y < 15 {
		y = 15
	}
	return image.Pt(int(math.Round(minX)), y)
}
