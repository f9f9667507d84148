// Package display draws overlay requests on camera frames and shows them in
// a window. It is the only place, together with the camera source, that
// links against OpenCV.
package display

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/mattmezza/drowsy/internal/overlay"
)

// Render draws the eye hulls and text of reqs onto img in place.
func Render(img *gocv.Mat, reqs overlay.Requests) {
	for _, c := range reqs.Contours {
		if len(c.Points) < 3 {
			continue
		}
		hull := convexHull(c.Points)
		contours := gocv.NewPointsVectorFromPoints([][]image.Point{hull})
		gocv.DrawContours(img, contours, -1, c.Color, c.Thickness)
		contours.Close()
	}
	for _, t := range reqs.Texts {
		gocv.PutTextWithParams(img, t.Text, t.Position, gocv.FontHersheyDuplex, t.Scale, t.Color, t.Thickness, gocv.LineAA, false)
	}
}

func convexHull(points []image.Point) []image.Point {
	pv := gocv.NewPointVectorFromPoints(points)
	defer pv.Close()

	hull := gocv.NewMat()
	defer hull.Close()
	gocv.ConvexHull(pv, &hull, true, true)

	// With returnPoints the hull is an Nx1 CV_32SC2 matrix of coordinates.
	out := make([]image.Point, 0, hull.Rows())
	for i := 0; i < hull.Rows(); i++ {
		v := hull.GetVeciAt(i, 0)
		out = append(out, image.Pt(int(v[0]), int(v[1])))
	}
	if len(out) == 0 {
		return points
	}
	return out
}
