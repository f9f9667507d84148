package display

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/mattmezza/drowsy/internal/logging"
	"github.com/mattmezza/drowsy/internal/source"
)

// CameraSource grabs frames from a capture device and asks a Landmarker
// for the faces in each of them. It implements source.Source.
type CameraSource struct {
	device     int
	capture    *gocv.VideoCapture
	landmarker source.Landmarker
	img        gocv.Mat
	index      uint64
	log        *logrus.Entry
}

func OpenCamera(device int, landmarker source.Landmarker) (*CameraSource, error) {
	capture, err := gocv.VideoCaptureDevice(device)
	if err != nil {
		return nil, fmt.Errorf("open capture device %d: %w", device, err)
	}
	return &CameraSource{
		device:     device,
		capture:    capture,
		landmarker: landmarker,
		img:        gocv.NewMat(),
		log:        logging.With(logging.Fields{"device": device}),
	}, nil
}

// Next reads one frame. A landmarker failure yields a frame without faces
// so that tracked faces keep their state.
func (c *CameraSource) Next(ctx context.Context) (source.Frame, error) {
	if err := ctx.Err(); err != nil {
		return source.Frame{}, err
	}
	if ok := c.capture.Read(&c.img); !ok || c.img.Empty() {
		return source.Frame{}, fmt.Errorf("capture device %d stopped delivering frames: %w", c.device, io.EOF)
	}

	frame := source.Frame{Index: c.index, Time: time.Now()}
	c.index++

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, c.img)
	if err != nil {
		c.log.WithError(err).Warn("failed to encode frame")
		return frame, nil
	}
	defer buf.Close()

	faces, err := c.landmarker.Landmarks(ctx, buf.GetBytes())
	if err != nil {
		c.log.WithError(err).Warn("landmark detection failed")
		return frame, nil
	}
	frame.Faces = faces
	return frame, nil
}

// Mat returns the most recently captured image. It is overwritten by the
// next call to Next.
func (c *CameraSource) Mat() *gocv.Mat {
	return &c.img
}

func (c *CameraSource) Close() error {
	c.img.Close()
	return c.capture.Close()
}
