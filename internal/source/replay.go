package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/mattmezza/drowsy/internal/geometry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// replayLine is one JSON line of a recorded session:
//
//	{"t": 0.033, "faces": [{"id": "driver", "points": [[x, y], ...]}]}
//
// t is seconds since the start of the recording and may be omitted, in
// which case frames are spaced by the configured fps.
type replayLine struct {
	T     *float64     `json:"t"`
	Faces []replayFace `json:"faces"`
}

type replayFace struct {
	ID     string       `json:"id"`
	Points [][2]float64 `json:"points"`
	Left   [][2]float64 `json:"left"`
	Right  [][2]float64 `json:"right"`
}

// ReplaySource reads recorded landmark frames from JSON lines.
type ReplaySource struct {
	scanner  *bufio.Scanner
	closer   io.Closer
	base     time.Time
	interval time.Duration
	pace     bool
	line     int
	index    uint64
	started  time.Time
}

type ReplayOption func(*ReplaySource)

// WithBaseTime anchors relative frame times. Defaults to time.Now().
func WithBaseTime(t time.Time) ReplayOption {
	return func(r *ReplaySource) { r.base = t }
}

// WithPacing sleeps between frames so a recording plays back in real time.
func WithPacing() ReplayOption {
	return func(r *ReplaySource) { r.pace = true }
}

func OpenReplay(path string, fps float64, opts ...ReplayOption) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay %s: %w", path, err)
	}
	r := NewReplaySource(f, fps, opts...)
	r.closer = f
	return r, nil
}

func NewReplaySource(r io.Reader, fps float64, opts ...ReplayOption) *ReplaySource {
	if fps <= 0 {
		fps = 30
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	src := &ReplaySource{
		scanner:  scanner,
		base:     time.Now(),
		interval: time.Duration(float64(time.Second) / fps),
	}
	for _, opt := range opts {
		opt(src)
	}
	return src
}

func (r *ReplaySource) Next(ctx context.Context) (Frame, error) {
	for r.scanner.Scan() {
		r.line++
		raw := strings.TrimSpace(r.scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}

		var line replayLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			return Frame{}, fmt.Errorf("replay line %d: %w", r.line, err)
		}

		offset := time.Duration(r.index) * r.interval
		if line.T != nil {
			offset = time.Duration(*line.T * float64(time.Second))
		}
		frame := Frame{
			Index: r.index,
			Time:  r.base.Add(offset),
			Faces: make([]Face, 0, len(line.Faces)),
		}
		for _, f := range line.Faces {
			frame.Faces = append(frame.Faces, Face{
				ID:        f.ID,
				Landmarks: toPoints(f.Points),
				Left:      toPoints(f.Left),
				Right:     toPoints(f.Right),
			})
		}
		r.index++

		if r.pace {
			if err := r.wait(ctx, offset); err != nil {
				return Frame{}, err
			}
		}
		return frame, nil
	}
	if err := r.scanner.Err(); err != nil {
		return Frame{}, fmt.Errorf("replay line %d: %w", r.line+1, err)
	}
	return Frame{}, io.EOF
}

func (r *ReplaySource) wait(ctx context.Context, offset time.Duration) error {
	if r.started.IsZero() {
		r.started = time.Now()
	}
	delay := time.Until(r.started.Add(offset))
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *ReplaySource) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

func toPoints(raw [][2]float64) []geometry.Point {
	if len(raw) == 0 {
		return nil
	}
	points := make([]geometry.Point, len(raw))
	for i, p := range raw {
		points[i] = geometry.Point{X: p[0], Y: p[1]}
	}
	return points
}
