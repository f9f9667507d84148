// Package history keeps a bounded window of recent EAR samples per face.
package history

import (
	"sync"
	"time"

	"github.com/mattmezza/drowsy/internal/util"
)

type DataPoint struct {
	Timestamp time.Time
	Value     float64
}

// rateHeadroom lets the buffer absorb frames arriving up to this many times
// faster than the nominal interval before the point cap starts cutting the
// time window short.
const rateHeadroom = 4

type EARHistoryBuffer struct {
	sync.RWMutex
	buffers       map[string][]DataPoint // faceID -> []DataPoint
	maxAge        time.Duration          // Window kept behind the newest point, 0 means count only
	maxDataPoints int                    // Hard cap per face
}

// NewEARHistoryBuffer keeps maxAge worth of samples per face. frameInterval
// is the nominal spacing and only bounds memory.
func NewEARHistoryBuffer(maxAge time.Duration, frameInterval time.Duration) *EARHistoryBuffer {
	if maxAge <= 0 || frameInterval <= 0 {
		return &EARHistoryBuffer{
			buffers:       make(map[string][]DataPoint),
			maxDataPoints: 300,
		}
	}
	maxDataPoints := int(maxAge/frameInterval)*rateHeadroom + 1
	if maxDataPoints < 2 {
		maxDataPoints = 2
	}

	return &EARHistoryBuffer{
		buffers:       make(map[string][]DataPoint),
		maxAge:        maxAge,
		maxDataPoints: maxDataPoints,
	}
}

// AddDataPoint records a defined EAR sample for a face. Points older than
// maxAge behind it are evicted, then the oldest beyond maxDataPoints.
func (hb *EARHistoryBuffer) AddDataPoint(faceID string, value float64, timestamp time.Time) {
	hb.Lock()
	defer hb.Unlock()

	points, exists := hb.buffers[faceID]
	if !exists {
		points = make([]DataPoint, 0, 16)
	}

	points = append(points, DataPoint{Timestamp: timestamp, Value: value})

	if hb.maxAge > 0 {
		cutoff := timestamp.Add(-hb.maxAge)
		i := 0
		for i < len(points) && points[i].Timestamp.Before(cutoff) {
			i++
		}
		points = points[i:]
	}
	if len(points) > hb.maxDataPoints {
		points = points[len(points)-hb.maxDataPoints:] // Keep the newest N points
	}
	hb.buffers[faceID] = points
}

// GetDataPointsSince returns, in chronological order, the points recorded
// at or after since.
func (hb *EARHistoryBuffer) GetDataPointsSince(faceID string, since time.Time) []DataPoint {
	hb.RLock()
	defer hb.RUnlock()

	points := hb.buffers[faceID]
	i := len(points)
	for i > 0 && !points[i-1].Timestamp.Before(since) {
		i--
	}
	if i == len(points) {
		return nil
	}
	result := make([]DataPoint, len(points)-i)
	copy(result, points[i:])
	return result
}

// GetLatestDataPoint returns the most recent data point for a face, if any.
func (hb *EARHistoryBuffer) GetLatestDataPoint(faceID string) (DataPoint, bool) {
	hb.RLock()
	defer hb.RUnlock()

	points, exists := hb.buffers[faceID]
	if !exists || len(points) == 0 {
		return DataPoint{}, false
	}
	return points[len(points)-1], true
}

// Forget drops everything recorded for a face.
func (hb *EARHistoryBuffer) Forget(faceID string) {
	hb.Lock()
	defer hb.Unlock()
	delete(hb.buffers, faceID)
}

// Average returns the mean value of points, ok is false for an empty slice.
func Average(points []DataPoint) (float64, bool) {
	if len(points) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, dp := range points {
		sum += dp.Value
	}
	return sum / float64(len(points)), true
}

// WindowFor returns how much history must be kept to cover one sustain
// period, with at least two frames of slack.
func WindowFor(sustain util.Sustain, frameInterval time.Duration) time.Duration {
	window := sustain.Duration
	if sustain.IsFrames() {
		window = time.Duration(sustain.Frames) * frameInterval
	}
	if minWindow := 2 * frameInterval; window < minWindow {
		return minWindow
	}
	return window + 2*frameInterval
}
