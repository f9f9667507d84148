package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattmezza/drowsy/internal/util"
)

const frame = time.Second / 30

func TestNewEARHistoryBuffer(t *testing.T) {
	testCases := []struct {
		name              string
		maxAge            time.Duration
		frameInterval     time.Duration
		expectedMaxPoints int
	}{
		{
			name:              "ten_seconds_at_10fps",
			maxAge:            10 * time.Second,
			frameInterval:     100 * time.Millisecond,
			expectedMaxPoints: 401,
		},
		{
			name:              "minimum_buffer_size",
			maxAge:            10 * time.Millisecond,
			frameInterval:     time.Second,
			expectedMaxPoints: 2,
		},
		{
			name:              "zero_duration_defaults",
			expectedMaxPoints: 300,
		},
		{
			name:              "negative_duration_defaults",
			maxAge:            -time.Minute,
			frameInterval:     -time.Second,
			expectedMaxPoints: 300,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buffer := NewEARHistoryBuffer(tc.maxAge, tc.frameInterval)
			require.NotNil(t, buffer)
			assert.Equal(t, tc.expectedMaxPoints, buffer.maxDataPoints)
			assert.Empty(t, buffer.buffers)
		})
	}
}

func TestAddDataPointEvictsOldest(t *testing.T) {
	buffer := NewEARHistoryBuffer(2*time.Second, time.Second)
	start := time.Unix(1000, 0)

	for i := 0; i < 5; i++ {
		buffer.AddDataPoint("driver", float64(i)/10, start.Add(time.Duration(i)*time.Second))
	}

	points := buffer.GetDataPointsSince("driver", time.Time{})
	require.Len(t, points, 3)
	assert.InDelta(t, 0.2, points[0].Value, 1e-9)
	assert.InDelta(t, 0.4, points[2].Value, 1e-9)
}

func TestFasterFramesKeepFullWindow(t *testing.T) {
	// Nominal 10 fps, real camera delivering 30 fps.
	buffer := NewEARHistoryBuffer(time.Second, 100*time.Millisecond)
	start := time.Unix(1000, 0)

	for i := 0; i < 30; i++ {
		buffer.AddDataPoint("driver", 0.25, start.Add(time.Duration(i)*frame))
	}
	assert.Len(t, buffer.GetDataPointsSince("driver", start), 30)

	// One second later everything before the cutoff is gone.
	buffer.AddDataPoint("driver", 0.3, start.Add(29*frame+time.Second))
	points := buffer.GetDataPointsSince("driver", time.Time{})
	require.Len(t, points, 2)
	assert.Equal(t, start.Add(29*frame), points[0].Timestamp)
}

func TestGetDataPointsSince(t *testing.T) {
	buffer := NewEARHistoryBuffer(time.Minute, frame)
	start := time.Unix(1000, 0)
	for i := 0; i < 10; i++ {
		buffer.AddDataPoint("driver", 0.3, start.Add(time.Duration(i)*frame))
	}
	buffer.AddDataPoint("passenger", 0.1, start)

	points := buffer.GetDataPointsSince("driver", start.Add(7*frame))
	require.Len(t, points, 3)
	assert.Equal(t, start.Add(7*frame), points[0].Timestamp)
	assert.Equal(t, start.Add(9*frame), points[2].Timestamp)

	assert.Nil(t, buffer.GetDataPointsSince("driver", start.Add(time.Hour)))
	assert.Nil(t, buffer.GetDataPointsSince("nobody", start))
	assert.Len(t, buffer.GetDataPointsSince("passenger", start), 1)
}

func TestGetLatestAndForget(t *testing.T) {
	buffer := NewEARHistoryBuffer(time.Minute, frame)
	start := time.Unix(1000, 0)

	_, ok := buffer.GetLatestDataPoint("driver")
	assert.False(t, ok)

	buffer.AddDataPoint("driver", 0.31, start)
	buffer.AddDataPoint("driver", 0.12, start.Add(frame))

	latest, ok := buffer.GetLatestDataPoint("driver")
	require.True(t, ok)
	assert.InDelta(t, 0.12, latest.Value, 1e-9)

	buffer.Forget("driver")
	_, ok = buffer.GetLatestDataPoint("driver")
	assert.False(t, ok)
}

func TestAverage(t *testing.T) {
	_, ok := Average(nil)
	assert.False(t, ok)

	avg, ok := Average([]DataPoint{{Value: 0.2}, {Value: 0.3}, {Value: 0.25}})
	require.True(t, ok)
	assert.InDelta(t, 0.25, avg, 1e-9)
}

func TestWindowFor(t *testing.T) {
	assert.Equal(t, 10*time.Second+2*frame, WindowFor(util.Sustain{Duration: 10 * time.Second}, frame))
	assert.Equal(t, 37*frame, WindowFor(util.Sustain{Frames: 35}, frame))
	assert.Equal(t, 2*frame, WindowFor(util.Sustain{Duration: time.Millisecond}, frame))
}
