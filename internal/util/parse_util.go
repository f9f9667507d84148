package util

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var durationRegex = regexp.MustCompile(`^(\d+)(ms|s|m|h)$`)

var framesRegex = regexp.MustCompile(`^(\d+)\s*(f|frames?)?$`)

// ParseDurationString converts strings like "500ms", "10s", "5m", "1h" into time.Duration.
func ParseDurationString(durationStr string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(durationStr))
	if s == "" || s == "0" {
		return 0, nil
	}

	matches := durationRegex.FindStringSubmatch(s)
	if len(matches) != 3 {
		return 0, fmt.Errorf("invalid duration string format: %s. Use '500ms', '10s', '5m', '1h'", durationStr)
	}

	value, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, fmt.Errorf("invalid duration numeric value: %s", matches[1])
	}

	var unit time.Duration
	switch matches[2] {
	case "ms":
		unit = time.Millisecond
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	}

	return time.Duration(value) * unit, nil
}

// Sustain is how much continuous closure evidence is required before an
// alert. Exactly one of Frames or Duration is set.
type Sustain struct {
	Frames   int
	Duration time.Duration
}

// IsFrames reports whether the frame-count policy was selected.
func (s Sustain) IsFrames() bool {
	return s.Frames > 0
}

func (s Sustain) String() string {
	if s.IsFrames() {
		return fmt.Sprintf("%d frames", s.Frames)
	}
	return s.Duration.String()
}

// ParseSustain accepts a frame count ("35", "35f", "35 frames") or a
// wall-clock duration ("10s", "1500ms").
func ParseSustain(sustainStr string) (Sustain, error) {
	s := strings.ToLower(strings.TrimSpace(sustainStr))
	if s == "" {
		return Sustain{}, fmt.Errorf("empty sustain value")
	}

	if m := framesRegex.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return Sustain{}, fmt.Errorf("invalid sustain frame count: %s", sustainStr)
		}
		return Sustain{Frames: n}, nil
	}

	d, err := ParseDurationString(s)
	if err != nil {
		return Sustain{}, fmt.Errorf("invalid sustain value %q: %w", sustainStr, err)
	}
	if d <= 0 {
		return Sustain{}, fmt.Errorf("sustain duration must be positive: %s", sustainStr)
	}
	return Sustain{Duration: d}, nil
}
