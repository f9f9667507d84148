// Package classifier turns a pair of per-eye EAR readings into the per-frame
// blink and drowsiness signals.
package classifier

import "fmt"

// Default thresholds. The drowsy threshold is looser than the blink one so
// that partially closed eyes still count toward drowsiness.
const (
	DefaultBlinkThreshold  = 0.2
	DefaultDrowsyThreshold = 0.3
)

type Thresholds struct {
	Blink  float64
	Drowsy float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{Blink: DefaultBlinkThreshold, Drowsy: DefaultDrowsyThreshold}
}

// Validate reports nonsensical threshold combinations.
func (t Thresholds) Validate() error {
	if t.Blink <= 0 || t.Drowsy <= 0 {
		return fmt.Errorf("thresholds must be positive (blink=%.3f, drowsy=%.3f)", t.Blink, t.Drowsy)
	}
	if t.Blink > t.Drowsy {
		return fmt.Errorf("blink threshold %.3f is above drowsy threshold %.3f", t.Blink, t.Drowsy)
	}
	return nil
}

// Reading is one eye's EAR. OK is false when the geometry was degenerate.
type Reading struct {
	Value float64
	OK    bool
}

// Signal is the only input the drowsiness state machine consumes.
type Signal int

const (
	SignalUndefined Signal = iota
	SignalOpen
	SignalClosed
)

func (s Signal) String() string {
	switch s {
	case SignalOpen:
		return "open"
	case SignalClosed:
		return "closed"
	default:
		return "undefined"
	}
}

// Classification is the result for one face in one frame.
type Classification struct {
	AvgEAR          float64
	Blinking        bool
	DrowsyCandidate bool
	Defined         bool
}

// Classify averages both eyes and compares against the thresholds.
// If either reading is undefined the whole classification is undefined.
func Classify(left, right Reading, th Thresholds) Classification {
	if !left.OK || !right.OK {
		return Classification{}
	}
	avg := (left.Value + right.Value) / 2
	return Classification{
		AvgEAR:          avg,
		Blinking:        avg < th.Blink,
		DrowsyCandidate: avg < th.Drowsy,
		Defined:         true,
	}
}

// Signal maps the classification to the state machine input.
// Blinking is informational only and does not feed the machine.
func (c Classification) Signal() Signal {
	switch {
	case !c.Defined:
		return SignalUndefined
	case c.DrowsyCandidate:
		return SignalClosed
	default:
		return SignalOpen
	}
}
