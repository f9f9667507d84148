package alerter

import (
	"fmt"
	"time"

	"github.com/mattmezza/drowsy/internal/classifier"
	"github.com/mattmezza/drowsy/internal/util"
)

// State is the drowsiness state of one tracked face.
type State int

const (
	StateAwake State = iota
	StateTiming
	StateAlerting
)

func (s State) String() string {
	switch s {
	case StateAwake:
		return "AWAKE"
	case StateTiming:
		return "TIMING"
	case StateAlerting:
		return "ALERTING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Policy decides when accumulated closure evidence is sustained enough.
type Policy interface {
	// Sustained is given the number of consecutive closed frames and the
	// wall-clock time since closure started.
	Sustained(frames int, elapsed time.Duration) bool
	String() string
}

// FramePolicy counts consecutive closed frames. It is only meaningful at a
// steady capture rate.
type FramePolicy struct {
	Frames int
}

func (p FramePolicy) Sustained(frames int, _ time.Duration) bool {
	return frames >= p.Frames
}

func (p FramePolicy) String() string {
	return fmt.Sprintf("%d frames", p.Frames)
}

// DurationPolicy measures wall-clock closure time and does not depend on
// the frame rate.
type DurationPolicy struct {
	Duration time.Duration
}

func (p DurationPolicy) Sustained(_ int, elapsed time.Duration) bool {
	return elapsed >= p.Duration
}

func (p DurationPolicy) String() string {
	return p.Duration.String()
}

// PolicyFor maps the configured sustain value to a policy.
func PolicyFor(s util.Sustain) Policy {
	if s.IsFrames() {
		return FramePolicy{Frames: s.Frames}
	}
	return DurationPolicy{Duration: s.Duration}
}

// Transition is the outcome of one Step.
type Transition struct {
	From State
	To   State
}

func (t Transition) Changed() bool {
	return t.From != t.To
}

// Entered reports whether this step moved into s.
func (t Transition) Entered(s State) bool {
	return t.To == s && t.From != s
}

// Exited reports whether this step left s.
func (t Transition) Exited(s State) bool {
	return t.From == s && t.To != s
}

// Machine is the per-face AWAKE -> TIMING -> ALERTING state machine.
// A single open frame returns it to AWAKE; an undefined frame changes nothing.
type Machine struct {
	policy Policy
	state  State
	frames int       // consecutive closed frames since entering TIMING
	since  time.Time // time of the first closed frame
}

func NewMachine(policy Policy) *Machine {
	return &Machine{policy: policy}
}

func (m *Machine) State() State {
	return m.state
}

// ClosedFor returns how long the eyes have been continuously closing.
func (m *Machine) ClosedFor(now time.Time) time.Duration {
	if m.state == StateAwake {
		return 0
	}
	return now.Sub(m.since)
}

// Frames returns the number of consecutive closed frames counted so far.
func (m *Machine) Frames() int {
	return m.frames
}

// Since returns when the current closure started, zero while AWAKE.
func (m *Machine) Since() time.Time {
	if m.state == StateAwake {
		return time.Time{}
	}
	return m.since
}

// Step advances the machine by one frame.
func (m *Machine) Step(sig classifier.Signal, now time.Time) Transition {
	from := m.state

	switch sig {
	case classifier.SignalUndefined:
		// A bad reading neither advances nor resets the timer.
	case classifier.SignalOpen:
		m.reset()
	case classifier.SignalClosed:
		switch m.state {
		case StateAwake:
			m.state = StateTiming
			m.frames = 1
			m.since = now
			m.checkSustained(now)
		case StateTiming:
			m.frames++
			m.checkSustained(now)
		case StateAlerting:
			m.frames++
		}
	}

	return Transition{From: from, To: m.state}
}

func (m *Machine) checkSustained(now time.Time) {
	if m.policy.Sustained(m.frames, now.Sub(m.since)) {
		m.state = StateAlerting
	}
}

// Reset returns the machine to AWAKE and clears the accumulator.
func (m *Machine) Reset() Transition {
	from := m.state
	m.reset()
	return Transition{From: from, To: m.state}
}

func (m *Machine) reset() {
	m.state = StateAwake
	m.frames = 0
	m.since = time.Time{}
}
