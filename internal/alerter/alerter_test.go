package alerter

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattmezza/drowsy/internal/actuator"
	"github.com/mattmezza/drowsy/internal/classifier"
	"github.com/mattmezza/drowsy/internal/config"
	"github.com/mattmezza/drowsy/internal/geometry"
	"github.com/mattmezza/drowsy/internal/history"
	"github.com/mattmezza/drowsy/internal/overlay"
	"github.com/mattmezza/drowsy/internal/source"
	"github.com/mattmezza/drowsy/internal/util"
)

type call struct {
	op string
	ev actuator.Event
}

type fakeActuator struct {
	calls []call
	err   error
}

func (f *fakeActuator) Name() string { return "fake" }

func (f *fakeActuator) Start(ev actuator.Event) error {
	f.calls = append(f.calls, call{op: "start", ev: ev})
	return f.err
}

func (f *fakeActuator) Stop(ev actuator.Event) error {
	f.calls = append(f.calls, call{op: "stop", ev: ev})
	return f.err
}

func (f *fakeActuator) count(op string) int {
	n := 0
	for _, c := range f.calls {
		if c.op == op {
			n++
		}
	}
	return n
}

// eyePoints returns a 10px wide eye whose EAR is exactly ear.
func eyePoints(ear float64) []geometry.Point {
	h := ear * 10 / 2
	return []geometry.Point{
		{X: 0, Y: 0},
		{X: 3, Y: -h},
		{X: 7, Y: -h},
		{X: 10, Y: 0},
		{X: 7, Y: h},
		{X: 3, Y: h},
	}
}

func faceWithEAR(id string, ear float64) source.Face {
	return source.Face{ID: id, Left: eyePoints(ear), Right: eyePoints(ear)}
}

func testConfig(sustain util.Sustain) *config.Config {
	return &config.Config{
		BlinkThreshold:    0.2,
		DrowsyThreshold:   0.3,
		Sustain:           sustain,
		FaceTimeout:       30 * time.Second,
		EffectiveHostname: "cab-7",
	}
}

func newTestAlerter(t *testing.T, sustain util.Sustain) (*Alerter, *fakeActuator) {
	t.Helper()
	act := &fakeActuator{}
	a, err := NewAlerter(testConfig(sustain), history.NewEARHistoryBuffer(time.Minute, time.Second/30), act, "session-1")
	require.NoError(t, err)
	return a, act
}

type runner struct {
	a     *Alerter
	frame int
}

func (r *runner) step(faces ...source.Face) []FaceResult {
	res := r.a.ProcessFrame(source.Frame{Index: uint64(r.frame), Time: frameTime(r.frame), Faces: faces})
	r.frame++
	return res
}

func hasText(reqs overlay.Requests, text string) bool {
	for _, tr := range reqs.Texts {
		if tr.Text == text {
			return true
		}
	}
	return false
}

func TestNewAlerterRejectsBadThresholds(t *testing.T) {
	cfg := testConfig(util.Sustain{Frames: 3})
	cfg.BlinkThreshold = 0.4

	_, err := NewAlerter(cfg, nil, nil, "s")
	assert.Error(t, err)
}

func TestScenarioOpenEyes(t *testing.T) {
	a, act := newTestAlerter(t, util.Sustain{Frames: 35})
	r := &runner{a: a}

	for i := 0; i < 100; i++ {
		res := r.step(faceWithEAR("driver", 0.35))
		require.Len(t, res, 1)
		assert.False(t, res[0].Transition.Changed())
		assert.False(t, hasText(res[0].Overlay, overlay.BlinkText))
		assert.False(t, hasText(res[0].Overlay, overlay.DrowsyText))
	}
	assert.Empty(t, act.calls)

	snap := a.Snapshot(frameTime(100))
	require.Len(t, snap.Faces, 1)
	assert.Equal(t, "AWAKE", snap.Faces[0].State)
	assert.Equal(t, uint64(100), snap.Frames)
}

func TestScenarioSingleBlink(t *testing.T) {
	a, act := newTestAlerter(t, util.Sustain{Frames: 35})
	r := &runner{a: a}

	r.step(faceWithEAR("driver", 0.35))
	res := r.step(faceWithEAR("driver", 0.15))
	assert.Equal(t, Transition{From: StateAwake, To: StateTiming}, res[0].Transition)
	assert.True(t, res[0].Classification.Blinking)
	assert.True(t, hasText(res[0].Overlay, overlay.BlinkText))

	res = r.step(faceWithEAR("driver", 0.35))
	assert.Equal(t, Transition{From: StateTiming, To: StateAwake}, res[0].Transition)
	assert.False(t, hasText(res[0].Overlay, overlay.BlinkText))
	assert.Empty(t, act.calls)
}

func TestScenarioSustainedClosure(t *testing.T) {
	testCases := []struct {
		name    string
		sustain util.Sustain
		frames  int // closed frames needed to alert
	}{
		{name: "frame_policy", sustain: util.Sustain{Frames: 35}, frames: 35},
		{name: "duration_policy", sustain: util.Sustain{Duration: time.Second}, frames: 31},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a, act := newTestAlerter(t, tc.sustain)
			r := &runner{a: a}

			for i := 1; i < tc.frames; i++ {
				res := r.step(faceWithEAR("driver", 0.25))
				require.False(t, res[0].AlertActive, "frame %d", i)
				assert.False(t, res[0].Classification.Blinking)
			}
			assert.Empty(t, act.calls)

			res := r.step(faceWithEAR("driver", 0.25))
			assert.True(t, res[0].Transition.Entered(StateAlerting))
			assert.True(t, res[0].AlertActive)
			assert.True(t, hasText(res[0].Overlay, overlay.DrowsyText))

			// Staying closed does not restart the alarm.
			for i := 0; i < 10; i++ {
				r.step(faceWithEAR("driver", 0.25))
			}
			require.Len(t, act.calls, 1)
			fired := act.calls[0].ev
			assert.Equal(t, "start", act.calls[0].op)
			assert.Equal(t, actuator.EventTypeFired, fired.Type)
			assert.Equal(t, "driver", fired.FaceID)
			assert.Equal(t, "cab-7", fired.Hostname)
			assert.Equal(t, "session-1", fired.Session)
			assert.InDelta(t, 0.25, fired.EAR, 1e-9)
			assert.Equal(t, 0.3, fired.Threshold)

			res = r.step(faceWithEAR("driver", 0.35))
			assert.True(t, res[0].Transition.Exited(StateAlerting))
			assert.Equal(t, StateAwake, res[0].Transition.To)
			assert.False(t, res[0].AlertActive)

			require.Len(t, act.calls, 2)
			assert.Equal(t, "stop", act.calls[1].op)
			assert.Equal(t, actuator.EventTypeResolved, act.calls[1].ev.Type)
			assert.Greater(t, act.calls[1].ev.ClosedFor, time.Duration(0))

			snap := a.Snapshot(frameTime(r.frame))
			require.Len(t, snap.Events, 2)
			assert.Equal(t, "FIRED", snap.Events[0].Type)
			assert.Equal(t, "RESOLVED", snap.Events[1].Type)
		})
	}
}

func TestScenarioAlternating(t *testing.T) {
	a, act := newTestAlerter(t, util.Sustain{Frames: 3})
	r := &runner{a: a}

	for i := 0; i < 200; i++ {
		ear := 0.25
		if i%2 == 1 {
			ear = 0.35
		}
		res := r.step(faceWithEAR("driver", ear))
		assert.NotEqual(t, StateAlerting, res[0].Transition.To)
	}
	assert.Zero(t, act.count("start"))
}

func TestOpenFrameResetsAccumulatorFully(t *testing.T) {
	a, act := newTestAlerter(t, util.Sustain{Frames: 35})
	r := &runner{a: a}

	for i := 0; i < 20; i++ {
		r.step(faceWithEAR("driver", 0.25))
	}
	res := r.step(faceWithEAR("driver", 0.35))
	require.Equal(t, StateAwake, res[0].Transition.To)

	for i := 0; i < 34; i++ {
		res = r.step(faceWithEAR("driver", 0.25))
		require.False(t, res[0].AlertActive, "closed frame %d after reset", i+1)
	}
	assert.Zero(t, act.count("start"))

	res = r.step(faceWithEAR("driver", 0.25))
	assert.True(t, res[0].Transition.Entered(StateAlerting))
	assert.Equal(t, 1, act.count("start"))
}

func TestRandomSequencesKeepEdgeSemantics(t *testing.T) {
	testCases := []struct {
		name    string
		sustain util.Sustain
	}{
		{name: "frame_policy", sustain: util.Sustain{Frames: 5}},
		{name: "duration_policy", sustain: util.Sustain{Duration: 200 * time.Millisecond}},
	}

	degenerate := source.Face{ID: "driver", Left: make([]geometry.Point, 6), Right: eyePoints(0.25)}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a, act := newTestAlerter(t, tc.sustain)
			r := &runner{a: a}
			rng := rand.New(rand.NewSource(7))

			for i := 0; i < 5000; i++ {
				var face source.Face
				switch n := rng.Intn(10); {
				case n < 6:
					face = faceWithEAR("driver", 0.25)
				case n < 9:
					face = faceWithEAR("driver", 0.35)
				default:
					face = degenerate
				}
				res := r.step(face)
				require.Len(t, res, 1)
				require.Equal(t, res[0].Transition.To == StateAlerting, res[0].AlertActive, "frame %d", i)
			}

			require.NotEmpty(t, act.calls)
			for i, c := range act.calls {
				want := "start"
				if i%2 == 1 {
					want = "stop"
				}
				require.Equal(t, want, c.op, "call %d", i)
			}
		})
	}
}

func TestDuplicateFaceIDInFrameIsSkipped(t *testing.T) {
	a, act := newTestAlerter(t, util.Sustain{Frames: 2})
	r := &runner{a: a}

	res := r.step(faceWithEAR("driver", 0.25), faceWithEAR("driver", 0.25))
	require.Len(t, res, 2)
	assert.NoError(t, res[0].Err)
	assert.True(t, errors.Is(res[1].Err, ErrDuplicateFace))
	assert.Equal(t, StateTiming, res[0].Transition.To)
	assert.Zero(t, act.count("start"))

	res = r.step(faceWithEAR("driver", 0.25))
	assert.True(t, res[0].AlertActive)
}

func TestUndefinedReadingIsNeutral(t *testing.T) {
	a, act := newTestAlerter(t, util.Sustain{Frames: 3})
	r := &runner{a: a}

	degenerate := source.Face{ID: "driver", Left: make([]geometry.Point, 6), Right: eyePoints(0.25)}

	r.step(faceWithEAR("driver", 0.25))
	res := r.step(degenerate)
	assert.False(t, res[0].Classification.Defined)
	assert.Equal(t, classifier.SignalUndefined, res[0].Classification.Signal())
	assert.False(t, res[0].Transition.Changed())
	assert.Equal(t, "EAR: n/a", res[0].Overlay.Texts[0].Text)

	r.step(faceWithEAR("driver", 0.25))
	res = r.step(faceWithEAR("driver", 0.25))
	assert.True(t, res[0].AlertActive)
	assert.Equal(t, 1, act.count("start"))
}

func TestMissingLandmarksDoNotStepFace(t *testing.T) {
	a, act := newTestAlerter(t, util.Sustain{Frames: 2})
	r := &runner{a: a}

	r.step(faceWithEAR("driver", 0.25))
	res := r.step(source.Face{ID: "driver", Landmarks: make([]geometry.Point, 20)})
	require.Len(t, res, 1)
	assert.True(t, errors.Is(res[0].Err, geometry.ErrMissingLandmarks))

	snap := a.Snapshot(frameTime(r.frame))
	require.Len(t, snap.Faces, 1)
	assert.Equal(t, "TIMING", snap.Faces[0].State)
	assert.Empty(t, act.calls)
}

func TestFacesAreIndependent(t *testing.T) {
	a, act := newTestAlerter(t, util.Sustain{Frames: 3})
	r := &runner{a: a}

	for i := 0; i < 3; i++ {
		r.step(faceWithEAR("left-seat", 0.25), faceWithEAR("right-seat", 0.35))
	}
	assert.Equal(t, map[string]bool{"left-seat": true}, a.GetCurrentActiveAlerts())
	require.Len(t, act.calls, 1)
	assert.Equal(t, "left-seat", act.calls[0].ev.FaceID)

	// The second face closing its eyes neither restarts nor stops the first alert.
	for i := 0; i < 3; i++ {
		r.step(faceWithEAR("left-seat", 0.25), faceWithEAR("right-seat", 0.25))
	}
	assert.Equal(t, map[string]bool{"left-seat": true, "right-seat": true}, a.GetCurrentActiveAlerts())
	assert.Equal(t, 2, act.count("start"))

	r.step(faceWithEAR("left-seat", 0.25), faceWithEAR("right-seat", 0.35))
	assert.Equal(t, map[string]bool{"left-seat": true}, a.GetCurrentActiveAlerts())
	assert.Equal(t, 1, act.count("stop"))
}

func TestFaceSlotsShiftNotices(t *testing.T) {
	a, _ := newTestAlerter(t, util.Sustain{Frames: 3})
	r := &runner{a: a}

	res := r.step(faceWithEAR("a", 0.1), faceWithEAR("b", 0.1))
	require.Len(t, res, 2)
	assert.NotEqual(t, res[0].Overlay.Texts[1].Position, res[1].Overlay.Texts[1].Position)
}

func TestMissingFaceIDFallsBackToIndex(t *testing.T) {
	a, _ := newTestAlerter(t, util.Sustain{Frames: 3})
	r := &runner{a: a}

	res := r.step(faceWithEAR("", 0.35), faceWithEAR("", 0.35))
	assert.Equal(t, "0", res[0].FaceID)
	assert.Equal(t, "1", res[1].FaceID)
}

func TestAbsentFaceKeepsState(t *testing.T) {
	a, act := newTestAlerter(t, util.Sustain{Frames: 2})
	r := &runner{a: a}

	r.step(faceWithEAR("driver", 0.25))
	r.step(faceWithEAR("driver", 0.25))
	require.Equal(t, 1, act.count("start"))

	for i := 0; i < 20; i++ {
		assert.Empty(t, r.step())
	}
	assert.Equal(t, map[string]bool{"driver": true}, a.GetCurrentActiveAlerts())
	assert.Zero(t, act.count("stop"))
}

func TestSweepDeactivatesLostFaces(t *testing.T) {
	a, act := newTestAlerter(t, util.Sustain{Frames: 2})
	r := &runner{a: a}

	r.step(faceWithEAR("driver", 0.25), faceWithEAR("passenger", 0.35))
	r.step(faceWithEAR("driver", 0.25), faceWithEAR("passenger", 0.35))
	last := frameTime(r.frame - 1)

	assert.Empty(t, a.Sweep(last.Add(30*time.Second)))

	dropped := a.Sweep(last.Add(31 * time.Second))
	assert.Equal(t, []string{"driver", "passenger"}, dropped)
	assert.Equal(t, 1, act.count("stop"))
	assert.Empty(t, a.Snapshot(last).Faces)

	// A returning face starts from scratch.
	res := r.step(faceWithEAR("driver", 0.25))
	assert.Equal(t, Transition{From: StateAwake, To: StateTiming}, res[0].Transition)
}

func TestSweepDisabled(t *testing.T) {
	cfg := testConfig(util.Sustain{Frames: 2})
	cfg.FaceTimeout = 0
	a, err := NewAlerter(cfg, nil, nil, "s")
	require.NoError(t, err)

	a.ProcessFrame(source.Frame{Time: t0, Faces: []source.Face{faceWithEAR("driver", 0.35)}})
	assert.Nil(t, a.Sweep(t0.Add(24*time.Hour)))
	assert.Len(t, a.Snapshot(t0).Faces, 1)
}

func TestCloseStopsActiveAlerts(t *testing.T) {
	a, act := newTestAlerter(t, util.Sustain{Frames: 1})
	r := &runner{a: a}

	r.step(faceWithEAR("a", 0.25), faceWithEAR("b", 0.25), faceWithEAR("c", 0.35))
	require.Equal(t, 2, act.count("start"))

	a.Close(frameTime(r.frame))
	assert.Equal(t, 2, act.count("stop"))
	assert.Empty(t, a.GetCurrentActiveAlerts())

	a.Close(frameTime(r.frame))
	assert.Equal(t, 2, act.count("stop"))
}

func TestActuatorFailureKeepsEdgeSemantics(t *testing.T) {
	a, act := newTestAlerter(t, util.Sustain{Frames: 1})
	act.err = errors.New("speaker unplugged")
	r := &runner{a: a}

	res := r.step(faceWithEAR("driver", 0.25))
	assert.True(t, res[0].AlertActive)
	r.step(faceWithEAR("driver", 0.25))
	res = r.step(faceWithEAR("driver", 0.35))
	assert.False(t, res[0].AlertActive)
	assert.Equal(t, 1, act.count("start"))
	assert.Equal(t, 1, act.count("stop"))
}

func TestRecentEventsAreBounded(t *testing.T) {
	a, _ := newTestAlerter(t, util.Sustain{Frames: 1})
	r := &runner{a: a}

	for i := 0; i < maxRecentEvents; i++ {
		r.step(faceWithEAR("driver", 0.25))
		r.step(faceWithEAR("driver", 0.35))
	}
	events := a.Snapshot(frameTime(r.frame)).Events
	assert.Len(t, events, maxRecentEvents)
	assert.Equal(t, "RESOLVED", events[len(events)-1].Type)
}
