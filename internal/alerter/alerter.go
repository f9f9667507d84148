// Package alerter decides, frame by frame and face by face, whether a
// subject is drowsy and drives the alert actuator on state edges.
package alerter

import (
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/mattmezza/drowsy/internal/actuator"
	"github.com/mattmezza/drowsy/internal/classifier"
	"github.com/mattmezza/drowsy/internal/config"
	"github.com/mattmezza/drowsy/internal/geometry"
	"github.com/mattmezza/drowsy/internal/history"
	"github.com/mattmezza/drowsy/internal/logging"
	"github.com/mattmezza/drowsy/internal/overlay"
	"github.com/mattmezza/drowsy/internal/source"
	"github.com/mattmezza/drowsy/internal/state"
)

const maxRecentEvents = 50

// ErrDuplicateFace is reported for a face whose ID already appeared earlier
// in the same frame. Only the first occurrence is evaluated.
var ErrDuplicateFace = errors.New("face id repeated within frame")

// FaceResult is what one face produced in one frame.
type FaceResult struct {
	FaceID         string
	Classification classifier.Classification
	Transition     Transition
	AlertActive    bool
	Overlay        overlay.Requests
	Err            error // set when the face's landmarks were unusable
}

// session is the state slot of one tracked face.
type session struct {
	id         string
	machine    *Machine
	controller *Controller
	last       classifier.Classification
	lastSeen   time.Time
}

type Alerter struct {
	thresholds    classifier.Thresholds
	policy        Policy
	faceTimeout   time.Duration
	historyBuffer *history.EARHistoryBuffer
	actuator      actuator.Actuator
	hostname      string
	sessionID     string
	log           *logrus.Entry
	debugLimit    *rate.Limiter

	mu       sync.Mutex // Protects everything below
	sessions map[string]*session
	frames   uint64
	events   []state.EventRecord
}

func NewAlerter(cfg *config.Config, histBuffer *history.EARHistoryBuffer, act actuator.Actuator, sessionID string) (*Alerter, error) {
	th := classifier.Thresholds{Blink: cfg.BlinkThreshold, Drowsy: cfg.DrowsyThreshold}
	if err := th.Validate(); err != nil {
		return nil, err
	}
	if histBuffer == nil {
		histBuffer = history.NewEARHistoryBuffer(0, 0)
	}

	return &Alerter{
		thresholds:    th,
		policy:        PolicyFor(cfg.Sustain),
		faceTimeout:   cfg.FaceTimeout,
		historyBuffer: histBuffer,
		actuator:      act,
		hostname:      cfg.EffectiveHostname,
		sessionID:     sessionID,
		log:           logging.With(logging.Fields{"session": sessionID}),
		debugLimit:    rate.NewLimiter(rate.Every(time.Second), 1),
		sessions:      make(map[string]*session),
	}, nil
}

// ProcessFrame evaluates every face of a frame. Faces absent from the frame
// keep their state untouched.
func (a *Alerter) ProcessFrame(frame source.Frame) []FaceResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.frames++
	now := frame.Time

	results := make([]FaceResult, 0, len(frame.Faces))
	seen := make(map[string]struct{}, len(frame.Faces))
	for i, face := range frame.Faces {
		id := face.ID
		if id == "" {
			id = strconv.Itoa(i)
		}
		if _, dup := seen[id]; dup {
			a.log.WithFields(logrus.Fields{"face": id, "frame": frame.Index}).Warn("duplicate face id in frame, skipping")
			results = append(results, FaceResult{FaceID: id, Err: ErrDuplicateFace})
			continue
		}
		seen[id] = struct{}{}
		results = append(results, a.processFace(id, i, face, now))
	}
	return results
}

func (a *Alerter) processFace(id string, slot int, face source.Face, now time.Time) FaceResult {
	left, right, err := face.Eyes()
	if err != nil {
		a.log.WithFields(logrus.Fields{"face": id, "error": err}).Error("unusable landmarks from detector")
		return FaceResult{FaceID: id, Err: err}
	}

	sess := a.sessionFor(id, now)
	sess.lastSeen = now

	leftEAR, leftOK := geometry.EAR(left)
	rightEAR, rightOK := geometry.EAR(right)
	c := classifier.Classify(
		classifier.Reading{Value: leftEAR, OK: leftOK},
		classifier.Reading{Value: rightEAR, OK: rightOK},
		a.thresholds,
	)
	sess.last = c
	if c.Defined {
		a.historyBuffer.AddDataPoint(id, c.AvgEAR, now)
	}

	closureStart := sess.machine.Since()
	tr := sess.machine.Step(c.Signal(), now)
	if tr.Changed() {
		a.log.WithFields(logrus.Fields{"face": id, "from": tr.From, "to": tr.To, "ear": c.AvgEAR}).Debug("state transition")
	}

	switch {
	case tr.Entered(StateAlerting):
		ev := a.event(sess, actuator.EventTypeFired, sess.machine.Since(), now)
		if sess.controller.Activate(ev) {
			a.record(ev)
			a.log.WithFields(logrus.Fields{"face": id, "ear": ev.EAR, "closed_for": ev.ClosedFor}).Warn("DROWSINESS ALERT FIRED")
		}
	case tr.Exited(StateAlerting):
		ev := a.event(sess, actuator.EventTypeResolved, closureStart, now)
		if sess.controller.Deactivate(ev) {
			a.record(ev)
			a.log.WithFields(logrus.Fields{"face": id, "closed_for": ev.ClosedFor}).Info("DROWSINESS ALERT RESOLVED")
		}
	}

	if a.debugLimit.Allow() {
		a.log.WithFields(logrus.Fields{"face": id, "ear": c.AvgEAR, "defined": c.Defined, "state": sess.machine.State()}).Debug("frame evaluated")
	}

	return FaceResult{
		FaceID:         id,
		Classification: c,
		Transition:     tr,
		AlertActive:    sess.controller.Active(),
		Overlay: overlay.Build(overlay.Input{
			Left:           left,
			Right:          right,
			Classification: c,
			Alerting:       sess.machine.State() == StateAlerting,
			Slot:           slot,
		}),
	}
}

func (a *Alerter) sessionFor(id string, now time.Time) *session {
	if sess, ok := a.sessions[id]; ok {
		return sess
	}
	sess := &session{
		id:         id,
		machine:    NewMachine(a.policy),
		controller: NewController(a.actuator, a.log.WithField("face", id)),
		lastSeen:   now,
	}
	a.sessions[id] = sess
	a.log.WithField("face", id).Info("tracking new face")
	return sess
}

// event builds the actuator event. EAR is averaged over the closure window,
// falling back to the latest defined reading.
func (a *Alerter) event(sess *session, typ actuator.EventType, closureStart, now time.Time) actuator.Event {
	ear := sess.last.AvgEAR
	if dp, ok := a.historyBuffer.GetLatestDataPoint(sess.id); ok {
		ear = dp.Value
	}
	var closedFor time.Duration
	if !closureStart.IsZero() {
		closedFor = now.Sub(closureStart)
		if avg, ok := history.Average(a.historyBuffer.GetDataPointsSince(sess.id, closureStart)); ok {
			ear = avg
		}
	}
	return actuator.Event{
		FaceID:    sess.id,
		Type:      typ,
		EAR:       ear,
		Threshold: a.thresholds.Drowsy,
		Sustain:   a.policy.String(),
		ClosedFor: closedFor,
		Hostname:  a.hostname,
		Session:   a.sessionID,
		Time:      now,
	}
}

func (a *Alerter) record(ev actuator.Event) {
	a.events = append(a.events, state.EventRecord{FaceID: ev.FaceID, Type: string(ev.Type), EAR: ev.EAR, Time: ev.Time})
	if len(a.events) > maxRecentEvents {
		a.events = a.events[len(a.events)-maxRecentEvents:]
	}
}

// Sweep discards faces not seen for longer than the face timeout. An
// alerting face is deactivated before it is dropped.
func (a *Alerter) Sweep(now time.Time) []string {
	if a.faceTimeout <= 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	var dropped []string
	for id, sess := range a.sessions {
		if now.Sub(sess.lastSeen) <= a.faceTimeout {
			continue
		}
		a.discard(sess, now)
		dropped = append(dropped, id)
		a.log.WithFields(logrus.Fields{"face": id, "unseen_for": now.Sub(sess.lastSeen)}).Info("face no longer tracked")
	}
	sort.Strings(dropped)
	return dropped
}

func (a *Alerter) discard(sess *session, now time.Time) {
	closureStart := sess.machine.Since()
	if sess.machine.Reset().Exited(StateAlerting) {
		ev := a.event(sess, actuator.EventTypeResolved, closureStart, now)
		if sess.controller.Deactivate(ev) {
			a.record(ev)
		}
	}
	delete(a.sessions, sess.id)
	a.historyBuffer.Forget(sess.id)
}

// Close switches off every alert still active, typically at shutdown.
func (a *Alerter) Close(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, sess := range a.sessions {
		a.discard(sess, now)
	}
}

// Snapshot returns the state of all tracked faces sorted by ID.
func (a *Alerter) Snapshot(now time.Time) state.Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := state.Snapshot{
		Session:  a.sessionID,
		Hostname: a.hostname,
		Sustain:  a.policy.String(),
		Frames:   a.frames,
		Faces:    make([]state.FaceSnapshot, 0, len(a.sessions)),
		Events:   append([]state.EventRecord(nil), a.events...),
	}
	for _, sess := range a.sessions {
		snap.Faces = append(snap.Faces, state.FaceSnapshot{
			ID:          sess.id,
			State:       sess.machine.State().String(),
			EAR:         sess.last.AvgEAR,
			Defined:     sess.last.Defined,
			Blinking:    sess.last.Blinking,
			AlertActive: sess.controller.Active(),
			ClosedFor:   sess.machine.ClosedFor(now),
			LastSeen:    sess.lastSeen,
		})
	}
	sort.Slice(snap.Faces, func(i, j int) bool { return snap.Faces[i].ID < snap.Faces[j].ID })
	return snap
}

// GetCurrentActiveAlerts returns the faces whose alert is on.
func (a *Alerter) GetCurrentActiveAlerts() map[string]bool {
	return a.Snapshot(time.Now()).ActiveAlerts()
}
