package timeline

import (
	"time"

	"github.com/kmb3322/love-pods/internal/audio"
)

// Anchor fixes the reference instant a session's clock started and the loop
// length, both in per-channel samples on the audio clock. Set once per
// session and immutable until reset.
type Anchor struct {
	StartSample int64
	LoopSamples int64
}

// ReleaseSample returns the sample at which the loop iteration playing at now
// ends: the smallest whole-loop multiple offset from the anchor that is
// >= now. The in-progress iteration is never truncated.
func (a Anchor) ReleaseSample(now int64) int64 {
	if a.LoopSamples <= 0 {
		return now
	}
	elapsed := now - a.StartSample
	if elapsed < 0 {
		elapsed = 0
	}
	k := (elapsed + a.LoopSamples - 1) / a.LoopSamples
	return a.StartSample + k*a.LoopSamples
}

// Event is the single deferred mix-start of a session, stamped with the
// generation that created it so a fire from a superseded session is ignored.
type Event struct {
	FireSample int64
	Generation uint64
}

// Scheduler owns a session's clock-relative timing: the anchor, the released
// latch, and the at-most-one pending mix-start event. It is plain state
// driven by the conductor loop; it does not run timers itself.
type Scheduler struct {
	anchor   Anchor
	anchored bool
	released bool
	pending  Event
	hasEvent bool
	gen      uint64
}

// StartSession records the anchor for a new session, clears the released
// latch, and bumps the generation so events from earlier sessions die stale.
func (s *Scheduler) StartSession(startSample, loopSamples int64) Anchor {
	s.gen++
	s.anchor = Anchor{StartSample: startSample, LoopSamples: loopSamples}
	s.anchored = true
	s.released = false
	s.hasEvent = false
	return s.anchor
}

// Saturate handles gauge saturation at now: latches the release, computes the
// boundary where the current loop iteration ends, and arms the mix-start
// event delaySamples after it. Calls after the first of a session return
// ok=false and change nothing; the gauge holding at the top for several
// ticks must not double-schedule.
func (s *Scheduler) Saturate(now, delaySamples int64) (release int64, ev Event, ok bool) {
	if !s.anchored || s.released {
		return 0, Event{}, false
	}
	s.released = true
	release = s.anchor.ReleaseSample(now)
	ev = Event{FireSample: release + delaySamples, Generation: s.gen}
	s.pending = ev
	s.hasEvent = true
	return release, ev, true
}

// Current reports whether ev belongs to the live session.
func (s *Scheduler) Current(ev Event) bool {
	return s.anchored && ev.Generation == s.gen
}

// Consume clears the pending event after a successful activation. A failed
// activation skips this so the event stays armed for retry.
func (s *Scheduler) Consume(ev Event) {
	if s.hasEvent && s.pending == ev {
		s.hasEvent = false
	}
}

// Pending returns the armed event, if any.
func (s *Scheduler) Pending() (Event, bool) {
	return s.pending, s.hasEvent
}

// Released reports whether this session's gauge saturation already latched.
func (s *Scheduler) Released() bool {
	return s.released
}

// Anchor returns the session anchor and whether one is set.
func (s *Scheduler) Anchor() (Anchor, bool) {
	return s.anchor, s.anchored
}

// Cancel ends the session: drops the pending event, clears the anchor, and
// bumps the generation so an event already handed to a timer is a no-op when
// it fires.
func (s *Scheduler) Cancel() {
	s.gen++
	s.anchored = false
	s.released = false
	s.hasEvent = false
}

// DelayUntil converts the gap between now and the event's fire sample into a
// wall-clock delay, clamped at zero for events already due.
func DelayUntil(ev Event, now int64) time.Duration {
	d := ev.FireSample - now
	if d < 0 {
		d = 0
	}
	return time.Duration(float64(d) / audio.SampleRate * float64(time.Second))
}
