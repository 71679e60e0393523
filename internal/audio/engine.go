package audio

import (
	"context"
	"sync"
	"time"
)

// retiring holds an outgoing stem set fading to silence after a track switch.
type retiring struct {
	stems Stems
	epoch int64
	gains [RoleCount]float64 // role gains frozen at retire time
	fade  *GainChannel       // 1 -> 0 linear ramp; set is dropped when it lands
}

// Engine renders the audio graph in real time: the looping clock track plus
// up to four stem channels, each behind its own GainChannel, mixed into
// interleaved int16 frames at a fixed 20ms cadence.
//
// All instants are per-channel sample indices counted from AllocateGraph.
// That is what makes deferred stem starts sample-accurate: a start scheduled
// at sample S begins with the stem's first sample when the render position
// crosses S, and a request that lands late enters the buffer mid-way so the
// stems stay phase-aligned to the clock.
type Engine struct {
	frameCh chan []int16
	coeff   float64

	mu        sync.Mutex
	live      bool
	suspended bool
	pos       int64 // per-channel samples rendered since AllocateGraph

	clock       []int16
	clockOn     bool
	clockEpoch  int64
	clockStop   int64 // absolute sample the clock stops wrapping at; -1 = loop forever
	loopSamples int64

	stems     Stems
	stemEpoch int64 // absolute sample the live stems start at; -1 = none
	old       *retiring

	gains [RoleCount]*GainChannel
}

// NewEngine creates an engine whose gain channels smooth toward their targets
// with the given time constant in seconds.
func NewEngine(tau float64) *Engine {
	return &Engine{
		frameCh:   make(chan []int16, 100),
		coeff:     SmoothingCoeff(tau),
		clockStop: -1,
		stemEpoch: -1,
	}
}

// Frames returns the channel of outgoing PCM frames (20ms each).
func (e *Engine) Frames() <-chan []int16 {
	return e.frameCh
}

// AllocateGraph installs the clock buffer and fresh, silent gain channels,
// and resets the sample clock to zero. Any previous graph is discarded.
// Returns the loop length in per-channel samples.
func (e *Engine) AllocateGraph(clock []int16) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock = clock
	e.loopSamples = SamplesPerChannel(clock)
	e.clockOn = false
	e.clockStop = -1
	e.stems = Stems{}
	e.stemEpoch = -1
	e.old = nil
	e.pos = 0
	for r := Role(0); r < RoleCount; r++ {
		e.gains[r] = NewGainChannel(e.coeff)
	}
	e.live = true
	e.suspended = false
	return e.loopSamples
}

// StartClock begins looping clock playback at the current position and
// returns that position as the session anchor.
func (e *Engine) StartClock() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clockOn = true
	e.clockEpoch = e.pos
	e.clockStop = -1
	return e.pos
}

// ReleaseClockAt lets the clock finish the loop iteration ending at the given
// absolute sample and go silent there instead of wrapping again.
func (e *Engine) ReleaseClockAt(stopSample int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clockStop = stopSample
}

// NowSample returns the render position in per-channel samples.
func (e *Engine) NowSample() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos
}

// SetTarget steers a role's gain toward the given value with smoothing.
// Ignored when no graph is live.
func (e *Engine) SetTarget(role Role, gain float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.live {
		return
	}
	e.gains[role].SetTarget(gain)
}

// SnapGain sets a role's gain instantly, without smoothing.
func (e *Engine) SnapGain(role Role, gain float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.live {
		return
	}
	e.gains[role].Snap(gain)
}

// ScheduleStems binds a stem set to the gain channels and arms its start at
// the given absolute sample.
func (e *Engine) ScheduleStems(st Stems, startSample int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.live {
		return
	}
	e.stems = st
	e.stemEpoch = startSample
}

// RetireStems moves the live stem set into a linear fade to silence over
// fadeSamples, freeing the gain channels for a replacement set. No-op when
// no stems are bound.
func (e *Engine) RetireStems(fadeSamples int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.live || e.stemEpoch < 0 {
		return
	}
	fade := NewGainChannel(e.coeff)
	fade.Snap(1)
	fade.RampTo(0, fadeSamples)
	r := &retiring{stems: e.stems, epoch: e.stemEpoch, fade: fade}
	for role := Role(0); role < RoleCount; role++ {
		r.gains[role] = e.gains[role].Value()
	}
	e.old = r
	e.stems = Stems{}
	e.stemEpoch = -1
}

// FadeOutAll ramps every live gain linearly to zero over fadeSamples.
func (e *Engine) FadeOutAll(fadeSamples int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.live {
		return
	}
	for r := Role(0); r < RoleCount; r++ {
		e.gains[r].RampTo(0, fadeSamples)
	}
	if e.old != nil {
		e.old.fade.RampTo(0, fadeSamples)
	}
}

// Suspend freezes the audio clock. Rendered frames are silent and the
// position does not advance until Resume.
func (e *Engine) Suspend() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.suspended = true
}

// Resume releases a Suspend.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.suspended = false
}

// Teardown drops the whole graph. Safe to call repeatedly or when no graph
// is live.
func (e *Engine) Teardown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.live = false
	e.suspended = false
	e.clock = nil
	e.clockOn = false
	e.clockStop = -1
	e.loopSamples = 0
	e.stems = Stems{}
	e.stemEpoch = -1
	e.old = nil
	for r := Role(0); r < RoleCount; r++ {
		e.gains[r] = nil
	}
}

// Status reports the engine state for the control surface.
type Status struct {
	Live      bool
	Suspended bool
	Now       float64 // audio-clock seconds
	Looping   bool
	StemsLive bool
	Gains     [RoleCount]float64
}

// Status returns a snapshot of the render state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{
		Live:      e.live,
		Suspended: e.suspended,
		Now:       SamplesToSeconds(e.pos),
		Looping:   e.clockOn && e.clockStop < 0,
		StemsLive: e.stemEpoch >= 0,
	}
	if e.live {
		for r := Role(0); r < RoleCount; r++ {
			st.Gains[r] = e.gains[r].Value()
		}
	}
	return st
}

// Run paces the render loop in real time. Blocks until ctx is cancelled.
// Frames keep flowing while no graph is live so stream listeners hear
// silence instead of losing the connection.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.frameCh)

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame := e.renderFrame()

		select {
		case e.frameCh <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// renderFrame mixes the next 20ms of audio. Every gain channel advances
// exactly once per sample whether or not its source is audible, so smoothing
// and ramps track real time.
func (e *Engine) renderFrame() []int16 {
	frame := make([]int16, FrameSamples)

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.live || e.suspended {
		return frame
	}

	for i := 0; i < FrameSize; i++ {
		s := e.pos + int64(i)
		var l, r float64

		var gv [RoleCount]float64
		for role := Role(0); role < RoleCount; role++ {
			gv[role] = e.gains[role].Step()
		}

		if e.clockOn {
			if idx, ok := e.clockIndex(s); ok {
				l += float64(e.clock[idx*2]) * gv[RoleClock]
				r += float64(e.clock[idx*2+1]) * gv[RoleClock]
			}
		}

		if e.stemEpoch >= 0 && s >= e.stemEpoch {
			off := s - e.stemEpoch
			for _, role := range StemRoles {
				pcm := e.stems.ByRole(role)
				if off < SamplesPerChannel(pcm) {
					l += float64(pcm[off*2]) * gv[role]
					r += float64(pcm[off*2+1]) * gv[role]
				}
			}
		}

		if e.old != nil {
			fg := e.old.fade.Step()
			if off := s - e.old.epoch; off >= 0 {
				for _, role := range StemRoles {
					pcm := e.old.stems.ByRole(role)
					if off < SamplesPerChannel(pcm) {
						g := fg * e.old.gains[role]
						l += float64(pcm[off*2]) * g
						r += float64(pcm[off*2+1]) * g
					}
				}
			}
			if e.old.fade.Done() {
				e.old = nil
			}
		}

		frame[i*2] = clip(l)
		frame[i*2+1] = clip(r)
	}

	e.pos += FrameSize
	return frame
}

// clockIndex maps an absolute sample to a position inside the clock buffer,
// wrapping at the loop boundary until the release point.
func (e *Engine) clockIndex(s int64) (int64, bool) {
	if e.loopSamples == 0 {
		return 0, false
	}
	idx := s - e.clockEpoch
	if idx < 0 {
		return 0, false
	}
	if e.clockStop >= 0 && s >= e.clockStop {
		return 0, false
	}
	return idx % e.loopSamples, true
}
