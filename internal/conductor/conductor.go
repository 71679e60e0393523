package conductor

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/kmb3322/love-pods/internal/audio"
	"github.com/kmb3322/love-pods/internal/mixer"
	"github.com/kmb3322/love-pods/internal/session"
	"github.com/kmb3322/love-pods/internal/timeline"
)

// Phase is the connection state of the controller, orthogonal to the audio
// stage: a Connected session moves through Syncing and MixActive, Paused
// freezes the whole audio clock without touching the stage.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseLoading
	PhaseConnected
	PhasePaused
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseLoading:
		return "loading"
	case PhaseConnected:
		return "connected"
	case PhasePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Graph is the slice of the audio engine the conductor drives.
type Graph interface {
	AllocateGraph(clock []int16) int64
	StartClock() int64
	ReleaseClockAt(stopSample int64)
	NowSample() int64
	SetTarget(role audio.Role, gain float64)
	SnapGain(role audio.Role, gain float64)
	ScheduleStems(st audio.Stems, startSample int64)
	RetireStems(fadeSamples int64)
	FadeOutAll(fadeSamples int64)
	Suspend()
	Resume()
	Teardown()
}

// Library is the slice of the track buffer store the conductor consumes.
type Library interface {
	Select(id string) error
	Selected() string
	Clock() []int16
	Stems(id string) (audio.Stems, bool)
	LoadPriority(ctx context.Context) error
	PrefetchRest(ctx context.Context)
}

// Config holds the session tuning the conductor runs with.
type Config struct {
	GaugeSpeed      float64
	VocalGaugeSpeed float64
	GaugeDecay      float64
	TickRate        int // ticks per second
	VocalStartDelay time.Duration
	FadeOutTime     time.Duration
	SwitchFadeTime  time.Duration
}

// retryInterval paces mix-activation retries while the selected stem set is
// still loading. The armed event is not consumed between attempts.
const retryInterval = 500 * time.Millisecond

// Frame is the per-tick feed value published to renderers.
type Frame struct {
	Phase       string  `json:"phase"`
	Stage       string  `json:"stage"`
	Released    bool    `json:"released"`
	Gauge       float64 `json:"gauge"`
	VisualLevel float64 `json:"visual_level"`
	Bubble      bool    `json:"bubble_spawn_hint"`
	Leaning     bool    `json:"leaning"`
	Track       string  `json:"track"`
	Now         float64 `json:"now"` // audio-clock seconds
}

// command kinds carried on the conductor's channel.
type cmdKind int

const (
	cmdConnect cmdKind = iota
	cmdPause
	cmdResume
	cmdStop
	cmdSelect
	cmdLean
)

type command struct {
	kind   cmdKind
	id     string
	active bool
	reply  chan error
}

// Conductor owns all session state and runs it on a single goroutine: the
// tick loop, control commands, the deferred mix-start event, and the stop
// fade all multiplex through one select, so a deferred callback can never
// interleave with an in-progress tick and no locking is needed for the
// session record.
type Conductor struct {
	cfg   Config
	graph Graph
	lib   Library

	gauge session.Gauge
	sched timeline.Scheduler
	mix   *mixer.Mixer

	cmdCh  chan command
	fireCh chan timeline.Event
	fadeCh chan uint64

	// OnFrame, when set before Run, receives the renderer feed each tick.
	OnFrame func(Frame)

	// loop-goroutine state
	phase    Phase
	stage    session.Stage
	leaning  bool
	track    string // stem set bound to the live gain channels
	stopping bool
	stopGen  uint64
	mixTimer *time.Timer
	bgCancel context.CancelFunc

	done chan struct{}

	statusMu sync.RWMutex
	status   Frame
}

// New creates a conductor over the given graph and library.
func New(cfg Config, graph Graph, lib Library) *Conductor {
	if cfg.TickRate <= 0 {
		cfg.TickRate = 60
	}
	c := &Conductor{
		cfg:    cfg,
		graph:  graph,
		lib:    lib,
		cmdCh:  make(chan command),
		fireCh: make(chan timeline.Event, 4),
		fadeCh: make(chan uint64, 4),
		done:   make(chan struct{}),
	}
	c.gauge = session.Gauge{
		Speed:      cfg.GaugeSpeed,
		VocalSpeed: cfg.VocalGaugeSpeed,
		Decay:      cfg.GaugeDecay,
	}
	c.mix = mixer.New(graph)
	return c
}

// Run drives the session loop until ctx is cancelled.
func (c *Conductor) Run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(time.Second / time.Duration(c.cfg.TickRate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if c.bgCancel != nil {
				c.bgCancel()
			}
			c.graph.Teardown()
			return
		case <-ticker.C:
			c.tick()
		case ev := <-c.fireCh:
			c.activateMix(ev)
		case gen := <-c.fadeCh:
			c.finishStop(gen)
		case cmd := <-c.cmdCh:
			cmd.reply <- c.handle(ctx, cmd)
		}
	}
}

// Connect loads the clock and selected stem set, allocates the audio graph,
// and starts a Syncing session. Remaining track sets load in the background.
func (c *Conductor) Connect() error { return c.do(command{kind: cmdConnect}) }

// Pause suspends the shared audio clock. No-op unless connected.
func (c *Conductor) Pause() error { return c.do(command{kind: cmdPause}) }

// Resume releases a pause. No-op unless paused.
func (c *Conductor) Resume() error { return c.do(command{kind: cmdResume}) }

// Stop fades every live gain to silence over the configured fade time, then
// tears the graph down and returns to Disconnected. Safe from any phase,
// including mid-fade of a prior stop.
func (c *Conductor) Stop() error { return c.do(command{kind: cmdStop}) }

// SelectTrack updates the current selection; during MixActive it swaps the
// live stem set laterally, preserving gauge and stage.
func (c *Conductor) SelectTrack(id string) error {
	return c.do(command{kind: cmdSelect, id: id})
}

// SetLean sets the leaning level consumed by the next tick.
func (c *Conductor) SetLean(active bool) error {
	return c.do(command{kind: cmdLean, active: active})
}

// Status returns the most recent feed frame.
func (c *Conductor) Status() Frame {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status
}

func (c *Conductor) do(cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case c.cmdCh <- cmd:
	case <-c.done:
		return errors.New("conductor stopped")
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-c.done:
		return errors.New("conductor stopped")
	}
}

func (c *Conductor) handle(ctx context.Context, cmd command) error {
	switch cmd.kind {
	case cmdConnect:
		return c.connect(ctx)
	case cmdPause:
		if c.phase != PhaseConnected || c.stopping {
			return session.ErrInvalidTransition
		}
		c.phase = PhasePaused
		c.graph.Suspend()
		return nil
	case cmdResume:
		if c.phase != PhasePaused {
			return session.ErrInvalidTransition
		}
		c.phase = PhaseConnected
		c.graph.Resume()
		return nil
	case cmdStop:
		return c.stop()
	case cmdSelect:
		return c.selectTrack(cmd.id)
	case cmdLean:
		c.leaning = cmd.active
		return nil
	default:
		return session.ErrInvalidTransition
	}
}

func (c *Conductor) connect(ctx context.Context) error {
	if c.phase != PhaseDisconnected || c.stopping {
		return session.ErrInvalidTransition
	}
	if c.lib.Selected() == "" {
		return session.ErrNoSelection
	}

	c.phase = PhaseLoading
	c.publish()
	if err := c.lib.LoadPriority(ctx); err != nil {
		c.phase = PhaseDisconnected
		c.publish()
		return err
	}

	loop := c.graph.AllocateGraph(c.lib.Clock())
	anchor := c.graph.StartClock()
	c.sched.StartSession(anchor, loop)

	c.stage = session.StageSyncing
	c.track = ""
	c.gauge.Reset()
	c.mix.Reset()
	c.phase = PhaseConnected

	// Remaining sets load best-effort; cancelled on stop or shutdown.
	bgCtx, cancel := context.WithCancel(ctx)
	c.bgCancel = cancel
	go c.lib.PrefetchRest(bgCtx)

	log.Printf("conductor: connected, track %s, loop %.2fs",
		c.lib.Selected(), audio.SamplesToSeconds(loop))
	return nil
}

func (c *Conductor) stop() error {
	if c.phase == PhaseDisconnected && !c.stopping {
		return session.ErrInvalidTransition
	}
	if c.stopping {
		return nil
	}

	c.sched.Cancel()
	if c.mixTimer != nil {
		c.mixTimer.Stop()
		c.mixTimer = nil
	}
	if c.bgCancel != nil {
		c.bgCancel()
		c.bgCancel = nil
	}
	if c.phase == PhasePaused {
		c.graph.Resume()
	}
	c.phase = PhaseConnected
	c.stopping = true
	c.stopGen++

	fadeSamples := audio.SecondsToSamples(c.cfg.FadeOutTime.Seconds())
	c.graph.FadeOutAll(fadeSamples)

	gen := c.stopGen
	time.AfterFunc(c.cfg.FadeOutTime, func() {
		select {
		case c.fadeCh <- gen:
		case <-c.done:
		}
	})

	log.Printf("conductor: stopping, fade %s", c.cfg.FadeOutTime)
	return nil
}

// finishStop tears the graph down once the stop fade has fully elapsed. A
// stale generation means the fade was superseded by a newer session.
func (c *Conductor) finishStop(gen uint64) {
	if !c.stopping || gen != c.stopGen {
		return
	}
	c.graph.Teardown()
	c.stopping = false
	c.phase = PhaseDisconnected
	c.stage = session.StageIdle
	c.track = ""
	c.gauge.Reset()
	c.mix.Reset()
	c.publish()
	log.Printf("conductor: stopped")
}

func (c *Conductor) selectTrack(id string) error {
	if err := c.lib.Select(id); err != nil {
		return err
	}
	if c.phase != PhaseConnected || c.stage != session.StageMixActive || c.stopping {
		return nil
	}
	if id == c.track {
		return nil
	}

	// Lateral swap: the new set starts at the current instant, not the
	// session epoch; gauge and stage carry over untouched.
	stems, ok := c.lib.Stems(id)
	if !ok {
		return session.ErrTrackNotLoaded
	}
	fadeSamples := audio.SecondsToSamples(c.cfg.SwitchFadeTime.Seconds())
	c.graph.RetireStems(fadeSamples)
	c.graph.ScheduleStems(stems, c.graph.NowSample())
	c.track = id
	log.Printf("conductor: switched to %s", id)
	return nil
}

// tick runs one step of the cooperative loop: gauge update, saturation
// check, mixer targets, feed publish.
func (c *Conductor) tick() {
	if c.phase != PhaseConnected || c.stopping {
		c.publish()
		return
	}

	g := c.gauge.Tick(c.leaning, c.stage)

	if c.stage == session.StageSyncing && c.gauge.Saturated() && !c.sched.Released() {
		now := c.graph.NowSample()
		delay := audio.SecondsToSamples(c.cfg.VocalStartDelay.Seconds())
		if release, ev, ok := c.sched.Saturate(now, delay); ok {
			c.graph.ReleaseClockAt(release)
			c.armMixStart(ev, timeline.DelayUntil(ev, now))
			log.Printf("conductor: gauge saturated, mix starts at %.2fs",
				audio.SamplesToSeconds(ev.FireSample))
		}
	}

	released := c.stage == session.StageSyncing && c.sched.Released()
	now := audio.SamplesToSeconds(c.graph.NowSample())
	c.mix.Apply(c.stage, released, g, now)
	c.publish()
}

// armMixStart posts the deferred event back into the loop after the given
// wall-clock delay. Generation checks on receipt make a superseded timer
// harmless.
func (c *Conductor) armMixStart(ev timeline.Event, delay time.Duration) {
	c.mixTimer = time.AfterFunc(delay, func() {
		select {
		case c.fireCh <- ev:
		case <-c.done:
		}
	})
}

// activateMix flips the session into MixActive when the deferred event
// fires. The stems start at the originally computed instant even when the
// timer lands late, so they stay phase-aligned to the clock.
func (c *Conductor) activateMix(ev timeline.Event) {
	if !c.sched.Current(ev) {
		return
	}

	id := c.lib.Selected()
	stems, ok := c.lib.Stems(id)
	if !ok {
		// Not buffered yet: leave stage and gauge alone, keep the event
		// armed, and try again shortly.
		log.Printf("conductor: %s not loaded yet, retrying mix start", id)
		c.armMixStart(ev, retryInterval)
		return
	}

	c.graph.ScheduleStems(stems, ev.FireSample)
	c.graph.SnapGain(audio.RoleAccompaniment, 1)
	c.sched.Consume(ev)
	c.gauge.Reset()
	c.stage = session.StageMixActive
	c.track = id
	c.mixTimer = nil
	log.Printf("conductor: mix active on %s", id)
}

// publish refreshes the status snapshot and pushes the feed frame.
func (c *Conductor) publish() {
	released := c.stage == session.StageSyncing && c.sched.Released()

	// While the mix plays, the feed names the set bound to the live gain
	// channels; a selection whose switch failed is still only pending.
	track := c.lib.Selected()
	if c.stage == session.StageMixActive && c.track != "" {
		track = c.track
	}

	f := Frame{
		Phase:       c.phase.String(),
		Stage:       c.stage.String(),
		Released:    released,
		Gauge:       c.gauge.Value(),
		VisualLevel: c.mix.Visual(),
		Bubble:      c.leaning && c.stage != session.StageIdle,
		Leaning:     c.leaning,
		Track:       track,
		Now:         audio.SamplesToSeconds(c.graph.NowSample()),
	}

	c.statusMu.Lock()
	c.status = f
	c.statusMu.Unlock()

	if c.OnFrame != nil {
		c.OnFrame(f)
	}
}
