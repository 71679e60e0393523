package conductor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kmb3322/love-pods/internal/audio"
	"github.com/kmb3322/love-pods/internal/session"
)

// graphState is what fakeGraph records about the conductor's engine calls.
type graphState struct {
	pos         int64
	allocated   bool
	clockOn     bool
	releasedAt  int64
	hasRelease  bool
	stemStart   int64
	hasStems    bool
	retired     int64
	hasRetire   bool
	fadedOver   int64
	hasFade     bool
	suspended   bool
	tornDown    bool
	snappedFull bool
}

// fakeGraph records the calls the conductor makes against the audio engine.
type fakeGraph struct {
	mu sync.Mutex
	graphState
}

func (g *fakeGraph) AllocateGraph(clock []int16) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.allocated = true
	g.tornDown = false
	return audio.SamplesPerChannel(clock)
}

func (g *fakeGraph) StartClock() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clockOn = true
	return g.pos
}

func (g *fakeGraph) ReleaseClockAt(s int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.releasedAt = s
	g.hasRelease = true
}

func (g *fakeGraph) NowSample() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pos
}

func (g *fakeGraph) SetTarget(audio.Role, float64) {}

func (g *fakeGraph) SnapGain(role audio.Role, gain float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if role == audio.RoleAccompaniment && gain == 1 {
		g.snappedFull = true
	}
}

func (g *fakeGraph) ScheduleStems(_ audio.Stems, start int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stemStart = start
	g.hasStems = true
}

func (g *fakeGraph) RetireStems(fade int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.retired = fade
	g.hasRetire = true
}

func (g *fakeGraph) FadeOutAll(fade int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fadedOver = fade
	g.hasFade = true
}

func (g *fakeGraph) Suspend() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.suspended = true
}

func (g *fakeGraph) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.suspended = false
}

func (g *fakeGraph) Teardown() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tornDown = true
	g.allocated = false
	g.clockOn = false
}

func (g *fakeGraph) snapshot() graphState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.graphState
}

// fakeLib is an in-memory track store.
type fakeLib struct {
	mu       sync.Mutex
	selected string
	clock    []int16
	sets     map[string]audio.Stems
	loadErr  error
}

func newFakeLib(ids ...string) *fakeLib {
	l := &fakeLib{
		clock: make([]int16, 4800*audio.Channels), // 0.1s loop
		sets:  make(map[string]audio.Stems),
	}
	for _, id := range ids {
		l.sets[id] = audio.Stems{Bass: make([]int16, 960*audio.Channels)}
	}
	return l
}

func (l *fakeLib) Select(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.selected = id
	return nil
}

func (l *fakeLib) Selected() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.selected
}

func (l *fakeLib) Clock() []int16 { return l.clock }

func (l *fakeLib) Stems(id string) (audio.Stems, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.sets[id]
	return st, ok
}

func (l *fakeLib) add(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sets[id] = audio.Stems{Bass: make([]int16, 960*audio.Channels)}
}

func (l *fakeLib) LoadPriority(context.Context) error { return l.loadErr }
func (l *fakeLib) PrefetchRest(context.Context)       {}

func testConfig() Config {
	return Config{
		GaugeSpeed:      50, // saturates in two ticks
		VocalGaugeSpeed: 50,
		GaugeDecay:      10,
		TickRate:        200,
		VocalStartDelay: 50 * time.Millisecond,
		FadeOutTime:     80 * time.Millisecond,
		SwitchFadeTime:  20 * time.Millisecond,
	}
}

func startConductor(t *testing.T, cfg Config, g Graph, l Library) *Conductor {
	t.Helper()
	c := New(cfg, g, l)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go c.Run(ctx)
	return c
}

// waitFor polls the status until cond holds or the deadline passes.
func waitFor(t *testing.T, c *Conductor, d time.Duration, cond func(Frame) bool) Frame {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		f := c.Status()
		if cond(f) {
			return f
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not reached within %v; last status %+v", d, c.Status())
	return Frame{}
}

func TestConnectRequiresSelection(t *testing.T) {
	c := startConductor(t, testConfig(), &fakeGraph{}, newFakeLib("a"))
	if err := c.Connect(); !errors.Is(err, session.ErrNoSelection) {
		t.Errorf("Connect = %v, want ErrNoSelection", err)
	}
}

func TestConnectFailsOnAssetLoad(t *testing.T) {
	lib := newFakeLib("a")
	lib.loadErr = session.ErrAssetLoad
	c := startConductor(t, testConfig(), &fakeGraph{}, lib)
	c.SelectTrack("a")
	if err := c.Connect(); !errors.Is(err, session.ErrAssetLoad) {
		t.Errorf("Connect = %v, want ErrAssetLoad", err)
	}
	if f := c.Status(); f.Phase != "disconnected" {
		t.Errorf("phase = %s after failed connect, want disconnected", f.Phase)
	}
}

func TestConnectStartsSyncing(t *testing.T) {
	g := &fakeGraph{}
	c := startConductor(t, testConfig(), g, newFakeLib("a"))
	c.SelectTrack("a")
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	f := c.Status()
	if f.Phase != "connected" || f.Stage != "syncing" {
		t.Errorf("status = %s/%s, want connected/syncing", f.Phase, f.Stage)
	}
	s := g.snapshot()
	if !s.allocated || !s.clockOn {
		t.Error("graph not allocated or clock not started")
	}
}

func TestPauseResumeTransitions(t *testing.T) {
	g := &fakeGraph{}
	c := startConductor(t, testConfig(), g, newFakeLib("a"))

	if err := c.Pause(); !errors.Is(err, session.ErrInvalidTransition) {
		t.Errorf("Pause while disconnected = %v, want ErrInvalidTransition", err)
	}
	if err := c.Resume(); !errors.Is(err, session.ErrInvalidTransition) {
		t.Errorf("Resume while disconnected = %v, want ErrInvalidTransition", err)
	}

	c.SelectTrack("a")
	c.Connect()
	if err := c.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if !g.snapshot().suspended {
		t.Error("engine not suspended after Pause")
	}
	if err := c.Pause(); !errors.Is(err, session.ErrInvalidTransition) {
		t.Errorf("double Pause = %v, want ErrInvalidTransition", err)
	}
	if err := c.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if g.snapshot().suspended {
		t.Error("engine still suspended after Resume")
	}
}

func TestSaturationReachesMixActive(t *testing.T) {
	g := &fakeGraph{}
	c := startConductor(t, testConfig(), g, newFakeLib("a"))
	c.SelectTrack("a")
	c.Connect()
	c.SetLean(true)

	waitFor(t, c, time.Second, func(f Frame) bool { return f.Released })

	s := g.snapshot()
	if !s.hasRelease {
		t.Fatal("clock loop never released")
	}
	if s.releasedAt%4800 != 0 {
		t.Errorf("release sample %d not on a loop boundary", s.releasedAt)
	}

	waitFor(t, c, time.Second, func(f Frame) bool { return f.Stage == "mix_active" })

	s = g.snapshot()
	if !s.hasStems {
		t.Fatal("stems never scheduled")
	}
	if want := s.releasedAt + audio.SecondsToSamples(0.05); s.stemStart != want {
		t.Errorf("stem start = %d, want release+delay = %d", s.stemStart, want)
	}
	if !s.snappedFull {
		t.Error("accompaniment gain not snapped to full at activation")
	}
}

func TestActivationRetriesUntilLoaded(t *testing.T) {
	g := &fakeGraph{}
	lib := newFakeLib() // selected track has no stems buffered
	c := startConductor(t, testConfig(), g, lib)
	lib.Select("slow")
	c.Connect()
	c.SetLean(true)

	waitFor(t, c, time.Second, func(f Frame) bool { return f.Released })

	// The event fires against an unloaded set: stage must hold in Syncing
	// and the event must stay armed.
	time.Sleep(150 * time.Millisecond)
	if f := c.Status(); f.Stage != "syncing" {
		t.Fatalf("stage = %s with unloaded stems, want syncing", f.Stage)
	}

	lib.add("slow")
	waitFor(t, c, 2*time.Second, func(f Frame) bool { return f.Stage == "mix_active" })
}

func TestStopFadesThenTearsDown(t *testing.T) {
	g := &fakeGraph{}
	c := startConductor(t, testConfig(), g, newFakeLib("a"))

	if err := c.Stop(); !errors.Is(err, session.ErrInvalidTransition) {
		t.Errorf("Stop while disconnected = %v, want ErrInvalidTransition", err)
	}

	c.SelectTrack("a")
	c.Connect()
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !g.snapshot().hasFade {
		t.Error("gains not faded on stop")
	}
	if g.snapshot().tornDown {
		t.Error("graph torn down before the fade elapsed")
	}

	// A second stop mid-fade is a no-op, not an error.
	if err := c.Stop(); err != nil {
		t.Errorf("Stop mid-fade = %v, want nil", err)
	}

	waitFor(t, c, time.Second, func(f Frame) bool { return f.Phase == "disconnected" })
	f := c.Status()
	if f.Stage != "idle" || f.Gauge != 0 {
		t.Errorf("after stop: stage=%s gauge=%v, want idle/0", f.Stage, f.Gauge)
	}
	if !g.snapshot().tornDown {
		t.Error("graph not torn down after fade")
	}
}

func TestStopCancelsPendingMixStart(t *testing.T) {
	g := &fakeGraph{}
	cfg := testConfig()
	cfg.VocalStartDelay = 300 * time.Millisecond // wide window to stop inside
	c := startConductor(t, cfg, g, newFakeLib("a"))
	c.SelectTrack("a")
	c.Connect()
	c.SetLean(true)

	waitFor(t, c, time.Second, func(f Frame) bool { return f.Released })
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// Wait out the scheduled mix start plus slack: it must never activate.
	time.Sleep(400 * time.Millisecond)
	waitFor(t, c, time.Second, func(f Frame) bool { return f.Phase == "disconnected" })
	if g.snapshot().hasStems {
		t.Error("superseded mix-start event scheduled stems after stop")
	}
}

func TestTrackSwitchLateralSwap(t *testing.T) {
	g := &fakeGraph{}
	lib := newFakeLib("a", "b")
	c := startConductor(t, testConfig(), g, lib)
	c.SelectTrack("a")
	c.Connect()
	c.SetLean(true)

	waitFor(t, c, 2*time.Second, func(f Frame) bool { return f.Stage == "mix_active" })
	gaugeBefore := c.Status().Gauge

	if err := c.SelectTrack("b"); err != nil {
		t.Fatalf("SelectTrack(b): %v", err)
	}
	s := g.snapshot()
	if !s.hasRetire {
		t.Error("old stems not retired on switch")
	}
	if s.stemStart != s.pos {
		t.Errorf("switch start = %d, want current instant %d", s.stemStart, s.pos)
	}
	f := c.Status()
	if f.Stage != "mix_active" {
		t.Errorf("stage = %s after switch, want mix_active (preserved)", f.Stage)
	}
	// Gauge carries over; it keeps ticking, so only check it wasn't reset.
	if gaugeBefore > 50 && f.Gauge < gaugeBefore/2 {
		t.Errorf("gauge dropped from %v to %v across switch", gaugeBefore, f.Gauge)
	}
}

func TestTrackSwitchNotLoaded(t *testing.T) {
	g := &fakeGraph{}
	lib := newFakeLib("a")
	c := startConductor(t, testConfig(), g, lib)
	c.SelectTrack("a")
	c.Connect()
	c.SetLean(true)

	waitFor(t, c, 2*time.Second, func(f Frame) bool { return f.Stage == "mix_active" })

	if err := c.SelectTrack("later"); !errors.Is(err, session.ErrTrackNotLoaded) {
		t.Fatalf("SelectTrack(later) = %v, want ErrTrackNotLoaded", err)
	}
	if f := c.Status(); f.Stage != "mix_active" {
		t.Errorf("stage = %s after failed switch, want mix_active", f.Stage)
	}
	if g.snapshot().hasRetire {
		t.Error("live stems retired by a failed switch")
	}

	// The feed keeps naming the set that is actually playing, not the
	// selection whose switch failed.
	waitFor(t, c, time.Second, func(f Frame) bool { return f.Track == "a" })

	// Retry once the background load lands.
	lib.add("later")
	if err := c.SelectTrack("later"); err != nil {
		t.Errorf("retry SelectTrack(later) = %v, want nil", err)
	}
	waitFor(t, c, time.Second, func(f Frame) bool { return f.Track == "later" })
}

func TestLeanBubbleHint(t *testing.T) {
	c := startConductor(t, testConfig(), &fakeGraph{}, newFakeLib("a"))
	c.SetLean(true)
	time.Sleep(20 * time.Millisecond)
	if f := c.Status(); f.Bubble {
		t.Error("bubble hint set while idle")
	}
	c.SelectTrack("a")
	c.Connect()
	waitFor(t, c, time.Second, func(f Frame) bool { return f.Bubble })
}
