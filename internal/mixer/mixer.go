package mixer

import (
	"math"

	"github.com/kmb3322/love-pods/internal/audio"
	"github.com/kmb3322/love-pods/internal/session"
)

// Band edges of the stem unlock curve over the gauge range. The bands tile
// [0,100] without overlap: bass saturates before drums begin rising, drums
// saturate before vocals begin rising.
const (
	bassFull   = 20.0
	drumsFull  = 40.0
	vocalsFull = 100.0
)

// Visual feedback tuning.
const (
	visualLowpass = 0.1  // first-order approach per tick
	pulsePeriod   = 1.6  // seconds per breath while awaiting the mix start
	pulseFloor    = 0.82 // bottom of the breathing band
)

// Bands maps a gauge value to the three stem gains, each clamped to [0,1].
func Bands(gauge float64) (bass, drums, vocals float64) {
	bass = clamp01(gauge / bassFull)
	drums = clamp01((gauge - bassFull) / (drumsFull - bassFull))
	vocals = clamp01((gauge - drumsFull) / (vocalsFull - drumsFull))
	return
}

// GainSetter is the slice of the audio graph the mixer drives. Targets are
// smoothed by the graph itself; the mixer only moves them.
type GainSetter interface {
	SetTarget(role audio.Role, gain float64)
}

// Mixer turns stage and gauge into per-role gain targets each tick and keeps
// the low-passed visual level exposed on the renderer feed.
type Mixer struct {
	graph  GainSetter
	visual float64
}

// New creates a mixer driving the given graph.
func New(graph GainSetter) *Mixer {
	return &Mixer{graph: graph}
}

// Apply pushes this tick's gain targets and returns the updated visual
// level. released marks the Syncing sub-state after gauge saturation; now is
// the audio-clock time in seconds, used only for the pre-mix pulse.
func (m *Mixer) Apply(stage session.Stage, released bool, gauge, now float64) float64 {
	var visualTarget float64

	switch stage {
	case session.StageSyncing:
		if released {
			// Hold the clock at full while the scheduled instant approaches.
			m.graph.SetTarget(audio.RoleClock, 1)
			visualTarget = pulse(now)
		} else {
			level := gauge / session.GaugeMax
			m.graph.SetTarget(audio.RoleClock, level)
			visualTarget = level
		}
	case session.StageMixActive:
		bass, drums, vocals := Bands(gauge)
		m.graph.SetTarget(audio.RoleClock, 1)
		m.graph.SetTarget(audio.RoleAccompaniment, 1)
		m.graph.SetTarget(audio.RoleBass, bass)
		m.graph.SetTarget(audio.RoleDrums, drums)
		m.graph.SetTarget(audio.RoleVocals, vocals)
		visualTarget = gauge / session.GaugeMax
	default:
		// Idle: no graph to drive, visual settles to zero.
		visualTarget = 0
	}

	m.visual += (visualTarget - m.visual) * visualLowpass
	return m.visual
}

// Visual returns the current low-passed visual level.
func (m *Mixer) Visual() float64 {
	return m.visual
}

// Reset zeroes the visual level for a fresh session.
func (m *Mixer) Reset() {
	m.visual = 0
}

// pulse breathes around full level while the mix start is pending: a
// smoothstep-shaped swell between pulseFloor and 1.
func pulse(now float64) float64 {
	phase := math.Mod(now, pulsePeriod) / pulsePeriod
	tri := 1 - math.Abs(2*phase-1)
	return pulseFloor + (1-pulseFloor)*audio.Smoothstep(tri)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
