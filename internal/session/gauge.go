package session

// GaugeMax is the saturation value of the lean gauge.
const GaugeMax = 100

// Gauge is the bounded control scalar charged by leaning and decaying
// otherwise. The charge rate switches to VocalSpeed once the mix is active;
// decay is stage-independent. One tick loop owns the value, mixer and
// scheduler read it the same tick.
type Gauge struct {
	Speed      float64 // charge per tick before the mix starts
	VocalSpeed float64 // charge per tick while the mix is active
	Decay      float64 // fall per tick while not leaning

	value float64
}

// Tick applies one unconditional update and returns the new value, clamped
// to [0, GaugeMax].
func (g *Gauge) Tick(leaning bool, stage Stage) float64 {
	if leaning {
		rate := g.Speed
		if stage == StageMixActive {
			rate = g.VocalSpeed
		}
		g.value += rate
	} else {
		g.value -= g.Decay
	}
	if g.value < 0 {
		g.value = 0
	} else if g.value > GaugeMax {
		g.value = GaugeMax
	}
	return g.value
}

// Value returns the current gauge without ticking.
func (g *Gauge) Value() float64 {
	return g.value
}

// Saturated reports whether the gauge sits at GaugeMax.
func (g *Gauge) Saturated() bool {
	return g.value >= GaugeMax
}

// Reset zeroes the gauge.
func (g *Gauge) Reset() {
	g.value = 0
}
