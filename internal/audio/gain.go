package audio

import "math"

// Smoothstep returns the smoothstep interpolation for t in [0,1].
// Formula: 3t^2 - 2t^3.
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// SmoothingCoeff converts an exponential time constant in seconds to the
// per-sample approach coefficient used by GainChannel.
func SmoothingCoeff(tau float64) float64 {
	if tau <= 0 {
		return 1
	}
	return 1 - math.Exp(-1/(tau*SampleRate))
}

// GainChannel is one gain node of the audio graph. It advances once per
// rendered sample, either approaching a target exponentially or following a
// linear ramp. Not safe for concurrent use; the engine serializes access.
type GainChannel struct {
	value  float64
	target float64
	coeff  float64

	ramping  bool
	rampStep float64
	rampEnd  float64
}

// NewGainChannel returns a silent channel with the given smoothing coefficient.
func NewGainChannel(coeff float64) *GainChannel {
	return &GainChannel{coeff: coeff}
}

// SetTarget steers the channel toward gain with exponential smoothing,
// cancelling any ramp in progress.
func (g *GainChannel) SetTarget(gain float64) {
	g.target = gain
	g.ramping = false
}

// RampTo moves the channel linearly to gain over the given number of samples.
// The ramp wins over smoothing until it completes.
func (g *GainChannel) RampTo(gain float64, samples int64) {
	if samples <= 0 {
		g.value = gain
		g.target = gain
		g.ramping = false
		return
	}
	g.target = gain
	g.rampEnd = gain
	g.rampStep = (gain - g.value) / float64(samples)
	g.ramping = true
}

// Snap sets value and target instantly, cancelling smoothing and ramps.
func (g *GainChannel) Snap(gain float64) {
	g.value = gain
	g.target = gain
	g.ramping = false
}

// Done reports whether the channel has landed exactly on its target with no
// ramp in progress.
func (g *GainChannel) Done() bool {
	return !g.ramping && g.value == g.target
}

// Step advances the channel by one sample and returns the new value.
func (g *GainChannel) Step() float64 {
	if g.ramping {
		g.value += g.rampStep
		if (g.rampStep >= 0 && g.value >= g.rampEnd) || (g.rampStep < 0 && g.value <= g.rampEnd) {
			g.value = g.rampEnd
			g.ramping = false
		}
		return g.value
	}
	g.value += (g.target - g.value) * g.coeff
	return g.value
}

// Value returns the current gain without advancing.
func (g *GainChannel) Value() float64 {
	return g.value
}

// Target returns the gain the channel is heading toward.
func (g *GainChannel) Target() float64 {
	return g.target
}

// clip bounds a mixed sample to the int16 range.
func clip(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
