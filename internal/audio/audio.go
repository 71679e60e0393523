package audio

import "time"

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// Role identifies one channel of the audio graph. The clock track carries the
// sync loop; the other four roles are the stems of the selected song.
type Role int

const (
	RoleClock Role = iota
	RoleAccompaniment
	RoleBass
	RoleDrums
	RoleVocals
	RoleCount
)

func (r Role) String() string {
	switch r {
	case RoleClock:
		return "clock"
	case RoleAccompaniment:
		return "accompaniment"
	case RoleBass:
		return "bass"
	case RoleDrums:
		return "drums"
	case RoleVocals:
		return "vocals"
	default:
		return "unknown"
	}
}

// StemRoles lists the four song roles in render order. RoleClock is excluded:
// the clock buffer is bound separately and loops.
var StemRoles = [4]Role{RoleAccompaniment, RoleBass, RoleDrums, RoleVocals}

// Stems holds the decoded PCM of one song, indexed by role. A nil buffer
// means the stem is absent and renders silent.
type Stems struct {
	Accompaniment []int16
	Bass          []int16
	Drums         []int16
	Vocals        []int16
}

// ByRole returns the buffer for a stem role, nil for absent stems or RoleClock.
func (s Stems) ByRole(r Role) []int16 {
	switch r {
	case RoleAccompaniment:
		return s.Accompaniment
	case RoleBass:
		return s.Bass
	case RoleDrums:
		return s.Drums
	case RoleVocals:
		return s.Vocals
	default:
		return nil
	}
}

// Empty reports whether no stem at all is present.
func (s Stems) Empty() bool {
	return s.Accompaniment == nil && s.Bass == nil && s.Drums == nil && s.Vocals == nil
}

// SamplesPerChannel returns the per-channel sample count of an interleaved buffer.
func SamplesPerChannel(pcm []int16) int64 {
	return int64(len(pcm) / Channels)
}

// SecondsToSamples converts a duration in seconds to per-channel samples.
func SecondsToSamples(sec float64) int64 {
	return int64(sec * SampleRate)
}

// SamplesToSeconds converts a per-channel sample count to seconds.
func SamplesToSeconds(n int64) float64 {
	return float64(n) / SampleRate
}
