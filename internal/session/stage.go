package session

// Stage is the audio phase of a playback session. Idle has no audio graph;
// Syncing loops the clock track while the gauge charges its volume; MixActive
// plays the full stem timeline with gauge-driven stem gains.
type Stage int

const (
	StageIdle Stage = iota
	StageSyncing
	StageMixActive
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageSyncing:
		return "syncing"
	case StageMixActive:
		return "mix_active"
	default:
		return "unknown"
	}
}

// stageNext lists the forward transitions a session may take. Only a full
// stop returns to Idle; stages are never skipped or reversed mid-session.
var stageNext = map[Stage][]Stage{
	StageIdle:      {StageSyncing},
	StageSyncing:   {StageMixActive},
	StageMixActive: {},
}

// CanAdvance reports whether moving from s to next is a legal in-session
// transition.
func (s Stage) CanAdvance(next Stage) bool {
	for _, n := range stageNext[s] {
		if n == next {
			return true
		}
	}
	return false
}
