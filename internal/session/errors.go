package session

import "errors"

// Error taxonomy of the playback surface. Callers match with errors.Is; none
// of these is fatal to the process, a stop always returns to a clean slate.
var (
	// ErrAssetLoad marks a clock or stem asset that could not be decoded.
	ErrAssetLoad = errors.New("asset load failed")

	// ErrNoSelection is returned by connect when no track set is chosen.
	ErrNoSelection = errors.New("no track selected")

	// ErrTrackNotLoaded is returned when a mix activation or track switch
	// needs a stem set that is not buffered yet. The attempt is retryable
	// and leaves stage and gauge untouched.
	ErrTrackNotLoaded = errors.New("track not loaded")

	// ErrInvalidTransition marks a control request that does not apply to
	// the current phase, e.g. pause while disconnected. The user surface
	// treats it as a silent no-op.
	ErrInvalidTransition = errors.New("invalid state transition")
)
