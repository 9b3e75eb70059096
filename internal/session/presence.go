// Package session implements the voice-session reconciliation core: the live
// session table, the presence reconciler, crash recovery, the daily
// maintenance split, and the shutdown saver.
//
// The package is deliberately free of transport and storage concerns. All
// I/O flows through the narrow collaborator interfaces in interfaces.go so
// the state machine can be exercised directly in tests.
package session

// ///////////////////////////////////////////////
// Presence
// ///////////////////////////////////////////////

// Presence is a user's raw voice state at one instant, reduced to the fields
// the tracker cares about. A user outside any tracked channel has an empty
// ChannelID regardless of their actual platform state.
type Presence struct {
	// ChannelID is the tracked voice channel the user occupies, or "" when
	// the user is disconnected (or in an untracked channel).
	ChannelID string
	// SelfMute reports whether the user muted their own microphone.
	SelfMute bool
	// SelfDeaf reports whether the user deafened themselves.
	SelfDeaf bool
}

// Active reports whether the work clock should run for this presence:
// connected and neither self-muted nor self-deafened.
func (p Presence) Active() bool {
	return p.ChannelID != "" && !p.SelfMute && !p.SelfDeaf
}

// OnBreak reports whether the user is connected but has silenced themselves.
// Break time is tracked but never billed.
func (p Presence) OnBreak() bool {
	return p.ChannelID != "" && (p.SelfMute || p.SelfDeaf)
}

// ///////////////////////////////////////////////
// Transition Classification
// ///////////////////////////////////////////////

// TransitionKind names the four reactions to a presence change. A change that
// matches no row (channel hop while active, joining already muted, duplicate
// deliveries of a settled state) classifies as TransitionNone.
type TransitionKind int

const (
	TransitionNone TransitionKind = iota
	TransitionJoin
	TransitionResume
	TransitionPause
	TransitionStop
)

// String returns the transition name for log output.
func (k TransitionKind) String() string {
	switch k {
	case TransitionJoin:
		return "join"
	case TransitionResume:
		return "resume"
	case TransitionPause:
		return "pause"
	case TransitionStop:
		return "stop"
	default:
		return "none"
	}
}

// Classify maps a (before, after) presence pair to its transition. The pair
// is evaluated as a whole so an event that changes channel and mute state
// together still fires exactly one row.
func Classify(before, after Presence) TransitionKind {
	switch {
	case !before.Active() && !before.OnBreak() && after.Active():
		return TransitionJoin
	case before.OnBreak() && after.Active():
		return TransitionResume
	case before.Active() && after.OnBreak():
		return TransitionPause
	case (before.Active() || before.OnBreak()) && !after.Active() && !after.OnBreak():
		return TransitionStop
	default:
		return TransitionNone
	}
}
