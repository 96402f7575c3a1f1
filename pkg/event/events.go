package event

// ============================================================================
// Event Names (constants)
// ============================================================================

const (
	DebateCountdown = "debate.countdown"
	DebateState     = "debate.state"
	DebateSpeaker   = "debate.speaker"
	DebateMessage   = "debate.message"
	DebateError     = "debate.error"
	ReplayState     = "replay.state"
	ReplayIndex     = "replay.index"
	ReplayNarrate   = "replay.narrate"
	SessionSaved    = "session.saved"
	SessionDeleted  = "session.deleted"
)

// ============================================================================
// Debate Events
// ============================================================================

// DebateCountdownEvent is emitted once per countdown step before the first turn.
type DebateCountdownEvent struct {
	DebateID  string `json:"debate_id"`
	Remaining int    `json:"remaining"` // steps left, 0 means the debate starts now
}

func (e DebateCountdownEvent) EventName() string { return DebateCountdown }

// DebateStateEvent is emitted on every scheduler state transition.
type DebateStateEvent struct {
	DebateID string `json:"debate_id"`
	State    string `json:"state"` // idle, countdown, debating, synthesizing, complete, errored
}

func (e DebateStateEvent) EventName() string { return DebateState }

// DebateSpeakerEvent is emitted when a persona's turn begins or ends.
type DebateSpeakerEvent struct {
	DebateID    string `json:"debate_id"`
	PersonaName string `json:"persona_name"` // empty when nobody is speaking
	VoiceIndex  int    `json:"voice_index"`
}

func (e DebateSpeakerEvent) EventName() string { return DebateSpeaker }

// DebateMessageEvent is emitted on every transcript update, including each
// growing snapshot of the in-progress message.
type DebateMessageEvent struct {
	DebateID    string `json:"debate_id"`
	Index       int    `json:"index"` // position in the transcript
	PersonaName string `json:"persona_name"`
	Message     string `json:"message"` // full text so far, not a delta
	Final       bool   `json:"final"`   // true once the turn completed
}

func (e DebateMessageEvent) EventName() string { return DebateMessage }

// DebateErrorEvent is emitted when a turn stream, synthesis or persistence
// fails. Kind distinguishes the failure classes the UI reports differently.
type DebateErrorEvent struct {
	DebateID string `json:"debate_id"`
	Kind     string `json:"kind"` // transport, malformed, storage
	Message  string `json:"message"`
}

func (e DebateErrorEvent) EventName() string { return DebateError }

// ============================================================================
// Replay Events
// ============================================================================

// ReplayStateEvent is emitted when playback starts or stops.
type ReplayStateEvent struct {
	ReplayID string `json:"replay_id"`
	Playing  bool   `json:"playing"`
	AudioOn  bool   `json:"audio_on"`
}

func (e ReplayStateEvent) EventName() string { return ReplayState }

// ReplayIndexEvent is emitted whenever the displayed index changes, by
// playback or by seeking.
type ReplayIndexEvent struct {
	ReplayID string `json:"replay_id"`
	Index    int    `json:"index"` // -1 means before the first message
}

func (e ReplayIndexEvent) EventName() string { return ReplayIndex }

// ReplayNarrateEvent asks the frontend narrator to speak one message. The
// frontend answers via POST /api/v1/replays/:id/narrated carrying the token;
// voice selection is voice_index mod the number of available voices.
type ReplayNarrateEvent struct {
	ReplayID   string `json:"replay_id"`
	Token      string `json:"token"` // identifies this narration request
	Text       string `json:"text"`
	VoiceIndex int    `json:"voice_index"`
	Cancel     bool   `json:"cancel"` // true = stop speaking instead
}

func (e ReplayNarrateEvent) EventName() string { return ReplayNarrate }

// ============================================================================
// Session Events
// ============================================================================

// SessionSavedEvent is emitted when a finished session is persisted.
type SessionSavedEvent struct {
	SessionID string `json:"session_id"`
}

func (e SessionSavedEvent) EventName() string { return SessionSaved }

// SessionDeletedEvent is emitted when a stored session is deleted.
type SessionDeletedEvent struct {
	SessionID string `json:"session_id"`
}

func (e SessionDeletedEvent) EventName() string { return SessionDeleted }
