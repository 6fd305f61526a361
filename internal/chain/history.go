package chain

// Speaker identifies who authored a turn.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerPrompter  Speaker = "prompter"
	SpeakerResponder Speaker = "responder"
)

// Role is one of the two agents taking turns.
type Role string

const (
	RolePrompter  Role = "prompter"
	RoleResponder Role = "responder"
)

// Speaker returns the speaker tag used for turns this role authors.
func (r Role) Speaker() Speaker {
	if r == RoleResponder {
		return SpeakerResponder
	}
	return SpeakerPrompter
}

// Turn is one contribution to a history. Turns are values; once appended
// they are never modified.
type Turn struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// FromModel reports whether the turn was produced by an agent rather than
// posed to it.
func (t Turn) FromModel() bool {
	return t.Speaker != SpeakerUser
}

// History is an append-only transcript scoped to a single role.
type History struct {
	turns []Turn
}

// Append adds a turn to the end of the transcript.
func (h *History) Append(speaker Speaker, text string) {
	h.turns = append(h.turns, Turn{Speaker: speaker, Text: text})
}

// Len returns the number of turns recorded so far.
func (h *History) Len() int {
	return len(h.turns)
}

// Turns returns a copy of the transcript so callers cannot rewrite it.
func (h *History) Turns() []Turn {
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Last returns the most recent turn, if any.
func (h *History) Last() (Turn, bool) {
	if len(h.turns) == 0 {
		return Turn{}, false
	}
	return h.turns[len(h.turns)-1], true
}
