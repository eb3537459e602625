package domain

// Turn is one customer utterance and the assistant reply that answered it.
type Turn struct {
	Index     int
	Utterance string
	Reply     string
}

// Completed reports whether both sides of the exchange were recorded.
func (t Turn) Completed() bool {
	return t.Utterance != "" && t.Reply != ""
}

// Session is the persisted state of one customer conversation.
// Turns are in chronological order and may be a suffix of the full history.
type Session struct {
	ID          string
	Turns       []Turn
	TurnCount   int
	Preferences PreferenceSet
}
