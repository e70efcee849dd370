package domain

// Participant is a remote stream as seen by this client.
// No transport or lifecycle logic here.
type Participant struct {
	ConnectionID string `json:"connection_id"`
	StreamID     string `json:"stream_id"`
	DisplayName  string `json:"display_name"`
}

type ViewKind string

const (
	ViewNone        ViewKind = ""
	ViewPublisher   ViewKind = "publisher"
	ViewParticipant ViewKind = "participant"
)

// MainView selects which stream is shown large. ConnectionID is set only for
// ViewParticipant.
type MainView struct {
	Kind         ViewKind `json:"kind"`
	ConnectionID string   `json:"connection_id,omitempty"`
}

func PublisherView() MainView { return MainView{Kind: ViewPublisher} }

func ParticipantView(connectionID string) MainView {
	return MainView{Kind: ViewParticipant, ConnectionID: connectionID}
}
