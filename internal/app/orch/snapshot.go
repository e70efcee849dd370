package orch

import (
	"github.com/dkeye/vidcall/internal/core"
	"github.com/dkeye/vidcall/internal/domain"
)

type PublisherInfo struct {
	StreamID string `json:"stream_id"`
	DeviceID string `json:"device_id"`
	Audio    bool   `json:"audio"`
	Video    bool   `json:"video"`
}

// Snapshot is a read-only copy of the coordinator state for rendering.
type Snapshot struct {
	State         domain.SessionState   `json:"state"`
	SessionID     string                `json:"session_id,omitempty"`
	Form          domain.JoinForm       `json:"form"`
	Publisher     *PublisherInfo        `json:"publisher,omitempty"`
	Participants  []domain.Participant  `json:"participants"`
	MainView      domain.MainView       `json:"main_view"`
	Switching     bool                  `json:"switching"`
	LastError     string                `json:"last_error,omitempty"`
	LastException *core.EngineException `json:"last_exception,omitempty"`
}

func (st *state) snapshot() Snapshot {
	s := Snapshot{
		State:        st.phase,
		SessionID:    st.sessionID,
		Form:         st.form,
		Participants: st.registry.List(),
		MainView:     st.mainView,
		Switching:    st.switching,
		LastError:    st.lastErr,
	}
	if p := st.publisher; p != nil {
		s.Publisher = &PublisherInfo{
			StreamID: p.ID(),
			DeviceID: p.DeviceID(),
			Audio:    p.AudioEnabled(),
			Video:    p.VideoEnabled(),
		}
	}
	if st.lastEx != nil {
		ex := *st.lastEx
		s.LastException = &ex
	}
	return s
}
