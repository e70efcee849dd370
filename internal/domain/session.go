package domain

import (
	"fmt"
	"math/rand"
)

type SessionState int

const (
	Disconnected SessionState = iota
	Connecting
	Connected
	Disconnecting
)

func (s SessionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SessionState) UnmarshalText(b []byte) error {
	for st := Disconnected; st <= Disconnecting; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", b)
}

// Credential is what the backend hands out for one connection.
type Credential struct {
	SessionID string
	Token     string
}

const (
	DefaultSessionID  = "SessionA"
	DefaultNamePrefix = "Participant"
)

// JoinForm holds the user-editable join fields.
type JoinForm struct {
	SessionID string `json:"session_id"`
	UserName  string `json:"user_name"`
}

// NewJoinForm returns a form with the given session id and a generated
// display name of the form "<prefix><0..99>".
func NewJoinForm(sessionID, namePrefix string) JoinForm {
	if sessionID == "" {
		sessionID = DefaultSessionID
	}
	if namePrefix == "" {
		namePrefix = DefaultNamePrefix
	}
	return JoinForm{
		SessionID: sessionID,
		UserName:  fmt.Sprintf("%s%d", namePrefix, rand.Intn(100)),
	}
}

// Merge fills empty fields of f from def.
func (f JoinForm) Merge(def JoinForm) JoinForm {
	if f.SessionID == "" {
		f.SessionID = def.SessionID
	}
	if f.UserName == "" {
		f.UserName = def.UserName
	}
	return f
}
