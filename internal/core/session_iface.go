package core

import "context"

// RemoteStream is a remote participant's stream announced by the engine.
type RemoteStream struct {
	StreamID     string
	ConnectionID string
	// Metadata is the raw connection data the remote side joined with.
	Metadata string
	HasAudio bool
	HasVideo bool
}

// EngineException is an asynchronous, non-fatal error reported by the engine.
type EngineException struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Origin  string `json:"origin,omitempty"`
}

// SessionHandlers are invoked by the engine from its own goroutines.
// Implementations must not block.
type SessionHandlers struct {
	OnStreamCreated   func(RemoteStream)
	OnStreamDestroyed func(RemoteStream)
	OnException       func(EngineException)
}

// MediaStats counts RTP received for one subscription.
type MediaStats struct {
	Packets uint64 `json:"packets"`
	Bytes   uint64 `json:"bytes"`
	LastSeq uint16 `json:"last_seq"`
}

// Subscriber is an incoming remote stream. Owned by the engine session;
// Close releases it early.
type Subscriber interface {
	StreamID() string
	Stats() MediaStats
	Close() error
}

// EngineSession is one real-time session as exposed by the engine.
type EngineSession interface {
	// SetHandlers must be called before Connect so no remote event is lost.
	SetHandlers(SessionHandlers)
	Connect(ctx context.Context, token, metadata string) error
	// Subscribe returns immediately; negotiation continues in the background.
	Subscribe(stream RemoteStream) (Subscriber, error)
	Publish(ctx context.Context, stream LocalStream) error
	Unpublish(ctx context.Context, stream LocalStream) error
	// Disconnect is idempotent.
	Disconnect(ctx context.Context) error
}

// Engine allocates engine sessions. Each coordinator owns the sessions it
// allocates.
type Engine interface {
	InitSession() (EngineSession, error)
}
