package rtc

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/dkeye/vidcall/internal/core"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

type SinkState int32

const (
	SinkOk SinkState = iota
	SinkDelete
)

// Sink consumes RTP packets of one remote track.
type Sink interface {
	WriteRTP(pkt *rtp.Packet) error
}

type outSink struct {
	Sink
	state atomic.Int32
}

func (o *outSink) State() SinkState { return SinkState(o.state.Load()) }
func (o *outSink) Mark(s SinkState) { o.state.Store(int32(s)) }

type packetReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// relay drains a remote track and fans packets out to its sinks.
type relay struct {
	src packetReader

	mu    sync.RWMutex
	sinks map[string]*outSink
}

func newRelay(src packetReader) *relay {
	return &relay{src: src, sinks: make(map[string]*outSink)}
}

func (r *relay) AddSink(name string, s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[name] = &outSink{Sink: s}
}

func (r *relay) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks)
}

// loop reads until the source fails or ctx ends.
func (r *relay) loop(ctx context.Context, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("relay ctx done")
			r.markAllDelete()
			return
		default:
		}
		pkt, _, err := r.src.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Msg("relay read RTP stopped")
			r.markAllDelete()
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := maps.Clone(r.sinks)
	r.mu.RUnlock()

	var dirty []string
	for name, o := range snapshot {
		switch o.State() {
		case SinkDelete:
			dirty = append(dirty, name)
		case SinkOk:
			if err := o.WriteRTP(pkt); err != nil {
				logger.Warn().Err(err).Str("sink", name).Msg("sink write error, dropping sink")
				o.Mark(SinkDelete)
				dirty = append(dirty, name)
			}
		}
	}
	if len(dirty) > 0 {
		r.mu.Lock()
		for _, name := range dirty {
			delete(r.sinks, name)
		}
		r.mu.Unlock()
	}
}

func (r *relay) markAllDelete() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.sinks {
		o.Mark(SinkDelete)
	}
}

// statsSink counts received media.
type statsSink struct {
	packets atomic.Uint64
	bytes   atomic.Uint64
	lastSeq atomic.Uint32
}

func (s *statsSink) WriteRTP(pkt *rtp.Packet) error {
	s.packets.Add(1)
	s.bytes.Add(uint64(len(pkt.Payload)))
	s.lastSeq.Store(uint32(pkt.SequenceNumber))
	return nil
}

func (s *statsSink) Stats() core.MediaStats {
	return core.MediaStats{
		Packets: s.packets.Load(),
		Bytes:   s.bytes.Load(),
		LastSeq: uint16(s.lastSeq.Load()),
	}
}
