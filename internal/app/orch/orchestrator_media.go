package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/vidcall/internal/app"
	"github.com/dkeye/vidcall/internal/core"
	"github.com/dkeye/vidcall/internal/domain"
	"github.com/rs/zerolog/log"
)

// handlers binds engine callbacks to the session started at epoch. They
// only enqueue, so they never block the engine.
func (c *Coordinator) handlers(epoch uint64) core.SessionHandlers {
	return core.SessionHandlers{
		OnStreamCreated: func(rs core.RemoteStream) {
			c.post(func(st *state) { c.onStreamCreated(st, epoch, rs) })
		},
		OnStreamDestroyed: func(rs core.RemoteStream) {
			c.post(func(st *state) { c.onStreamDestroyed(st, epoch, rs) })
		},
		OnException: func(ex core.EngineException) {
			c.post(func(st *state) { c.onException(st, epoch, ex) })
		},
	}
}

func (c *Coordinator) onStreamCreated(st *state, epoch uint64, rs core.RemoteStream) {
	logger := log.With().
		Str("module", "app.orch").
		Str("connection", rs.ConnectionID).
		Str("stream", rs.StreamID).
		Logger()
	if !st.live(epoch) {
		logger.Debug().Msg("stream created for stale session")
		return
	}
	sub, err := st.engine.Subscribe(rs)
	if err != nil {
		logger.Error().Err(err).Msg("subscribe failed")
		st.lastErr = err.Error()
		return
	}
	p := domain.Participant{
		ConnectionID: rs.ConnectionID,
		StreamID:     rs.StreamID,
		DisplayName:  domain.DisplayNameFromMetadata(rs.Metadata),
	}
	if replaced := st.registry.Joined(p, sub); replaced != nil && replaced.Subscriber != nil && replaced.Subscriber != sub {
		closeSubscriber(replaced.Subscriber)
	}
}

func (c *Coordinator) onStreamDestroyed(st *state, epoch uint64, rs core.RemoteStream) {
	if !st.live(epoch) {
		return
	}
	e, ok := st.registry.LeftStream(rs.ConnectionID, rs.StreamID)
	if !ok {
		return
	}
	if e.Subscriber != nil {
		closeSubscriber(e.Subscriber)
	}
	if st.mainView.Kind == domain.ViewParticipant && st.mainView.ConnectionID == rs.ConnectionID {
		st.mainView = fallbackView(st)
	}
}

func (c *Coordinator) onException(st *state, epoch uint64, ex core.EngineException) {
	log.Warn().
		Str("module", "app.orch").
		Str("name", ex.Name).
		Str("origin", ex.Origin).
		Bool("stale", !st.live(epoch)).
		Msg(ex.Message)
	if !st.live(epoch) {
		return
	}
	if c.policy.OnException(ex) == app.Surface {
		st.lastEx = &ex
	}
}

func closeSubscriber(sub core.Subscriber) {
	go func() {
		if err := sub.Close(); err != nil {
			log.Warn().Err(err).Str("module", "app.orch").Str("stream", sub.StreamID()).Msg("subscriber close")
		}
	}()
}

func fallbackView(st *state) domain.MainView {
	if st.publisher != nil {
		return domain.PublisherView()
	}
	return domain.MainView{}
}

// SwitchCamera moves the publisher to the next video input. With fewer than
// two cameras it does nothing.
func (c *Coordinator) SwitchCamera(ctx context.Context) error {
	var (
		epoch uint64
		sess  core.EngineSession
		cur   *app.Publisher
	)
	err := c.exec(func(st *state) error {
		if st.phase != domain.Connected || st.publisher == nil {
			return errors.Join(core.ErrInvalidState, fmt.Errorf("switch camera while %s", st.phase))
		}
		if st.switching {
			return errors.Join(core.ErrInvalidState, errors.New("camera switch in progress"))
		}
		st.switching = true
		epoch, sess, cur = st.epoch, st.engine, st.publisher
		return nil
	})
	if err != nil {
		return err
	}
	next, cause := c.switchDevice(ctx, sess, cur)
	return c.commitSwitch(ctx, epoch, cur, next, cause)
}

func (c *Coordinator) switchDevice(ctx context.Context, sess core.EngineSession, cur *app.Publisher) (*app.Publisher, error) {
	cams, err := c.devices.ListInputDevices(ctx, domain.VideoInput)
	if err != nil {
		return nil, err
	}
	target, ok := app.NextDevice(cur.DeviceID(), cams)
	if !ok || len(cams) < 2 || target.DeviceID == cur.DeviceID() {
		log.Info().Str("module", "app.orch").Int("cameras", len(cams)).Msg("no alternate camera")
		return nil, nil
	}
	return c.publish.SwitchDevice(ctx, sess, cur, target.DeviceID)
}

func (c *Coordinator) commitSwitch(ctx context.Context, epoch uint64, cur, next *app.Publisher, cause error) error {
	var orphan *app.Publisher
	err := c.exec(func(st *state) error {
		if st.epoch != epoch {
			orphan = next
			return core.ErrSessionClosed
		}
		st.switching = false
		switch {
		case cause == nil && next != nil:
			st.publisher = next
		case cause != nil && st.publisher == cur && !cur.Published():
			st.publisher = nil
			if st.mainView.Kind == domain.ViewPublisher {
				st.mainView = domain.MainView{}
			}
		}
		if cause != nil {
			st.lastErr = cause.Error()
		}
		return nil
	})
	if orphan != nil {
		c.release(ctx, nil, orphan, nil)
	}
	if err != nil {
		return errors.Join(err, cause)
	}
	if cause != nil {
		return cause
	}
	if next != nil {
		c.devices.SetActive(domain.VideoInput, next.DeviceID())
	}
	return nil
}

// SelectMainView changes which stream is shown large. It has no effect on
// publishing or subscriptions.
func (c *Coordinator) SelectMainView(view domain.MainView) error {
	return c.exec(func(st *state) error {
		switch view.Kind {
		case domain.ViewNone:
		case domain.ViewPublisher:
			if st.publisher == nil {
				return core.ErrUnknownMainView
			}
		case domain.ViewParticipant:
			if _, ok := st.registry.Get(view.ConnectionID); !ok {
				return core.ErrUnknownMainView
			}
		default:
			return core.ErrUnknownMainView
		}
		st.mainView = view
		return nil
	})
}

// MediaStats reports received media per remote connection id.
func (c *Coordinator) MediaStats() (map[string]core.MediaStats, error) {
	out := make(map[string]core.MediaStats)
	err := c.exec(func(st *state) error {
		for _, p := range st.registry.List() {
			if e, ok := st.registry.Get(p.ConnectionID); ok && e.Subscriber != nil {
				out[p.ConnectionID] = e.Subscriber.Stats()
			}
		}
		return nil
	})
	return out, err
}
