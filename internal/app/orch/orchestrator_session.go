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

// Join opens a session using req, falling back to the current form for
// empty fields. It returns once the local publisher is live or the attempt
// has been fully unwound.
func (c *Coordinator) Join(ctx context.Context, req domain.JoinForm) error {
	var (
		epoch uint64
		sess  core.EngineSession
		form  domain.JoinForm
	)
	err := c.exec(func(st *state) error {
		if st.phase != domain.Disconnected {
			return errors.Join(core.ErrInvalidState, fmt.Errorf("join while %s", st.phase))
		}
		form = req.Merge(st.form)
		s, err := c.engine.InitSession()
		if err != nil {
			st.lastErr = err.Error()
			return errors.Join(core.ErrConnect, err)
		}
		st.epoch++
		epoch = st.epoch
		// Handlers go in before Connect so early remote streams are queued.
		s.SetHandlers(c.handlers(epoch))
		st.phase = domain.Connecting
		st.engine = s
		st.sessionID = form.SessionID
		st.form = form
		st.lastErr = ""
		st.lastEx = nil
		sess = s
		return nil
	})
	if err != nil {
		return err
	}

	logger := log.With().
		Str("module", "app.orch").
		Str("session", form.SessionID).
		Uint64("epoch", epoch).
		Logger()
	logger.Info().Str("user", form.UserName).Msg("joining session")

	cred, err := c.creds.AcquireCredential(ctx, form.SessionID)
	if err != nil {
		logger.Error().Err(err).Msg("credential failed")
		return c.abortJoin(ctx, epoch, sess, err)
	}
	if err := sess.Connect(ctx, cred.Token, domain.EncodeClientData(form.UserName)); err != nil {
		logger.Error().Err(err).Msg("connect failed")
		return c.abortJoin(ctx, epoch, sess, errors.Join(core.ErrConnect, err))
	}

	if !c.isLive(epoch) {
		logger.Info().Msg("session left while connecting, discarding")
		c.release(ctx, sess, nil, nil)
		return core.ErrSessionClosed
	}

	pub, err := c.publish.CreateAndPublish(ctx, sess, app.DeviceSelection{}, c.audio, c.video)
	if err != nil {
		logger.Error().Err(err).Msg("publish failed")
		return c.abortJoin(ctx, epoch, sess, err)
	}

	err = c.exec(func(st *state) error {
		if !st.live(epoch) {
			return core.ErrSessionClosed
		}
		st.phase = domain.Connected
		st.publisher = pub
		st.mainView = domain.PublisherView()
		if cred.SessionID != "" {
			st.sessionID = cred.SessionID
		}
		return nil
	})
	if err != nil {
		logger.Info().Msg("session left while publishing, discarding")
		c.release(ctx, sess, pub, nil)
		return err
	}
	c.devices.SetActive(domain.VideoInput, pub.DeviceID())
	logger.Info().Str("stream", pub.ID()).Msg("session connected")
	return nil
}

func (c *Coordinator) isLive(epoch uint64) bool {
	live := false
	_ = c.exec(func(st *state) error {
		live = st.live(epoch)
		return nil
	})
	return live
}

// abortJoin unwinds a failed join back to Disconnected. If a leave already
// superseded the attempt only the engine session is released and the error
// also matches core.ErrSessionClosed.
func (c *Coordinator) abortJoin(ctx context.Context, epoch uint64, sess core.EngineSession, cause error) error {
	var entries []app.Entry
	superseded := false
	_ = c.exec(func(st *state) error {
		if !st.live(epoch) {
			superseded = true
			return nil
		}
		st.epoch++
		st.phase = domain.Disconnected
		st.engine = nil
		st.sessionID = ""
		st.publisher = nil
		st.mainView = domain.MainView{}
		st.switching = false
		st.lastErr = cause.Error()
		entries = st.registry.Clear()
		return nil
	})
	c.release(ctx, sess, nil, entries)
	if superseded {
		return errors.Join(core.ErrSessionClosed, cause)
	}
	return cause
}

// Leave tears the session down. Calling it while already disconnected is a
// no-op.
func (c *Coordinator) Leave(ctx context.Context) error {
	var (
		sess    core.EngineSession
		pub     *app.Publisher
		entries []app.Entry
		noop    bool
	)
	err := c.exec(func(st *state) error {
		if st.phase == domain.Disconnected || st.phase == domain.Disconnecting {
			noop = true
			return nil
		}
		st.epoch++
		st.phase = domain.Disconnecting
		sess, pub = st.engine, st.publisher
		entries = st.registry.Clear()
		st.publisher = nil
		st.mainView = domain.MainView{}
		st.switching = false
		return nil
	})
	if err != nil || noop {
		return err
	}

	log.Info().Str("module", "app.orch").Int("participants", len(entries)).Msg("leaving session")
	c.release(ctx, sess, pub, entries)
	c.devices.SetActive(domain.VideoInput, "")

	return c.exec(func(st *state) error {
		st.phase = domain.Disconnected
		st.engine = nil
		st.sessionID = ""
		st.form = c.newForm()
		return nil
	})
}

// release frees session resources outside the loop. It is not bound to
// the caller's cancellation.
func (c *Coordinator) release(parent context.Context, sess core.EngineSession, pub *app.Publisher, entries []app.Entry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), defaultTeardownTimeout)
	defer cancel()

	if err := c.publish.Teardown(ctx, pub); err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Msg("publisher teardown")
	}
	for _, e := range entries {
		if e.Subscriber == nil {
			continue
		}
		if err := e.Subscriber.Close(); err != nil {
			log.Warn().Err(err).Str("module", "app.orch").Str("connection", e.Participant.ConnectionID).Msg("subscriber close")
		}
	}
	if sess == nil {
		return
	}
	if err := sess.Disconnect(ctx); err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Msg("session disconnect")
	}
}
