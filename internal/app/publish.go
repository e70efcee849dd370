package app

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/vidcall/internal/core"
	"github.com/rs/zerolog/log"
)

// PublishOptions are the capture properties applied to every publisher.
type PublishOptions struct {
	Width     int
	Height    int
	FrameRate int
	Mirror    bool
}

func DefaultPublishOptions() PublishOptions {
	return PublishOptions{Width: 640, Height: 480, FrameRate: 30}
}

// DeviceSelection picks capture devices; empty ids mean platform defaults.
type DeviceSelection struct {
	AudioDeviceID string
	VideoDeviceID string
}

// Publisher is the local outgoing stream. It is replaced, never mutated,
// when the capture device changes.
type Publisher struct {
	stream core.LocalStream

	mu        sync.Mutex
	sess      core.EngineSession
	published bool
	disposed  bool
}

func (p *Publisher) ID() string         { return p.stream.ID() }
func (p *Publisher) DeviceID() string   { return p.stream.DeviceID() }
func (p *Publisher) AudioEnabled() bool { return p.stream.Options().AudioEnabled }
func (p *Publisher) VideoEnabled() bool { return p.stream.Options().VideoEnabled }

func (p *Publisher) Published() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published
}

func (p *Publisher) publish(ctx context.Context, sess core.EngineSession) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return errors.New("publisher disposed")
	}
	if err := sess.Publish(ctx, p.stream); err != nil {
		return err
	}
	p.sess = sess
	p.published = true
	return nil
}

func (p *Publisher) unpublish(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.published {
		return nil
	}
	if err := p.sess.Unpublish(ctx, p.stream); err != nil {
		return err
	}
	p.published = false
	return nil
}

func (p *Publisher) dispose() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return nil
	}
	p.disposed = true
	return p.stream.Close()
}

// PublishController owns local capture and its publication.
type PublishController struct {
	capturer core.Capturer
	opts     PublishOptions
}

func NewPublishController(capturer core.Capturer, opts PublishOptions) *PublishController {
	return &PublishController{capturer: capturer, opts: opts}
}

func (pc *PublishController) captureOptions(sel DeviceSelection, audio, video bool) core.CaptureOptions {
	return core.CaptureOptions{
		AudioDeviceID: sel.AudioDeviceID,
		VideoDeviceID: sel.VideoDeviceID,
		AudioEnabled:  audio,
		VideoEnabled:  video,
		Width:         pc.opts.Width,
		Height:        pc.opts.Height,
		FrameRate:     pc.opts.FrameRate,
		Mirror:        pc.opts.Mirror,
	}
}

// CreateAndPublish captures local media and publishes it into sess.
func (pc *PublishController) CreateAndPublish(
	ctx context.Context,
	sess core.EngineSession,
	sel DeviceSelection,
	audio, video bool,
) (*Publisher, error) {
	stream, err := pc.capturer.Capture(ctx, pc.captureOptions(sel, audio, video))
	if err != nil {
		return nil, errors.Join(core.ErrMediaAcquisition, err)
	}
	p := &Publisher{stream: stream}
	if err := p.publish(ctx, sess); err != nil {
		_ = p.dispose()
		return nil, errors.Join(core.ErrPublish, err)
	}
	log.Info().Str("module", "app.publish").Str("stream", p.ID()).Str("device", p.DeviceID()).Msg("publisher published")
	return p, nil
}

// SwitchDevice replaces cur with a publisher capturing newDeviceID.
// The new capture is acquired before cur is unpublished, so a failed
// acquisition leaves cur published. cur is disposed once the new publish
// has been issued, whether or not it succeeded; there is no rollback.
func (pc *PublishController) SwitchDevice(
	ctx context.Context,
	sess core.EngineSession,
	cur *Publisher,
	newDeviceID string,
) (*Publisher, error) {
	if cur == nil {
		return nil, errors.Join(core.ErrInvalidState, errors.New("no current publisher"))
	}
	opts := cur.stream.Options()
	opts.VideoDeviceID = newDeviceID

	stream, err := pc.capturer.Capture(ctx, opts)
	if err != nil {
		return nil, errors.Join(core.ErrMediaAcquisition, err)
	}
	next := &Publisher{stream: stream}

	if err := cur.unpublish(ctx); err != nil {
		_ = next.dispose()
		return nil, errors.Join(core.ErrPublish, err)
	}

	perr := next.publish(ctx, sess)
	if err := cur.dispose(); err != nil {
		log.Warn().Err(err).Str("module", "app.publish").Str("stream", cur.ID()).Msg("dispose old capture")
	}
	if perr != nil {
		_ = next.dispose()
		log.Error().Err(perr).Str("module", "app.publish").Str("device", newDeviceID).Msg("publish after switch failed, no active publisher")
		return nil, errors.Join(core.ErrPublish, perr)
	}
	log.Info().Str("module", "app.publish").Str("old", cur.ID()).Str("new", next.ID()).Str("device", next.DeviceID()).Msg("publisher switched")
	return next, nil
}

// Teardown unpublishes p if needed and releases its capture. Idempotent.
func (pc *PublishController) Teardown(ctx context.Context, p *Publisher) error {
	if p == nil {
		return nil
	}
	uerr := p.unpublish(ctx)
	derr := p.dispose()
	if uerr != nil {
		uerr = errors.Join(core.ErrPublish, uerr)
	}
	return errors.Join(uerr, derr)
}
