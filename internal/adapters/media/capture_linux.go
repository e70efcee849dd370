//go:build linux

package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/vidcall/internal/core"
	"github.com/dkeye/vidcall/internal/domain"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const videoBitRate = 1_500_000

// Provider lists platform input devices.
type Provider struct{}

func NewProvider() *Provider { return &Provider{} }

func (Provider) EnumerateDevices(ctx context.Context) ([]domain.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	infos := mediadevices.EnumerateDevices()
	out := make([]domain.Device, 0, len(infos))
	for _, d := range infos {
		var kind domain.DeviceKind
		switch d.Kind {
		case mediadevices.VideoInput:
			kind = domain.VideoInput
		case mediadevices.AudioInput:
			kind = domain.AudioInput
		default:
			continue
		}
		out = append(out, domain.Device{Kind: kind, DeviceID: d.DeviceID, Label: d.Label})
	}
	return out, nil
}

// Capturer opens camera and microphone tracks encoded with VP8 and Opus.
type Capturer struct {
	codecs   *mediadevices.CodecSelector
	provider *Provider
}

func NewCapturer() (*Capturer, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = videoBitRate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}
	return &Capturer{
		codecs: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		provider: NewProvider(),
	}, nil
}

// PopulateMediaEngine registers the capture codecs so published tracks
// negotiate the same formats the encoders produce.
func (c *Capturer) PopulateMediaEngine(me *webrtc.MediaEngine) error {
	c.codecs.Populate(me)
	return nil
}

func (c *Capturer) defaultDevice(ctx context.Context, kind domain.DeviceKind) (string, error) {
	devs, err := c.provider.EnumerateDevices(ctx)
	if err != nil {
		return "", err
	}
	for _, d := range devs {
		if d.Kind == kind {
			return d.DeviceID, nil
		}
	}
	return "", fmt.Errorf("no %s device", kind)
}

func (c *Capturer) Capture(ctx context.Context, opts core.CaptureOptions) (core.LocalStream, error) {
	if !opts.AudioEnabled && !opts.VideoEnabled {
		return nil, errors.New("nothing to capture")
	}
	constraints := mediadevices.MediaStreamConstraints{Codec: c.codecs}

	if opts.VideoEnabled {
		if opts.VideoDeviceID == "" {
			id, err := c.defaultDevice(ctx, domain.VideoInput)
			if err != nil {
				return nil, err
			}
			opts.VideoDeviceID = id
		}
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			mc.DeviceID = prop.StringExact(opts.VideoDeviceID)
			if opts.Width > 0 {
				mc.Width = prop.Int(opts.Width)
			}
			if opts.Height > 0 {
				mc.Height = prop.Int(opts.Height)
			}
			if opts.FrameRate > 0 {
				mc.FrameRate = prop.Float(float32(opts.FrameRate))
			}
		}
	}
	if opts.AudioEnabled {
		constraints.Audio = func(mc *mediadevices.MediaTrackConstraints) {
			if opts.AudioDeviceID != "" {
				mc.DeviceID = prop.StringExact(opts.AudioDeviceID)
			}
		}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, err
	}
	ls := &localStream{id: newStreamID(), opts: opts, tracks: stream.GetTracks()}
	for _, t := range ls.tracks {
		t.OnEnded(func(err error) {
			if err != nil {
				log.Warn().Err(err).Str("module", "adapters.media").Str("stream", ls.id).Msg("local track ended")
			}
		})
	}
	log.Info().
		Str("module", "adapters.media").
		Str("stream", ls.id).
		Str("video_device", opts.VideoDeviceID).
		Int("tracks", len(ls.tracks)).
		Msg("local media captured")
	return ls, nil
}

type localStream struct {
	id     string
	opts   core.CaptureOptions
	tracks []mediadevices.Track

	once sync.Once
}

func (s *localStream) ID() string                   { return s.id }
func (s *localStream) DeviceID() string             { return s.opts.VideoDeviceID }
func (s *localStream) Options() core.CaptureOptions { return s.opts }

// Tracks exposes the encoded tracks for publishing.
func (s *localStream) Tracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

func (s *localStream) Close() error {
	var errs []error
	s.once.Do(func() {
		for _, t := range s.tracks {
			if err := t.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
