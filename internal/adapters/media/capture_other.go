//go:build !linux

package media

import (
	"context"

	"github.com/dkeye/vidcall/internal/core"
	"github.com/dkeye/vidcall/internal/domain"
	"github.com/pion/webrtc/v4"
)

type Provider struct{}

func NewProvider() *Provider { return &Provider{} }

func (Provider) EnumerateDevices(context.Context) ([]domain.Device, error) {
	return nil, ErrUnsupported
}

type Capturer struct{}

func NewCapturer() (*Capturer, error) { return &Capturer{}, nil }

func (c *Capturer) PopulateMediaEngine(me *webrtc.MediaEngine) error {
	return me.RegisterDefaultCodecs()
}

func (c *Capturer) Capture(context.Context, core.CaptureOptions) (core.LocalStream, error) {
	return nil, ErrUnsupported
}
