// Package coretest provides in-memory fakes of the core interfaces for tests.
package coretest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/vidcall/internal/core"
	"github.com/dkeye/vidcall/internal/domain"
)

// CallLog records calls across fakes so tests can assert ordering.
type CallLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *CallLog) Add(format string, args ...any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *CallLog) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// Stream is a fake core.LocalStream.
type Stream struct {
	id   string
	opts core.CaptureOptions
	log  *CallLog

	mu     sync.Mutex
	closed bool
}

func (s *Stream) ID() string                   { return s.id }
func (s *Stream) DeviceID() string             { return s.opts.VideoDeviceID }
func (s *Stream) Options() core.CaptureOptions { return s.opts }

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.log.Add("close:%s", s.id)
	}
	return nil
}

func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Capturer hands out fake streams. DefaultDevice is used when no video
// device is requested. A capture of a device listed in Gates blocks until
// that channel is closed.
type Capturer struct {
	Log           *CallLog
	DefaultDevice string
	Gates         map[string]chan struct{}

	mu      sync.Mutex
	n       int
	Err     error
	ErrFor  map[string]error
	streams []*Stream
}

func (c *Capturer) Capture(ctx context.Context, opts core.CaptureOptions) (core.LocalStream, error) {
	if opts.VideoDeviceID == "" {
		opts.VideoDeviceID = c.DefaultDevice
	}
	c.Log.Add("capture:%s", opts.VideoDeviceID)
	if gate := c.Gates[opts.VideoDeviceID]; gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ErrFor[opts.VideoDeviceID]; err != nil {
		return nil, err
	}
	if c.Err != nil {
		return nil, c.Err
	}
	c.n++
	s := &Stream{id: fmt.Sprintf("local-%d", c.n), opts: opts, log: c.Log}
	c.streams = append(c.streams, s)
	return s, nil
}

func (c *Capturer) SetErr(err error) {
	c.mu.Lock()
	c.Err = err
	c.mu.Unlock()
}

func (c *Capturer) Streams() []*Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Stream(nil), c.streams...)
}

// Devices is a fake core.DeviceProvider.
type Devices struct {
	mu      sync.Mutex
	devices []domain.Device
	err     error
}

func NewDevices(devices ...domain.Device) *Devices {
	return &Devices{devices: devices}
}

func (d *Devices) Set(devices []domain.Device, err error) {
	d.mu.Lock()
	d.devices, d.err = devices, err
	d.mu.Unlock()
}

func (d *Devices) EnumerateDevices(ctx context.Context) ([]domain.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return append([]domain.Device(nil), d.devices...), nil
}

func Camera(id string) domain.Device {
	return domain.Device{Kind: domain.VideoInput, DeviceID: id, Label: "camera " + id}
}

func Microphone(id string) domain.Device {
	return domain.Device{Kind: domain.AudioInput, DeviceID: id, Label: "mic " + id}
}

// Credentials is a fake core.CredentialProvider. When Gate is non-nil,
// AcquireCredential blocks until it is closed.
type Credentials struct {
	Err  error
	Gate chan struct{}
}

func (c *Credentials) AcquireCredential(ctx context.Context, sessionID string) (domain.Credential, error) {
	if c.Gate != nil {
		select {
		case <-c.Gate:
		case <-ctx.Done():
			return domain.Credential{}, ctx.Err()
		}
	}
	if c.Err != nil {
		return domain.Credential{}, errors.Join(core.ErrCredential, c.Err)
	}
	return domain.Credential{SessionID: sessionID, Token: "tok-" + sessionID}, nil
}
