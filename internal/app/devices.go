package app

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/vidcall/internal/core"
	"github.com/dkeye/vidcall/internal/domain"
	"github.com/rs/zerolog/log"
)

// DeviceRegistry enumerates capture devices on demand and remembers which
// one is active per kind. Enumeration results are never cached.
type DeviceRegistry struct {
	provider core.DeviceProvider

	mu     sync.RWMutex
	active map[domain.DeviceKind]string
}

func NewDeviceRegistry(provider core.DeviceProvider) *DeviceRegistry {
	return &DeviceRegistry{
		provider: provider,
		active:   make(map[domain.DeviceKind]string),
	}
}

// ListInputDevices returns devices of the given kind in platform order.
func (r *DeviceRegistry) ListInputDevices(ctx context.Context, kind domain.DeviceKind) ([]domain.Device, error) {
	all, err := r.provider.EnumerateDevices(ctx)
	if err != nil {
		return nil, errors.Join(core.ErrDeviceEnumeration, err)
	}
	out := make([]domain.Device, 0, len(all))
	for _, d := range all {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	log.Debug().Str("module", "app.devices").Str("kind", string(kind)).Int("count", len(out)).Msg("listed devices")
	return out, nil
}

func (r *DeviceRegistry) SetActive(kind domain.DeviceKind, deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if deviceID == "" {
		delete(r.active, kind)
		return
	}
	r.active[kind] = deviceID
}

func (r *DeviceRegistry) Active(kind domain.DeviceKind) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.active[kind]
	return id, ok
}

// NextDevice returns the candidate following current, wrapping to the first
// one when current is last or missing. ok is false for an empty list.
func NextDevice(current string, candidates []domain.Device) (domain.Device, bool) {
	if len(candidates) == 0 {
		return domain.Device{}, false
	}
	for i, d := range candidates {
		if d.DeviceID == current {
			return candidates[(i+1)%len(candidates)], true
		}
	}
	return candidates[0], true
}
