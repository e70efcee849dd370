// Package orch is the session coordinator: a single event loop owns the
// session lifecycle, the local publisher slot and the participant registry.
// Engine callbacks and user commands are queued as closures and applied in
// arrival order; readers only ever see immutable snapshots.
package orch

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/vidcall/internal/app"
	"github.com/dkeye/vidcall/internal/core"
	"github.com/dkeye/vidcall/internal/domain"
)

const defaultTeardownTimeout = 5 * time.Second

var ErrClosed = errors.New("coordinator closed")

type Config struct {
	Engine      core.Engine
	Credentials core.CredentialProvider
	Devices     *app.DeviceRegistry
	Publish     *app.PublishController
	Policy      app.Policy

	AudioEnabled bool
	VideoEnabled bool

	// NewForm produces the join form defaults, initially and after each leave.
	NewForm func() domain.JoinForm
}

type Coordinator struct {
	engine  core.Engine
	creds   core.CredentialProvider
	devices *app.DeviceRegistry
	publish *app.PublishController
	policy  app.Policy
	audio   bool
	video   bool
	newForm func() domain.JoinForm

	mu    sync.Mutex
	queue []func(*state)
	wake  chan struct{}

	// st is owned by the loop goroutine.
	st state

	snap      atomic.Pointer[Snapshot]
	watchMu   sync.Mutex
	watchers  map[chan Snapshot]struct{}
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

type state struct {
	phase     domain.SessionState
	epoch     uint64
	sessionID string
	form      domain.JoinForm
	engine    core.EngineSession
	publisher *app.Publisher
	registry  *app.ParticipantRegistry
	mainView  domain.MainView
	switching bool
	lastErr   string
	lastEx    *core.EngineException
}

// live reports whether events tagged with epoch still belong to the
// current session.
func (st *state) live(epoch uint64) bool {
	if st.epoch != epoch || st.engine == nil {
		return false
	}
	return st.phase == domain.Connecting || st.phase == domain.Connected
}

// New creates a coordinator and starts its event loop.
func New(cfg Config) *Coordinator {
	newForm := cfg.NewForm
	if newForm == nil {
		newForm = func() domain.JoinForm { return domain.NewJoinForm("", "") }
	}
	policy := cfg.Policy
	if policy == nil {
		policy = app.SimplePolicy{}
	}
	c := &Coordinator{
		engine:   cfg.Engine,
		creds:    cfg.Credentials,
		devices:  cfg.Devices,
		publish:  cfg.Publish,
		policy:   policy,
		audio:    cfg.AudioEnabled,
		video:    cfg.VideoEnabled,
		newForm:  newForm,
		wake:     make(chan struct{}, 1),
		watchers: make(map[chan Snapshot]struct{}),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	c.st = state{
		phase:    domain.Disconnected,
		form:     newForm(),
		registry: app.NewParticipantRegistry(),
	}
	first := c.st.snapshot()
	c.snap.Store(&first)
	go c.loop()
	return c
}

// Close stops the event loop. It does not leave the session.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		<-c.stopped
	})
}

func (c *Coordinator) loop() {
	defer close(c.stopped)
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}
		for {
			c.mu.Lock()
			if len(c.queue) == 0 {
				c.mu.Unlock()
				break
			}
			fn := c.queue[0]
			c.queue[0] = nil
			c.queue = c.queue[1:]
			c.mu.Unlock()

			fn(&c.st)
			c.publishSnapshot()
		}
	}
}

// post enqueues fn without blocking; safe from engine callbacks.
func (c *Coordinator) post(fn func(*state)) {
	c.mu.Lock()
	c.queue = append(c.queue, fn)
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// exec runs fn on the loop and waits for its result. Closures passed here
// must not block.
func (c *Coordinator) exec(fn func(*state) error) error {
	res := make(chan error, 1)
	c.post(func(st *state) { res <- fn(st) })
	select {
	case err := <-res:
		return err
	case <-c.done:
		return ErrClosed
	}
}

// sync waits until everything queued before it has been applied.
func (c *Coordinator) sync() error {
	return c.exec(func(*state) error { return nil })
}

// Snapshot returns the latest published view.
func (c *Coordinator) Snapshot() Snapshot {
	return *c.snap.Load()
}

// Watch streams snapshots as they change. Slow readers only see the latest.
func (c *Coordinator) Watch() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	ch <- c.Snapshot()
	c.watchMu.Lock()
	c.watchers[ch] = struct{}{}
	c.watchMu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.watchMu.Lock()
			delete(c.watchers, ch)
			c.watchMu.Unlock()
		})
	}
}

func (c *Coordinator) publishSnapshot() {
	s := c.st.snapshot()
	c.snap.Store(&s)

	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	for ch := range c.watchers {
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}

// Form returns the current join form.
func (c *Coordinator) Form() domain.JoinForm {
	return c.Snapshot().Form
}

// SetForm updates the join form used by the next Join.
func (c *Coordinator) SetForm(f domain.JoinForm) error {
	return c.exec(func(st *state) error {
		st.form = f.Merge(st.form)
		return nil
	})
}
