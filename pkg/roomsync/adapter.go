// Package roomsync routes room reads, writes and subscriptions to whichever
// backend is active and moves live subscriptions when the backend changes.
package roomsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"roomchat/pkg/domain"
	"roomchat/pkg/store"
)

// State is the adapter lifecycle.
type State int32

const (
	StateInit State = iota
	StateActive
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateActive:
		return "active"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

var ErrNotInitialized = errors.New("room adapter not initialized")

// Dialer connects to the cloud backend.
type Dialer func(ctx context.Context, creds domain.Credentials) (store.Backend, error)

// Config wires the adapter to its collaborators.
type Config struct {
	// Local builds a fresh local backend. It is called at startup without
	// credentials, after a failed dial, and on disconnect.
	Local       func() (store.Backend, error)
	Dial        Dialer
	Credentials store.CredentialStore
	Logger      *slog.Logger
}

type liveSub struct {
	ctx   context.Context
	fn    store.Listener
	inner func()
}

// Adapter is the single entry point the rest of the service uses for room data.
type Adapter struct {
	cfg   Config
	log   *slog.Logger
	state atomic.Int32

	mu      sync.RWMutex
	backend store.Backend

	// subsMu is held while live subscriptions are (re)attached. Listeners
	// must not subscribe or dispose from inside a delivery.
	subsMu sync.Mutex
	subs   map[int]*liveSub
	next   int
}

func New(cfg Config) (*Adapter, error) {
	if cfg.Local == nil {
		return nil, errors.New("roomsync: local backend factory required")
	}
	if cfg.Credentials == nil {
		return nil, errors.New("roomsync: credential store required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		cfg:  cfg,
		log:  logger,
		subs: make(map[int]*liveSub),
	}, nil
}

// Initialize picks the backend once: cloud when credentials are stored and
// the dial succeeds, local otherwise. A failed dial is logged, not returned.
func (a *Adapter) Initialize(ctx context.Context) error {
	if a.State() != StateInit {
		return fmt.Errorf("roomsync: initialize in state %s", a.State())
	}
	backend, err := a.pickBackend(ctx)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.backend = backend
	a.mu.Unlock()
	a.state.Store(int32(StateActive))
	a.log.Info("room backend ready", "mode", backend.Mode())
	return nil
}

func (a *Adapter) pickBackend(ctx context.Context) (store.Backend, error) {
	creds, ok, err := a.cfg.Credentials.Load(ctx)
	if err != nil {
		a.log.Warn("load cloud credentials failed, using local storage", "err", err)
		ok = false
	}
	if ok && a.cfg.Dial != nil {
		backend, err := a.cfg.Dial(ctx, creds)
		if err == nil {
			return backend, nil
		}
		a.log.Warn("cloud backend unavailable, falling back to local storage", "project", creds.ProjectID, "err", err)
	}
	backend, err := a.cfg.Local()
	if err != nil {
		return nil, fmt.Errorf("open local backend: %w", err)
	}
	return backend, nil
}

func (a *Adapter) State() State {
	return State(a.state.Load())
}

// Mode reports which backend currently serves room data.
func (a *Adapter) Mode() domain.Mode {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.backend == nil {
		return domain.ModeLocal
	}
	return a.backend.Mode()
}

func (a *Adapter) current() (store.Backend, error) {
	switch a.State() {
	case StateInit:
		return nil, ErrNotInitialized
	case StateDisposed:
		return nil, store.ErrClosed
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.backend == nil {
		return nil, store.ErrClosed
	}
	return a.backend, nil
}

func (a *Adapter) Rooms(ctx context.Context) ([]domain.ChatRoom, error) {
	b, err := a.current()
	if err != nil {
		return nil, err
	}
	return b.Rooms(ctx)
}

func (a *Adapter) Room(ctx context.Context, id string) (domain.ChatRoom, bool, error) {
	b, err := a.current()
	if err != nil {
		return domain.ChatRoom{}, false, err
	}
	return b.Room(ctx, id)
}

func (a *Adapter) WriteRoom(ctx context.Context, room domain.ChatRoom) error {
	b, err := a.current()
	if err != nil {
		return err
	}
	return b.WriteRoom(ctx, room)
}

func (a *Adapter) DeleteRoom(ctx context.Context, id string) error {
	b, err := a.current()
	if err != nil {
		return err
	}
	return b.DeleteRoom(ctx, id)
}

func (a *Adapter) AppendMessage(ctx context.Context, roomID string, msg domain.Message) error {
	b, err := a.current()
	if err != nil {
		return err
	}
	return b.AppendMessage(ctx, roomID, msg)
}

func (a *Adapter) AppendMemo(ctx context.Context, roomID string, memo domain.Memo) error {
	b, err := a.current()
	if err != nil {
		return err
	}
	return b.AppendMemo(ctx, roomID, memo)
}

func (a *Adapter) DeleteMemo(ctx context.Context, roomID, memoID string) error {
	b, err := a.current()
	if err != nil {
		return err
	}
	return b.DeleteMemo(ctx, roomID, memoID)
}

// Subscribe attaches fn to the active backend and keeps it attached across
// backend replacements. The returned dispose func is idempotent and also runs
// when ctx ends.
func (a *Adapter) Subscribe(ctx context.Context, fn store.Listener) func() {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := a.current(); err != nil {
		a.log.Warn("subscribe rejected", "err", err)
		return func() {}
	}

	a.subsMu.Lock()
	a.mu.RLock()
	backend := a.backend
	a.mu.RUnlock()
	if backend == nil {
		a.subsMu.Unlock()
		return func() {}
	}
	id := a.next
	a.next++
	sub := &liveSub{ctx: ctx, fn: fn}
	a.subs[id] = sub
	sub.inner = backend.Subscribe(ctx, fn)
	a.subsMu.Unlock()

	var once sync.Once
	dispose := func() {
		once.Do(func() {
			a.subsMu.Lock()
			defer a.subsMu.Unlock()
			delete(a.subs, id)
			if sub.inner != nil {
				sub.inner()
			}
		})
	}
	stop := context.AfterFunc(ctx, dispose)
	return func() {
		stop()
		dispose()
	}
}

// Replace swaps the active backend, re-attaches every live subscription to it
// (each receives the new collection immediately) and closes the old backend.
func (a *Adapter) Replace(next store.Backend) error {
	if next == nil {
		return errors.New("roomsync: nil backend")
	}
	if a.State() == StateDisposed {
		_ = next.Close()
		return store.ErrClosed
	}
	a.mu.Lock()
	old := a.backend
	a.backend = next
	a.mu.Unlock()
	a.state.CompareAndSwap(int32(StateInit), int32(StateActive))

	a.subsMu.Lock()
	for _, sub := range a.subs {
		if sub.inner != nil {
			sub.inner()
		}
		sub.inner = next.Subscribe(sub.ctx, sub.fn)
	}
	a.subsMu.Unlock()

	if old != nil && old != next {
		if err := old.Close(); err != nil {
			a.log.Warn("close previous backend failed", "mode", old.Mode(), "err", err)
		}
	}
	a.log.Info("room backend replaced", "mode", next.Mode())
	return nil
}

// ApplyCredentials connects to the cloud backend, persists the credentials
// and switches every subscriber over. Nothing is persisted if the dial fails.
func (a *Adapter) ApplyCredentials(ctx context.Context, creds domain.Credentials) error {
	if a.cfg.Dial == nil {
		return errors.New("roomsync: cloud backend not configured")
	}
	backend, err := a.cfg.Dial(ctx, creds)
	if err != nil {
		return err
	}
	if err := a.cfg.Credentials.Save(ctx, creds); err != nil {
		_ = backend.Close()
		return fmt.Errorf("save credentials: %w", err)
	}
	return a.Replace(backend)
}

// Disconnect forgets the stored credentials and returns to local storage.
func (a *Adapter) Disconnect(ctx context.Context) error {
	if err := a.cfg.Credentials.Clear(ctx); err != nil {
		return err
	}
	if a.Mode() == domain.ModeLocal && a.State() == StateActive {
		return nil
	}
	backend, err := a.cfg.Local()
	if err != nil {
		return fmt.Errorf("open local backend: %w", err)
	}
	return a.Replace(backend)
}

// Close detaches every subscription and closes the active backend.
func (a *Adapter) Close() error {
	prev := State(a.state.Swap(int32(StateDisposed)))
	if prev == StateDisposed {
		return nil
	}
	a.subsMu.Lock()
	for id, sub := range a.subs {
		if sub.inner != nil {
			sub.inner()
		}
		delete(a.subs, id)
	}
	a.subsMu.Unlock()

	a.mu.Lock()
	backend := a.backend
	a.backend = nil
	a.mu.Unlock()
	if backend == nil {
		return nil
	}
	return backend.Close()
}
