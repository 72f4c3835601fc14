package roomsync

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"gorm.io/gorm"
	"roomchat/pkg/domain"
	"roomchat/pkg/store"
)

type fixture struct {
	db    *gorm.DB
	creds *store.LocalCredentialStore
	dials int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.OpenDatabase(filepath.Join(t.TempDir(), "rooms.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return &fixture{db: db, creds: store.NewLocalCredentialStore(db)}
}

func (f *fixture) adapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := New(Config{
		Local: func() (store.Backend, error) {
			return store.NewLocalStore(f.db, store.LocalStoreConfig{PollInterval: -1})
		},
		Dial: func(ctx context.Context, creds domain.Credentials) (store.Backend, error) {
			f.dials++
			return store.Dial(ctx, creds, nil)
		},
		Credentials: f.creds,
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func cloudCreds(addr string) domain.Credentials {
	return domain.Credentials{APIKey: "key", ProjectID: "proj", DatabaseURL: "redis://" + addr}
}

type sink struct {
	ch chan []domain.ChatRoom
}

func newSink() *sink {
	return &sink{ch: make(chan []domain.ChatRoom, 32)}
}

func (s *sink) listen(rooms []domain.ChatRoom) {
	s.ch <- rooms
}

func (s *sink) next(t *testing.T) []domain.ChatRoom {
	t.Helper()
	select {
	case rooms := <-s.ch:
		return rooms
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for delivery")
		return nil
	}
}

func room(id string) domain.ChatRoom {
	return domain.ChatRoom{ID: id, Title: "Room " + id, CreatedAt: time.Now().UTC()}
}

func TestAdapterRejectsUseBeforeInitialize(t *testing.T) {
	a := newFixture(t).adapter(t)
	if a.State() != StateInit {
		t.Fatalf("expected init state, got %s", a.State())
	}
	if _, err := a.Rooms(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestAdapterInitializesLocalWithoutCredentials(t *testing.T) {
	f := newFixture(t)
	a := f.adapter(t)
	if err := a.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if a.Mode() != domain.ModeLocal || a.State() != StateActive {
		t.Fatalf("expected active local adapter, got %s/%s", a.Mode(), a.State())
	}
	if f.dials != 0 {
		t.Fatalf("expected no dial without credentials")
	}
	if err := a.Initialize(context.Background()); err == nil {
		t.Fatalf("expected second initialize to fail")
	}
}

func TestAdapterFallsBackToLocalWhenDialFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if err := f.creds.Save(ctx, cloudCreds("127.0.0.1:1")); err != nil {
		t.Fatalf("save creds: %v", err)
	}
	a := f.adapter(t)
	dialCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.Initialize(dialCtx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if a.Mode() != domain.ModeLocal {
		t.Fatalf("expected local fallback, got %s", a.Mode())
	}
	if f.dials != 1 {
		t.Fatalf("expected one dial attempt, got %d", f.dials)
	}
	if err := a.WriteRoom(ctx, room("a")); err != nil {
		t.Fatalf("write after fallback: %v", err)
	}
}

func TestAdapterInitializesCloudWithCredentials(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	f := newFixture(t)
	if err := f.creds.Save(ctx, cloudCreds(mr.Addr())); err != nil {
		t.Fatalf("save creds: %v", err)
	}
	a := f.adapter(t)
	if err := a.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if a.Mode() != domain.ModeCloud {
		t.Fatalf("expected cloud mode, got %s", a.Mode())
	}
	if err := a.WriteRoom(ctx, room("a")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !mr.Exists("proj:chatrooms:a") {
		t.Fatalf("expected write to reach the cloud backend")
	}
}

func TestAdapterMovesSubscribersAcrossBackends(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	f := newFixture(t)
	a := f.adapter(t)
	if err := a.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := a.WriteRoom(ctx, room("local-only")); err != nil {
		t.Fatalf("write local: %v", err)
	}

	s := newSink()
	dispose := a.Subscribe(ctx, s.listen)
	defer dispose()
	if got := s.next(t); len(got) != 1 || got[0].ID != "local-only" {
		t.Fatalf("unexpected initial delivery %+v", got)
	}

	if err := a.ApplyCredentials(ctx, cloudCreds(mr.Addr())); err != nil {
		t.Fatalf("apply credentials: %v", err)
	}
	if a.Mode() != domain.ModeCloud {
		t.Fatalf("expected cloud mode")
	}
	if got := s.next(t); len(got) != 0 {
		t.Fatalf("expected empty cloud collection on switch, got %+v", got)
	}
	if _, ok, _ := f.creds.Load(ctx); !ok {
		t.Fatalf("expected credentials persisted")
	}

	if err := a.WriteRoom(ctx, room("cloud")); err != nil {
		t.Fatalf("write cloud: %v", err)
	}
	if got := s.next(t); len(got) != 1 || got[0].ID != "cloud" {
		t.Fatalf("unexpected cloud delivery %+v", got)
	}

	if err := a.Disconnect(ctx); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if a.Mode() != domain.ModeLocal {
		t.Fatalf("expected local mode after disconnect")
	}
	if got := s.next(t); len(got) != 1 || got[0].ID != "local-only" {
		t.Fatalf("expected local collection after disconnect, got %+v", got)
	}
	if _, ok, _ := f.creds.Load(ctx); ok {
		t.Fatalf("expected credentials cleared")
	}
}

func TestAdapterApplyCredentialsFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.adapter(t)
	if err := a.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	dialCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.ApplyCredentials(dialCtx, cloudCreds("127.0.0.1:1")); err == nil {
		t.Fatalf("expected dial failure")
	}
	if a.Mode() != domain.ModeLocal {
		t.Fatalf("expected to stay local")
	}
	if _, ok, _ := f.creds.Load(ctx); ok {
		t.Fatalf("expected nothing persisted")
	}
}

func TestAdapterClose(t *testing.T) {
	ctx := context.Background()
	a := newFixture(t).adapter(t)
	if err := a.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	s := newSink()
	a.Subscribe(ctx, s.listen)
	s.next(t)
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close twice: %v", err)
	}
	if err := a.WriteRoom(ctx, room("a")); !errors.Is(err, store.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if a.State() != StateDisposed {
		t.Fatalf("expected disposed state")
	}
}
