package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"roomchat/pkg/ai"
	"roomchat/pkg/auth"
	"roomchat/pkg/domain"
	"roomchat/pkg/setup"
	"roomchat/pkg/storage"
	"roomchat/pkg/store"
)

// RoomStore is the room data surface the app needs. roomsync.Adapter is the
// production implementation.
type RoomStore interface {
	Mode() domain.Mode
	Rooms(ctx context.Context) ([]domain.ChatRoom, error)
	Room(ctx context.Context, id string) (domain.ChatRoom, bool, error)
	Subscribe(ctx context.Context, fn store.Listener) func()
	WriteRoom(ctx context.Context, room domain.ChatRoom) error
	DeleteRoom(ctx context.Context, id string) error
	AppendMessage(ctx context.Context, roomID string, msg domain.Message) error
	AppendMemo(ctx context.Context, roomID string, memo domain.Memo) error
	DeleteMemo(ctx context.Context, roomID, memoID string) error
	ApplyCredentials(ctx context.Context, creds domain.Credentials) error
	Disconnect(ctx context.Context) error
}

// Config holds runtime configuration for the core application.
type Config struct {
	Rooms     RoomStore
	Sessions  *auth.SessionIssuer
	Responder *ai.Responder
	// Exports archives every exported room file; optional.
	Exports       storage.ObjectStore
	AdminPassword string
	// Probe overrides the cloud connectivity test used by SetupCloud.
	Probe  setup.ProbeFunc
	Logger *slog.Logger
	Now    func() time.Time
}

// App is the core application service: room lifecycle, messages, memos,
// sessions and cloud setup on top of the room store.
type App struct {
	rooms         RoomStore
	sessions      *auth.SessionIssuer
	responder     *ai.Responder
	exports       storage.ObjectStore
	adminPassword string
	probe         setup.ProbeFunc
	log           *slog.Logger
	now           func() time.Time
}

func New(cfg Config) (*App, error) {
	if cfg.Rooms == nil {
		return nil, errors.New("room store required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session issuer required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	responder := cfg.Responder
	if responder == nil {
		responder = ai.NewResponder(ai.ResponderConfig{Logger: logger})
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &App{
		rooms:         cfg.Rooms,
		sessions:      cfg.Sessions,
		responder:     responder,
		exports:       cfg.Exports,
		adminPassword: cfg.AdminPassword,
		probe:         cfg.Probe,
		log:           logger,
		now:           now,
	}, nil
}

// Mode reports whether rooms currently live in local or cloud storage.
func (a *App) Mode() domain.Mode {
	return a.rooms.Mode()
}

// OperatorSession is the admin identity used by the command line, which runs
// with direct access to the service's storage.
func OperatorSession() domain.Session {
	return domain.Session{Name: "operator", Role: domain.RoleAdmin}
}

func requireAdmin(sess domain.Session) error {
	if !sess.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

// canRead reports whether sess may see a room's messages and memos.
func canRead(sess domain.Session, room domain.ChatRoom) bool {
	return !room.Private() || sess.IsAdmin() || sess.RoomID == room.ID
}

// visible renders rooms for sess; private rooms the session has not joined
// keep their title but hide their content.
func visible(sess domain.Session, rooms []domain.ChatRoom) []domain.RoomView {
	views := domain.Views(rooms)
	for i, room := range rooms {
		if !canRead(sess, room) {
			views[i].Messages = []domain.Message{}
			views[i].Memos = []domain.Memo{}
		}
	}
	return views
}
