package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"roomchat/internal/util"
	"roomchat/pkg/domain"
	"roomchat/pkg/store"
)

const (
	systemSender     = "System"
	creationDateForm = "Monday, January 2, 2006"
	exportPrefix     = "exports/"
)

var (
	newUUID       = uuid.NewRandom
	roomValidator = validator.New()
)

// Rooms lists every room as sess may see it, in creation order.
func (a *App) Rooms(ctx context.Context, sess domain.Session) ([]domain.RoomView, error) {
	rooms, err := a.rooms.Rooms(ctx)
	if err != nil {
		return nil, err
	}
	return visible(sess, rooms), nil
}

// Room returns one room; its content requires a session that may read it.
func (a *App) Room(ctx context.Context, sess domain.Session, id string) (domain.RoomView, error) {
	room, err := a.room(ctx, id)
	if err != nil {
		return domain.RoomView{}, err
	}
	if !canRead(sess, room) {
		return domain.RoomView{}, ErrForbidden
	}
	return room.View(), nil
}

// Watch streams the room list as sess may see it: once right away and again
// after every change. The returned func stops the stream; it also stops when
// ctx ends.
func (a *App) Watch(ctx context.Context, sess domain.Session, fn func([]domain.RoomView)) func() {
	return a.rooms.Subscribe(ctx, func(rooms []domain.ChatRoom) {
		fn(visible(sess, rooms))
	})
}

// CreateRoom seeds a room with its creation banner and returns it once the
// write has completed.
func (a *App) CreateRoom(ctx context.Context, sess domain.Session, title, password string) (domain.ChatRoom, error) {
	if err := requireAdmin(sess); err != nil {
		return domain.ChatRoom{}, err
	}
	title = plainLabel(title, maxTitleLen)
	if title == "" {
		return domain.ChatRoom{}, fmt.Errorf("%w: title required", ErrInvalidInput)
	}
	now := a.now()
	room := domain.ChatRoom{
		ID:       a.newRoomID(),
		Title:    title,
		Password: strings.TrimSpace(password),
		Messages: []domain.Message{{
			ID:        util.NewID(),
			Sender:    systemSender,
			Role:      domain.RoleAdmin,
			Text:      "Room created on " + now.Format(creationDateForm),
			Timestamp: now,
			Type:      domain.MessageSystem,
		}},
		Memos:     []domain.Memo{},
		CreatedAt: now,
		CreatedBy: sess.Name,
	}
	if err := a.rooms.WriteRoom(ctx, room); err != nil {
		return domain.ChatRoom{}, err
	}
	a.log.Info("room created", "room", room.ID, "private", room.Private(), "by", sess.Name)
	return room, nil
}

func (a *App) newRoomID() string {
	if id, err := newUUID(); err == nil {
		return id.String()
	}
	return fmt.Sprintf("%d-%s", a.now().UnixMilli(), util.NewID()[:9])
}

// DeleteRoom removes a room; deleting a missing room is not an error.
func (a *App) DeleteRoom(ctx context.Context, sess domain.Session, id string) error {
	if err := requireAdmin(sess); err != nil {
		return err
	}
	if err := a.rooms.DeleteRoom(ctx, id); err != nil {
		return err
	}
	a.log.Info("room deleted", "room", id, "by", sess.Name)
	return nil
}

// ImportRoom upserts a room from an exported file. It reports success and
// never returns an error: bad files and failed writes are logged.
func (a *App) ImportRoom(ctx context.Context, sess domain.Session, data []byte) bool {
	if !sess.IsAdmin() {
		a.log.Warn("room import rejected", "by", sess.Name, "err", ErrForbidden)
		return false
	}
	room, err := store.DecodeRoom(bytes.TrimSpace(data))
	if err != nil {
		a.log.Warn("room import rejected", "err", err)
		return false
	}
	room.ID = strings.TrimSpace(room.ID)
	room.Title = strings.TrimSpace(room.Title)
	if err := roomValidator.Struct(room); err != nil {
		a.log.Warn("room import rejected", "err", err)
		return false
	}
	if room.Messages == nil {
		room.Messages = []domain.Message{}
	}
	if room.Memos == nil {
		room.Memos = []domain.Memo{}
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = a.now()
	}
	if err := a.rooms.WriteRoom(ctx, room); err != nil {
		a.log.Error("room import failed", "room", room.ID, "err", err)
		return false
	}
	a.log.Info("room imported", "room", room.ID, "by", sess.Name)
	return true
}

// ExportRoom renders a room as an indented JSON file and archives a copy.
func (a *App) ExportRoom(ctx context.Context, sess domain.Session, id string) (string, []byte, error) {
	if err := requireAdmin(sess); err != nil {
		return "", nil, err
	}
	room, err := a.room(ctx, id)
	if err != nil {
		return "", nil, err
	}
	data, err := json.MarshalIndent(room, "", "  ")
	if err != nil {
		return "", nil, fmt.Errorf("encode room: %w", err)
	}
	filename := exportFilename(room.Title)
	if a.exports != nil {
		key := exportPrefix + filename
		if err := a.exports.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
			a.log.Warn("archive export failed", "room", room.ID, "key", key, "err", err)
		}
	}
	return filename, data, nil
}

func (a *App) room(ctx context.Context, id string) (domain.ChatRoom, error) {
	room, ok, err := a.rooms.Room(ctx, id)
	if err != nil {
		return domain.ChatRoom{}, err
	}
	if !ok {
		return domain.ChatRoom{}, ErrRoomNotFound
	}
	return room, nil
}
