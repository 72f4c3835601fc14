package store

import (
	"context"
	"errors"
	"fmt"

	"roomchat/pkg/domain"
)

var (
	// ErrRoomNotFound is returned by per-room mutations when the room does not exist.
	ErrRoomNotFound = errors.New("room not found")
	// ErrClosed is returned by any operation on a disposed backend.
	ErrClosed = errors.New("backend closed")
)

// Listener receives the full room collection, in creation order.
type Listener func(rooms []domain.ChatRoom)

// Backend is the persistence contract shared by the local and cloud modes.
type Backend interface {
	Mode() domain.Mode

	// reads
	Rooms(ctx context.Context) ([]domain.ChatRoom, error)
	Room(ctx context.Context, id string) (domain.ChatRoom, bool, error)

	// Subscribe invokes fn once with the current collection and again after every change.
	// The returned dispose func is idempotent and is also triggered when ctx ends.
	Subscribe(ctx context.Context, fn Listener) (dispose func())

	// writes
	WriteRoom(ctx context.Context, room domain.ChatRoom) error
	DeleteRoom(ctx context.Context, id string) error
	AppendMessage(ctx context.Context, roomID string, msg domain.Message) error
	AppendMemo(ctx context.Context, roomID string, memo domain.Memo) error
	DeleteMemo(ctx context.Context, roomID, memoID string) error

	Close() error
}

// CredentialStore persists cloud credentials locally.
type CredentialStore interface {
	Load(ctx context.Context) (domain.Credentials, bool, error)
	Save(ctx context.Context, creds domain.Credentials) error
	Clear(ctx context.Context) error
}

// RemoteError marks a failed write against the cloud backend.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("cloud %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// IsRemoteError reports whether err came from a failed cloud write.
func IsRemoteError(err error) bool {
	var remote *RemoteError
	return errors.As(err, &remote)
}

func remoteErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRoomNotFound) || errors.Is(err, ErrClosed) {
		return err
	}
	return &RemoteError{Op: op, Err: err}
}
