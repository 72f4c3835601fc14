package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"roomchat/pkg/domain"
)

const (
	roomsNamespace      = "chatrooms"
	defaultPollInterval = 2 * time.Second
)

// LocalStoreConfig configures the local-mode backend.
type LocalStoreConfig struct {
	// PollInterval controls how often writes made by other processes on the
	// same database are picked up. Zero uses the default; negative disables polling.
	PollInterval time.Duration
	Logger       *slog.Logger
}

// LocalStore implements Backend on the local database. The whole room
// collection is one JSON array stored under a fixed namespace.
type LocalStore struct {
	db   *gorm.DB
	log  *slog.Logger
	subs *hub

	// writeMu orders commits and their notifications.
	writeMu sync.Mutex
	lastRev atomic.Int64
	closed  atomic.Bool

	stop context.CancelFunc
	done chan struct{}
}

// NewLocalStore builds a local backend on an already opened database.
func NewLocalStore(db *gorm.DB, cfg LocalStoreConfig) (*LocalStore, error) {
	if db == nil {
		return nil, errors.New("local store requires a database")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &LocalStore{
		db:   db,
		log:  logger.With("backend", domain.ModeLocal),
		subs: newHub(),
		done: make(chan struct{}),
	}
	rev, err := s.revision(context.Background())
	if err != nil {
		return nil, fmt.Errorf("read local revision: %w", err)
	}
	s.lastRev.Store(rev)

	interval := cfg.PollInterval
	if interval == 0 {
		interval = defaultPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	if interval > 0 {
		go s.pollLoop(ctx, interval)
	} else {
		close(s.done)
	}
	return s, nil
}

func (s *LocalStore) Mode() domain.Mode {
	return domain.ModeLocal
}

// Rooms returns the stored collection in insertion order.
func (s *LocalStore) Rooms(ctx context.Context) ([]domain.ChatRoom, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	rooms, _, err := readRooms(s.db.WithContext(ctx))
	return rooms, err
}

// Room returns a single room by id.
func (s *LocalStore) Room(ctx context.Context, id string) (domain.ChatRoom, bool, error) {
	rooms, err := s.Rooms(ctx)
	if err != nil {
		return domain.ChatRoom{}, false, err
	}
	room, ok := lo.Find(rooms, func(r domain.ChatRoom) bool { return r.ID == id })
	return room, ok, nil
}

// Subscribe delivers the current collection synchronously, then after every
// local write and every write picked up from another process.
func (s *LocalStore) Subscribe(ctx context.Context, fn Listener) func() {
	sub, dispose := s.subs.add(ctx, fn)
	if s.closed.Load() {
		dispose()
		return dispose
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	rooms, _, err := readRooms(s.db.WithContext(ctx))
	if err != nil {
		s.log.Error("local subscribe read failed", "err", err)
		return dispose
	}
	sub.deliver(rooms)
	return dispose
}

// WriteRoom replaces the room with the same id or appends it.
func (s *LocalStore) WriteRoom(ctx context.Context, room domain.ChatRoom) error {
	return s.mutate(ctx, func(rooms []domain.ChatRoom) ([]domain.ChatRoom, bool, error) {
		_, idx, found := lo.FindIndexOf(rooms, func(r domain.ChatRoom) bool { return r.ID == room.ID })
		if found {
			rooms[idx] = room
			return rooms, true, nil
		}
		return append(rooms, room), true, nil
	})
}

// DeleteRoom removes the room; unknown ids are a no-op.
func (s *LocalStore) DeleteRoom(ctx context.Context, id string) error {
	return s.mutate(ctx, func(rooms []domain.ChatRoom) ([]domain.ChatRoom, bool, error) {
		kept := lo.Reject(rooms, func(r domain.ChatRoom, _ int) bool { return r.ID == id })
		return kept, len(kept) != len(rooms), nil
	})
}

// AppendMessage adds msg to the end of the room's message sequence.
func (s *LocalStore) AppendMessage(ctx context.Context, roomID string, msg domain.Message) error {
	return s.mutateRoom(ctx, roomID, func(room *domain.ChatRoom) bool {
		room.Messages = append(room.Messages, msg)
		return true
	})
}

// AppendMemo adds memo to the end of the room's memo sequence.
func (s *LocalStore) AppendMemo(ctx context.Context, roomID string, memo domain.Memo) error {
	return s.mutateRoom(ctx, roomID, func(room *domain.ChatRoom) bool {
		room.Memos = append(room.Memos, memo)
		return true
	})
}

// DeleteMemo filters the memo out of the room; unknown memo ids are a no-op.
func (s *LocalStore) DeleteMemo(ctx context.Context, roomID, memoID string) error {
	return s.mutateRoom(ctx, roomID, func(room *domain.ChatRoom) bool {
		kept := lo.Reject(room.Memos, func(m domain.Memo, _ int) bool { return m.ID == memoID })
		changed := len(kept) != len(room.Memos)
		room.Memos = kept
		return changed
	})
}

// Close stops the change poller and detaches every listener.
// The database itself belongs to the caller.
func (s *LocalStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.stop()
	<-s.done
	s.subs.closeAll()
	return nil
}

func (s *LocalStore) mutateRoom(ctx context.Context, roomID string, fn func(room *domain.ChatRoom) bool) error {
	return s.mutate(ctx, func(rooms []domain.ChatRoom) ([]domain.ChatRoom, bool, error) {
		_, idx, found := lo.FindIndexOf(rooms, func(r domain.ChatRoom) bool { return r.ID == roomID })
		if !found {
			return nil, false, ErrRoomNotFound
		}
		changed := fn(&rooms[idx])
		return rooms, changed, nil
	})
}

// mutate runs read-modify-write in one transaction and notifies listeners after commit.
func (s *LocalStore) mutate(ctx context.Context, fn func([]domain.ChatRoom) ([]domain.ChatRoom, bool, error)) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var (
		updated []domain.ChatRoom
		changed bool
		newRev  int64
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rooms, rev, err := readRooms(tx)
		if err != nil {
			return err
		}
		updated, changed, err = fn(rooms)
		if err != nil || !changed {
			return err
		}
		payload, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("encode rooms: %w", err)
		}
		newRev = rev + 1
		return putEntry(tx, roomsNamespace, payload, newRev)
	})
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	s.lastRev.Store(newRev)
	s.subs.broadcast(updated)
	return nil
}

func (s *LocalStore) pollLoop(ctx context.Context, interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

// pollOnce notices commits made by other processes sharing the database.
func (s *LocalStore) pollOnce(ctx context.Context) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	rooms, rev, err := readRooms(s.db.WithContext(ctx))
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn("local change poll failed", "err", err)
		}
		return
	}
	if rev == s.lastRev.Load() {
		return
	}
	s.lastRev.Store(rev)
	s.log.Debug("picked up external local change", "revision", rev)
	s.subs.broadcast(rooms)
}

func (s *LocalStore) revision(ctx context.Context) (int64, error) {
	var entry KVEntry
	err := s.db.WithContext(ctx).Select("revision").First(&entry, "namespace = ?", roomsNamespace).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return entry.Revision, nil
}

func readRooms(db *gorm.DB) ([]domain.ChatRoom, int64, error) {
	var entry KVEntry
	err := db.First(&entry, "namespace = ?", roomsNamespace).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return []domain.ChatRoom{}, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read rooms: %w", err)
	}
	rooms, err := decodeRooms(entry.Value)
	if err != nil {
		return nil, 0, err
	}
	return rooms, entry.Revision, nil
}

func putEntry(db *gorm.DB, namespace string, value []byte, revision int64) error {
	entry := KVEntry{
		Namespace: namespace,
		Value:     value,
		Revision:  revision,
		UpdatedAt: time.Now().UTC(),
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "revision", "updated_at"}),
	}).Create(&entry).Error
}
