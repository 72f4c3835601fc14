package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"roomchat/pkg/domain"
)

// State is the lifecycle of a cloud connection handle.
type State int32

const (
	StateActive State = iota
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// RedisStoreConfig configures the cloud backend.
type RedisStoreConfig struct {
	ProjectID string
	Logger    *slog.Logger
}

// RedisStore implements Backend on a Redis-protocol database. Rooms live one
// JSON value per key under "<projectId>:chatrooms:<id>", ordered by a sorted
// set index at "<projectId>:chatrooms". Every mutation is announced on the
// "<projectId>:chatrooms:changes" channel so other instances refresh.
type RedisStore struct {
	client   *redis.Client
	prefix   string
	instance string
	log      *slog.Logger
	subs     *hub
	state    atomic.Int32

	watchMu     sync.Mutex
	watchCancel context.CancelFunc
	watchDone   chan struct{}

	// refreshMu keeps snapshot reads and their delivery in order.
	refreshMu sync.Mutex
}

// ClientOptions converts credentials into go-redis options. The database URL
// carries address and password; the project id only namespaces keys.
func ClientOptions(creds domain.Credentials) (*redis.Options, error) {
	raw := strings.TrimSpace(creds.DatabaseURL)
	if raw == "" {
		return nil, errors.New("credentials: databaseURL is required")
	}
	opts, err := redis.ParseURL(raw)
	if err != nil {
		return nil, fmt.Errorf("credentials: parse databaseURL: %w", err)
	}
	return opts, nil
}

// Dial connects to the cloud backend described by creds and verifies the
// connection with a PING before returning.
func Dial(ctx context.Context, creds domain.Credentials, logger *slog.Logger) (*RedisStore, error) {
	opts, err := ClientOptions(creds)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect cloud backend: %w", err)
	}
	return NewRedisStore(client, RedisStoreConfig{ProjectID: creds.ProjectID, Logger: logger}), nil
}

// NewRedisStore wraps an existing client. The store owns the client from here on.
func NewRedisStore(client *redis.Client, cfg RedisStoreConfig) *RedisStore {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prefix := strings.TrimSpace(cfg.ProjectID)
	if prefix == "" {
		prefix = "default"
	}
	s := &RedisStore{
		client:   client,
		prefix:   prefix,
		instance: uuid.NewString(),
		subs:     newHub(),
	}
	s.log = logger.With("backend", domain.ModeCloud, "project", prefix)
	s.state.Store(int32(StateActive))
	return s
}

func (s *RedisStore) Mode() domain.Mode {
	return domain.ModeCloud
}

func (s *RedisStore) State() State {
	return State(s.state.Load())
}

func (s *RedisStore) active() bool {
	return s.State() == StateActive
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":chatrooms"
}

func (s *RedisStore) roomKey(id string) string {
	return s.indexKey() + ":" + id
}

func (s *RedisStore) channel() string {
	return s.indexKey() + ":changes"
}

// Rooms returns every room in creation order. An absent collection is empty.
func (s *RedisStore) Rooms(ctx context.Context) ([]domain.ChatRoom, error) {
	if !s.active() {
		return nil, ErrClosed
	}
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("cloud read index: %w", err)
	}
	rooms := make([]domain.ChatRoom, 0, len(ids))
	if len(ids) == 0 {
		return rooms, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.roomKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("cloud read rooms: %w", err)
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// index entry without a value: deleted between the two reads
			continue
		}
		room, err := decodeRoom([]byte(raw))
		if err != nil {
			s.log.Warn("skip undecodable room", "room_id", ids[i], "err", err)
			continue
		}
		if room.ID == "" {
			room.ID = ids[i]
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}

func (s *RedisStore) Room(ctx context.Context, id string) (domain.ChatRoom, bool, error) {
	if !s.active() {
		return domain.ChatRoom{}, false, ErrClosed
	}
	raw, err := s.client.Get(ctx, s.roomKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ChatRoom{}, false, nil
	}
	if err != nil {
		return domain.ChatRoom{}, false, fmt.Errorf("cloud read room: %w", err)
	}
	room, err := decodeRoom(raw)
	if err != nil {
		return domain.ChatRoom{}, false, err
	}
	if room.ID == "" {
		room.ID = id
	}
	return room, true, nil
}

// Subscribe delivers the current collection, then a fresh snapshot after every
// change made through this store or announced by another instance.
func (s *RedisStore) Subscribe(ctx context.Context, fn Listener) func() {
	sub, dispose := s.subs.add(ctx, fn)
	if !s.active() {
		dispose()
		return dispose
	}
	if err := s.ensureWatcher(); err != nil {
		s.log.Warn("cloud change feed unavailable", "err", err)
	}
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	rooms, err := s.Rooms(context.WithoutCancel(ctx))
	if err != nil {
		s.log.Error("cloud subscribe read failed", "err", err)
		return dispose
	}
	sub.deliver(rooms)
	return dispose
}

// WriteRoom replaces the whole stored value of the room. It is not
// transactional: a concurrent append to the same room may be overwritten.
func (s *RedisStore) WriteRoom(ctx context.Context, room domain.ChatRoom) error {
	if !s.active() {
		return ErrClosed
	}
	payload, err := encodeRoom(room)
	if err != nil {
		return fmt.Errorf("encode room: %w", err)
	}
	created := room.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.roomKey(room.ID), payload, 0)
		pipe.ZAddNX(ctx, s.indexKey(), redis.Z{Score: float64(created.UnixMilli()), Member: room.ID})
		return nil
	})
	if err != nil {
		return remoteErr("write room", err)
	}
	s.changed(ctx, room.ID)
	return nil
}

// DeleteRoom removes the room; deleting a missing room succeeds.
func (s *RedisStore) DeleteRoom(ctx context.Context, id string) error {
	if !s.active() {
		return ErrClosed
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.roomKey(id))
		pipe.ZRem(ctx, s.indexKey(), id)
		return nil
	})
	if err != nil {
		return remoteErr("delete room", err)
	}
	s.changed(ctx, id)
	return nil
}

func (s *RedisStore) AppendMessage(ctx context.Context, roomID string, msg domain.Message) error {
	return s.updateRoom(ctx, "append message", roomID, func(room *domain.ChatRoom) bool {
		room.Messages = append(room.Messages, msg)
		return true
	})
}

func (s *RedisStore) AppendMemo(ctx context.Context, roomID string, memo domain.Memo) error {
	return s.updateRoom(ctx, "append memo", roomID, func(room *domain.ChatRoom) bool {
		room.Memos = append(room.Memos, memo)
		return true
	})
}

// DeleteMemo filters the memo out; an unknown memo id leaves the room untouched.
func (s *RedisStore) DeleteMemo(ctx context.Context, roomID, memoID string) error {
	return s.updateRoom(ctx, "delete memo", roomID, func(room *domain.ChatRoom) bool {
		kept := make([]domain.Memo, 0, len(room.Memos))
		for _, m := range room.Memos {
			if m.ID != memoID {
				kept = append(kept, m)
			}
		}
		changed := len(kept) != len(room.Memos)
		room.Memos = kept
		return changed
	})
}

// updateRoom applies fn under WATCH on the room key and retries on conflict.
func (s *RedisStore) updateRoom(ctx context.Context, op, roomID string, fn func(room *domain.ChatRoom) bool) error {
	if !s.active() {
		return ErrClosed
	}
	key := s.roomKey(roomID)
	for {
		if err := ctx.Err(); err != nil {
			return remoteErr(op, err)
		}
		var changed bool
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return ErrRoomNotFound
			}
			if err != nil {
				return err
			}
			room, err := decodeRoom(raw)
			if err != nil {
				return err
			}
			if room.ID == "" {
				room.ID = roomID
			}
			if changed = fn(&room); !changed {
				return nil
			}
			payload, err := encodeRoom(room)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, 0)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return remoteErr(op, err)
		}
		if changed {
			s.changed(ctx, roomID)
		}
		return nil
	}
}

// changed refreshes local listeners and announces the change to other instances.
func (s *RedisStore) changed(ctx context.Context, roomID string) {
	ctx = context.WithoutCancel(ctx)
	if err := s.client.Publish(ctx, s.channel(), s.instance+"|"+roomID).Err(); err != nil {
		s.log.Warn("publish room change failed", "room_id", roomID, "err", err)
	}
	s.refresh(ctx)
}

func (s *RedisStore) refresh(ctx context.Context) {
	if s.subs.size() == 0 {
		return
	}
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	rooms, err := s.Rooms(ctx)
	if err != nil {
		if !errors.Is(err, ErrClosed) {
			s.log.Error("cloud refresh failed", "err", err)
		}
		return
	}
	s.subs.broadcast(rooms)
}

// ensureWatcher starts the change feed once. The SUBSCRIBE is confirmed before
// returning so no announcement published afterwards is missed.
func (s *RedisStore) ensureWatcher() error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.watchCancel != nil {
		return nil
	}
	if !s.active() {
		return ErrClosed
	}
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := s.client.Subscribe(ctx, s.channel())
	confirmCtx, confirmCancel := context.WithTimeout(ctx, 3*time.Second)
	_, err := pubsub.Receive(confirmCtx)
	confirmCancel()
	if err != nil {
		cancel()
		_ = pubsub.Close()
		return err
	}
	s.watchCancel = cancel
	s.watchDone = make(chan struct{})
	go s.watch(ctx, pubsub, s.watchDone)
	return nil
}

func (s *RedisStore) watch(ctx context.Context, pubsub *redis.PubSub, done chan struct{}) {
	defer close(done)
	defer pubsub.Close()
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			origin, roomID, _ := strings.Cut(msg.Payload, "|")
			if origin == s.instance {
				continue
			}
			s.log.Debug("remote room change", "room_id", roomID)
			s.refresh(ctx)
		}
	}
}

// Close disposes the handle: the change feed stops, listeners are detached
// and the client is closed. Later operations fail with ErrClosed.
func (s *RedisStore) Close() error {
	if !s.state.CompareAndSwap(int32(StateActive), int32(StateDisposed)) {
		return nil
	}
	s.watchMu.Lock()
	cancel, done := s.watchCancel, s.watchDone
	s.watchMu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	s.subs.closeAll()
	return s.client.Close()
}
