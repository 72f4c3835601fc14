package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"roomchat/pkg/domain"
)

// Rooms written by other clients of the cloud database may store messages and
// memos as key-indexed objects ({"0": …} or push-id keys) with null holes, and
// timestamps as epoch milliseconds. The wire types below accept every shape
// and decode into ordered slices.

type wireRoom struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Password  string          `json:"password"`
	Messages  json.RawMessage `json:"messages"`
	Memos     json.RawMessage `json:"memos"`
	CreatedAt flexTime        `json:"createdAt"`
	CreatedBy string          `json:"createdBy"`
}

type wireMessage struct {
	ID        string             `json:"id"`
	Sender    string             `json:"sender"`
	Role      domain.Role        `json:"role"`
	Text      string             `json:"text"`
	Timestamp flexTime           `json:"timestamp"`
	Type      domain.MessageType `json:"type"`
}

type wireMemo struct {
	ID        string   `json:"id"`
	RoomID    string   `json:"roomId"`
	Content   string   `json:"content"`
	CreatedAt flexTime `json:"createdAt"`
}

type flexTime time.Time

func (t *flexTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*t = flexTime{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*t = flexTime{}
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("parse time %q: %w", s, err)
		}
		*t = flexTime(parsed.UTC())
		return nil
	}
	ms, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("parse epoch time %q: %w", string(b), err)
	}
	*t = flexTime(time.UnixMilli(int64(ms)).UTC())
	return nil
}

// DecodeRoom parses a single room record in any shape the backends accept,
// including map-shaped messages and memos and epoch-millisecond timestamps.
func DecodeRoom(data []byte) (domain.ChatRoom, error) {
	return decodeRoom(data)
}

func decodeRoom(data []byte) (domain.ChatRoom, error) {
	var w wireRoom
	if err := json.Unmarshal(data, &w); err != nil {
		return domain.ChatRoom{}, fmt.Errorf("decode room: %w", err)
	}
	return w.room()
}

func (w wireRoom) room() (domain.ChatRoom, error) {
	messages, err := coerceSlice[wireMessage](w.Messages)
	if err != nil {
		return domain.ChatRoom{}, fmt.Errorf("room %s messages: %w", w.ID, err)
	}
	memos, err := coerceSlice[wireMemo](w.Memos)
	if err != nil {
		return domain.ChatRoom{}, fmt.Errorf("room %s memos: %w", w.ID, err)
	}
	return domain.ChatRoom{
		ID:       w.ID,
		Title:    w.Title,
		Password: w.Password,
		Messages: lo.Map(messages, func(m wireMessage, _ int) domain.Message {
			return domain.Message{
				ID:        m.ID,
				Sender:    m.Sender,
				Role:      m.Role,
				Text:      m.Text,
				Timestamp: time.Time(m.Timestamp),
				Type:      m.Type,
			}
		}),
		Memos: lo.Map(memos, func(m wireMemo, _ int) domain.Memo {
			roomID := m.RoomID
			if roomID == "" {
				roomID = w.ID
			}
			return domain.Memo{
				ID:        m.ID,
				RoomID:    roomID,
				Content:   m.Content,
				CreatedAt: time.Time(m.CreatedAt),
			}
		}),
		CreatedAt: time.Time(w.CreatedAt),
		CreatedBy: w.CreatedBy,
	}, nil
}

// decodeRooms accepts either an array of rooms or an object keyed by room id.
func decodeRooms(data []byte) ([]domain.ChatRoom, error) {
	wires, err := coerceSlice[wireRoom](data)
	if err != nil {
		return nil, fmt.Errorf("decode rooms: %w", err)
	}
	rooms := make([]domain.ChatRoom, 0, len(wires))
	for _, w := range wires {
		room, err := w.room()
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}

// coerceSlice decodes an array, a key-indexed object or null into a non-nil slice.
func coerceSlice[T any](raw json.RawMessage) ([]T, error) {
	raw = bytes.TrimSpace(raw)
	out := make([]T, 0)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return out, nil
	}
	switch raw[0] {
	case '[':
		var items []*T
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		for _, item := range items {
			if item != nil {
				out = append(out, *item)
			}
		}
	case '{':
		var items map[string]*T
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		for _, key := range orderedKeys(lo.Keys(items)) {
			if item := items[key]; item != nil {
				out = append(out, *item)
			}
		}
	default:
		return nil, fmt.Errorf("expected array or object, got %q", truncate(string(raw), 16))
	}
	return out, nil
}

// orderedKeys sorts numeric keys numerically and everything else lexically;
// push-id style keys sort chronologically that way.
func orderedKeys(keys []string) []string {
	numeric := lo.EveryBy(keys, func(k string) bool {
		_, err := strconv.Atoi(k)
		return err == nil
	})
	sort.Slice(keys, func(i, j int) bool {
		if numeric {
			a, _ := strconv.Atoi(keys[i])
			b, _ := strconv.Atoi(keys[j])
			return a < b
		}
		return keys[i] < keys[j]
	})
	return keys
}

// encodeRoom marshals a room for the cloud backend with every null leaf removed.
func encodeRoom(room domain.ChatRoom) ([]byte, error) {
	if room.Messages == nil {
		room.Messages = []domain.Message{}
	}
	if room.Memos == nil {
		room.Memos = []domain.Memo{}
	}
	raw, err := json.Marshal(room)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(pruneNulls(generic))
}

func pruneNulls(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			if item == nil {
				delete(val, k)
				continue
			}
			val[k] = pruneNulls(item)
		}
		return val
	case []any:
		return lo.Map(lo.Filter(val, func(item any, _ int) bool { return item != nil }), func(item any, _ int) any {
			return pruneNulls(item)
		})
	default:
		return val
	}
}

func cloneRooms(rooms []domain.ChatRoom) []domain.ChatRoom {
	out := make([]domain.ChatRoom, len(rooms))
	for i, room := range rooms {
		room.Messages = append(make([]domain.Message, 0, len(room.Messages)), room.Messages...)
		room.Memos = append(make([]domain.Memo, 0, len(room.Memos)), room.Memos...)
		out[i] = room
	}
	return out
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
