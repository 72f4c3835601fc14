package store

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"roomchat/pkg/domain"
)

func TestDecodeRoomsAcceptsArrayAndObject(t *testing.T) {
	cases := map[string]string{
		"array":  `[{"id":"a","title":"A"},null,{"id":"b","title":"B"}]`,
		"object": `{"1":{"id":"b","title":"B"},"0":{"id":"a","title":"A"}}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			rooms, err := decodeRooms([]byte(payload))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(rooms) != 2 || rooms[0].ID != "a" || rooms[1].ID != "b" {
				t.Fatalf("unexpected rooms %+v", rooms)
			}
			if rooms[0].Messages == nil || rooms[0].Memos == nil {
				t.Fatalf("expected non-nil sequences")
			}
		})
	}
}

func TestDecodeRoomsRejectsScalars(t *testing.T) {
	if _, err := decodeRooms([]byte(`"rooms"`)); err == nil {
		t.Fatalf("expected error for scalar payload")
	}
	rooms, err := decodeRooms([]byte(`null`))
	if err != nil || rooms == nil || len(rooms) != 0 {
		t.Fatalf("expected empty collection for null, got %v %v", rooms, err)
	}
}

func TestEncodeRoomPrunesNulls(t *testing.T) {
	room := domain.ChatRoom{
		ID:        "a",
		Title:     "A",
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	data, err := encodeRoom(room)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if strings.Contains(string(data), "null") {
		t.Fatalf("expected no null leaves, got %s", data)
	}
	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := generic["messages"].([]any); !ok {
		t.Fatalf("expected messages array, got %T", generic["messages"])
	}
}

func TestPruneNullsNested(t *testing.T) {
	in := map[string]any{
		"keep": "x",
		"drop": nil,
		"list": []any{nil, map[string]any{"a": nil, "b": 1.0}},
	}
	out := pruneNulls(in).(map[string]any)
	if _, ok := out["drop"]; ok {
		t.Fatalf("expected nil key dropped")
	}
	list := out["list"].([]any)
	if len(list) != 1 {
		t.Fatalf("expected nil element dropped, got %v", list)
	}
	if _, ok := list[0].(map[string]any)["a"]; ok {
		t.Fatalf("expected nested nil dropped")
	}
}

func TestOrderedKeys(t *testing.T) {
	got := strings.Join(orderedKeys([]string{"10", "2", "1"}), ",")
	if got != "1,2,10" {
		t.Fatalf("numeric keys: %s", got)
	}
	got = strings.Join(orderedKeys([]string{"-Nc", "-Na", "-Nb"}), ",")
	if got != "-Na,-Nb,-Nc" {
		t.Fatalf("push keys: %s", got)
	}
}

func TestFlexTimeAcceptsStringsAndEpoch(t *testing.T) {
	var v struct {
		A flexTime `json:"a"`
		B flexTime `json:"b"`
		C flexTime `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a":"2024-01-02T03:04:05Z","b":1704164645000,"c":null}`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !time.Time(v.A).Equal(time.Time(v.B)) {
		t.Fatalf("expected equal instants, got %v and %v", time.Time(v.A), time.Time(v.B))
	}
	if !time.Time(v.C).IsZero() {
		t.Fatalf("expected zero time for null")
	}
}
