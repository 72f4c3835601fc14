package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"roomchat/pkg/auth"
	"roomchat/pkg/domain"
	"roomchat/pkg/roomsync"
	"roomchat/pkg/store"
	"roomchat/services/chatroom/internal/app"
)

func newTestServer(t *testing.T) (*httptest.Server, *Server) {
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
	rooms, err := roomsync.New(roomsync.Config{
		Local: func() (store.Backend, error) {
			return store.NewLocalStore(db, store.LocalStoreConfig{PollInterval: -1})
		},
		Dial: func(ctx context.Context, creds domain.Credentials) (store.Backend, error) {
			return store.Dial(ctx, creds, nil)
		},
		Credentials: store.NewLocalCredentialStore(db),
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	if err := rooms.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	sessions, err := auth.NewSessionIssuer("test-secret", time.Hour, nil)
	if err != nil {
		t.Fatalf("new session issuer: %v", err)
	}
	core, err := app.New(app.Config{Rooms: rooms, Sessions: sessions, AdminPassword: "letmein"})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	srv := New(Config{App: core})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		srv.CloseStreams()
		_ = rooms.Close()
	})
	return ts, srv
}

func do(t *testing.T, ts *httptest.Server, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return v
}

func login(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp, data := do(t, ts, http.MethodPost, "/api/admin/login", "", map[string]string{"password": "letmein"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin login: %d %s", resp.StatusCode, data)
	}
	return decode[sessionResponse](t, data).Token
}

func TestRoomFlow(t *testing.T) {
	ts, _ := newTestServer(t)
	adminToken := login(t, ts)

	resp, data := do(t, ts, http.MethodPost, "/api/rooms", adminToken, map[string]string{"title": "Lobby", "password": "pw"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create room: %d %s", resp.StatusCode, data)
	}
	room := decode[domain.RoomView](t, data)
	if !room.Private || len(room.Messages) != 1 {
		t.Fatalf("unexpected room %+v", room)
	}
	if resp.Header.Get("X-Request-Id") == "" || resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("expected middleware headers, got %v", resp.Header)
	}

	resp, _ = do(t, ts, http.MethodPost, "/api/rooms/"+room.ID+"/join", "", map[string]string{"name": "ann", "password": "bad"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong password, got %d", resp.StatusCode)
	}
	resp, data = do(t, ts, http.MethodPost, "/api/rooms/"+room.ID+"/join", "", map[string]string{"name": "ann", "password": "pw"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("join: %d %s", resp.StatusCode, data)
	}
	annToken := decode[sessionResponse](t, data).Token

	resp, data = do(t, ts, http.MethodPost, "/api/rooms/"+room.ID+"/messages", annToken, map[string]string{"text": "hello"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send: %d %s", resp.StatusCode, data)
	}
	resp, data = do(t, ts, http.MethodGet, "/api/rooms/"+room.ID+"/messages", annToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("messages: %d %s", resp.StatusCode, data)
	}
	if msgs := decode[[]domain.Message](t, data); len(msgs) != 2 || msgs[1].Sender != "ann" {
		t.Fatalf("unexpected messages %+v", msgs)
	}

	// anonymous callers see the room but not its content
	resp, data = do(t, ts, http.MethodGet, "/api/rooms", "", nil)
	if rooms := decode[[]domain.RoomView](t, data); resp.StatusCode != http.StatusOK || len(rooms) != 1 || len(rooms[0].Messages) != 0 {
		t.Fatalf("unexpected anonymous listing %d %s", resp.StatusCode, data)
	}

	resp, data = do(t, ts, http.MethodPost, "/api/rooms/"+room.ID+"/memos", adminToken, map[string]string{"content": "agenda"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add memo: %d %s", resp.StatusCode, data)
	}
	memo := decode[domain.Memo](t, data)
	resp, _ = do(t, ts, http.MethodDelete, "/api/rooms/"+room.ID+"/memos/"+memo.ID, adminToken, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete memo: %d", resp.StatusCode)
	}

	resp, exported := do(t, ts, http.MethodGet, "/api/rooms/"+room.ID+"/export", adminToken, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(resp.Header.Get("Content-Disposition"), `filename="Lobby.json"`) {
		t.Fatalf("export: %d %v", resp.StatusCode, resp.Header)
	}
	for i := 0; i < 2; i++ {
		resp, _ = do(t, ts, http.MethodDelete, "/api/rooms/"+room.ID, adminToken, nil)
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("delete room #%d: %d", i+1, resp.StatusCode)
		}
	}
	resp, data = do(t, ts, http.MethodPost, "/api/rooms/import", adminToken, exported)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("import: %d %s", resp.StatusCode, data)
	}
	resp, data = do(t, ts, http.MethodGet, "/api/rooms/"+room.ID, adminToken, nil)
	if got := decode[domain.RoomView](t, data); resp.StatusCode != http.StatusOK || len(got.Messages) != 2 {
		t.Fatalf("room after import: %d %s", resp.StatusCode, data)
	}

	resp, _ = do(t, ts, http.MethodPost, "/api/rooms/"+room.ID+"/leave", annToken, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("leave: %d", resp.StatusCode)
	}
	resp, _ = do(t, ts, http.MethodPost, "/api/rooms/"+room.ID+"/messages", annToken, map[string]string{"text": "still here?"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after leave, got %d", resp.StatusCode)
	}
}

func TestAuthorizationErrors(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := do(t, ts, http.MethodPost, "/api/rooms", "", map[string]string{"title": "Nope"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for anonymous create, got %d", resp.StatusCode)
	}
	resp, _ = do(t, ts, http.MethodGet, "/api/rooms", "not-a-token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", resp.StatusCode)
	}
	resp, _ = do(t, ts, http.MethodPost, "/api/rooms/x/messages", "", map[string]string{"text": "hi"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for anonymous send, got %d", resp.StatusCode)
	}
	resp, _ = do(t, ts, http.MethodPost, "/api/rooms/missing/join", "", map[string]string{"name": "ann"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for missing room, got %d", resp.StatusCode)
	}
	resp, _ = do(t, ts, http.MethodPost, "/api/rooms/import", login(t, ts), []byte(`{"title":"no id"}`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid import, got %d", resp.StatusCode)
	}
}

func TestCloudSetupAndRemoteWriteFailure(t *testing.T) {
	ts, _ := newTestServer(t)
	adminToken := login(t, ts)
	mr := miniredis.RunT(t)

	resp, data := do(t, ts, http.MethodPost, "/api/cloud/setup", adminToken, map[string]any{"config": `{ authDomain: "x" }`})
	if resp.StatusCode != http.StatusBadRequest || !strings.Contains(string(data), "apiKey, projectId") {
		t.Fatalf("expected missing fields error, got %d %s", resp.StatusCode, data)
	}
	resp, data = do(t, ts, http.MethodPost, "/api/cloud/setup", adminToken, map[string]any{"config": `{ apiKey: "k", projectId: "p" }`})
	if resp.StatusCode != http.StatusBadRequest || !strings.Contains(string(data), "redis://p-default-rtdb:6379") {
		t.Fatalf("expected declined derived url, got %d %s", resp.StatusCode, data)
	}

	config := `{ apiKey: "k", projectId: "p", databaseURL: "redis://` + mr.Addr() + `" }`
	resp, data = do(t, ts, http.MethodPost, "/api/cloud/setup", adminToken, map[string]any{"config": config})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cloud setup: %d %s", resp.StatusCode, data)
	}
	resp, data = do(t, ts, http.MethodGet, "/api/status", "", nil)
	if status := decode[map[string]string](t, data); status["mode"] != string(domain.ModeCloud) {
		t.Fatalf("expected cloud mode, got %s", data)
	}

	mr.Close()
	resp, data = do(t, ts, http.MethodPost, "/api/rooms", adminToken, map[string]string{"title": "Offline"})
	if resp.StatusCode != http.StatusBadGateway || !strings.Contains(string(data), remoteWriteMessage) {
		t.Fatalf("expected 502 remote write error, got %d %s", resp.StatusCode, data)
	}

	resp, data = do(t, ts, http.MethodPost, "/api/cloud/disconnect", adminToken, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), `"local"`) {
		t.Fatalf("disconnect: %d %s", resp.StatusCode, data)
	}
}

func TestStreamPushesRoomChanges(t *testing.T) {
	ts, _ := newTestServer(t)
	adminToken := login(t, ts)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + adminToken
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first []domain.RoomView
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first frame: %v", err)
	}
	if len(first) != 0 {
		t.Fatalf("expected empty first frame, got %+v", first)
	}

	resp, data := do(t, ts, http.MethodPost, "/api/rooms", adminToken, map[string]string{"title": "Live"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create room: %d %s", resp.StatusCode, data)
	}
	for {
		var frame []domain.RoomView
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if len(frame) == 1 && frame[0].Title == "Live" {
			return
		}
	}
}
