package server

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"roomchat/internal/util"
	"roomchat/pkg/domain"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
)

// streamSet tracks open websocket streams so shutdown can close them.
type streamSet struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
	wg    sync.WaitGroup
}

func newStreamSet() *streamSet {
	return &streamSet{conns: make(map[*websocket.Conn]struct{})}
}

func (s *streamSet) add(c *websocket.Conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	s.wg.Add(1)
}

func (s *streamSet) remove(c *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

// CloseStreams tells every connected client the server is going away and
// waits for the stream goroutines to finish.
func (s *Server) CloseStreams() {
	s.streams.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.streams.conns))
	for c := range s.streams.conns {
		conns = append(conns, c)
	}
	s.streams.mu.Unlock()
	for _, c := range conns {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(writeWait))
		_ = c.Close()
	}
	s.streams.wg.Wait()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(s.origins) == 0 {
		return true
	}
	for _, o := range s.origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// handleStream pushes the room list as JSON frames: the current list right
// away and a fresh one after every change. Only the newest pending frame is
// kept when the client reads slowly.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	logger := util.LoggerFromContext(r.Context())
	s.streams.add(conn)
	defer s.streams.remove(conn)

	frames := make(chan []domain.RoomView, 1)
	stop := s.app.Watch(r.Context(), sess, func(rooms []domain.RoomView) {
		select {
		case frames <- rooms:
		default:
			select {
			case <-frames:
			default:
			}
			select {
			case frames <- rooms:
			default:
			}
		}
	})
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer conn.Close()
	for {
		select {
		case rooms := <-frames:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(rooms); err != nil {
				logger.Debug("stream write failed", "err", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
