package domain

import "time"

type Role string

const (
	RoleAdmin       Role = "admin"
	RoleParticipant Role = "participant"
)

type MessageType string

const (
	MessageNormal MessageType = "normal"
	MessageSystem MessageType = "system"
)

// Mode names the backend currently serving room data.
type Mode string

const (
	ModeLocal Mode = "local"
	ModeCloud Mode = "cloud"
)

type ChatRoom struct {
	ID        string    `json:"id" validate:"required"`
	Title     string    `json:"title" validate:"required"`
	Password  string    `json:"password,omitempty"`
	Messages  []Message `json:"messages"`
	Memos     []Memo    `json:"memos"`
	CreatedAt time.Time `json:"createdAt"`
	CreatedBy string    `json:"createdBy,omitempty"`
}

// Private reports whether joining the room requires a password.
func (r ChatRoom) Private() bool {
	return r.Password != ""
}

// View returns the room as shown to clients, without its password.
func (r ChatRoom) View() RoomView {
	messages := r.Messages
	if messages == nil {
		messages = []Message{}
	}
	memos := r.Memos
	if memos == nil {
		memos = []Memo{}
	}
	return RoomView{
		ID:        r.ID,
		Title:     r.Title,
		Private:   r.Private(),
		Messages:  messages,
		Memos:     memos,
		CreatedAt: r.CreatedAt,
		CreatedBy: r.CreatedBy,
	}
}

type RoomView struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Private   bool      `json:"private"`
	Messages  []Message `json:"messages"`
	Memos     []Memo    `json:"memos"`
	CreatedAt time.Time `json:"createdAt"`
	CreatedBy string    `json:"createdBy,omitempty"`
}

// Views converts a room collection for outward surfaces.
func Views(rooms []ChatRoom) []RoomView {
	out := make([]RoomView, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, room.View())
	}
	return out
}

type Message struct {
	ID        string      `json:"id"`
	Sender    string      `json:"sender"`
	Role      Role        `json:"role"`
	Text      string      `json:"text"`
	Timestamp time.Time   `json:"timestamp"`
	Type      MessageType `json:"type"`
}

type Memo struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Session is the ephemeral identity of someone inside a room.
// Admin sessions are not bound to a room.
type Session struct {
	Name   string `json:"name"`
	Role   Role   `json:"role"`
	RoomID string `json:"roomId,omitempty"`
}

// IsAdmin reports whether the session carries room-management privileges.
func (s Session) IsAdmin() bool {
	return s.Role == RoleAdmin
}

// Credentials holds the connection parameters for the cloud backend.
// Their presence in the credential store is what switches the service to cloud mode.
type Credentials struct {
	APIKey            string `json:"apiKey" yaml:"apiKey" validate:"required"`
	AuthDomain        string `json:"authDomain,omitempty" yaml:"authDomain"`
	DatabaseURL       string `json:"databaseURL,omitempty" yaml:"databaseURL"`
	ProjectID         string `json:"projectId" yaml:"projectId" validate:"required"`
	StorageBucket     string `json:"storageBucket,omitempty" yaml:"storageBucket"`
	MessagingSenderID string `json:"messagingSenderId,omitempty" yaml:"messagingSenderId"`
	AppID             string `json:"appId,omitempty" yaml:"appId"`
}
