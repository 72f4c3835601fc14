package app

import (
	"context"
	"fmt"
	"strings"

	"roomchat/internal/util"
	"roomchat/pkg/domain"
)

const (
	aiCommand = "/ai"
	aiSender  = "AI"
)

// Messages returns a room's messages in order.
func (a *App) Messages(ctx context.Context, sess domain.Session, roomID string) ([]domain.Message, error) {
	view, err := a.Room(ctx, sess, roomID)
	if err != nil {
		return nil, err
	}
	return view.Messages, nil
}

// SendMessage appends a message from sess. A message starting with /ai also
// gets a reply from the assistant, appended after it.
func (a *App) SendMessage(ctx context.Context, sess domain.Session, roomID, text string) (domain.Message, error) {
	if !sess.IsAdmin() && sess.RoomID != roomID {
		return domain.Message{}, ErrForbidden
	}
	text = bodyText(text, maxMessageLen)
	if text == "" {
		return domain.Message{}, fmt.Errorf("%w: message text required", ErrInvalidInput)
	}
	msg := domain.Message{
		ID:        util.NewID(),
		Sender:    sess.Name,
		Role:      sess.Role,
		Text:      text,
		Timestamp: a.now(),
		Type:      domain.MessageNormal,
	}
	if err := a.rooms.AppendMessage(ctx, roomID, msg); err != nil {
		return domain.Message{}, err
	}
	if isAICommand(text) {
		a.replyWithAI(ctx, roomID)
	}
	return msg, nil
}

func isAICommand(text string) bool {
	if !strings.HasPrefix(text, aiCommand) {
		return false
	}
	rest := text[len(aiCommand):]
	return rest == "" || rest[0] == ' ' || rest[0] == '\n' || rest[0] == '\t'
}

// replyWithAI appends the assistant's answer. Failures are logged: the
// triggering message has already been stored.
func (a *App) replyWithAI(ctx context.Context, roomID string) {
	room, err := a.room(ctx, roomID)
	if err != nil {
		a.log.Warn("ai reply skipped", "room", roomID, "err", err)
		return
	}
	reply := a.responder.Reply(ctx, room.Messages, room.Title)
	msg := domain.Message{
		ID:        util.NewID(),
		Sender:    aiSender,
		Role:      domain.RoleParticipant,
		Text:      reply,
		Timestamp: a.now(),
		Type:      domain.MessageNormal,
	}
	if err := a.rooms.AppendMessage(ctx, roomID, msg); err != nil {
		a.log.Warn("append ai reply failed", "room", roomID, "err", err)
	}
}

// AddMemo attaches a note to a room.
func (a *App) AddMemo(ctx context.Context, sess domain.Session, roomID, content string) (domain.Memo, error) {
	if err := requireAdmin(sess); err != nil {
		return domain.Memo{}, err
	}
	content = bodyText(content, maxMemoLen)
	if content == "" {
		return domain.Memo{}, fmt.Errorf("%w: memo content required", ErrInvalidInput)
	}
	memo := domain.Memo{
		ID:        util.NewID(),
		RoomID:    roomID,
		Content:   content,
		CreatedAt: a.now(),
	}
	if err := a.rooms.AppendMemo(ctx, roomID, memo); err != nil {
		return domain.Memo{}, err
	}
	return memo, nil
}

// DeleteMemo removes a note; a missing memo is not an error.
func (a *App) DeleteMemo(ctx context.Context, sess domain.Session, roomID, memoID string) error {
	if err := requireAdmin(sess); err != nil {
		return err
	}
	return a.rooms.DeleteMemo(ctx, roomID, memoID)
}
