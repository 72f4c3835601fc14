package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"roomchat/pkg/domain"
)

// FallbackReply is what the assistant says whenever generation fails.
const FallbackReply = "Sorry, I can't answer right now. Please try again later."

const (
	defaultHistory = 20
	systemPrompt   = "You are a friendly assistant taking part in a group chat room. " +
		"Answer the latest request briefly, in the language it was written in."
)

// ResponderConfig configures Responder.
type ResponderConfig struct {
	Generator TextGenerator
	// History is how many trailing messages are sent as context.
	History int
	Timeout time.Duration
	Logger  *slog.Logger
}

// Responder turns a room's conversation into one reply. It never fails:
// any problem yields FallbackReply.
type Responder struct {
	gen     TextGenerator
	history int
	timeout time.Duration
	log     *slog.Logger
}

func NewResponder(cfg ResponderConfig) *Responder {
	history := cfg.History
	if history <= 0 {
		history = defaultHistory
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{gen: cfg.Generator, history: history, timeout: timeout, log: logger}
}

// Reply generates an answer to history in the room called roomLabel.
func (r *Responder) Reply(ctx context.Context, history []domain.Message, roomLabel string) string {
	if r == nil || r.gen == nil {
		return FallbackReply
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	text, err := r.gen.GenerateText(ctx, systemPrompt, r.prompt(history, roomLabel))
	if err != nil {
		r.log.Warn("ai reply failed", "room", roomLabel, "err", err)
		return FallbackReply
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return FallbackReply
	}
	return text
}

func (r *Responder) prompt(history []domain.Message, roomLabel string) string {
	if len(history) > r.history {
		history = history[len(history)-r.history:]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Room: %s\nConversation:\n", roomLabel)
	for _, m := range history {
		if m.Type == domain.MessageSystem {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Sender, m.Text)
	}
	b.WriteString("Reply as the assistant.")
	return b.String()
}
