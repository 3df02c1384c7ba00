package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

// Update is a decoded inbound update, independent of how it arrived
// (long poll or webhook).
type Update struct {
	ID      int
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
}

// Event is what the command dispatcher consumes: one recipient, one command line.
type Event struct {
	UpdateID int
	ChatID   int64
	Text     string
}

// EventFromUpdate extracts the dispatcher event. ok is false when the update
// carries no message or no resolvable chat.
func EventFromUpdate(up Update) (Event, bool) {
	if up.Kind != UpdateMessage || up.Message == nil || up.Message.ChatID == 0 {
		return Event{}, false
	}
	return Event{UpdateID: up.ID, ChatID: up.Message.ChatID, Text: up.Message.Text}, true
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender delivers one text message to one chat. A call succeeds or fails as a whole.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Adapter is a chat platform connection that can also receive updates.
type Adapter interface {
	Sender
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}
