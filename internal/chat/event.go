package chat

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

type EventKind string

const (
	EventTalkCreated     EventKind = "talk_created"
	EventMessageSent     EventKind = "message_sent"
	EventStreamCompleted EventKind = "stream_completed"
	EventSendFailed      EventKind = "send_failed"
	EventTalkDeleted     EventKind = "talk_deleted"
)

// Event records something that happened to a conversation.
type Event struct {
	ID string `gorm:"primaryKey;size:26" json:"id"` // ULID length

	Kind    EventKind `gorm:"type:varchar(32);index;not null" json:"kind"`
	Profile string    `gorm:"type:varchar(64);index" json:"profile"`
	TalkID  string    `gorm:"type:varchar(64);index" json:"talk_id,omitempty"`

	// Content is the user text for sends, the error text for failures.
	Content string `gorm:"type:text" json:"content,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (Event) TableName() string { return "chat_events" }

func NewEvent(kind EventKind, profile, talkID, content string) Event {
	return Event{
		ID:        ulid.Make().String(),
		Kind:      kind,
		Profile:   profile,
		TalkID:    talkID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// EventSink receives conversation events. Delivery is best effort.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}
