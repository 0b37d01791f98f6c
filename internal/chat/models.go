package chat

import "time"

type MessageType string

const (
	TypeUser MessageType = "user"
	TypeBot  MessageType = "bot"
)

// Message is a displayed chat message. Optimistic entries carry a
// client-generated id until the server list replaces them.
type Message struct {
	ID        string      `json:"id"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	IsTyping  bool        `json:"is_typing,omitempty"`
	IsError   bool        `json:"is_error,omitempty"`
}

// Talk is a server-side conversation as listed to the user. Rows are cached
// locally per profile so the list can be shown before the backend answers.
type Talk struct {
	Profile   string    `gorm:"type:varchar(64);primaryKey" json:"-"`
	ID        string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime:false" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false;index" json:"updated_at"`
}

func (Talk) TableName() string { return "chat_talks" }

// State is the engine's view of the active conversation.
type State struct {
	Messages  []Message
	TalkID    string
	TalkName  string
	IsNewTalk bool
	// Busy is true while a send is outstanding.
	Busy bool
	// Loading is true while a selected talk's messages are being fetched.
	Loading bool
}

func (s State) clone() State {
	s.Messages = append([]Message(nil), s.Messages...)
	return s
}

// Typing returns the typing placeholder, if one is present.
func (s State) Typing() (Message, bool) {
	for _, m := range s.Messages {
		if m.IsTyping {
			return m, true
		}
	}
	return Message{}, false
}
