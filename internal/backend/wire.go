package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// OID is a MongoDB extended-JSON object id: {"$oid": "..."}.
type OID struct {
	Hex string `json:"$oid"`
}

func (o OID) String() string { return o.Hex }

// Date is a MongoDB extended-JSON date. Both the relaxed form
// {"$date": "2024-05-01T12:00:00Z"} and the canonical forms
// {"$date": 1714564800000} / {"$date": {"$numberLong": "..."}} are accepted.
type Date struct {
	time.Time
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return nil
	}

	var wrapper struct {
		Date json.RawMessage `json:"$date"`
	}
	if err := json.Unmarshal(b, &wrapper); err != nil {
		// not wrapped, accept a bare string
		var s string
		if err2 := json.Unmarshal(b, &s); err2 != nil {
			return fmt.Errorf("date: %w", err)
		}
		t, err := ParseTime(s)
		if err != nil {
			return err
		}
		d.Time = t
		return nil
	}
	raw := bytes.TrimSpace(wrapper.Date)
	if len(raw) == 0 {
		return nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		t, err := ParseTime(s)
		if err != nil {
			return err
		}
		d.Time = t
	case '{':
		var nl struct {
			NumberLong string `json:"$numberLong"`
		}
		if err := json.Unmarshal(raw, &nl); err != nil {
			return err
		}
		ms, err := strconv.ParseInt(nl.NumberLong, 10, 64)
		if err != nil {
			return fmt.Errorf("date: bad $numberLong %q", nl.NumberLong)
		}
		d.Time = time.UnixMilli(ms).UTC()
	default:
		ms, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("date: bad millis %s", raw)
		}
		d.Time = time.UnixMilli(ms).UTC()
	}
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Date string `json:"$date"`
	}{Date: d.UTC().Format(time.RFC3339Nano)})
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	time.RFC1123,
	time.RFC1123Z,
}

// ParseTime parses the timestamp formats the backend emits.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// WireMessage is a message record as stored by the backend.
type WireMessage struct {
	ID        OID    `json:"_id"`
	Content   string `json:"content"`
	Type      string `json:"type"`
	CreatedAt Date   `json:"create_at"`
	UpdatedAt Date   `json:"update_at"`
	TalkID    OID    `json:"talk_id"`
	UserID    OID    `json:"user_id"`
	IsDeleted bool   `json:"is_deleted"`
}

// Validate rejects records that cannot be displayed.
func (m WireMessage) Validate() error {
	if m.ID.Hex == "" {
		return fmt.Errorf("message without _id")
	}
	if m.Type != "user" && m.Type != "bot" {
		return fmt.Errorf("message %s: unknown type %q", m.ID.Hex, m.Type)
	}
	return nil
}

// WireTalk is a conversation record from GET /talk-user.
type WireTalk struct {
	ID        OID    `json:"_id"`
	Name      string `json:"name"`
	CreatedAt Date   `json:"create_at"`
	UpdatedAt Date   `json:"update_at"`
	UserID    OID    `json:"user_id"`
	IsDeleted bool   `json:"is_deleted"`
}

// TalkDescriptor is the short talk form returned by create and rename.
type TalkDescriptor struct {
	TalkID    string `json:"talk_id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type CreateTalkResponse struct {
	Talk     TalkDescriptor `json:"talk"`
	Messages []WireMessage  `json:"messages"`
}

type messagesResponse struct {
	Messages []WireMessage `json:"messages"`
}

type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
	Context        string `json:"context,omitempty"`
}

type ChatResponse struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
	Timestamp      int64  `json:"timestamp"`
}

type LoginUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Cargo string `json:"cargo"`
	Setor string `json:"setor"`
}

type LoginResponse struct {
	Token string     `json:"token"`
	User  *LoginUser `json:"user"`
}
