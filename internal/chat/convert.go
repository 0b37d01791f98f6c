package chat

import (
	"sort"
	"strings"

	"github.com/VINIA6/CHATAI/internal/backend"
	"github.com/sirupsen/logrus"
)

const (
	maxTalkName    = 50
	newChatName    = "New chat"
	truncatedName  = maxTalkName - 3
	truncateSuffix = "..."
)

// FromWire maps a validated wire record to a Message. It has no side effects;
// invalid records must be rejected by the caller first.
func FromWire(w backend.WireMessage) Message {
	return Message{
		ID:        w.ID.Hex,
		Content:   w.Content,
		Type:      MessageType(w.Type),
		Timestamp: w.CreatedAt.Time,
	}
}

// convertAll converts a server message list, skipping records that fail
// validation or are soft-deleted.
func convertAll(ws []backend.WireMessage, log logrus.FieldLogger) []Message {
	out := make([]Message, 0, len(ws))
	for _, w := range ws {
		if w.IsDeleted {
			continue
		}
		if err := w.Validate(); err != nil {
			log.WithError(err).Warn("skipping invalid message record")
			continue
		}
		out = append(out, FromWire(w))
	}
	return out
}

func talkFromWire(w backend.WireTalk, profile string) Talk {
	return Talk{
		Profile:   profile,
		ID:        w.ID.Hex,
		Name:      w.Name,
		CreatedAt: w.CreatedAt.Time,
		UpdatedAt: w.UpdatedAt.Time,
	}
}

// sortTalks orders talks by last update, newest first.
func sortTalks(ts []Talk) {
	sort.SliceStable(ts, func(i, j int) bool {
		return ts[i].UpdatedAt.After(ts[j].UpdatedAt)
	})
}

// TalkName derives a display title from the first user message.
func TalkName(firstMessage string) string {
	s := strings.Join(strings.Fields(firstMessage), " ")
	if s == "" {
		return newChatName
	}
	r := []rune(s)
	if len(r) <= maxTalkName {
		return s
	}
	return string(r[:truncatedName]) + truncateSuffix
}
