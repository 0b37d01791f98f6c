package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	idUser     = "user"
	idTyping   = "typing"
	idBot      = "bot"
	idBotError = "bot_error"
)

// newMessageID builds the client-side id of an optimistic message:
// kind_unixmillis_random.
func newMessageID(kind string, now time.Time) string {
	r := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s_%d_%s", kind, now.UnixMilli(), r[:9])
}
