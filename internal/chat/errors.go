package chat

import (
	"errors"
	"strings"

	"github.com/VINIA6/CHATAI/internal/backend"
	"github.com/VINIA6/CHATAI/internal/retry"
)

var (
	ErrMessageTooLong   = errors.New("message is too long")
	ErrCannotRegenerate = errors.New("message cannot be regenerated")
	// errStale stops work whose conversation is no longer displayed.
	errStale = errors.New("conversation changed")
)

const errorIntro = "Sorry, something went wrong while processing your message.\n\n"

// ErrorContent renders a send failure as the body of an inline bot message.
func ErrorContent(err error) string {
	var b strings.Builder
	b.WriteString(errorIntro)

	switch {
	case retry.IsTimeout(err):
		b.WriteString("**What happened:**\nThe assistant took longer than expected to respond.\n\n")
		b.WriteString("**What to do:**\n")
		b.WriteString("- Wait a few moments\n")
		b.WriteString("- Try asking in a simpler way\n")
		b.WriteString("- If the problem persists, contact support")
	case isConnectionError(err):
		b.WriteString("**What happened:**\nCould not connect to the server.\n\n")
		b.WriteString("**What to do:**\n")
		b.WriteString("- Check your internet connection\n")
		b.WriteString("- Try again in a few moments")
	default:
		detail := "unknown error"
		if err != nil && strings.TrimSpace(err.Error()) != "" {
			detail = err.Error()
		}
		b.WriteString("**Details:**\n")
		b.WriteString(detail)
		b.WriteString("\n\n**Suggestion:** Try again in a few moments.")
	}
	return b.String()
}

func isConnectionError(err error) bool {
	switch backend.KindOf(err) {
	case backend.KindNetwork, backend.KindRefused:
		return true
	}
	return false
}
