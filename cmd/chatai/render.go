package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/VINIA6/CHATAI/internal/chat"
	"github.com/charmbracelet/glamour"
	"github.com/dustin/go-humanize"
)

// newRenderer renders bot replies as terminal markdown, falling back to the
// raw text when no renderer can be built.
func newRenderer() func(string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return plain
	}
	return func(s string) string {
		out, err := r.Render(s)
		if err != nil {
			return plain(s)
		}
		return out
	}
}

func plain(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

func formatTalks(talks []chat.Talk, now time.Time) string {
	if len(talks) == 0 {
		return "No saved conversations.\n"
	}
	var b strings.Builder
	for i, t := range talks {
		fmt.Fprintf(&b, "%3d. %s (%s)\n", i+1, t.Name, humanize.RelTime(t.UpdatedAt, now, "ago", "from now"))
	}
	return b.String()
}
