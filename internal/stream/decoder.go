// Package stream decodes the server-sent-event framing used by the chat
// streaming endpoint: newline-delimited `data: <json>` lines terminated by a
// `data: [DONE]` sentinel.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"

	readBufSize = 4 * 1024
	maxLineSize = 2 * 1024 * 1024
)

var (
	// ErrIncomplete is returned when the stream ends before [DONE].
	ErrIncomplete = errors.New("stream ended before completion")
	// ErrLineTooLong is returned when a single frame exceeds the line limit.
	ErrLineTooLong = errors.New("stream frame exceeds maximum line size")
)

// Result is the finalized response of a completed stream.
type Result struct {
	Message        string
	ConversationID string
	Timestamp      time.Time
}

type frame struct {
	Content        *string `json:"content"`
	ConversationID string  `json:"conversationId"`
}

// Decoder incrementally decodes raw byte chunks. It keeps partial lines
// between calls to Feed, so frames may be split across reads arbitrarily.
type Decoder struct {
	pending []byte
	total   strings.Builder
	convID  string
	done    bool
}

// Feed consumes the next chunk of bytes in arrival order. emit is called for
// each decoded content chunk; if it returns an error decoding stops and that
// error is returned. Feed reports done once the [DONE] sentinel is seen;
// bytes after the sentinel are ignored.
func (d *Decoder) Feed(p []byte, emit func(string) error) (done bool, err error) {
	if d.done {
		return true, nil
	}
	d.pending = append(d.pending, p...)

	for {
		i := bytes.IndexByte(d.pending, '\n')
		if i < 0 {
			break
		}
		line := d.pending[:i]
		d.pending = d.pending[i+1:]

		if err := d.line(line, emit); err != nil {
			return false, err
		}
		if d.done {
			d.pending = nil
			return true, nil
		}
	}

	if len(d.pending) > maxLineSize {
		return false, ErrLineTooLong
	}
	return false, nil
}

// Flush decodes a trailing line that was not newline terminated.
func (d *Decoder) Flush(emit func(string) error) (done bool, err error) {
	if d.done {
		return true, nil
	}
	if len(d.pending) > 0 {
		line := d.pending
		d.pending = nil
		if err := d.line(line, emit); err != nil {
			return false, err
		}
	}
	return d.done, nil
}

// Total is the text accumulated so far.
func (d *Decoder) Total() string { return d.total.String() }

// ConversationID is the last conversationId carried by a frame, if any.
func (d *Decoder) ConversationID() string { return d.convID }

// Done reports whether the completion sentinel was seen.
func (d *Decoder) Done() bool { return d.done }

func (d *Decoder) line(raw []byte, emit func(string) error) error {
	line := strings.TrimSuffix(string(raw), "\r")
	if !strings.HasPrefix(line, dataPrefix) {
		return nil
	}
	data := line[len(dataPrefix):]
	if data == doneSentinel {
		d.done = true
		return nil
	}

	var f frame
	if err := json.Unmarshal([]byte(data), &f); err != nil {
		// garbled frames are skipped, not fatal
		return nil
	}
	if f.ConversationID != "" {
		d.convID = f.ConversationID
	}
	if f.Content == nil || *f.Content == "" {
		return nil
	}

	d.total.WriteString(*f.Content)
	if emit != nil {
		return emit(*f.Content)
	}
	return nil
}

// Decode reads r until the completion sentinel, calling onChunk for every
// decoded content chunk in arrival order. Reading stops early when ctx is
// canceled or onChunk returns an error. A read failure or EOF before the
// sentinel is a terminal error; the text decoded so far is still returned in
// the Result so callers can keep partial content.
func Decode(ctx context.Context, r io.Reader, onChunk func(string) error) (Result, error) {
	if r == nil {
		return Result{}, errors.New("response body is not readable")
	}

	var d Decoder
	buf := make([]byte, readBufSize)
	for {
		if err := ctx.Err(); err != nil {
			return d.result(time.Time{}), err
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			done, err := d.Feed(buf[:n], onChunk)
			if err != nil {
				return d.result(time.Time{}), err
			}
			if done {
				return d.result(time.Now()), nil
			}
		}

		if readErr == nil {
			continue
		}
		if errors.Is(readErr, io.EOF) {
			done, err := d.Flush(onChunk)
			if err != nil {
				return d.result(time.Time{}), err
			}
			if done {
				return d.result(time.Now()), nil
			}
			return d.result(time.Time{}), ErrIncomplete
		}
		return d.result(time.Time{}), fmt.Errorf("read stream: %w", readErr)
	}
}

func (d *Decoder) result(ts time.Time) Result {
	return Result{Message: d.Total(), ConversationID: d.convID, Timestamp: ts}
}
