package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/VINIA6/CHATAI/internal/backend"
	"github.com/VINIA6/CHATAI/internal/stream"
	"github.com/sirupsen/logrus"
)

// Mode selects the backend endpoints used for a send.
type Mode string

const (
	// ModeTalk persists through /talk and /message.
	ModeTalk Mode = "talk"
	// ModeStream reads the reply from /chat/stream.
	ModeStream Mode = "stream"
	// ModeChat is a single-shot /chat call.
	ModeChat Mode = "chat"
)

// Backend is the subset of the backend API the engine drives.
type Backend interface {
	CreateTalk(ctx context.Context, message string) (*backend.CreateTalkResponse, error)
	AppendMessage(ctx context.Context, talkID, content string) ([]backend.WireMessage, error)
	MessagesByTalk(ctx context.Context, talkID string) ([]backend.WireMessage, error)
	ListTalks(ctx context.Context) ([]backend.WireTalk, error)
	RenameTalk(ctx context.Context, talkID, name string) (*backend.TalkDescriptor, error)
	DeleteTalk(ctx context.Context, talkID string) error
	Chat(ctx context.Context, req backend.ChatRequest) (*backend.ChatResponse, error)
	ChatStream(ctx context.Context, req backend.ChatRequest) (io.ReadCloser, error)
}

type Options struct {
	Mode             Mode
	MaxMessageLength int
	Profile          string

	// Repo caches the talk list locally. Optional.
	Repo *Repo
	// Events receives conversation events. Optional.
	Events EventSink
	Logger logrus.FieldLogger
}

// Service owns the displayed conversation and every network call that
// changes it. All methods are safe for concurrent use.
type Service struct {
	backend Backend
	mode    Mode
	maxLen  int
	profile string
	repo    *Repo
	events  EventSink
	log     logrus.FieldLogger
	now     func() time.Time

	// one list replacement at a time per talk
	locks *keyedMutex

	mu    sync.Mutex
	state State
	// gen changes whenever the displayed conversation is switched; work
	// started under an older gen must not touch state.
	gen   uint64
	busy  int
	talks []Talk

	notifyMu sync.Mutex
	subs     map[int]chan State
	nextSub  int
}

func NewService(b Backend, opts Options) *Service {
	mode := opts.Mode
	if mode == "" {
		mode = ModeTalk
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		backend: b,
		mode:    mode,
		maxLen:  opts.MaxMessageLength,
		profile: opts.Profile,
		repo:    opts.Repo,
		events:  opts.Events,
		log:     log.WithField("component", "chat"),
		now:     time.Now,
		locks:   newKeyedMutex(),
		state:   State{IsNewTalk: true},
		subs:    make(map[int]chan State),
	}
}

func (s *Service) Mode() Mode { return s.mode }

// Snapshot returns a copy of the current state.
func (s *Service) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Service) snapshotLocked() State {
	st := s.state.clone()
	st.Busy = s.busy > 0
	return st
}

// Subscribe delivers state after every change. Slow readers only see the
// latest state. cancel stops delivery and closes the channel.
func (s *Service) Subscribe() (updates <-chan State, cancel func()) {
	ch := make(chan State, 1)

	s.notifyMu.Lock()
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.snapshotLocked()
	s.mu.Unlock()
	s.notifyMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.notifyMu.Lock()
			defer s.notifyMu.Unlock()
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Service) notify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	st := s.snapshotLocked()
	chans := make([]chan State, 0, len(s.subs))
	for _, ch := range s.subs {
		chans = append(chans, ch)
	}
	s.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- st:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- st
		}
	}
}

// sendOp is one send in flight.
type sendOp struct {
	gen      uint64
	talkID   string
	isNew    bool
	typingID string
	text     string
}

// Send submits text to the active conversation. Blank text is ignored.
// Transport and stream failures are not returned: they end up in the
// message list as an error message. The returned error is only for input
// that was rejected or a ctx that ended while waiting for an earlier send.
func (s *Service) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if s.maxLen > 0 && utf8.RuneCountInString(text) > s.maxLen {
		return fmt.Errorf("%w: %d characters max", ErrMessageTooLong, s.maxLen)
	}

	op, unlock, err := s.begin(ctx, text)
	if err != nil {
		return err
	}
	defer unlock()

	switch s.mode {
	case ModeStream:
		s.sendStream(ctx, op)
	case ModeChat:
		s.sendChat(ctx, op)
	default:
		s.sendTalk(ctx, op)
	}
	return nil
}

func (s *Service) lockKeyLocked() string {
	if s.state.TalkID != "" {
		return "talk:" + s.state.TalkID
	}
	return "new:" + strconv.FormatUint(s.gen, 10)
}

// begin waits for the active conversation's lock, then applies the
// optimistic user message and typing placeholder.
func (s *Service) begin(ctx context.Context, text string) (*sendOp, func(), error) {
	for {
		s.mu.Lock()
		key := s.lockKeyLocked()
		s.mu.Unlock()

		unlock, err := s.locks.Lock(ctx, key)
		if err != nil {
			return nil, nil, err
		}

		s.mu.Lock()
		if s.lockKeyLocked() != key {
			// the conversation was bound or switched while we waited
			s.mu.Unlock()
			unlock()
			continue
		}
		now := s.now()
		op := &sendOp{
			gen:      s.gen,
			talkID:   s.state.TalkID,
			isNew:    s.state.IsNewTalk || s.state.TalkID == "",
			typingID: newMessageID(idTyping, now),
			text:     text,
		}
		s.state.Messages = append(s.state.Messages,
			Message{ID: newMessageID(idUser, now), Content: text, Type: TypeUser, Timestamp: now},
			Message{ID: op.typingID, Type: TypeBot, Timestamp: now, IsTyping: true},
		)
		s.busy++
		s.mu.Unlock()

		s.notify()
		return op, unlock, nil
	}
}

// finish ends op, applying fn only if op's conversation is still displayed.
func (s *Service) finish(op *sendOp, fn func()) bool {
	s.mu.Lock()
	s.busy--
	current := s.gen == op.gen
	if current {
		fn()
	}
	s.mu.Unlock()

	if !current {
		s.log.WithField("talk_id", op.talkID).Debug("discarding result of a send for a conversation no longer displayed")
	}
	s.notify()
	return current
}

func (s *Service) fail(ctx context.Context, op *sendOp, err error) {
	s.log.WithError(err).WithFields(logrus.Fields{
		"talk_id": op.talkID,
		"kind":    backend.KindOf(err),
	}).Warn("send failed")

	s.finish(op, func() { s.failLocked(err) })
	s.publish(ctx, EventSendFailed, op.talkID, err.Error())
}

// failLocked drops the typing placeholder and appends an error message.
func (s *Service) failLocked(err error) {
	now := s.now()
	msgs := make([]Message, 0, len(s.state.Messages)+1)
	for _, m := range s.state.Messages {
		if !m.IsTyping {
			msgs = append(msgs, m)
		}
	}
	s.state.Messages = append(msgs, Message{
		ID:        newMessageID(idBotError, now),
		Content:   ErrorContent(err),
		Type:      TypeBot,
		Timestamp: now,
		IsError:   true,
	})
}

// bindLocked attaches a freshly created conversation to the state.
func (s *Service) bindLocked(op *sendOp, talkID, name string) {
	if !op.isNew || talkID == "" {
		return
	}
	if name == "" {
		name = TalkName(op.text)
	}
	s.state.TalkID = talkID
	s.state.TalkName = name
	s.state.IsNewTalk = false
}

func (s *Service) updateLocked(id string, fn func(m *Message)) bool {
	for i := range s.state.Messages {
		if s.state.Messages[i].ID == id {
			fn(&s.state.Messages[i])
			return true
		}
	}
	return false
}

func (s *Service) sendTalk(ctx context.Context, op *sendOp) {
	var (
		wire []backend.WireMessage
		talk backend.TalkDescriptor
		err  error
	)
	if op.isNew {
		var res *backend.CreateTalkResponse
		res, err = s.backend.CreateTalk(ctx, op.text)
		if err == nil {
			wire, talk = res.Messages, res.Talk
			if talk.TalkID == "" {
				err = errors.New("backend created a talk without talk_id")
			}
		}
	} else {
		wire, err = s.backend.AppendMessage(ctx, op.talkID, op.text)
	}
	if err != nil {
		s.fail(ctx, op, err)
		return
	}

	msgs := convertAll(wire, s.log)
	s.finish(op, func() {
		s.state.Messages = msgs
		s.bindLocked(op, talk.TalkID, talk.Name)
	})

	if op.isNew {
		s.rememberTalk(ctx, talk, op.text)
		s.publish(ctx, EventTalkCreated, talk.TalkID, op.text)
		return
	}
	s.publish(ctx, EventMessageSent, op.talkID, op.text)
}

func (s *Service) sendChat(ctx context.Context, op *sendOp) {
	resp, err := s.backend.Chat(ctx, backend.ChatRequest{Message: op.text, ConversationID: op.talkID})
	if err != nil {
		s.fail(ctx, op, err)
		return
	}

	ts := s.now()
	if resp.Timestamp > 0 {
		ts = time.UnixMilli(resp.Timestamp)
	}
	reply := Message{ID: newMessageID(idBot, ts), Content: resp.Message, Type: TypeBot, Timestamp: ts}
	s.finish(op, func() {
		if !s.updateLocked(op.typingID, func(m *Message) { *m = reply }) {
			s.state.Messages = append(s.state.Messages, reply)
		}
		s.bindLocked(op, resp.ConversationID, "")
	})

	talkID := op.talkID
	if talkID == "" {
		talkID = resp.ConversationID
	}
	s.publish(ctx, EventMessageSent, talkID, op.text)
}

func (s *Service) sendStream(ctx context.Context, op *sendOp) {
	body, err := s.backend.ChatStream(ctx, backend.ChatRequest{Message: op.text, ConversationID: op.talkID})
	if err != nil {
		s.fail(ctx, op, err)
		return
	}
	defer body.Close()

	res, err := stream.Decode(ctx, body, func(chunk string) error {
		s.mu.Lock()
		if s.gen != op.gen {
			s.mu.Unlock()
			return errStale
		}
		s.updateLocked(op.typingID, func(m *Message) {
			m.Content += chunk
			m.IsTyping = false
		})
		s.mu.Unlock()
		s.notify()
		return nil
	})
	switch {
	case errors.Is(err, errStale):
		s.finish(op, func() {})
		return
	case err != nil:
		// streamed text stays; only a still-empty placeholder is dropped
		s.fail(ctx, op, err)
		return
	}

	s.finish(op, func() {
		s.updateLocked(op.typingID, func(m *Message) {
			m.ID = newMessageID(idBot, s.now())
			m.Content = res.Message
			m.IsTyping = false
			if !res.Timestamp.IsZero() {
				m.Timestamp = res.Timestamp
			}
		})
		s.bindLocked(op, res.ConversationID, "")
	})

	talkID := op.talkID
	if talkID == "" {
		talkID = res.ConversationID
	}
	s.publish(ctx, EventStreamCompleted, talkID, op.text)
}

// Regenerate removes the bot message at index and resends the user message
// right before it.
func (s *Service) Regenerate(ctx context.Context, index int) error {
	s.mu.Lock()
	msgs := s.state.Messages
	if index <= 0 || index >= len(msgs) || msgs[index].Type != TypeBot || msgs[index].IsTyping ||
		msgs[index-1].Type != TypeUser {
		s.mu.Unlock()
		return ErrCannotRegenerate
	}
	text := msgs[index-1].Content
	s.state.Messages = append(append([]Message(nil), msgs[:index]...), msgs[index+1:]...)
	s.mu.Unlock()
	s.notify()

	return s.Send(ctx, text)
}

// LastBotIndex returns the index of the last regenerable bot message, or -1.
func (s *Service) LastBotIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.state.Messages) - 1; i > 0; i-- {
		m := s.state.Messages[i]
		if m.Type == TypeBot && !m.IsTyping {
			if s.state.Messages[i-1].Type == TypeUser {
				return i
			}
			return -1
		}
	}
	return -1
}

// SelectTalk displays a saved conversation. Sends still in flight for the
// previously displayed conversation are discarded when they complete.
func (s *Service) SelectTalk(ctx context.Context, talkID string) error {
	talkID = strings.TrimSpace(talkID)
	if talkID == "" {
		return errors.New("talk id is required")
	}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.state = State{TalkID: talkID, TalkName: s.talkNameLocked(talkID), Loading: true}
	s.mu.Unlock()
	s.notify()

	unlock, err := s.locks.Lock(ctx, "talk:"+talkID)
	if err != nil {
		s.stopLoading(gen)
		return err
	}
	defer unlock()

	wire, err := s.backend.MessagesByTalk(ctx, talkID)
	var msgs []Message
	if err == nil {
		msgs = convertAll(wire, s.log)
	}

	s.mu.Lock()
	if s.gen != gen {
		// a later selection or new chat took over
		s.mu.Unlock()
		return nil
	}
	s.state.Loading = false
	if err == nil {
		s.state.Messages = msgs
	}
	s.mu.Unlock()
	s.notify()

	if err != nil {
		return fmt.Errorf("load talk %s: %w", talkID, err)
	}
	return nil
}

func (s *Service) stopLoading(gen uint64) {
	s.mu.Lock()
	if s.gen == gen {
		s.state.Loading = false
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Service) talkNameLocked(id string) string {
	for _, t := range s.talks {
		if t.ID == id {
			return t.Name
		}
	}
	return ""
}

// NewChat clears the displayed conversation without touching server state.
func (s *Service) NewChat() {
	s.mu.Lock()
	s.gen++
	s.state = State{IsNewTalk: true}
	s.mu.Unlock()
	s.notify()
}

// Reset forgets the conversation and the talk list, e.g. after logout.
func (s *Service) Reset() {
	s.mu.Lock()
	s.talks = nil
	s.mu.Unlock()
	s.NewChat()
}

// ListTalks fetches the caller's conversations, newest first, and refreshes
// the local cache.
func (s *Service) ListTalks(ctx context.Context) ([]Talk, error) {
	wire, err := s.backend.ListTalks(ctx)
	if err != nil {
		return nil, err
	}

	talks := make([]Talk, 0, len(wire))
	for _, w := range wire {
		if w.IsDeleted || w.ID.Hex == "" {
			continue
		}
		talks = append(talks, talkFromWire(w, s.profile))
	}
	sortTalks(talks)

	s.mu.Lock()
	s.talks = talks
	if s.state.TalkID != "" {
		if name := s.talkNameLocked(s.state.TalkID); name != "" {
			s.state.TalkName = name
		}
	}
	s.mu.Unlock()
	s.notify()

	if s.repo != nil {
		if err := s.repo.ReplaceTalks(ctx, s.profile, talks); err != nil {
			s.log.WithError(err).Warn("cache talk list")
		}
	}
	return append([]Talk(nil), talks...), nil
}

// Talks returns the list from the last ListTalks call.
func (s *Service) Talks() []Talk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Talk(nil), s.talks...)
}

// CachedTalks returns the locally cached talk list.
func (s *Service) CachedTalks(ctx context.Context) ([]Talk, error) {
	if s.repo == nil {
		return s.Talks(), nil
	}
	return s.repo.ListTalks(ctx, s.profile)
}

// RenameTalk renames a conversation. A blank name is ignored.
func (s *Service) RenameTalk(ctx context.Context, talkID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	td, err := s.backend.RenameTalk(ctx, talkID, name)
	if err != nil {
		return err
	}
	if td.Name != "" {
		name = td.Name
	}

	var cached *Talk
	s.mu.Lock()
	for i := range s.talks {
		if s.talks[i].ID == talkID {
			s.talks[i].Name = name
			s.talks[i].UpdatedAt = s.now()
			t := s.talks[i]
			cached = &t
		}
	}
	sortTalks(s.talks)
	if s.state.TalkID == talkID {
		s.state.TalkName = name
	}
	s.mu.Unlock()
	s.notify()

	if s.repo != nil && cached != nil {
		if err := s.repo.UpsertTalk(ctx, cached); err != nil {
			s.log.WithError(err).WithField("talk_id", talkID).Warn("cache renamed talk")
		}
	}
	return nil
}

// DeleteTalk deletes a conversation. Deleting the displayed one starts a new
// chat.
func (s *Service) DeleteTalk(ctx context.Context, talkID string) error {
	if err := s.backend.DeleteTalk(ctx, talkID); err != nil {
		return err
	}

	s.mu.Lock()
	kept := s.talks[:0]
	for _, t := range s.talks {
		if t.ID != talkID {
			kept = append(kept, t)
		}
	}
	s.talks = kept
	active := s.state.TalkID == talkID
	s.mu.Unlock()

	if active {
		s.NewChat()
	} else {
		s.notify()
	}

	if s.repo != nil {
		if err := s.repo.DeleteTalk(ctx, s.profile, talkID); err != nil {
			s.log.WithError(err).WithField("talk_id", talkID).Warn("remove talk from cache")
		}
	}
	s.publish(ctx, EventTalkDeleted, talkID, "")
	return nil
}

func (s *Service) rememberTalk(ctx context.Context, td backend.TalkDescriptor, firstMessage string) {
	now := s.now()
	t := Talk{Profile: s.profile, ID: td.TalkID, Name: td.Name, CreatedAt: now, UpdatedAt: now}
	if t.Name == "" {
		t.Name = TalkName(firstMessage)
	}
	if ts, err := backend.ParseTime(td.CreatedAt); err == nil && !ts.IsZero() {
		t.CreatedAt = ts
	}

	s.mu.Lock()
	talks := make([]Talk, 0, len(s.talks)+1)
	talks = append(talks, t)
	for _, old := range s.talks {
		if old.ID != t.ID {
			talks = append(talks, old)
		}
	}
	s.talks = talks
	s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.UpsertTalk(ctx, &t); err != nil {
			s.log.WithError(err).WithField("talk_id", t.ID).Warn("cache created talk")
		}
	}
}

func (s *Service) publish(ctx context.Context, kind EventKind, talkID, content string) {
	if s.events == nil {
		return
	}
	ev := NewEvent(kind, s.profile, talkID, content)
	if err := s.events.Publish(context.WithoutCancel(ctx), ev); err != nil {
		s.log.WithError(err).WithField("event", kind).Warn("publish chat event")
	}
}

type exportedMessage struct {
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	Timestamp string      `json:"timestamp"`
}

const exportTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Export writes the displayed conversation as indented JSON. Error and
// typing messages are left out.
func (s *Service) Export(w io.Writer) error {
	st := s.Snapshot()
	out := make([]exportedMessage, 0, len(st.Messages))
	for _, m := range st.Messages {
		if m.IsError || m.IsTyping {
			continue
		}
		out = append(out, exportedMessage{
			Type:      m.Type,
			Content:   m.Content,
			Timestamp: m.Timestamp.UTC().Format(exportTimeLayout),
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
