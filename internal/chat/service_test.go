package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/VINIA6/CHATAI/internal/backend"
	gormsqlite "github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeBackend struct {
	mu          sync.Mutex
	createCalls int
	appendCalls []string

	createFn   func(ctx context.Context, msg string) (*backend.CreateTalkResponse, error)
	appendFn   func(ctx context.Context, talkID, content string) ([]backend.WireMessage, error)
	messagesFn func(ctx context.Context, talkID string) ([]backend.WireMessage, error)
	chatFn     func(ctx context.Context, req backend.ChatRequest) (*backend.ChatResponse, error)
	streamFn   func(ctx context.Context, req backend.ChatRequest) (io.ReadCloser, error)

	talks   []backend.WireTalk
	deleted []string
}

func (f *fakeBackend) CreateTalk(ctx context.Context, msg string) (*backend.CreateTalkResponse, error) {
	f.mu.Lock()
	f.createCalls++
	fn := f.createFn
	f.mu.Unlock()
	if fn == nil {
		return &backend.CreateTalkResponse{
			Talk:     backend.TalkDescriptor{TalkID: "t-new"},
			Messages: []backend.WireMessage{wire("m1", "user", msg), wire("m2", "bot", "reply to "+msg)},
		}, nil
	}
	return fn(ctx, msg)
}

func (f *fakeBackend) AppendMessage(ctx context.Context, talkID, content string) ([]backend.WireMessage, error) {
	f.mu.Lock()
	f.appendCalls = append(f.appendCalls, talkID)
	fn := f.appendFn
	f.mu.Unlock()
	if fn == nil {
		return []backend.WireMessage{wire("a1", "user", content), wire("a2", "bot", "ok")}, nil
	}
	return fn(ctx, talkID, content)
}

func (f *fakeBackend) MessagesByTalk(ctx context.Context, talkID string) ([]backend.WireMessage, error) {
	if f.messagesFn == nil {
		return nil, nil
	}
	return f.messagesFn(ctx, talkID)
}

func (f *fakeBackend) ListTalks(context.Context) ([]backend.WireTalk, error) {
	return f.talks, nil
}

func (f *fakeBackend) RenameTalk(_ context.Context, talkID, name string) (*backend.TalkDescriptor, error) {
	return &backend.TalkDescriptor{TalkID: talkID, Name: name}, nil
}

func (f *fakeBackend) DeleteTalk(_ context.Context, talkID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, talkID)
	return nil
}

func (f *fakeBackend) Chat(ctx context.Context, req backend.ChatRequest) (*backend.ChatResponse, error) {
	return f.chatFn(ctx, req)
}

func (f *fakeBackend) ChatStream(ctx context.Context, req backend.ChatRequest) (io.ReadCloser, error) {
	return f.streamFn(ctx, req)
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func wire(id, typ, content string) backend.WireMessage {
	return backend.WireMessage{
		ID:        backend.OID{Hex: id},
		Type:      typ,
		Content:   content,
		CreatedAt: backend.Date{Time: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)},
	}
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestService(b Backend, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	return NewService(b, opts)
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Talk{}, &Event{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func typingCount(st State) int {
	n := 0
	for _, m := range st.Messages {
		if m.IsTyping {
			n++
		}
	}
	return n
}

func TestSendBlankIsNoop(t *testing.T) {
	fb := &fakeBackend{}
	svc := newTestService(fb, Options{})

	require.NoError(t, svc.Send(context.Background(), "   \n\t"))
	require.Empty(t, svc.Snapshot().Messages)
	require.Zero(t, fb.createCalls)
}

func TestSendTooLongIsRejected(t *testing.T) {
	fb := &fakeBackend{}
	svc := newTestService(fb, Options{MaxMessageLength: 5})

	err := svc.Send(context.Background(), "abcdef")
	require.ErrorIs(t, err, ErrMessageTooLong)
	require.Empty(t, svc.Snapshot().Messages)
}

func TestSendNewTalkReplacesList(t *testing.T) {
	var during State
	fb := &fakeBackend{}
	svc := newTestService(fb, Options{})
	fb.createFn = func(_ context.Context, msg string) (*backend.CreateTalkResponse, error) {
		during = svc.Snapshot()
		return &backend.CreateTalkResponse{
			Talk:     backend.TalkDescriptor{TalkID: "t-1"},
			Messages: []backend.WireMessage{wire("m1", "user", msg), wire("m2", "bot", "Hi there")},
		}, nil
	}

	require.NoError(t, svc.Send(context.Background(), "  Hello  "))

	// optimistic state seen by the backend call
	require.Len(t, during.Messages, 2)
	require.Equal(t, TypeUser, during.Messages[0].Type)
	require.Equal(t, "Hello", during.Messages[0].Content)
	require.True(t, during.Messages[1].IsTyping)
	require.Equal(t, TypeBot, during.Messages[1].Type)
	require.True(t, during.Busy)

	st := svc.Snapshot()
	require.Equal(t, "t-1", st.TalkID)
	require.False(t, st.IsNewTalk)
	require.Equal(t, "Hello", st.TalkName)
	require.False(t, st.Busy)
	require.Zero(t, typingCount(st))
	require.Equal(t, []Message{
		{ID: "m1", Content: "Hello", Type: TypeUser, Timestamp: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)},
		{ID: "m2", Content: "Hi there", Type: TypeBot, Timestamp: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)},
	}, st.Messages)
	require.Equal(t, "t-1", svc.Talks()[0].ID)
}

func TestSendExistingTalkAppends(t *testing.T) {
	fb := &fakeBackend{}
	svc := newTestService(fb, Options{})
	ctx := context.Background()

	require.NoError(t, svc.Send(ctx, "first"))
	require.NoError(t, svc.Send(ctx, "second"))

	require.Equal(t, 1, fb.createCalls)
	require.Equal(t, []string{"t-new"}, fb.appendCalls)
	st := svc.Snapshot()
	require.Equal(t, "t-new", st.TalkID)
	require.Equal(t, "second", st.Messages[0].Content)
}

func TestSendFailureBecomesErrorMessage(t *testing.T) {
	sink := &recordingSink{}
	fb := &fakeBackend{}
	fb.createFn = func(context.Context, string) (*backend.CreateTalkResponse, error) {
		return nil, &backend.Error{Kind: backend.KindTimeout, Message: "The server took too long to respond."}
	}
	svc := newTestService(fb, Options{Events: sink})

	require.NoError(t, svc.Send(context.Background(), "Hello"))

	st := svc.Snapshot()
	require.Len(t, st.Messages, 2)
	require.Zero(t, typingCount(st))
	require.Equal(t, TypeUser, st.Messages[0].Type)
	errMsg := st.Messages[1]
	require.True(t, errMsg.IsError)
	require.Equal(t, TypeBot, errMsg.Type)
	require.Contains(t, errMsg.Content, "took longer than expected")
	require.True(t, strings.HasPrefix(errMsg.ID, "bot_error_"))

	require.Empty(t, st.TalkID)
	require.True(t, st.IsNewTalk)
	require.Equal(t, []EventKind{EventSendFailed}, sink.kinds())
}

func TestSendFailureOnExistingTalkKeepsHistory(t *testing.T) {
	fb := &fakeBackend{}
	svc := newTestService(fb, Options{})
	ctx := context.Background()
	require.NoError(t, svc.Send(ctx, "first"))

	fb.appendFn = func(context.Context, string, string) ([]backend.WireMessage, error) {
		return nil, &backend.Error{Kind: backend.KindServer, Status: 500, Message: "An error occurred: db down"}
	}
	require.NoError(t, svc.Send(ctx, "second"))

	st := svc.Snapshot()
	require.Len(t, st.Messages, 4)
	require.Equal(t, "second", st.Messages[2].Content)
	require.True(t, st.Messages[3].IsError)
	require.Contains(t, st.Messages[3].Content, "db down")
	require.Equal(t, "t-new", st.TalkID)
}

func TestSelectionWinsOverInFlightSend(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	fb := &fakeBackend{}
	fb.messagesFn = func(_ context.Context, talkID string) ([]backend.WireMessage, error) {
		return []backend.WireMessage{wire(talkID+"-1", "user", "from "+talkID)}, nil
	}
	fb.appendFn = func(_ context.Context, talkID, _ string) ([]backend.WireMessage, error) {
		close(started)
		<-release
		return []backend.WireMessage{wire("late", "bot", "late reply for "+talkID)}, nil
	}
	svc := newTestService(fb, Options{})
	ctx := context.Background()

	require.NoError(t, svc.SelectTalk(ctx, "B"))

	done := make(chan error, 1)
	go func() { done <- svc.Send(ctx, "question on B") }()
	<-started

	require.NoError(t, svc.SelectTalk(ctx, "A"))
	close(release)
	require.NoError(t, <-done)

	st := svc.Snapshot()
	require.Equal(t, "A", st.TalkID)
	require.False(t, st.IsNewTalk)
	require.False(t, st.Busy)
	require.Equal(t, []Message{{
		ID: "A-1", Content: "from A", Type: TypeUser,
		Timestamp: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}}, st.Messages)
}

func TestNewChatDiscardsInFlightCreate(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	fb := &fakeBackend{}
	fb.createFn = func(context.Context, string) (*backend.CreateTalkResponse, error) {
		close(started)
		<-release
		return &backend.CreateTalkResponse{Talk: backend.TalkDescriptor{TalkID: "t-late"}}, nil
	}
	svc := newTestService(fb, Options{})

	done := make(chan error, 1)
	go func() { done <- svc.Send(context.Background(), "hello") }()
	<-started
	svc.NewChat()
	close(release)
	require.NoError(t, <-done)

	st := svc.Snapshot()
	require.Empty(t, st.Messages)
	require.Empty(t, st.TalkID)
	require.True(t, st.IsNewTalk)
	// the talk still exists server side
	require.Equal(t, "t-late", svc.Talks()[0].ID)
}

func TestConcurrentSendsAreSerialized(t *testing.T) {
	fb := &fakeBackend{}
	svc := newTestService(fb, Options{})

	errs := make(chan error, 2)
	for _, text := range []string{"one", "two"} {
		go func(text string) { errs <- svc.Send(context.Background(), text) }(text)
	}
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	require.Equal(t, 1, fb.createCalls)
	require.Equal(t, []string{"t-new"}, fb.appendCalls)
	require.Zero(t, typingCount(svc.Snapshot()))
}

func TestSendWaitCanBeCanceled(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	fb := &fakeBackend{}
	fb.createFn = func(context.Context, string) (*backend.CreateTalkResponse, error) {
		close(started)
		<-release
		return &backend.CreateTalkResponse{Talk: backend.TalkDescriptor{TalkID: "t"}}, nil
	}
	svc := newTestService(fb, Options{})

	go func() { _ = svc.Send(context.Background(), "first") }()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := svc.Send(ctx, "second")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestStreamAppliesChunksInOrder(t *testing.T) {
	pr, pw := io.Pipe()
	var gotReq backend.ChatRequest
	fb := &fakeBackend{}
	fb.streamFn = func(_ context.Context, req backend.ChatRequest) (io.ReadCloser, error) {
		gotReq = req
		return pr, nil
	}
	sink := &recordingSink{}
	svc := newTestService(fb, Options{Mode: ModeStream, Events: sink})

	done := make(chan error, 1)
	go func() { done <- svc.Send(context.Background(), "Say hello") }()

	_, err := pw.Write([]byte("data: {\"content\":\"Hel\",\"conversationId\":\"c-1\"}\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		st := svc.Snapshot()
		if len(st.Messages) != 2 {
			return false
		}
		bot := st.Messages[1]
		return bot.Content == "Hel" && !bot.IsTyping
	}, time.Second, 5*time.Millisecond)

	_, err = pw.Write([]byte("data: not-json\ndata: {\"content\":\"lo\"}\ndata: [DONE]\n"))
	require.NoError(t, err)
	require.NoError(t, <-done)
	_ = pw.Close()

	st := svc.Snapshot()
	require.Len(t, st.Messages, 2)
	require.Equal(t, "Hello", st.Messages[1].Content)
	require.False(t, st.Messages[1].IsTyping)
	require.False(t, st.Messages[1].IsError)
	require.Equal(t, "c-1", st.TalkID)
	require.Equal(t, "Say hello", st.TalkName)
	require.Equal(t, "Say hello", gotReq.Message)
	require.Empty(t, gotReq.ConversationID)
	require.Equal(t, []EventKind{EventStreamCompleted}, sink.kinds())
}

func TestStreamErrorKeepsPartialContent(t *testing.T) {
	fb := &fakeBackend{}
	fb.streamFn = func(context.Context, backend.ChatRequest) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader("data: {\"content\":\"par\"}\n")), nil
	}
	svc := newTestService(fb, Options{Mode: ModeStream})

	require.NoError(t, svc.Send(context.Background(), "q"))

	st := svc.Snapshot()
	require.Len(t, st.Messages, 3)
	require.Equal(t, "par", st.Messages[1].Content)
	require.False(t, st.Messages[1].IsError)
	require.True(t, st.Messages[2].IsError)
	require.Zero(t, typingCount(st))
}

func TestStreamOpenFailureRemovesPlaceholder(t *testing.T) {
	fb := &fakeBackend{}
	fb.streamFn = func(context.Context, backend.ChatRequest) (io.ReadCloser, error) {
		return nil, &backend.Error{Kind: backend.KindRefused, Message: "Server unavailable."}
	}
	svc := newTestService(fb, Options{Mode: ModeStream})

	require.NoError(t, svc.Send(context.Background(), "q"))

	st := svc.Snapshot()
	require.Len(t, st.Messages, 2)
	require.True(t, st.Messages[1].IsError)
	require.Contains(t, st.Messages[1].Content, "Could not connect")
}

func TestStreamStopsAfterConversationSwitch(t *testing.T) {
	pr, pw := io.Pipe()
	fb := &fakeBackend{}
	fb.streamFn = func(context.Context, backend.ChatRequest) (io.ReadCloser, error) {
		return pr, nil
	}
	svc := newTestService(fb, Options{Mode: ModeStream})

	done := make(chan error, 1)
	go func() { done <- svc.Send(context.Background(), "long answer please") }()

	_, err := pw.Write([]byte("data: {\"content\":\"a\"}\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		st := svc.Snapshot()
		return len(st.Messages) == 2 && st.Messages[1].Content == "a"
	}, time.Second, 5*time.Millisecond)

	svc.NewChat()
	go func() { _, _ = pw.Write([]byte("data: {\"content\":\"b\"}\n")) }()
	require.NoError(t, <-done)

	st := svc.Snapshot()
	require.Empty(t, st.Messages)
	require.False(t, st.Busy)
}

func TestChatModeReplacesPlaceholder(t *testing.T) {
	fb := &fakeBackend{}
	fb.chatFn = func(_ context.Context, req backend.ChatRequest) (*backend.ChatResponse, error) {
		return &backend.ChatResponse{Message: "pong", ConversationID: "conv-1", Timestamp: 1735787046000}, nil
	}
	svc := newTestService(fb, Options{Mode: ModeChat})

	require.NoError(t, svc.Send(context.Background(), "ping"))

	st := svc.Snapshot()
	require.Len(t, st.Messages, 2)
	bot := st.Messages[1]
	require.Equal(t, "pong", bot.Content)
	require.False(t, bot.IsTyping)
	require.True(t, strings.HasPrefix(bot.ID, "bot_"))
	require.Equal(t, int64(1735787046000), bot.Timestamp.UnixMilli())
	require.Equal(t, "conv-1", st.TalkID)
}

func TestRegenerate(t *testing.T) {
	fb := &fakeBackend{}
	svc := newTestService(fb, Options{})
	ctx := context.Background()
	require.NoError(t, svc.Send(ctx, "explain"))

	idx := svc.LastBotIndex()
	require.Equal(t, 1, idx)
	require.NoError(t, svc.Regenerate(ctx, idx))
	require.Equal(t, []string{"t-new"}, fb.appendCalls)

	require.ErrorIs(t, svc.Regenerate(ctx, 0), ErrCannotRegenerate)
	require.ErrorIs(t, svc.Regenerate(ctx, 42), ErrCannotRegenerate)
}

func TestListTalksSortsFiltersAndCaches(t *testing.T) {
	day := func(d int) backend.Date { return backend.Date{Time: time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC)} }
	fb := &fakeBackend{talks: []backend.WireTalk{
		{ID: backend.OID{Hex: "old"}, Name: "Old", UpdatedAt: day(1)},
		{ID: backend.OID{Hex: "gone"}, Name: "Gone", UpdatedAt: day(9), IsDeleted: true},
		{ID: backend.OID{Hex: "new"}, Name: "New", UpdatedAt: day(5)},
	}}
	repo := NewRepo(openTestDB(t))
	svc := newTestService(fb, Options{Repo: repo, Profile: "p1"})
	ctx := context.Background()

	talks, err := svc.ListTalks(ctx)
	require.NoError(t, err)
	require.Len(t, talks, 2)
	require.Equal(t, "new", talks[0].ID)
	require.Equal(t, "old", talks[1].ID)

	cached, err := svc.CachedTalks(ctx)
	require.NoError(t, err)
	require.Len(t, cached, 2)
	require.Equal(t, "new", cached[0].ID)
	require.Equal(t, "p1", cached[0].Profile)

	// last write wins
	fb.talks = fb.talks[:1]
	_, err = svc.ListTalks(ctx)
	require.NoError(t, err)
	cached, err = svc.CachedTalks(ctx)
	require.NoError(t, err)
	require.Len(t, cached, 1)
}

func TestRenameTalk(t *testing.T) {
	fb := &fakeBackend{talks: []backend.WireTalk{{ID: backend.OID{Hex: "t1"}, Name: "Before"}}}
	svc := newTestService(fb, Options{})
	ctx := context.Background()
	_, err := svc.ListTalks(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.SelectTalk(ctx, "t1"))
	require.Equal(t, "Before", svc.Snapshot().TalkName)

	require.NoError(t, svc.RenameTalk(ctx, "t1", "   "))
	require.Equal(t, "Before", svc.Snapshot().TalkName)

	require.NoError(t, svc.RenameTalk(ctx, "t1", "After"))
	require.Equal(t, "After", svc.Snapshot().TalkName)
	require.Equal(t, "After", svc.Talks()[0].Name)
}

func TestDeleteActiveTalkStartsNewChat(t *testing.T) {
	sink := &recordingSink{}
	fb := &fakeBackend{talks: []backend.WireTalk{
		{ID: backend.OID{Hex: "t1"}, Name: "One"},
		{ID: backend.OID{Hex: "t2"}, Name: "Two"},
	}}
	fb.messagesFn = func(context.Context, string) ([]backend.WireMessage, error) {
		return []backend.WireMessage{wire("x", "user", "hi")}, nil
	}
	svc := newTestService(fb, Options{Events: sink})
	ctx := context.Background()
	_, err := svc.ListTalks(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.SelectTalk(ctx, "t1"))

	require.NoError(t, svc.DeleteTalk(ctx, "t2"))
	require.Equal(t, "t1", svc.Snapshot().TalkID)

	require.NoError(t, svc.DeleteTalk(ctx, "t1"))
	st := svc.Snapshot()
	require.Empty(t, st.TalkID)
	require.True(t, st.IsNewTalk)
	require.Empty(t, st.Messages)
	require.Empty(t, svc.Talks())
	require.Equal(t, []string{"t2", "t1"}, fb.deleted)
	require.Equal(t, []EventKind{EventTalkDeleted, EventTalkDeleted}, sink.kinds())
}

func TestSelectTalkFailure(t *testing.T) {
	fb := &fakeBackend{}
	fb.messagesFn = func(context.Context, string) ([]backend.WireMessage, error) {
		return nil, &backend.Error{Kind: backend.KindNetwork, Message: "Network error"}
	}
	svc := newTestService(fb, Options{})

	err := svc.SelectTalk(context.Background(), "t1")
	require.Error(t, err)
	st := svc.Snapshot()
	require.Equal(t, "t1", st.TalkID)
	require.False(t, st.Loading)
	require.Empty(t, st.Messages)
}

func TestExportSkipsErrorAndTypingMessages(t *testing.T) {
	fb := &fakeBackend{}
	svc := newTestService(fb, Options{})
	ctx := context.Background()
	require.NoError(t, svc.Send(ctx, "first"))
	fb.appendFn = func(context.Context, string, string) ([]backend.WireMessage, error) {
		return nil, errors.New("boom")
	}
	require.NoError(t, svc.Send(ctx, "second"))

	var buf bytes.Buffer
	require.NoError(t, svc.Export(&buf))

	var out []map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out, 3)
	require.Equal(t, "user", out[0]["type"])
	require.Equal(t, "first", out[0]["content"])
	require.Equal(t, "2025-03-01T10:00:00.000Z", out[0]["timestamp"])
	require.Equal(t, "second", out[2]["content"])
}

func TestSubscribeDeliversLatestState(t *testing.T) {
	svc := newTestService(&fakeBackend{}, Options{})
	updates, cancel := svc.Subscribe()
	defer cancel()

	first := <-updates
	require.True(t, first.IsNewTalk)

	require.NoError(t, svc.Send(context.Background(), "hello"))

	var last State
	require.Eventually(t, func() bool {
		select {
		case last = <-updates:
		default:
		}
		return last.TalkID == "t-new" && !last.Busy
	}, time.Second, 5*time.Millisecond)

	cancel()
	for range updates {
	}
}

func TestFromWireIsDeterministic(t *testing.T) {
	w := wire("abc", "bot", "same")
	require.Equal(t, FromWire(w), FromWire(w))
}

func TestConvertAllSkipsInvalidRecords(t *testing.T) {
	deleted := wire("d", "user", "x")
	deleted.IsDeleted = true
	msgs := convertAll([]backend.WireMessage{
		wire("ok", "user", "a"),
		{Type: "bot", Content: "no id"},
		wire("sys", "system", "b"),
		deleted,
	}, quietLogger())
	require.Len(t, msgs, 1)
	require.Equal(t, "ok", msgs[0].ID)
}

func TestTalkName(t *testing.T) {
	require.Equal(t, "New chat", TalkName("  "))
	require.Equal(t, "short question", TalkName(" short\n question "))

	long := strings.Repeat("á", 60)
	name := TalkName(long)
	require.Equal(t, 50, len([]rune(name)))
	require.True(t, strings.HasSuffix(name, "..."))
}

func TestErrorContent(t *testing.T) {
	require.Contains(t, ErrorContent(context.DeadlineExceeded), "took longer")
	require.Contains(t, ErrorContent(errors.New("Timeout ao conectar com n8n")), "took longer")
	require.Contains(t, ErrorContent(&backend.Error{Kind: backend.KindRefused, Message: "x"}), "Could not connect")
	require.Contains(t, ErrorContent(&backend.Error{Kind: backend.KindServer, Message: "Internal server error."}),
		"**Details:**\nInternal server error.")
}

func TestRepoInsertEventOnce(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()
	ev := NewEvent(EventMessageSent, "p", "t1", "hi")

	written, err := repo.InsertEventOnce(ctx, &ev)
	require.NoError(t, err)
	require.True(t, written)

	dup := ev
	written, err = repo.InsertEventOnce(ctx, &dup)
	require.NoError(t, err)
	require.False(t, written)

	got, err := repo.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	require.Equal(t, EventMessageSent, got.Kind)
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	unlock, err := k.Lock(context.Background(), "a")
	require.NoError(t, err)

	other, err := k.Lock(context.Background(), "b")
	require.NoError(t, err)
	other()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, "a")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	again, err := k.Lock(context.Background(), "a")
	require.NoError(t, err)
	again()
	require.Empty(t, k.locks)
}
