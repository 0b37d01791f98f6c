package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/VINIA6/CHATAI/internal/chat"
	"github.com/VINIA6/CHATAI/internal/db"
	"github.com/VINIA6/CHATAI/internal/store/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type fakeAck struct {
	acks    int
	nacks   int
	requeue bool
}

func (f *fakeAck) Ack(uint64, bool) error { f.acks++; return nil }

func (f *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacks++
	f.requeue = requeue
	return nil
}

func (f *fakeAck) Reject(uint64, bool) error { return nil }

type fakeRetrier struct {
	calls int
}

func (f *fakeRetrier) Retry(context.Context, amqp.Delivery, time.Duration) error {
	f.calls++
	return nil
}

type failingStore struct{}

func (failingStore) InsertEventOnce(context.Context, *chat.Event) (bool, error) {
	return false, errors.New("database is locked")
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func delivery(t *testing.T, ack *fakeAck, body []byte, attempt int) amqp.Delivery {
	t.Helper()
	return amqp.Delivery{
		Acknowledger: ack,
		Body:         body,
		Headers:      amqp.Table{rabbitmq.AttemptHeader: int32(attempt)},
	}
}

func eventBody(t *testing.T, ev chat.Event) []byte {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return b
}

func TestArchiveIsIdempotent(t *testing.T) {
	gdb, err := db.Open(db.DriverSQLite, fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	repo := chat.NewRepo(gdb)
	a := &archiver{repo: repo, retry: &fakeRetrier{}, log: quietLogger()}

	ev := chat.NewEvent(chat.EventTalkCreated, "default", "t1", "hello")
	body := eventBody(t, ev)

	ack := &fakeAck{}
	a.handle(context.Background(), 0, delivery(t, ack, body, 0))
	a.handle(context.Background(), 0, delivery(t, ack, body, 0))
	require.Equal(t, 2, ack.acks)

	var count int64
	require.NoError(t, gdb.Model(&chat.Event{}).Where("id = ?", ev.ID).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestBadMessageIsDeadLettered(t *testing.T) {
	a := &archiver{repo: failingStore{}, retry: &fakeRetrier{}, log: quietLogger()}
	ack := &fakeAck{}

	a.handle(context.Background(), 0, delivery(t, ack, []byte("nope"), 0))
	require.Equal(t, 1, ack.nacks)
	require.False(t, ack.requeue)
}

func TestStoreFailureRetriesThenDeadLetters(t *testing.T) {
	r := &fakeRetrier{}
	a := &archiver{repo: failingStore{}, retry: r, log: quietLogger()}
	body := eventBody(t, chat.NewEvent(chat.EventMessageSent, "default", "t1", "x"))

	ack := &fakeAck{}
	a.handle(context.Background(), 0, delivery(t, ack, body, 0))
	require.Equal(t, 1, r.calls)
	require.Equal(t, 1, ack.acks)

	ack = &fakeAck{}
	a.handle(context.Background(), 0, delivery(t, ack, body, maxAttempts-1))
	require.Equal(t, 1, r.calls)
	require.Equal(t, 1, ack.nacks)
	require.False(t, ack.requeue)
}

func TestWorkerConcurrency(t *testing.T) {
	require.Equal(t, 2, workerConcurrency(0))
	require.Equal(t, 7, workerConcurrency(7))
	require.Equal(t, 50, workerConcurrency(500))
}
