package main

import (
	"context"
	"time"

	"github.com/VINIA6/CHATAI/internal/chat"
	"github.com/VINIA6/CHATAI/internal/store/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const (
	maxAttempts = 3
	retryDelay  = 5 * time.Second
)

type eventStore interface {
	InsertEventOnce(ctx context.Context, ev *chat.Event) (bool, error)
}

type retrier interface {
	Retry(ctx context.Context, d amqp.Delivery, delay time.Duration) error
}

// archiver stores chat events. Redelivered events are written once.
type archiver struct {
	repo  eventStore
	retry retrier
	log   logrus.FieldLogger
}

func (a *archiver) handle(ctx context.Context, workerID int, d amqp.Delivery) {
	log := a.log.WithFields(logrus.Fields{"worker": workerID, "attempt": rabbitmq.Attempt(d)})

	ev, err := rabbitmq.DecodeEvent(d.Body)
	if err != nil {
		log.WithError(err).Warn("bad message")
		_ = d.Nack(false, false)
		return
	}
	log = log.WithFields(logrus.Fields{"event": ev.ID, "kind": ev.Kind, "talk_id": ev.TalkID})

	start := time.Now()
	written, err := a.repo.InsertEventOnce(ctx, &ev)
	if err != nil {
		a.fail(ctx, log, d, err)
		return
	}

	if err := d.Ack(false); err != nil {
		log.WithError(err).Warn("ack failed")
		return
	}
	if !written {
		log.Debug("duplicate event skipped")
		return
	}
	log.WithField("cost", time.Since(start).String()).Debug("event archived")
}

// fail parks the delivery in the retry queue, or dead-letters it once the
// attempts are used up.
func (a *archiver) fail(ctx context.Context, log logrus.FieldLogger, d amqp.Delivery, err error) {
	if rabbitmq.Attempt(d)+1 >= maxAttempts {
		log.WithError(err).Error("archive failed, dead-lettering")
		_ = d.Nack(false, false)
		return
	}
	if rerr := a.retry.Retry(ctx, d, retryDelay); rerr != nil {
		log.WithError(rerr).Error("schedule retry failed")
		_ = d.Nack(false, true)
		return
	}
	log.WithError(err).Warn("archive failed, retry scheduled")
	_ = d.Ack(false)
}
