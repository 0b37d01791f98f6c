package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/VINIA6/CHATAI/internal/chat"
	"github.com/VINIA6/CHATAI/internal/config"
	"github.com/VINIA6/CHATAI/internal/db"
	"github.com/VINIA6/CHATAI/internal/store/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

func workerConcurrency(n int) int {
	if n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func dbDriver(store string) string {
	if store == config.StoreMySQL {
		return db.DriverMySQL
	}
	return db.DriverSQLite
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		config.Logger.WithError(err).Fatal("load config")
	}
	log := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if cfg.RabbitURL == "" {
		log.Fatal("CHATAI_RABBIT_URL is required for the worker")
	}

	gdb, err := db.Open(dbDriver(cfg.Store), cfg.DBDSN)
	if err != nil {
		log.WithError(err).Fatal("open database")
	}
	repo := chat.NewRepo(gdb)

	retrier, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.WithError(err).Fatal("rabbit publisher")
	}
	defer retrier.Close()

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.WithError(err).Fatal("rabbit dial")
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.WithError(err).Fatal("rabbit channel")
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.WithError(err).Fatal("queue declare")
	}

	//  strict concurrency control
	concurrency := workerConcurrency(cfg.WorkerConcurrency)

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.WithError(err).Fatal("qos")
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.WithError(err).Fatal("consume")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(logrus.Fields{"queue": cfg.RabbitQueue, "concurrency": concurrency}).Info("worker started")

	a := &archiver{repo: repo, retry: retrier, log: log}

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				a.handle(ctx, workerID, d)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Error("delivery channel closed")
				close(jobs)
				wg.Wait()
				return
			}
			jobs <- d
		}
	}
}
