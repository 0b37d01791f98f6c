package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/VINIA6/CHATAI/internal/config"
	"github.com/VINIA6/CHATAI/internal/httpapi"
	"github.com/VINIA6/CHATAI/internal/httpapi/handlers"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		config.Logger.WithError(err).Fatal("load config")
	}
	log := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if log.IsLevelEnabled(logrus.DebugLevel) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	h, err := handlers.NewHandler(handlers.Options{
		Upstream: cfg.ProxyUpstream,
		Timeout:  cfg.ProxyTimeout,
		Logger:   log,
	})
	if err != nil {
		log.WithError(err).Fatal("proxy upstream")
	}

	srv := &http.Server{
		Addr:              cfg.ProxyListenAddr,
		Handler:           httpapi.NewRouter(h, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.WithFields(logrus.Fields{"addr": cfg.ProxyListenAddr, "upstream": cfg.ProxyUpstream}).Info("proxy listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("listen")
		}
	}()

	<-ctx.Done()
	log.Info("proxy shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown")
	}
}
