// Клиент синхронизации: держит сокеты уведомлений и чата, сторы и отдаёт их UI по локальному HTTP + /ws.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/classfeed/internal/config"
	"github.com/classfeed/internal/handler"
	"github.com/classfeed/internal/logger"
	"github.com/classfeed/internal/session"
	"github.com/classfeed/internal/startup"
	"github.com/classfeed/internal/ws"
)

func main() {
	logger.SetPrefix("client")
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	logFile := logger.SetFile(cfg.LogFile)
	defer logFile.Close()
	logger.Info("starting sync client")

	prefs, err := startup.OpenPrefStore(context.Background(), cfg.Prefs, 30*time.Second)
	if err != nil {
		logger.Errorf("prefs store: %v", err)
		os.Exit(1)
	}
	defer prefs.Close()

	var hub *ws.Hub
	sessions := session.NewManager(session.Options{
		Config: cfg,
		Prefs:  prefs,
		OnEvent: func(ev session.Event) {
			hub.Broadcast(ws.OutgoingMessage{Type: ev.Type, Payload: ev.Payload})
		},
	})
	hub = ws.NewHub(0, func() []ws.OutgoingMessage {
		evs := sessions.Replay()
		out := make([]ws.OutgoingMessage, 0, len(evs))
		for _, ev := range evs {
			out = append(out, ws.OutgoingMessage{Type: ev.Type, Payload: ev.Payload})
		}
		return out
	})

	hubCtx, hubCancel := context.WithCancel(context.Background())
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	if cfg.Username != "" {
		if _, err := sessions.Login(context.Background(), session.Credentials{Username: cfg.Username, Token: cfg.Token}); err != nil {
			logger.Errorf("auto login %s: %v", cfg.Username, err)
		}
	}

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      handler.NewRouter(cfg, sessions, hub),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	sessions.Close()
	logger.Info("sockets closed")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
}
