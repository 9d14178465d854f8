package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"farmchat/config"
	"farmchat/hub"
	"farmchat/server"
	"farmchat/storage"
)

func main() {
	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		log.Fatalf("startup failed while loading config: %v", err)
	}

	dataDir := filepath.Dir(cfgPath)
	fmt.Printf("Listen Address:  %s\n", cfg.ListenAddr)
	fmt.Printf("Config File:     %s\n", cfgPath)
	fmt.Printf("Data Directory:  %s\n", dataDir)

	store, dbPath, err := storage.Open(dataDir)
	if err != nil {
		log.Fatalf("startup failed while opening database: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("database close error: %v", err)
		}
	}()
	fmt.Printf("Database File:   %s\n", dbPath)

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Printf("redis close error: %v", err)
			}
		}()
		fmt.Printf("Presence Redis:  %s\n", cfg.RedisAddr)
	}

	presence := hub.NewPresence(rdb)
	defer presence.Close()
	go logPresenceEvents(presence.Events())

	h := hub.New(store, presence)
	go h.Run()
	defer h.Stop()

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.New(store, h, presence, cfg.AllowedOrigins).Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe: %v", err)
		}
	}()

	fmt.Println("Status:          running (press Ctrl+C to stop)")
	<-ctx.Done()
	fmt.Println("Status:          shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown failed: %v", err)
	}
}

func logPresenceEvents(events <-chan hub.Event) {
	for event := range events {
		switch event.Type {
		case hub.EventUserOnline:
			log.Printf("presence: user online id=%s", event.UserID)
		case hub.EventUserOffline:
			log.Printf("presence: user offline id=%s", event.UserID)
		default:
			log.Printf("presence: event=%s id=%s", event.Type, event.UserID)
		}
	}
}
