package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"emberchat/internal/auth"
	"emberchat/internal/config"
	"emberchat/internal/db"
	"emberchat/internal/middleware"
	"emberchat/internal/repository"
	"emberchat/internal/server"
	"emberchat/internal/tasks"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func serveWS(h *server.Hub, handler *server.CommandHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("Upgrade error: %v", err)
			return
		}

		client := &server.Client{
			Hub:     h,
			Conn:    conn,
			Send:    make(chan []byte, 256),
			Limiter: middleware.NewRatelimiter(5, 500*time.Millisecond),
		}

		go client.WritePump()
		go client.ReadPump(handler)
	}
}

func main() {
	cfg := config.LoadServer()

	pool, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer pool.Close()

	users := repository.NewUserRepo(pool)
	sessions := repository.NewSessionRepo(pool)
	rooms := repository.NewRoomRepo(pool)
	messages := repository.NewMessageRepo(pool)

	authService := server.NewAuthService(users, sessions, auth.NewTokenManager(cfg.AuthKey))

	hub := server.NewHub()
	go hub.Run()

	handler := server.NewCommandHandler(authService, users, rooms, messages, hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	credServer := server.NewCredentialServer(cfg.CredAddr, authService)
	go func() {
		if err := credServer.Start(ctx); err != nil {
			log.Fatalf("Credential service failed: %v", err)
		}
	}()

	tasks.NewSessionCleaner(sessions).Start()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", serveWS(hub, handler))

	httpServer := &http.Server{Addr: cfg.ChatAddr, Handler: mux}
	go func() {
		log.Printf("Chat service starting on %s...", cfg.ChatAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("Shutdown signal received. Cleaning up...")
	cancel()
	close(hub.Quit)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)

	log.Println("Graceful shutdown complete.")
}
