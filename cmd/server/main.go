package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaycore/chat-server/internal/server"
	"github.com/relaycore/chat-server/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	fmt.Println("Starting chat relay server...")

	config := server.NewConfigFromEnv()
	server.SetConfig(config)

	// The process cannot do anything useful without its database.
	st, err := store.Open(config.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}()

	hub := server.StartHub(st)

	mux := server.SetupRoutes()
	httpServer := server.CreateServer(config.Port, mux)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.StartServer(httpServer)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalf("Server failed: %v", err)
	case sig := <-stop:
		log.Printf("Received signal %v, shutting down...", sig)
	}

	if err := server.ShutdownServer(httpServer, shutdownTimeout); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
	if err := hub.Shutdown(shutdownTimeout); err != nil {
		log.Printf("Hub shutdown error: %v", err)
	}
}
