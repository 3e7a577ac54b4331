// Package main runs a standalone in-memory Redis-compatible server for
// local development, so cmd/worker and cmd/apiserver have something to
// talk to without a real Redis install.
//
// Usage:
//
//	go run ./cmd/devbroker
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/alicebob/miniredis/v2"
)

func main() {
	addr := "127.0.0.1:6379"
	if v := os.Getenv("BROQUEUE_REDIS_ADDR"); v != "" {
		addr = v
	}

	s := miniredis.NewMiniRedis()
	if err := s.StartAddr(addr); err != nil {
		log.Fatalf("failed to start devbroker: %v", err)
	}
	defer s.Close()

	log.Printf("devbroker listening on %s", s.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("devbroker shutting down")
}
