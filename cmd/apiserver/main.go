// Package main implements the broqueue HTTP API server.
//
// API Endpoints:
//
//	POST /enqueue  - enqueues a task, returns its id
//	GET  /result   - blocks (bounded) for a task's result
//	GET  /stats    - current depth of every monitored queue
//	GET  /tasks    - inspect pending records on a queue
//
// Usage:
//
//	go run ./cmd/apiserver
//
// Listens on :8081 and connects to Redis at localhost:6379 unless
// overridden by BROQUEUE_REDIS_ADDR / BROQUEUE_HTTP_ADDR. Setting
// API_KEY requires the X-API-Key header on every request.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/broqueue/broqueue/pkg/app"
	"github.com/broqueue/broqueue/pkg/broker"
	"github.com/broqueue/broqueue/pkg/logger"
	"github.com/broqueue/broqueue/pkg/router"
	"github.com/broqueue/broqueue/pkg/types"
)

// authMiddleware wraps an http.HandlerFunc and enforces API key
// authentication, unless requiredKey is empty (dev mode).
func authMiddleware(next http.HandlerFunc, requiredKey string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if requiredKey == "" {
			next(w, r)
			return
		}
		if r.Header.Get("X-API-Key") != requiredKey {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// enableCORS wraps an http.HandlerFunc and adds permissive CORS
// headers, answering preflight requests directly.
func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

func setupRouter(a *app.Application, b *broker.RedisBroker, queues []string, apiKey string) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/enqueue", enableCORS(authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Task   string                 `json:"task"`
			Args   []interface{}          `json:"args"`
			Kwargs map[string]interface{} `json:"kwargs"`
			Queue  string                 `json:"queue"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, ok := a.Lookup(req.Task); !ok {
			http.Error(w, "unknown task", http.StatusNotFound)
			return
		}
		taskID, err := a.SendTask(req.Task, req.Args, req.Kwargs, req.Queue, nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"id": taskID})
	}, apiKey)))

	mux.HandleFunc("/result", enableCORS(authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		taskID := r.URL.Query().Get("id")
		if taskID == "" {
			http.Error(w, "Missing task ID", http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		value, err := a.GetResult(ctx, taskID, 10*time.Second, false)
		if err != nil {
			http.Error(w, err.Error(), http.StatusGatewayTimeout)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"id": taskID, "value": value})
	}, apiKey)))

	mux.HandleFunc("/stats", enableCORS(authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		depths := map[string]int64{}
		for _, q := range queues {
			n, err := b.QueueDepth(r.Context(), q)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			depths[q] = n
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(depths)
	}, apiKey)))

	mux.HandleFunc("/tasks", enableCORS(authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		queueName := r.URL.Query().Get("queue")
		if queueName == "" {
			http.Error(w, "Missing queue parameter", http.StatusBadRequest)
			return
		}
		recs, err := b.InspectQueue(r.Context(), types.QueueName(queueName), 50)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(recs)
	}, apiKey)))

	return mux
}

func main() {
	redisAddr := envOr("BROQUEUE_REDIS_ADDR", "127.0.0.1:6379")
	httpAddr := envOr("BROQUEUE_HTTP_ADDR", ":8081")
	apiKey := os.Getenv("API_KEY")

	b, err := broker.NewRedisBroker(redisAddr)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("failed to connect to broker")
	}
	a := app.New(b, router.New(nil, "default"))

	if apiKey == "" {
		logger.Log.Warn().Msg("API_KEY not set; authentication disabled")
	} else {
		logger.Log.Info().Msg("API authentication enabled")
	}

	mux := setupRouter(a, b, []string{"default"}, apiKey)

	logger.Log.Info().Str("addr", httpAddr).Msg("apiserver listening")
	if err := http.ListenAndServe(httpAddr, mux); err != nil {
		logger.Log.Fatal().Err(err).Msg("apiserver failed")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
