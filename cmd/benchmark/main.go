// Package main benchmarks broqueue's enqueue and drain throughput.
// It enqueues a large number of dummy tasks and measures completion
// time.
//
// Usage:
//
//	go run ./cmd/benchmark -tasks 100000
package main

import (
	"context"
	"flag"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/broqueue/broqueue/pkg/app"
	"github.com/broqueue/broqueue/pkg/broker"
	"github.com/broqueue/broqueue/pkg/router"
)

func main() {
	numTasks := flag.Int("tasks", 100000, "Number of tasks to enqueue")
	numEnqueuers := flag.Int("workers", 10, "Number of concurrent enqueuers")
	redisAddr := flag.String("redis", "127.0.0.1:6379", "Redis address")
	flag.Parse()

	b, err := broker.NewRedisBroker(*redisAddr)
	if err != nil {
		fmt.Printf("failed to connect to broker: %v\n", err)
		return
	}
	a := app.New(b, router.New(nil, "default"))

	ctx := context.Background()

	fmt.Println("broqueue benchmark")
	fmt.Println("==================")
	fmt.Printf("Tasks to enqueue: %d\n", *numTasks)
	fmt.Printf("Concurrent enqueuers: %d\n\n", *numEnqueuers)

	fmt.Println("Starting enqueue phase...")
	startEnqueue := time.Now()

	var wg sync.WaitGroup
	var enqueued atomic.Int64
	tasksPerWorker := *numTasks / *numEnqueuers

	for i := 0; i < *numEnqueuers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := 0; j < tasksPerWorker; j++ {
				if _, err := a.SendTask("broqueue.bench", []interface{}{workerID, j}, nil, "default", nil); err != nil {
					fmt.Printf("error enqueuing: %v\n", err)
					return
				}
				enqueued.Add(1)
			}
		}(i)
	}
	wg.Wait()
	enqueueTime := time.Since(startEnqueue)

	fmt.Printf("Enqueued %d tasks in %s\n", enqueued.Load(), enqueueTime)
	fmt.Printf("  Throughput: %.2f tasks/sec\n\n", float64(enqueued.Load())/enqueueTime.Seconds())

	fmt.Println("Waiting for the default queue to drain...")
	startDrain := time.Now()
	for {
		depth, err := b.QueueDepth(ctx, "default")
		if err != nil {
			fmt.Printf("error reading queue depth: %v\n", err)
			return
		}
		if depth == 0 {
			break
		}
		time.Sleep(2 * time.Second)
		fmt.Printf("  Remaining: %d tasks\n", depth)
	}
	drainTime := time.Since(startDrain)

	fmt.Printf("\nDrained in %s\n", drainTime)
	total := enqueueTime + drainTime
	fmt.Printf("Total time: %s\n", total)
	fmt.Printf("Overall throughput: %.2f tasks/sec\n", float64(*numTasks)/total.Seconds())
}
