// Package broker implements the exact queue/result key naming, payload
// framing, and blocking-pop semantics required for worker and client
// sides to interoperate through a shared Redis-compatible message store.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/broqueue/broqueue/pkg/errs"
	"github.com/broqueue/broqueue/pkg/types"
	"github.com/redis/go-redis/v9"
)

// queuePrefix and resultPrefix keep queues and result slots in disjoint
// key namespaces.
const (
	queuePrefix  = "queue."
	resultPrefix = "result."
)

// Broker is the interoperability contract between the client and worker
// sides of the queue. Every operation fails with a single kind,
// *errs.BrokerError, wrapping any underlying connection failure.
type Broker interface {
	// PutTaskReq appends the record to the tail of the named queue.
	PutTaskReq(ctx context.Context, queue types.QueueName, rec types.TaskRecord) error

	// GetTaskReq blocks popping from the head of the first non-empty
	// list among the given queues, scanned in order, so each queue is
	// consumed in FIFO order. timeout == 0 means
	// block indefinitely; a positive timeout returns (nil, nil) on
	// expiry rather than an error.
	GetTaskReq(ctx context.Context, queues []types.QueueName, timeout time.Duration) (*types.TaskRecord, error)

	// PutResult writes a result slot exactly once and sets its TTL.
	PutResult(ctx context.Context, taskID types.TaskID, value interface{}, taskErr error) error

	// GetResult blocks popping the named result slot with the same
	// timeout semantics as GetTaskReq.
	GetResult(ctx context.Context, taskID types.TaskID, timeout time.Duration) (*types.ResultRecord, error)
}

// RedisBroker is the reference Broker backed by a single Redis node (or
// anything speaking its RESP protocol, including miniredis).
type RedisBroker struct {
	rdb           redis.UniversalClient
	resultExpires time.Duration
	codec         *codec
}

// Option configures a RedisBroker at construction time.
type Option func(*redisBrokerConfig)

type redisBrokerConfig struct {
	resultExpires time.Duration
	gzipMinLength int
}

// WithResultExpires sets the TTL applied to every published result slot.
// Must be > 0.
func WithResultExpires(d time.Duration) Option {
	return func(c *redisBrokerConfig) { c.resultExpires = d }
}

// WithGzipMinLength enables payload compression once the serialized size
// reaches this many bytes. Must be >= 0; 0 disables compression.
func WithGzipMinLength(n int) Option {
	return func(c *redisBrokerConfig) { c.gzipMinLength = n }
}

// NewRedisBroker connects to a single Redis address.
func NewRedisBroker(addr string, opts ...Option) (*RedisBroker, error) {
	return newBroker(redis.NewClient(&redis.Options{Addr: addr}), opts...)
}

// NewRingBroker shards queues and result slots across multiple Redis
// nodes by rendezvous hashing (redis.Ring, backed by
// github.com/dgryski/go-rendezvous). Useful once a single broker node
// can no longer absorb the enqueue/dequeue rate.
func NewRingBroker(shards map[string]string, opts ...Option) (*RedisBroker, error) {
	return newBroker(redis.NewRing(&redis.RingOptions{Addrs: shards}), opts...)
}

// NewFromClient wraps an already-constructed redis.UniversalClient
// (useful for tests against miniredis, or a *redis.ClusterClient).
func NewFromClient(rdb redis.UniversalClient, opts ...Option) (*RedisBroker, error) {
	return newBroker(rdb, opts...)
}

func newBroker(rdb redis.UniversalClient, opts ...Option) (*RedisBroker, error) {
	cfg := redisBrokerConfig{resultExpires: time.Hour}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.resultExpires <= 0 {
		return nil, fmt.Errorf("broqueue: result_expires must be > 0")
	}
	if cfg.gzipMinLength < 0 {
		return nil, fmt.Errorf("broqueue: gzip_min_length must be >= 0")
	}
	return &RedisBroker{
		rdb:           rdb,
		resultExpires: cfg.resultExpires,
		codec:         newCodec(cfg.gzipMinLength),
	}, nil
}

func (b *RedisBroker) PutTaskReq(ctx context.Context, queue types.QueueName, rec types.TaskRecord) error {
	data, err := b.codec.encode(rec)
	if err != nil {
		return &errs.BrokerError{Op: "put_task_req", Err: err}
	}
	if err := b.rdb.RPush(ctx, queuePrefix+queue, data).Err(); err != nil {
		return &errs.BrokerError{Op: "put_task_req", Err: err}
	}
	return nil
}

func (b *RedisBroker) GetTaskReq(ctx context.Context, queues []types.QueueName, timeout time.Duration) (*types.TaskRecord, error) {
	keys := make([]string, len(queues))
	for i, q := range queues {
		keys[i] = queuePrefix + q
	}
	res, err := b.rdb.BLPop(ctx, timeout, keys...).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, &errs.BrokerError{Op: "get_task_req", Err: err}
	}
	var rec types.TaskRecord
	if err := b.codec.decode([]byte(res[1]), &rec); err != nil {
		return nil, &errs.BrokerError{Op: "get_task_req", Err: err}
	}
	return &rec, nil
}

func (b *RedisBroker) PutResult(ctx context.Context, taskID types.TaskID, value interface{}, taskErr error) error {
	rec := types.ResultRecord{Value: value}
	if taskErr != nil {
		rec.Err = toWireError(taskErr)
	}
	data, err := b.codec.encode(rec)
	if err != nil {
		return &errs.BrokerError{Op: "put_result", Err: err}
	}
	key := resultPrefix + taskID
	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.Expire(ctx, key, b.resultExpires)
		return nil
	})
	if err != nil {
		return &errs.BrokerError{Op: "put_result", Err: err}
	}
	return nil
}

func (b *RedisBroker) GetResult(ctx context.Context, taskID types.TaskID, timeout time.Duration) (*types.ResultRecord, error) {
	res, err := b.rdb.BRPop(ctx, timeout, resultPrefix+taskID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, &errs.BrokerError{Op: "get_result", Err: err}
	}
	var rec types.ResultRecord
	if err := b.codec.decode([]byte(res[1]), &rec); err != nil {
		return nil, &errs.BrokerError{Op: "get_result", Err: err}
	}
	return &rec, nil
}

// Client exposes the underlying redis.UniversalClient so other
// components sharing this broker's connection (e.g. pkg/ratelimit) can
// run their own commands against the same Redis node or ring.
func (b *RedisBroker) Client() redis.UniversalClient {
	return b.rdb
}

// QueueDepth reports the number of pending requests on queue, for
// periodic monitoring.
func (b *RedisBroker) QueueDepth(ctx context.Context, queue types.QueueName) (int64, error) {
	n, err := b.rdb.LLen(ctx, queuePrefix+queue).Result()
	if err != nil {
		return 0, &errs.BrokerError{Op: "queue_depth", Err: err}
	}
	return n, nil
}

// InspectQueue returns up to limit pending records from queue without
// removing them.
func (b *RedisBroker) InspectQueue(ctx context.Context, queue types.QueueName, limit int64) ([]types.TaskRecord, error) {
	raw, err := b.rdb.LRange(ctx, queuePrefix+queue, 0, limit-1).Result()
	if err != nil {
		return nil, &errs.BrokerError{Op: "inspect_queue", Err: err}
	}
	recs := make([]types.TaskRecord, 0, len(raw))
	for _, data := range raw {
		var rec types.TaskRecord
		if err := b.codec.decode([]byte(data), &rec); err != nil {
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func toWireError(err error) *types.WireError {
	if we, ok := err.(*types.WireError); ok {
		return we
	}
	return &types.WireError{Kind: fmt.Sprintf("%T", err), Message: err.Error()}
}
