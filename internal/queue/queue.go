// Package queue carries status-update work from the API to whichever process
// applies it, with an in-memory backend for the single-process setup and a
// Redis list for the split api/worker deployment.
package queue

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Message represents one unit of deferred work. ID is minted on publish when
// empty so completion can be tracked by the submitter.
type Message struct {
	ID   string
	Type string
	Body []byte
}

// Queue is the abstraction over the two backends.
type Queue interface {
	Publish(ctx context.Context, msg Message) (id string, err error)
	Consume(ctx context.Context) (<-chan Message, error)
}

// InMemory is a bounded channel-backed queue for the single-process mode.
type InMemory struct {
	ch chan Message
}

// NewInMemory creates an in-memory queue holding up to size messages.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Message, size)}
}

// Publish enqueues a message, blocking when the buffer is full.
func (q *InMemory) Publish(ctx context.Context, msg Message) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	select {
	case q.ch <- msg:
		return msg.ID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Consume returns a channel that drains until ctx is cancelled.
func (q *InMemory) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case msg := <-q.ch:
				out <- msg
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisQueue is a Redis list used with LPUSH/BRPOP semantics.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue builds a queue over the given list key.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "rollcall:updates"
	}
	return &RedisQueue{client: client, key: key}
}

// Publish enqueues a message.
func (q *RedisQueue) Publish(ctx context.Context, msg Message) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if err := q.client.LPush(ctx, q.key, encode(msg)).Err(); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// Consume streams messages using BRPOP, retrying on transient errors.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			res, err := q.client.BRPop(ctx, 5*time.Second, q.key).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}
			if len(res) == 2 {
				out <- decode(res[1])
			}
		}
	}()
	return out, nil
}

// NewRedisClient connects to Redis with short timeouts; the queue should
// never stall an interactive write for long.
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  6 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
}

// Healthy verifies Redis connectivity.
func Healthy(ctx context.Context, client *redis.Client) bool {
	if client == nil {
		return false
	}
	return client.Ping(ctx).Err() == nil
}

// Messages are stored as id|type|body; ids and types never contain pipes.
func encode(msg Message) string {
	return msg.ID + "|" + msg.Type + "|" + string(msg.Body)
}

func decode(s string) Message {
	parts := strings.SplitN(s, "|", 3)
	if len(parts) != 3 {
		return Message{Body: []byte(s)}
	}
	return Message{ID: parts[0], Type: parts[1], Body: []byte(parts[2])}
}
