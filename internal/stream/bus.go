// Package stream is the message bus layer of the pipeline. Every stage
// exchanges JSON-encoded, string-keyed records over named topics; per key,
// delivery order follows publish order.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Message is a single record on the bus.
type Message struct {
	ID        string `json:"id"`
	Topic     string `json:"topic"`
	Key       string `json:"key"`
	Payload   []byte `json:"payload"`
	Partition int32  `json:"partition,omitempty"`
	Offset    int64  `json:"offset,omitempty"`
}

// Handler processes one message. Returning a *BackpressureError pauses the
// consumer and retries the same message; any other error drops the message
// after logging.
type Handler func(ctx context.Context, msg *Message) error

// Producer publishes records to topics.
type Producer interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
	Close() error
}

// Bus is the full pub/sub surface a service wires against.
type Bus interface {
	Producer

	// Subscribe consumes the topic within the named consumer group, invoking
	// the handler one message at a time. It blocks until ctx is cancelled.
	Subscribe(ctx context.Context, topic, group string, h Handler) error

	// Ping verifies broker connectivity.
	Ping(ctx context.Context) error
}

// BackpressureError is raised by a sink that cannot keep up. The runtime must
// pause the affected partition for at least RetryAfter before retrying.
type BackpressureError struct {
	RetryAfter time.Duration
	Topic      string
	Partition  int32
}

func (e *BackpressureError) Error() string {
	return fmt.Sprintf("backpressure on %s[%d]: retry after %s", e.Topic, e.Partition, e.RetryAfter)
}

// MessageTimestamp extracts message time from the payload "timestamp" field
// (milliseconds since epoch). Broker-assigned time is never used for
// windowing. Returns 0 when the payload carries no timestamp.
func MessageTimestamp(payload []byte) int64 {
	var probe struct {
		Timestamp int64 `json:"timestamp"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return 0
	}
	return probe.Timestamp
}

// HistoricalTopic names the dedicated per-job topic a backfill produces to, so
// historical trades never interleave with live partitions.
func HistoricalTopic(base, jobID string) string {
	return fmt.Sprintf("%s_historical_%s", base, jobID)
}
