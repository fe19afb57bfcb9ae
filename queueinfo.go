package topicqueue

import (
	"fmt"
	"time"

	"github.com/domonda/go-errs"
)

// QueueType defines how jobs of a queue may be processed.
type QueueType int

const (
	// QueueTypeUnordered allows up to QueueInfo.MaxParallel jobs
	// of the queue to be processed at the same time.
	QueueTypeUnordered QueueType = iota
	// QueueTypeOrdered processes one job of the queue at a time
	// in creation order.
	QueueTypeOrdered
	// QueueTypeTopicRoundRobin works like QueueTypeUnordered
	// but takes the jobs of its topics in turns
	// instead of in creation order across all topics.
	QueueTypeTopicRoundRobin
	// QueueTypeIgnore leaves the jobs of its topics in the store,
	// they are neither cached nor processed.
	QueueTypeIgnore
)

// String implements the fmt.Stringer interface.
func (t QueueType) String() string {
	switch t {
	case QueueTypeUnordered:
		return "unordered"
	case QueueTypeOrdered:
		return "ordered"
	case QueueTypeTopicRoundRobin:
		return "topicRoundRobin"
	case QueueTypeIgnore:
		return "ignore"
	}
	return fmt.Sprintf("QueueType(%d)", int(t))
}

// MarshalText implements the encoding.TextMarshaler interface.
func (t QueueType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (t *QueueType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "", "unordered":
		*t = QueueTypeUnordered
	case "ordered":
		*t = QueueTypeOrdered
	case "topicRoundRobin":
		*t = QueueTypeTopicRoundRobin
	case "ignore":
		*t = QueueTypeIgnore
	default:
		return errs.Errorf("invalid queue type %q", text)
	}
	return nil
}

// QueueInfo describes the queue a topic is routed to.
// It is a value type and never changes after it was resolved,
// a configuration change results in a new QueueInfo.
type QueueInfo struct {
	Name        string
	Type        QueueType
	MaxParallel int
	Retries     int
	RetryDelay  time.Duration
}

// Parallel returns the number of jobs of the queue
// that may be processed at the same time.
// Ordered queues always return 1.
func (q QueueInfo) Parallel() int {
	if q.Type == QueueTypeOrdered || q.MaxParallel < 1 {
		return 1
	}
	return q.MaxParallel
}

// String implements the fmt.Stringer interface.
func (q QueueInfo) String() string {
	return fmt.Sprintf("Queue %q, type %s, max parallel %d, retries %d", q.Name, q.Type, q.Parallel(), q.Retries)
}

// QueueConfigResolver routes topics to queues.
type QueueConfigResolver interface {
	// QueueInfo returns the queue that processes jobs of topic.
	QueueInfo(topic string) QueueInfo

	// ChangeCount returns a counter that is incremented
	// whenever the routing rules change.
	ChangeCount() int64
}
