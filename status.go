package topicqueue

import (
	"fmt"
)

// Status is a snapshot of the state of a topic manager.
type Status struct {
	Active    bool
	NumTopics int
	Queues    []QueueStatus
}

// QueueStatus is the state of a single queue of a Status.
type QueueStatus struct {
	Queue        QueueInfo
	Topics       []string
	NumPreloaded int
}

// IsZero returns true if the receiver is nil
// or has no topics and is inactive.
// Valid to call on a nil receiver.
func (s *Status) IsZero() bool {
	return s == nil || (!s.Active && s.NumTopics == 0 && len(s.Queues) == 0)
}

// NumPreloaded returns the number of preloaded jobs of all queues.
// Valid to call on a nil receiver.
func (s *Status) NumPreloaded() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, q := range s.Queues {
		n += q.NumPreloaded
	}
	return n
}

// String implements the fmt.Stringer interface.
// Valid to call on a nil receiver.
func (s *Status) String() string {
	if s == nil {
		return "nil Status"
	}
	return fmt.Sprintf("Status{Active: %t, NumTopics: %d, NumQueues: %d, NumPreloaded: %d}", s.Active, s.NumTopics, len(s.Queues), s.NumPreloaded())
}
