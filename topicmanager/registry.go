package topicmanager

import (
	"slices"
	"sync"
)

// TopicRegistry is the set of all topics observed
// since the last initial scan. Safe for concurrent use.
type TopicRegistry struct {
	mtx    sync.RWMutex
	topics map[string]struct{}
}

func NewTopicRegistry() *TopicRegistry {
	return &TopicRegistry{topics: make(map[string]struct{})}
}

// Add adds topic to the registry and returns
// true if the topic was not registered before.
func (r *TopicRegistry) Add(topic string) (isNew bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if _, exists := r.topics[topic]; exists {
		return false
	}
	r.topics[topic] = struct{}{}
	return true
}

func (r *TopicRegistry) Contains(topic string) bool {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	_, exists := r.topics[topic]
	return exists
}

// Snapshot returns the sorted registered topics.
func (r *TopicRegistry) Snapshot() []string {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	topics := make([]string, 0, len(r.topics))
	for topic := range r.topics {
		topics = append(topics, topic)
	}
	slices.Sort(topics)
	return topics
}

// Reset replaces all registered topics.
func (r *TopicRegistry) Reset(topics []string) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.topics = make(map[string]struct{}, len(topics))
	for _, topic := range topics {
		if topic != "" {
			r.topics[topic] = struct{}{}
		}
	}
}

func (r *TopicRegistry) Len() int {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	return len(r.topics)
}
