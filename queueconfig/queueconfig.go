// Package queueconfig routes job topics to queues
// using ranked queue configurations with topic patterns.
package queueconfig

import (
	"slices"
	"strings"
	"time"

	"github.com/domonda/go-errs"
	"gopkg.in/yaml.v3"

	"github.com/domonda/go-topicqueue"
)

const (
	// MainQueueName is the name of the queue
	// for topics not matched by any configuration.
	MainQueueName = "<main queue>"

	DefaultMaxParallel = 15
	DefaultRetries     = 10
	DefaultRetryDelay  = 2 * time.Second
)

// QueueConfig configures a queue and the topics routed to it.
//
// Topic patterns:
//   - "a/b/." matches the direct sub topics of "a/b" like "a/b/c"
//   - "a/b/*" matches all sub topics of "a/b" like "a/b/c" and "a/b/c/d"
//   - any other pattern matches only the exact topic
//
// The placeholder "{0}" in Name is replaced with the
// part of the topic matched by a "." or "*" pattern,
// so that every matched topic gets a queue of its own.
type QueueConfig struct {
	Name        string               `yaml:"name"`
	Topics      []string             `yaml:"topics"`
	Type        topicqueue.QueueType `yaml:"type"`
	MaxParallel int                  `yaml:"maxParallel"`
	Retries     int                  `yaml:"retries"`
	RetryDelay  time.Duration        `yaml:"retryDelay"`
	// Ranking orders configurations matching the same topic,
	// the configuration with the highest ranking wins.
	Ranking int `yaml:"ranking"`
}

// NewQueueConfig returns a QueueConfig with default values.
func NewQueueConfig(name string, topics ...string) QueueConfig {
	return QueueConfig{
		Name:        name,
		Topics:      topics,
		Type:        topicqueue.QueueTypeUnordered,
		MaxParallel: DefaultMaxParallel,
		Retries:     DefaultRetries,
		RetryDelay:  DefaultRetryDelay,
	}
}

// UnmarshalYAML implements yaml.Unmarshaler
// applying the defaults of NewQueueConfig for missing values.
func (c *QueueConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain QueueConfig
	p := plain(NewQueueConfig(""))
	if err := value.Decode(&p); err != nil {
		return err
	}
	*c = QueueConfig(p)
	return nil
}

// Validate returns an error if the configuration can't be used.
func (c *QueueConfig) Validate() error {
	if c.Name == "" {
		return errs.New("queue config without name")
	}
	if len(c.Topics) == 0 {
		return errs.Errorf("queue config %q without topics", c.Name)
	}
	if slices.Contains(c.Topics, "") {
		return errs.Errorf("queue config %q has an empty topic pattern", c.Name)
	}
	if c.MaxParallel < 0 {
		return errs.Errorf("queue config %q has negative maxParallel %d", c.Name, c.MaxParallel)
	}
	if c.Retries < 0 {
		return errs.Errorf("queue config %q has negative retries %d", c.Name, c.Retries)
	}
	if c.RetryDelay < 0 {
		return errs.Errorf("queue config %q has negative retryDelay %s", c.Name, c.RetryDelay)
	}
	return nil
}

// Match returns the queue name for topic if topic
// is matched by one of the topic patterns.
func (c *QueueConfig) Match(topic string) (queueName string, ok bool) {
	for _, pattern := range c.Topics {
		if variable, ok := matchTopic(pattern, topic); ok {
			return strings.ReplaceAll(c.Name, "{0}", variable), true
		}
	}
	return "", false
}

func (c *QueueConfig) queueInfo(name string) topicqueue.QueueInfo {
	info := topicqueue.QueueInfo{
		Name:        name,
		Type:        c.Type,
		MaxParallel: c.MaxParallel,
		Retries:     c.Retries,
		RetryDelay:  c.RetryDelay,
	}
	if info.Type == topicqueue.QueueTypeOrdered {
		info.MaxParallel = 1
	}
	return info
}

// matchTopic returns the variable part of topic matched by pattern.
func matchTopic(pattern, topic string) (variable string, ok bool) {
	switch {
	case strings.HasSuffix(pattern, "."):
		parent := strings.TrimSuffix(strings.TrimSuffix(pattern, "."), "/")
		pos := strings.LastIndexByte(topic, '/')
		if pos > -1 && topic[:pos] == parent {
			return topic[pos+1:], true
		}

	case strings.HasSuffix(pattern, "*"):
		prefix := strings.TrimSuffix(pattern, "*")
		if !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		pos := strings.LastIndexByte(topic, '/')
		if pos > -1 && strings.HasPrefix(topic[:pos+1], prefix) {
			return topic[len(prefix):], true
		}

	case pattern == topic:
		return "", true
	}
	return "", false
}
