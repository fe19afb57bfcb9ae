package queueconfig

import (
	"os"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/domonda/go-errs"
	rootlog "github.com/domonda/golog/log"
	"gopkg.in/yaml.v3"

	"github.com/domonda/go-topicqueue"
)

var log = rootlog.NewPackageLogger()

var _ topicqueue.QueueConfigResolver = (*Resolver)(nil)

// Resolver implements topicqueue.QueueConfigResolver.
// Safe for concurrent use.
type Resolver struct {
	mtx       sync.RWMutex
	configs   []QueueConfig // sorted by descending Ranking
	mainQueue QueueConfig
	resolved  map[string]topicqueue.QueueInfo

	changeCount atomic.Int64
}

// New returns a Resolver for the passed queue configurations
// and a main queue with default values.
func New(configs ...QueueConfig) (*Resolver, error) {
	r := &Resolver{
		mainQueue: NewQueueConfig(MainQueueName),
		resolved:  make(map[string]topicqueue.QueueInfo),
	}
	err := r.Set(configs...)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// File is the YAML format read by Load and Parse.
type File struct {
	MainQueue *QueueConfig  `yaml:"mainQueue"`
	Queues    []QueueConfig `yaml:"queues"`
}

// Parse returns a Resolver for the YAML encoded File data.
func Parse(data []byte) (r *Resolver, err error) {
	defer errs.WrapWithFuncParams(&err, data)

	var file File
	err = yaml.Unmarshal(data, &file)
	if err != nil {
		return nil, err
	}
	r, err = New(file.Queues...)
	if err != nil {
		return nil, err
	}
	if file.MainQueue != nil {
		r.SetMainQueue(*file.MainQueue)
	}
	return r, nil
}

// Load returns a Resolver for the YAML File at filename.
func Load(filename string) (r *Resolver, err error) {
	defer errs.WrapWithFuncParams(&err, filename)

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Set replaces all queue configurations.
func (r *Resolver) Set(configs ...QueueConfig) error {
	for i := range configs {
		if err := configs[i].Validate(); err != nil {
			return err
		}
	}
	sorted := slices.Clone(configs)
	slices.SortStableFunc(sorted, func(a, b QueueConfig) int {
		return b.Ranking - a.Ranking
	})

	r.mtx.Lock()
	r.configs = sorted
	r.changedLocked()
	r.mtx.Unlock()

	log.Debug("Queue configurations set").Int("numConfigs", len(sorted)).Log()
	return nil
}

// Add adds a queue configuration.
func (r *Resolver) Add(config QueueConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.configs = append(r.configs, config)
	slices.SortStableFunc(r.configs, func(a, b QueueConfig) int {
		return b.Ranking - a.Ranking
	})
	r.changedLocked()
	return nil
}

// Remove removes all queue configurations with name
// and returns if any was removed.
func (r *Resolver) Remove(name string) bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	n := len(r.configs)
	r.configs = slices.DeleteFunc(r.configs, func(c QueueConfig) bool {
		return c.Name == name
	})
	if len(r.configs) == n {
		return false
	}
	r.changedLocked()
	return true
}

// SetMainQueue changes the configuration of the main queue.
// Name and Topics of config are ignored.
func (r *Resolver) SetMainQueue(config QueueConfig) {
	config.Name = MainQueueName
	config.Topics = nil

	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.mainQueue = config
	r.changedLocked()
}

// Configs returns a copy of the queue configurations
// in the order they are matched.
func (r *Resolver) Configs() []QueueConfig {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	return slices.Clone(r.configs)
}

func (r *Resolver) changedLocked() {
	clear(r.resolved)
	r.changeCount.Add(1)
}

// ChangeCount implements topicqueue.QueueConfigResolver.
func (r *Resolver) ChangeCount() int64 {
	return r.changeCount.Load()
}

// QueueInfo implements topicqueue.QueueConfigResolver.
// The first configuration matching topic wins,
// topics not matching any configuration go to the main queue.
func (r *Resolver) QueueInfo(topic string) topicqueue.QueueInfo {
	r.mtx.RLock()
	info, ok := r.resolved[topic]
	r.mtx.RUnlock()
	if ok {
		return info
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()

	info = r.mainQueue.queueInfo(MainQueueName)
	for i := range r.configs {
		if name, ok := r.configs[i].Match(topic); ok {
			info = r.configs[i].queueInfo(name)
			break
		}
	}
	r.resolved[topic] = info
	return info
}
