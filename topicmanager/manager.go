package topicmanager

import (
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/domonda/go-errs"
	"github.com/domonda/golog"
	rootlog "github.com/domonda/golog/log"

	"github.com/domonda/go-topicqueue"
	"github.com/domonda/go-topicqueue/jobcache"
)

var log = rootlog.NewPackageLogger()

func OverrideLogger(logger *golog.Logger) {
	log = logger
}

// QueueStarter starts the worker loop of a queue
// that calls Manager.Take until it returns nil.
// StartQueue must be idempotent per queue name.
type QueueStarter interface {
	StartQueue(m *Manager, info topicqueue.QueueInfo)
}

type Config struct {
	Store    topicqueue.Store
	Resolver topicqueue.QueueConfigResolver
	// Starter is optional, without it no queue workers are started.
	Starter QueueStarter
}

// Manager maps the topics of stored jobs to queues
// and hands out the jobs of a queue to its single consumer.
type Manager struct {
	store    topicqueue.Store
	resolver topicqueue.QueueConfigResolver
	starter  QueueStarter

	registry *TopicRegistry
	waiters  *waiters

	active atomic.Bool
	dirty  atomic.Bool

	// caches is replaced as a whole under updateMtx
	// and read without locking.
	caches      atomic.Pointer[map[string]*jobcache.Cache]
	changeCount atomic.Int64
	updateMtx   sync.Mutex

	// retired holds the names of queues that were dropped
	// from the mapping by a rebuild, Take returns nil for them.
	retiredMtx sync.Mutex
	retired    map[string]struct{}

	takingMtx sync.Mutex
	taking    map[string]struct{}

	topologyMtx sync.Mutex
	notifier    topicqueue.TopologyNotifier
}

func New(config Config) (*Manager, error) {
	if config.Store == nil {
		return nil, errs.New("topicmanager.Config.Store is nil")
	}
	if config.Resolver == nil {
		return nil, errs.New("topicmanager.Config.Resolver is nil")
	}
	m := &Manager{
		store:    config.Store,
		resolver: config.Resolver,
		starter:  config.Starter,
		registry: NewTopicRegistry(),
		waiters:  newWaiters(),
		taking:   make(map[string]struct{}),
		retired:  make(map[string]struct{}),
	}
	m.changeCount.Store(-1)
	return m, nil
}

// Open registers the manager as listener of notifier.
func (m *Manager) Open(notifier topicqueue.TopologyNotifier) {
	m.topologyMtx.Lock()
	m.notifier = notifier
	m.topologyMtx.Unlock()

	notifier.AddListener(m)
}

// Close unregisters the manager from its topology notifier,
// deactivates it and stops all waiting Take calls.
func (m *Manager) Close() {
	m.topologyMtx.Lock()
	notifier := m.notifier
	m.notifier = nil
	m.topologyMtx.Unlock()

	if notifier != nil {
		notifier.RemoveListener(m)
	}
	m.TopologyChanged(context.Background(), false)
	for _, queueName := range m.QueueNames() {
		m.Stop(queueName)
	}
}

func (m *Manager) IsActive() bool { return m.active.Load() }

// Topics returns the sorted registered topics.
func (m *Manager) Topics() []string { return m.registry.Snapshot() }

// QueueNames returns the sorted names of the queues
// of the current topic to queue mapping.
func (m *Manager) QueueNames() []string {
	caches := m.caches.Load()
	if caches == nil {
		return nil
	}
	names := make([]string, 0, len(*caches))
	for name := range *caches {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Status returns the topics and queues of the current
// topic to queue mapping.
func (m *Manager) Status() *topicqueue.Status {
	status := &topicqueue.Status{
		Active:    m.active.Load(),
		NumTopics: m.registry.Len(),
	}
	caches := m.caches.Load()
	if caches == nil {
		return status
	}
	for _, name := range m.QueueNames() {
		cache := (*caches)[name]
		if cache == nil {
			continue
		}
		status.Queues = append(status.Queues, topicqueue.QueueStatus{
			Queue:        cache.QueueInfo(),
			Topics:       cache.Topics(),
			NumPreloaded: cache.NumPreloaded(),
		})
	}
	return status
}

// TopologyChanged implements topicqueue.TopologyListener.
//
// Becoming active rescans the store for topics,
// rebuilds the topic to queue mapping, starts the queues
// and subscribes to job added notifications of the store.
// Becoming inactive unsubscribes from the store.
// Workers are expected to be stopped independently.
func (m *Manager) TopologyChanged(ctx context.Context, active bool) {
	m.topologyMtx.Lock()
	defer m.topologyMtx.Unlock()

	if !active {
		if !m.active.Swap(false) {
			return
		}
		log.Info("Topology inactive, no longer reacting to job events").Log()
		m.setJobAddedListener(ctx, nil)
		return
	}

	topics, err := m.scanTopics(ctx)
	if err != nil {
		log.ErrorCtx(ctx, "Error while scanning the store for topics, keeping registered topics").
			Str("jobsRoot", m.store.JobsRoot()).
			Err(err).
			Log()
	} else {
		m.registry.Reset(topics)
	}
	m.dirty.Store(true)
	m.active.Store(true)
	m.setJobAddedListener(ctx, func(topic string) {
		m.HandleEvent(context.Background(), topic)
	})

	caches := m.UpdateConfiguration()
	log.Info("Topology active, starting queues").
		Int("numTopics", m.registry.Len()).
		Int("numQueues", len(caches)).
		Log()
	if m.starter != nil {
		for _, name := range slices.Sorted(maps.Keys(caches)) {
			m.starter.StartQueue(m, caches[name].QueueInfo())
		}
	}
	// Jobs may have been added while inactive
	m.waiters.wakeAll()
}

func (m *Manager) scanTopics(ctx context.Context) (topics []string, err error) {
	defer errs.WrapWithFuncParams(&err, ctx)

	session, err := m.store.OpenSession(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	return session.Topics(ctx)
}

func (m *Manager) setJobAddedListener(ctx context.Context, callback func(topic string)) {
	source, ok := m.store.(topicqueue.JobAddedSource)
	if !ok {
		return
	}
	err := source.SetJobAddedListener(ctx, callback)
	if err != nil {
		log.ErrorCtx(ctx, "Error while setting the job added listener of the store").
			Err(err).
			Log()
	}
}

// HandleEvent is called when a job for topic was added to the store.
// A new topic marks the topic to queue mapping for rebuild and starts
// its queue, a known topic invalidates its preload window.
// In both cases a Take waiting for the queue of the topic is woken.
func (m *Manager) HandleEvent(ctx context.Context, topic string) {
	if !m.active.Load() {
		return
	}
	if topic == "" {
		log.Warn("Ignoring job added event without topic").Log()
		return
	}

	info := m.resolver.QueueInfo(topic)

	if m.registry.Add(topic) {
		m.dirty.Store(true)
		if info.Type == topicqueue.QueueTypeIgnore {
			log.Debug("New topic of ignored queue").
				Str("topic", topic).
				Str("queue", info.Name).
				Log()
			return
		}
		log.Debug("New topic").
			Str("topic", topic).
			Str("queue", info.Name).
			Log()
		if m.starter != nil {
			m.starter.StartQueue(m, info)
		}
		m.waiters.wake(info.Name)
		return
	}

	if cache := m.UpdateConfiguration()[info.Name]; cache != nil {
		cache.HandleNewJob(topic)
	}
	m.waiters.wake(info.Name)
}

// UpdateConfiguration returns the queue name to cache mapping.
// The mapping is rebuilt with new caches if the queue configuration
// changed or new topics were registered since the last call.
// Topics of ignored queues are not mapped.
//
// After a rebuild, while the manager is active, the starter is called
// for new queues and for queues whose QueueInfo changed.
// Queues no longer in the mapping are retired: a waiting Take
// is stopped and further Take calls return nil until the queue
// is mapped again.
// The returned map must not be modified.
func (m *Manager) UpdateConfiguration() map[string]*jobcache.Cache {
	if caches := m.caches.Load(); caches != nil && !m.dirty.Load() && m.resolver.ChangeCount() == m.changeCount.Load() {
		return *caches
	}

	caches, changed, retired := m.rebuild()

	for _, name := range retired {
		m.Stop(name)
	}
	if m.starter != nil && m.active.Load() {
		for _, info := range changed {
			m.starter.StartQueue(m, info)
		}
	}
	return caches
}

// rebuild returns the current mapping, the infos of queues
// that are new or changed and the names of retired queues.
func (m *Manager) rebuild() (caches map[string]*jobcache.Cache, changed []topicqueue.QueueInfo, retired []string) {
	m.updateMtx.Lock()
	defer m.updateMtx.Unlock()

	changeCount := m.resolver.ChangeCount()
	previous := m.caches.Load()
	if previous != nil && !m.dirty.Load() && changeCount == m.changeCount.Load() {
		return *previous, nil, nil
	}
	// Reset before the snapshot so that topics
	// added during the rebuild mark it dirty again
	m.dirty.Store(false)

	var (
		queueInfos  = make(map[string]topicqueue.QueueInfo)
		queueTopics = make(map[string][]string)
	)
	for _, topic := range m.registry.Snapshot() {
		info := m.resolver.QueueInfo(topic)
		if info.Type == topicqueue.QueueTypeIgnore {
			continue
		}
		if _, ok := queueInfos[info.Name]; !ok {
			queueInfos[info.Name] = info
		}
		queueTopics[info.Name] = append(queueTopics[info.Name], topic)
	}

	caches = make(map[string]*jobcache.Cache, len(queueTopics))
	for name, topics := range queueTopics {
		caches[name] = jobcache.New(m.store, queueInfos[name], topics)
	}

	m.retiredMtx.Lock()
	for name, info := range queueInfos {
		delete(m.retired, name)
		if previous == nil || (*previous)[name] == nil || (*previous)[name].QueueInfo() != info {
			changed = append(changed, info)
		}
	}
	if previous != nil {
		for name := range *previous {
			if caches[name] == nil {
				m.retired[name] = struct{}{}
				retired = append(retired, name)
			}
		}
	}
	m.retiredMtx.Unlock()

	// Retirements are recorded before publishing so that
	// a Take seeing the new mapping also sees them
	m.caches.Store(&caches)
	m.changeCount.Store(changeCount)

	log.Debug("Rebuilt topic to queue mapping").
		Int("numQueues", len(caches)).
		Int("numChanged", len(changed)).
		Strs("retired", retired).
		Int("changeCount", int(changeCount)).
		Log()

	return caches, changed, retired
}

func (m *Manager) isRetired(queueName string) bool {
	m.retiredMtx.Lock()
	defer m.retiredMtx.Unlock()

	_, retired := m.retired[queueName]
	return retired
}

func (m *Manager) acquireTake(queueName string) bool {
	m.takingMtx.Lock()
	defer m.takingMtx.Unlock()

	if _, taking := m.taking[queueName]; taking {
		return false
	}
	m.taking[queueName] = struct{}{}
	return true
}

func (m *Manager) releaseTake(queueName string) {
	m.takingMtx.Lock()
	defer m.takingMtx.Unlock()

	delete(m.taking, queueName)
}

// Take returns the next job of the queue, blocking until
// a job becomes available.
//
// Only one Take per queue may run at a time,
// a concurrent call returns topicqueue.ErrConcurrentTake.
//
// Take returns a nil handle without error after Stop was called
// for the queue or when the queue was retired by a configuration change,
// and ctx.Err() when ctx is done while waiting.
func (m *Manager) Take(ctx context.Context, queueName string) (handle *JobHandle, err error) {
	defer errs.WrapWithFuncParams(&err, ctx, queueName)

	if !m.acquireTake(queueName) {
		return nil, topicqueue.ErrConcurrentTake
	}
	defer m.releaseTake(queueName)

	for {
		caches := m.UpdateConfiguration()

		// Register before looking for a job
		// so that a wakeup in between is not lost
		w := m.waiters.register(queueName)

		if m.isRetired(queueName) {
			m.waiters.unregister(queueName, w)
			log.Debug("Take of retired queue").Str("queue", queueName).Log()
			return nil, nil
		}

		if cache := caches[queueName]; cache != nil {
			job, err := cache.NextJob(ctx)
			if err != nil {
				m.waiters.unregister(queueName, w)
				return nil, err
			}
			if job != nil {
				m.waiters.unregister(queueName, w)
				return &JobHandle{Job: job, Queue: cache.QueueInfo(), manager: m}, nil
			}
		}

		select {
		case <-w.wake:
			if !m.waiters.isRegistered(queueName, w) {
				log.Debug("Take stopped").Str("queue", queueName).Log()
				return nil, nil
			}
		case <-ctx.Done():
			m.waiters.unregister(queueName, w)
			return nil, ctx.Err()
		}
	}
}

// Stop wakes a Take waiting for the queue and makes it return nil.
// It is a no-op if no Take is waiting.
func (m *Manager) Stop(queueName string) {
	if m.waiters.stop(queueName) {
		log.Debug("Stopped waiting take").Str("queue", queueName).Log()
	}
}

// RemoveAll removes all stored jobs of all topics of the queue.
// Failures removing single jobs are logged and skipped.
func (m *Manager) RemoveAll(ctx context.Context, queueName string) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx, queueName)

	cache := m.UpdateConfiguration()[queueName]
	if cache == nil {
		log.Debug("RemoveAll for queue without topics").Str("queue", queueName).Log()
		return nil
	}

	numRemoved, err := cache.RemoveAll(ctx)
	if err != nil {
		log.ErrorCtx(ctx, "Error while removing all jobs of queue").
			Str("queue", queueName).
			Err(err).
			Log()
		return err
	}

	log.Info("Removed all jobs of queue").
		Str("queue", queueName).
		Strs("topics", cache.Topics()).
		Int("numRemoved", numRemoved).
		Log()
	return nil
}

// Reschedule makes the job of handle eligible again
// and wakes a Take waiting for its queue.
func (m *Manager) Reschedule(ctx context.Context, handle *JobHandle) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx, handle)

	if handle == nil || handle.Job == nil {
		return errs.New("can't reschedule nil job")
	}
	job := handle.Job

	if m.registry.Add(job.Topic) {
		m.dirty.Store(true)
	}
	info := m.resolver.QueueInfo(job.Topic)

	if cache := m.UpdateConfiguration()[info.Name]; cache != nil && cache.HasTopic(job.Topic) {
		err = cache.Reschedule(ctx, job)
	} else {
		err = jobcache.ResetJob(ctx, m.store, job)
	}
	if err != nil {
		return err
	}

	log.Debug("Rescheduled job").
		Str("queue", info.Name).
		Str("location", job.Location).
		Int("retries", job.Retries).
		Log()

	m.waiters.wake(info.Name)
	return nil
}
