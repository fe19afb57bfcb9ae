// Package jobcache implements the bounded per-topic preload window
// of a single queue and the selection of its next job.
package jobcache

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"

	"github.com/domonda/go-errs"
	rootlog "github.com/domonda/golog/log"

	"github.com/domonda/go-topicqueue"
)

var log = rootlog.NewPackageLogger()

// MaxPreloadLimit is the maximum number of jobs
// kept in memory per topic.
const MaxPreloadLimit = 10

type topicWindow struct {
	topic string
	jobs  []*topicqueue.Job
	stale atomic.Bool
}

// Cache preloads the next jobs of the topics of a single queue
// and selects the next job to be processed.
//
// NextJob must not be called concurrently, the topic manager guarantees
// this by allowing only one Take per queue at a time.
// The other methods only invalidate windows and may be called any time.
type Cache struct {
	store   topicqueue.Store
	info    topicqueue.QueueInfo
	topics  []string
	windows map[string]*topicWindow

	// nextTopic is the index of the topic
	// a round robin queue takes from next
	nextTopic    int
	numPreloaded atomic.Int64
}

// New returns a Cache for the queue described by info
// owning the passed topics. The topic set never changes.
func New(store topicqueue.Store, info topicqueue.QueueInfo, topics []string) *Cache {
	c := &Cache{
		store:   store,
		info:    info,
		topics:  slices.Clone(topics),
		windows: make(map[string]*topicWindow, len(topics)),
	}
	for _, topic := range c.topics {
		c.windows[topic] = &topicWindow{topic: topic}
	}
	return c
}

func (c *Cache) QueueInfo() topicqueue.QueueInfo { return c.info }

// Topics returns a copy of the topics owned by the cache.
func (c *Cache) Topics() []string { return slices.Clone(c.topics) }

// NumPreloaded returns the number of jobs in the preload windows
// after the last NextJob call.
func (c *Cache) NumPreloaded() int { return int(c.numPreloaded.Load()) }

// HasTopic returns if topic is owned by the cache.
func (c *Cache) HasTopic(topic string) bool {
	_, ok := c.windows[topic]
	return ok
}

// lazySession opens a store session on first use
// and shares it for the rest of a call.
type lazySession struct {
	store   topicqueue.Store
	session topicqueue.Session
}

func (l *lazySession) get(ctx context.Context) (topicqueue.Session, error) {
	if l.session == nil {
		session, err := l.store.OpenSession(ctx)
		if err != nil {
			return nil, err
		}
		l.session = session
	}
	return l.session, nil
}

func (l *lazySession) close() {
	if l.session == nil {
		return
	}
	if err := l.session.Close(); err != nil {
		log.Error("Error while closing store session").Err(err).Log()
	}
	l.session = nil
}

// NextJob returns the earliest created eligible job
// of the preloaded jobs of all topics and claims it in the store.
// A queue of type QueueTypeTopicRoundRobin instead returns
// the earliest job of the next topic in turn having one.
// The returned job is removed from the preload window.
// Returns nil without error if there is no eligible job.
func (c *Cache) NextJob(ctx context.Context) (job *topicqueue.Job, err error) {
	defer errs.WrapWithFuncParams(&err, ctx)

	sess := &lazySession{store: c.store}
	defer sess.close()
	defer c.countPreloaded()

	err = c.loadJobs(ctx, sess)
	if err != nil {
		return nil, err
	}

	if c.info.Type == topicqueue.QueueTypeTopicRoundRobin {
		for i := range c.topics {
			pos := (c.nextTopic + i) % len(c.topics)
			job, err = c.claimFirst(ctx, sess, c.windows[c.topics[pos]].jobs)
			if err != nil {
				return nil, err
			}
			if job != nil {
				c.nextTopic = (pos + 1) % len(c.topics)
				return job, nil
			}
		}
		return nil, nil
	}

	var candidates []*topicqueue.Job
	for _, topic := range c.topics {
		candidates = append(candidates, c.windows[topic].jobs...)
	}
	return c.claimFirst(ctx, sess, candidates)
}

// claimFirst claims the earliest created of the passed jobs
// that is still available in the store.
// Every tried job is dropped from its window.
func (c *Cache) claimFirst(ctx context.Context, sess *lazySession, jobs []*topicqueue.Job) (*topicqueue.Job, error) {
	candidates := slices.Clone(jobs)
	slices.SortFunc(candidates, (*topicqueue.Job).Compare)

	for _, candidate := range candidates {
		session, err := sess.get(ctx)
		if err != nil {
			return nil, err
		}
		c.dropFromWindow(candidate)

		err = session.Claim(ctx, candidate)
		switch {
		case err == nil:
			return candidate, nil
		case errors.Is(err, topicqueue.ErrAlreadyClaimed), errors.Is(err, topicqueue.ErrNotFound):
			log.Debug("Preloaded job no longer available").
				Str("queue", c.info.Name).
				Str("location", candidate.Location).
				Err(err).
				Log()
		default:
			return nil, err
		}
	}
	return nil, nil
}

func (c *Cache) countPreloaded() {
	n := 0
	for _, w := range c.windows {
		n += len(w.jobs)
	}
	c.numPreloaded.Store(int64(n))
}

func (c *Cache) dropFromWindow(job *topicqueue.Job) {
	w, ok := c.windows[job.Topic]
	if !ok {
		return
	}
	w.jobs = slices.DeleteFunc(w.jobs, func(j *topicqueue.Job) bool {
		return j.Location == job.Location
	})
}

// loadJobs refills the window of every topic holding fewer than
// MaxPreloadLimit jobs or having been invalidated.
// A failed traversal of one topic is logged and the other topics
// are still loaded, only a failure to open the session is returned.
func (c *Cache) loadJobs(ctx context.Context, sess *lazySession) error {
	for _, topic := range c.topics {
		w := c.windows[topic]
		stale := w.stale.Swap(false)
		if !stale && len(w.jobs) >= MaxPreloadLimit {
			continue
		}
		w.jobs = w.jobs[:0]

		session, err := sess.get(ctx)
		if err != nil {
			w.stale.Store(true)
			return err
		}
		err = session.Traverse(ctx, topic, func(job *topicqueue.Job) bool {
			if job.HasReadErrors() {
				log.Warn("Skipping job with read errors").
					Str("topic", topic).
					Str("location", job.Location).
					Str("readError", job.ReadError).
					Log()
				return true
			}
			if job.Topic != topic {
				log.Warn("Skipping job of other topic").
					Str("topic", topic).
					Str("jobTopic", job.Topic).
					Str("location", job.Location).
					Log()
				return true
			}
			if job.IsEligible() {
				w.jobs = append(w.jobs, job)
			}
			return len(w.jobs) < MaxPreloadLimit
		})
		if err != nil {
			w.stale.Store(true)
			log.ErrorCtx(ctx, "Error while loading jobs of topic").
				Str("queue", c.info.Name).
				Str("topic", topic).
				Err(err).
				Log()
		}
	}
	return nil
}

// HandleNewJob invalidates the preload window of topic
// so that the next NextJob call reloads it from the store.
func (c *Cache) HandleNewJob(topic string) {
	if w, ok := c.windows[topic]; ok {
		w.stale.Store(true)
	}
}

// Reschedule makes a previously claimed job eligible again.
func (c *Cache) Reschedule(ctx context.Context, job *topicqueue.Job) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx, job)

	err = ResetJob(ctx, c.store, job)
	if err != nil {
		return err
	}
	c.HandleNewJob(job.Topic)
	return nil
}

// ResetJob resets the claim of job in store
// using a session of its own.
func ResetJob(ctx context.Context, store topicqueue.Store, job *topicqueue.Job) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx, job)

	session, err := store.OpenSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	return session.Reset(ctx, job)
}

// RemoveAll removes all jobs of all topics of the cache from the store
// with a single commit. Failures removing single jobs are logged
// and don't stop the removal of the other jobs.
func (c *Cache) RemoveAll(ctx context.Context) (numRemoved int, err error) {
	defer errs.WrapWithFuncParams(&err, ctx)

	session, err := c.store.OpenSession(ctx)
	if err != nil {
		return 0, err
	}
	defer session.Close()

	for _, topic := range c.topics {
		err = session.Traverse(ctx, topic, func(job *topicqueue.Job) bool {
			if e := session.Remove(ctx, job.Location); e != nil {
				log.ErrorCtx(ctx, "Error while removing job").
					Str("queue", c.info.Name).
					Str("location", job.Location).
					Err(e).
					Log()
				return true
			}
			numRemoved++
			return true
		})
		if err != nil {
			log.ErrorCtx(ctx, "Error while traversing jobs to remove").
				Str("queue", c.info.Name).
				Str("topic", topic).
				Err(err).
				Log()
		}
	}

	err = session.Commit(ctx)
	if err != nil {
		return 0, err
	}

	for _, w := range c.windows {
		w.stale.Store(true)
	}
	return numRemoved, nil
}
