// Package memstore implements an in-memory topicqueue.Store
// for tests and single process setups without durable storage.
package memstore

import (
	"context"
	"fmt"
	"path"
	"slices"
	"sync"
	"time"

	"github.com/domonda/go-errs"
	"github.com/domonda/go-types/nullable"
	rootlog "github.com/domonda/golog/log"

	"github.com/domonda/go-topicqueue"
)

var log = rootlog.NewPackageLogger()

var (
	_ topicqueue.Store          = (*Store)(nil)
	_ topicqueue.JobAddedSource = (*Store)(nil)
)

// Store keeps jobs in memory. Safe for concurrent use.
type Store struct {
	root string

	mtx        sync.Mutex
	jobs       map[string]*topicqueue.Job // by location
	seq        int64
	failRemove map[string]error

	listenerMtx sync.RWMutex
	listener    func(topic string)
}

// New returns an empty Store with jobs stored below root.
func New(root string) *Store {
	return &Store{
		root:       root,
		jobs:       make(map[string]*topicqueue.Job),
		failRemove: make(map[string]error),
	}
}

func (s *Store) JobsRoot() string { return s.root }

// Add stores a new job for topic and notifies the job added listener.
// The payload will be marshalled to JSON.
func (s *Store) Add(topic string, payload any) (job *topicqueue.Job, err error) {
	defer errs.WrapWithFuncParams(&err, topic, payload)

	if topic == "" {
		return nil, errs.New("empty topic")
	}
	payloadJSON, err := nullable.MarshalJSON(payload)
	if err != nil {
		return nil, err
	}

	job = s.insert(topic, payloadJSON, "")
	s.notify(topic)
	return job, nil
}

// AddMalformed stores a job record that can't be read,
// it will be passed to traversals with ReadError set.
// No listener is notified.
func (s *Store) AddMalformed(topic, readError string) *topicqueue.Job {
	return s.insert(topic, nil, readError)
}

func (s *Store) insert(topic string, payload nullable.JSON, readError string) *topicqueue.Job {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.seq++
	job := &topicqueue.Job{
		Topic:     topic,
		Location:  path.Join(s.root, topic, fmt.Sprintf("%012d", s.seq)),
		Seq:       s.seq,
		Payload:   payload,
		ReadError: readError,
		CreatedAt: time.Now(),
	}
	s.jobs[job.Location] = job
	clone := *job
	return &clone
}

// Get returns a copy of the job stored at location.
func (s *Store) Get(location string) (*topicqueue.Job, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	job, ok := s.jobs[location]
	if !ok {
		return nil, topicqueue.ErrNotFound
	}
	clone := *job
	return &clone, nil
}

// Len returns the number of stored jobs.
func (s *Store) Len() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return len(s.jobs)
}

// FailRemove makes every staged removal of location fail with err.
// Passing a nil error clears the failure.
func (s *Store) FailRemove(location string, err error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if err == nil {
		delete(s.failRemove, location)
		return
	}
	s.failRemove[location] = err
}

func (s *Store) SetJobAddedListener(ctx context.Context, callback func(topic string)) error {
	s.listenerMtx.Lock()
	defer s.listenerMtx.Unlock()

	s.listener = callback
	return nil
}

func (s *Store) notify(topic string) {
	s.listenerMtx.RLock()
	listener := s.listener
	s.listenerMtx.RUnlock()

	if listener != nil {
		listener(topic)
	}
}

func (s *Store) OpenSession(ctx context.Context) (topicqueue.Session, error) {
	return &session{store: s}, nil
}

type session struct {
	store    *Store
	removals []string
	closed   bool
}

func (s *session) Topics(ctx context.Context) ([]string, error) {
	if s.closed {
		return nil, topicqueue.ErrSessionFinished
	}

	s.store.mtx.Lock()
	defer s.store.mtx.Unlock()

	var topics []string
	for _, job := range s.store.jobs {
		if !slices.Contains(topics, job.Topic) {
			topics = append(topics, job.Topic)
		}
	}
	slices.Sort(topics)
	return topics, nil
}

func (s *session) Traverse(ctx context.Context, topic string, visit topicqueue.VisitFunc) error {
	if s.closed {
		return topicqueue.ErrSessionFinished
	}

	// Visit a snapshot so that visit may call back into the store
	s.store.mtx.Lock()
	var jobs []*topicqueue.Job
	for _, job := range s.store.jobs {
		if job.Topic == topic {
			clone := *job
			jobs = append(jobs, &clone)
		}
	}
	s.store.mtx.Unlock()

	slices.SortFunc(jobs, (*topicqueue.Job).Compare)
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !visit(job) {
			break
		}
	}
	return nil
}

func (s *session) Claim(ctx context.Context, job *topicqueue.Job) error {
	if s.closed {
		return topicqueue.ErrSessionFinished
	}

	s.store.mtx.Lock()
	defer s.store.mtx.Unlock()

	stored, ok := s.store.jobs[job.Location]
	if !ok {
		return topicqueue.ErrNotFound
	}
	if stored.IsClaimed() {
		return topicqueue.ErrAlreadyClaimed
	}
	stored.ProcessingStarted = nullable.TimeNow()
	job.ProcessingStarted = stored.ProcessingStarted
	return nil
}

func (s *session) Reset(ctx context.Context, job *topicqueue.Job) error {
	if s.closed {
		return topicqueue.ErrSessionFinished
	}

	s.store.mtx.Lock()
	defer s.store.mtx.Unlock()

	stored, ok := s.store.jobs[job.Location]
	if !ok {
		return topicqueue.ErrNotFound
	}
	stored.ProcessingStarted = nullable.Time{}
	stored.Retries++
	job.ProcessingStarted = stored.ProcessingStarted
	job.Retries = stored.Retries
	return nil
}

func (s *session) Remove(ctx context.Context, location string) error {
	if s.closed {
		return topicqueue.ErrSessionFinished
	}

	s.store.mtx.Lock()
	defer s.store.mtx.Unlock()

	if err := s.store.failRemove[location]; err != nil {
		return err
	}
	if _, ok := s.store.jobs[location]; !ok {
		return topicqueue.ErrNotFound
	}
	s.removals = append(s.removals, location)
	return nil
}

func (s *session) Commit(ctx context.Context) error {
	if s.closed {
		return topicqueue.ErrSessionFinished
	}

	s.store.mtx.Lock()
	defer s.store.mtx.Unlock()

	for _, location := range s.removals {
		delete(s.store.jobs, location)
	}
	if len(s.removals) > 0 {
		log.Debug("Committed job removals").
			Int("numRemoved", len(s.removals)).
			Log()
	}
	s.removals = nil
	return nil
}

func (s *session) Close() error {
	s.closed = true
	s.removals = nil
	return nil
}
