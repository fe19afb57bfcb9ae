package jobcache_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domonda/go-topicqueue"
	"github.com/domonda/go-topicqueue/jobcache"
	"github.com/domonda/go-topicqueue/memstore"
)

var queueInfo = topicqueue.QueueInfo{Name: "test", MaxParallel: 1, Retries: 3}

func addJobs(t *testing.T, store *memstore.Store, topic string, n int) []*topicqueue.Job {
	t.Helper()
	jobs := make([]*topicqueue.Job, n)
	for i := range jobs {
		job, err := store.Add(topic, map[string]int{"i": i})
		require.NoError(t, err)
		jobs[i] = job
	}
	return jobs
}

func nextLocation(ctx context.Context, t *testing.T, cache *jobcache.Cache) string {
	t.Helper()
	job, err := cache.NextJob(ctx)
	require.NoError(t, err)
	if job == nil {
		return ""
	}
	assert.True(t, job.IsClaimed(), "returned job is claimed")
	return job.Location
}

func claimInStore(ctx context.Context, t *testing.T, store *memstore.Store, job *topicqueue.Job) {
	t.Helper()
	session, err := store.OpenSession(ctx)
	require.NoError(t, err)
	defer session.Close()
	require.NoError(t, session.Claim(ctx, job))
}

func TestCacheAccessors(t *testing.T) {
	store := memstore.New("/jobs")
	cache := jobcache.New(store, queueInfo, []string{"a", "b"})

	assert.Equal(t, queueInfo, cache.QueueInfo())
	assert.Equal(t, []string{"a", "b"}, cache.Topics())
	assert.True(t, cache.HasTopic("a"))
	assert.False(t, cache.HasTopic("c"))

	topics := cache.Topics()
	topics[0] = "modified"
	assert.Equal(t, []string{"a", "b"}, cache.Topics(), "Topics returns a copy")
}

func TestNextJobOrder(t *testing.T) {
	ctx := context.Background()
	store := memstore.New("/jobs")

	a1, err := store.Add("a", nil)
	require.NoError(t, err)
	b1, err := store.Add("b", nil)
	require.NoError(t, err)
	a2, err := store.Add("a", nil)
	require.NoError(t, err)
	_, err = store.Add("other", nil)
	require.NoError(t, err)

	cache := jobcache.New(store, queueInfo, []string{"a", "b"})

	assert.Equal(t, a1.Location, nextLocation(ctx, t, cache))
	assert.Equal(t, b1.Location, nextLocation(ctx, t, cache))
	assert.Equal(t, a2.Location, nextLocation(ctx, t, cache))
	assert.Equal(t, "", nextLocation(ctx, t, cache), "jobs of other topics are not returned")
}

func TestNextJobEmpty(t *testing.T) {
	ctx := context.Background()
	cache := jobcache.New(memstore.New("/jobs"), queueInfo, []string{"a"})

	job, err := cache.NextJob(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.Equal(t, 0, cache.NumPreloaded())
}

func TestNextJobBeyondPreloadLimit(t *testing.T) {
	ctx := context.Background()
	store := memstore.New("/jobs")
	jobs := addJobs(t, store, "a", jobcache.MaxPreloadLimit+5)

	cache := jobcache.New(store, queueInfo, []string{"a"})

	assert.Equal(t, jobs[0].Location, nextLocation(ctx, t, cache))
	assert.Equal(t, jobcache.MaxPreloadLimit-1, cache.NumPreloaded())

	for _, job := range jobs[1:] {
		assert.Equal(t, job.Location, nextLocation(ctx, t, cache))
	}
	assert.Equal(t, "", nextLocation(ctx, t, cache))
}

func TestNextJobSkipsReadErrors(t *testing.T) {
	ctx := context.Background()
	store := memstore.New("/jobs")
	store.AddMalformed("a", "broken record")
	valid, err := store.Add("a", nil)
	require.NoError(t, err)

	cache := jobcache.New(store, queueInfo, []string{"a"})

	assert.Equal(t, valid.Location, nextLocation(ctx, t, cache))
	assert.Equal(t, "", nextLocation(ctx, t, cache))
	assert.Equal(t, 2, store.Len(), "malformed job stays in the store")
}

func TestNextJobSkipsClaimed(t *testing.T) {
	ctx := context.Background()

	t.Run("claimed before loading", func(t *testing.T) {
		store := memstore.New("/jobs")
		jobs := addJobs(t, store, "a", 2)
		claimInStore(ctx, t, store, jobs[0])

		cache := jobcache.New(store, queueInfo, []string{"a"})

		assert.Equal(t, jobs[1].Location, nextLocation(ctx, t, cache))
		assert.Equal(t, "", nextLocation(ctx, t, cache))
	})

	t.Run("claimed after preloading", func(t *testing.T) {
		// given
		store := memstore.New("/jobs")
		a := addJobs(t, store, "a", 2)
		b := addJobs(t, store, "b", jobcache.MaxPreloadLimit)
		cache := jobcache.New(store, queueInfo, []string{"a", "b"})

		// when
		assert.Equal(t, a[0].Location, nextLocation(ctx, t, cache))
		// b's full window is not reloaded by the following calls
		claimInStore(ctx, t, store, b[0])

		// then
		assert.Equal(t, a[1].Location, nextLocation(ctx, t, cache))
		assert.Equal(t, b[1].Location, nextLocation(ctx, t, cache))
	})
}

func TestHandleNewJob(t *testing.T) {
	ctx := context.Background()
	store := memstore.New("/jobs")
	a := addJobs(t, store, "a", 1)
	b := addJobs(t, store, "b", jobcache.MaxPreloadLimit+1)
	cache := jobcache.New(store, queueInfo, []string{"a", "b"})

	assert.Equal(t, a[0].Location, nextLocation(ctx, t, cache))

	// Remove the preloaded jobs of b behind the cache's back
	session, err := store.OpenSession(ctx)
	require.NoError(t, err)
	for _, job := range b[:jobcache.MaxPreloadLimit] {
		require.NoError(t, session.Remove(ctx, job.Location))
	}
	require.NoError(t, session.Commit(ctx))
	require.NoError(t, session.Close())

	cache.HandleNewJob("b")
	cache.HandleNewJob("unknown topic")

	assert.Equal(t, b[jobcache.MaxPreloadLimit].Location, nextLocation(ctx, t, cache))
}

func TestReschedule(t *testing.T) {
	ctx := context.Background()
	store := memstore.New("/jobs")
	jobs := addJobs(t, store, "a", 2)
	cache := jobcache.New(store, queueInfo, []string{"a"})

	job, err := cache.NextJob(ctx)
	require.NoError(t, err)
	require.Equal(t, jobs[0].Location, job.Location)

	require.NoError(t, cache.Reschedule(ctx, job))
	assert.False(t, job.IsClaimed())
	assert.Equal(t, 1, job.Retries)

	again, err := cache.NextJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, jobs[0].Location, again.Location, "rescheduled job keeps its position")
	assert.Equal(t, 1, again.Retries)

	err = jobcache.ResetJob(ctx, store, &topicqueue.Job{Location: "/jobs/a/missing"})
	assert.ErrorIs(t, err, topicqueue.ErrNotFound)
}

func TestRemoveAll(t *testing.T) {
	ctx := context.Background()
	store := memstore.New("/jobs")
	a := addJobs(t, store, "a", 3)
	addJobs(t, store, "b", 2)
	store.AddMalformed("b", "broken record")
	other := addJobs(t, store, "other", 1)

	cache := jobcache.New(store, queueInfo, []string{"a", "b"})
	assert.Equal(t, a[0].Location, nextLocation(ctx, t, cache))

	failing := a[1].Location
	store.FailRemove(failing, fmt.Errorf("locked"))

	numRemoved, err := cache.RemoveAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, numRemoved)

	_, err = store.Get(failing)
	assert.NoError(t, err, "job failing to be removed is skipped")
	_, err = store.Get(other[0].Location)
	assert.NoError(t, err, "jobs of other topics are kept")
	assert.Equal(t, 2, store.Len())

	assert.Equal(t, failing, nextLocation(ctx, t, cache))
	assert.Equal(t, "", nextLocation(ctx, t, cache))
}

func TestNextJobTopicRoundRobin(t *testing.T) {
	ctx := context.Background()
	store := memstore.New("/jobs")
	a := addJobs(t, store, "a", 3)
	b := addJobs(t, store, "b", 1)

	info := queueInfo
	info.Type = topicqueue.QueueTypeTopicRoundRobin
	cache := jobcache.New(store, info, []string{"a", "b", "c"})

	assert.Equal(t, a[0].Location, nextLocation(ctx, t, cache))
	assert.Equal(t, b[0].Location, nextLocation(ctx, t, cache), "topics take turns")
	assert.Equal(t, a[1].Location, nextLocation(ctx, t, cache), "topics without jobs are skipped")
	assert.Equal(t, a[2].Location, nextLocation(ctx, t, cache))
	assert.Equal(t, "", nextLocation(ctx, t, cache))
}

// renamingStore returns all traversed jobs with a wrong topic
type renamingStore struct {
	*memstore.Store
}

func (s renamingStore) OpenSession(ctx context.Context) (topicqueue.Session, error) {
	session, err := s.Store.OpenSession(ctx)
	if err != nil {
		return nil, err
	}
	return renamingSession{session}, nil
}

type renamingSession struct {
	topicqueue.Session
}

func (s renamingSession) Traverse(ctx context.Context, topic string, visit topicqueue.VisitFunc) error {
	return s.Session.Traverse(ctx, topic, func(job *topicqueue.Job) bool {
		renamed := *job
		renamed.Topic = "renamed"
		return visit(&renamed)
	})
}

func TestNextJobSkipsJobsOfOtherTopic(t *testing.T) {
	ctx := context.Background()
	store := memstore.New("/jobs")
	addJobs(t, store, "a", 2)

	cache := jobcache.New(renamingStore{store}, queueInfo, []string{"a"})

	assert.NotPanics(t, func() {
		assert.Equal(t, "", nextLocation(ctx, t, cache))
	})
	assert.Equal(t, 0, cache.NumPreloaded())
}
