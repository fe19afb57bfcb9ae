package jobworker

import (
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/domonda/go-topicqueue"
	"github.com/domonda/go-topicqueue/topicmanager"
)

var _ topicmanager.QueueStarter = (*Pool)(nil)

// Pool runs one loop per queue that takes the jobs
// of the queue from a topicmanager.Manager and does them
// with the registered workers.
//
// A queue processes up to QueueInfo.Parallel jobs at the same time.
// Failed jobs are rescheduled after the queue's retry delay
// until the queue's retries are exhausted,
// after that they are canceled and removed from the store.
type Pool struct {
	mtx      sync.Mutex
	queues   map[string]*runningQueue
	finished bool
	wg       sync.WaitGroup
}

type runningQueue struct {
	info   topicqueue.QueueInfo
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPool() *Pool {
	return &Pool{queues: make(map[string]*runningQueue)}
}

// StartQueue implements topicmanager.QueueStarter.
// Starting an already running queue is a no-op
// if info is unchanged, else the loop of the queue is
// restarted with info after its jobs in progress are done.
func (p *Pool) StartQueue(m *topicmanager.Manager, info topicqueue.QueueInfo) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if p.finished {
		log.Debug("Not starting queue of finished pool").Str("queue", info.Name).Log()
		return
	}
	previous := p.queues[info.Name]
	if previous != nil {
		if previous.info == info {
			return
		}
		log.Info("Restarting queue with changed configuration").
			Str("queue", info.Name).
			Str("info", info.String()).
			Log()
		previous.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &runningQueue{
		info:   info,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	p.queues[info.Name] = q
	p.wg.Add(1)
	go func() {
		if previous != nil {
			// Only one Take per queue at a time
			<-previous.done
		}
		p.runQueue(ctx, m, q)
	}()
}

// QueueInfo returns the info the loop of a running queue uses.
func (p *Pool) QueueInfo(queueName string) (info topicqueue.QueueInfo, running bool) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	q := p.queues[queueName]
	if q == nil {
		return topicqueue.QueueInfo{}, false
	}
	return q.info, true
}

func (p *Pool) runQueue(ctx context.Context, m *topicmanager.Manager, q *runningQueue) {
	defer p.wg.Done()
	defer close(q.done)
	defer func() {
		p.mtx.Lock()
		if p.queues[q.info.Name] == q {
			delete(p.queues, q.info.Name)
		}
		p.mtx.Unlock()
	}()

	log, ctx := log.With().
		Str("queue", q.info.Name).
		SubLoggerContext(ctx)

	log.Debug("Starting the queue loop").Int("parallel", q.info.Parallel()).Log()
	defer log.Debug("Queue loop ended").Log()

	var (
		sem  = semaphore.NewWeighted(int64(q.info.Parallel()))
		jobs sync.WaitGroup
	)
	// Jobs in progress are finished when the loop stops
	defer jobs.Wait()

	for {
		err := sem.Acquire(ctx, 1)
		if err != nil {
			return
		}

		handle, err := m.Take(ctx, q.info.Name)
		if err != nil {
			sem.Release(1)
			if ctx.Err() != nil {
				return
			}
			OnError(err)
			log.ErrorCtx(ctx, "Error while taking the next job").Err(err).Log()
			select {
			case <-time.After(TakeErrorDelay):
				continue
			case <-ctx.Done():
				return
			}
		}
		if handle == nil {
			sem.Release(1)
			return
		}

		jobs.Add(1)
		go func() {
			defer jobs.Done()
			defer sem.Release(1)

			p.process(ctx, handle)
		}()
	}
}

// process does the job of handle. The job itself is not canceled
// by stopCtx, only the wait before a retry.
func (p *Pool) process(stopCtx context.Context, handle *topicmanager.JobHandle) {
	ctx := context.WithoutCancel(stopCtx)

	_, err := DoJob(ctx, handle.Job)
	if err == nil {
		err = handle.Finished(ctx)
		if err != nil {
			OnError(err)
			log.ErrorCtx(ctx, "Error while removing the finished job").
				Any("job", handle.Job).
				Err(err).
				Log()
		}
		return
	}

	if handle.Job.Retries >= handle.Queue.Retries {
		log.ErrorCtx(ctx, "Job failed and has no retries left, canceling it").
			Any("job", handle.Job).
			Int("retries", handle.Job.Retries).
			Err(err).
			Log()
		err = handle.Cancel(ctx)
		if err != nil {
			OnError(err)
			log.ErrorCtx(ctx, "Error while canceling the failed job").
				Any("job", handle.Job).
				Err(err).
				Log()
		}
		return
	}

	select {
	case <-time.After(handle.Queue.RetryDelay):
	case <-stopCtx.Done():
	}
	err = handle.Reschedule(ctx)
	if err != nil {
		OnError(err)
		log.ErrorCtx(ctx, "Error while rescheduling the failed job").
			Any("job", handle.Job).
			Err(err).
			Log()
	}
}

// StopQueue stops the loop of a queue and waits until
// its jobs in progress are done.
func (p *Pool) StopQueue(queueName string) {
	p.mtx.Lock()
	q := p.queues[queueName]
	p.mtx.Unlock()

	if q == nil {
		return
	}
	q.cancel()
	<-q.done
}

// RunningQueues returns the sorted names of the running queues.
func (p *Pool) RunningQueues() []string {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	names := make([]string, 0, len(p.queues))
	for name := range p.queues {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Finish stops all queue loops and waits until all jobs
// in progress are done. No queues are started afterwards.
func (p *Pool) Finish() {
	log.Debug("Finishing queues").Log()

	p.mtx.Lock()
	p.finished = true
	for _, q := range p.queues {
		q.cancel()
	}
	p.mtx.Unlock()

	p.wg.Wait()

	log.Info("Queues have finished").Log()
}
