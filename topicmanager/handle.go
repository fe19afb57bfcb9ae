package topicmanager

import (
	"context"
	"fmt"

	"github.com/domonda/go-errs"

	"github.com/domonda/go-topicqueue"
)

// JobHandle is returned by Manager.Take and pairs
// a claimed job with the queue it was taken from.
type JobHandle struct {
	Job   *topicqueue.Job
	Queue topicqueue.QueueInfo

	manager *Manager
}

// Finished removes the processed job from the store.
func (h *JobHandle) Finished(ctx context.Context) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx, h)

	return h.remove(ctx)
}

// Cancel removes a job that failed for good from the store.
func (h *JobHandle) Cancel(ctx context.Context) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx, h)

	log.Info("Canceling job").
		Str("queue", h.Queue.Name).
		Str("location", h.Job.Location).
		Int("retries", h.Job.Retries).
		Log()
	return h.remove(ctx)
}

func (h *JobHandle) remove(ctx context.Context) error {
	session, err := h.manager.store.OpenSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	err = session.Remove(ctx, h.Job.Location)
	if err != nil {
		return err
	}
	return session.Commit(ctx)
}

// Reschedule makes the job eligible again, see Manager.Reschedule.
func (h *JobHandle) Reschedule(ctx context.Context) error {
	return h.manager.Reschedule(ctx, h)
}

// String implements the fmt.Stringer interface.
// Valid to call on a nil receiver.
func (h *JobHandle) String() string {
	if h == nil {
		return "nil JobHandle"
	}
	return fmt.Sprintf("%s in queue %q", h.Job, h.Queue.Name)
}
