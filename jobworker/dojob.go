package jobworker

import (
	"context"
	"strings"

	"github.com/domonda/go-errs"
	"github.com/domonda/go-types/nullable"

	"github.com/domonda/go-topicqueue"
)

// DoJob does a job synchronously with the worker
// registered for the job's topic and returns
// the JSON marshalled result of the worker.
//
// The job location and topic are added to the logger
// of the context that's passed to the worker function.
// JobTimeout is applied to that context if not zero.
func DoJob(ctx context.Context, job *topicqueue.Job) (result nullable.JSON, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errs.Errorf("job worker panic: %w", errs.AsErrorWithDebugStack(p))
		}
		errs.WrapWithFuncParams(&err, job)
	}()

	if job == nil {
		return nil, errs.New("can't do nil job")
	}

	workersMtx.RLock()
	worker, hasWorker := workers[job.Topic]
	workersMtx.RUnlock()

	if !hasWorker {
		return nil, errs.Errorf("no worker for job of topic '%s'", job.Topic)
	}

	log, jobCtx := log.With().
		Str("location", job.Location).
		Str("topic", job.Topic).
		SubLoggerContext(ctx)
	if JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(jobCtx, JobTimeout)
		defer cancel()
	}

	workerResult, jobErr := worker.DoJob(jobCtx, job)
	if jobErr != nil {
		errorTitle := errs.Root(jobErr).Error()
		if nl := strings.IndexByte(errorTitle, '\n'); nl > 0 {
			// Only use first line of error message as errorTitle
			errorTitle = errorTitle[:nl]
		}
		errorTitle = strings.TrimSpace(errorTitle)

		OnError(jobErr)
		log.ErrorfCtx(jobCtx, "Job error: %s", errorTitle).
			Any("job", job).
			Err(jobErr).
			Log()

		return nil, jobErr
	}

	return nullable.MarshalJSON(workerResult)
}
