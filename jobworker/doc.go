/*
Package jobworker provides worker registration, execution logic,
and the per queue worker pool for a topicmanager.Manager.

# Worker Registration

Workers are registered per job topic:

	func sendEmail(ctx context.Context, payload *EmailPayload) error {
		// Send email
		return nil
	}
	jobworker.RegisterFunc("mail/send", sendEmail)

	jobworker.Register("mail/bounce", jobworker.WorkerFunc(
		func(ctx context.Context, job *topicqueue.Job) (any, error) {
			// Custom logic
			return result, nil
		},
	))

The payload type is automatically unmarshalled from the job's JSON payload.

# Pool

A Pool is passed as QueueStarter to the topic manager
which starts a loop for every queue that has topics:

	pool := jobworker.NewPool()
	manager, err := topicmanager.New(topicmanager.Config{
		Store:    store,
		Resolver: resolver,
		Starter:  pool,
	})
	if err != nil {
		return err
	}
	manager.Open(topology.NewStatic(true))
	defer pool.Finish()
	defer manager.Close()

Failed jobs are rescheduled after the RetryDelay of their queue
as long as the job's retry count is below the queue's Retries.
*/
package jobworker
