/*
Package topicmanager routes the topics of stored jobs to queues
and dispatches the jobs of every queue to exactly one consumer.

# Topics and queues

The Manager keeps a registry of all topics found in the store.
Every topic is routed to a queue by a topicqueue.QueueConfigResolver
and the topics of a queue share a jobcache.Cache that preloads
their next jobs. The topic to queue mapping is rebuilt with new caches
whenever the resolver's change count advances or a new topic shows up.

# Dispatching

A single worker goroutine per queue calls Take, which blocks until
a job of the queue becomes available:

	for {
		handle, err := manager.Take(ctx, queueName)
		if err != nil || handle == nil {
			return
		}
		// process handle.Job
		handle.Finished(ctx)
	}

Job added notifications passed to HandleEvent wake the waiting Take
of the job's queue. Stop makes a waiting Take return nil.

# Topology

The Manager implements topicqueue.TopologyListener.
It only reacts to job events while the topology is active
and rescans the store for topics every time it becomes active.
*/
package topicmanager
