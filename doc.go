/*
Package topicqueue routes persisted jobs by topic to queues
and dispatches them to queue workers.

# Overview

Jobs are stored under a topic like "mail/send" in a Store.
A QueueConfigResolver maps every topic to a queue described by a QueueInfo.
The topicmanager package keeps the topic to queue mapping up to date
and hands out the jobs of every queue, oldest first,
to the single consumer of the queue.

# Basic Usage

	import (
		"context"
		"github.com/domonda/go-topicqueue/jobstoredb"
		"github.com/domonda/go-topicqueue/jobworker"
		"github.com/domonda/go-topicqueue/queueconfig"
		"github.com/domonda/go-topicqueue/topicmanager"
		"github.com/domonda/go-topicqueue/topology"
	)

	func main() {
		ctx := context.Background()

		store := jobstoredb.New("/jobs")
		resolver, err := queueconfig.Load("queues.yaml")
		if err != nil {
			panic(err)
		}

		// Register a worker
		jobworker.RegisterFunc("mail/send", sendMail)

		pool := jobworker.NewPool()
		manager, err := topicmanager.New(topicmanager.Config{
			Store:    store,
			Resolver: resolver,
			Starter:  pool,
		})
		if err != nil {
			panic(err)
		}
		manager.Open(topology.NewStatic(true))
		defer pool.Finish()
		defer manager.Close()

		// Add jobs
		store.AddJob(ctx, "mail/send", payload)
	}

# Queues

Unordered queues process up to MaxParallel jobs at the same time,
ordered queues one job at a time in creation order.
Failed jobs are rescheduled until the queue's retries are exhausted.

# Topology

In a cluster only the active instances dispatch jobs.
A TopologyNotifier tells the topic manager when
the local instance becomes active or inactive,
see the topology and topology/redistopology packages.

# Error Handling

All errors are wrapped using github.com/domonda/go-errs for stack traces.
Worker function errors are logged and the job is rescheduled.
*/
package topicqueue
