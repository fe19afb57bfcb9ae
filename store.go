package topicqueue

import "context"

// VisitFunc is called for every job of a traversal.
// Returning false stops the traversal.
type VisitFunc func(job *Job) (more bool)

// Store is the durable content store holding the job records.
type Store interface {
	// JobsRoot returns the root under which job records are stored.
	JobsRoot() string

	// OpenSession opens a short-lived session against the store.
	// The caller must Close the session.
	OpenSession(ctx context.Context) (Session, error)
}

// Session is a scoped session against a Store.
// A Session is not safe for concurrent use.
type Session interface {
	// Topics returns the topics of all stored jobs.
	Topics(ctx context.Context) ([]string, error)

	// Traverse calls visit for the jobs of topic in ascending
	// creation order until visit returns false.
	// Malformed records are passed to visit with Job.ReadError set.
	Traverse(ctx context.Context, topic string, visit VisitFunc) error

	// Claim atomically sets ProcessingStarted of the job at location
	// if it is not set yet. It returns ErrAlreadyClaimed if another
	// consumer claimed the job first and ErrNotFound if there is no such job.
	Claim(ctx context.Context, job *Job) error

	// Reset clears ProcessingStarted of the job at location
	// and increments its retry counter, making it eligible again.
	Reset(ctx context.Context, job *Job) error

	// Remove stages the removal of the job at location.
	// Staged removals take effect with Commit.
	Remove(ctx context.Context, location string) error

	// Commit applies all staged changes at once.
	Commit(ctx context.Context) error

	// Close releases the session and discards uncommitted changes.
	Close() error
}

// JobAddedSource is implemented by a Store that can notify
// about jobs written to it.
type JobAddedSource interface {
	// SetJobAddedListener sets a callback that is called with the topic
	// of every job added to the store. Passing nil removes the listener.
	SetJobAddedListener(ctx context.Context, callback func(topic string)) error
}
