package topicqueue

import (
	"cmp"
	"fmt"
	"time"

	"github.com/domonda/go-types/nullable"
)

// Job is a persisted work item read from a Store.
type Job struct {
	Topic    string `db:"topic"    json:"topic"`
	Location string `db:"location" json:"location"` // Opaque handle into the store
	Seq      int64  `db:"seq"      json:"seq"`      // Creation sequence assigned by the store

	Payload nullable.JSON `db:"payload" json:"payload"`
	Retries int           `db:"retries" json:"retries"` // Number of times the job was rescheduled

	ProcessingStarted nullable.Time `db:"processing_started" json:"processingStarted"` // Set when a consumer claimed the job

	// ReadError is set when the stored record could not be read
	// into a valid Job. Such jobs are never dispatched.
	ReadError string `db:"-" json:"readError,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// IsClaimed returns if ProcessingStarted is not null.
// Valid to call on a nil receiver.
func (j *Job) IsClaimed() bool {
	if j == nil {
		return false
	}
	return j.ProcessingStarted.IsNotNull()
}

// HasReadErrors returns true if the stored record of the job was malformed.
// Valid to call on a nil receiver.
func (j *Job) HasReadErrors() bool {
	return j != nil && j.ReadError != ""
}

// IsEligible returns true if the job may be handed out to a consumer,
// meaning it is neither claimed nor malformed.
func (j *Job) IsEligible() bool {
	return j != nil && !j.IsClaimed() && !j.HasReadErrors()
}

// Compare orders jobs by creation, first by Seq then by Location.
// It returns a negative number if j was created before other.
func (j *Job) Compare(other *Job) int {
	if c := cmp.Compare(j.Seq, other.Seq); c != 0 {
		return c
	}
	return cmp.Compare(j.Location, other.Location)
}

// String implements the fmt.Stringer interface.
// Valid to call on a nil receiver.
func (j *Job) String() string {
	if j == nil {
		return "nil Job"
	}
	return fmt.Sprintf("Job %s, topic %s, seq %d, created at %s", j.Location, j.Topic, j.Seq, j.CreatedAt)
}
