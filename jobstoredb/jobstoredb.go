package jobstoredb

import (
	"context"
	"encoding/json"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/domonda/go-errs"
	"github.com/domonda/go-sqldb/db"
	"github.com/domonda/go-types/nullable"
	"github.com/domonda/go-types/uu"
	rootlog "github.com/domonda/golog/log"

	"github.com/domonda/go-topicqueue"
)

var log = rootlog.NewPackageLogger()

var (
	_ topicqueue.Store          = (*Store)(nil)
	_ topicqueue.JobAddedSource = (*Store)(nil)
)

// traversePageSize is the number of rows read per query of a traversal.
const traversePageSize = 50

// Store is a topicqueue.Store backed by the worker.topic_job table
// of the database connection set with db.SetConn.
// Only jobs with a location below the jobs root belong to the Store.
type Store struct {
	root string

	listenerMtx    sync.Mutex
	hasJobListener bool
	closed         atomic.Bool
}

func New(jobsRoot string) *Store {
	return &Store{root: strings.TrimSuffix(jobsRoot, "/")}
}

func (s *Store) JobsRoot() string { return s.root }

func (s *Store) locationPrefix() string { return s.root + "/" }

// AddJob inserts a job for topic with the JSON marshalled payload.
// The insert trigger notifies all listening stores.
func (s *Store) AddJob(ctx context.Context, topic string, payload any) (job *topicqueue.Job, err error) {
	defer errs.WrapWithFuncParams(&err, ctx, topic, payload)

	if s.closed.Load() {
		return nil, topicqueue.ErrClosed
	}
	if topic == "" {
		return nil, errs.New("empty topic")
	}
	payloadJSON, err := nullable.MarshalJSON(payload)
	if err != nil {
		return nil, err
	}

	job = &topicqueue.Job{
		Topic:    topic,
		Location: path.Join(s.root, topic, uu.IDv4().String()),
		Payload:  payloadJSON,
	}
	err = db.QueryRow(ctx,
		/*sql*/ `
			insert into worker.topic_job (location, topic, payload)
			values ($1, $2, $3)
			returning seq, created_at
		`,
		job.Location,             // $1
		job.Topic,                // $2
		payloadText(payloadJSON), // $3
	).Scan(
		&job.Seq,
		&job.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func payloadText(payload nullable.JSON) any {
	if len(payload) == 0 {
		return nil
	}
	return string(payload)
}

// GetJob returns the job at location or topicqueue.ErrNotFound.
func (s *Store) GetJob(ctx context.Context, location string) (job *topicqueue.Job, err error) {
	defer errs.WrapWithFuncParams(&err, ctx, location)

	var rows []*jobRow
	err = db.QueryRows(ctx,
		/*sql*/ `select * from worker.topic_job where location = $1`,
		location,
	).ScanStructSlice(&rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, topicqueue.ErrNotFound
	}
	return rows[0].job(), nil
}

// ResetClaimedBefore resets all jobs below the jobs root
// that were claimed before the passed time and returns their number.
// Used to recover jobs of consumers that crashed while processing.
func (s *Store) ResetClaimedBefore(ctx context.Context, before time.Time) (numReset int, err error) {
	defer errs.WrapWithFuncParams(&err, ctx, before)

	return db.QueryValue[int](ctx,
		/*sql*/ `
			with resets as (
				update worker.topic_job
				set
					processing_started = null,
					retries = retries + 1
				where starts_with(location, $1)
					and processing_started < $2
				returning seq
			)
			select count(*) from resets
		`,
		s.locationPrefix(), // $1
		before,             // $2
	)
}

// OpenSession implements topicqueue.Store.
func (s *Store) OpenSession(ctx context.Context) (topicqueue.Session, error) {
	if s.closed.Load() {
		return nil, topicqueue.ErrClosed
	}
	return &session{store: s}, nil
}

// SetJobAddedListener implements topicqueue.JobAddedSource
// by listening on JobAddedChannel.
func (s *Store) SetJobAddedListener(ctx context.Context, callback func(topic string)) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx)

	s.listenerMtx.Lock()
	defer s.listenerMtx.Unlock()

	if s.hasJobListener {
		err = db.Conn(ctx).UnlistenChannel(JobAddedChannel)
		if err != nil {
			return err
		}
		s.hasJobListener = false
	}

	if callback == nil {
		return nil
	}
	if s.closed.Load() {
		return topicqueue.ErrClosed
	}

	onJobAdded := func(channel, payload string) {
		defer errs.RecoverAndLogPanicWithFuncParams(log.ErrorWriter(), channel, payload)

		if s.closed.Load() {
			return
		}

		var added struct {
			Topic    string `json:"topic"`
			Location string `json:"location"`
		}
		err := json.Unmarshal([]byte(payload), &added)
		if err != nil {
			log.Error("Can't parse job added notification").
				Str("payload", payload).
				Err(err).
				Log()
			return
		}
		if !strings.HasPrefix(added.Location, s.locationPrefix()) {
			return
		}
		callback(added.Topic)
	}

	err = db.Conn(ctx).ListenOnChannel(JobAddedChannel, onJobAdded, nil)
	if err != nil {
		return err
	}
	s.hasJobListener = true
	return nil
}

// Close stops listening for added jobs,
// all further operations return topicqueue.ErrClosed.
func (s *Store) Close(ctx context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.SetJobAddedListener(ctx, nil)
}

type jobRow struct {
	Seq               int64         `db:"seq"`
	Location          string        `db:"location"`
	Topic             string        `db:"topic"`
	Payload           *string       `db:"payload"`
	Retries           int           `db:"retries"`
	ProcessingStarted nullable.Time `db:"processing_started"`
	CreatedAt         time.Time     `db:"created_at"`
}

// job converts the row to a Job,
// rows that don't form a valid Job get a ReadError.
func (r *jobRow) job() *topicqueue.Job {
	job := &topicqueue.Job{
		Topic:             r.Topic,
		Location:          r.Location,
		Seq:               r.Seq,
		Retries:           r.Retries,
		ProcessingStarted: r.ProcessingStarted,
		CreatedAt:         r.CreatedAt,
	}
	switch {
	case r.Topic == "":
		job.ReadError = "job without topic"
	case r.Payload != nil && !json.Valid([]byte(*r.Payload)):
		job.ReadError = "job payload is not valid JSON"
	case r.Payload != nil:
		job.Payload = nullable.JSON(*r.Payload)
	}
	return job
}
