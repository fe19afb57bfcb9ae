package jobstoredb

import (
	"context"
	"slices"

	"github.com/domonda/go-errs"
	"github.com/domonda/go-sqldb"
	"github.com/domonda/go-sqldb/db"
	"github.com/domonda/go-types/nullable"

	"github.com/domonda/go-topicqueue"
)

// session executes claims and resets immediately
// and collects removals until Commit.
type session struct {
	store    *Store
	removals []string
	finished bool
}

func (s *session) check() error {
	if s.finished {
		return topicqueue.ErrSessionFinished
	}
	if s.store.closed.Load() {
		return topicqueue.ErrClosed
	}
	return nil
}

func (s *session) Topics(ctx context.Context) (topics []string, err error) {
	defer errs.WrapWithFuncParams(&err, ctx)

	if err = s.check(); err != nil {
		return nil, err
	}

	var rows []struct {
		Topic string `db:"topic"`
	}
	err = db.QueryRows(ctx,
		/*sql*/ `
			select distinct topic
			from worker.topic_job
			where starts_with(location, $1)
				and topic <> ''
			order by topic
		`,
		s.store.locationPrefix(),
	).ScanStructSlice(&rows)
	if err != nil {
		return nil, err
	}
	topics = make([]string, len(rows))
	for i, row := range rows {
		topics[i] = row.Topic
	}
	return topics, nil
}

func (s *session) Traverse(ctx context.Context, topic string, visit topicqueue.VisitFunc) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx, topic)

	if err = s.check(); err != nil {
		return err
	}

	lastSeq := int64(0)
	for {
		var rows []*jobRow
		err = db.QueryRows(ctx,
			/*sql*/ `
				select *
				from worker.topic_job
				where topic = $1
					and starts_with(location, $2)
					and seq > $3
				order by seq
				limit $4
			`,
			topic,                    // $1
			s.store.locationPrefix(), // $2
			lastSeq,                  // $3
			traversePageSize,         // $4
		).ScanStructSlice(&rows)
		if err != nil {
			return err
		}

		for _, row := range rows {
			if !visit(row.job()) {
				return nil
			}
			lastSeq = row.Seq
		}
		if len(rows) < traversePageSize {
			return nil
		}
	}
}

func (s *session) Claim(ctx context.Context, job *topicqueue.Job) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx, job)

	if err = s.check(); err != nil {
		return err
	}

	var started nullable.Time
	err = db.QueryRow(ctx,
		/*sql*/ `
			update worker.topic_job
			set processing_started = now()
			where location = $1
				and processing_started is null
			returning processing_started
		`,
		job.Location,
	).Scan(&started)
	if sqldb.ReplaceErrNoRows(err, nil) != nil {
		return err
	}
	if started.IsNotNull() {
		job.ProcessingStarted = started
		return nil
	}

	exists, err := s.exists(ctx, job.Location)
	if err != nil {
		return err
	}
	if !exists {
		return topicqueue.ErrNotFound
	}
	return topicqueue.ErrAlreadyClaimed
}

func (s *session) Reset(ctx context.Context, job *topicqueue.Job) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx, job)

	if err = s.check(); err != nil {
		return err
	}

	err = db.QueryRow(ctx,
		/*sql*/ `
			update worker.topic_job
			set
				processing_started = null,
				retries = retries + 1
			where location = $1
			returning retries
		`,
		job.Location,
	).Scan(&job.Retries)
	if err != nil {
		return sqldb.ReplaceErrNoRows(err, topicqueue.ErrNotFound)
	}
	job.ProcessingStarted = nullable.Time{}
	return nil
}

func (s *session) Remove(ctx context.Context, location string) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx, location)

	if err = s.check(); err != nil {
		return err
	}

	exists, err := s.exists(ctx, location)
	if err != nil {
		return err
	}
	if !exists {
		return topicqueue.ErrNotFound
	}
	if !slices.Contains(s.removals, location) {
		s.removals = append(s.removals, location)
	}
	return nil
}

func (s *session) Commit(ctx context.Context) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx)

	if err = s.check(); err != nil {
		return err
	}
	if len(s.removals) == 0 {
		return nil
	}

	err = db.Transaction(ctx, func(ctx context.Context) error {
		for _, location := range s.removals {
			err := db.Exec(ctx,
				/*sql*/ `delete from worker.topic_job where location = $1`,
				location,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Debug("Committed job removals").Int("numRemoved", len(s.removals)).Log()
	s.removals = nil
	return nil
}

func (s *session) Close() error {
	s.finished = true
	s.removals = nil
	return nil
}

func (s *session) exists(ctx context.Context, location string) (bool, error) {
	return db.QueryValue[bool](ctx,
		/*sql*/ `select exists(select 1 from worker.topic_job where location = $1)`,
		location,
	)
}
