package jobstoredb

import (
	"context"

	"github.com/domonda/go-errs"
	"github.com/domonda/go-sqldb/db"
)

// JobAddedChannel is the LISTEN/NOTIFY channel
// the insert trigger of worker.topic_job notifies.
const JobAddedChannel = "topic_job_added"

// Schema creates the worker.topic_job table
// and its job added notification trigger.
const Schema = /*sql*/ `
	create schema if not exists worker;

	create table if not exists worker.topic_job (
		seq                bigserial primary key,
		location           text not null unique,
		topic              text not null,
		payload            text,
		retries            int not null default 0,
		processing_started timestamptz,
		created_at         timestamptz not null default now()
	);

	create index if not exists topic_job_topic_seq_idx on worker.topic_job (topic, seq);

	create or replace function worker.notify_topic_job_added() returns trigger as $$
	begin
		perform pg_notify(
			'topic_job_added',
			json_build_object('topic', new.topic, 'location', new.location)::text
		);
		return new;
	end
	$$ language plpgsql;

	drop trigger if exists topic_job_added on worker.topic_job;
	create trigger topic_job_added
		after insert on worker.topic_job
		for each row execute function worker.notify_topic_job_added();
`

// CreateSchema executes Schema.
func CreateSchema(ctx context.Context) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx)

	return db.Exec(ctx, Schema)
}
