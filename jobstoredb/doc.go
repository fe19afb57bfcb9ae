/*
Package jobstoredb provides a PostgreSQL topicqueue.Store.

Jobs are rows of the worker.topic_job table, see Schema.
A Store only sees the rows whose location is below its jobs root,
so multiple stores can share the table.

# Connection Management

The package uses github.com/domonda/go-sqldb/db for database connections.
Set up the database connection before using a Store:

	import "github.com/domonda/go-sqldb/db"
	db.SetConn(postgresConnection)

	err := jobstoredb.CreateSchema(ctx)
	store := jobstoredb.New("/jobs")
	defer store.Close(ctx)

# LISTEN/NOTIFY

An insert trigger notifies the channel JobAddedChannel
with the topic and location of every new job.
SetJobAddedListener listens on that channel,
so a topicmanager.Manager learns about jobs added by any process.

# Sessions

Claims and resets of a session are executed immediately
as single atomic statements. Removals are collected
and deleted in one transaction by Commit.
*/
package jobstoredb
