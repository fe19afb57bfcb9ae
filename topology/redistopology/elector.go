// Package redistopology implements a topicqueue.TopologyNotifier
// that makes a single instance of a cluster active
// by electing a leader with a Redis key.
package redistopology

import (
	"context"
	"errors"
	"time"

	"github.com/domonda/go-errs"
	"github.com/domonda/go-types/uu"
	rootlog "github.com/domonda/golog/log"
	"github.com/redis/go-redis/v9"

	"github.com/domonda/go-topicqueue/topology"
)

var log = rootlog.NewPackageLogger()

const (
	DefaultKey      = "topicqueue:leader"
	DefaultTTL      = 15 * time.Second
	DefaultInterval = 5 * time.Second
)

var (
	renewScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		end
		return 0
	`)
	releaseScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		end
		return 0
	`)
)

// Elector is active while the local instance holds
// the leader key in Redis.
type Elector struct {
	*topology.Static

	client   redis.Cmdable
	key      string
	nodeID   string
	ttl      time.Duration
	interval time.Duration
}

type Option func(*Elector)

// WithKey sets the Redis key holding the leader's node ID.
func WithKey(key string) Option {
	return func(e *Elector) { e.key = key }
}

// WithTTL sets how long the leadership is held without renewal.
func WithTTL(ttl time.Duration) Option {
	return func(e *Elector) { e.ttl = ttl }
}

// WithInterval sets how often Run acquires or renews the leadership.
// Must be shorter than the TTL.
func WithInterval(interval time.Duration) Option {
	return func(e *Elector) { e.interval = interval }
}

// WithNodeID sets the ID of the local instance,
// by default a random UUID is used.
func WithNodeID(nodeID string) Option {
	return func(e *Elector) { e.nodeID = nodeID }
}

func New(client redis.Cmdable, opts ...Option) *Elector {
	e := &Elector{
		Static:   topology.NewStatic(false),
		client:   client,
		key:      DefaultKey,
		nodeID:   uu.IDv4().String(),
		ttl:      DefaultTTL,
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Elector) NodeID() string { return e.nodeID }

// Run elects until ctx is done, then releases
// a held leadership and deactivates the topology.
func (e *Elector) Run(ctx context.Context) error {
	if e.interval <= 0 || e.interval >= e.ttl {
		return errs.Errorf("election interval %s must be positive and shorter than the TTL %s", e.interval, e.ttl)
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		_, err := e.Elect(ctx)
		if err != nil {
			log.ErrorCtx(ctx, "Leader election failed").
				Str("nodeID", e.nodeID).
				Err(err).
				Log()
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			// ctx is done, use a fresh one to release
			releaseCtx, cancel := context.WithTimeout(context.Background(), e.interval)
			defer cancel()
			return e.Release(releaseCtx)
		}
	}
}

// Elect acquires or renews the leadership once
// and updates the topology state accordingly.
// An error deactivates the topology because
// the leadership can't be confirmed.
func (e *Elector) Elect(ctx context.Context) (leader bool, err error) {
	defer errs.WrapWithFuncParams(&err, ctx)

	if e.IsActive() {
		leader, err = e.renew(ctx)
	} else {
		leader, err = e.client.SetNX(ctx, e.key, e.nodeID, e.ttl).Result()
	}
	if err != nil {
		e.SetActive(ctx, false)
		return false, err
	}
	e.SetActive(ctx, leader)
	return leader, nil
}

func (e *Elector) renew(ctx context.Context) (bool, error) {
	n, err := renewScript.Run(ctx, e.client, []string{e.key}, e.nodeID, e.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Release gives up a held leadership and deactivates the topology.
func (e *Elector) Release(ctx context.Context) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx)

	e.SetActive(ctx, false)

	err = releaseScript.Run(ctx, e.client, []string{e.key}, e.nodeID).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// Leader returns the node ID of the current leader
// or an empty string if there is none.
func (e *Elector) Leader(ctx context.Context) (string, error) {
	nodeID, err := e.client.Get(ctx, e.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return nodeID, err
}
