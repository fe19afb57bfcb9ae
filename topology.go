package topicqueue

import "context"

// TopologyListener is notified when the local instance
// joins or leaves the set of instances that dispatch jobs.
type TopologyListener interface {
	TopologyChanged(ctx context.Context, active bool)
}

// TopologyListenerFunc implements TopologyListener with a function.
type TopologyListenerFunc func(ctx context.Context, active bool)

func (f TopologyListenerFunc) TopologyChanged(ctx context.Context, active bool) {
	f(ctx, active)
}

// TopologyNotifier delivers topology changes to listeners.
type TopologyNotifier interface {
	AddListener(TopologyListener)
	RemoveListener(TopologyListener)
}
