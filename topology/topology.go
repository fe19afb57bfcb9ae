// Package topology provides topicqueue.TopologyNotifier implementations.
package topology

import (
	"context"
	"reflect"
	"slices"
	"sync"

	rootlog "github.com/domonda/golog/log"

	"github.com/domonda/go-topicqueue"
)

var log = rootlog.NewPackageLogger()

var _ topicqueue.TopologyNotifier = (*Static)(nil)

// Static is a TopologyNotifier whose state is set explicitly,
// for single instance setups or as base of other notifiers.
// Safe for concurrent use.
type Static struct {
	mtx       sync.Mutex
	active    bool
	listeners []topicqueue.TopologyListener
}

// NewStatic returns a Static notifier with the passed initial state.
func NewStatic(active bool) *Static {
	return &Static{active: active}
}

// AddListener adds a listener. If the topology is active
// the listener is notified immediately.
func (s *Static) AddListener(listener topicqueue.TopologyListener) {
	s.mtx.Lock()
	s.listeners = append(s.listeners, listener)
	active := s.active
	s.mtx.Unlock()

	if active {
		listener.TopologyChanged(context.Background(), true)
	}
}

// RemoveListener removes a listener added with AddListener.
// Function listeners like topicqueue.TopologyListenerFunc are identified
// by their code pointer, so all closures of the same function literal
// are removed together.
func (s *Static) RemoveListener(listener topicqueue.TopologyListener) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.listeners = slices.DeleteFunc(s.listeners, func(l topicqueue.TopologyListener) bool {
		return sameListener(l, listener)
	})
}

// sameListener compares listeners without panicking
// for dynamic types that are not comparable.
func sameListener(a, b topicqueue.TopologyListener) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if !va.IsValid() || !vb.IsValid() {
		return !va.IsValid() && !vb.IsValid()
	}
	if va.Type() != vb.Type() {
		return false
	}
	if va.Kind() == reflect.Func {
		return va.Pointer() == vb.Pointer()
	}
	if !va.Comparable() {
		return false
	}
	return a == b
}

func (s *Static) IsActive() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.active
}

// SetActive changes the state and notifies all listeners
// if it differs from the current one.
func (s *Static) SetActive(ctx context.Context, active bool) {
	s.mtx.Lock()
	if s.active == active {
		s.mtx.Unlock()
		return
	}
	s.active = active
	listeners := slices.Clone(s.listeners)
	s.mtx.Unlock()

	log.Info("Topology changed").
		Any("active", active).
		Int("numListeners", len(listeners)).
		Log()

	for _, listener := range listeners {
		listener.TopologyChanged(ctx, active)
	}
}
