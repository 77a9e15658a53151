package event

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helpboard_events_published_total",
			Help: "Domain events published to the dispatcher",
		},
		[]string{"kind"},
	)

	observerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helpboard_observer_failures_total",
			Help: "Observer invocations that returned an error or panicked",
		},
		[]string{"observer", "kind"},
	)
)

// Observer is invoked for every published event and filters by kind itself.
// Implementations must be comparable (pointer receivers) so they can be
// unregistered.
type Observer interface {
	Name() string
	Notify(ctx context.Context, ev Event) error
}

// Publisher is what producers of domain events depend on.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Dispatcher relays events to registered observers in registration order. A
// failing observer is logged and skipped; it never stops the others and never
// reaches the publisher.
type Dispatcher struct {
	mu        sync.RWMutex
	observers []Observer
	log       *zap.Logger
}

func NewDispatcher(log *zap.Logger) *Dispatcher {
	return &Dispatcher{log: log.Named("dispatcher")}
}

func (d *Dispatcher) Register(o Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, o)
}

func (d *Dispatcher) Unregister(o Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = slices.DeleteFunc(d.observers, func(cur Observer) bool { return cur == o })
}

func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.observers)
}

func (d *Dispatcher) Publish(ctx context.Context, ev Event) {
	d.mu.RLock()
	observers := slices.Clone(d.observers)
	d.mu.RUnlock()

	eventsPublished.WithLabelValues(string(ev.Kind())).Inc()
	for _, o := range observers {
		if err := d.notify(ctx, o, ev); err != nil {
			observerFailures.WithLabelValues(o.Name(), string(ev.Kind())).Inc()
			d.log.Error("observer failed",
				zap.String("observer", o.Name()),
				zap.String("kind", string(ev.Kind())),
				zap.Error(err))
		}
	}
}

func (d *Dispatcher) notify(ctx context.Context, o Observer, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panicked: %v", r)
		}
	}()
	return o.Notify(ctx, ev)
}
