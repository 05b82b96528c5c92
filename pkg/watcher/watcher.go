package watcher

import (
	"context"
	"math"
	"sync"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/openshift/cluster-ha-controller/pkg/eventbroker"
	"github.com/openshift/cluster-ha-controller/pkg/healthevent"
	"github.com/openshift/cluster-ha-controller/pkg/metrics"
)

const (
	DefaultConnectionTimeout = 30 * time.Second

	defaultBackoffDuration = time.Second
	defaultBackoffCap      = 30 * time.Second
)

// Publisher is satisfied by *eventbroker.Broker.
type Publisher interface {
	Publish(ctx context.Context, c eventbroker.Component, ev *healthevent.HealthEvent) error
}

// Options tune a Watcher. Zero values select the defaults.
type Options struct {
	// ConnectionTimeout bounds a single watch connection. The watcher
	// reconnects when the server closes it.
	ConnectionTimeout time.Duration
	// Backoff spaces reconnect attempts. It is reset after every connection
	// that delivered at least one event.
	Backoff wait.Backoff
	// Location is stamped into every emitted event.
	Location healthevent.Location
	Clock    clock.Clock
}

// Watcher turns the watch stream of one object class into deduplicated
// health events. Its state is owned by the goroutine running Run.
type Watcher struct {
	class     Class
	publisher Publisher
	opts      Options

	// readiness is the last observed readiness per resource name.
	readiness map[string]Readiness
	// published is the last status published per resource name.
	published map[string]healthevent.Status

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a Watcher for class publishing through publisher.
func New(class Class, publisher Publisher, opts Options) *Watcher {
	if opts.ConnectionTimeout <= 0 {
		opts.ConnectionTimeout = DefaultConnectionTimeout
	}
	if opts.Backoff.Duration <= 0 {
		opts.Backoff = wait.Backoff{
			Duration: defaultBackoffDuration,
			Factor:   2,
			Jitter:   0.1,
			Steps:    10,
			Cap:      defaultBackoffCap,
		}
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	return &Watcher{
		class:     class,
		publisher: publisher,
		opts:      opts,
		readiness: map[string]Readiness{},
		published: map[string]healthevent.Status{},
		stopCh:    make(chan struct{}),
	}
}

// Stop asks Run to return. It is safe to call more than once and from any
// goroutine.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run watches until ctx is done or Stop is called. It always returns nil on
// cancellation; connection failures are retried.
func (w *Watcher) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	klog.Infof("starting %s watcher", w.class.Name)
	defer klog.Infof("%s watcher stopped", w.class.Name)

	backoff := w.opts.Backoff
	for {
		if ctx.Err() != nil {
			return nil
		}

		timeout := int64(math.Ceil(w.opts.ConnectionTimeout.Seconds()))
		wi, err := w.class.Watch(ctx, metav1.ListOptions{TimeoutSeconds: &timeout})
		if err != nil {
			klog.Warningf("failed to watch %s: %v", w.class.Name, err)
		} else {
			received, cancelled := w.consume(ctx, wi)
			if cancelled {
				return nil
			}
			if received {
				backoff = w.opts.Backoff
			}
			klog.V(2).Infof("%s watch connection closed, reconnecting", w.class.Name)
		}

		metrics.WatcherReconnects.WithLabelValues(w.class.Name).Inc()
		if !w.sleep(ctx, backoff.Step()) {
			return nil
		}
	}
}

func (w *Watcher) sleep(ctx context.Context, d time.Duration) bool {
	t := w.opts.Clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C():
		return true
	}
}

// consume processes one connection in delivery order. cancelled is true when
// ctx ended the connection; buffered events are then discarded unprocessed.
func (w *Watcher) consume(ctx context.Context, wi watch.Interface) (received, cancelled bool) {
	defer wi.Stop()
	results := wi.ResultChan()
	for {
		select {
		case <-ctx.Done():
			w.discard(wi)
			return received, true
		case ev, ok := <-results:
			if !ok {
				return received, false
			}
			// checked between every pair of events
			if ctx.Err() != nil {
				w.discard(wi)
				return received, true
			}
			received = true
			w.handle(ctx, ev)
		}
	}
}

// discard stops the watch and drops whatever is still buffered.
func (w *Watcher) discard(wi watch.Interface) {
	wi.Stop()
	dropped := 0
	for {
		select {
		case _, ok := <-wi.ResultChan():
			if !ok {
				klog.V(2).Infof("%s watcher discarded %d buffered events on stop", w.class.Name, dropped)
				return
			}
			dropped++
		default:
			klog.V(2).Infof("%s watcher discarded %d buffered events on stop", w.class.Name, dropped)
			return
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev watch.Event) {
	switch ev.Type {
	case watch.Added, watch.Modified:
	case watch.Deleted:
		metrics.WatcherEvents.WithLabelValues(w.class.Name, metrics.ResultSuppressed).Inc()
		return
	case watch.Error:
		klog.Warningf("%s watch error: %v", w.class.Name, apierrors.FromObject(ev.Object))
		return
	default:
		return
	}

	name, readiness, ok := w.class.Inspect(ev.Object)
	if !ok {
		klog.Warningf("%s watcher: unexpected object %T", w.class.Name, ev.Object)
		return
	}

	previous, seen := w.readiness[name]
	status, emit := w.transition(ev.Type, name, readiness)
	if !emit || w.isPublishedAlert(name, status) {
		klog.V(4).Infof("%s %s %s: %s, nothing to publish", w.class.Name, ev.Type, name, readiness)
		metrics.WatcherEvents.WithLabelValues(w.class.Name, metrics.ResultSuppressed).Inc()
		return
	}

	he, err := healthevent.New(string(eventbroker.ComponentK8sMonitor), w.class.ResourceType, name, status,
		healthevent.WithClock(w.opts.Clock),
		healthevent.WithLocation(w.opts.Location),
	)
	if err != nil {
		klog.ErrorS(err, "Failed to build health event", "class", w.class.Name, "resource", name)
		return
	}
	if w.class.Decorate != nil {
		w.class.Decorate(ev.Object, he)
	}

	if err := w.publisher.Publish(ctx, eventbroker.ComponentK8sMonitor, he); err != nil {
		// neither cached nor marked as published, the next matching event
		// retries it
		if seen {
			w.readiness[name] = previous
		} else {
			delete(w.readiness, name)
		}
		klog.ErrorS(err, "Failed to publish health event", "event", he.String())
		metrics.WatcherEvents.WithLabelValues(w.class.Name, metrics.ResultPublishFailed).Inc()
		return
	}
	w.published[name] = status
	metrics.WatcherEvents.WithLabelValues(w.class.Name, metrics.ResultEmitted).Inc()
	klog.Infof("%s %s is %s, published %s", w.class.Name, name, status, he.Header.EventID)
}

// transition updates the readiness cache and returns the status to emit.
func (w *Watcher) transition(kind watch.EventType, name string, readiness Readiness) (healthevent.Status, bool) {
	previous, seen := w.readiness[name]
	w.readiness[name] = readiness
	if !seen {
		previous = ReadinessUnknown
	}

	switch readiness {
	case ReadinessUnknown:
		// never infer a state from incomplete data
		return "", false
	case Ready:
		if kind == watch.Added || previous != Ready || w.published[name] != healthevent.StatusOnline {
			return healthevent.StatusOnline, true
		}
	case NotReady:
		if kind != watch.Modified {
			return "", false
		}
		if previous == Ready {
			return healthevent.StatusFailed, true
		}
		// the change went unseen (through unknown or across a reconnect),
		// consumers still believe it is online
		if w.published[name] == healthevent.StatusOnline {
			return healthevent.StatusFailed, true
		}
	}
	return "", false
}

// isPublishedAlert reports whether status is what was last published for the
// resource.
func (w *Watcher) isPublishedAlert(name string, status healthevent.Status) bool {
	last, ok := w.published[name]
	return ok && last == status
}
