package eventbroker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"k8s.io/klog/v2"

	"github.com/openshift/cluster-ha-controller/pkg/healthevent"
	"github.com/openshift/cluster-ha-controller/pkg/kvstore"
	"github.com/openshift/cluster-ha-controller/pkg/metrics"
	"github.com/openshift/cluster-ha-controller/pkg/transport"
)

// SubscriptionPrefix is the store prefix holding the subscription table.
const SubscriptionPrefix = "ha/subscriptions/"

var (
	instanceLock sync.Mutex
	instanceOpen bool
)

// Broker is the subscription registry. Only one may be open per process;
// construct it in the composition root and pass it by reference.
type Broker struct {
	store     kvstore.Store
	transport transport.Transport

	// lock guards the subscription table.
	lock   sync.Mutex
	closed bool
}

// New opens the process wide broker. It fails with ErrBrokerExists while
// another broker is open.
func New(store kvstore.Store, tr transport.Transport) (*Broker, error) {
	instanceLock.Lock()
	defer instanceLock.Unlock()
	if instanceOpen {
		return nil, ErrBrokerExists
	}
	instanceOpen = true
	return &Broker{store: store, transport: tr}, nil
}

// Close releases the process slot. The store and transport are owned by the
// caller. Close is idempotent.
func (b *Broker) Close() error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	instanceLock.Lock()
	instanceOpen = false
	instanceLock.Unlock()
	return nil
}

func subscriptionKey(c Component, rt healthevent.ResourceType) string {
	return kvstore.Join("ha", "subscriptions", string(c), string(rt))
}

func componentPrefix(c Component) string {
	return SubscriptionPrefix + string(c) + "/"
}

func validateEvents(events []healthevent.SubscribeEvent) error {
	if len(events) == 0 {
		return fmt.Errorf("%w: no subscribe events given", ErrInvalidEvent)
	}
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers the component for the given events and returns the
// channel name derived from the component. Subscribing again to a resource
// type merges the states and functional types into the registration.
func (b *Broker) Subscribe(ctx context.Context, c Component, events ...healthevent.SubscribeEvent) (string, error) {
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidComponent, c)
	}
	if err := validateEvents(events); err != nil {
		return "", err
	}

	b.lock.Lock()
	defer b.lock.Unlock()
	if b.closed {
		return "", &SubscribeError{Component: c, Err: ErrBrokerClosed}
	}

	for _, ev := range events {
		current, found, err := b.load(ctx, c, ev.ResourceType)
		if err != nil {
			return "", &SubscribeError{Component: c, Err: err}
		}
		if found {
			ev = merge(current, ev)
		}
		if err := b.save(ctx, c, ev); err != nil {
			return "", &SubscribeError{Component: c, Err: err}
		}
		klog.V(2).Infof("component %s subscribed to %s states=%v functional_types=%v", c, ev.ResourceType, ev.States, ev.FunctionalTypes)
	}
	return ChannelFor(c), nil
}

// Unsubscribe removes registrations. A request listing functional types
// removes those functional types, and drops the registration once none are
// left; a registration covering every functional type is narrowed to the
// rest of the enumeration. A request without functional types removes the
// listed states, and drops the registration once no state is left.
// Unsubscribing something that is not registered is a no-op.
func (b *Broker) Unsubscribe(ctx context.Context, c Component, events ...healthevent.SubscribeEvent) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidComponent, c)
	}
	if err := validateEvents(events); err != nil {
		return err
	}

	b.lock.Lock()
	defer b.lock.Unlock()
	if b.closed {
		return &UnsubscribeError{Component: c, Err: ErrBrokerClosed}
	}

	for _, ev := range events {
		current, found, err := b.load(ctx, c, ev.ResourceType)
		if err != nil {
			return &UnsubscribeError{Component: c, Err: err}
		}
		if !found {
			continue
		}
		remaining, keep := subtract(current, ev)
		if keep {
			err = b.save(ctx, c, remaining)
		} else {
			err = b.store.Delete(ctx, subscriptionKey(c, ev.ResourceType))
		}
		if err != nil {
			return &UnsubscribeError{Component: c, Err: err}
		}
		klog.V(2).Infof("component %s unsubscribed from %s states=%v functional_types=%v", c, ev.ResourceType, ev.States, ev.FunctionalTypes)
	}
	return nil
}

// Publish sends the event on the publishing component's own channel.
func (b *Broker) Publish(ctx context.Context, c Component, ev *healthevent.HealthEvent) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidComponent, c)
	}
	if ev == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	data, err := healthevent.Marshal(ev)
	if err != nil {
		return err
	}

	channel := ChannelFor(c)
	// the table lock is not held across the send, a slow consumer must not
	// block subscription changes
	b.lock.Lock()
	closed := b.closed
	b.lock.Unlock()
	if closed {
		return &PublishError{Component: c, Channel: channel, EventID: ev.Header.EventID, Err: ErrBrokerClosed}
	}
	if err := b.transport.Send(ctx, channel, data); err != nil {
		metrics.BrokerPublishFailures.WithLabelValues(string(c)).Inc()
		return &PublishError{Component: c, Channel: channel, EventID: ev.Header.EventID, Err: err}
	}
	metrics.BrokerPublished.WithLabelValues(string(c)).Inc()
	klog.V(4).Infof("%s published %s on %s", c, ev, channel)
	return nil
}

// GetSubscribedEvents returns the registrations of a component ordered by
// resource type.
func (b *Broker) GetSubscribedEvents(ctx context.Context, c Component) ([]healthevent.SubscribeEvent, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidComponent, c)
	}
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.list(ctx, c)
}

// GetSubscribers returns the components whose registrations select an event
// with the given resource type, status and functional type.
func (b *Broker) GetSubscribers(ctx context.Context, rt healthevent.ResourceType, st healthevent.Status, ft healthevent.FunctionalType) ([]Component, error) {
	if !rt.Valid() {
		return nil, fmt.Errorf("%w: unknown resource type %q", ErrInvalidEvent, rt)
	}
	if !st.Valid() {
		return nil, fmt.Errorf("%w: unknown resource status %q", ErrInvalidEvent, st)
	}
	if ft != "" && !rt.AcceptsFunctionalType(ft) {
		return nil, fmt.Errorf("%w: functional type %q is not valid for resource type %q", ErrInvalidEvent, ft, rt)
	}

	b.lock.Lock()
	defer b.lock.Unlock()
	entries, err := b.store.List(ctx, SubscriptionPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	seen := map[Component]bool{}
	var out []Component
	for _, key := range kvstore.Keys(entries) {
		segments := strings.Split(strings.TrimPrefix(key, SubscriptionPrefix), "/")
		if len(segments) < 2 {
			continue
		}
		c := Component(segments[0])
		var ev healthevent.SubscribeEvent
		if err := json.Unmarshal(entries[key], &ev); err != nil {
			klog.Warningf("ignoring corrupt subscription %s: %v", key, err)
			continue
		}
		if ev.Matches(rt, st, ft) && !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Receive streams events published by the producers that match the
// subscriber's registrations at the time each event arrives. Without
// producers every other known component is read. The stream is closed when
// ctx is done or every producer stream has ended.
func (b *Broker) Receive(ctx context.Context, subscriber Component, producers ...Component) (<-chan *healthevent.HealthEvent, error) {
	if !subscriber.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidComponent, subscriber)
	}
	if len(producers) == 0 {
		for _, c := range components {
			if c != subscriber {
				producers = append(producers, c)
			}
		}
	}
	for _, p := range producers {
		if !p.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidComponent, p)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	var streams []<-chan []byte
	for _, p := range producers {
		stream, err := b.transport.Subscribe(ctx, ChannelFor(p))
		if err != nil {
			cancel()
			return nil, &SubscribeError{Component: subscriber, Err: err}
		}
		streams = append(streams, stream)
	}

	out := make(chan *healthevent.HealthEvent)
	var wg sync.WaitGroup
	for i, stream := range streams {
		wg.Add(1)
		go func(producer Component, stream <-chan []byte) {
			defer wg.Done()
			for data := range stream {
				ev, err := healthevent.Unmarshal(data)
				if err != nil {
					klog.Warningf("dropping malformed event from %s: %v", producer, err)
					continue
				}
				ok, err := b.selects(ctx, subscriber, ev)
				if err != nil {
					klog.ErrorS(err, "Failed to read subscriptions", "component", subscriber)
					continue
				}
				if !ok {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}(producers[i], stream)
	}
	go func() {
		wg.Wait()
		cancel()
		close(out)
	}()
	return out, nil
}

func (b *Broker) selects(ctx context.Context, c Component, ev *healthevent.HealthEvent) (bool, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	current, found, err := b.load(ctx, c, ev.Payload.ResourceType)
	if err != nil || !found {
		return false, err
	}
	return current.Matches(ev.Payload.ResourceType, ev.Payload.ResourceStatus, ev.FunctionalType()), nil
}

func (b *Broker) load(ctx context.Context, c Component, rt healthevent.ResourceType) (healthevent.SubscribeEvent, bool, error) {
	data, err := b.store.Get(ctx, subscriptionKey(c, rt))
	if errors.Is(err, kvstore.ErrNotFound) {
		return healthevent.SubscribeEvent{}, false, nil
	}
	if err != nil {
		return healthevent.SubscribeEvent{}, false, err
	}
	var ev healthevent.SubscribeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return healthevent.SubscribeEvent{}, false, fmt.Errorf("corrupt subscription %s: %w", subscriptionKey(c, rt), err)
	}
	return ev, true, nil
}

func (b *Broker) save(ctx context.Context, c Component, ev healthevent.SubscribeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.store.Set(ctx, subscriptionKey(c, ev.ResourceType), data)
}

func (b *Broker) list(ctx context.Context, c Component) ([]healthevent.SubscribeEvent, error) {
	entries, err := b.store.List(ctx, componentPrefix(c))
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions of %s: %w", c, err)
	}
	out := []healthevent.SubscribeEvent{}
	for _, key := range kvstore.Keys(entries) {
		var ev healthevent.SubscribeEvent
		if err := json.Unmarshal(entries[key], &ev); err != nil {
			return nil, fmt.Errorf("corrupt subscription %s: %w", key, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// merge unions states and functional types. An empty functional type list
// selects everything, so it wins over any explicit list.
func merge(current, add healthevent.SubscribeEvent) healthevent.SubscribeEvent {
	out := healthevent.SubscribeEvent{ResourceType: current.ResourceType}
	out.States = appendMissing(current.States, add.States)
	if len(current.FunctionalTypes) > 0 && len(add.FunctionalTypes) > 0 {
		out.FunctionalTypes = appendMissing(current.FunctionalTypes, add.FunctionalTypes)
	}
	return out
}

func subtract(current, remove healthevent.SubscribeEvent) (healthevent.SubscribeEvent, bool) {
	out := healthevent.SubscribeEvent{
		ResourceType:    current.ResourceType,
		States:          current.States,
		FunctionalTypes: current.FunctionalTypes,
	}
	if len(remove.FunctionalTypes) > 0 {
		selected := current.FunctionalTypes
		if len(selected) == 0 {
			selected = current.ResourceType.FunctionalTypes()
		}
		out.FunctionalTypes = without(selected, remove.FunctionalTypes)
		return out, len(out.FunctionalTypes) > 0
	}
	out.States = without(current.States, remove.States)
	return out, len(out.States) > 0
}

func appendMissing[T comparable](list, add []T) []T {
	out := append([]T(nil), list...)
	for _, v := range add {
		found := false
		for _, have := range out {
			if have == v {
				found = true
				break
			}
		}
		if !found {
			out = append(out, v)
		}
	}
	return out
}

func without[T comparable](list, remove []T) []T {
	var out []T
	for _, v := range list {
		drop := false
		for _, r := range remove {
			if v == r {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, v)
		}
	}
	return out
}
