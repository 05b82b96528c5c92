package action

import (
	"context"
	"errors"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/openshift/cluster-ha-controller/pkg/healthevent"
	"github.com/openshift/cluster-ha-controller/pkg/metrics"
)

// DefaultHandlerName names the publish-only fallback for unmapped types.
const DefaultHandlerName = "default"

// Factory selects the handler of a resource type.
type Factory struct {
	handlers map[healthevent.ResourceType]*Handler
	fallback *Handler
}

// NewFactory builds the resource type table. orchestrator may be nil when
// recovery is never requested.
func NewFactory(broker Publisher, orchestrator Orchestrator) *Factory {
	p := publisher{broker: broker}
	return &Factory{
		handlers: map[healthevent.ResourceType]*Handler{
			healthevent.ResourceTypeNode: {Name: "node", state: nodeHandler{
				publisher: p, name: "node", orchestrator: orchestrator, nodeName: resourceNode,
			}},
			healthevent.ResourceTypeMember: {Name: "member", state: nodeHandler{
				publisher: p, name: "member", orchestrator: orchestrator, nodeName: hostingNode,
			}},
			healthevent.ResourceTypeDisk:    {Name: "disk", state: diskHandler{publisher: p}},
			healthevent.ResourceTypePSU:     {Name: "psu", state: fruHandler{publisher: p, name: "psu"}},
			healthevent.ResourceTypeFan:     {Name: "fan", state: fruHandler{publisher: p, name: "fan"}},
			healthevent.ResourceTypeService: {Name: "service", state: publishOnly{publisher: p}},
		},
		fallback: &Handler{Name: DefaultHandlerName, state: publishOnly{publisher: p}},
	}
}

// GetActionHandler returns the handler for the event's resource type. An
// unmapped type only gets the publish-only default handler, and only when
// exactly [publish] is requested.
func (f *Factory) GetActionHandler(ev *healthevent.HealthEvent, actions []Action) (*Handler, error) {
	if ev == nil {
		return nil, fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	rt := ev.Payload.ResourceType

	known := len(actions) > 0
	for _, a := range actions {
		if !a.Valid() {
			known = false
		}
	}

	if h, ok := f.handlers[rt]; ok {
		if !known {
			return nil, fmt.Errorf("%w: %v for resource type %q", ErrInvalidAction, actions, rt)
		}
		return h, nil
	}

	switch {
	case !known:
		return nil, fmt.Errorf("%w: %q with actions %v", ErrInvalidResourceType, rt, actions)
	case len(actions) == 1 && actions[0] == ActionPublish:
		return f.fallback, nil
	}
	return nil, fmt.Errorf("%w: %v not supported for unmapped resource type %q", ErrInvalidAction, actions, rt)
}

// Dispatcher runs events through the factory one at a time.
type Dispatcher struct {
	factory *Factory
	actions []Action
}

// NewDispatcher applies actions to every event.
func NewDispatcher(factory *Factory, actions []Action) *Dispatcher {
	return &Dispatcher{factory: factory, actions: actions}
}

// Dispatch handles one event synchronously.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *healthevent.HealthEvent) error {
	h, err := d.factory.GetActionHandler(ev, d.actions)
	if err == nil {
		err = h.Act(ctx, ev, d.actions)
	}

	if ev != nil {
		result := metrics.ResultSuccess
		if err != nil {
			result = metrics.ResultError
		}
		metrics.DispatchedEvents.WithLabelValues(string(ev.Payload.ResourceType), string(ev.Payload.ResourceStatus), result).Inc()
	}
	return err
}

// Run dispatches events until ctx is done or the channel is closed. Handler
// errors are logged and never stop the loop.
func (d *Dispatcher) Run(ctx context.Context, events <-chan *healthevent.HealthEvent) error {
	klog.Infof("action dispatcher started with actions %v", d.actions)
	defer klog.Infof("action dispatcher stopped")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev == nil {
				continue
			}
			if err := d.Dispatch(ctx, ev); err != nil {
				if errors.Is(err, ErrUnimplemented) {
					klog.ErrorS(err, "Handler is not configured for this state", "event", ev.String())
					continue
				}
				klog.ErrorS(err, "Failed to handle health event", "event", ev.String())
			}
		}
	}
}
