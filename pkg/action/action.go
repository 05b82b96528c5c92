package action

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openshift/cluster-ha-controller/pkg/eventbroker"
	"github.com/openshift/cluster-ha-controller/pkg/healthevent"
)

// Action is something a handler may do in reaction to an event.
type Action string

const (
	ActionPublish Action = "publish"
	ActionRecover Action = "recover"
)

var (
	ErrInvalidAction       = errors.New("invalid action")
	ErrInvalidResourceType = errors.New("invalid resource type")
	// ErrUnimplemented marks a state a handler deliberately does not handle.
	// It is a configuration error and must not be ignored.
	ErrUnimplemented = errors.New("unimplemented")
	ErrInvalidEvent  = healthevent.ErrInvalidEvent
)

func (a Action) Valid() bool {
	return a == ActionPublish || a == ActionRecover
}

// ParseActions converts a comma separated list, e.g. "publish,recover".
func ParseActions(s string) ([]Action, error) {
	var out []Action
	for _, field := range strings.Split(s, ",") {
		a := Action(strings.TrimSpace(field))
		if a == "" {
			continue
		}
		if !a.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAction, a)
		}
		out = append(out, a)
	}
	return out, nil
}

// Options are the actions requested for one event.
type Options struct {
	Publish bool
	Recover bool
}

func NewOptions(actions []Action) Options {
	var o Options
	for _, a := range actions {
		switch a {
		case ActionPublish:
			o.Publish = true
		case ActionRecover:
			o.Recover = true
		}
	}
	return o
}

// Publisher is satisfied by *eventbroker.Broker.
type Publisher interface {
	Publish(ctx context.Context, c eventbroker.Component, ev *healthevent.HealthEvent) error
}

// Orchestrator is the part of the orchestration client used for recovery.
type Orchestrator interface {
	StandbyNode(ctx context.Context, name string) error
	UnstandbyNode(ctx context.Context, name string) error
}

// StateHandler reacts to each of the four resource states. Every handler
// implements all of them; a state that is deliberately not supported returns
// Unimplemented.
type StateHandler interface {
	OnOnline(ctx context.Context, ev *healthevent.HealthEvent, opts Options) error
	OnDegraded(ctx context.Context, ev *healthevent.HealthEvent, opts Options) error
	OnOffline(ctx context.Context, ev *healthevent.HealthEvent, opts Options) error
	OnFailed(ctx context.Context, ev *healthevent.HealthEvent, opts Options) error
}

// Unimplemented is returned by handlers for states they do not support.
func Unimplemented(handler string, ev *healthevent.HealthEvent) error {
	return fmt.Errorf("%w: %s handler does not handle %s state of %s %s",
		ErrUnimplemented, handler, ev.Payload.ResourceStatus, ev.Payload.ResourceType, ev.Payload.ResourceID)
}

// Handler binds a StateHandler to the resource type it was selected for.
type Handler struct {
	Name  string
	state StateHandler
}

// Act branches on the event state.
func (h *Handler) Act(ctx context.Context, ev *healthevent.HealthEvent, actions []Action) error {
	opts := NewOptions(actions)
	switch ev.Payload.ResourceStatus {
	case healthevent.StatusOnline:
		return h.state.OnOnline(ctx, ev, opts)
	case healthevent.StatusDegraded:
		return h.state.OnDegraded(ctx, ev, opts)
	case healthevent.StatusOffline:
		return h.state.OnOffline(ctx, ev, opts)
	case healthevent.StatusFailed:
		return h.state.OnFailed(ctx, ev, opts)
	}
	return fmt.Errorf("%w: unknown resource status %q", ErrInvalidEvent, ev.Payload.ResourceStatus)
}
