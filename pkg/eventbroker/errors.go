package eventbroker

import (
	"errors"
	"fmt"

	"github.com/openshift/cluster-ha-controller/pkg/healthevent"
)

var (
	// ErrInvalidComponent is returned for components outside the allow-list.
	ErrInvalidComponent = errors.New("invalid component")
	// ErrInvalidEvent is returned for unknown resource types, states or
	// functional types. It is the same sentinel healthevent uses.
	ErrInvalidEvent = healthevent.ErrInvalidEvent
	// ErrBrokerExists is returned by New while another broker is open.
	ErrBrokerExists = errors.New("an event broker already exists in this process")
	// ErrBrokerClosed is returned by every call on a closed broker.
	ErrBrokerClosed = errors.New("event broker is closed")
)

// PublishError wraps a transport fault during Publish.
type PublishError struct {
	Component Component
	Channel   string
	EventID   string
	Err       error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("failed to publish event %s for %s on %s: %v", e.EventID, e.Component, e.Channel, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// SubscribeError wraps a store or transport fault during Subscribe.
type SubscribeError struct {
	Component Component
	Err       error
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("failed to subscribe %s: %v", e.Component, e.Err)
}

func (e *SubscribeError) Unwrap() error {
	return e.Err
}

// UnsubscribeError wraps a store fault during Unsubscribe.
type UnsubscribeError struct {
	Component Component
	Err       error
}

func (e *UnsubscribeError) Error() string {
	return fmt.Sprintf("failed to unsubscribe %s: %v", e.Component, e.Err)
}

func (e *UnsubscribeError) Unwrap() error {
	return e.Err
}
