package action

import (
	"context"
	"fmt"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/klog/v2"

	"github.com/openshift/cluster-ha-controller/pkg/eventbroker"
	"github.com/openshift/cluster-ha-controller/pkg/healthevent"
)

// publisher republishes events as the ha component when asked to.
type publisher struct {
	broker Publisher
}

func (p publisher) publish(ctx context.Context, ev *healthevent.HealthEvent, opts Options) error {
	if !opts.Publish {
		return nil
	}
	return p.broker.Publish(ctx, eventbroker.ComponentHA, ev)
}

// publishOnly republishes every state and does nothing else. It backs both
// the default handler and resource types without local remediation.
type publishOnly struct {
	publisher
}

func (h publishOnly) OnOnline(ctx context.Context, ev *healthevent.HealthEvent, opts Options) error {
	return h.publish(ctx, ev, opts)
}

func (h publishOnly) OnDegraded(ctx context.Context, ev *healthevent.HealthEvent, opts Options) error {
	return h.publish(ctx, ev, opts)
}

func (h publishOnly) OnOffline(ctx context.Context, ev *healthevent.HealthEvent, opts Options) error {
	return h.publish(ctx, ev, opts)
}

func (h publishOnly) OnFailed(ctx context.Context, ev *healthevent.HealthEvent, opts Options) error {
	return h.publish(ctx, ev, opts)
}

// nodeHandler moves a failed node into standby and brings it back once it is
// online again. The node name is resolved by nodeName.
type nodeHandler struct {
	publisher
	name         string
	orchestrator Orchestrator
	nodeName     func(ev *healthevent.HealthEvent) (string, error)
}

func resourceNode(ev *healthevent.HealthEvent) (string, error) {
	return ev.Payload.ResourceID, nil
}

func hostingNode(ev *healthevent.HealthEvent) (string, error) {
	if ev.Payload.NodeID == nil || *ev.Payload.NodeID == "" {
		return "", fmt.Errorf("%s %s carries no node id", ev.Payload.ResourceType, ev.Payload.ResourceID)
	}
	return *ev.Payload.NodeID, nil
}

func (h nodeHandler) remediate(ctx context.Context, ev *healthevent.HealthEvent, opts Options, standby bool) error {
	var errs []error
	if opts.Recover {
		if err := h.setStandby(ctx, ev, standby); err != nil {
			errs = append(errs, err)
		}
	}
	// downstream components are told about the state even if recovery failed
	if err := h.publish(ctx, ev, opts); err != nil {
		errs = append(errs, err)
	}
	return utilerrors.NewAggregate(errs)
}

func (h nodeHandler) setStandby(ctx context.Context, ev *healthevent.HealthEvent, standby bool) error {
	if h.orchestrator == nil {
		return fmt.Errorf("%s handler: no orchestration client configured", h.name)
	}
	node, err := h.nodeName(ev)
	if err != nil {
		return err
	}
	op, verb := h.orchestrator.UnstandbyNode, "unstandby"
	if standby {
		op, verb = h.orchestrator.StandbyNode, "standby"
	}
	if err := op(ctx, node); err != nil {
		return fmt.Errorf("%s of node %s failed: %w", verb, node, err)
	}
	klog.Infof("%s handler: %s node %s after %s", h.name, verb, node, ev)
	return nil
}

func (h nodeHandler) OnOnline(ctx context.Context, ev *healthevent.HealthEvent, opts Options) error {
	return h.remediate(ctx, ev, opts, false)
}

func (h nodeHandler) OnDegraded(ctx context.Context, ev *healthevent.HealthEvent, opts Options) error {
	return h.publish(ctx, ev, opts)
}

func (h nodeHandler) OnOffline(ctx context.Context, ev *healthevent.HealthEvent, opts Options) error {
	return h.publish(ctx, ev, opts)
}

func (h nodeHandler) OnFailed(ctx context.Context, ev *healthevent.HealthEvent, opts Options) error {
	return h.remediate(ctx, ev, opts, true)
}

// diskHandler logs every disk transition before republishing it.
type diskHandler struct {
	publisher
}

func (h diskHandler) OnOnline(ctx context.Context, ev *healthevent.HealthEvent, opts Options) error {
	klog.Infof("disk %s is back online", ev.Payload.ResourceID)
	return h.publish(ctx, ev, opts)
}

func (h diskHandler) OnDegraded(ctx context.Context, ev *healthevent.HealthEvent, opts Options) error {
	klog.Warningf("disk %s is degraded", ev.Payload.ResourceID)
	return h.publish(ctx, ev, opts)
}

func (h diskHandler) OnOffline(ctx context.Context, ev *healthevent.HealthEvent, opts Options) error {
	klog.Warningf("disk %s is offline", ev.Payload.ResourceID)
	return h.publish(ctx, ev, opts)
}

func (h diskHandler) OnFailed(ctx context.Context, ev *healthevent.HealthEvent, opts Options) error {
	klog.Errorf("disk %s failed", ev.Payload.ResourceID)
	return h.publish(ctx, ev, opts)
}

// fruHandler covers power supplies and fans, which report no degraded state.
type fruHandler struct {
	publisher
	name string
}

func (h fruHandler) OnOnline(ctx context.Context, ev *healthevent.HealthEvent, opts Options) error {
	return h.publish(ctx, ev, opts)
}

func (h fruHandler) OnDegraded(_ context.Context, ev *healthevent.HealthEvent, _ Options) error {
	return Unimplemented(h.name, ev)
}

func (h fruHandler) OnOffline(ctx context.Context, ev *healthevent.HealthEvent, opts Options) error {
	return h.publish(ctx, ev, opts)
}

func (h fruHandler) OnFailed(ctx context.Context, ev *healthevent.HealthEvent, opts Options) error {
	klog.Errorf("%s %s failed", h.name, ev.Payload.ResourceID)
	return h.publish(ctx, ev, opts)
}
