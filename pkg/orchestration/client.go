package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"github.com/openshift/cluster-ha-controller/pkg/exec"
	"github.com/openshift/cluster-ha-controller/pkg/metrics"
	"github.com/openshift/cluster-ha-controller/pkg/pacemaker"
)

// ErrMaintenanceFailed is returned when the cluster could not be put into
// maintenance. The cluster is left as it is.
var ErrMaintenanceFailed = errors.New("cluster maintenance failed")

// ErrNodeNotFound is returned for nodes pacemaker does not know about.
var ErrNodeNotFound = errors.New("node not found in cluster")

// PowerController powers a node off without going through pacemaker.
type PowerController interface {
	PowerOff(ctx context.Context, node string) error
}

// Client runs pcs operations and waits until the cluster reflects them.
type Client struct {
	runner exec.Runner
	status StatusProvider
	power  PowerController
	waiter Waiter
}

// NewClient returns a Client. power may be nil if ShutdownNode is never
// used on the last online node.
func NewClient(runner exec.Runner, status StatusProvider, power PowerController, waiter Waiter) *Client {
	return &Client{runner: runner, status: status, power: power, waiter: waiter}
}

func (c *Client) run(ctx context.Context, command string) error {
	stdout, stderr, err := c.runner.Execute(ctx, command)
	if err != nil {
		var cmdErr *exec.CommandError
		if errors.As(err, &cmdErr) {
			return cmdErr
		}
		return &exec.CommandError{Command: command, Stdout: stdout, Stderr: stderr, ExitCode: -1, Err: err}
	}
	return nil
}

func (c *Client) standbyCommand(ctx context.Context, node string, standby bool) error {
	verb := "unstandby"
	if standby {
		verb = "standby"
	}
	target := node
	if node == "" {
		target = "--all"
	}
	return c.run(ctx, fmt.Sprintf("%s node %s %s", pacemaker.PCS, verb, target))
}

// StandbyNode puts the node into standby and waits until pacemaker reports it.
func (c *Client) StandbyNode(ctx context.Context, name string) (err error) {
	defer func(start time.Time) { metrics.ObserveOperation("standby_node", start, err) }(time.Now())
	klog.Infof("putting node %s into standby", name)
	if err := c.standbyCommand(ctx, name, true); err != nil {
		return err
	}
	return c.waiter.Wait(ctx, "standby node "+name, c.status, nodeInStandby(name, true))
}

// UnstandbyNode takes the node out of standby and waits until pacemaker
// reports it.
func (c *Client) UnstandbyNode(ctx context.Context, name string) (err error) {
	defer func(start time.Time) { metrics.ObserveOperation("unstandby_node", start, err) }(time.Now())
	klog.Infof("taking node %s out of standby", name)
	if err := c.standbyCommand(ctx, name, false); err != nil {
		return err
	}
	return c.waiter.Wait(ctx, "unstandby node "+name, c.status, nodeInStandby(name, false))
}

// StandbyAll puts every node into standby and waits until no resource is
// active anymore.
func (c *Client) StandbyAll(ctx context.Context) (err error) {
	defer func(start time.Time) { metrics.ObserveOperation("standby_all", start, err) }(time.Now())
	return c.standbyAll(ctx, c.waiter)
}

func (c *Client) standbyAll(ctx context.Context, w Waiter) error {
	klog.Info("putting all nodes into standby")
	if err := c.standbyCommand(ctx, "", true); err != nil {
		return err
	}
	return w.Wait(ctx, "standby all nodes", c.status, allResourcesInactive)
}

// UnstandbyAll takes every node out of standby and waits until no node is
// in standby.
func (c *Client) UnstandbyAll(ctx context.Context) (err error) {
	defer func(start time.Time) { metrics.ObserveOperation("unstandby_all", start, err) }(time.Now())
	return c.unstandbyAll(ctx, c.waiter)
}

func (c *Client) unstandbyAll(ctx context.Context, w Waiter) error {
	klog.Info("taking all nodes out of standby")
	if err := c.standbyCommand(ctx, "", false); err != nil {
		return err
	}
	return w.Wait(ctx, "unstandby all nodes", c.status, noNodeInStandby)
}

// ShutdownNode moves all resources off the node and powers it off. The last
// online node is powered off directly through its fence agent, since a
// pacemaker managed shutdown of the last member would stop pacemaker in the
// middle of the operation.
func (c *Client) ShutdownNode(ctx context.Context, name string, timeout time.Duration) (err error) {
	defer func(start time.Time) { metrics.ObserveOperation("shutdown_node", start, err) }(time.Now())

	status, err := c.status.Query(ctx)
	if err != nil {
		return fmt.Errorf("failed to query cluster status: %w", err)
	}
	if _, ok := status.Node(name); !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, name)
	}
	online := status.OnlineNodes()
	last := len(online) == 1 && online[0] == name

	w := c.waiter.WithTimeout(timeout)
	klog.Infof("shutting down node %s (last online node: %t)", name, last)
	if err := c.standbyCommand(ctx, name, true); err != nil {
		return err
	}
	if err := w.Wait(ctx, "stop resources on node "+name, c.status, nodeIdle(name)); err != nil {
		return err
	}

	if last {
		if c.power == nil {
			return fmt.Errorf("node %s is the last online node and no power controller is configured", name)
		}
		if err := c.power.PowerOff(ctx, name); err != nil {
			return fmt.Errorf("direct power off of node %s failed: %w", name, err)
		}
		klog.Infof("node %s powered off through its fence agent", name)
		return nil
	}

	if err := c.run(ctx, fmt.Sprintf("%s stonith fence %s --off", pacemaker.PCS, name)); err != nil {
		return err
	}
	klog.Infof("node %s shut down", name)
	return nil
}

// ClusterMaintenance disables fencing and puts every node into standby.
// Nothing is rolled back when a step does not converge: reverting a half
// finished transition can fence nodes unexpectedly, so the cluster is left
// for the operator.
func (c *Client) ClusterMaintenance(ctx context.Context, timeout time.Duration) (err error) {
	defer func(start time.Time) { metrics.ObserveOperation("cluster_maintenance", start, err) }(time.Now())
	w := c.waiter.WithTimeout(timeout)

	failed := func(step string, err error) error {
		if errors.Is(err, ErrTimeout) {
			err = fmt.Errorf("%w: %s: %w", ErrMaintenanceFailed, step, err)
			klog.ErrorS(err, "Cluster is left partially in maintenance, manual intervention required")
		}
		return err
	}

	if err := c.setStonith(ctx, false); err != nil {
		return err
	}
	if err := w.Wait(ctx, "disable stonith", c.status, stonithActive(false)); err != nil {
		return failed("disable stonith", err)
	}
	if err := c.standbyAll(ctx, w); err != nil {
		return failed("standby all nodes", err)
	}
	klog.Info("cluster is in maintenance")
	return nil
}

// ClusterUnmaintenance reverses ClusterMaintenance. Fencing is only enabled
// again once every node is out of standby.
func (c *Client) ClusterUnmaintenance(ctx context.Context, timeout time.Duration) (err error) {
	defer func(start time.Time) { metrics.ObserveOperation("cluster_unmaintenance", start, err) }(time.Now())
	w := c.waiter.WithTimeout(timeout)

	if err := c.unstandbyAll(ctx, w); err != nil {
		return err
	}
	if err := c.setStonith(ctx, true); err != nil {
		return err
	}
	if err := w.Wait(ctx, "enable stonith", c.status, stonithActive(true)); err != nil {
		return err
	}
	klog.Info("cluster left maintenance")
	return nil
}

func (c *Client) setStonith(ctx context.Context, enable bool) error {
	status, err := c.status.Query(ctx)
	if err != nil {
		return fmt.Errorf("failed to query cluster status: %w", err)
	}
	verb := "disable"
	if enable {
		verb = "enable"
	}
	seen := map[string]bool{}
	for _, r := range status.Stonith {
		// clones are switched as a whole
		id := r.ID
		if r.Clone != "" {
			id = r.Clone
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		klog.Infof("%s stonith resource %s", verb, id)
		if err := c.run(ctx, fmt.Sprintf("%s resource %s %s", pacemaker.PCS, verb, id)); err != nil {
			return err
		}
	}
	return nil
}

// ResourceCounts counts resources by role.
type ResourceCounts struct {
	Started  int `json:"started"`
	Starting int `json:"starting"`
	Stopped  int `json:"stopped"`
	Stopping int `json:"stopping"`
}

// StonithState is the state of one fencing resource.
type StonithState struct {
	ID    string `json:"id"`
	Clone string `json:"clone,omitempty"`
	Role  string `json:"role"`
	// Enabled is false once the resource was disabled, whether or not it
	// has stopped yet.
	Enabled bool `json:"enabled"`
	Active  bool `json:"active"`
}

// ClusterStatus is the result of GetStatus.
type ClusterStatus struct {
	Nodes   []pacemaker.Node  `json:"nodes"`
	Summary pacemaker.Summary `json:"summary"`
	Stonith []StonithState    `json:"stonith"`
	// Resources is only set for full status requests.
	Resources *ResourceCounts `json:"resources,omitempty"`
}

// GetStatus queries the cluster. full adds resource counts.
func (c *Client) GetStatus(ctx context.Context, full bool) (*ClusterStatus, error) {
	status, err := c.status.Query(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query cluster status: %w", err)
	}
	out := &ClusterStatus{Nodes: status.Nodes, Summary: status.Summary, Stonith: []StonithState{}}
	for _, r := range status.Stonith {
		out.Stonith = append(out.Stonith, StonithState{
			ID:      r.ID,
			Clone:   r.Clone,
			Role:    r.Role,
			Enabled: r.TargetRole != pacemaker.RoleStopped,
			Active:  r.Running(),
		})
	}
	if !full {
		return out, nil
	}
	counts := &ResourceCounts{}
	for _, r := range status.Resources {
		switch r.Role {
		case pacemaker.RoleStarted:
			counts.Started++
		case pacemaker.RoleStarting:
			counts.Starting++
		case pacemaker.RoleStopping:
			counts.Stopping++
		default:
			counts.Stopped++
		}
	}
	out.Resources = counts
	return out, nil
}
