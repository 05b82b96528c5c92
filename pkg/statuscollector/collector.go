package statuscollector

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"k8s.io/klog/v2"

	"github.com/openshift/cluster-ha-controller/pkg/metrics"
	"github.com/openshift/cluster-ha-controller/pkg/orchestration"
)

// Node states exported through metrics.ClusterNodes.
const (
	NodeOnline      = "online"
	NodeOffline     = "offline"
	NodeStandby     = "standby"
	NodeMaintenance = "maintenance"
	NodeUnclean     = "unclean"
)

// StatusGetter is satisfied by *orchestration.Client.
type StatusGetter interface {
	GetStatus(ctx context.Context, full bool) (*orchestration.ClusterStatus, error)
}

// Collector samples the full cluster status on a cron schedule and exports
// it as gauges.
type Collector struct {
	getter   StatusGetter
	schedule cron.Schedule
	expr     string
}

// New parses schedule, a standard five field cron expression or a
// descriptor such as "@every 1m".
func New(getter StatusGetter, schedule string) (*Collector, error) {
	s, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid status collector schedule %q: %w", schedule, err)
	}
	return &Collector{getter: getter, schedule: s, expr: schedule}, nil
}

// Run collects on every tick until ctx is done. A collection still running
// when the next tick fires causes that tick to be skipped.
func (c *Collector) Run(ctx context.Context) error {
	logger := klogLogger{}
	runner := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	runner.Schedule(c.schedule, cron.FuncJob(func() {
		if err := c.Collect(ctx); err != nil {
			klog.Warningf("cluster status collection failed: %v", err)
		}
	}))

	klog.Infof("cluster status collector started with schedule %q", c.expr)
	runner.Start()
	<-ctx.Done()
	<-runner.Stop().Done()
	klog.Infof("cluster status collector stopped")
	return nil
}

// Collect queries the cluster once and updates the gauges.
func (c *Collector) Collect(ctx context.Context) error {
	status, err := c.getter.GetStatus(ctx, true)
	if err != nil {
		metrics.StatusQueryFailures.Inc()
		return err
	}

	nodes := map[string]float64{
		NodeOnline:      0,
		NodeOffline:     0,
		NodeStandby:     0,
		NodeMaintenance: 0,
		NodeUnclean:     0,
	}
	for _, n := range status.Nodes {
		if n.Online {
			nodes[NodeOnline]++
		} else {
			nodes[NodeOffline]++
		}
		if n.Standby {
			nodes[NodeStandby]++
		}
		if n.Maintenance {
			nodes[NodeMaintenance]++
		}
		if n.Unclean {
			nodes[NodeUnclean]++
		}
	}
	for state, count := range nodes {
		metrics.ClusterNodes.WithLabelValues(state).Set(count)
	}

	if r := status.Resources; r != nil {
		metrics.ClusterResources.WithLabelValues("started").Set(float64(r.Started))
		metrics.ClusterResources.WithLabelValues("starting").Set(float64(r.Starting))
		metrics.ClusterResources.WithLabelValues("stopping").Set(float64(r.Stopping))
		metrics.ClusterResources.WithLabelValues("stopped").Set(float64(r.Stopped))
	}
	klog.V(4).Infof("cluster status: nodes %v, resources %+v", nodes, status.Resources)
	return nil
}

// klogLogger routes cron's own logging to klog.
type klogLogger struct{}

func (klogLogger) Info(msg string, keysAndValues ...interface{}) {
	klog.V(4).InfoS(msg, keysAndValues...)
}

func (klogLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	klog.ErrorS(err, msg, keysAndValues...)
}
