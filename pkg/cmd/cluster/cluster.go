package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ghodss/yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"github.com/openshift/cluster-ha-controller/pkg/exec"
	"github.com/openshift/cluster-ha-controller/pkg/orchestration"
	"github.com/openshift/cluster-ha-controller/pkg/pacemaker"
)

// Operations is the orchestration surface used by the commands.
type Operations interface {
	StandbyNode(ctx context.Context, name string) error
	StandbyAll(ctx context.Context) error
	UnstandbyNode(ctx context.Context, name string) error
	UnstandbyAll(ctx context.Context) error
	ShutdownNode(ctx context.Context, name string, timeout time.Duration) error
	ClusterMaintenance(ctx context.Context, timeout time.Duration) error
	ClusterUnmaintenance(ctx context.Context, timeout time.Duration) error
	GetStatus(ctx context.Context, full bool) (*orchestration.ClusterStatus, error)
}

var _ Operations = &orchestration.Client{}

type clusterOpts struct {
	out          io.Writer
	nsenter      bool
	sudo         bool
	pollInterval time.Duration
	timeout      time.Duration

	// newOperations is replaced in tests.
	newOperations func() Operations
}

func (o *clusterOpts) AddFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&o.nsenter, "nsenter", false, "Run pcs in the host namespaces of PID 1.")
	fs.BoolVar(&o.sudo, "sudo", false, "Run pcs through non-interactive sudo.")
	fs.DurationVar(&o.pollInterval, "poll-interval", orchestration.DefaultPause, "Interval between cluster status queries while waiting.")
	fs.DurationVar(&o.timeout, "timeout", orchestration.DefaultTimeout, "How long to wait for the cluster to converge.")
}

func (o *clusterOpts) operations() Operations {
	if o.newOperations != nil {
		return o.newOperations()
	}
	runner := exec.HostRunner{Nsenter: o.nsenter, Sudo: o.sudo}
	status := pacemaker.NewStatusClient(runner)
	return orchestration.NewClient(runner, status, &orchestration.FenceAgentPower{Runner: runner, Config: status},
		orchestration.Waiter{Pause: o.pollInterval, Timeout: o.timeout})
}

// NewClusterCommand groups the pacemaker operations.
func NewClusterCommand(out io.Writer) *cobra.Command {
	return newClusterCommand(&clusterOpts{out: out})
}

func newClusterCommand(o *clusterOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "cluster",
		Short:        "Runs convergence verified pacemaker operations",
		SilenceUsage: true,
	}
	o.AddFlags(cmd.PersistentFlags())
	cmd.AddCommand(
		o.newStandbyCommand("standby", "Puts a node, or with --all every node, into standby", true),
		o.newStandbyCommand("unstandby", "Takes a node, or with --all every node, out of standby", false),
		&cobra.Command{
			Use:   "maintenance",
			Short: "Disables fencing and puts every node into standby",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				err := o.operations().ClusterMaintenance(cmd.Context(), o.timeout)
				if errors.Is(err, orchestration.ErrMaintenanceFailed) {
					return fmt.Errorf("%w; the cluster was left as is and needs to be checked manually", err)
				}
				return err
			},
		},
		&cobra.Command{
			Use:   "unmaintenance",
			Short: "Takes every node out of standby and enables fencing again",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return o.operations().ClusterUnmaintenance(cmd.Context(), o.timeout)
			},
		},
		&cobra.Command{
			Use:   "shutdown NODE",
			Short: "Moves resources off a node and powers it off",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return o.operations().ShutdownNode(cmd.Context(), args[0], o.timeout)
			},
		},
		o.newStatusCommand(),
	)
	return cmd
}

func (o *clusterOpts) newStandbyCommand(use, short string, standby bool) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   use + " [NODE]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.New("either a node name or --all is required")
			}
			ops := o.operations()
			ctx := cmd.Context()
			switch {
			case all && standby:
				return ops.StandbyAll(ctx)
			case all:
				return ops.UnstandbyAll(ctx)
			case standby:
				return ops.StandbyNode(ctx, args[0])
			default:
				return ops.UnstandbyNode(ctx, args[0])
			}
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Apply to every node.")
	return cmd
}

func (o *clusterOpts) newStatusCommand() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Prints the cluster nodes and, with --full, resource counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := o.operations().GetStatus(cmd.Context(), full)
			if err != nil {
				return err
			}
			raw, err := yaml.Marshal(status)
			if err != nil {
				return err
			}
			klog.V(4).Infof("cluster status: %s", raw)
			_, err = o.out.Write(raw)
			return err
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "Include resource counts.")
	return cmd
}
