package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/openshift/library-go/pkg/serviceability"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	clientv3 "go.etcd.io/etcd/client/v3"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/klog/v2"

	"github.com/openshift/cluster-ha-controller/pkg/action"
	"github.com/openshift/cluster-ha-controller/pkg/config"
	"github.com/openshift/cluster-ha-controller/pkg/eventbroker"
	"github.com/openshift/cluster-ha-controller/pkg/exec"
	"github.com/openshift/cluster-ha-controller/pkg/kvstore"
	"github.com/openshift/cluster-ha-controller/pkg/logging"
	"github.com/openshift/cluster-ha-controller/pkg/metrics"
	"github.com/openshift/cluster-ha-controller/pkg/orchestration"
	"github.com/openshift/cluster-ha-controller/pkg/pacemaker"
	"github.com/openshift/cluster-ha-controller/pkg/statuscollector"
	"github.com/openshift/cluster-ha-controller/pkg/transport"
	"github.com/openshift/cluster-ha-controller/pkg/watcher"
)

const DefaultLogLevel = 2

var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

type controllerOpts struct {
	errOut     io.Writer
	configFile string
	kubeconfig string
	logLevel   int
}

// NewControllerCommand returns the "run" command that watches the cluster
// and reacts to health events until it receives SIGTERM or SIGINT.
func NewControllerCommand(errOut io.Writer) *cobra.Command {
	opts := &controllerOpts{
		errOut:   errOut,
		logLevel: DefaultLogLevel,
	}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Watches cluster members and dispatches health events",
		Run: func(cmd *cobra.Command, args []string) {
			must := func(fn func(ctx context.Context) error) {
				if err := fn(context.Background()); err != nil {
					if cmd.HasParent() {
						klog.Fatal(err)
					}
					fmt.Fprint(opts.errOut, err.Error())
				}
			}
			must(opts.Validate)
			must(opts.Run)
		},
	}
	opts.AddFlags(cmd.Flags())
	return cmd
}

func (o *controllerOpts) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.configFile, "config", "", "Path to the controller configuration file. (required)")
	fs.StringVar(&o.kubeconfig, "kubeconfig", "", "Path to a kubeconfig. Overrides watcher.kubeconfig, in-cluster config is used when both are empty.")
	fs.IntVar(&o.logLevel, "etcd-client-log-level", DefaultLogLevel, "Verbosity of the etcd client logger.")
}

func (o *controllerOpts) Validate(_ context.Context) error {
	if len(o.configFile) == 0 {
		return errors.New("missing required flag: --config")
	}
	return nil
}

func (o *controllerOpts) Run(ctx context.Context) error {
	defer utilruntime.HandleCrash()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownHandler := make(chan os.Signal, 2)
	signal.Notify(shutdownHandler, shutdownSignals...)
	go func() {
		select {
		case <-shutdownHandler:
			klog.Infof("Received SIGTERM or SIGINT signal, shutting down.")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(shutdownHandler)
	}()

	serviceability.StartProfiler()
	defer serviceability.Profile(os.Getenv("OPENSHIFT_PROFILE")).Stop()

	cfg, err := config.Load(o.configFile)
	if err != nil {
		return err
	}
	if o.kubeconfig != "" {
		cfg.Watcher.Kubeconfig = o.kubeconfig
	}

	kubeClient, err := newKubeClient(cfg.Watcher.Kubeconfig)
	if err != nil {
		return err
	}
	store, tr, closeBackend, err := o.newBackend(cfg)
	if err != nil {
		return err
	}
	defer closeBackend()

	c, err := newController(cfg, kubeClient, store, tr, exec.HostRunner{Nsenter: cfg.Orchestration.Nsenter, Sudo: cfg.Orchestration.Sudo})
	if err != nil {
		return err
	}
	defer c.Close()
	return c.Run(ctx)
}

func newKubeClient(kubeconfig string) (kubernetes.Interface, error) {
	var clientConfig *rest.Config
	var err error
	if kubeconfig != "" {
		clientConfig, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	} else {
		clientConfig, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load kube client config: %w", err)
	}
	return kubernetes.NewForConfig(clientConfig)
}

// newBackend builds the subscription store and the event transport.
func (o *controllerOpts) newBackend(cfg *config.Config) (kvstore.Store, transport.Transport, func(), error) {
	if cfg.Broker.Backend == config.BackendMemory {
		tr := transport.NewMemory()
		return kvstore.NewMemory(), tr, func() { _ = tr.Close() }, nil
	}

	lg, err := logging.NewZapLogger(logging.Options{
		Level:    logging.LevelFromVerbosity(o.logLevel),
		Outputs:  cfg.Logging.Outputs,
		Rotation: cfg.Logging.Rotation,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create etcd client logger: %w", err)
	}
	cli, err := kvstore.NewEtcdClient(cfg.Broker.Etcd.ClientConfig(), lg)
	if err != nil {
		return nil, nil, nil, err
	}
	etcdCfg := cfg.Broker.Etcd
	tr := transport.NewEtcd(cli, kvstore.Join(etcdCfg.Prefix, "events"), etcdCfg.EventTTL.Duration)
	closeFn := func() {
		_ = tr.Close()
		if err := cli.Close(); err != nil {
			klog.Warningf("failed to close etcd client: %v", err)
		}
		_ = lg.Sync()
	}
	return kvstore.NewEtcd(clientv3.NewKV(cli), kvstore.Join(etcdCfg.Prefix, "kv")), tr, closeFn, nil
}

// Controller wires the watchers, the broker and the dispatcher together.
type Controller struct {
	cfg        *config.Config
	broker     *eventbroker.Broker
	watchers   *watcher.Group
	dispatcher *action.Dispatcher
	collector  *statuscollector.Collector
}

func newController(cfg *config.Config, kubeClient kubernetes.Interface, store kvstore.Store, tr transport.Transport, runner exec.Runner) (*Controller, error) {
	actions, err := cfg.ActionList()
	if err != nil {
		return nil, err
	}
	broker, err := eventbroker.New(store, tr)
	if err != nil {
		return nil, err
	}

	statusClient := pacemaker.NewStatusClient(runner)
	orchestrator := orchestration.NewClient(runner, statusClient,
		&orchestration.FenceAgentPower{Runner: runner, Config: statusClient}, cfg.Orchestration.Waiter())

	opts := watcher.Options{
		ConnectionTimeout: cfg.Watcher.ConnectionTimeout.Duration,
		Location:          cfg.Cluster.Location(),
	}
	var watchers []*watcher.Watcher
	if *cfg.Watcher.Nodes {
		watchers = append(watchers, watcher.New(watcher.NodeClass(kubeClient, cfg.Watcher.NodeSelector), broker, opts))
	}
	if *cfg.Watcher.Members {
		watchers = append(watchers, watcher.New(watcher.MemberClass(kubeClient, cfg.Watcher.Namespace, cfg.Watcher.MemberSelector), broker, opts))
	}

	c := &Controller{
		cfg:        cfg,
		broker:     broker,
		watchers:   watcher.NewGroup(watchers...),
		dispatcher: action.NewDispatcher(action.NewFactory(broker, orchestrator), actions),
	}
	if cfg.StatusCollector.Enabled {
		c.collector, err = statuscollector.New(orchestrator, cfg.StatusCollector.Schedule)
		if err != nil {
			_ = broker.Close()
			return nil, err
		}
	}
	return c, nil
}

// Run registers the configured subscriptions and blocks until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	for _, s := range c.cfg.Subscriptions {
		component, ev, err := s.Event()
		if err != nil {
			return err
		}
		channel, err := c.broker.Subscribe(ctx, component, ev)
		if err != nil {
			return err
		}
		klog.Infof("registered %s for %s %v on %s", component, ev.ResourceType, ev.States, channel)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// the dispatcher consumes what the watchers publish
	events, err := c.broker.Receive(ctx, eventbroker.ComponentHA, eventbroker.ComponentK8sMonitor)
	if err != nil {
		return err
	}

	var (
		wg   sync.WaitGroup
		lock sync.Mutex
		errs []error
	)
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				klog.ErrorS(err, "Component failed, shutting down", "component", name)
				lock.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				lock.Unlock()
				cancel()
			}
		}()
	}

	start("dispatcher", func(ctx context.Context) error { return c.dispatcher.Run(ctx, events) })
	start("watchers", c.watchers.Run)
	if c.cfg.MetricsAddress != "" {
		start("metrics", func(ctx context.Context) error { return metrics.Serve(ctx, c.cfg.MetricsAddress) })
	}
	if c.collector != nil {
		start("status collector", c.collector.Run)
	}

	klog.Infof("ha controller started for cluster %s", c.cfg.Cluster.ClusterID)
	<-ctx.Done()
	c.watchers.Stop()
	wg.Wait()
	klog.Infof("ha controller stopped")
	return utilerrors.NewAggregate(errs)
}

func (c *Controller) Close() error {
	return c.broker.Close()
}
