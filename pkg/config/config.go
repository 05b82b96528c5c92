package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ghodss/yaml"
	"github.com/robfig/cron/v3"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/openshift/cluster-ha-controller/pkg/action"
	"github.com/openshift/cluster-ha-controller/pkg/eventbroker"
	"github.com/openshift/cluster-ha-controller/pkg/healthevent"
	"github.com/openshift/cluster-ha-controller/pkg/kvstore"
	"github.com/openshift/cluster-ha-controller/pkg/logging"
	"github.com/openshift/cluster-ha-controller/pkg/orchestration"
	"github.com/openshift/cluster-ha-controller/pkg/transport"
	"github.com/openshift/cluster-ha-controller/pkg/watcher"
)

const (
	BackendMemory = "memory"
	BackendEtcd   = "etcd"

	DefaultStorageNamespace = "openshift-storage"
	DefaultMemberSelector   = "app=storage-member"
	DefaultEtcdPrefix       = "/ha"
	DefaultStatusSchedule   = "@every 1m"
)

// Config is the controller configuration file.
type Config struct {
	Cluster         Cluster         `json:"cluster"`
	Watcher         Watcher         `json:"watcher"`
	Broker          Broker          `json:"broker"`
	Orchestration   Orchestration   `json:"orchestration"`
	StatusCollector StatusCollector `json:"statusCollector"`
	Logging         Logging         `json:"logging"`

	// Actions are applied to every received event, e.g. [publish, recover].
	Actions []string `json:"actions"`
	// Subscriptions are registered with the broker on start.
	Subscriptions []Subscription `json:"subscriptions"`
	// MetricsAddress serves /metrics when set, e.g. ":8443".
	MetricsAddress string `json:"metricsAddress,omitempty"`
}

// Cluster identifies where events originate.
type Cluster struct {
	ClusterID    string `json:"clusterID"`
	SiteID       string `json:"siteID,omitempty"`
	RackID       string `json:"rackID,omitempty"`
	StorageSetID string `json:"storageSetID,omitempty"`
}

func (c Cluster) Location() healthevent.Location {
	return healthevent.Location{
		ClusterID:    c.ClusterID,
		SiteID:       c.SiteID,
		RackID:       c.RackID,
		StorageSetID: c.StorageSetID,
	}
}

type Watcher struct {
	// Kubeconfig is empty when running in cluster.
	Kubeconfig        string          `json:"kubeconfig,omitempty"`
	Nodes             *bool           `json:"nodes,omitempty"`
	Members           *bool           `json:"members,omitempty"`
	NodeSelector      string          `json:"nodeSelector,omitempty"`
	Namespace         string          `json:"namespace,omitempty"`
	MemberSelector    string          `json:"memberSelector,omitempty"`
	ConnectionTimeout metav1.Duration `json:"connectionTimeout,omitempty"`
}

type Broker struct {
	Backend string `json:"backend"`
	Etcd    Etcd   `json:"etcd,omitempty"`
}

type Etcd struct {
	Endpoints     []string        `json:"endpoints,omitempty"`
	DialTimeout   metav1.Duration `json:"dialTimeout,omitempty"`
	CertFile      string          `json:"certFile,omitempty"`
	KeyFile       string          `json:"keyFile,omitempty"`
	TrustedCAFile string          `json:"trustedCAFile,omitempty"`
	Prefix        string          `json:"prefix,omitempty"`
	EventTTL      metav1.Duration `json:"eventTTL,omitempty"`
}

func (e Etcd) ClientConfig() kvstore.EtcdClientConfig {
	return kvstore.EtcdClientConfig{
		Endpoints:     e.Endpoints,
		DialTimeout:   e.DialTimeout.Duration,
		CertFile:      e.CertFile,
		KeyFile:       e.KeyFile,
		TrustedCAFile: e.TrustedCAFile,
	}
}

type Orchestration struct {
	PollInterval metav1.Duration `json:"pollInterval,omitempty"`
	Timeout      metav1.Duration `json:"timeout,omitempty"`
	Nsenter      bool            `json:"nsenter,omitempty"`
	Sudo         bool            `json:"sudo,omitempty"`
}

func (o Orchestration) Waiter() orchestration.Waiter {
	return orchestration.Waiter{Pause: o.PollInterval.Duration, Timeout: o.Timeout.Duration}
}

type StatusCollector struct {
	Enabled  bool   `json:"enabled,omitempty"`
	Schedule string `json:"schedule,omitempty"`
}

type Logging struct {
	Outputs  []string          `json:"outputs,omitempty"`
	Rotation *logging.Rotation `json:"rotation,omitempty"`
}

// Subscription registers a component for events of one resource type.
type Subscription struct {
	Component       string   `json:"component"`
	ResourceType    string   `json:"resourceType"`
	States          []string `json:"states"`
	FunctionalTypes []string `json:"functionalTypes,omitempty"`
}

// Event converts the subscription into its broker form.
func (s Subscription) Event() (eventbroker.Component, healthevent.SubscribeEvent, error) {
	c, err := eventbroker.ParseComponent(s.Component)
	if err != nil {
		return "", healthevent.SubscribeEvent{}, err
	}
	rt, err := healthevent.ParseResourceType(s.ResourceType)
	if err != nil {
		return "", healthevent.SubscribeEvent{}, err
	}
	states := make([]healthevent.Status, 0, len(s.States))
	for _, st := range s.States {
		status, err := healthevent.ParseStatus(st)
		if err != nil {
			return "", healthevent.SubscribeEvent{}, err
		}
		states = append(states, status)
	}
	fts := make([]healthevent.FunctionalType, 0, len(s.FunctionalTypes))
	for _, f := range s.FunctionalTypes {
		ft, err := healthevent.ParseFunctionalType(rt, f)
		if err != nil {
			return "", healthevent.SubscribeEvent{}, err
		}
		fts = append(fts, ft)
	}
	ev, err := healthevent.NewSubscribeEvent(rt, states, fts...)
	return c, ev, err
}

// Load reads, defaults and validates the file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes YAML or JSON configuration.
func Parse(raw []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

func setDuration(d *metav1.Duration, def time.Duration) {
	if d.Duration == 0 {
		d.Duration = def
	}
}

func (c *Config) SetDefaults() {
	enabled := true
	if c.Watcher.Nodes == nil {
		c.Watcher.Nodes = &enabled
	}
	if c.Watcher.Members == nil {
		c.Watcher.Members = &enabled
	}
	if c.Watcher.Namespace == "" {
		c.Watcher.Namespace = DefaultStorageNamespace
	}
	if c.Watcher.MemberSelector == "" {
		c.Watcher.MemberSelector = DefaultMemberSelector
	}
	setDuration(&c.Watcher.ConnectionTimeout, watcher.DefaultConnectionTimeout)

	if c.Broker.Backend == "" {
		c.Broker.Backend = BackendMemory
	}
	if c.Broker.Etcd.Prefix == "" {
		c.Broker.Etcd.Prefix = DefaultEtcdPrefix
	}
	setDuration(&c.Broker.Etcd.DialTimeout, kvstore.DefaultDialTimeout)
	setDuration(&c.Broker.Etcd.EventTTL, transport.DefaultEventTTL)

	setDuration(&c.Orchestration.PollInterval, orchestration.DefaultPause)
	setDuration(&c.Orchestration.Timeout, orchestration.DefaultTimeout)

	if c.StatusCollector.Schedule == "" {
		c.StatusCollector.Schedule = DefaultStatusSchedule
	}
	if len(c.Logging.Outputs) == 0 {
		c.Logging.Outputs = []string{logging.StdErrOutput}
	}
	if len(c.Actions) == 0 {
		c.Actions = []string{string(action.ActionPublish)}
	}
	c.defaultDispatcherSubscriptions()
}

// defaultDispatcherSubscriptions registers the dispatcher for every state of
// the watched resource types unless ha subscriptions are configured. The
// dispatcher only receives events selected by ha registrations.
func (c *Config) defaultDispatcherSubscriptions() {
	for _, s := range c.Subscriptions {
		if s.Component == string(eventbroker.ComponentHA) {
			return
		}
	}
	var states []string
	for _, st := range healthevent.Statuses() {
		states = append(states, string(st))
	}
	if *c.Watcher.Nodes {
		c.Subscriptions = append(c.Subscriptions, Subscription{
			Component:    string(eventbroker.ComponentHA),
			ResourceType: string(healthevent.ResourceTypeNode),
			States:       states,
		})
	}
	if *c.Watcher.Members {
		c.Subscriptions = append(c.Subscriptions, Subscription{
			Component:    string(eventbroker.ComponentHA),
			ResourceType: string(healthevent.ResourceTypeMember),
			States:       states,
		})
	}
}

// ActionList parses Actions.
func (c *Config) ActionList() ([]action.Action, error) {
	var out []action.Action
	for _, a := range c.Actions {
		parsed, err := action.ParseActions(a)
		if err != nil {
			return nil, err
		}
		out = append(out, parsed...)
	}
	return out, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Cluster.ClusterID == "" {
		errs = append(errs, fmt.Errorf("cluster.clusterID is required"))
	}
	if _, err := labels.Parse(c.Watcher.NodeSelector); err != nil {
		errs = append(errs, fmt.Errorf("watcher.nodeSelector: %w", err))
	}
	if _, err := labels.Parse(c.Watcher.MemberSelector); err != nil {
		errs = append(errs, fmt.Errorf("watcher.memberSelector: %w", err))
	}

	switch c.Broker.Backend {
	case BackendMemory:
	case BackendEtcd:
		if len(c.Broker.Etcd.Endpoints) == 0 {
			errs = append(errs, fmt.Errorf("broker.etcd.endpoints is required for the etcd backend"))
		}
		if (c.Broker.Etcd.CertFile == "") != (c.Broker.Etcd.KeyFile == "") {
			errs = append(errs, fmt.Errorf("broker.etcd.certFile and broker.etcd.keyFile must be set together"))
		}
	default:
		errs = append(errs, fmt.Errorf("broker.backend: unknown backend %q", c.Broker.Backend))
	}

	if c.Orchestration.PollInterval.Duration >= c.Orchestration.Timeout.Duration {
		errs = append(errs, fmt.Errorf("orchestration.pollInterval must be shorter than orchestration.timeout"))
	}
	if c.StatusCollector.Enabled {
		if _, err := cron.ParseStandard(c.StatusCollector.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("statusCollector.schedule: %w", err))
		}
	}
	if _, err := c.ActionList(); err != nil {
		errs = append(errs, fmt.Errorf("actions: %w", err))
	}
	for i, s := range c.Subscriptions {
		if _, _, err := s.Event(); err != nil {
			errs = append(errs, fmt.Errorf("subscriptions[%d]: %w", i, err))
		}
	}
	return utilerrors.NewAggregate(errs)
}
