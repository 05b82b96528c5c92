package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openshift/cluster-ha-controller/pkg/exec"
	"github.com/openshift/cluster-ha-controller/pkg/pacemaker"
	"github.com/openshift/cluster-ha-controller/pkg/testutils"
)

const fenceAgentPrefix = "/usr/sbin/fence_"

// fakeCluster is a tiny pacemaker model driven by pcs commands.
type fakeCluster struct {
	lock      sync.Mutex
	online    map[string]bool
	standby   map[string]bool
	order     []string
	resources map[string]string // resource id -> hosting node
	stonith   map[string]string // stonith id -> hosting node
	enabled   map[string]bool
	queries   int

	// stuckStonith keeps disabled stonith devices running.
	stuckStonith bool
	// ignoreStandby accepts standby commands without moving resources.
	ignoreStandby bool
	failCommand   string
}

func newFakeCluster(nodes ...string) *fakeCluster {
	c := &fakeCluster{
		online:    map[string]bool{},
		standby:   map[string]bool{},
		order:     nodes,
		resources: map[string]string{},
		stonith:   map[string]string{},
		enabled:   map[string]bool{},
	}
	for i, n := range nodes {
		c.online[n] = true
		c.resources[fmt.Sprintf("s3server-%d", i+1)] = n
		id := n + "_ipmi"
		// fencing devices run on the peer node
		c.stonith[id] = nodes[(i+1)%len(nodes)]
		c.enabled[id] = true
	}
	return c
}

func (c *fakeCluster) available(node string) bool {
	return c.online[node] && (!c.standby[node] || c.ignoreStandby)
}

func (c *fakeCluster) Query(_ context.Context) (*pacemaker.Status, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.queries++

	s := &pacemaker.Status{}
	running := map[string]int{}
	add := func(id, agent, host, targetRole string, active bool) pacemaker.Resource {
		r := pacemaker.Resource{ID: id, Agent: agent, Role: pacemaker.RoleStopped, TargetRole: targetRole, Managed: true}
		if active {
			r.Active, r.Role, r.NodesRunningOn, r.Nodes = true, pacemaker.RoleStarted, 1, []string{host}
			running[host]++
		}
		s.Resources = append(s.Resources, r)
		return r
	}
	for _, id := range sortedKeys(c.resources) {
		host := c.resources[id]
		add(id, "systemd:s3server", host, "", c.available(host))
	}
	for _, id := range sortedKeys(c.stonith) {
		host := c.stonith[id]
		active := c.available(host) && (c.enabled[id] || c.stuckStonith)
		targetRole := ""
		if !c.enabled[id] {
			targetRole = pacemaker.RoleStopped
		}
		r := add(id, "stonith:fence_ipmilan", host, targetRole, active)
		s.Stonith = append(s.Stonith, pacemaker.StonithResource{Resource: r})
	}
	for _, n := range c.order {
		s.Nodes = append(s.Nodes, pacemaker.Node{
			Name:             n,
			Online:           c.online[n],
			Standby:          c.standby[n],
			ResourcesRunning: running[n],
		})
	}
	return s, nil
}

func (c *fakeCluster) handle(command string) testutils.FakeResponse {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.failCommand != "" && strings.HasPrefix(command, c.failCommand) {
		return testutils.FakeResponse{Stderr: "Error: unable to connect", Err: &exec.CommandError{
			Command: command, Stderr: "Error: unable to connect", ExitCode: 1, Err: errors.New("exit status 1"),
		}}
	}
	if strings.HasPrefix(command, fenceAgentPrefix) {
		return testutils.FakeResponse{Stdout: "Success: Powered OFF"}
	}

	fields := strings.Fields(strings.TrimPrefix(command, pacemaker.PCS+" "))
	if len(fields) < 3 {
		return testutils.FakeResponse{}
	}
	setAll := func(m map[string]bool, target string, v bool) {
		if target == "--all" {
			for _, n := range c.order {
				m[n] = v
			}
			return
		}
		m[target] = v
	}
	switch fields[0] + " " + fields[1] {
	case "node standby":
		setAll(c.standby, fields[2], true)
	case "node unstandby":
		setAll(c.standby, fields[2], false)
	case "resource disable":
		c.enabled[fields[2]] = false
	case "resource enable":
		c.enabled[fields[2]] = true
	case "stonith fence":
		c.online[fields[2]] = false
	}
	return testutils.FakeResponse{}
}

func sortedKeys(m map[string]string) []string {
	var keys []string
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type fakePower struct {
	lock sync.Mutex
	off  []string
	err  error
}

func (p *fakePower) PowerOff(_ context.Context, node string) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.off = append(p.off, node)
	return p.err
}

func newTestClient(cluster *fakeCluster, power PowerController) (*Client, *testutils.FakeRunner) {
	runner := &testutils.FakeRunner{Handler: cluster.handle}
	return NewClient(runner, cluster, power, Waiter{Pause: 5 * time.Millisecond, Timeout: time.Second}), runner
}

func TestStandbyUnstandby(t *testing.T) {
	ctx := context.Background()
	cluster := newFakeCluster("srvnode-1", "srvnode-2")
	c, runner := newTestClient(cluster, nil)

	require.NoError(t, c.StandbyNode(ctx, "srvnode-1"))
	require.True(t, cluster.standby["srvnode-1"])
	require.NoError(t, c.UnstandbyNode(ctx, "srvnode-1"))
	require.False(t, cluster.standby["srvnode-1"])

	require.NoError(t, c.StandbyAll(ctx))
	status, err := cluster.Query(ctx)
	require.NoError(t, err)
	require.True(t, allResourcesInactive(status))

	require.NoError(t, c.UnstandbyAll(ctx))
	require.Equal(t, []string{
		"/usr/sbin/pcs node standby srvnode-1",
		"/usr/sbin/pcs node unstandby srvnode-1",
		"/usr/sbin/pcs node standby --all",
		"/usr/sbin/pcs node unstandby --all",
	}, runner.Calls())
}

func TestStandbyCommandFailure(t *testing.T) {
	cluster := newFakeCluster("srvnode-1", "srvnode-2")
	cluster.failCommand = "/usr/sbin/pcs node standby"
	c, _ := newTestClient(cluster, nil)

	err := c.StandbyNode(context.Background(), "srvnode-1")
	var cmdErr *exec.CommandError
	require.ErrorAs(t, err, &cmdErr)
	require.Equal(t, 1, cmdErr.ExitCode)
	require.Equal(t, "/usr/sbin/pcs node standby srvnode-1", cmdErr.Command)
	require.NotErrorIs(t, err, ErrTimeout)
	require.Zero(t, cluster.queries, "a failed command is not waited for")
}

func TestStandbyNeverConverges(t *testing.T) {
	cluster := newFakeCluster("srvnode-1", "srvnode-2")
	cluster.ignoreStandby = true
	c, _ := newTestClient(cluster, nil)
	c.waiter.Timeout = 50 * time.Millisecond

	err := c.StandbyAll(context.Background())
	require.ErrorIs(t, err, ErrTimeout)
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, "standby all nodes", timeoutErr.Operation)
}

func TestShutdownNode(t *testing.T) {
	tests := []struct {
		name            string
		nodes           []string
		offline         []string
		shutdown        string
		expectedFence   bool
		expectedPowered []string
		expectedErr     error
	}{
		{
			name:          "peer still online uses pacemaker fencing",
			nodes:         []string{"srvnode-1", "srvnode-2"},
			shutdown:      "srvnode-1",
			expectedFence: true,
		},
		{
			name:            "last online node is powered off directly",
			nodes:           []string{"srvnode-1", "srvnode-2"},
			offline:         []string{"srvnode-2"},
			shutdown:        "srvnode-1",
			expectedPowered: []string{"srvnode-1"},
		},
		{
			name:        "unknown node",
			nodes:       []string{"srvnode-1", "srvnode-2"},
			shutdown:    "srvnode-9",
			expectedErr: ErrNodeNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cluster := newFakeCluster(tt.nodes...)
			for _, n := range tt.offline {
				cluster.online[n] = false
			}
			power := &fakePower{}
			c, runner := newTestClient(cluster, power)

			err := c.ShutdownNode(context.Background(), tt.shutdown, time.Second)
			if tt.expectedErr != nil {
				require.ErrorIs(t, err, tt.expectedErr)
				require.Empty(t, runner.Calls())
				return
			}
			require.NoError(t, err)
			require.Equal(t, []string{"/usr/sbin/pcs node standby " + tt.shutdown}, runner.CallsWithPrefix("/usr/sbin/pcs node"))

			fence := runner.CallsWithPrefix("/usr/sbin/pcs stonith fence")
			if tt.expectedFence {
				require.Equal(t, []string{"/usr/sbin/pcs stonith fence " + tt.shutdown + " --off"}, fence)
			} else {
				require.Empty(t, fence)
			}
			require.Equal(t, tt.expectedPowered, power.off)
		})
	}
}

func TestShutdownLastNodeWithoutPowerController(t *testing.T) {
	cluster := newFakeCluster("srvnode-1")
	c, runner := newTestClient(cluster, nil)

	err := c.ShutdownNode(context.Background(), "srvnode-1", time.Second)
	require.ErrorContains(t, err, "no power controller")
	require.Empty(t, runner.CallsWithPrefix("/usr/sbin/pcs stonith fence"))
}

func TestClusterMaintenance(t *testing.T) {
	ctx := context.Background()
	cluster := newFakeCluster("srvnode-1", "srvnode-2")
	c, runner := newTestClient(cluster, nil)

	require.NoError(t, c.ClusterMaintenance(ctx, time.Second))
	require.Equal(t, []string{
		"/usr/sbin/pcs resource disable srvnode-1_ipmi",
		"/usr/sbin/pcs resource disable srvnode-2_ipmi",
		"/usr/sbin/pcs node standby --all",
	}, runner.Calls())

	status, err := c.GetStatus(ctx, true)
	require.NoError(t, err)
	require.Equal(t, &ResourceCounts{Stopped: 4}, status.Resources)
	for _, st := range status.Stonith {
		require.False(t, st.Enabled, st.ID)
		require.False(t, st.Active, st.ID)
	}

	require.NoError(t, c.ClusterUnmaintenance(ctx, time.Second))
	require.Equal(t, []string{
		"/usr/sbin/pcs node unstandby --all",
		"/usr/sbin/pcs resource enable srvnode-1_ipmi",
		"/usr/sbin/pcs resource enable srvnode-2_ipmi",
	}, runner.Calls()[3:])

	status, err = c.GetStatus(ctx, true)
	require.NoError(t, err)
	require.Equal(t, &ResourceCounts{Started: 4}, status.Resources)
	require.Equal(t, []StonithState{
		{ID: "srvnode-1_ipmi", Role: pacemaker.RoleStarted, Enabled: true, Active: true},
		{ID: "srvnode-2_ipmi", Role: pacemaker.RoleStarted, Enabled: true, Active: true},
	}, status.Stonith)
}

func TestClusterMaintenanceIsNotRolledBack(t *testing.T) {
	ctx := context.Background()
	cluster := newFakeCluster("srvnode-1", "srvnode-2")
	cluster.stuckStonith = true
	c, runner := newTestClient(cluster, nil)

	err := c.ClusterMaintenance(ctx, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrMaintenanceFailed)
	require.ErrorIs(t, err, ErrTimeout)

	// nodes were never put into standby and fencing was not re-enabled
	require.Empty(t, runner.CallsWithPrefix("/usr/sbin/pcs node"))
	require.Empty(t, runner.CallsWithPrefix("/usr/sbin/pcs resource enable"))

	// fencing is left disabled but still running
	status, err := c.GetStatus(ctx, false)
	require.NoError(t, err)
	require.Nil(t, status.Resources)
	require.Equal(t, []StonithState{
		{ID: "srvnode-1_ipmi", Role: pacemaker.RoleStarted, Enabled: false, Active: true},
		{ID: "srvnode-2_ipmi", Role: pacemaker.RoleStarted, Enabled: false, Active: true},
	}, status.Stonith)
}

func TestGetStatus(t *testing.T) {
	cluster := newFakeCluster("srvnode-1", "srvnode-2", "srvnode-3")
	cluster.online["srvnode-3"] = false
	c, _ := newTestClient(cluster, nil)

	status, err := c.GetStatus(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, status.Nodes, 3)
	require.Nil(t, status.Resources)
	require.Len(t, status.Stonith, 3, "fencing state is part of every status")

	before := cluster.queries
	status, err = c.GetStatus(context.Background(), true)
	require.NoError(t, err)
	require.Equal(t, before+1, cluster.queries, "status is queried on every call")
	// srvnode-3 hosts s3server-3 and srvnode-2_ipmi
	require.Equal(t, &ResourceCounts{Started: 4, Stopped: 2}, status.Resources)
}

func TestFenceAgentPower(t *testing.T) {
	const config = `{"primitives": [{
		"id": "srvnode-1_ipmi",
		"agent_name": {"standard": "stonith", "type": "fence_ipmilan"},
		"instance_attributes": [{"id": "a", "nvpairs": [
			{"id": "a-ip", "name": "ip", "value": "10.0.0.11"},
			{"id": "a-user", "name": "username", "value": "admin"},
			{"id": "a-hosts", "name": "pcmk_host_list", "value": "srvnode-1"}
		]}]
	}]}`
	runner := &testutils.FakeRunner{Responses: map[string]testutils.FakeResponse{
		"/usr/sbin/pcs stonith config --output-format json": {Stdout: config},
	}}
	power := &FenceAgentPower{Runner: runner, Config: pacemaker.NewStatusClient(runner)}

	require.NoError(t, power.PowerOff(context.Background(), "srvnode-1"))
	require.Equal(t, []string{"/usr/sbin/fence_ipmilan --ip 10.0.0.11 --username admin --action off"},
		runner.CallsWithPrefix(fenceAgentPrefix))

	require.ErrorContains(t, power.PowerOff(context.Background(), "srvnode-2"), "no stonith device")
}
