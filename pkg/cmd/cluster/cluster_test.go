package cluster

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openshift/cluster-ha-controller/pkg/orchestration"
	"github.com/openshift/cluster-ha-controller/pkg/pacemaker"
)

type fakeOperations struct {
	calls []string
	err   error
}

func (f *fakeOperations) record(format string, args ...interface{}) error {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	return f.err
}

func (f *fakeOperations) StandbyNode(_ context.Context, name string) error {
	return f.record("standby %s", name)
}

func (f *fakeOperations) StandbyAll(context.Context) error {
	return f.record("standby all")
}

func (f *fakeOperations) UnstandbyNode(_ context.Context, name string) error {
	return f.record("unstandby %s", name)
}

func (f *fakeOperations) UnstandbyAll(context.Context) error {
	return f.record("unstandby all")
}

func (f *fakeOperations) ShutdownNode(_ context.Context, name string, timeout time.Duration) error {
	return f.record("shutdown %s %s", name, timeout)
}

func (f *fakeOperations) ClusterMaintenance(_ context.Context, timeout time.Duration) error {
	return f.record("maintenance %s", timeout)
}

func (f *fakeOperations) ClusterUnmaintenance(_ context.Context, timeout time.Duration) error {
	return f.record("unmaintenance %s", timeout)
}

func (f *fakeOperations) GetStatus(_ context.Context, full bool) (*orchestration.ClusterStatus, error) {
	status := &orchestration.ClusterStatus{Nodes: []pacemaker.Node{{Name: "srvnode-1", Online: true}}}
	if full {
		status.Resources = &orchestration.ResourceCounts{Started: 3}
	}
	return status, f.record("status %t", full)
}

func TestClusterCommands(t *testing.T) {
	tests := []struct {
		args          []string
		expectedCalls []string
		expectedErr   string
	}{
		{args: []string{"standby", "srvnode-1"}, expectedCalls: []string{"standby srvnode-1"}},
		{args: []string{"standby", "--all"}, expectedCalls: []string{"standby all"}},
		{args: []string{"unstandby", "srvnode-2"}, expectedCalls: []string{"unstandby srvnode-2"}},
		{args: []string{"unstandby", "--all"}, expectedCalls: []string{"unstandby all"}},
		{args: []string{"standby"}, expectedErr: "either a node name or --all is required"},
		{args: []string{"standby", "--all", "srvnode-1"}, expectedErr: "either a node name or --all is required"},
		{args: []string{"shutdown", "srvnode-1", "--timeout", "90s"}, expectedCalls: []string{"shutdown srvnode-1 1m30s"}},
		{args: []string{"shutdown"}, expectedErr: "accepts 1 arg(s)"},
		{args: []string{"maintenance"}, expectedCalls: []string{"maintenance 5m0s"}},
		{args: []string{"unmaintenance", "--timeout", "1m"}, expectedCalls: []string{"unmaintenance 1m0s"}},
		{args: []string{"status", "--full"}, expectedCalls: []string{"status true"}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.args), func(t *testing.T) {
			ops := &fakeOperations{}
			out := &bytes.Buffer{}
			cmd := newClusterCommand(&clusterOpts{out: out, newOperations: func() Operations { return ops }})
			cmd.SetArgs(tt.args)
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetErr(&bytes.Buffer{})

			err := cmd.Execute()
			if tt.expectedErr != "" {
				require.ErrorContains(t, err, tt.expectedErr)
				require.Empty(t, ops.calls)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.expectedCalls, ops.calls)
		})
	}
}

func TestStatusOutput(t *testing.T) {
	out := &bytes.Buffer{}
	cmd := newClusterCommand(&clusterOpts{out: out, newOperations: func() Operations { return &fakeOperations{} }})
	cmd.SetArgs([]string{"status", "--full"})
	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "started: 3")
	require.Contains(t, out.String(), "Name: srvnode-1")
}

func TestMaintenanceFailure(t *testing.T) {
	ops := &fakeOperations{err: fmt.Errorf("%w: disable stonith: %w", orchestration.ErrMaintenanceFailed, orchestration.ErrTimeout)}
	cmd := newClusterCommand(&clusterOpts{out: &bytes.Buffer{}, newOperations: func() Operations { return ops }})
	cmd.SetArgs([]string{"maintenance"})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	require.ErrorIs(t, err, orchestration.ErrMaintenanceFailed)
	require.ErrorContains(t, err, "needs to be checked manually")
}
