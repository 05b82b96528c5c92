package pacemaker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// loadTestXML loads a test XML file from the testdata directory
func loadTestXML(t *testing.T, filename string) string {
	data, err := os.ReadFile(filepath.Join("testdata", filename))
	require.NoError(t, err, "Failed to read test XML file: %s", filename)
	return string(data)
}

type fakeRunner struct {
	stdout map[string]string
	err    error
	calls  []string
}

func (f *fakeRunner) Execute(_ context.Context, command string) (string, string, error) {
	f.calls = append(f.calls, command)
	if f.err != nil {
		return "", "boom", f.err
	}
	return f.stdout[command], "", nil
}

func TestParseStatus_HealthyCluster(t *testing.T) {
	status, err := ParseStatus(loadTestXML(t, "healthy_cluster.xml"))
	require.NoError(t, err)

	require.Equal(t, Summary{
		PacemakerdState:     "running",
		DesignatedCtrl:      "srvnode-1",
		Quorum:              true,
		NodesConfigured:     3,
		ResourcesConfigured: 9,
		StonithEnabled:      true,
		MaintenanceMode:     false,
	}, status.Summary)

	require.Len(t, status.Nodes, 3)
	n1, ok := status.Node("srvnode-1")
	require.True(t, ok)
	require.True(t, n1.Online)
	require.True(t, n1.IsDC)
	require.Equal(t, 4, n1.ResourcesRunning)
	require.Equal(t, "member", n1.Type)

	n3, ok := status.Node("srvnode-3")
	require.True(t, ok)
	require.False(t, n3.Online)
	require.True(t, n3.Standby)
	require.True(t, n3.Unclean)
	require.Zero(t, n3.ResourcesRunning)

	require.Equal(t, []string{"srvnode-1", "srvnode-2"}, status.OnlineNodes())

	_, ok = status.Node("srvnode-9")
	require.False(t, ok)

	require.Len(t, status.Resources, 8)
	require.Len(t, status.Stonith, 2)
	require.Len(t, status.Clones, 1)
	require.Equal(t, "hax-clone", status.Clones[0].ID)
	require.True(t, status.Clones[0].Managed)
	require.Len(t, status.Clones[0].Resources, 3)
	for _, r := range status.Clones[0].Resources {
		require.Equal(t, "hax-clone", r.Clone)
	}
}

func TestParseStatus_ResourceFieldsRoundTrip(t *testing.T) {
	status, err := ParseStatus(loadTestXML(t, "healthy_cluster.xml"))
	require.NoError(t, err)

	var s3 *Resource
	for i := range status.Resources {
		if status.Resources[i].ID == "s3server" {
			s3 = &status.Resources[i]
		}
	}
	require.NotNil(t, s3)

	want := Resource{
		ID:             "s3server",
		Agent:          "systemd:s3server",
		Role:           RoleStarting,
		Active:         true,
		Managed:        true,
		Failed:         true,
		NodesRunningOn: 1,
		Nodes:          []string{"srvnode-2"},
	}
	if diff := cmp.Diff(want, *s3); diff != "" {
		t.Errorf("unexpected resource (-want +got):\n%s", diff)
	}
	require.False(t, s3.Running())
	require.False(t, s3.IsStonith())

	require.True(t, status.Stonith[0].IsStonith())
	require.True(t, status.Stonith[0].Running())
}

func TestParseStatus_Errors(t *testing.T) {
	_, err := ParseStatus("<pacemaker-result><nodes>")
	require.Error(t, err)

	_, err = ParseStatus(strings.Repeat(" ", maxXMLSize+1))
	require.Error(t, err)
	require.Contains(t, err.Error(), "too large")
}

func TestStatusClientQuery(t *testing.T) {
	runner := &fakeRunner{stdout: map[string]string{
		pcsStatusXMLCommand: loadTestXML(t, "healthy_cluster.xml"),
	}}
	client := NewStatusClient(runner)

	status, err := client.Query(context.Background())
	require.NoError(t, err)
	require.Len(t, status.Nodes, 3)
	require.Equal(t, []string{pcsStatusXMLCommand}, runner.calls)

	runner.err = errors.New("pcs not found")
	_, err = client.Query(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, runner.err)
}
