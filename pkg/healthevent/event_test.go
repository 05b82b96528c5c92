package healthevent

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

func TestNew(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		source     string
		rt         ResourceType
		resourceID string
		status     Status
		wantErr    bool
	}{
		{name: "node online", source: "k8s_monitor", rt: ResourceTypeNode, resourceID: "n1", status: StatusOnline},
		{name: "disk degraded", source: "monitor", rt: ResourceTypeDisk, resourceID: "sda", status: StatusDegraded},
		{name: "unknown resource type", source: "monitor", rt: "node:fru:toaster", resourceID: "t1", status: StatusFailed, wantErr: true},
		{name: "unknown status", source: "monitor", rt: ResourceTypeNode, resourceID: "n1", status: "rebooting", wantErr: true},
		{name: "empty resource id", source: "monitor", rt: ResourceTypeNode, status: StatusOnline, wantErr: true},
		{name: "empty source", rt: ResourceTypeNode, resourceID: "n1", status: StatusOnline, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := New(tt.source, tt.rt, tt.resourceID, tt.status, WithClock(clocktesting.NewFakePassiveClock(now)))
			if tt.wantErr {
				require.Error(t, err)
				require.True(t, errors.Is(err, ErrInvalidEvent))
				return
			}
			require.NoError(t, err)
			require.Equal(t, SchemaVersion, ev.Header.Version)
			require.Equal(t, now, ev.Header.Timestamp)
			require.NotEmpty(t, ev.Header.EventID)
			require.Equal(t, tt.rt, ev.Payload.ResourceType)
			require.Equal(t, tt.status, ev.Payload.ResourceStatus)
		})
	}
}

func TestNewGeneratesUniqueIDs(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		ev, err := New("monitor", ResourceTypeNode, "n1", StatusOnline)
		require.NoError(t, err)
		require.False(t, seen[ev.Header.EventID], "duplicate event id %s", ev.Header.EventID)
		seen[ev.Header.EventID] = true
	}
}

func TestWireFormat(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ev, err := New("k8s_monitor", ResourceTypeMember, "data-pod-0", StatusFailed,
		WithClock(clocktesting.NewFakePassiveClock(now)),
		WithLocation(Location{ClusterID: "c1", NodeID: "worker-1"}),
		WithSpecificInfo(map[string]string{SpecificInfoFunctionalType: "data"}),
	)
	require.NoError(t, err)

	data, err := Marshal(ev)
	require.NoError(t, err)

	var raw map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))

	require.Equal(t, "1.0", raw["header"]["version"])
	require.Equal(t, "2024-03-01T12:00:00Z", raw["header"]["timestamp"])
	require.Equal(t, ev.Header.EventID, raw["header"]["event_id"])

	payload := raw["payload"]
	for _, key := range []string{"source", "cluster_id", "site_id", "rack_id", "storageset_id", "node_id",
		"resource_type", "resource_id", "resource_status", "specific_info"} {
		require.Contains(t, payload, key)
	}
	require.Equal(t, "c1", payload["cluster_id"])
	require.Nil(t, payload["site_id"])
	require.Nil(t, payload["rack_id"])
	require.Equal(t, "worker-1", payload["node_id"])
	require.Equal(t, "cluster:member", payload["resource_type"])
	require.Equal(t, "failed", payload["resource_status"])

	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, ev, decoded)
}

func TestUnmarshalRejectsUnknownValues(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{
			name: "unknown status",
			data: `{"header":{"version":"1.0","timestamp":"2024-03-01T12:00:00Z","event_id":"x"},"payload":{"source":"s","resource_type":"node","resource_id":"n1","resource_status":"sleepy"}}`,
		},
		{
			name: "unknown resource type",
			data: `{"header":{"version":"1.0","timestamp":"2024-03-01T12:00:00Z","event_id":"x"},"payload":{"source":"s","resource_type":"rack","resource_id":"r1","resource_status":"online"}}`,
		},
		{
			name: "functional type not valid for resource type",
			data: `{"header":{"version":"1.0","timestamp":"2024-03-01T12:00:00Z","event_id":"x"},"payload":{"source":"s","resource_type":"node:fru:disk","resource_id":"sda","resource_status":"online","specific_info":{"functional_type":"data"}}}`,
		},
		{
			name: "not json",
			data: `{`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal([]byte(tt.data))
			require.ErrorIs(t, err, ErrInvalidEvent)
		})
	}
}

func TestPayloadUpdatesBeforePublish(t *testing.T) {
	ev, err := New("monitor", ResourceTypeNode, "n1", StatusOnline)
	require.NoError(t, err)
	id := ev.Header.EventID

	ev.SetNodeID("n1")
	ev.SetSpecificInfo(SpecificInfoFunctionalType, string(FunctionalTypeServer))

	require.Equal(t, id, ev.Header.EventID)
	require.Equal(t, "n1", *ev.Payload.NodeID)
	require.Equal(t, FunctionalTypeServer, ev.FunctionalType())
	require.NoError(t, ev.Validate())

	ev.SetNodeID("")
	require.Nil(t, ev.Payload.NodeID)
}
