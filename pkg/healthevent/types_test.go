package healthevent

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseEnumerations(t *testing.T) {
	rt, err := ParseResourceType("node:fru:disk")
	require.NoError(t, err)
	require.Equal(t, ResourceTypeDisk, rt)

	_, err = ParseResourceType("node:fru")
	require.ErrorIs(t, err, ErrInvalidEvent)

	st, err := ParseStatus(" failed ")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, st)

	_, err = ParseStatus("FAILED")
	require.ErrorIs(t, err, ErrInvalidEvent)

	ft, err := ParseFunctionalType(ResourceTypeNode, "data")
	require.NoError(t, err)
	require.Equal(t, FunctionalTypeData, ft)

	_, err = ParseFunctionalType(ResourceTypeFan, "data")
	require.ErrorIs(t, err, ErrInvalidEvent)
}

func TestNewSubscribeEvent(t *testing.T) {
	tests := []struct {
		name    string
		rt      ResourceType
		states  []Status
		fts     []FunctionalType
		wantErr bool
	}{
		{name: "node with functional type", rt: ResourceTypeNode, states: []Status{StatusOnline, StatusFailed}, fts: []FunctionalType{FunctionalTypeData}},
		{name: "disk without functional type", rt: ResourceTypeDisk, states: []Status{StatusFailed}},
		{name: "disk with functional type", rt: ResourceTypeDisk, states: []Status{StatusFailed}, fts: []FunctionalType{FunctionalTypeData}, wantErr: true},
		{name: "unknown functional type", rt: ResourceTypeNode, states: []Status{StatusFailed}, fts: []FunctionalType{"storage"}, wantErr: true},
		{name: "unknown state", rt: ResourceTypeNode, states: []Status{"booting"}, wantErr: true},
		{name: "no states", rt: ResourceTypeNode, wantErr: true},
		{name: "unknown resource type", rt: "enclosure", states: []Status{StatusFailed}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := NewSubscribeEvent(tt.rt, tt.states, tt.fts...)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidEvent)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.rt, ev.ResourceType)
		})
	}
}

func TestSubscribeEventMatches(t *testing.T) {
	anyNode := SubscribeEvent{ResourceType: ResourceTypeNode, States: []Status{StatusFailed}}
	dataNode := SubscribeEvent{ResourceType: ResourceTypeNode, States: []Status{StatusFailed}, FunctionalTypes: []FunctionalType{FunctionalTypeData}}

	require.True(t, anyNode.Matches(ResourceTypeNode, StatusFailed, ""))
	require.True(t, anyNode.Matches(ResourceTypeNode, StatusFailed, FunctionalTypeServer))
	require.False(t, anyNode.Matches(ResourceTypeNode, StatusOnline, ""))
	require.False(t, anyNode.Matches(ResourceTypeMember, StatusFailed, ""))

	require.True(t, dataNode.Matches(ResourceTypeNode, StatusFailed, FunctionalTypeData))
	require.False(t, dataNode.Matches(ResourceTypeNode, StatusFailed, FunctionalTypeServer))
	require.False(t, dataNode.Matches(ResourceTypeNode, StatusFailed, ""))
}

func TestResourceTypesAreClosed(t *testing.T) {
	require.Len(t, ResourceTypes(), 7)
	require.Len(t, Statuses(), 4)
	for _, rt := range ResourceTypes() {
		require.True(t, rt.Valid())
	}
	require.Empty(t, ResourceTypeDisk.FunctionalTypes())
	require.Len(t, ResourceTypeNode.FunctionalTypes(), 4)
}
