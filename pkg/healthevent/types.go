package healthevent

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidEvent is returned whenever a resource type, status or functional
// type is not part of its closed enumeration.
var ErrInvalidEvent = errors.New("invalid event")

// ResourceType is the hierarchical resource taxonomy used by health events.
type ResourceType string

const (
	ResourceTypeNode      ResourceType = "node"
	ResourceTypeMember    ResourceType = "cluster:member"
	ResourceTypeDisk      ResourceType = "node:fru:disk"
	ResourceTypePSU       ResourceType = "node:fru:psu"
	ResourceTypeFan       ResourceType = "node:fru:fan"
	ResourceTypeService   ResourceType = "node:sw:os:service"
	ResourceTypeInterface ResourceType = "node:interface:nw"
)

// Status is the health state reported for a resource.
type Status string

const (
	StatusOnline   Status = "online"
	StatusOffline  Status = "offline"
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
)

// FunctionalType narrows a resource type to a role, e.g. a node serving data.
type FunctionalType string

const (
	FunctionalTypeData    FunctionalType = "data"
	FunctionalTypeServer  FunctionalType = "server"
	FunctionalTypeControl FunctionalType = "control"
	FunctionalTypeHA      FunctionalType = "ha"
)

var resourceTypes = map[ResourceType][]FunctionalType{
	ResourceTypeNode:      {FunctionalTypeData, FunctionalTypeServer, FunctionalTypeControl, FunctionalTypeHA},
	ResourceTypeMember:    {FunctionalTypeData, FunctionalTypeServer, FunctionalTypeControl, FunctionalTypeHA},
	ResourceTypeDisk:      nil,
	ResourceTypePSU:       nil,
	ResourceTypeFan:       nil,
	ResourceTypeService:   nil,
	ResourceTypeInterface: nil,
}

var statuses = []Status{StatusOnline, StatusOffline, StatusDegraded, StatusFailed}

// ResourceTypes returns all known resource types, sorted.
func ResourceTypes() []ResourceType {
	out := make([]ResourceType, 0, len(resourceTypes))
	for rt := range resourceTypes {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Statuses returns all known statuses.
func Statuses() []Status {
	return append([]Status(nil), statuses...)
}

// FunctionalTypes returns the functional types valid for the resource type.
func (r ResourceType) FunctionalTypes() []FunctionalType {
	return append([]FunctionalType(nil), resourceTypes[r]...)
}

// Valid reports whether r is a known resource type.
func (r ResourceType) Valid() bool {
	_, ok := resourceTypes[r]
	return ok
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range statuses {
		if s == known {
			return true
		}
	}
	return false
}

// AcceptsFunctionalType reports whether ft belongs to the functional type
// enumeration of r.
func (r ResourceType) AcceptsFunctionalType(ft FunctionalType) bool {
	for _, known := range resourceTypes[r] {
		if known == ft {
			return true
		}
	}
	return false
}

// ParseResourceType converts s into a ResourceType, rejecting unknown values.
func ParseResourceType(s string) (ResourceType, error) {
	rt := ResourceType(strings.TrimSpace(s))
	if !rt.Valid() {
		return "", fmt.Errorf("%w: unknown resource type %q", ErrInvalidEvent, s)
	}
	return rt, nil
}

// ParseStatus converts s into a Status, rejecting unknown values.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.TrimSpace(s))
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown resource status %q", ErrInvalidEvent, s)
	}
	return st, nil
}

// ParseFunctionalType converts s into a FunctionalType of the given resource type.
func ParseFunctionalType(rt ResourceType, s string) (FunctionalType, error) {
	ft := FunctionalType(strings.TrimSpace(s))
	if !rt.AcceptsFunctionalType(ft) {
		return "", fmt.Errorf("%w: functional type %q is not valid for resource type %q", ErrInvalidEvent, s, rt)
	}
	return ft, nil
}

// SubscribeEvent describes which events of one resource type a component
// wants to receive.
type SubscribeEvent struct {
	ResourceType    ResourceType     `json:"resource_type"`
	States          []Status         `json:"states"`
	FunctionalTypes []FunctionalType `json:"functional_types,omitempty"`
}

// NewSubscribeEvent validates and builds a SubscribeEvent.
func NewSubscribeEvent(rt ResourceType, states []Status, functionalTypes ...FunctionalType) (SubscribeEvent, error) {
	ev := SubscribeEvent{
		ResourceType:    rt,
		States:          append([]Status(nil), states...),
		FunctionalTypes: append([]FunctionalType(nil), functionalTypes...),
	}
	if err := ev.Validate(); err != nil {
		return SubscribeEvent{}, err
	}
	return ev, nil
}

// Validate checks every field against its closed enumeration.
func (s SubscribeEvent) Validate() error {
	if !s.ResourceType.Valid() {
		return fmt.Errorf("%w: unknown resource type %q", ErrInvalidEvent, s.ResourceType)
	}
	if len(s.States) == 0 {
		return fmt.Errorf("%w: no states requested for resource type %q", ErrInvalidEvent, s.ResourceType)
	}
	for _, st := range s.States {
		if !st.Valid() {
			return fmt.Errorf("%w: unknown resource status %q", ErrInvalidEvent, st)
		}
	}
	for _, ft := range s.FunctionalTypes {
		if !s.ResourceType.AcceptsFunctionalType(ft) {
			return fmt.Errorf("%w: functional type %q is not valid for resource type %q", ErrInvalidEvent, ft, s.ResourceType)
		}
	}
	return nil
}

// Matches reports whether the subscription selects an event of the given
// resource type, status and functional type. An empty functional type list
// selects every functional type.
func (s SubscribeEvent) Matches(rt ResourceType, st Status, ft FunctionalType) bool {
	if s.ResourceType != rt || !containsStatus(s.States, st) {
		return false
	}
	if len(s.FunctionalTypes) == 0 {
		return true
	}
	for _, known := range s.FunctionalTypes {
		if known == ft {
			return true
		}
	}
	return false
}

func containsStatus(list []Status, st Status) bool {
	for _, s := range list {
		if s == st {
			return true
		}
	}
	return false
}
