package healthevent

import (
	"encoding/json"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/uuid"
	"k8s.io/utils/clock"
)

const (
	// SchemaVersion is stamped into every event header.
	SchemaVersion = "1.0"

	// SpecificInfoFunctionalType carries the functional type of the resource.
	SpecificInfoFunctionalType = "functional_type"
	// SpecificInfoGeneration carries the platform object that produced the event.
	SpecificInfoGeneration = "generation_id"
)

// Header is set once at construction time.
type Header struct {
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	EventID   string    `json:"event_id"`
}

// Payload describes the resource and its new state. Location identifiers are
// nil when they do not apply to the resource kind.
type Payload struct {
	Source         string            `json:"source"`
	ClusterID      *string           `json:"cluster_id"`
	SiteID         *string           `json:"site_id"`
	RackID         *string           `json:"rack_id"`
	StorageSetID   *string           `json:"storageset_id"`
	NodeID         *string           `json:"node_id"`
	ResourceType   ResourceType      `json:"resource_type"`
	ResourceID     string            `json:"resource_id"`
	ResourceStatus Status            `json:"resource_status"`
	SpecificInfo   map[string]string `json:"specific_info"`
}

// HealthEvent is a single normalized state change.
type HealthEvent struct {
	Header  Header  `json:"header"`
	Payload Payload `json:"payload"`
}

// Location holds the optional identifiers that place a resource in the cluster.
type Location struct {
	ClusterID    string
	SiteID       string
	RackID       string
	StorageSetID string
	NodeID       string
}

// Option customizes a new HealthEvent.
type Option func(*options)

type options struct {
	clock        clock.PassiveClock
	location     Location
	specificInfo map[string]string
}

// WithClock overrides the time source for the header timestamp.
func WithClock(c clock.PassiveClock) Option {
	return func(o *options) { o.clock = c }
}

// WithLocation sets the cluster/site/rack/storageset/node identifiers. Empty
// identifiers stay nil.
func WithLocation(l Location) Option {
	return func(o *options) { o.location = l }
}

// WithSpecificInfo attaches free-form key/values.
func WithSpecificInfo(info map[string]string) Option {
	return func(o *options) {
		for k, v := range info {
			if o.specificInfo == nil {
				o.specificInfo = map[string]string{}
			}
			o.specificInfo[k] = v
		}
	}
}

// New builds a validated HealthEvent.
func New(source string, rt ResourceType, resourceID string, status Status, opts ...Option) (*HealthEvent, error) {
	o := &options{clock: clock.RealClock{}}
	for _, opt := range opts {
		opt(o)
	}
	if source == "" {
		return nil, fmt.Errorf("%w: empty source", ErrInvalidEvent)
	}
	if resourceID == "" {
		return nil, fmt.Errorf("%w: empty resource id", ErrInvalidEvent)
	}
	if !rt.Valid() {
		return nil, fmt.Errorf("%w: unknown resource type %q", ErrInvalidEvent, rt)
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown resource status %q", ErrInvalidEvent, status)
	}

	ev := &HealthEvent{
		Header: Header{
			Version:   SchemaVersion,
			Timestamp: o.clock.Now().UTC(),
			EventID:   string(uuid.NewUUID()),
		},
		Payload: Payload{
			Source:         source,
			ClusterID:      optional(o.location.ClusterID),
			SiteID:         optional(o.location.SiteID),
			RackID:         optional(o.location.RackID),
			StorageSetID:   optional(o.location.StorageSetID),
			NodeID:         optional(o.location.NodeID),
			ResourceType:   rt,
			ResourceID:     resourceID,
			ResourceStatus: status,
			SpecificInfo:   map[string]string{},
		},
	}
	for k, v := range o.specificInfo {
		ev.Payload.SpecificInfo[k] = v
	}
	return ev, nil
}

// SetNodeID updates the node identifier prior to publishing.
func (e *HealthEvent) SetNodeID(nodeID string) {
	e.Payload.NodeID = optional(nodeID)
}

// SetSpecificInfo adds or replaces one specific-info entry.
func (e *HealthEvent) SetSpecificInfo(key, value string) {
	if e.Payload.SpecificInfo == nil {
		e.Payload.SpecificInfo = map[string]string{}
	}
	e.Payload.SpecificInfo[key] = value
}

// FunctionalType returns the functional type recorded in specific info, if any.
func (e *HealthEvent) FunctionalType() FunctionalType {
	return FunctionalType(e.Payload.SpecificInfo[SpecificInfoFunctionalType])
}

// Validate checks the closed enumerations and the mandatory fields.
func (e *HealthEvent) Validate() error {
	if e.Header.EventID == "" {
		return fmt.Errorf("%w: missing event id", ErrInvalidEvent)
	}
	if !e.Payload.ResourceType.Valid() {
		return fmt.Errorf("%w: unknown resource type %q", ErrInvalidEvent, e.Payload.ResourceType)
	}
	if !e.Payload.ResourceStatus.Valid() {
		return fmt.Errorf("%w: unknown resource status %q", ErrInvalidEvent, e.Payload.ResourceStatus)
	}
	if e.Payload.ResourceID == "" {
		return fmt.Errorf("%w: empty resource id", ErrInvalidEvent)
	}
	if ft := e.FunctionalType(); ft != "" && !e.Payload.ResourceType.AcceptsFunctionalType(ft) {
		return fmt.Errorf("%w: functional type %q is not valid for resource type %q", ErrInvalidEvent, ft, e.Payload.ResourceType)
	}
	return nil
}

func (e *HealthEvent) String() string {
	return fmt.Sprintf("%s %s/%s=%s", e.Header.EventID, e.Payload.ResourceType, e.Payload.ResourceID, e.Payload.ResourceStatus)
}

// Marshal returns the wire form of a validated event.
func Marshal(e *HealthEvent) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// Unmarshal decodes the wire form and rejects unknown enumeration values.
func Unmarshal(data []byte) (*HealthEvent, error) {
	var e HealthEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if e.Payload.SpecificInfo == nil {
		e.Payload.SpecificInfo = map[string]string{}
	}
	return &e, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
