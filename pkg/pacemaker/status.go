package pacemaker

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

const (
	// ResourceAgentFencing is the agent prefix of stonith resources.
	ResourceAgentFencing = "stonith:"

	RoleStarted  = "Started"
	RoleStopped  = "Stopped"
	RoleStarting = "Starting"
	RoleStopping = "Stopping"

	// maxXMLSize prevents XML bombs.
	maxXMLSize = 10 * 1024 * 1024
)

// Status is a read-only projection of one "pcs status xml" query. It must
// not be cached: every decision re-queries the cluster.
type Status struct {
	Summary   Summary
	Nodes     []Node
	Resources []Resource
	Clones    []CloneResource
	Stonith   []StonithResource
}

// Summary holds the cluster-wide attributes of a status query.
type Summary struct {
	PacemakerdState     string
	DesignatedCtrl      string
	Quorum              bool
	NodesConfigured     int
	ResourcesConfigured int
	StonithEnabled      bool
	MaintenanceMode     bool
}

// Node is a pacemaker cluster node and its operational state.
type Node struct {
	Name             string
	ID               string
	Online           bool
	Standby          bool
	StandbyOnFail    bool
	Maintenance      bool
	Pending          bool
	Unclean          bool
	Shutdown         bool
	IsDC             bool
	ResourcesRunning int
	Type             string
}

// Resource is a single pacemaker primitive. Clone instances appear once per
// node they are placed on.
type Resource struct {
	ID             string
	Agent          string
	Role           string
	TargetRole     string
	Active         bool
	Orphaned       bool
	Blocked        bool
	Maintenance    bool
	Managed        bool
	Failed         bool
	FailureIgnored bool
	NodesRunningOn int
	Nodes          []string
	// Clone is the id of the enclosing clone, empty for plain primitives.
	Clone string
}

// CloneResource groups the per-node copies of a cloned primitive.
type CloneResource struct {
	ID         string
	MultiState bool
	Unique     bool
	Managed    bool
	Failed     bool
	Resources  []Resource
}

// StonithResource is a fencing device managed by pacemaker.
type StonithResource struct {
	Resource
}

// IsStonith reports whether the resource is a fencing device.
func (r Resource) IsStonith() bool {
	return strings.HasPrefix(r.Agent, ResourceAgentFencing)
}

// Running reports whether the resource is started and active.
func (r Resource) Running() bool {
	return r.Active && r.Role == RoleStarted
}

// Node returns the node with the given name.
func (s *Status) Node(name string) (Node, bool) {
	for _, n := range s.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return Node{}, false
}

// OnlineNodes returns the names of online nodes.
func (s *Status) OnlineNodes() []string {
	var out []string
	for _, n := range s.Nodes {
		if n.Online {
			out = append(out, n.Name)
		}
	}
	return out
}

// ParseStatus parses "pcs status xml" output.
func ParseStatus(raw string) (*Status, error) {
	if len(raw) > maxXMLSize {
		return nil, fmt.Errorf("XML output too large: %d bytes (max: %d bytes)", len(raw), maxXMLSize)
	}
	var result Result
	if err := xml.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("failed to parse XML: %w", err)
	}
	return newStatus(&result), nil
}

func newStatus(result *Result) *Status {
	s := &Status{
		Summary: Summary{
			PacemakerdState:     result.Summary.Stack.PacemakerdState,
			DesignatedCtrl:      result.Summary.CurrentDC.Name,
			Quorum:              isTrue(result.Summary.CurrentDC.WithQuorum),
			NodesConfigured:     atoi(result.Summary.NodesConfigured.Number),
			ResourcesConfigured: atoi(result.Summary.ResourcesConfigured.Number),
			StonithEnabled:      isTrue(result.Summary.ClusterOptions.StonithEnabled),
			MaintenanceMode:     isTrue(result.Summary.ClusterOptions.MaintenanceMode),
		},
	}

	for _, n := range result.Nodes.Node {
		s.Nodes = append(s.Nodes, Node{
			Name:             n.Name,
			ID:               n.ID,
			Online:           isTrue(n.Online),
			Standby:          isTrue(n.Standby),
			StandbyOnFail:    isTrue(n.StandbyOnFail),
			Maintenance:      isTrue(n.Maintenance),
			Pending:          isTrue(n.Pending),
			Unclean:          isTrue(n.Unclean),
			Shutdown:         isTrue(n.Shutdown),
			IsDC:             isTrue(n.IsDC),
			ResourcesRunning: atoi(n.ResourcesRunning),
			Type:             n.Type,
		})
	}

	add := func(r Resource) {
		s.Resources = append(s.Resources, r)
		if r.IsStonith() {
			s.Stonith = append(s.Stonith, StonithResource{Resource: r})
		}
	}

	for _, r := range result.Resources.Resource {
		add(newResource(r, ""))
	}
	for _, g := range result.Resources.Group {
		for _, r := range g.Resource {
			add(newResource(r, ""))
		}
	}
	for _, c := range result.Resources.Clone {
		clone := CloneResource{
			ID:         c.ID,
			MultiState: isTrue(c.MultiState),
			Unique:     isTrue(c.Unique),
			Managed:    isTrue(c.Managed),
			Failed:     isTrue(c.Failed),
		}
		members := c.Resource
		for _, g := range c.Group {
			members = append(members, g.Resource...)
		}
		for _, r := range members {
			res := newResource(r, c.ID)
			clone.Resources = append(clone.Resources, res)
			add(res)
		}
		s.Clones = append(s.Clones, clone)
	}
	return s
}

func newResource(r xmlResource, clone string) Resource {
	res := Resource{
		ID:             r.ID,
		Agent:          r.ResourceAgent,
		Role:           r.Role,
		TargetRole:     r.TargetRole,
		Active:         isTrue(r.Active),
		Orphaned:       isTrue(r.Orphaned),
		Blocked:        isTrue(r.Blocked),
		Maintenance:    isTrue(r.Maintenance),
		Managed:        isTrue(r.Managed),
		Failed:         isTrue(r.Failed),
		FailureIgnored: isTrue(r.FailureIgnored),
		NodesRunningOn: atoi(r.NodesRunningOn),
		Clone:          clone,
	}
	for _, n := range r.Node {
		res.Nodes = append(res.Nodes, n.Name)
	}
	return res
}

func isTrue(s string) bool {
	return s == "true"
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
